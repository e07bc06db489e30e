// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package system reads host resources used to size the batch worker pool.
package system

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUCount     int
	CPUUsage     int
	RAMUsage     int
	RAMAvailable uint64
}

type (
	countFunc func(bool) (int, error)
	cpuFunc   func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc   func() (*mem.VirtualMemoryStat, error)
)

// System .
type System struct {
	count countFunc
	cpu   cpuFunc
	ram   ramFunc

	duration time.Duration
}

// New returns new System.
func New() *System {
	return &System{
		count: cpu.Counts,
		cpu:   cpu.PercentWithContext,
		ram:   mem.VirtualMemory,

		duration: 200 * time.Millisecond,
	}
}

// Status samples cpu usage over a short interval.
func (s *System) Status(ctx context.Context) (Status, error) {
	count, err := s.count(true)
	if err != nil {
		return Status{}, fmt.Errorf("could not get cpu count: %w", err)
	}
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return Status{}, fmt.Errorf("could not get cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return Status{}, fmt.Errorf("could not get cpu usage: no value")
	}
	ramUsage, err := s.ram()
	if err != nil {
		return Status{}, fmt.Errorf("could not get ram usage: %w", err)
	}

	return Status{
		CPUCount:     count,
		CPUUsage:     int(cpuUsage[0]),
		RAMUsage:     int(ramUsage.UsedPercent),
		RAMAvailable: ramUsage.Available,
	}, nil
}

// Workers returns the number of parallel conversions. A configured
// value above zero is used as is. Otherwise one worker per logical
// cpu, limited so that every worker can hold perWorker bytes in the
// available memory. The result is at least one.
func (s *System) Workers(configured int, perWorker uint64) int {
	if configured > 0 {
		return configured
	}

	workers, err := s.count(true)
	if err != nil || workers < 1 {
		workers = 1
	}

	if perWorker == 0 {
		return workers
	}
	ram, err := s.ram()
	if err != nil {
		return workers
	}
	if limit := int(ram.Available / perWorker); limit < workers {
		workers = limit
	}
	if workers < 1 {
		return 1
	}
	return workers
}
