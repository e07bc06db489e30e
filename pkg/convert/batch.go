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

package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Job input and output path of a single conversion.
type Job struct {
	Input  string
	Output string
}

// FindJobs walks dir and returns a job for every media file
// without an output. Hidden files are skipped, as are files
// that already have the output extension.
func FindJobs(dir string, outDir string, format Format) ([]Job, error) {
	var jobs []Job
	walkFunc := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}
		if d.IsDir() {
			// Previous outputs.
			if path != dir && outDir != "" && filepath.Clean(path) == filepath.Clean(outDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !IsMedia(path) {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), format.Ext()) {
			return nil
		}

		output := OutputPath(path, outDir, format)
		_, err = os.Stat(output)
		if !errors.Is(err, os.ErrNotExist) {
			return nil
		}

		jobs = append(jobs, Job{Input: path, Output: output})
		return nil
	}
	if err := filepath.WalkDir(dir, walkFunc); err != nil {
		return nil, err
	}
	return jobs, nil
}

// BatchResult result of a job.
type BatchResult struct {
	Job    Job
	Result *Result
	Err    error
}

// Batch converts jobs on a pool of workers. onResult is called
// once per job from the calling goroutine with the number of
// finished jobs.
func (c *Converter) Batch(
	ctx context.Context,
	jobs []Job,
	workers int,
	onResult func(i int, r BatchResult),
) {
	if workers < 1 {
		workers = 1
	}

	chJobs := make(chan Job)
	chResults := make(chan BatchResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range chJobs {
				result, err := c.Convert(ctx, job.Input, job.Output)
				chResults <- BatchResult{Job: job, Result: result, Err: err}
			}
		}()
	}

	go func() {
		defer close(chJobs)
		for _, job := range jobs {
			select {
			case chJobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(chResults)
	}()

	i := 0
	for result := range chResults {
		i++
		onResult(i, result)
	}
}
