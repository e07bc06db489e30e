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
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindJobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"a.mp4",
		"b.MOV",
		"c.txt",
		".hidden.mp4",
		"d.avi",
		"e.mp4",
		"e.avi",
		"e.report.json",
	} {
		writeInput(t, dir, name, []byte("x"))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	writeInput(t, filepath.Join(dir, "sub"), "f.mkv", []byte("x"))

	t.Run("sameDir", func(t *testing.T) {
		jobs, err := FindJobs(dir, "", FormatAVI)
		require.NoError(t, err)

		expected := []Job{
			{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "a.avi")},
			{filepath.Join(dir, "b.MOV"), filepath.Join(dir, "b.avi")},
			{filepath.Join(dir, "sub", "f.mkv"), filepath.Join(dir, "sub", "f.avi")},
		}
		require.Equal(t, expected, jobs)
	})
	t.Run("outDir", func(t *testing.T) {
		outDir := filepath.Join(dir, "sub")
		jobs, err := FindJobs(dir, outDir, FormatM4V)
		require.NoError(t, err)

		expected := []Job{
			{filepath.Join(dir, "a.mp4"), filepath.Join(outDir, "a.m4v")},
			{filepath.Join(dir, "b.MOV"), filepath.Join(outDir, "b.m4v")},
			{filepath.Join(dir, "d.avi"), filepath.Join(outDir, "d.m4v")},
			{filepath.Join(dir, "e.avi"), filepath.Join(outDir, "e.m4v")},
			{filepath.Join(dir, "e.mp4"), filepath.Join(outDir, "e.m4v")},
		}
		require.Equal(t, expected, jobs)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := FindJobs(filepath.Join(dir, "nil"), "", FormatAVI)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		in := writeInput(t, dir, name, []byte(name))
		jobs = append(jobs, Job{Input: in, Output: OutputPath(in, "", FormatAVI)})
	}
	jobs = append(jobs, Job{
		Input:  filepath.Join(dir, "nil.mp4"),
		Output: filepath.Join(dir, "nil.avi"),
	})

	c := newTestConverter(testConfig(), nil, nil)

	var counts []int
	var ok []string
	var failed []string
	c.Batch(context.Background(), jobs, 2, func(i int, r BatchResult) {
		counts = append(counts, i)
		if r.Err != nil {
			require.ErrorIs(t, r.Err, ErrInputNotFound)
			failed = append(failed, filepath.Base(r.Job.Input))
			return
		}
		require.Equal(t, StateDone, r.Result.State)
		ok = append(ok, filepath.Base(r.Result.Artifact))
	})

	sort.Strings(ok)
	require.Equal(t, []int{1, 2, 3, 4}, counts)
	require.Equal(t, []string{"a.avi", "b.avi", "c.avi"}, ok)
	require.Equal(t, []string{"nil.mp4"}, failed)
}
