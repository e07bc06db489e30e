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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vconv/pkg/container"
	"vconv/pkg/container/isobmff"
	"vconv/pkg/container/riff"
	"vconv/pkg/ffmpeg"
	"vconv/pkg/ffmpeg/ffmock"
	"vconv/pkg/log"
	"vconv/pkg/storage"
	"vconv/pkg/verify"

	"github.com/stretchr/testify/require"
)

type mockRecorder struct {
	reports []verify.Report
	err     error
	mu      sync.Mutex
}

func (r *mockRecorder) Save(report verify.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return r.err
}

func testConfig() Config {
	mp4 := isobmff.M4VParams()
	mp4.MajorBrand = "isom"
	mp4.CompatibleBrands = []string{"isom", "mp42"}
	return Config{
		TranscodeTimeout: 50 * time.Millisecond,
		AVI:              riff.DefaultParams(),
		M4V:              isobmff.M4VParams(),
		MP4:              mp4,
	}
}

var testTime = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestConverter(
	config Config,
	newProcess ffmpeg.NewProcessFunc,
	recorder Recorder,
) *Converter {
	var transcoder Transcoder
	if newProcess != nil {
		f := ffmpeg.New("ffmpeg", "error", ffmpeg.Options{}, nil)
		f.NewProcess = newProcess
		transcoder = f
	}
	c := NewConverter(config, log.NewMockLogger(), transcoder, verify.NewVerifier(nil), recorder)
	c.now = func() time.Time { return testTime }
	c.newID = func() string { return "id" }
	return c
}

func writeInput(t *testing.T, dir string, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// truncatingVerifier empties the artifact before verifying it.
type truncatingVerifier struct {
	v Verifier
}

func (v truncatingVerifier) Verify(
	ctx context.Context,
	l container.Layout,
	path string,
) (verify.Outcome, error) {
	if err := os.Truncate(path, 0); err != nil {
		return verify.Outcome{}, err
	}
	return v.v.Verify(ctx, l, path)
}

func TestConvert(t *testing.T) {
	input := []byte("not really a video")
	nativeAVI, err := riff.Build(input, riff.DefaultParams())
	require.NoError(t, err)

	t.Run("missingInput", func(t *testing.T) {
		dir := t.TempDir()
		recorder := &mockRecorder{}
		c := newTestConverter(testConfig(), ffmock.NewProcess, recorder)

		output := filepath.Join(dir, "out.avi")
		result, err := c.Convert(context.Background(), filepath.Join(dir, "nil.mp4"), output)
		require.ErrorIs(t, err, ErrInputNotFound)
		require.ErrorIs(t, err, os.ErrNotExist)

		require.Equal(t, StateFailed, result.State)
		require.Equal(t, "", result.Artifact)
		require.Equal(t, []State{StateStart, StateFailed}, result.Trace)
		require.Equal(t, verify.StatusFailed, result.Report.Status)

		require.NoFileExists(t, output)
		require.NoFileExists(t, verify.ReportPath(output))
		require.Len(t, recorder.reports, 1)
		require.Equal(t, verify.StatusFailed, recorder.reports[0].Status)
	})
	t.Run("transcoderTimeout", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		out := filepath.Join(dir, "out.avi")
		c := newTestConverter(testConfig(), ffmock.NewProcessHang, nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)

		require.Equal(t, StateDone, result.State)
		require.Equal(t, out, result.Artifact)
		require.Equal(t, []State{
			StateStart,
			StateExternalAttempt,
			StateNativeBuild,
			StateVerify,
			StateDone,
		}, result.Trace)

		report := result.Report
		require.Equal(t, MethodNativeRIFF, report.Method)
		require.Equal(t, verify.StatusSuccess, report.Status)
		require.True(t, report.Output.Valid)
		require.Contains(t, report.Notes[0], "external transcoder failed: ")
		require.Contains(t, report.Notes[0], context.DeadlineExceeded.Error())

		actual, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, nativeAVI, actual)
	})
	t.Run("transcoderOK", func(t *testing.T) {
		m4v, err := isobmff.Build([]byte("transcoded"), isobmff.M4VParams())
		require.NoError(t, err)

		dir := t.TempDir()
		in := writeInput(t, dir, "in.mov", input)
		out := filepath.Join(dir, "out.m4v")
		c := newTestConverter(testConfig(), ffmock.NewProcessWriter(m4v), nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, []State{
			StateStart,
			StateExternalAttempt,
			StateVerify,
			StateDone,
		}, result.Trace)

		expected := verify.Report{
			ID:        "id",
			Timestamp: testTime,
			Input: verify.Input{
				Path:   in,
				Format: "MOV",
				Size:   int64(len(input)),
			},
			Output: verify.Output{
				Path:   out,
				Format: "M4V",
				Size:   int64(len(m4v)),
				Valid:  true,
			},
			Method: MethodExternal,
			Status: verify.StatusSuccess,
			Notes:  []string{"ISO-BMFF signature valid"},
		}
		require.Equal(t, expected, *result.Report)

		actual, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, m4v, actual)

		report, err := verify.ReadReport(filepath.Join(dir, "out.report.json"))
		require.NoError(t, err)
		require.Equal(t, expected, *report)
	})
	t.Run("transcoderNoOutput", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		out := filepath.Join(dir, "out.avi")
		c := newTestConverter(testConfig(), ffmock.NewProcessNil, nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, MethodNativeRIFF, result.Report.Method)
		require.Contains(t, result.Report.Notes[0], ffmpeg.ErrNoOutput.Error())
	})
	t.Run("transcoderInvalidOutput", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		out := filepath.Join(dir, "out.avi")
		c := newTestConverter(testConfig(), ffmock.NewProcessWriter([]byte("garbage")), nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, StateDone, result.State)
		require.Equal(t, MethodExternal, result.Report.Method)
		require.Equal(t, verify.StatusPartial, result.Report.Status)
		require.False(t, result.Report.Output.Valid)
		require.FileExists(t, out)
	})
	t.Run("passthrough", func(t *testing.T) {
		mp4, err := isobmff.Build([]byte("mp4 payload"), isobmff.MP4Params())
		require.NoError(t, err)

		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", mp4)
		out := filepath.Join(dir, "out.m4v")
		config := testConfig()
		config.Passthrough = true
		c := newTestConverter(config, nil, nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, []State{
			StateStart,
			StatePassthrough,
			StateVerify,
			StateDone,
		}, result.Trace)
		require.Equal(t, MethodPassthrough, result.Report.Method)

		actual, err := os.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, mp4, actual)
	})
	t.Run("passthroughSkipped", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		out := filepath.Join(dir, "out.m4v")
		config := testConfig()
		config.Passthrough = true
		c := newTestConverter(config, nil, nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, []State{
			StateStart,
			StatePassthrough,
			StateNativeBuild,
			StateVerify,
			StateDone,
		}, result.Trace)
		require.Equal(t, MethodNativeISOBMFF, result.Report.Method)
		require.Equal(t, "passthrough skipped: input is not ISO-BMFF", result.Report.Notes[0])
	})
	t.Run("truncated", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", []byte("0123456789"))
		out := filepath.Join(dir, "out.avi")
		config := testConfig()
		config.AVI.PayloadCap = 4
		c := newTestConverter(config, nil, nil)

		result, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)
		require.Equal(t, []string{
			"payload truncated to 4 B of 10 B",
			"RIFF signature valid",
		}, result.Report.Notes)
		require.Equal(t, int64(164+4), result.Report.Output.Size)
	})
	t.Run("mp4Brands", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mov", input)
		out := filepath.Join(dir, "out.mp4")
		c := newTestConverter(testConfig(), nil, nil)

		_, err := c.Convert(context.Background(), in, out)
		require.NoError(t, err)

		head, err := storage.ReadHead(out, 12)
		require.NoError(t, err)
		require.Equal(t, "isom", string(head[8:12]))
	})
	t.Run("unknownFormat", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		c := newTestConverter(testConfig(), nil, nil)

		result, err := c.Convert(context.Background(), in, filepath.Join(dir, "out.mkv"))
		require.ErrorIs(t, err, ErrUnknownFormat)
		require.Equal(t, StateFailed, result.State)
	})
	t.Run("writeErr", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		notDir := writeInput(t, dir, "file", nil)
		c := newTestConverter(testConfig(), nil, nil)

		result, err := c.Convert(context.Background(), in, filepath.Join(notDir, "out.avi"))
		require.ErrorIs(t, err, storage.ErrWrite)
		require.Equal(t, StateFailed, result.State)
		require.Equal(t, []State{
			StateStart,
			StateNativeBuild,
			StateFailed,
		}, result.Trace)
	})
	t.Run("canceled", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		out := filepath.Join(dir, "out.avi")
		c := newTestConverter(testConfig(), ffmock.NewProcessHang, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := c.Convert(ctx, in, out)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, StateFailed, result.State)
		require.NoFileExists(t, out)
	})
	t.Run("artifactEmptied", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		output := filepath.Join(dir, "out.avi")
		recorder := &mockRecorder{}
		c := newTestConverter(testConfig(), nil, recorder)
		c.verifier = truncatingVerifier{verify.NewVerifier(nil)}

		result, err := c.Convert(context.Background(), in, output)
		require.ErrorIs(t, err, verify.ErrVerification)
		require.ErrorIs(t, err, storage.ErrEmptyFile)

		require.Equal(t, StateDone, result.State)
		require.Equal(t, output, result.Artifact)
		require.Equal(t, verify.StatusFailed, result.Report.Status)
		require.Equal(t, MethodNativeRIFF, result.Report.Method)
		require.Equal(t, []State{
			StateStart,
			StateNativeBuild,
			StateVerify,
			StateDone,
		}, result.Trace)

		require.FileExists(t, output)
		report, err := verify.ReadReport(verify.ReportPath(output))
		require.NoError(t, err)
		require.Equal(t, verify.StatusFailed, report.Status)
		require.Len(t, recorder.reports, 1)
	})
	t.Run("recorderErr", func(t *testing.T) {
		dir := t.TempDir()
		in := writeInput(t, dir, "in.mp4", input)
		recorder := &mockRecorder{err: errors.New("mock")}
		c := newTestConverter(testConfig(), nil, recorder)

		result, err := c.Convert(context.Background(), in, filepath.Join(dir, "out.avi"))
		require.NoError(t, err)
		require.Equal(t, StateDone, result.State)
		require.Len(t, recorder.reports, 1)
	})
}

func TestFormat(t *testing.T) {
	cases := map[string]struct {
		path     string
		expected Format
		err      error
	}{
		"avi":   {"out/video.avi", FormatAVI, nil},
		"upper": {"VIDEO.M4V", FormatM4V, nil},
		"mp4":   {"/a/b.mp4", FormatMP4, nil},
		"mkv":   {"video.mkv", "", ErrUnknownFormat},
		"none":  {"video", "", ErrUnknownFormat},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := FormatFromPath(tc.path)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, f)
		})
	}
}

func TestOutputPath(t *testing.T) {
	cases := map[string]struct {
		input    string
		outDir   string
		format   Format
		expected string
	}{
		"sameDir": {"/in/video.mp4", "", FormatAVI, "/in/video.avi"},
		"outDir":  {"/in/video.mp4", "/out", FormatM4V, "/out/video.m4v"},
		"dots":    {"/in/a.b.mov", "", FormatMP4, "/in/a.b.mp4"},
		"noExt":   {"/in/video", "", FormatAVI, "/in/video.avi"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, OutputPath(tc.input, tc.outDir, tc.format))
		})
	}
}
