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

package log

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	logger := NewLogger(wg)
	logger.Start(ctx)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return logger
}

func TestLogger(t *testing.T) {
	t.Run("feed", func(t *testing.T) {
		logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		defer cancel()

		ts := time.Unix(1, 2000)
		go logger.Warn().Src("convert").Job("abc").Time(ts).Msgf("%v %v", "a", 1)

		expected := Log{
			Level: LevelWarning,
			Time:  1000002,
			Msg:   "a 1",
			Src:   "convert",
			Job:   "abc",
		}
		require.Equal(t, expected, <-feed)
	})
	t.Run("levels", func(t *testing.T) {
		logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		defer cancel()

		cases := []struct {
			event    func() *Event
			expected Level
		}{
			{logger.Error, LevelError},
			{logger.Warn, LevelWarning},
			{logger.Info, LevelInfo},
			{logger.Debug, LevelDebug},
		}
		for _, tc := range cases {
			go tc.event().Msg("x")
			require.Equal(t, tc.expected, (<-feed).Level)
		}
	})
	t.Run("unsubscribe", func(t *testing.T) {
		logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		go logger.Info().Msg("pending")
		cancel()

		// Feed is closed after the request is accepted.
		for range feed {
		}
	})
	t.Run("stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wg := &sync.WaitGroup{}
		logger := NewLogger(wg)
		logger.Start(ctx)
		cancel()
		wg.Wait()

		logger.Info().Msg("dropped")
		feed, cancel2 := logger.Subscribe()
		defer cancel2()
		_, ok := <-feed
		require.False(t, ok)
	})
}

func TestMockLogger(t *testing.T) {
	logger := NewMockLogger()
	done := make(chan struct{})
	go func() {
		logger.Error().Src("test").Msg("dropped")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mock logger blocked")
	}
}

func TestFormatLog(t *testing.T) {
	cases := map[string]struct {
		input    Log
		expected string
	}{
		"minimal": {
			Log{Level: LevelInfo, Msg: "hello"},
			"[INFO] hello",
		},
		"src": {
			Log{Level: LevelError, Src: "convert", Msg: "failed"},
			"[ERROR] Convert: failed",
		},
		"job": {
			Log{Level: LevelDebug, Src: "ffmpeg", Job: "1234", Msg: "stderr: x"},
			"[DEBUG] 1234: Ffmpeg: stderr: x",
		},
		"warning": {
			Log{Level: LevelWarning, Msg: "w"},
			"[WARNING] w",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatLog(tc.input))
		})
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarning,
		"warning": LevelWarning,
		"info":    LevelInfo,
		"Debug":   LevelDebug,
	}
	for input, expected := range cases {
		t.Run(input, func(t *testing.T) {
			level, err := ParseLevel(input)
			require.NoError(t, err)
			require.Equal(t, expected, level)
		})
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestFFmpegLevel(t *testing.T) {
	logger := newTestLogger(t)

	feed, cancel := logger.Subscribe()
	defer cancel()

	cases := map[string]Level{
		"fatal":   LevelError,
		"error":   LevelError,
		"warning": LevelWarning,
		"info":    LevelInfo,
		"verbose": LevelDebug,
		"debug":   LevelDebug,
		"unknown": LevelError,
	}
	for input, expected := range cases {
		go logger.FFmpegLevel(input).Msg(input)
		log := <-feed
		require.Equal(t, input, log.Msg)
		require.Equal(t, expected, log.Level)
	}
}
