package ffmock

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"vconv/pkg/ffmpeg"
)

// ErrMock mock error.
var ErrMock = errors.New("mock")

// MockProcessConfig ProcessMocker config.
type MockProcessConfig struct {
	ReturnErr bool
	Sleep     time.Duration
	OnStart   func(args []string)
	OnTimeout func(time.Duration)
}

// NewProcessMocker creates process mocker from config.
func NewProcessMocker(c MockProcessConfig) func(*exec.Cmd) ffmpeg.Process {
	return func(cmd *exec.Cmd) ffmpeg.Process {
		return mockProcess{
			c:    c,
			args: cmd.Args,
		}
	}
}

type mockProcess struct {
	c    MockProcessConfig
	args []string
}

func (m mockProcess) Timeout(d time.Duration) ffmpeg.Process {
	if m.c.OnTimeout != nil {
		m.c.OnTimeout(d)
	}
	return m
}

func (m mockProcess) StdoutLogger(func(string)) ffmpeg.Process { return m }
func (m mockProcess) StderrLogger(func(string)) ffmpeg.Process { return m }

func (m mockProcess) Start(ctx context.Context) error {
	if m.c.OnStart != nil {
		m.c.OnStart(m.args)
	}
	if m.c.Sleep != 0 {
		select {
		case <-time.After(m.c.Sleep):
		case <-ctx.Done():
		}
	}
	if m.c.ReturnErr {
		return ErrMock
	}
	return nil
}

// NewProcess returns Sleeps for 15ms before returning.
var NewProcess = NewProcessMocker(MockProcessConfig{
	ReturnErr: false,
	Sleep:     15 * time.Millisecond,
})

// NewProcessNil returns nil without producing output.
var NewProcessNil = NewProcessMocker(MockProcessConfig{
	ReturnErr: false,
})

// NewProcessErr returns error.
var NewProcessErr = NewProcessMocker(MockProcessConfig{
	ReturnErr: true,
})

// NewProcessHang blocks until the context is canceled.
var NewProcessHang = NewProcessMocker(MockProcessConfig{
	Sleep: time.Hour,
})

// NewProcessWriter writes data to the output path, the last argument.
func NewProcessWriter(data []byte) ffmpeg.NewProcessFunc {
	return NewProcessMocker(MockProcessConfig{
		OnStart: func(args []string) {
			os.WriteFile(args[len(args)-1], data, 0o600) //nolint:errcheck
		},
	})
}

// Describer returns Output or Err.
type Describer struct {
	Output string
	Err    error
}

// Describe implements the introspection tool.
func (d Describer) Describe(context.Context, string) (string, error) {
	if d.Err != nil {
		return "", d.Err
	}
	return d.Output, nil
}
