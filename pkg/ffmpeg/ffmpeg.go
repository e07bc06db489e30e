package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Process interface only used for testing.
type Process interface {
	// Timeout sets the grace period between SIGINT and SIGKILL.
	Timeout(time.Duration) Process
	StdoutLogger(func(string)) Process
	StderrLogger(func(string)) Process

	// Start starts the process and blocks until it exits.
	// The process is interrupted when ctx is canceled.
	Start(ctx context.Context) error
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger func(string)
	stderrLogger func(string)
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// DefaultInterruptTimeout grace period between SIGINT and SIGKILL.
const DefaultInterruptTimeout = 1000 * time.Millisecond

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: DefaultInterruptTimeout,
		cmd:     cmd,
	}
}

func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

func (p process) StdoutLogger(l func(string)) Process {
	p.stdoutLogger = l
	return p
}

func (p process) StderrLogger(l func(string)) Process {
	p.stderrLogger = l
	return p
}

func (p process) attachLogger(
	logFunc func(string),
	label string,
	stdPipe func() (io.ReadCloser, error),
) (chan struct{}, error) {
	pipe, err := stdPipe()
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	scanner := bufio.NewScanner(pipe)
	go func() {
		for scanner.Scan() {
			logFunc(fmt.Sprintf("%v: %v", label, scanner.Text()))
		}
		close(done)
	}()
	return done, nil
}

// Start starts process with context.
func (p process) Start(ctx context.Context) error {
	var pipesDone []chan struct{}
	if p.stdoutLogger != nil {
		done, err := p.attachLogger(p.stdoutLogger, "stdout", p.cmd.StdoutPipe)
		if err != nil {
			return err
		}
		pipesDone = append(pipesDone, done)
	}
	if p.stderrLogger != nil {
		done, err := p.attachLogger(p.stderrLogger, "stderr", p.cmd.StderrPipe)
		if err != nil {
			return err
		}
		pipesDone = append(pipesDone, done)
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			p.stop(done)
		}
	}()

	// Pipes must be read to completion before Wait is called.
	for _, pipeDone := range pipesDone {
		<-pipeDone
	}

	err := p.cmd.Wait()
	close(done)

	// FFmpeg seems to return 255 on normal exit.
	if err != nil && err.Error() == "exit status 255" {
		return nil
	}

	return err
}

// Note, can't use CommandContext to Stop process as it would
// kill the process before it has a chance to exit on its own.
func (p process) stop(done chan struct{}) {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-done
	}
}

// ParseArgs splits a space separated option string,
// "-hwaccel auto" returns ["-hwaccel", "auto"].
func ParseArgs(args string) []string {
	return strings.Fields(args)
}

// ErrUnknownFormat no arguments for target format.
var ErrUnknownFormat = errors.New("unknown format")

// FormatArgs returns the output arguments for a target format.
func FormatArgs(format string) ([]string, error) {
	switch format {
	case "avi":
		return []string{"-c:v", "mpeg4", "-vtag", "XVID", "-f", "avi"}, nil
	case "m4v":
		return []string{"-c", "copy", "-f", "ipod"}, nil
	case "mp4":
		return []string{"-c", "copy", "-f", "mp4"}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, format)
}
