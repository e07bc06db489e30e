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

// Package convert runs the conversion fallback chain: external
// transcoder, passthrough copy and the native container builders.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"vconv/pkg/container"
	"vconv/pkg/container/isobmff"
	"vconv/pkg/container/riff"
	"vconv/pkg/log"
	"vconv/pkg/storage"
	"vconv/pkg/verify"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Errors.
var (
	ErrInputNotFound = errors.New("input not found")
	ErrExternalTool  = errors.New("external tool failed")
)

// Conversion methods recorded in the report.
const (
	MethodExternal      = "external transcoder"
	MethodPassthrough   = "passthrough copy"
	MethodNativeRIFF    = "native RIFF/AVI builder"
	MethodNativeISOBMFF = "native ISO-BMFF builder"
)

// State of a conversion.
type State string

// States.
const (
	StateStart           State = "START"
	StateExternalAttempt State = "EXTERNAL_ATTEMPT"
	StatePassthrough     State = "PASSTHROUGH"
	StateNativeBuild     State = "NATIVE_BUILD"
	StateVerify          State = "VERIFY"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// Transcoder converts in to out using an external tool.
type Transcoder interface {
	Transcode(ctx context.Context, in string, out string, format string) error
}

// Verifier checks a persisted artifact.
type Verifier interface {
	Verify(ctx context.Context, layout container.Layout, path string) (verify.Outcome, error)
}

// Recorder stores reports.
type Recorder interface {
	Save(verify.Report) error
}

// Config conversion settings.
type Config struct {
	TranscodeTimeout time.Duration
	Passthrough      bool

	AVI riff.Params
	M4V isobmff.Params
	MP4 isobmff.Params
}

// NewConfig returns the conversion settings of env.
func NewConfig(env storage.ConfigEnv) Config {
	return Config{
		TranscodeTimeout: env.TranscodeTimeout,
		Passthrough:      env.Passthrough,
		AVI:              env.AVI,
		M4V:              env.M4V,
		MP4:              env.MP4(),
	}
}

// PayloadCap returns the maximum number of input bytes
// copied into a native container of format f.
func (c Config) PayloadCap(f Format) int {
	switch f {
	case FormatAVI:
		return c.AVI.PayloadCap
	case FormatM4V:
		return c.M4V.PayloadCap
	default:
		return c.MP4.PayloadCap
	}
}

func (c Config) build(f Format, src []byte) ([]byte, error) {
	switch f {
	case FormatAVI:
		return riff.Build(src, c.AVI)
	case FormatM4V:
		return isobmff.Build(src, c.M4V)
	default:
		return isobmff.Build(src, c.MP4)
	}
}

// Result of a conversion.
type Result struct {
	State    State
	Artifact string
	Report   *verify.Report

	// Every visited state in order.
	Trace []State
}

// Converter converts files.
type Converter struct {
	config     Config
	logger     *log.Logger
	transcoder Transcoder
	verifier   Verifier
	recorder   Recorder

	now   func() time.Time
	newID func() string
}

// NewConverter returns a converter. transcoder and recorder may be nil.
func NewConverter(
	config Config,
	logger *log.Logger,
	transcoder Transcoder,
	verifier Verifier,
	recorder Recorder,
) *Converter {
	return &Converter{
		config:     config,
		logger:     logger,
		transcoder: transcoder,
		verifier:   verifier,
		recorder:   recorder,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// job is the state of a single conversion.
type job struct {
	id        string
	input     string
	output    string
	format    Format
	inputSize int64

	method string
	notes  []string
	trace  []State
}

func (j *job) enter(s State) {
	j.trace = append(j.trace, s)
}

func (j *job) note(format string, v ...interface{}) {
	j.notes = append(j.notes, fmt.Sprintf(format, v...))
}

// Convert converts input to output, the output format is taken from
// the output extension. The result is always returned, the error is
// non-nil when the conversion failed or the written artifact could
// not be read back. A failed signature check is not an error, it is
// reported as a PARTIAL status.
func (c *Converter) Convert(ctx context.Context, input string, output string) (*Result, error) {
	j := &job{
		id:     c.newID(),
		input:  input,
		output: output,
	}
	c.logger.Info().Src("convert").Job(j.id).Msgf("converting %v to %v", input, output)

	j.enter(StateStart)
	if err := c.start(j); err != nil {
		return c.fail(j, err)
	}

	if c.transcoder != nil {
		j.enter(StateExternalAttempt)
		ok, err := c.externalAttempt(ctx, j)
		if err != nil {
			return c.fail(j, err)
		}
		if ok {
			return c.verify(ctx, j)
		}
	}

	if c.config.Passthrough {
		j.enter(StatePassthrough)
		ok, err := c.passthrough(j)
		if err != nil {
			return c.fail(j, err)
		}
		if ok {
			return c.verify(ctx, j)
		}
	}

	j.enter(StateNativeBuild)
	if err := c.nativeBuild(j); err != nil {
		return c.fail(j, err)
	}
	return c.verify(ctx, j)
}

func (c *Converter) start(j *job) error {
	format, err := FormatFromPath(j.output)
	if err != nil {
		return err
	}
	j.format = format

	info, err := os.Stat(j.input)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputNotFound, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %v: is a directory", ErrInputNotFound, j.input)
	}
	j.inputSize = info.Size()

	return storage.PrepareOutputDir(j.output)
}

// externalAttempt returns true if the transcoder produced the output.
// Transcoder failures are not returned, only cancellation of ctx is.
func (c *Converter) externalAttempt(ctx context.Context, j *job) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, c.config.TranscodeTimeout)
	defer cancel()

	err := c.transcoder.Transcode(tctx, j.input, j.output, string(j.format))
	if err == nil {
		j.method = MethodExternal
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	c.logger.Warn().Src("convert").Job(j.id).
		Msgf("%v, falling back", fmt.Errorf("%w: %w", ErrExternalTool, err))
	j.note("external transcoder failed: %v", err)
	return false, nil
}

// passthrough copies the input if it already is a valid container
// of the output family.
func (c *Converter) passthrough(j *job) (bool, error) {
	head, err := storage.ReadHead(j.input, verify.HeadSize)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInputNotFound, err)
	}
	layout := j.format.Layout()
	if !layout.Valid(head) {
		j.note("passthrough skipped: input is not %v", layout.Family())
		return false, nil
	}

	n, err := storage.CopyFileAtomic(j.output, j.input)
	if err != nil {
		return false, err
	}
	c.logger.Info().Src("convert").Job(j.id).
		Msgf("copied %v verbatim", humanize.IBytes(uint64(n)))
	j.method = MethodPassthrough
	return true, nil
}

func (c *Converter) nativeBuild(j *job) error {
	payloadCap := c.config.PayloadCap(j.format)
	src, size, err := storage.ReadCapped(j.input, payloadCap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputNotFound, err)
	}
	if size > int64(len(src)) {
		j.note("payload truncated to %v of %v",
			humanize.IBytes(uint64(len(src))), humanize.IBytes(uint64(size)))
	}

	data, err := c.config.build(j.format, src)
	if err != nil {
		return fmt.Errorf("build %v: %w", j.format.Name(), err)
	}
	if err := storage.WriteFileAtomic(j.output, data); err != nil {
		return err
	}

	c.logger.Info().Src("convert").Job(j.id).Msgf("wrote %v %v container",
		humanize.IBytes(uint64(len(data))), j.format.Layout().Family())
	j.method = j.format.nativeMethod()
	return nil
}

func (c *Converter) verify(ctx context.Context, j *job) (*Result, error) {
	j.enter(StateVerify)

	outcome, verifyErr := c.verifier.Verify(ctx, j.format.Layout(), j.output)
	j.notes = append(j.notes, outcome.Notes...)
	if verifyErr != nil {
		c.logger.Warn().Src("convert").Job(j.id).Msgf("%v", verifyErr)
	}

	report := c.newReport(j, outcome)
	if err := verify.WriteReport(verify.ReportPath(j.output), report); err != nil {
		return c.fail(j, err)
	}
	c.record(report)

	j.enter(StateDone)
	c.logger.Info().Src("convert").Job(j.id).
		Msgf("%v: %v (%v)", report.Status, j.output, j.method)

	result := &Result{
		State:    StateDone,
		Artifact: j.output,
		Report:   &report,
		Trace:    j.trace,
	}

	// The artifact is kept, its path is returned with the error.
	if outcome.Status == verify.StatusFailed {
		if verifyErr == nil {
			verifyErr = verify.ErrVerification
		}
		return result, verifyErr
	}
	return result, nil
}

// fail records a FAILED report. No report file is written.
func (c *Converter) fail(j *job, err error) (*Result, error) {
	j.enter(StateFailed)
	j.note("%v", err)

	report := c.newReport(j, verify.Outcome{Status: verify.StatusFailed})
	c.record(report)

	c.logger.Error().Src("convert").Job(j.id).Msgf("conversion failed: %v", err)
	return &Result{
		State:  StateFailed,
		Report: &report,
		Trace:  j.trace,
	}, err
}

func (c *Converter) newReport(j *job, outcome verify.Outcome) verify.Report {
	return verify.NewReport(
		j.id,
		c.now(),
		verify.Input{
			Path:   j.input,
			Format: inputFormat(j.input),
			Size:   j.inputSize,
		},
		verify.Output{
			Path:   j.output,
			Format: j.format.Name(),
			Size:   outcome.Size,
			Valid:  outcome.Valid,
		},
		j.method,
		outcome.Status,
		j.notes,
	)
}

func (c *Converter) record(report verify.Report) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Save(report); err != nil {
		c.logger.Error().Src("convert").Job(report.ID).
			Msgf("could not save history: %v", err)
	}
}
