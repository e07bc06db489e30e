// Package verify checks persisted containers and writes
// conversion reports next to them.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vconv/pkg/container"
	"vconv/pkg/storage"

	"github.com/goccy/go-json"
)

// ErrVerification artifact is missing, empty or fails the signature check.
var ErrVerification = errors.New("verification failed")

// Status of a conversion.
type Status string

// Statuses.
const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusFailed  Status = "FAILED"
)

// HeadSize number of leading bytes read for the signature check.
const HeadSize = 20

// Input describes the source file.
type Input struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

// Output describes the produced artifact.
type Output struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
	Valid  bool   `json:"valid"`
}

// Report is written once per conversion and never modified.
type Report struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Input     Input     `json:"input"`
	Output    Output    `json:"output"`
	Method    string    `json:"method"`
	Status    Status    `json:"status"`
	Notes     []string  `json:"notes"`
}

// NewReport returns a report, notes is never nil.
func NewReport(
	id string,
	timestamp time.Time,
	input Input,
	output Output,
	method string,
	status Status,
	notes []string,
) Report {
	if notes == nil {
		notes = []string{}
	}
	return Report{
		ID:        id,
		Timestamp: timestamp.UTC(),
		Input:     input,
		Output:    output,
		Method:    method,
		Status:    status,
		Notes:     notes,
	}
}

// Describer returns a human readable file type description.
type Describer interface {
	Describe(ctx context.Context, path string) (string, error)
}

// Outcome of a verification.
type Outcome struct {
	Size   int64
	Valid  bool
	Status Status
	Notes  []string
}

// Verifier checks artifacts.
type Verifier struct {
	describer Describer
}

// NewVerifier returns a verifier, describer may be nil.
func NewVerifier(describer Describer) *Verifier {
	return &Verifier{describer: describer}
}

// Verify reads the head of path and applies the signature check of
// the layout. The introspection tool only adds notes, it never
// changes the status. A non-nil error wraps ErrVerification and
// the outcome is still valid.
func (v *Verifier) Verify(ctx context.Context, l container.Layout, path string) (Outcome, error) {
	size, err := storage.FileSize(path)
	if err != nil {
		return Outcome{
			Status: StatusFailed,
			Notes:  []string{"artifact unreadable: " + err.Error()},
		}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	head, err := storage.ReadHead(path, HeadSize)
	if err != nil {
		return Outcome{
			Size:   size,
			Status: StatusFailed,
			Notes:  []string{"artifact unreadable: " + err.Error()},
		}, fmt.Errorf("%w: %w", ErrVerification, err)
	}

	outcome := Outcome{
		Size:  size,
		Valid: l.Valid(head),
	}
	if outcome.Valid {
		outcome.Status = StatusSuccess
		outcome.Notes = append(outcome.Notes, l.Family().String()+" signature valid")
	} else {
		outcome.Status = StatusPartial
		outcome.Notes = append(outcome.Notes,
			fmt.Sprintf("%v signature check failed, head %q", l.Family(), head))
	}

	if v.describer != nil {
		desc, err := v.describer.Describe(ctx, path)
		if err != nil {
			outcome.Notes = append(outcome.Notes, "introspection failed: "+err.Error())
		} else {
			outcome.Notes = append(outcome.Notes, "introspection: "+desc)
		}
	}

	if !outcome.Valid {
		return outcome, fmt.Errorf("%w: %v", ErrVerification, path)
	}
	return outcome, nil
}

// ReportPath returns the report path of an artifact,
// "out/video.avi" returns "out/video.report.json".
func ReportPath(artifact string) string {
	ext := filepath.Ext(artifact)
	return strings.TrimSuffix(artifact, ext) + ".report.json"
}

// WriteReport writes the report as indented JSON.
func WriteReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	return storage.WriteFileAtomic(path, data)
}

// ReadReport reads a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}
