package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"vconv/pkg/container/isobmff"
	"vconv/pkg/container/riff"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PayloadCap maximum number of source bytes copied into a container.
type PayloadCap struct {
	AVI int `yaml:"avi" validate:"gte=0"`
	M4V int `yaml:"m4v" validate:"gte=0"`
}

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	FFmpegBin         string        `yaml:"ffmpegBin" validate:"required"`
	FFmpegInputOpts   string        `yaml:"ffmpegInputOpts"`
	InterruptTimeout  time.Duration `yaml:"interruptTimeout" validate:"gt=0"`
	IntrospectBin     string        `yaml:"introspectBin" validate:"required"`
	IntrospectArgs    []string      `yaml:"introspectArgs"`
	TranscodeTimeout  time.Duration `yaml:"transcodeTimeout" validate:"gt=0"`
	IntrospectTimeout time.Duration `yaml:"introspectTimeout" validate:"gt=0"`
	Passthrough       bool          `yaml:"passthrough"`
	Workers           int           `yaml:"workers" validate:"gte=0"`
	LogLevel          string        `yaml:"logLevel" validate:"oneof=error warning info debug"`
	HistoryDB         string        `yaml:"historyDB"`
	LogDB             string        `yaml:"logDB"`

	PayloadCap PayloadCap     `yaml:"payloadCap"`
	AVI        riff.Params    `yaml:"avi"`
	M4V        isobmff.Params `yaml:"m4v"`

	ConfigDir string `yaml:"-"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidConfig   = errors.New("invalid config")
)

// Defaults.
const (
	DefaultFFmpegBin         = "ffmpeg"
	DefaultIntrospectBin     = "file"
	DefaultTranscodeTimeout  = 60 * time.Second
	DefaultInterruptTimeout  = 1 * time.Second
	DefaultIntrospectTimeout = 5 * time.Second
	DefaultLogLevel          = "info"
	DefaultHistoryDB         = "history.db"
	DefaultLogDB             = "logs.db"
)

// NewConfigEnv return new environment configuration.
// A nil envYAML returns the defaults.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	env := ConfigEnv{
		AVI: riff.DefaultParams(),
		M4V: isobmff.M4VParams(),
	}

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.FFmpegBin == "" {
		env.FFmpegBin = DefaultFFmpegBin
	}
	if env.IntrospectBin == "" {
		env.IntrospectBin = DefaultIntrospectBin
	}
	if env.IntrospectArgs == nil {
		env.IntrospectArgs = []string{"-b"}
	}
	if env.TranscodeTimeout == 0 {
		env.TranscodeTimeout = DefaultTranscodeTimeout
	}
	if env.InterruptTimeout == 0 {
		env.InterruptTimeout = DefaultInterruptTimeout
	}
	if env.IntrospectTimeout == 0 {
		env.IntrospectTimeout = DefaultIntrospectTimeout
	}
	if env.LogLevel == "" {
		env.LogLevel = DefaultLogLevel
	}
	if env.HistoryDB == "" {
		env.HistoryDB = DefaultHistoryDB
	}
	if env.LogDB == "" {
		env.LogDB = DefaultLogDB
	}
	if env.PayloadCap.AVI == 0 {
		env.PayloadCap.AVI = riff.DefaultPayloadCap
	}
	if env.PayloadCap.M4V == 0 {
		env.PayloadCap.M4V = isobmff.DefaultPayloadCap
	}
	env.AVI.PayloadCap = env.PayloadCap.AVI
	env.M4V.PayloadCap = env.PayloadCap.M4V

	if !filepath.IsAbs(env.HistoryDB) {
		env.HistoryDB = filepath.Join(env.ConfigDir, env.HistoryDB)
	}
	if !filepath.IsAbs(env.LogDB) {
		env.LogDB = filepath.Join(env.ConfigDir, env.LogDB)
	}
	if !filepath.IsAbs(env.ConfigDir) {
		return nil, fmt.Errorf("configDir '%v': %w", env.ConfigDir, ErrPathNotAbsolute)
	}

	if err := validate(env); err != nil {
		return nil, err
	}
	if err := env.AVI.Validate(); err != nil {
		return nil, fmt.Errorf("%w: avi: %w", ErrInvalidConfig, err)
	}
	if err := env.M4V.Validate(); err != nil {
		return nil, fmt.Errorf("%w: m4v: %w", ErrInvalidConfig, err)
	}

	return &env, nil
}

// LoadConfigEnv reads envPath, a missing file returns the defaults.
func LoadConfigEnv(envPath string) (*ConfigEnv, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}
	return NewConfigEnv(envPath, envYAML)
}

// MP4 returns the ISO parameters with the configured M4V layout.
func (env ConfigEnv) MP4() isobmff.Params {
	p := env.M4V
	mp4 := isobmff.MP4Params()
	p.MajorBrand = mp4.MajorBrand
	p.CompatibleBrands = mp4.CompatibleBrands
	return p
}

var configValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Use yaml tag names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

func validate(env ConfigEnv) error {
	err := configValidator.Struct(env)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		msgs = append(msgs, e.Namespace()+" "+friendlyMessage(e))
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, strings.Join(msgs, ", "))
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	default:
		return "is invalid"
	}
}
