package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"opsrun/pkg/log"
	"opsrun/pkg/poller"
	"opsrun/pkg/process"
	"opsrun/pkg/system"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "opsrun.yaml"

// Config holds the defaults the CLI applies to exec and poll sessions.
type Config struct {
	Includes    []string   `yaml:"includes,omitempty"`
	LogLevel    string     `yaml:"log-level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string     `yaml:"log-format,omitempty" validate:"omitempty,oneof=text json"`
	MetricsFile string     `yaml:"metrics-file,omitempty"`
	Exec        ExecConfig `yaml:"exec,omitempty"`
	Poll        PollConfig `yaml:"poll,omitempty"`
}

type ExecConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace-period,omitempty" validate:"gte=0"`
	WaitDelay   time.Duration `yaml:"wait-delay,omitempty" validate:"gte=0"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval,omitempty" validate:"gte=0,ltefield=MaxWait"`
	MaxWait  time.Duration `yaml:"max-wait,omitempty" validate:"gte=0"`
}

// ValidationError describes one invalid configuration field, addressed by
// its YAML key path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range es {
		sb.WriteString(fmt.Sprintf("  - %s\n", e.Error()))
	}
	return sb.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: string(log.FormatText),
		Exec: ExecConfig{
			Timeout:     process.DefaultTimeout,
			GracePeriod: process.DefaultGracePeriod,
			WaitDelay:   process.DefaultWaitDelay,
		},
		Poll: PollConfig{
			Interval: poller.DefaultInterval,
			MaxWait:  poller.DefaultMaxWait,
		},
	}
}

// LoadConfig reads filename and its includes from system.AppFs, layers them
// over Default and validates the result. An unset poll.interval is capped at
// poll.max-wait.
func LoadConfig(filename string, logger log.Logger) (*Config, error) {
	cfg, err := loadConfigFile(filename)
	if err != nil {
		return nil, err
	}

	if len(cfg.Includes) > 0 {
		cfg, err = processIncludes(cfg, filename, make(map[string]bool), logger)
		if err != nil {
			return nil, err
		}
	}

	merged := mergeConfigs(Default(), cfg, nil)
	if cfg.Poll.Interval == 0 {
		merged.Poll.Interval = min(merged.Poll.Interval, merged.Poll.MaxWait)
	}
	if errs := merged.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return merged, nil
}

// LoadOrDefault behaves like LoadConfig but returns Default when filename
// does not exist.
func LoadOrDefault(filename string, logger log.Logger) (*Config, error) {
	exists, err := system.Exists(filename)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.Debug("No config file, using defaults", "path", filename)
		return Default(), nil
	}
	return LoadConfig(filename, logger)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() ValidationErrors {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationErrors{{Field: "config", Message: err.Error()}}
	}

	errs := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		errs = append(errs, ValidationError{Field: field, Message: fieldMessage(fe)})
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return "must not be negative"
	case "ltefield":
		return "must not exceed max-wait"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func processIncludes(cfg *Config, baseFile string, visited map[string]bool, logger log.Logger) (*Config, error) {
	absBase, err := filepath.Abs(baseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for %s: %w", baseFile, err)
	}
	if visited[absBase] {
		return nil, fmt.Errorf("circular include detected: %s", baseFile)
	}
	visited[absBase] = true

	result := &Config{}
	for _, includePath := range cfg.Includes {
		if strings.TrimSpace(includePath) == "" {
			return nil, ValidationErrors{{Field: "includes", Message: "include path cannot be empty"}}
		}
		resolvedPath := resolveIncludePath(baseFile, includePath)

		included, err := loadConfigFile(resolvedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load include '%s': %w", includePath, err)
		}
		if len(included.Includes) > 0 {
			included, err = processIncludes(included, resolvedPath, visited, logger)
			if err != nil {
				return nil, err
			}
		}
		result = mergeConfigs(result, included, logger)
	}

	// The including file wins over everything it includes.
	return mergeConfigs(result, cfg, logger), nil
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := afero.ReadFile(system.AppFs, filename)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return &cfg, nil
}

func resolveIncludePath(baseFile, includePath string) string {
	if filepath.IsAbs(includePath) {
		return includePath
	}
	return filepath.Join(filepath.Dir(baseFile), includePath)
}

// mergeConfigs layers override onto base: every non-zero override field
// wins. A nil logger suppresses the override warnings.
func mergeConfigs(base, override *Config, logger log.Logger) *Config {
	result := *base
	result.Includes = nil

	result.LogLevel = pick(logger, "log-level", base.LogLevel, override.LogLevel)
	result.LogFormat = pick(logger, "log-format", base.LogFormat, override.LogFormat)
	result.MetricsFile = pick(logger, "metrics-file", base.MetricsFile, override.MetricsFile)
	result.Exec.Timeout = pick(logger, "exec.timeout", base.Exec.Timeout, override.Exec.Timeout)
	result.Exec.GracePeriod = pick(logger, "exec.grace-period", base.Exec.GracePeriod, override.Exec.GracePeriod)
	result.Exec.WaitDelay = pick(logger, "exec.wait-delay", base.Exec.WaitDelay, override.Exec.WaitDelay)
	result.Poll.Interval = pick(logger, "poll.interval", base.Poll.Interval, override.Poll.Interval)
	result.Poll.MaxWait = pick(logger, "poll.max-wait", base.Poll.MaxWait, override.Poll.MaxWait)

	return &result
}

func pick[T comparable](logger log.Logger, key string, base, override T) T {
	var zero T
	if override == zero {
		return base
	}
	if logger != nil && base != zero && base != override {
		logger.Warn("Config value overridden", "key", key, "was", base, "now", override)
	}
	return override
}
