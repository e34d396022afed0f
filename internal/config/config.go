// Package config loads the YAML run file accepted by the tpat command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/tpat/internal/kernel"
)

// validate is shared; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateBatch, kernel.Options{})
	return v
}

// Config is one pipeline run.
type Config struct {
	Input       string            `yaml:"input" validate:"required"`
	Output      string            `yaml:"output" validate:"required,nefield=Input"`
	NodeNames   []string          `yaml:"node_names,omitempty" validate:"dive,required"`
	NodeTypes   []string          `yaml:"node_types,omitempty" validate:"dive,required"`
	PluginNames map[string]string `yaml:"plugin_names,omitempty" validate:"dive,keys,required,endkeys,required"`
	PluginDir   string            `yaml:"plugin_dir,omitempty"`
	MetricsFile string            `yaml:"metrics_file,omitempty"`
	Batch       kernel.Options    `yaml:"batch"`
	Log         Log               `yaml:"log"`
}

// Log configures the command's logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		Batch: kernel.DefaultOptions(),
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML run file on top of Default. Unknown keys are errors.
func Load(path string) (Config, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path supplied by the user.
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode reads a YAML run file from r on top of Default.
func Decode(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports the first problem.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Level returns the slog level named by Log.Level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func validateBatch(sl validator.StructLevel) {
	opts, ok := sl.Current().Interface().(kernel.Options)
	if !ok {
		return
	}
	if err := opts.Validate(); err != nil {
		sl.ReportError(opts.MinBatch, "min_batch", "MinBatch", "batch_range", "")
	}
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "nefield":
			return fmt.Errorf("%s: must differ from %s", field, strings.ToLower(e.Param()))
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s], got %q", field, e.Param(), e.Value())
		case "batch_range":
			return fmt.Errorf("%s: need 1 <= min_batch <= opt_batch <= max_batch", strings.TrimSuffix(field, ".min_batch"))
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}
