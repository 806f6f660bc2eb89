// Package config loads the csvconf YAML configuration.
//
// Every section has defaults, so an empty or missing file is valid. Values
// are validated after decoding; the storage DSN may be supplied through the
// CSVCONF_DSN environment variable instead of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"csvconf/internal/datasource"
	"csvconf/internal/numfmt"
)

// EnvDSN overrides Storage.DSN when set.
const EnvDSN = "CSVCONF_DSN"

// Config is the root of the configuration file.
type Config struct {
	Preview PreviewConfig `yaml:"preview"`
	Numbers NumbersConfig `yaml:"numbers"`
	Source  SourceConfig  `yaml:"source"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// PreviewConfig bounds the preview. MaxRows 0 keeps the default cap; a
// negative value previews every row.
type PreviewConfig struct {
	MaxRows int `yaml:"max_rows"`
}

// NumbersConfig selects number separators and the display locale.
type NumbersConfig struct {
	Locale    string `yaml:"locale"`
	Decimal   string `yaml:"decimal" validate:"omitempty,onechar"`
	Thousands string `yaml:"thousands" validate:"omitempty,onechar"`
}

// SourceConfig holds adapter settings.
type SourceConfig struct {
	Delimiter  string `yaml:"delimiter" validate:"omitempty,onechar"`
	Encoding   string `yaml:"encoding"`
	DetectRows int    `yaml:"detect_rows" validate:"gte=0"`
	Selector   string `yaml:"selector"`
}

// StorageConfig selects the load target.
type StorageConfig struct {
	Kind      string `yaml:"kind" validate:"omitempty,oneof=postgres mssql sqlite"`
	DSN       string `yaml:"dsn"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

// MetricsConfig selects a metrics exporter.
type MetricsConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=none datadog prompush"`
	Job        string        `yaml:"job"`
	Tags       string        `yaml:"tags"`
	FlushEvery time.Duration `yaml:"flush_every" validate:"gte=0"`
	PushURL    string        `yaml:"push_url" validate:"required_if=Backend prompush,omitempty,url"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("onechar", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) == 1
	})
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Preview: PreviewConfig{MaxRows: 0},
		Numbers: NumbersConfig{Decimal: "."},
		Source:  SourceConfig{DetectRows: datasource.DefaultDetectRows},
		Storage: StorageConfig{Kind: "sqlite", BatchSize: 500},
		Metrics: MetricsConfig{
			Backend:    "none",
			Job:        "csvconf",
			FlushEvery: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path skips the file. The
// result is validated and CSVCONF_DSN is applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDSN)); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and that the number settings build a
// usable policy.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.NumberPolicy(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NumberPolicy builds the number policy for sessions and loads.
func (c Config) NumberPolicy() (numfmt.Policy, error) {
	return numfmt.New(c.Numbers.Locale, c.Numbers.Decimal, c.Numbers.Thousands)
}

// SourceOptions builds adapter options with the given number policy.
func (c Config) SourceOptions(p numfmt.Policy) datasource.Options {
	var delim rune
	if c.Source.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(c.Source.Delimiter)
	}
	return datasource.Options{
		Delimiter:  delim,
		Encoding:   c.Source.Encoding,
		Numbers:    p,
		DetectRows: c.Source.DetectRows,
		Selector:   c.Source.Selector,
	}
}
