// Package config loads schemasync configuration.
// It layers defaults, an optional schemasync.yaml, SCHEMASYNC_ environment
// variables and explicitly set command-line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/schemasync"
)

// Config is the full schemasync configuration.
type Config struct {
	Host          string        `koanf:"host" validate:"required,oneof=desktop web"`
	Workspace     string        `koanf:"workspace" validate:"required"`
	LanguageIDs   []string      `koanf:"language_ids" validate:"min=1,dive,required"`
	NotebookTypes []string      `koanf:"notebook_types" validate:"dive,required"`
	Server        ServerConfig  `koanf:"server"`
	Fetch         FetchConfig   `koanf:"fetch"`
	Log           LogConfig     `koanf:"log"`
	Metrics       MetricsConfig `koanf:"metrics"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// ServerConfig describes the companion language server process.
// An empty Command means this executable with the "lsp" subcommand.
type ServerConfig struct {
	Command string        `koanf:"command"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// FetchConfig controls schema fetching.
type FetchConfig struct {
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	BypassCache bool          `koanf:"bypass_cache"`
	RetryFailed bool          `koanf:"retry_failed"`
	RejectStale bool          `koanf:"reject_stale"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Eligibility returns the document filter built from language_ids and
// notebook_types.
func (c *Config) Eligibility() connection.Eligibility {
	return connection.Eligibility{
		LanguageIDs:   append([]string(nil), c.LanguageIDs...),
		NotebookTypes: append([]string(nil), c.NotebookTypes...),
	}
}

// Mode returns the configured host mode.
func (c *Config) Mode() schemasync.HostMode {
	return schemasync.HostMode(c.Host)
}
