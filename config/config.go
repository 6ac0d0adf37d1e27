// Package config loads widgetkit's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spektr-org/widgetkit/engine"
)

// Config holds all widgetkit configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Source   SourceConfig   `yaml:"source"`
	Engine   EngineConfig   `yaml:"engine"`
	Drafts   DraftsConfig   `yaml:"drafts"`
	Glossary GlossaryConfig `yaml:"glossary"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP admin API.
type ServerConfig struct {
	Addr            string `yaml:"addr" validate:"required"`
	Mode            string `yaml:"mode" validate:"oneof=debug release test"` // gin mode
	ShutdownTimeout string `yaml:"shutdown_timeout" validate:"omitempty,duration"`
	RequestTimeout  string `yaml:"request_timeout" validate:"omitempty,duration"`
}

// ModelConfig configures the synthesizer and its language model.
type ModelConfig struct {
	Provider      string  `yaml:"provider" validate:"omitempty,oneof=none gemini openai"`
	APIKey        string  `yaml:"api_key"`
	Name          string  `yaml:"name"`
	BaseURL       string  `yaml:"base_url" validate:"omitempty,url"`
	MaxTurns      int     `yaml:"max_turns" validate:"gte=1,lte=32"`
	SampleSize    int     `yaml:"sample_size" validate:"gte=1"`
	ParallelTools bool    `yaml:"parallel_tools"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"` // 0 = unlimited
	Burst         int     `yaml:"burst" validate:"gte=0"`
	Timeout       string  `yaml:"timeout" validate:"omitempty,duration"`
}

// SourceConfig selects where rows come from.
type SourceConfig struct {
	Driver  string            `yaml:"driver" validate:"omitempty,oneof=sqlite duckdb csv"`
	DSN     string            `yaml:"dsn" validate:"required_if=Driver sqlite,required_if=Driver duckdb"`
	Table   string            `yaml:"table" validate:"required_if=Driver sqlite,required_if=Driver duckdb"`
	Path    string            `yaml:"path" validate:"required_if=Driver csv"`
	Columns map[string]string `yaml:"columns"` // logical field → physical column
	Limit   int               `yaml:"limit" validate:"gte=0"`
}

// EngineConfig overrides the engine's output caps. Zero keeps the default.
type EngineConfig struct {
	CategoryLimit   int `yaml:"category_limit" validate:"gte=0"`
	ScatterLimit    int `yaml:"scatter_limit" validate:"gte=0"`
	FlowLimit       int `yaml:"flow_limit" validate:"gte=0"`
	TableLimit      int `yaml:"table_limit" validate:"gte=0"`
	GeoLimit        int `yaml:"geo_limit" validate:"gte=0"`
	DefaultBinCount int `yaml:"default_bin_count" validate:"gte=0,lte=1000"`
}

// DraftsConfig selects the draft store.
type DraftsConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=memory badger"`
	Path       string `yaml:"path" validate:"required_if=Backend badger"`
	SyncWrites bool   `yaml:"sync_writes"`
	GCInterval string `yaml:"gc_interval" validate:"omitempty,duration"`
}

// GlossaryConfig points at the terminology file.
type GlossaryConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ShutdownTimeout: "10s",
			RequestTimeout:  "60s",
		},
		Model: ModelConfig{
			Provider:   "none",
			MaxTurns:   8,
			SampleSize: 1000,
			Burst:      1,
			Timeout:    "90s",
		},
		Drafts: DraftsConfig{
			Backend:    "memory",
			GCInterval: "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. An explicit
// WIDGETKIT_MODEL_PROVIDER wins; otherwise the first provider key found
// (Gemini, then OpenAI) selects the provider.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WIDGETKIT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("WIDGETKIT_MODE"); v != "" {
		c.Server.Mode = v
	}

	if v := os.Getenv("WIDGETKIT_MODEL_PROVIDER"); v != "" {
		c.Model.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("WIDGETKIT_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("WIDGETKIT_MODEL_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("WIDGETKIT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Model.MaxTurns = n
		}
	}
	unset := c.Model.Provider == "" || c.Model.Provider == "none"
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && (unset || c.Model.Provider == "gemini") {
		c.Model.APIKey = key
		c.Model.Provider = "gemini"
		unset = false
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && (unset || c.Model.Provider == "openai") {
		c.Model.APIKey = key
		c.Model.Provider = "openai"
	}

	if v := os.Getenv("WIDGETKIT_SOURCE_DRIVER"); v != "" {
		c.Source.Driver = v
	}
	if v := os.Getenv("WIDGETKIT_SOURCE_DSN"); v != "" {
		c.Source.DSN = v
	}
	if v := os.Getenv("WIDGETKIT_SOURCE_TABLE"); v != "" {
		c.Source.Table = v
	}
	if v := os.Getenv("WIDGETKIT_SOURCE_PATH"); v != "" {
		c.Source.Path = v
	}

	if v := os.Getenv("WIDGETKIT_DRAFTS_PATH"); v != "" {
		c.Drafts.Backend = "badger"
		c.Drafts.Path = v
	}
	if v := os.Getenv("WIDGETKIT_GLOSSARY"); v != "" {
		c.Glossary.Path = v
	}
	if v := os.Getenv("WIDGETKIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration. A model provider other than none
// needs an API key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ModelEnabled() && c.Model.APIKey == "" {
		return fmt.Errorf("model provider %q needs an API key (set GEMINI_API_KEY or OPENAI_API_KEY)", c.Model.Provider)
	}
	return nil
}

// ModelEnabled reports whether a language model is configured.
func (c *Config) ModelEnabled() bool {
	return c.Model.Provider != "" && c.Model.Provider != "none"
}

// EngineOptions converts the engine section into engine options.
func (c *Config) EngineOptions() []engine.Option {
	e := c.Engine
	return []engine.Option{
		engine.WithCategoryLimit(e.CategoryLimit),
		engine.WithScatterLimit(e.ScatterLimit),
		engine.WithFlowLimit(e.FlowLimit),
		engine.WithTableLimit(e.TableLimit),
		engine.WithGeoLimit(e.GeoLimit),
		engine.WithDefaultBinCount(e.DefaultBinCount),
	}
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// RequestTimeout bounds one HTTP request, model calls included.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 60*time.Second)
}

// ModelTimeout bounds one synthesis run.
func (c *Config) ModelTimeout() time.Duration {
	return parseDuration(c.Model.Timeout, 90*time.Second)
}

// GCInterval returns the draft store GC interval.
func (c *Config) GCInterval() time.Duration {
	return parseDuration(c.Drafts.GCInterval, 5*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
