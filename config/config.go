// Package config loads and validates the pipeline configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PlatformConfig configures the publishing platform client.
type PlatformConfig struct {
	BaseURL           string   `yaml:"base_url" validate:"required,url"`
	UploadURL         string   `yaml:"upload_url" validate:"required,url"`
	TokenURL          string   `yaml:"token_url" validate:"required,url"`
	ClientID          string   `yaml:"client_id" validate:"required"`
	ChunkSize         int      `yaml:"chunk_size" validate:"omitempty,min=1"`
	PollInterval      Duration `yaml:"poll_interval"`
	ProcessingCeiling Duration `yaml:"processing_ceiling"`
	SettleDelay       Duration `yaml:"settle_delay"`
}

// SearchConfig configures the news search collaborator.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint" validate:"required,url"`
	APIKey     string `yaml:"api_key"`
	Query      string `yaml:"query" validate:"required"`
	MaxResults int    `yaml:"max_results" validate:"omitempty,min=1"`

	// Filter is an optional expression evaluated per result document;
	// truthy keeps the document.
	Filter string `yaml:"filter"`
}

// ContentConfig configures post composition.
type ContentConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Instructions string `yaml:"instructions"`
}

// ProviderConfig describes one media generation provider. Kind selects the
// implementation: "gemini" uses Model, "rest" uses Endpoint.
type ProviderConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Kind     string `yaml:"kind" validate:"required,oneof=gemini rest"`
	Model    string `yaml:"model" validate:"required_if=Kind gemini"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Kind rest,omitempty,url"`
	APIKey   string `yaml:"api_key"`
}

// StorageConfig selects the blob storage backend. Backend "none" disables
// durable persistence: the pipeline still runs, but its record cannot be
// replayed.
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=file postgres none"`
	Path    string `yaml:"path" validate:"required_if=Backend file"`
	DSN     string `yaml:"dsn" validate:"required_if=Backend postgres"`
}

// Config is the root configuration document.
type Config struct {
	Platform PlatformConfig   `yaml:"platform" validate:"required"`
	Search   SearchConfig     `yaml:"search" validate:"required"`
	Content  ContentConfig    `yaml:"content"`
	Images   []ProviderConfig `yaml:"image_providers" validate:"min=1,dive"`
	Videos   []ProviderConfig `yaml:"video_providers" validate:"dive"`
	Storage  StorageConfig    `yaml:"storage" validate:"required"`
	LogLevel string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Environment variable fallbacks for secrets that should not live in the
// config file.
const (
	EnvSearchAPIKey  = "AUTOPOST_SEARCH_API_KEY"
	EnvContentAPIKey = "AUTOPOST_GEMINI_API_KEY"
	EnvStorageDSN    = "AUTOPOST_STORAGE_DSN"
	EnvClientID      = "AUTOPOST_CLIENT_ID"
)

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies environment fallbacks and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Search.APIKey == "" {
		c.Search.APIKey = os.Getenv(EnvSearchAPIKey)
	}
	if c.Content.APIKey == "" {
		c.Content.APIKey = os.Getenv(EnvContentAPIKey)
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = os.Getenv(EnvStorageDSN)
	}
	if c.Platform.ClientID == "" {
		c.Platform.ClientID = os.Getenv(EnvClientID)
	}
	// Gemini providers without their own key share the content key.
	for i := range c.Images {
		if c.Images[i].Kind == "gemini" && c.Images[i].APIKey == "" {
			c.Images[i].APIKey = c.Content.APIKey
		}
	}
	for i := range c.Videos {
		if c.Videos[i].Kind == "gemini" && c.Videos[i].APIKey == "" {
			c.Videos[i].APIKey = c.Content.APIKey
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Platform.ChunkSize == 0 {
		c.Platform.ChunkSize = 1 << 20
	}
	if c.Platform.PollInterval == 0 {
		c.Platform.PollInterval = Duration(5 * time.Second)
	}
	if c.Platform.ProcessingCeiling == 0 {
		c.Platform.ProcessingCeiling = Duration(10 * time.Minute)
	}
	if c.Platform.SettleDelay == 0 {
		c.Platform.SettleDelay = Duration(2 * time.Second)
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 10
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Backend == "file" && c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration using struct-level validation rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autopost/storage"
	}
	return home + "/.autopost/storage"
}
