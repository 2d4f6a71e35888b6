// ABOUTME: Configuration loading and parsing for chatrelay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is the instruction sent ahead of every upstream request.
const DefaultSystemPrompt = "Você é um assistente útil. Formate suas respostas em Markdown, " +
	"usando títulos, listas e blocos de código quando fizer sentido."

// Config represents the complete chatrelay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	Summarize SummarizeConfig `yaml:"summarize" toml:"summarize"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// StorageConfig selects the durable backend for conversations
type StorageConfig struct {
	// Driver is "file" (one JSON document per conversation) or "sqlite".
	Driver string `yaml:"driver" toml:"driver"`
	// Path is a directory for the file driver and a database file for sqlite.
	Path string `yaml:"path" toml:"path"`
}

// UpstreamConfig describes the OpenAI-compatible model endpoint
type UpstreamConfig struct {
	BaseURL       string        `yaml:"base_url" toml:"base_url"`
	Model         string        `yaml:"model" toml:"model"`
	APIKey        string        `yaml:"api_key" toml:"api_key"`
	HistoryWindow int           `yaml:"history_window" toml:"history_window"`
	SystemPrompt  string        `yaml:"system_prompt" toml:"system_prompt"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// SummarizeConfig tunes transcript ingestion and the per-chunk summary pass
type SummarizeConfig struct {
	WordsPerChunk int    `yaml:"words_per_chunk" toml:"words_per_chunk"`
	ExcerptChars  int    `yaml:"excerpt_chars" toml:"excerpt_chars"`
	DownloadDir   string `yaml:"download_dir" toml:"download_dir"`
	YTDLPPath     string `yaml:"ytdlp_path" toml:"ytdlp_path"`
}

// RateLimitConfig bounds how fast a single client may start turns
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a Config populated with the values used when a field is
// absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:5000"},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "./data",
		},
		Upstream: UpstreamConfig{
			BaseURL:       "http://localhost:11434/v1",
			Model:         "gemma2:2b",
			HistoryWindow: 10,
			SystemPrompt:  DefaultSystemPrompt,
			Timeout:       120 * time.Second,
		},
		Summarize: SummarizeConfig{
			WordsPerChunk: 300,
			ExcerptChars:  150,
			YTDLPPath:     "yt-dlp",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; everything else is YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	// The default timeout is re-derived from the raw string so a file that
	// omits it keeps the default.
	cfg.Upstream.TimeoutRaw = cfg.Upstream.Timeout.String()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be \"file\" or \"sqlite\", got %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.Model == "" {
		return fmt.Errorf("upstream.model is required")
	}
	if c.Upstream.HistoryWindow < 0 {
		return fmt.Errorf("upstream.history_window must not be negative")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}

	if c.Summarize.WordsPerChunk < 1 {
		return fmt.Errorf("summarize.words_per_chunk must be at least 1")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Upstream.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Upstream.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream.timeout %q: %w", cfg.Upstream.TimeoutRaw, err)
		}
		cfg.Upstream.Timeout = d
	}
	return nil
}

// DefaultPath returns the config location used when none is given on the
// command line: $CHATRELAY_CONFIG, then $XDG_CONFIG_HOME/chatrelay/config.yaml,
// then ~/.config/chatrelay/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatrelay", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "chatrelay", "config.yaml")
}
