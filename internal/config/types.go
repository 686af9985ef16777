package config

import (
	"time"

	"github.com/redactly/redactly/internal/cache"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Detection  DetectionConfig  `yaml:"detection" mapstructure:"detection"`
	Suggestion SuggestionConfig `yaml:"suggestion" mapstructure:"suggestion"`
	Cache      cache.Config     `yaml:"cache" mapstructure:"cache"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	WebSocket  WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port             int           `yaml:"port" mapstructure:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	UploadsPerMinute int           `yaml:"uploads_per_minute" mapstructure:"uploads_per_minute"`
}

// QueueConfig contains session queue configuration
type QueueConfig struct {
	// Capacity bounds the session collection; files beyond it are rejected,
	// not queued.
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// DetectionConfig contains detection service configuration
type DetectionConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// UseLLM is the default for sessions whose upload does not specify the
	// flag; the value is fixed per session at creation.
	UseLLM bool `yaml:"use_llm" mapstructure:"use_llm"`
}

// SuggestionConfig contains suggestion service configuration
type SuggestionConfig struct {
	BaseURL         string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DefaultCriteria string        `yaml:"default_criteria" mapstructure:"default_criteria"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      60 * time.Second,
			MaxUploadBytes:   50 * 1024 * 1024,
			UploadsPerMinute: 60,
		},
		Queue: QueueConfig{
			Capacity: 30,
		},
		Detection: DetectionConfig{
			BaseURL: "http://localhost:9000",
			Timeout: 120 * time.Second,
			UseLLM:  true,
		},
		Suggestion: SuggestionConfig{
			BaseURL: "http://localhost:9100",
			Timeout: 60 * time.Second,
			DefaultCriteria: "Redact all personally identifiable information (PII) like names, " +
				"emails, and phone numbers, but keep addresses if they are part of a " +
				"corporate letterhead. Always redact signatures.",
		},
		Cache: cache.Config{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     24 * time.Hour,
			KeyPrefix:      "redactly",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
		},
	}
}
