// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Player    PlayerConfig    `yaml:"player"`
	Controls  ControlsConfig  `yaml:"controls"`
	Progress  ProgressConfig  `yaml:"progress"`
	Watermark WatermarkConfig `yaml:"watermark"`
}

// ServerConfig represents the shell-facing RPC server configuration.
type ServerConfig struct {
	Addr  string `yaml:"addr" default:":8080"`
	Token string `yaml:"token" validate:"required"`
}

// APIConfig represents the course API and identity provider configuration.
// Either RefreshToken (with TokenURL and ClientID) or AccessToken is needed.
type APIConfig struct {
	BaseURL      string `yaml:"base_url" validate:"required,url"`
	TokenURL     string `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	AccessToken  string `yaml:"access_token"`
	TimeoutMs    int    `yaml:"timeout_ms" default:"10000" validate:"gte=100,lte=120000"`
}

// PlayerConfig represents the mpv media engine configuration.
type PlayerConfig struct {
	Path             string   `yaml:"path" default:"mpv"`
	Args             []string `yaml:"args"`
	SocketDir        string   `yaml:"socket_dir" default:"/tmp"`
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms" default:"10000" validate:"gte=100"`
	CommandTimeoutMs int      `yaml:"command_timeout_ms" default:"3000" validate:"gte=10"`
}

// ControlsConfig represents controls visibility configuration.
type ControlsConfig struct {
	AutoHideMs int `yaml:"auto_hide_ms" default:"3000" validate:"gte=0,lte=60000"`
}

// ProgressConfig represents progress reporting configuration.
type ProgressConfig struct {
	TimeoutMs     int `yaml:"timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	MinIntervalMs int `yaml:"min_interval_ms" default:"0" validate:"gte=0"`
}

// WatermarkConfig represents the default watermark applied to lessons.
type WatermarkConfig struct {
	Viewer     string  `yaml:"viewer"`
	Position   string  `yaml:"position" default:"bottom-right" validate:"oneof=top-left top-right bottom-left bottom-right"`
	Opacity    float64 `yaml:"opacity" default:"0.7" validate:"gte=0,lte=1"`
	DateFormat string  `yaml:"date_format" default:"2006-01-02"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("LESSONBOX_SHELL_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("LESSONBOX_API_CLIENT_SECRET"); v != "" {
		c.API.ClientSecret = v
	}
	if v := os.Getenv("LESSONBOX_API_REFRESH_TOKEN"); v != "" {
		c.API.RefreshToken = v
	}
	if v := os.Getenv("LESSONBOX_API_ACCESS_TOKEN"); v != "" {
		c.API.AccessToken = v
	}
	if v := os.Getenv("LESSONBOX_VIEWER"); v != "" {
		c.Watermark.Viewer = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateCredentials(); err != nil {
		return err
	}

	return nil
}

// validateCredentials checks that the API client can obtain a token.
func (c *Config) validateCredentials() error {
	if c.API.AccessToken != "" {
		return nil
	}
	if c.API.RefreshToken == "" {
		return errors.New("api: either access_token or refresh_token is required")
	}
	if c.API.TokenURL == "" || c.API.ClientID == "" {
		return errors.Newf("api: refresh_token requires token_url and client_id (token_url=%q client_id=%q)",
			c.API.TokenURL, c.API.ClientID)
	}
	return nil
}

// AutoHideDelay returns the controls quiet period.
func (c *Config) AutoHideDelay() time.Duration {
	return time.Duration(c.Controls.AutoHideMs) * time.Millisecond
}

// APITimeout returns the course API request timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutMs) * time.Millisecond
}

// ProgressTimeout returns the per-report deadline.
func (c *Config) ProgressTimeout() time.Duration {
	return time.Duration(c.Progress.TimeoutMs) * time.Millisecond
}

// ProgressMinInterval returns the minimum spacing between reports.
func (c *Config) ProgressMinInterval() time.Duration {
	return time.Duration(c.Progress.MinIntervalMs) * time.Millisecond
}

// ConnectTimeout returns how long to wait for the mpv IPC socket.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Player.ConnectTimeoutMs) * time.Millisecond
}

// CommandTimeout returns how long to wait for an mpv command reply.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Player.CommandTimeoutMs) * time.Millisecond
}
