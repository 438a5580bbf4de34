package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  token: shell-secret
api:
  base_url: https://courses.example.com/api
  access_token: static-token
`

func validConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", Token: "shell-secret"},
		API: APIConfig{
			BaseURL:      "https://courses.example.com/api",
			TokenURL:     "https://id.example.com/oauth/token",
			ClientID:     "lessonbox",
			RefreshToken: "refresh",
			TimeoutMs:    10000,
		},
		Player:    PlayerConfig{Path: "mpv", SocketDir: "/tmp", ConnectTimeoutMs: 10000, CommandTimeoutMs: 3000},
		Controls:  ControlsConfig{AutoHideMs: 3000},
		Progress:  ProgressConfig{TimeoutMs: 5000},
		Watermark: WatermarkConfig{Position: "bottom-right", Opacity: 0.7, DateFormat: "2006-01-02"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing shell token",
			mutate:  func(c *Config) { c.Server.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "base url is not a url",
			mutate:  func(c *Config) { c.API.BaseURL = "courses" },
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name: "access token alone is enough",
			mutate: func(c *Config) {
				c.API.TokenURL, c.API.ClientID, c.API.RefreshToken = "", "", ""
				c.API.AccessToken = "static"
			},
		},
		{
			name:    "no credentials",
			mutate:  func(c *Config) { c.API.RefreshToken = "" },
			wantErr: true,
			errMsg:  "access_token or refresh_token",
		},
		{
			name:    "refresh token without client id",
			mutate:  func(c *Config) { c.API.ClientID = "" },
			wantErr: true,
			errMsg:  "client_id",
		},
		{
			name:    "unknown watermark position",
			mutate:  func(c *Config) { c.Watermark.Position = "center" },
			wantErr: true,
			errMsg:  "Position",
		},
		{
			name:    "opacity above one",
			mutate:  func(c *Config) { c.Watermark.Opacity = 1.5 },
			wantErr: true,
			errMsg:  "Opacity",
		},
		{
			name:    "auto hide too long",
			mutate:  func(c *Config) { c.Controls.AutoHideMs = 120000 },
			wantErr: true,
			errMsg:  "AutoHideMs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "mpv", cfg.Player.Path)
	assert.Equal(t, "/tmp", cfg.Player.SocketDir)
	assert.Equal(t, 3*time.Second, cfg.AutoHideDelay())
	assert.Equal(t, 5*time.Second, cfg.ProgressTimeout())
	assert.Equal(t, time.Duration(0), cfg.ProgressMinInterval())
	assert.Equal(t, 10*time.Second, cfg.APITimeout())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 3*time.Second, cfg.CommandTimeout())
	assert.Equal(t, "bottom-right", cfg.Watermark.Position)
	assert.Equal(t, 0.7, cfg.Watermark.Opacity)
	assert.Equal(t, "2006-01-02", cfg.Watermark.DateFormat)
}

func TestParse_KeepsFileValues(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
controls:
  auto_hide_ms: 1500
progress:
  min_interval_ms: 250
player:
  args: ["--no-border"]
watermark:
  position: top-left
  viewer: Ada
`))
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.AutoHideDelay())
	assert.Equal(t, 250*time.Millisecond, cfg.ProgressMinInterval())
	assert.Equal(t, []string{"--no-border"}, cfg.Player.Args)
	assert.Equal(t, "top-left", cfg.Watermark.Position)
	assert.Equal(t, "Ada", cfg.Watermark.Viewer)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LESSONBOX_SHELL_TOKEN", "from-env")
	t.Setenv("LESSONBOX_API_ACCESS_TOKEN", "env-access")
	t.Setenv("LESSONBOX_VIEWER", "Grace")

	cfg, err := Parse([]byte(`
api:
  base_url: https://courses.example.com/api
`))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, "env-access", cfg.API.AccessToken)
	assert.Equal(t, "Grace", cfg.Watermark.Viewer)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shell-secret", cfg.Server.Token)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
