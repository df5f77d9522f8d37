package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "client.yaml", "session_id: 42\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.SessionID)
	assert.Equal(t, "127.0.0.1", cfg.Controller.Host)
	assert.Equal(t, 3301, cfg.Controller.Port)
	assert.Equal(t, "wss://127.0.0.1:3301", cfg.ControllerURL())
	assert.Equal(t, []string{"video/AV1", "video/rtx"}, cfg.Codecs.Video)
	assert.Equal(t, []string{"audio/opus"}, cfg.Codecs.Audio)
	assert.Equal(t, "L1T3", cfg.ScalabilityMode)
	assert.Equal(t, 500*time.Millisecond, cfg.StatsInterval)
	assert.Empty(t, cfg.STUNURL())
	assert.Empty(t, cfg.TelemetryURL())
	assert.Empty(t, cfg.LimitIP)
}

func TestLoadFull(t *testing.T) {
	path := writeFile(t, "client.yaml", `
session_id: 7
controller:
  host: sfu.local
  port: 4000
  insecure: true
stun:
  host: 10.0.0.2
  port: 3478
telemetry:
  host: 10.0.0.3
  port: 9000
limit_ip: 10.0.0.
codecs:
  video: [video/VP8]
  audio: [audio/opus]
stats_interval: 1s
api:
  address: ":8080"
media:
  video_rtp: 127.0.0.1:5004
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://sfu.local:4000", cfg.ControllerURL())
	assert.Equal(t, "stun:10.0.0.2:3478", cfg.STUNURL())
	assert.Equal(t, "ws://10.0.0.3:9000", cfg.TelemetryURL())
	assert.Equal(t, "10.0.0.", cfg.LimitIP)
	assert.Equal(t, []string{"video/VP8"}, cfg.Codecs.Video)
	assert.Equal(t, time.Second, cfg.StatsInterval)
	assert.Equal(t, ":8080", cfg.API.Address)
	assert.Equal(t, "127.0.0.1:5004", cfg.Media.VideoRTP)
	assert.Empty(t, cfg.Media.AudioRTP)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "client.json", `{"session_id": 3, "controller": {"host": "h", "port": 1}, "limit_ip": "192.168."}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SessionID)
	assert.Equal(t, "wss://h:1", cfg.ControllerURL())
	assert.Equal(t, "192.168.", cfg.LimitIP)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "client.yaml", "session_id: 1\n")
	t.Setenv("SFU_SESSION_ID", "99")
	t.Setenv("SFU_LIMIT_IP", "172.16.")
	t.Setenv("SFU_CONTROLLER_PORT", "5000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.SessionID)
	assert.Equal(t, "172.16.", cfg.LimitIP)
	assert.Equal(t, 5000, cfg.Controller.Port)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := writeFile(t, ".env", "SFU_TEST_DOTENV=yes\n")
	t.Setenv("SFU_TEST_DOTENV", "")
	os.Unsetenv("SFU_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("SFU_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{SessionID: 1}
		c.setDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing session", func(c *Config) { c.SessionID = 0 }, true},
		{"bad controller port", func(c *Config) { c.Controller.Port = 70000 }, true},
		{"stun without port", func(c *Config) { c.STUN.Host = "10.0.0.1" }, true},
		{"stun ok", func(c *Config) { c.STUN = Endpoint{Host: "10.0.0.1", Port: 3478} }, false},
		{"telemetry without port", func(c *Config) { c.Telemetry.Host = "x" }, true},
		{"negative interval", func(c *Config) { c.StatsInterval = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, (&Config{}).Validate(), ErrMissingSessionID)
}
