package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_sock/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
host: 0.0.0.0
port: 9100
max_connections: 32
poll_interval: 5ms
metrics:
  addr: 127.0.0.1:9101
`)
	t.Setenv("EGGIE_SOCK_PORT", "9200")
	t.Setenv("EGGIE_SOCK_METRICS_PUSH_URL", "http://127.0.0.1:9091")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, 32, cfg.MaxConnections)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "127.0.0.1:9101", cfg.Metrics.Addr)
	assert.Equal(t, "http://127.0.0.1:9091", cfg.Metrics.PushURL)
	// untouched keys keep their defaults
	assert.Equal(t, 16, cfg.Backlog)
	assert.Equal(t, 1024, cfg.FrameLimit)
	assert.True(t, cfg.NoDelay)
	assert.Equal(t, 5*time.Second, cfg.Metrics.PushInterval)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, int64(errs.ConfigErrCode), errs.GetCode(err))

	_, err = LoadConfig(writeConfig(t, "port: abc\n"))
	assert.Equal(t, int64(errs.ConfigErrCode), errs.GetCode(err))

	_, err = LoadConfig(writeConfig(t, "port: 70000\n"))
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(cfg *Config)
		ok     bool
	}{
		{"default", func(cfg *Config) {}, true},
		{"port zero", func(cfg *Config) { cfg.Port = 0 }, false},
		{"backlog", func(cfg *Config) { cfg.Backlog = 0 }, false},
		{"too many connections", func(cfg *Config) { cfg.MaxConnections = 4001 }, false},
		{"send buffer", func(cfg *Config) { cfg.SendBuffer = -1 }, false},
		{"frame limit", func(cfg *Config) { cfg.FrameLimit = 0 }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := newTestConfig()
			c.modify(cfg)
			err := cfg.Validate()
			if c.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))
		})
	}
}
