package gserve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsMatchDefaultConfig(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("GSERVE_HOST", "127.0.0.1")
	t.Setenv("GSERVE_PORT", "9000")
	t.Setenv("GSERVE_NATIVE", "false")
	t.Setenv("GSERVE_WORKER_THREADS", "3")
	t.Setenv("GSERVE_WORKER_IO_RATIO", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.False(t, cfg.Native)
	assert.Equal(t, 3, cfg.WorkerThreads)
	assert.Equal(t, 50, cfg.WorkerIORatio)
	assert.Equal(t, "boss", cfg.AcceptorName)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("GSERVE_PORT", "not-a-port")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("GSERVE_PORT", "8080")
	t.Setenv("GSERVE_ACCEPTOR_IO_RATIO", "0")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"ephemeral port", func(c *Config) { c.Port = 0 }, true},
		{"negative port", func(c *Config) { c.Port = -1 }, false},
		{"port too large", func(c *Config) { c.Port = 65536 }, false},
		{"worker ratio 101", func(c *Config) { c.WorkerIORatio = 101 }, false},
		{"negative threads", func(c *Config) { c.WorkerThreads = -1 }, false},
		{"empty worker name", func(c *Config) { c.WorkerName = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestConfig_AddressIPv6(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "::1"
	cfg.Port = 80
	assert.Equal(t, "[::1]:80", cfg.Address())
}
