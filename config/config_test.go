package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "python3", cfg.Interpreter)
	assert.Equal(t, ".py", cfg.FileSuffix)
	assert.Equal(t, 3*time.Second, cfg.GracePeriod)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1"}, cfg.Env)
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
listenAddr: 127.0.0.1:9000
interpreter: python3.12
interpreterArgs: ["-u"]
gracePeriod: 500ms
allowedOrigins:
  - example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "python3.12", cfg.Interpreter)
	assert.Equal(t, []string{"-u"}, cfg.InterpreterArgs)
	assert.Equal(t, 500*time.Millisecond, cfg.GracePeriod)
	assert.Equal(t, []string{"example.com"}, cfg.AllowedOrigins)
	// untouched fields keep their defaults
	assert.Equal(t, ".py", cfg.FileSuffix)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageBytes)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1"}, cfg.Env)

	cfg, err = Load(writeFile(t, "env: [PYTHONUNBUFFERED=0]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=0"}, cfg.Env)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeFile(t, "gracePeriod: [not a duration"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *Config)
		expErr string
	}{
		{
			name:   "missing interpreter",
			modify: func(c *Config) { c.Interpreter = "" },
			expErr: "interpreter is required",
		},
		{
			name:   "missing listen addr",
			modify: func(c *Config) { c.ListenAddr = "" },
			expErr: "listen address is required",
		},
		{
			name:   "zero grace period",
			modify: func(c *Config) { c.GracePeriod = 0 },
			expErr: "grace period must be positive",
		},
		{
			name:   "negative message limit",
			modify: func(c *Config) { c.MaxMessageBytes = -1 },
			expErr: "max message bytes must be positive",
		},
		{
			name:   "missing temp dir",
			modify: func(c *Config) { c.TempDir = "/nonexistent/dir" },
			expErr: "temp dir",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.modify(&cfg)
			assert.ErrorContains(t, cfg.Validate(), c.expErr)
		})
	}
}
