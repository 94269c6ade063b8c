// Package config holds the server configuration, loaded from an optional YAML file and
// overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/guseggert/execserver/execution"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	// AllowedOrigins are host patterns accepted in the WebSocket Origin header, besides the server's own host.
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// MaxMessageBytes limits the size of one inbound frame, and so of one submitted source.
	MaxMessageBytes int64 `yaml:"maxMessageBytes"`

	Interpreter     string   `yaml:"interpreter"`
	InterpreterArgs []string `yaml:"interpreterArgs"`
	FileSuffix      string   `yaml:"fileSuffix"`
	TempDir         string   `yaml:"tempDir"`
	// Env is added to the server's environment for every execution. The default turns off
	// Python's stdout buffering, without it nothing is streamed until the process exits.
	Env []string `yaml:"env"`

	GracePeriod time.Duration `yaml:"gracePeriod"`
}

func Default() Config {
	return Config{
		ListenAddr:      "0.0.0.0:8000",
		AllowedOrigins:  []string{"localhost:3000"},
		MaxMessageBytes: 1 << 20,
		Interpreter:     execution.DefaultInterpreter,
		FileSuffix:      execution.DefaultFileSuffix,
		GracePeriod:     execution.DefaultGracePeriod,
		Env:             []string{execution.UnbufferedEnv},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Interpreter == "" {
		errs = append(errs, errors.New("interpreter is required"))
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grace period must be positive, got %s", c.GracePeriod))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes))
	}
	if c.TempDir != "" {
		fi, err := os.Stat(c.TempDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("temp dir: %w", err))
		} else if !fi.IsDir() {
			errs = append(errs, fmt.Errorf("temp dir %s is not a directory", c.TempDir))
		}
	}
	return errors.Join(errs...)
}
