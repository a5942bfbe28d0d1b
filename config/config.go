package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/mame82/cfload/bllink"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the cfload settings. Command line flags take precedence.
type Config struct {
	Address         string        `yaml:"address"`
	LogLevel        string        `yaml:"log_level"`
	Verify          bool          `yaml:"verify"`
	ResetAfterFlash bool          `yaml:"reset_after_flash"`
	CommitTimeout   time.Duration `yaml:"commit_timeout"`
}

func Default() *Config {
	return &Config{
		Address:       bllink.DefaultAddress.String(),
		LogLevel:      "info",
		CommitTimeout: 10 * time.Second,
	}
}

// DefaultPath returns the default config file path: ~/.cfload/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".cfload", "config.yaml")
	}
	return filepath.Join(home, ".cfload", "config.yaml")
}

// Load reads the configuration from the given YAML file path. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.RadioAddress(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("commit_timeout must be positive, got %s", c.CommitTimeout)
	}
	return nil
}

func (c *Config) RadioAddress() (bllink.Address, error) {
	return bllink.ParseAddress(c.Address)
}

// Level is the logrus level of LogLevel, Info if it does not parse.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
