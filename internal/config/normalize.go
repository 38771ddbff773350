package config

import (
	"fmt"
	"os"
	"strings"
)

// backendEnv overrides an empty backend.command.
const backendEnv = "CUTLINE_BACKEND"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackend(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() error {
	c.Backend.Command = strings.TrimSpace(c.Backend.Command)
	if c.Backend.Command == "" {
		if value, ok := os.LookupEnv(backendEnv); ok {
			c.Backend.Command = strings.TrimSpace(value)
			if c.Backend.Command != "" {
				// An external backend does not understand our own subcommand.
				c.Backend.Args = nil
			}
		}
	}
	if strings.HasPrefix(c.Backend.Command, "~") {
		expanded, err := expandPath(c.Backend.Command)
		if err != nil {
			return fmt.Errorf("backend.command: %w", err)
		}
		c.Backend.Command = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
