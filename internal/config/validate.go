package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	return nil
}

func (c *Config) validateBackend() error {
	b := c.Backend
	if b.MaxRestartAttempts < 0 {
		return errors.New("backend.max_restart_attempts must be zero or positive")
	}
	if b.RestartBaseDelayMs <= 0 {
		return errors.New("backend.restart_base_delay_ms must be positive")
	}
	if b.RestartMaxDelayMs < b.RestartBaseDelayMs {
		return errors.New("backend.restart_max_delay_ms must be at least restart_base_delay_ms")
	}
	if b.StableAfterSeconds < 0 {
		return errors.New("backend.stable_after_seconds must be zero or positive")
	}
	if b.StderrBufferLines <= 0 {
		return errors.New("backend.stderr_buffer_lines must be positive")
	}
	if b.StderrTailLines <= 0 || b.StderrTailLines > b.StderrBufferLines {
		return fmt.Errorf("backend.stderr_tail_lines must be between 1 and %d", b.StderrBufferLines)
	}
	if b.TerminateGraceMs <= 0 {
		return errors.New("backend.terminate_grace_ms must be positive")
	}
	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	if t.LoadTimeoutSeconds <= 0 {
		return errors.New("transport.load_timeout_seconds must be positive")
	}
	if t.EDLApplyTimeoutMs <= 0 {
		return errors.New("transport.edl_apply_timeout_ms must be positive")
	}
	if t.EDLInlineLimitBytes <= 0 {
		return errors.New("transport.edl_inline_limit_bytes must be positive")
	}
	if t.EDLFileGraceSeconds < 0 {
		return errors.New("transport.edl_file_grace_seconds must be zero or positive")
	}
	if t.SeekEpsilonSeconds <= 0 || t.SeekEpsilonSeconds > 1 {
		return errors.New("transport.seek_epsilon_seconds must be in (0, 1]")
	}
	if t.SeekFreshnessMs <= 0 {
		return errors.New("transport.seek_freshness_ms must be positive")
	}
	if t.SeekMaxReissues < 0 {
		return errors.New("transport.seek_max_reissues must be zero or positive")
	}
	if t.WriteMaxRetries < 0 {
		return errors.New("transport.write_max_retries must be zero or positive")
	}
	if t.WriteRetryBaseMs <= 0 {
		return errors.New("transport.write_retry_base_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
