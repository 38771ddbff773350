package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// CacheDir holds EDL payload files handed to the backend.
	CacheDir string `toml:"cache_dir"`
	// StateDir holds the incident journal.
	StateDir string `toml:"state_dir"`
}

// Backend configures the playback process and its supervision.
type Backend struct {
	// Command is the backend executable. Empty means this binary, run with
	// Args (the built-in reference backend).
	Command            string   `toml:"command"`
	Args               []string `toml:"args"`
	AutoRestart        bool     `toml:"auto_restart"`
	MaxRestartAttempts int      `toml:"max_restart_attempts"`
	RestartBaseDelayMs int      `toml:"restart_base_delay_ms"`
	RestartMaxDelayMs  int      `toml:"restart_max_delay_ms"`
	StableAfterSeconds int      `toml:"stable_after_seconds"`
	StderrBufferLines  int      `toml:"stderr_buffer_lines"`
	StderrTailLines    int      `toml:"stderr_tail_lines"`
	TerminateGraceMs   int      `toml:"terminate_grace_ms"`
}

// Transport configures command delivery and timeline synchronization.
type Transport struct {
	LoadTimeoutSeconds  int     `toml:"load_timeout_seconds"`
	EDLApplyTimeoutMs   int     `toml:"edl_apply_timeout_ms"`
	EDLInlineLimitBytes int     `toml:"edl_inline_limit_bytes"`
	EDLFileGraceSeconds int     `toml:"edl_file_grace_seconds"`
	SeekEpsilonSeconds  float64 `toml:"seek_epsilon_seconds"`
	SeekFreshnessMs     int     `toml:"seek_freshness_ms"`
	SeekMaxReissues     int     `toml:"seek_max_reissues"`
	WriteMaxRetries     int     `toml:"write_max_retries"`
	WriteRetryBaseMs    int     `toml:"write_retry_base_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics configures the optional Prometheus endpoint.
type Metrics struct {
	// Listen is a host:port for /metrics; empty disables the endpoint.
	Listen string `toml:"listen"`
}

// Config encapsulates all configuration values for cutline.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Backend   Backend   `toml:"backend"`
	Transport Transport `toml:"transport"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cutline/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cutline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the cache and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath is the incident journal database file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, journalFileName)
}

// BackendCommand returns the executable and arguments used to start the
// backend. When no command is configured the running binary is reused.
func (c *Config) BackendCommand() (string, []string, error) {
	args := append([]string(nil), c.Backend.Args...)
	if c.Backend.Command != "" {
		return c.Backend.Command, args, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve own executable: %w", err)
	}
	return self, args, nil
}

func (b Backend) RestartBaseDelay() time.Duration { return ms(b.RestartBaseDelayMs) }

func (b Backend) RestartMaxDelay() time.Duration { return ms(b.RestartMaxDelayMs) }

func (b Backend) StableAfter() time.Duration {
	return time.Duration(b.StableAfterSeconds) * time.Second
}

func (b Backend) TerminateGrace() time.Duration { return ms(b.TerminateGraceMs) }

func (t Transport) LoadTimeout() time.Duration {
	return time.Duration(t.LoadTimeoutSeconds) * time.Second
}

func (t Transport) EDLApplyTimeout() time.Duration { return ms(t.EDLApplyTimeoutMs) }

func (t Transport) EDLFileGrace() time.Duration {
	return time.Duration(t.EDLFileGraceSeconds) * time.Second
}

func (t Transport) SeekFreshness() time.Duration { return ms(t.SeekFreshnessMs) }

func (t Transport) WriteRetryBase() time.Duration { return ms(t.WriteRetryBaseMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
