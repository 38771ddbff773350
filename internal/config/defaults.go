package config

const (
	defaultCacheDir = "~/.cache/cutline/edl"
	defaultStateDir = "~/.local/share/cutline"

	defaultBackendArg          = "backend"
	defaultAutoRestart         = true
	defaultMaxRestartAttempts  = 5
	defaultRestartBaseDelayMs  = 1000
	defaultRestartMaxDelayMs   = 8000
	defaultStableAfterSeconds  = 10
	defaultStderrBufferLines   = 200
	defaultStderrTailLines     = 20
	defaultTerminateGraceMs    = 2000
	defaultLoadTimeoutSeconds  = 10
	defaultEDLApplyTimeoutMs   = 2000
	defaultEDLInlineLimitBytes = 8192
	defaultEDLFileGraceSeconds = 30
	defaultSeekEpsilonSeconds  = 0.08
	defaultSeekFreshnessMs     = 600
	defaultSeekMaxReissues     = 2
	defaultWriteMaxRetries     = 3
	defaultWriteRetryBaseMs    = 50

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	journalFileName = "incidents.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			StateDir: defaultStateDir,
		},
		Backend: Backend{
			Args:               []string{defaultBackendArg},
			AutoRestart:        defaultAutoRestart,
			MaxRestartAttempts: defaultMaxRestartAttempts,
			RestartBaseDelayMs: defaultRestartBaseDelayMs,
			RestartMaxDelayMs:  defaultRestartMaxDelayMs,
			StableAfterSeconds: defaultStableAfterSeconds,
			StderrBufferLines:  defaultStderrBufferLines,
			StderrTailLines:    defaultStderrTailLines,
			TerminateGraceMs:   defaultTerminateGraceMs,
		},
		Transport: Transport{
			LoadTimeoutSeconds:  defaultLoadTimeoutSeconds,
			EDLApplyTimeoutMs:   defaultEDLApplyTimeoutMs,
			EDLInlineLimitBytes: defaultEDLInlineLimitBytes,
			EDLFileGraceSeconds: defaultEDLFileGraceSeconds,
			SeekEpsilonSeconds:  defaultSeekEpsilonSeconds,
			SeekFreshnessMs:     defaultSeekFreshnessMs,
			SeekMaxReissues:     defaultSeekMaxReissues,
			WriteMaxRetries:     defaultWriteMaxRetries,
			WriteRetryBaseMs:    defaultWriteRetryBaseMs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
