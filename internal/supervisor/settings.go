package supervisor

import (
	"cutline/internal/config"
)

// ConfigFrom maps the [backend] section onto supervision settings. Zero or
// negative values keep the defaults.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	b := cfg.Backend
	out.AutoRestart = b.AutoRestart
	if b.MaxRestartAttempts > 0 {
		out.MaxRestartAttempts = b.MaxRestartAttempts
	}
	if d := b.RestartBaseDelay(); d > 0 {
		out.RestartBaseDelay = d
	}
	if d := b.RestartMaxDelay(); d > 0 {
		out.RestartMaxDelay = d
	}
	if b.StableAfterSeconds >= 0 {
		out.StableAfter = b.StableAfter()
	}
	if b.StderrBufferLines > 0 {
		out.StderrBufferLines = b.StderrBufferLines
	}
	if b.StderrTailLines > 0 {
		out.StderrTailLines = b.StderrTailLines
	}
	if d := b.TerminateGrace(); d > 0 {
		out.TerminateGrace = d
	}
	return out
}

// LauncherFrom builds the exec launcher for the configured backend command.
func LauncherFrom(cfg *config.Config) (ExecLauncher, error) {
	command, args, err := cfg.BackendCommand()
	if err != nil {
		return ExecLauncher{}, err
	}
	return ExecLauncher{Command: command, Args: args}, nil
}
