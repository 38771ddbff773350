package deps

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"cutline/internal/config"
)

// Requirement defines an external dependency cutline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists what the play command needs for cfg.
func Requirements(cfg *config.Config) []Requirement {
	command, _, err := cfg.BackendCommand()
	if err != nil {
		command = ""
	}
	desc := "playback backend"
	if cfg.Backend.Command == "" {
		desc = "built-in reference backend"
	}
	return []Requirement{{Name: "Backend", Command: command, Description: desc}}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := lookup(cmd)
		if err != nil {
			status.Detail = err.Error()
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// lookup resolves cmd on PATH, or checks an explicit path is executable.
func lookup(cmd string) (string, error) {
	if !strings.ContainsRune(cmd, filepath.Separator) {
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			return "", fmt.Errorf("binary %q not found", cmd)
		}
		return resolved, nil
	}
	info, err := os.Stat(cmd)
	if err != nil {
		return "", fmt.Errorf("binary %q not found", cmd)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory", cmd)
	}
	if err := unix.Access(cmd, unix.X_OK); err != nil {
		return "", fmt.Errorf("binary %q is not executable", cmd)
	}
	return cmd, nil
}

// CheckDirectories reports whether each configured directory exists and is
// writable by this process.
func CheckDirectories(cfg *config.Config) []Status {
	dirs := []struct {
		name, path, desc string
	}{
		{"EDL cache", cfg.Paths.CacheDir, "spooled timeline payloads"},
		{"State", cfg.Paths.StateDir, "incident journal"},
	}
	results := make([]Status, 0, len(dirs))
	for _, d := range dirs {
		status := Status{Name: d.name, Command: d.path, Description: d.desc}
		switch err := unix.Access(d.path, unix.W_OK|unix.X_OK); {
		case err == nil:
			status.Available = true
		case errors.Is(err, unix.ENOENT):
			status.Detail = "does not exist"
		default:
			status.Detail = fmt.Sprintf("not writable: %v", err)
		}
		results = append(results, status)
	}
	return results
}
