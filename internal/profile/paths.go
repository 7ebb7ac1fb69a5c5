package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns the profile root, ~/.swap by default. SWAP_HOME overrides
// it, which the tests rely on.
func BaseDir() string {
	if dir := os.Getenv("SWAP_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".swap")
}

// DBPath returns the embedded store path.
func DBPath(base string) string {
	return filepath.Join(base, "swap.db")
}

// LockPath returns the single-writer lock file path.
func LockPath(base string) string {
	return filepath.Join(base, "LOCK")
}

// LogDir returns the log directory.
func LogDir(base string) string {
	return filepath.Join(base, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(base string) string {
	return filepath.Join(LogDir(base), "swapd.log")
}

// ConfigPath returns the config file path.
func ConfigPath(base string) string {
	return filepath.Join(base, "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(base string) error {
	for _, d := range []string{base, LogDir(base)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
