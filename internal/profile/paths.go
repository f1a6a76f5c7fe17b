package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, mainly for tests and containers.
const HomeEnv = "WPPCAL_HOME"

// BaseDir returns $WPPCAL_HOME, or ~/.wppcal.
func BaseDir() string {
	if d := os.Getenv(HomeEnv); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppcal")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the control socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "daemon.sock")
}

// DBPath returns the SQLite database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "wppcal.db")
}

// ConfigPath returns the per-profile config.toml.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// TokenPath returns the file holding the operator token issued by the daemon.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "control.token")
}

// CalendarCredentialsPath returns the default OAuth client secret location.
func CalendarCredentialsPath(name string) string {
	return filepath.Join(Dir(name), "calendar-credentials.json")
}

// CalendarTokenPath returns the default stored OAuth token location.
func CalendarTokenPath(name string) string {
	return filepath.Join(Dir(name), "calendar-token.json")
}

// ReportDir returns where weekly summaries are written.
func ReportDir(name string) string {
	return filepath.Join(Dir(name), "reports")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wppcald.log")
}

// GlobalConfigPath returns the file holding default_profile.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), ReportDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
