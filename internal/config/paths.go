package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory for ftp-handler log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\ftp-handler\logs
//   - Unix: $XDG_CONFIG_HOME/ftp-handler/logs (usually ~/.config/ftp-handler/logs)
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "ftp-handler-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "ftp-handler", "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "ftp-handler-logs")
		}
		return filepath.Join(homeDir, ".config", "ftp-handler", "logs")
	}
	return filepath.Join(configDir, "ftp-handler", "logs")
}
