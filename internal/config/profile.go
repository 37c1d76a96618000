// Package config provides configuration management for ftp-handler.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/ftphandler/ftp-handler/internal/constants"
)

// Profile is the persisted connection profile.
//
// Config file location:
//   - Windows: %APPDATA%\ftp-handler\profile.conf
//   - Unix: ~/.config/ftp-handler/profile.conf
//
// INI format:
//
//	[server]
//	host = ftp.example.com
//	port = 21
//	user = alice
//	password =
//	tls = explicit
//	tls_skip_verify = false
//
//	[session]
//	probe_interval_seconds = 30
//	timeout_seconds = 30
//
//	[transfer]
//	download_dir = /home/alice/Downloads
//	on_conflict = ask
//
//	[logging]
//	level = info
type Profile struct {
	Server   ServerConfig
	Session  SessionConfig
	Transfer TransferConfig
	Logging  LoggingConfig
}

// ServerConfig identifies the FTP server and the account used on it.
type ServerConfig struct {
	Host string
	Port int
	User string

	// Password is optional; the CLI prompts when it is empty.
	Password string

	// TLS is one of TLSNone, TLSExplicit, TLSImplicit.
	TLS string

	// TLSSkipVerify disables certificate verification for self-signed servers.
	TLSSkipVerify bool
}

// SessionConfig tunes the live session.
type SessionConfig struct {
	// ProbeIntervalSeconds is the liveness probe period. Minimum 1, default 30.
	ProbeIntervalSeconds int

	// TimeoutSeconds bounds dialing and each control command. Minimum 1, default 30.
	TimeoutSeconds int
}

// TransferConfig holds transfer defaults.
type TransferConfig struct {
	// DownloadDir is where downloads land when no explicit destination is given.
	DownloadDir string

	// OnConflict is the default policy when a download destination exists.
	OnConflict string
}

// LoggingConfig holds the log level name.
type LoggingConfig struct {
	Level string
}

// TLS modes
const (
	TLSNone     = "none"
	TLSExplicit = "explicit"
	TLSImplicit = "implicit"
)

// Download conflict policies
const (
	ConflictAsk       = "ask"
	ConflictOverwrite = "overwrite"
	ConflictRename    = "rename"
	ConflictCancel    = "cancel"
)

// Profile validation errors
var (
	ErrMissingHost           = errors.New("server host is required")
	ErrInvalidPort           = errors.New("server port must be between 1 and 65535")
	ErrInvalidTLSMode        = errors.New("tls must be one of none, explicit, implicit")
	ErrInvalidProbeInterval  = errors.New("probe_interval_seconds must be at least 1")
	ErrInvalidTimeout        = errors.New("timeout_seconds must be at least 1")
	ErrMissingDownloadDir    = errors.New("download_dir is required")
	ErrInvalidConflictPolicy = errors.New("on_conflict must be one of ask, overwrite, rename, cancel")
	ErrInvalidLogLevel       = errors.New("level must be one of debug, info, warn, error")
)

// DefaultProfilePath returns the default path for the profile.conf file.
func DefaultProfilePath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.conf"), nil
}

func configDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "ftp-handler"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ftp-handler"), nil
}

// DefaultDownloadDir returns the platform-specific default download directory.
func DefaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ftp-handler-downloads")
	}
	return filepath.Join(home, "Downloads")
}

// NewProfile creates a Profile with default values.
func NewProfile() *Profile {
	return &Profile{
		Server: ServerConfig{
			Port: constants.DefaultPort,
			TLS:  TLSNone,
		},
		Session: SessionConfig{
			ProbeIntervalSeconds: int(constants.ProbeInterval / time.Second),
			TimeoutSeconds:       int(constants.DefaultTimeout / time.Second),
		},
		Transfer: TransferConfig{
			DownloadDir: DefaultDownloadDir(),
			OnConflict:  ConflictAsk,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadProfile loads the profile from path, or from the default path when path
// is empty. A missing file yields defaults and no error.
func LoadProfile(path string) (*Profile, error) {
	cfg := NewProfile()

	if path == "" {
		var err error
		path, err = DefaultProfilePath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile.conf: %w", err)
	}

	server := iniFile.Section("server")
	cfg.Server.Host = server.Key("host").String()
	cfg.Server.Port = server.Key("port").MustInt(constants.DefaultPort)
	cfg.Server.User = server.Key("user").String()
	cfg.Server.Password = server.Key("password").String()
	cfg.Server.TLS = strings.ToLower(server.Key("tls").MustString(TLSNone))
	cfg.Server.TLSSkipVerify = server.Key("tls_skip_verify").MustBool(false)

	session := iniFile.Section("session")
	cfg.Session.ProbeIntervalSeconds = session.Key("probe_interval_seconds").MustInt(cfg.Session.ProbeIntervalSeconds)
	cfg.Session.TimeoutSeconds = session.Key("timeout_seconds").MustInt(cfg.Session.TimeoutSeconds)

	transfer := iniFile.Section("transfer")
	cfg.Transfer.DownloadDir = transfer.Key("download_dir").MustString(cfg.Transfer.DownloadDir)
	cfg.Transfer.OnConflict = strings.ToLower(transfer.Key("on_conflict").MustString(ConflictAsk))

	cfg.Logging.Level = iniFile.Section("logging").Key("level").MustString("info")

	return cfg, nil
}

// SaveProfile writes cfg to path, or to the default path when path is empty.
// The file is written to a temporary sibling and renamed into place.
func SaveProfile(cfg *Profile, path string) error {
	if path == "" {
		var err error
		path, err = DefaultProfilePath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	server, err := iniFile.NewSection("server")
	if err != nil {
		return fmt.Errorf("failed to create server section: %w", err)
	}
	server.Key("host").SetValue(cfg.Server.Host)
	server.Key("port").SetValue(strconv.Itoa(cfg.Server.Port))
	server.Key("user").SetValue(cfg.Server.User)
	server.Key("password").SetValue(cfg.Server.Password)
	server.Key("tls").SetValue(cfg.Server.TLS)
	server.Key("tls_skip_verify").SetValue(strconv.FormatBool(cfg.Server.TLSSkipVerify))

	session, err := iniFile.NewSection("session")
	if err != nil {
		return fmt.Errorf("failed to create session section: %w", err)
	}
	session.Key("probe_interval_seconds").SetValue(strconv.Itoa(cfg.Session.ProbeIntervalSeconds))
	session.Key("timeout_seconds").SetValue(strconv.Itoa(cfg.Session.TimeoutSeconds))

	transfer, err := iniFile.NewSection("transfer")
	if err != nil {
		return fmt.Errorf("failed to create transfer section: %w", err)
	}
	transfer.Key("download_dir").SetValue(cfg.Transfer.DownloadDir)
	transfer.Key("on_conflict").SetValue(cfg.Transfer.OnConflict)

	logging, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	logging.Key("level").SetValue(cfg.Logging.Level)

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// The file may hold a password
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the profile before a connection is attempted.
func (cfg *Profile) Validate() error {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		return ErrMissingHost
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return ErrInvalidPort
	}
	switch cfg.Server.TLS {
	case TLSNone, TLSExplicit, TLSImplicit:
	default:
		return ErrInvalidTLSMode
	}
	if cfg.Session.ProbeIntervalSeconds < 1 {
		return ErrInvalidProbeInterval
	}
	if cfg.Session.TimeoutSeconds < 1 {
		return ErrInvalidTimeout
	}
	if strings.TrimSpace(cfg.Transfer.DownloadDir) == "" {
		return ErrMissingDownloadDir
	}
	switch cfg.Transfer.OnConflict {
	case ConflictAsk, ConflictOverwrite, ConflictRename, ConflictCancel:
	default:
		return ErrInvalidConflictPolicy
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// Address returns host:port for dialing.
func (cfg *Profile) Address() string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// ProbeInterval returns the liveness probe period.
func (cfg *Profile) ProbeInterval() time.Duration {
	return time.Duration(cfg.Session.ProbeIntervalSeconds) * time.Second
}

// Timeout returns the dial and command timeout.
func (cfg *Profile) Timeout() time.Duration {
	return time.Duration(cfg.Session.TimeoutSeconds) * time.Second
}
