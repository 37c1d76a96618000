package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestNewProfile(t *testing.T) {
	cfg := NewProfile()

	if cfg.Server.Port != 21 {
		t.Errorf("Expected Port=21, got %d", cfg.Server.Port)
	}
	if cfg.Server.TLS != TLSNone {
		t.Errorf("Expected TLS=none, got %s", cfg.Server.TLS)
	}
	if cfg.ProbeInterval() != 30*time.Second {
		t.Errorf("Expected 30s probe interval, got %v", cfg.ProbeInterval())
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.Timeout())
	}
	if cfg.Transfer.OnConflict != ConflictAsk {
		t.Errorf("Expected OnConflict=ask, got %s", cfg.Transfer.OnConflict)
	}
	if cfg.Transfer.DownloadDir == "" {
		t.Error("Expected a default download dir")
	}
}

func TestProfileLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "profile.conf")

	cfg := NewProfile()
	cfg.Server.Host = "ftp.example.com"
	cfg.Server.Port = 2121
	cfg.Server.User = "alice"
	cfg.Server.Password = "s3cret"
	cfg.Server.TLS = TLSExplicit
	cfg.Server.TLSSkipVerify = true
	cfg.Session.ProbeIntervalSeconds = 5
	cfg.Session.TimeoutSeconds = 12
	cfg.Transfer.DownloadDir = "/data/in"
	cfg.Transfer.OnConflict = ConflictRename
	cfg.Logging.Level = "debug"

	if err := SaveProfile(cfg, configPath); err != nil {
		t.Fatalf("Failed to save profile: %v", err)
	}

	if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file was left behind")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(configPath)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("Expected 0600 permissions, got %o", perm)
		}
	}

	loaded, err := LoadProfile(configPath)
	if err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", *loaded, *cfg)
	}
	if loaded.Address() != "ftp.example.com:2121" {
		t.Errorf("Address() = %s", loaded.Address())
	}
}

func TestLoadProfile_MissingFile(t *testing.T) {
	cfg, err := LoadProfile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("expected defaults, got error %v", err)
	}
	if cfg.Server.Port != 21 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadProfile_PartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "profile.conf")
	content := "[server]\nhost = 10.0.0.5\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProfile(configPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "10.0.0.5" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 21 {
		t.Errorf("port = %d, want default 21", cfg.Server.Port)
	}
	if cfg.Session.ProbeIntervalSeconds != 30 {
		t.Errorf("probe interval = %d, want default 30", cfg.Session.ProbeIntervalSeconds)
	}
}

func TestProfileValidate(t *testing.T) {
	valid := func() *Profile {
		cfg := NewProfile()
		cfg.Server.Host = "ftp.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr error
	}{
		{"valid", func(*Profile) {}, nil},
		{"missing host", func(c *Profile) { c.Server.Host = "  " }, ErrMissingHost},
		{"port zero", func(c *Profile) { c.Server.Port = 0 }, ErrInvalidPort},
		{"port too big", func(c *Profile) { c.Server.Port = 70000 }, ErrInvalidPort},
		{"bad tls", func(c *Profile) { c.Server.TLS = "starttls" }, ErrInvalidTLSMode},
		{"probe interval", func(c *Profile) { c.Session.ProbeIntervalSeconds = 0 }, ErrInvalidProbeInterval},
		{"timeout", func(c *Profile) { c.Session.TimeoutSeconds = -1 }, ErrInvalidTimeout},
		{"download dir", func(c *Profile) { c.Transfer.DownloadDir = "" }, ErrMissingDownloadDir},
		{"conflict", func(c *Profile) { c.Transfer.OnConflict = "merge" }, ErrInvalidConflictPolicy},
		{"log level", func(c *Profile) { c.Logging.Level = "trace" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogDirectory(t *testing.T) {
	dir := LogDirectory()
	if dir == "" {
		t.Fatal("LogDirectory returned empty path")
	}
	if filepath.Base(dir) != "logs" {
		t.Errorf("expected logs leaf, got %s", dir)
	}
}
