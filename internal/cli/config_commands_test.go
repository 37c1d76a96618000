package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ftphandler/ftp-handler/internal/config"
)

// TestConfigCommands checks the config command group structure
func TestConfigCommands(t *testing.T) {
	cmd := newConfigCmd()
	want := map[string]bool{"init": false, "show": false, "path": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Short == "" {
			t.Errorf("%s: Short description is empty", sub.Name())
		}
		if sub.RunE == nil {
			t.Errorf("%s: RunE function is nil", sub.Name())
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("config %s is missing", name)
		}
	}

	if newConfigInitCmd().Flags().Lookup("force") == nil {
		t.Error("config init has no --force flag")
	}
}

func TestRunConfigWizard(t *testing.T) {
	input := strings.Join([]string{
		"",                // host is required, asked again
		"ftp.example.com", // host
		"2121",            // port
		"alice",           // user
		"Explicit",        // tls
		"/data/in",        // download dir
		"",                // on conflict: default
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := runConfigWizard(newPrompter(strings.NewReader(input), &out))
	if err != nil {
		t.Fatalf("runConfigWizard: %v", err)
	}

	if cfg.Server.Host != "ftp.example.com" {
		t.Errorf("Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 2121 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Server.User != "alice" {
		t.Errorf("User = %q", cfg.Server.User)
	}
	if cfg.Server.TLS != config.TLSExplicit {
		t.Errorf("TLS = %q", cfg.Server.TLS)
	}
	if cfg.Transfer.DownloadDir != "/data/in" {
		t.Errorf("DownloadDir = %q", cfg.Transfer.DownloadDir)
	}
	if cfg.Transfer.OnConflict != config.ConflictAsk {
		t.Errorf("OnConflict = %q", cfg.Transfer.OnConflict)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("wizard produced an invalid profile: %v", err)
	}
	if !strings.Contains(out.String(), "host is required") {
		t.Error("empty host was not reported")
	}
}

func TestRunConfigWizard_EndOfInput(t *testing.T) {
	_, err := runConfigWizard(newPrompter(strings.NewReader("ftp.example.com\n"), &bytes.Buffer{}))
	if err == nil {
		t.Error("expected an error when input ends early")
	}
}

func TestPrintProfile(t *testing.T) {
	cfg := config.NewProfile()
	cfg.Server.Host = "ftp.example.com"
	cfg.Server.Password = "s3cret"

	var out bytes.Buffer
	printProfile(&out, "/etc/profile.conf", cfg)
	s := out.String()

	if strings.Contains(s, "s3cret") {
		t.Error("password printed in clear")
	}
	for _, want := range []string{"/etc/profile.conf", "ftp.example.com", "anonymous", "********"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "not usable") {
		t.Errorf("valid profile reported unusable:\n%s", s)
	}

	cfg.Server.Host = ""
	out.Reset()
	printProfile(&out, "/etc/profile.conf", cfg)
	if !strings.Contains(out.String(), "not usable") {
		t.Error("profile without host not reported")
	}
}
