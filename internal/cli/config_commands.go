// Package cli provides configuration management commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/constants"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the connection profile",
		Long: `Profile management commands for ftp-handler.

Commands:
  init  - Interactive profile setup
  show  - Display the current profile
  path  - Show the profile file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the profile interactively",
		Long: `Interactive profile setup for ftp-handler.

The profile will be saved to ~/.config/ftp-handler/profile.conf
(or the path given with --config).

Use --force to overwrite an existing profile.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := GetLogger()

			path, err := profilePath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Profile already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			cfg, err := runConfigWizard(newPrompter(os.Stdin, cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid profile: %w", err)
			}
			if err := config.SaveProfile(cfg, path); err != nil {
				return err
			}
			logger.Info().Str("path", path).Msg("profile saved")
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Profile saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing profile")
	return cmd
}

// runConfigWizard asks for each setting, offering the default in brackets.
// The password is not asked for; it is prompted at connect time.
func runConfigWizard(p *prompter) (*config.Profile, error) {
	cfg := config.NewProfile()

	fmt.Fprintln(p.out, "ftp-handler Profile Setup")
	fmt.Fprintln(p.out, "=========================")
	fmt.Fprintln(p.out)

	for cfg.Server.Host == "" {
		host, err := ask(p, "FTP host (required)", "")
		if err != nil {
			return nil, err
		}
		cfg.Server.Host = host
		if host == "" {
			fmt.Fprintln(p.out, "  Error: host is required")
		}
	}

	port, err := ask(p, "Port", strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return nil, err
	}
	if v, err := strconv.Atoi(port); err == nil && v > 0 {
		cfg.Server.Port = v
	}

	if cfg.Server.User, err = ask(p, "User (empty for anonymous)", ""); err != nil {
		return nil, err
	}

	tlsMode, err := ask(p, "TLS mode (none, explicit, implicit)", cfg.Server.TLS)
	if err != nil {
		return nil, err
	}
	cfg.Server.TLS = strings.ToLower(tlsMode)

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Transfer Settings (press Enter for defaults)")
	fmt.Fprintln(p.out, "--------------------------------------------")

	if cfg.Transfer.DownloadDir, err = ask(p, "Download directory", cfg.Transfer.DownloadDir); err != nil {
		return nil, err
	}
	onConflict, err := ask(p, "When a download exists (ask, overwrite, rename, cancel)", cfg.Transfer.OnConflict)
	if err != nil {
		return nil, err
	}
	cfg.Transfer.OnConflict = strings.ToLower(onConflict)

	return cfg, nil
}

// ask prints "label [def]: " and returns the answer or def when empty.
func ask(p *prompter, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	if input == "" {
		return def, nil
	}
	return input, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the current profile",
		Long:  `Display the profile after applying command-line overrides. The password is masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProfile()
			if err != nil {
				return err
			}
			path, _ := profilePath()
			printProfile(cmd.OutOrStdout(), path, cfg)
			return nil
		},
	}
}

func printProfile(w io.Writer, path string, cfg *config.Profile) {
	fmt.Fprintf(w, "Profile: %s\n\n", path)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  Host:            %s\n", valueOr(cfg.Server.Host, "(not set)"))
	fmt.Fprintf(w, "  Port:            %d\n", cfg.Server.Port)
	fmt.Fprintf(w, "  User:            %s\n", valueOr(cfg.Server.User, "anonymous"))
	fmt.Fprintf(w, "  Password:        %s\n", maskSecret(cfg.Server.Password))
	fmt.Fprintf(w, "  TLS:             %s\n", cfg.Server.TLS)
	fmt.Fprintf(w, "  Skip TLS verify: %t\n", cfg.Server.TLSSkipVerify)
	fmt.Fprintln(w, "Session:")
	fmt.Fprintf(w, "  Probe interval:  %s\n", cfg.ProbeInterval())
	fmt.Fprintf(w, "  Timeout:         %s\n", cfg.Timeout())
	fmt.Fprintln(w, "Transfer:")
	fmt.Fprintf(w, "  Download dir:    %s\n", cfg.Transfer.DownloadDir)
	fmt.Fprintf(w, "  On conflict:     %s\n", cfg.Transfer.OnConflict)
	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  Level:           %s\n", cfg.Logging.Level)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "\n⚠️  Profile is not usable yet: %v\n", err)
	}
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func maskSecret(s string) string {
	if s == "" {
		return "(prompted)"
	}
	return strings.Repeat("*", 8)
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the profile file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := profilePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			fmt.Fprintf(cmd.OutOrStdout(), "Logs: %s (written with --log-file)\n", filepath.Join(config.LogDirectory(), constants.LogFileName))
			return nil
		},
	}
}

func profilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultProfilePath()
}
