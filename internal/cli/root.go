// Package cli provides the command-line interface for ftp-handler.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ftphandler/ftp-handler/internal/config"
	"github.com/ftphandler/ftp-handler/internal/constants"
	"github.com/ftphandler/ftp-handler/internal/logging"
	"github.com/ftphandler/ftp-handler/internal/version"
)

var (
	// Global flags
	cfgFile     string
	flagHost    string
	flagPort    int
	flagUser    string
	flagPass    string
	flagTLS     string
	verbose     bool
	logToFile   bool
	metricsAddr string

	// Global logger
	logger  *logging.Logger
	logFile io.WriteCloser

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ftp-handler",
		Short: "ftp-handler - resumable, session-aware FTP client",
		Long: `ftp-handler ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse an FTP server, manage remote directories, and run one upload and one
download at a time with pause and resume.

Connection settings come from the profile (see 'ftp-handler config init') and
can be overridden per invocation with --host, --port, --user, --password and --tls.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newCLILogger(logToFile)
			if verbose {
				logging.SetGlobalLevel(-1) // Debug level (zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Profile path (default ~/.config/ftp-handler/profile.conf)")
	rootCmd.PersistentFlags().StringVarP(&flagHost, "host", "H", "", "FTP server host (overrides profile)")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "P", 0, "FTP server port (overrides profile)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "Login user (overrides profile)")
	rootCmd.PersistentFlags().StringVar(&flagPass, "password", "", "Login password (prompted when empty)")
	rootCmd.PersistentFlags().StringVar(&flagTLS, "tls", "", "TLS mode: none, explicit or implicit (overrides profile)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also write logs to "+constants.LogFileName+" in the log directory (see 'config path')")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	completionCmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Enable tab-completion for ftp-handler commands",
		Long: `Generate shell completion scripts for ftp-handler.

QUICK START:

  zsh:
    mkdir -p ~/.zsh/completions
    ftp-handler completion zsh > ~/.zsh/completions/_ftp-handler
    # Then add to ~/.zshrc: fpath=(~/.zsh/completions $fpath)

  bash (Linux):
    ftp-handler completion bash | sudo tee /etc/bash_completion.d/ftp-handler

For detailed instructions, use: ftp-handler completion [shell] --help`,
	}
	rootCmd.AddCommand(completionCmd)

	completionCmd.AddCommand(&cobra.Command{
		Use:   "bash",
		Short: "Generate bash completion script",
		Long: `Generate the autocompletion script for bash.

QUICK TEST (temporary, current session only):
  source <(ftp-handler completion bash)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenBashCompletion(cmd.OutOrStdout())
		},
	})

	completionCmd.AddCommand(&cobra.Command{
		Use:   "zsh",
		Short: "Generate zsh completion script",
		Long: `Generate the autocompletion script for zsh.

QUICK TEST (temporary, current session only):
  source <(ftp-handler completion zsh)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenZshCompletion(cmd.OutOrStdout())
		},
	})

	completionCmd.AddCommand(&cobra.Command{
		Use:   "fish",
		Short: "Generate fish completion script",
		Long: `Generate the autocompletion script for fish.

  ftp-handler completion fish > ~/.config/fish/completions/ftp-handler.fish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})

	completionCmd.AddCommand(&cobra.Command{
		Use:   "powershell",
		Short: "Generate PowerShell completion script",
		Long: `Generate the autocompletion script for PowerShell.

  ftp-handler completion powershell >> $PROFILE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootCmd.Root().GenPowerShellCompletion(cmd.OutOrStdout())
		},
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling operations...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	cancelFunc()
	if logFile != nil {
		logFile.Close()
	}

	return err
}

// newCLILogger returns the stderr logger, teed into the rotating log file
// when toFile is set. A log file that cannot be opened is reported and
// skipped.
func newCLILogger(toFile bool) *logging.Logger {
	if !toFile {
		return logging.NewDefaultCLILogger()
	}
	path := filepath.Join(config.LogDirectory(), constants.LogFileName)
	w, err := logging.NewFileWriter(path)
	if err != nil {
		l := logging.NewDefaultCLILogger()
		l.Warn().Err(err).Str("path", path).Msg("file logging disabled")
		return l
	}
	logFile = w
	return logging.NewTeeLogger(os.Stderr, w, nil)
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newLlsCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
