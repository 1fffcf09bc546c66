// Package cli provides the trustval command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/trustval/config"
	"github.com/georgepadayatti/trustval/internal/logging"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// app holds the state shared by the commands of one invocation.
type app struct {
	configFile string
	logLevel   string

	config    *config.AppConfig
	logger    *slog.Logger
	logOutput io.Closer
}

// NewRootCommand builds the trustval command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "trustval",
		Short: "Signature trust validation tool",
		Long: `trustval resolves the certificate chains, revocation data and timestamps
of signatures up to a set of trust anchors and evaluates them against a
validation policy.`,
		Version:           fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logOutput != nil {
				return a.logOutput.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCommand(a), newPolicyCommand(a), newVersionCommand(a))
	return rootCmd
}

// setup loads the configuration and sets up logging.
func (a *app) setup() error {
	cfg, err := config.ReadAppConfig(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	out, err := logging.Open(cfg.Logging.Output)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, out)
	if err != nil {
		out.Close()
		return err
	}

	a.config = cfg
	a.logger = logger
	a.logOutput = out
	return nil
}

// Run executes the CLI with the given arguments and exits on error.
// This is the main entry point for the CLI.
func Run(ctx context.Context, args []string) {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}
