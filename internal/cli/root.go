// Package cli provides the command-line interface of the copier.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"zerodha-copier/internal/config"
	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/security"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitFatal    = 1 // base unresolvable, config invalid
	ExitFailures = 2 // pass completed with failed targets or trades
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return ExitFatal
}

// skipConfig marks commands that run without a config directory.
const skipConfig = "skip-config"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "copier",
		Short: "Zerodha trade copier",
		Long: `Mirrors the derivative positions of a base Zerodha account onto every
enabled target account, sized by each account's margin.

Accounts come from the registry sheet (or a CSV/JSON snapshot of it).
'copier sync' runs one pass; 'copier listen' waits for the sheet trigger
or runs every minute in auto mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if cmd.Annotations[skipConfig] != "true" {
				dir, _ := cmd.Flags().GetString("config")
				if err := app.load(dir); err != nil {
					return &ExitError{Code: ExitFatal, Err: err}
				}
			}
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/zerodha-copier)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newListenCmd(app))
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newOrderStatusCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newLoginCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Zerodha Copier v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			shown := *app.Config
			shown.Credentials = config.Credentials{}
			shown.Notifications.Telegram.BotToken = security.MaskCredential(shown.Notifications.Telegram.BotToken)
			if output.IsJSON() {
				return output.JSON(shown)
			}
			showConfig(output, &shown)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show the default configuration directory",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"path": config.DefaultConfigDir()})
				return
			}
			output.Println(config.DefaultConfigDir())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load already validated; report policy warnings too.
			output := NewOutput(cmd)
			_, warnings, err := app.Config.BuildPolicy()
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"valid": true, "warnings": warnings})
			}
			for _, w := range warnings {
				output.Warning("! %s", w)
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Sync")
	output.Printf("  Product:         %s (%s)\n", cfg.Sync.Product, cfg.Sync.Validity)
	output.Printf("  Exchanges:       %v\n", cfg.Sync.Exchanges)
	output.Printf("  Parallelism:     %d\n", cfg.Sync.Parallelism)
	output.Printf("  Read only:       %v\n", cfg.Sync.ReadOnly)
	output.Printf("  Lot sizes:       %v\n", cfg.Policy.LotSizes)
	output.Printf("  Max quantity:    %v\n", cfg.Policy.MaxQuantity)
	output.Println()

	output.Bold("Registry")
	output.Printf("  Source:          %s\n", cfg.Registry.Source)
	switch cfg.Registry.Source {
	case config.SourceSheets:
		output.Printf("  Spreadsheet:     %s (gid %d)\n", cfg.Registry.SpreadsheetID, cfg.Registry.GID)
		output.Printf("  Header row:      %d\n", cfg.Registry.HeaderRow)
	case config.SourceCSV:
		output.Printf("  CSV:             %s\n", cfg.Registry.CSVPath)
	case config.SourceFile:
		output.Printf("  File:            %s\n", cfg.Registry.AccountsFile)
	}
	output.Println()

	output.Bold("Trigger")
	output.Printf("  Mode:            %s\n", cfg.Trigger.Mode)
	if cfg.IsEdgeMode() {
		output.Printf("  Flag:            %s\n", cfg.Trigger.Flag)
		output.Printf("  Poll:            %s (unreachable %s, cooldown %s)\n",
			cfg.Trigger.PollInterval, cfg.Trigger.UnreachableInterval, cfg.Trigger.Cooldown)
	}
	output.Println()

	output.Bold("Outputs")
	output.Printf("  Journal:         %v (%s)\n", cfg.Journal.Enabled, cfg.Journal.Path)
	output.Printf("  Audit:           %v (%s)\n", cfg.Audit.Enabled, cfg.Audit.Dir)
	output.Printf("  Metrics:         %s\n", cfg.Metrics.Listen)
	output.Printf("  Notifications:   %v (%s)\n", cfg.Notifications.Enabled, cfg.Notifications.Level)
	output.Printf("  Log file:        %s\n", cfg.Logging.File)
}
