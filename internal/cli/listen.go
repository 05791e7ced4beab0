package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zerodha-copier/internal/config"
	"zerodha-copier/internal/metrics"
	"zerodha-copier/internal/syncer"
	"zerodha-copier/internal/trigger"
)

func newListenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Wait for sync triggers and run a pass on each",
		Long: `Runs until interrupted. In edge mode a pass starts whenever the trigger
flag (a sheet column or a local file) is set, and the flag is cleared first.
In auto mode a pass runs at start and at the top of every minute.

The mode comes from trigger.mode, overridden by the registry's mode cell when
trigger.mode_cell is set. A pass in progress always completes on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			output := NewOutput(cmd)

			mode := app.resolveMode(ctx)
			m := metrics.NewMetrics()
			health := metrics.NewHealthStatus(mode)
			if app.Config.Metrics.Listen != "" {
				shutdown := app.serveMetrics(m, health)
				defer shutdown()
			}

			var source trigger.FlagSource
			if mode == config.ModeEdge {
				var err error
				if source, err = app.flagSource(ctx); err != nil {
					return &ExitError{Code: ExitFatal, Err: err}
				}
			}
			tcfg := app.Config.Trigger
			tcfg.Mode = mode
			strategy, err := trigger.New(tcfg, source, app.Logger,
				trigger.WithMetrics(m), trigger.WithHealth(health))
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			conn, err := app.guardedConnector(false)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			orch, err := app.newOrchestrator(conn, false, syncer.WithMetrics(m), syncer.WithHealth(health))
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			return strategy.Run(ctx, app.syncJob(orch, output))
		},
	}
}

// syncJob runs one pass per trigger. The registry is re-read every cycle so
// sheet edits apply to the next pass without a restart. A registry that
// cannot be read produces no report, so it is notified as an error here.
func (a *App) syncJob(orch *syncer.Orchestrator, output *Output) trigger.Job {
	return func(ctx context.Context) error {
		accounts, err := a.loadAccounts(ctx)
		if err != nil {
			if nerr := a.notifications().SendError(ctx, err, "registry load"); nerr != nil {
				a.Logger.Warn().Err(nerr).Msg("Failed to send error notification")
			}
			return err
		}
		report, err := orch.Run(ctx, accounts)
		if !output.IsJSON() {
			printReport(output, report, accounts)
		} else if jerr := output.JSON(report); jerr != nil {
			a.Logger.Warn().Err(jerr).Msg("Failed to write report")
		}
		return err
	}
}

// resolveMode applies the registry's mode cell over trigger.mode.
func (a *App) resolveMode(ctx context.Context) string {
	mode := a.Config.Trigger.Mode
	cell := a.Config.Trigger.ModeCell
	if cell == "" || a.Config.Registry.Source != config.SourceSheets {
		return mode
	}
	sheet, err := a.sheetClient(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Str("mode", mode).Msg("Mode cell unavailable, using configured mode")
		return mode
	}
	value, err := sheet.Cell(ctx, cell)
	if err != nil {
		a.Logger.Warn().Err(err).Str("cell", cell).Str("mode", mode).Msg("Mode cell unreadable, using configured mode")
		return mode
	}
	parsed, ok := trigger.ParseMode(value)
	if !ok {
		a.Logger.Warn().Str("cell", cell).Str("value", value).Str("mode", mode).Msg("Unrecognised mode cell value, using configured mode")
		return mode
	}
	a.Logger.Info().Str("cell", cell).Str("mode", parsed).Msg("Copy mode read from registry")
	return parsed
}

func (a *App) flagSource(ctx context.Context) (trigger.FlagSource, error) {
	t := a.Config.Trigger
	if t.Flag == "file" {
		return trigger.NewFileFlag(t.FlagFile, t.Values), nil
	}
	sheet, err := a.sheetClient(ctx)
	if err != nil {
		return nil, err
	}
	return trigger.NewSheetFlag(sheet, t.Column, t.Values, a.layout(), t.ScanRows, a.Logger), nil
}

// serveMetrics starts the /metrics and /healthz endpoints and returns a
// function that shuts them down.
func (a *App) serveMetrics(m *metrics.Metrics, health *metrics.HealthStatus) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
