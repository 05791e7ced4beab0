package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"zerodha-copier/internal/models"
	"zerodha-copier/internal/registry"
	"zerodha-copier/pkg/utils"
)

func newSyncCmd(app *App) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		Long: `Closes target positions the base account does not hold, then sizes every
base position onto each enabled target in proportion to margin.

Exit status is 0 when every target synced, 2 when the pass completed with
failures and 1 when the base account could not be resolved.`,
		Example: `  copier sync
  copier sync --dry-run
  copier sync --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)

			accounts, err := app.loadAccounts(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			conn, err := app.guardedConnector(dryRun)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			orch, err := app.newOrchestrator(conn, dryRun)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			report, runErr := orch.Run(ctx, accounts)
			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
			} else {
				printReport(output, report, accounts)
			}

			if runErr != nil {
				return &ExitError{Code: ExitFatal, Err: runErr}
			}
			if report.HasFailures() {
				return &ExitError{Code: ExitFailures, Err: fmt.Errorf("sync %s: %s", report.Status(), failedTargets(report))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "read live state and log intended orders without placing any")
	return cmd
}

func failedTargets(report *models.SyncReport) string {
	var ids []string
	for _, t := range report.Targets {
		if t.Status == models.TargetFailed || t.Status == models.TargetPartial {
			ids = append(ids, t.AccountID)
		}
	}
	return strings.Join(ids, ", ")
}

func printReport(output *Output, report *models.SyncReport, accounts *registry.Accounts) {
	title := fmt.Sprintf("Sync %s: %s", report.RunID, strings.ToUpper(report.Status()))
	if report.DryRun {
		title += " (dry run)"
	}
	output.Bold(title)
	if report.Fatal != "" {
		output.Error("✗ %s", report.Fatal)
		return
	}
	output.Printf("Base: %s  margin %s  %d open position(s)\n\n",
		report.BaseName, utils.FormatCrores(report.BaseMargin.InexactFloat64()), len(report.BasePositions))

	output.Printf("%s %s %s %s %s %s\n",
		PadRight("ACCOUNT", 20), PadRight("STATUS", 8), PadLeft("MARGIN", 14),
		PadLeft("RATIO", 8), PadLeft("ORDERS", 6), "NOTE")
	for _, t := range report.Targets {
		orders := 0
		for _, tr := range t.Trades {
			orders += len(tr.OrderIDs)
		}
		note := t.SkipReason
		if len(t.Errors) > 0 {
			note = strings.Join(t.Errors, "; ")
		}
		output.Printf("%s %s %s %s %s %s\n",
			PadRight(TruncateString(t.DisplayName+" ("+t.AccountID+")", 20), 20),
			targetStatusLabel(output, t.Status, 8),
			PadLeft(utils.FormatCrores(t.Margin.InexactFloat64()), 14),
			PadLeft(t.Ratio.StringFixed(4), 8),
			PadLeft(fmt.Sprintf("%d", orders), 6),
			note)
		for _, tr := range t.Trades {
			if tr.Status == models.TradeNoOp {
				continue
			}
			line := fmt.Sprintf("    %-6s %-4s %6d %s:%s  %s",
				tr.Kind, tr.Side, tr.Quantity, tr.Exchange, tr.Symbol, tr.Status)
			if len(tr.OrderIDs) > 0 {
				line += " " + strings.Join(tr.OrderIDs, ",")
			}
			if tr.Reason != "" {
				line += " (" + tr.Reason + ")"
			}
			if tr.Status == models.TradeFailed {
				line = output.Red(line)
			}
			output.Println(line)
		}
	}
	output.Printf("\n%d order(s) in %s\n", report.OrdersPlaced(), FormatDuration(report.Duration()))

	if len(report.Snapshots) > 0 {
		output.Println()
		printPositions(output, accounts, report.Snapshots, nil)
	}
}

// printPositions renders the post-sync table: every account's open
// positions labelled BASE, SYNCED or NOT SYNCED against the base book.
func printPositions(output *Output, accounts *registry.Accounts, books map[string][]models.Position, margins map[string]float64) {
	base := accounts.Base()
	baseKeys := models.Keys(books[base.ID])

	output.Bold("Positions")
	output.Printf("%s %s %s %s %s %s %s %s\n",
		PadRight("ACCOUNT", 18), PadRight("STATUS", 10), PadRight("SYMBOL", 24),
		PadLeft("QTY", 8), PadLeft("AVG", 10), PadLeft("LTP", 10),
		PadLeft("P&L (API)", 16), PadLeft("P&L (CALC)", 16))

	for _, acct := range accounts.All() {
		positions, ok := books[acct.ID]
		if !ok {
			continue
		}
		name := TruncateString(acct.ID, 18)
		if m, ok := margins[acct.ID]; ok {
			output.Dim("%s  margin %s", acct.Label(), utils.FormatCrores(m))
		}
		if len(positions) == 0 {
			output.Printf("%s %s\n", PadRight(name, 18), "no open positions")
			continue
		}
		var apiTotal, calcTotal float64
		for _, p := range positions {
			status := models.SyncStatus(acct.ID == base.ID, p.Key(), baseKeys)
			calc := p.ComputedPnL()
			apiTotal += p.PnL
			calcTotal += calc
			output.Printf("%s %s %s %s %s %s %s %s\n",
				PadRight(name, 18),
				positionStatusLabel(output, status, 10),
				PadRight(TruncateString(string(p.Exchange)+":"+p.Symbol, 24), 24),
				PadLeft(utils.FormatQuantity(int64(p.Quantity)), 8),
				PadLeft(fmt.Sprintf("%.2f", p.AveragePrice), 10),
				PadLeft(fmt.Sprintf("%.2f", p.LastPrice), 10),
				output.Signed(p.PnL, PadLeft(utils.FormatPnL(p.PnL), 16)),
				output.Signed(calc, PadLeft(utils.FormatPnL(calc), 16)))
		}
		output.Printf("%s %s %s\n",
			PadRight("total", 85),
			output.Signed(apiTotal, PadLeft(utils.FormatPnL(apiTotal), 16)),
			output.Signed(calcTotal, PadLeft(utils.FormatPnL(calcTotal), 16)))
	}
}
