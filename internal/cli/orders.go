package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/store"
)

// orderLookup is the JSON shape of `copier order-status`.
type orderLookup struct {
	AccountID      string               `json:"account_id"`
	Trade          *store.TradeRecord   `json:"trade,omitempty"`
	History        []models.OrderStatus `json:"history"`
	Interpretation string               `json:"interpretation"`
}

func newOrderStatusCmd(app *App) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "order-status <order_id>",
		Short: "Show the broker status of an order",
		Long: `Looks the order up in the sync journal to find the account that placed it,
then fetches its history from the broker. Orders missing from the journal are
searched for across every registry account, or only --account when given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)
			orderID := strings.TrimSpace(args[0])

			var trade *store.TradeRecord
			if journal, err := app.openJournal(); err == nil && journal != nil {
				trade, err = journal.FindOrder(ctx, orderID)
				if err != nil && !errors.Is(err, errors.ErrOrderNotFound) {
					app.Logger.Warn().Err(err).Msg("Journal lookup failed")
				}
				if trade != nil && account == "" {
					account = trade.AccountID
				}
			}

			accounts, err := app.loadAccounts(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			candidates := accounts.All()
			if account != "" {
				acct, ok := accounts.Find(account)
				if !ok {
					return &ExitError{Code: ExitFatal, Err: fmt.Errorf("account %s is not in the registry", account)}
				}
				candidates = []models.Account{acct}
			}

			conn, err := app.guardedConnector(true)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			for _, acct := range candidates {
				if acct.ConfigErr != "" {
					continue
				}
				gw, err := conn.Connect(ctx, acct)
				if err != nil {
					app.Logger.Debug().Err(err).Str("account", acct.ID).Msg("Skipping account")
					continue
				}
				history, err := gw.OrderHistory(ctx, orderID)
				if err != nil || len(history) == 0 {
					continue
				}
				latest := history[len(history)-1]
				result := orderLookup{
					AccountID:      acct.ID,
					Trade:          trade,
					History:        history,
					Interpretation: latest.Interpretation(),
				}
				if output.IsJSON() {
					return output.JSON(result)
				}
				printOrder(output, result)
				return nil
			}

			return &ExitError{Code: ExitFatal, Err: errors.Wrapf(errors.ErrOrderNotFound, "order %s", orderID)}
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account that placed the order")
	return cmd
}

func printOrder(output *Output, r orderLookup) {
	latest := r.History[len(r.History)-1]
	output.Bold("Order %s (%s)", latest.OrderID, r.AccountID)
	output.Printf("  %s %d %s:%s\n", latest.Side, latest.Quantity, latest.Exchange, latest.Symbol)
	output.Printf("  Filled %d @ %.2f\n", latest.FilledQuantity, latest.AveragePrice)
	if r.Trade != nil {
		output.Printf("  Run %s, %s trade (intended %d, held %d)\n",
			r.Trade.RunID, r.Trade.Kind, r.Trade.Intended, r.Trade.Current)
	}
	output.Println()
	for _, h := range r.History {
		output.Printf("  %s  %s\n", FormatDateTime(h.Timestamp), h.Status)
	}
	output.Println()
	switch latest.Status {
	case models.OrderStatusComplete:
		output.Success("✓ %s", latest.Interpretation())
	case models.OrderStatusRejected, models.OrderStatusCancelled:
		output.Error("✗ %s", latest.Interpretation())
	default:
		output.Info("%s", latest.Interpretation())
	}
}

func newRunsCmd(app *App) *cobra.Command {
	var (
		limit  int
		status string
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List journaled sync runs",
		Long: `Lists recent sync runs from the journal, newest first. With a run id,
shows the trades of that run.`,
		Example: `  copier runs
  copier runs --status partial --since 24h
  copier runs 01J9Z8K4T7QH2N5V3X6B0C1D2E`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)

			journal, err := app.openJournal()
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if journal == nil {
				return &ExitError{Code: ExitFatal, Err: fmt.Errorf("journal is disabled (journal.enabled = false)")}
			}

			if len(args) == 1 {
				run, err := journal.GetRun(ctx, args[0])
				if err != nil {
					return &ExitError{Code: ExitFatal, Err: err}
				}
				trades, err := journal.Trades(ctx, args[0])
				if err != nil {
					return &ExitError{Code: ExitFatal, Err: err}
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"run": run, "trades": trades})
				}
				printRuns(output, []store.RunSummary{*run})
				output.Println()
				printTrades(output, trades)
				return nil
			}

			filter := store.RunFilter{Status: status, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			runs, err := journal.RecentRuns(ctx, filter)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No runs recorded")
				return nil
			}
			printRuns(output, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (ok, partial, fatal)")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this window, e.g. 24h")
	return cmd
}

func printRuns(output *Output, runs []store.RunSummary) {
	output.Printf("%s %s %s %s %s %s %s %s\n",
		PadRight("RUN", 26), PadRight("STARTED", 20), PadLeft("TOOK", 8),
		PadRight("BASE", 8), PadRight("STATUS", 8), PadLeft("TARGETS", 7),
		PadLeft("ORDERS", 6), PadLeft("FAILED", 6))
	for _, r := range runs {
		id := r.RunID
		if r.DryRun {
			id += "*"
		}
		output.Printf("%s %s %s %s %s %s %s %s\n",
			PadRight(id, 26),
			PadRight(FormatDateTime(r.StartedAt), 20),
			PadLeft(FormatDuration(r.Duration()), 8),
			PadRight(r.BaseID, 8),
			runStatusLabel(output, r.Status, 8),
			PadLeft(fmt.Sprintf("%d", r.Targets), 7),
			PadLeft(fmt.Sprintf("%d", r.Orders), 6),
			PadLeft(fmt.Sprintf("%d", r.Failures), 6))
		if r.Fatal != "" {
			output.Error("  %s", r.Fatal)
		}
	}
}

func printTrades(output *Output, trades []store.TradeRecord) {
	if len(trades) == 0 {
		output.Dim("No trades recorded")
		return
	}
	for _, t := range trades {
		line := fmt.Sprintf("%s %s %s %s %s %s",
			PadRight(t.AccountID, 10), PadRight(string(t.Kind), 6), PadRight(string(t.Side), 4),
			PadLeft(fmt.Sprintf("%d", t.Quantity), 6),
			PadRight(string(t.Exchange)+":"+t.Symbol, 26), t.Status)
		if len(t.OrderIDs) > 0 {
			line += " " + strings.Join(t.OrderIDs, ",")
		}
		if t.Reason != "" {
			line += " (" + t.Reason + ")"
		}
		if t.Status == models.TradeFailed {
			line = output.Red(line)
		}
		output.Println(line)
	}
}
