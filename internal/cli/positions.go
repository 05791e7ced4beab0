package cli

import (
	"github.com/spf13/cobra"

	"zerodha-copier/internal/models"
)

// accountPositions is the JSON shape of one account in `copier positions`.
type accountPositions struct {
	AccountID string            `json:"account_id"`
	Name      string            `json:"name"`
	Margin    float64           `json:"margin"`
	Positions []models.Position `json:"positions"`
	Error     string            `json:"error,omitempty"`
}

func newPositionsCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show open positions of every account",
		Long: `Fetches the net positions and margin of every registry account and marks
each position BASE, SYNCED or NOT SYNCED against the base account. Only the
traded exchanges are shown unless --all is given. Never places orders.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)

			accounts, err := app.loadAccounts(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			conn, err := app.guardedConnector(true)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			var exchanges []models.Exchange
			if !all {
				exchanges = app.Config.Exchanges()
			}

			books := make(map[string][]models.Position)
			margins := make(map[string]float64)
			var rows []accountPositions
			for _, acct := range accounts.All() {
				row := accountPositions{AccountID: acct.ID, Name: acct.Label()}
				if acct.ConfigErr != "" {
					row.Error = acct.ConfigErr
					rows = append(rows, row)
					continue
				}
				gw, err := conn.Connect(ctx, acct)
				if err != nil {
					row.Error = err.Error()
					rows = append(rows, row)
					continue
				}
				book, err := gw.Positions(ctx)
				if err != nil {
					row.Error = err.Error()
					rows = append(rows, row)
					continue
				}
				row.Positions = book.Open(exchanges...)
				books[acct.ID] = row.Positions
				if m, err := gw.Margins(ctx); err == nil {
					row.Margin = m.Total().InexactFloat64()
					margins[acct.ID] = row.Margin
				}
				rows = append(rows, row)
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}
			printPositions(output, accounts, books, margins)
			for _, r := range rows {
				if r.Error != "" {
					output.Warning("! %s: %s", r.AccountID, r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include exchanges outside sync.exchanges")
	return cmd
}
