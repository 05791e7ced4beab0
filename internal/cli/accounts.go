package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"zerodha-copier/internal/models"
	"zerodha-copier/internal/registry"
	"zerodha-copier/internal/security"
)

// maskedAccount is the JSON listing of an account; secrets never leave
// the process unmasked.
type maskedAccount struct {
	Row         int    `json:"row,omitempty"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
	CopyTrades  string `json:"copy_trades"`
	Problem     string `json:"problem,omitempty"`
}

func newAccountsCmd(app *App) *cobra.Command {
	var (
		csvOut bool
		save   string
	)

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List registry accounts",
		Long: `Reads the account registry and lists every row with its role. API keys
are masked. --csv writes the masked listing as CSV; --save writes an
accounts_config.json snapshot usable with registry.source = "file".`,
		Example: `  copier accounts
  copier accounts --csv > accounts.csv
  copier accounts --save accounts_config.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)

			src, err := app.registrySource(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			list, err := src.Load(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			resolved, resolveErr := registry.Resolve(list, app.Logger)
			if resolved != nil {
				list = resolved.All()
			}

			if save != "" {
				if err := registry.SaveFile(save, list); err != nil {
					return err
				}
				output.Success("✓ Saved %d account(s) to %s", len(list), save)
				return nil
			}
			if csvOut {
				return registry.ExportCSV(cmd.OutOrStdout(), list)
			}
			if output.IsJSON() {
				rows := make([]maskedAccount, len(list))
				for i, a := range list {
					rows[i] = maskedAccount{
						Row:         a.Row,
						ID:          a.ID,
						DisplayName: a.DisplayName,
						APIKey:      security.MaskCredential(a.APIKey),
						CopyTrades:  a.CopyMode(),
						Problem:     a.ConfigErr,
					}
				}
				return output.JSON(rows)
			}

			printAccounts(output, list)
			if resolveErr != nil {
				output.Error("✗ %v", resolveErr)
				return &ExitError{Code: ExitFatal, Err: resolveErr}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&csvOut, "csv", false, "write the masked listing as CSV")
	cmd.Flags().StringVar(&save, "save", "", "write an accounts_config.json snapshot to this path")
	return cmd
}

func printAccounts(output *Output, list []models.Account) {
	output.Printf("%s %s %s %s %s %s\n",
		PadLeft("ROW", 4), PadRight("KITE ID", 10), PadRight("NAME", 24),
		PadRight("API KEY", 16), PadRight("COPY", 5), "PROBLEM")
	enabled := 0
	for _, a := range list {
		row := "-"
		if a.Row > 0 {
			row = fmt.Sprintf("%d", a.Row)
		}
		copyMode := PadRight(a.CopyMode(), 5)
		switch {
		case a.IsBase:
			copyMode = output.Cyan(copyMode)
		case a.CopyEnabled:
			enabled++
			copyMode = output.Green(copyMode)
		}
		output.Printf("%s %s %s %s %s %s\n",
			PadLeft(row, 4),
			PadRight(a.ID, 10),
			PadRight(TruncateString(a.DisplayName, 24), 24),
			PadRight(security.MaskCredential(a.APIKey), 16),
			copyMode,
			output.Red(a.ConfigErr))
	}
	output.Dim("%d account(s), %d copying", len(list), enabled)
}
