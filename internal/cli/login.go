package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zerodha-copier/internal/broker"
	"zerodha-copier/internal/models"
	"zerodha-copier/pkg/utils"
)

func newLoginCmd(app *App) *cobra.Command {
	var (
		requestURL string
		status     bool
	)

	cmd := &cobra.Command{
		Use:   "login [account_id]",
		Short: "Create or check Kite sessions",
		Long: `Without --request-url, prints the Kite Connect login URL of the account.
After logging in, pass the redirect URL (or its request_token) with
--request-url to store today's access token. Tokens expire at 6 AM IST.

--status lists which registry accounts hold a token for today.`,
		Example: `  copier login AB1234
  copier login AB1234 --request-url 'https://127.0.0.1/?request_token=xyz&status=success'
  copier login --status`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.Close()
			ctx := cmd.Context()
			output := NewOutput(cmd)

			accounts, err := app.loadAccounts(ctx)
			if err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}

			if status || len(args) == 0 {
				return loginStatus(output, app, accounts.All())
			}

			acct, ok := accounts.Find(args[0])
			if !ok {
				return &ExitError{Code: ExitFatal, Err: fmt.Errorf("account %s is not in the registry", args[0])}
			}
			zc := app.zerodha()
			if requestURL == "" {
				if output.IsJSON() {
					return output.JSON(map[string]string{"account_id": acct.ID, "login_url": zc.LoginURL(acct)})
				}
				output.Info("Log in to %s at:", acct.Label())
				output.Println(zc.LoginURL(acct))
				output.Dim("Then run: copier login %s --request-url '<redirect url>'", acct.ID)
				return nil
			}

			if err := zc.CompleteLogin(ctx, acct, requestURL); err != nil {
				return &ExitError{Code: ExitFatal, Err: err}
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"account_id": acct.ID, "logged_in": true})
			}
			output.Success("✓ Session stored for %s (valid until %s)", acct.Label(),
				FormatDateTime(utils.SessionExpiry(time.Now())))
			return nil
		},
	}

	cmd.Flags().StringVar(&requestURL, "request-url", "", "Kite redirect URL or request token")
	cmd.Flags().BoolVar(&status, "status", false, "list accounts holding a token for today")
	return cmd
}

func loginStatus(output *Output, app *App, all []models.Account) error {
	ids, err := broker.NewTokenStore(app.Config.Session.TokenDir).Accounts()
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}

	if output.IsJSON() {
		out := make(map[string]bool, len(all))
		for _, a := range all {
			out[a.ID] = have[a.ID]
		}
		return output.JSON(out)
	}
	for _, a := range all {
		mark := output.Red("✗ no session")
		if have[a.ID] {
			mark = output.Green("✓ session")
		}
		output.Printf("%s %s %s\n", PadRight(a.ID, 10), PadRight(TruncateString(a.Label(), 32), 32), mark)
	}
	return nil
}
