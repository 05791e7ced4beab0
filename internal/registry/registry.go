// Package registry loads the account registry: one base account whose
// positions are copied, and the target accounts that receive them.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

// Source yields the accounts of one registry backend in registry order.
type Source interface {
	Load(ctx context.Context) ([]models.Account, error)
}

// Accounts is a validated registry snapshot with exactly one base.
type Accounts struct {
	all  []models.Account
	base int
}

// Load reads src and validates the base designation.
func Load(ctx context.Context, src Source, logger zerolog.Logger) (*Accounts, error) {
	accounts, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Resolve(accounts, logger)
}

// Resolve applies the base rules: more than one base is a configuration
// error, no base promotes the first account.
func Resolve(accounts []models.Account, logger zerolog.Logger) (*Accounts, error) {
	if len(accounts) == 0 {
		return nil, errors.NewValidationError("registry", 0, "no accounts found")
	}

	base := -1
	var bases []string
	seen := make(map[string]int, len(accounts))
	for i, a := range accounts {
		if a.IsBase {
			bases = append(bases, a.ID)
			if base < 0 {
				base = i
			}
		}
		if a.ID == "" {
			continue
		}
		if prev, ok := seen[a.ID]; ok {
			logger.Warn().Str("account", a.ID).Int("row", a.Row).Int("first_row", accounts[prev].Row).Msg("Duplicate account id in registry")
			continue
		}
		seen[a.ID] = i
	}

	if len(bases) > 1 {
		return nil, errors.NewValidationError("copy_trades", strings.Join(bases, ","),
			fmt.Sprintf("%d accounts marked BASE, exactly one is allowed", len(bases)))
	}

	out := make([]models.Account, len(accounts))
	copy(out, accounts)
	if base < 0 {
		base = 0
		out[0].IsBase = true
		out[0].CopyEnabled = false
		logger.Warn().Str("account", out[0].ID).Msg("No account marked BASE, using the first account as base")
	}
	return &Accounts{all: out, base: base}, nil
}

// All returns every account in registry order.
func (a *Accounts) All() []models.Account {
	out := make([]models.Account, len(a.all))
	copy(out, a.all)
	return out
}

// Base returns the base account.
func (a *Accounts) Base() models.Account {
	return a.all[a.base]
}

// Targets returns every non-base account in registry order, copy-enabled or not.
func (a *Accounts) Targets() []models.Account {
	out := make([]models.Account, 0, len(a.all)-1)
	for i, acct := range a.all {
		if i != a.base {
			out = append(out, acct)
		}
	}
	return out
}

// Find looks up an account by Kite id, case-insensitively.
func (a *Accounts) Find(id string) (models.Account, bool) {
	for _, acct := range a.all {
		if strings.EqualFold(acct.ID, strings.TrimSpace(id)) {
			return acct, true
		}
	}
	return models.Account{}, false
}

// Len returns the number of accounts.
func (a *Accounts) Len() int {
	return len(a.all)
}

// applyCopyMode interprets a Copy Trades value. Anything other than BASE or
// YES disables copying.
func applyCopyMode(acct *models.Account, value string) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case models.CopyBase:
		acct.IsBase = true
		acct.CopyEnabled = false
	case models.CopyYes:
		acct.CopyEnabled = true
	default:
		acct.CopyEnabled = false
	}
}

// checkDescriptor flags accounts that cannot open a broker session. They stay
// in the registry so the cycle can report them.
func checkDescriptor(acct *models.Account) {
	var missing []string
	if acct.ID == "" {
		missing = append(missing, "kite id")
	}
	if acct.APIKey == "" {
		missing = append(missing, "api key")
	}
	if acct.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if len(missing) > 0 {
		acct.ConfigErr = "missing " + strings.Join(missing, ", ")
	}
}
