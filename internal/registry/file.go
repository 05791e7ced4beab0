package registry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/spf13/viper"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/security"
)

// fileAccount is one entry of the legacy accounts_config.json.
type fileAccount struct {
	Name       string `mapstructure:"account_holder_name" json:"account_holder_name"`
	KiteID     string `mapstructure:"account_kite_id" json:"account_kite_id"`
	APIKey     string `mapstructure:"api_key" json:"api_key"`
	APISecret  string `mapstructure:"api_secret" json:"api_secret"`
	RequestURL string `mapstructure:"request_url_by_zerodha" json:"request_url_by_zerodha"`
	CopyTrades string `mapstructure:"copy_trades" json:"copy_trades"`
	IsBase     bool   `mapstructure:"is_base_account" json:"is_base_account"`
}

// FileSource reads a local accounts_config.json snapshot of the sheet.
type FileSource struct {
	path string
}

// NewFileSource creates a file registry source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context) ([]models.Account, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "read %s: %v", s.path, err)
	}

	var entries []fileAccount
	if err := v.UnmarshalKey("accounts", &entries); err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "parse %s: %v", s.path, err)
	}

	accounts := make([]models.Account, 0, len(entries))
	for _, e := range entries {
		acct := models.Account{
			ID:          e.KiteID,
			DisplayName: e.Name,
			APIKey:      e.APIKey,
			APISecret:   e.APISecret,
			RequestURL:  e.RequestURL,
		}
		applyCopyMode(&acct, e.CopyTrades)
		if e.IsBase {
			acct.IsBase = true
			acct.CopyEnabled = false
		}
		checkDescriptor(&acct)
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// SaveFile writes accounts in the accounts_config.json layout so later runs
// can use the file source without spreadsheet access.
func SaveFile(path string, accounts []models.Account) error {
	entries := make([]fileAccount, len(accounts))
	for i, a := range accounts {
		entries[i] = fileAccount{
			Name:       a.DisplayName,
			KiteID:     a.ID,
			APIKey:     a.APIKey,
			APISecret:  a.APISecret,
			RequestURL: a.RequestURL,
			CopyTrades: a.CopyMode(),
			IsBase:     a.IsBase,
		}
	}
	data, err := json.MarshalIndent(map[string]interface{}{"accounts": entries}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// exportRow is the masked CSV listing of an account.
type exportRow struct {
	Row        int    `csv:"Row"`
	Name       string `csv:"Account Holder Name"`
	KiteID     string `csv:"Account KITE-ID"`
	APIKey     string `csv:"API_Key"`
	APISecret  string `csv:"API_Secret"`
	CopyTrades string `csv:"Copy Trades"`
	Problem    string `csv:"Problem"`
}

// ExportCSV writes the accounts as CSV with secrets masked.
func ExportCSV(w io.Writer, accounts []models.Account) error {
	rows := make([]*exportRow, len(accounts))
	for i, a := range accounts {
		rows[i] = &exportRow{
			Row:        a.Row,
			Name:       a.DisplayName,
			KiteID:     a.ID,
			APIKey:     security.MaskCredential(a.APIKey),
			APISecret:  security.MaskCredential(a.APISecret),
			CopyTrades: a.CopyMode(),
			Problem:    a.ConfigErr,
		}
	}
	return gocsv.Marshal(&rows, w)
}
