package registry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

// Default spreadsheet layout: headers on row 7, accounts from row 8.
const (
	DefaultHeaderRow    = 7
	DefaultDataStartRow = 8
)

// Column identifiers.
const (
	ColName       = "name"
	ColKiteID     = "kite_id"
	ColAPIKey     = "api_key"
	ColAPISecret  = "api_secret"
	ColRequestURL = "request_url"
	ColCopyTrades = "copy_trades"
)

type column struct {
	key      string
	aliases  []string
	optional bool
}

var columns = []column{
	{key: ColName, aliases: []string{"account holder name", "account holder", "holder name"}},
	{key: ColKiteID, aliases: []string{"account kite-id", "kite-id", "kite id", "account kite_id"}},
	{key: ColAPIKey, aliases: []string{"api_key", "api key", "apikey"}},
	{key: ColAPISecret, aliases: []string{"api_secret", "api secret", "apisecret"}},
	{key: ColRequestURL, aliases: []string{"request url by zerodha", "request url", "zerodha url"}},
	{key: ColCopyTrades, aliases: []string{"copy trades", "copy trade", "copy", "trades"}, optional: true},
}

// Layout gives the 1-based header and first data rows of a grid.
type Layout struct {
	HeaderRow    int
	DataStartRow int
}

// DefaultLayout is the layout of the operator spreadsheet.
func DefaultLayout() Layout {
	return Layout{HeaderRow: DefaultHeaderRow, DataStartRow: DefaultDataStartRow}
}

func (l Layout) normalize() Layout {
	if l.HeaderRow < 1 {
		l.HeaderRow = DefaultHeaderRow
	}
	if l.DataStartRow <= l.HeaderRow {
		l.DataStartRow = l.HeaderRow + 1
	}
	return l
}

// RowReader returns a worksheet as rows of cells.
type RowReader interface {
	Rows(ctx context.Context) ([][]string, error)
}

// GridSource reads accounts from a spreadsheet-shaped grid.
type GridSource struct {
	rows   RowReader
	layout Layout
	logger zerolog.Logger
}

// NewGridSource wraps a worksheet reader such as *sheets.Client.
func NewGridSource(rows RowReader, layout Layout, logger zerolog.Logger) *GridSource {
	return &GridSource{rows: rows, layout: layout.normalize(), logger: logger}
}

// Load implements Source.
func (g *GridSource) Load(ctx context.Context) ([]models.Account, error) {
	rows, err := g.rows.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return ParseGrid(rows, g.layout, g.logger)
}

// ColumnIndex finds the 0-based column whose header matches name, or -1.
// Matching is case-insensitive containment in either direction.
func ColumnIndex(headers []string, aliases ...string) int {
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		for _, alias := range aliases {
			if strings.Contains(h, alias) || strings.Contains(alias, h) {
				return i
			}
		}
	}
	return -1
}

// ParseGrid converts sheet rows to accounts.
func ParseGrid(rows [][]string, layout Layout, logger zerolog.Logger) ([]models.Account, error) {
	layout = layout.normalize()
	if len(rows) < layout.HeaderRow {
		return nil, errors.NewValidationError("registry.header_row", layout.HeaderRow,
			fmt.Sprintf("sheet has only %d rows", len(rows)))
	}

	headers := rows[layout.HeaderRow-1]
	idx := make(map[string]int, len(columns))
	var missing []string
	for _, c := range columns {
		i := ColumnIndex(headers, c.aliases...)
		idx[c.key] = i
		if i < 0 && !c.optional {
			missing = append(missing, c.key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewValidationError("registry.columns", strings.Join(missing, ","),
			fmt.Sprintf("required columns not found in headers %q", headers))
	}
	if idx[ColCopyTrades] < 0 {
		logger.Warn().Msg("Copy Trades column not found, copying is disabled for every account")
	}

	var accounts []models.Account
	for r := layout.DataStartRow - 1; r < len(rows); r++ {
		row := rows[r]
		cell := func(key string) string {
			i := idx[key]
			if i < 0 || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if isBlank(row) {
			continue
		}

		acct := models.Account{
			ID:          cell(ColKiteID),
			DisplayName: cell(ColName),
			APIKey:      cell(ColAPIKey),
			APISecret:   cell(ColAPISecret),
			RequestURL:  cell(ColRequestURL),
			Row:         r + 1,
		}
		if acct.APIKey == "" && acct.APISecret == "" && acct.ID == "" && acct.DisplayName == "" {
			continue
		}
		applyCopyMode(&acct, cell(ColCopyTrades))
		checkDescriptor(&acct)
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// CSVSource reads an exported copy of the spreadsheet.
type CSVSource struct {
	path   string
	layout Layout
	logger zerolog.Logger
}

// NewCSVSource creates a CSV registry source.
func NewCSVSource(path string, layout Layout, logger zerolog.Logger) *CSVSource {
	return &CSVSource{path: path, layout: layout.normalize(), logger: logger}
}

// Rows implements RowReader.
func (s *CSVSource) Rows(ctx context.Context) ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "open registry csv: %v", err)
	}
	defer f.Close()

	var r gocsv.CSVReader = gocsv.LazyCSVReader(f)
	if cr, ok := r.(*csv.Reader); ok {
		// Sheet exports drop trailing empty cells on some rows.
		cr.FieldsPerRecord = -1
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "parse registry csv: %v", err)
	}
	return rows, nil
}

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) ([]models.Account, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return ParseGrid(rows, s.layout, s.logger)
}
