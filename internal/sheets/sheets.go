// Package sheets reads and writes the account spreadsheet through the
// Google Sheets v4 API.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/pkg/utils"
)

// Config locates one worksheet.
type Config struct {
	SpreadsheetID   string
	GID             int64 // 0 selects by SheetName, then the first sheet
	SheetName       string
	CredentialsFile string
}

// Client is a worksheet handle. The sheet title is resolved once and cached.
type Client struct {
	svc    *sheetsapi.Service
	cfg    Config
	retry  utils.RetryConfig
	logger zerolog.Logger

	mu    sync.Mutex
	title string
}

// New authenticates with a service account file, or application default
// credentials when CredentialsFile is empty.
func New(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.NewValidationError("registry.spreadsheet_id", "", "spreadsheet id is required")
	}
	base := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		base = append(base, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := sheetsapi.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfiguration, "google sheets client: %v", err)
	}

	retry := utils.DefaultRetryConfig()
	retry.Retryable = isTransient
	return &Client{svc: svc, cfg: cfg, retry: retry, logger: logger.With().Str("component", "sheets").Logger()}, nil
}

// Title returns the resolved worksheet title.
func (c *Client) Title(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title != "" {
		return c.title, nil
	}

	ss, err := utils.RetryWithResult(ctx, c.retry, func() (*sheetsapi.Spreadsheet, error) {
		return c.svc.Spreadsheets.Get(c.cfg.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	if len(ss.Sheets) == 0 {
		return "", errors.NewValidationError("registry.spreadsheet_id", c.cfg.SpreadsheetID, "spreadsheet has no sheets")
	}

	title := ""
	for _, s := range ss.Sheets {
		if s.Properties == nil {
			continue
		}
		if c.cfg.GID != 0 && s.Properties.SheetId == c.cfg.GID {
			title = s.Properties.Title
			break
		}
		if c.cfg.GID == 0 && c.cfg.SheetName != "" && s.Properties.Title == c.cfg.SheetName {
			title = s.Properties.Title
			break
		}
	}
	if title == "" {
		title = ss.Sheets[0].Properties.Title
		if c.cfg.GID != 0 || c.cfg.SheetName != "" {
			c.logger.Warn().
				Int64("gid", c.cfg.GID).
				Str("sheet_name", c.cfg.SheetName).
				Str("using", title).
				Msg("Worksheet not found, using first sheet")
		}
	}
	c.title = title
	return title, nil
}

// Rows returns every row of the worksheet as trimmed strings. Trailing empty
// cells are omitted by the API, so rows may be ragged.
func (c *Client) Rows(ctx context.Context) ([][]string, error) {
	title, err := c.Title(ctx)
	if err != nil {
		return nil, err
	}
	return c.values(ctx, quote(title))
}

// Cell returns the value at an A1 reference such as "B3".
func (c *Client) Cell(ctx context.Context, a1 string) (string, error) {
	title, err := c.Title(ctx)
	if err != nil {
		return "", err
	}
	rows, err := c.values(ctx, quote(title)+"!"+a1)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return rows[0][0], nil
}

// SetCell writes a raw value at a 1-based row and column.
func (c *Client) SetCell(ctx context.Context, row, col int, value string) error {
	title, err := c.Title(ctx)
	if err != nil {
		return err
	}
	rng := fmt.Sprintf("%s!%s%d", quote(title), ColumnLetter(col), row)
	start := time.Now()
	_, err = c.svc.Spreadsheets.Values.Update(c.cfg.SpreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	logging.LogAPICall(c.logger, "Values.Update", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) values(ctx context.Context, rng string) ([][]string, error) {
	start := time.Now()
	vr, err := utils.RetryWithResult(ctx, c.retry, func() (*sheetsapi.ValueRange, error) {
		return c.svc.Spreadsheets.Values.Get(c.cfg.SpreadsheetID, rng).Context(ctx).Do()
	})
	logging.LogAPICall(c.logger, "Values.Get", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}

	rows := make([][]string, len(vr.Values))
	for i, raw := range vr.Values {
		row := make([]string, len(raw))
		for j, v := range raw {
			row[j] = strings.TrimSpace(fmt.Sprint(v))
		}
		rows[i] = row
	}
	return rows, nil
}

// ColumnLetter converts a 1-based column index to its A1 letters.
func ColumnLetter(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// isTransient retries rate limits, server errors and transport failures.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
