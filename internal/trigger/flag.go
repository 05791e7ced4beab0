package trigger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/registry"
	"zerodha-copier/internal/sheets"
)

// Flag is one observed trigger.
type Flag struct {
	// Location identifies where the flag was seen, for de-duplication.
	Location string
	Value    string
	Row      int // 1-based, sheet flags only
	Col      int // 1-based, sheet flags only
}

// FlagSource is an external boolean-like trigger.
type FlagSource interface {
	fmt.Stringer
	// Find reports the first set flag, if any.
	Find(ctx context.Context) (Flag, bool, error)
	// Clear resets a flag returned by Find.
	Clear(ctx context.Context, flag Flag) error
}

func accepted(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToUpper(strings.TrimSpace(v))] = true
	}
	return out
}

// Sheet is the part of the spreadsheet client the sheet flag needs.
type Sheet interface {
	Rows(ctx context.Context) ([][]string, error)
	SetCell(ctx context.Context, row, col int, value string) error
}

// SheetFlag watches the trigger column of the account sheet.
type SheetFlag struct {
	sheet     Sheet
	column    string
	values    map[string]bool
	headerRow int
	dataStart int
	scanRows  int
	logger    zerolog.Logger

	warnedMissing bool
}

// NewSheetFlag creates a flag over the column named column. The header is
// looked up on every poll so a column added later is picked up.
func NewSheetFlag(sheet Sheet, column string, values []string, layout registry.Layout, scanRows int, logger zerolog.Logger) *SheetFlag {
	if layout.HeaderRow <= 0 {
		layout = registry.DefaultLayout()
	}
	if layout.DataStartRow <= layout.HeaderRow {
		layout.DataStartRow = layout.HeaderRow + 1
	}
	if scanRows <= 0 {
		scanRows = 20
	}
	return &SheetFlag{
		sheet:     sheet,
		column:    strings.ToLower(strings.TrimSpace(column)),
		values:    accepted(values),
		headerRow: layout.HeaderRow,
		dataStart: layout.DataStartRow,
		scanRows:  scanRows,
		logger:    logger,
	}
}

func (s *SheetFlag) String() string {
	return fmt.Sprintf("sheet column %q", s.column)
}

// Find scans scanRows rows from the first data row.
func (s *SheetFlag) Find(ctx context.Context) (Flag, bool, error) {
	rows, err := s.sheet.Rows(ctx)
	if err != nil {
		return Flag{}, false, err
	}
	if len(rows) < s.headerRow {
		return Flag{}, false, nil
	}
	col := registry.ColumnIndex(rows[s.headerRow-1], s.column)
	if col < 0 {
		if !s.warnedMissing {
			s.logger.Warn().Int("header_row", s.headerRow).Str("column", s.column).
				Msg("Trigger column not found; add it to the sheet to enable triggers")
			s.warnedMissing = true
		}
		return Flag{}, false, nil
	}
	s.warnedMissing = false

	for r := s.dataStart; r < s.dataStart+s.scanRows && r <= len(rows); r++ {
		row := rows[r-1]
		if col >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[col])
		if s.values[strings.ToUpper(value)] {
			return Flag{
				Location: fmt.Sprintf("%s%d", sheets.ColumnLetter(col+1), r),
				Value:    value,
				Row:      r,
				Col:      col + 1,
			}, true, nil
		}
	}
	return Flag{}, false, nil
}

// Clear blanks the flag cell.
func (s *SheetFlag) Clear(ctx context.Context, flag Flag) error {
	return s.sheet.SetCell(ctx, flag.Row, flag.Col, "")
}

// FileFlag is a local file holding a trigger value, for setups without a
// writable sheet.
type FileFlag struct {
	path   string
	values map[string]bool
}

// NewFileFlag creates a flag over path.
func NewFileFlag(path string, values []string) *FileFlag {
	return &FileFlag{path: path, values: accepted(values)}
}

func (f *FileFlag) String() string {
	return "file " + f.path
}

// Find reports the flag set when the file holds an accepted value. A
// missing file is an unset flag.
func (f *FileFlag) Find(ctx context.Context) (Flag, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Flag{}, false, nil
		}
		return Flag{}, false, err
	}
	value := strings.TrimSpace(string(data))
	if !f.values[strings.ToUpper(value)] {
		return Flag{}, false, nil
	}
	return Flag{Location: f.path, Value: value}, true, nil
}

// Clear truncates the file.
func (f *FileFlag) Clear(ctx context.Context, flag Flag) error {
	return os.WriteFile(f.path, nil, 0644)
}

var (
	_ FlagSource = (*SheetFlag)(nil)
	_ FlagSource = (*FileFlag)(nil)
	_ Sheet      = (*sheets.Client)(nil)
)
