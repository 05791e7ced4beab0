package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"zerodha-copier/internal/models"
)

func TestDefaults(t *testing.T) {
	p := Default()
	if p.LotSize(models.NFO) != 65 || p.LotSize(models.BFO) != 20 {
		t.Errorf("unexpected lot sizes: NFO=%d BFO=%d", p.LotSize(models.NFO), p.LotSize(models.BFO))
	}
	if p.MaxOrderQuantity(models.NFO) != 1755 || p.MaxOrderQuantity(models.BFO) != 2000 {
		t.Errorf("unexpected caps: NFO=%d BFO=%d", p.MaxOrderQuantity(models.NFO), p.MaxOrderQuantity(models.BFO))
	}
	if p.LotSize("MCX") != 0 || p.MaxOrderQuantity("MCX") != 0 {
		t.Error("unknown exchange must report zero")
	}
	if p.LotSize("nfo") != 65 {
		t.Error("exchange lookup must be case-insensitive")
	}
}

func TestRoundUpToLot(t *testing.T) {
	p := New(map[models.Exchange]int{models.NFO: 75}, map[models.Exchange]int{models.NFO: 1800})
	tests := []struct {
		qty  string
		want int
	}{
		{"18.75", 75},
		{"75", 75},
		{"75.0001", 150},
		{"0", 0},
		{"-10", 0},
		{"149.999", 150},
	}
	for _, tt := range tests {
		got := p.RoundUpToLot(decimal.RequireFromString(tt.qty), models.NFO)
		if got != tt.want {
			t.Errorf("RoundUpToLot(%s) = %d, want %d", tt.qty, got, tt.want)
		}
	}
	if got := p.RoundUpToLot(decimal.NewFromInt(10), models.BFO); got != 0 {
		t.Errorf("unknown lot must round to 0, got %d", got)
	}
	if got := p.RoundUp(76, models.NFO); got != 150 {
		t.Errorf("RoundUp(76) = %d, want 150", got)
	}
}

func TestValidate(t *testing.T) {
	warnings, err := Default().Validate()
	if err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	// 2000 is a multiple of 20 and 1755 of 65.
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	warnings, err = New(map[models.Exchange]int{models.NFO: 75}, map[models.Exchange]int{models.NFO: 1000}).Validate()
	if err != nil || len(warnings) != 1 {
		t.Errorf("expected one warning, got %v, %v", warnings, err)
	}

	if _, err := New(map[models.Exchange]int{models.NFO: 0}, map[models.Exchange]int{models.NFO: 10}).Validate(); err == nil {
		t.Error("zero lot size must be rejected")
	}
	if _, err := New(map[models.Exchange]int{models.NFO: 65}, nil).Validate(); err == nil {
		t.Error("missing cap must be rejected")
	}
}

func TestMergeDoesNotMutate(t *testing.T) {
	base := Default()
	merged := base.Merge(map[models.Exchange]int{models.NFO: 75}, nil)
	if base.LotSize(models.NFO) != 65 {
		t.Error("Merge mutated the receiver")
	}
	if merged.LotSize(models.NFO) != 75 || merged.MaxOrderQuantity(models.NFO) != 1755 {
		t.Errorf("unexpected merge result: lot=%d cap=%d", merged.LotSize(models.NFO), merged.MaxOrderQuantity(models.NFO))
	}
}

func TestLoadLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lot_sizes_config.json")
	content := `{"lot_sizes": {"NFO": 75, "BFO": 15}, "max_quantity": {"NFO": 1800}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	lots, caps, err := LoadLegacyFile(path)
	if err != nil {
		t.Fatalf("LoadLegacyFile: %v", err)
	}
	if lots[models.NFO] != 75 || lots[models.BFO] != 15 || caps[models.NFO] != 1800 {
		t.Errorf("unexpected overrides: lots=%v caps=%v", lots, caps)
	}
	if _, ok := caps[models.BFO]; ok {
		t.Error("absent cap must not be reported")
	}

	if _, _, err := LoadLegacyFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file must fail")
	}
}

// Property: for all positive q and lot L>0, round_up_to_lot(q) is a multiple
// of L, is >= q, and is less than q + L.
func TestProperty_LotAlignment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("rounded quantity is a lot multiple not below the input", prop.ForAll(
		func(q float64, lot int) bool {
			p := New(map[models.Exchange]int{models.NFO: lot}, map[models.Exchange]int{models.NFO: lot * 10})
			qty := decimal.NewFromFloat(q)
			got := p.RoundUpToLot(qty, models.NFO)
			if got%lot != 0 {
				return false
			}
			rounded := decimal.NewFromInt(int64(got))
			return rounded.GreaterThanOrEqual(qty) && rounded.LessThan(qty.Add(decimal.NewFromInt(int64(lot))))
		},
		gen.Float64Range(0.001, 100000),
		gen.IntRange(1, 1000),
	))

	properties.Property("integer rounding agrees with decimal rounding", prop.ForAll(
		func(q, lot int) bool {
			p := New(map[models.Exchange]int{models.BFO: lot}, nil)
			return p.RoundUp(q, models.BFO) == p.RoundUpToLot(decimal.NewFromInt(int64(q)), models.BFO)
		},
		gen.IntRange(-1000, 100000),
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}
