// Package policy holds per-exchange lot sizes and order quantity caps.
package policy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

// Built-in defaults, used when configuration does not override them.
var (
	DefaultLotSizes = map[models.Exchange]int{
		models.NFO: 65,
		models.BFO: 20,
	}
	DefaultMaxQuantity = map[models.Exchange]int{
		models.NFO: 1755,
		models.BFO: 2000,
	}
)

// Policy answers lot and cap questions for an exchange. It is an immutable
// value; build one per configuration.
type Policy struct {
	lots map[models.Exchange]int
	caps map[models.Exchange]int
}

// New copies lots and caps into a Policy.
func New(lots, caps map[models.Exchange]int) Policy {
	p := Policy{
		lots: make(map[models.Exchange]int, len(lots)),
		caps: make(map[models.Exchange]int, len(caps)),
	}
	for ex, n := range lots {
		p.lots[models.ParseExchange(string(ex))] = n
	}
	for ex, n := range caps {
		p.caps[models.ParseExchange(string(ex))] = n
	}
	return p
}

// Default returns the built-in NFO/BFO policy.
func Default() Policy {
	return New(DefaultLotSizes, DefaultMaxQuantity)
}

// LotSize returns the lot size of ex, 0 when unknown.
func (p Policy) LotSize(ex models.Exchange) int {
	return p.lots[models.ParseExchange(string(ex))]
}

// MaxOrderQuantity returns the single-order cap of ex, 0 when unknown.
func (p Policy) MaxOrderQuantity(ex models.Exchange) int {
	return p.caps[models.ParseExchange(string(ex))]
}

// RoundUpToLot returns ceil(qty/lot)*lot, or 0 if qty <= 0 or the lot is
// unknown.
func (p Policy) RoundUpToLot(qty decimal.Decimal, ex models.Exchange) int {
	lot := p.LotSize(ex)
	if lot <= 0 || !qty.IsPositive() {
		return 0
	}
	l := decimal.NewFromInt(int64(lot))
	return int(qty.Div(l).Ceil().Mul(l).IntPart())
}

// RoundUp is RoundUpToLot for integral quantities.
func (p Policy) RoundUp(qty int, ex models.Exchange) int {
	lot := p.LotSize(ex)
	if lot <= 0 || qty <= 0 {
		return 0
	}
	return ((qty + lot - 1) / lot) * lot
}

// Exchanges lists the exchanges with a positive lot size, sorted.
func (p Policy) Exchanges() []models.Exchange {
	out := make([]models.Exchange, 0, len(p.lots))
	for ex, lot := range p.lots {
		if lot > 0 {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate rejects non-positive values. Caps that are not a lot multiple are
// returned as warnings; the last chunk of a split would not be lot aligned.
func (p Policy) Validate() (warnings []string, err error) {
	for ex, lot := range p.lots {
		if lot <= 0 {
			return nil, errors.NewValidationError("policy.lot_sizes."+string(ex), lot, "must be positive")
		}
		limit := p.caps[ex]
		if limit <= 0 {
			return nil, errors.NewValidationError("policy.max_quantity."+string(ex), limit, "must be positive")
		}
		if limit%lot != 0 {
			warnings = append(warnings, fmt.Sprintf("%s cap %d is not a multiple of lot size %d", ex, limit, lot))
		}
	}
	sort.Strings(warnings)
	return warnings, nil
}

// Merge returns a copy of p with the given overrides applied.
func (p Policy) Merge(lots, caps map[models.Exchange]int) Policy {
	mergedLots := make(map[models.Exchange]int, len(p.lots))
	mergedCaps := make(map[models.Exchange]int, len(p.caps))
	for ex, n := range p.lots {
		mergedLots[ex] = n
	}
	for ex, n := range p.caps {
		mergedCaps[ex] = n
	}
	for ex, n := range lots {
		mergedLots[ex] = n
	}
	for ex, n := range caps {
		mergedCaps[ex] = n
	}
	return New(mergedLots, mergedCaps)
}

// LoadLegacyFile reads a lot_sizes_config.json file of the form
// {"lot_sizes": {"NFO": 65}, "max_quantity": {"NFO": 1755}} and returns the
// overrides it carries.
func LoadLegacyFile(path string) (lots, caps map[models.Exchange]int, err error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, errors.Wrapf(errors.ErrConfiguration, "failed to read lot size file %s: %v", path, err)
	}
	lots = toExchangeMap(v.GetStringMap("lot_sizes"))
	caps = toExchangeMap(v.GetStringMap("max_quantity"))
	return lots, caps, nil
}

func toExchangeMap(raw map[string]interface{}) map[models.Exchange]int {
	out := make(map[models.Exchange]int, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[models.ParseExchange(k)] = int(n)
		case int:
			out[models.ParseExchange(k)] = n
		case int64:
			out[models.ParseExchange(k)] = int(n)
		}
	}
	return out
}
