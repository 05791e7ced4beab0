package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Position is one row of a broker position book. Quantity is signed:
// positive long, negative short.
type Position struct {
	Symbol       string      `json:"symbol"`
	Exchange     Exchange    `json:"exchange"`
	Product      ProductType `json:"product"`
	Quantity     int         `json:"quantity"`
	AveragePrice float64     `json:"average_price"`
	LastPrice    float64     `json:"last_price"`
	PnL          float64     `json:"pnl"`
}

// IsOpen reports whether the position holds any quantity.
func (p Position) IsOpen() bool {
	return p.Quantity != 0
}

// Key returns the cross-account identity of the position.
func (p Position) Key() PositionKey {
	return NewPositionKey(p.Exchange, p.Symbol)
}

// ComputedPnL recomputes P&L from prices, independent of the broker figure.
func (p Position) ComputedPnL() float64 {
	return (p.LastPrice - p.AveragePrice) * float64(p.Quantity)
}

// PositionKey matches positions across accounts. Symbols compare
// case-insensitively.
type PositionKey struct {
	Exchange Exchange
	Symbol   string
}

// NewPositionKey builds a normalized key.
func NewPositionKey(ex Exchange, symbol string) PositionKey {
	return PositionKey{
		Exchange: ParseExchange(string(ex)),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
	}
}

// String renders the key in the broker's quote format, e.g. NFO:NIFTY24DECFUT.
func (k PositionKey) String() string {
	return string(k.Exchange) + ":" + k.Symbol
}

// PositionBook is the broker's net and day position lists.
type PositionBook struct {
	Net []Position `json:"net"`
	Day []Position `json:"day"`
}

// Open returns the open net positions on the given exchanges. With no
// exchanges every open net position is returned.
func (b PositionBook) Open(exchanges ...Exchange) []Position {
	allowed := make(map[Exchange]bool, len(exchanges))
	for _, ex := range exchanges {
		allowed[ex] = true
	}
	var open []Position
	for _, p := range b.Net {
		if !p.IsOpen() {
			continue
		}
		if len(allowed) > 0 && !allowed[ParseExchange(string(p.Exchange))] {
			continue
		}
		open = append(open, p)
	}
	return open
}

// NetQuantity sums the net quantity held under key across products.
func (b PositionBook) NetQuantity(key PositionKey) int {
	total := 0
	for _, p := range b.Net {
		if p.Key() == key {
			total += p.Quantity
		}
	}
	return total
}

// Find returns the first net position matching key.
func (b PositionBook) Find(key PositionKey) (Position, bool) {
	for _, p := range b.Net {
		if p.Key() == key {
			return p, true
		}
	}
	return Position{}, false
}

// Keys returns the set of keys of the given positions.
func Keys(positions []Position) map[PositionKey]bool {
	keys := make(map[PositionKey]bool, len(positions))
	for _, p := range positions {
		keys[p.Key()] = true
	}
	return keys
}

// Margin is an account's equity margin split.
type Margin struct {
	Available decimal.Decimal `json:"available"`
	Used      decimal.Decimal `json:"used"`
}

// Total is the proportionality input for sizing.
func (m Margin) Total() decimal.Decimal {
	return m.Available.Add(m.Used)
}

// Usable reports whether the total can be used as a sizing denominator.
func (m Margin) Usable() bool {
	return m.Total().IsPositive()
}
