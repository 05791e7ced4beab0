// Package models provides domain models for the copier.
package models

import (
	"fmt"
	"strings"
)

// Exchange represents a derivatives segment.
type Exchange string

const (
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
)

// ParseExchange normalizes a broker-supplied exchange code.
func ParseExchange(s string) Exchange {
	return Exchange(strings.ToUpper(strings.TrimSpace(s)))
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that flattens a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// SideFor returns the side that moves a position by a signed quantity.
func SideFor(signed int) OrderSide {
	if signed < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// Copy Trades column values.
const (
	CopyBase = "BASE"
	CopyYes  = "YES"
	CopyNo   = "NO"
)

// Account is one row of the account registry.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	RequestURL  string `json:"request_url,omitempty"`
	IsBase      bool   `json:"is_base"`
	CopyEnabled bool   `json:"copy_enabled"`
	// Row is the 1-based spreadsheet row, 0 for non-sheet sources.
	Row int `json:"row,omitempty"`
	// ConfigErr is set when the descriptor cannot be used for trading.
	ConfigErr string `json:"config_error,omitempty"`
}

// Label is the operator-facing name used in logs and tables.
func (a Account) Label() string {
	name := a.DisplayName
	if name == "" {
		name = a.ID
	}
	if a.IsBase {
		return "BASE ACCOUNT " + name
	}
	return name
}

// HasCredentials reports whether the account can open a broker session.
func (a Account) HasCredentials() bool {
	return a.ID != "" && a.APIKey != "" && a.APISecret != ""
}

// CopyMode is the value that would be written to the Copy Trades column.
func (a Account) CopyMode() string {
	switch {
	case a.IsBase:
		return CopyBase
	case a.CopyEnabled:
		return CopyYes
	default:
		return CopyNo
	}
}

func (a Account) String() string {
	return fmt.Sprintf("%s (%s)", a.Label(), a.ID)
}
