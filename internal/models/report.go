package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind distinguishes stray closures from proportional mirroring.
type TradeKind string

const (
	TradeClose  TradeKind = "close"
	TradeMirror TradeKind = "mirror"
)

// TradeStatus is the outcome of one logical trade.
type TradeStatus string

const (
	TradePlaced    TradeStatus = "placed"
	TradeNoOp      TradeStatus = "noop"
	TradeFailed    TradeStatus = "failed"
	TradeSimulated TradeStatus = "simulated"
)

// TradeResult records one logical trade and the order chunks it produced.
type TradeResult struct {
	Kind      TradeKind   `json:"kind"`
	Symbol    string      `json:"symbol"`
	Exchange  Exchange    `json:"exchange"`
	Side      OrderSide   `json:"side,omitempty"`
	Intended  int         `json:"intended"`
	Current   int         `json:"current"`
	Quantity  int         `json:"quantity"`
	OrderIDs  []string    `json:"order_ids,omitempty"`
	Status    TradeStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Err       error       `json:"-"`
}

// TargetStatus is the outcome of one target account's pass.
type TargetStatus string

const (
	TargetSynced  TargetStatus = "synced"
	TargetPartial TargetStatus = "partial"
	TargetSkipped TargetStatus = "skipped"
	TargetFailed  TargetStatus = "failed"
)

// TargetReport summarizes one target account's pass.
type TargetReport struct {
	AccountID   string          `json:"account_id"`
	DisplayName string          `json:"display_name"`
	Status      TargetStatus    `json:"status"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	Margin      decimal.Decimal `json:"margin"`
	Ratio       decimal.Decimal `json:"ratio"`
	Trades      []TradeResult   `json:"trades,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
}

// Failures counts trades that did not go through.
func (t TargetReport) Failures() int {
	n := 0
	for _, tr := range t.Trades {
		if tr.Status == TradeFailed {
			n++
		}
	}
	return n
}

// SyncReport is the summary of one orchestrator pass.
type SyncReport struct {
	RunID         string                `json:"run_id"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	DryRun        bool                  `json:"dry_run"`
	BaseID        string                `json:"base_id"`
	BaseName      string                `json:"base_name"`
	BaseMargin    decimal.Decimal       `json:"base_margin"`
	BasePositions []Position            `json:"base_positions"`
	Targets       []TargetReport        `json:"targets"`
	Fatal         string                `json:"fatal,omitempty"`
	Snapshots     map[string][]Position `json:"snapshots,omitempty"`
}

// Duration is the wall time of the pass.
func (r *SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OrdersPlaced counts accepted order chunks across all targets.
func (r *SyncReport) OrdersPlaced() int {
	n := 0
	for _, t := range r.Targets {
		for _, tr := range t.Trades {
			n += len(tr.OrderIDs)
		}
	}
	return n
}

// HasFailures reports whether any target or trade failed.
func (r *SyncReport) HasFailures() bool {
	if r.Fatal != "" {
		return true
	}
	for _, t := range r.Targets {
		if t.Status == TargetFailed || t.Status == TargetPartial {
			return true
		}
	}
	return false
}

// Status is the one-word outcome used by the journal and metrics.
func (r *SyncReport) Status() string {
	switch {
	case r.Fatal != "":
		return "fatal"
	case r.HasFailures():
		return "partial"
	default:
		return "ok"
	}
}

// SyncStatus labels a position for the post-sync table.
func SyncStatus(isBase bool, key PositionKey, baseKeys map[PositionKey]bool) string {
	switch {
	case isBase:
		return "BASE"
	case baseKeys[key]:
		return "SYNCED"
	default:
		return "NOT SYNCED"
	}
}
