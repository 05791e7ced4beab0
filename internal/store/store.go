// Package store provides the sync journal: a history of cycles and the
// orders they placed.
package store

import (
	"context"
	"time"

	"zerodha-copier/internal/models"
)

// Journal defines the interface for sync history persistence.
type Journal interface {
	// Runs
	SaveReport(ctx context.Context, report *models.SyncReport) error
	RecentRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	GetRun(ctx context.Context, runID string) (*RunSummary, error)

	// Trades
	Trades(ctx context.Context, runID string) ([]TradeRecord, error)
	FindOrder(ctx context.Context, orderID string) (*TradeRecord, error)

	Close() error
}

// RunFilter defines filters for listing runs.
type RunFilter struct {
	Since  time.Time
	Status string // ok, partial, fatal
	Limit  int
}

// RunSummary is one journaled cycle.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	BaseID     string
	Status     string
	Targets    int
	Orders     int
	Failures   int
	Fatal      string
}

// Duration is the wall time of the run.
func (r RunSummary) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TradeRecord is one journaled trade of a target account.
type TradeRecord struct {
	RunID     string
	AccountID string
	Kind      models.TradeKind
	Exchange  models.Exchange
	Symbol    string
	Side      models.OrderSide
	Intended  int
	Current   int
	Quantity  int
	OrderIDs  []string
	Status    models.TradeStatus
	Reason    string
	ErrorKind string
	CreatedAt time.Time
}
