// Package broker provides the per-account broker gateway and its
// implementations.
package broker

import (
	"context"

	"zerodha-copier/internal/models"
)

// Gateway is the authenticated per-account broker handle a sync cycle
// reads from and writes to. Every call is a blocking round trip.
type Gateway interface {
	// Positions returns the net and day position books.
	Positions(ctx context.Context) (models.PositionBook, error)
	// Margins returns equity net and utilised debits. A failed call or an
	// account without the equity segment is errors.ErrMarginUnavailable.
	Margins(ctx context.Context) (models.Margin, error)
	// Quote returns last prices keyed by "EXCHANGE:SYMBOL".
	Quote(ctx context.Context, keys ...string) (map[string]float64, error)
	// PlaceOrder submits one order and returns its id without waiting for a fill.
	PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error)
	// OrderHistory returns the status transitions of an order.
	OrderHistory(ctx context.Context, orderID string) ([]models.OrderStatus, error)
}

// Connector opens a gateway for an account. Implementations own token
// persistence.
type Connector interface {
	Connect(ctx context.Context, acct models.Account) (Gateway, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, acct models.Account) (Gateway, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, acct models.Account) (Gateway, error) {
	return f(ctx, acct)
}
