package models

import "time"

// Action is the outcome of a mirror plan.
type Action string

const (
	ActionNoOp Action = "NOOP"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side converts a trading action to an order side.
func (a Action) Side() OrderSide {
	if a == ActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// MirrorPlan is the trade that converges one target position towards its
// intended size. Quantity is the unsigned, lot-aligned magnitude to trade.
type MirrorPlan struct {
	Symbol    string   `json:"symbol"`
	Exchange  Exchange `json:"exchange"`
	Intended  int      `json:"intended"`
	Current   int      `json:"current"`
	Delta     int      `json:"delta"`
	Action    Action   `json:"action"`
	Quantity  int      `json:"quantity"`
	Reason    string   `json:"reason,omitempty"`
	LastPrice float64  `json:"last_price,omitempty"`
}

// IsNoOp reports whether the plan issues no order.
func (p MirrorPlan) IsNoOp() bool {
	return p.Action == ActionNoOp || p.Quantity <= 0
}

// Key returns the position key the plan acts on.
func (p MirrorPlan) Key() PositionKey {
	return NewPositionKey(p.Exchange, p.Symbol)
}

// OrderRequest is a single market order submission.
type OrderRequest struct {
	Exchange Exchange    `json:"exchange"`
	Symbol   string      `json:"symbol"`
	Side     OrderSide   `json:"side"`
	Type     OrderType   `json:"type"`
	Product  ProductType `json:"product"`
	Validity string      `json:"validity"`
	Quantity int         `json:"quantity"`
	Tag      string      `json:"tag,omitempty"`
}

// Broker order statuses that end an order's lifecycle.
const (
	OrderStatusComplete  = "COMPLETE"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// OrderStatus is one entry of an order's history.
type OrderStatus struct {
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Exchange       Exchange  `json:"exchange"`
	Side           OrderSide `json:"side"`
	Status         string    `json:"status"`
	StatusMessage  string    `json:"status_message,omitempty"`
	Quantity       int       `json:"quantity"`
	FilledQuantity int       `json:"filled_quantity"`
	AveragePrice   float64   `json:"average_price"`
	Timestamp      time.Time `json:"timestamp"`
}

// Interpretation renders the operator-facing meaning of a terminal status.
func (s OrderStatus) Interpretation() string {
	switch s.Status {
	case OrderStatusRejected:
		if s.StatusMessage != "" {
			return "Order was rejected: " + s.StatusMessage
		}
		return "Order was rejected"
	case OrderStatusCancelled:
		return "Order was cancelled"
	case OrderStatusComplete:
		return "Order executed successfully"
	default:
		return "Order is " + s.Status
	}
}
