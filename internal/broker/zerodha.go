package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/models"
)

// ZerodhaGateway implements Gateway on Kite Connect for one account.
type ZerodhaGateway struct {
	client    *kiteconnect.Client
	accountID string
	logger    zerolog.Logger
}

// NewZerodhaGateway wraps an authenticated Kite client.
func NewZerodhaGateway(client *kiteconnect.Client, accountID string, logger zerolog.Logger) *ZerodhaGateway {
	return &ZerodhaGateway{
		client:    client,
		accountID: accountID,
		logger:    logging.WithAccount(logger, accountID),
	}
}

// newKiteClient builds a client with a bounded HTTP timeout.
func newKiteClient(apiKey string) *kiteconnect.Client {
	client := kiteconnect.New(apiKey)
	client.SetHTTPClient(&http.Client{Timeout: 15 * time.Second})
	return client
}

// Positions fetches the net and day position books.
func (z *ZerodhaGateway) Positions(ctx context.Context) (models.PositionBook, error) {
	start := time.Now()
	positions, err := z.client.GetPositions()
	logging.LogAPICall(z.logger, "positions", time.Since(start), err)
	if err != nil {
		return models.PositionBook{}, fmt.Errorf("failed to get positions: %w", classify(err))
	}

	return models.PositionBook{
		Net: convertPositions(positions.Net),
		Day: convertPositions(positions.Day),
	}, nil
}

func convertPositions(in []kiteconnect.Position) []models.Position {
	out := make([]models.Position, 0, len(in))
	for _, p := range in {
		out = append(out, models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.ParseExchange(p.Exchange),
			Product:      models.ProductType(p.Product),
			Quantity:     int(p.Quantity),
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
		})
	}
	return out
}

// Margins returns equity net as available and utilised debits as used.
func (z *ZerodhaGateway) Margins(ctx context.Context) (models.Margin, error) {
	start := time.Now()
	margins, err := z.client.GetUserMargins()
	logging.LogAPICall(z.logger, "margins", time.Since(start), err)
	if err != nil {
		return models.Margin{}, fmt.Errorf("%w: failed to get margins: %v", errors.ErrMarginUnavailable, classify(err))
	}

	return equityMargin(margins.Equity)
}

// equityMargin converts the equity segment of a Kite margins response. A
// segment the account does not have enabled carries no usable figures.
func equityMargin(equity kiteconnect.Margins) (models.Margin, error) {
	if !equity.Enabled {
		return models.Margin{}, fmt.Errorf("%w: equity segment not enabled", errors.ErrMarginUnavailable)
	}
	return models.Margin{
		Available: decimal.NewFromFloat(equity.Net),
		Used:      decimal.NewFromFloat(equity.Used.Debits),
	}, nil
}

// Quote fetches last traded prices.
func (z *ZerodhaGateway) Quote(ctx context.Context, keys ...string) (map[string]float64, error) {
	start := time.Now()
	quotes, err := z.client.GetQuote(keys...)
	logging.LogAPICall(z.logger, "quote", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", classify(err))
	}

	out := make(map[string]float64, len(quotes))
	for key, q := range quotes {
		out[key] = q.LastPrice
	}
	return out, nil
}

// PlaceOrder submits a regular-variety order.
func (z *ZerodhaGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         string(req.Product),
		Quantity:        req.Quantity,
		Validity:        req.Validity,
		Tag:             req.Tag,
	}
	if params.Validity == "" {
		params.Validity = "DAY"
	}
	if params.OrderType == "" {
		params.OrderType = string(models.OrderTypeMarket)
	}

	start := time.Now()
	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	logging.LogAPICall(z.logger, "place_order", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("%w: %s %d %s:%s: %v", errors.ErrOrderSubmission,
			req.Side, req.Quantity, req.Exchange, req.Symbol, classify(err))
	}
	return resp.OrderID, nil
}

// OrderHistory fetches the status transitions of one order.
func (z *ZerodhaGateway) OrderHistory(ctx context.Context, orderID string) ([]models.OrderStatus, error) {
	start := time.Now()
	history, err := z.client.GetOrderHistory(orderID)
	logging.LogAPICall(z.logger, "order_history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", classify(err))
	}

	out := make([]models.OrderStatus, 0, len(history))
	for _, o := range history {
		out = append(out, models.OrderStatus{
			OrderID:        o.OrderID,
			Symbol:         o.TradingSymbol,
			Exchange:       models.ParseExchange(o.Exchange),
			Side:           models.OrderSide(o.TransactionType),
			Status:         o.Status,
			StatusMessage:  o.StatusMessage,
			Quantity:       int(o.Quantity),
			FilledQuantity: int(o.FilledQuantity),
			AveragePrice:   o.AveragePrice,
			Timestamp:      o.OrderTimestamp.Time,
		})
	}
	return out, nil
}

// classify maps Kite token failures onto ErrAuthentication so callers can
// tell a stale session from a transient failure.
func classify(err error) error {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) && kerr.ErrorType == kiteconnect.TokenError {
		return fmt.Errorf("%w: %v", errors.ErrAuthentication, err)
	}
	return err
}
