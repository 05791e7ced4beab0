package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

// PaperGateway is an in-memory Gateway. Market orders fill instantly at the
// last known price and update the position book. Individual calls can be
// scripted to fail.
type PaperGateway struct {
	positions []models.Position
	margin    models.Margin
	quotes    map[string]float64
	orders    []models.OrderRequest
	history   map[string][]models.OrderStatus

	positionsErr error
	marginErr    error
	quoteErr     error
	orderErrs    map[models.PositionKey]error
	failOnChunk  map[models.PositionKey]int

	orderCounter int
	idPrefix     string
	now          func() time.Time

	mu sync.Mutex
}

// NewPaperGateway creates a paper gateway holding positions.
func NewPaperGateway(margin models.Margin, positions ...models.Position) *PaperGateway {
	return &PaperGateway{
		positions:   append([]models.Position(nil), positions...),
		margin:      margin,
		quotes:      make(map[string]float64),
		history:     make(map[string][]models.OrderStatus),
		orderErrs:   make(map[models.PositionKey]error),
		failOnChunk: make(map[models.PositionKey]int),
		idPrefix:    "PAPER",
		now:         time.Now,
	}
}

// NewPaperMargin is a convenience for margin fixtures.
func NewPaperMargin(available, used int64) models.Margin {
	return models.Margin{Available: decimal.NewFromInt(available), Used: decimal.NewFromInt(used)}
}

// SetIDPrefix changes the prefix of generated order ids.
func (p *PaperGateway) SetIDPrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idPrefix = prefix
}

// SetMargin replaces the margin figures.
func (p *PaperGateway) SetMargin(m models.Margin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.margin = m
}

// SetQuote sets the last price returned for "EXCHANGE:SYMBOL".
func (p *PaperGateway) SetQuote(key string, ltp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[key] = ltp
}

// FailPositions makes Positions return err.
func (p *PaperGateway) FailPositions(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionsErr = err
}

// FailMargins makes Margins return err.
func (p *PaperGateway) FailMargins(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marginErr = err
}

// FailQuotes makes Quote return err.
func (p *PaperGateway) FailQuotes(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quoteErr = err
}

// FailOrders rejects every order on key with err.
func (p *PaperGateway) FailOrders(key models.PositionKey, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderErrs[key] = err
}

// FailOnChunk rejects the n-th order (1-based) submitted on key.
func (p *PaperGateway) FailOnChunk(key models.PositionKey, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnChunk[key] = n
}

// Positions returns copies of the position book. Closed positions stay in
// the book with zero quantity, as the broker reports them.
func (p *PaperGateway) Positions(ctx context.Context) (models.PositionBook, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.positionsErr != nil {
		return models.PositionBook{}, p.positionsErr
	}
	net := append([]models.Position(nil), p.positions...)
	day := append([]models.Position(nil), p.positions...)
	return models.PositionBook{Net: net, Day: day}, nil
}

// Margins returns the configured margin.
func (p *PaperGateway) Margins(ctx context.Context) (models.Margin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.marginErr != nil {
		return models.Margin{}, p.marginErr
	}
	return p.margin, nil
}

// Quote returns configured quotes, falling back to position last prices.
func (p *PaperGateway) Quote(ctx context.Context, keys ...string) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quoteErr != nil {
		return nil, p.quoteErr
	}
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		if ltp, ok := p.quotes[k]; ok {
			out[k] = ltp
			continue
		}
		for _, pos := range p.positions {
			if pos.Key().String() == k && pos.LastPrice > 0 {
				out[k] = pos.LastPrice
				break
			}
		}
	}
	return out, nil
}

// PlaceOrder fills a market order immediately.
func (p *PaperGateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := models.NewPositionKey(req.Exchange, req.Symbol)
	p.orderCounter++
	orderID := fmt.Sprintf("%s%06d", p.idPrefix, p.orderCounter)

	if err := p.rejection(key); err != nil {
		p.history[orderID] = []models.OrderStatus{p.status(orderID, req, models.OrderStatusRejected, err.Error(), 0)}
		return "", fmt.Errorf("%w: %v", errors.ErrOrderSubmission, err)
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", errors.ErrOrderSubmission)
	}

	p.orders = append(p.orders, req)
	signed := req.Quantity
	if req.Side == models.OrderSideSell {
		signed = -signed
	}
	p.apply(key, req, signed)
	p.history[orderID] = []models.OrderStatus{
		p.status(orderID, req, "OPEN", "", 0),
		p.status(orderID, req, models.OrderStatusComplete, "", req.Quantity),
	}
	return orderID, nil
}

func (p *PaperGateway) rejection(key models.PositionKey) error {
	if err, ok := p.orderErrs[key]; ok {
		return err
	}
	if n, ok := p.failOnChunk[key]; ok {
		submitted := 0
		for _, o := range p.orders {
			if models.NewPositionKey(o.Exchange, o.Symbol) == key {
				submitted++
			}
		}
		if submitted+1 == n {
			return fmt.Errorf("chunk %d rejected", n)
		}
	}
	return nil
}

func (p *PaperGateway) apply(key models.PositionKey, req models.OrderRequest, signed int) {
	for i := range p.positions {
		if p.positions[i].Key() == key {
			p.positions[i].Quantity += signed
			return
		}
	}
	p.positions = append(p.positions, models.Position{
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Product:   req.Product,
		Quantity:  signed,
		LastPrice: p.quotes[key.String()],
	})
}

func (p *PaperGateway) status(orderID string, req models.OrderRequest, status, msg string, filled int) models.OrderStatus {
	return models.OrderStatus{
		OrderID:        orderID,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Side:           req.Side,
		Status:         status,
		StatusMessage:  msg,
		Quantity:       req.Quantity,
		FilledQuantity: filled,
		Timestamp:      p.now(),
	}
}

// OrderHistory returns the recorded history of orderID.
func (p *PaperGateway) OrderHistory(ctx context.Context, orderID string) ([]models.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.history[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrOrderNotFound, orderID)
	}
	return append([]models.OrderStatus(nil), h...), nil
}

// Orders returns every accepted order in submission order.
func (p *PaperGateway) Orders() []models.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.OrderRequest(nil), p.orders...)
}

// NetQuantity returns the held quantity under key.
func (p *PaperGateway) NetQuantity(key models.PositionKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PositionBook{Net: p.positions}.NetQuantity(key)
}

// PaperConnector hands out registered paper gateways.
type PaperConnector struct {
	gateways map[string]*PaperGateway
	errs     map[string]error
	mu       sync.RWMutex
}

// NewPaperConnector creates an empty connector.
func NewPaperConnector() *PaperConnector {
	return &PaperConnector{
		gateways: make(map[string]*PaperGateway),
		errs:     make(map[string]error),
	}
}

// Add registers gw for accountID.
func (c *PaperConnector) Add(accountID string, gw *PaperGateway) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateways[accountID] = gw
}

// Fail makes Connect for accountID return err.
func (c *PaperConnector) Fail(accountID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[accountID] = err
}

// Connect returns the gateway registered for acct.
func (c *PaperConnector) Connect(ctx context.Context, acct models.Account) (Gateway, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.errs[acct.ID]; err != nil {
		return nil, errors.NewAccountError(acct.ID, "connect", err)
	}
	gw, ok := c.gateways[acct.ID]
	if !ok {
		return nil, errors.NewAccountError(acct.ID, "connect",
			fmt.Errorf("%w: no paper account registered", errors.ErrAuthentication))
	}
	return gw, nil
}
