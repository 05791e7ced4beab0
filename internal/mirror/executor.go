package mirror

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/logging"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/policy"
)

// maxTagLength is the broker's limit on order tags.
const maxTagLength = 20

// OrderPlacer submits a single market order.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error)
}

// Quoter returns last traded prices keyed by "EXCHANGE:SYMBOL".
type Quoter interface {
	Quote(ctx context.Context, keys ...string) (map[string]float64, error)
}

// Trader is the slice of a broker gateway the executor writes through.
type Trader interface {
	OrderPlacer
	Quoter
}

// ExecutorConfig fixes the order attributes shared by every chunk.
type ExecutorConfig struct {
	Product  models.ProductType
	Validity string
}

// Executor turns plans into order batches.
type Executor struct {
	policy policy.Policy
	cfg    ExecutorConfig
	logger zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(p policy.Policy, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	if cfg.Product == "" {
		cfg.Product = models.ProductNRML
	}
	if cfg.Validity == "" {
		cfg.Validity = "DAY"
	}
	return &Executor{policy: p, cfg: cfg, logger: logger}
}

// Tag builds the order tag for the n-th chunk of a batch.
func Tag(prefix string, n int) string {
	tag := fmt.Sprintf("%s%d", prefix, n)
	if len(tag) > maxTagLength {
		tag = tag[:maxTagLength]
	}
	return tag
}

// Execute submits plan through t for accountID. Chunks go out sequentially;
// the first rejected chunk abandons the rest of the batch. Nothing is
// retried.
func (x *Executor) Execute(ctx context.Context, t Trader, accountID string, kind models.TradeKind, tagPrefix string, plan models.MirrorPlan) models.TradeResult {
	result := models.TradeResult{
		Kind:     kind,
		Symbol:   plan.Symbol,
		Exchange: plan.Exchange,
		Intended: plan.Intended,
		Current:  plan.Current,
		Quantity: plan.Quantity,
		Reason:   plan.Reason,
	}
	log := logging.WithSymbol(x.logger, string(plan.Exchange), plan.Symbol).With().
		Str("account", accountID).
		Str("kind", string(kind)).
		Logger()

	if plan.IsNoOp() {
		result.Status = models.TradeNoOp
		log.Debug().Int("intended", plan.Intended).Int("current", plan.Current).Str("reason", plan.Reason).Msg("No trade needed")
		return result
	}
	side := plan.Action.Side()
	result.Side = side

	price, err := x.resolvePrice(ctx, t, plan)
	if err != nil {
		return x.fail(log, result, err)
	}

	chunks := Split(plan.Quantity, x.policy.MaxOrderQuantity(plan.Exchange))
	log.Info().
		Str("side", string(side)).
		Int("quantity", plan.Quantity).
		Int("chunks", len(chunks)).
		Float64("ltp", price).
		Int("intended", plan.Intended).
		Int("current", plan.Current).
		Msg("Submitting order batch")

	for i, qty := range chunks {
		if err := ctx.Err(); err != nil {
			oe := errors.NewOrderError(accountID, plan.Symbol, string(plan.Exchange), string(side), qty, i+1, result.OrderIDs, err)
			return x.fail(log, result, oe)
		}
		tag := Tag(tagPrefix, i+1)
		req := models.OrderRequest{
			Exchange: plan.Exchange,
			Symbol:   plan.Symbol,
			Side:     side,
			Type:     models.OrderTypeMarket,
			Product:  x.cfg.Product,
			Validity: x.cfg.Validity,
			Quantity: qty,
			Tag:      tag,
		}
		orderID, err := t.PlaceOrder(ctx, req)
		if err != nil {
			if errors.Is(err, errors.ErrReadOnlyMode) {
				result.Status = models.TradeSimulated
				result.Reason = "read-only: order not sent"
				log.Warn().Str("side", string(side)).Int("quantity", plan.Quantity).Msg("Read-only mode, batch not submitted")
				return result
			}
			if !errors.Is(err, errors.ErrOrderSubmission) {
				err = fmt.Errorf("%w: %v", errors.ErrOrderSubmission, err)
			}
			oe := errors.NewOrderError(accountID, plan.Symbol, string(plan.Exchange), string(side), qty, i+1, result.OrderIDs, err)
			return x.fail(log, result, oe)
		}
		result.OrderIDs = append(result.OrderIDs, orderID)
		logging.LogOrder(log, orderID, string(side), qty, tag)
	}

	result.Status = models.TradePlaced
	return result
}

func (x *Executor) resolvePrice(ctx context.Context, q Quoter, plan models.MirrorPlan) (float64, error) {
	if plan.LastPrice > 0 {
		return plan.LastPrice, nil
	}
	key := plan.Key().String()
	quotes, err := q.Quote(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errors.ErrQuoteUnavailable, key, err)
	}
	if ltp := quotes[key]; ltp > 0 {
		return ltp, nil
	}
	return 0, fmt.Errorf("%w: %s: no positive last price", errors.ErrQuoteUnavailable, key)
}

func (x *Executor) fail(log zerolog.Logger, result models.TradeResult, err error) models.TradeResult {
	result.Status = models.TradeFailed
	result.Err = err
	result.ErrorKind = errors.Kind(err)
	result.Reason = err.Error()
	log.Error().
		Err(err).
		Str("side", string(result.Side)).
		Int("quantity", result.Quantity).
		Strs("order_ids", result.OrderIDs).
		Msg("Trade abandoned")
	return result
}
