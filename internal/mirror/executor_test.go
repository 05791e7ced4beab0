package mirror

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

type recordingTrader struct {
	orders   []models.OrderRequest
	failAt   int // 1-based chunk that fails, 0 for never
	failWith error
	quotes   map[string]float64
	quoteErr error
}

func (r *recordingTrader) PlaceOrder(_ context.Context, req models.OrderRequest) (string, error) {
	if r.failAt > 0 && len(r.orders)+1 == r.failAt {
		return "", r.failWith
	}
	r.orders = append(r.orders, req)
	return fmt.Sprintf("ORD%d", len(r.orders)), nil
}

func (r *recordingTrader) Quote(_ context.Context, keys ...string) (map[string]float64, error) {
	if r.quoteErr != nil {
		return nil, r.quoteErr
	}
	return r.quotes, nil
}

func newTestExecutor() *Executor {
	return NewExecutor(lot75(), ExecutorConfig{}, zerolog.Nop())
}

func sellPlan(qty int, ltp float64) models.MirrorPlan {
	return models.MirrorPlan{
		Symbol:    "NIFTY24DECFUT",
		Exchange:  models.NFO,
		Intended:  -qty,
		Delta:     -qty,
		Action:    models.ActionSell,
		Quantity:  qty,
		LastPrice: ltp,
	}
}

func TestExecuteSplitsIntoChunks(t *testing.T) {
	tr := &recordingTrader{}
	res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeMirror, "mimic", sellPlan(4000, 24000))

	if res.Status != models.TradePlaced {
		t.Fatalf("status = %s (%v)", res.Status, res.Err)
	}
	if len(tr.orders) != 3 || len(res.OrderIDs) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(tr.orders))
	}
	wantQty := []int{1755, 1755, 490}
	for i, o := range tr.orders {
		if o.Quantity != wantQty[i] {
			t.Errorf("chunk %d qty = %d, want %d", i+1, o.Quantity, wantQty[i])
		}
		if o.Side != models.OrderSideSell || o.Type != models.OrderTypeMarket || o.Product != models.ProductNRML || o.Validity != "DAY" {
			t.Errorf("chunk %d has unexpected attributes: %+v", i+1, o)
		}
		if o.Tag != fmt.Sprintf("mimic%d", i+1) {
			t.Errorf("chunk %d tag = %q", i+1, o.Tag)
		}
	}
}

func TestExecuteAbortsOnChunkFailure(t *testing.T) {
	tr := &recordingTrader{failAt: 2, failWith: errors.New("RMS: margin exceeds")}
	res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeClose, "close", sellPlan(4000, 100))

	if res.Status != models.TradeFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if len(tr.orders) != 1 {
		t.Errorf("remaining chunks must be abandoned, %d submitted", len(tr.orders))
	}
	if !errors.Is(res.Err, errors.ErrOrderSubmission) {
		t.Errorf("expected ErrOrderSubmission, got %v", res.Err)
	}
	var oe *errors.OrderError
	if !errors.As(res.Err, &oe) || oe.Chunk != 2 || len(oe.OrderIDs) != 1 || oe.Quantity != 1755 {
		t.Errorf("unexpected order error: %+v", oe)
	}
	if res.ErrorKind != "order_submission" {
		t.Errorf("ErrorKind = %q", res.ErrorKind)
	}
}

func TestExecuteQuoteFallback(t *testing.T) {
	tr := &recordingTrader{quotes: map[string]float64{"NFO:NIFTY24DECFUT": 23950.5}}
	res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeMirror, "mimic", sellPlan(75, 0))
	if res.Status != models.TradePlaced || len(tr.orders) != 1 {
		t.Errorf("expected order after quote fallback, got %s", res.Status)
	}
}

func TestExecuteQuoteUnavailable(t *testing.T) {
	for name, tr := range map[string]*recordingTrader{
		"error":    {quoteErr: errors.New("timeout")},
		"zero ltp": {quotes: map[string]float64{"NFO:NIFTY24DECFUT": 0}},
		"missing":  {quotes: map[string]float64{}},
	} {
		res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeMirror, "mimic", sellPlan(75, 0))
		if res.Status != models.TradeFailed || !errors.Is(res.Err, errors.ErrQuoteUnavailable) {
			t.Errorf("%s: expected quote failure, got %s %v", name, res.Status, res.Err)
		}
		if len(tr.orders) != 0 {
			t.Errorf("%s: no order may be placed without a price", name)
		}
	}
}

func TestExecuteReadOnly(t *testing.T) {
	tr := &recordingTrader{failAt: 1, failWith: fmt.Errorf("place order: %w", errors.ErrReadOnlyMode)}
	res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeMirror, "mimic", sellPlan(150, 10))
	if res.Status != models.TradeSimulated || res.Err != nil {
		t.Errorf("expected simulated trade, got %s %v", res.Status, res.Err)
	}
}

func TestExecuteNoOp(t *testing.T) {
	tr := &recordingTrader{}
	plan := models.MirrorPlan{Symbol: "X", Exchange: models.NFO, Action: models.ActionNoOp, Reason: "already in sync"}
	res := newTestExecutor().Execute(context.Background(), tr, "CD5678", models.TradeMirror, "mimic", plan)
	if res.Status != models.TradeNoOp || len(tr.orders) != 0 {
		t.Errorf("no-op plan must not trade: %+v", res)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &recordingTrader{}
	res := newTestExecutor().Execute(ctx, tr, "CD5678", models.TradeMirror, "mimic", sellPlan(75, 10))
	if res.Status != models.TradeFailed || len(tr.orders) != 0 {
		t.Errorf("cancelled context must not submit, got %+v", res)
	}
}
