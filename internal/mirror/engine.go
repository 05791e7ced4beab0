// Package mirror sizes target positions against the base account and turns
// the difference into lot-aligned, cap-split market orders.
package mirror

import (
	"fmt"

	"github.com/shopspring/decimal"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/policy"
)

// Engine is stateless between calls; everything it needs is passed in or
// read from the policy it was built with.
type Engine struct {
	policy policy.Policy
}

// NewEngine creates an engine bound to a lot and cap policy.
func NewEngine(p policy.Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the policy the engine sizes with.
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// Ratio is target total margin over base total margin.
func Ratio(baseMargin, targetMargin models.Margin) (decimal.Decimal, error) {
	baseTotal := baseMargin.Total()
	if !baseTotal.IsPositive() {
		return decimal.Zero, errors.Wrapf(errors.ErrMarginUnavailable, "base total margin %s", baseTotal.String())
	}
	return targetMargin.Total().Div(baseTotal), nil
}

// IntendedQuantity sizes a target position proportionally to the base
// position, rounded up to a whole lot and carrying the base's sign.
func (e *Engine) IntendedQuantity(base models.Position, baseMargin, targetMargin models.Margin) (int, error) {
	baseTotal := baseMargin.Total()
	if !baseTotal.IsPositive() {
		return 0, errors.Wrapf(errors.ErrMarginUnavailable, "base total margin %s", baseTotal.String())
	}
	targetTotal := targetMargin.Total()
	if !targetTotal.IsPositive() {
		return 0, errors.Wrapf(errors.ErrMarginUnavailable, "target total margin %s", targetTotal.String())
	}
	if base.Quantity == 0 {
		return 0, nil
	}

	// Multiply before dividing so exact ratios stay exact.
	abs := decimal.NewFromInt(int64(absInt(base.Quantity)))
	raw := targetTotal.Mul(abs).Div(baseTotal)
	intended := e.policy.RoundUpToLot(raw, base.Exchange)
	if base.Quantity < 0 {
		intended = -intended
	}
	return intended, nil
}

// Plan computes the delta trade that moves a target holding current towards
// its proportional share of base.
func (e *Engine) Plan(base models.Position, current int, baseMargin, targetMargin models.Margin) (models.MirrorPlan, error) {
	plan := models.MirrorPlan{
		Symbol:    base.Symbol,
		Exchange:  models.ParseExchange(string(base.Exchange)),
		Current:   current,
		Action:    models.ActionNoOp,
		LastPrice: base.LastPrice,
	}

	lot := e.policy.LotSize(plan.Exchange)
	if lot <= 0 {
		plan.Reason = "no lot size configured for " + string(plan.Exchange)
		return plan, errors.NewValidationError("policy.lot_sizes."+string(plan.Exchange), lot, "unknown exchange")
	}

	intended, err := e.IntendedQuantity(base, baseMargin, targetMargin)
	if err != nil {
		plan.Reason = "margin unavailable"
		return plan, err
	}
	plan.Intended = intended
	if intended == 0 {
		plan.Reason = "intended quantity rounds to zero"
		return plan, nil
	}
	plan.Delta = intended - current

	return e.applyDelta(plan, lot), nil
}

// ClosePlan flattens a stray target position. The order size is the held
// quantity rounded up to a whole lot.
func (e *Engine) ClosePlan(p models.Position) models.MirrorPlan {
	plan := models.MirrorPlan{
		Symbol:    p.Symbol,
		Exchange:  models.ParseExchange(string(p.Exchange)),
		Intended:  0,
		Current:   p.Quantity,
		Delta:     -p.Quantity,
		Action:    models.ActionNoOp,
		LastPrice: p.LastPrice,
	}
	qty := e.policy.RoundUp(absInt(p.Quantity), plan.Exchange)
	if qty == 0 {
		plan.Reason = "already closed or too small to trade"
		return plan
	}
	plan.Quantity = qty
	if p.Quantity > 0 {
		plan.Action = models.ActionSell
	} else {
		plan.Action = models.ActionBuy
	}
	return plan
}

func (e *Engine) applyDelta(plan models.MirrorPlan, lot int) models.MirrorPlan {
	if absInt(plan.Delta) < lot {
		if plan.Delta == 0 {
			plan.Reason = "already in sync"
		} else {
			plan.Reason = fmt.Sprintf("within one lot of target (delta %d, lot %d)", plan.Delta, lot)
		}
		return plan
	}
	plan.Quantity = e.policy.RoundUp(absInt(plan.Delta), plan.Exchange)
	if plan.Delta > 0 {
		plan.Action = models.ActionBuy
	} else {
		plan.Action = models.ActionSell
	}
	return plan
}

// StrayPositions returns the open target positions whose key is not open in
// the base account. When the base holds nothing, every open target position
// is stray.
func StrayPositions(base, target []models.Position) []models.Position {
	baseKeys := make(map[models.PositionKey]bool, len(base))
	for _, p := range base {
		if p.IsOpen() {
			baseKeys[p.Key()] = true
		}
	}
	var stray []models.Position
	for _, p := range target {
		if !p.IsOpen() {
			continue
		}
		if !baseKeys[p.Key()] {
			stray = append(stray, p)
		}
	}
	return stray
}

// Split breaks qty into chunks of at most limit, largest first. A
// non-positive limit yields a single chunk.
func Split(qty, limit int) []int {
	if qty <= 0 {
		return nil
	}
	if limit <= 0 || qty <= limit {
		return []int{qty}
	}
	chunks := make([]int, 0, (qty+limit-1)/limit)
	for qty > limit {
		chunks = append(chunks, limit)
		qty -= limit
	}
	return append(chunks, qty)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
