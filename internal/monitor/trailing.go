package monitor

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TrailingTracker maintains per-position peak and stop prices. Trailing only
// begins once the activation profit threshold is crossed; after that the
// stop price moves monotonically in the profit-favorable direction and is
// never loosened by a retrace.
type TrailingTracker struct {
	activationPct decimal.Decimal
	trailPct      decimal.Decimal
}

// NewTrailingTracker creates a tracker with the given activation profit
// threshold and trail distance, both in percent.
func NewTrailingTracker(activationPct, trailPct decimal.Decimal) *TrailingTracker {
	return &TrailingTracker{activationPct: activationPct, trailPct: trailPct}
}

// Update advances the trailing state for the current price. It mutates only
// pos.Trailing and assumes pos.CurrentPrice has already been refreshed.
func (t *TrailingTracker) Update(pos *domain.Position) {
	price := pos.CurrentPrice
	if price.IsZero() {
		return
	}

	if !pos.Trailing.Activated {
		if pos.PnLPercent().GreaterThanOrEqual(t.activationPct) {
			pos.Trailing.Activated = true
			pos.Trailing.PeakPrice = price
			pos.Trailing.StopPrice = t.stopFor(pos.Side, price)
		}
		return
	}

	if improved(pos.Side, price, pos.Trailing.PeakPrice) {
		pos.Trailing.PeakPrice = price
		candidate := t.stopFor(pos.Side, price)
		if tightens(pos.Side, candidate, pos.Trailing.StopPrice) {
			pos.Trailing.StopPrice = candidate
		}
	}
}

// stopFor computes the stop price at the given peak: below peak for a long,
// above peak for a short.
func (t *TrailingTracker) stopFor(side domain.PositionSide, peak decimal.Decimal) decimal.Decimal {
	trail := peak.Mul(t.trailPct).Div(hundred)
	if side == domain.SideShort {
		return domain.RoundPrice(peak.Add(trail))
	}
	return domain.RoundPrice(peak.Sub(trail))
}

func improved(side domain.PositionSide, price, peak decimal.Decimal) bool {
	if side == domain.SideShort {
		return price.LessThan(peak)
	}
	return price.GreaterThan(peak)
}

// tightens reports whether candidate is strictly more protective than the
// current stop: higher for a long, lower for a short.
func tightens(side domain.PositionSide, candidate, current decimal.Decimal) bool {
	if side == domain.SideShort {
		return candidate.LessThan(current)
	}
	return candidate.GreaterThan(current)
}
