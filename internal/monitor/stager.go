package monitor

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// Stager computes the exact quantity to exit for a triggered condition,
// accounting for quantity already removed by earlier stages. Partial-exit
// quantities are floor-rounded to the order increment and never exceed the
// remaining quantity; any rounding remainder is folded into the final stage,
// which always exits the exact remaining amount.
type Stager struct {
	th Thresholds
}

// NewStager creates a Stager from the configured thresholds.
func NewStager(th Thresholds) *Stager {
	return &Stager{th: th}
}

// Plan returns the quantity to exit and the stage label for the given
// winning condition. A zero quantity means there is nothing left to do for
// this trigger.
func (s *Stager) Plan(pos domain.Position, kind domain.ConditionKind) (decimal.Decimal, domain.ExitStage) {
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, domain.StageFull
	}

	if kind == domain.KindPartialExitTarget {
		pnl := pos.PnLPercent()
		switch {
		case !pos.StageOneDone && pnl.GreaterThanOrEqual(s.th.StageOnePct):
			return s.stagedQty(pos, s.th.StageOneFraction), domain.StageOne
		case pos.StageOneDone && !pos.StageTwoDone && pnl.GreaterThanOrEqual(s.th.StageTwoPct):
			return s.stagedQty(pos, s.th.StageTwoFraction), domain.StageTwo
		default:
			return decimal.Zero, domain.StageFull
		}
	}

	// Every other condition liquidates whatever remains.
	if pos.StageOneDone || pos.StageTwoDone {
		return pos.Quantity, domain.StageRemainder
	}
	return pos.Quantity, domain.StageFull
}

// stagedQty computes fraction * original quantity, floored to the order
// increment and capped at the remaining quantity.
func (s *Stager) stagedQty(pos domain.Position, fraction decimal.Decimal) decimal.Decimal {
	raw := pos.OriginalQuantity.Mul(fraction)
	inc := s.th.OrderIncrement
	if inc.IsPositive() {
		raw = raw.Div(inc).Floor().Mul(inc)
	}
	if raw.GreaterThan(pos.Quantity) {
		return pos.Quantity
	}
	return raw
}

// MarkStage flags a stage as fired on the position. Stages fire at most once
// for the lifetime of the position.
func MarkStage(pos *domain.Position, stage domain.ExitStage) {
	switch stage {
	case domain.StageOne:
		pos.StageOneDone = true
	case domain.StageTwo:
		pos.StageTwoDone = true
	}
}
