package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// EvalInputs bundles the per-tick market and model state needed to evaluate
// exit conditions for one position. The evaluator itself is pure: it reads
// these inputs and the position and produces conditions, nothing else.
type EvalInputs struct {
	Quote         domain.Quote
	HasQuote      bool // false when the quote could not be refreshed this tick
	Edge          decimal.Decimal
	HasEdge       bool
	Rebalance     bool
	BreakerActive bool
	Now           time.Time
}

// Evaluate computes every exit condition that is currently true for the
// position. All ten kinds are checked independently; any subset may trigger.
// The caller resolves priority and acts on at most one.
func Evaluate(pos domain.Position, in EvalInputs, th Thresholds) []domain.Condition {
	var conds []domain.Condition
	add := func(kind domain.ConditionKind, reason string) {
		conds = append(conds, domain.Condition{Kind: kind, Reason: reason, TriggeredAt: in.Now})
	}

	pnlPct := pos.PnLPercent()

	// CRITICAL tier.
	if pnlPct.LessThanOrEqual(th.StopLossPct) {
		add(domain.KindStopLoss, fmt.Sprintf("pnl %s%% <= stop %s%%", pnlPct.StringFixed(2), th.StopLossPct.StringFixed(2)))
	}
	if in.BreakerActive {
		add(domain.KindCircuitBreaker, "system circuit breaker engaged")
	}

	// HIGH tier.
	if pos.Trailing.Activated && crossedStop(pos) {
		add(domain.KindTrailingStop, fmt.Sprintf("price %s crossed trailing stop %s",
			pos.CurrentPrice.StringFixed(4), pos.Trailing.StopPrice.StringFixed(4)))
	}
	if !pos.EventTime.IsZero() && pos.EventTime.Sub(in.Now) < th.TimeUrgentWindow && pos.IsLosing() {
		add(domain.KindTimeBasedUrgent, fmt.Sprintf("losing with %s to event", pos.EventTime.Sub(in.Now).Round(time.Second)))
	}
	if in.HasQuote {
		if in.Quote.Spread().GreaterThan(th.MaxSpread) {
			add(domain.KindLiquidityDriedUp, fmt.Sprintf("spread %s > %s", in.Quote.Spread().StringFixed(4), th.MaxSpread.StringFixed(4)))
		} else if in.Quote.Volume.LessThan(th.MinVolume) {
			add(domain.KindLiquidityDriedUp, fmt.Sprintf("volume %s < %s", in.Quote.Volume.StringFixed(0), th.MinVolume.StringFixed(0)))
		}
	}

	// MEDIUM tier.
	if pnlPct.GreaterThanOrEqual(th.ProfitTargetPct) {
		add(domain.KindProfitTarget, fmt.Sprintf("pnl %s%% >= target %s%%", pnlPct.StringFixed(2), th.ProfitTargetPct.StringFixed(2)))
	}
	if pendingStage(pos, pnlPct, th) {
		add(domain.KindPartialExitTarget, fmt.Sprintf("pnl %s%% crossed unfired stage threshold", pnlPct.StringFixed(2)))
	}

	// LOW tier. Early exit and edge disappearance are disjoint: a small
	// positive edge triggers the former, a negative edge the latter.
	if in.HasEdge {
		if in.Edge.IsNegative() {
			add(domain.KindEdgeDisappeared, fmt.Sprintf("edge %s negative", in.Edge.StringFixed(4)))
		} else if in.Edge.LessThan(th.EdgeFloor) {
			add(domain.KindEarlyExit, fmt.Sprintf("edge %s below floor %s", in.Edge.StringFixed(4), th.EdgeFloor.StringFixed(4)))
		}
	}
	if in.Rebalance {
		add(domain.KindRebalance, "portfolio rebalance signal")
	}

	return conds
}

// crossedStop reports whether the current price has crossed the trailing
// stop against the position's favor.
func crossedStop(pos domain.Position) bool {
	if pos.Side == domain.SideShort {
		return pos.CurrentPrice.GreaterThanOrEqual(pos.Trailing.StopPrice)
	}
	return pos.CurrentPrice.LessThanOrEqual(pos.Trailing.StopPrice)
}

// pendingStage reports whether a staged partial-exit threshold has been
// crossed that has not fired yet. Each stage fires at most once; a dip back
// below the threshold does not re-arm it.
func pendingStage(pos domain.Position, pnlPct decimal.Decimal, th Thresholds) bool {
	if !pos.StageOneDone && pnlPct.GreaterThanOrEqual(th.StageOnePct) {
		return true
	}
	if pos.StageOneDone && !pos.StageTwoDone && pnlPct.GreaterThanOrEqual(th.StageTwoPct) {
		return true
	}
	return false
}
