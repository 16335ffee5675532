package domain

import "time"

// Tier is an exit urgency level. Higher values are more urgent and win
// priority resolution.
type Tier int

const (
	TierLow      Tier = 1
	TierMedium   Tier = 2
	TierHigh     Tier = 3
	TierCritical Tier = 4
)

// String returns the canonical lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// ConditionKind identifies one of the ten exit condition variants.
type ConditionKind string

const (
	KindStopLoss          ConditionKind = "stop_loss"
	KindCircuitBreaker    ConditionKind = "circuit_breaker"
	KindTrailingStop      ConditionKind = "trailing_stop"
	KindTimeBasedUrgent   ConditionKind = "time_based_urgent"
	KindLiquidityDriedUp  ConditionKind = "liquidity_dried_up"
	KindProfitTarget      ConditionKind = "profit_target"
	KindPartialExitTarget ConditionKind = "partial_exit_target"
	KindEarlyExit         ConditionKind = "early_exit"
	KindEdgeDisappeared   ConditionKind = "edge_disappeared"
	KindRebalance         ConditionKind = "rebalance"
)

// conditionTiers maps every condition kind to its urgency tier.
var conditionTiers = map[ConditionKind]Tier{
	KindStopLoss:          TierCritical,
	KindCircuitBreaker:    TierCritical,
	KindTrailingStop:      TierHigh,
	KindTimeBasedUrgent:   TierHigh,
	KindLiquidityDriedUp:  TierHigh,
	KindProfitTarget:      TierMedium,
	KindPartialExitTarget: TierMedium,
	KindEarlyExit:         TierLow,
	KindEdgeDisappeared:   TierLow,
	KindRebalance:         TierLow,
}

// conditionPrecedence breaks ties within a tier. Lower values win.
var conditionPrecedence = map[ConditionKind]int{
	KindStopLoss:          0,
	KindCircuitBreaker:    1,
	KindTrailingStop:      0,
	KindTimeBasedUrgent:   1,
	KindLiquidityDriedUp:  2,
	KindProfitTarget:      0,
	KindPartialExitTarget: 1,
	KindEarlyExit:         0,
	KindEdgeDisappeared:   1,
	KindRebalance:         2,
}

// Tier returns the urgency tier for this condition kind.
func (k ConditionKind) Tier() Tier {
	return conditionTiers[k]
}

// Precedence returns the within-tier tie-break rank (lower wins).
func (k ConditionKind) Precedence() int {
	return conditionPrecedence[k]
}

// Condition is a single triggered exit condition for a position. Conditions
// are computed fresh every tick and are not persisted except as the trigger
// reference on exit records and the per-tick audit entry.
type Condition struct {
	Kind        ConditionKind
	Reason      string
	TriggeredAt time.Time
}

// Tier returns the urgency tier of the condition.
func (c Condition) Tier() Tier {
	return c.Kind.Tier()
}

// Outranks reports whether c takes priority over other: higher tier first,
// then lower precedence within the same tier.
func (c Condition) Outranks(other Condition) bool {
	if c.Tier() != other.Tier() {
		return c.Tier() > other.Tier()
	}
	return c.Kind.Precedence() < other.Kind.Precedence()
}
