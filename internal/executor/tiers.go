// Package executor places and manages exit orders for triggered conditions:
// tier-specific execution strategies, price walking with cancel-before-
// replace, market escalation, and durable attempt/fill recording.
package executor

import (
	"time"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// Aggression selects the initial limit price relative to the market: a
// crossing price, the touch itself, or one increment behind it.
type Aggression int

const (
	// AggressionPassive rests one increment behind the touch.
	AggressionPassive Aggression = -1
	// AggressionFair rests at the touch.
	AggressionFair Aggression = 0
	// AggressionCross crosses the touch by one increment.
	AggressionCross Aggression = 1
)

// Plan is the execution strategy for one urgency tier.
type Plan struct {
	Tier       domain.Tier
	OrderType  domain.OrderType
	Aggression Aggression
	Timeout    time.Duration // per order wait; overall deadline for market retries
	MaxWalks   int           // replacements after the initial limit order
	Escalate   bool          // place a market order after the walk budget
}

// PlanTable maps each tier to its execution strategy.
type PlanTable map[domain.Tier]Plan

// DefaultPlans returns the standard tier strategy table: critical exits go
// straight to market, high-urgency exits cross the touch and escalate after
// two walks, medium and low urgency exits rest at or behind the touch and
// report failure rather than escalate.
func DefaultPlans() PlanTable {
	return PlanTable{
		domain.TierCritical: {
			Tier:      domain.TierCritical,
			OrderType: domain.OrderTypeMarket,
			Timeout:   5 * time.Second,
		},
		domain.TierHigh: {
			Tier:       domain.TierHigh,
			OrderType:  domain.OrderTypeLimit,
			Aggression: AggressionCross,
			Timeout:    10 * time.Second,
			MaxWalks:   2,
			Escalate:   true,
		},
		domain.TierMedium: {
			Tier:       domain.TierMedium,
			OrderType:  domain.OrderTypeLimit,
			Aggression: AggressionFair,
			Timeout:    30 * time.Second,
			MaxWalks:   5,
		},
		domain.TierLow: {
			Tier:       domain.TierLow,
			OrderType:  domain.OrderTypeLimit,
			Aggression: AggressionPassive,
			Timeout:    60 * time.Second,
			MaxWalks:   10,
		},
	}
}
