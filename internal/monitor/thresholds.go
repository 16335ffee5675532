// Package monitor implements the position monitoring loop: adaptive
// scheduling, exit condition evaluation, priority resolution, trailing-stop
// tracking, partial-exit staging, and the global circuit breaker.
package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Thresholds holds the tunable trigger levels used by condition evaluation,
// the trailing tracker, and the partial-exit stager. All percentages are in
// percent units (e.g. -10 means -10%).
type Thresholds struct {
	StopLossPct           decimal.Decimal // negative
	ProfitTargetPct       decimal.Decimal
	TrailingActivationPct decimal.Decimal
	TrailDistancePct      decimal.Decimal
	StageOnePct           decimal.Decimal // first partial stage trigger
	StageTwoPct           decimal.Decimal // second partial stage trigger
	StageOneFraction      decimal.Decimal // share of original quantity, e.g. 0.50
	StageTwoFraction      decimal.Decimal // e.g. 0.25
	TimeUrgentWindow      time.Duration   // remaining time to event
	MaxSpread             decimal.Decimal // absolute price units
	MinVolume             decimal.Decimal // displayed units at the touch
	EdgeFloor             decimal.Decimal // small positive edge floor
	OrderIncrement        decimal.Decimal // minimum order quantity step
}

// DefaultThresholds returns the documented default trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StopLossPct:           decimal.NewFromInt(-10),
		ProfitTargetPct:       decimal.NewFromInt(30),
		TrailingActivationPct: decimal.NewFromInt(15),
		TrailDistancePct:      decimal.NewFromInt(5),
		StageOnePct:           decimal.NewFromInt(15),
		StageTwoPct:           decimal.NewFromInt(25),
		StageOneFraction:      decimal.NewFromFloat(0.50),
		StageTwoFraction:      decimal.NewFromFloat(0.25),
		TimeUrgentWindow:      10 * time.Minute,
		MaxSpread:             decimal.NewFromFloat(0.03),
		MinVolume:             decimal.NewFromInt(50),
		EdgeFloor:             decimal.NewFromFloat(0.02),
		OrderIncrement:        decimal.NewFromInt(1),
	}
}
