package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PositionSide indicates exposure direction to the market outcome.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// TrailingStopState is the per-position trailing-stop record. The stop price
// only ever tightens once activated; it never loosens on a retrace.
type TrailingStopState struct {
	Activated bool
	PeakPrice decimal.Decimal
	StopPrice decimal.Decimal
}

// Position represents an open exposure to one market outcome. Quantity and
// the trailing/staging fields are mutated by the monitoring engine; entry
// fields are set once by the entry path and never change.
type Position struct {
	ID               string
	Instrument       string
	Side             PositionSide
	Quantity         decimal.Decimal // remaining quantity held
	OriginalQuantity decimal.Decimal // quantity at entry, before any staged exits
	AvgEntryPrice    decimal.Decimal
	CurrentPrice     decimal.Decimal
	EventTime        time.Time // market resolution time, used by time-urgent checks
	StrategyID       string    // opaque attribution reference
	ModelID          string    // opaque attribution reference
	Status           PositionStatus
	Trailing         TrailingStopState
	StageOneDone     bool // 50% stage already fired
	StageTwoDone     bool // 25% stage already fired
	QuoteStale       bool // last quote refresh failed; price is last known
	OpenedAt         time.Time
	ClosedAt         *time.Time
	UpdatedAt        time.Time
}

// UnrealizedPnL returns the profit or loss at the current price.
func (p Position) UnrealizedPnL() decimal.Decimal {
	switch p.Side {
	case SideShort:
		return p.AvgEntryPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
	default:
		return p.CurrentPrice.Sub(p.AvgEntryPrice).Mul(p.Quantity)
	}
}

// PnLPercent returns the profit or loss as a percentage of the entry price
// (e.g. 15.0 for +15%). Returns zero when the entry price is zero.
func (p Position) PnLPercent() decimal.Decimal {
	if p.AvgEntryPrice.IsZero() {
		return decimal.Zero
	}
	var diff decimal.Decimal
	switch p.Side {
	case SideShort:
		diff = p.AvgEntryPrice.Sub(p.CurrentPrice)
	default:
		diff = p.CurrentPrice.Sub(p.AvgEntryPrice)
	}
	return diff.Div(p.AvgEntryPrice).Mul(decimal.NewFromInt(100))
}

// IsLosing reports whether the position is currently under water.
func (p Position) IsLosing() bool {
	return p.UnrealizedPnL().IsNegative()
}

// CloseSide returns the order side that reduces this position: a long is
// closed by selling, a short by buying back.
func (p Position) CloseSide() OrderSide {
	if p.Side == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}
