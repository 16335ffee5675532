package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitStage labels which staged liquidation a PositionExit belongs to.
type ExitStage string

const (
	StageOne       ExitStage = "1"
	StageTwo       ExitStage = "2"
	StageRemainder ExitStage = "remainder"
	StageFull      ExitStage = "full"
)

// PositionExit is an append-only record of a completed (fully or partially
// filled) exit event. It is never mutated or deleted once written.
type PositionExit struct {
	ID         string
	PositionID string
	Condition  ConditionKind
	Tier       Tier
	Quantity   decimal.Decimal
	FillPrice  decimal.Decimal
	Stage      ExitStage
	ExecutedAt time.Time
}

// AttemptOutcome classifies the result of a single order placement attempt.
type AttemptOutcome string

const (
	OutcomeFilled   AttemptOutcome = "filled"
	OutcomePartial  AttemptOutcome = "partial"
	OutcomeTimedOut AttemptOutcome = "timed_out"
	OutcomeRejected AttemptOutcome = "rejected"
)

// ExitAttempt is an append-only record of one order placement attempt during
// exit execution, including failed and unfilled attempts. One row is written
// for every order sent to the exchange so fill rates can be analysed after
// the fact.
type ExitAttempt struct {
	ID             string
	PositionID     string
	Condition      ConditionKind
	Tier           Tier
	OrderType      OrderType
	LimitPrice     *decimal.Decimal // nil for market orders
	AttemptNumber  int              // 1-based within the walking sequence
	Timeout        time.Duration
	Outcome        AttemptOutcome
	Detail         string // failure cause for orders that never rested; empty for genuine timeouts
	FillPrice      *decimal.Decimal
	FilledQuantity decimal.Decimal
	CreatedAt      time.Time
}
