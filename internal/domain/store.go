package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the mutable current-state side of positions.
type PositionStore interface {
	LoadOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	Update(ctx context.Context, pos Position) error
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// ExitAttemptStore persists the append-only order attempt log.
type ExitAttemptStore interface {
	Append(ctx context.Context, attempt ExitAttempt) error
	ListByPosition(ctx context.Context, positionID string) ([]ExitAttempt, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExitAttempt, error)
}

// PositionExitStore persists the append-only completed exit log.
type PositionExitStore interface {
	ListByPosition(ctx context.Context, positionID string) ([]PositionExit, error)
	SumQuantity(ctx context.Context, positionID string) (decimal.Decimal, error)
	ListBefore(ctx context.Context, before time.Time) ([]PositionExit, error)
}

// ExitLedger records a fill atomically: the PositionExit append and the
// position state mutation commit together or not at all. A fill is never
// recorded without the corresponding quantity change, and vice versa.
type ExitLedger interface {
	RecordFill(ctx context.Context, exit PositionExit, pos Position) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
