package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// ExitLedger records fills transactionally: the position_exits insert and the
// positions update commit together or not at all.
type ExitLedger struct {
	pool *pgxpool.Pool
}

func NewExitLedger(pool *pgxpool.Pool) *ExitLedger {
	return &ExitLedger{pool: pool}
}

// RecordFill appends the exit row and applies the post-fill position state in
// a single transaction.
func (l *ExitLedger) RecordFill(ctx context.Context, exit domain.PositionExit, pos domain.Position) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record fill: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, positionExitInsertSQL,
		exit.ID, exit.PositionID, string(exit.Condition), int(exit.Tier),
		exit.Quantity, exit.FillPrice, string(exit.Stage), exit.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position exit: %w", err)
	}

	tag, err := tx.Exec(ctx, positionUpdateSQL,
		pos.ID, pos.Quantity, pos.CurrentPrice, string(pos.Status),
		pos.Trailing.Activated, pos.Trailing.PeakPrice, pos.Trailing.StopPrice,
		pos.StageOneDone, pos.StageTwoDone, pos.QuoteStale,
		pos.ClosedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s after fill: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record fill: %w", err)
	}
	return nil
}

var _ domain.ExitLedger = (*ExitLedger)(nil)
