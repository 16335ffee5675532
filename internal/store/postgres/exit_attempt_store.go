package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// ExitAttemptStore persists the append-only order attempt log. Rows are
// written before the engine acts on an attempt's outcome and are never
// updated afterwards.
type ExitAttemptStore struct {
	pool *pgxpool.Pool
}

func NewExitAttemptStore(pool *pgxpool.Pool) *ExitAttemptStore {
	return &ExitAttemptStore{pool: pool}
}

const attemptSelectCols = `
	id, position_id, condition, tier, order_type, limit_price,
	attempt_number, timeout_ms, outcome, detail, fill_price, filled_quantity, created_at`

// Append writes one attempt row.
func (s *ExitAttemptStore) Append(ctx context.Context, a domain.ExitAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exit_attempts (
			id, position_id, condition, tier, order_type, limit_price,
			attempt_number, timeout_ms, outcome, detail, fill_price, filled_quantity, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.PositionID, string(a.Condition), int(a.Tier), string(a.OrderType),
		a.LimitPrice, a.AttemptNumber, a.Timeout.Milliseconds(),
		string(a.Outcome), a.Detail, a.FillPrice, a.FilledQuantity, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append exit attempt: %w", err)
	}
	return nil
}

// ListByPosition returns all attempts for a position in placement order.
func (s *ExitAttemptStore) ListByPosition(ctx context.Context, positionID string) ([]domain.ExitAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptSelectCols+` FROM exit_attempts
		 WHERE position_id = $1
		 ORDER BY created_at, attempt_number`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ListBefore returns attempts created before the cutoff, oldest first. Used
// by the archiver.
func (s *ExitAttemptStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExitAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+attemptSelectCols+` FROM exit_attempts
		 WHERE created_at < $1
		 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit attempts before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]domain.ExitAttempt, error) {
	var attempts []domain.ExitAttempt
	for rows.Next() {
		var a domain.ExitAttempt
		var condition, orderType, outcome string
		var tier int
		var timeoutMs int64

		err := rows.Scan(
			&a.ID, &a.PositionID, &condition, &tier, &orderType, &a.LimitPrice,
			&a.AttemptNumber, &timeoutMs, &outcome, &a.Detail, &a.FillPrice, &a.FilledQuantity, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan exit attempt: %w", err)
		}
		a.Condition = domain.ConditionKind(condition)
		a.Tier = domain.Tier(tier)
		a.OrderType = domain.OrderType(orderType)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.Timeout = time.Duration(timeoutMs) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

var _ domain.ExitAttemptStore = (*ExitAttemptStore)(nil)
