package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// PositionExitStore reads the append-only completed exit log. Writes go
// through the ExitLedger so they commit atomically with the position update.
type PositionExitStore struct {
	pool *pgxpool.Pool
}

func NewPositionExitStore(pool *pgxpool.Pool) *PositionExitStore {
	return &PositionExitStore{pool: pool}
}

const exitSelectCols = `
	id, position_id, condition, tier, quantity, fill_price, stage, executed_at`

// positionExitInsertSQL is shared with the exit ledger.
const positionExitInsertSQL = `
	INSERT INTO position_exits (
		id, position_id, condition, tier, quantity, fill_price, stage, executed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// ListByPosition returns all recorded exits for a position in execution order.
func (s *PositionExitStore) ListByPosition(ctx context.Context, positionID string) ([]domain.PositionExit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+exitSelectCols+` FROM position_exits
		 WHERE position_id = $1
		 ORDER BY executed_at`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position exits: %w", err)
	}
	defer rows.Close()
	return scanExits(rows)
}

// SumQuantity returns the total exited quantity for a position across all
// recorded exits.
func (s *PositionExitStore) SumQuantity(ctx context.Context, positionID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM position_exits WHERE position_id = $1`,
		positionID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum exit quantity: %w", err)
	}
	return sum, nil
}

// ListBefore returns exits executed before the cutoff, oldest first. Used by
// the archiver.
func (s *PositionExitStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PositionExit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+exitSelectCols+` FROM position_exits
		 WHERE executed_at < $1
		 ORDER BY executed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position exits before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanExits(rows)
}

func scanExits(rows pgx.Rows) ([]domain.PositionExit, error) {
	var exits []domain.PositionExit
	for rows.Next() {
		var e domain.PositionExit
		var condition, stage string
		var tier int

		err := rows.Scan(
			&e.ID, &e.PositionID, &condition, &tier,
			&e.Quantity, &e.FillPrice, &stage, &e.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position exit: %w", err)
		}
		e.Condition = domain.ConditionKind(condition)
		e.Tier = domain.Tier(tier)
		e.Stage = domain.ExitStage(stage)
		exits = append(exits, e)
	}
	return exits, rows.Err()
}

var _ domain.PositionExitStore = (*PositionExitStore)(nil)
