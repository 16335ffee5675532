package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, instrument, side, quantity, original_quantity,
	avg_entry_price, current_price, event_time, strategy_id, model_id, status,
	trail_activated, trail_peak_price, trail_stop_price,
	stage_one_done, stage_two_done, quote_stale,
	opened_at, closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var eventTime *time.Time

	err := row.Scan(
		&p.ID, &p.Instrument, &side, &p.Quantity, &p.OriginalQuantity,
		&p.AvgEntryPrice, &p.CurrentPrice, &eventTime, &p.StrategyID, &p.ModelID, &status,
		&p.Trailing.Activated, &p.Trailing.PeakPrice, &p.Trailing.StopPrice,
		&p.StageOneDone, &p.StageTwoDone, &p.QuoteStale,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	if eventTime != nil {
		p.EventTime = *eventTime
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// LoadOpen returns all open positions for monitoring.
func (s *PositionStore) LoadOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Update replaces all engine-mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tag, err := s.pool.Exec(ctx, positionUpdateSQL,
		p.ID, p.Quantity, p.CurrentPrice, string(p.Status),
		p.Trailing.Activated, p.Trailing.PeakPrice, p.Trailing.StopPrice,
		p.StageOneDone, p.StageTwoDone, p.QuoteStale,
		p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// positionUpdateSQL is shared with the exit ledger so the in-transaction
// mutation stays identical to the standalone one.
const positionUpdateSQL = `
	UPDATE positions SET
		quantity         = $2,
		current_price    = $3,
		status           = $4,
		trail_activated  = $5,
		trail_peak_price = $6,
		trail_stop_price = $7,
		stage_one_done   = $8,
		stage_two_done   = $9,
		quote_stale      = $10,
		closed_at        = $11,
		updated_at       = $12
	WHERE id = $1`

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
