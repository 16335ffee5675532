// Package service provides the application services that sit between the
// monitoring engine and its persistence, messaging, and notification
// collaborators.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/monitor"
	"github.com/alanyoungcy/exitbot/internal/notify"
)

// Alerter surfaces operator-facing events. Implemented by the notify package.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Exit events go out twice: a transient pub/sub broadcast for live
// listeners, and a durable stream append for consumers that replay.
const (
	exitChannel = "exits"
	exitStream  = "exits:events"
)

// ExitRecorder turns fills into durable records: it appends the PositionExit,
// applies the position mutation in the same transaction through the ledger,
// then publishes and audits the event. The ledger write is the gate — if it
// fails, the in-memory position is left untouched and the executor aborts
// the action rather than trade against unrecorded state.
type ExitRecorder struct {
	ledger  domain.ExitLedger
	bus     domain.SignalBus
	audit   domain.AuditStore
	alerter Alerter
	logger  *slog.Logger

	now func() time.Time
}

// NewExitRecorder creates an ExitRecorder. alerter may be nil.
func NewExitRecorder(
	ledger domain.ExitLedger,
	bus domain.SignalBus,
	audit domain.AuditStore,
	alerter Alerter,
	logger *slog.Logger,
) *ExitRecorder {
	return &ExitRecorder{
		ledger:  ledger,
		bus:     bus,
		audit:   audit,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "exit_recorder")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordFill records a full or partial fill for an exit action. On success
// the position passed in has been mutated to its post-fill state: reduced
// quantity, fired stage flags, and closed status when nothing remains.
func (r *ExitRecorder) RecordFill(ctx context.Context, pos *domain.Position, cond domain.Condition, qty, price decimal.Decimal, stage domain.ExitStage) error {
	now := r.now()

	// Build the post-fill state on a copy; only adopt it once durable.
	updated := *pos
	updated.Quantity = updated.Quantity.Sub(qty)
	if updated.Quantity.IsNegative() {
		updated.Quantity = decimal.Zero
	}
	monitor.MarkStage(&updated, stage)
	if updated.Quantity.IsZero() {
		updated.Status = domain.PositionStatusClosed
		updated.ClosedAt = &now
	}
	updated.UpdatedAt = now

	exit := domain.PositionExit{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		Condition:  cond.Kind,
		Tier:       cond.Tier(),
		Quantity:   qty,
		FillPrice:  domain.RoundPrice(price),
		Stage:      stage,
		ExecutedAt: now,
	}

	if err := r.ledger.RecordFill(ctx, exit, updated); err != nil {
		return fmt.Errorf("exit_recorder: record fill for %q: %w", pos.ID, err)
	}
	*pos = updated

	evt, _ := json.Marshal(map[string]any{
		"event":       "exit_filled",
		"position_id": pos.ID,
		"instrument":  pos.Instrument,
		"condition":   string(cond.Kind),
		"tier":        cond.Tier().String(),
		"stage":       string(stage),
		"quantity":    qty.String(),
		"fill_price":  exit.FillPrice.String(),
		"closed":      pos.Status == domain.PositionStatusClosed,
	})
	if appendErr := r.bus.StreamAppend(ctx, exitStream, evt); appendErr != nil {
		r.logger.WarnContext(ctx, "append exit event to stream failed",
			slog.String("position_id", pos.ID),
			slog.String("error", appendErr.Error()),
		)
	}
	if pubErr := r.bus.Publish(ctx, exitChannel, evt); pubErr != nil {
		r.logger.WarnContext(ctx, "publish exit event failed",
			slog.String("position_id", pos.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := r.audit.Log(ctx, "exit_filled", map[string]any{
		"position_id": pos.ID,
		"exit_id":     exit.ID,
		"condition":   string(cond.Kind),
		"tier":        cond.Tier().String(),
		"stage":       string(stage),
		"quantity":    qty.String(),
		"fill_price":  exit.FillPrice.String(),
		"remaining":   pos.Quantity.String(),
	}); auditErr != nil {
		r.logger.WarnContext(ctx, "audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	r.logger.InfoContext(ctx, "exit recorded",
		slog.String("position_id", pos.ID),
		slog.String("condition", string(cond.Kind)),
		slog.String("stage", string(stage)),
		slog.String("quantity", qty.String()),
		slog.String("fill_price", exit.FillPrice.String()),
		slog.String("remaining", pos.Quantity.String()),
	)

	if pos.Status == domain.PositionStatusClosed && r.alerter != nil {
		if err := r.alerter.Notify(ctx, notify.EventPositionClosed, "Position closed",
			fmt.Sprintf("%s (%s) fully exited via %s at %s", pos.ID, pos.Instrument, cond.Kind, exit.FillPrice),
		); err != nil {
			r.logger.WarnContext(ctx, "close alert failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}
