package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/monitor"
	"github.com/alanyoungcy/exitbot/internal/notify"
)

// FillRecorder durably records a fill and applies the corresponding position
// mutation. Implementations must make the two effects atomic: the executor
// never proceeds past a fill that could not be recorded.
type FillRecorder interface {
	RecordFill(ctx context.Context, pos *domain.Position, cond domain.Condition, qty, price decimal.Decimal, stage domain.ExitStage) error
}

// Alerter surfaces operator-facing events (rejections, breaker trips,
// exhausted walks). Implemented by the notify package.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds executor tuning knobs.
type Config struct {
	PollInterval      time.Duration // order status poll cadence
	Increment         decimal.Decimal
	CancelRetries     int
	NotifyOnExhausted bool // alert when a MEDIUM/LOW walk exhausts without fill
}

// DefaultConfig returns the standard executor settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:  500 * time.Millisecond,
		Increment:     domain.PriceIncrement,
		CancelRetries: 3,
	}
}

// Executor runs the urgency-specific execution strategy for a winning exit
// condition: market orders for critical exits, price walking for the rest.
// Every order placement is recorded as an ExitAttempt before the next action
// is taken.
type Executor struct {
	cfg      Config
	plans    PlanTable
	orders   domain.OrderExecutor
	attempts domain.ExitAttemptStore
	recorder FillRecorder
	stager   *monitor.Stager
	quotes   domain.QuoteCache
	alerter  Alerter
	logger   *slog.Logger

	now func() time.Time
}

// New creates an Executor. alerter may be nil.
func New(
	cfg Config,
	plans PlanTable,
	orders domain.OrderExecutor,
	attempts domain.ExitAttemptStore,
	recorder FillRecorder,
	stager *monitor.Stager,
	quotes domain.QuoteCache,
	alerter Alerter,
	logger *slog.Logger,
) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Increment.IsZero() {
		cfg.Increment = domain.PriceIncrement
	}
	return &Executor{
		cfg:      cfg,
		plans:    plans,
		orders:   orders,
		attempts: attempts,
		recorder: recorder,
		stager:   stager,
		quotes:   quotes,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "executor")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleExit executes the winning condition for a position and returns the
// position state after any recorded fills. The scheduler guarantees calls
// for the same position are sequential.
func (e *Executor) HandleExit(ctx context.Context, pos domain.Position, cond domain.Condition) (domain.Position, error) {
	qty, stage := e.stager.Plan(pos, cond.Kind)
	if qty.LessThanOrEqual(decimal.Zero) {
		return pos, nil
	}

	plan, ok := e.plans[cond.Tier()]
	if !ok {
		return pos, fmt.Errorf("executor: no plan for tier %s", cond.Tier())
	}

	log := e.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("condition", string(cond.Kind)),
		slog.String("tier", cond.Tier().String()),
		slog.String("stage", string(stage)),
	)
	log.InfoContext(ctx, "exit action started", slog.String("quantity", qty.String()))

	sess := &session{
		pos:       &pos,
		cond:      cond,
		stage:     stage,
		plan:      plan,
		remaining: qty,
		log:       log,
	}

	var err error
	if plan.OrderType == domain.OrderTypeMarket {
		err = e.marketExit(ctx, sess, plan.Timeout)
	} else {
		err = e.walk(ctx, sess)
	}

	if err != nil {
		return pos, err
	}
	log.InfoContext(ctx, "exit action complete",
		slog.String("remaining", pos.Quantity.String()),
		slog.String("status", string(pos.Status)),
	)
	return pos, nil
}

// session carries the state of one exit action through its attempts.
type session struct {
	pos       *domain.Position
	cond      domain.Condition
	stage     domain.ExitStage
	plan      Plan
	remaining decimal.Decimal
	attemptNo int
	log       *slog.Logger
}

// recordAttempt persists one ExitAttempt row. Persistence failure is fatal
// for the action: no further orders may be placed without a durable record.
// detail carries the placement error for orders that never reached the book,
// so a failed send is distinguishable from a resting order that expired.
func (e *Executor) recordAttempt(ctx context.Context, sess *session, orderType domain.OrderType, limitPrice *decimal.Decimal, outcome domain.AttemptOutcome, detail string, fillPrice *decimal.Decimal, filledQty decimal.Decimal) error {
	sess.attemptNo++
	attempt := domain.ExitAttempt{
		ID:             uuid.New().String(),
		PositionID:     sess.pos.ID,
		Condition:      sess.cond.Kind,
		Tier:           sess.cond.Tier(),
		OrderType:      orderType,
		LimitPrice:     limitPrice,
		AttemptNumber:  sess.attemptNo,
		Timeout:        sess.plan.Timeout,
		Outcome:        outcome,
		Detail:         detail,
		FillPrice:      fillPrice,
		FilledQuantity: filledQty,
		CreatedAt:      e.now(),
	}
	if err := e.attempts.Append(ctx, attempt); err != nil {
		return fmt.Errorf("executor: append exit attempt: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// recordFill durably records a fill and applies the position mutation.
func (e *Executor) recordFill(ctx context.Context, sess *session, qty, price decimal.Decimal) error {
	if err := e.recorder.RecordFill(ctx, sess.pos, sess.cond, qty, price, sess.stage); err != nil {
		return fmt.Errorf("executor: record fill: %w", err)
	}
	sess.remaining = sess.remaining.Sub(qty)
	if sess.remaining.IsNegative() {
		sess.remaining = decimal.Zero
	}
	return nil
}

// marketExit places a market order for the remaining quantity. Transient
// placement failures are retried immediately within the overall deadline;
// rejections are surfaced and never retried with the same parameters. A slow
// fill is not retried: the order is cancelled and the action fails, leaving
// the still-true condition to re-trigger on the next tick.
func (e *Executor) marketExit(ctx context.Context, sess *session, overall time.Duration) error {
	deadline := e.now().Add(overall)

	for {
		handle, err := e.orders.PlaceOrder(ctx, domain.OrderRequest{
			Instrument: sess.pos.Instrument,
			Side:       sess.pos.CloseSide(),
			Quantity:   sess.remaining,
			Type:       domain.OrderTypeMarket,
		})
		if err != nil {
			outcome := domain.OutcomeTimedOut
			if domain.IsRejection(err) {
				outcome = domain.OutcomeRejected
			}
			if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeMarket, nil, outcome, err.Error(), nil, decimal.Zero); recErr != nil {
				return recErr
			}
			if domain.IsRejection(err) {
				e.alertRejection(ctx, sess, err)
				return fmt.Errorf("executor: market order rejected: %w", err)
			}
			if e.now().After(deadline) {
				return fmt.Errorf("executor: market order placement: %w", err)
			}
			continue // immediate retry on transient failure
		}

		state, waitErr := e.awaitFill(ctx, handle, deadline)
		if waitErr != nil {
			return waitErr
		}

		if state.FilledQuantity.IsPositive() {
			outcome := domain.OutcomeFilled
			if !state.Filled {
				outcome = domain.OutcomePartial
			}
			fill := state.FillPrice
			if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeMarket, nil, outcome, "", &fill, state.FilledQuantity); recErr != nil {
				return recErr
			}
			if err := e.recordFill(ctx, sess, state.FilledQuantity, state.FillPrice); err != nil {
				return err
			}
			if sess.remaining.IsZero() {
				return nil
			}
		}

		// Deadline reached without a complete fill.
		if cancelErr := e.cancelWithRetry(ctx, handle); cancelErr != nil {
			return cancelErr
		}
		if !state.FilledQuantity.IsPositive() {
			if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeMarket, nil, domain.OutcomeTimedOut, "", nil, decimal.Zero); recErr != nil {
				return recErr
			}
		}
		return fmt.Errorf("executor: market order unfilled within %s: %w", overall, domain.ErrTransient)
	}
}

// awaitFill polls the order status until it is fully filled or the deadline
// passes, returning the last observed state.
func (e *Executor) awaitFill(ctx context.Context, handle domain.OrderHandle, deadline time.Time) (domain.OrderState, error) {
	var last domain.OrderState
	for {
		state, err := e.orders.OrderStatus(ctx, handle)
		if err == nil {
			last = state
			if state.Filled {
				return last, nil
			}
		} else if !domain.IsTransient(err) {
			return last, fmt.Errorf("executor: order status: %w", err)
		}

		if !e.now().Before(deadline) {
			return last, nil
		}
		timer := time.NewTimer(e.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

// cancelWithRetry cancels an outstanding order, retrying transient failures.
// The walker must not place a replacement while a cancel is uncertain, so a
// persistent cancel failure aborts the action.
func (e *Executor) cancelWithRetry(ctx context.Context, handle domain.OrderHandle) error {
	delay := e.cfg.PollInterval
	var lastErr error
	for attempt := 0; attempt <= e.cfg.CancelRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		if err := e.orders.CancelOrder(ctx, handle); err == nil {
			return nil
		} else {
			lastErr = err
			if !domain.IsTransient(err) {
				break
			}
		}
	}
	return fmt.Errorf("executor: cancel order %s: %w", handle, lastErr)
}

func (e *Executor) alertRejection(ctx context.Context, sess *session, cause error) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Notify(ctx, notify.EventOrderRejected, "Exit order rejected",
		fmt.Sprintf("position %s (%s): %v", sess.pos.ID, sess.cond.Kind, cause),
	); err != nil {
		sess.log.WarnContext(ctx, "rejection alert failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) alertExhausted(ctx context.Context, sess *session) {
	if e.alerter == nil || !e.cfg.NotifyOnExhausted {
		return
	}
	if err := e.alerter.Notify(ctx, notify.EventWalkExhausted, "Exit walk exhausted",
		fmt.Sprintf("position %s (%s): %s unfilled after %d attempts",
			sess.pos.ID, sess.cond.Kind, sess.remaining, sess.attemptNo),
	); err != nil {
		sess.log.WarnContext(ctx, "exhaustion alert failed", slog.String("error", err.Error()))
	}
}

var _ monitor.ExitHandler = (*Executor)(nil)
