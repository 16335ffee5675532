package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// walk runs the price-walking algorithm: an initial limit order at the
// tier's offset from the touch, then cancel-and-replace one increment toward
// the market after each timeout, up to the tier's walk budget. HIGH-tier
// actions escalate to a market order afterwards; MEDIUM/LOW actions report
// failure and leave re-evaluation to the next tick.
func (e *Executor) walk(ctx context.Context, sess *session) error {
	quote := e.quoteFor(ctx, sess.pos)
	side := sess.pos.CloseSide()
	price := initialLimitPrice(side, quote, sess.plan.Aggression, e.cfg.Increment)

	maxAttempts := sess.plan.MaxWalks + 1
	for attempt := 0; attempt < maxAttempts && sess.remaining.IsPositive(); attempt++ {
		if err := e.limitAttempt(ctx, sess, price); err != nil {
			return err
		}
		price = clampPrice(stepToward(side, price, e.cfg.Increment), e.cfg.Increment)
	}

	if sess.remaining.IsZero() {
		return nil
	}

	if sess.plan.Escalate {
		sess.log.WarnContext(ctx, "walk budget exhausted, escalating to market order",
			slog.String("remaining", sess.remaining.String()),
		)
		return e.marketExit(ctx, sess, sess.plan.Timeout)
	}

	e.alertExhausted(ctx, sess)
	return fmt.Errorf("executor: %d attempts without fill: %w", sess.attemptNo, domain.ErrWalkExhausted)
}

// limitAttempt places one limit order at the given price, waits up to the
// tier timeout, and records exactly one ExitAttempt for the placement. On
// timeout the order is cancelled before the caller may place a replacement;
// a fill observed during cancellation is still recorded.
func (e *Executor) limitAttempt(ctx context.Context, sess *session, price decimal.Decimal) error {
	price = domain.RoundPrice(price)
	handle, err := e.orders.PlaceOrder(ctx, domain.OrderRequest{
		Instrument: sess.pos.Instrument,
		Side:       sess.pos.CloseSide(),
		Quantity:   sess.remaining,
		Type:       domain.OrderTypeLimit,
		LimitPrice: &price,
	})
	if err != nil {
		outcome := domain.OutcomeTimedOut
		if domain.IsRejection(err) {
			outcome = domain.OutcomeRejected
		}
		if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeLimit, &price, outcome, err.Error(), nil, decimal.Zero); recErr != nil {
			return recErr
		}
		if domain.IsRejection(err) {
			e.alertRejection(ctx, sess, err)
			return fmt.Errorf("executor: limit order rejected: %w", err)
		}
		// Transient placement failure counts against the walk budget but
		// does not abort the action.
		sess.log.WarnContext(ctx, "limit placement failed",
			slog.String("price", price.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	deadline := e.now().Add(sess.plan.Timeout)
	state, waitErr := e.awaitFill(ctx, handle, deadline)
	if waitErr != nil {
		return waitErr
	}

	if state.Filled {
		fill := state.FillPrice
		if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeLimit, &price, domain.OutcomeFilled, "", &fill, state.FilledQuantity); recErr != nil {
			return recErr
		}
		return e.recordFill(ctx, sess, state.FilledQuantity, state.FillPrice)
	}

	// Unfilled (or partially filled) at the timeout: cancel first, then take
	// a final status read to catch a race between fill and cancel.
	if cancelErr := e.cancelWithRetry(ctx, handle); cancelErr != nil {
		return cancelErr
	}
	if final, err := e.orders.OrderStatus(ctx, handle); err == nil {
		state = final
	} else if !errors.Is(err, domain.ErrNotFound) {
		sess.log.WarnContext(ctx, "final status read failed", slog.String("error", err.Error()))
	}

	if state.FilledQuantity.IsPositive() {
		fill := state.FillPrice
		outcome := domain.OutcomePartial
		if state.Filled {
			outcome = domain.OutcomeFilled
		}
		if recErr := e.recordAttempt(ctx, sess, domain.OrderTypeLimit, &price, outcome, "", &fill, state.FilledQuantity); recErr != nil {
			return recErr
		}
		// Continue walking only for the unfilled remainder.
		return e.recordFill(ctx, sess, state.FilledQuantity, state.FillPrice)
	}

	return e.recordAttempt(ctx, sess, domain.OrderTypeLimit, &price, domain.OutcomeTimedOut, "", nil, decimal.Zero)
}

// quoteFor reads the freshest cached quote for pricing. When the cache
// misses, both sides fall back to the position's last known price.
func (e *Executor) quoteFor(ctx context.Context, pos *domain.Position) domain.Quote {
	if q, err := e.quotes.GetQuote(ctx, pos.Instrument); err == nil {
		return q
	}
	return domain.Quote{
		Instrument: pos.Instrument,
		Bid:        pos.CurrentPrice,
		Ask:        pos.CurrentPrice,
	}
}

// initialLimitPrice computes the starting limit price relative to the touch:
// the bid for a sell, the ask for a buy, shifted by the tier's aggression.
func initialLimitPrice(side domain.OrderSide, q domain.Quote, agg Aggression, inc decimal.Decimal) decimal.Decimal {
	offset := inc.Mul(decimal.NewFromInt(int64(agg)))
	if side == domain.OrderSideBuy {
		return clampPrice(q.Ask.Add(offset), inc)
	}
	return clampPrice(q.Bid.Sub(offset), inc)
}

// stepToward moves a resting price one increment toward the market: down for
// a sell, up for a buy.
func stepToward(side domain.OrderSide, price, inc decimal.Decimal) decimal.Decimal {
	if side == domain.OrderSideBuy {
		return price.Add(inc)
	}
	return price.Sub(inc)
}

// clampPrice keeps a walked price inside the valid (0, 1) band for binary
// outcome instruments.
func clampPrice(price, inc decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if price.LessThan(inc) {
		return inc
	}
	if ceiling := one.Sub(inc); price.GreaterThan(ceiling) {
		return ceiling
	}
	return price
}
