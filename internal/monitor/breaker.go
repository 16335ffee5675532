package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/notify"
)

// BreakerChannel is the signal bus channel carrying external circuit-breaker
// control messages.
const BreakerChannel = "circuit_breaker"

// Breaker is the process-wide kill switch. It is read by every position task
// on every tick, so state lives in atomics rather than behind a lock that
// could serialize unrelated positions. The engine never clears it on its
// own; clearing is an external control action.
type Breaker struct {
	engaged atomic.Bool
	reason  atomic.Pointer[string]
}

// NewBreaker returns a disengaged Breaker.
func NewBreaker() *Breaker {
	b := &Breaker{}
	empty := ""
	b.reason.Store(&empty)
	return b
}

// Trip engages the breaker with the given reason.
func (b *Breaker) Trip(reason string) {
	b.reason.Store(&reason)
	b.engaged.Store(true)
}

// Clear disengages the breaker. Only the external control path calls this.
func (b *Breaker) Clear() {
	b.engaged.Store(false)
	empty := ""
	b.reason.Store(&empty)
}

// Engaged reports whether the breaker is active.
func (b *Breaker) Engaged() bool {
	return b.engaged.Load()
}

// Reason returns the reason recorded at the last Trip, or empty.
func (b *Breaker) Reason() string {
	return *b.reason.Load()
}

// breakerMessage is the wire format on the control channel.
type breakerMessage struct {
	Engaged bool   `json:"engaged"`
	Reason  string `json:"reason"`
}

// Listen subscribes to the external breaker control channel and mirrors its
// state into the local flag. It blocks until the context is cancelled.
// Malformed messages are logged and skipped; they never change state.
// alerter may be nil; each trip is surfaced to operators through it.
func (b *Breaker) Listen(ctx context.Context, bus domain.SignalBus, alerter Alerter, logger *slog.Logger) error {
	log := logger.With(slog.String("component", "circuit_breaker"))

	ch, err := bus.Subscribe(ctx, BreakerChannel)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "listening for circuit breaker signals")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return domain.ErrTransient
			}
			var msg breakerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.WarnContext(ctx, "malformed breaker message",
					slog.String("error", err.Error()),
				)
				continue
			}
			if msg.Engaged {
				b.Trip(msg.Reason)
				log.ErrorContext(ctx, "circuit breaker engaged",
					slog.String("reason", msg.Reason),
				)
				if alerter != nil {
					if err := alerter.Notify(ctx, notify.EventCircuitBreaker, "Circuit breaker engaged",
						fmt.Sprintf("all positions will be liquidated at market: %s", msg.Reason),
					); err != nil {
						log.WarnContext(ctx, "breaker alert failed",
							slog.String("error", err.Error()),
						)
					}
				}
			} else {
				b.Clear()
				log.InfoContext(ctx, "circuit breaker cleared externally")
			}
		}
	}
}
