package monitor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/notify"
)

// quoteBudgetKey is the rate-limiter key for the shared external-call budget.
const quoteBudgetKey = "quote_budget"

// ExitHandler executes the winning exit condition for a position and returns
// the position state after any fills. The scheduler guarantees it is never
// invoked concurrently for the same position.
type ExitHandler interface {
	HandleExit(ctx context.Context, pos domain.Position, cond domain.Condition) (domain.Position, error)
}

// Alerter surfaces operator-facing events. Implemented by the notify package.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SchedulerConfig holds the monitoring loop parameters.
type SchedulerConfig struct {
	NormalInterval     time.Duration // default 30s
	UrgentInterval     time.Duration // default 5s
	UrgentProximityPct decimal.Decimal
	QuoteTTL           time.Duration // shared quote cache freshness
	CallBudget         int           // external calls per BudgetWindow
	BudgetWindow       time.Duration
	DeferInterval      time.Duration // requeue delay when the budget is exhausted
	Workers            int
	QuoteRetries       int
	QuoteRetryBase     time.Duration
}

// DefaultSchedulerConfig returns the documented scheduling defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		NormalInterval:     30 * time.Second,
		UrgentInterval:     5 * time.Second,
		UrgentProximityPct: decimal.NewFromInt(2),
		QuoteTTL:           10 * time.Second,
		CallBudget:         60,
		BudgetWindow:       time.Minute,
		DeferInterval:      2 * time.Second,
		Workers:            8,
		QuoteRetries:       3,
		QuoteRetryBase:     250 * time.Millisecond,
	}
}

// Scheduler drives the per-position monitoring loop. Positions live in a
// min-heap keyed by next-due time; urgent positions simply get earlier due
// times. A fixed worker pool drains due entries, and a position is only
// rescheduled after its tick (including any exit action) has completed, so
// per-position processing is strictly sequential.
type Scheduler struct {
	cfg       SchedulerConfig
	th        Thresholds
	positions domain.PositionStore
	quotes    domain.QuoteCache
	source    domain.QuoteSource
	edges     domain.EdgeSource
	limiter   domain.RateLimiter
	breaker   *Breaker
	trailing  *TrailingTracker
	handler   ExitHandler // nil in monitor-only mode
	audit     domain.AuditStore
	alerter   Alerter // nil disables operator alerts
	logger    *slog.Logger

	mu      sync.Mutex
	queue   dueHeap
	tracked map[string]domain.Position
	wake    chan struct{}

	now func() time.Time
}

// NewScheduler creates a Scheduler. handler may be nil, in which case
// conditions are evaluated and audited but never acted on (degraded
// read-only mode).
func NewScheduler(
	cfg SchedulerConfig,
	th Thresholds,
	positions domain.PositionStore,
	quotes domain.QuoteCache,
	source domain.QuoteSource,
	edges domain.EdgeSource,
	limiter domain.RateLimiter,
	breaker *Breaker,
	handler ExitHandler,
	audit domain.AuditStore,
	alerter Alerter,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		th:        th,
		positions: positions,
		quotes:    quotes,
		source:    source,
		edges:     edges,
		limiter:   limiter,
		breaker:   breaker,
		trailing:  NewTrailingTracker(th.TrailingActivationPct, th.TrailDistancePct),
		handler:   handler,
		audit:     audit,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "scheduler")),
		tracked:   make(map[string]domain.Position),
		wake:      make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Track adds or refreshes a position in the monitoring set. New positions
// are due immediately.
func (s *Scheduler) Track(pos domain.Position) {
	s.mu.Lock()
	_, known := s.tracked[pos.ID]
	s.tracked[pos.ID] = pos
	if !known {
		heap.Push(&s.queue, &dueEntry{positionID: pos.ID, due: s.now()})
	}
	s.mu.Unlock()
	s.poke()
}

// Untrack removes a position from the monitoring set. Its queued entry is
// dropped lazily when it surfaces.
func (s *Scheduler) Untrack(positionID string) {
	s.mu.Lock()
	delete(s.tracked, positionID)
	s.mu.Unlock()
}

// Tracked returns the number of positions currently monitored.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Run loads open positions, seeds the queue, and drives the tick loop until
// the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	open, err := s.positions.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load open positions: %w", err)
	}
	for _, pos := range open {
		s.Track(pos)
	}
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("positions", len(open)),
		slog.Int("workers", s.cfg.Workers),
	)
	defer s.logger.Info("scheduler stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers + 1) // workers plus the dispatcher itself

	g.Go(func() error {
		return s.dispatch(ctx, g)
	})
	return g.Wait()
}

// dispatch pops due entries and hands them to the worker pool. Each entry is
// rescheduled by its worker after the tick completes.
func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		var next *dueEntry
		if s.queue.Len() > 0 {
			next = s.queue[0]
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
			continue
		}

		if wait := next.due.Sub(s.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.mu.Unlock()
			continue
		}
		entry := heap.Pop(&s.queue).(*dueEntry)
		pos, tracked := s.tracked[entry.positionID]
		s.mu.Unlock()

		if !tracked {
			continue // closed or removed since queued
		}

		g.Go(func() error {
			next := s.tick(ctx, pos)
			s.reschedule(entry.positionID, next)
			return nil
		})
	}
}

// reschedule requeues a position that is still tracked.
func (s *Scheduler) reschedule(positionID string, due time.Time) {
	s.mu.Lock()
	if _, ok := s.tracked[positionID]; ok {
		heap.Push(&s.queue, &dueEntry{positionID: positionID, due: due})
	}
	s.mu.Unlock()
	s.poke()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// tick runs one monitoring pass for a position and returns its next due
// time. A slow or failed tick affects only this position.
func (s *Scheduler) tick(ctx context.Context, pos domain.Position) time.Time {
	now := s.now()
	log := s.logger.With(slog.String("position_id", pos.ID), slog.String("instrument", pos.Instrument))

	in := EvalInputs{BreakerActive: s.breaker.Engaged(), Now: now}

	// A breaker liquidation is a market order; no quote needed. Everything
	// else refreshes the quote first.
	if !in.BreakerActive {
		quote, ok, deferred := s.fetchQuote(ctx, pos, log)
		if deferred {
			return now.Add(s.cfg.DeferInterval)
		}
		in.Quote, in.HasQuote = quote, ok
		if ok {
			pos.CurrentPrice = domain.RoundPrice(quote.Mid())
			pos.QuoteStale = false
		} else {
			// Leave the position at its last known price, visibly stale.
			// Alert only on the fresh-to-stale transition, not every tick.
			if !pos.QuoteStale {
				s.alertStaleQuote(ctx, pos)
			}
			pos.QuoteStale = true
		}

		s.trailing.Update(&pos)

		if edge, err := s.edges.Edge(ctx, pos.Instrument); err == nil {
			in.Edge, in.HasEdge = edge, true
		} else if !errors.Is(err, domain.ErrNotFound) {
			log.WarnContext(ctx, "edge fetch failed", slog.String("error", err.Error()))
		}
		if flag, err := s.edges.RebalanceFlag(ctx, pos.Instrument); err == nil {
			in.Rebalance = flag
		}

		pos.UpdatedAt = now
		if err := s.positions.Update(ctx, pos); err != nil {
			log.ErrorContext(ctx, "position update failed", slog.String("error", err.Error()))
		}
		s.mu.Lock()
		s.tracked[pos.ID] = pos
		s.mu.Unlock()
	}

	conds := Evaluate(pos, in, s.th)
	if len(conds) > 0 {
		s.auditConditions(ctx, pos, conds)
	}

	winner, ok := Resolve(conds)
	if ok && s.handler != nil {
		updated, err := s.handler.HandleExit(ctx, pos, winner)
		if err != nil {
			log.ErrorContext(ctx, "exit action failed",
				slog.String("condition", string(winner.Kind)),
				slog.String("tier", winner.Tier().String()),
				slog.String("error", err.Error()),
			)
		} else {
			pos = updated
			s.mu.Lock()
			s.tracked[pos.ID] = pos
			s.mu.Unlock()
		}
		if pos.Status == domain.PositionStatusClosed {
			s.Untrack(pos.ID)
			log.InfoContext(ctx, "position closed, removed from monitoring")
			return now // ignored; entry is untracked
		}
	}

	interval := s.cfg.NormalInterval
	if in.BreakerActive || s.urgent(pos) {
		interval = s.cfg.UrgentInterval
	}
	return now.Add(interval)
}

// fetchQuote returns the freshest quote for the position's instrument,
// serving from the shared cache when possible. deferred is true when the
// external-call budget is exhausted and this (non-urgent) tick should be
// retried shortly rather than dropped.
func (s *Scheduler) fetchQuote(ctx context.Context, pos domain.Position, log *slog.Logger) (q domain.Quote, ok, deferred bool) {
	now := s.now()

	if cached, err := s.quotes.GetQuote(ctx, pos.Instrument); err == nil {
		if !cached.OlderThan(s.cfg.QuoteTTL, now) {
			return cached, true, false
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.WarnContext(ctx, "quote cache read failed", slog.String("error", err.Error()))
	}

	allowed, err := s.limiter.Allow(ctx, quoteBudgetKey, s.cfg.CallBudget, s.cfg.BudgetWindow)
	if err != nil {
		log.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		allowed = true // fail open rather than stalling monitoring
	}
	if !allowed {
		if !s.urgent(pos) {
			return domain.Quote{}, false, true
		}
		// Urgent positions are served first: block briefly for budget
		// instead of deferring the tick.
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.UrgentInterval)
		err := s.limiter.Wait(waitCtx, quoteBudgetKey)
		cancel()
		if err != nil {
			log.WarnContext(ctx, "urgent budget wait failed", slog.String("error", err.Error()))
			return domain.Quote{}, false, false
		}
	}

	quote, err := s.fetchWithBackoff(ctx, pos.Instrument)
	if err != nil {
		log.WarnContext(ctx, "quote fetch failed, position degraded to stale data",
			slog.String("error", err.Error()),
		)
		s.auditHealth(ctx, pos, err)
		return domain.Quote{}, false, false
	}

	if err := s.quotes.SetQuote(ctx, quote); err != nil {
		log.WarnContext(ctx, "quote cache write failed", slog.String("error", err.Error()))
	}
	return quote, true, false
}

// fetchWithBackoff retries transient quote failures with exponential backoff
// up to the configured bound.
func (s *Scheduler) fetchWithBackoff(ctx context.Context, instrument string) (domain.Quote, error) {
	var lastErr error
	delay := s.cfg.QuoteRetryBase
	for attempt := 0; attempt <= s.cfg.QuoteRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.Quote{}, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		quote, err := s.source.GetQuote(ctx, instrument)
		if err == nil {
			return quote, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			break
		}
	}
	return domain.Quote{}, lastErr
}

// urgent reports whether the position's price is within the configured
// proximity of any active threshold: stop loss, trailing stop, or profit
// target.
func (s *Scheduler) urgent(pos domain.Position) bool {
	price := pos.CurrentPrice
	if price.IsZero() || pos.AvgEntryPrice.IsZero() {
		return false
	}

	levels := []decimal.Decimal{
		levelAt(pos, s.th.StopLossPct),
		levelAt(pos, s.th.ProfitTargetPct),
	}
	if pos.Trailing.Activated {
		levels = append(levels, pos.Trailing.StopPrice)
	}

	for _, level := range levels {
		if level.IsZero() {
			continue
		}
		dist := price.Sub(level).Abs().Div(price).Mul(hundred)
		if dist.LessThanOrEqual(s.cfg.UrgentProximityPct) {
			return true
		}
	}
	return false
}

// levelAt converts a PnL percentage threshold into the price at which the
// position would hit it.
func levelAt(pos domain.Position, pct decimal.Decimal) decimal.Decimal {
	move := pos.AvgEntryPrice.Mul(pct).Div(hundred)
	if pos.Side == domain.SideShort {
		return pos.AvgEntryPrice.Sub(move)
	}
	return pos.AvgEntryPrice.Add(move)
}

// auditConditions records the full triggered set for the tick, not just the
// winner.
func (s *Scheduler) auditConditions(ctx context.Context, pos domain.Position, conds []domain.Condition) {
	kinds := make([]string, 0, len(conds))
	reasons := make([]string, 0, len(conds))
	for _, c := range conds {
		kinds = append(kinds, string(c.Kind))
		reasons = append(reasons, c.Reason)
	}
	if err := s.audit.Log(ctx, "conditions_triggered", map[string]any{
		"position_id": pos.ID,
		"instrument":  pos.Instrument,
		"conditions":  kinds,
		"reasons":     reasons,
		"pnl_pct":     pos.PnLPercent().StringFixed(2),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) auditHealth(ctx context.Context, pos domain.Position, cause error) {
	if err := s.audit.Log(ctx, "health_check_failed", map[string]any{
		"position_id": pos.ID,
		"instrument":  pos.Instrument,
		"error":       cause.Error(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) alertStaleQuote(ctx context.Context, pos domain.Position) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Notify(ctx, notify.EventStaleQuote, "Position degraded to stale quote",
		fmt.Sprintf("%s (%s): evaluating on last known price %s",
			pos.ID, pos.Instrument, pos.CurrentPrice),
	); err != nil {
		s.logger.WarnContext(ctx, "stale quote alert failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Due-time min-heap.
// ---------------------------------------------------------------------------

type dueEntry struct {
	positionID string
	due        time.Time
}

type dueHeap []*dueEntry

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h dueHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)        { *h = append(*h, x.(*dueEntry)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
