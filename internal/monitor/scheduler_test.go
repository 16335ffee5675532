package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

type fakePositions struct {
	mu      sync.Mutex
	open    []domain.Position
	updates []domain.Position
}

func (f *fakePositions) LoadOpen(ctx context.Context) ([]domain.Position, error) {
	return f.open, nil
}

func (f *fakePositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	for _, p := range f.open {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakePositions) Update(ctx context.Context, pos domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, pos)
	return nil
}

func (f *fakePositions) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type fakeQuoteCache struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	sets   int
}

func newFakeQuoteCache() *fakeQuoteCache {
	return &fakeQuoteCache{quotes: make(map[string]domain.Quote)}
}

func (f *fakeQuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.Instrument] = q
	f.sets++
	return nil
}

func (f *fakeQuoteCache) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[instrument]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

type fakeQuoteSource struct {
	mu    sync.Mutex
	quote domain.Quote
	err   error
	calls int
}

func (f *fakeQuoteSource) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	q := f.quote
	q.Instrument = instrument
	return q, nil
}

type fakeEdges struct {
	edge      decimal.Decimal
	hasEdge   bool
	rebalance bool
}

func (f *fakeEdges) Edge(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if !f.hasEdge {
		return decimal.Zero, domain.ErrNotFound
	}
	return f.edge, nil
}

func (f *fakeEdges) RebalanceFlag(ctx context.Context, instrument string) (bool, error) {
	return f.rebalance, nil
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f.allow, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, key string) error {
	if f.allow {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAudit) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeHandler struct {
	mu      sync.Mutex
	calls   []domain.Condition
	updated *domain.Position
}

func (f *fakeHandler) HandleExit(ctx context.Context, pos domain.Position, cond domain.Condition) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cond)
	if f.updated != nil {
		return *f.updated, nil
	}
	return pos, nil
}

type schedFixture struct {
	sched     *Scheduler
	positions *fakePositions
	cache     *fakeQuoteCache
	source    *fakeQuoteSource
	edges     *fakeEdges
	limiter   *fakeLimiter
	audit     *fakeAudit
	handler   *fakeHandler
	alerter   *fakeAlerter
	now       time.Time
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	f := &schedFixture{
		positions: &fakePositions{},
		cache:     newFakeQuoteCache(),
		source:    &fakeQuoteSource{},
		edges:     &fakeEdges{},
		limiter:   &fakeLimiter{allow: true},
		audit:     &fakeAudit{},
		handler:   &fakeHandler{},
		alerter:   &fakeAlerter{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.sched = NewScheduler(
		DefaultSchedulerConfig(),
		DefaultThresholds(),
		f.positions,
		f.cache,
		f.source,
		f.edges,
		f.limiter,
		NewBreaker(),
		f.handler,
		f.audit,
		f.alerter,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	f.sched.now = func() time.Time { return f.now }
	return f
}

func (f *schedFixture) quote(bid, ask string) domain.Quote {
	return domain.Quote{
		Instrument: "market-yes",
		Bid:        dec(bid),
		Ask:        dec(ask),
		Volume:     dec("500"),
		Timestamp:  f.now,
	}
}

func TestSchedulerTrackUntrack(t *testing.T) {
	f := newSchedFixture(t)
	pos := longPosition("0.50", "0.50")

	f.sched.Track(pos)
	assert.Equal(t, 1, f.sched.Tracked())

	// Re-tracking refreshes, not duplicates.
	f.sched.Track(pos)
	assert.Equal(t, 1, f.sched.Tracked())

	f.sched.Untrack(pos.ID)
	assert.Equal(t, 0, f.sched.Tracked())
}

func TestSchedulerTickCalmPosition(t *testing.T) {
	f := newSchedFixture(t)
	f.source.quote = f.quote("0.49", "0.51")
	pos := longPosition("0.50", "0.50")
	f.sched.Track(pos)

	next := f.sched.tick(context.Background(), pos)

	assert.Equal(t, f.now.Add(30*time.Second), next, "calm position polls at the normal interval")
	assert.Empty(t, f.handler.calls)
	require.NotEmpty(t, f.positions.updates)
	updated := f.positions.updates[len(f.positions.updates)-1]
	assert.True(t, updated.CurrentPrice.Equal(dec("0.50")), "price refreshed to the mid")
	assert.False(t, updated.QuoteStale)
}

func TestSchedulerTickUrgentProximity(t *testing.T) {
	t.Run("near stop loss", func(t *testing.T) {
		f := newSchedFixture(t)
		// Stop-loss level for entry 0.50 is 0.45; a mid of 0.4580 sits
		// within the 2% proximity band.
		f.source.quote = f.quote("0.4530", "0.4630")
		pos := longPosition("0.50", "0.46")
		next := f.sched.tick(context.Background(), pos)
		assert.Equal(t, f.now.Add(5*time.Second), next)
	})

	t.Run("near profit target", func(t *testing.T) {
		f := newSchedFixture(t)
		// Target level is 0.65; mid 0.6450 is inside the band.
		f.source.quote = f.quote("0.6400", "0.6500")
		pos := longPosition("0.50", "0.64")
		next := f.sched.tick(context.Background(), pos)
		assert.Equal(t, f.now.Add(5*time.Second), next)
	})

	t.Run("far from all levels", func(t *testing.T) {
		f := newSchedFixture(t)
		f.source.quote = f.quote("0.5300", "0.5500")
		pos := longPosition("0.50", "0.54")
		next := f.sched.tick(context.Background(), pos)
		assert.Equal(t, f.now.Add(30*time.Second), next)
	})
}

func TestSchedulerTickExitFlow(t *testing.T) {
	f := newSchedFixture(t)
	f.source.quote = f.quote("0.43", "0.45")
	pos := longPosition("0.50", "0.44")
	f.sched.Track(pos)

	closed := pos
	closed.Quantity = decimal.Zero
	closed.Status = domain.PositionStatusClosed
	f.handler.updated = &closed

	f.sched.tick(context.Background(), pos)

	require.Len(t, f.handler.calls, 1)
	assert.Equal(t, domain.KindStopLoss, f.handler.calls[0].Kind)
	assert.True(t, f.audit.has("conditions_triggered"))
	assert.Equal(t, 0, f.sched.Tracked(), "closed position leaves the monitoring set")
}

func TestSchedulerTickBreakerSkipsQuote(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.breaker.Trip("test")
	pos := longPosition("0.50", "0.50")
	f.sched.Track(pos)

	next := f.sched.tick(context.Background(), pos)

	assert.Zero(t, f.source.calls, "breaker liquidation needs no quote")
	require.Len(t, f.handler.calls, 1)
	assert.Equal(t, domain.KindCircuitBreaker, f.handler.calls[0].Kind)
	assert.Equal(t, f.now.Add(5*time.Second), next, "breaker forces the urgent interval")
}

func TestSchedulerTickStaleQuoteDegrades(t *testing.T) {
	f := newSchedFixture(t)
	f.source.err = domain.ErrTransient
	f.sched.cfg.QuoteRetries = 0
	pos := longPosition("0.50", "0.52")
	f.sched.Track(pos)

	f.sched.tick(context.Background(), pos)

	require.NotEmpty(t, f.positions.updates)
	updated := f.positions.updates[len(f.positions.updates)-1]
	assert.True(t, updated.QuoteStale)
	assert.True(t, updated.CurrentPrice.Equal(dec("0.52")), "last known price retained")
	assert.True(t, f.audit.has("health_check_failed"))
	assert.Equal(t, 1, f.alerter.count("stale_quote"))

	// Already stale: a second failing tick does not repeat the alert.
	f.sched.tick(context.Background(), updated)
	assert.Equal(t, 1, f.alerter.count("stale_quote"))

	// Recovery then a fresh failure alerts again.
	f.source.err = nil
	f.source.quote = f.quote("0.49", "0.51")
	f.sched.tick(context.Background(), updated)
	recovered := f.positions.updates[len(f.positions.updates)-1]
	assert.False(t, recovered.QuoteStale)

	f.now = f.now.Add(time.Minute) // age the cached quote past its TTL
	f.source.err = domain.ErrTransient
	f.sched.tick(context.Background(), recovered)
	assert.Equal(t, 2, f.alerter.count("stale_quote"))
}

func TestSchedulerFetchQuote(t *testing.T) {
	t.Run("fresh cache hit skips the source", func(t *testing.T) {
		f := newSchedFixture(t)
		q := f.quote("0.49", "0.51")
		require.NoError(t, f.cache.SetQuote(context.Background(), q))
		pos := longPosition("0.50", "0.50")

		got, ok, deferred := f.sched.fetchQuote(context.Background(), pos, f.sched.logger)
		require.True(t, ok)
		assert.False(t, deferred)
		assert.True(t, got.Bid.Equal(q.Bid))
		assert.Zero(t, f.source.calls)
	})

	t.Run("stale cache refetches and rewrites", func(t *testing.T) {
		f := newSchedFixture(t)
		stale := f.quote("0.40", "0.42")
		stale.Timestamp = f.now.Add(-time.Minute)
		require.NoError(t, f.cache.SetQuote(context.Background(), stale))
		f.source.quote = f.quote("0.49", "0.51")
		pos := longPosition("0.50", "0.50")

		got, ok, deferred := f.sched.fetchQuote(context.Background(), pos, f.sched.logger)
		require.True(t, ok)
		assert.False(t, deferred)
		assert.True(t, got.Bid.Equal(dec("0.49")))
		assert.Equal(t, 1, f.source.calls)
		assert.Equal(t, 2, f.cache.sets)
	})

	t.Run("exhausted budget defers a non-urgent tick", func(t *testing.T) {
		f := newSchedFixture(t)
		f.limiter.allow = false
		pos := longPosition("0.50", "0.54")

		_, ok, deferred := f.sched.fetchQuote(context.Background(), pos, f.sched.logger)
		assert.False(t, ok)
		assert.True(t, deferred)
		assert.Zero(t, f.source.calls)
	})
}

func TestSchedulerRunDrainsDuePositions(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.now = time.Now // real clock for the dispatch loop
	f.source.quote = domain.Quote{
		Bid:       dec("0.49"),
		Ask:       dec("0.51"),
		Volume:    dec("500"),
		Timestamp: time.Now(),
	}

	a := longPosition("0.50", "0.50")
	a.ID, a.Instrument = "pos-a", "market-a"
	b := longPosition("0.50", "0.50")
	b.ID, b.Instrument = "pos-b", "market-b"
	f.positions.open = []domain.Position{a, b}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.sched.Run(ctx)
	}()

	waitFor(t, func() bool {
		f.positions.mu.Lock()
		defer f.positions.mu.Unlock()
		return len(f.positions.updates) >= 2
	})
	assert.Equal(t, 2, f.sched.Tracked())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
