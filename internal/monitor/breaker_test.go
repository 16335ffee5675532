package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

type fakeBus struct {
	ch chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{ch: make(chan []byte, 8)}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) Notify(ctx context.Context, event, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAlerter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func TestBreakerTripClear(t *testing.T) {
	b := NewBreaker()
	assert.False(t, b.Engaged())
	assert.Empty(t, b.Reason())

	b.Trip("drawdown limit")
	assert.True(t, b.Engaged())
	assert.Equal(t, "drawdown limit", b.Reason())

	b.Clear()
	assert.False(t, b.Engaged())
	assert.Empty(t, b.Reason())
}

func TestBreakerListen(t *testing.T) {
	b := NewBreaker()
	bus := newFakeBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerter := &fakeAlerter{}
	done := make(chan error, 1)
	go func() {
		done <- b.Listen(ctx, bus, alerter, logger)
	}()

	require.NoError(t, bus.Publish(ctx, BreakerChannel, []byte(`{"engaged":true,"reason":"api outage"}`)))
	waitFor(t, func() bool { return b.Engaged() })
	assert.Equal(t, "api outage", b.Reason())
	waitFor(t, func() bool { return alerter.count("circuit_breaker") == 1 })

	// A malformed message must not flip the state.
	require.NoError(t, bus.Publish(ctx, BreakerChannel, []byte(`{not json`)))
	require.NoError(t, bus.Publish(ctx, BreakerChannel, []byte(`{"engaged":false}`)))
	waitFor(t, func() bool { return !b.Engaged() })

	// Clearing is an operator action already; it is not alerted.
	assert.Equal(t, 1, alerter.count("circuit_breaker"))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestBreakerListenChannelClosed(t *testing.T) {
	b := NewBreaker()
	bus := newFakeBus()
	close(bus.ch)

	err := b.Listen(context.Background(), bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
