package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is a subscription control message.
type wsCommand struct {
	Type        string   `json:"type"`
	Channel     string   `json:"channel"`
	Instruments []string `json:"instruments"`
}

// QuoteFeed streams top-of-book updates over the CLOB websocket into the
// shared quote cache, so scheduler ticks usually hit fresh cached quotes
// instead of spending REST budget. The feed is best-effort: the scheduler
// falls back to REST polling whenever the cache misses or goes stale.
type QuoteFeed struct {
	wsURL  string
	cache  domain.QuoteCache
	logger *slog.Logger

	mu          sync.Mutex
	instruments map[string]struct{}
}

// NewQuoteFeed creates a quote feed writing into the given cache.
func NewQuoteFeed(wsURL string, cache domain.QuoteCache, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		wsURL:       wsURL,
		cache:       cache,
		logger:      logger.With("component", "quote_feed"),
		instruments: make(map[string]struct{}),
	}
}

// Watch adds instruments to the subscription set. Takes effect on the next
// (re)connect.
func (f *QuoteFeed) Watch(instruments ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ins := range instruments {
		f.instruments[ins] = struct{}{}
	}
}

// Unwatch removes instruments from the subscription set.
func (f *QuoteFeed) Unwatch(instruments ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ins := range instruments {
		delete(f.instruments, ins)
	}
}

func (f *QuoteFeed) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.instruments))
	for ins := range f.instruments {
		out = append(out, ins)
	}
	return out
}

// Run connects and consumes the feed until the context is cancelled,
// reconnecting with exponential backoff on any failure.
func (f *QuoteFeed) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting",
			"error", err,
			"delay", delay.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *QuoteFeed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("clob/ws: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if instruments := f.watched(); len(instruments) > 0 {
		cmd := wsCommand{Type: "subscribe", Channel: "quotes", Instruments: instruments}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("clob/ws: subscribe: %w", err)
		}
	}

	// Ping loop keeps the connection alive; it exits when the read loop
	// returns and cancels the shared context.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("clob/ws: read: %w", err)
		}

		var aq apiQuote
		if err := json.Unmarshal(data, &aq); err != nil || aq.Instrument == "" {
			continue // control frame or unknown message
		}
		q, err := aq.toDomain()
		if err != nil {
			f.logger.Warn("dropping malformed quote", "instrument", aq.Instrument, "error", err)
			continue
		}

		if err := f.cache.SetQuote(ctx, q); err != nil {
			f.logger.Warn("quote cache write failed", "instrument", q.Instrument, "error", err)
		}
	}
}

func (f *QuoteFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
