package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// instrument's quote is stored at key "quote:{instrument}" with fields
// "bid", "ask", "volume" and "ts" (Unix nanosecond timestamp). Keys expire
// after the configured TTL so a dead feed cannot serve stale quotes forever.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Entries
// expire after ttl.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.rdb, ttl: ttl}
}

func quoteKey(instrument string) string {
	return "quote:" + instrument
}

// SetQuote stores the latest quote for an instrument and refreshes its TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.Instrument)
	fields := map[string]interface{}{
		"bid":    q.Bid.StringFixed(domain.PricePlaces),
		"ask":    q.Ask.StringFixed(domain.PricePlaces),
		"volume": q.Volume.String(),
		"ts":     strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Instrument, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for an instrument. It returns
// domain.ErrNotFound when no quote is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, instrument string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(instrument)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{Instrument: instrument}
	if q.Bid, err = parseField(vals, "bid", instrument); err != nil {
		return domain.Quote{}, err
	}
	if q.Ask, err = parseField(vals, "ask", instrument); err != nil {
		return domain.Quote{}, err
	}
	if q.Volume, err = parseField(vals, "volume", instrument); err != nil {
		return domain.Quote{}, err
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s: %w", instrument, err)
	}
	q.Timestamp = time.Unix(0, tsNano)

	return q, nil
}

func parseField(vals map[string]string, field, instrument string) (decimal.Decimal, error) {
	s, ok := vals[field]
	if !ok {
		return decimal.Zero, domain.ErrNotFound
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse quote %s %s: %w", field, instrument, err)
	}
	return d, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
