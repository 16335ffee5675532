package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// EdgeReader implements domain.EdgeSource by reading model signals published
// to Redis by the upstream signal generator. Edge lives at "edge:{instrument}"
// as a decimal string; the rebalance flag at "rebalance:{instrument}" as "1".
// A missing edge key maps to domain.ErrNotFound; a missing rebalance key
// simply means no rebalance is requested.
type EdgeReader struct {
	rdb *redis.Client
}

// NewEdgeReader creates an EdgeReader backed by the given Client.
func NewEdgeReader(c *Client) *EdgeReader {
	return &EdgeReader{rdb: c.rdb}
}

// Edge returns the current model edge for an instrument.
func (er *EdgeReader) Edge(ctx context.Context, instrument string) (decimal.Decimal, error) {
	s, err := er.rdb.Get(ctx, "edge:"+instrument).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("redis: get edge %s: %w", instrument, err)
	}

	edge, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis: parse edge %s: %w", instrument, err)
	}
	return edge, nil
}

// RebalanceFlag reports whether the portfolio manager has flagged the
// instrument for rebalancing.
func (er *EdgeReader) RebalanceFlag(ctx context.Context, instrument string) (bool, error) {
	s, err := er.rdb.Get(ctx, "rebalance:"+instrument).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis: get rebalance flag %s: %w", instrument, err)
	}
	return s == "1", nil
}

// Compile-time interface check.
var _ domain.EdgeSource = (*EdgeReader)(nil)
