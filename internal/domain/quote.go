package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time bid/ask snapshot for one instrument.
type Quote struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Volume     decimal.Decimal // displayed size at the touch
	Timestamp  time.Time
}

// Spread returns the bid/ask spread.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// OlderThan reports whether the quote was taken before now minus ttl.
func (q Quote) OlderThan(ttl time.Duration, now time.Time) bool {
	return now.Sub(q.Timestamp) > ttl
}
