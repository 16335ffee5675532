package clob

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

// apiQuote is the wire shape of a top-of-book snapshot. Prices and sizes are
// fixed-point decimal strings.
type apiQuote struct {
	Instrument string `json:"instrument"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	BidSize    string `json:"bid_size"`
	AskSize    string `json:"ask_size"`
	Timestamp  int64  `json:"ts"` // Unix milliseconds
}

func (q apiQuote) toDomain() (domain.Quote, error) {
	bid, err := decimal.NewFromString(q.Bid)
	if err != nil {
		return domain.Quote{}, err
	}
	ask, err := decimal.NewFromString(q.Ask)
	if err != nil {
		return domain.Quote{}, err
	}
	bidSize, err := decimal.NewFromString(q.BidSize)
	if err != nil {
		return domain.Quote{}, err
	}
	askSize, err := decimal.NewFromString(q.AskSize)
	if err != nil {
		return domain.Quote{}, err
	}

	// Displayed volume is the smaller side of the touch; that is what an
	// exit order can realistically hit without walking the book.
	volume := bidSize
	if askSize.LessThan(bidSize) {
		volume = askSize
	}

	return domain.Quote{
		Instrument: q.Instrument,
		Bid:        bid,
		Ask:        ask,
		Volume:     volume,
		Timestamp:  time.UnixMilli(q.Timestamp),
	}, nil
}

// apiOrderRequest is the wire shape of an order placement.
type apiOrderRequest struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price,omitempty"`
}

// apiOrderResult is the response to an order placement.
type apiOrderResult struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"order_id"`
	ErrorMsg string `json:"error_msg"`
}

// apiOrderState is the wire shape of an order status query.
type apiOrderState struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"` // open, filled, cancelled
	FilledQuantity string `json:"filled_quantity"`
	AvgFillPrice   string `json:"avg_fill_price"`
}

func (s apiOrderState) toDomain() (domain.OrderState, error) {
	filled, err := decimal.NewFromString(s.FilledQuantity)
	if err != nil {
		return domain.OrderState{}, err
	}

	state := domain.OrderState{
		Filled:         s.Status == "filled",
		FilledQuantity: filled,
	}
	if s.AvgFillPrice != "" {
		price, err := decimal.NewFromString(s.AvgFillPrice)
		if err != nil {
			return domain.OrderState{}, err
		}
		state.FillPrice = price
	}
	return state, nil
}
