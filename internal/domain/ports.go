package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteSource supplies current bid/ask for an instrument. Implementations
// return an error wrapping ErrTransient on network or timeout failures.
type QuoteSource interface {
	GetQuote(ctx context.Context, instrument string) (Quote, error)
}

// OrderExecutor is the exchange order interface. Authentication and
// connection management are the implementation's concern; the engine treats
// it as an injected client safe for concurrent use.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	CancelOrder(ctx context.Context, handle OrderHandle) error
	OrderStatus(ctx context.Context, handle OrderHandle) (OrderState, error)
}

// EdgeSource supplies model signals: the current edge (model probability
// minus market-implied price) and the portfolio rebalance flag. Both are
// read-only from the engine's perspective.
type EdgeSource interface {
	Edge(ctx context.Context, instrument string) (decimal.Decimal, error)
	RebalanceFlag(ctx context.Context, instrument string) (bool, error)
}
