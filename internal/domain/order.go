package domain

import "github.com/shopspring/decimal"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects between a resting limit order and an immediate market order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderRequest describes an order to be placed on the exchange. LimitPrice
// must be set for limit orders and nil for market orders.
type OrderRequest struct {
	Instrument string
	Side       OrderSide
	Quantity   decimal.Decimal
	Type       OrderType
	LimitPrice *decimal.Decimal
}

// OrderHandle identifies a live order on the exchange.
type OrderHandle string

// OrderState is a point-in-time snapshot of an order's fill progress.
type OrderState struct {
	Filled         bool // fully filled
	FilledQuantity decimal.Decimal
	FillPrice      decimal.Decimal
}

// PriceIncrement is the minimum price step on the exchange ($0.01).
var PriceIncrement = decimal.NewFromFloat(0.01)

// PricePlaces is the fixed-point precision for all monetary values crossing
// external interfaces.
const PricePlaces = 4

// RoundPrice truncates a price to the wire precision of four decimal places.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}
