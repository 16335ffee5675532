package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

func TestInitialLimitPrice(t *testing.T) {
	q := domain.Quote{Bid: dec("0.44"), Ask: dec("0.46")}
	inc := domain.PriceIncrement

	cases := []struct {
		name string
		side domain.OrderSide
		agg  Aggression
		want string
	}{
		{"sell cross goes below the bid", domain.OrderSideSell, AggressionCross, "0.43"},
		{"sell fair rests at the bid", domain.OrderSideSell, AggressionFair, "0.44"},
		{"sell passive rests behind the bid", domain.OrderSideSell, AggressionPassive, "0.45"},
		{"buy cross goes above the ask", domain.OrderSideBuy, AggressionCross, "0.47"},
		{"buy fair rests at the ask", domain.OrderSideBuy, AggressionFair, "0.46"},
		{"buy passive rests behind the ask", domain.OrderSideBuy, AggressionPassive, "0.45"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := initialLimitPrice(tc.side, q, tc.agg, inc)
			assert.True(t, got.Equal(dec(tc.want)), "got %s, want %s", got, tc.want)
		})
	}
}

func TestStepToward(t *testing.T) {
	inc := domain.PriceIncrement
	assert.True(t, stepToward(domain.OrderSideSell, dec("0.44"), inc).Equal(dec("0.43")))
	assert.True(t, stepToward(domain.OrderSideBuy, dec("0.46"), inc).Equal(dec("0.47")))
}

func TestClampPrice(t *testing.T) {
	inc := domain.PriceIncrement

	t.Run("floor at one increment", func(t *testing.T) {
		assert.True(t, clampPrice(dec("0.005"), inc).Equal(dec("0.01")))
		assert.True(t, clampPrice(dec("-0.02"), inc).Equal(dec("0.01")))
	})

	t.Run("ceiling one increment under a dollar", func(t *testing.T) {
		assert.True(t, clampPrice(dec("1.05"), inc).Equal(dec("0.99")))
		assert.True(t, clampPrice(dec("0.995"), inc).Equal(dec("0.99")))
	})

	t.Run("in-band prices pass through", func(t *testing.T) {
		assert.True(t, clampPrice(dec("0.50"), inc).Equal(dec("0.50")))
	})
}
