package monitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func longPosition(entry, current string) domain.Position {
	return domain.Position{
		ID:               "pos-1",
		Instrument:       "market-yes",
		Side:             domain.SideLong,
		Quantity:         dec("100"),
		OriginalQuantity: dec("100"),
		AvgEntryPrice:    dec(entry),
		CurrentPrice:     dec(current),
		Status:           domain.PositionStatusOpen,
	}
}

func healthyInputs(now time.Time) EvalInputs {
	return EvalInputs{
		Quote: domain.Quote{
			Instrument: "market-yes",
			Bid:        dec("0.49"),
			Ask:        dec("0.51"),
			Volume:     dec("500"),
			Timestamp:  now,
		},
		HasQuote: true,
		Now:      now,
	}
}

func kinds(conds []domain.Condition) []domain.ConditionKind {
	out := make([]domain.ConditionKind, 0, len(conds))
	for _, c := range conds {
		out = append(out, c.Kind)
	}
	return out
}

func TestEvaluateStopLoss(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	t.Run("triggers at exactly -10%", func(t *testing.T) {
		pos := longPosition("0.50", "0.45")
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindStopLoss)
	})

	t.Run("does not trigger above threshold", func(t *testing.T) {
		pos := longPosition("0.50", "0.46")
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindStopLoss)
	})

	t.Run("short side loses when price rises", func(t *testing.T) {
		pos := longPosition("0.50", "0.55")
		pos.Side = domain.SideShort
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindStopLoss)
	})
}

func TestEvaluateCircuitBreaker(t *testing.T) {
	now := time.Now()
	pos := longPosition("0.50", "0.50")
	in := healthyInputs(now)
	in.BreakerActive = true

	conds := Evaluate(pos, in, DefaultThresholds())
	assert.Contains(t, kinds(conds), domain.KindCircuitBreaker)
}

func TestEvaluateTrailingStop(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	t.Run("triggers when price crosses stop", func(t *testing.T) {
		pos := longPosition("0.50", "0.61")
		pos.Trailing = domain.TrailingStopState{Activated: true, PeakPrice: dec("0.65"), StopPrice: dec("0.6175")}
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindTrailingStop)
	})

	t.Run("silent while above stop", func(t *testing.T) {
		pos := longPosition("0.50", "0.62")
		pos.Trailing = domain.TrailingStopState{Activated: true, PeakPrice: dec("0.65"), StopPrice: dec("0.6175")}
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindTrailingStop)
	})

	t.Run("never fires before activation", func(t *testing.T) {
		pos := longPosition("0.50", "0.40")
		pos.Trailing = domain.TrailingStopState{StopPrice: dec("0.45")}
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindTrailingStop)
	})
}

func TestEvaluateTimeBasedUrgent(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	t.Run("losing position near event", func(t *testing.T) {
		pos := longPosition("0.50", "0.48")
		pos.EventTime = now.Add(5 * time.Minute)
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindTimeBasedUrgent)
	})

	t.Run("profitable position near event stays", func(t *testing.T) {
		pos := longPosition("0.50", "0.52")
		pos.EventTime = now.Add(5 * time.Minute)
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindTimeBasedUrgent)
	})

	t.Run("losing position far from event stays", func(t *testing.T) {
		pos := longPosition("0.50", "0.48")
		pos.EventTime = now.Add(2 * time.Hour)
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindTimeBasedUrgent)
	})

	t.Run("zero event time never triggers", func(t *testing.T) {
		pos := longPosition("0.50", "0.48")
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindTimeBasedUrgent)
	})
}

func TestEvaluateLiquidityDriedUp(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	t.Run("wide spread", func(t *testing.T) {
		pos := longPosition("0.50", "0.50")
		in := healthyInputs(now)
		in.Quote.Bid = dec("0.45")
		in.Quote.Ask = dec("0.55")
		conds := Evaluate(pos, in, th)
		assert.Contains(t, kinds(conds), domain.KindLiquidityDriedUp)
	})

	t.Run("thin volume", func(t *testing.T) {
		pos := longPosition("0.50", "0.50")
		in := healthyInputs(now)
		in.Quote.Volume = dec("10")
		conds := Evaluate(pos, in, th)
		assert.Contains(t, kinds(conds), domain.KindLiquidityDriedUp)
	})

	t.Run("no quote means no liquidity check", func(t *testing.T) {
		pos := longPosition("0.50", "0.50")
		in := EvalInputs{Now: now}
		conds := Evaluate(pos, in, th)
		assert.NotContains(t, kinds(conds), domain.KindLiquidityDriedUp)
	})
}

func TestEvaluateProfitTargets(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	t.Run("profit target at +30%", func(t *testing.T) {
		pos := longPosition("0.50", "0.65")
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindProfitTarget)
	})

	t.Run("stage one pending at +15%", func(t *testing.T) {
		pos := longPosition("0.50", "0.575")
		conds := Evaluate(pos, healthyInputs(now), th)
		got := kinds(conds)
		assert.Contains(t, got, domain.KindPartialExitTarget)
		assert.NotContains(t, got, domain.KindProfitTarget)
	})

	t.Run("stage one fired does not re-arm", func(t *testing.T) {
		pos := longPosition("0.50", "0.575")
		pos.StageOneDone = true
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindPartialExitTarget)
	})

	t.Run("stage two pending at +25% after stage one", func(t *testing.T) {
		pos := longPosition("0.50", "0.63")
		pos.StageOneDone = true
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.Contains(t, kinds(conds), domain.KindPartialExitTarget)
	})

	t.Run("both stages fired", func(t *testing.T) {
		pos := longPosition("0.50", "0.63")
		pos.StageOneDone = true
		pos.StageTwoDone = true
		conds := Evaluate(pos, healthyInputs(now), th)
		assert.NotContains(t, kinds(conds), domain.KindPartialExitTarget)
	})
}

func TestEvaluateEdgeConditions(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	cases := []struct {
		name    string
		edge    string
		want    domain.ConditionKind
		exclude domain.ConditionKind
	}{
		{"negative edge means edge disappeared", "-0.01", domain.KindEdgeDisappeared, domain.KindEarlyExit},
		{"small positive edge means early exit", "0.01", domain.KindEarlyExit, domain.KindEdgeDisappeared},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := longPosition("0.50", "0.50")
			in := healthyInputs(now)
			in.Edge = dec(tc.edge)
			in.HasEdge = true
			got := kinds(Evaluate(pos, in, th))
			assert.Contains(t, got, tc.want)
			assert.NotContains(t, got, tc.exclude)
		})
	}

	t.Run("healthy edge triggers nothing", func(t *testing.T) {
		pos := longPosition("0.50", "0.50")
		in := healthyInputs(now)
		in.Edge = dec("0.05")
		in.HasEdge = true
		got := kinds(Evaluate(pos, in, th))
		assert.NotContains(t, got, domain.KindEarlyExit)
		assert.NotContains(t, got, domain.KindEdgeDisappeared)
	})

	t.Run("no edge data triggers nothing", func(t *testing.T) {
		pos := longPosition("0.50", "0.50")
		got := kinds(Evaluate(pos, healthyInputs(now), th))
		assert.NotContains(t, got, domain.KindEarlyExit)
		assert.NotContains(t, got, domain.KindEdgeDisappeared)
	})
}

func TestEvaluateRebalance(t *testing.T) {
	now := time.Now()
	pos := longPosition("0.50", "0.50")
	in := healthyInputs(now)
	in.Rebalance = true

	conds := Evaluate(pos, in, DefaultThresholds())
	assert.Contains(t, kinds(conds), domain.KindRebalance)
}

func TestEvaluateMultipleConditions(t *testing.T) {
	// A deep loss near the event with the breaker engaged trips several
	// independent conditions in one pass.
	now := time.Now()
	pos := longPosition("0.50", "0.40")
	pos.EventTime = now.Add(5 * time.Minute)
	in := healthyInputs(now)
	in.BreakerActive = true

	conds := Evaluate(pos, in, DefaultThresholds())
	require.NotEmpty(t, conds)
	got := kinds(conds)
	assert.Contains(t, got, domain.KindStopLoss)
	assert.Contains(t, got, domain.KindCircuitBreaker)
	assert.Contains(t, got, domain.KindTimeBasedUrgent)
}
