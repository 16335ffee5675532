package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

func conds(ks ...domain.ConditionKind) []domain.Condition {
	now := time.Now()
	out := make([]domain.Condition, 0, len(ks))
	for _, k := range ks {
		out = append(out, domain.Condition{Kind: k, TriggeredAt: now})
	}
	return out
}

func TestResolveEmpty(t *testing.T) {
	_, ok := Resolve(nil)
	assert.False(t, ok)
}

func TestResolveSingle(t *testing.T) {
	got, ok := Resolve(conds(domain.KindRebalance))
	require.True(t, ok)
	assert.Equal(t, domain.KindRebalance, got.Kind)
}

func TestResolveHigherTierWins(t *testing.T) {
	cases := []struct {
		name  string
		input []domain.Condition
		want  domain.ConditionKind
	}{
		{
			"critical beats high",
			conds(domain.KindTrailingStop, domain.KindStopLoss),
			domain.KindStopLoss,
		},
		{
			"high beats medium",
			conds(domain.KindProfitTarget, domain.KindLiquidityDriedUp),
			domain.KindLiquidityDriedUp,
		},
		{
			"medium beats low",
			conds(domain.KindEarlyExit, domain.KindPartialExitTarget, domain.KindRebalance),
			domain.KindPartialExitTarget,
		},
		{
			"stop loss beats everything",
			conds(
				domain.KindRebalance, domain.KindEdgeDisappeared, domain.KindEarlyExit,
				domain.KindPartialExitTarget, domain.KindProfitTarget,
				domain.KindLiquidityDriedUp, domain.KindTimeBasedUrgent,
				domain.KindTrailingStop, domain.KindCircuitBreaker, domain.KindStopLoss,
			),
			domain.KindStopLoss,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.want, got.Kind)
		})
	}
}

func TestResolvePrecedenceWithinTier(t *testing.T) {
	cases := []struct {
		name  string
		input []domain.Condition
		want  domain.ConditionKind
	}{
		{"stop loss beats circuit breaker", conds(domain.KindCircuitBreaker, domain.KindStopLoss), domain.KindStopLoss},
		{"trailing beats time urgent", conds(domain.KindTimeBasedUrgent, domain.KindTrailingStop), domain.KindTrailingStop},
		{"time urgent beats liquidity", conds(domain.KindLiquidityDriedUp, domain.KindTimeBasedUrgent), domain.KindTimeBasedUrgent},
		{"profit target beats partial", conds(domain.KindPartialExitTarget, domain.KindProfitTarget), domain.KindProfitTarget},
		{"early exit beats edge disappeared", conds(domain.KindEdgeDisappeared, domain.KindEarlyExit), domain.KindEarlyExit},
		{"edge disappeared beats rebalance", conds(domain.KindRebalance, domain.KindEdgeDisappeared), domain.KindEdgeDisappeared},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.want, got.Kind)
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	input := conds(
		domain.KindRebalance, domain.KindProfitTarget,
		domain.KindTrailingStop, domain.KindTimeBasedUrgent,
	)
	first, ok := Resolve(input)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		again, ok := Resolve(input)
		require.True(t, ok)
		assert.Equal(t, first.Kind, again.Kind)
	}

	// Order of the input set must not matter.
	reversed := make([]domain.Condition, len(input))
	for i, c := range input {
		reversed[len(input)-1-i] = c
	}
	got, ok := Resolve(reversed)
	require.True(t, ok)
	assert.Equal(t, first.Kind, got.Kind)
}

func TestTierOrdering(t *testing.T) {
	assert.True(t, domain.TierCritical > domain.TierHigh)
	assert.True(t, domain.TierHigh > domain.TierMedium)
	assert.True(t, domain.TierMedium > domain.TierLow)
}
