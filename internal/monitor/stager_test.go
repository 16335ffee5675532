package monitor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/exitbot/internal/domain"
)

func TestStagerPlanPartials(t *testing.T) {
	s := NewStager(DefaultThresholds())

	t.Run("stage one takes half the original", func(t *testing.T) {
		pos := longPosition("0.50", "0.575") // +15%
		qty, stage := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.Equal(dec("50")), "qty = %s", qty)
		assert.Equal(t, domain.StageOne, stage)
	})

	t.Run("stage two takes a quarter of the original", func(t *testing.T) {
		pos := longPosition("0.50", "0.63") // +26%
		pos.Quantity = dec("50")
		pos.StageOneDone = true
		qty, stage := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.Equal(dec("25")), "qty = %s", qty)
		assert.Equal(t, domain.StageTwo, stage)
	})

	t.Run("odd quantity floors to the increment", func(t *testing.T) {
		pos := longPosition("0.50", "0.575")
		pos.Quantity = dec("101")
		pos.OriginalQuantity = dec("101")
		qty, stage := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.Equal(dec("50")), "50.5 floors to 50, got %s", qty)
		assert.Equal(t, domain.StageOne, stage)
	})

	t.Run("staged quantity never exceeds remaining", func(t *testing.T) {
		pos := longPosition("0.50", "0.575")
		pos.Quantity = dec("30") // less than the 50% stage would take
		qty, _ := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.Equal(dec("30")), "qty = %s", qty)
	})

	t.Run("both stages fired yields nothing", func(t *testing.T) {
		pos := longPosition("0.50", "0.70")
		pos.StageOneDone = true
		pos.StageTwoDone = true
		qty, _ := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.IsZero())
	})

	t.Run("below threshold yields nothing", func(t *testing.T) {
		pos := longPosition("0.50", "0.55") // +10%
		qty, _ := s.Plan(pos, domain.KindPartialExitTarget)
		assert.True(t, qty.IsZero())
	})
}

func TestStagerPlanFullExits(t *testing.T) {
	s := NewStager(DefaultThresholds())

	t.Run("untouched position exits in full", func(t *testing.T) {
		pos := longPosition("0.50", "0.44")
		qty, stage := s.Plan(pos, domain.KindStopLoss)
		assert.True(t, qty.Equal(dec("100")))
		assert.Equal(t, domain.StageFull, stage)
	})

	t.Run("staged position exits its remainder", func(t *testing.T) {
		pos := longPosition("0.50", "0.44")
		pos.Quantity = dec("25")
		pos.StageOneDone = true
		pos.StageTwoDone = true
		qty, stage := s.Plan(pos, domain.KindStopLoss)
		assert.True(t, qty.Equal(dec("25")))
		assert.Equal(t, domain.StageRemainder, stage)
	})

	t.Run("empty position yields nothing", func(t *testing.T) {
		pos := longPosition("0.50", "0.44")
		pos.Quantity = decimal.Zero
		qty, _ := s.Plan(pos, domain.KindProfitTarget)
		assert.True(t, qty.IsZero())
	})
}

func TestStagerQuantityConservation(t *testing.T) {
	// Drive a position through stage one, stage two, and a final full exit;
	// the exited quantities must sum to exactly the original.
	s := NewStager(DefaultThresholds())
	pos := longPosition("0.50", "0.575")
	pos.Quantity = dec("101")
	pos.OriginalQuantity = dec("101")

	total := decimal.Zero

	qty, stage := s.Plan(pos, domain.KindPartialExitTarget)
	total = total.Add(qty)
	pos.Quantity = pos.Quantity.Sub(qty)
	MarkStage(&pos, stage)
	assert.True(t, pos.StageOneDone)

	pos.CurrentPrice = dec("0.63")
	qty, stage = s.Plan(pos, domain.KindPartialExitTarget)
	total = total.Add(qty)
	pos.Quantity = pos.Quantity.Sub(qty)
	MarkStage(&pos, stage)
	assert.True(t, pos.StageTwoDone)

	pos.CurrentPrice = dec("0.66")
	qty, stage = s.Plan(pos, domain.KindProfitTarget)
	assert.Equal(t, domain.StageRemainder, stage)
	total = total.Add(qty)
	pos.Quantity = pos.Quantity.Sub(qty)

	assert.True(t, total.Equal(dec("101")), "total exited = %s", total)
	assert.True(t, pos.Quantity.IsZero())
}

func TestMarkStage(t *testing.T) {
	var pos domain.Position
	MarkStage(&pos, domain.StageOne)
	assert.True(t, pos.StageOneDone)
	assert.False(t, pos.StageTwoDone)
	MarkStage(&pos, domain.StageTwo)
	assert.True(t, pos.StageTwoDone)

	// Full and remainder stages leave the flags alone.
	var other domain.Position
	MarkStage(&other, domain.StageFull)
	MarkStage(&other, domain.StageRemainder)
	assert.False(t, other.StageOneDone)
	assert.False(t, other.StageTwoDone)
}
