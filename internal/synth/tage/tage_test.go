package tage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredictorConvergesOnAlwaysTakenBranch(t *testing.T) {
	p := NewTAGEPredictor()
	for i := 0; i < 200; i++ {
		p.Update(0x1000, 0, true)
	}
	taken, confidence := p.Predict(0x1000, 0)
	require.True(t, taken)
	require.NotZero(t, confidence)
}

func TestPredictorTracksAlternatingContextsIndependently(t *testing.T) {
	p := NewTAGEPredictor()
	for i := 0; i < 100; i++ {
		p.Update(0x2000, 0, true)
		p.Update(0x2000, 1, false)
	}
	takenCtx0, _ := p.Predict(0x2000, 0)
	takenCtx1, _ := p.Predict(0x2000, 1)
	require.True(t, takenCtx0)
	require.False(t, takenCtx1)
}

func TestResetClearsAllocatedTablesButKeepsBase(t *testing.T) {
	p := NewTAGEPredictor()
	// Context 1: in context 0 the base table's tag-0 entries match this PC,
	// so Update would train them and never allocate in table 1.
	for i := 0; i < 50; i++ {
		p.Update(0x3000, 1, true)
	}
	statsBefore := p.Stats()
	require.NotZero(t, statsBefore.EntriesUsed[1])

	p.Reset()
	statsAfter := p.Stats()
	require.Zero(t, statsAfter.EntriesUsed[1])
	require.Equal(t, uint32(EntriesPerTable), statsAfter.EntriesUsed[0])
}

func TestGenerateOutcomesProducesExpectedTakenRunShape(t *testing.T) {
	p := NewTAGEPredictor()
	shapes := []LoopShape{
		{PC: 0x400, TakenRun: 3},
		{PC: 0x408, TakenRun: 1},
	}
	outcomes := p.GenerateOutcomes(shapes, 5, 0)

	// Each repeat emits (3 taken + 1 not-taken) + (1 taken + 1 not-taken) = 6 outcomes.
	require.Len(t, outcomes, 5*6)

	trueCount := 0
	for _, o := range outcomes {
		if o {
			trueCount++
		}
	}
	require.Equal(t, 5*(3+1), trueCount)
}

func TestTripCountsRecoversLoopShapeFromOutcomeStream(t *testing.T) {
	p := NewTAGEPredictor()
	shapes := []LoopShape{
		{PC: 0x400, TakenRun: 4},
	}
	outcomes := p.GenerateOutcomes(shapes, 3, 0)
	counts := TripCounts(outcomes)

	require.Equal(t, []int{4, 4, 4}, counts)
}
