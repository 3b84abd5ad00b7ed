package ooo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Covers the bitmap scheduler primitives that reorderBatch actually drives
// (scoreboard, ready bitmap, dependency matrix, priority classification,
// issue selection, both scoreboard update halves), then ReorderAccesses
// itself.

func TestScoreboard_ReadyMarkAndClear(t *testing.T) {
	var sb Scoreboard
	require.False(t, sb.IsReady(5))

	sb.MarkReady(5)
	require.True(t, sb.IsReady(5))
	require.False(t, sb.IsReady(6))

	sb.MarkPending(5)
	require.False(t, sb.IsReady(5))
}

func TestComputeReadyBitmap_OnlyValidUnissuedWithReadySourcesCount(t *testing.T) {
	var window InstructionWindow
	window.Ops[0] = Operation{Valid: true, Src1: 0, Src2: 0}
	window.Ops[1] = Operation{Valid: true, Src1: 0, Src2: 1} // reg 1 not ready
	window.Ops[2] = Operation{Valid: true, Src1: 0, Src2: 0, Issued: true}
	window.Ops[3] = Operation{Valid: false, Src1: 0, Src2: 0}

	var sb Scoreboard
	sb.MarkReady(0)

	got := ComputeReadyBitmap(&window, sb)
	require.Equal(t, uint32(1<<0), got)
}

func TestBuildDependencyMatrix_NoSharedRegistersIsAllZero(t *testing.T) {
	var window InstructionWindow
	for i := 0; i < 4; i++ {
		window.Ops[i] = Operation{
			Valid: true,
			Src1:  0,
			Src2:  0,
			Dest:  uint8(i + 1),
			Age:   uint8(3 - i),
		}
	}

	matrix := BuildDependencyMatrix(&window)
	for i := 0; i < 4; i++ {
		require.Zerof(t, matrix[i], "row %d should have no dependents", i)
	}
}

func TestBuildDependencyMatrix_YoungerConsumerDependsOnOlderProducer(t *testing.T) {
	var window InstructionWindow
	window.Ops[0] = Operation{Valid: true, Dest: 1, Age: 1} // older producer
	window.Ops[1] = Operation{Valid: true, Src1: 1, Age: 0} // younger consumer reads reg 1

	matrix := BuildDependencyMatrix(&window)
	require.Equal(t, uint32(1<<1), matrix[0])
	require.Zero(t, matrix[1])
}

func TestClassifyPriority_SplitsByDependencyMatrixRow(t *testing.T) {
	ready := uint32(1<<0 | 1<<1)
	var matrix DependencyMatrix
	matrix[0] = 1 << 5 // op 0 has a dependent: high priority

	got := ClassifyPriority(ready, matrix)
	require.Equal(t, uint32(1<<0), got.HighPriority)
	require.Equal(t, uint32(1<<1), got.LowPriority)
}

func TestSelectIssueBundle_PrefersHighPriorityTier(t *testing.T) {
	bundle := SelectIssueBundle(PriorityClass{HighPriority: 1 << 3, LowPriority: 1 << 7})
	require.Equal(t, uint16(1), bundle.Valid)
	require.Equal(t, uint8(3), bundle.Indices[0])
}

func TestSelectIssueBundle_FallsBackToLowPriorityWhenNoHighPriorityReady(t *testing.T) {
	bundle := SelectIssueBundle(PriorityClass{LowPriority: 1<<2 | 1<<9})
	require.Equal(t, uint16(0b11), bundle.Valid)
	require.Equal(t, uint8(9), bundle.Indices[0])
	require.Equal(t, uint8(2), bundle.Indices[1])
}

func TestSelectIssueBundle_CapsAtSixteenPerCycle(t *testing.T) {
	bundle := SelectIssueBundle(PriorityClass{LowPriority: 0xFFFFFFFF})
	count := 0
	for i := 0; i < 16; i++ {
		if (bundle.Valid>>uint(i))&1 != 0 {
			count++
		}
	}
	require.Equal(t, 16, count)
}

func TestUpdateScoreboardAfterIssue_MarksDestPendingAndFlagsIssued(t *testing.T) {
	var window InstructionWindow
	window.Ops[4] = Operation{Valid: true, Dest: 9}

	var sb Scoreboard
	sb.MarkReady(9)

	bundle := IssueBundle{Indices: [16]uint8{4}, Valid: 1}
	UpdateScoreboardAfterIssue(&sb, &window, bundle)

	require.False(t, sb.IsReady(9))
	require.True(t, window.Ops[4].Issued)
}

func TestUpdateScoreboardAfterComplete_MarksDestRegsReady(t *testing.T) {
	var sb Scoreboard
	destRegs := [16]uint8{3, 7}
	UpdateScoreboardAfterComplete(&sb, destRegs, 0b11)

	require.True(t, sb.IsReady(3))
	require.True(t, sb.IsReady(7))
}

func TestOoOScheduler_IssueThenCompleteRoundTrip(t *testing.T) {
	var sched OoOScheduler
	sched.Scoreboard.MarkReady(0)
	sched.Window.Ops[0] = Operation{Valid: true, Src1: 0, Src2: 0, Dest: 1, Age: 0}

	sched.ScheduleCycle0()
	bundle := sched.ScheduleCycle1()
	require.Equal(t, uint16(1), bundle.Valid)
	require.False(t, sched.Scoreboard.IsReady(1))

	sched.ScheduleComplete([16]uint8{1}, 1)
	require.True(t, sched.Scoreboard.IsReady(1))
}

func TestReorderAccessesSingleBatchIsExactReverse(t *testing.T) {
	addrs := []uint64{100, 200, 300, 400, 500}
	got := ReorderAccesses(addrs)
	require.Equal(t, []uint64{500, 400, 300, 200, 100}, got)
}

func TestReorderAccessesFullWindowIsExactReverse(t *testing.T) {
	addrs := make([]uint64, 32)
	for i := range addrs {
		addrs[i] = uint64(i) * 64
	}
	got := ReorderAccesses(addrs)
	require.Len(t, got, 32)
	for i, v := range got {
		require.Equal(t, addrs[31-i], v)
	}
}

func TestReorderAccessesMultipleBatchesReverseEachIndependently(t *testing.T) {
	addrs := make([]uint64, 40)
	for i := range addrs {
		addrs[i] = uint64(i)
	}
	got := ReorderAccesses(addrs)
	require.Len(t, got, 40)
	for i := 0; i < 32; i++ {
		require.Equal(t, addrs[31-i], got[i])
	}
	for i := 0; i < 8; i++ {
		require.Equal(t, addrs[32+7-i], got[32+i])
	}
}

func TestReorderAccessesEmptyInput(t *testing.T) {
	require.Empty(t, ReorderAccesses(nil))
}

func TestReorderAccessesIsPermutationNotLoss(t *testing.T) {
	addrs := []uint64{7, 7, 13, 13, 21}
	got := ReorderAccesses(addrs)
	require.Len(t, got, len(addrs))
	wantCounts := map[uint64]int{}
	for _, a := range addrs {
		wantCounts[a]++
	}
	gotCounts := map[uint64]int{}
	for _, a := range got {
		gotCounts[a]++
	}
	require.Equal(t, wantCounts, gotCounts)
}
