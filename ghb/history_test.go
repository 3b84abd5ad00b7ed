package ghb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// HistoryHelper - circular buffer and chain invariants
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func newTestHelper(t *testing.T, historySize, patternLength, degree int) *HistoryHelper {
	t.Helper()
	cfg := Config{
		HistorySize:         historySize,
		PatternLength:       patternLength,
		Degree:              degree,
		UsePC:               true,
		PageBytes:           4096,
		ConfidenceThreshold: 50,
	}
	return NewHistoryHelper(cfg)
}

func TestInsertZeroHistorySizeReturnsNegativeOne(t *testing.T) {
	h := NewHistoryHelper(Config{HistorySize: 0, PatternLength: 4, Degree: 4, PageBytes: 4096})
	require.True(t, h.Empty())
	idx := h.Insert(Access{Addr: 64})
	require.Equal(t, int32(-1), idx)
}

func TestInsertChainsSamePC(t *testing.T) {
	h := newTestHelper(t, 8, 4, 4)

	i0 := h.Insert(Access{Addr: 0, PC: 0x1000, HasPC: true})
	i1 := h.Insert(Access{Addr: 64, PC: 0x1000, HasPC: true})
	i2 := h.Insert(Access{Addr: 128, PC: 0x1000, HasPC: true})

	require.Equal(t, int32(0), i0)
	require.Equal(t, int32(1), i1)
	require.Equal(t, int32(2), i2)

	deltas := h.BuildPattern(i2, KeyPC)
	require.Equal(t, []int64{64, 64}, deltas)
}

func TestInsertSeparatesKeysByPage(t *testing.T) {
	h := newTestHelper(t, 8, 4, 4)

	h.Insert(Access{Addr: 0, PC: 0x1000, HasPC: true})
	idx := h.Insert(Access{Addr: 8192, PC: 0x1000, HasPC: true})

	pageDeltas := h.BuildPattern(idx, KeyPage)
	require.Empty(t, pageDeltas, "different pages must not chain on the Page key")

	pcDeltas := h.BuildPattern(idx, KeyPC)
	require.Equal(t, []int64{8192}, pcDeltas)
}

func TestBuildPatternTruncatesOnSlotReuse(t *testing.T) {
	h := newTestHelper(t, 3, 8, 4)

	h.Insert(Access{Addr: 0, PC: 0x1000, HasPC: true})
	h.Insert(Access{Addr: 64, PC: 0x1000, HasPC: true})
	h.Insert(Access{Addr: 128, PC: 0x1000, HasPC: true})
	// Wraps around: slot 0 (addr 0) gets evicted and overwritten with an
	// unrelated PC.
	idx := h.Insert(Access{Addr: 192, PC: 0x9999, HasPC: true})
	require.Equal(t, int32(0), idx)

	idx2 := h.Insert(Access{Addr: 256, PC: 0x1000, HasPC: true})
	deltas := h.BuildPattern(idx2, KeyPC)
	// addr 256 lands in slot 1, so the PC=0x1000 chain runs 256 -> slot 2
	// (addr 128), whose link back to slot 1 (once addr 64) now fails the
	// seq check: the walk must stop at one delta, not run off into the new
	// occupant's data.
	require.Equal(t, []int64{128}, deltas)
}

func TestResetRestoresFreshState(t *testing.T) {
	h := newTestHelper(t, 8, 4, 4)
	for i := 0; i < 5; i++ {
		h.Insert(Access{Addr: uint64(i * 64), PC: 0x1000, HasPC: true})
	}
	require.NotZero(t, h.Stats().PatternTableSize+int(h.Stats().SequenceCounter))

	h.Reset()
	fresh := newTestHelper(t, 8, 4, 4)

	require.Equal(t, fresh.Stats(), h.Stats())
}

func TestPatternTableTotalMatchesCountsSum(t *testing.T) {
	h := newTestHelper(t, 64, 8, 4)
	for i := 0; i < 30; i++ {
		idx := h.Insert(Access{Addr: uint64(i * 64), PC: 0x1000, HasPC: true})
		// Insert alone never trains the table. A constant-stride chain reads
		// the same in either order, so BuildPattern's output is trained as is.
		h.UpdatePatternTable(h.BuildPattern(idx, KeyPC))
	}
	require.NotEmpty(t, h.patternTable)
	for _, entry := range h.patternTable {
		var sum uint32
		for _, c := range entry.Counts {
			sum += c
		}
		require.Equal(t, entry.Total, sum)
	}
}

func TestBuildPatternNeverExceedsPatternLength(t *testing.T) {
	h := newTestHelper(t, 64, 5, 4)
	var last int32
	for i := 0; i < 40; i++ {
		last = h.Insert(Access{Addr: uint64(i * 64), PC: 0x1000, HasPC: true})
	}
	deltas := h.BuildPattern(last, KeyPC)
	require.LessOrEqual(t, len(deltas), 5)
}
