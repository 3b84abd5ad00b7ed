// ═══════════════════════════════════════════════════════════════════════════════════════════════
// GHB History Helper - Hardware Reference Model
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// DESIGN PHILOSOPHY:
// ─────────────────
// 1. Arena-plus-index: no pointers, no ownership cycles, a fixed-size ring
// 2. Two correlation keys (PC, Page): closed set, fixed-size array of chains
// 3. seq/prevSeq guard: O(1) staleness check on every chain hop, no back-link scrubbing
// 4. Adaptive two-delta Markov table: confidence-gated, chained, amplified, with a
//    frequency/recency fallback when the table has nothing to say
//
// This file owns the circular history buffer and the per-key reverse chains
// (package ghb). Pattern-table construction and matching live in
// pattern_table.go, matcher.go and fallback.go.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package ghb

// CorrelationKey enumerates the closed set of correlation tags a history
// entry can be chained on. The set is fixed by spec: no dynamic dispatch,
// a plain array indexed by key type.
type CorrelationKey int

const (
	KeyPC CorrelationKey = iota
	KeyPage
	numKeys
)

// LinkInfo is the reverse chain pointer for one correlation key on one
// history slot. Prev/PrevSeq are split apart deliberately: PrevSeq lets a
// chain walk detect that history[Prev] has been overwritten by a later
// insert without having to scrub back-pointers on eviction of unrelated
// slots (see BuildPattern).
type LinkInfo struct {
	Prev     int32  // slot index of the prior occurrence, or -1
	PrevSeq  uint64 // seq the prior occurrence held at link-creation time
	KeyValid bool
	KeyValue uint64
}

// HistoryEntry is one slot of the circular buffer.
type HistoryEntry struct {
	Addr  uint64
	Seq   uint64
	Links [numKeys]LinkInfo
}

// Access is the inbound event HistoryHelper.Insert consumes. PC is only
// meaningful when HasPC is set; HasPC is false when the simulator's access
// carried no PC.
type Access struct {
	Addr  uint64
	PC    uint64
	HasPC bool
}

// Config holds the prefetcher's immutable-after-construction tunables.
// Clamping to the safe minimums described in spec.md §7 is the caller's
// responsibility (Dispatcher does it once, at construction) — HistoryHelper
// itself takes whatever it is given, including a degenerate HistorySize of
// zero, so that degenerate configurations remain independently testable.
type Config struct {
	HistorySize         int
	PatternLength       int
	Degree              int
	UsePC               bool
	PageBytes           uint64
	ConfidenceThreshold int
}

// Clamp pins every tunable to the safe minimums (or [0,100] range, for the
// confidence threshold) spec.md §7 requires at construction time.
func (c *Config) Clamp() {
	if c.HistorySize < 1 {
		c.HistorySize = 1
	}
	if c.PatternLength < 1 {
		c.PatternLength = 1
	}
	if c.Degree < 1 {
		c.Degree = 1
	}
	if c.PageBytes < 1 {
		c.PageBytes = 1
	}
	if c.ConfidenceThreshold < 0 {
		c.ConfidenceThreshold = 0
	}
	if c.ConfidenceThreshold > 100 {
		c.ConfidenceThreshold = 100
	}
}

// HistoryHelper owns the circular history buffer, the per-key last-index
// maps, and the pattern table. It is the ~70% component of the core; all
// dispatch policy lives one layer up, in package prefetch.
type HistoryHelper struct {
	cfg Config

	history []HistoryEntry
	head    int32
	filled  bool
	seq     uint64

	lastIndex [numKeys]map[uint64]int32

	patternTable map[DeltaPair]*PatternEntry
}

// NewHistoryHelper allocates a helper for the given configuration. cfg is
// used as given — pass a clamped Config from the constructor that owns
// policy (prefetch.Dispatcher) unless you are deliberately exercising a
// degenerate size.
func NewHistoryHelper(cfg Config) *HistoryHelper {
	h := &HistoryHelper{cfg: cfg}
	h.allocate()
	return h
}

func (h *HistoryHelper) allocate() {
	size := h.cfg.HistorySize
	if size < 0 {
		size = 0
	}
	h.history = make([]HistoryEntry, size)
	for k := range h.lastIndex {
		h.lastIndex[k] = make(map[uint64]int32)
	}
	h.head = 0
	h.filled = false
	h.seq = 1
	h.patternTable = make(map[DeltaPair]*PatternEntry)
}

// Reset returns the helper to its freshly-constructed state: empty ring,
// empty last-index maps, empty pattern table, sequence counter restarted.
func (h *HistoryHelper) Reset() {
	h.allocate()
}

// Empty reports whether the helper can hold no history at all (a
// degenerate HistorySize of zero). It does not mean "no accesses seen yet".
func (h *HistoryHelper) Empty() bool {
	return len(h.history) == 0
}

// Insert records one access and returns the slot it landed in, or -1 iff
// HistorySize is zero (otherwise unreachable once the owning Dispatcher has
// clamped its Config to HistorySize >= 1).
func (h *HistoryHelper) Insert(access Access) int32 {
	if len(h.history) == 0 {
		return -1
	}

	head := h.head

	// Evict the outgoing occupant's chain heads. Only last-index entries
	// that still point at this slot are expunged — a chain whose head has
	// already moved on is untouched, and stale survivors are caught lazily
	// by the seq/prevSeq guard in BuildPattern, never here.
	if h.filled {
		occupant := &h.history[head]
		for k := CorrelationKey(0); k < numKeys; k++ {
			link := &occupant.Links[k]
			if !link.KeyValid {
				continue
			}
			if last, ok := h.lastIndex[k][link.KeyValue]; ok && last == head {
				delete(h.lastIndex[k], link.KeyValue)
			}
			link.KeyValid = false
		}
	}

	entry := HistoryEntry{Addr: access.Addr, Seq: h.seq}
	h.seq++
	for k := range entry.Links {
		entry.Links[k] = LinkInfo{Prev: -1}
	}

	if h.cfg.UsePC && access.HasPC {
		h.chainKey(&entry, KeyPC, access.PC, head)
	}

	pageKey := access.Addr / h.pageBytes()
	h.chainKey(&entry, KeyPage, pageKey, head)

	h.history[head] = entry

	h.head = (head + 1) % int32(len(h.history))
	if h.head == 0 {
		h.filled = true
	}
	return head
}

// chainKey wires entry's link for key k to whatever lastIndex[k][keyValue]
// pointed at before this insert, then advances lastIndex[k][keyValue] to
// the new slot.
func (h *HistoryHelper) chainKey(entry *HistoryEntry, k CorrelationKey, keyValue uint64, slot int32) {
	prev := int32(-1)
	var prevSeq uint64
	if idx, ok := h.lastIndex[k][keyValue]; ok {
		prev = idx
		prevSeq = h.history[idx].Seq
	}
	entry.Links[k] = LinkInfo{Prev: prev, PrevSeq: prevSeq, KeyValid: true, KeyValue: keyValue}
	h.lastIndex[k][keyValue] = slot
}

func (h *HistoryHelper) pageBytes() uint64 {
	if h.cfg.PageBytes == 0 {
		return 1
	}
	return h.cfg.PageBytes
}

// BuildPattern walks the reverse chain for key k starting at slot index,
// producing the reverse-chronological delta sequence (most recent delta
// first), capped at PatternLength entries. The walk stops the instant a
// chain hop would read a slot whose Seq no longer matches the link's
// PrevSeq — that slot has been overwritten by a newer, unrelated access,
// and the chain is truncated rather than followed into garbage.
func (h *HistoryHelper) BuildPattern(index int32, k CorrelationKey) []int64 {
	var out []int64
	current := index
	for len(out) < h.cfg.PatternLength {
		entry := &h.history[current]
		link := &entry.Links[k]
		if link.Prev < 0 {
			break
		}
		if h.history[link.Prev].Seq != link.PrevSeq {
			break
		}
		prevAddr := h.history[link.Prev].Addr
		delta := int64(entry.Addr) - int64(prevAddr)
		out = append(out, delta)
		current = link.Prev
	}
	return out
}

// Stats is a read-only introspection snapshot, never consulted by the
// prediction path itself — the same role tage.go's TAGEStats plays for the
// branch predictor.
type Stats struct {
	SequenceCounter  uint64
	Filled           bool
	PatternTableSize int
	LastIndexSize    [numKeys]int
}

func (h *HistoryHelper) Stats() Stats {
	var s Stats
	s.SequenceCounter = h.seq
	s.Filled = h.filled
	s.PatternTableSize = len(h.patternTable)
	for k := range h.lastIndex {
		s.LastIndexSize[k] = len(h.lastIndex[k])
	}
	return s
}
