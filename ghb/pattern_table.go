package ghb

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TWO-DELTA MARKOV PATTERN TABLE
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// Key: DeltaPair(prev, cur) — the last two deltas observed on a chain.
// Value: PatternEntry, a histogram of the delta that followed, with a
// running total so confidence is a cheap integer division away.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// DeltaPair is the two-delta key into the pattern table.
type DeltaPair struct {
	Prev int64
	Cur  int64
}

// PatternEntry tallies what delta followed a given DeltaPair. Invariant:
// Total always equals the sum of Counts' values; there is never a
// zero-Total entry left lying around (train only creates an entry
// when it is about to record an observation into it).
type PatternEntry struct {
	Counts map[int64]uint32
	Total  uint32
}

func (p *PatternEntry) record(delta int64) {
	if p.Counts == nil {
		p.Counts = make(map[int64]uint32)
	}
	p.Counts[delta]++
	p.Total++
}

// confidenceOf returns the integer-floor percent confidence of delta
// within this entry: count*100/total.
func (p *PatternEntry) confidenceOf(delta int64) int {
	if p.Total == 0 {
		return 0
	}
	return int(uint64(p.Counts[delta]) * 100 / uint64(p.Total))
}

// topConfidence returns the highest confidence achieved by any delta in
// this entry, and that delta.
func (p *PatternEntry) topConfidence() (confidence int, delta int64) {
	for d, count := range p.Counts {
		c := int(uint64(count) * 100 / uint64(p.Total))
		if c > confidence {
			confidence = c
			delta = d
		}
	}
	return confidence, delta
}

func (h *HistoryHelper) entryFor(key DeltaPair) *PatternEntry {
	return h.patternTable[key]
}

func (h *HistoryHelper) train(prev, cur, next int64) {
	key := DeltaPair{Prev: prev, Cur: cur}
	entry, ok := h.patternTable[key]
	if !ok {
		entry = &PatternEntry{}
		h.patternTable[key] = entry
	}
	entry.record(next)
}

// UpdatePatternTable trains the pattern table from chronological (forward
// temporal order, oldest first) delta sequence. Below 3 deltas there is
// nothing to train: a DeltaPair key needs two deltas and a third to record
// as its outcome.
//
// For every index i with i+2 < n it always trains (chron[i], chron[i+1]) ->
// chron[i+2], plus up to three longer-reach variants (i+3, i+4, i+5), two
// "overlap" variants that reuse an earlier pair against the same outcome,
// and one reverse-sign variant. The extra variants let the table converge
// in fewer accesses at the cost of a larger table — see spec open question
// on reverse-pattern training.
func (h *HistoryHelper) UpdatePatternTable(chronological []int64) {
	n := len(chronological)
	if n < 3 {
		return
	}
	for i := 0; i+2 < n; i++ {
		h.train(chronological[i], chronological[i+1], chronological[i+2])

		if i+3 < n {
			h.train(chronological[i+1], chronological[i+2], chronological[i+3])
		}
		if i+4 < n {
			h.train(chronological[i+2], chronological[i+3], chronological[i+4])
		}
		if i+5 < n {
			h.train(chronological[i+3], chronological[i+4], chronological[i+5])
		}
		if i >= 1 && i+3 < n {
			h.train(chronological[i-1], chronological[i], chronological[i+2])
		}
		if i >= 2 && i+4 < n {
			h.train(chronological[i-2], chronological[i-1], chronological[i+2])
		}
		if i >= 1 && i+2 < n {
			h.train(-chronological[i], -chronological[i+1], -chronological[i+2])
		}
	}
}

// adaptiveThreshold maps a PatternEntry's Total to a percent confidence
// floor, per spec.md §4.1.4 step 2: the more observations an entry has
// accumulated, the less of the baseline confidenceThreshold it needs to
// clear, down to a hard floor. Entries with Total < 2 are not scored at
// all (returns false).
func adaptiveThreshold(total uint32, baseline int) (threshold int, ok bool) {
	switch {
	case total >= 50:
		return maxInt(baseline-30, 12), true
	case total >= 40:
		return maxInt(baseline-25, 15), true
	case total >= 30:
		return maxInt(baseline-22, 18), true
	case total >= 20:
		return maxInt(baseline-18, 20), true
	case total >= 12:
		return maxInt(baseline-15, 22), true
	case total >= 6:
		return maxInt(baseline-10, 25), true
	case total >= 3:
		return maxInt(baseline-8, 30), true
	case total >= 2:
		return maxInt(baseline-5, 35), true
	default:
		return 0, false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
