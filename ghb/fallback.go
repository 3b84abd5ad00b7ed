package ghb

import "sort"

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FREQUENCY/RECENCY FALLBACK
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// Used only when FindPatternMatch produced nothing: the pattern table has
// no confident opinion, so fall back to "what has this chain been doing
// lately", weighting both how often a delta repeats and how recently it
// was last seen.
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type deltaStat struct {
	delta   int64
	freq    int
	lastIdx int
}

// FallbackPattern emits up to Degree non-zero deltas from chronological's
// trailing window (at most PatternLength wide), ranked by
// score = 3*frequency + 2*recency. If the top-ranked delta also forms a
// consecutive run at the very tail, that run length instead drives a
// stride-style burst of delta*1, delta*2, ....
func (h *HistoryHelper) FallbackPattern(chronological []int64) []int64 {
	n := len(chronological)
	window := minInt(n, h.cfg.PatternLength)
	start := n - window

	stats := make(map[int64]*deltaStat)
	for i := start; i < n; i++ {
		d := chronological[i]
		if d == 0 {
			continue
		}
		s, ok := stats[d]
		if !ok {
			s = &deltaStat{delta: d}
			stats[d] = s
		}
		s.freq++
		s.lastIdx = i
	}

	ranked := make([]*deltaStat, 0, len(stats))
	for _, s := range stats {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := rankScore(ranked[i], n), rankScore(ranked[j], n)
		if si != sj {
			return si > sj
		}
		pi, pj := ranked[i].delta > 0, ranked[j].delta > 0
		if pi != pj {
			return pi
		}
		ai, aj := absInt64(ranked[i].delta), absInt64(ranked[j].delta)
		if ai != aj {
			return ai < aj
		}
		return ranked[i].delta < ranked[j].delta
	})

	if len(ranked) > 0 {
		top := ranked[0].delta
		if predicted, ok := h.tailRunBurst(chronological, top); ok {
			return predicted
		}
	}

	degree := h.cfg.Degree
	predicted := make([]int64, 0, degree)
	seen := make(map[int64]bool)
	for _, s := range ranked {
		if len(predicted) >= degree {
			break
		}
		predicted = append(predicted, s.delta)
		seen[s.delta] = true
	}
	for i := n - 1; i >= start && len(predicted) < degree; i-- {
		d := chronological[i]
		if d == 0 || seen[d] {
			continue
		}
		predicted = append(predicted, d)
		seen[d] = true
	}
	return predicted
}

func rankScore(s *deltaStat, n int) int {
	recency := n - s.lastIdx + 1
	return 3*s.freq + 2*recency
}

// tailRunBurst checks whether top repeats consecutively at the very tail
// of chronological (scanning back at most 8 positions) and, if so, emits
// top*1..top*count with count scaled by run length.
func (h *HistoryHelper) tailRunBurst(chronological []int64, top int64) ([]int64, bool) {
	if absInt64(top) >= 300 {
		return nil, false
	}
	n := len(chronological)
	run := 0
	floor := n - 8
	if floor < 0 {
		floor = 0
	}
	for i := n - 1; i >= floor; i-- {
		if chronological[i] == top {
			run++
		} else {
			break
		}
	}
	if run < 1 {
		return nil, false
	}

	degree := h.cfg.Degree
	var count int
	switch {
	case run >= 8:
		count = 6 * degree
	case run >= 6:
		count = 5 * degree
	case run >= 4:
		count = 4 * degree
	case run >= 2:
		count = 2 * degree
	default:
		count = minInt(degree+2, (15*degree)/10)
	}

	predicted := make([]int64, 0, count)
	for i := int64(1); i <= int64(count); i++ {
		predicted = append(predicted, top*i)
	}
	return predicted, true
}
