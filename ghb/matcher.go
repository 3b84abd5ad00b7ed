package ghb

import "sort"

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// PATTERN MATCHING - confidence-gated lookup, chaining and stride amplification
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// FindPatternMatch runs the nine-step procedure of spec.md §4.1.4:
//  1. candidate keys (last two deltas, plus up to two shorter-reach keys)
//  2. per-entry adaptive confidence threshold
//  3. weighted candidate scoring, merged across keys by max score per delta
//  4. "best entry" = the primary key's entry, if it clears its own threshold
//  5. effective_degree ladder driven by the best entry's confidence/total
//  6. emit top-scored candidates up to effective_degree
//  7. lenient backfill against primary, then secondary keys
//  8. chained extrapolation, walking predicted[-2:-1] through the table
//  9. stride amplification from a confirmed near-stride prediction, or a
//     tolerant tail-run scan of chronological itself
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type weightedKey struct {
	key       DeltaPair
	weight    int
	isPrimary bool
}

// candidateKeys returns up to three keys: the primary (last two deltas,
// weight 5) and up to two secondary keys shifted one and two deltas
// earlier (weight 1 each).
func candidateKeys(chron []int64) []weightedKey {
	n := len(chron)
	if n < 2 {
		return nil
	}
	keys := []weightedKey{{key: DeltaPair{chron[n-2], chron[n-1]}, weight: 5, isPrimary: true}}
	if n >= 3 {
		keys = append(keys, weightedKey{key: DeltaPair{chron[n-3], chron[n-2]}, weight: 1})
	}
	if n >= 4 {
		keys = append(keys, weightedKey{key: DeltaPair{chron[n-4], chron[n-3]}, weight: 1})
	}
	return keys
}

func scoreBonus(count uint32) int {
	switch {
	case count >= 5:
		return 8
	case count >= 3:
		return 3
	default:
		return 0
	}
}

// FindPatternMatch returns at most effective_degree non-zero, mutually
// distinct deltas predicted from the pattern table, or ok=false when nothing
// was predicted. Step 9's tail-run scan reads chronological itself, so ok
// can be true even when no table entry clears a threshold.
func (h *HistoryHelper) FindPatternMatch(chronological []int64) (predicted []int64, ok bool) {
	keys := candidateKeys(chronological)
	if keys == nil {
		return nil, false
	}
	baseline := h.cfg.ConfidenceThreshold

	// Step 2+3: score candidates from every key, merged by max score.
	scores := make(map[int64]int)
	for _, wk := range keys {
		entry := h.entryFor(wk.key)
		if entry == nil {
			continue
		}
		threshold, scored := adaptiveThreshold(entry.Total, baseline)
		if !scored {
			continue
		}
		for delta, count := range entry.Counts {
			conf := entry.confidenceOf(delta)
			if conf < threshold {
				continue
			}
			score := (conf + scoreBonus(count)) * wk.weight
			if cur, exists := scores[delta]; !exists || score > cur {
				scores[delta] = score
			}
		}
	}

	// Step 4+5: effective degree, driven solely by the primary entry.
	primaryEntry := h.entryFor(keys[0].key)
	effectiveDegree := h.cfg.Degree + 2
	if primaryEntry != nil {
		if threshold, scored := adaptiveThreshold(primaryEntry.Total, baseline); scored {
			topConf, _ := primaryEntry.topConfidence()
			if topConf >= threshold {
				effectiveDegree = effectiveDegreeFor(topConf, primaryEntry.Total, h.cfg.Degree)
			}
		}
	}

	// Step 6: emit top-scored candidates, descending score, deterministic
	// tie-break (larger score first, then smaller |delta|, then delta).
	type cand struct {
		delta int64
		score int
	}
	ranked := make([]cand, 0, len(scores))
	for d, s := range scores {
		ranked = append(ranked, cand{delta: d, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		ai, aj := absInt64(ranked[i].delta), absInt64(ranked[j].delta)
		if ai != aj {
			return ai < aj
		}
		return ranked[i].delta < ranked[j].delta
	})

	seen := make(map[int64]bool)
	for _, c := range ranked {
		if len(predicted) >= effectiveDegree {
			break
		}
		if c.delta == 0 || seen[c.delta] {
			continue
		}
		predicted = append(predicted, c.delta)
		seen[c.delta] = true
	}

	// Step 7: lenient backfill, primary key first then secondaries.
	if len(predicted) < effectiveDegree && primaryEntry != nil {
		threshold, scored := adaptiveThreshold(primaryEntry.Total, baseline)
		if scored {
			h.backfillFrom(primaryEntry, maxInt(25, threshold-10), seen, &predicted, effectiveDegree)
		}
	}
	if len(predicted) < effectiveDegree {
		for _, wk := range keys[1:] {
			entry := h.entryFor(wk.key)
			if entry == nil || entry.Total < 3 {
				continue
			}
			threshold, scored := adaptiveThreshold(entry.Total, baseline)
			if !scored {
				continue
			}
			h.backfillFrom(entry, maxInt(25, threshold-5), seen, &predicted, effectiveDegree)
			if len(predicted) >= effectiveDegree {
				break
			}
		}
	}

	// Step 8: chained extrapolation.
	h.chainExtrapolate(chronological, baseline, seen, &predicted, effectiveDegree)

	// Step 9: stride amplification.
	amplifyStride(chronological, seen, &predicted, effectiveDegree)

	return predicted, len(predicted) > 0
}

// backfillFrom scans entry's counts in confidence-descending order and
// appends any non-zero, not-yet-seen delta clearing threshold, stopping at
// limit.
func (h *HistoryHelper) backfillFrom(entry *PatternEntry, threshold int, seen map[int64]bool, predicted *[]int64, limit int) {
	type scored struct {
		delta int64
		conf  int
	}
	candidates := make([]scored, 0, len(entry.Counts))
	for d := range entry.Counts {
		candidates = append(candidates, scored{delta: d, conf: entry.confidenceOf(d)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].conf != candidates[j].conf {
			return candidates[i].conf > candidates[j].conf
		}
		return candidates[i].delta < candidates[j].delta
	})
	for _, c := range candidates {
		if len(*predicted) >= limit {
			return
		}
		if c.delta == 0 || seen[c.delta] || c.conf < threshold {
			continue
		}
		*predicted = append(*predicted, c.delta)
		seen[c.delta] = true
	}
}

// chainExtrapolate walks forward from the last chronological delta through
// the pattern table, each step using the previous two predicted deltas
// (or, on the first attempt, the last chronological delta and predicted[0])
// as the next lookup key. Stops the moment a lookup misses entirely.
func (h *HistoryHelper) chainExtrapolate(chronological []int64, baseline int, seen map[int64]bool, predicted *[]int64, limit int) {
	maxAttempts := 3 * limit
	for attempt := 0; attempt < maxAttempts && len(*predicted) < limit; attempt++ {
		var chainPrev, chainBase int64
		if attempt == 0 {
			if len(chronological) == 0 || len(*predicted) == 0 {
				return
			}
			chainPrev = chronological[len(chronological)-1]
			chainBase = (*predicted)[0]
		} else {
			if len(*predicted) < 2 {
				return
			}
			chainPrev = (*predicted)[len(*predicted)-2]
			chainBase = (*predicted)[len(*predicted)-1]
		}

		entry := h.entryFor(DeltaPair{Prev: chainPrev, Cur: chainBase})
		if entry == nil || entry.Total < 1 {
			return
		}

		var threshold int
		if attempt == 0 {
			t, scored := adaptiveThreshold(entry.Total, baseline)
			if !scored {
				t = baseline
			}
			threshold = maxInt(t, 25)
		} else {
			t, scored := adaptiveThreshold(entry.Total, baseline)
			if !scored {
				t = baseline
			}
			threshold = maxInt(t-10, 20)
		}

		best, bestConf, found := int64(0), -1, false
		for d, count := range entry.Counts {
			if d == 0 || seen[d] {
				continue
			}
			conf := int(uint64(count) * 100 / uint64(entry.Total))
			if conf < threshold {
				continue
			}
			if conf > bestConf {
				bestConf = conf
				best = d
				found = true
			}
		}
		if !found {
			return
		}
		*predicted = append(*predicted, best)
		seen[best] = true
	}
}

// amplifyStride extends predicted with integer multiples of a confirmed
// near-stride, either one already present in predicted (within ±2 of the
// last chronological delta) or one found by a tolerant scan of
// chronological's own tail.
func amplifyStride(chronological []int64, seen map[int64]bool, predicted *[]int64, limit int) {
	if len(*predicted) >= limit || len(chronological) < 2 {
		return
	}
	last := chronological[len(chronological)-1]

	if stride, ok := findConfirmedStride(*predicted, last); ok {
		amplifyFrom(stride, 2, seen, predicted, limit)
	}
	if len(*predicted) >= limit {
		return
	}
	if run, ok := tailRun(chronological, last); ok {
		amplifyFrom(run, 1, seen, predicted, limit)
	}
}

func findConfirmedStride(predicted []int64, last int64) (int64, bool) {
	for _, p := range predicted {
		if p != 0 && absInt64(p-last) <= 2 && absInt64(p) < 300 {
			return p, true
		}
	}
	return 0, false
}

// amplifyFrom appends stride*mult for mult = startMult, startMult+1, ...
// skipping near-duplicates (within ±2 of any value already predicted),
// until predicted reaches limit (the effective degree) or the multiplier
// reaches 64. The stride's magnitude does not change how many multiples
// are appended.
func amplifyFrom(stride int64, startMult int64, seen map[int64]bool, predicted *[]int64, limit int) {
	mult := startMult
	for len(*predicted) < limit && mult < 64 {
		val := stride * mult
		if !nearDuplicate(*predicted, val) {
			*predicted = append(*predicted, val)
			seen[val] = true
		}
		mult++
	}
}

func nearDuplicate(predicted []int64, val int64) bool {
	for _, p := range predicted {
		if absInt64(p-val) <= 2 {
			return true
		}
	}
	return false
}

// tailRun scans up to six trailing chronological deltas (the last, plus up
// to five more behind it) for a run of at least two values within ±2 of
// the last delta, returning that delta if the run qualifies and is itself
// under the 300 magnitude cap.
func tailRun(chronological []int64, last int64) (int64, bool) {
	if absInt64(last) >= 300 {
		return 0, false
	}
	n := len(chronological)
	run := 0
	floor := n - 6
	if floor < 0 {
		floor = 0
	}
	for i := n - 1; i >= floor; i-- {
		if absInt64(chronological[i]-last) <= 2 {
			run++
		} else {
			break
		}
	}
	if run >= 2 {
		return last, true
	}
	return 0, false
}

// effectiveDegreeFor implements the ladder of spec.md §4.1.4 step 5.
func effectiveDegreeFor(confidence int, total uint32, degree int) int {
	switch {
	case confidence >= 90 && total >= 20:
		return 10 * degree
	case confidence >= 85 && total >= 15:
		return 8 * degree
	case confidence >= 80 && total >= 10:
		return 6 * degree
	case confidence >= 70 && total >= 5:
		return 4 * degree
	case confidence >= 60 && total >= 3:
		return 2 * degree
	case confidence >= 50 && total >= 2:
		return 2 * degree
	case confidence >= 40:
		return minInt(degree+4, (18*degree)/10)
	case confidence >= 30:
		return minInt(degree+2, (15*degree)/10)
	default:
		return degree + 2
	}
}
