package prefetch

import (
	"sort"

	"github.com/supraxlabs/ghbprefetch/ghb"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SUPRAX Prefetch Dispatcher - Hardware Reference Model
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// DESIGN PHILOSOPHY:
// ─────────────────
// 1. Stateless aside from configuration: all learned state lives in the
//    owned HistoryHelper, never in the dispatcher itself
// 2. Two-key dependence: PC-keyed chains preferred over Page-keyed, since a
//    PC correlates a tighter access pattern than a whole page does
// 3. Cheap-first cascade: stride detectors before the full Markov lookup,
//    the Markov lookup before the frequency/recency fallback
// 4. Never fails: absence of a prediction is a silent no-op, not an error
//
// PER-ACCESS PIPELINE (spec.md §4.2):
// ───────────────────────────────────
//   insert -> build PC/Page deltas -> early stride detector
//          -> pattern match (PC, retry Page) -> fallback
//          -> materialize with page-boundary admission
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Dispatcher composes HistoryHelper operations into the per-access
// prediction pipeline. It is the ~30% component of the core.
type Dispatcher struct {
	cfg    ghb.Config
	helper *ghb.HistoryHelper

	stats DispatchStats
}

// DispatchStats is read-only introspection, consulted only by callers
// (the harness' /metrics exporter and CLI summary), never by the
// prediction path.
type DispatchStats struct {
	Accesses        uint64
	EarlyStrideHits uint64
	PatternHits     uint64
	FallbackHits    uint64
	PredictionsOut  uint64
	PageRejections  uint64
}

// NewDispatcher clamps cfg to spec.md §7's safe minimums and constructs a
// dispatcher with a freshly allocated HistoryHelper.
func NewDispatcher(cfg ghb.Config) *Dispatcher {
	cfg.Clamp()
	return &Dispatcher{cfg: cfg, helper: ghb.NewHistoryHelper(cfg)}
}

// Reset returns the dispatcher to its post-construction state.
func (d *Dispatcher) Reset() {
	d.helper.Reset()
	d.stats = DispatchStats{}
}

// Stats returns a snapshot of dispatch-path counters.
func (d *Dispatcher) Stats() DispatchStats {
	return d.stats
}

// HelperStats exposes the owned HistoryHelper's introspection snapshot.
func (d *Dispatcher) HelperStats() ghb.Stats {
	return d.helper.Stats()
}

// CalculatePrefetch runs one access through the full pipeline and returns
// the resulting predictions. cacheAccessor is accepted but unused by the
// core — reserved for extensions per spec.md §4.2.1 — and fw supplies the
// block-alignment/same-page collaborator hooks the materialization step
// needs.
func (d *Dispatcher) CalculatePrefetch(access AccessEvent, fw CacheFramework, cacheAccessor interface{}) []Prediction {
	if d.cfg.HistorySize == 0 {
		return nil
	}
	d.stats.Accesses++

	blockAddr := fw.BlockAddress(access.Addr)
	idx := d.helper.Insert(ghb.Access{Addr: blockAddr, PC: access.PC, HasPC: access.HasPC})
	if idx < 0 {
		return nil
	}

	pcDeltas := d.helper.BuildPattern(idx, ghb.KeyPC)
	pageDeltas := d.helper.BuildPattern(idx, ghb.KeyPage)

	deltas := pcDeltas
	if len(deltas) == 0 {
		deltas = pageDeltas
	}
	if len(deltas) == 0 {
		return nil
	}

	chron := reverseOf(deltas)
	d.helper.UpdatePatternTable(chron)

	predicted, found := earlyStrideDetect(chron, d.cfg.Degree)
	if found {
		d.stats.EarlyStrideHits++
	} else {
		predicted, found = d.helper.FindPatternMatch(chron)
		if !found && len(pageDeltas) > 0 && !sameDeltas(pageDeltas, pcDeltas) {
			pageChron := reverseOf(pageDeltas)
			d.helper.UpdatePatternTable(pageChron)
			predicted, found = d.helper.FindPatternMatch(pageChron)
		}
		if found {
			d.stats.PatternHits++
		} else {
			predicted = d.helper.FallbackPattern(chron)
			found = len(predicted) > 0
			if found {
				d.stats.FallbackHits++
			}
		}
	}
	if !found {
		return nil
	}

	out := d.materialize(blockAddr, predicted, fw)
	d.stats.PredictionsOut += uint64(len(out))
	return out
}

func reverseOf(deltas []int64) []int64 {
	out := make([]int64, len(deltas))
	for i, d := range deltas {
		out[len(deltas)-1-i] = d
	}
	return out
}

func sameDeltas(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// earlyStrideDetect implements spec.md §4.2.3: simple stride, alternating
// (A,B,A,B), and strided-with-gap (matrix row stride), checked in that
// order against the forward-temporal chron sequence. The first detector
// to fire wins; none of the three fires on fewer than 2/4/6 deltas
// respectively.
func earlyStrideDetect(chron []int64, degree int) ([]int64, bool) {
	n := len(chron)

	if n >= 2 {
		last, prev := chron[n-1], chron[n-2]
		if last == prev && last != 0 && absInt64(last) < 200 {
			strideCount := 0
			for i := n - 1; i >= 0; i-- {
				if chron[i] == last {
					strideCount++
				} else {
					break
				}
			}
			if strideCount >= 2 {
				count := simpleStrideCount(strideCount, degree)
				return strideSeries(last, count), true
			}
		}
	}

	if n >= 4 {
		a, b := chron[n-1], chron[n-2]
		if a == chron[n-3] && b == chron[n-4] && absInt64(a) < 200 {
			count := minInt(degree, 3)
			return strideSeries(a, count), true
		}
	}

	if n >= 6 {
		d1, d2, d3 := chron[n-6], chron[n-5], chron[n-4]
		d4, d5, d6 := chron[n-3], chron[n-2], chron[n-1]
		if d1 == d2 && d2 == d3 && d4 == d5 && d5 == d6 && d1 == d4 &&
			absInt64(d1) < 64 && absInt64(d3) < 200 {
			return strideSeries(d1, degree), true
		}
	}

	return nil, false
}

func simpleStrideCount(strideCount, degree int) int {
	switch {
	case strideCount >= 6:
		return minInt(2*degree, strideCount)
	case strideCount >= 4:
		return minInt(degree+2, strideCount)
	case strideCount >= 3:
		return minInt(degree+1, strideCount)
	default:
		return degree
	}
}

func strideSeries(stride int64, count int) []int64 {
	out := make([]int64, 0, count)
	for i := int64(1); i <= int64(count); i++ {
		out = append(out, stride*i)
	}
	return out
}

// materialize sorts predicted deltas (positive first, then ascending
// magnitude), detects a sequential run among the first three, and turns
// each surviving delta into a concrete address admitted or rejected by the
// page-boundary policy of spec.md §4.2.5.
func (d *Dispatcher) materialize(blockAddr uint64, predicted []int64, fw CacheFramework) []Prediction {
	sorted := append([]int64(nil), predicted...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i] > 0, sorted[j] > 0
		if pi != pj {
			return pi
		}
		return absInt64(sorted[i]) < absInt64(sorted[j])
	})

	sequential, baseStride := detectSequential(sorted)

	var out []Prediction
	currentBase := blockAddr
	for i, delta := range sorted {
		if delta == 0 {
			continue
		}

		var nextAddr uint64
		switch {
		case sequential:
			nextAddr = uint64(int64(blockAddr) + baseStride*int64(i+1))
		case i > 0:
			nextAddr = uint64(int64(currentBase) + delta)
		default:
			nextAddr = uint64(int64(blockAddr) + delta)
		}
		if !sequential {
			currentBase = nextAddr
		}

		if !admitAcrossPage(fw, nextAddr, blockAddr, sequential, baseStride, delta) {
			d.stats.PageRejections++
			continue
		}
		out = append(out, Prediction{Address: nextAddr, Priority: 0})
	}
	return out
}

func detectSequential(sorted []int64) (bool, int64) {
	if len(sorted) < 2 || sorted[0] == 0 || absInt64(sorted[0]) >= 200 {
		return false, 0
	}
	limit := minInt(len(sorted)-1, 2)
	for i := 1; i <= limit; i++ {
		if sorted[i] != sorted[0]*int64(i+1) {
			return false, 0
		}
	}
	return true, sorted[0]
}

// admitAcrossPage applies spec.md §4.2.5's page-boundary admission rule:
// same-page predictions always pass; cross-page ones pass only for a
// tight sequential stride, a small forward delta, or a small backward one.
func admitAcrossPage(fw CacheFramework, nextAddr, blockAddr uint64, sequential bool, baseStride, delta int64) bool {
	if fw.SamePage(nextAddr, blockAddr) {
		return true
	}
	switch {
	case sequential && absInt64(baseStride) < 64:
		return true
	case absInt64(delta) < 32:
		return true
	case delta > -128 && delta < 0:
		return true
	default:
		return false
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
