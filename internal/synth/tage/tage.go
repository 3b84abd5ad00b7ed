// ═══════════════════════════════════════════════════════════════════════════════════════════════
// Geometric-history branch predictor - correlated branch stream generator
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// The prefetch dispatcher needs branch-driven access traces to exercise the
// strided-with-gap and alternating detectors realistically: a loop whose
// trip count depends on data, not a fixed unroll. This package supplies that
// branch stream. The predictor itself is an 8-table TAGE-style design
// (context-tagged entries, geometric history lengths, CLZ-based longest-match
// selection); GenerateOutcomes below replays a repeating synthetic loop
// shape through it, training the predictor on every outcome. The returned
// bitstream is fixed by the shapes alone (the predictor's own predictions
// do not alter it); TripCounts turns it into the loop trip counts that
// internal/synth/testbed's unrolled programs encode into concrete addresses.
//
// DESIGN:
// ──────
// 1. Context-tagged entries: distinguishes same-PC branches across contexts
// 2. Geometric history lengths: [0,4,8,12,16,24,32,64]
// 3. Bitmap + CLZ: O(1) longest-match selection across all 8 tables
// 4. 4-way LRU: local search, free slots preferred over eviction
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package tage

import (
	"math/bits"
)

const (
	NumTables       = 8
	EntriesPerTable = 1024
	IndexBits       = 10

	TagBits     = 13
	CounterBits = 3
	ContextBits = 3
	AgeBits     = 3

	NumContexts      = 8
	MaxAge           = 7
	MaxCounter       = 7
	NeutralCounter   = 4
	TakenThreshold   = 4
	AgingInterval    = 1024
	LRUSearchWidth   = 4
	ValidBitmapWords = 32
)

// HistoryLengths is the geometric progression of correlation depths per
// table; table 0 is the base (history-free) predictor.
var HistoryLengths = [NumTables]int{0, 4, 8, 12, 16, 24, 32, 64}

type TAGEEntry struct {
	Tag     uint16
	Counter uint8
	Context uint8
	Useful  bool
	Taken   bool
	Age     uint8
}

type TAGETable struct {
	Entries    [EntriesPerTable]TAGEEntry
	ValidBits  [ValidBitmapWords]uint32
	HistoryLen int
}

// TAGEPredictor is the complete 8-table predictor.
type TAGEPredictor struct {
	Tables       [NumTables]TAGETable
	History      [NumContexts]uint64
	BranchCount  uint64
	AgingEnabled bool
}

// NewTAGEPredictor allocates a predictor with its base table fully valid at
// the neutral counter (fallback must never read uninitialized entries).
func NewTAGEPredictor() *TAGEPredictor {
	pred := &TAGEPredictor{AgingEnabled: true}

	for i := 0; i < NumTables; i++ {
		pred.Tables[i].HistoryLen = HistoryLengths[i]
	}

	baseTable := &pred.Tables[0]
	for idx := 0; idx < EntriesPerTable; idx++ {
		baseTable.Entries[idx] = TAGEEntry{Counter: NeutralCounter}
		wordIdx := idx / 32
		bitIdx := uint(idx % 32)
		baseTable.ValidBits[wordIdx] |= 1 << bitIdx
	}

	return pred
}

//go:inline
func hashIndex(pc uint64, history uint64, historyLen int) uint32 {
	pcBits := uint32((pc >> 12) & 0x3FF)
	if historyLen == 0 {
		return pcBits
	}

	mask := uint64((1 << historyLen) - 1)
	h := history & mask

	histBits := uint32(h)
	for histBits > 0x3FF {
		histBits = (histBits & 0x3FF) ^ (histBits >> 10)
	}

	return (pcBits ^ histBits) & 0x3FF
}

//go:inline
func hashTag(pc uint64) uint16 {
	return uint16((pc >> 22) & 0x1FFF)
}

// Predict returns the predicted direction and a confidence tier (0=base
// fallback, 1=medium, 2=high/saturated), selecting the longest-history
// table with a tag+context hit.
func (p *TAGEPredictor) Predict(pc uint64, ctx uint8) (bool, uint8) {
	if ctx >= NumContexts {
		ctx = 0
	}
	history := p.History[ctx]
	tag := hashTag(pc)

	var hitBitmap uint8
	var predictions [NumTables]bool
	var counters [NumTables]uint8

	for i := 0; i < NumTables; i++ {
		table := &p.Tables[i]
		idx := hashIndex(pc, history, table.HistoryLen)

		wordIdx := idx >> 5
		bitIdx := idx & 31
		if (table.ValidBits[wordIdx]>>bitIdx)&1 == 0 {
			continue
		}

		entry := &table.Entries[idx]
		xorTag := entry.Tag ^ tag
		xorCtx := uint16(entry.Context ^ ctx)
		if xorTag|xorCtx != 0 {
			continue
		}
		hitBitmap |= 1 << uint(i)
		predictions[i] = entry.Taken
		counters[i] = entry.Counter
	}

	if hitBitmap != 0 {
		winner := 7 - bits.LeadingZeros8(hitBitmap)
		counter := counters[winner]
		confidence := uint8(1)
		if counter <= 1 || counter >= 6 {
			confidence = 2
		}
		return predictions[winner], confidence
	}

	baseIdx := hashIndex(pc, 0, 0)
	baseEntry := &p.Tables[0].Entries[baseIdx]
	return baseEntry.Counter >= TakenThreshold, 0
}

// Update trains the predictor with the actual outcome, updating an existing
// matched entry or allocating one in table 1 on a miss.
func (p *TAGEPredictor) Update(pc uint64, ctx uint8, taken bool) {
	if ctx >= NumContexts {
		ctx = 0
	}
	history := p.History[ctx]
	tag := hashTag(pc)

	matchedTable := -1
	var matchedIdx uint32
	for i := NumTables - 1; i >= 0; i-- {
		table := &p.Tables[i]
		idx := hashIndex(pc, history, table.HistoryLen)
		wordIdx := idx >> 5
		bitIdx := idx & 31
		if (table.ValidBits[wordIdx]>>bitIdx)&1 == 0 {
			continue
		}
		entry := &table.Entries[idx]
		if entry.Tag == tag && entry.Context == ctx {
			matchedTable = i
			matchedIdx = idx
			break
		}
	}

	if matchedTable >= 0 {
		table := &p.Tables[matchedTable]
		entry := &table.Entries[matchedIdx]
		if taken {
			if entry.Counter < MaxCounter {
				entry.Counter++
			}
		} else if entry.Counter > 0 {
			entry.Counter--
		}
		entry.Taken = taken
		entry.Useful = true
		entry.Age = 0
	} else {
		allocTable := &p.Tables[1]
		allocIdx := hashIndex(pc, history, allocTable.HistoryLen)
		victimIdx := findLRUVictim(allocTable, allocIdx)

		allocTable.Entries[victimIdx] = TAGEEntry{
			Tag:     tag,
			Context: ctx,
			Taken:   taken,
			Counter: NeutralCounter,
		}
		wordIdx := victimIdx >> 5
		bitIdx := victimIdx & 31
		allocTable.ValidBits[wordIdx] |= 1 << bitIdx
	}

	p.History[ctx] <<= 1
	if taken {
		p.History[ctx] |= 1
	}

	p.BranchCount++
	if p.AgingEnabled && p.BranchCount >= AgingInterval {
		p.AgeAllEntries()
		p.BranchCount = 0
	}
}

// findLRUVictim prefers a free slot in the 4-way local neighborhood, else
// the entry with the highest age.
//
//go:inline
func findLRUVictim(table *TAGETable, preferredIdx uint32) uint32 {
	maxAge := uint8(0)
	victimIdx := preferredIdx
	foundFree := false

	for offset := uint32(0); offset < LRUSearchWidth; offset++ {
		idx := (preferredIdx + offset) & (EntriesPerTable - 1)
		wordIdx := idx >> 5
		bitIdx := idx & 31
		if (table.ValidBits[wordIdx]>>bitIdx)&1 == 0 {
			if !foundFree {
				victimIdx = idx
				foundFree = true
			}
			continue
		}
		if foundFree {
			continue
		}
		age := table.Entries[idx].Age
		if age > maxAge {
			maxAge = age
			victimIdx = idx
		}
	}
	return victimIdx
}

// AgeAllEntries increments every valid entry's age, saturating at MaxAge.
func (p *TAGEPredictor) AgeAllEntries() {
	for t := 0; t < NumTables; t++ {
		for i := 0; i < EntriesPerTable; i++ {
			wordIdx := i >> 5
			bitIdx := i & 31
			if (p.Tables[t].ValidBits[wordIdx]>>bitIdx)&1 == 0 {
				continue
			}
			entry := &p.Tables[t].Entries[i]
			if entry.Age < MaxAge {
				entry.Age++
			}
		}
	}
}

// OnMispredict trains the predictor with the corrected outcome.
//
//go:inline
func (p *TAGEPredictor) OnMispredict(pc uint64, ctx uint8, actualTaken bool) {
	p.Update(pc, ctx, actualTaken)
}

// Reset clears history and every table but the base predictor.
func (p *TAGEPredictor) Reset() {
	for ctx := 0; ctx < NumContexts; ctx++ {
		p.History[ctx] = 0
	}
	for t := 1; t < NumTables; t++ {
		for w := 0; w < ValidBitmapWords; w++ {
			p.Tables[t].ValidBits[w] = 0
		}
	}
	p.BranchCount = 0
}

type TAGEStats struct {
	BranchCount    uint64
	EntriesUsed    [NumTables]uint32
	AverageAge     [NumTables]float32
	UsefulEntries  [NumTables]uint32
	AverageCounter [NumTables]float32
}

func (p *TAGEPredictor) Stats() TAGEStats {
	var stats TAGEStats
	stats.BranchCount = p.BranchCount

	for t := 0; t < NumTables; t++ {
		var totalAge, totalCounter uint64
		var validCount, usefulCount uint32

		for i := 0; i < EntriesPerTable; i++ {
			wordIdx := i >> 5
			bitIdx := i & 31
			if (p.Tables[t].ValidBits[wordIdx]>>bitIdx)&1 == 0 {
				continue
			}
			entry := &p.Tables[t].Entries[i]
			validCount++
			totalAge += uint64(entry.Age)
			totalCounter += uint64(entry.Counter)
			if entry.Useful {
				usefulCount++
			}
		}

		stats.EntriesUsed[t] = validCount
		stats.UsefulEntries[t] = usefulCount
		if validCount > 0 {
			stats.AverageAge[t] = float32(totalAge) / float32(validCount)
			stats.AverageCounter[t] = float32(totalCounter) / float32(validCount)
		}
	}
	return stats
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYNTHETIC BRANCH STREAM
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// LoopShape describes one branch-at-the-bottom loop: takenRun true outcomes
// (looping back) followed by one not-taken outcome (falling through), the
// shape a bounded counted loop produces at a single branch PC.
type LoopShape struct {
	PC       uint64
	TakenRun int
}

// GenerateOutcomes replays shapes repeatCount times each in order, training
// the predictor as it goes, and returns the outcomes of all shapes as one
// flat taken/not-taken sequence, in replay order. This is the decision stream
// internal/synth/testbed's unrolled loop programs are stood up to match: a
// real trip-count-dependent loop nest, not i.i.d. coin flips.
func (p *TAGEPredictor) GenerateOutcomes(shapes []LoopShape, repeatCount int, ctx uint8) []bool {
	var outcomes []bool
	for rep := 0; rep < repeatCount; rep++ {
		for _, shape := range shapes {
			for i := 0; i < shape.TakenRun; i++ {
				predicted, _ := p.Predict(shape.PC, ctx)
				p.Update(shape.PC, ctx, true)
				outcomes = append(outcomes, true)
				_ = predicted
			}
			predicted, _ := p.Predict(shape.PC, ctx)
			p.Update(shape.PC, ctx, false)
			outcomes = append(outcomes, false)
			_ = predicted
		}
	}
	return outcomes
}

// TripCounts collapses GenerateOutcomes' flat bool stream back into the
// per-iteration trip count of a single recurring loop shape (run of takens
// between not-takens) -- the number testbed.StridedLoadProgram's
// `iterations` argument needs when the trip count itself should vary
// branch-by-branch rather than stay fixed.
func TripCounts(outcomes []bool) []int {
	var counts []int
	run := 0
	for _, taken := range outcomes {
		if taken {
			run++
			continue
		}
		counts = append(counts, run)
		run = 0
	}
	return counts
}
