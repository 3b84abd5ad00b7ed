// ═══════════════════════════════════════════════════════════════════════════════════════════════
// Bitmap out-of-order scheduler - access-trace reordering
// ───────────────────────────────────────────────────────────────────────────────────────────────
//
// The correlation engine's seq/prevSeq staleness guard only matters when
// accesses genuinely arrive out of program order -- a strictly sequential
// trace can never exercise it. This package is that reordering: a bounded
// instruction window with bitmap dependency tracking and CLZ-based priority
// selection, repurposed so ReorderAccesses below can take a straight-line
// access trace from internal/synth/testbed and hand back the out-of-order
// completion sequence a real superscalar core would actually produce.
//
// PIPELINE:
// ────────
// Cycle 0: dependency check + priority classification
// Cycle 1: issue selection + scoreboard update
//
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package ooo

import (
	"math/bits"
)

// Operation represents a single in-flight instruction.
//
// Age = slot index at insertion time: 31 is oldest, 0 is newest. Dependency
// checks compare producer.Age > consumer.Age to avoid false WAR/WAW hazards.
type Operation struct {
	Valid  bool
	Issued bool
	Src1   uint8
	Src2   uint8
	Dest   uint8
	Op     uint8
	Imm    uint16
	Age    uint8
	_      [6]uint8
}

// InstructionWindow holds 32 in-flight instructions, oldest at index 31.
type InstructionWindow struct {
	Ops [32]Operation
}

// Scoreboard tracks register readiness: bit N set means register N holds
// valid data.
type Scoreboard uint64

// DependencyMatrix tracks operation dependencies: Entry[i]'s bit j set means
// operation j depends on operation i.
type DependencyMatrix [32]uint32

// PriorityClass splits ready ops into two scheduling tiers.
type PriorityClass struct {
	HighPriority uint32 // ops with dependents (critical path)
	LowPriority  uint32 // ops without dependents (leaves)
}

// IssueBundle is up to 16 ops selected for execution in one cycle.
type IssueBundle struct {
	Indices [16]uint8
	Valid   uint16
}

//go:inline
func (s Scoreboard) IsReady(reg uint8) bool {
	return (s>>reg)&1 != 0
}

//go:inline
func (s *Scoreboard) MarkReady(reg uint8) {
	*s |= 1 << reg
}

//go:inline
func (s *Scoreboard) MarkPending(reg uint8) {
	*s &^= 1 << reg
}

// ComputeReadyBitmap marks every valid, not-yet-issued op whose both source
// registers are ready.
func ComputeReadyBitmap(window *InstructionWindow, scoreboard Scoreboard) uint32 {
	var readyBitmap uint32

	for i := 0; i < 32; i++ {
		op := &window.Ops[i]
		if !op.Valid || op.Issued {
			continue
		}
		if scoreboard.IsReady(op.Src1) && scoreboard.IsReady(op.Src2) {
			readyBitmap |= 1 << i
		}
	}

	return readyBitmap
}

// BuildDependencyMatrix builds the 32x32 dependency graph: op j depends on
// op i when j reads a register i writes and i is strictly older.
//
// Equality is checked by XOR-then-zero rather than ==, matching the
// comparison idiom used elsewhere in this module's bitmap-driven matchers.
func BuildDependencyMatrix(window *InstructionWindow) DependencyMatrix {
	var matrix DependencyMatrix

	for i := 0; i < 32; i++ {
		opI := &window.Ops[i]
		if !opI.Valid {
			continue
		}

		var rowBitmap uint32
		for j := 0; j < 32; j++ {
			if i == j {
				continue
			}
			opJ := &window.Ops[j]
			if !opJ.Valid {
				continue
			}

			xorSrc1 := opJ.Src1 ^ opI.Dest
			xorSrc2 := opJ.Src2 ^ opI.Dest
			depends := xorSrc1 == 0 || xorSrc2 == 0
			ageOk := opI.Age > opJ.Age

			if depends && ageOk {
				rowBitmap |= 1 << j
			}
		}
		matrix[i] = rowBitmap
	}

	return matrix
}

// ClassifyPriority splits ready ops into a high-priority tier (ops other
// ops depend on) and a low-priority tier (leaves), so the scheduler can
// favor unblocking the critical path.
func ClassifyPriority(readyBitmap uint32, depMatrix DependencyMatrix) PriorityClass {
	var high, low uint32

	for i := 0; i < 32; i++ {
		if (readyBitmap>>i)&1 == 0 {
			continue
		}
		if depMatrix[i] != 0 {
			high |= 1 << i
		} else {
			low |= 1 << i
		}
	}

	return PriorityClass{HighPriority: high, LowPriority: low}
}

// SelectIssueBundle picks up to 16 ops from the high-priority tier if it
// holds any ready op, else from the low-priority tier, highest slot index
// first.
func SelectIssueBundle(priority PriorityClass) IssueBundle {
	var bundle IssueBundle

	var selectedTier uint32
	if priority.HighPriority != 0 {
		selectedTier = priority.HighPriority
	} else {
		selectedTier = priority.LowPriority
	}

	count := 0
	remaining := selectedTier
	for count < 16 && remaining != 0 {
		idx := 31 - bits.LeadingZeros32(remaining)
		bundle.Indices[count] = uint8(idx)
		bundle.Valid |= 1 << count
		count++
		remaining &^= 1 << idx
	}

	return bundle
}

// UpdateScoreboardAfterIssue marks issued ops' destinations pending and
// flags them so they are not reissued.
func UpdateScoreboardAfterIssue(scoreboard *Scoreboard, window *InstructionWindow, bundle IssueBundle) {
	for i := 0; i < 16; i++ {
		if (bundle.Valid>>i)&1 == 0 {
			continue
		}
		idx := bundle.Indices[i]
		op := &window.Ops[idx]
		scoreboard.MarkPending(op.Dest)
		op.Issued = true
	}
}

// UpdateScoreboardAfterComplete marks completed ops' destination registers
// ready, unblocking whatever depended on them.
func UpdateScoreboardAfterComplete(scoreboard *Scoreboard, destRegs [16]uint8, completeMask uint16) {
	for i := 0; i < 16; i++ {
		if (completeMask>>i)&1 == 0 {
			continue
		}
		scoreboard.MarkReady(destRegs[i])
	}
}

// OoOScheduler is the complete two-cycle scheduler: dependency check and
// priority classification in cycle 0, issue selection and scoreboard update
// in cycle 1.
type OoOScheduler struct {
	Window     InstructionWindow
	Scoreboard Scoreboard

	PipelinedPriority PriorityClass
}

func (sched *OoOScheduler) ScheduleCycle0() {
	readyBitmap := ComputeReadyBitmap(&sched.Window, sched.Scoreboard)
	depMatrix := BuildDependencyMatrix(&sched.Window)
	sched.PipelinedPriority = ClassifyPriority(readyBitmap, depMatrix)
}

func (sched *OoOScheduler) ScheduleCycle1() IssueBundle {
	bundle := SelectIssueBundle(sched.PipelinedPriority)
	UpdateScoreboardAfterIssue(&sched.Scoreboard, &sched.Window, bundle)
	return bundle
}

func (sched *OoOScheduler) ScheduleComplete(destRegs [16]uint8, completeMask uint16) {
	UpdateScoreboardAfterComplete(&sched.Scoreboard, destRegs, completeMask)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACCESS TRACE REORDERING
// ═══════════════════════════════════════════════════════════════════════════════════════════════

const windowSize = 32

// ReorderAccesses takes a straight-line address trace (as testbed's unrolled
// programs produce) and returns the order a bounded out-of-order window
// would actually complete them in. Each batch of up to 32 consecutive
// addresses is loaded into the window as independent loads (distinct
// destination registers, a shared already-ready source register) so no
// real register dependency ever forms between them. reorderBatch fills
// slots in program order from slot 0, so the scheduler's highest-slot-first
// issue policy completes each batch youngest first: every batch comes back
// exactly reversed, one batch at a time, which is what correlation training needs
// reordered: a trace where the seq counter genuinely goes non-monotonic
// relative to program order.
func ReorderAccesses(addrs []uint64) []uint64 {
	reordered := make([]uint64, 0, len(addrs))
	for start := 0; start < len(addrs); start += windowSize {
		end := start + windowSize
		if end > len(addrs) {
			end = len(addrs)
		}
		reordered = append(reordered, reorderBatch(addrs[start:end])...)
	}
	return reordered
}

// reorderBatch runs a batch through the full three-phase pipeline: cycle 0
// dependency check, cycle 1 issue, and a completion phase one cycle later
// that retires the previous cycle's issued bundle through ScheduleComplete
// before the window frees those slots for reuse.
func reorderBatch(addrs []uint64) []uint64 {
	var sched OoOScheduler
	sched.Scoreboard.MarkReady(0)

	n := len(addrs)
	for i := 0; i < n; i++ {
		sched.Window.Ops[i] = Operation{
			Valid: true,
			Src1:  0,
			Src2:  0,
			Dest:  uint8(i + 1),
			Age:   uint8(n - 1 - i),
		}
	}

	order := make([]uint64, 0, n)

	var pendingIdx [16]uint8
	var pendingDest [16]uint8
	var pendingMask uint16

	for len(order) < n {
		if pendingMask != 0 {
			sched.ScheduleComplete(pendingDest, pendingMask)
			for i := 0; i < 16; i++ {
				if (pendingMask>>uint(i))&1 == 0 {
					continue
				}
				sched.Window.Ops[pendingIdx[i]].Valid = false
			}
			pendingMask = 0
		}

		sched.ScheduleCycle0()
		bundle := sched.ScheduleCycle1()

		for i := 0; i < 16; i++ {
			if (bundle.Valid>>uint(i))&1 == 0 {
				continue
			}
			idx := bundle.Indices[i]
			order = append(order, addrs[idx])
			pendingIdx[i] = idx
			pendingDest[i] = sched.Window.Ops[idx].Dest
			pendingMask |= 1 << uint(i)
		}
	}
	return order
}
