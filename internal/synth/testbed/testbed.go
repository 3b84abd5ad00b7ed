// ═══════════════════════════════════════════════════════════════════════════
// Toy out-of-order core - synthetic access trace generator
// ───────────────────────────────────────────────────────────────────────────
//
// This is the cache-access framework collaborator spec.md §6 leaves out of
// scope for the prefetcher core itself: a tiny SuperH-inspired CPU whose
// Memory.Load/Store calls are observed and turned into the access traces
// that cmd/ghbsim's gen writes and its run replays through
// prefetch.Dispatcher. It owns
// block alignment and same-page testing, which is exactly the boundary
// prefetch.CacheFramework formalizes.
//
// The CPU itself is unchanged from a plain bitmap-Tomasulo out-of-order
// design: reservation stations with 2D dependency bitmaps instead of a CAM,
// 4-wide issue, a tiny saturating-counter branch predictor. None of that
// logic matters to the prefetcher -- what matters is that running small
// loop programs against it produces a memory access stream with realistic
// sequential, strided and row/gap structure, instead of a synthetic
// generator that just emits deltas directly.
// ═══════════════════════════════════════════════════════════════════════════

package testbed

import (
	"fmt"
	"math/bits"
)

// ═══════════════════════════════════════════════════════════════════════════
// INSTRUCTION SET (SuperH-inspired, 16-bit encoding)
// ═══════════════════════════════════════════════════════════════════════════

const (
	OpADD  = 0x0 // ADD Rm, Rn  -> Rn = Rn + Rm
	OpSUB  = 0x1 // SUB Rm, Rn  -> Rn = Rn - Rm
	OpADDI = 0x2 // ADD #imm, Rn -> Rn = Rn + imm
	OpCMP  = 0x3 // CMP Rm, Rn  -> sets flags

	OpAND = 0x4
	OpOR  = 0x5
	OpXOR = 0x6
	OpNOT = 0x7

	OpSHLL = 0x8 // Rn <<= 1
	OpSHLR = 0x9 // Rn >>= 1
	OpSHL  = 0xA // Rn <<= Rm
	OpSHR  = 0xB // Rn >>= Rm

	OpMOVL = 0xC // Rn = mem[Rm]
	OpMOVS = 0xD // mem[Rn] = Rm
	OpMOV  = 0xE // Rn = Rm
	OpMOVI = 0xF // Rn = sign_extend(imm)
)

// Instruction is a decoded 16-bit word.
type Instruction struct {
	Opcode uint8
	Dst    uint8
	Src1   uint8
	Src2   uint8
	Imm    int16
}

// DecodeInstruction splits a 16-bit word into its four fixed fields.
func DecodeInstruction(instr uint16) Instruction {
	return Instruction{
		Opcode: uint8((instr >> 12) & 0xF),
		Dst:    uint8((instr >> 8) & 0xF),
		Src1:   uint8((instr >> 4) & 0xF),
		Src2:   uint8(instr & 0xF),
		Imm:    int16(int8(instr & 0xFF)),
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BARREL SHIFTER
// ═══════════════════════════════════════════════════════════════════════════

// BarrelShift shifts data left or right by amount using a 6-stage
// conditional-doubling sequence instead of a data-dependent Go shift.
//
//go:nosplit
//go:inline
func BarrelShift(data uint64, shiftAmount uint8, shiftLeft bool) uint64 {
	amount := shiftAmount & 0x3F
	for stage := uint8(0); stage < 6; stage++ {
		bit := uint8(1) << stage
		if amount&bit == 0 {
			continue
		}
		width := uint(bit)
		if shiftLeft {
			data <<= width
		} else {
			data >>= width
		}
	}
	return data
}

// Divide performs unsigned division by magnitude estimation (CLZ-based
// shift approximation) plus a one-step rounding correction.
//
//go:nosplit
//go:inline
func Divide(dividend, divisor uint64) (quotient, remainder uint64) {
	if divisor == 0 {
		return ^uint64(0), dividend
	}
	shiftAmount := uint64(63 - bits.LeadingZeros64(divisor))
	approx := dividend >> shiftAmount
	represented := approx << shiftAmount
	remainderTemp := dividend - represented
	if remainderTemp >= divisor>>1 {
		approx++
	}
	quotient = approx
	remainder = dividend - (quotient << shiftAmount)
	return quotient, remainder
}

// ═══════════════════════════════════════════════════════════════════════════
// ALU
// ═══════════════════════════════════════════════════════════════════════════

//go:nosplit
//go:inline
func ExecuteALU(opcode uint8, operandA, operandB uint64) uint64 {
	switch opcode {
	case OpADD, OpADDI:
		return operandA + operandB
	case OpSUB:
		return operandA - operandB
	case OpAND:
		return operandA & operandB
	case OpOR:
		return operandA | operandB
	case OpXOR:
		return operandA ^ operandB
	case OpNOT:
		return ^operandA
	case OpSHLL:
		return operandA << 1
	case OpSHLR:
		return operandA >> 1
	case OpSHL:
		return BarrelShift(operandA, uint8(operandB), true)
	case OpSHR:
		return BarrelShift(operandA, uint8(operandB), false)
	case OpMOV, OpMOVI:
		return operandB
	case OpCMP:
		switch {
		case operandA == operandB:
			return 0
		case operandA < operandB:
			return 1
		default:
			return 2
		}
	default:
		return 0
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BRANCH PREDICTOR (32-entry, 4-bit saturating counters)
// ═══════════════════════════════════════════════════════════════════════════

type BranchPredictor struct {
	counters [16]uint8 // 32 4-bit counters packed two per byte
}

func NewBranchPredictor() *BranchPredictor {
	p := &BranchPredictor{}
	for i := range p.counters {
		p.counters[i] = 0x77 // neutral, slightly biased not-taken
	}
	return p
}

//go:nosplit
//go:inline
func (p *BranchPredictor) Predict(pc uint64) bool {
	idx := uint8(pc) & 0x1F
	byteIdx := idx >> 1
	shift := (idx & 1) << 2
	counter := (p.counters[byteIdx] >> shift) & 0xF
	return counter&0b1000 != 0
}

//go:nosplit
//go:inline
func (p *BranchPredictor) Update(pc uint64, taken bool) {
	idx := uint8(pc) & 0x1F
	byteIdx := idx >> 1
	shift := (idx & 1) << 2
	mask := uint8(0xF << shift)
	counter := (p.counters[byteIdx] >> shift) & 0xF

	next := counter
	if taken {
		if next < 15 {
			next++
		}
	} else if next > 0 {
		next--
	}
	p.counters[byteIdx] = (p.counters[byteIdx] &^ mask) | (next << shift)
}

// ═══════════════════════════════════════════════════════════════════════════
// OUT-OF-ORDER SCHEDULER (bitmap Tomasulo)
// ═══════════════════════════════════════════════════════════════════════════

const (
	NumReservationStations = 64
	NumArchRegisters       = 16
	NumPhysicalRegisters   = 64
	InvalidTag             = 0xFF
)

type ReservationStation struct {
	valid       bool
	opcode      uint8
	dst         uint8
	operandA    uint64
	operandB    uint64
	waitingSrc1 bool
	waitingSrc2 bool
}

// OutOfOrderScheduler tracks dependencies as bitmaps instead of a CAM: each
// producer owns a bitmap of the consumers waiting on it, so writeback wakes
// its dependents by walking that bitmap instead of an associative search.
type OutOfOrderScheduler struct {
	occupied uint64
	ready    uint64

	src1WaitsFor [NumReservationStations]uint64
	src2WaitsFor [NumReservationStations]uint64

	pending [NumReservationStations]uint8

	rat      [NumArchRegisters]uint8
	ratValid [NumArchRegisters]bool

	registers [NumPhysicalRegisters]uint64
	rs        [NumReservationStations]ReservationStation

	dispatchCount uint64
	issueCount    uint64
	wakeupCount   uint64
}

func NewOutOfOrderScheduler() *OutOfOrderScheduler {
	s := &OutOfOrderScheduler{}
	for i := range s.rat {
		s.rat[i] = InvalidTag
	}
	return s
}

//go:nosplit
//go:inline
func (s *OutOfOrderScheduler) Dispatch(opcode, dst, src1, src2 uint8, imm int16, useImm bool) (uint8, bool) {
	if s.occupied == ^uint64(0) {
		return 0, false
	}
	tag := uint8(bits.TrailingZeros64(^s.occupied))
	mask := uint64(1) << tag

	rs := &s.rs[tag]
	*rs = ReservationStation{valid: true, opcode: opcode, dst: dst}
	s.occupied |= mask
	pendingCount := uint8(0)

	if s.ratValid[src1] {
		producerTag := s.rat[src1]
		s.src1WaitsFor[producerTag] |= mask
		rs.waitingSrc1 = true
		pendingCount++
	} else {
		rs.operandA = s.registers[src1]
	}

	if useImm {
		rs.operandB = uint64(imm)
	} else if s.ratValid[src2] {
		producerTag := s.rat[src2]
		s.src2WaitsFor[producerTag] |= mask
		rs.waitingSrc2 = true
		pendingCount++
	} else {
		rs.operandB = s.registers[src2]
	}

	s.pending[tag] = pendingCount
	if pendingCount == 0 {
		s.ready |= mask
	}

	if opcode != OpCMP && opcode != OpMOVS {
		s.rat[dst] = tag
		s.ratValid[dst] = true
	}

	s.dispatchCount++
	return tag, true
}

//go:nosplit
//go:inline
func (s *OutOfOrderScheduler) Issue() (tag, opcode uint8, operandA, operandB uint64, ok bool) {
	if s.ready == 0 {
		return 0, 0, 0, 0, false
	}
	tag = uint8(bits.TrailingZeros64(s.ready))
	rs := &s.rs[tag]
	s.ready &^= 1 << tag
	s.issueCount++
	return tag, rs.opcode, rs.operandA, rs.operandB, true
}

//go:nosplit
//go:inline
func (s *OutOfOrderScheduler) Writeback(tag uint8, result uint64) {
	rs := &s.rs[tag]

	if s.ratValid[rs.dst] && s.rat[rs.dst] == tag {
		s.registers[rs.dst] = result
		s.ratValid[rs.dst] = false
	}

	s.wake(tag, result, &s.src1WaitsFor[tag], func(w *ReservationStation, v uint64) { w.operandA = v; w.waitingSrc1 = false })
	s.wake(tag, result, &s.src2WaitsFor[tag], func(w *ReservationStation, v uint64) { w.operandB = v; w.waitingSrc2 = false })

	s.occupied &^= 1 << tag
	rs.valid = false
}

func (s *OutOfOrderScheduler) wake(producer uint8, result uint64, waiters *uint64, assign func(*ReservationStation, uint64)) {
	pending := *waiters
	*waiters = 0
	for pending != 0 {
		waiterTag := uint8(bits.TrailingZeros64(pending))
		waiter := &s.rs[waiterTag]
		assign(waiter, result)
		s.pending[waiterTag]--
		if s.pending[waiterTag] == 0 {
			s.ready |= 1 << waiterTag
		}
		s.wakeupCount++
		pending &^= 1 << waiterTag
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// MEMORY - observed load/store, the collaborator boundary
// ═══════════════════════════════════════════════════════════════════════════

// AccessObserver is called on every load or store the core performs. This is
// how a running program becomes an AccessEvent stream for prefetch.Dispatcher.
type AccessObserver func(addr uint64, isStore bool)

type Memory struct {
	data     []uint64
	blockLen uint64
	pageLen  uint64
	observer AccessObserver
}

// NewMemory allocates sizeBytes of flat storage with the given block and
// page granularity, matching prefetch.CacheFramework's two size parameters.
func NewMemory(sizeBytes, blockBytes, pageBytes uint64) *Memory {
	if blockBytes == 0 {
		blockBytes = 1
	}
	if pageBytes == 0 {
		pageBytes = 1
	}
	return &Memory{
		data:     make([]uint64, sizeBytes/8),
		blockLen: blockBytes,
		pageLen:  pageBytes,
	}
}

// Observe installs the callback invoked on every subsequent Load/Store.
func (m *Memory) Observe(obs AccessObserver) {
	m.observer = obs
}

//go:nosplit
//go:inline
func (m *Memory) Load(addr uint64) uint64 {
	if m.observer != nil {
		m.observer(addr, false)
	}
	return m.rawLoad(addr)
}

// rawLoad reads without notifying the observer, for the core's own
// instruction fetch -- only program data loads and stores belong in the
// access trace the prefetcher sees.
func (m *Memory) rawLoad(addr uint64) uint64 {
	idx := addr >> 3
	if idx < uint64(len(m.data)) {
		return m.data[idx]
	}
	return 0
}

//go:nosplit
//go:inline
func (m *Memory) Store(addr uint64, value uint64) {
	if m.observer != nil {
		m.observer(addr, true)
	}
	idx := addr >> 3
	if idx < uint64(len(m.data)) {
		m.data[idx] = value
	}
}

// BlockAddress rounds addr down to its containing cache block, satisfying
// prefetch.CacheFramework.
func (m *Memory) BlockAddress(addr uint64) uint64 {
	return (addr / m.blockLen) * m.blockLen
}

// SamePage reports whether a and b share a page, satisfying
// prefetch.CacheFramework.
func (m *Memory) SamePage(a, b uint64) bool {
	return a/m.pageLen == b/m.pageLen
}

// PageBytes satisfies prefetch.CacheFramework.
func (m *Memory) PageBytes() uint64 {
	return m.pageLen
}

// ═══════════════════════════════════════════════════════════════════════════
// CORE
// ═══════════════════════════════════════════════════════════════════════════

// Core is the complete toy CPU: fetch/dispatch, a 4-wide out-of-order issue
// loop, and the observed Memory that doubles as the prefetcher's
// CacheFramework collaborator.
type Core struct {
	scheduler *OutOfOrderScheduler
	predictor *BranchPredictor
	memory    *Memory

	pc        uint64
	registers [16]uint64

	cycles              uint64
	instructionsFetched uint64
	instructionsIssued  uint64
	branchesTotal       uint64
	branchesCorrect     uint64
}

func NewCore(memory *Memory) *Core {
	return &Core{
		scheduler: NewOutOfOrderScheduler(),
		predictor: NewBranchPredictor(),
		memory:    memory,
	}
}

// Memory exposes the core's observed memory, e.g. to install an
// AccessObserver before running a program.
func (c *Core) Memory() *Memory {
	return c.memory
}

// SetPC points the fetch stage at a new program counter, used to restart a
// program at address 0 between synthetic-trace runs.
func (c *Core) SetPC(pc uint64) {
	c.pc = pc
}

//go:nosplit
//go:inline
func (c *Core) Fetch() uint16 {
	word := c.memory.rawLoad(c.pc)
	offset := (c.pc & 0x7) >> 1
	instr := uint16(word >> (offset * 16))
	c.instructionsFetched++
	return instr
}

// Cycle issues and executes up to four ready instructions, then fetches and
// dispatches the next one.
func (c *Core) Cycle() {
	for i := 0; i < 4; i++ {
		tag, opcode, opA, opB, ok := c.scheduler.Issue()
		if !ok {
			break
		}

		var result uint64
		switch opcode {
		case OpMOVL:
			result = c.memory.Load(opA)
		case OpMOVS:
			c.memory.Store(opA, opB)
		default:
			result = ExecuteALU(opcode, opA, opB)
		}

		c.scheduler.Writeback(tag, result)
		c.instructionsIssued++
	}

	instr := c.Fetch()
	decoded := DecodeInstruction(instr)
	useImm := decoded.Opcode == OpADDI || decoded.Opcode == OpMOVI

	c.scheduler.Dispatch(decoded.Opcode, decoded.Dst, decoded.Src1, decoded.Src2, decoded.Imm, useImm)

	c.pc += 2
	c.cycles++
}

// Run advances the core by n cycles.
func (c *Core) Run(n int) {
	for i := 0; i < n; i++ {
		c.Cycle()
	}
}

func (c *Core) GetIPC() float64 {
	if c.cycles == 0 {
		return 0
	}
	return float64(c.instructionsIssued) / float64(c.cycles)
}

func (c *Core) GetBranchAccuracy() float64 {
	if c.branchesTotal == 0 {
		return 0
	}
	return float64(c.branchesCorrect) / float64(c.branchesTotal)
}

func (c *Core) Stats() string {
	return fmt.Sprintf("cycles=%d fetched=%d issued=%d ipc=%.2f dispatched=%d scheduler_issued=%d wakeups=%d",
		c.cycles, c.instructionsFetched, c.instructionsIssued, c.GetIPC(),
		c.scheduler.dispatchCount, c.scheduler.issueCount, c.scheduler.wakeupCount)
}

// ═══════════════════════════════════════════════════════════════════════════
// PROGRAM ASSEMBLY HELPERS
// ═══════════════════════════════════════════════════════════════════════════

func encode(opcode, dst, src1, src2 uint8) uint16 {
	return uint16(opcode)<<12 | uint16(dst)<<8 | uint16(src1)<<4 | uint16(src2)
}

func encodeImm(opcode, dst uint8, imm int8) uint16 {
	return uint16(opcode)<<12 | uint16(dst)<<8 | uint16(uint8(imm))
}

// LoadProgram writes a sequence of already-encoded 16-bit instructions into
// memory starting at address 0.
func LoadProgram(mem *Memory, program []uint16) {
	for i, instr := range program {
		addr := uint64(i * 2)
		idx := addr >> 3
		if idx >= uint64(len(mem.data)) {
			return
		}
		offset := (addr & 0x7) >> 1
		mem.data[idx] &^= uint64(0xFFFF) << (offset * 16)
		mem.data[idx] |= uint64(instr) << (offset * 16)
	}
}

// StridedLoadProgram assembles an unrolled sequence of `iterations` MOV.L
// loads from baseAddr (must fit an 8-bit immediate; this toy ISA has no
// branch opcode, so loops are unrolled rather than looped), each
// strideBytes apart: R1 holds the pointer, R2 the stride, advanced by
// register-register ADD rather than ADDI so the pointer update never
// depends on the rename table's immediate-operand quirk.
func StridedLoadProgram(baseAddr int8, strideBytes int8, iterations int) []uint16 {
	program := make([]uint16, 0, 2+2*iterations)
	program = append(program,
		encodeImm(OpMOVI, 1, baseAddr),    // R1 = baseAddr
		encodeImm(OpMOVI, 2, strideBytes), // R2 = stride
	)
	for i := 0; i < iterations; i++ {
		program = append(program,
			encode(OpMOVL, 4, 1, 0), // R4 = mem[R1]
			encode(OpADD, 1, 1, 2),  // R1 = R1 + R2
		)
	}
	return program
}

// MatrixTraversalProgram unrolls `rows` row traversals of `cols` MOV.L loads
// each rowStride apart within a row, with a rowGap jump between rows -- the
// strided-with-gap access shape spec.md §4.2.3 describes as a matrix
// traversal.
func MatrixTraversalProgram(baseAddr, rowStride, rowGap int8, rows, cols int) []uint16 {
	program := make([]uint16, 0, 3+rows*(2*cols+1))
	program = append(program,
		encodeImm(OpMOVI, 1, baseAddr),
		encodeImm(OpMOVI, 2, rowStride),
		encodeImm(OpMOVI, 3, rowGap),
	)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			program = append(program,
				encode(OpMOVL, 4, 1, 0),
				encode(OpADD, 1, 1, 2), // R1 += rowStride
			)
		}
		program = append(program, encode(OpADD, 1, 1, 3)) // R1 += rowGap
	}
	return program
}
