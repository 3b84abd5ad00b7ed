// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SUPRAX Prefetch Dispatcher - external interface
// ═══════════════════════════════════════════════════════════════════════════════════════════════

package prefetch

// AccessEvent is the inbound cache-access event the dispatcher consumes.
// It mirrors spec.md §6's PrefetchInfo-equivalent: a byte address plus an
// optional PC.
type AccessEvent struct {
	Addr  uint64
	PC    uint64
	HasPC bool
}

// Prediction is one outbound (address, priority) pair. Priority is always
// 0 in this core — the surrounding queueing layer owns deduplication and
// issue priority, per spec.md §6.
type Prediction struct {
	Address  uint64
	Priority int
}

// CacheFramework is the collaborator boundary spec.md §6 describes: the
// enclosing simulator's helpers for block alignment and same-page testing.
// Out of scope for the core itself — the core only ever calls through
// this interface, never implements it.
type CacheFramework interface {
	// BlockAddress rounds addr down to the cache block boundary.
	BlockAddress(addr uint64) uint64
	// SamePage reports whether a and b fall on the same page, using the
	// simulator's own page size (which may differ from the prefetcher's
	// pattern-table page key granularity, Config.PageBytes).
	SamePage(a, b uint64) bool
	// PageBytes is the simulator's page size, exposed for callers that
	// need it directly; the dispatcher itself never calls it and tests
	// pages through SamePage.
	PageBytes() uint64
}
