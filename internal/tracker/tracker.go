// Package tracker implements BlockTracker, a small bounded history of the
// block numbers recently processed per network, used only to emit
// non-fatal warnings about gaps, duplicates and out-of-order arrivals
// (spec.md §4.4). It never gates processing; it is purely observational.
package tracker

import "sync"

const defaultCapacity = 1000

// Warning is one anomaly BlockTracker noticed while recording a block.
type Warning struct {
	NetworkSlug string
	BlockNumber uint64
	Kind        string // "gap", "duplicate", "out_of_order"
}

type networkHistory struct {
	capacity int
	recent   []uint64 // ring buffer, oldest first
	seen     map[uint64]struct{}
	highest  uint64
	hasAny   bool
}

// Tracker records recently-processed block numbers per network.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	networks map[string]*networkHistory
}

// New builds a Tracker with the default ring buffer capacity (1000).
func New() *Tracker {
	return NewWithCapacity(defaultCapacity)
}

// NewWithCapacity builds a Tracker with a custom per-network ring buffer size.
func NewWithCapacity(capacity int) *Tracker {
	return &Tracker{capacity: capacity, networks: map[string]*networkHistory{}}
}

// RecordBlock records that networkSlug just processed blockNumber, returning
// any anomalies observed (zero or more of gap/duplicate/out-of-order).
func (t *Tracker) RecordBlock(networkSlug string, blockNumber uint64) []Warning {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.networks[networkSlug]
	if !ok {
		h = &networkHistory{capacity: t.capacity, seen: map[uint64]struct{}{}}
		t.networks[networkSlug] = h
	}

	var warnings []Warning

	if _, dup := h.seen[blockNumber]; dup {
		warnings = append(warnings, Warning{NetworkSlug: networkSlug, BlockNumber: blockNumber, Kind: "duplicate"})
	}

	if h.hasAny {
		switch {
		case blockNumber < h.highest:
			warnings = append(warnings, Warning{NetworkSlug: networkSlug, BlockNumber: blockNumber, Kind: "out_of_order"})
		case blockNumber > h.highest+1:
			warnings = append(warnings, Warning{NetworkSlug: networkSlug, BlockNumber: blockNumber, Kind: "gap"})
		}
	}

	if blockNumber > h.highest || !h.hasAny {
		h.highest = blockNumber
		h.hasAny = true
	}

	h.seen[blockNumber] = struct{}{}
	h.recent = append(h.recent, blockNumber)
	if len(h.recent) > h.capacity {
		evicted := h.recent[0]
		h.recent = h.recent[1:]
		delete(h.seen, evicted)
	}

	return warnings
}

// Highest returns the highest block number ever recorded for networkSlug,
// and false if nothing has been recorded yet.
func (t *Tracker) Highest(networkSlug string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.networks[networkSlug]
	if !ok || !h.hasAny {
		return 0, false
	}
	return h.highest, true
}
