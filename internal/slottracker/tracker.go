// Package slottracker enforces the ordering contract between batch writes
// and slot commitment status: a slot must never be reported rooted in the
// store while account, transaction or slot-status batches for that slot or
// any earlier slot are still in flight.
package slottracker

import (
	"sync"
	"sync/atomic"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/metrics"
	"github.com/geyserpg/geyserpg/internal/types"
)

// Tracker maintains the per-slot status state machine, a refcount of
// outstanding batches per slot, and the global watermark. All methods are safe for concurrent use; Watermark is a
// lock-free read of an atomically published value.
type Tracker struct {
	mu            sync.Mutex
	statuses      map[uint64]types.SlotStatus
	outstanding   map[uint64]int
	pendingRooted map[uint64]struct{}

	watermark atomic.Uint64

	log *logger.Logger
}

// New creates an empty tracker.
func New(log *logger.Logger) *Tracker {
	return &Tracker{
		statuses:      make(map[uint64]types.SlotStatus),
		outstanding:   make(map[uint64]int),
		pendingRooted: make(map[uint64]struct{}),
		log:           log,
	}
}

// RecordStatus applies a status transition to the slot's state machine.
// Returns true when the status advanced and should be persisted; false on
// a repeat or regression, which is an idempotent no-op.
func (t *Tracker) RecordStatus(slot uint64, status types.SlotStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.statuses[slot]
	if !current.CanAdvanceTo(status) || status == current {
		if status < current {
			t.log.Debugw("ignoring slot status regression",
				"slot", slot, "current", current.String(), "received", status.String())
		}
		return false
	}

	t.statuses[slot] = status
	return true
}

// BatchStarted registers an in-flight batch touching the given slots.
func (t *Tracker) BatchStarted(slots []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, slot := range slots {
		t.outstanding[slot]++
	}
}

// BatchCompleted resolves an in-flight batch (committed or dropped, both
// count as resolved) and returns any deferred rooted slots that became
// releasable: those with no unresolved batch at their slot or below.
func (t *Tracker) BatchCompleted(slots []uint64) (released []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, slot := range slots {
		if n := t.outstanding[slot]; n <= 1 {
			delete(t.outstanding, slot)
		} else {
			t.outstanding[slot] = n - 1
		}
	}

	for slot := range t.pendingRooted {
		if t.clearBelowLocked(slot) {
			released = append(released, slot)
			delete(t.pendingRooted, slot)
		}
	}

	return released
}

// SubmitRooted asks whether the rooted status for slot may be written now.
// When batches at or below the slot are still unresolved, the write is
// deferred and the slot is returned later from BatchCompleted.
func (t *Tracker) SubmitRooted(slot uint64) (ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.clearBelowLocked(slot) {
		return true
	}

	t.pendingRooted[slot] = struct{}{}
	t.log.Debugw("deferring rooted status write", "slot", slot)
	return false
}

// RootedCommitted records that the rooted status for slot is durably in
// the store and advances the watermark. Per-slot state is dropped here,
// including entries for lower slots that never rooted (abandoned forks),
// so the status map does not grow for the process lifetime. Anything
// arriving for a dropped slot afterwards is caught by the regression
// guard in the store.
func (t *Tracker) RootedCommitted(slot uint64) {
	t.mu.Lock()
	delete(t.statuses, slot)
	for s := range t.statuses {
		if s < slot {
			delete(t.statuses, s)
		}
	}
	t.mu.Unlock()

	for {
		current := t.watermark.Load()
		if slot <= current {
			return
		}
		if t.watermark.CompareAndSwap(current, slot) {
			metrics.SlotWatermark.Set(float64(slot))
			return
		}
	}
}

// Watermark returns the highest slot known fully committed across all
// entity kinds. Lock-free.
func (t *Tracker) Watermark() uint64 {
	return t.watermark.Load()
}

// TrackedSlots returns the number of slots holding status state.
// Diagnostics only.
func (t *Tracker) TrackedSlots() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.statuses)
}

// OutstandingBatches returns the number of slots with unresolved batches.
// Diagnostics only.
func (t *Tracker) OutstandingBatches() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.outstanding {
		total += n
	}
	return total
}

// clearBelowLocked reports whether no unresolved batch exists at or below
// the given slot. Caller holds t.mu. The scan is over slots with in-flight
// batches only, which stays small relative to traffic.
func (t *Tracker) clearBelowLocked(slot uint64) bool {
	for s, n := range t.outstanding {
		if s <= slot && n > 0 {
			return false
		}
	}
	return true
}
