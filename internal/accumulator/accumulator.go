// Package accumulator buffers same-kind records into bounded batches.
// One accumulator instance exists per notification kind; records are
// appended by the host's delivery thread and drained either when the size
// threshold is reached or by the periodic age-based flusher.
package accumulator

import "sync"

// Accumulator groups records of one kind up to a configured size
// threshold. The mutex guards only the O(1) append-and-swap critical
// section; no I/O ever happens while it is held. Size-triggered and
// age-triggered flushes contend on the same mutex, so only one of them
// can swap out the current buffer at a time.
type Accumulator[T any] struct {
	mu    sync.Mutex
	limit int
	buf   []T
}

// New creates an accumulator that fills batches up to limit records.
func New[T any](limit int) *Accumulator[T] {
	if limit < 1 {
		limit = 1
	}
	return &Accumulator[T]{
		limit: limit,
		buf:   make([]T, 0, limit),
	}
}

// Offer appends a record to the in-progress batch. When the batch reaches
// the size threshold it is swapped out and returned with ok=true; the
// caller then owns it exclusively. Otherwise ok is false and the caller
// proceeds without blocking.
func (a *Accumulator[T]) Offer(rec T) (batch []T, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = append(a.buf, rec)
	if len(a.buf) < a.limit {
		return nil, false
	}

	batch = a.buf
	a.buf = make([]T, 0, a.limit)
	return batch, true
}

// Drain swaps out the current batch regardless of size. Used by the
// age-based flush path and at shutdown. Returns ok=false when the buffer
// is empty.
func (a *Accumulator[T]) Drain() (batch []T, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.buf) == 0 {
		return nil, false
	}

	batch = a.buf
	a.buf = make([]T, 0, a.limit)
	return batch, true
}

// Len returns the number of buffered records.
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
