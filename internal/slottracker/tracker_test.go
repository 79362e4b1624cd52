package slottracker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/types"
)

func newTracker() *Tracker {
	return New(logger.NewNopLogger())
}

func TestRecordStatus_OrderedTransitions(t *testing.T) {
	tr := newTracker()

	assert.True(t, tr.RecordStatus(10, types.StatusProcessed))
	assert.True(t, tr.RecordStatus(10, types.StatusConfirmed))
	assert.True(t, tr.RecordStatus(10, types.StatusRooted))

	// repeats and regressions are idempotent no-ops
	assert.False(t, tr.RecordStatus(10, types.StatusRooted))
	assert.False(t, tr.RecordStatus(10, types.StatusConfirmed))
	assert.False(t, tr.RecordStatus(10, types.StatusProcessed))
}

func TestRecordStatus_NeverSkipsPredecessor(t *testing.T) {
	tr := newTracker()

	assert.False(t, tr.RecordStatus(5, types.StatusConfirmed))
	assert.False(t, tr.RecordStatus(5, types.StatusRooted))
	assert.True(t, tr.RecordStatus(5, types.StatusProcessed))
	assert.False(t, tr.RecordStatus(5, types.StatusRooted))
	assert.True(t, tr.RecordStatus(5, types.StatusConfirmed))
}

func TestRecordStatus_IndependentSlots(t *testing.T) {
	tr := newTracker()

	assert.True(t, tr.RecordStatus(1, types.StatusProcessed))
	assert.True(t, tr.RecordStatus(2, types.StatusProcessed))
	assert.True(t, tr.RecordStatus(1, types.StatusConfirmed))

	// slot 2 is unaffected by slot 1's progress
	assert.False(t, tr.RecordStatus(2, types.StatusRooted))
	assert.True(t, tr.RecordStatus(2, types.StatusConfirmed))
}

func TestSubmitRooted_NoOutstandingBatches(t *testing.T) {
	tr := newTracker()
	assert.True(t, tr.SubmitRooted(42))
}

func TestSubmitRooted_DeferredUntilBatchesResolve(t *testing.T) {
	tr := newTracker()

	tr.BatchStarted([]uint64{40, 41})
	tr.BatchStarted([]uint64{42})

	// batches at or below 42 unresolved: rooted write must wait
	require.False(t, tr.SubmitRooted(42))

	released := tr.BatchCompleted([]uint64{40, 41})
	assert.Empty(t, released, "slot 42 still has an outstanding batch")

	released = tr.BatchCompleted([]uint64{42})
	assert.Equal(t, []uint64{42}, released)
}

func TestSubmitRooted_IgnoresLaterSlots(t *testing.T) {
	tr := newTracker()

	tr.BatchStarted([]uint64{50})

	// a batch for a later slot does not gate slot 42
	assert.True(t, tr.SubmitRooted(42))
}

func TestSubmitRooted_RefcountPerSlot(t *testing.T) {
	tr := newTracker()

	tr.BatchStarted([]uint64{7})
	tr.BatchStarted([]uint64{7})
	require.False(t, tr.SubmitRooted(7))

	assert.Empty(t, tr.BatchCompleted([]uint64{7}))
	assert.Equal(t, []uint64{7}, tr.BatchCompleted([]uint64{7}))
	assert.Equal(t, 0, tr.OutstandingBatches())
}

func TestWatermark(t *testing.T) {
	tr := newTracker()
	assert.Equal(t, uint64(0), tr.Watermark())

	tr.RootedCommitted(10)
	assert.Equal(t, uint64(10), tr.Watermark())

	tr.RootedCommitted(15)
	assert.Equal(t, uint64(15), tr.Watermark())

	// watermark never moves backward
	tr.RootedCommitted(12)
	assert.Equal(t, uint64(15), tr.Watermark())
}

func TestRootedCommitted_DropsAbandonedForkSlots(t *testing.T) {
	tr := newTracker()

	// slot 5 dies on a minority fork after Processed; slot 10 roots
	require.True(t, tr.RecordStatus(5, types.StatusProcessed))
	require.True(t, tr.RecordStatus(10, types.StatusProcessed))
	require.True(t, tr.RecordStatus(10, types.StatusConfirmed))
	require.True(t, tr.RecordStatus(10, types.StatusRooted))
	require.Equal(t, 2, tr.TrackedSlots())

	tr.RootedCommitted(10)

	// the abandoned slot's state goes with the rooted one's
	assert.Equal(t, 0, tr.TrackedSlots())
	assert.Equal(t, uint64(10), tr.Watermark())

	// state above the watermark is untouched
	require.True(t, tr.RecordStatus(11, types.StatusProcessed))
	tr.RootedCommitted(10)
	assert.Equal(t, 1, tr.TrackedSlots())
}

func TestBatchCompleted_ReleasesMultiplePending(t *testing.T) {
	tr := newTracker()

	tr.BatchStarted([]uint64{5})
	require.False(t, tr.SubmitRooted(5))
	require.False(t, tr.SubmitRooted(6))

	released := tr.BatchCompleted([]uint64{5})
	assert.ElementsMatch(t, []uint64{5, 6}, released)
}

func TestTracker_ConcurrentBatches(t *testing.T) {
	tr := newTracker()

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < perWorker; i++ {
				slot := base*perWorker + i
				tr.BatchStarted([]uint64{slot})
				tr.BatchCompleted([]uint64{slot})
			}
		}(uint64(w))
	}
	wg.Wait()

	assert.Equal(t, 0, tr.OutstandingBatches())
	assert.True(t, tr.SubmitRooted(workers*perWorker))
}
