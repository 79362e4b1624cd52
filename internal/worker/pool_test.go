package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/slottracker"
	"github.com/geyserpg/geyserpg/internal/types"
)

type fakeStoreClient struct {
	mu sync.Mutex

	accountBatches [][]types.AccountUpdate
	txBatches      [][]types.TransactionInfo
	statusBatches  [][]types.SlotStatusUpdate
	blockBatches   [][]types.BlockMetadata

	writeErr error
	closed   bool

	release chan struct{}
}

func (f *fakeStoreClient) wait() {
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeStoreClient) WriteAccountBatch(_ context.Context, accounts []types.AccountUpdate) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.accountBatches = append(f.accountBatches, accounts)
	return nil
}

func (f *fakeStoreClient) WriteTransactionBatch(_ context.Context, txs []types.TransactionInfo) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.txBatches = append(f.txBatches, txs)
	return nil
}

func (f *fakeStoreClient) WriteSlotStatusBatch(_ context.Context, statuses []types.SlotStatusUpdate) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.statusBatches = append(f.statusBatches, statuses)
	return nil
}

func (f *fakeStoreClient) WriteBlockMetadataBatch(_ context.Context, blocks []types.BlockMetadata) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.blockBatches = append(f.blockBatches, blocks)
	return nil
}

func (f *fakeStoreClient) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStoreClient) accountRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, b := range f.accountBatches {
		total += len(b)
	}
	return total
}

func (f *fakeStoreClient) statusRecords() []types.SlotStatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.SlotStatusUpdate
	for _, b := range f.statusBatches {
		out = append(out, b...)
	}
	return out
}

func newTestPool(t *testing.T, clients []StoreClient, tracker *slottracker.Tracker, opts ...Option) *Pool {
	t.Helper()

	pool := New(clients, tracker, 16, 50*time.Millisecond, false, logger.NewNopLogger(), opts...)
	pool.Start(context.Background())

	return pool
}

func accountBatch(slot uint64, n int) types.Batch {
	batch := types.Batch{Kind: types.KindAccount}
	for i := 0; i < n; i++ {
		batch.Accounts = append(batch.Accounts, types.AccountUpdate{
			Slot:         slot,
			WriteVersion: uint64(i + 1),
			Lamports:     uint64(i),
		})
	}

	return batch
}

func TestPool_WritesBatches(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, []StoreClient{client}, tracker)

	batch := accountBatch(10, 4)
	tracker.BatchStarted(batch.Slots())
	require.NoError(t, pool.Enqueue(batch))

	require.NoError(t, pool.Close(context.Background()))

	assert.Equal(t, 4, client.accountRecords())
	assert.True(t, client.closed)
	assert.Zero(t, tracker.OutstandingBatches())
}

func TestPool_MultipleWorkers(t *testing.T) {
	t.Parallel()

	clients := []StoreClient{&fakeStoreClient{}, &fakeStoreClient{}, &fakeStoreClient{}}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, clients, tracker)

	const batches = 12
	for i := 0; i < batches; i++ {
		batch := accountBatch(uint64(100+i), 2)
		tracker.BatchStarted(batch.Slots())
		require.NoError(t, pool.Enqueue(batch))
	}

	require.NoError(t, pool.Close(context.Background()))

	total := 0
	for _, c := range clients {
		total += c.(*fakeStoreClient).accountRecords()
	}
	assert.Equal(t, batches*2, total)
	assert.Zero(t, tracker.OutstandingBatches())
}

func TestPool_EnqueueTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &fakeStoreClient{release: release}
	tracker := slottracker.New(logger.NewNopLogger())

	pool := New([]StoreClient{client}, tracker, 1, 20*time.Millisecond, false, logger.NewNopLogger())
	pool.Start(context.Background())

	// first batch blocks the worker, second fills the queue
	require.NoError(t, pool.Enqueue(accountBatch(1, 1)))
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Enqueue(accountBatch(2, 1)))

	err := pool.Enqueue(accountBatch(3, 1))

	var timeoutErr *BackpressureTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, types.KindAccount, timeoutErr.Kind)

	close(release)
	require.NoError(t, pool.Close(context.Background()))
}

func TestPool_DropPolicyContinues(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{writeErr: errors.New("connection refused")}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, []StoreClient{client}, tracker)

	batch := accountBatch(5, 3)
	tracker.BatchStarted(batch.Slots())
	require.NoError(t, pool.Enqueue(batch))

	require.NoError(t, pool.Close(context.Background()))

	// batch dropped, but resolved so the tracker is not wedged
	assert.Equal(t, 0, client.accountRecords())
	assert.Zero(t, tracker.OutstandingBatches())
}

func TestPool_FatalPolicy(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{writeErr: errors.New("connection refused")}
	tracker := slottracker.New(logger.NewNopLogger())

	var (
		mu     sync.Mutex
		fatals []string
	)
	pool := New([]StoreClient{client}, tracker, 16, 50*time.Millisecond, true, logger.NewNopLogger(),
		WithFatalFunc(func(format string, args ...interface{}) {
			mu.Lock()
			defer mu.Unlock()
			fatals = append(fatals, format)
		}))
	pool.Start(context.Background())

	batch := accountBatch(5, 3)
	tracker.BatchStarted(batch.Slots())
	require.NoError(t, pool.Enqueue(batch))

	require.NoError(t, pool.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fatals, 1)
	assert.Contains(t, fatals[0], "aborting on store error")
}

func TestPool_DeferredRootedWrittenAfterBatchResolves(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, []StoreClient{client}, tracker)

	batch := accountBatch(20, 2)
	tracker.BatchStarted(batch.Slots())

	// rooted arrives while the account batch is outstanding
	require.True(t, tracker.RecordStatus(20, types.StatusProcessed))
	require.True(t, tracker.RecordStatus(20, types.StatusConfirmed))
	require.True(t, tracker.RecordStatus(20, types.StatusRooted))
	require.False(t, tracker.SubmitRooted(20))

	require.NoError(t, pool.Enqueue(batch))
	require.NoError(t, pool.Close(context.Background()))

	statuses := client.statusRecords()
	require.Len(t, statuses, 1)
	assert.Equal(t, uint64(20), statuses[0].Slot)
	assert.Equal(t, types.StatusRooted, statuses[0].Status)
	assert.Equal(t, uint64(20), tracker.Watermark())
}

func TestPool_StatusBatchGatesDeferredRooted(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, []StoreClient{client}, tracker)

	batch := types.Batch{
		Kind: types.KindSlotStatus,
		SlotStatuses: []types.SlotStatusUpdate{
			{Slot: 30, Status: types.StatusProcessed},
			{Slot: 30, Status: types.StatusConfirmed},
		},
	}
	tracker.BatchStarted(batch.Slots())

	// rooted arrives while the status batch is outstanding
	require.True(t, tracker.RecordStatus(30, types.StatusProcessed))
	require.True(t, tracker.RecordStatus(30, types.StatusConfirmed))
	require.True(t, tracker.RecordStatus(30, types.StatusRooted))
	require.False(t, tracker.SubmitRooted(30))

	require.NoError(t, pool.Enqueue(batch))
	require.NoError(t, pool.Close(context.Background()))

	statuses := client.statusRecords()
	require.Len(t, statuses, 3)
	assert.Equal(t, types.StatusConfirmed, statuses[1].Status)
	assert.Equal(t, types.StatusRooted, statuses[2].Status)
	assert.Equal(t, uint64(30), tracker.Watermark())
}

func TestPool_RootedInStatusBatchAdvancesWatermark(t *testing.T) {
	t.Parallel()

	client := &fakeStoreClient{}
	tracker := slottracker.New(logger.NewNopLogger())
	pool := newTestPool(t, []StoreClient{client}, tracker)

	require.True(t, tracker.RecordStatus(7, types.StatusProcessed))
	require.True(t, tracker.RecordStatus(7, types.StatusConfirmed))
	require.True(t, tracker.RecordStatus(7, types.StatusRooted))
	require.True(t, tracker.SubmitRooted(7))

	require.NoError(t, pool.Enqueue(types.Batch{
		Kind: types.KindSlotStatus,
		SlotStatuses: []types.SlotStatusUpdate{
			{Slot: 7, Status: types.StatusRooted},
		},
	}))
	require.NoError(t, pool.Close(context.Background()))

	assert.Equal(t, uint64(7), tracker.Watermark())
}
