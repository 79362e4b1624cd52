// Package worker runs the write side of the pipeline: a bounded queue of
// sealed batches drained by a fixed set of workers, each owning one store
// connection.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/metrics"
	"github.com/geyserpg/geyserpg/internal/slottracker"
	"github.com/geyserpg/geyserpg/internal/types"
)

// StoreClient is the write surface a worker drives. One client per worker,
// never shared.
type StoreClient interface {
	WriteAccountBatch(ctx context.Context, accounts []types.AccountUpdate) error
	WriteTransactionBatch(ctx context.Context, txs []types.TransactionInfo) error
	WriteSlotStatusBatch(ctx context.Context, statuses []types.SlotStatusUpdate) error
	WriteBlockMetadataBatch(ctx context.Context, blocks []types.BlockMetadata) error
	Close(ctx context.Context) error
}

// BackpressureTimeoutError reports that the worker queue stayed full past
// the configured enqueue timeout. The batch was not enqueued.
type BackpressureTimeoutError struct {
	Kind    types.Kind
	Timeout time.Duration
}

func (e *BackpressureTimeoutError) Error() string {
	return fmt.Sprintf("enqueue of %s batch timed out after %s, worker queue full", e.Kind, e.Timeout)
}

// Pool distributes sealed batches across workers. Dispatch order gives no
// ordering guarantee between batches; the slot tracker provides the only
// cross-batch ordering the pipeline promises.
type Pool struct {
	queue   chan types.Batch
	clients []StoreClient
	tracker *slottracker.Tracker

	enqueueTimeout  time.Duration
	panicOnDBErrors bool
	fatal           func(format string, args ...interface{})

	group errgroup.Group
	log   *logger.Logger
}

// Option adjusts pool construction.
type Option func(*Pool)

// WithFatalFunc replaces the process-terminating failure handler. Used by
// tests to observe the fatal path without exiting.
func WithFatalFunc(fatal func(format string, args ...interface{})) Option {
	return func(p *Pool) {
		p.fatal = fatal
	}
}

// New builds a pool with one worker per client. Start must be called
// before Enqueue.
func New(
	clients []StoreClient,
	tracker *slottracker.Tracker,
	queueSize int,
	enqueueTimeout time.Duration,
	panicOnDBErrors bool,
	log *logger.Logger,
	opts ...Option,
) *Pool {
	p := &Pool{
		queue:           make(chan types.Batch, queueSize),
		clients:         clients,
		tracker:         tracker,
		enqueueTimeout:  enqueueTimeout,
		panicOnDBErrors: panicOnDBErrors,
		log:             log,
	}
	p.fatal = p.log.Fatalf

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches the workers. They run until Close closes the queue.
func (p *Pool) Start(ctx context.Context) {
	for i, client := range p.clients {
		id := i
		c := client

		p.group.Go(func() error {
			p.runWorker(ctx, id, c)

			return nil
		})
	}

	p.log.Infof("started %d store workers, queue size %d", len(p.clients), cap(p.queue))
}

// Enqueue hands a sealed batch to the workers, blocking up to the enqueue
// timeout when the queue is full. The caller registered the batch with the
// slot tracker before calling and must unwind that registration if an
// error is returned.
func (p *Pool) Enqueue(batch types.Batch) error {
	select {
	case p.queue <- batch:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		metrics.BatchDispatched(batch.Kind.String(), batch.Len())

		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()

	select {
	case p.queue <- batch:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		metrics.BatchDispatched(batch.Kind.String(), batch.Len())

		return nil
	case <-timer.C:
		metrics.BackpressureTimeoutInc()

		return &BackpressureTimeoutError{Kind: batch.Kind, Timeout: p.enqueueTimeout}
	}
}

// Close stops the pool: the queue is closed, workers drain what remains,
// then every client is closed. The caller must have stopped enqueueing.
func (p *Pool) Close(ctx context.Context) error {
	close(p.queue)

	if err := p.group.Wait(); err != nil {
		return err
	}

	for i, client := range p.clients {
		if err := client.Close(ctx); err != nil {
			p.log.Warnf("failed to close store client %d: %v", i, err)
		}
	}

	return nil
}

func (p *Pool) runWorker(ctx context.Context, id int, client StoreClient) {
	log := p.log.WithFields("worker", id)

	for batch := range p.queue {
		metrics.QueueDepth.Set(float64(len(p.queue)))
		p.process(ctx, log, client, batch)
	}
}

// process writes one batch and settles its bookkeeping. A failed write is
// resolved the same way as a committed one; the failure policy decides
// between aborting the process and dropping the batch.
func (p *Pool) process(ctx context.Context, log *logger.Logger, client StoreClient, batch types.Batch) {
	var err error

	switch batch.Kind {
	case types.KindAccount:
		err = client.WriteAccountBatch(ctx, batch.Accounts)
	case types.KindTransaction:
		err = client.WriteTransactionBatch(ctx, batch.Transactions)
	case types.KindSlotStatus:
		err = client.WriteSlotStatusBatch(ctx, batch.SlotStatuses)
	case types.KindBlockMetadata:
		err = client.WriteBlockMetadataBatch(ctx, batch.Blocks)
	default:
		log.Errorf("dropping batch of unknown kind %d", batch.Kind)

		return
	}

	if err != nil {
		p.handleWriteError(log, batch, err)
	} else {
		metrics.BatchCommitted(batch.Kind.String(), batch.Len())

		if batch.Kind == types.KindSlotStatus {
			for _, s := range batch.SlotStatuses {
				if s.Status == types.StatusRooted {
					p.tracker.RootedCommitted(s.Slot)
				}
			}
		}
	}

	// account, transaction and slot-status batches gate deferred rooted
	// writes; block metadata carries no ordering obligation
	if batch.Kind != types.KindBlockMetadata {
		released := p.tracker.BatchCompleted(batch.Slots())
		for _, slot := range released {
			p.writeRooted(ctx, log, client, slot)
		}
	}
}

// writeRooted persists a deferred rooted status on the worker's own
// connection rather than re-enqueueing, so a full queue cannot deadlock the
// release path.
func (p *Pool) writeRooted(ctx context.Context, log *logger.Logger, client StoreClient, slot uint64) {
	statuses := []types.SlotStatusUpdate{{Slot: slot, Status: types.StatusRooted}}

	if err := client.WriteSlotStatusBatch(ctx, statuses); err != nil {
		p.handleWriteError(log, types.Batch{Kind: types.KindSlotStatus, SlotStatuses: statuses}, err)

		return
	}

	metrics.BatchCommitted(types.KindSlotStatus.String(), 1)
	p.tracker.RootedCommitted(slot)
}

func (p *Pool) handleWriteError(log *logger.Logger, batch types.Batch, err error) {
	lo, hi := batch.SlotRange()

	if p.panicOnDBErrors {
		p.fatal("aborting on store error, %s batch of %d records (slots %d-%d): %v",
			batch.Kind, batch.Len(), lo, hi, err)

		return
	}

	metrics.BatchDroppedInc(batch.Kind.String())
	log.Errorf("dropping %s batch of %d records (slots %d-%d) after store error: %v",
		batch.Kind, batch.Len(), lo, hi, err)
}
