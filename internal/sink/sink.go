// Package sink is the entry surface of the pipeline. The host validator
// delivers account writes, transaction results, slot status transitions
// and block metadata here; the sink filters, batches and hands them to the
// worker pool for persistence.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geyserpg/geyserpg/internal/accumulator"
	"github.com/geyserpg/geyserpg/internal/common"
	"github.com/geyserpg/geyserpg/internal/config"
	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/metrics"
	"github.com/geyserpg/geyserpg/internal/postgres"
	"github.com/geyserpg/geyserpg/internal/selector"
	"github.com/geyserpg/geyserpg/internal/slottracker"
	"github.com/geyserpg/geyserpg/internal/types"
	"github.com/geyserpg/geyserpg/internal/worker"
)

// ErrClosed is returned for notifications delivered after Close started.
var ErrClosed = errors.New("sink is closed")

// StoreFactory builds one store client per worker.
type StoreFactory func(ctx context.Context, connStr string, log *logger.Logger) (worker.StoreClient, error)

// Option adjusts sink construction.
type Option func(*Sink)

// WithStoreFactory replaces the default store client factory. Used by
// tests to substitute in-memory stores.
func WithStoreFactory(factory StoreFactory) Option {
	return func(s *Sink) {
		s.storeFactory = factory
	}
}

// Sink accepts notifications from the host and drives the pipeline. All
// notification methods are safe for concurrent use; they never perform
// database I/O on the caller's goroutine beyond waiting for queue space.
type Sink struct {
	cfg *config.Config
	log *logger.Logger

	accountsSel *selector.AccountsSelector
	txSel       *selector.TransactionSelector

	accounts *accumulator.Accumulator[types.AccountUpdate]
	txs      *accumulator.Accumulator[types.TransactionInfo]
	statuses *accumulator.Accumulator[types.SlotStatusUpdate]
	blocks   *accumulator.Accumulator[types.BlockMetadata]

	tracker *slottracker.Tracker
	pool    *worker.Pool

	storeFactory StoreFactory

	seq    atomic.Uint64
	closed atomic.Bool
	intake sync.WaitGroup

	flushStop chan struct{}
	flushDone chan struct{}
}

// beginIntake registers one in-flight notification call, refusing it when
// the sink is closed. Close waits for registered calls to return before
// tearing down the worker queue, so a notification that passed the closed
// check can never race the queue close.
func (s *Sink) beginIntake() bool {
	s.intake.Add(1)
	if s.closed.Load() {
		s.intake.Done()

		return false
	}

	return true
}

// New builds a sink from a validated configuration, connects one store
// client per worker and starts the pool and the periodic flusher.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Sink, error) {
	accountsSel, err := selector.NewAccountsSelector(cfg.AccountsSelector.Accounts)
	if err != nil {
		return nil, fmt.Errorf("invalid accounts selector: %w", err)
	}

	txSel, err := selector.NewTransactionSelector(cfg.TransactionSelector.Mentions)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction selector: %w", err)
	}

	s := &Sink{
		cfg:         cfg,
		log:         log.WithComponent(common.ComponentSink),
		accountsSel: accountsSel,
		txSel:       txSel,
		accounts:    accumulator.New[types.AccountUpdate](cfg.BatchSize),
		txs:         accumulator.New[types.TransactionInfo](cfg.BatchSize),
		statuses:    accumulator.New[types.SlotStatusUpdate](cfg.BatchSize),
		blocks:      accumulator.New[types.BlockMetadata](cfg.BatchSize),
		tracker:     slottracker.New(log.WithComponent(common.ComponentSlotTracker)),
		flushStop:   make(chan struct{}),
		flushDone:   make(chan struct{}),
	}
	s.storeFactory = func(ctx context.Context, connStr string, log *logger.Logger) (worker.StoreClient, error) {
		return postgres.Connect(ctx, connStr, log)
	}

	for _, opt := range opts {
		opt(s)
	}

	clients := make([]worker.StoreClient, 0, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		client, err := s.storeFactory(ctx, cfg.ConnectionStr, log.WithComponent(common.ComponentStore))
		if err != nil {
			for _, c := range clients {
				_ = c.Close(ctx)
			}

			return nil, fmt.Errorf("failed to connect store client %d: %w", i, err)
		}
		clients = append(clients, client)
	}

	s.pool = worker.New(clients, s.tracker,
		cfg.QueueSize, cfg.EnqueueTimeout.Duration, cfg.PanicOnDBErrors,
		log.WithComponent(common.ComponentWorkerPool))
	s.pool.Start(ctx)

	go s.runFlusher()

	s.log.Infow("sink started",
		"threads", cfg.Threads,
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval.String(),
		"accounts_selector_enabled", accountsSel.Enabled(),
		"transaction_selector_enabled", txSel.Enabled())

	return s, nil
}

// UpdateAccount records one account write. Filtered pubkeys are dropped
// before batching.
func (s *Sink) UpdateAccount(update types.AccountUpdate) error {
	if !s.beginIntake() {
		return ErrClosed
	}
	defer s.intake.Done()

	metrics.NotificationReceivedInc(types.KindAccount.String())

	if !s.accountsSel.Accepts(update.Pubkey) {
		metrics.NotificationFilteredInc(types.KindAccount.String())

		return nil
	}

	if batch, ok := s.accounts.Offer(update); ok {
		return s.dispatchAccounts(batch)
	}

	return nil
}

// NotifyTransaction records one executed transaction. A transaction is
// kept when at least one mentioned account passes the selector.
func (s *Sink) NotifyTransaction(tx types.TransactionInfo) error {
	if !s.beginIntake() {
		return ErrClosed
	}
	defer s.intake.Done()

	metrics.NotificationReceivedInc(types.KindTransaction.String())

	if !s.txSel.Accepts(tx.MentionedAccounts) {
		metrics.NotificationFilteredInc(types.KindTransaction.String())

		return nil
	}

	if batch, ok := s.txs.Offer(tx); ok {
		return s.dispatchTransactions(batch)
	}

	return nil
}

// UpdateSlotStatus records a slot commitment transition. Repeats and
// regressions are idempotent no-ops. A rooted transition is gated on the
// resolution of every account, transaction and slot-status batch at or
// below the slot; when batches are still in flight the write happens
// later, from the worker that resolves the last of them.
func (s *Sink) UpdateSlotStatus(slot uint64, status types.SlotStatus) error {
	if !s.beginIntake() {
		return ErrClosed
	}
	defer s.intake.Done()

	metrics.NotificationReceivedInc(types.KindSlotStatus.String())

	if !s.tracker.RecordStatus(slot, status) {
		metrics.NotificationFilteredInc(types.KindSlotStatus.String())

		return nil
	}

	if status == types.StatusRooted {
		// seal buffered account, transaction and slot-status records
		// first so the rooted write cannot overtake them
		if batch, ok := s.accounts.Drain(); ok {
			s.logDispatchErr(s.dispatchAccounts(batch))
		}
		if batch, ok := s.txs.Drain(); ok {
			s.logDispatchErr(s.dispatchTransactions(batch))
		}
		if batch, ok := s.statuses.Drain(); ok {
			s.logDispatchErr(s.dispatchStatuses(batch))
		}

		if !s.tracker.SubmitRooted(slot) {
			return nil
		}

		return s.dispatchStatuses([]types.SlotStatusUpdate{{Slot: slot, Status: status}})
	}

	if batch, ok := s.statuses.Offer(types.SlotStatusUpdate{Slot: slot, Status: status}); ok {
		return s.dispatchStatuses(batch)
	}

	return nil
}

// NotifyBlockMetadata records per-slot block information.
func (s *Sink) NotifyBlockMetadata(block types.BlockMetadata) error {
	if !s.beginIntake() {
		return ErrClosed
	}
	defer s.intake.Done()

	metrics.NotificationReceivedInc(types.KindBlockMetadata.String())

	if batch, ok := s.blocks.Offer(block); ok {
		return s.dispatchBlocks(batch)
	}

	return nil
}

// NotifyEndOfStartup flushes the startup account backlog so snapshot
// restore data is persisted before live streaming begins.
func (s *Sink) NotifyEndOfStartup() error {
	if !s.beginIntake() {
		return ErrClosed
	}
	defer s.intake.Done()

	s.log.Info("end of startup notified, flushing startup accounts")

	if batch, ok := s.accounts.Drain(); ok {
		return s.dispatchAccounts(batch)
	}

	return nil
}

// Watermark returns the highest slot known to be fully persisted as
// rooted.
func (s *Sink) Watermark() uint64 {
	return s.tracker.Watermark()
}

// Close stops intake, flushes partial batches, drains the worker queue and
// closes the store clients. Notifications arriving during or after Close
// are rejected with ErrClosed.
func (s *Sink) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	// let notifications already past the closed check finish before the
	// queue goes away
	s.intake.Wait()

	close(s.flushStop)
	<-s.flushDone

	s.flushAll()

	if err := s.pool.Close(ctx); err != nil {
		return fmt.Errorf("failed to close worker pool: %w", err)
	}

	if n := s.accounts.Len() + s.txs.Len() + s.statuses.Len() + s.blocks.Len(); n > 0 {
		s.log.Warnf("%d records left unflushed at shutdown", n)
	}

	s.log.Infow("sink closed", "watermark", s.tracker.Watermark())

	return nil
}

func (s *Sink) runFlusher() {
	defer close(s.flushDone)

	ticker := time.NewTicker(s.cfg.FlushInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushAll()
		case <-s.flushStop:
			return
		}
	}
}

// flushAll drains every accumulator so no partial batch outlives the
// flush interval.
func (s *Sink) flushAll() {
	if batch, ok := s.accounts.Drain(); ok {
		s.logDispatchErr(s.dispatchAccounts(batch))
	}
	if batch, ok := s.txs.Drain(); ok {
		s.logDispatchErr(s.dispatchTransactions(batch))
	}
	if batch, ok := s.statuses.Drain(); ok {
		s.logDispatchErr(s.dispatchStatuses(batch))
	}
	if batch, ok := s.blocks.Drain(); ok {
		s.logDispatchErr(s.dispatchBlocks(batch))
	}
}

func (s *Sink) logDispatchErr(err error) {
	if err != nil {
		s.log.Errorf("flush dispatch failed: %v", err)
	}
}

func (s *Sink) dispatchAccounts(records []types.AccountUpdate) error {
	return s.dispatch(types.Batch{
		Kind:     types.KindAccount,
		Seq:      s.seq.Add(1),
		Accounts: records,
	})
}

func (s *Sink) dispatchTransactions(records []types.TransactionInfo) error {
	return s.dispatch(types.Batch{
		Kind:         types.KindTransaction,
		Seq:          s.seq.Add(1),
		Transactions: records,
	})
}

func (s *Sink) dispatchStatuses(records []types.SlotStatusUpdate) error {
	return s.dispatch(types.Batch{
		Kind:         types.KindSlotStatus,
		Seq:          s.seq.Add(1),
		SlotStatuses: records,
	})
}

func (s *Sink) dispatchBlocks(records []types.BlockMetadata) error {
	return s.dispatch(types.Batch{
		Kind:   types.KindBlockMetadata,
		Seq:    s.seq.Add(1),
		Blocks: records,
	})
}

// dispatch registers account, transaction and slot-status batches with
// the slot tracker before enqueueing so a rooted status can never overtake
// them. When the queue stays full past the enqueue timeout the
// registration is unwound and the error surfaces to the host.
func (s *Sink) dispatch(batch types.Batch) error {
	gated := batch.Kind != types.KindBlockMetadata

	if gated {
		s.tracker.BatchStarted(batch.Slots())
	}

	err := s.pool.Enqueue(batch)
	if err == nil {
		return nil
	}

	metrics.BatchDroppedInc(batch.Kind.String())
	lo, hi := batch.SlotRange()
	s.log.Errorf("dropping %s batch of %d records (slots %d-%d): %v",
		batch.Kind, batch.Len(), lo, hi, err)

	if gated {
		for _, slot := range s.tracker.BatchCompleted(batch.Slots()) {
			// deferred rooted writes released by the unwind still have
			// to reach the store
			if derr := s.pool.Enqueue(types.Batch{
				Kind:         types.KindSlotStatus,
				Seq:          s.seq.Add(1),
				SlotStatuses: []types.SlotStatusUpdate{{Slot: slot, Status: types.StatusRooted}},
			}); derr != nil {
				s.log.Errorf("dropping released rooted status for slot %d: %v", slot, derr)
			}
		}
	}

	return err
}
