package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geyserpg/geyserpg/internal/logger"
	"github.com/geyserpg/geyserpg/internal/metrics"
	"github.com/geyserpg/geyserpg/internal/types"
)

// Client is a single-connection store client. Each worker owns exactly one
// Client, so no connection pooling or internal locking is needed. Every
// batch write runs in its own transaction and costs one round trip.
type Client struct {
	conn *pgx.Conn
	log  *logger.Logger
}

// Connect opens one connection using a keyword/value connection string
// (host=... user=... password=... port=...) and verifies it with a ping.
func Connect(ctx context.Context, connStr string, log *logger.Logger) (*Client, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)

		return nil, &ConnectionError{Op: "ping", Err: err}
	}

	return &Client{conn: conn, log: log}, nil
}

// WriteAccountBatch upserts a batch of account writes. Rows already present
// with an equal or higher write version are left untouched.
func (c *Client) WriteAccountBatch(ctx context.Context, accounts []types.AccountUpdate) error {
	accounts = dedupeAccounts(accounts)
	if len(accounts) == 0 {
		return nil
	}

	return c.execInTx(ctx, types.KindAccount, len(accounts),
		accountUpsertSQL(len(accounts)), accountArgs(accounts))
}

// WriteTransactionBatch inserts a batch of transactions, skipping
// signatures that are already present.
func (c *Client) WriteTransactionBatch(ctx context.Context, txs []types.TransactionInfo) error {
	txs = dedupeTransactions(txs)
	if len(txs) == 0 {
		return nil
	}

	return c.execInTx(ctx, types.KindTransaction, len(txs),
		transactionUpsertSQL(len(txs)), transactionArgs(txs))
}

// WriteSlotStatusBatch upserts slot statuses. A stored status never moves
// backwards even if the batch replays an older transition.
func (c *Client) WriteSlotStatusBatch(ctx context.Context, statuses []types.SlotStatusUpdate) error {
	statuses = dedupeSlotStatuses(statuses)
	if len(statuses) == 0 {
		return nil
	}

	return c.execInTx(ctx, types.KindSlotStatus, len(statuses),
		slotUpsertSQL(len(statuses)), slotArgs(statuses))
}

// WriteBlockMetadataBatch inserts block metadata rows, skipping slots that
// already have one.
func (c *Client) WriteBlockMetadataBatch(ctx context.Context, blocks []types.BlockMetadata) error {
	blocks = dedupeBlocks(blocks)
	if len(blocks) == 0 {
		return nil
	}

	return c.execInTx(ctx, types.KindBlockMetadata, len(blocks),
		blockUpsertSQL(len(blocks)), blockArgs(blocks))
}

// Close releases the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.conn.Close(ctx); err != nil {
		return &ConnectionError{Op: "close", Err: err}
	}

	return nil
}

// execInTx runs one statement inside its own transaction so a batch either
// lands completely or not at all.
func (c *Client) execInTx(ctx context.Context, kind types.Kind, rows int, sql string, args []interface{}) error {
	op := "write " + kind.String() + " batch"
	started := time.Now()

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		metrics.StoreErrorInc("begin")

		return classify(op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		metrics.StoreErrorInc("exec")

		return classify(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.StoreErrorInc("commit")

		return classify(op, err)
	}

	metrics.WriteDurationLog(kind.String(), time.Since(started))

	c.log.Debugf("%s committed, %d rows sent, %d rows affected, took %s",
		op, rows, tag.RowsAffected(), time.Since(started))

	return nil
}
