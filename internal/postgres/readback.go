package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/russross/meddler"
)

func init() {
	meddler.Default = meddler.PostgreSQL
}

// AccountRow mirrors one row of the account table.
type AccountRow struct {
	Pubkey       []byte `meddler:"pubkey"`
	Slot         int64  `meddler:"slot"`
	Owner        []byte `meddler:"owner"`
	Lamports     int64  `meddler:"lamports"`
	Data         []byte `meddler:"data"`
	WriteVersion int64  `meddler:"write_version"`
	IsStartup    bool   `meddler:"is_startup"`
}

// SlotRow mirrors one row of the slot table.
type SlotRow struct {
	Slot   int64 `meddler:"slot,pk"`
	Status int16 `meddler:"status"`
}

// BlockRow mirrors one row of the block table.
type BlockRow struct {
	Slot        int64  `meddler:"slot,pk"`
	Blockhash   string `meddler:"blockhash"`
	BlockTime   int64  `meddler:"block_time"`
	BlockHeight int64  `meddler:"block_height"`
	ParentSlot  int64  `meddler:"parent_slot"`
}

// Reader provides read access to the persisted tables for operational
// checks and the replay harness. It uses a database/sql connection, kept
// separate from the single-connection write path.
type Reader struct {
	db *sql.DB
}

// NewReader opens a read connection using the same keyword/value connection
// string the write path uses.
func NewReader(connStr string) (*Reader, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open read connection: %w", err)
	}

	return NewReaderDB(db), nil
}

// NewReaderDB wraps an already open database handle. The reader takes
// ownership; Close closes the handle.
func NewReaderDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// AccountAt returns the stored account row for a pubkey at a slot, or
// sql.ErrNoRows wrapped if none exists.
func (r *Reader) AccountAt(pubkey []byte, slot uint64) (*AccountRow, error) {
	var row AccountRow

	err := meddler.QueryRow(r.db, &row,
		`SELECT pubkey, slot, owner, lamports, data, write_version, is_startup FROM account WHERE pubkey = $1 AND slot = $2`,
		pubkey, int64(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}

	return &row, nil
}

// AccountHistory returns every stored version of a pubkey ordered by slot.
func (r *Reader) AccountHistory(pubkey []byte) ([]*AccountRow, error) {
	var rows []*AccountRow

	err := meddler.QueryAll(r.db, &rows,
		`SELECT pubkey, slot, owner, lamports, data, write_version, is_startup FROM account WHERE pubkey = $1 ORDER BY slot ASC`,
		pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to query account history: %w", err)
	}

	return rows, nil
}

// SlotStatusOf returns the persisted status of a slot.
func (r *Reader) SlotStatusOf(slot uint64) (*SlotRow, error) {
	var row SlotRow

	err := meddler.QueryRow(r.db, &row,
		`SELECT slot, status FROM slot WHERE slot = $1`, int64(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to query slot status: %w", err)
	}

	return &row, nil
}

// BlockAt returns the block metadata persisted for a slot.
func (r *Reader) BlockAt(slot uint64) (*BlockRow, error) {
	var row BlockRow

	err := meddler.QueryRow(r.db, &row,
		`SELECT slot, blockhash, block_time, block_height, parent_slot FROM block WHERE slot = $1`, int64(slot))
	if err != nil {
		return nil, fmt.Errorf("failed to query block: %w", err)
	}

	return &row, nil
}

// Counts returns the current row counts of the four tables, useful for
// replay verification.
func (r *Reader) Counts() (accounts, transactions, slots, blocks int64, err error) {
	for _, q := range []struct {
		table string
		dst   *int64
	}{
		{"account", &accounts},
		{`"transaction"`, &transactions},
		{"slot", &slots},
		{"block", &blocks},
	} {
		if err = r.db.QueryRow("SELECT COUNT(*) FROM " + q.table).Scan(q.dst); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("failed to count %s rows: %w", q.table, err)
		}
	}

	return accounts, transactions, slots, blocks, nil
}

// Close releases the read connection.
func (r *Reader) Close() error {
	return r.db.Close()
}
