package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver serves canned result sets matched by query substring, so the
// reader queries can be exercised without a running database.
type stubDriver struct {
	results []stubResult
}

type stubResult struct {
	match   string
	columns []string
	rows    [][]driver.Value
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return &stubConn{driver: d}, nil
}

type stubConn struct {
	driver *stubDriver
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{conn: c, query: query}, nil
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type stubStmt struct {
	conn  *stubConn
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("writes not supported")
}

func (s *stubStmt) Query([]driver.Value) (driver.Rows, error) {
	for _, r := range s.conn.driver.results {
		if strings.Contains(s.query, r.match) {
			return &stubRows{columns: r.columns, rows: r.rows}, nil
		}
	}

	return nil, errors.New("no canned result for query: " + s.query)
}

type stubRows struct {
	columns []string
	rows    [][]driver.Value
	at      int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.at >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.at])
	r.at++

	return nil
}

func init() {
	sql.Register("readbackstub", &stubDriver{
		results: []stubResult{
			{
				match:   `COUNT(*) FROM account`,
				columns: []string{"count"},
				rows:    [][]driver.Value{{int64(12)}},
			},
			{
				match:   `COUNT(*) FROM "transaction"`,
				columns: []string{"count"},
				rows:    [][]driver.Value{{int64(3)}},
			},
			{
				match:   `COUNT(*) FROM slot`,
				columns: []string{"count"},
				rows:    [][]driver.Value{{int64(7)}},
			},
			{
				match:   `COUNT(*) FROM block`,
				columns: []string{"count"},
				rows:    [][]driver.Value{{int64(5)}},
			},
			{
				match:   "FROM slot WHERE",
				columns: []string{"slot", "status"},
				rows:    [][]driver.Value{{int64(42), int64(3)}},
			},
			{
				match:   "FROM account WHERE pubkey = $1 AND slot",
				columns: []string{"pubkey", "slot", "owner", "lamports", "data", "write_version", "is_startup"},
				rows: [][]driver.Value{
					{[]byte{0x01}, int64(42), []byte{0x02}, int64(100), []byte{0x03, 0x04}, int64(9), true},
				},
			},
			{
				match:   "FROM account WHERE pubkey = $1 ORDER BY",
				columns: []string{"pubkey", "slot", "owner", "lamports", "data", "write_version", "is_startup"},
				rows: [][]driver.Value{
					{[]byte{0x01}, int64(41), []byte{0x02}, int64(90), []byte(nil), int64(8), false},
					{[]byte{0x01}, int64(42), []byte{0x02}, int64(100), []byte{0x03}, int64(9), false},
				},
			},
		},
	})
}

func newStubReader(t *testing.T) *Reader {
	t.Helper()

	db, err := sql.Open("readbackstub", "")
	require.NoError(t, err)

	return NewReaderDB(db)
}

func TestReader_Counts(t *testing.T) {
	r := newStubReader(t)
	defer r.Close()

	accounts, transactions, slots, blocks, err := r.Counts()
	require.NoError(t, err)

	assert.Equal(t, int64(12), accounts)
	assert.Equal(t, int64(3), transactions)
	assert.Equal(t, int64(7), slots)
	assert.Equal(t, int64(5), blocks)
}

func TestReader_SlotStatusOf(t *testing.T) {
	r := newStubReader(t)
	defer r.Close()

	row, err := r.SlotStatusOf(42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), row.Slot)
	assert.Equal(t, int16(3), row.Status)
}

func TestReader_AccountAt(t *testing.T) {
	r := newStubReader(t)
	defer r.Close()

	row, err := r.AccountAt([]byte{0x01}, 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), row.Slot)
	assert.Equal(t, int64(100), row.Lamports)
	assert.Equal(t, int64(9), row.WriteVersion)
	assert.True(t, row.IsStartup)
}

func TestReader_AccountHistory(t *testing.T) {
	r := newStubReader(t)
	defer r.Close()

	rows, err := r.AccountHistory([]byte{0x01})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, int64(41), rows[0].Slot)
	assert.Equal(t, int64(42), rows[1].Slot)
}
