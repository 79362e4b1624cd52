package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectionError reports that a database connection could not be
// established or maintained. The client does not retry internally; the
// worker applies the configured failure policy.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("store connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed bulk write: constraint violation, statement
// timeout, serialization failure, or any other error the server reported.
type WriteError struct {
	Op   string
	Code string
	Err  error
}

func (e *WriteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store write error during %s (sqlstate %s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("store write error during %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// classify turns a pgx error into the matching typed failure. Errors the
// server reported (it was reachable and rejected the statement) become
// WriteErrors; everything else means the connection itself is gone.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &WriteError{Op: op, Code: pgErr.Code, Err: err}
	}
	if pgconn.Timeout(err) {
		return &WriteError{Op: op, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}
