package storage

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNoRows is returned by Conn.Get when the query produced nothing.
var ErrNoRows = errors.New("query returned no rows")

// Row is a single result row keyed by column name. Values are whatever the
// driver produced: nil for SQL NULL, int64, float64, string or time.Time.
// Byte slices are converted to strings.
type Row map[string]any

// Rows iterates a result set lazily, like *sql.Rows.
type Rows interface {
	// Next advances to the next row. It returns false at the end of the
	// result set or on error; check Err afterwards.
	Next() bool

	// Row decodes the current row.
	Row() (Row, error)

	Err() error
	Close() error
}

// Conn is the query-execution contract the poller depends on. A Conn is not
// safe for concurrent use; each goroutine that polls owns its own.
type Conn interface {
	// Query executes query and returns its rows for lazy iteration.
	Query(ctx context.Context, query string) (Rows, error)

	// Get executes query and returns its single row. It returns ErrNoRows
	// when the result set is empty and an error when it holds more than one.
	Get(ctx context.Context, query string) (Row, error)

	// Close releases the underlying connection.
	Close() error
}
