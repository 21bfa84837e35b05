// Package storagetest provides a scripted storage.Conn for tests.
package storagetest

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"memsqltop/storage"
)

// ErrConcurrentUse is returned when two goroutines use the same Conn at once.
var ErrConcurrentUse = errors.New("storagetest: conn used concurrently")

type result struct {
	rows []storage.Row
	err  error
}

// Conn answers queries from a script keyed by exact query text. Each query
// holds a queue of results; every call consumes the head until only one is
// left, which then repeats.
type Conn struct {
	mu      sync.Mutex
	script  map[string][]result
	queries []string
	closed  bool

	inFlight atomic.Int32
}

// New returns an empty script.
func New() *Conn {
	return &Conn{script: make(map[string][]result)}
}

// On queues a result set for query.
func (c *Conn) On(query string, rows ...storage.Row) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script[query] = append(c.script[query], result{rows: rows})
	return c
}

// Fail queues an error for query.
func (c *Conn) Fail(query string, err error) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script[query] = append(c.script[query], result{err: err})
	return c
}

// Queries returns every query issued so far, in order.
func (c *Conn) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) next(query string) (result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	q, ok := c.script[query]
	if !ok || len(q) == 0 {
		return result{}, errors.Newf("storagetest: unexpected query %q", query)
	}
	r := q[0]
	if len(q) > 1 {
		c.script[query] = q[1:]
	}
	return r, nil
}

func (c *Conn) enter() error {
	if c.inFlight.Add(1) > 1 {
		c.inFlight.Add(-1)
		return ErrConcurrentUse
	}
	return nil
}

func (c *Conn) exit() { c.inFlight.Add(-1) }

// Query implements storage.Conn.
func (c *Conn) Query(ctx context.Context, query string) (storage.Rows, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.exit()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := c.next(query)
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	return &rows{rows: r.rows, pos: -1}, nil
}

// Get implements storage.Conn.
func (c *Conn) Get(ctx context.Context, query string) (storage.Row, error) {
	rs, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	all := rs.(*rows).rows
	switch len(all) {
	case 0:
		return nil, errors.Wrapf(storage.ErrNoRows, "%s", query)
	case 1:
		return maps.Clone(all[0]), nil
	default:
		return nil, errors.Newf("storagetest: %d rows for %q", len(all), query)
	}
}

// Close implements storage.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type rows struct {
	rows []storage.Row
	pos  int
}

func (r *rows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *rows) Row() (storage.Row, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, errors.New("storagetest: Row called without Next")
	}
	return maps.Clone(r.rows[r.pos]), nil
}

func (r *rows) Err() error   { return nil }
func (r *rows) Close() error { return nil }
