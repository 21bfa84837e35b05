package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"memsqltop/schema"
	"memsqltop/storage"
)

// Source is the public contract anything feeding the poller must satisfy.
type Source interface {
	// Snapshot reads every counter record once. TakenAt is the moment
	// the data was retrieved.
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// Fetcher issues a profile's counter query against one connection. It owns
// the connection and must not be shared between goroutines.
type Fetcher struct {
	conn    storage.Conn
	profile *schema.Profile
	log     *zap.Logger
	now     func() time.Time

	issued   string
	template string
}

// NewFetcher returns a ready-to-use fetcher.
func NewFetcher(conn storage.Conn, profile *schema.Profile, log *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		conn:    conn,
		profile: profile,
		log:     log,
		now:     time.Now,
	}
	f.issued, f.template = profile.Query()
	for _, o := range opts {
		o(f)
	}
	return f
}

// Profile returns the schema the fetcher reads.
func (f *Fetcher) Profile() *schema.Profile { return f.profile }

// Snapshot implements Source.
func (f *Fetcher) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := NewSnapshot(f.now())

	rows, err := f.conn.Query(ctx, f.issued)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "fetch %s counters", f.profile.Name)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		row, err := rows.Row()
		if err != nil {
			return Snapshot{}, err
		}
		if f.isSelf(row) {
			skipped++
			continue
		}
		key, rec, err := f.record(row)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Records[key] = rec
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, errors.Wrapf(err, "fetch %s counters", f.profile.Name)
	}

	f.log.Debug("snapshot collected",
		zap.String("profile", f.profile.Name),
		zap.Int("entities", len(snap.Records)),
		zap.Int("self_rows", skipped))
	return snap, nil
}

// isSelf reports whether row is our own counter query showing up in the
// plan cache it reads.
func (f *Fetcher) isSelf(row storage.Row) bool {
	if f.profile.TextColumn == "" {
		return false
	}
	v, ok := row[f.profile.TextColumn]
	if !ok || v == nil {
		return false
	}
	text := textOf(v)
	return text == f.issued || text == f.template
}

func (f *Fetcher) record(row storage.Row) (schema.EntityKey, CounterRecord, error) {
	parts := make([]string, len(f.profile.KeyColumns))
	for i, col := range f.profile.KeyColumns {
		v, ok := row[col]
		if !ok {
			return "", nil, f.violation("row lacks key column %s", col)
		}
		if v == nil {
			parts[i] = schema.NullPart
		} else {
			parts[i] = textOf(v)
		}
	}

	rec := make(CounterRecord, len(row))
	for _, col := range f.profile.Columns() {
		v, ok := row[col]
		if !ok {
			return "", nil, f.violation("row lacks column %s", col)
		}
		kind, _ := f.profile.ColumnKind(col)
		if kind == schema.String {
			if v == nil {
				rec[col] = schema.Null
			} else {
				rec[col] = schema.Text(textOf(v))
			}
			continue
		}
		// Null counters are a server quirk, not a missing value.
		if v == nil {
			rec[col] = schema.Number(0)
			continue
		}
		n, err := toFloat(v)
		if err != nil {
			return "", nil, f.violation("column %s: %v", col, err)
		}
		rec[col] = schema.Number(n)
	}
	return schema.NewEntityKey(parts...), rec, nil
}

func (f *Fetcher) violation(format string, args ...any) error {
	return errors.Mark(
		errors.Newf("profile %s: "+format, append([]any{f.profile.Name}, args...)...),
		schema.ErrSchemaViolation)
}

// MemoryUsed reads the current memory figure in MB.
func (f *Fetcher) MemoryUsed(ctx context.Context) (float64, error) {
	return f.probe(ctx, f.profile.Usage.MemoryUsed)
}

// Capacity reads the CPU and memory ceilings of the cluster.
func (f *Fetcher) Capacity(ctx context.Context) (Capacity, error) {
	cpu, err := f.probe(ctx, f.profile.Usage.CPUCapacity)
	if err != nil {
		return Capacity{}, errors.Wrap(err, "cpu capacity")
	}
	mem, err := f.probe(ctx, f.profile.Usage.MemoryCapacity)
	if err != nil {
		return Capacity{}, errors.Wrap(err, "memory capacity")
	}
	return Capacity{CPU: cpu, Memory: mem}, nil
}

func (f *Fetcher) probe(ctx context.Context, p schema.Probe) (float64, error) {
	if p.Query == "" {
		return p.Fixed, nil
	}
	row, err := f.conn.Get(ctx, p.Query)
	if err != nil {
		return 0, err
	}
	v, ok := row[p.Column]
	if !ok {
		return 0, f.violation("%q lacks column %s", p.Query, p.Column)
	}
	if v == nil {
		return 0, nil
	}
	// Status variables look like "1234.5 MB".
	if s, ok := v.(string); ok {
		if fields := strings.Fields(s); len(fields) > 0 {
			v = fields[0]
		}
	}
	return toFloat(v)
}

// Close releases the fetcher's connection.
func (f *Fetcher) Close() error { return f.conn.Close() }

// Helper functions (kept private to this file)

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, errors.Newf("unexpected numeric value %v (%T)", v, v)
	}
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
