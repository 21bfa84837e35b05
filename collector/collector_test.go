package collector

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memsqltop/schema"
	"memsqltop/storage"
	"memsqltop/storage/storagetest"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func summaryRow(hash, text string, commits any) storage.Row {
	return storage.Row{
		"plan_hash":      hash,
		"database_name":  "db",
		"query_text":     text,
		"commits":        commits,
		"rowcount":       "40",
		"cpu_time":       int64(12),
		"memory_use":     2048.0,
		"execution_time": []byte("7"),
		"queued_time":    nil,
	}
}

func TestSnapshotBuildsRecords(t *testing.T) {
	p := schema.PlanCacheSummary57()
	issued, _ := p.Query()
	conn := storagetest.New().On(issued,
		summaryRow("h1", "select * from t where id = @", int64(10)),
		summaryRow("h2", "insert into t values (@)", nil),
	)

	snap, err := NewFetcher(conn, p, zap.NewNop(), WithClock(func() time.Time { return t0 })).
		Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, t0, snap.TakenAt)
	require.Len(t, snap.Records, 2)

	r := snap.Records[schema.NewEntityKey("h1")]
	assert.Equal(t, 10.0, r.Number("commits"))
	assert.Equal(t, 40.0, r.Number("rowcount"))
	assert.Equal(t, 7.0, r.Number("execution_time"))
	q, ok := r["query_text"].Str()
	require.True(t, ok)
	assert.Equal(t, "select * from t where id = @", q)

	// Null counters become zero.
	assert.Equal(t, schema.Number(0), r["queued_time"])
	assert.Equal(t, schema.Number(0), snap.Records[schema.NewEntityKey("h2")]["commits"])
}

func TestSnapshotDropsItsOwnQuery(t *testing.T) {
	p := schema.PlanCacheSummary57()
	issued, template := p.Query()
	conn := storagetest.New().On(issued,
		summaryRow("self-issued", issued, int64(1)),
		summaryRow("self-template", template, int64(1)),
		summaryRow("user", "select 1", int64(1)),
	)

	snap, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Contains(t, snap.Records, schema.NewEntityKey("user"))
}

func TestSnapshotNullStringsStayNull(t *testing.T) {
	p := schema.PlanCacheSummary57()
	issued, _ := p.Query()
	row := summaryRow("h1", "select 1", int64(1))
	row["database_name"] = nil
	conn := storagetest.New().On(issued, row)

	snap, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Records[schema.NewEntityKey("h1")]["database_name"].IsNull())
}

func activityRow(name string, text any) storage.Row {
	return storage.Row{
		"activity_type":       "Query",
		"database_name":       "app",
		"activity_name":       name,
		"cpu_time_ms":         int64(10),
		"memory_bs":           int64(0),
		"disk_b":              int64(0),
		"network_b":           int64(0),
		"memory_major_faults": int64(0),
		"elapsed_time_ms":     int64(5),
		"cpu_wait_time_ms":    int64(0),
		"lock_time_ms":        int64(0),
		"disk_time_ms":        int64(0),
		"network_time_ms":     int64(0),
		"run_count":           int64(1),
		"done_count":          int64(3),
		"query_text":          text,
	}
}

func TestActivitiesSnapshotDropsItsOwnActivity(t *testing.T) {
	p := schema.Activities58()
	issued, template := p.Query()
	conn := storagetest.New().On(issued,
		activityRow("poll_issued", issued),
		activityRow("poll_template", template),
		activityRow("select_users", "select * from users where id = @"),
		activityRow("no_text", nil),
	)

	snap, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Contains(t, snap.Records, schema.NewEntityKey("Query", "app", "select_users"))
	assert.Contains(t, snap.Records, schema.NewEntityKey("Query", "app", "no_text"))
}

func TestSnapshotKeepsNullAndEmptyKeysApart(t *testing.T) {
	p := schema.PlanCache()
	issued, _ := p.Query()
	row := func(aggHash any, commits int64) storage.Row {
		r := summaryRow("h1", "select 1", commits)
		r["plan_id"] = int64(1)
		r["aggregator_plan_hash"] = aggHash
		return r
	}
	conn := storagetest.New().On(issued, row(nil, 1), row("", 2))

	snap, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, 1.0, snap.Records[schema.NewEntityKey("h1", schema.NullPart)].Number("commits"))
	assert.Equal(t, 2.0, snap.Records[schema.NewEntityKey("h1", "")].Number("commits"))
}

func TestSnapshotSchemaViolations(t *testing.T) {
	p := schema.PlanCacheSummary57()
	issued, _ := p.Query()

	missing := summaryRow("h1", "select 1", int64(1))
	delete(missing, "cpu_time")

	noKey := summaryRow("h1", "select 1", int64(1))
	delete(noKey, "plan_hash")

	garbage := summaryRow("h1", "select 1", "lots")

	for name, row := range map[string]storage.Row{"missing": missing, "no key": noKey, "garbage": garbage} {
		t.Run(name, func(t *testing.T) {
			conn := storagetest.New().On(issued, row)
			_, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, schema.ErrSchemaViolation), err.Error())
		})
	}
}

func TestSnapshotQueryFailure(t *testing.T) {
	p := schema.PlanCacheSummary57()
	issued, _ := p.Query()
	conn := storagetest.New().Fail(issued, errors.New("server has gone away"))

	_, err := NewFetcher(conn, p, zap.NewNop()).Snapshot(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, schema.ErrSchemaViolation))
	assert.Contains(t, err.Error(), "server has gone away")
}

func TestUsageProbes(t *testing.T) {
	conn := storagetest.New().
		On("select @@maximum_memory as m", storage.Row{"m": "16384"}).
		On("show status like 'Total_server_memory'", storage.Row{"Variable_name": "Total_server_memory", "Value": "1234.5 MB"})
	f := NewFetcher(conn, schema.PlanCacheSummary57(), zap.NewNop())

	c, err := f.Capacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Capacity{CPU: 1, Memory: 16384}, c)

	used, err := f.MemoryUsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.5, used)
}

func TestUsageProbeNullSum(t *testing.T) {
	conn := storagetest.New().On("select sum(memory_used_mb) m from mv_nodes", storage.Row{"m": nil})
	used, err := NewFetcher(conn, schema.Activities58(), zap.NewNop()).MemoryUsed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestCloseClosesConn(t *testing.T) {
	conn := storagetest.New()
	require.NoError(t, NewFetcher(conn, schema.Activities58(), zap.NewNop()).Close())
	assert.True(t, conn.Closed())
}
