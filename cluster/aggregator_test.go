package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"memsqltop/collector"
	"memsqltop/schema"
	"memsqltop/storage"
	"memsqltop/storage/storagetest"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func plan(cpu, commits, mem float64) schema.Record {
	return schema.Record{
		"plan_id":        schema.Text("1"),
		"database_name":  schema.Text("db"),
		"query_text":     schema.Text("select ?"),
		"commits":        schema.Number(commits),
		"rowcount":       schema.Number(0),
		"cpu_time":       schema.Number(cpu),
		"memory_use":     schema.Number(mem),
		"execution_time": schema.Number(0),
		"queued_time":    schema.Number(0),
	}
}

func snap(recs map[schema.EntityKey]schema.Record) collector.Snapshot {
	s := collector.NewSnapshot(t0)
	for k, r := range recs {
		s.Records[k] = r
	}
	return s
}

func TestMergeSumsResourceCounters(t *testing.T) {
	agg := NewAggregator(schema.PlanCache(), zap.NewNop())
	coordKey := schema.NewEntityKey("A", schema.NullPart)

	coord := snap(map[schema.EntityKey]schema.Record{coordKey: plan(0, 9, 100)})
	w1 := snap(map[schema.EntityKey]schema.Record{schema.NewEntityKey("L1", "A"): plan(5, 3, 10)})
	w2 := snap(map[schema.EntityKey]schema.Record{schema.NewEntityKey("L2", "A"): plan(7, 4, 20)})

	merged := agg.Merge(coord, w1, w2)

	r := merged.Records[coordKey]
	require.NotNil(t, r)
	assert.Equal(t, 12.0, r.Number("cpu_time"))
	assert.Equal(t, 130.0, r.Number("memory_use"))
	assert.Equal(t, 9.0, r.Number("commits"))
	assert.Equal(t, t0, merged.TakenAt)
}

func TestMergeLeavesInputsUntouched(t *testing.T) {
	agg := NewAggregator(schema.PlanCache(), zap.NewNop())
	coordKey := schema.NewEntityKey("A", schema.NullPart)
	coordRec := plan(1, 9, 0)
	coord := snap(map[schema.EntityKey]schema.Record{coordKey: coordRec})
	w := snap(map[schema.EntityKey]schema.Record{schema.NewEntityKey("L1", "A"): plan(5, 3, 0)})

	merged := agg.Merge(coord, w)

	assert.Equal(t, 6.0, merged.Records[coordKey].Number("cpu_time"))
	assert.Equal(t, 1.0, coordRec.Number("cpu_time"))
	assert.Equal(t, 1.0, coord.Records[coordKey].Number("cpu_time"))
	assert.Len(t, w.Records, 1)
}

func TestMergeDropsUnmatchedWorkers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	agg := NewAggregator(schema.PlanCache(), zap.New(core))
	coordKey := schema.NewEntityKey("A", schema.NullPart)
	coord := snap(map[schema.EntityKey]schema.Record{coordKey: plan(1, 1, 0)})
	w := snap(map[schema.EntityKey]schema.Record{
		schema.NewEntityKey("L1", "missing"):       plan(5, 1, 0),
		schema.NewEntityKey("L2", schema.NullPart): plan(7, 1, 0),
	})

	merged := agg.Merge(coord, w)

	assert.Len(t, merged.Records, 1)
	assert.Equal(t, 1.0, merged.Records[coordKey].Number("cpu_time"))
	entries := logs.FilterMessage("worker records without coordinator counterpart").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["dropped"])
}

func TestMergeWithoutCorrelationCopiesCoordinator(t *testing.T) {
	agg := NewAggregator(schema.Activities58(), zap.NewNop())
	key := schema.NewEntityKey("Query", "db", "q")
	coord := snap(map[schema.EntityKey]schema.Record{key: {"cpu_time_ms": schema.Number(3)}})
	worker := snap(map[schema.EntityKey]schema.Record{key: {"cpu_time_ms": schema.Number(4)}})

	merged := agg.Merge(coord, worker)
	assert.Equal(t, 3.0, merged.Records[key].Number("cpu_time_ms"))
}

func TestDiscover(t *testing.T) {
	conn := storagetest.New()
	conn.On(showLeaves,
		storage.Row{"Host": "10.0.0.1", "Port": int64(3307)},
		storage.Row{"Host": "10.0.0.2", "Port": "3308"},
	)

	leaves, err := Discover(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []Leaf{{Host: "10.0.0.1", Port: 3307}, {Host: "10.0.0.2", Port: 3308}}, leaves)
	assert.Equal(t, "10.0.0.2:3308", leaves[1].String())
}

func TestDiscoverRejectsBadPort(t *testing.T) {
	conn := storagetest.New()
	conn.On(showLeaves, storage.Row{"Host": "10.0.0.1", "Port": "x"})

	_, err := Discover(context.Background(), conn)
	require.Error(t, err)
}

type fixedSource struct {
	snap collector.Snapshot
	err  error
}

func (f fixedSource) Snapshot(context.Context) (collector.Snapshot, error) { return f.snap, f.err }

func TestSourceMergesAllNodes(t *testing.T) {
	coordKey := schema.NewEntityKey("A", schema.NullPart)
	src := NewSource(
		fixedSource{snap: snap(map[schema.EntityKey]schema.Record{coordKey: plan(0, 9, 0)})},
		[]collector.Source{
			fixedSource{snap: snap(map[schema.EntityKey]schema.Record{schema.NewEntityKey("L1", "A"): plan(5, 1, 0)})},
			fixedSource{snap: snap(map[schema.EntityKey]schema.Record{schema.NewEntityKey("L2", "A"): plan(7, 1, 0)})},
		},
		NewAggregator(schema.PlanCache(), zap.NewNop()),
	)

	s, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.Records[coordKey].Number("cpu_time"))
}

func TestSourceFailsWhenAnyNodeFails(t *testing.T) {
	src := NewSource(
		fixedSource{snap: snap(nil)},
		[]collector.Source{fixedSource{err: assert.AnError}},
		NewAggregator(schema.PlanCache(), zap.NewNop()),
	)

	_, err := src.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 0")
}
