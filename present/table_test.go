package present

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memsqltop/collector"
	"memsqltop/poller"
	"memsqltop/schema"
)

func TestFormats(t *testing.T) {
	assert.Equal(t, "10.0", Count(10))
	assert.Equal(t, "0.3", Count(0.26))
	assert.Equal(t, "150%", Percent(1.5))
	assert.Equal(t, "33%", Percent(0.339))
	assert.Equal(t, "500 B", Bytes(500))
	assert.Equal(t, "1.0 KiB", Bytes(1024))
	assert.Equal(t, "250.0 ms", Millis(250))
	assert.Equal(t, "1.5 s", Millis(1500))
	assert.Equal(t, "2.0 m", Millis(120000))
	assert.Equal(t, "3.0 h", Millis(3*3600*1000))
	assert.Equal(t, "2.0 d", Millis(48*3600*1000))
}

func TestCleanQuery(t *testing.T) {
	q := "select a, -- the a column\n   b /* keep */\n\tfrom t   where x = 1 --trailing"
	assert.Equal(t, "select a, b /* keep */ from t where x = 1", CleanQuery(q))
	assert.Equal(t, "", CleanQuery("-- only a comment"))
}

func TestCellBlankForUndefined(t *testing.T) {
	f := schema.FieldSpec{Name: "Lat/q", Kind: schema.Counter, Format: schema.FormatTime}
	assert.Equal(t, "", Cell(f, schema.Null))
	assert.Equal(t, "5.0 ms", Cell(f, schema.Number(5)))

	q := schema.FieldSpec{Name: "Query", Kind: schema.String, Format: schema.FormatQuery}
	assert.Equal(t, "select 1", Cell(q, schema.Text("select\n  1")))

	plain := schema.FieldSpec{Name: "PlanId", Kind: schema.Gauge}
	assert.Equal(t, "12", Cell(plain, schema.Number(12)))
}

func record(query string, cpu float64) schema.Record {
	return schema.Record{
		"Database":            schema.Text("db"),
		"Query":               schema.Text(query),
		"Executions/sec":      schema.Number(1),
		"RowCount/sec":        schema.Number(2),
		"CpuUtil":             schema.Number(cpu),
		"Memory/query":        schema.Number(2048),
		"ExecutionTime/query": schema.Number(3),
		"QueuedTime/query":    schema.Null,
	}
}

func TestRenderSortsAndTrims(t *testing.T) {
	table := NewTable(schema.PlanCacheSummary57(), 2)
	p := &poller.Packet{
		Seq:     3,
		Elapsed: 3 * time.Second,
		Records: map[schema.EntityKey]schema.Record{
			"a": record("select low", 0.1),
			"b": record("select high", 0.9),
			"c": record("select mid", 0.5),
		},
		CPUTotal:   1.5,
		MemoryUsed: 1024,
		Capacity:   collector.Capacity{CPU: 4, Memory: 4096},
	}

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf, p))
	out := buf.String()

	assert.Contains(t, out, "cpu 37%")
	assert.Contains(t, out, "memory 1.0 GiB / 4.0 GiB")
	assert.Contains(t, out, "Executions/sec")
	assert.Contains(t, out, "2.0 KiB")
	assert.NotContains(t, out, "select low")
	high := strings.Index(out, "select high")
	mid := strings.Index(out, "select mid")
	require.True(t, high > 0 && mid > 0)
	assert.Less(t, high, mid)
}

func TestRenderBeforeFirstPacket(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTable(schema.Activities58(), 0).Render(&buf, nil))
	assert.Equal(t, "waiting for data...\n", buf.String())
}
