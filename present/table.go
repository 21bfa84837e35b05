package present

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"memsqltop/poller"
	"memsqltop/schema"
)

const mb = 1 << 20

// DefaultRows caps the table when no row count is configured.
const DefaultRows = 40

// Table draws packets for one profile.
type Table struct {
	profile *schema.Profile
	rows    int
}

// NewTable returns a table showing at most rows entities. rows <= 0 uses
// DefaultRows.
func NewTable(profile *schema.Profile, rows int) *Table {
	if rows <= 0 {
		rows = DefaultRows
	}
	return &Table{profile: profile, rows: rows}
}

// Render writes the resource gauges and the entity table sorted by the
// profile's sort field, busiest first.
func (t *Table) Render(w io.Writer, p *poller.Packet) error {
	if p == nil {
		_, err := fmt.Fprintln(w, "waiting for data...")
		return err
	}
	if _, err := fmt.Fprintln(w, t.header(p)); err != nil {
		return err
	}

	cols := make([]string, len(t.profile.Fields))
	for i, f := range t.profile.Fields {
		cols[i] = f.Name
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(cols)

	for _, rec := range t.sorted(p.Records) {
		row := make([]string, len(t.profile.Fields))
		for i, f := range t.profile.Fields {
			row[i] = Cell(f, rec[f.Name])
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func (t *Table) header(p *poller.Packet) string {
	cpu := "n/a"
	if p.Capacity.CPU > 0 {
		cpu = Percent(p.CPUTotal / p.Capacity.CPU)
	}
	mem := humanize.IBytes(uint64(p.MemoryUsed * mb))
	if p.Capacity.Memory > 0 {
		mem += " / " + humanize.IBytes(uint64(p.Capacity.Memory*mb))
	}
	return fmt.Sprintf("%s  cpu %s  memory %s  entities %d  sample %d over %s",
		t.profile.Name, cpu, mem, len(p.Records), p.Seq, p.Elapsed.Round(time.Millisecond))
}

func (t *Table) sorted(records map[schema.EntityKey]schema.Record) []schema.Record {
	keys := make([]schema.EntityKey, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	field := t.profile.SortField
	sort.Slice(keys, func(i, j int) bool {
		a, aok := records[keys[i]][field].Num()
		b, bok := records[keys[j]][field].Num()
		switch {
		case aok != bok:
			return aok
		case aok && a != b:
			return a > b
		}
		return keys[i] < keys[j]
	})
	if len(keys) > t.rows {
		keys = keys[:t.rows]
	}
	out := make([]schema.Record, len(keys))
	for i, k := range keys {
		out[i] = records[k]
	}
	return out
}
