package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

// paramMarker is what the server's plan cache shows in place of literals.
const paramMarker = "@"

// Capability is a server setting probed with a single-row query.
type Capability struct {
	Name   string
	Query  string // e.g. "select @@read_advanced_counters as c"
	Column string
	Hint   string

	// Degrades lists the columns that become meaningless when an
	// optional capability is off. Nil means every Advanced field.
	Degrades []string
}

// Probe reads one figure for the resource gauges. An empty Query means
// Fixed is used as the value.
type Probe struct {
	Query  string
	Column string
	Fixed  float64
}

// Usage groups the probes behind the summary gauges. Memory is in MB.
type Usage struct {
	CPUCapacity    Probe
	MemoryCapacity Probe
	MemoryUsed     Probe
}

// Profile is one closed variant of the counter schema. Variants differ only
// in the data they carry.
type Profile struct {
	Name       string
	MinVersion *semver.Version

	Fields     []FieldSpec
	KeyColumns []string
	From       string // relation and filter after "from"

	// TextColumn holds the query text of each row. Rows equal to our own
	// query are dropped. Empty disables the filter.
	TextColumn string
	// TextExpr is selected as TextColumn when no field reads that column.
	TextExpr string

	// OpsColumns are summed to get the operations completed in an
	// interval, the divisor of AveragePerOperation fields.
	OpsColumns []string

	// Interesting decides from a raw delta whether an entity is shown.
	Interesting func(delta Record) bool

	// Correlate maps a worker-scoped key to the coordinator key of the
	// same unit of work. Nil for profiles reading server-aggregated views.
	Correlate func(worker EntityKey) (EntityKey, bool)

	CPUField  string // summed across deltas for the CPU gauge
	SortField string

	Required []Capability
	Optional []Capability

	Usage Usage
}

// Query returns the statement to issue and its parameterized form, which is
// how the statement shows up in the server's own plan cache.
func (p *Profile) Query() (issued, template string) {
	seen := make(map[string]bool)
	var sel []string
	for _, k := range p.KeyColumns {
		if !seen[k] {
			seen[k] = true
			sel = append(sel, k)
		}
	}
	for _, f := range p.Fields {
		if seen[f.Column] {
			continue
		}
		seen[f.Column] = true
		switch {
		case f.Numeric():
			// The server sometimes reports null counters.
			sel = append(sel, fmt.Sprintf("IFNULL(%s, %s) as %s", f.source(), paramMarker, f.Column))
		case f.Expr != "":
			sel = append(sel, fmt.Sprintf("%s as %s", f.Expr, f.Column))
		default:
			sel = append(sel, f.Column)
		}
	}
	if p.TextColumn != "" && !seen[p.TextColumn] {
		if p.TextExpr != "" {
			sel = append(sel, fmt.Sprintf("%s as %s", p.TextExpr, p.TextColumn))
		} else {
			sel = append(sel, p.TextColumn)
		}
	}
	template = "select " + strings.Join(sel, ", ") + " from " + p.From
	return strings.ReplaceAll(template, paramMarker, "0"), template
}

// Columns returns the distinct result columns backing the fields.
func (p *Profile) Columns() []string {
	var cols []string
	for _, f := range p.Fields {
		if !slices.Contains(cols, f.Column) {
			cols = append(cols, f.Column)
		}
	}
	return cols
}

// ColumnKind returns the kind of the fields reading column.
func (p *Profile) ColumnKind(column string) (Kind, bool) {
	for _, f := range p.Fields {
		if f.Column == column {
			return f.Kind, true
		}
	}
	return 0, false
}

// Field looks a field up by display name.
func (p *Profile) Field(name string) (FieldSpec, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Ops returns the operations completed according to a raw delta.
func (p *Profile) Ops(delta Record) float64 {
	var n float64
	for _, c := range p.OpsColumns {
		n += delta.Number(c)
	}
	return n
}

// CheckRecord verifies that rec carries every column the profile reads.
func (p *Profile) CheckRecord(rec Record) error {
	var missing []string
	for _, c := range p.Columns() {
		if _, ok := rec[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.Mark(
			errors.Newf("profile %s: record lacks columns %v", p.Name, missing),
			ErrSchemaViolation)
	}
	return nil
}

// Bind returns a copy of p without the fields newer than server.
func (p *Profile) Bind(server *semver.Version) (*Profile, error) {
	out := *p
	out.Fields = nil
	for _, f := range p.Fields {
		if f.MinVersion != "" {
			floor, err := semver.NewVersion(f.MinVersion)
			if err != nil {
				return nil, errors.Wrapf(err, "profile %s field %s", p.Name, f.Name)
			}
			if server.LessThan(floor) {
				continue
			}
		}
		out.Fields = append(out.Fields, f)
	}
	return &out, nil
}

// Degrade returns a copy of p with the Advanced fields reading columns
// marked Degraded. With no columns every Advanced field is degraded.
func (p *Profile) Degrade(columns ...string) *Profile {
	out := *p
	out.Fields = slices.Clone(p.Fields)
	for i, f := range out.Fields {
		if f.Advanced && (len(columns) == 0 || slices.Contains(columns, f.Column)) {
			out.Fields[i].Degraded = true
		}
	}
	return &out
}

// Validate checks the profile's internal consistency.
func (p *Profile) Validate() error {
	if p.MinVersion == nil {
		return errors.Newf("profile %s: no minimum version", p.Name)
	}
	if len(p.KeyColumns) == 0 {
		return errors.Newf("profile %s: no key columns", p.Name)
	}
	if p.Interesting == nil {
		return errors.Newf("profile %s: no interest predicate", p.Name)
	}
	names := make(map[string]bool)
	for _, f := range p.Fields {
		if names[f.Name] {
			return errors.Newf("profile %s: duplicate field %s", p.Name, f.Name)
		}
		names[f.Name] = true
		if kind, _ := p.ColumnKind(f.Column); kind != f.Kind {
			return errors.Newf("profile %s: column %s has conflicting kinds", p.Name, f.Column)
		}
		if !f.Numeric() && f.Rule != Raw {
			return errors.Newf("profile %s: string field %s must be raw", p.Name, f.Name)
		}
	}
	for _, c := range p.OpsColumns {
		kind, ok := p.ColumnKind(c)
		if !ok || kind == String {
			return errors.Newf("profile %s: ops column %s is not a numeric field", p.Name, c)
		}
	}
	for _, name := range []string{p.CPUField, p.SortField} {
		if _, ok := p.Field(name); !ok {
			return errors.Newf("profile %s: unknown field %q", p.Name, name)
		}
	}
	return nil
}
