// Package delta turns two cumulative snapshots into per-second and
// per-operation figures.
package delta

import (
	"time"

	"memsqltop/collector"
	"memsqltop/schema"
)

// Record holds one entity's normalized values keyed by display name. A Null
// value is undefined for this interval and renders blank.
type Record = schema.Record

// Engine diffs snapshots under one profile. It keeps no state between
// calls and never mutates its inputs.
type Engine struct {
	profile *schema.Profile
	columns []string
}

// New returns an engine for profile.
func New(profile *schema.Profile) *Engine {
	return &Engine{profile: profile, columns: profile.Columns()}
}

// Diff computes the delta records of every interesting entity in newer.
// Entities only present in older are dropped.
func (e *Engine) Diff(newer, older collector.Snapshot, elapsed time.Duration) (map[schema.EntityKey]Record, error) {
	out := make(map[schema.EntityKey]Record)
	for key, n := range newer.Records {
		if err := e.profile.CheckRecord(n); err != nil {
			return nil, err
		}

		// Without a baseline the lifetime totals are the delta.
		raw := n
		if o, ok := older.Records[key]; ok {
			if err := e.profile.CheckRecord(o); err != nil {
				return nil, err
			}
			raw = e.subtract(n, o)
		}

		if !e.profile.Interesting(raw) {
			continue
		}
		out[key] = e.normalize(raw, elapsed.Seconds())
	}
	return out, nil
}

// subtract differences counters, clamping resets to zero. Gauges and
// strings keep the newer value.
func (e *Engine) subtract(n, o schema.Record) schema.Record {
	d := make(schema.Record, len(e.columns))
	for _, col := range e.columns {
		kind, _ := e.profile.ColumnKind(col)
		if kind != schema.Counter {
			d[col] = n[col]
			continue
		}
		nv, nok := n[col].Num()
		ov, ook := o[col].Num()
		if !nok || !ook {
			d[col] = n[col]
			continue
		}
		d[col] = schema.Number(max(0, nv-ov))
	}
	return d
}

func (e *Engine) normalize(raw schema.Record, seconds float64) Record {
	ops := e.profile.Ops(raw)
	out := make(Record, len(e.profile.Fields))
	for _, f := range e.profile.Fields {
		v := raw[f.Column]
		if f.Degraded {
			out[f.Name] = schema.Null
			continue
		}
		num, ok := v.Num()
		if !ok {
			out[f.Name] = v
			continue
		}
		switch f.Rule {
		case schema.RatePerSecond:
			if seconds <= 0 {
				out[f.Name] = schema.Null
				continue
			}
			out[f.Name] = schema.Number(f.Apply(num) / seconds)
		case schema.AveragePerOperation:
			if ops == 0 {
				out[f.Name] = schema.Null
				continue
			}
			out[f.Name] = schema.Number(f.Apply(num) / ops)
		default:
			out[f.Name] = v
		}
	}
	return out
}

// Total sums a numeric field across records, skipping undefined values.
func Total(records map[schema.EntityKey]Record, field string) float64 {
	var sum float64
	for _, r := range records {
		sum += r.Number(field)
	}
	return sum
}
