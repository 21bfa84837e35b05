package collector

import (
	"time"

	"memsqltop/schema"
)

// CounterRecord holds one entity's raw values keyed by result column.
type CounterRecord = schema.Record

// Snapshot is the result of a single collection cycle. It is never mutated
// after it is returned.
type Snapshot struct {
	TakenAt time.Time                            // when the collection happened
	Records map[schema.EntityKey]CounterRecord // key = entity identity
}

// NewSnapshot creates an empty snapshot with the supplied time.
func NewSnapshot(ts time.Time) Snapshot {
	return Snapshot{
		TakenAt: ts,
		Records: make(map[schema.EntityKey]CounterRecord),
	}
}

// Capacity is the ceiling of the resource gauges. Memory is in MB.
type Capacity struct {
	CPU    float64
	Memory float64
}
