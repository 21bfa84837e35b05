package schema

// Kind says how a field behaves between two samples.
type Kind uint8

const (
	// Counter is cumulative and monotonic until reset; it is differenced.
	Counter Kind = iota
	// Gauge is a point-in-time value; the newest sample is used as is.
	Gauge
	// String is descriptive text passed through unchanged.
	String
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Rule says how a field's delta is normalized for display.
type Rule uint8

const (
	Raw Rule = iota
	// RatePerSecond divides by the measured elapsed time.
	RatePerSecond
	// AveragePerOperation divides by the operations completed in the
	// same interval.
	AveragePerOperation
)

// Aggregation says how worker records contribute to the coordinator record.
type Aggregation uint8

const (
	// Coordinator keeps the coordinator's own value. Logical outcomes
	// (executions, rows, queue time) are already cluster-wide there.
	Coordinator Aggregation = iota
	// Sum adds every worker's value. Used for consumed resources.
	Sum
)

// Format is a presentation hint.
type Format uint8

const (
	FormatText Format = iota
	FormatQuery
	FormatCount
	FormatPercent
	FormatBytes
	FormatTime // milliseconds
)

// FieldSpec describes one displayed column.
type FieldSpec struct {
	Name   string // display name, key of delta records
	Column string // result column, key of raw records
	Expr   string // SQL producing Column, defaults to Column

	Kind      Kind
	Rule      Rule
	Scale     float64 // applied before normalizing, zero means 1
	Aggregate Aggregation

	// MinVersion drops the field on older servers. Empty means the
	// profile minimum.
	MinVersion string

	// Advanced fields need an optional capability. When it is missing
	// the field is Degraded and always Null.
	Advanced bool
	Degraded bool

	Format Format
	Help   string
}

// Numeric reports whether values of f are numbers.
func (f FieldSpec) Numeric() bool { return f.Kind != String }

func (f FieldSpec) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

// Apply scales v by the field's scale factor.
func (f FieldSpec) Apply(v float64) float64 { return v * f.scale() }

func (f FieldSpec) source() string {
	if f.Expr != "" {
		return f.Expr
	}
	return f.Column
}
