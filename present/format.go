// Package present renders published packets as a text table.
package present

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"memsqltop/schema"
)

// Cell formats one value for display. Undefined values render blank.
func Cell(f schema.FieldSpec, v schema.Value) string {
	if v.IsNull() {
		return ""
	}
	if s, ok := v.Str(); ok {
		if f.Format == schema.FormatQuery {
			return CleanQuery(s)
		}
		return s
	}
	n, _ := v.Num()
	switch f.Format {
	case schema.FormatCount:
		return Count(n)
	case schema.FormatPercent:
		return Percent(n)
	case schema.FormatBytes:
		return Bytes(n)
	case schema.FormatTime:
		return Millis(n)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Count renders a rate or count with one decimal.
func Count(c float64) string { return fmt.Sprintf("%.1f", c) }

// Percent renders a fraction as a whole percentage, truncating.
func Percent(p float64) string { return fmt.Sprintf("%d%%", int64(p*100)) }

// Bytes renders a byte figure in binary units.
func Bytes(b float64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

var timeUnits = []struct {
	name  string
	scale float64
}{
	{"ms", 1000},
	{"s", 60},
	{"m", 60},
	{"h", 24},
}

// Millis renders a duration given in milliseconds in the largest unit
// below its next step, up to days.
func Millis(t float64) string {
	for _, u := range timeUnits {
		if t < u.scale {
			return fmt.Sprintf("%.1f %s", t, u.name)
		}
		t /= u.scale
	}
	return fmt.Sprintf("%.1f d", t)
}

// CleanQuery strips -- comments and folds the text onto one line. Block
// comments stay since they can carry version specific hints.
func CleanQuery(q string) string {
	lines := strings.Split(q, "\n")
	for i, l := range lines {
		if idx := strings.Index(l, "--"); idx >= 0 {
			lines[i] = l[:idx]
		}
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}
