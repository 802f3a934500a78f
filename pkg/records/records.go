// Package records defines the row representation shared by the storage,
// transformation, and analysis layers.
//
// A Record maps a column key to a scalar cell value. Values are restricted to
// what survives a JSON round trip through chunk storage: string, float64,
// bool, int/int64 (pre-storage only), or nil. Array-valued cells are stored as
// a delimited or JSON-bracket-encoded string, never as a native slice.
package records

import (
	"fmt"
	"strconv"
)

// Record is one row of a data source.
type Record map[string]any

// Clone returns a shallow copy of r. Cell values are scalars, so a shallow
// copy is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stringify renders a cell value the way the transformation and analysis
// layers compare it: nil becomes "", floats drop a trailing ".0" when they are
// integral (JSON decoding turns every number into float64), and everything
// else goes through fmt.Sprint.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
