package table

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/leapstack-labs/leapframe/pkg/query"
)

// normalizeValue maps a Go value to the table value domain.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return v
	case query.Object:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[k] = normalizeValue(item)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	default:
		n := query.Normalize(v)
		if _, ok := n.(float64); ok {
			return n
		}
		if list, ok := n.([]any); ok {
			return normalizeValue(list)
		}
		return v
	}
}

// jsonValue maps a table value to a JSON-encodable value. Non-finite
// numbers become null.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = jsonValue(item)
		}
		return out
	default:
		return v
	}
}

// keyString renders a value as a column name fragment.
func keyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(jsonValue(x))
		if err != nil {
			return ""
		}
		return string(data)
	}
}
