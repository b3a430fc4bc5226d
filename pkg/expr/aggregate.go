package expr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Aggregate computes aggregate function name over n rows. args holds one
// value slice per call argument, each of length n.
func Aggregate(name string, n int, args [][]any) (any, error) {
	arg := func(i int) []any {
		if i < len(args) {
			return args[i]
		}
		return nil
	}

	switch name {
	case "count":
		if len(args) == 0 {
			return float64(n), nil
		}
		return float64(countValid(arg(0))), nil
	case "valid":
		return float64(countValid(arg(0))), nil
	case "invalid":
		return float64(len(arg(0)) - countValid(arg(0))), nil
	case "distinct":
		seen := make(map[any]struct{})
		for _, v := range arg(0) {
			seen[hashKey(v)] = struct{}{}
		}
		return float64(len(seen)), nil
	case "sum":
		total := 0.0
		for _, f := range numbers(arg(0)) {
			total += f
		}
		return total, nil
	case "product":
		total := 1.0
		for _, f := range numbers(arg(0)) {
			total *= f
		}
		return total, nil
	case "mean", "average":
		nums := numbers(arg(0))
		if len(nums) == 0 {
			return nil, nil
		}
		total := 0.0
		for _, f := range nums {
			total += f
		}
		return total / float64(len(nums)), nil
	case "median":
		return quantile(numbers(arg(0)), 0.5), nil
	case "quantile":
		ps := arg(1)
		if len(ps) == 0 {
			return nil, fmt.Errorf("op.quantile requires a probability argument")
		}
		p, ok := toFloat(ps[0])
		if !ok || p < 0 || p > 1 {
			return nil, fmt.Errorf("op.quantile probability must be a number in [0, 1], got %v", ps[0])
		}
		return quantile(numbers(arg(0)), p), nil
	case "mode":
		return mode(arg(0)), nil
	case "min":
		return extreme(arg(0), -1), nil
	case "max":
		return extreme(arg(0), 1), nil
	case "any":
		for _, v := range arg(0) {
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	case "variance":
		return variance(numbers(arg(0))), nil
	case "stdev":
		v := variance(numbers(arg(0)))
		if v == nil {
			return nil, nil
		}
		return math.Sqrt(v.(float64)), nil
	case "array_agg":
		out := make([]any, len(arg(0)))
		copy(out, arg(0))
		return out, nil
	}
	return nil, fmt.Errorf("unknown aggregate function: %s", name)
}

func countValid(vs []any) int {
	n := 0
	for _, v := range vs {
		if isValid(v) {
			n++
		}
	}
	return n
}

func isValid(v any) bool {
	if v == nil {
		return false
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return false
	}
	return true
}

// numbers returns the valid numeric values of vs.
func numbers(vs []any) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if f, ok := toFloat(v); ok && !math.IsNaN(f) {
			out = append(out, f)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// quantile interpolates linearly between closest ranks.
func quantile(nums []float64, p float64) any {
	if len(nums) == 0 {
		return nil
	}
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

func variance(nums []float64) any {
	if len(nums) < 2 {
		return nil
	}
	mean := 0.0
	for _, f := range nums {
		mean += f
	}
	mean /= float64(len(nums))
	ss := 0.0
	for _, f := range nums {
		ss += (f - mean) * (f - mean)
	}
	return ss / float64(len(nums)-1)
}

func mode(vs []any) any {
	counts := make(map[any]int)
	var best any
	bestCount := 0
	for _, v := range vs {
		if !isValid(v) {
			continue
		}
		k := hashKey(v)
		counts[k]++
		if counts[k] > bestCount {
			best, bestCount = v, counts[k]
		}
	}
	return best
}

func extreme(vs []any, dir int) any {
	var best any
	for _, v := range vs {
		if !isValid(v) {
			continue
		}
		if best == nil || Compare(v, best)*dir > 0 {
			best = v
		}
	}
	return best
}

// hashKey maps a value to a comparable map key.
func hashKey(v any) any {
	switch x := v.(type) {
	case []any, map[string]any:
		return fmt.Sprintf("%T:%v", x, x)
	case float64:
		if math.IsNaN(x) {
			return nanKey{}
		}
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case nil:
		return nil
	}
	if !reflect.TypeOf(v).Comparable() {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return v
}

type nanKey struct{}

// HashKey returns a comparable key for grouping and join matching.
func HashKey(v any) any { return hashKey(v) }
