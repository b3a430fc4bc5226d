package expr

import (
	"fmt"
	"math"
)

// Frame is a sliding window frame relative to the current row. A nil bound
// is unbounded. With Peers set the frame is widened to whole peer groups.
type Frame struct {
	Lo, Hi *int
	Peers  bool
}

// DefaultFrame covers every row from the start of the group to the
// current row.
func DefaultFrame() *Frame {
	zero := 0
	return &Frame{Hi: &zero}
}

// Group is an ordered run of rows evaluated together.
type Group struct {
	// Rows holds the physical row indices in evaluation order.
	Rows []int
	// Peers assigns a peer id per position; rows with equal order keys
	// share an id. Nil means every row is its own peer.
	Peers []int
}

func (g Group) peer(i int) int {
	if g.Peers == nil {
		return i
	}
	return g.Peers[i]
}

// Range returns the inclusive frame bounds at position i of a group of n
// rows. An empty frame has hi < lo.
func (f *Frame) Range(g Group, i int) (lo, hi int) {
	n := len(g.Rows)
	lo, hi = 0, n-1
	if f.Lo != nil {
		lo = i + *f.Lo
	}
	if f.Hi != nil {
		hi = i + *f.Hi
	}
	lo = max(lo, 0)
	hi = min(hi, n-1)
	if f.Peers && lo <= hi {
		for lo > 0 && g.peer(lo-1) == g.peer(lo) {
			lo--
		}
		for hi < n-1 && g.peer(hi+1) == g.peer(hi) {
			hi++
		}
	}
	return lo, hi
}

// windowValues computes window function name at every position of g. args
// holds the per-position argument values.
func windowValues(name string, args [][]any, g Group, frame *Frame) ([]any, error) {
	n := len(g.Rows)
	out := make([]any, n)

	arg := func(k, i int, def any) any {
		if k < len(args) && args[k][i] != nil {
			return args[k][i]
		}
		return def
	}
	bounds := func(i int) (int, int) {
		if frame == nil {
			return 0, n - 1
		}
		return frame.Range(g, i)
	}

	// first position of each row's peer group and one past its end
	start := make([]int, n)
	end := make([]int, n)
	for i := 0; i < n; i++ {
		if i > 0 && g.peer(i) == g.peer(i-1) {
			start[i] = start[i-1]
		} else {
			start[i] = i
		}
	}
	for i := n - 1; i >= 0; i-- {
		if i < n-1 && g.peer(i) == g.peer(i+1) {
			end[i] = end[i+1]
		} else {
			end[i] = i + 1
		}
	}

	switch name {
	case "row_number":
		for i := range out {
			out[i] = float64(i + 1)
		}
	case "rank":
		for i := range out {
			out[i] = float64(start[i] + 1)
		}
	case "dense_rank":
		rank := 0
		for i := range out {
			if start[i] == i {
				rank++
			}
			out[i] = float64(rank)
		}
	case "percent_rank":
		for i := range out {
			if n > 1 {
				out[i] = float64(start[i]) / float64(n-1)
			} else {
				out[i] = 0.0
			}
		}
	case "cume_dist":
		for i := range out {
			out[i] = float64(end[i]) / float64(n)
		}
	case "ntile":
		for i := range out {
			k, ok := toFloat(arg(0, i, nil))
			if !ok || k < 1 {
				return nil, fmt.Errorf("op.ntile requires a positive bucket count")
			}
			out[i] = math.Floor(k*float64(i)/float64(n)) + 1
		}
	case "lag", "lead":
		dir := -1
		if name == "lead" {
			dir = 1
		}
		for i := range out {
			off, ok := toFloat(arg(1, i, 1.0))
			if !ok {
				return nil, fmt.Errorf("op.%s offset must be a number", name)
			}
			j := i + dir*int(off)
			if j >= 0 && j < n && len(args) > 0 {
				out[i] = args[0][j]
			} else {
				out[i] = arg(2, i, nil)
			}
		}
	case "first_value", "last_value":
		for i := range out {
			lo, hi := bounds(i)
			if lo > hi || len(args) == 0 {
				continue
			}
			if name == "first_value" {
				out[i] = args[0][lo]
			} else {
				out[i] = args[0][hi]
			}
		}
	case "nth_value":
		for i := range out {
			nth, ok := toFloat(arg(1, i, nil))
			if !ok || nth < 1 {
				return nil, fmt.Errorf("op.nth_value requires a positive index")
			}
			lo, hi := bounds(i)
			if j := lo + int(nth) - 1; j <= hi && len(args) > 0 {
				out[i] = args[0][j]
			}
		}
	default:
		return nil, fmt.Errorf("unknown window function: %s", name)
	}
	return out, nil
}
