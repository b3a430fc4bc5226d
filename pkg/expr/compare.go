package expr

import (
	"cmp"
	"fmt"
)

// Compare orders two table values. Missing values (nil and NaN) sort after
// everything else; numbers sort before strings; other types compare by
// their printed form.
func Compare(a, b any) int {
	av, bv := isValid(a), isValid(b)
	switch {
	case !av && !bv:
		return 0
	case !av:
		return 1
	case !bv:
		return -1
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(af, bf)
	case aNum:
		return -1
	case bNum:
		return 1
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	switch {
	case aStr && bStr:
		return cmp.Compare(as, bs)
	case aStr:
		return -1
	case bStr:
		return 1
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether two table values are equal for grouping and
// set operations. NaN equals NaN.
func Equal(a, b any) bool {
	return hashKey(a) == hashKey(b)
}
