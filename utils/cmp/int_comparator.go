package cmp

import "golang.org/x/exp/constraints"

// Comparator returns a negative number when a < b, zero when equal and a
// positive number otherwise.
type Comparator[K any] interface {
	Compare(a, b K) int
}

type OrderedComparator[K constraints.Ordered] struct{}

func (OrderedComparator[K]) Compare(a, b K) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

// Int64Comparator orders byte offsets inside a segment.
type Int64Comparator = OrderedComparator[int64]
