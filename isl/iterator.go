package isl

import "extlog/utils"

const (
	phaseEdges = iota
	phaseNodes
	phaseDone
)

// Iterator walks every interval overlapping a query range exactly once:
// first the intervals crossing lo (found on the predecessor edges, top level
// down), then those starting at a node inside [lo, hi], point intervals
// before regular ones. The list must not be modified while it is in use.
type Iterator[K any, D comparable] struct {
	list    *IntervalSkipList[K, D]
	hi      K
	bounded bool

	ptr     []*utils.Node[K, *node[D]]
	phase   int
	level   int
	sn      *utils.Node[K, *node[D]]
	onStart bool

	cur []D
	idx int
}

// Search iterates the intervals overlapping [lo, hi].
func (l *IntervalSkipList[K, D]) Search(lo, hi K) *Iterator[K, D] {
	it := l.newIterator()
	it.hi, it.bounded = hi, true
	l.sl.FindKey(lo, it.ptr)
	it.advance()
	return it
}

// SearchFrom iterates the intervals overlapping [lo, +inf).
func (l *IntervalSkipList[K, D]) SearchFrom(lo K) *Iterator[K, D] {
	it := l.newIterator()
	l.sl.FindKey(lo, it.ptr)
	it.advance()
	return it
}

// SearchAll iterates every interval in order of its lower endpoint.
func (l *IntervalSkipList[K, D]) SearchAll() *Iterator[K, D] {
	it := l.newIterator()
	l.sl.FindFirst(it.ptr)
	it.advance()
	return it
}

// Count returns the number of intervals overlapping [lo, hi].
func (l *IntervalSkipList[K, D]) Count(lo, hi K) int {
	n := 0
	for it := l.Search(lo, hi); it.Valid(); it.Next() {
		n++
	}
	return n
}

func (l *IntervalSkipList[K, D]) newIterator() *Iterator[K, D] {
	return &Iterator[K, D]{
		list:  l,
		ptr:   make([]*utils.Node[K, *node[D]], l.sl.MaxLevel()),
		phase: phaseEdges,
		level: l.sl.MaxLevel() - 1,
	}
}

func (it *Iterator[K, D]) Valid() bool {
	return it.idx < len(it.cur)
}

func (it *Iterator[K, D]) Item() D {
	return it.cur[it.idx]
}

func (it *Iterator[K, D]) Next() {
	it.idx++
	it.advance()
}

func (it *Iterator[K, D]) advance() {
	for it.idx >= len(it.cur) {
		if !it.refill() {
			it.cur, it.idx = nil, 0
			return
		}
	}
}

// refill points cur at the next list to drain.
func (it *Iterator[K, D]) refill() bool {
	it.idx = 0
	it.cur = nil
	switch it.phase {
	case phaseEdges:
		head := it.list.sl.Head()
		for it.level >= 0 {
			level := it.level
			it.level--
			if p := it.ptr[level]; p != head {
				it.cur = p.Value.edge[level]
				return true
			}
		}
		it.phase = phaseNodes
		it.sn = it.ptr[0].Next(0)
		return true
	case phaseNodes:
		if it.sn == nil || (it.bounded && it.list.sl.Compare(it.sn.Key, it.hi) > 0) {
			it.phase = phaseDone
			return false
		}
		if !it.onStart {
			it.cur = it.sn.Value.point
			it.onStart = true
			return true
		}
		it.cur = it.sn.Value.start
		it.onStart = false
		it.sn = it.sn.Next(0)
		return true
	}
	return false
}
