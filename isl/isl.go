// Package isl implements an Interval Skip List: a skip list of interval
// endpoints whose forward edges are tagged with the intervals they lie
// inside, answering "which intervals overlap [lo, hi]" without a scan.
//
// Every interval [lo, hi] with lo < hi is recorded once in the start list of
// the node at lo, counted at the node at hi, and tagged on a chain of edges
// covering (lo, hi]. Point intervals live in the point list of their node.
package isl

import (
	"extlog/utils"
	"extlog/utils/cmp"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

type node[D comparable] struct {
	point []D
	start []D
	edge  [][]D
	nEnd  int
}

func (n *node[D]) empty() bool {
	if len(n.point) > 0 || len(n.start) > 0 || n.nEnd > 0 {
		return false
	}
	for _, e := range n.edge {
		if len(e) > 0 {
			return false
		}
	}
	return true
}

// IntervalSkipList maps closed intervals over K to payloads D. D is compared
// by identity, so pointer payloads are the usual choice. It is not safe for
// concurrent use.
type IntervalSkipList[K any, D comparable] struct {
	sl *utils.SkipList[K, *node[D]]
	n  int
}

func New[K any, D comparable](comparator cmp.Comparator[K]) *IntervalSkipList[K, D] {
	return &IntervalSkipList[K, D]{
		sl: utils.NewSkipListWithOptions[K, *node[D]](comparator, utils.MaxLevel, utils.LevelProbability, false),
	}
}

// Len returns the number of intervals stored.
func (l *IntervalSkipList[K, D]) Len() int {
	return l.n
}

// Nodes returns the number of endpoint nodes in the list.
func (l *IntervalSkipList[K, D]) Nodes() int {
	return l.sl.Len()
}

func (l *IntervalSkipList[K, D]) Clear() {
	l.sl.Clear()
	l.n = 0
}

// FirstKey returns the smallest endpoint.
func (l *IntervalSkipList[K, D]) FirstKey() (K, bool) {
	if first := l.sl.First(); first != nil {
		return first.Key, true
	}
	var zero K
	return zero, false
}

// LastKey returns the largest endpoint.
func (l *IntervalSkipList[K, D]) LastKey() (K, bool) {
	if last := l.sl.Last(); last != nil {
		return last.Key, true
	}
	var zero K
	return zero, false
}

func (l *IntervalSkipList[K, D]) Insert(lo, hi K, data D) error {
	c := l.sl.Compare(lo, hi)
	if c > 0 {
		return errors.Wrapf(errs.ErrInvalidInterval, "insert [%v, %v]", lo, hi)
	}
	if c == 0 {
		sn := l.ensure(lo)
		sn.Value.point = append(sn.Value.point, data)
		l.n++
		return nil
	}

	hiNode := l.ensure(hi)
	loNode := l.ensure(lo)
	loNode.Value.start = append(loNode.Value.start, data)
	hiNode.Value.nEnd++

	// greedy walk: the highest edge that does not pass hi
	for sn := loNode; sn != hiNode; {
		i := sn.Level()
		for i > 0 && (sn.Next(i) == nil || l.sl.Compare(sn.Next(i).Key, hi) > 0) {
			i--
		}
		sn.Value.edge[i] = append(sn.Value.edge[i], data)
		sn = sn.Next(i)
	}
	l.n++
	return nil
}

// ensure returns the node at key, creating it if needed. A new node splits
// the edges of its predecessors, so it inherits their tags level by level.
func (l *IntervalSkipList[K, D]) ensure(key K) *utils.Node[K, *node[D]] {
	ptr := make([]*utils.Node[K, *node[D]], l.sl.MaxLevel())
	if l.sl.FindKey(key, ptr) == 0 {
		return ptr[0].Next(0)
	}
	in := &node[D]{}
	sn := l.sl.InsertAt(ptr, key, in)
	in.edge = make([][]D, sn.Level()+1)
	head := l.sl.Head()
	for i := 0; i <= sn.Level(); i++ {
		if ptr[i] == head {
			continue
		}
		if tags := ptr[i].Value.edge[i]; len(tags) > 0 {
			in.edge[i] = append([]D(nil), tags...)
		}
	}
	return sn
}

// Remove deletes data registered as [lo, hi]. It returns errs.ErrNotFound,
// leaving the list untouched, when data does not start at lo.
func (l *IntervalSkipList[K, D]) Remove(lo, hi K, data D) error {
	c := l.sl.Compare(lo, hi)
	if c > 0 {
		return errors.Wrapf(errs.ErrInvalidInterval, "remove [%v, %v]", lo, hi)
	}
	ptr := make([]*utils.Node[K, *node[D]], l.sl.MaxLevel())
	if l.sl.FindKey(lo, ptr) != 0 {
		return errors.Wrapf(errs.ErrNotFound, "no endpoint at %v", lo)
	}
	loNode := ptr[0].Next(0)

	if c == 0 {
		if !removeItem(&loNode.Value.point, data) {
			return errors.Wrapf(errs.ErrNotFound, "point interval at %v", lo)
		}
		l.n--
		l.collect(loNode)
		return nil
	}

	if indexOf(loNode.Value.start, data) < 0 {
		return errors.Wrapf(errs.ErrNotFound, "interval [%v, %v]", lo, hi)
	}
	hiNode := l.sl.Search(hi)
	if hiNode == nil || hiNode.Value.nEnd == 0 {
		return errors.Wrapf(errs.ErrCorruptIndex, "interval [%v, %v] has no end node", lo, hi)
	}

	removeItem(&loNode.Value.start, data)
	// Tags may have been copied onto any node split inside the interval, so
	// every level of every node in [lo, hi) is cleaned.
	visited := make([]*utils.Node[K, *node[D]], 0, 4)
	for sn := loNode; sn != hiNode; sn = sn.Next(0) {
		for i := range sn.Value.edge {
			removeItem(&sn.Value.edge[i], data)
		}
		visited = append(visited, sn)
	}
	hiNode.Value.nEnd--
	visited = append(visited, hiNode)
	l.n--

	for _, sn := range visited {
		l.collect(sn)
	}
	return nil
}

// collect unlinks a node that no longer carries anything.
func (l *IntervalSkipList[K, D]) collect(sn *utils.Node[K, *node[D]]) {
	if sn.Value.empty() {
		l.sl.Remove(sn.Key)
	}
}

func indexOf[D comparable](list []D, data D) int {
	for i, d := range list {
		if d == data {
			return i
		}
	}
	return -1
}

func removeItem[D comparable](list *[]D, data D) bool {
	i := indexOf(*list, data)
	if i < 0 {
		return false
	}
	s := *list
	copy(s[i:], s[i+1:])
	var zero D
	s[len(s)-1] = zero
	*list = s[:len(s)-1]
	return true
}
