package utils

import (
	"fmt"

	"extlog/utils/cmp"
)

// Node is a skip list entry. A node of level L is linked on levels 0..L.
type Node[K any, V any] struct {
	Key   K
	Value V
	dups  []V
	next  []*Node[K, V]
}

// Level returns the highest level the node is linked on.
func (n *Node[K, V]) Level() int {
	return len(n.next) - 1
}

func (n *Node[K, V]) Next(level int) *Node[K, V] {
	return n.next[level]
}

// Dups returns the values chained after Value when duplicates are allowed.
func (n *Node[K, V]) Dups() []V {
	return n.dups
}

// SkipList is an ordered map. It is not safe for concurrent use: callers
// serialize access with their own lock.
type SkipList[K any, V any] struct {
	head      *Node[K, V]
	level     int
	maxLevel  int
	p         float64
	allowDups bool
	cmp       cmp.Comparator[K]
	length    int
}

func NewSkipList[K any, V any](comparator cmp.Comparator[K]) *SkipList[K, V] {
	return NewSkipListWithOptions[K, V](comparator, MaxLevel, LevelProbability, false)
}

func NewSkipListWithOptions[K any, V any](comparator cmp.Comparator[K], maxLevel int, p float64, allowDups bool) *SkipList[K, V] {
	AssertTruef(maxLevel > 0, "skip list max level %d", maxLevel)
	return &SkipList[K, V]{
		head:      &Node[K, V]{next: make([]*Node[K, V], maxLevel)},
		maxLevel:  maxLevel,
		p:         p,
		allowDups: allowDups,
		cmp:       comparator,
	}
}

// Head is the sentinel node. It carries no key.
func (list *SkipList[K, V]) Head() *Node[K, V] {
	return list.head
}

func (list *SkipList[K, V]) MaxLevel() int {
	return list.maxLevel
}

// Level returns the highest level currently in use.
func (list *SkipList[K, V]) Level() int {
	return list.level
}

func (list *SkipList[K, V]) Len() int {
	return list.length
}

func (list *SkipList[K, V]) Compare(a, b K) int {
	return list.cmp.Compare(a, b)
}

// FindKey fills ptr[i] with the last node on level i whose key is strictly
// less than key, or the head. ptr must hold MaxLevel entries. The result is
// the comparison of ptr[0].Next(0) with key: 0 means an exact match, and a
// missing successor compares greater.
func (list *SkipList[K, V]) FindKey(key K, ptr []*Node[K, V]) int {
	x := list.head
	for i := list.maxLevel - 1; i >= 0; i-- {
		for next := x.next[i]; next != nil && list.cmp.Compare(next.Key, key) < 0; next = x.next[i] {
			x = next
		}
		ptr[i] = x
	}
	if next := ptr[0].next[0]; next != nil {
		return list.cmp.Compare(next.Key, key)
	}
	return 1
}

// FindFirst points every level of ptr at the head.
func (list *SkipList[K, V]) FindFirst(ptr []*Node[K, V]) {
	for i := range ptr {
		ptr[i] = list.head
	}
}

// InsertAt links a new node right after the predecessors found by FindKey.
// ptr must not have been invalidated by another mutation in between.
func (list *SkipList[K, V]) InsertAt(ptr []*Node[K, V], key K, value V) *Node[K, V] {
	level := RandomLevel(list.maxLevel, list.p)
	node := &Node[K, V]{Key: key, Value: value, next: make([]*Node[K, V], level+1)}
	for i := 0; i <= level; i++ {
		node.next[i] = ptr[i].next[i]
		ptr[i].next[i] = node
	}
	if level > list.level {
		list.level = level
	}
	list.length++
	return node
}

// Insert adds key. An existing key has its value replaced, or the value
// chained as a duplicate when the list allows duplicates.
func (list *SkipList[K, V]) Insert(key K, value V) *Node[K, V] {
	ptr := make([]*Node[K, V], list.maxLevel)
	if list.FindKey(key, ptr) == 0 {
		node := ptr[0].next[0]
		if list.allowDups {
			node.dups = append(node.dups, value)
		} else {
			node.Value = value
		}
		return node
	}
	return list.InsertAt(ptr, key, value)
}

func (list *SkipList[K, V]) Search(key K) *Node[K, V] {
	ptr := make([]*Node[K, V], list.maxLevel)
	if list.FindKey(key, ptr) == 0 {
		return ptr[0].next[0]
	}
	return nil
}

// Remove unlinks the node holding key together with its duplicates.
func (list *SkipList[K, V]) Remove(key K) bool {
	ptr := make([]*Node[K, V], list.maxLevel)
	if list.FindKey(key, ptr) != 0 {
		return false
	}
	node := ptr[0].next[0]
	for i := 0; i <= node.Level(); i++ {
		ptr[i].next[i] = node.next[i]
		node.next[i] = nil
	}
	for list.level > 0 && list.head.next[list.level] == nil {
		list.level--
	}
	list.length--
	return true
}

func (list *SkipList[K, V]) First() *Node[K, V] {
	return list.head.next[0]
}

func (list *SkipList[K, V]) Last() *Node[K, V] {
	x := list.head
	for i := list.level; i >= 0; i-- {
		for x.next[i] != nil {
			x = x.next[i]
		}
	}
	if x == list.head {
		return nil
	}
	return x
}

func (list *SkipList[K, V]) Clear() {
	for i := range list.head.next {
		list.head.next[i] = nil
	}
	list.level = 0
	list.length = 0
}

func (list *SkipList[K, V]) PrintSkipList() {
	for i := list.level; i >= 0; i-- {
		for next := list.head.next[i]; next != nil; next = next.next[i] {
			fmt.Printf("(%v, %v) -> ", next.Key, next.Value)
		}
		fmt.Println()
	}
}

type SkipListIterator[K any, V any] struct {
	list *SkipList[K, V]
	n    *Node[K, V]
}

func (list *SkipList[K, V]) NewIterator() *SkipListIterator[K, V] {
	it := &SkipListIterator[K, V]{list: list}
	it.Rewind()
	return it
}

func (it *SkipListIterator[K, V]) Rewind() {
	it.n = it.list.head.next[0]
}

func (it *SkipListIterator[K, V]) Valid() bool {
	return it.n != nil
}

func (it *SkipListIterator[K, V]) Next() {
	it.n = it.n.next[0]
}

func (it *SkipListIterator[K, V]) Item() *Node[K, V] {
	return it.n
}

// Seek moves to the first node whose key is greater than or equal to key.
func (it *SkipListIterator[K, V]) Seek(key K) {
	ptr := make([]*Node[K, V], it.list.maxLevel)
	it.list.FindKey(key, ptr)
	it.n = ptr[0].next[0]
}

func (it *SkipListIterator[K, V]) Close() error {
	it.n = nil
	return nil
}
