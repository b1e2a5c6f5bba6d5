package cache

import (
	"github.com/dgryski/go-metro"
)

// TinyLFU keeps its list ordered by estimated frequency, most frequent first,
// and only admits a new key when it is at least as popular as the victim.
type TinyLFU struct {
	m         map[string]*entry
	sketch    *freqSketch
	list      *entryList
	capacity  int
	threshold int32
	w         int32
}

func NewTinyLFU(capacity int) *TinyLFU {
	return &TinyLFU{
		m:         make(map[string]*entry),
		sketch:    newFreqSketch(capacity),
		list:      newEntryList(),
		capacity:  capacity,
		threshold: int32(capacity) * 10,
	}
}

func (lfu *TinyLFU) Get(key string) interface{} {
	lfu.touch(key)
	if node, ok := lfu.m[key]; ok {
		lfu.reposition(node)
		return node.value
	}
	return nil
}

func (lfu *TinyLFU) Put(key string, value interface{}) {
	lfu.touch(key)
	if node, ok := lfu.m[key]; ok {
		node.value = value
		lfu.reposition(node)
		return
	}

	newNode := &entry{
		key:   key,
		value: value,
	}
	if len(lfu.m) == lfu.capacity {
		back := lfu.list.back()
		if !lfu.Allow(back, newNode) {
			return
		}
		lfu.list.remove(back)
		delete(lfu.m, back.key)
	}
	lfu.list.pushBack(newNode)
	lfu.reposition(newNode)
	lfu.m[key] = newNode
}

func (lfu *TinyLFU) Remove(key string) bool {
	node, ok := lfu.m[key]
	if !ok {
		return false
	}
	lfu.list.remove(node)
	delete(lfu.m, key)
	return true
}

func (lfu *TinyLFU) Len() int {
	return len(lfu.m)
}

// touch records an access and ages the sketch every threshold accesses.
func (lfu *TinyLFU) touch(key string) {
	lfu.w++
	if lfu.w >= lfu.threshold {
		lfu.sketch.age()
		lfu.w = 0
	}
	lfu.sketch.add(keyToHash(key))
}

// reposition moves node forward past every less frequent neighbour.
func (lfu *TinyLFU) reposition(node *entry) {
	nd := lfu.findNearer(node)
	if nd == node.prev {
		return
	}
	lfu.list.remove(node)
	lfu.list.insertAfter(nd, node)
}

func (lfu *TinyLFU) findNearer(node *entry) *entry {
	freq := lfu.sketch.estimate(keyToHash(node.key))
	nd := node.prev
	for nd != &lfu.list.root && freq >= lfu.sketch.estimate(keyToHash(nd.key)) {
		nd = nd.prev
	}
	return nd
}

// Allow reports whether node may replace evict.
func (lfu *TinyLFU) Allow(evict *entry, node *entry) bool {
	return lfu.sketch.estimate(keyToHash(evict.key)) <= lfu.sketch.estimate(keyToHash(node.key))
}

func keyToHash(key string) uint64 {
	return metro.Hash64Str(key, 0)
}
