package cache

type LRU struct {
	m        map[string]*entry
	list     *entryList
	capacity int
}

func NewLRUReplacer(capacity int) Replacer {
	return &LRU{
		m:        make(map[string]*entry),
		list:     newEntryList(),
		capacity: capacity,
	}
}

func (lru *LRU) Get(key string) interface{} {
	if node, ok := lru.m[key]; ok {
		lru.list.moveToFront(node)
		return node.value
	}
	return nil
}

func (lru *LRU) Put(key string, value interface{}) {
	if node, ok := lru.m[key]; ok {
		node.value = value
		lru.list.moveToFront(node)
		return
	}
	if len(lru.m) == lru.capacity {
		removed := lru.list.popBack()
		delete(lru.m, removed.key)
	}
	newNode := &entry{
		key:   key,
		value: value,
	}
	lru.list.pushFront(newNode)
	lru.m[key] = newNode
}

func (lru *LRU) Remove(key string) bool {
	node, ok := lru.m[key]
	if !ok {
		return false
	}
	lru.list.remove(node)
	delete(lru.m, key)
	return true
}

func (lru *LRU) Len() int {
	return len(lru.m)
}
