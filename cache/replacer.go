package cache

// Replacer is a bounded key/value store with an eviction policy. Replacers
// are not synchronized; BlockCache serializes access.
type Replacer interface {
	Get(key string) interface{}
	Put(key string, value interface{})
	Remove(key string) bool
	Len() int
}

// entry is one cached block in a replacer's recency or frequency order.
type entry struct {
	key        string
	value      interface{}
	prev, next *entry
}

// entryList is a circular doubly linked list around a sentinel root.
type entryList struct {
	root entry
	n    int
}

func newEntryList() *entryList {
	l := &entryList{}
	l.root.prev = &l.root
	l.root.next = &l.root
	return l
}

func (l *entryList) insertAfter(at, e *entry) {
	e.prev = at
	e.next = at.next
	at.next.prev = e
	at.next = e
	l.n++
}

func (l *entryList) pushFront(e *entry) {
	l.insertAfter(&l.root, e)
}

func (l *entryList) pushBack(e *entry) {
	l.insertAfter(l.root.prev, e)
}

func (l *entryList) remove(e *entry) *entry {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	l.n--
	return e
}

func (l *entryList) moveToFront(e *entry) {
	l.remove(e)
	l.pushFront(e)
}

// back is the least recently (or frequently) used entry, nil when empty.
func (l *entryList) back() *entry {
	if l.n == 0 {
		return nil
	}
	return l.root.prev
}

func (l *entryList) popBack() *entry {
	if e := l.back(); e != nil {
		return l.remove(e)
	}
	return nil
}

func (l *entryList) len() int {
	return l.n
}
