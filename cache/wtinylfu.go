package cache

const (
	WINDOW = iota
	PROBATION
	PROTECTED
)

// WinTinyLFU fronts a segmented LRU with a small LRU window. Entries evicted
// from the window only enter the main space when the sketch rates them above
// the main space's victim.
type WinTinyLFU struct {
	data      map[string]*sNode
	winLRU    *entryList
	slru      *segmentedLRU
	sketch    *freqSketch
	winCap    int
	w         int
	threshold int
}

func NewWinTinyLFU(capacity int) *WinTinyLFU {
	winCap := capacity / 100
	if winCap < 1 {
		winCap = 1
	}
	slruCap := capacity - winCap
	if slruCap < 1 {
		slruCap = 1
	}
	return &WinTinyLFU{
		data:      make(map[string]*sNode),
		winLRU:    newEntryList(),
		slru:      newSLRU(slruCap),
		sketch:    newFreqSketch(capacity),
		winCap:    winCap,
		threshold: capacity * 10,
	}
}

func (w *WinTinyLFU) Get(key string) interface{} {
	w.touch(key)
	sn, ok := w.data[key]
	if !ok {
		return nil
	}
	w.access(sn)
	return sn.node.value
}

func (w *WinTinyLFU) Put(key string, value interface{}) {
	w.touch(key)
	if sn, ok := w.data[key]; ok {
		sn.node.value = value
		w.access(sn)
		return
	}
	sn := &sNode{node: &entry{key: key, value: value}, status: WINDOW}
	w.winLRU.pushFront(sn.node)
	w.data[key] = sn
	if w.winLRU.len() > w.winCap {
		w.admit(w.data[w.winLRU.popBack().key])
	}
}

func (w *WinTinyLFU) Remove(key string) bool {
	sn, ok := w.data[key]
	if !ok {
		return false
	}
	if sn.status == WINDOW {
		w.winLRU.remove(sn.node)
	} else {
		w.slru.list(sn.status).remove(sn.node)
	}
	delete(w.data, key)
	return true
}

func (w *WinTinyLFU) Len() int {
	return len(w.data)
}

func (w *WinTinyLFU) touch(key string) {
	w.w++
	if w.w >= w.threshold {
		w.sketch.age()
		w.w = 0
	}
	w.sketch.add(keyToHash(key))
}

func (w *WinTinyLFU) access(sn *sNode) {
	switch sn.status {
	case WINDOW:
		w.winLRU.moveToFront(sn.node)
	case PROBATION:
		w.slru.probation.remove(sn.node)
		w.slru.protected.pushFront(sn.node)
		sn.status = PROTECTED
		if w.slru.protected.len() > w.slru.protectedCap {
			demoted := w.slru.protected.popBack()
			w.slru.probation.pushFront(demoted)
			w.data[demoted.key].status = PROBATION
		}
	case PROTECTED:
		w.slru.protected.moveToFront(sn.node)
	}
}

// admit moves a node evicted from the window into probation, or drops it.
func (w *WinTinyLFU) admit(candidate *sNode) {
	if w.slru.full() {
		victim := w.slru.victim()
		if !w.win(candidate.node, victim) {
			delete(w.data, candidate.node.key)
			return
		}
		w.slru.list(w.data[victim.key].status).remove(victim)
		delete(w.data, victim.key)
	}
	candidate.status = PROBATION
	w.slru.probation.pushFront(candidate.node)
}

func (w *WinTinyLFU) win(candidate, victim *entry) bool {
	return w.sketch.estimate(keyToHash(candidate.key)) > w.sketch.estimate(keyToHash(victim.key))
}
