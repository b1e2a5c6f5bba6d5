package cache

// segmentedLRU is the main space of WinTinyLFU: new entries land in
// probation and move to protected on their second hit.
type segmentedLRU struct {
	protected    *entryList
	probation    *entryList
	protectedCap int
	probationCap int
}

type sNode struct {
	node   *entry
	status int
}

func newSLRU(capacity int) *segmentedLRU {
	probationCap := capacity / 5
	if probationCap < 1 {
		probationCap = 1
	}
	protectedCap := capacity - probationCap
	if protectedCap < 1 {
		protectedCap = 1
	}
	return &segmentedLRU{
		probation:    newEntryList(),
		protected:    newEntryList(),
		protectedCap: protectedCap,
		probationCap: probationCap,
	}
}

func (slru *segmentedLRU) full() bool {
	return slru.probation.len()+slru.protected.len() >= slru.probationCap+slru.protectedCap
}

// victim is the next entry to leave the main space.
func (slru *segmentedLRU) victim() *entry {
	if n := slru.probation.back(); n != nil {
		return n
	}
	return slru.protected.back()
}

func (slru *segmentedLRU) list(status int) *entryList {
	if status == PROTECTED {
		return slru.protected
	}
	return slru.probation
}
