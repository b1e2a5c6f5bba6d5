package segment

import (
	"context"
	"sync"

	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// LoadSession rebuilds segments from one exchange. A segment referenced
// twice is loaded once and shared, with one reference per user.
type LoadSession struct {
	Ctx     context.Context
	Manager *Manager
	Ex      *Exchange

	lock   sync.Mutex
	loaded map[uint64]Segment
}

func NewLoadSession(ctx context.Context, m *Manager, ex *Exchange) *LoadSession {
	return &LoadSession{
		Ctx:     ctx,
		Manager: m,
		Ex:      ex,
		loaded:  make(map[uint64]Segment),
	}
}

// Load returns segment id with a reference owned by the caller.
func (s *LoadSession) Load(id uint64) (Segment, error) {
	s.lock.Lock()
	if seg, ok := s.loaded[id]; ok {
		seg.IncrRef()
		s.lock.Unlock()
		return seg, nil
	}
	s.lock.Unlock()

	st, ok := s.Ex.Segment(id)
	if !ok {
		return nil, errors.Wrapf(errs.ErrMissingSegment, "segment %d", id)
	}
	typ, _ := st.Get("type")
	loader, err := s.Manager.loader(typ)
	if err != nil {
		return nil, errors.Wrapf(err, "segment %d", id)
	}
	seg, err := loader(s, id, st)
	if err != nil {
		return nil, errors.Wrapf(err, "load segment %d (%s)", id, typ)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if prev, ok := s.loaded[id]; ok {
		// lost a race with a concurrent load of the same id
		seg.DecrRef()
		prev.IncrRef()
		return prev, nil
	}
	s.loaded[id] = seg
	return seg, nil
}

// LoadChild loads the segment whose id is stored under key.
func (s *LoadSession) LoadChild(st *Stanza, key string) (Segment, error) {
	id, err := st.Uint64(key)
	if err != nil {
		return nil, err
	}
	return s.Load(id)
}

// Loaded returns every segment this session created.
func (s *LoadSession) Loaded() []Segment {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]Segment, 0, len(s.loaded))
	for _, id := range s.Ex.segmentIDs() {
		if seg, ok := s.loaded[id]; ok {
			res = append(res, seg)
		}
	}
	return res
}
