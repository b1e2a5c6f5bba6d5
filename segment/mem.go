package segment

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"extlog/metrics"

	"github.com/pkg/errors"
)

// Mem is a segment held in memory. Reads past the end return zeros.
type Mem struct {
	Header
	m    *Manager
	lock sync.RWMutex
	data []byte
}

func NewMem(m *Manager) *Mem {
	s := &Mem{m: m}
	s.Init(0)
	return s
}

// NewMemWith creates a segment holding a copy of data.
func NewMemWith(m *Manager, data []byte) *Mem {
	s := NewMem(m)
	s.data = append([]byte(nil), data...)
	return s
}

func (s *Mem) Type() string {
	return TypeMem
}

// Bytes returns a copy of the contents.
func (s *Mem) Bytes() []byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]byte(nil), s.data...)
}

func (s *Mem) Read(ctx context.Context, iov []Extent, buf []byte) error {
	if err := CheckIO(iov, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	var pos int64
	for _, e := range iov {
		dst := buf[pos : pos+e.Len]
		n := 0
		if e.Offset < int64(len(s.data)) {
			n = copy(dst, s.data[e.Offset:])
		}
		clear(dst[n:])
		pos += e.Len
	}
	metrics.Read(TypeMem, pos)
	return nil
}

func (s *Mem) Write(ctx context.Context, iov []Extent, buf []byte) error {
	if err := CheckIO(iov, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	var pos int64
	for _, e := range iov {
		if e.Len == 0 {
			continue
		}
		if end := e.End(); end > int64(len(s.data)) {
			s.resize(end)
		}
		copy(s.data[e.Offset:e.End()], buf[pos:pos+e.Len])
		pos += e.Len
	}
	metrics.Written(TypeMem, pos)
	return nil
}

func (s *Mem) resize(size int64) {
	if size <= int64(cap(s.data)) {
		old := len(s.data)
		s.data = s.data[:size]
		if int(size) > old {
			clear(s.data[old:])
		}
		return
	}
	grown := make([]byte, size, size+size/4)
	copy(grown, s.data)
	s.data = grown
}

func (s *Mem) Truncate(ctx context.Context, size int64) error {
	if size < 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.resize(size)
	return nil
}

func (s *Mem) Size() int64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return int64(len(s.data))
}

func (s *Mem) BlockSize() int64 {
	return 1
}

func (s *Mem) Clone(ctx context.Context, mode CloneMode) (Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clone := NewMem(s.m)
	clone.SetName(s.Name())
	if mode == CloneStructAndData {
		clone.data = s.Bytes()
	}
	return clone, nil
}

func (s *Mem) Flush(ctx context.Context) error {
	return nil
}

func (s *Mem) Remove(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.data = nil
	return nil
}

func (s *Mem) Inspect(ctx context.Context, w io.Writer) error {
	_, err := fmt.Fprintf(w, "mem segment %d name=%q size=%d refs=%d\n", s.ID(), s.Name(), s.Size(), s.RefCount())
	return err
}

func (s *Mem) Signature(w io.Writer) {
	fmt.Fprint(w, "mem()\n")
}

// Serialize stores the contents inline, base64 encoded.
func (s *Mem) Serialize(ex *Exchange) error {
	st, ok := ex.AddSegment(s.ID(), TypeMem)
	if !ok {
		return nil
	}
	st.SetInt64("ref_count", int64(s.RefCount()))
	st.SetName(s.Name())
	st.Set("data", base64.StdEncoding.EncodeToString(s.Bytes()))
	return nil
}

func (s *Mem) DecrRef() error {
	if s.Release() {
		s.lock.Lock()
		s.data = nil
		s.lock.Unlock()
	}
	return nil
}

func loadMem(ls *LoadSession, id uint64, st *Stanza) (Segment, error) {
	s := &Mem{m: ls.Manager}
	s.Init(id)
	s.SetName(st.Name())
	if v, ok := st.Get("data"); ok {
		data, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s] data", st.Section)
		}
		s.data = data
	}
	return s, nil
}
