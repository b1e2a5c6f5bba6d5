package segment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"extlog/file"
	"extlog/metrics"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// File is a segment stored in one mmapped file. The file always has exactly
// the size of the segment; reads past the end return zeros.
type File struct {
	Header
	m *Manager

	// lock is held shared while copying through the mapping and exclusively
	// while the mapping moves.
	lock sync.RWMutex
	path string
	mf   *file.MmapFile
}

// NewFile creates an empty file segment in the manager's directory.
func NewFile(m *Manager) (*File, error) {
	if err := os.MkdirAll(m.Dir(), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create segment dir %s", m.Dir())
	}
	return OpenFile(m, 0, file.NewFileName(m.Dir()))
}

// OpenFile opens or creates the file segment stored at path.
func OpenFile(m *Manager, id uint64, path string) (*File, error) {
	mf, err := file.OpenMmapFile(path, os.O_CREATE|os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	s := &File{m: m, path: path, mf: mf}
	s.Init(id)
	return s, nil
}

func (s *File) Type() string {
	return TypeFile
}

func (s *File) Path() string {
	return s.path
}

func (s *File) Read(ctx context.Context, iov []Extent, buf []byte) error {
	if err := CheckIO(iov, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.mf == nil {
		return errors.Wrap(errs.ErrClosed, s.path)
	}
	var pos int64
	for _, e := range iov {
		dst := buf[pos : pos+e.Len]
		n := 0
		if e.Offset < s.mf.Size() {
			n = copy(dst, s.mf.Data[e.Offset:])
		}
		clear(dst[n:])
		pos += e.Len
	}
	metrics.Read(TypeFile, pos)
	return nil
}

func (s *File) Write(ctx context.Context, iov []Extent, buf []byte) error {
	if err := CheckIO(iov, buf); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var end int64
	for _, e := range iov {
		if e.Len > 0 && e.End() > end {
			end = e.End()
		}
	}

	s.lock.RLock()
	for s.mf != nil && end > s.mf.Size() {
		s.lock.RUnlock()
		if err := s.grow(end); err != nil {
			metrics.Failed(TypeFile)
			return err
		}
		s.lock.RLock()
	}
	defer s.lock.RUnlock()
	if s.mf == nil {
		return errors.Wrap(errs.ErrClosed, s.path)
	}

	var pos int64
	for _, e := range iov {
		if e.Len == 0 {
			continue
		}
		copy(s.mf.Data[e.Offset:e.End()], buf[pos:pos+e.Len])
		pos += e.Len
	}
	metrics.Written(TypeFile, pos)
	return nil
}

func (s *File) grow(size int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mf == nil {
		return errors.Wrap(errs.ErrClosed, s.path)
	}
	if size <= s.mf.Size() {
		return nil
	}
	return s.mf.Truncate(size)
}

func (s *File) Truncate(ctx context.Context, size int64) error {
	if size < 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mf == nil {
		return errors.Wrap(errs.ErrClosed, s.path)
	}
	return s.mf.Truncate(size)
}

func (s *File) Size() int64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.mf == nil {
		return 0
	}
	return s.mf.Size()
}

func (s *File) BlockSize() int64 {
	return 1
}

func (s *File) Clone(ctx context.Context, mode CloneMode) (Segment, error) {
	clone, err := NewFile(s.m)
	if err != nil {
		return nil, err
	}
	clone.SetName(s.Name())
	if mode == CloneStructure {
		return clone, nil
	}

	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.mf == nil {
		clone.DecrRef()
		return nil, errors.Wrap(errs.ErrClosed, s.path)
	}
	if n := s.mf.Size(); n > 0 {
		if err := clone.Write(ctx, Extents(0, n), s.mf.Data); err != nil {
			clone.Remove(ctx)
			clone.DecrRef()
			return nil, err
		}
	}
	return clone, nil
}

func (s *File) Flush(ctx context.Context) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.mf == nil {
		return nil
	}
	return s.mf.Sync()
}

func (s *File) Remove(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mf == nil {
		return os.RemoveAll(s.path)
	}
	err := s.mf.Delete()
	s.mf = nil
	return err
}

func (s *File) Inspect(ctx context.Context, w io.Writer) error {
	_, err := fmt.Fprintf(w, "file segment %d name=%q path=%s size=%d refs=%d\n", s.ID(), s.Name(), s.path, s.Size(), s.RefCount())
	return err
}

func (s *File) Signature(w io.Writer) {
	fmt.Fprint(w, "file()\n")
}

// Serialize records the path relative to the manager's directory when the
// file lives there.
func (s *File) Serialize(ex *Exchange) error {
	st, ok := ex.AddSegment(s.ID(), TypeFile)
	if !ok {
		return nil
	}
	st.SetInt64("ref_count", int64(s.RefCount()))
	st.SetName(s.Name())
	path := s.path
	if rel, err := filepath.Rel(s.m.Dir(), s.path); err == nil && filepath.Dir(rel) == "." {
		path = rel
	}
	st.Set("path", path)
	return nil
}

func (s *File) DecrRef() error {
	if !s.Release() {
		return nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mf == nil {
		return nil
	}
	err := s.mf.Close()
	s.mf = nil
	return err
}

func loadFile(ls *LoadSession, id uint64, st *Stanza) (Segment, error) {
	path, ok := st.Get("path")
	if !ok {
		return nil, errors.Errorf("[%s] missing path", st.Section)
	}
	if !file.IsSegmentFile(path) {
		return nil, errors.Errorf("[%s] %s is not a segment file", st.Section, path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(ls.Manager.Dir(), path)
	}
	s, err := OpenFile(ls.Manager, id, path)
	if err != nil {
		return nil, err
	}
	s.SetName(st.Name())
	return s, nil
}
