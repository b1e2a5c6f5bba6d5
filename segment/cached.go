package segment

import (
	"context"
	"fmt"
	"io"

	"extlog/cache"
	"extlog/metrics"

	"github.com/pkg/errors"
)

// Cached puts the manager's block cache in front of a child segment. Writes
// go through to the child.
type Cached struct {
	Header
	m     *Manager
	child Segment
	cache *cache.BlockCache
}

// NewCached takes over the caller's reference on child.
func NewCached(m *Manager, child Segment) *Cached {
	s := &Cached{m: m, child: child, cache: m.BlockCache()}
	s.Init(0)
	return s
}

func (s *Cached) Type() string {
	return TypeCache
}

func (s *Cached) Child() Segment {
	return s.child
}

func (s *Cached) Read(ctx context.Context, iov []Extent, buf []byte) error {
	if err := CheckIO(iov, buf); err != nil {
		return err
	}
	bs := s.cache.BlockSize()
	var pos int64
	for _, e := range iov {
		for off := e.Offset; off < e.End(); {
			blk := off / bs
			block, err := s.block(ctx, blk)
			if err != nil {
				metrics.Failed(TypeCache)
				return err
			}
			n := int64(copy(buf[pos:pos+e.End()-off], block[off-blk*bs:]))
			off += n
			pos += n
		}
	}
	metrics.Read(TypeCache, pos)
	return nil
}

func (s *Cached) block(ctx context.Context, blk int64) ([]byte, error) {
	if block := s.cache.Get(s.ID(), blk); block != nil {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return block, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	bs := s.cache.BlockSize()
	block := make([]byte, bs)
	epoch := s.cache.Epoch(s.ID())
	if err := s.child.Read(ctx, Extents(blk*bs, bs), block); err != nil {
		return nil, errors.Wrapf(err, "cache fill block %d", blk)
	}
	// a write since the epoch was taken may have changed the child
	s.cache.Fill(s.ID(), blk, block, epoch)
	return block, nil
}

func (s *Cached) invalidate(iov []Extent) {
	for _, e := range iov {
		s.cache.Invalidate(s.ID(), e.Offset, e.Len)
	}
}

func (s *Cached) Write(ctx context.Context, iov []Extent, buf []byte) error {
	s.invalidate(iov)
	err := s.child.Write(ctx, iov, buf)
	// fences fills that read the child while it was being written
	s.invalidate(iov)
	if err != nil {
		metrics.Failed(TypeCache)
		return err
	}
	metrics.Written(TypeCache, Total(iov))
	return nil
}

func (s *Cached) Truncate(ctx context.Context, size int64) error {
	if size < 0 {
		return nil
	}
	err := s.child.Truncate(ctx, size)
	s.cache.Drop(s.ID())
	return err
}

func (s *Cached) Size() int64 {
	return s.child.Size()
}

func (s *Cached) BlockSize() int64 {
	return s.child.BlockSize()
}

func (s *Cached) Clone(ctx context.Context, mode CloneMode) (Segment, error) {
	child, err := s.child.Clone(ctx, mode)
	if err != nil {
		return nil, err
	}
	clone := NewCached(s.m, child)
	clone.SetName(s.Name())
	return clone, nil
}

func (s *Cached) Flush(ctx context.Context) error {
	return s.child.Flush(ctx)
}

func (s *Cached) Remove(ctx context.Context) error {
	s.cache.Drop(s.ID())
	return s.child.Remove(ctx)
}

func (s *Cached) Inspect(ctx context.Context, w io.Writer) error {
	hits, misses := s.cache.Stats()
	if _, err := fmt.Fprintf(w, "cache segment %d name=%q block_size=%d hits=%d misses=%d refs=%d\n",
		s.ID(), s.Name(), s.cache.BlockSize(), hits, misses, s.RefCount()); err != nil {
		return err
	}
	return s.child.Inspect(ctx, w)
}

func (s *Cached) Signature(w io.Writer) {
	fmt.Fprint(w, "cache()\n")
	s.child.Signature(w)
}

func (s *Cached) Serialize(ex *Exchange) error {
	st, ok := ex.AddSegment(s.ID(), TypeCache)
	if !ok {
		return nil
	}
	st.SetInt64("ref_count", int64(s.RefCount()))
	st.SetName(s.Name())
	st.SetUint64("child", s.child.ID())
	return s.child.Serialize(ex)
}

func (s *Cached) DecrRef() error {
	if !s.Release() {
		return nil
	}
	s.cache.Forget(s.ID())
	return s.child.DecrRef()
}

func loadCache(ls *LoadSession, id uint64, st *Stanza) (Segment, error) {
	child, err := ls.LoadChild(st, "child")
	if err != nil {
		return nil, err
	}
	s := &Cached{m: ls.Manager, child: child, cache: ls.Manager.BlockCache()}
	s.Init(id)
	s.SetName(st.Name())
	return s, nil
}
