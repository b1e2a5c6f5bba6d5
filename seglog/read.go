package seglog

import (
	"context"

	"extlog/metrics"
	"extlog/segment"

	"github.com/pkg/errors"
)

type readOp struct {
	seg    segment.Segment
	offset int64
	dst    []byte
}

// Read fills buf from the log where it maps the requested bytes and from
// the base everywhere else. Sub-reads run concurrently and land directly in
// buf; if any fails the whole read fails.
func (s *Log) Read(ctx context.Context, iov []segment.Extent, buf []byte) error {
	if err := segment.CheckIO(iov, buf); err != nil {
		return err
	}

	s.lock.Lock()
	s.begin()
	var ops []readOp
	var pos int64
	for _, e := range iov {
		if e.Len > 0 {
			ops = s.planRead(ops, e, buf[pos:pos+e.Len])
		}
		pos += e.Len
	}
	s.lock.Unlock()

	q := s.m.NewQueue(ctx)
	for _, op := range ops {
		op := op
		q.Go(func(ctx context.Context) error {
			return op.seg.Read(ctx, segment.Extents(op.offset, int64(len(op.dst))), op.dst)
		})
	}
	err := q.Wait()

	s.lock.Lock()
	s.end(err)
	s.lock.Unlock()
	if err != nil {
		metrics.Failed(segment.TypeLog)
		return errors.Wrapf(err, "log %d: read", s.ID())
	}
	metrics.Read(segment.TypeLog, pos)
	return nil
}

// planRead splits one extent into data reads for the mapped parts and base
// reads for the holes between them. Called with lock held.
func (s *Log) planRead(ops []readOp, e segment.Extent, dst []byte) []readOp {
	lo, hi := e.Offset, e.End()-1
	next := lo
	for _, r := range s.overlapping(lo, hi) {
		start, end := max(r.Lo, lo), min(r.Hi, hi)
		if start > next {
			ops = append(ops, readOp{seg: s.base, offset: next, dst: dst[next-lo : start-lo]})
		}
		ops = append(ops, readOp{seg: s.data, offset: r.DataOffset + start - r.Lo, dst: dst[start-lo : end-lo+1]})
		next = end + 1
	}
	if next <= hi {
		ops = append(ops, readOp{seg: s.base, offset: next, dst: dst[next-lo:]})
	}
	return ops
}
