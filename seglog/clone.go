package seglog

import (
	"context"

	"extlog/metrics"
	"extlog/segment"
	"extlog/utils"

	"github.com/pkg/errors"
)

// Copy strategies of a structure+data clone.
const (
	StrategyFlat        = "flat"
	StrategyIncremental = "incremental"
)

// change is a piece of logical file held by the data segment of some log in
// the stack.
type change struct {
	data   segment.Segment
	offset int64
	lo     int64
	n      int64
}

// changes collects what the stack of logs holds over [lo, hi], descending
// into the base for the holes when it is a log too. The pieces are
// disjoint. It returns them with their total size.
func (s *Log) changes(lo, hi int64) ([]change, int64) {
	s.lock.Lock()
	ranges := s.overlapping(lo, hi)
	pieces := make([]change, 0, len(ranges))
	for _, r := range ranges {
		start, end := max(r.Lo, lo), min(r.Hi, hi)
		pieces = append(pieces, change{data: s.data, offset: r.DataOffset + start - r.Lo, lo: start, n: end - start + 1})
	}
	below, _ := s.base.(*Log)
	s.lock.Unlock()

	var res []change
	var total int64
	hole := func(lo, hi int64) {
		if below == nil || lo > hi {
			return
		}
		sub, n := below.changes(lo, hi)
		res = append(res, sub...)
		total += n
	}
	next := lo
	for _, p := range pieces {
		hole(next, p.lo-1)
		res = append(res, p)
		total += p.n
		next = p.lo + p.n
	}
	hole(next, hi)
	return res, total
}

// Clone returns a new log over a clone of the root base (the first segment
// below the stack of logs that is not a log). A structure clone is empty.
// A structure+data clone picks the cheaper of two copies: the whole
// logical file through a fresh log, or the root base's own clone plus only
// the bytes the logs changed.
func (s *Log) Clone(ctx context.Context, mode segment.CloneMode) (segment.Segment, error) {
	var cloned []segment.Segment
	release := func() {
		for _, c := range cloned {
			c.Remove(context.Background())
			c.DecrRef()
		}
	}
	clone := func(seg segment.Segment, mode segment.CloneMode) (segment.Segment, error) {
		c, err := seg.Clone(ctx, mode)
		if err != nil {
			return nil, err
		}
		cloned = append(cloned, c)
		return c, nil
	}

	table, err := clone(s.table, segment.CloneStructure)
	if err != nil {
		release()
		return nil, errors.Wrapf(err, "log %d: clone table", s.ID())
	}
	data, err := clone(s.data, segment.CloneStructure)
	if err != nil {
		release()
		return nil, errors.Wrapf(err, "log %d: clone data", s.ID())
	}
	root := findBase(s.Base())

	if mode == segment.CloneStructure {
		base, err := clone(root, segment.CloneStructure)
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "log %d: clone base", s.ID())
		}
		dst := Make(s.m, table, data, base)
		dst.SetName(s.Name())
		return dst, nil
	}

	size := s.Size()
	var (
		changes  []change
		logBytes int64
	)
	if size > 0 {
		changes, logBytes = s.changes(0, size-1)
	}
	baseBytes := root.Size()
	opt := s.m.Options()
	cost := 2*logBytes + baseBytes/opt.CloneSpeedup
	flat := cost > size
	utils.Debugf("log %d: clone size=%d log_bytes=%d base_bytes=%d flat=%v", s.ID(), size, logBytes, baseBytes, flat)

	baseMode := segment.CloneStructAndData
	if flat {
		baseMode = segment.CloneStructure
	}
	base, err := clone(root, baseMode)
	if err != nil {
		release()
		return nil, errors.Wrapf(err, "log %d: clone base", s.ID())
	}
	dst := Make(s.m, table, data, base)
	dst.SetName(s.Name())

	fail := func(err error, msg string) (segment.Segment, error) {
		dst.Remove(context.Background())
		dst.DecrRef()
		return nil, errors.Wrapf(err, "log %d: %s", s.ID(), msg)
	}

	if flat {
		if err := segment.Copy(ctx, s, dst, 0, 0, size, opt.CopyBufferSize); err != nil {
			return fail(err, "flat clone")
		}
		metrics.Clones.WithLabelValues(StrategyFlat).Inc()
		return dst, nil
	}

	jobs := make([]segment.CopyJob, len(changes))
	for i, c := range changes {
		jobs[i] = segment.CopyJob{Src: c.data, SrcOffset: c.offset, Dst: dst, DstOffset: c.lo, Len: c.n}
	}
	if err := segment.CopyPipelined(ctx, jobs, opt.CopyBufferSize, s.m.Width()); err != nil {
		return fail(err, "incremental clone")
	}
	if err := dst.Truncate(ctx, size); err != nil {
		return fail(err, "size clone")
	}
	metrics.Clones.WithLabelValues(StrategyIncremental).Inc()
	return dst, nil
}
