package seglog

import (
	"context"

	"extlog/metrics"
	"extlog/segment"
	"extlog/utils"

	"github.com/pkg/errors"
)

// MergeWithBase copies every mapped range into the base using buffers of
// bufsize bytes. With truncateOldLog the log is emptied afterwards: writers
// are held off for the whole merge, the table and data are truncated to
// zero and the base is resized to the logical size so a reload sees the
// same file. If emptying fails after the copy, the log stops taking writes
// until a truncating merge succeeds.
func (s *Log) MergeWithBase(ctx context.Context, bufsize int64, truncateOldLog bool) error {
	if bufsize <= 0 {
		bufsize = s.m.Options().CopyBufferSize
	}

	s.lock.Lock()
	if truncateOldLog {
		s.fence()
	}
	// the data of a half merged log is already in the base
	var jobs []segment.CopyJob
	var total int64
	if s.halfMerged == nil {
		ranges := s.overlapping(0, max(s.fileSize-1, 0))
		jobs = make([]segment.CopyJob, len(ranges))
		for i, r := range ranges {
			jobs[i] = segment.CopyJob{Src: s.data, SrcOffset: r.DataOffset, Dst: s.base, DstOffset: r.Lo, Len: r.Len()}
			total += r.Len()
		}
	}
	size, base := s.fileSize, s.base
	s.lock.Unlock()

	err := segment.CopyPipelined(ctx, jobs, bufsize, s.m.Width())
	var truncErr error
	if err == nil && truncateOldLog {
		truncErr = s.empty(ctx, size, base)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if truncateOldLog {
		if err == nil {
			s.mapping.Clear()
			s.logSize, s.dataSize = 0, 0
			s.fileSize = size
			s.halfMerged = truncErr
			err = truncErr
		}
		s.unfence()
	}
	if err != nil {
		s.fail(err)
		metrics.Failed(segment.TypeLog)
		return errors.Wrapf(err, "log %d: merge", s.ID())
	}
	metrics.Merges.Inc()
	metrics.MergedBytes.Add(float64(total))
	utils.Debugf("log %d: merged %d ranges, %d bytes, truncate=%v", s.ID(), len(jobs), total, truncateOldLog)
	return nil
}

// empty truncates the table and data and sizes the base to the file.
func (s *Log) empty(ctx context.Context, size int64, base segment.Segment) error {
	q := s.m.NewQueue(ctx)
	q.Go(func(ctx context.Context) error {
		return errors.Wrap(s.table.Truncate(ctx, 0), "truncate table")
	})
	q.Go(func(ctx context.Context) error {
		return errors.Wrap(s.data.Truncate(ctx, 0), "truncate data")
	})
	if base.Size() != size {
		q.Go(func(ctx context.Context) error {
			return errors.Wrap(base.Truncate(ctx, size), "resize base")
		})
	}
	return q.Wait()
}
