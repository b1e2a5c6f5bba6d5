package segment

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// CopyJob moves Len bytes from Src at SrcOffset to Dst at DstOffset.
type CopyJob struct {
	Src       Segment
	SrcOffset int64
	Dst       Segment
	DstOffset int64
	Len       int64
}

type copyBatch struct {
	buf  []byte
	jobs []CopyJob
}

// Copy copies n bytes of src starting at srcOff to dst at dstOff.
func Copy(ctx context.Context, src, dst Segment, srcOff, dstOff, n, bufsize int64) error {
	return CopyPipelined(ctx, []CopyJob{{Src: src, SrcOffset: srcOff, Dst: dst, DstOffset: dstOff, Len: n}}, bufsize, 0)
}

// CopyPipelined runs jobs through two buffers of bufsize bytes: while one
// batch is written out the next one is read in. Jobs larger than a buffer
// are split. Within a batch up to width reads (or writes) run at once; zero
// means no limit.
func CopyPipelined(ctx context.Context, jobs []CopyJob, bufsize int64, width int) error {
	if bufsize <= 0 {
		return errors.Errorf("copy buffer size %d", bufsize)
	}
	batches, total := planCopy(jobs, bufsize)
	if len(batches) == 0 {
		return nil
	}
	if total < bufsize {
		bufsize = total
	}

	g, gctx := errgroup.WithContext(ctx)
	free := make(chan []byte, 2)
	full := make(chan copyBatch, 1)
	free <- make([]byte, bufsize)
	if len(batches) > 1 {
		free <- make([]byte, bufsize)
	}

	g.Go(func() error {
		defer close(full)
		for _, batch := range batches {
			var buf []byte
			select {
			case buf = <-free:
			case <-gctx.Done():
				return gctx.Err()
			}
			q := NewQueue(gctx, width)
			var pos int64
			for _, job := range batch {
				job, dst := job, buf[pos:pos+job.Len]
				q.Go(func(ctx context.Context) error {
					return errors.Wrapf(job.Src.Read(ctx, Extents(job.SrcOffset, job.Len), dst),
						"copy read %d@%d", job.Len, job.SrcOffset)
				})
				pos += job.Len
			}
			if err := q.Wait(); err != nil {
				return err
			}
			select {
			case full <- copyBatch{buf: buf, jobs: batch}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for batch := range full {
			q := NewQueue(gctx, width)
			var pos int64
			for _, job := range batch.jobs {
				job, src := job, batch.buf[pos:pos+job.Len]
				q.Go(func(ctx context.Context) error {
					return errors.Wrapf(job.Dst.Write(ctx, Extents(job.DstOffset, job.Len), src),
						"copy write %d@%d", job.Len, job.DstOffset)
				})
				pos += job.Len
			}
			if err := q.Wait(); err != nil {
				return err
			}
			free <- batch.buf
		}
		return nil
	})

	return g.Wait()
}

// planCopy packs jobs into batches of at most bufsize bytes.
func planCopy(jobs []CopyJob, bufsize int64) ([][]CopyJob, int64) {
	var (
		batches [][]CopyJob
		cur     []CopyJob
		used    int64
		total   int64
	)
	for _, job := range jobs {
		for job.Len > 0 {
			if used == bufsize {
				batches = append(batches, cur)
				cur, used = nil, 0
			}
			n := min(job.Len, bufsize-used)
			cur = append(cur, CopyJob{Src: job.Src, SrcOffset: job.SrcOffset, Dst: job.Dst, DstOffset: job.DstOffset, Len: n})
			used += n
			total += n
			job.SrcOffset += n
			job.DstOffset += n
			job.Len -= n
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches, total
}
