package seglog

import (
	"context"

	"extlog/metrics"
	"extlog/segment"

	"github.com/pkg/errors"
)

// Write appends buf to the data segment and one record per extent to the
// table, then maps the extents to the new data. Nothing is mapped unless
// both appends succeed.
func (s *Log) Write(ctx context.Context, iov []segment.Extent, buf []byte) error {
	if err := segment.CheckIO(iov, buf); err != nil {
		return err
	}
	var ext []segment.Extent
	for _, e := range iov {
		if e.Len > 0 {
			ext = append(ext, e)
		}
	}
	if len(ext) == 0 {
		return nil
	}
	n := segment.Total(ext)

	s.lock.Lock()
	if err := s.beginAppend(); err != nil {
		s.lock.Unlock()
		return err
	}
	tableOff, dataOff := s.logSize, s.dataSize
	s.logSize += int64(len(ext)) * RecordSize
	s.dataSize += n
	s.lock.Unlock()

	ranges := make([]*Range, len(ext))
	records := make([]byte, len(ext)*RecordSize)
	pos := dataOff
	for i, e := range ext {
		ranges[i] = &Range{Lo: e.Offset, Hi: e.End() - 1, DataOffset: pos}
		ranges[i].encode(records[i*RecordSize:])
		pos += e.Len
	}

	q := s.m.NewQueue(ctx)
	q.Go(func(ctx context.Context) error {
		return errors.Wrap(s.data.Write(ctx, segment.Extents(dataOff, n), buf[:n]), "append data")
	})
	q.Go(func(ctx context.Context) error {
		return errors.Wrap(s.table.Write(ctx, segment.Extents(tableOff, int64(len(records))), records), "append records")
	})
	err := q.Wait()

	s.lock.Lock()
	defer s.lock.Unlock()
	if err == nil {
		for _, r := range ranges {
			if err = s.insertRange(r); err != nil {
				break
			}
		}
	}
	s.end(err)
	if err != nil {
		metrics.Failed(segment.TypeLog)
		return errors.Wrapf(err, "log %d: write %d bytes", s.ID(), n)
	}
	metrics.Written(segment.TypeLog, n)
	return nil
}

// Truncate resizes the logical file. Shrinking appends a truncate marker;
// growing maps the new bytes to fresh, zero filled data. Truncate runs
// alone, so it is ordered against every write in the table and the mapping.
func (s *Log) Truncate(ctx context.Context, size int64) error {
	if size < 0 {
		return nil
	}

	s.lock.Lock()
	s.fence()
	if err := s.appendable(); err != nil {
		s.unfence()
		s.lock.Unlock()
		return err
	}
	if size == s.fileSize {
		s.unfence()
		s.lock.Unlock()
		return nil
	}
	r := &Range{Lo: truncateMarker, Hi: size - 1}
	grow := size > s.fileSize
	if grow {
		r = &Range{Lo: s.fileSize, Hi: size - 1, DataOffset: s.dataSize}
		s.dataSize += r.Len()
	}
	tableOff := s.logSize
	s.logSize += RecordSize
	s.lock.Unlock()

	record := make([]byte, RecordSize)
	r.encode(record)
	q := s.m.NewQueue(ctx)
	q.Go(func(ctx context.Context) error {
		return errors.Wrap(s.table.Write(ctx, segment.Extents(tableOff, RecordSize), record), "append truncate record")
	})
	if grow {
		// writing the last byte sizes the data segment
		q.Go(func(ctx context.Context) error {
			return errors.Wrap(s.data.Write(ctx, segment.Extents(r.DataOffset+r.Len()-1, 1), []byte{0}), "extend data")
		})
	}
	err := q.Wait()

	s.lock.Lock()
	defer s.lock.Unlock()
	if err == nil {
		err = s.insertRange(r)
	}
	s.unfence()
	if err != nil {
		s.fail(err)
		metrics.Failed(segment.TypeLog)
		return errors.Wrapf(err, "log %d: truncate to %d", s.ID(), size)
	}
	return nil
}
