package seglog

import (
	"context"

	"extlog/metrics"
	"extlog/segment"
	"extlog/utils"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// Register installs the log loader in m.
func Register(m *segment.Manager) {
	m.Register(segment.TypeLog, load)
}

// Serialize writes the log's stanza followed by its children's.
func (s *Log) Serialize(ex *segment.Exchange) error {
	s.lock.Lock()
	halfMerged := s.halfMerged
	s.lock.Unlock()
	if halfMerged != nil {
		return errors.Wrapf(errs.ErrHalfMerged, "log %d: serialize", s.ID())
	}
	st, ok := ex.AddSegment(s.ID(), segment.TypeLog)
	if !ok {
		return nil
	}
	children := s.children()
	st.SetInt64("ref_count", int64(s.RefCount()))
	st.SetName(s.Name())
	st.SetUint64("log", children[0].ID())
	st.SetUint64("data", children[1].ID())
	st.SetUint64("base", children[2].ID())
	for _, c := range children {
		if err := c.Serialize(ex); err != nil {
			return err
		}
	}
	return nil
}

func load(ls *segment.LoadSession, id uint64, st *segment.Stanza) (segment.Segment, error) {
	var children []segment.Segment
	for _, key := range []string{"log", "data", "base"} {
		c, err := ls.LoadChild(st, key)
		if err != nil {
			for _, c := range children {
				c.DecrRef()
			}
			return nil, errors.Wrapf(err, "[%s] %s", st.Section, key)
		}
		children = append(children, c)
	}
	s := newLog(ls.Manager, id, children[0], children[1], children[2])
	s.SetName(st.Name())
	if err := s.replay(ls.Ctx); err != nil {
		s.DecrRef()
		return nil, err
	}
	return s, nil
}

// replay rebuilds the mapping from the table. Blank records are slots
// reserved by appends that failed and are skipped. A single malformed record
// is tolerated when nothing but blank records follows it, as left by an
// append that never completed. The trailing run of blank and malformed
// records is overwritten by the next append.
func (s *Log) replay(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.fileSize = s.base.Size()
	s.dataSize = s.data.Size()
	s.logSize = s.table.Size()
	utils.Debugf("log %d: replay file_size=%d log_size=%d data_size=%d", s.ID(), s.fileSize, s.logSize, s.dataSize)
	if s.logSize == 0 {
		return nil
	}

	table := make([]byte, s.logSize)
	if err := s.table.Read(ctx, segment.Extents(0, s.logSize), table); err != nil {
		return errors.Wrapf(err, "log %d: read table", s.ID())
	}

	var (
		bad, gaps int
		lastBad   int64 = -1
		tail      int64 = -1
		off       int64
	)
	for ; off < s.logSize; off += RecordSize {
		rec := table[off:min(off+RecordSize, s.logSize)]
		if tail < 0 {
			tail = off
		}
		switch {
		case utils.IsZero(rec):
			gaps++
			continue
		case len(rec) < RecordSize:
			utils.Warnf("log %d: partial range record at offset %d", s.ID(), off)
			bad++
			lastBad = off
			continue
		}
		r, ok := decodeRange(rec)
		if !ok {
			utils.Warnf("log %d: bad range record at offset %d", s.ID(), off)
			bad++
			lastBad = off
			continue
		}
		if err := s.insertRange(r); err != nil {
			return err
		}
		lastBad, tail = -1, -1
		metrics.ReplayedRecords.Inc()
	}

	switch {
	case bad == 0:
	case bad == 1 && lastBad >= 0:
	default:
		return errors.Wrapf(errs.ErrCorruptLog, "log %d: %d bad range records", s.ID(), bad)
	}
	if gaps > 0 {
		utils.Warnf("log %d: skipped %d blank range records", s.ID(), gaps)
	}
	s.softErrors.Add(int64(bad + gaps))
	if tail >= 0 {
		s.logSize = tail
	}
	utils.Debugf("log %d: replayed file_size=%d ranges=%d", s.ID(), s.fileSize, s.mapping.Len())
	return nil
}
