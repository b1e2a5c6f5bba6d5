// Package seglog implements the log segment: a copy-on-write layer over a
// base segment. Writes are appended to a data segment, each one described
// by a fixed size record appended to a table segment, and an interval skip
// list maps logical ranges to the data holding them. Bytes the log does not
// hold are read from the base, which may itself be a log.
package seglog

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"extlog/isl"
	"extlog/segment"
	"extlog/utils"
	"extlog/utils/cmp"
	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// Log is a log segment. Its sizes and mapping change only under lock.
type Log struct {
	segment.Header
	m *segment.Manager

	lock     sync.Mutex
	cond     *sync.Cond
	inflight int
	fenced   bool
	// set while a truncating merge is only partly done
	halfMerged error

	table segment.Segment
	data  segment.Segment
	base  segment.Segment

	mapping  *isl.IntervalSkipList[int64, *Range]
	fileSize int64
	logSize  int64
	dataSize int64

	hardErrors atomic.Int64
	softErrors atomic.Int64
}

// Stats is a snapshot of a log's bookkeeping.
type Stats struct {
	FileSize   int64
	LogSize    int64
	DataSize   int64
	Ranges     int
	HardErrors int64
	SoftErrors int64
}

func newLog(m *segment.Manager, id uint64, table, data, base segment.Segment) *Log {
	s := &Log{
		m:       m,
		table:   table,
		data:    data,
		base:    base,
		mapping: isl.New[int64, *Range](cmp.Int64Comparator{}),
	}
	s.cond = sync.NewCond(&s.lock)
	s.Init(id)
	return s
}

// Make stacks a new, empty log over base. It takes over the caller's
// references on all three segments. The table and data segments are
// expected to be empty.
func Make(m *segment.Manager, table, data, base segment.Segment) *Log {
	s := newLog(m, 0, table, data, base)
	s.fileSize = base.Size()
	s.logSize = table.Size()
	s.dataSize = data.Size()
	return s
}

// New creates a log whose table, data and base are fresh file segments in
// the manager's directory.
func New(m *segment.Manager) (*Log, error) {
	var children []segment.Segment
	for i := 0; i < 3; i++ {
		f, err := segment.NewFile(m)
		if err != nil {
			for _, c := range children {
				c.Remove(context.Background())
				c.DecrRef()
			}
			return nil, err
		}
		f.SetName(fmt.Sprintf("log-%d", len(children)))
		children = append(children, f)
	}
	return Make(m, children[0], children[1], children[2]), nil
}

func (s *Log) Type() string {
	return segment.TypeLog
}

func (s *Log) Table() segment.Segment {
	return s.table
}

func (s *Log) Data() segment.Segment {
	return s.data
}

func (s *Log) Base() segment.Segment {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.base
}

// SetBase replaces the base, releasing the previous one, and resets the
// logical size to the new base's size. It takes over the caller's reference
// on base.
func (s *Log) SetBase(base segment.Segment) {
	s.lock.Lock()
	old := s.base
	s.base = base
	s.fileSize = base.Size()
	s.lock.Unlock()
	if old != nil && old != base {
		old.DecrRef()
	}
}

func (s *Log) Size() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.fileSize
}

func (s *Log) BlockSize() int64 {
	return 1
}

func (s *Log) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Stats{
		FileSize:   s.fileSize,
		LogSize:    s.logSize,
		DataSize:   s.dataSize,
		Ranges:     s.mapping.Len(),
		HardErrors: s.hardErrors.Load(),
		SoftErrors: s.softErrors.Load(),
	}
}

// Ranges returns a copy of the mapping in offset order.
func (s *Log) Ranges() []Range {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]Range, 0, s.mapping.Len())
	for it := s.mapping.SearchAll(); it.Valid(); it.Next() {
		res = append(res, *it.Item())
	}
	slices.SortFunc(res, func(a, b Range) int {
		return cmp.Int64Comparator{}.Compare(a.Lo, b.Lo)
	})
	return res
}

// overlapping returns the ranges intersecting [lo, hi] ordered by Lo.
func (s *Log) overlapping(lo, hi int64) []*Range {
	var res []*Range
	for it := s.mapping.Search(lo, hi); it.Valid(); it.Next() {
		res = append(res, it.Item())
	}
	slices.SortFunc(res, func(a, b *Range) int {
		return cmp.Int64Comparator{}.Compare(a.Lo, b.Lo)
	})
	return res
}

// begin waits out a fenced operation and registers an operation that
// uses the data segment. Called with lock held.
func (s *Log) begin() {
	for s.fenced {
		s.cond.Wait()
	}
	s.inflight++
}

// beginAppend is begin for operations that append to the table and data.
// Called with lock held.
func (s *Log) beginAppend() error {
	s.begin()
	if err := s.appendable(); err != nil {
		s.end(nil)
		return err
	}
	return nil
}

func (s *Log) appendable() error {
	if s.halfMerged != nil {
		return errors.Wrapf(errs.ErrHalfMerged, "log %d: %v", s.ID(), s.halfMerged)
	}
	return nil
}

// fence waits for the operations in flight and holds off new ones until
// unfence. Called with lock held.
func (s *Log) fence() {
	for s.fenced {
		s.cond.Wait()
	}
	s.fenced = true
	for s.inflight > 0 {
		s.cond.Wait()
	}
}

func (s *Log) unfence() {
	s.fenced = false
	s.cond.Broadcast()
}

// end undoes begin. Called with lock held.
func (s *Log) end(err error) {
	s.inflight--
	if err != nil {
		s.fail(err)
	}
	s.cond.Broadcast()
}

func (s *Log) fail(err error) {
	s.hardErrors.Add(1)
	utils.Errorf("log %d: %v", s.ID(), err)
}

// insertRange adds a committed record to the mapping, clipping or dropping
// whatever it overwrites. Called with lock held.
func (s *Log) insertRange(r *Range) error {
	if r.isTruncate() {
		return s.truncateRange(r.Hi + 1)
	}

	for _, ir := range s.overlapping(r.Lo, r.Hi) {
		if err := s.remove(ir); err != nil {
			return err
		}
		switch {
		case ir.Lo < r.Lo && ir.Hi > r.Hi:
			tail := &Range{Lo: r.Hi + 1, Hi: ir.Hi, DataOffset: ir.DataOffset + r.Hi + 1 - ir.Lo}
			ir.Hi = r.Lo - 1
			if err := s.insert(tail); err != nil {
				return err
			}
		case ir.Lo < r.Lo:
			ir.Hi = r.Lo - 1
		case ir.Hi <= r.Hi:
			// fully overwritten
			continue
		default:
			ir.DataOffset += r.Hi + 1 - ir.Lo
			ir.Lo = r.Hi + 1
		}
		if err := s.insert(ir); err != nil {
			return err
		}
	}

	// coalesce with a predecessor whose data runs straight into r
	if r.Lo > 0 {
		for _, ir := range s.overlapping(r.Lo-1, r.Lo-1) {
			if ir.Hi == r.Lo-1 && ir.DataOffset+ir.Len() == r.DataOffset {
				if err := s.remove(ir); err != nil {
					return err
				}
				r.Lo = ir.Lo
				r.DataOffset = ir.DataOffset
			}
		}
	}
	if err := s.insert(r); err != nil {
		return err
	}

	if r.Hi >= s.fileSize {
		s.fileSize = r.Hi + 1
	}
	return nil
}

// truncateRange drops the mapping at and beyond size. Called with lock held.
func (s *Log) truncateRange(size int64) error {
	for _, ir := range s.overlapping(size, max(size, s.fileSize)) {
		if err := s.remove(ir); err != nil {
			return err
		}
		if ir.Lo < size {
			ir.Hi = size - 1
			if err := s.insert(ir); err != nil {
				return err
			}
		}
	}
	s.fileSize = size
	return nil
}

// insert and remove report a mapping that lost track of a range as
// errs.ErrCorruptIndex.
func (s *Log) insert(r *Range) error {
	if err := s.mapping.Insert(r.Lo, r.Hi, r); err != nil {
		return errors.Wrapf(errs.ErrCorruptIndex, "log %d: insert %s: %v", s.ID(), r, err)
	}
	return nil
}

func (s *Log) remove(r *Range) error {
	if err := s.mapping.Remove(r.Lo, r.Hi, r); err != nil {
		return errors.Wrapf(errs.ErrCorruptIndex, "log %d: remove %s: %v", s.ID(), r, err)
	}
	return nil
}

func (s *Log) Flush(ctx context.Context) error {
	q := s.m.NewQueue(ctx)
	for _, c := range s.children() {
		q.Go(c.Flush)
	}
	return q.Wait()
}

// Remove deletes the table, data and base storage.
func (s *Log) Remove(ctx context.Context) error {
	q := s.m.NewQueue(ctx)
	for _, c := range s.children() {
		q.Go(c.Remove)
	}
	return q.Wait()
}

func (s *Log) children() []segment.Segment {
	s.lock.Lock()
	defer s.lock.Unlock()
	return []segment.Segment{s.table, s.data, s.base}
}

func (s *Log) Inspect(ctx context.Context, w io.Writer) error {
	st := s.Stats()
	if _, err := fmt.Fprintf(w, "log segment %d name=%q size=%d log_size=%d data_size=%d ranges=%d hard_errors=%d soft_errors=%d refs=%d\n",
		s.ID(), s.Name(), st.FileSize, st.LogSize, st.DataSize, st.Ranges, st.HardErrors, st.SoftErrors, s.RefCount()); err != nil {
		return err
	}
	for _, r := range s.Ranges() {
		if _, err := fmt.Fprintf(w, "  %s\n", &r); err != nil {
			return err
		}
	}
	for _, c := range s.children() {
		if err := c.Inspect(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *Log) Signature(w io.Writer) {
	children := s.children()
	fmt.Fprint(w, "log(log)\n")
	children[0].Signature(w)
	fmt.Fprint(w, "log(data)\n")
	children[1].Signature(w)
	fmt.Fprint(w, "log(base)\n")
	children[2].Signature(w)
}

// DecrRef releases the children along with the last reference.
func (s *Log) DecrRef() error {
	if !s.Release() {
		return nil
	}
	s.lock.Lock()
	s.mapping.Clear()
	children := []segment.Segment{s.table, s.data, s.base}
	s.lock.Unlock()

	var first error
	for _, c := range children {
		if err := c.DecrRef(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// findBase follows a chain of logs down to the first segment that is not one.
func findBase(seg segment.Segment) segment.Segment {
	for {
		l, ok := seg.(*Log)
		if !ok {
			return seg
		}
		seg = l.Base()
	}
}
