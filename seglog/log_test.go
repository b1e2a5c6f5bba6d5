package seglog

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"testing"

	"extlog/segment"
	"extlog/utils"
	"extlog/utils/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var workDir = "../work_test/seglog"

const (
	chunkSize = 10
	nChunks   = 10
	fileSize  = chunkSize * nChunks
)

func newTestManager(t *testing.T, tweak ...func(*utils.Options)) *segment.Manager {
	clearDir()
	opt := utils.DefaultOptions()
	opt.WorkDir = workDir
	opt.QueueWidth = 4
	opt.CopyBufferSize = 32
	for _, fn := range tweak {
		fn(opt)
	}
	m := segment.NewManager(opt)
	Register(m)
	return m
}

func clearDir() {
	_, err := os.Stat(workDir)
	if err == nil {
		os.RemoveAll(workDir)
	}
	os.MkdirAll(workDir, os.ModePerm)
}

// memLog stacks a log with in-memory table and data over a base holding base.
func memLog(m *segment.Manager, base []byte) *Log {
	return Make(m, segment.NewMem(m), segment.NewMem(m), segment.NewMemWith(m, base))
}

func readAll(t *testing.T, s segment.Segment) []byte {
	buf := make([]byte, s.Size())
	require.NoError(t, s.Read(context.Background(), segment.Extents(0, s.Size()), buf))
	return buf
}

// writeChunks writes n bytes of c at off+i*chunkSize for every step-th chunk
// starting at first, mirroring the writes in model.
func writeChunks(t *testing.T, s segment.Segment, model []byte, first, step int, off, n int64, c byte) {
	data := bytes.Repeat([]byte{c}, int(n))
	for i := first; i < nChunks; i += step {
		pos := int64(i)*chunkSize + off
		require.NoError(t, s.Write(context.Background(), segment.Extents(pos, n), data))
		copy(model[pos:], data)
	}
}

func TestLogStack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	model := bytes.Repeat([]byte("B"), fileSize)
	seg := memLog(m, model)
	assert.Equal(t, int64(fileSize), seg.Size())
	assert.Equal(t, model, readAll(t, seg))

	// 1's on the even chunks, then fold them into the base
	writeChunks(t, seg, model, 0, 2, 0, chunkSize, '1')
	assert.Equal(t, model, readAll(t, seg))
	require.NoError(t, seg.MergeWithBase(ctx, chunkSize, true))
	assert.Equal(t, model, readAll(t, seg))
	assert.Equal(t, model, readAll(t, seg.Base()))
	st := seg.Stats()
	assert.Equal(t, 0, st.Ranges)
	assert.Equal(t, int64(0), st.LogSize)
	assert.Equal(t, int64(0), st.DataSize)

	// 2's on the odd chunks stay in the log
	writeChunks(t, seg, model, 1, 2, 0, chunkSize, '2')
	assert.Equal(t, model, readAll(t, seg))
	log1 := append([]byte(nil), model...)

	// a structure clone stacked on seg sees seg's contents
	c, err := seg.Clone(ctx, segment.CloneStructure)
	require.NoError(t, err)
	clone := c.(*Log)
	assert.Equal(t, int64(0), clone.Size())
	seg.IncrRef()
	clone.SetBase(seg)
	assert.Equal(t, log1, readAll(t, clone))

	// writes straddling chunk boundaries, two logs deep
	writeChunks(t, clone, model, 0, 4, 0, chunkSize+chunkSize/2, '3')
	assert.Equal(t, model, readAll(t, clone))
	assert.Equal(t, log1, readAll(t, seg))
	log2 := append([]byte(nil), model...)

	clone2, err := clone.Clone(ctx, segment.CloneStructAndData)
	require.NoError(t, err)
	assert.Equal(t, log2, readAll(t, clone2))
	require.NoError(t, clone2.Remove(ctx))
	require.NoError(t, clone2.DecrRef())

	// and three logs deep
	c, err = clone.Clone(ctx, segment.CloneStructure)
	require.NoError(t, err)
	clone3 := c.(*Log)
	clone.IncrRef()
	clone3.SetBase(clone)
	assert.Equal(t, log2, readAll(t, clone3))
	writeChunks(t, clone3, model, 0, 2, chunkSize/3, chunkSize, '4')
	assert.Equal(t, model, readAll(t, clone3))
	assert.Equal(t, log2, readAll(t, clone))
	log3 := append([]byte(nil), model...)

	clone4, err := clone3.Clone(ctx, segment.CloneStructAndData)
	require.NoError(t, err)
	assert.Equal(t, log3, readAll(t, clone4))
	_, isLog := clone4.(*Log).Base().(*Log)
	assert.False(t, isLog)

	require.NoError(t, clone4.Remove(ctx))
	require.NoError(t, clone4.DecrRef())
	require.NoError(t, clone3.DecrRef())
	require.NoError(t, clone.DecrRef())
	require.NoError(t, seg.DecrRef())
	assert.Equal(t, int32(0), seg.RefCount())
}

func TestOverwriteSplitsRanges(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s := memLog(m, nil)

	require.NoError(t, s.Write(ctx, segment.Extents(0, 100), bytes.Repeat([]byte("a"), 100)))
	require.NoError(t, s.Write(ctx, segment.Extents(40, 20), bytes.Repeat([]byte("b"), 20)))
	assert.Equal(t, []Range{
		{Lo: 0, Hi: 39, DataOffset: 0},
		{Lo: 40, Hi: 59, DataOffset: 100},
		{Lo: 60, Hi: 99, DataOffset: 60},
	}, s.Ranges())

	// covers the middle range entirely and clips both neighbours
	require.NoError(t, s.Write(ctx, segment.Extents(30, 40), bytes.Repeat([]byte("c"), 40)))
	assert.Equal(t, []Range{
		{Lo: 0, Hi: 29, DataOffset: 0},
		{Lo: 30, Hi: 69, DataOffset: 120},
		{Lo: 70, Hi: 99, DataOffset: 70},
	}, s.Ranges())

	want := append(bytes.Repeat([]byte("a"), 30), bytes.Repeat([]byte("c"), 40)...)
	want = append(want, bytes.Repeat([]byte("a"), 30)...)
	assert.Equal(t, want, readAll(t, s))
	require.NoError(t, s.DecrRef())
}

func TestAdjacentWritesCoalesce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s := memLog(m, nil)

	require.NoError(t, s.Write(ctx, segment.Extents(0, 10), []byte("0123456789")))
	require.NoError(t, s.Write(ctx, segment.Extents(10, 5), []byte("abcde")))
	assert.Equal(t, []Range{{Lo: 0, Hi: 14, DataOffset: 0}}, s.Ranges())

	// adjacent in the file but not in the data: kept apart
	require.NoError(t, s.Write(ctx, segment.Extents(20, 2), []byte("xy")))
	require.NoError(t, s.Write(ctx, segment.Extents(18, 2), []byte("uv")))
	assert.Len(t, s.Ranges(), 3)
	assert.Equal(t, []byte("0123456789abcde\x00\x00\x00uvxy"), readAll(t, s))
	require.NoError(t, s.DecrRef())
}

func TestScatterReadWrite(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s := memLog(m, []byte("..........."))

	iov := []segment.Extent{{Offset: 8, Len: 2}, {Offset: 1, Len: 3}, {Offset: 5, Len: 0}}
	require.NoError(t, s.Write(ctx, iov, []byte("xyabc")))
	assert.Equal(t, []byte(".abc....xy."), readAll(t, s))

	buf := make([]byte, 7)
	require.NoError(t, s.Read(ctx, []segment.Extent{{Offset: 7, Len: 4}, {Offset: 0, Len: 3}}, buf))
	assert.Equal(t, []byte(".xy..ab"), buf)

	// past the logical end the base answers, zero filled
	buf = make([]byte, 4)
	require.NoError(t, s.Read(ctx, segment.Extents(9, 4), buf))
	assert.Equal(t, []byte("y.\x00\x00"), buf)
	require.NoError(t, s.DecrRef())
}

func TestTruncate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s := memLog(m, bytes.Repeat([]byte("B"), 100))

	require.NoError(t, s.Write(ctx, segment.Extents(40, 20), bytes.Repeat([]byte("w"), 20)))
	require.NoError(t, s.Truncate(ctx, 45))
	assert.Equal(t, int64(45), s.Size())
	assert.Equal(t, []Range{{Lo: 40, Hi: 44, DataOffset: 0}}, s.Ranges())

	require.NoError(t, s.Truncate(ctx, 60))
	assert.Equal(t, int64(60), s.Size())
	want := append(bytes.Repeat([]byte("B"), 40), bytes.Repeat([]byte("w"), 5)...)
	want = append(want, make([]byte, 15)...)
	assert.Equal(t, want, readAll(t, s))
	assert.Equal(t, Range{Lo: 45, Hi: 59, DataOffset: 20}, s.Ranges()[1])

	// same size and reservations leave no record behind
	logSize := s.Stats().LogSize
	require.NoError(t, s.Truncate(ctx, 60))
	require.NoError(t, s.Truncate(ctx, -1))
	assert.Equal(t, logSize, s.Stats().LogSize)

	require.NoError(t, s.Truncate(ctx, 0))
	assert.Equal(t, int64(0), s.Size())
	assert.Empty(t, s.Ranges())
	require.NoError(t, s.DecrRef())
}

// faulty fails reads, writes or truncations on demand.
type faulty struct {
	segment.Segment
	failReads     atomic.Bool
	failWrites    atomic.Bool
	failTruncates atomic.Bool
}

func (f *faulty) Truncate(ctx context.Context, size int64) error {
	if f.failTruncates.Load() {
		return errors.New("media error")
	}
	return f.Segment.Truncate(ctx, size)
}

func (f *faulty) Read(ctx context.Context, iov []segment.Extent, buf []byte) error {
	if f.failReads.Load() {
		return errors.New("media error")
	}
	return f.Segment.Read(ctx, iov, buf)
}

func (f *faulty) Write(ctx context.Context, iov []segment.Extent, buf []byte) error {
	if f.failWrites.Load() {
		return errors.New("media error")
	}
	return f.Segment.Write(ctx, iov, buf)
}

func TestWriteFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	data := &faulty{Segment: segment.NewMem(m)}
	s := Make(m, segment.NewMem(m), data, segment.NewMemWith(m, []byte("base")))

	data.failWrites.Store(true)
	err := s.Write(ctx, segment.Extents(0, 2), []byte("xx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media error")
	assert.Empty(t, s.Ranges())
	assert.Equal(t, int64(1), s.Stats().HardErrors)
	assert.Equal(t, []byte("base"), readAll(t, s))

	data.failWrites.Store(false)
	require.NoError(t, s.Write(ctx, segment.Extents(0, 2), []byte("xx")))
	assert.Equal(t, []byte("xxse"), readAll(t, s))
	require.NoError(t, s.DecrRef())
}

func TestReadFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	base := &faulty{Segment: segment.NewMemWith(m, []byte("0123456789"))}
	s := Make(m, segment.NewMem(m), segment.NewMem(m), base)
	require.NoError(t, s.Write(ctx, segment.Extents(0, 5), []byte("abcde")))

	base.failReads.Store(true)
	// served by the log alone
	buf := make([]byte, 5)
	require.NoError(t, s.Read(ctx, segment.Extents(0, 5), buf))
	assert.Equal(t, []byte("abcde"), buf)

	// needs the base
	err := s.Read(ctx, segment.Extents(3, 4), make([]byte, 4))
	require.Error(t, err)
	assert.Equal(t, int64(1), s.Stats().HardErrors)
	require.NoError(t, s.DecrRef())
}

func TestCloneStrategies(t *testing.T) {
	ctx := context.Background()
	base := bytes.Repeat([]byte("B"), fileSize)

	run := func(speedup int64) (*Log, *Log) {
		m := newTestManager(t, func(opt *utils.Options) { opt.CloneSpeedup = speedup })
		s := memLog(m, base)
		require.NoError(t, s.Write(ctx, segment.Extents(20, 10), bytes.Repeat([]byte("x"), 10)))
		require.NoError(t, s.Truncate(ctx, 90))
		c, err := s.Clone(ctx, segment.CloneStructAndData)
		require.NoError(t, err)
		return s, c.(*Log)
	}

	// a whole copy through a fresh log over an empty base
	s, c := run(1)
	assert.Equal(t, readAll(t, s), readAll(t, c))
	assert.Equal(t, int64(0), c.Base().Size())
	require.NoError(t, c.DecrRef())
	require.NoError(t, s.DecrRef())

	// a copy of the base plus the changed bytes only
	s, c = run(1 << 40)
	assert.Equal(t, readAll(t, s), readAll(t, c))
	assert.Equal(t, int64(fileSize), c.Base().Size())
	assert.Equal(t, int64(90), c.Size())
	assert.Equal(t, []Range{{Lo: 20, Hi: 29, DataOffset: 0}}, c.Ranges())
	require.NoError(t, c.DecrRef())
	require.NoError(t, s.DecrRef())
}

func TestMergeWithBase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s := memLog(m, bytes.Repeat([]byte("B"), 50))

	require.NoError(t, s.Write(ctx, segment.Extents(10, 50), bytes.Repeat([]byte("x"), 50)))
	want := readAll(t, s)

	// keeping the log, merging is a fixpoint
	require.NoError(t, s.MergeWithBase(ctx, 7, false))
	require.NoError(t, s.MergeWithBase(ctx, 7, false))
	assert.Equal(t, want, readAll(t, s))
	assert.Equal(t, want, readAll(t, s.Base()))
	assert.Len(t, s.Ranges(), 1)

	// a shrunk file shrinks the base
	require.NoError(t, s.Truncate(ctx, 30))
	require.NoError(t, s.MergeWithBase(ctx, 0, true))
	assert.Equal(t, int64(30), s.Size())
	assert.Equal(t, int64(30), s.Base().Size())
	assert.Equal(t, want[:30], readAll(t, s))
	assert.Equal(t, Stats{FileSize: 30}, s.Stats())
	require.NoError(t, s.DecrRef())
}

func TestMergeWithConcurrentWrites(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	model := make([]byte, fileSize)
	s := memLog(m, model)

	var g errgroup.Group
	for i := 0; i < nChunks; i++ {
		i := i
		data := bytes.Repeat([]byte{byte('a' + i)}, chunkSize)
		copy(model[i*chunkSize:], data)
		g.Go(func() error {
			return s.Write(ctx, segment.Extents(int64(i*chunkSize), chunkSize), data)
		})
		if i%3 == 0 {
			g.Go(func() error {
				return s.MergeWithBase(ctx, chunkSize, true)
			})
		}
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, model, readAll(t, s))

	require.NoError(t, s.MergeWithBase(ctx, chunkSize, true))
	assert.Equal(t, model, readAll(t, s.Base()))
	require.NoError(t, s.DecrRef())
}

func TestHalfMergedLog(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	table := &faulty{Segment: segment.NewMem(m)}
	s := Make(m, table, segment.NewMem(m), segment.NewMemWith(m, []byte("----------")))
	require.NoError(t, s.Write(ctx, segment.Extents(2, 3), []byte("abc")))

	table.failTruncates.Store(true)
	err := s.MergeWithBase(ctx, 0, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media error")
	// the base already has the data
	assert.Equal(t, []byte("--abc-----"), readAll(t, s))
	assert.Equal(t, []byte("--abc-----"), readAll(t, s.Base()))

	err = s.Write(ctx, segment.Extents(0, 1), []byte("x"))
	assert.True(t, errors.Is(err, errs.ErrHalfMerged))
	err = s.Truncate(ctx, 4)
	assert.True(t, errors.Is(err, errs.ErrHalfMerged))
	err = s.Serialize(segment.NewExchange())
	assert.True(t, errors.Is(err, errs.ErrHalfMerged))

	table.failTruncates.Store(false)
	require.NoError(t, s.MergeWithBase(ctx, 0, true))
	assert.Equal(t, int64(0), s.Table().Size())
	assert.Equal(t, int64(0), s.Data().Size())
	require.NoError(t, s.Write(ctx, segment.Extents(0, 1), []byte("x")))

	loaded, err := reload(t, m, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("x-abc-----"), readAll(t, loaded))
	require.NoError(t, loaded.DecrRef())
	require.NoError(t, s.DecrRef())
}

// gate parks the next write after arm until release is closed.
type gate struct {
	segment.Segment
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Write(ctx context.Context, iov []segment.Extent, buf []byte) error {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Segment.Write(ctx, iov, buf)
}

func TestTruncateOrderedWithWrites(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	data := &gate{Segment: segment.NewMem(m), entered: make(chan struct{}), release: make(chan struct{})}
	s := Make(m, segment.NewMem(m), data, segment.NewMemWith(m, []byte("0123")))

	// the grow parks on its data write; the write issued after it must
	// not be zeroed by it
	data.armed.Store(true)
	var g errgroup.Group
	g.Go(func() error {
		return s.Truncate(ctx, 12)
	})
	<-data.entered
	g.Go(func() error {
		return s.Write(ctx, segment.Extents(4, 4), []byte("WXYZ"))
	})
	close(data.release)
	require.NoError(t, g.Wait())

	want := []byte("0123WXYZ\x00\x00\x00\x00")
	assert.Equal(t, want, readAll(t, s))
	loaded, err := reload(t, m, s)
	require.NoError(t, err)
	assert.Equal(t, want, readAll(t, loaded))
	require.NoError(t, loaded.DecrRef())
	require.NoError(t, s.DecrRef())
}

func TestNewOnFiles(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	s, err := New(m)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, segment.Extents(3, 4), []byte("abcd")))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []byte("\x00\x00\x00abcd"), readAll(t, s))
	assert.Equal(t, int64(RecordSize), s.Table().Size())
	assert.Equal(t, int64(4), s.Data().Size())

	var sig bytes.Buffer
	s.Signature(&sig)
	assert.Equal(t, "log(log)\nfile()\nlog(data)\nfile()\nlog(base)\nfile()\n", sig.String())
	var report bytes.Buffer
	require.NoError(t, s.Inspect(ctx, &report))
	assert.Contains(t, report.String(), "log segment")
	assert.Contains(t, report.String(), "[3, 6]@0")

	require.NoError(t, s.Remove(ctx))
	require.NoError(t, s.DecrRef())
}
