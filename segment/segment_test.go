package segment

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"extlog/utils"
	"extlog/utils/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workDir = "../work_test/segment"

func newTestManager(t *testing.T) *Manager {
	clearDir()
	opt := utils.DefaultOptions()
	opt.WorkDir = workDir
	opt.CacheBlockSize = 16
	opt.CacheBlocks = 64
	return NewManager(opt)
}

func clearDir() {
	_, err := os.Stat(workDir)
	if err == nil {
		os.RemoveAll(workDir)
	}
	os.MkdirAll(workDir, os.ModePerm)
}

func readAll(t *testing.T, s Segment) []byte {
	buf := make([]byte, s.Size())
	require.NoError(t, s.Read(context.Background(), Extents(0, s.Size()), buf))
	return buf
}

// exercise runs the behaviour every segment type shares.
func exercise(t *testing.T, s Segment) {
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, Extents(0, 5), []byte("hello")))
	assert.Equal(t, int64(5), s.Size())

	// scatter write, buffer packed in extent order
	iov := []Extent{{Offset: 10, Len: 3}, {Offset: 6, Len: 2}}
	require.NoError(t, s.Write(ctx, iov, []byte("abcXY")))
	assert.Equal(t, int64(13), s.Size())
	assert.Equal(t, []byte("hello\x00XY\x00\x00abc"), readAll(t, s))

	buf := make([]byte, 6)
	require.NoError(t, s.Read(ctx, []Extent{{Offset: 11, Len: 4}, {Offset: 0, Len: 2}}, buf))
	assert.Equal(t, []byte("bc\x00\x00he"), buf)

	err := s.Read(ctx, Extents(0, 10), make([]byte, 4))
	assert.True(t, errors.Is(err, errs.ErrShortBuffer))

	require.NoError(t, s.Truncate(ctx, -1))
	assert.Equal(t, int64(13), s.Size())
	require.NoError(t, s.Truncate(ctx, 4))
	assert.Equal(t, []byte("hell"), readAll(t, s))
	require.NoError(t, s.Truncate(ctx, 6))
	assert.Equal(t, []byte("hell\x00\x00"), readAll(t, s))

	structure, err := s.Clone(ctx, CloneStructure)
	require.NoError(t, err)
	assert.Equal(t, s.Type(), structure.Type())
	assert.Equal(t, int64(0), structure.Size())
	assert.NotEqual(t, s.ID(), structure.ID())

	full, err := s.Clone(ctx, CloneStructAndData)
	require.NoError(t, err)
	assert.Equal(t, readAll(t, s), readAll(t, full))
	require.NoError(t, full.Write(ctx, Extents(0, 1), []byte("j")))
	assert.Equal(t, []byte("hell\x00\x00"), readAll(t, s))

	require.NoError(t, s.Flush(ctx))
	var sig bytes.Buffer
	s.Signature(&sig)
	assert.True(t, strings.HasPrefix(sig.String(), s.Type()+"()"))
	var report bytes.Buffer
	require.NoError(t, s.Inspect(ctx, &report))
	assert.Contains(t, report.String(), s.Type()+" segment")

	for _, c := range []Segment{structure, full} {
		require.NoError(t, c.Remove(ctx))
		require.NoError(t, c.DecrRef())
	}
}

func TestMem(t *testing.T) {
	m := newTestManager(t)
	s := NewMem(m)
	exercise(t, s)
	require.NoError(t, s.DecrRef())
}

func TestFile(t *testing.T) {
	m := newTestManager(t)
	s, err := NewFile(m)
	require.NoError(t, err)
	exercise(t, s)
	path := s.Path()
	require.NoError(t, s.DecrRef())

	// contents survive reopening
	s2, err := OpenFile(m, 0, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hell\x00\x00"), readAll(t, s2))
	require.NoError(t, s2.Remove(context.Background()))
	require.NoError(t, s2.DecrRef())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCached(t *testing.T) {
	m := newTestManager(t)
	s := NewCached(m, NewMem(m))
	exercise(t, s)

	ctx := context.Background()
	data := bytes.Repeat([]byte("0123456789"), 10)
	require.NoError(t, s.Write(ctx, Extents(0, 100), data))
	assert.Equal(t, data, readAll(t, s))
	assert.Equal(t, data, readAll(t, s))
	hits, _ := m.BlockCache().Stats()
	assert.Greater(t, hits, uint64(0))

	// writes must not leave stale blocks behind
	require.NoError(t, s.Write(ctx, Extents(20, 3), []byte("XYZ")))
	copy(data[20:], "XYZ")
	assert.Equal(t, data, readAll(t, s))

	// nor may truncation
	require.NoError(t, s.Truncate(ctx, 10))
	require.NoError(t, s.Truncate(ctx, 30))
	assert.Equal(t, append([]byte("0123456789"), make([]byte, 20)...), readAll(t, s))

	var sig bytes.Buffer
	s.Signature(&sig)
	assert.Equal(t, "cache()\nmem()\n", sig.String())
	require.NoError(t, s.DecrRef())
}

// gated parks the next armed read after it has copied the child's bytes.
type gated struct {
	*Mem
	armed   chan struct{}
	read    chan struct{}
	release chan struct{}
}

func (g *gated) Read(ctx context.Context, iov []Extent, buf []byte) error {
	err := g.Mem.Read(ctx, iov, buf)
	select {
	case <-g.armed:
		g.read <- struct{}{}
		<-g.release
	default:
	}
	return err
}

func TestCachedFillRacingWrite(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	child := &gated{
		Mem:     NewMemWith(m, []byte("AAAABBBBCCCCDDDDEEEEFFFF")),
		armed:   make(chan struct{}, 1),
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	s := NewCached(m, child)

	child.armed <- struct{}{}
	done := make(chan error, 1)
	got := make([]byte, 4)
	go func() {
		done <- s.Read(ctx, Extents(4, 4), got)
	}()
	<-child.read
	require.NoError(t, s.Write(ctx, Extents(4, 4), []byte("XXXX")))
	close(child.release)
	require.NoError(t, <-done)
	assert.Equal(t, []byte("BBBB"), got)

	buf := make([]byte, 4)
	require.NoError(t, s.Read(ctx, Extents(4, 4), buf))
	assert.Equal(t, []byte("XXXX"), buf)

	require.NoError(t, s.DecrRef())
	assert.Nil(t, m.BlockCache().Get(s.ID(), 0))
}

func TestWriteSkipsEmptyExtents(t *testing.T) {
	m := newTestManager(t)
	s := NewMem(m)
	iov := []Extent{{Offset: 100, Len: 0}, {Offset: 0, Len: 2}}
	require.NoError(t, s.Write(context.Background(), iov, []byte("ab")))
	assert.Equal(t, []byte("ab"), readAll(t, s))
	require.NoError(t, s.DecrRef())

	f, err := NewFile(m)
	require.NoError(t, err)
	require.NoError(t, f.Write(context.Background(), iov, []byte("ab")))
	assert.Equal(t, int64(2), f.Size())
	require.NoError(t, f.Remove(context.Background()))
	require.NoError(t, f.DecrRef())
}

func TestCopyPipelined(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	src := NewMemWith(m, data)
	dst := NewMem(m)

	// the buffer forces many batches, one job is split across them
	require.NoError(t, Copy(ctx, src, dst, 100, 0, 900, 64))
	assert.Equal(t, data[100:], readAll(t, dst))

	other := NewMemWith(m, []byte("abcdefghij"))
	jobs := []CopyJob{
		{Src: src, SrcOffset: 0, Dst: dst, DstOffset: 2000, Len: 10},
		{Src: other, SrcOffset: 3, Dst: dst, DstOffset: 0, Len: 4},
		{Src: other, SrcOffset: 0, Dst: dst, DstOffset: 10, Len: 0},
	}
	require.NoError(t, CopyPipelined(ctx, jobs, 7, 2))
	got := readAll(t, dst)
	assert.Equal(t, []byte("defg"), got[:4])
	assert.Equal(t, data[:10], got[2000:2010])

	assert.NoError(t, CopyPipelined(ctx, nil, 7, 2))
	assert.Error(t, CopyPipelined(ctx, jobs, 0, 2))
}

type failing struct {
	*Mem
}

func (f failing) Read(ctx context.Context, iov []Extent, buf []byte) error {
	return errors.New("media error")
}

func TestCopyFailure(t *testing.T) {
	m := newTestManager(t)
	src := failing{NewMemWith(m, make([]byte, 100))}
	dst := NewMem(m)
	err := Copy(context.Background(), src, dst, 0, 0, 100, 16)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media error")
}

func TestQueue(t *testing.T) {
	q := NewQueue(context.Background(), 2)
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		i := i
		q.Go(func(ctx context.Context) error {
			results[i] = i * i
			return nil
		})
	}
	require.NoError(t, q.Wait())
	assert.Equal(t, 81, results[9])

	q = NewQueue(context.Background(), 0)
	q.Go(func(ctx context.Context) error { return errors.New("boom") })
	q.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.EqualError(t, q.Wait(), "boom")
}

func TestQueueTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)

	q := NewQueue(ctx, 1)
	// ignores cancellation on purpose; Wait must not block on it
	q.Go(func(context.Context) error {
		<-release
		return nil
	})
	err := q.Wait()
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
