// Package segment defines the byte-addressable storage abstraction that every
// layer of the store is built from, together with the plumbing shared by all
// implementations: the op queue, pipelined copies, the service manager and
// the serialization exchange.
package segment

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"extlog/utils"
)

// CloneMode selects what a clone carries over.
type CloneMode int

const (
	// CloneStructure creates empty storage of the same shape.
	CloneStructure CloneMode = iota
	// CloneStructAndData also copies the contents.
	CloneStructAndData
)

func (m CloneMode) String() string {
	if m == CloneStructAndData {
		return "struct+data"
	}
	return "structure"
}

// Segment types.
const (
	TypeMem   = "mem"
	TypeFile  = "file"
	TypeCache = "cache"
	TypeLog   = "log"
)

// Segment is a byte-addressable, resizable store. Read and Write take a list
// of extents and a buffer holding their bytes back to back in list order.
type Segment interface {
	ID() uint64
	Type() string
	Name() string
	SetName(name string)

	Read(ctx context.Context, iov []Extent, buf []byte) error
	Write(ctx context.Context, iov []Extent, buf []byte) error
	// Truncate resizes the segment. A negative size is a reservation hint
	// and is ignored.
	Truncate(ctx context.Context, size int64) error
	Size() int64
	BlockSize() int64

	Clone(ctx context.Context, mode CloneMode) (Segment, error)
	Flush(ctx context.Context) error
	// Remove deletes the backing storage. The segment must still be released
	// with DecrRef.
	Remove(ctx context.Context) error
	Inspect(ctx context.Context, w io.Writer) error
	Signature(w io.Writer)
	Serialize(ex *Exchange) error

	IncrRef()
	// DecrRef releases one reference and destroys the segment on the last.
	DecrRef() error
	RefCount() int32
}

// Header carries the identity and reference count every segment shares.
// Embed it and call Init before use.
type Header struct {
	id   uint64
	ref  atomic.Int32
	lock sync.RWMutex
	name string
}

// Init sets the id, allocating one when id is zero, and takes the first reference.
func (h *Header) Init(id uint64) {
	if id == 0 {
		id = utils.NewID()
	}
	h.id = id
	h.ref.Store(1)
}

func (h *Header) ID() uint64 {
	return h.id
}

func (h *Header) Name() string {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.name
}

func (h *Header) SetName(name string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.name = name
}

func (h *Header) IncrRef() {
	h.ref.Add(1)
}

func (h *Header) RefCount() int32 {
	return h.ref.Load()
}

// Release drops a reference and reports whether it was the last one.
func (h *Header) Release() bool {
	n := h.ref.Add(-1)
	utils.AssertTruef(n >= 0, "segment %d released too many times", h.id)
	return n == 0
}
