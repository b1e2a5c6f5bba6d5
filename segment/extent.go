package segment

import (
	"fmt"

	"extlog/utils/errs"

	"github.com/pkg/errors"
)

// Extent is a byte range [Offset, Offset+Len) of a segment.
type Extent struct {
	Offset int64
	Len    int64
}

func (e Extent) End() int64 {
	return e.Offset + e.Len
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d, +%d)", e.Offset, e.Len)
}

// Extents builds a single-extent list.
func Extents(offset, n int64) []Extent {
	return []Extent{{Offset: offset, Len: n}}
}

// Total returns the number of bytes the extents cover.
func Total(iov []Extent) int64 {
	var n int64
	for _, e := range iov {
		n += e.Len
	}
	return n
}

// CheckIO validates an extent list against its buffer.
func CheckIO(iov []Extent, buf []byte) error {
	for _, e := range iov {
		if e.Offset < 0 || e.Len < 0 {
			return errors.Errorf("invalid extent %s", e)
		}
	}
	if n := Total(iov); int64(len(buf)) < n {
		return errors.Wrapf(errs.ErrShortBuffer, "need %d bytes, have %d", n, len(buf))
	}
	return nil
}
