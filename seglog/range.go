package seglog

import (
	"fmt"

	"extlog/utils"
)

// RecordSize is the size of one range record in the table segment.
const RecordSize = 24

// truncateMarker in Lo flags a record that resizes the file to Hi+1.
const truncateMarker = -1

// Range maps the logical bytes [Lo, Hi] to the data segment starting at
// DataOffset.
type Range struct {
	Lo         int64
	Hi         int64
	DataOffset int64
}

func (r *Range) Len() int64 {
	return r.Hi - r.Lo + 1
}

func (r *Range) isTruncate() bool {
	return r.Lo == truncateMarker
}

func (r *Range) String() string {
	if r.isTruncate() {
		return fmt.Sprintf("truncate(%d)", r.Hi+1)
	}
	return fmt.Sprintf("[%d, %d]@%d", r.Lo, r.Hi, r.DataOffset)
}

// encode writes the record form of r: lo, then the length (or the last
// offset kept, for a truncate marker), then the data offset.
func (r *Range) encode(buf []byte) {
	second := r.Len()
	if r.isTruncate() {
		second = r.Hi
	}
	utils.EncodeInt64(buf[0:], r.Lo)
	utils.EncodeInt64(buf[8:], second)
	utils.EncodeInt64(buf[16:], r.DataOffset)
}

// decodeRange parses one record. Blank records, and regular records with a
// zero length, are left behind by failed appends and reported as bad.
func decodeRange(buf []byte) (*Range, bool) {
	if utils.IsZero(buf[:RecordSize]) {
		return nil, false
	}
	r := &Range{
		Lo:         utils.DecodeInt64(buf[0:]),
		Hi:         utils.DecodeInt64(buf[8:]),
		DataOffset: utils.DecodeInt64(buf[16:]),
	}
	if r.isTruncate() {
		return r, r.Hi >= -1
	}
	if r.Hi <= 0 || r.Lo < 0 {
		return nil, false
	}
	r.Hi = r.Lo + r.Hi - 1
	return r, true
}
