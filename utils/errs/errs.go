package errs

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when an interval or segment is not registered.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInterval is returned for an interval whose lo is greater than hi.
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrCorruptIndex means the in-memory range index disagrees with itself.
	// The segment that reports it should be considered unusable.
	ErrCorruptIndex = errors.New("range index is corrupted")
	// ErrCorruptLog is returned when the persisted range table cannot be replayed.
	ErrCorruptLog = errors.New("range table is corrupted")
	// ErrHalfMerged is returned by a log whose truncating merge copied its
	// data into the base but failed to empty the table and data. Retrying
	// the merge clears it.
	ErrHalfMerged = errors.New("log is half merged")

	ErrUnknownType    = errors.New("unknown segment type")
	ErrMissingSegment = errors.New("segment missing from exchange")
	ErrShortBuffer    = errors.New("buffer shorter than the requested extents")
	ErrClosed         = errors.New("segment is closed")
)

// Err logs err together with the caller location and returns it.
func Err(err error) error {
	if err != nil {
		log.Printf("%s %+v", location(2, true), err)
	}
	return err
}

func location(deep int, fullPath bool) string {
	_, file, line, ok := runtime.Caller(deep)
	if !ok {
		file = "???"
		line = 0
	}
	if !fullPath {
		file = filepath.Base(file)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
