package file

import (
	"path/filepath"
	"strings"

	"extlog/utils"

	"github.com/google/uuid"
)

// NewFileName returns a fresh segment file path inside dir.
func NewFileName(dir string) string {
	return filepath.Join(dir, uuid.NewString()+utils.SegmentFileExt)
}

// IsSegmentFile reports whether name looks like a segment data file.
func IsSegmentFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), utils.SegmentFileExt)
}
