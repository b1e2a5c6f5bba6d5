//go:build linux
// +build linux

package file

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func protection(writable bool) int {
	if writable {
		return unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.PROT_READ
}

// mmap maps size bytes of fd shared, so stores reach the file.
func mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	return unix.Mmap(int(fd.Fd()), 0, int(size), protection(writable), unix.MAP_SHARED)
}

// munmap releases a mapping made by mmap or mremap. unix.Munmap only knows
// mappings it created itself, so the call is made directly.
func munmap(b []byte) error {
	if len(b) == 0 || len(b) != cap(b) {
		return unix.EINVAL
	}
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), 0); errno != 0 {
		return errno
	}
	return nil
}

// msync blocks until the dirty pages of b are on disk.
func msync(b []byte) error {
	return unix.Msync(b, unix.MS_SYNC)
}
