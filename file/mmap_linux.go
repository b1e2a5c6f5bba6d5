//go:build linux
// +build linux

package file

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mremap is a Linux-specific system call to remap pages in memory. This can be used in place of munmap + mmap.
func mremap(data []byte, size int) ([]byte, error) {
	// taken from <https://github.com/torvalds/linux/blob/f8394f232b1eab649ce2df5c5f15b0e528c92091/include/uapi/linux/mman.h#L8>
	const MREMAP_MAYMOVE = 0x1

	mmapAddr, _, errno := unix.Syscall6(
		unix.SYS_MREMAP,
		uintptr(unsafe.Pointer(&data[0])),
		uintptr(len(data)),
		uintptr(size),
		uintptr(MREMAP_MAYMOVE),
		0,
		0,
	)
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(mmapAddr)), size), nil
}

// Mremap unmmap and mmap
func Mremap(data []byte, size int) ([]byte, error) {
	return mremap(data, size)
}
