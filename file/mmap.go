package file

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// MmapFile represents an mmapd file and includes both the buffer to the data and the file descriptor.
// Data always spans the whole file; it is nil while the file is empty.
type MmapFile struct {
	Data []byte
	Fd   *os.File
}

func Mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	return mmap(fd, writable, size)
}

// Munmap unmaps a previously mapped slice.
func Munmap(b []byte) error {
	return munmap(b)
}

// Msync would call sync on the mmapped data.
func Msync(b []byte) error {
	return msync(b)
}

// OpenMmapFile opens filename and maps it. A file smaller than maxSz is
// extended to maxSz first.
func OpenMmapFile(filename string, flag int, maxSz int) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, flag, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open: %s", filename)
	}
	writable := flag&(os.O_RDWR|os.O_WRONLY) != 0
	return OpenMmapFileUsing(fd, maxSz, writable)
}

func OpenMmapFileUsing(fd *os.File, sz int, writable bool) (*MmapFile, error) {
	filename := fd.Name()
	fi, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot stat file: %s", filename)
	}
	fileSize := fi.Size()
	if sz > 0 && fileSize < int64(sz) {
		if err := fd.Truncate(int64(sz)); err != nil {
			return nil, errors.Wrapf(err, "error while truncation: %s", filename)
		}
		fileSize = int64(sz)
	}
	m := &MmapFile{Fd: fd}
	if fileSize == 0 {
		return m, nil
	}
	m.Data, err = Mmap(fd, writable, fileSize)
	if err != nil {
		return nil, errors.Wrapf(err, "while mmapping %s with size: %d", filename, fileSize)
	}
	return m, nil
}

func (m *MmapFile) Size() int64 {
	return int64(len(m.Data))
}

// Bytes returns data starting from offset off of size sz.
func (m *MmapFile) Bytes(off, sz int) ([]byte, error) {
	if off < 0 || sz < 0 || off+sz > len(m.Data) {
		return nil, io.EOF
	}
	return m.Data[off : off+sz], nil
}

type mmapReader struct {
	Data   []byte
	offset int
}

func (mr *mmapReader) Read(buf []byte) (int, error) {
	if mr.offset >= len(mr.Data) {
		return 0, io.EOF
	}
	n := copy(buf, mr.Data[mr.offset:])
	mr.offset += n
	return n, nil
}

func (m *MmapFile) NewReader(offset int) io.Reader {
	return &mmapReader{
		Data:   m.Data,
		offset: offset,
	}
}

// Truncate resizes the file and its mapping.
func (m *MmapFile) Truncate(maxSz int64) error {
	if maxSz == int64(len(m.Data)) {
		return nil
	}
	if err := m.Sync(); err != nil {
		return errors.Wrapf(err, "while sync file: %s", m.Fd.Name())
	}
	if maxSz == 0 {
		if err := Munmap(m.Data); err != nil {
			return errors.Wrapf(err, "while munmap file: %s", m.Fd.Name())
		}
		m.Data = nil
		return errors.Wrapf(m.Fd.Truncate(0), "while truncate file: %s", m.Fd.Name())
	}
	// pages past the end of the file must never be mapped
	if maxSz < int64(len(m.Data)) {
		data, err := Mremap(m.Data, int(maxSz))
		if err != nil {
			return errors.Wrapf(err, "while mremap file: %s", m.Fd.Name())
		}
		m.Data = data
		return errors.Wrapf(m.Fd.Truncate(maxSz), "while truncate file: %s", m.Fd.Name())
	}
	if err := m.Fd.Truncate(maxSz); err != nil {
		return errors.Wrapf(err, "while truncate file: %s", m.Fd.Name())
	}
	var err error
	if m.Data == nil {
		m.Data, err = Mmap(m.Fd, true, maxSz)
	} else {
		m.Data, err = Mremap(m.Data, int(maxSz))
	}
	return errors.Wrapf(err, "while mapping file: %s", m.Fd.Name())
}

// Sync flushes the mapped pages to disk.
func (m *MmapFile) Sync() error {
	if m == nil || len(m.Data) == 0 {
		return nil
	}
	return Msync(m.Data)
}

// Close unmaps and closes the file.
func (m *MmapFile) Close() error {
	if m.Fd == nil {
		return nil
	}
	if err := m.Sync(); err != nil {
		return errors.Wrapf(err, "while sync file: %s", m.Fd.Name())
	}
	if len(m.Data) > 0 {
		if err := Munmap(m.Data); err != nil {
			return errors.Wrapf(err, "while munmap file: %s", m.Fd.Name())
		}
		m.Data = nil
	}
	err := m.Fd.Close()
	m.Fd = nil
	return err
}

// Delete closes the file and removes it from disk.
func (m *MmapFile) Delete() error {
	if m.Fd == nil {
		return nil
	}
	name := m.Fd.Name()
	if err := m.Close(); err != nil {
		return err
	}
	return errors.Wrapf(os.Remove(name), "while remove file: %s", name)
}
