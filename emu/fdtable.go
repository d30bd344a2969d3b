// Package emu provides functional RISC-V emulation.
package emu

import (
	"os"
	"time"
)

// Guest open(2) flag bits of the RISC-V Linux ABI (the asm-generic
// values). They do not match the host's os package constants on every
// platform, so the table translates rather than passing them through.
const (
	guestORDONLY    = 0x0
	guestOWRONLY    = 0x1
	guestORDWR      = 0x2
	guestOACCMODE   = 0x3
	guestOCREAT     = 0x40
	guestOEXCL      = 0x80
	guestOTRUNC     = 0x200
	guestOAPPEND    = 0x400
	guestODIRECTORY = 0x10000
)

// GuestAtFDCWD is the dirfd value guests pass to openat for
// path resolution relative to the working directory.
const GuestAtFDCWD = -100

// hostOpenFlags translates guest open flags into os.OpenFile flags.
func hostOpenFlags(guestFlags uint64) int {
	var flags int
	switch guestFlags & guestOACCMODE {
	case guestORDONLY:
		flags = os.O_RDONLY
	case guestOWRONLY:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDWR
	}
	if guestFlags&guestOCREAT != 0 {
		flags |= os.O_CREATE
	}
	if guestFlags&guestOEXCL != 0 {
		flags |= os.O_EXCL
	}
	if guestFlags&guestOTRUNC != 0 {
		flags |= os.O_TRUNC
	}
	if guestFlags&guestOAPPEND != 0 {
		flags |= os.O_APPEND
	}
	return flags
}

// FileDescriptor is one open guest descriptor backed by a host file.
// The standard streams occupy 0-2 with no host file; their traffic is
// routed to the machine's stdin/stdout/stderr by the syscall handlers.
type FileDescriptor struct {
	hostFile *os.File
	path     string
	open     bool
}

// Path returns the path the descriptor was opened with.
func (fd *FileDescriptor) Path() string {
	return fd.path
}

// FDTable maps guest file descriptor numbers to host files. A machine
// runs on a single execution thread, so the table is unsynchronized
// like the rest of the machine state.
type FDTable struct {
	fds    map[uint64]*FileDescriptor
	nextFD uint64
}

// NewFDTable creates a descriptor table with the standard streams
// preopened.
func NewFDTable() *FDTable {
	t := &FDTable{
		fds:    make(map[uint64]*FileDescriptor),
		nextFD: 3,
	}
	t.fds[0] = &FileDescriptor{path: "stdin", open: true}
	t.fds[1] = &FileDescriptor{path: "stdout", open: true}
	t.fds[2] = &FileDescriptor{path: "stderr", open: true}
	return t
}

// Open opens a host file for the guest and returns the new descriptor
// number. guestFlags uses the guest ABI encoding. A relative path needs
// dirfd == GuestAtFDCWD (relative lookup through another descriptor is
// not supported and fails); for an absolute path dirfd is ignored.
func (t *FDTable) Open(dirfd int64, path string, guestFlags uint64, mode os.FileMode) (uint64, error) {
	if path == "" {
		return 0, os.ErrInvalid
	}
	if dirfd != GuestAtFDCWD && path[0] != '/' {
		return 0, os.ErrInvalid
	}
	if guestFlags&guestODIRECTORY != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			return 0, os.ErrInvalid
		}
	}

	hostFile, err := os.OpenFile(path, hostOpenFlags(guestFlags), mode)
	if err != nil {
		return 0, err
	}

	fd := t.nextFD
	t.nextFD++
	t.fds[fd] = &FileDescriptor{
		hostFile: hostFile,
		path:     path,
		open:     true,
	}
	return fd, nil
}

// lookup returns the open descriptor entry for fd, or nil.
func (t *FDTable) lookup(fd uint64) *FileDescriptor {
	entry := t.fds[fd]
	if entry == nil || !entry.open {
		return nil
	}
	return entry
}

// IsOpen reports whether fd refers to an open descriptor.
func (t *FDTable) IsOpen(fd uint64) bool {
	return t.lookup(fd) != nil
}

// Close closes a descriptor. Closing a standard stream only marks it
// closed; the host streams stay usable.
func (t *FDTable) Close(fd uint64) error {
	entry := t.lookup(fd)
	if entry == nil {
		return os.ErrInvalid
	}
	entry.open = false
	if entry.hostFile == nil {
		return nil
	}
	err := entry.hostFile.Close()
	entry.hostFile = nil
	return err
}

// Read reads from a host-backed descriptor. Descriptor 0 is serviced by
// the syscall handler, not the table.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	entry := t.lookup(fd)
	if entry == nil || entry.hostFile == nil {
		return 0, os.ErrInvalid
	}
	return entry.hostFile.Read(buf)
}

// Write writes to a host-backed descriptor. Descriptors 1 and 2 are
// serviced by the syscall handler, not the table.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	entry := t.lookup(fd)
	if entry == nil || entry.hostFile == nil {
		return 0, os.ErrInvalid
	}
	return entry.hostFile.Write(buf)
}

// Seek repositions a host-backed descriptor. The standard streams are
// not seekable.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	entry := t.lookup(fd)
	if entry == nil || entry.hostFile == nil {
		return 0, os.ErrInvalid
	}
	return entry.hostFile.Seek(offset, whence)
}

// Stat returns file information for fd. The standard streams report as
// character devices, which is what guests probing for a terminal
// expect.
func (t *FDTable) Stat(fd uint64) (os.FileInfo, error) {
	entry := t.lookup(fd)
	if entry == nil {
		return nil, os.ErrInvalid
	}
	if entry.hostFile == nil {
		return &stdioFileInfo{name: entry.path}, nil
	}
	return entry.hostFile.Stat()
}

// stdioFileInfo is the stub FileInfo reported for the standard streams.
type stdioFileInfo struct {
	name string
}

func (f *stdioFileInfo) Name() string       { return f.name }
func (f *stdioFileInfo) Size() int64        { return 0 }
func (f *stdioFileInfo) Mode() os.FileMode  { return os.ModeCharDevice | 0666 }
func (f *stdioFileInfo) ModTime() time.Time { return time.Time{} }
func (f *stdioFileInfo) IsDir() bool        { return false }
func (f *stdioFileInfo) Sys() interface{}   { return nil }
