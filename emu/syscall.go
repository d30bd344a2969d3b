// Package emu provides functional RISC-V emulation.
package emu

import (
	"os"

	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/mem"
)

// RISC-V Linux syscall numbers serviced by the default handlers.
const (
	SyscallOpenAt uint64 = 56  // openat(dirfd, path, flags, mode)
	SyscallClose  uint64 = 57  // close(fd)
	SyscallLSeek  uint64 = 62  // lseek(fd, offset, whence)
	SyscallRead   uint64 = 63  // read(fd, buf, count)
	SyscallWrite  uint64 = 64  // write(fd, buf, count)
	SyscallFStat  uint64 = 80  // fstat(fd, statbuf)
	SyscallExit   uint64 = 93  // exit(status)
	SyscallExitG  uint64 = 94  // exit_group(status)
	SyscallBrk    uint64 = 214 // brk(addr)
)

// SyscallEbreak is the syscall number EBREAK dispatches through, so a
// debugger handler can be installed like any other syscall.
const SyscallEbreak uint64 = 0

// Linux error codes returned to the guest.
const (
	EBADF  = 9  // Bad file descriptor
	ENOSYS = 38 // Function not implemented
	EIO    = 5  // I/O error
	EFAULT = 14 // Bad address
)

// SyscallHandler services one guest system call. The returned value is
// written to the guest's a0 register, except for the EBREAK number,
// which must not clobber registers.
type SyscallHandler func(m *Machine) (uint64, error)

// SystemCall dispatches syscall number num through the handler table.
// It is invoked by the ECALL and EBREAK handlers.
func (m *Machine) SystemCall(num uint64) error {
	if handler, ok := m.syscalls[num]; ok {
		ret, err := handler(m)
		if err != nil {
			return err
		}
		if num != SyscallEbreak {
			m.regs.WriteReg(RegA0, ret)
		}
		return nil
	}
	if m.strictSyscalls {
		return fault.New(fault.UnhandledSyscall, "unhandled syscall", num)
	}
	if num != SyscallEbreak {
		m.regs.WriteReg(RegA0, errnoReg(ENOSYS))
	}
	return nil
}

// InstallSyscallHandler registers a handler for syscall number num.
func (m *Machine) InstallSyscallHandler(num uint64, h SyscallHandler) {
	m.syscalls[num] = h
}

// GetSyscallHandler returns the registered handler for num, or nil.
func (m *Machine) GetSyscallHandler(num uint64) SyscallHandler {
	return m.syscalls[num]
}

// Sysarg returns integer syscall argument idx (0-7).
func (m *Machine) Sysarg(idx int) uint64 {
	return m.regs.ReadReg(RegA0 + uint8(idx))
}

func errnoReg(errno int) uint64 {
	return uint64(-int64(errno))
}

// installDefaultSyscalls registers the host-policy handlers for the
// newlib-style syscall set small freestanding guests use.
func (m *Machine) installDefaultSyscalls() {
	m.InstallSyscallHandler(SyscallWrite, handleWrite)
	m.InstallSyscallHandler(SyscallRead, handleRead)
	m.InstallSyscallHandler(SyscallExit, handleExit)
	m.InstallSyscallHandler(SyscallExitG, handleExit)
	m.InstallSyscallHandler(SyscallBrk, handleBrk)
	m.InstallSyscallHandler(SyscallClose, handleClose)
	m.InstallSyscallHandler(SyscallOpenAt, handleOpenAt)
	m.InstallSyscallHandler(SyscallLSeek, handleLSeek)
	m.InstallSyscallHandler(SyscallFStat, handleFStat)
}

// handleExit stops the machine and records the guest exit status.
func handleExit(m *Machine) (uint64, error) {
	m.exitCode = int64(m.signedArg(0))
	m.exited = true
	m.Stop()
	return m.Sysarg(0), nil
}

func (m *Machine) signedArg(idx int) int64 {
	v := m.Sysarg(idx)
	if m.xlen == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// handleWrite services write(fd, buf, count). Descriptors 1 and 2 go to
// the machine's stdout/stderr writers; others go through the descriptor
// table.
func handleWrite(m *Machine) (uint64, error) {
	fd := m.Sysarg(0)
	bufPtr := m.Sysarg(1)
	count := m.Sysarg(2)

	buf := make([]byte, count)
	if err := m.memory.MemCpyOut(buf, bufPtr); err != nil {
		return errnoReg(EFAULT), nil
	}

	var n int
	var err error
	switch fd {
	case 1:
		n, err = m.stdout.Write(buf)
	case 2:
		n, err = m.stderr.Write(buf)
	default:
		n, err = m.fdTable.Write(fd, buf)
	}
	if err != nil {
		return errnoReg(EIO), nil
	}
	return uint64(n), nil
}

// handleRead services read(fd, buf, count).
func handleRead(m *Machine) (uint64, error) {
	fd := m.Sysarg(0)
	bufPtr := m.Sysarg(1)
	count := m.Sysarg(2)

	buf := make([]byte, count)
	var n int
	var err error
	if fd == 0 {
		if m.stdin == nil {
			return 0, nil
		}
		n, err = m.stdin.Read(buf)
	} else {
		n, err = m.fdTable.Read(fd, buf)
	}
	if err != nil && n == 0 {
		return 0, nil
	}
	if err := m.memory.MemCpy(bufPtr, buf[:n]); err != nil {
		return errnoReg(EFAULT), nil
	}
	return uint64(n), nil
}

// handleBrk services brk(addr): a zero argument queries the current
// break, anything else moves it. Pages materialize lazily.
func handleBrk(m *Machine) (uint64, error) {
	addr := m.Sysarg(0)
	if addr != 0 {
		m.heapEnd = addr
	}
	return m.heapEnd, nil
}

func handleClose(m *Machine) (uint64, error) {
	fd := m.Sysarg(0)
	if err := m.fdTable.Close(fd); err != nil {
		return errnoReg(EBADF), nil
	}
	return 0, nil
}

func handleOpenAt(m *Machine) (uint64, error) {
	dirfd := m.signedArg(0)
	path, err := m.memory.MemString(m.Sysarg(1), mem.DefaultMaxString)
	if err != nil {
		return errnoReg(EFAULT), nil
	}
	if path == "" {
		return errnoReg(EBADF), nil
	}
	guestFlags := m.Sysarg(2)
	mode := os.FileMode(m.Sysarg(3) & 0777)

	fd, err := m.fdTable.Open(dirfd, path, guestFlags, mode)
	if err != nil {
		return errnoReg(EBADF), nil
	}
	return fd, nil
}

func handleLSeek(m *Machine) (uint64, error) {
	pos, err := m.fdTable.Seek(m.Sysarg(0), m.signedArg(1), int(m.Sysarg(2)))
	if err != nil {
		return errnoReg(EBADF), nil
	}
	return uint64(pos), nil
}

// handleFStat fills a minimal stat buffer: st_mode and st_size at their
// RISC-V Linux offsets, everything else zero.
func handleFStat(m *Machine) (uint64, error) {
	fd := m.Sysarg(0)
	statPtr := m.Sysarg(1)

	info, err := m.fdTable.Stat(fd)
	if err != nil {
		return errnoReg(EBADF), nil
	}

	const statSize = 128
	if err := m.memory.MemSet(statPtr, 0, statSize); err != nil {
		return errnoReg(EFAULT), nil
	}
	mode := uint32(info.Mode().Perm())
	if info.Mode()&os.ModeCharDevice != 0 {
		mode |= 0x2000 // S_IFCHR
	} else if info.IsDir() {
		mode |= 0x4000 // S_IFDIR
	} else {
		mode |= 0x8000 // S_IFREG
	}
	if err := m.memory.Write32(statPtr+16, mode); err != nil {
		return errnoReg(EFAULT), nil
	}
	if err := m.memory.Write64(statPtr+48, uint64(info.Size())); err != nil {
		return errnoReg(EFAULT), nil
	}
	return 0, nil
}
