// Package emu provides functional RISC-V emulation.
package emu

import (
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
	"github.com/sarchlab/rvemu/loader"
	"github.com/sarchlab/rvemu/mem"
)

// Default guest layout parameters.
const (
	// DefaultMemoryMax bounds the guest address space (64 MiB).
	DefaultMemoryMax = 64 * 1024 * 1024
	// DefaultStackSize is the size of the preallocated stack (1 MiB).
	DefaultStackSize = 1 * 1024 * 1024
	// stackTop64 and stackTop32 are the conventional stack top addresses.
	stackTop64 = 0x40000000000
	stackTop32 = 0xF0000000
)

// Machine owns a CPU and a guest address space and exposes the embedder
// API: run/stop, host calls into the guest, the syscall handler table,
// and snapshots.
type Machine struct {
	regs    *RegFile
	cpu     *CPU
	memory  *mem.Memory
	decoder *insts.Decoder
	program *loader.Program

	syscalls map[uint64]SyscallHandler
	fdTable  *FDTable

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	stopped  bool
	exited   bool
	exitCode int64

	heapEnd uint64

	// Options.
	xlen            int
	loadProgram     bool
	protectSegments bool
	verboseLoader   bool
	sharedRodata    bool
	strictSyscalls  bool
	lazyDecoding    bool
	noDecoderCache  bool
	memoryMax       uint64
	alignChecks     bool

	binary []byte
}

// MachineOption is a functional option for configuring a Machine.
type MachineOption func(*Machine)

// WithXLEN selects the register width: 32 or 64. The default is 64.
func WithXLEN(xlen int) MachineOption {
	return func(m *Machine) { m.xlen = xlen }
}

// WithStdout sets a custom stdout writer for the default syscall
// handlers.
func WithStdout(w io.Writer) MachineOption {
	return func(m *Machine) { m.stdout = w }
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) MachineOption {
	return func(m *Machine) { m.stderr = w }
}

// WithStdin sets a custom stdin reader.
func WithStdin(r io.Reader) MachineOption {
	return func(m *Machine) { m.stdin = r }
}

// WithMemoryMax bounds the guest address space in bytes.
func WithMemoryMax(bytes uint64) MachineOption {
	return func(m *Machine) { m.memoryMax = bytes }
}

// WithoutProgramLoading skips the ELF loader; the embedder maps memory
// and sets the start address itself.
func WithoutProgramLoading() MachineOption {
	return func(m *Machine) { m.loadProgram = false }
}

// WithoutSegmentProtection widens every loaded segment to read-write
// (plus execute where the segment had it).
func WithoutSegmentProtection() MachineOption {
	return func(m *Machine) { m.protectSegments = false }
}

// WithVerboseLoader prints segment and symbol information during
// loading.
func WithVerboseLoader() MachineOption {
	return func(m *Machine) { m.verboseLoader = true }
}

// WithSharedRodata installs read-only segments as shared pages pointing
// into the parsed binary instead of owned copies. Multiple machines
// built from the same binary then share those bytes until one of them
// writes.
func WithSharedRodata() MachineOption {
	return func(m *Machine) { m.sharedRodata = true }
}

// WithStrictSyscalls makes unhandled syscalls fail the machine instead
// of returning -ENOSYS to the guest.
func WithStrictSyscalls() MachineOption {
	return func(m *Machine) { m.strictSyscalls = true }
}

// WithLazyDecoding skips decoder-cache pregeneration; slots fill on
// first fetch. Guest stores to the execute segment do not reach
// instruction fetch in this mode either.
func WithLazyDecoding() MachineOption {
	return func(m *Machine) { m.lazyDecoding = true }
}

// WithoutDecoderCache disables the decoder cache entirely; every fetch
// decodes from scratch.
func WithoutDecoderCache() MachineOption {
	return func(m *Machine) {
		m.noDecoderCache = true
		m.lazyDecoding = true
	}
}

// WithAlignmentChecks makes misaligned data accesses fail with a
// misaligned-access fault.
func WithAlignmentChecks() MachineOption {
	return func(m *Machine) { m.alignChecks = true }
}

// NewMachine constructs a machine from an ELF binary. Construction runs
// the loader, initializes the address space, zeroes the registers, and
// points PC at the entry point.
func NewMachine(binary []byte, opts ...MachineOption) (*Machine, error) {
	m := &Machine{
		regs:            &RegFile{},
		syscalls:        make(map[uint64]SyscallHandler),
		fdTable:         NewFDTable(),
		stdin:           os.Stdin,
		stdout:          os.Stdout,
		stderr:          os.Stderr,
		xlen:            64,
		loadProgram:     true,
		protectSegments: true,
		memoryMax:       DefaultMemoryMax,
		binary:          binary,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.xlen != 32 && m.xlen != 64 {
		return nil, fault.New(fault.InvalidArgument,
			"XLEN must be 32 or 64", uint64(m.xlen))
	}

	m.decoder = insts.NewDecoder(m.xlen)

	memOpts := []mem.MemoryOption{
		mem.WithMemoryMax(m.memoryMax),
		mem.WithPageFaultHandler(mem.LazyPageFault),
	}
	if m.alignChecks {
		memOpts = append(memOpts, mem.WithAlignmentChecks())
	}
	m.memory = mem.NewMemory(memOpts...)
	m.cpu = NewCPU(m.regs, m.memory, m.decoder)
	m.cpu.system = m.SystemCall
	m.cpu.noCache = m.noDecoderCache

	if m.loadProgram {
		if err := m.loadBinary(); err != nil {
			return nil, err
		}
	}

	m.installDefaultSyscalls()
	m.cpu.Reset()
	return m, nil
}

// loadBinary parses the ELF image and populates the address space.
func (m *Machine) loadBinary() error {
	prog, err := loader.Load(m.binary, m.xlen)
	if err != nil {
		return err
	}
	m.program = prog

	if m.verboseLoader {
		fmt.Fprintf(m.stdout, "* Entry point: 0x%X\n", prog.EntryPoint)
	}

	var highest uint64
	for _, seg := range prog.Segments {
		if err := m.loadSegment(seg); err != nil {
			return err
		}
		if end := seg.VirtAddr + seg.MemSize; end > highest {
			highest = end
		}
	}
	m.heapEnd = (highest + mem.PageMask) &^ uint64(mem.PageMask)

	// The execute segment is a flat constant copy of the executable
	// range; the decoder cache spans it.
	execData := make([]byte, prog.ExecSize)
	for _, seg := range prog.Segments {
		if seg.Flags&loader.SegmentFlagExecute == 0 {
			continue
		}
		off := seg.VirtAddr - prog.ExecBase
		copy(execData[off:], seg.Data)
	}
	m.memory.SetExecSegment(prog.ExecBase, execData)
	if !m.lazyDecoding {
		m.memory.Pregenerate(m.decoder, prog.ExecBase, prog.ExecSize)
	}

	m.memory.SetStartAddress(prog.EntryPoint)

	stackTop := uint64(stackTop64)
	if m.xlen == 32 {
		stackTop = stackTop32
	}
	if err := m.memory.SetPageAttr(stackTop-DefaultStackSize,
		DefaultStackSize, mem.AttrRW); err != nil {
		return err
	}
	m.memory.SetStackInitial((stackTop - 16) &^ uint64(15))

	exitAddr, ok := prog.ResolveAddress("_exit")
	if !ok {
		exitAddr = prog.ExecBase + prog.ExecSize
	}
	m.memory.SetExitAddress(exitAddr)

	if m.verboseLoader {
		fmt.Fprintf(m.stdout, "* Stack: 0x%X, exit: 0x%X\n",
			m.memory.StackInitial(), exitAddr)
	}
	return nil
}

// loadSegment materializes the pages of one LOAD segment.
func (m *Machine) loadSegment(seg loader.Segment) error {
	if m.verboseLoader {
		fmt.Fprintf(m.stdout, "* Loading segment 0x%X -> 0x%X (%d bytes)\n",
			seg.VirtAddr, seg.VirtAddr+seg.MemSize, len(seg.Data))
	}

	attr := mem.Attr{
		Read:  seg.Flags&loader.SegmentFlagRead != 0,
		Write: seg.Flags&loader.SegmentFlagWrite != 0,
		Exec:  seg.Flags&loader.SegmentFlagExecute != 0,
	}
	if !m.protectSegments {
		attr.Read = true
		attr.Write = true
	}

	// Shared read-only segments point straight into the parsed bytes;
	// a write COWs the touched page into this machine only.
	if m.sharedRodata && !attr.Write &&
		seg.VirtAddr&mem.PageMask == 0 {
		return m.loadSharedSegment(seg, attr)
	}

	if err := m.memory.MemCpy(seg.VirtAddr, seg.Data); err != nil {
		return err
	}
	tail := seg.MemSize - uint64(len(seg.Data))
	if tail > 0 {
		if err := m.memory.MemSet(seg.VirtAddr+uint64(len(seg.Data)), 0, tail); err != nil {
			return err
		}
	}
	return m.memory.SetPageAttr(seg.VirtAddr, seg.MemSize, attr)
}

func (m *Machine) loadSharedSegment(seg loader.Segment, attr mem.Attr) error {
	pageno := seg.VirtAddr >> mem.PageShift
	off := 0
	for ; off+mem.PageSize <= len(seg.Data); off += mem.PageSize {
		m.memory.InstallSharedPage(pageno,
			mem.NewSharedPage(seg.Data[off:off+mem.PageSize], attr))
		pageno++
	}
	// Partial tail page and BSS become owned pages.
	if rest := seg.MemSize - uint64(off); rest > 0 {
		base := seg.VirtAddr + uint64(off)
		if err := m.memory.MemCpy(base, seg.Data[off:]); err != nil {
			return err
		}
		if err := m.memory.SetPageAttr(base, rest, attr); err != nil {
			return err
		}
	}
	return nil
}

// Memory returns the guest address space.
func (m *Machine) Memory() *mem.Memory {
	return m.memory
}

// CPU returns the machine's CPU.
func (m *Machine) CPU() *CPU {
	return m.cpu
}

// RegFile returns the machine's register file.
func (m *Machine) RegFile() *RegFile {
	return m.regs
}

// InstructionCount returns the number of retired instructions.
func (m *Machine) InstructionCount() uint64 {
	return m.cpu.InstructionCount()
}

// Stop requests the run loop to exit at the next instruction boundary.
func (m *Machine) Stop() {
	m.stopped = true
}

// Stopped reports whether the stop flag is set.
func (m *Machine) Stopped() bool {
	return m.stopped
}

// Exited reports whether the guest terminated through an exit syscall.
func (m *Machine) Exited() bool {
	return m.exited
}

// ExitCode returns the guest exit status.
func (m *Machine) ExitCode() int64 {
	return m.exitCode
}

// Reset returns the machine to its just-constructed state: reloaded
// memory, zeroed registers, PC at the entry point.
func (m *Machine) Reset() error {
	m.memory.FreePages(0, ^uint64(0))
	if m.loadProgram {
		if err := m.loadBinary(); err != nil {
			return err
		}
	}
	m.cpu.Reset()
	m.stopped = false
	m.exited = false
	m.exitCode = 0
	return nil
}

// Simulate runs until the machine stops, a handler fails, or maxInstr
// more instructions have retired. maxInstr == 0 means unbounded. The
// stop flag is observed at instruction boundaries only.
func (m *Machine) Simulate(maxInstr uint64) error {
	m.stopped = false
	limit := uint64(0)
	if maxInstr != 0 {
		limit = m.cpu.InstructionCount() + maxInstr
	}

	for !m.stopped {
		if pc := m.regs.PC; pc == m.memory.ExitAddress() && pc != 0 {
			m.stopped = true
			break
		}
		if err := m.cpu.Step(); err != nil {
			return err
		}
		if limit != 0 && m.cpu.InstructionCount() >= limit {
			break
		}
	}
	return nil
}

// VMCall resolves a symbol, sets up a call with up to 8 integer
// arguments, and (when exec is set) runs until the machine stops.
// The return value is the guest's a0.
func (m *Machine) VMCall(name string, args []uint64, exec bool, maxInstr uint64) (uint64, error) {
	addr, ok := m.AddressOf(name)
	if !ok {
		return 0, fault.New(fault.InvalidArgument, "no such symbol: "+name, 0)
	}
	if err := m.SetupCall(addr, m.memory.ExitAddress(), args); err != nil {
		return 0, err
	}
	if exec {
		if err := m.Simulate(maxInstr); err != nil {
			return 0, err
		}
		return m.regs.ReadReg(RegA0), nil
	}
	return 0, nil
}

// SetupCall points the guest at callAddr with the given arguments and
// retAddr in the return-address register.
func (m *Machine) SetupCall(callAddr, retAddr uint64, args []uint64) error {
	if len(args) > 8 {
		return fault.New(fault.InvalidArgument,
			"too many vmcall arguments", uint64(len(args)))
	}
	m.regs.WriteReg(RegRA, retAddr)
	for i, arg := range args {
		m.regs.WriteReg(RegA0+uint8(i), arg)
	}
	m.cpu.Jump(callAddr)
	return nil
}

// RealignStack masks the stack pointer down to the given alignment,
// which must be 4, 8, or 16.
func (m *Machine) RealignStack(align uint8) error {
	var mask uint64
	switch align {
	case 4:
		mask = 0x3
	case 8:
		mask = 0x7
	case 16:
		mask = 0xF
	default:
		return fault.New(fault.InvalidAlignment,
			"invalid alignment", uint64(align))
	}
	m.regs.WriteReg(RegSP, m.regs.ReadReg(RegSP)&^mask)
	return nil
}

// CopyToGuest copies a host buffer into guest memory and returns the
// address just past the copy.
func (m *Machine) CopyToGuest(dst uint64, buf []byte) (uint64, error) {
	if err := m.memory.MemCpy(dst, buf); err != nil {
		return 0, err
	}
	return dst + uint64(len(buf)), nil
}

// AddressOf resolves a symbol name to its address.
func (m *Machine) AddressOf(name string) (uint64, bool) {
	if m.program == nil {
		return 0, false
	}
	return m.program.ResolveAddress(name)
}

// Lookup returns the symbol enclosing addr, for backtraces.
func (m *Machine) Lookup(addr uint64) loader.Callsite {
	if m.program == nil {
		return loader.Callsite{Name: "(null)"}
	}
	return m.program.Lookup(addr)
}

// PrintBacktrace prints the callsites of the current PC and return
// address through the given printer.
func (m *Machine) PrintBacktrace(print func(line string)) {
	print(fmt.Sprintf("[0] 0x%X  %s", m.regs.PC, m.Lookup(m.regs.PC)))
	ra := m.regs.ReadReg(RegRA)
	print(fmt.Sprintf("[1] 0x%X  %s", ra, m.Lookup(ra)))
}
