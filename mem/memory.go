// Package mem provides the paged guest address space.
package mem

import (
	"encoding/binary"

	"github.com/sarchlab/rvemu/fault"
)

// PageFaultHandler is invoked when an access touches an unmapped page.
// It must return a page for the engine to install, or an error.
type PageFaultHandler func(m *Memory, pageno uint64) (*Page, error)

// PageWriteHandler is invoked when a write touches a shared read-only
// page. The default handler promotes the page to an owned copy.
type PageWriteHandler func(m *Memory, pageno uint64, p *Page) error

// Memory is the guest address space: a sparse page map with single-slot
// hot caches, an execute segment for instruction fetch, and the decoder
// cache that belongs to it.
type Memory struct {
	pages map[uint64]*Page

	// Single-slot caches for the most recently used readable and
	// writable pages. Invalidated on any page insertion, removal,
	// attribute change, or COW promotion.
	rdPageno uint64
	rdPage   *Page
	wrPageno uint64
	wrPage   *Page

	pageFault PageFaultHandler
	pageWrite PageWriteHandler

	maxPages   uint64
	alignCheck bool

	startAddr uint64
	stackAddr uint64
	exitAddr  uint64

	// Execute segment: a contiguous flat copy of the executable pages,
	// fixed after load. Instruction fetch and the decoder cache operate
	// on this view only.
	execBase uint64
	execData []byte
	dcache   *DecoderCache
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithMemoryMax bounds the address space to the given number of bytes of
// active pages. Zero means unbounded.
func WithMemoryMax(bytes uint64) MemoryOption {
	return func(m *Memory) {
		m.maxPages = bytes / PageSize
	}
}

// WithAlignmentChecks makes misaligned accesses fail instead of taking
// the byte-wise fallback.
func WithAlignmentChecks() MemoryOption {
	return func(m *Memory) {
		m.alignCheck = true
	}
}

// WithPageFaultHandler replaces the default page-fault handler, which
// treats unmapped memory as forbidden.
func WithPageFaultHandler(h PageFaultHandler) MemoryOption {
	return func(m *Memory) {
		m.pageFault = h
	}
}

// NewMemory creates an empty address space.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		pages:     make(map[uint64]*Page),
		rdPageno:  ^uint64(0),
		wrPageno:  ^uint64(0),
		pageFault: DefaultPageFault,
		pageWrite: defaultPageWrite,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultPageFault fails every access to unmapped memory.
func DefaultPageFault(m *Memory, pageno uint64) (*Page, error) {
	return nil, fault.New(fault.ProtectionFault,
		"access to unmapped memory", pageno<<PageShift)
}

// LazyPageFault materializes a zero page with read-write attributes, the
// common replacement handler for machines that demand-page their heap
// and stack.
func LazyPageFault(m *Memory, pageno uint64) (*Page, error) {
	if m.maxPages != 0 && uint64(len(m.pages)) >= m.maxPages {
		return nil, fault.New(fault.OutOfMemory,
			"max memory reached", pageno<<PageShift)
	}
	return NewPage(AttrRW), nil
}

func defaultPageWrite(m *Memory, pageno uint64, p *Page) error {
	p.promote()
	return nil
}

// SetPageFaultHandler replaces the page-fault handler.
func (m *Memory) SetPageFaultHandler(h PageFaultHandler) {
	m.pageFault = h
}

// SetPageWriteHandler replaces the COW promotion handler.
func (m *Memory) SetPageWriteHandler(h PageWriteHandler) {
	m.pageWrite = h
}

// PagesActive returns the number of pages in the active map.
func (m *Memory) PagesActive() int {
	return len(m.pages)
}

// StartAddress returns the program entry point.
func (m *Memory) StartAddress() uint64 { return m.startAddr }

// StackInitial returns the initial stack pointer.
func (m *Memory) StackInitial() uint64 { return m.stackAddr }

// ExitAddress returns the sentinel return address for outer calls.
func (m *Memory) ExitAddress() uint64 { return m.exitAddr }

// SetStartAddress records the program entry point.
func (m *Memory) SetStartAddress(addr uint64) { m.startAddr = addr }

// SetStackInitial records the initial stack pointer.
func (m *Memory) SetStackInitial(addr uint64) { m.stackAddr = addr }

// SetExitAddress records the sentinel return address for outer calls.
func (m *Memory) SetExitAddress(addr uint64) { m.exitAddr = addr }

// invalidateSlot drops the hot caches covering pageno.
func (m *Memory) invalidateSlot(pageno uint64) {
	if m.rdPageno == pageno {
		m.rdPageno = ^uint64(0)
		m.rdPage = nil
	}
	if m.wrPageno == pageno {
		m.wrPageno = ^uint64(0)
		m.wrPage = nil
	}
}

// GetPage returns the page covering addr, or nil if unmapped.
func (m *Memory) GetPage(addr uint64) *Page {
	return m.pages[pageNumber(addr)]
}

// GetPageNo returns the page with the given page number, or nil.
func (m *Memory) GetPageNo(pageno uint64) *Page {
	return m.pages[pageno]
}

// CreatePage materializes an owned zero page with RW attributes at the
// given page number, replacing any existing page.
func (m *Memory) CreatePage(pageno uint64) (*Page, error) {
	if m.maxPages != 0 && uint64(len(m.pages)) >= m.maxPages {
		return nil, fault.New(fault.OutOfMemory,
			"max memory reached", pageno<<PageShift)
	}
	p := NewPage(AttrRW)
	m.install(pageno, p)
	return p, nil
}

// install places a page into the active map and refreshes the caches.
func (m *Memory) install(pageno uint64, p *Page) {
	m.invalidateSlot(pageno)
	m.pages[pageno] = p
	if m.dcache != nil {
		m.dcache.InvalidatePage(pageno)
	}
}

// InstallSharedPage installs a shared read-only page at the given page
// number.
func (m *Memory) InstallSharedPage(pageno uint64, p *Page) {
	m.install(pageno, p)
}

// InsertNonOwnedMemory maps externally owned writable memory at dst. The
// destination must be page-aligned and buf a whole number of pages; the
// caller keeps ownership of buf and is responsible for its lifetime.
func (m *Memory) InsertNonOwnedMemory(dst uint64, buf []byte, attr Attr) error {
	if dst&PageMask != 0 || len(buf)%PageSize != 0 {
		return fault.New(fault.InvalidArgument,
			"non-owned memory must be page aligned", dst)
	}
	pageno := pageNumber(dst)
	for off := 0; off < len(buf); off += PageSize {
		m.install(pageno, NewNonOwnedPage(buf[off:off+PageSize], attr))
		pageno++
	}
	return nil
}

// FreePages unmaps every page covered by [addr, addr+length).
func (m *Memory) FreePages(addr uint64, length uint64) {
	if length == 0 {
		return
	}
	first := pageNumber(addr)
	last := pageNumber(addr + (length - 1))
	for pageno := range m.pages {
		if pageno >= first && pageno <= last {
			m.invalidateSlot(pageno)
			delete(m.pages, pageno)
		}
	}
}

// SetPageAttr applies attr to every page covered by [addr, addr+length),
// length-rounded to whole pages. Pages are materialized on demand.
func (m *Memory) SetPageAttr(addr uint64, length uint64, attr Attr) error {
	first := pageNumber(addr)
	last := pageNumber(addr + length + PageMask)
	for pageno := first; pageno < last; pageno++ {
		p := m.pages[pageno]
		if p == nil {
			var err error
			p, err = m.CreatePage(pageno)
			if err != nil {
				return err
			}
		}
		p.Attr = attr
		m.invalidateSlot(pageno)
		if m.dcache != nil {
			m.dcache.InvalidatePage(pageno)
		}
	}
	return nil
}

// Trap installs an MMIO callback on the page covering addr, materializing
// the page if needed.
func (m *Memory) Trap(addr uint64, cb TrapHandler) error {
	pageno := pageNumber(addr)
	p := m.pages[pageno]
	if p == nil {
		var err error
		p, err = m.CreatePage(pageno)
		if err != nil {
			return err
		}
	}
	p.SetTrap(cb)
	m.invalidateSlot(pageno)
	return nil
}

// getReadablePage resolves a page for reading: hot cache, then page map,
// then the page-fault handler.
func (m *Memory) getReadablePage(pageno uint64) (*Page, error) {
	if pageno == m.rdPageno {
		return m.rdPage, nil
	}
	p, ok := m.pages[pageno]
	if !ok {
		var err error
		p, err = m.pageFault(m, pageno)
		if err != nil {
			return nil, err
		}
		m.install(pageno, p)
	}
	if !p.Attr.Read {
		return nil, fault.New(fault.ProtectionFault,
			"read of non-readable page", pageno<<PageShift)
	}
	if !p.Trapped() {
		m.rdPageno = pageno
		m.rdPage = p
	}
	return p, nil
}

// getWritablePage resolves a page for writing, promoting shared pages
// through the page-write handler.
func (m *Memory) getWritablePage(pageno uint64) (*Page, error) {
	if pageno == m.wrPageno {
		return m.wrPage, nil
	}
	p, ok := m.pages[pageno]
	if !ok {
		var err error
		p, err = m.pageFault(m, pageno)
		if err != nil {
			return nil, err
		}
		m.install(pageno, p)
	}
	if p.IsShared() {
		m.invalidateSlot(pageno)
		if err := m.pageWrite(m, pageno, p); err != nil {
			return nil, err
		}
		if m.dcache != nil {
			m.dcache.InvalidatePage(pageno)
		}
	}
	if !p.Attr.Write {
		return nil, fault.New(fault.ProtectionFault,
			"write to non-writable page", pageno<<PageShift)
	}
	if !p.Trapped() {
		m.wrPageno = pageno
		m.wrPage = p
	}
	return p, nil
}

func (m *Memory) checkAlignment(addr uint64, size int) error {
	if m.alignCheck && addr&uint64(size-1) != 0 {
		return fault.New(fault.MisalignedAccess, "misaligned access", addr)
	}
	return nil
}

// readBytes assembles size bytes starting at addr, taking the byte-wise
// fallback when the access straddles a page boundary.
func (m *Memory) readBytes(addr uint64, size int) (uint64, error) {
	if err := m.checkAlignment(addr, size); err != nil {
		return 0, err
	}
	off := addr & PageMask
	if off+uint64(size) <= PageSize {
		p, err := m.getReadablePage(pageNumber(addr))
		if err != nil {
			return 0, err
		}
		if p.Trapped() {
			return p.trap(p, off, size, false, 0), nil
		}
		var v uint64
		for i := 0; i < size; i++ {
			v |= uint64(p.Data[off+uint64(i)]) << (8 * i)
		}
		return v, nil
	}
	var v uint64
	for i := 0; i < size; i++ {
		b, err := m.readBytes(addr+uint64(i), 1)
		if err != nil {
			return 0, err
		}
		v |= b << (8 * i)
	}
	return v, nil
}

// writeBytes stores size bytes at addr, taking the byte-wise fallback
// when the access straddles a page boundary.
func (m *Memory) writeBytes(addr uint64, size int, v uint64) error {
	if err := m.checkAlignment(addr, size); err != nil {
		return err
	}
	off := addr & PageMask
	if off+uint64(size) <= PageSize {
		pageno := pageNumber(addr)
		if p, ok := m.pages[pageno]; ok && p.Trapped() {
			p.trap(p, off, size, true, v)
			return nil
		}
		p, err := m.getWritablePage(pageno)
		if err != nil {
			return err
		}
		if p.Trapped() {
			p.trap(p, off, size, true, v)
			return nil
		}
		for i := 0; i < size; i++ {
			p.Data[off+uint64(i)] = byte(v >> (8 * i))
		}
		return nil
	}
	for i := 0; i < size; i++ {
		if err := m.writeBytes(addr+uint64(i), 1, v>>(8*i)); err != nil {
			return err
		}
	}
	return nil
}

// Read8 reads one byte of guest memory.
func (m *Memory) Read8(addr uint64) (uint8, error) {
	v, err := m.readBytes(addr, 1)
	return uint8(v), err
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint64) (uint16, error) {
	v, err := m.readBytes(addr, 2)
	return uint16(v), err
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint64) (uint32, error) {
	v, err := m.readBytes(addr, 4)
	return uint32(v), err
}

// Read64 reads a little-endian doubleword.
func (m *Memory) Read64(addr uint64) (uint64, error) {
	return m.readBytes(addr, 8)
}

// Write8 stores one byte of guest memory.
func (m *Memory) Write8(addr uint64, v uint8) error {
	return m.writeBytes(addr, 1, uint64(v))
}

// Write16 stores a little-endian halfword.
func (m *Memory) Write16(addr uint64, v uint16) error {
	return m.writeBytes(addr, 2, uint64(v))
}

// Write32 stores a little-endian word.
func (m *Memory) Write32(addr uint64, v uint32) error {
	return m.writeBytes(addr, 4, uint64(v))
}

// Write64 stores a little-endian doubleword.
func (m *Memory) Write64(addr uint64, v uint64) error {
	return m.writeBytes(addr, 8, v)
}

// SetExecSegment installs the contiguous execute segment: base must be
// the segment's first byte address and data its bytes. The decoder cache
// is sized to the page-rounded extent.
func (m *Memory) SetExecSegment(base uint64, data []byte) {
	m.execBase = base
	m.execData = data
	m.dcache = newDecoderCache(base, uint64(len(data)))
}

// ExecSegment returns the base address and length of the execute
// segment.
func (m *Memory) ExecSegment() (base uint64, length uint64) {
	return m.execBase, uint64(len(m.execData))
}

// InExecSegment reports whether addr can be fetched from.
func (m *Memory) InExecSegment(addr uint64) bool {
	return addr >= m.execBase && addr < m.execBase+uint64(len(m.execData))
}

// FetchHalf reads the instruction halfword at pc from the execute
// segment.
func (m *Memory) FetchHalf(pc uint64) (uint16, error) {
	if pc < m.execBase || pc+2 > m.execBase+uint64(len(m.execData)) {
		return 0, fault.New(fault.ExecSpaceProtectionFault,
			"fetch outside execute segment", pc)
	}
	return binary.LittleEndian.Uint16(m.execData[pc-m.execBase:]), nil
}

// FetchWord reads up to 4 instruction bytes at pc. Compressed
// instructions at the last halfword of the segment fetch only 2 bytes.
func (m *Memory) FetchWord(pc uint64) (uint32, error) {
	hw, err := m.FetchHalf(pc)
	if err != nil {
		return 0, err
	}
	if hw&0b11 != 0b11 {
		return uint32(hw), nil
	}
	hi, err := m.FetchHalf(pc + 2)
	if err != nil {
		return 0, err
	}
	return uint32(hw) | uint32(hi)<<16, nil
}

// DecoderCache returns the decoder cache covering the execute segment,
// or nil when no execute segment is installed.
func (m *Memory) DecoderCache() *DecoderCache {
	return m.dcache
}

// InvalidatePage refills the execute-segment view of pageno from the
// current page backing and drops the decoder cache for it. Callers must
// invoke it after changing the backing of any page inside the execute
// segment.
func (m *Memory) InvalidatePage(pageno uint64) {
	m.invalidateSlot(pageno)
	if m.dcache == nil {
		return
	}
	pageAddr := pageno << PageShift
	end := m.execBase + uint64(len(m.execData))
	if pageAddr+PageSize <= m.execBase || pageAddr >= end {
		return
	}
	if p, ok := m.pages[pageno]; ok && p.Data != nil {
		for i := 0; i < PageSize; i++ {
			addr := pageAddr + uint64(i)
			if addr >= m.execBase && addr < end {
				m.execData[addr-m.execBase] = p.Data[i]
			}
		}
	}
	m.dcache.InvalidatePage(pageno)
}
