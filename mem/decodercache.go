// Package mem provides the paged guest address space.
package mem

import (
	"github.com/sarchlab/rvemu/insts"
)

// CacheDivisor is the byte granularity of decoder-cache slots. The
// compressed extension makes 2 bytes the smallest instruction.
const CacheDivisor = 2

// DecoderCache maps instruction offsets inside the execute segment to
// pre-resolved handler indices. A slot holds the opcode tag plus one, so
// the zero value marks an uninitialized slot; the tag itself is the
// index into the dispatch table.
//
// A slot is valid only while the underlying bytes are unchanged. Page
// installation, attribute changes, COW promotion and Memory.InvalidatePage
// zero the whole cache page; ordinary guest stores do not, and they do
// not reach the execute-segment view that instruction fetch reads.
type DecoderCache struct {
	base  uint64 // page-aligned base of the covered range
	slots []uint8
}

// newDecoderCache covers the page-rounded extent [base, base+length).
func newDecoderCache(base uint64, length uint64) *DecoderCache {
	pbase := base &^ uint64(PageMask)
	end := (base + length + PageMask) &^ uint64(PageMask)
	return &DecoderCache{
		base:  pbase,
		slots: make([]uint8, (end-pbase)/CacheDivisor),
	}
}

// Translate converts an opcode tag into its cache slot value.
func Translate(op insts.Op) uint8 {
	return uint8(op) + 1
}

// LookupOp converts a cache slot value back into its opcode tag. The
// caller must have checked the slot is initialized.
func LookupOp(slot uint8) insts.Op {
	return insts.Op(slot - 1)
}

// Get returns the raw slot value for the instruction at addr, or zero
// when the slot is uninitialized.
func (c *DecoderCache) Get(addr uint64) uint8 {
	idx := (addr - c.base) / CacheDivisor
	if idx >= uint64(len(c.slots)) {
		return 0
	}
	return c.slots[idx]
}

// Set records the opcode tag for the instruction at addr.
func (c *DecoderCache) Set(addr uint64, op insts.Op) {
	idx := (addr - c.base) / CacheDivisor
	if idx < uint64(len(c.slots)) {
		c.slots[idx] = Translate(op)
	}
}

// InvalidatePage zeroes every slot of the cache page covering pageno.
func (c *DecoderCache) InvalidatePage(pageno uint64) {
	pageAddr := pageno << PageShift
	if pageAddr < c.base {
		return
	}
	first := (pageAddr - c.base) / CacheDivisor
	if first >= uint64(len(c.slots)) {
		return
	}
	last := first + PageSize/CacheDivisor
	if last > uint64(len(c.slots)) {
		last = uint64(len(c.slots))
	}
	for i := first; i < last; i++ {
		c.slots[i] = 0
	}
}

// Pregenerate walks [addr, addr+length) of the execute segment in
// instruction-length steps and populates every reachable slot. Slots
// covering padding outside the real code get the illegal-instruction
// tag, so stray fetches dispatch to the failing handler rather than
// decoding garbage.
func (m *Memory) Pregenerate(d *insts.Decoder, addr uint64, length uint64) {
	if m.dcache == nil {
		return
	}
	end := m.execBase + uint64(len(m.execData))

	for pc := m.dcache.base; pc+2 <= end; {
		if pc < m.execBase || pc < addr || pc >= addr+length {
			m.dcache.Set(pc, insts.OpInvalid)
			pc += CacheDivisor
			continue
		}
		word, err := m.FetchWord(pc)
		if err != nil {
			break
		}
		op := d.Decode(word)
		m.dcache.Set(pc, op)
		pc += insts.Length(uint16(word))
	}
}
