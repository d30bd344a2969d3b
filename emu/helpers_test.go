package emu_test

import (
	"encoding/binary"

	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/mem"
)

// Instruction word encoders for building test programs.

func encodeR(opc, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opc
}

func encodeI(opc, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opc
}

func encodeS(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		(u&0x1F)<<7 | 0x23
}

func encodeB(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&0x1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 |
		funct3<<12 | (u>>1&0xF)<<8 | (u>>11&0x1)<<7 | 0x63
}

func encodeU(opc, rd, imm20 uint32) uint32 {
	return imm20<<12 | rd<<7 | opc
}

func encodeJ(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&0x1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&0x1)<<20 |
		(u>>12&0xFF)<<12 | rd<<7 | 0x6F
}

func encodeADDI(rd, rs1 uint32, imm int32) uint32 {
	return encodeI(0x13, rd, 0, rs1, imm)
}

func encodeECALL() uint32 {
	return 0x00000073
}

// encodeExitPrologue materializes "li a7, 93" so a following ecall
// reaches the exit handler.
func encodeExitPrologue() uint32 {
	return encodeADDI(17, 0, 93)
}

func programBytes(words ...uint32) []byte {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w)
		buf = append(buf, b[:]...)
	}
	return buf
}

// halfwordBytes appends raw 16-bit words, for programs mixing compressed
// instructions.
func halfwordBytes(halfwords ...uint16) []byte {
	buf := make([]byte, 0, len(halfwords)*2)
	for _, hw := range halfwords {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], hw)
		buf = append(buf, b[:]...)
	}
	return buf
}

// testSym describes one entry for a generated symbol table.
type testSym struct {
	name  string
	value uint64
	size  uint64
}

// buildTestELF64 assembles a minimal statically linked RV64 executable
// with one LOAD segment at 0x10000 and an optional symbol table.
func buildTestELF64(entry uint64, code []byte, syms []testSym) []byte {
	const (
		codeOff = 0x80
		vaddr   = 0x10000
	)
	le := binary.LittleEndian

	var symtab, strtab bytesBuf
	strtab.writeByte(0)
	symtab.write(make([]byte, 24))
	for _, sym := range syms {
		nameOff := uint32(len(strtab.b))
		strtab.write([]byte(sym.name))
		strtab.writeByte(0)

		var rec [24]byte
		le.PutUint32(rec[0:], nameOff)
		rec[4] = 0x12 // STB_GLOBAL | STT_FUNC
		le.PutUint16(rec[6:], 1)
		le.PutUint64(rec[8:], sym.value)
		le.PutUint64(rec[16:], sym.size)
		symtab.write(rec[:])
	}

	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	symtabOff := codeOff + len(code)
	strtabOff := symtabOff + len(symtab.b)
	shstrtabOff := strtabOff + len(strtab.b)
	shoff := (shstrtabOff + len(shstrtab) + 7) &^ 7

	var buf bytesBuf
	buf.write([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.write(make([]byte, 8))
	buf.writeU16(2)   // e_type: EXEC
	buf.writeU16(243) // e_machine: EM_RISCV
	buf.writeU32(1)
	buf.writeU64(entry)
	buf.writeU64(64) // e_phoff
	buf.writeU64(uint64(shoff))
	buf.writeU32(0)
	buf.writeU16(64) // e_ehsize
	buf.writeU16(56) // e_phentsize
	buf.writeU16(1)
	buf.writeU16(64) // e_shentsize
	buf.writeU16(5)
	buf.writeU16(4) // e_shstrndx

	buf.writeU32(1) // PT_LOAD
	buf.writeU32(5) // PF_R | PF_X
	buf.writeU64(codeOff)
	buf.writeU64(vaddr)
	buf.writeU64(vaddr)
	buf.writeU64(uint64(len(code)))
	buf.writeU64(uint64(len(code)))
	buf.writeU64(0x1000)

	buf.write(make([]byte, codeOff-len(buf.b)))
	buf.write(code)
	buf.write(symtab.b)
	buf.write(strtab.b)
	buf.write(shstrtab)
	buf.write(make([]byte, shoff-len(buf.b)))

	shdr := func(name, typ uint32, flags, addr uint64, off, size int,
		link, info uint32, entsize uint64) {
		buf.writeU32(name)
		buf.writeU32(typ)
		buf.writeU64(flags)
		buf.writeU64(addr)
		buf.writeU64(uint64(off))
		buf.writeU64(uint64(size))
		buf.writeU32(link)
		buf.writeU32(info)
		buf.writeU64(0)
		buf.writeU64(entsize)
	}
	shdr(0, 0, 0, 0, 0, 0, 0, 0, 0)
	shdr(1, 1, 0x6, vaddr, codeOff, len(code), 0, 0, 0)
	shdr(7, 2, 0, 0, symtabOff, len(symtab.b), 3, 1, 24)
	shdr(15, 3, 0, 0, strtabOff, len(strtab.b), 0, 0, 0)
	shdr(23, 3, 0, 0, shstrtabOff, len(shstrtab), 0, 0, 0)

	return buf.b
}

// bytesBuf is a tiny little-endian append buffer for the ELF builder.
type bytesBuf struct {
	b []byte
}

func (w *bytesBuf) write(p []byte)    { w.b = append(w.b, p...) }
func (w *bytesBuf) writeByte(v byte)  { w.b = append(w.b, v) }
func (w *bytesBuf) writeU16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }
func (w *bytesBuf) writeU32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *bytesBuf) writeU64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

// newFlatMachine builds a machine without an ELF image: the program
// bytes are mapped executable at base and PC points at them.
func newFlatMachine(program []byte, base uint64, xlen int,
	opts ...emu.MachineOption) *emu.Machine {
	opts = append([]emu.MachineOption{
		emu.WithoutProgramLoading(),
		emu.WithXLEN(xlen),
	}, opts...)

	m, err := emu.NewMachine(nil, opts...)
	Expect(err).NotTo(HaveOccurred())

	memory := m.Memory()
	Expect(memory.MemCpy(base, program)).To(Succeed())
	Expect(memory.SetPageAttr(base, uint64(len(program)),
		mem.Attr{Read: true, Exec: true})).To(Succeed())

	execData := make([]byte, len(program))
	copy(execData, program)
	memory.SetExecSegment(base, execData)
	memory.SetStartAddress(base)
	m.CPU().Reset()
	return m
}
