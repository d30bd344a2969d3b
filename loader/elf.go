// Package loader provides ELF binary loading for RISC-V executables.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/sarchlab/rvemu/fault"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a parsed ELF binary ready for loading into a guest
// address space.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// ExecBase and ExecSize describe the execute segment: the lowest
	// executable segment's base and the extent of executable bytes.
	ExecBase uint64
	ExecSize uint64

	symbols  []elf.Symbol
	symCache map[string]uint64
}

// Load parses a RISC-V ELF binary from a byte buffer. xlen selects the
// expected ELF class: 32 for ELF32, 64 for ELF64.
func Load(binary []byte, xlen int) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(binary))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	wantClass := elf.ELFCLASS64
	if xlen == 32 {
		wantClass = elf.ELFCLASS32
	}
	if f.Class != wantClass {
		return nil, fmt.Errorf("ELF class %v does not match XLEN %d", f.Class, xlen)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		EntryPoint: f.Entry,
		symCache:   make(map[string]uint64),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		seg := Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		}
		prog.Segments = append(prog.Segments, seg)

		if flags&SegmentFlagExecute != 0 {
			if prog.ExecSize == 0 || phdr.Vaddr < prog.ExecBase {
				prog.ExecBase = phdr.Vaddr
			}
			end := phdr.Vaddr + phdr.Memsz
			if end > prog.ExecBase+prog.ExecSize {
				prog.ExecSize = end - prog.ExecBase
			}
		}
	}

	if syms, err := f.Symbols(); err == nil {
		prog.symbols = syms
	}

	if err := checkRelocations(f); err != nil {
		return nil, err
	}

	return prog, nil
}

// checkRelocations scans the relocation sections that target executable
// sections. Statically linked binaries normally carry none; relocation
// types the engine cannot apply are a load failure rather than a silent
// corruption later.
func checkRelocations(f *elf.File) error {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA && sec.Type != elf.SHT_REL {
			continue
		}
		if int(sec.Info) >= len(f.Sections) {
			continue
		}
		target := f.Sections[sec.Info]
		if target.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}

		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("failed to read relocation section %s: %w", sec.Name, err)
		}
		if err := checkRelocationTypes(f, data, sec.Type); err != nil {
			return err
		}
	}
	return nil
}

func checkRelocationTypes(f *elf.File, data []byte, typ elf.SectionType) error {
	entsize := 8 // Elf32_Rel
	if f.Class == elf.ELFCLASS64 {
		entsize = 16 // Elf64_Rel
	}
	if typ == elf.SHT_RELA {
		entsize += entsize / 2 // addend field
	}

	for off := 0; off+entsize <= len(data); off += entsize {
		var rtype uint32
		if f.Class == elf.ELFCLASS64 {
			info := f.ByteOrder.Uint64(data[off+8:])
			rtype = uint32(info)
		} else {
			info := f.ByteOrder.Uint32(data[off+4:])
			rtype = info & 0xFF
		}
		switch elf.R_RISCV(rtype) {
		case elf.R_RISCV_NONE, elf.R_RISCV_RELATIVE,
			elf.R_RISCV_32, elf.R_RISCV_64:
			// Already resolved by the static linker or harmless.
		default:
			return fault.New(fault.UnknownRelocation,
				"unknown relocation type", uint64(rtype))
		}
	}
	return nil
}
