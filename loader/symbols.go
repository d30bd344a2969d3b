// Package loader provides ELF binary loading for RISC-V executables.
package loader

import "fmt"

// Callsite describes the symbol enclosing an address, for backtraces.
type Callsite struct {
	// Name is the symbol name, or "(null)" when no symbol covers the
	// address.
	Name string
	// Address is the symbol's start address.
	Address uint64
	// Offset is the queried address minus the symbol start.
	Offset uint32
	// Size is the symbol size in bytes.
	Size uint64
}

// ResolveAddress returns the address of the named symbol. Results are
// cached in a host-side map, so repeated lookups scan the symbol table
// only once.
func (p *Program) ResolveAddress(name string) (uint64, bool) {
	if addr, ok := p.symCache[name]; ok {
		return addr, true
	}
	for _, sym := range p.symbols {
		if sym.Name == name {
			p.symCache[name] = sym.Value
			return sym.Value, true
		}
	}
	return 0, false
}

// Lookup returns the symbol enclosing addr. Ties break by choosing the
// largest start address at or below addr among symbols with nonzero
// size.
func (p *Program) Lookup(addr uint64) Callsite {
	best := Callsite{Name: "(null)"}
	for _, sym := range p.symbols {
		if sym.Size == 0 || sym.Value > addr {
			continue
		}
		if addr >= sym.Value+sym.Size {
			continue
		}
		if best.Size == 0 || sym.Value > best.Address {
			best = Callsite{
				Name:    sym.Name,
				Address: sym.Value,
				Offset:  uint32(addr - sym.Value),
				Size:    sym.Size,
			}
		}
	}
	return best
}

// String renders the callsite the way backtraces print it.
func (c Callsite) String() string {
	if c.Size == 0 {
		return fmt.Sprintf("0x%x: %s", c.Address, c.Name)
	}
	return fmt.Sprintf("0x%x + 0x%.3x: %s", c.Address, c.Offset, c.Name)
}
