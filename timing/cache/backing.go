// Package cache models the cache hierarchy using Akita cache components.
package cache

import (
	"github.com/sarchlab/rvemu/mem"
)

// MemoryBacking adapts the paged guest address space as a BackingStore.
// Block fills that touch unmapped guest memory read as zeros rather than
// faulting, since the model must not perturb the emulation.
type MemoryBacking struct {
	memory *mem.Memory
}

// NewMemoryBacking creates a BackingStore over guest memory.
func NewMemoryBacking(memory *mem.Memory) *MemoryBacking {
	return &MemoryBacking{memory: memory}
}

// Read fetches a block from guest memory.
func (m *MemoryBacking) Read(addr uint64, size int) []byte {
	data := make([]byte, size)
	if err := m.memory.MemCpyOut(data, addr); err != nil {
		for i := range data {
			data[i] = 0
		}
	}
	return data
}

// Write receives a writeback and discards it; the Cache counts
// writebacks itself. The interpreter already performed every
// architectural store, so the model must not touch guest memory; the
// block contents it holds may predate later stores.
func (m *MemoryBacking) Write(addr uint64, data []byte) {
}
