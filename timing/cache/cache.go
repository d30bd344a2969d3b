// Package cache models the cache hierarchy using Akita cache components.
// The model is driven by the cycle estimator: it tracks hits, misses,
// and writebacks against the guest address space and reports the cycle
// cost of each access.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes.
	Size int
	// Associativity (number of ways).
	Associativity int
	// BlockSize in bytes (cache line size).
	BlockSize int
	// HitLatency in cycles.
	HitLatency uint64
	// MissLatency in cycles (includes the next-level access time).
	MissLatency uint64
}

// DefaultL1IConfig returns the default L1 instruction cache
// configuration: 32 KiB, 4-way, 64-byte lines.
func DefaultL1IConfig() Config {
	return Config{
		Size:          32 * 1024,
		Associativity: 4,
		BlockSize:     64,
		HitLatency:    1,
		MissLatency:   10,
	}
}

// DefaultL1DConfig returns the default L1 data cache configuration:
// 32 KiB, 8-way, 64-byte lines.
func DefaultL1DConfig() Config {
	return Config{
		Size:          32 * 1024,
		Associativity: 8,
		BlockSize:     64,
		HitLatency:    2,
		MissLatency:   10,
	}
}

// DefaultL2Config returns the default unified L2 configuration:
// 512 KiB, 8-way, 128-byte lines.
func DefaultL2Config() Config {
	return Config{
		Size:          512 * 1024,
		Associativity: 8,
		BlockSize:     128,
		HitLatency:    10,
		MissLatency:   80,
	}
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Evicted is true if a block was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block.
	EvictedAddr uint64
}

// BackingStore is the next level in the memory hierarchy.
type BackingStore interface {
	// Read fetches a block from the backing store.
	Read(addr uint64, size int) []byte
	// Write stores a block to the backing store.
	Write(addr uint64, data []byte)
}

// Statistics holds cache performance counters.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// HitRate returns the fraction of accesses that hit.
func (s Statistics) HitRate() float64 {
	total := s.Reads + s.Writes
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache models one cache level using the Akita directory and LRU victim
// finder for tag and state management.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	dataStore [][]byte
	backing   BackingStore
	stats     Statistics
}

// New creates a cache with the given configuration.
func New(config Config, backing BackingStore) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns the cache performance counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears the performance counters.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) blockAlign(addr uint64) uint64 {
	return addr &^ uint64(c.config.BlockSize-1)
}

// Read models a read at addr.
func (c *Cache) Read(addr uint64) AccessResult {
	c.stats.Reads++

	block := c.directory.Lookup(0, c.blockAlign(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return c.handleMiss(addr, false)
}

// Write models a write at addr with a write-allocate policy.
func (c *Cache) Write(addr uint64) AccessResult {
	c.stats.Writes++

	block := c.directory.Lookup(0, c.blockAlign(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		block.IsDirty = true
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return c.handleMiss(addr, true)
}

// handleMiss fills the missing block, evicting and writing back as
// needed.
func (c *Cache) handleMiss(addr uint64, isWrite bool) AccessResult {
	result := AccessResult{Latency: c.config.MissLatency}
	blockAddr := c.blockAlign(addr)

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}
	victimData := c.dataStore[c.blockIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
		if victim.IsDirty && c.backing != nil {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	if c.backing != nil {
		copy(victimData, c.backing.Read(blockAddr, c.config.BlockSize))
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isWrite
	c.directory.Visit(victim)

	return result
}

// Invalidate drops the line covering addr without writeback.
func (c *Cache) Invalidate(addr uint64) {
	block := c.directory.Lookup(0, c.blockAlign(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back every dirty line and invalidates the cache.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty && c.backing != nil {
				c.stats.Writebacks++
				c.backing.Write(block.Tag, c.dataStore[c.blockIndex(block)])
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates every line without writeback and clears the
// counters.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
