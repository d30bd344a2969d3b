package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds per-class latency values for the cycle estimator.
// The defaults model a small in-order RISC-V core.
type TimingConfig struct {
	// ALULatency is the execution latency for integer ALU operations.
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency"`

	// BranchLatency is the base latency for branches and jumps.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchTakenPenalty is the additional cycles lost when a branch
	// redirects the front end. Default: 2 cycles.
	BranchTakenPenalty uint64 `json:"branch_taken_penalty"`

	// LoadLatency is the load-to-use latency assuming an L1 hit.
	// Default: 2 cycles.
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the latency for stores. Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency"`

	// MultiplyLatency is the latency for integer multiplies.
	// Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatency is the typical latency for integer divides.
	// Default: 16 cycles.
	DivideLatency uint64 `json:"divide_latency"`

	// FloatLatency is the latency for floating-point arithmetic.
	// Default: 4 cycles.
	FloatLatency uint64 `json:"float_latency"`

	// AtomicLatency is the latency for AMO and LR/SC operations.
	// Default: 4 cycles.
	AtomicLatency uint64 `json:"atomic_latency"`

	// SyscallLatency is the latency charged for ECALL/EBREAK; the
	// handler itself runs on the host. Default: 1 cycle.
	SyscallLatency uint64 `json:"syscall_latency"`

	// L1HitLatency is the L1 cache hit latency. Default: 2 cycles.
	L1HitLatency uint64 `json:"l1_hit_latency"`

	// L2HitLatency is the L2 cache hit latency. Default: 10 cycles.
	L2HitLatency uint64 `json:"l2_hit_latency"`

	// MemoryLatency is the main memory access latency.
	// Default: 80 cycles.
	MemoryLatency uint64 `json:"memory_latency"`
}

// DefaultTimingConfig returns the default timing values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:         1,
		BranchLatency:      1,
		BranchTakenPenalty: 2,
		LoadLatency:        2,
		StoreLatency:       1,
		MultiplyLatency:    3,
		DivideLatency:      16,
		FloatLatency:       4,
		AtomicLatency:      4,
		SyscallLatency:     1,
		L1HitLatency:       2,
		L2HitLatency:       10,
		MemoryLatency:      80,
	}
}

// LoadConfig reads a TimingConfig from a JSON file. Fields missing from
// the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading timing config: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing timing config: %w", err)
	}
	return config, nil
}
