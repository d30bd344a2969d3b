// Package latency provides per-instruction timing lookups for the cycle
// estimator. Values are class-based and configurable via TimingConfig.
package latency

import (
	"github.com/sarchlab/rvemu/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a latency table with default timing values.
func NewTable() *Table {
	return &Table{config: DefaultTimingConfig()}
}

// NewTableWithConfig creates a latency table with a custom configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{config: config}
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}

// GetLatency returns the base execution latency in cycles for the given
// opcode tag, not counting cache effects.
func (t *Table) GetLatency(op insts.Op) uint64 {
	switch {
	case isAtomic(op):
		return t.config.AtomicLatency
	case IsLoadOp(op):
		return t.config.LoadLatency
	case IsStoreOp(op):
		return t.config.StoreLatency
	case IsBranchOp(op):
		return t.config.BranchLatency
	case isMultiply(op):
		return t.config.MultiplyLatency
	case isDivide(op):
		return t.config.DivideLatency
	case isFloat(op):
		return t.config.FloatLatency
	case op == insts.OpECALL || op == insts.OpEBREAK || op == insts.OpCEBREAK:
		return t.config.SyscallLatency
	default:
		return t.config.ALULatency
	}
}

// IsLoadOp reports whether the opcode reads data memory.
func IsLoadOp(op insts.Op) bool {
	switch op {
	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU,
		insts.OpLWU, insts.OpLD, insts.OpFLW, insts.OpFLD,
		insts.OpCLW, insts.OpCLD, insts.OpCFLW, insts.OpCFLD,
		insts.OpCLWSP, insts.OpCLDSP, insts.OpCFLWSP, insts.OpCFLDSP:
		return true
	}
	return isAtomic(op)
}

// IsStoreOp reports whether the opcode writes data memory.
func IsStoreOp(op insts.Op) bool {
	switch op {
	case insts.OpSB, insts.OpSH, insts.OpSW, insts.OpSD,
		insts.OpFSW, insts.OpFSD,
		insts.OpCSW, insts.OpCSD, insts.OpCFSW, insts.OpCFSD,
		insts.OpCSWSP, insts.OpCSDSP, insts.OpCFSWSP, insts.OpCFSDSP:
		return true
	}
	return false
}

// IsBranchOp reports whether the opcode may redirect the front end.
func IsBranchOp(op insts.Op) bool {
	switch op {
	case insts.OpJAL, insts.OpJALR,
		insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE,
		insts.OpBLTU, insts.OpBGEU,
		insts.OpCJ, insts.OpCJAL, insts.OpCJR, insts.OpCJALR,
		insts.OpCBEQZ, insts.OpCBNEZ:
		return true
	}
	return false
}

func isMultiply(op insts.Op) bool {
	switch op {
	case insts.OpMUL, insts.OpMULH, insts.OpMULHSU, insts.OpMULHU,
		insts.OpMULW:
		return true
	}
	return false
}

func isDivide(op insts.Op) bool {
	switch op {
	case insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU,
		insts.OpDIVW, insts.OpDIVUW, insts.OpREMW, insts.OpREMUW,
		insts.OpFDIVS, insts.OpFDIVD, insts.OpFSQRTS, insts.OpFSQRTD:
		return true
	}
	return false
}

func isAtomic(op insts.Op) bool {
	return op >= insts.OpLRW && op <= insts.OpAMOMAXUD
}

func isFloat(op insts.Op) bool {
	return op >= insts.OpFLW && op <= insts.OpFMVDX
}
