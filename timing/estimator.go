// Package timing provides a trace-driven cycle estimator for the
// emulator. It charges a per-class base latency for every retired
// instruction and adds the miss costs reported by the L1 cache models.
package timing

import (
	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/insts"
	"github.com/sarchlab/rvemu/mem"
	"github.com/sarchlab/rvemu/timing/cache"
	"github.com/sarchlab/rvemu/timing/latency"
)

// Report summarizes an estimation run.
type Report struct {
	Cycles       uint64
	Instructions uint64
	L1I          cache.Statistics
	L1D          cache.Statistics
}

// CPI returns cycles per instruction.
func (r Report) CPI() float64 {
	if r.Instructions == 0 {
		return 0
	}
	return float64(r.Cycles) / float64(r.Instructions)
}

// Estimator accumulates a cycle estimate from an instruction trace.
type Estimator struct {
	table *latency.Table
	l1i   *cache.Cache
	l1d   *cache.Cache

	cycles       uint64
	instructions uint64
}

// NewEstimator creates an estimator over the guest address space.
func NewEstimator(config *latency.TimingConfig, memory *mem.Memory) *Estimator {
	backing := cache.NewMemoryBacking(memory)

	l1i := cache.DefaultL1IConfig()
	l1i.HitLatency = 1
	l1i.MissLatency = config.L2HitLatency
	l1d := cache.DefaultL1DConfig()
	l1d.HitLatency = config.L1HitLatency
	l1d.MissLatency = config.L2HitLatency

	return &Estimator{
		table: latency.NewTableWithConfig(config),
		l1i:   cache.New(l1i, backing),
		l1d:   cache.New(l1d, backing),
	}
}

// Observe accounts one instruction about to execute: regs must still
// hold the pre-execution state so data addresses can be recomputed.
func (e *Estimator) Observe(op insts.Op, word uint32, regs *emu.RegFile) {
	e.instructions++
	cycles := e.table.GetLatency(op)

	if fetch := e.l1i.Read(regs.PC); !fetch.Hit {
		cycles += fetch.Latency
	}

	if addr, isStore, ok := dataAddress(op, word, regs); ok {
		var res cache.AccessResult
		if isStore {
			res = e.l1d.Write(addr)
		} else {
			res = e.l1d.Read(addr)
		}
		if !res.Hit {
			cycles += res.Latency
		}
	}

	e.cycles += cycles
}

// Report returns the accumulated estimate.
func (e *Estimator) Report() Report {
	return Report{
		Cycles:       e.cycles,
		Instructions: e.instructions,
		L1I:          e.l1i.Stats(),
		L1D:          e.l1d.Stats(),
	}
}

// dataAddress recomputes the effective address of a memory operation
// from the instruction word and the pre-execution register state.
func dataAddress(op insts.Op, word uint32, regs *emu.RegFile) (addr uint64, isStore bool, ok bool) {
	hw := uint16(word)

	switch op {
	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU,
		insts.OpLWU, insts.OpLD, insts.OpFLW, insts.OpFLD:
		return regs.ReadReg(insts.Rs1(word)) + uint64(insts.ImmI(word)), false, true
	case insts.OpSB, insts.OpSH, insts.OpSW, insts.OpSD,
		insts.OpFSW, insts.OpFSD:
		return regs.ReadReg(insts.Rs1(word)) + uint64(insts.ImmS(word)), true, true

	case insts.OpCLW, insts.OpCFLW:
		return regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw), false, true
	case insts.OpCLD, insts.OpCFLD:
		return regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw), false, true
	case insts.OpCSW, insts.OpCFSW:
		return regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw), true, true
	case insts.OpCSD, insts.OpCFSD:
		return regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw), true, true

	case insts.OpCLWSP, insts.OpCFLWSP:
		return regs.ReadReg(emu.RegSP) + insts.ImmCLWSP(hw), false, true
	case insts.OpCLDSP, insts.OpCFLDSP:
		return regs.ReadReg(emu.RegSP) + insts.ImmCLDSP(hw), false, true
	case insts.OpCSWSP, insts.OpCFSWSP:
		return regs.ReadReg(emu.RegSP) + insts.ImmCSWSP(hw), true, true
	case insts.OpCSDSP, insts.OpCFSDSP:
		return regs.ReadReg(emu.RegSP) + insts.ImmCSDSP(hw), true, true
	}

	if op >= insts.OpLRW && op <= insts.OpAMOMAXUD {
		store := true
		if op == insts.OpLRW || op == insts.OpLRD {
			store = false
		}
		return regs.ReadReg(insts.Rs1(word)), store, true
	}
	return 0, false, false
}
