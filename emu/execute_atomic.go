// Package emu provides functional RISC-V emulation.
package emu

import (
	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
)

// executeAtomic executes the A extension. Atomicity is trivial with a
// single execution thread; the operations only need to be sequentially
// consistent with the surrounding instructions.
func (c *CPU) executeAtomic(op insts.Op, word uint32) error {
	rd := insts.Rd(word)
	addr := c.regs.ReadReg(insts.Rs1(word))
	rs2v := c.regs.ReadReg(insts.Rs2(word))

	size := 4
	if op >= insts.OpLRD {
		size = 8
	}
	if addr&uint64(size-1) != 0 {
		return fault.New(fault.MisalignedAccess, "misaligned atomic", addr)
	}

	switch op {
	case insts.OpLRW, insts.OpLRD:
		if err := c.load(rd, addr, size, size == 4); err != nil {
			return err
		}
		c.resValid = true
		c.resAddr = addr
		return nil

	case insts.OpSCW, insts.OpSCD:
		if c.resValid && c.resAddr == addr {
			if err := c.store(addr, size, rs2v); err != nil {
				return err
			}
			c.regs.WriteReg(rd, 0)
		} else {
			c.regs.WriteReg(rd, 1)
		}
		c.resValid = false
		return nil
	}

	// The remaining operations are read-modify-write.
	var old uint64
	if size == 4 {
		w, err := c.memory.Read32(addr)
		if err != nil {
			return err
		}
		old = sext32(w)
	} else {
		d, err := c.memory.Read64(addr)
		if err != nil {
			return err
		}
		old = d
	}

	var result uint64
	switch op {
	case insts.OpAMOSWAPW, insts.OpAMOSWAPD:
		result = rs2v
	case insts.OpAMOADDW, insts.OpAMOADDD:
		result = old + rs2v
	case insts.OpAMOXORW, insts.OpAMOXORD:
		result = old ^ rs2v
	case insts.OpAMOANDW, insts.OpAMOANDD:
		result = old & rs2v
	case insts.OpAMOORW, insts.OpAMOORD:
		result = old | rs2v
	case insts.OpAMOMINW, insts.OpAMOMIND:
		result = minSigned(old, rs2v, size)
	case insts.OpAMOMAXW, insts.OpAMOMAXD:
		result = maxSigned(old, rs2v, size)
	case insts.OpAMOMINUW, insts.OpAMOMINUD:
		result = minUnsigned(old, rs2v, size)
	case insts.OpAMOMAXUW, insts.OpAMOMAXUD:
		result = maxUnsigned(old, rs2v, size)
	default:
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented instruction", uint64(word))
	}

	if err := c.store(addr, size, result); err != nil {
		return err
	}
	c.regs.WriteReg(rd, old)
	return nil
}

func minSigned(a, b uint64, size int) uint64 {
	if size == 4 {
		if int32(uint32(a)) < int32(uint32(b)) {
			return a
		}
		return b
	}
	if int64(a) < int64(b) {
		return a
	}
	return b
}

func maxSigned(a, b uint64, size int) uint64 {
	if size == 4 {
		if int32(uint32(a)) > int32(uint32(b)) {
			return a
		}
		return b
	}
	if int64(a) > int64(b) {
		return a
	}
	return b
}

func minUnsigned(a, b uint64, size int) uint64 {
	if size == 4 {
		if uint32(a) < uint32(b) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func maxUnsigned(a, b uint64, size int) uint64 {
	if size == 4 {
		if uint32(a) > uint32(b) {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}
