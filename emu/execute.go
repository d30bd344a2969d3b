// Package emu provides functional RISC-V emulation.
package emu

import (
	"math/bits"

	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
)

// load reads size bytes at addr into rd, sign- or zero-extending.
func (c *CPU) load(rd uint8, addr uint64, size int, signed bool) error {
	var v uint64
	switch size {
	case 1:
		b, err := c.memory.Read8(addr)
		if err != nil {
			return err
		}
		v = uint64(b)
		if signed {
			v = uint64(int64(int8(b)))
		}
	case 2:
		h, err := c.memory.Read16(addr)
		if err != nil {
			return err
		}
		v = uint64(h)
		if signed {
			v = uint64(int64(int16(h)))
		}
	case 4:
		w, err := c.memory.Read32(addr)
		if err != nil {
			return err
		}
		v = uint64(w)
		if signed {
			v = sext32(w)
		}
	case 8:
		d, err := c.memory.Read64(addr)
		if err != nil {
			return err
		}
		v = d
	}
	c.regs.WriteReg(rd, v)
	return nil
}

// store writes size bytes of v at addr. Every store clears the LR/SC
// reservation.
func (c *CPU) store(addr uint64, size int, v uint64) error {
	c.resValid = false
	switch size {
	case 1:
		return c.memory.Write8(addr, uint8(v))
	case 2:
		return c.memory.Write16(addr, uint16(v))
	case 4:
		return c.memory.Write32(addr, uint32(v))
	default:
		return c.memory.Write64(addr, v)
	}
}

// executeBase executes the base integer set, the M extension, and the
// CSR instructions.
func (c *CPU) executeBase(op insts.Op, word uint32) error {
	pc := c.regs.PC
	rd := insts.Rd(word)
	rs1v := c.regs.ReadReg(insts.Rs1(word))
	rs2v := c.regs.ReadReg(insts.Rs2(word))

	switch op {
	case insts.OpLUI:
		c.writeInt(rd, uint64(insts.ImmU(word)))
	case insts.OpAUIPC:
		c.writeInt(rd, pc+uint64(insts.ImmU(word)))

	case insts.OpJAL:
		c.writeInt(rd, pc+4)
		c.Jump(pc + uint64(insts.ImmJ(word)))
	case insts.OpJALR:
		target := rs1v + uint64(insts.ImmI(word))
		c.writeInt(rd, pc+4)
		c.Jump(target)

	case insts.OpBEQ:
		if rs1v == rs2v {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}
	case insts.OpBNE:
		if rs1v != rs2v {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}
	case insts.OpBLT:
		if int64(rs1v) < int64(rs2v) {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}
	case insts.OpBGE:
		if int64(rs1v) >= int64(rs2v) {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}
	case insts.OpBLTU:
		if rs1v < rs2v {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}
	case insts.OpBGEU:
		if rs1v >= rs2v {
			c.Jump(pc + uint64(insts.ImmB(word)))
		}

	case insts.OpLB:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 1, true)
	case insts.OpLH:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 2, true)
	case insts.OpLW:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 4, true)
	case insts.OpLBU:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 1, false)
	case insts.OpLHU:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 2, false)
	case insts.OpLWU:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 4, false)
	case insts.OpLD:
		return c.load(rd, rs1v+uint64(insts.ImmI(word)), 8, false)

	case insts.OpSB:
		return c.store(rs1v+uint64(insts.ImmS(word)), 1, rs2v)
	case insts.OpSH:
		return c.store(rs1v+uint64(insts.ImmS(word)), 2, rs2v)
	case insts.OpSW:
		return c.store(rs1v+uint64(insts.ImmS(word)), 4, rs2v)
	case insts.OpSD:
		return c.store(rs1v+uint64(insts.ImmS(word)), 8, rs2v)

	case insts.OpADDI:
		c.writeInt(rd, rs1v+uint64(insts.ImmI(word)))
	case insts.OpSLTI:
		c.writeInt(rd, boolToReg(int64(rs1v) < insts.ImmI(word)))
	case insts.OpSLTIU:
		c.writeInt(rd, boolToReg(rs1v < uint64(insts.ImmI(word))))
	case insts.OpXORI:
		c.writeInt(rd, rs1v^uint64(insts.ImmI(word)))
	case insts.OpORI:
		c.writeInt(rd, rs1v|uint64(insts.ImmI(word)))
	case insts.OpANDI:
		c.writeInt(rd, rs1v&uint64(insts.ImmI(word)))

	case insts.OpSLLI:
		c.shiftLeft(rd, rs1v, uint64(insts.Shamt(word, c.xlen)))
	case insts.OpSRLI:
		c.shiftRightLogical(rd, rs1v, uint64(insts.Shamt(word, c.xlen)))
	case insts.OpSRAI:
		c.shiftRightArith(rd, rs1v, uint64(insts.Shamt(word, c.xlen)))

	case insts.OpADD:
		c.writeInt(rd, rs1v+rs2v)
	case insts.OpSUB:
		c.writeInt(rd, rs1v-rs2v)
	case insts.OpSLL:
		c.shiftLeft(rd, rs1v, rs2v&c.shiftMask())
	case insts.OpSLT:
		c.writeInt(rd, boolToReg(int64(rs1v) < int64(rs2v)))
	case insts.OpSLTU:
		c.writeInt(rd, boolToReg(rs1v < rs2v))
	case insts.OpXOR:
		c.writeInt(rd, rs1v^rs2v)
	case insts.OpSRL:
		c.shiftRightLogical(rd, rs1v, rs2v&c.shiftMask())
	case insts.OpSRA:
		c.shiftRightArith(rd, rs1v, rs2v&c.shiftMask())
	case insts.OpOR:
		c.writeInt(rd, rs1v|rs2v)
	case insts.OpAND:
		c.writeInt(rd, rs1v&rs2v)

	case insts.OpFENCE:
		// Memory ordering is trivial for a single execution thread.

	case insts.OpECALL:
		return c.system(c.regs.ReadReg(RegA7))
	case insts.OpEBREAK:
		return c.system(SyscallEbreak)

	case insts.OpADDIW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)+uint32(insts.ImmI(word))))
	case insts.OpSLLIW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)<<((word>>20)&0x1F)))
	case insts.OpSRLIW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)>>((word>>20)&0x1F)))
	case insts.OpSRAIW:
		c.regs.WriteReg(rd, sext32(uint32(int32(uint32(rs1v))>>((word>>20)&0x1F))))
	case insts.OpADDW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)+uint32(rs2v)))
	case insts.OpSUBW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)-uint32(rs2v)))
	case insts.OpSLLW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)<<(rs2v&0x1F)))
	case insts.OpSRLW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)>>(rs2v&0x1F)))
	case insts.OpSRAW:
		c.regs.WriteReg(rd, sext32(uint32(int32(uint32(rs1v))>>(rs2v&0x1F))))

	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC,
		insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		return c.executeCSR(op, word, rs1v)

	default:
		return c.executeMul(op, word, rs1v, rs2v)
	}
	return nil
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Shift helpers. RV32 keeps register values sign-extended, so the
// logical shifts must operate on the 32-bit view.
func (c *CPU) shiftLeft(rd uint8, v, shamt uint64) {
	if c.xlen == 64 {
		c.regs.WriteReg(rd, v<<shamt)
		return
	}
	c.regs.WriteReg(rd, sext32(uint32(v)<<shamt))
}

func (c *CPU) shiftRightLogical(rd uint8, v, shamt uint64) {
	if c.xlen == 64 {
		c.regs.WriteReg(rd, v>>shamt)
		return
	}
	c.regs.WriteReg(rd, sext32(uint32(v)>>shamt))
}

func (c *CPU) shiftRightArith(rd uint8, v, shamt uint64) {
	if c.xlen == 64 {
		c.regs.WriteReg(rd, uint64(int64(v)>>shamt))
		return
	}
	c.regs.WriteReg(rd, sext32(uint32(int32(uint32(v))>>shamt)))
}

// executeMul executes the M extension.
func (c *CPU) executeMul(op insts.Op, word uint32, rs1v, rs2v uint64) error {
	rd := insts.Rd(word)

	switch op {
	case insts.OpMUL:
		c.writeInt(rd, rs1v*rs2v)
	case insts.OpMULH:
		if c.xlen == 64 {
			hi, _ := bits.Mul64(absInt(rs1v), absInt(rs2v))
			lo := rs1v * rs2v
			if (int64(rs1v) < 0) != (int64(rs2v) < 0) {
				hi = ^hi
				if lo == 0 {
					hi++
				}
			}
			c.regs.WriteReg(rd, hi)
		} else {
			prod := int64(int32(uint32(rs1v))) * int64(int32(uint32(rs2v)))
			c.regs.WriteReg(rd, sext32(uint32(prod>>32)))
		}
	case insts.OpMULHSU:
		if c.xlen == 64 {
			hi, lo := bits.Mul64(absInt(rs1v), rs2v)
			if int64(rs1v) < 0 {
				hi = ^hi
				if lo == 0 {
					hi++
				}
			}
			c.regs.WriteReg(rd, hi)
		} else {
			prod := int64(int32(uint32(rs1v))) * int64(uint32(rs2v))
			c.regs.WriteReg(rd, sext32(uint32(prod>>32)))
		}
	case insts.OpMULHU:
		if c.xlen == 64 {
			hi, _ := bits.Mul64(rs1v, rs2v)
			c.regs.WriteReg(rd, hi)
		} else {
			prod := uint64(uint32(rs1v)) * uint64(uint32(rs2v))
			c.regs.WriteReg(rd, sext32(uint32(prod>>32)))
		}
	case insts.OpDIV:
		c.writeInt(rd, uint64(divSigned(c.signedVal(rs1v), c.signedVal(rs2v), c.xlen)))
	case insts.OpDIVU:
		c.writeInt(rd, divUnsigned(c.unsignedVal(rs1v), c.unsignedVal(rs2v)))
	case insts.OpREM:
		c.writeInt(rd, uint64(remSigned(c.signedVal(rs1v), c.signedVal(rs2v), c.xlen)))
	case insts.OpREMU:
		c.writeInt(rd, remUnsigned(c.unsignedVal(rs1v), c.unsignedVal(rs2v)))

	case insts.OpMULW:
		c.regs.WriteReg(rd, sext32(uint32(rs1v)*uint32(rs2v)))
	case insts.OpDIVW:
		c.regs.WriteReg(rd,
			sext32(uint32(divSigned(int64(int32(uint32(rs1v))), int64(int32(uint32(rs2v))), 32))))
	case insts.OpDIVUW:
		c.regs.WriteReg(rd,
			sext32(uint32(divUnsigned(uint64(uint32(rs1v)), uint64(uint32(rs2v))))))
	case insts.OpREMW:
		c.regs.WriteReg(rd,
			sext32(uint32(remSigned(int64(int32(uint32(rs1v))), int64(int32(uint32(rs2v))), 32))))
	case insts.OpREMUW:
		c.regs.WriteReg(rd,
			sext32(uint32(remUnsigned(uint64(uint32(rs1v)), uint64(uint32(rs2v))))))

	default:
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented instruction", uint64(word))
	}
	return nil
}

func absInt(v uint64) uint64 {
	if int64(v) < 0 {
		return uint64(-int64(v))
	}
	return v
}

func (c *CPU) signedVal(v uint64) int64 {
	if c.xlen == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

func (c *CPU) unsignedVal(v uint64) uint64 {
	if c.xlen == 32 {
		return uint64(uint32(v))
	}
	return v
}

// divSigned implements the division edge cases: division by zero yields
// -1 and the most-negative-value overflow yields the dividend.
func divSigned(a, b int64, xlen int) int64 {
	if b == 0 {
		return -1
	}
	minVal := int64(-1) << (xlen - 1)
	if a == minVal && b == -1 {
		return a
	}
	return a / b
}

func divUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remSigned(a, b int64, xlen int) int64 {
	if b == 0 {
		return a
	}
	minVal := int64(-1) << (xlen - 1)
	if a == minVal && b == -1 {
		return 0
	}
	return a % b
}

func remUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

// CSR addresses the engine services: the floating-point state and the
// user counters.
const (
	csrFFlags  = 0x001
	csrFRM     = 0x002
	csrFCSR    = 0x003
	csrCycle   = 0xC00
	csrTime    = 0xC01
	csrInstRet = 0xC02
)

func (c *CPU) executeCSR(op insts.Op, word uint32, rs1v uint64) error {
	csr := insts.CSR(word)
	rd := insts.Rd(word)

	// Immediate forms use the rs1 field as a 5-bit unsigned operand.
	operand := rs1v
	switch op {
	case insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		operand = uint64(insts.Rs1(word))
	}

	var old uint64
	switch csr {
	case csrFFlags:
		old = uint64(c.regs.FCSR & 0x1F)
	case csrFRM:
		old = uint64((c.regs.FCSR >> 5) & 0x7)
	case csrFCSR:
		old = uint64(c.regs.FCSR & 0xFF)
	case csrCycle, csrTime, csrInstRet:
		old = c.counter
	default:
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented CSR", uint64(csr))
	}

	var next uint64
	hasWrite := true
	switch op {
	case insts.OpCSRRW, insts.OpCSRRWI:
		next = operand
	case insts.OpCSRRS, insts.OpCSRRSI:
		next = old | operand
		hasWrite = operand != 0
	case insts.OpCSRRC, insts.OpCSRRCI:
		next = old &^ operand
		hasWrite = operand != 0
	}

	if hasWrite {
		switch csr {
		case csrFFlags:
			c.regs.FCSR = (c.regs.FCSR &^ 0x1F) | uint32(next&0x1F)
		case csrFRM:
			c.regs.FCSR = (c.regs.FCSR &^ 0xE0) | uint32(next&0x7)<<5
		case csrFCSR:
			c.regs.FCSR = uint32(next & 0xFF)
		case csrCycle, csrTime, csrInstRet:
			// The counters are read-only.
		}
	}

	c.writeInt(rd, old)
	return nil
}
