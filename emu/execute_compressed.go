// Package emu provides functional RISC-V emulation.
package emu

import (
	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
)

// executeCompressed executes the C extension. The compressed forms reuse
// the load/store/shift helpers of the 32-bit instructions; only the
// operand extraction differs.
func (c *CPU) executeCompressed(op insts.Op, hw uint16) error {
	pc := c.regs.PC
	sp := c.regs.ReadReg(RegSP)

	switch op {
	case insts.OpCADDI4SPN:
		c.writeInt(insts.CRs2P(hw), sp+insts.ImmCADDI4SPN(hw))

	case insts.OpCLW:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw)
		return c.load(insts.CRs2P(hw), addr, 4, true)
	case insts.OpCLD:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw)
		return c.load(insts.CRs2P(hw), addr, 8, false)
	case insts.OpCSW:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw)
		return c.store(addr, 4, c.regs.ReadReg(insts.CRs2P(hw)))
	case insts.OpCSD:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw)
		return c.store(addr, 8, c.regs.ReadReg(insts.CRs2P(hw)))

	case insts.OpCFLD:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw)
		d, err := c.memory.Read64(addr)
		if err != nil {
			return err
		}
		c.regs.WriteFReg(insts.CRs2P(hw), d)
	case insts.OpCFLW:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw)
		w, err := c.memory.Read32(addr)
		if err != nil {
			return err
		}
		c.regs.WriteFReg(insts.CRs2P(hw), nanBoxMask|uint64(w))
	case insts.OpCFSD:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLD(hw)
		return c.store(addr, 8, c.regs.ReadFReg(insts.CRs2P(hw)))
	case insts.OpCFSW:
		addr := c.regs.ReadReg(insts.CRdP(hw)) + insts.ImmCLW(hw)
		return c.store(addr, 4, c.regs.ReadFReg(insts.CRs2P(hw)))

	case insts.OpCNOP:
		// Canonical no-op.

	case insts.OpCADDI:
		rd := insts.CRd(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)+uint64(insts.ImmCI(hw)))
	case insts.OpCJAL:
		c.writeInt(RegRA, pc+2)
		c.Jump(pc + uint64(insts.ImmCJ(hw)))
	case insts.OpCADDIW:
		rd := insts.CRd(hw)
		c.regs.WriteReg(rd, sext32(uint32(c.regs.ReadReg(rd))+uint32(insts.ImmCI(hw))))
	case insts.OpCLI:
		c.writeInt(insts.CRd(hw), uint64(insts.ImmCI(hw)))
	case insts.OpCADDI16SP:
		c.writeInt(RegSP, sp+uint64(insts.ImmCADDI16SP(hw)))
	case insts.OpCLUI:
		c.writeInt(insts.CRd(hw), uint64(insts.ImmCLUI(hw)))

	case insts.OpCSRLI:
		rd := insts.CRdP(hw)
		c.shiftRightLogical(rd, c.regs.ReadReg(rd),
			uint64(insts.ShamtC(hw))&c.shiftMask())
	case insts.OpCSRAI:
		rd := insts.CRdP(hw)
		c.shiftRightArith(rd, c.regs.ReadReg(rd),
			uint64(insts.ShamtC(hw))&c.shiftMask())
	case insts.OpCANDI:
		rd := insts.CRdP(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)&uint64(insts.ImmCI(hw)))

	case insts.OpCSUB:
		rd := insts.CRdP(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)-c.regs.ReadReg(insts.CRs2P(hw)))
	case insts.OpCXOR:
		rd := insts.CRdP(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)^c.regs.ReadReg(insts.CRs2P(hw)))
	case insts.OpCOR:
		rd := insts.CRdP(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)|c.regs.ReadReg(insts.CRs2P(hw)))
	case insts.OpCAND:
		rd := insts.CRdP(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)&c.regs.ReadReg(insts.CRs2P(hw)))
	case insts.OpCSUBW:
		rd := insts.CRdP(hw)
		c.regs.WriteReg(rd,
			sext32(uint32(c.regs.ReadReg(rd))-uint32(c.regs.ReadReg(insts.CRs2P(hw)))))
	case insts.OpCADDW:
		rd := insts.CRdP(hw)
		c.regs.WriteReg(rd,
			sext32(uint32(c.regs.ReadReg(rd))+uint32(c.regs.ReadReg(insts.CRs2P(hw)))))

	case insts.OpCJ:
		c.Jump(pc + uint64(insts.ImmCJ(hw)))
	case insts.OpCBEQZ:
		if c.regs.ReadReg(insts.CRdP(hw)) == 0 {
			c.Jump(pc + uint64(insts.ImmCB(hw)))
		}
	case insts.OpCBNEZ:
		if c.regs.ReadReg(insts.CRdP(hw)) != 0 {
			c.Jump(pc + uint64(insts.ImmCB(hw)))
		}

	case insts.OpCSLLI:
		rd := insts.CRd(hw)
		c.shiftLeft(rd, c.regs.ReadReg(rd),
			uint64(insts.ShamtC(hw))&c.shiftMask())

	case insts.OpCLWSP:
		return c.load(insts.CRd(hw), sp+insts.ImmCLWSP(hw), 4, true)
	case insts.OpCLDSP:
		return c.load(insts.CRd(hw), sp+insts.ImmCLDSP(hw), 8, false)
	case insts.OpCFLDSP:
		d, err := c.memory.Read64(sp + insts.ImmCLDSP(hw))
		if err != nil {
			return err
		}
		c.regs.WriteFReg(insts.CRd(hw), d)
	case insts.OpCFLWSP:
		w, err := c.memory.Read32(sp + insts.ImmCLWSP(hw))
		if err != nil {
			return err
		}
		c.regs.WriteFReg(insts.CRd(hw), nanBoxMask|uint64(w))

	case insts.OpCJR:
		c.Jump(c.regs.ReadReg(insts.CRd(hw)))
	case insts.OpCMV:
		c.writeInt(insts.CRd(hw), c.regs.ReadReg(insts.CRs2(hw)))
	case insts.OpCEBREAK:
		return c.system(SyscallEbreak)
	case insts.OpCJALR:
		target := c.regs.ReadReg(insts.CRd(hw))
		c.writeInt(RegRA, pc+2)
		c.Jump(target)
	case insts.OpCADD:
		rd := insts.CRd(hw)
		c.writeInt(rd, c.regs.ReadReg(rd)+c.regs.ReadReg(insts.CRs2(hw)))

	case insts.OpCSWSP:
		return c.store(sp+insts.ImmCSWSP(hw), 4, c.regs.ReadReg(insts.CRs2(hw)))
	case insts.OpCSDSP:
		return c.store(sp+insts.ImmCSDSP(hw), 8, c.regs.ReadReg(insts.CRs2(hw)))
	case insts.OpCFSWSP:
		return c.store(sp+insts.ImmCSWSP(hw), 4, c.regs.ReadFReg(insts.CRs2(hw)))
	case insts.OpCFSDSP:
		return c.store(sp+insts.ImmCSDSP(hw), 8, c.regs.ReadFReg(insts.CRs2(hw)))

	default:
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented instruction", uint64(hw))
	}
	return nil
}
