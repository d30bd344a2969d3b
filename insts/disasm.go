// Package insts provides RISC-V instruction definitions and decoding.
package insts

import "fmt"

// opNames maps every opcode tag to its assembler mnemonic.
var opNames = map[Op]string{
	OpInvalid: "illegal",

	OpLUI: "lui", OpAUIPC: "auipc", OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge",
	OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu",
	OpLWU: "lwu", OpLD: "ld",
	OpSB: "sb", OpSH: "sh", OpSW: "sw", OpSD: "sd",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori",
	OpORI: "ori", OpANDI: "andi", OpSLLI: "slli", OpSRLI: "srli",
	OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt",
	OpSLTU: "sltu", OpXOR: "xor", OpSRL: "srl", OpSRA: "sra",
	OpOR: "or", OpAND: "and",
	OpFENCE: "fence", OpECALL: "ecall", OpEBREAK: "ebreak",
	OpADDIW: "addiw", OpSLLIW: "slliw", OpSRLIW: "srliw", OpSRAIW: "sraiw",
	OpADDW: "addw", OpSUBW: "subw", OpSLLW: "sllw", OpSRLW: "srlw",
	OpSRAW: "sraw",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
	OpMULW: "mulw", OpDIVW: "divw", OpDIVUW: "divuw",
	OpREMW: "remw", OpREMUW: "remuw",
	OpLRW: "lr.w", OpSCW: "sc.w", OpAMOSWAPW: "amoswap.w",
	OpAMOADDW: "amoadd.w", OpAMOXORW: "amoxor.w", OpAMOANDW: "amoand.w",
	OpAMOORW: "amoor.w", OpAMOMINW: "amomin.w", OpAMOMAXW: "amomax.w",
	OpAMOMINUW: "amominu.w", OpAMOMAXUW: "amomaxu.w",
	OpLRD: "lr.d", OpSCD: "sc.d", OpAMOSWAPD: "amoswap.d",
	OpAMOADDD: "amoadd.d", OpAMOXORD: "amoxor.d", OpAMOANDD: "amoand.d",
	OpAMOORD: "amoor.d", OpAMOMIND: "amomin.d", OpAMOMAXD: "amomax.d",
	OpAMOMINUD: "amominu.d", OpAMOMAXUD: "amomaxu.d",
	OpFLW: "flw", OpFSW: "fsw", OpFLD: "fld", OpFSD: "fsd",
	OpFMADDS: "fmadd.s", OpFMSUBS: "fmsub.s", OpFNMSUBS: "fnmsub.s",
	OpFNMADDS: "fnmadd.s",
	OpFADDS: "fadd.s", OpFSUBS: "fsub.s", OpFMULS: "fmul.s",
	OpFDIVS: "fdiv.s", OpFSQRTS: "fsqrt.s",
	OpFSGNJS: "fsgnj.s", OpFSGNJNS: "fsgnjn.s", OpFSGNJXS: "fsgnjx.s",
	OpFMINS: "fmin.s", OpFMAXS: "fmax.s",
	OpFCVTWS: "fcvt.w.s", OpFCVTWUS: "fcvt.wu.s",
	OpFCVTLS: "fcvt.l.s", OpFCVTLUS: "fcvt.lu.s",
	OpFMVXW: "fmv.x.w", OpFEQS: "feq.s", OpFLTS: "flt.s", OpFLES: "fle.s",
	OpFCLASSS: "fclass.s",
	OpFCVTSW: "fcvt.s.w", OpFCVTSWU: "fcvt.s.wu",
	OpFCVTSL: "fcvt.s.l", OpFCVTSLU: "fcvt.s.lu",
	OpFMVWX: "fmv.w.x",
	OpFMADDD: "fmadd.d", OpFMSUBD: "fmsub.d", OpFNMSUBD: "fnmsub.d",
	OpFNMADDD: "fnmadd.d",
	OpFADDD: "fadd.d", OpFSUBD: "fsub.d", OpFMULD: "fmul.d",
	OpFDIVD: "fdiv.d", OpFSQRTD: "fsqrt.d",
	OpFSGNJD: "fsgnj.d", OpFSGNJND: "fsgnjn.d", OpFSGNJXD: "fsgnjx.d",
	OpFMIND: "fmin.d", OpFMAXD: "fmax.d",
	OpFCVTSD: "fcvt.s.d", OpFCVTDS: "fcvt.d.s",
	OpFCVTWD: "fcvt.w.d", OpFCVTWUD: "fcvt.wu.d",
	OpFCVTLD: "fcvt.l.d", OpFCVTLUD: "fcvt.lu.d",
	OpFMVXD: "fmv.x.d", OpFEQD: "feq.d", OpFLTD: "flt.d", OpFLED: "fle.d",
	OpFCLASSD: "fclass.d",
	OpFCVTDW: "fcvt.d.w", OpFCVTDWU: "fcvt.d.wu",
	OpFCVTDL: "fcvt.d.l", OpFCVTDLU: "fcvt.d.lu",
	OpFMVDX: "fmv.d.x",
	OpCADDI4SPN: "c.addi4spn", OpCFLD: "c.fld", OpCLW: "c.lw",
	OpCFLW: "c.flw", OpCLD: "c.ld", OpCFSD: "c.fsd", OpCSW: "c.sw",
	OpCFSW: "c.fsw", OpCSD: "c.sd",
	OpCNOP: "c.nop", OpCADDI: "c.addi", OpCJAL: "c.jal",
	OpCADDIW: "c.addiw", OpCLI: "c.li", OpCADDI16SP: "c.addi16sp",
	OpCLUI: "c.lui",
	OpCSRLI: "c.srli", OpCSRAI: "c.srai", OpCANDI: "c.andi",
	OpCSUB: "c.sub", OpCXOR: "c.xor", OpCOR: "c.or", OpCAND: "c.and",
	OpCSUBW: "c.subw", OpCADDW: "c.addw",
	OpCJ: "c.j", OpCBEQZ: "c.beqz", OpCBNEZ: "c.bnez",
	OpCSLLI: "c.slli", OpCFLDSP: "c.fldsp", OpCLWSP: "c.lwsp",
	OpCFLWSP: "c.flwsp", OpCLDSP: "c.ldsp",
	OpCJR: "c.jr", OpCMV: "c.mv", OpCEBREAK: "c.ebreak",
	OpCJALR: "c.jalr", OpCADD: "c.add",
	OpCFSDSP: "c.fsdsp", OpCSWSP: "c.swsp", OpCFSWSP: "c.fswsp",
	OpCSDSP: "c.sdsp",
}

// abiNames are the standard integer register ABI names.
var abiNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// String returns the assembler mnemonic of the opcode tag.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("insts.Op(%d)", int(op))
}

// RegName returns the ABI name of an integer register.
func RegName(reg uint8) string {
	if reg < 32 {
		return abiNames[reg]
	}
	return fmt.Sprintf("x%d", reg)
}

// Disassemble renders the instruction word at pc as assembler text. The
// output is trace text and is not suitable for reassembly.
func Disassemble(op Op, word uint32, pc uint64) string {
	mnemonic := op.String()

	switch op {
	case OpLUI, OpAUIPC:
		return fmt.Sprintf("%s %s, 0x%x",
			mnemonic, RegName(Rd(word)), uint32(ImmU(word))>>12)
	case OpJAL:
		return fmt.Sprintf("%s %s, 0x%x",
			mnemonic, RegName(Rd(word)), pc+uint64(ImmJ(word)))
	case OpJALR:
		return fmt.Sprintf("%s %s, %d(%s)",
			mnemonic, RegName(Rd(word)), ImmI(word), RegName(Rs1(word)))
	case OpBEQ, OpBNE, OpBLT, OpBGE, OpBLTU, OpBGEU:
		return fmt.Sprintf("%s %s, %s, 0x%x",
			mnemonic, RegName(Rs1(word)), RegName(Rs2(word)),
			pc+uint64(ImmB(word)))
	case OpLB, OpLH, OpLW, OpLBU, OpLHU, OpLWU, OpLD:
		return fmt.Sprintf("%s %s, %d(%s)",
			mnemonic, RegName(Rd(word)), ImmI(word), RegName(Rs1(word)))
	case OpSB, OpSH, OpSW, OpSD:
		return fmt.Sprintf("%s %s, %d(%s)",
			mnemonic, RegName(Rs2(word)), ImmS(word), RegName(Rs1(word)))
	case OpADDI, OpSLTI, OpSLTIU, OpXORI, OpORI, OpANDI, OpADDIW:
		return fmt.Sprintf("%s %s, %s, %d",
			mnemonic, RegName(Rd(word)), RegName(Rs1(word)), ImmI(word))
	case OpSLLI, OpSRLI, OpSRAI, OpSLLIW, OpSRLIW, OpSRAIW:
		return fmt.Sprintf("%s %s, %s, %d",
			mnemonic, RegName(Rd(word)), RegName(Rs1(word)),
			(word>>20)&0x3F)
	case OpADD, OpSUB, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpSRA,
		OpOR, OpAND, OpADDW, OpSUBW, OpSLLW, OpSRLW, OpSRAW,
		OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU,
		OpMULW, OpDIVW, OpDIVUW, OpREMW, OpREMUW:
		return fmt.Sprintf("%s %s, %s, %s",
			mnemonic, RegName(Rd(word)), RegName(Rs1(word)),
			RegName(Rs2(word)))
	case OpFENCE, OpECALL, OpEBREAK, OpCNOP, OpCEBREAK:
		return mnemonic
	case OpCSRRW, OpCSRRS, OpCSRRC, OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return fmt.Sprintf("%s %s, 0x%x",
			mnemonic, RegName(Rd(word)), CSR(word))
	case OpCJ, OpCJAL:
		return fmt.Sprintf("%s 0x%x", mnemonic, pc+uint64(ImmCJ(uint16(word))))
	case OpCBEQZ, OpCBNEZ:
		return fmt.Sprintf("%s %s, 0x%x",
			mnemonic, RegName(CRdP(uint16(word))),
			pc+uint64(ImmCB(uint16(word))))
	case OpCJR, OpCJALR:
		return fmt.Sprintf("%s %s", mnemonic, RegName(CRd(uint16(word))))
	case OpCMV, OpCADD:
		return fmt.Sprintf("%s %s, %s",
			mnemonic, RegName(CRd(uint16(word))), RegName(CRs2(uint16(word))))
	case OpCADDI, OpCLI, OpCADDIW:
		return fmt.Sprintf("%s %s, %d",
			mnemonic, RegName(CRd(uint16(word))), ImmCI(uint16(word)))
	}

	if IsCompressed(uint16(word)) {
		return fmt.Sprintf("%s (0x%04x)", mnemonic, uint16(word))
	}
	return fmt.Sprintf("%s (0x%08x)", mnemonic, word)
}
