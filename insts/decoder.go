// Package insts provides RISC-V instruction definitions and decoding.
package insts

// Decoder classifies raw instruction words into opcode tags.
//
// Decoding is a switch on the primary opcode (bits 6:0 for 32-bit words,
// the quadrant/funct3 layout for compressed words) followed by
// funct3/funct7 refinement. A Decoder is immutable once configured and
// safe for concurrent use by independent machines.
type Decoder struct {
	xlen int

	// Extension toggles. The base integer set is always on.
	EnableC bool
	EnableM bool
	EnableA bool
	EnableF bool
}

// NewDecoder creates a decoder for the given register width (32 or 64).
// All supported extensions are enabled by default.
func NewDecoder(xlen int) *Decoder {
	return &Decoder{
		xlen:    xlen,
		EnableC: true,
		EnableM: true,
		EnableA: true,
		EnableF: true,
	}
}

// XLEN returns the register width the decoder was built for.
func (d *Decoder) XLEN() int {
	return d.xlen
}

// Decode classifies an instruction word. For compressed instructions only
// the low 16 bits of word are significant. Unknown encodings decode to
// OpInvalid.
func (d *Decoder) Decode(word uint32) Op {
	if IsCompressed(uint16(word)) {
		if !d.EnableC {
			return OpInvalid
		}
		return d.decodeCompressed(uint16(word))
	}

	switch word & 0x7F {
	case opcLUI:
		return OpLUI
	case opcAUIPC:
		return OpAUIPC
	case opcJAL:
		return OpJAL
	case opcJALR:
		if Funct3(word) == 0 {
			return OpJALR
		}
	case opcBranch:
		return decodeBranch(word)
	case opcLoad:
		return d.decodeLoad(word)
	case opcStore:
		return d.decodeStore(word)
	case opcOpImm:
		return d.decodeOpImm(word)
	case opcOp:
		return d.decodeOp(word)
	case opcMiscMem:
		// FENCE and FENCE.I are both memory-ordering no-ops for a
		// single-threaded interpreter.
		if Funct3(word) <= 1 {
			return OpFENCE
		}
	case opcSystem:
		return decodeSystem(word)
	case opcOpImm32:
		if d.xlen == 64 {
			return decodeOpImm32(word)
		}
	case opcOp32:
		if d.xlen == 64 {
			return d.decodeOp32(word)
		}
	case opcAMO:
		if d.EnableA {
			return d.decodeAMO(word)
		}
	case opcLoadFP:
		if d.EnableF {
			switch Funct3(word) {
			case 0b010:
				return OpFLW
			case 0b011:
				return OpFLD
			}
		}
	case opcStoreFP:
		if d.EnableF {
			switch Funct3(word) {
			case 0b010:
				return OpFSW
			case 0b011:
				return OpFSD
			}
		}
	case opcFMADD, opcFMSUB, opcFNMSUB, opcFNMADD:
		if d.EnableF {
			return decodeFMA(word)
		}
	case opcOpFP:
		if d.EnableF {
			return d.decodeOpFP(word)
		}
	}

	return OpInvalid
}

func decodeBranch(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		return OpBEQ
	case 0b001:
		return OpBNE
	case 0b100:
		return OpBLT
	case 0b101:
		return OpBGE
	case 0b110:
		return OpBLTU
	case 0b111:
		return OpBGEU
	}
	return OpInvalid
}

func (d *Decoder) decodeLoad(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		return OpLB
	case 0b001:
		return OpLH
	case 0b010:
		return OpLW
	case 0b100:
		return OpLBU
	case 0b101:
		return OpLHU
	case 0b110:
		if d.xlen == 64 {
			return OpLWU
		}
	case 0b011:
		if d.xlen == 64 {
			return OpLD
		}
	}
	return OpInvalid
}

func (d *Decoder) decodeStore(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		return OpSB
	case 0b001:
		return OpSH
	case 0b010:
		return OpSW
	case 0b011:
		if d.xlen == 64 {
			return OpSD
		}
	}
	return OpInvalid
}

func (d *Decoder) decodeOpImm(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		return OpADDI
	case 0b010:
		return OpSLTI
	case 0b011:
		return OpSLTIU
	case 0b100:
		return OpXORI
	case 0b110:
		return OpORI
	case 0b111:
		return OpANDI
	case 0b001:
		if d.shiftFunctOK(word, false) {
			return OpSLLI
		}
	case 0b101:
		if d.shiftFunctOK(word, false) {
			return OpSRLI
		}
		if d.shiftFunctOK(word, true) {
			return OpSRAI
		}
	}
	return OpInvalid
}

// shiftFunctOK validates the high immediate bits of an immediate shift.
// RV64 reserves bits 31:26, leaving a 6-bit shift amount; RV32 reserves
// bits 31:25.
func (d *Decoder) shiftFunctOK(word uint32, arith bool) bool {
	want := uint32(0)
	if arith {
		want = 0b0100000
	}
	if d.xlen == 64 {
		return (word>>26)&0x3F == want>>1
	}
	return Funct7(word) == want
}

func (d *Decoder) decodeOp(word uint32) Op {
	funct3 := Funct3(word)
	switch Funct7(word) {
	case 0b0000000:
		switch funct3 {
		case 0b000:
			return OpADD
		case 0b001:
			return OpSLL
		case 0b010:
			return OpSLT
		case 0b011:
			return OpSLTU
		case 0b100:
			return OpXOR
		case 0b101:
			return OpSRL
		case 0b110:
			return OpOR
		case 0b111:
			return OpAND
		}
	case 0b0100000:
		switch funct3 {
		case 0b000:
			return OpSUB
		case 0b101:
			return OpSRA
		}
	case 0b0000001:
		if !d.EnableM {
			return OpInvalid
		}
		switch funct3 {
		case 0b000:
			return OpMUL
		case 0b001:
			return OpMULH
		case 0b010:
			return OpMULHSU
		case 0b011:
			return OpMULHU
		case 0b100:
			return OpDIV
		case 0b101:
			return OpDIVU
		case 0b110:
			return OpREM
		case 0b111:
			return OpREMU
		}
	}
	return OpInvalid
}

func decodeSystem(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		if Rd(word) == 0 && Rs1(word) == 0 {
			switch CSR(word) {
			case 0:
				return OpECALL
			case 1:
				return OpEBREAK
			}
		}
	case 0b001:
		return OpCSRRW
	case 0b010:
		return OpCSRRS
	case 0b011:
		return OpCSRRC
	case 0b101:
		return OpCSRRWI
	case 0b110:
		return OpCSRRSI
	case 0b111:
		return OpCSRRCI
	}
	return OpInvalid
}

func decodeOpImm32(word uint32) Op {
	switch Funct3(word) {
	case 0b000:
		return OpADDIW
	case 0b001:
		if Funct7(word) == 0 {
			return OpSLLIW
		}
	case 0b101:
		switch Funct7(word) {
		case 0b0000000:
			return OpSRLIW
		case 0b0100000:
			return OpSRAIW
		}
	}
	return OpInvalid
}

func (d *Decoder) decodeOp32(word uint32) Op {
	funct3 := Funct3(word)
	switch Funct7(word) {
	case 0b0000000:
		switch funct3 {
		case 0b000:
			return OpADDW
		case 0b001:
			return OpSLLW
		case 0b101:
			return OpSRLW
		}
	case 0b0100000:
		switch funct3 {
		case 0b000:
			return OpSUBW
		case 0b101:
			return OpSRAW
		}
	case 0b0000001:
		if !d.EnableM {
			return OpInvalid
		}
		switch funct3 {
		case 0b000:
			return OpMULW
		case 0b100:
			return OpDIVW
		case 0b101:
			return OpDIVUW
		case 0b110:
			return OpREMW
		case 0b111:
			return OpREMUW
		}
	}
	return OpInvalid
}

func (d *Decoder) decodeAMO(word uint32) Op {
	funct3 := Funct3(word)
	if funct3 != 0b010 && funct3 != 0b011 {
		return OpInvalid
	}
	if funct3 == 0b011 && d.xlen != 64 {
		return OpInvalid
	}
	wide := funct3 == 0b011

	funct5 := word >> 27
	switch funct5 {
	case 0b00010:
		if Rs2(word) != 0 {
			return OpInvalid
		}
		return pickWide(wide, OpLRW, OpLRD)
	case 0b00011:
		return pickWide(wide, OpSCW, OpSCD)
	case 0b00001:
		return pickWide(wide, OpAMOSWAPW, OpAMOSWAPD)
	case 0b00000:
		return pickWide(wide, OpAMOADDW, OpAMOADDD)
	case 0b00100:
		return pickWide(wide, OpAMOXORW, OpAMOXORD)
	case 0b01100:
		return pickWide(wide, OpAMOANDW, OpAMOANDD)
	case 0b01000:
		return pickWide(wide, OpAMOORW, OpAMOORD)
	case 0b10000:
		return pickWide(wide, OpAMOMINW, OpAMOMIND)
	case 0b10100:
		return pickWide(wide, OpAMOMAXW, OpAMOMAXD)
	case 0b11000:
		return pickWide(wide, OpAMOMINUW, OpAMOMINUD)
	case 0b11100:
		return pickWide(wide, OpAMOMAXUW, OpAMOMAXUD)
	}
	return OpInvalid
}

func pickWide(wide bool, narrow, wideOp Op) Op {
	if wide {
		return wideOp
	}
	return narrow
}

func decodeFMA(word uint32) Op {
	fmt := (word >> 25) & 0x3
	if fmt > 1 {
		return OpInvalid
	}
	double := fmt == 1
	switch word & 0x7F {
	case opcFMADD:
		return pickWide(double, OpFMADDS, OpFMADDD)
	case opcFMSUB:
		return pickWide(double, OpFMSUBS, OpFMSUBD)
	case opcFNMSUB:
		return pickWide(double, OpFNMSUBS, OpFNMSUBD)
	case opcFNMADD:
		return pickWide(double, OpFNMADDS, OpFNMADDD)
	}
	return OpInvalid
}

func (d *Decoder) decodeOpFP(word uint32) Op {
	rv64 := d.xlen == 64
	funct3 := Funct3(word)
	rs2 := Rs2(word)

	switch Funct7(word) {
	case 0b0000000:
		return OpFADDS
	case 0b0000100:
		return OpFSUBS
	case 0b0001000:
		return OpFMULS
	case 0b0001100:
		return OpFDIVS
	case 0b0101100:
		if rs2 == 0 {
			return OpFSQRTS
		}
	case 0b0010000:
		switch funct3 {
		case 0b000:
			return OpFSGNJS
		case 0b001:
			return OpFSGNJNS
		case 0b010:
			return OpFSGNJXS
		}
	case 0b0010100:
		switch funct3 {
		case 0b000:
			return OpFMINS
		case 0b001:
			return OpFMAXS
		}
	case 0b1100000:
		switch rs2 {
		case 0:
			return OpFCVTWS
		case 1:
			return OpFCVTWUS
		case 2:
			if rv64 {
				return OpFCVTLS
			}
		case 3:
			if rv64 {
				return OpFCVTLUS
			}
		}
	case 0b1110000:
		if rs2 == 0 {
			switch funct3 {
			case 0b000:
				return OpFMVXW
			case 0b001:
				return OpFCLASSS
			}
		}
	case 0b1010000:
		switch funct3 {
		case 0b010:
			return OpFEQS
		case 0b001:
			return OpFLTS
		case 0b000:
			return OpFLES
		}
	case 0b1101000:
		switch rs2 {
		case 0:
			return OpFCVTSW
		case 1:
			return OpFCVTSWU
		case 2:
			if rv64 {
				return OpFCVTSL
			}
		case 3:
			if rv64 {
				return OpFCVTSLU
			}
		}
	case 0b1111000:
		if rs2 == 0 && funct3 == 0 {
			return OpFMVWX
		}

	case 0b0000001:
		return OpFADDD
	case 0b0000101:
		return OpFSUBD
	case 0b0001001:
		return OpFMULD
	case 0b0001101:
		return OpFDIVD
	case 0b0101101:
		if rs2 == 0 {
			return OpFSQRTD
		}
	case 0b0010001:
		switch funct3 {
		case 0b000:
			return OpFSGNJD
		case 0b001:
			return OpFSGNJND
		case 0b010:
			return OpFSGNJXD
		}
	case 0b0010101:
		switch funct3 {
		case 0b000:
			return OpFMIND
		case 0b001:
			return OpFMAXD
		}
	case 0b0100000:
		if rs2 == 1 {
			return OpFCVTSD
		}
	case 0b0100001:
		if rs2 == 0 {
			return OpFCVTDS
		}
	case 0b1100001:
		switch rs2 {
		case 0:
			return OpFCVTWD
		case 1:
			return OpFCVTWUD
		case 2:
			if rv64 {
				return OpFCVTLD
			}
		case 3:
			if rv64 {
				return OpFCVTLUD
			}
		}
	case 0b1110001:
		if rs2 == 0 {
			switch funct3 {
			case 0b000:
				if rv64 {
					return OpFMVXD
				}
			case 0b001:
				return OpFCLASSD
			}
		}
	case 0b1010001:
		switch funct3 {
		case 0b010:
			return OpFEQD
		case 0b001:
			return OpFLTD
		case 0b000:
			return OpFLED
		}
	case 0b1101001:
		switch rs2 {
		case 0:
			return OpFCVTDW
		case 1:
			return OpFCVTDWU
		case 2:
			if rv64 {
				return OpFCVTDL
			}
		case 3:
			if rv64 {
				return OpFCVTDLU
			}
		}
	case 0b1111001:
		if rs2 == 0 && funct3 == 0 && rv64 {
			return OpFMVDX
		}
	}
	return OpInvalid
}
