// Package emu provides functional RISC-V emulation.
package emu

import (
	"math"

	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
)

// Floating-point registers hold 64 raw bits; single-precision values are
// NaN-boxed in the low word. A register whose upper word is not all ones
// reads as the canonical single NaN.

const nanBoxMask = uint64(0xFFFFFFFF) << 32

func (c *CPU) readF32(reg uint8) float32 {
	bits := c.regs.ReadFReg(reg)
	if bits&nanBoxMask != nanBoxMask {
		return math.Float32frombits(0x7FC00000)
	}
	return math.Float32frombits(uint32(bits))
}

func (c *CPU) writeF32(reg uint8, f float32) {
	c.regs.WriteFReg(reg, nanBoxMask|uint64(math.Float32bits(f)))
}

func (c *CPU) readF64(reg uint8) float64 {
	return math.Float64frombits(c.regs.ReadFReg(reg))
}

func (c *CPU) writeF64(reg uint8, f float64) {
	c.regs.WriteFReg(reg, math.Float64bits(f))
}

// roundMode resolves the instruction's rm field, following FCSR when
// the field says dynamic.
func (c *CPU) roundMode(word uint32) uint32 {
	rm := insts.Rm(word)
	if rm == 0b111 {
		rm = (c.regs.FCSR >> 5) & 0x7
	}
	return rm
}

// round applies the resolved rounding mode to a value about to be
// converted to an integer.
func round(f float64, rm uint32) float64 {
	switch rm {
	case 0b001: // toward zero
		return math.Trunc(f)
	case 0b010: // down
		return math.Floor(f)
	case 0b011: // up
		return math.Ceil(f)
	case 0b100: // to nearest, ties away
		return math.Round(f)
	default: // to nearest, ties to even
		return math.RoundToEven(f)
	}
}

// cvtToInt converts with the clamping the architecture specifies: NaN
// and overflow saturate to the extreme of the destination range.
func cvtToInt(f float64, rm uint32, signed bool, width int) uint64 {
	f = round(f, rm)
	if signed {
		maxVal := float64(int64(1)<<(width-1) - 1)
		minVal := -float64(int64(1) << (width - 1))
		switch {
		case math.IsNaN(f), f > maxVal:
			return uint64(int64(1)<<(width-1) - 1)
		case f < minVal:
			return uint64(int64(-1) << (width - 1))
		}
		return uint64(int64(f))
	}
	maxVal := math.Ldexp(1, width)
	switch {
	case math.IsNaN(f), f >= maxVal:
		if width == 32 {
			return uint64(^uint32(0))
		}
		return ^uint64(0)
	case f <= -1:
		return 0
	}
	return uint64(f)
}

// cvtResult sign-extends 32-bit conversion results into the register.
func cvtResult(v uint64, width int) uint64 {
	if width == 32 {
		return sext32(uint32(v))
	}
	return v
}

func (c *CPU) executeFP(op insts.Op, word uint32) error {
	rd := insts.Rd(word)
	rs1 := insts.Rs1(word)
	rs2 := insts.Rs2(word)
	rm := c.roundMode(word)

	switch op {
	case insts.OpFLW:
		addr := c.regs.ReadReg(rs1) + uint64(insts.ImmI(word))
		w, err := c.memory.Read32(addr)
		if err != nil {
			return err
		}
		c.regs.WriteFReg(rd, nanBoxMask|uint64(w))
	case insts.OpFSW:
		addr := c.regs.ReadReg(rs1) + uint64(insts.ImmS(word))
		return c.store(addr, 4, c.regs.ReadFReg(rs2))
	case insts.OpFLD:
		addr := c.regs.ReadReg(rs1) + uint64(insts.ImmI(word))
		d, err := c.memory.Read64(addr)
		if err != nil {
			return err
		}
		c.regs.WriteFReg(rd, d)
	case insts.OpFSD:
		addr := c.regs.ReadReg(rs1) + uint64(insts.ImmS(word))
		return c.store(addr, 8, c.regs.ReadFReg(rs2))

	// Running the single-precision fused ops in float64 keeps the
	// product exact, so the final float32 conversion rounds once.
	case insts.OpFMADDS:
		c.writeF32(rd, float32(math.FMA(float64(c.readF32(rs1)),
			float64(c.readF32(rs2)), float64(c.readF32(insts.Rs3(word))))))
	case insts.OpFMSUBS:
		c.writeF32(rd, float32(math.FMA(float64(c.readF32(rs1)),
			float64(c.readF32(rs2)), -float64(c.readF32(insts.Rs3(word))))))
	case insts.OpFNMSUBS:
		c.writeF32(rd, float32(math.FMA(-float64(c.readF32(rs1)),
			float64(c.readF32(rs2)), float64(c.readF32(insts.Rs3(word))))))
	case insts.OpFNMADDS:
		c.writeF32(rd, float32(math.FMA(-float64(c.readF32(rs1)),
			float64(c.readF32(rs2)), -float64(c.readF32(insts.Rs3(word))))))

	case insts.OpFADDS:
		c.writeF32(rd, c.readF32(rs1)+c.readF32(rs2))
	case insts.OpFSUBS:
		c.writeF32(rd, c.readF32(rs1)-c.readF32(rs2))
	case insts.OpFMULS:
		c.writeF32(rd, c.readF32(rs1)*c.readF32(rs2))
	case insts.OpFDIVS:
		c.writeF32(rd, c.readF32(rs1)/c.readF32(rs2))
	case insts.OpFSQRTS:
		c.writeF32(rd, float32(math.Sqrt(float64(c.readF32(rs1)))))

	case insts.OpFSGNJS, insts.OpFSGNJNS, insts.OpFSGNJXS:
		a := math.Float32bits(c.readF32(rs1))
		b := math.Float32bits(c.readF32(rs2))
		var sign uint32
		switch op {
		case insts.OpFSGNJS:
			sign = b & 0x80000000
		case insts.OpFSGNJNS:
			sign = ^b & 0x80000000
		case insts.OpFSGNJXS:
			sign = (a ^ b) & 0x80000000
		}
		c.writeF32(rd, math.Float32frombits(a&0x7FFFFFFF|sign))

	case insts.OpFMINS:
		c.writeF32(rd, float32(fpMin(float64(c.readF32(rs1)), float64(c.readF32(rs2)))))
	case insts.OpFMAXS:
		c.writeF32(rd, float32(fpMax(float64(c.readF32(rs1)), float64(c.readF32(rs2)))))

	case insts.OpFCVTWS:
		c.regs.WriteReg(rd, cvtResult(cvtToInt(float64(c.readF32(rs1)), rm, true, 32), 32))
	case insts.OpFCVTWUS:
		c.regs.WriteReg(rd, cvtResult(cvtToInt(float64(c.readF32(rs1)), rm, false, 32), 32))
	case insts.OpFCVTLS:
		c.regs.WriteReg(rd, cvtToInt(float64(c.readF32(rs1)), rm, true, 64))
	case insts.OpFCVTLUS:
		c.regs.WriteReg(rd, cvtToInt(float64(c.readF32(rs1)), rm, false, 64))

	case insts.OpFMVXW:
		c.regs.WriteReg(rd, sext32(uint32(c.regs.ReadFReg(rs1))))
	case insts.OpFMVWX:
		c.regs.WriteFReg(rd, nanBoxMask|uint64(uint32(c.regs.ReadReg(rs1))))

	case insts.OpFEQS:
		c.writeInt(rd, boolToReg(c.readF32(rs1) == c.readF32(rs2)))
	case insts.OpFLTS:
		c.writeInt(rd, boolToReg(c.readF32(rs1) < c.readF32(rs2)))
	case insts.OpFLES:
		c.writeInt(rd, boolToReg(c.readF32(rs1) <= c.readF32(rs2)))

	case insts.OpFCLASSS:
		bits := math.Float32bits(c.readF32(rs1))
		signaling := bits>>23&0xFF == 0xFF && bits&0x7FFFFF != 0 &&
			bits&0x400000 == 0
		subnormal := bits>>23&0xFF == 0 && bits&0x7FFFFF != 0
		c.writeInt(rd, classify(float64(c.readF32(rs1)), signaling, subnormal))

	case insts.OpFCVTSW:
		c.writeF32(rd, float32(int32(uint32(c.regs.ReadReg(rs1)))))
	case insts.OpFCVTSWU:
		c.writeF32(rd, float32(uint32(c.regs.ReadReg(rs1))))
	case insts.OpFCVTSL:
		c.writeF32(rd, float32(int64(c.regs.ReadReg(rs1))))
	case insts.OpFCVTSLU:
		c.writeF32(rd, float32(c.regs.ReadReg(rs1)))

	case insts.OpFMADDD:
		c.writeF64(rd, math.FMA(c.readF64(rs1), c.readF64(rs2), c.readF64(insts.Rs3(word))))
	case insts.OpFMSUBD:
		c.writeF64(rd, math.FMA(c.readF64(rs1), c.readF64(rs2), -c.readF64(insts.Rs3(word))))
	case insts.OpFNMSUBD:
		c.writeF64(rd, math.FMA(-c.readF64(rs1), c.readF64(rs2), c.readF64(insts.Rs3(word))))
	case insts.OpFNMADDD:
		c.writeF64(rd, math.FMA(-c.readF64(rs1), c.readF64(rs2), -c.readF64(insts.Rs3(word))))

	case insts.OpFADDD:
		c.writeF64(rd, c.readF64(rs1)+c.readF64(rs2))
	case insts.OpFSUBD:
		c.writeF64(rd, c.readF64(rs1)-c.readF64(rs2))
	case insts.OpFMULD:
		c.writeF64(rd, c.readF64(rs1)*c.readF64(rs2))
	case insts.OpFDIVD:
		c.writeF64(rd, c.readF64(rs1)/c.readF64(rs2))
	case insts.OpFSQRTD:
		c.writeF64(rd, math.Sqrt(c.readF64(rs1)))

	case insts.OpFSGNJD, insts.OpFSGNJND, insts.OpFSGNJXD:
		a := math.Float64bits(c.readF64(rs1))
		b := math.Float64bits(c.readF64(rs2))
		var sign uint64
		switch op {
		case insts.OpFSGNJD:
			sign = b & (1 << 63)
		case insts.OpFSGNJND:
			sign = ^b & (1 << 63)
		case insts.OpFSGNJXD:
			sign = (a ^ b) & (1 << 63)
		}
		c.writeF64(rd, math.Float64frombits(a&^(uint64(1)<<63)|sign))

	case insts.OpFMIND:
		c.writeF64(rd, fpMin(c.readF64(rs1), c.readF64(rs2)))
	case insts.OpFMAXD:
		c.writeF64(rd, fpMax(c.readF64(rs1), c.readF64(rs2)))

	case insts.OpFCVTSD:
		c.writeF32(rd, float32(c.readF64(rs1)))
	case insts.OpFCVTDS:
		c.writeF64(rd, float64(c.readF32(rs1)))

	case insts.OpFCVTWD:
		c.regs.WriteReg(rd, cvtResult(cvtToInt(c.readF64(rs1), rm, true, 32), 32))
	case insts.OpFCVTWUD:
		c.regs.WriteReg(rd, cvtResult(cvtToInt(c.readF64(rs1), rm, false, 32), 32))
	case insts.OpFCVTLD:
		c.regs.WriteReg(rd, cvtToInt(c.readF64(rs1), rm, true, 64))
	case insts.OpFCVTLUD:
		c.regs.WriteReg(rd, cvtToInt(c.readF64(rs1), rm, false, 64))

	case insts.OpFMVXD:
		c.regs.WriteReg(rd, c.regs.ReadFReg(rs1))
	case insts.OpFMVDX:
		c.regs.WriteFReg(rd, c.regs.ReadReg(rs1))

	case insts.OpFEQD:
		c.writeInt(rd, boolToReg(c.readF64(rs1) == c.readF64(rs2)))
	case insts.OpFLTD:
		c.writeInt(rd, boolToReg(c.readF64(rs1) < c.readF64(rs2)))
	case insts.OpFLED:
		c.writeInt(rd, boolToReg(c.readF64(rs1) <= c.readF64(rs2)))

	case insts.OpFCLASSD:
		bits := math.Float64bits(c.readF64(rs1))
		signaling := math.IsNaN(c.readF64(rs1)) && bits&(1<<51) == 0
		subnormal := bits>>52&0x7FF == 0 && bits&(1<<52-1) != 0
		c.writeInt(rd, classify(c.readF64(rs1), signaling, subnormal))

	case insts.OpFCVTDW:
		c.writeF64(rd, float64(int32(uint32(c.regs.ReadReg(rs1)))))
	case insts.OpFCVTDWU:
		c.writeF64(rd, float64(uint32(c.regs.ReadReg(rs1))))
	case insts.OpFCVTDL:
		c.writeF64(rd, float64(int64(c.regs.ReadReg(rs1))))
	case insts.OpFCVTDLU:
		c.writeF64(rd, float64(c.regs.ReadReg(rs1)))

	default:
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented instruction", uint64(word))
	}
	return nil
}

// fpMin and fpMax implement the minimum/maximum rules: a single NaN
// operand yields the other operand, two NaN operands yield the
// canonical NaN.
func fpMin(a, b float64) float64 {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return math.NaN()
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case a < b:
		return a
	}
	return b
}

func fpMax(a, b float64) float64 {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return math.NaN()
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case a > b:
		return a
	}
	return b
}

// classify returns the FCLASS category bit for a value.
func classify(f float64, signalingNaN, subnormal bool) uint64 {
	switch {
	case math.IsNaN(f):
		if signalingNaN {
			return 1 << 8
		}
		return 1 << 9
	case math.IsInf(f, -1):
		return 1 << 0
	case math.IsInf(f, 1):
		return 1 << 7
	case f == 0:
		if math.Signbit(f) {
			return 1 << 3
		}
		return 1 << 4
	case subnormal:
		if f < 0 {
			return 1 << 2
		}
		return 1 << 5
	case f < 0:
		return 1 << 1
	}
	return 1 << 6
}
