package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/fault"
)

// stepAll executes count instructions and expects each to retire.
func stepAll(m *emu.Machine, count int) {
	for i := 0; i < count; i++ {
		Expect(m.CPU().Step()).To(Succeed())
	}
}

var _ = Describe("CPU", func() {
	Describe("integer arithmetic", func() {
		It("should execute register-register operations", func() {
			program := programBytes(
				encodeR(0x33, 12, 0, 10, 11, 0),    // add a2, a0, a1
				encodeR(0x33, 13, 0, 10, 11, 0x20), // sub a3, a0, a1
				encodeR(0x33, 14, 4, 10, 11, 0),    // xor a4, a0, a1
				encodeR(0x33, 15, 7, 10, 11, 0),    // and a5, a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0xF0)
			m.RegFile().WriteReg(11, 0x0F)

			stepAll(m, 4)

			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(0xFF)))
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(0xE1)))
			Expect(m.RegFile().ReadReg(14)).To(Equal(uint64(0xFF)))
			Expect(m.RegFile().ReadReg(15)).To(Equal(uint64(0x00)))
		})

		It("should compare signed and unsigned", func() {
			program := programBytes(
				encodeR(0x33, 12, 2, 10, 11, 0), // slt a2, a0, a1
				encodeR(0x33, 13, 3, 10, 11, 0), // sltu a3, a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, ^uint64(0)) // -1 signed, max unsigned
			m.RegFile().WriteReg(11, 1)

			stepAll(m, 2)

			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(1)))
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(0)))
		})

		It("should use only the low shift bits", func() {
			program := programBytes(
				encodeR(0x33, 12, 1, 10, 11, 0), // sll a2, a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 1)
			m.RegFile().WriteReg(11, 65) // 65 & 63 == 1

			stepAll(m, 1)
			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(2)))
		})

		It("should keep RV32 logical shifts 32 bits wide", func() {
			program := programBytes(
				encodeI(0x13, 11, 5, 10, 4), // srli a1, a0, 4
			)
			m := newFlatMachine(program, 0x1000, 32)
			m.RegFile().WriteReg(10, 0xFFFFFFFF80000000) // 0x80000000 sign-extended

			stepAll(m, 1)
			Expect(uint32(m.RegFile().ReadReg(11))).To(Equal(uint32(0x08000000)))
		})

		It("should sign-extend RV64 word operations", func() {
			program := programBytes(
				encodeI(0x1B, 11, 0, 10, -1), // addiw a1, a0, -1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x80000000)

			stepAll(m, 1)
			Expect(m.RegFile().ReadReg(11)).To(Equal(uint64(0x7FFFFFFF)))
		})
	})

	Describe("M extension", func() {
		It("should multiply and divide", func() {
			program := programBytes(
				encodeR(0x33, 12, 0, 10, 11, 1), // mul a2, a0, a1
				encodeR(0x33, 13, 4, 10, 11, 1), // div a3, a0, a1
				encodeR(0x33, 14, 6, 10, 11, 1), // rem a4, a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 17)
			m.RegFile().WriteReg(11, 5)

			stepAll(m, 3)
			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(85)))
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(3)))
			Expect(m.RegFile().ReadReg(14)).To(Equal(uint64(2)))
		})

		It("should define division by zero", func() {
			program := programBytes(
				encodeR(0x33, 12, 4, 10, 0, 1), // div a2, a0, x0
				encodeR(0x33, 13, 6, 10, 0, 1), // rem a3, a0, x0
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 7)

			stepAll(m, 2)
			Expect(m.RegFile().ReadReg(12)).To(Equal(^uint64(0)))
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(7)))
		})

		It("should handle the signed overflow case", func() {
			program := programBytes(
				encodeR(0x33, 12, 4, 10, 11, 1), // div a2, a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 1<<63)     // most negative
			m.RegFile().WriteReg(11, ^uint64(0)) // -1

			stepAll(m, 1)
			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(1) << 63))
		})
	})

	Describe("A extension", func() {
		It("should pair LR and SC", func() {
			program := programBytes(
				encodeR(0x2F, 12, 2, 10, 0, 0x08),  // lr.w a2, (a0)
				encodeR(0x2F, 13, 2, 10, 11, 0x0C), // sc.w a3, a1, (a0)
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x20000)
			m.RegFile().WriteReg(11, 99)
			Expect(m.Memory().Write32(0x20000, 7)).To(Succeed())

			stepAll(m, 2)
			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(7)))
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(0))) // success
			Expect(m.Memory().Read32(0x20000)).To(Equal(uint32(99)))
		})

		It("should fail SC after an intervening store", func() {
			program := programBytes(
				encodeR(0x2F, 12, 2, 10, 0, 0x08),  // lr.w a2, (a0)
				encodeS(2, 10, 11, 4),              // sw a1, 4(a0)
				encodeR(0x2F, 13, 2, 10, 11, 0x0C), // sc.w a3, a1, (a0)
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x20000)
			m.RegFile().WriteReg(11, 99)
			Expect(m.Memory().Write32(0x20000, 7)).To(Succeed())

			stepAll(m, 3)
			Expect(m.RegFile().ReadReg(13)).To(Equal(uint64(1))) // failure
			Expect(m.Memory().Read32(0x20000)).To(Equal(uint32(7)))
		})

		It("should execute AMOADD.W", func() {
			program := programBytes(
				encodeR(0x2F, 12, 2, 10, 11, 0x00), // amoadd.w a2, a1, (a0)
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x20000)
			m.RegFile().WriteReg(11, 5)
			Expect(m.Memory().Write32(0x20000, 10)).To(Succeed())

			stepAll(m, 1)
			Expect(m.RegFile().ReadReg(12)).To(Equal(uint64(10)))
			Expect(m.Memory().Read32(0x20000)).To(Equal(uint32(15)))
		})

		It("should fault on misaligned atomics", func() {
			program := programBytes(
				encodeR(0x2F, 12, 2, 10, 0, 0x08), // lr.w a2, (a0)
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x20001)

			err := m.CPU().Step()
			Expect(fault.IsKind(err, fault.MisalignedAccess)).To(BeTrue())
		})
	})

	Describe("compressed instructions", func() {
		It("should execute a compressed add sequence", func() {
			program := halfwordBytes(
				0x4515, // c.li a0, 5
				0x0509, // c.addi a0, 2
				0x952E, // c.add a0, a1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(11, 10)

			stepAll(m, 3)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(17)))
			Expect(m.RegFile().PC).To(Equal(uint64(0x1006)))
		})

		It("should advance PC by 2 for compressed instructions", func() {
			program := halfwordBytes(0x4515) // c.li a0, 5
			m := newFlatMachine(program, 0x1000, 64)

			stepAll(m, 1)
			Expect(m.RegFile().PC).To(Equal(uint64(0x1002)))
			Expect(m.InstructionCount()).To(Equal(uint64(1)))
		})

		It("should jump with C.J", func() {
			// c.j +6: funct3=101, quadrant 01
			program := halfwordBytes(
				0xA019, // c.j +6
				0x4505, // c.li a0, 1 (skipped)
				0x4509, // c.li a0, 2 (skipped)
				0x4529, // c.li a0, 10
			)
			m := newFlatMachine(program, 0x1000, 64)

			stepAll(m, 2)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(10)))
		})

		It("should mix compressed and full-width instructions", func() {
			program := append(halfwordBytes(0x4515), // c.li a0, 5
				programBytes(encodeADDI(10, 10, 3))...) // addi a0, a0, 3
			m := newFlatMachine(program, 0x1000, 64)

			stepAll(m, 2)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(8)))
			Expect(m.RegFile().PC).To(Equal(uint64(0x1006)))
		})
	})

	Describe("F extension", func() {
		It("should add single-precision values", func() {
			program := programBytes(
				encodeR(0x53, 0, 0, 1, 2, 0x00), // fadd.s f0, f1, f2
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteFReg(1, nanBox(math.Float32bits(1.5)))
			m.RegFile().WriteFReg(2, nanBox(math.Float32bits(2.25)))

			stepAll(m, 1)
			Expect(math.Float32frombits(uint32(m.RegFile().ReadFReg(0)))).
				To(Equal(float32(3.75)))
		})

		It("should convert to integer with truncation", func() {
			program := programBytes(
				// fcvt.w.s a0, f1, rtz (rm=001)
				encodeR(0x53, 10, 1, 1, 0, 0x60),
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteFReg(1, nanBox(math.Float32bits(-2.75)))

			stepAll(m, 1)
			Expect(int64(m.RegFile().ReadReg(10))).To(Equal(int64(-2)))
		})

		It("should treat unboxed singles as NaN", func() {
			program := programBytes(
				encodeR(0x53, 10, 2, 1, 1, 0x50), // feq.s a0, f1, f1
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteFReg(1, uint64(math.Float32bits(1.0))) // no NaN box

			stepAll(m, 1)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(0)))
		})

		It("should return the other operand from FMIN with one NaN", func() {
			program := programBytes(
				encodeR(0x53, 0, 0, 1, 2, 0x14), // fmin.s f0, f1, f2
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteFReg(1, nanBox(0x7FC00000)) // quiet NaN
			m.RegFile().WriteFReg(2, nanBox(math.Float32bits(4.0)))

			stepAll(m, 1)
			Expect(math.Float32frombits(uint32(m.RegFile().ReadFReg(0)))).
				To(Equal(float32(4.0)))
		})

		It("should return the canonical NaN from FMIN with two NaNs", func() {
			program := programBytes(
				encodeR(0x53, 0, 0, 1, 2, 0x14), // fmin.s f0, f1, f2
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteFReg(1, nanBox(0x7FC00001))
			m.RegFile().WriteFReg(2, nanBox(0xFFC00002))

			stepAll(m, 1)
			result := math.Float32frombits(uint32(m.RegFile().ReadFReg(0)))
			Expect(math.IsNaN(float64(result))).To(BeTrue())
		})

		It("should load and store doubles", func() {
			program := programBytes(
				encodeI(0x07, 1, 3, 10, 0), // fld f1, 0(a0)
				encodeS2(0x27, 3, 10, 1, 8), // fsd f1, 8(a0)
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(10, 0x20000)
			Expect(m.Memory().Write64(0x20000, math.Float64bits(6.5))).
				To(Succeed())

			stepAll(m, 2)
			bits, err := m.Memory().Read64(0x20008)
			Expect(err).NotTo(HaveOccurred())
			Expect(math.Float64frombits(bits)).To(Equal(6.5))
		})
	})

	Describe("CSR instructions", func() {
		It("should read and write the rounding mode", func() {
			program := programBytes(
				// csrrwi x0, frm, 1
				encodeI(0x73, 0, 5, 1, 0x002),
				// csrrs a0, frm, x0
				encodeI(0x73, 10, 2, 0, 0x002),
			)
			m := newFlatMachine(program, 0x1000, 64)

			stepAll(m, 2)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(1)))
		})

		It("should expose the retired counter", func() {
			program := programBytes(
				encodeADDI(10, 0, 1),
				encodeADDI(10, 0, 1),
				// csrrs a0, instret, x0
				encodeI(0x73, 10, 2, 0, 0xC02),
			)
			m := newFlatMachine(program, 0x1000, 64)

			stepAll(m, 3)
			Expect(m.RegFile().ReadReg(10)).To(Equal(uint64(2)))
		})

		It("should fault on unimplemented CSRs", func() {
			program := programBytes(
				encodeI(0x73, 10, 2, 0, 0x300), // csrrs a0, mstatus, x0
			)
			m := newFlatMachine(program, 0x1000, 64)

			err := m.CPU().Step()
			Expect(fault.IsKind(err, fault.UnimplementedInstruction)).To(BeTrue())
		})
	})

	Describe("unknown instructions", func() {
		It("should fault on unassigned opcodes", func() {
			program := programBytes(0x00000057) // vector opcode space
			m := newFlatMachine(program, 0x1000, 64)

			err := m.CPU().Step()
			Expect(fault.IsKind(err, fault.UnimplementedInstruction)).To(BeTrue())
		})

		It("should fault on reserved longer encodings", func() {
			program := programBytes(0x0000003F) // 64-bit length announcement
			m := newFlatMachine(program, 0x1000, 64)

			err := m.CPU().Step()
			Expect(fault.IsKind(err, fault.UnimplementedInstructionLength)).
				To(BeTrue())
		})
	})
})

// nanBox wraps single-precision bits in the canonical register box.
func nanBox(bits uint32) uint64 {
	return 0xFFFFFFFF00000000 | uint64(bits)
}

// encodeS2 encodes a store with an explicit opcode (for FP stores).
func encodeS2(opc, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		(u&0x1F)<<7 | opc
}
