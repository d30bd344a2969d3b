package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/mem"
)

var _ = Describe("Machine", func() {
	Describe("end-to-end programs", func() {
		It("should run an immediate add program to completion", func() {
			program := programBytes(
				encodeExitPrologue(),
				encodeADDI(10, 0, 7),
				encodeADDI(10, 10, 35),
				encodeECALL(),
			)
			m := newFlatMachine(program, 0x1000, 32)

			var observed uint64
			m.InstallSyscallHandler(emu.SyscallExit,
				func(m *emu.Machine) (uint64, error) {
					observed = m.Sysarg(0)
					m.Stop()
					return m.Sysarg(0), nil
				})

			Expect(m.Simulate(0)).To(Succeed())
			Expect(observed).To(Equal(uint64(42)))
		})

		It("should take a branch when the operands are equal", func() {
			program := programBytes(
				encodeExitPrologue(),
				encodeADDI(10, 0, 1),          // addi a0, x0, 1
				encodeADDI(11, 0, 1),          // addi a1, x0, 1
				encodeB(0, 10, 11, 8),         // beq a0, a1, +8
				encodeADDI(10, 0, 0),          // addi a0, x0, 0 (skipped)
				encodeECALL(),
			)
			m := newFlatMachine(program, 0x1000, 32)

			Expect(m.Simulate(0)).To(Succeed())
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(1)))
		})

		It("should link the return address on JAL", func() {
			base := uint64(0x1000)
			program := programBytes(
				encodeExitPrologue(),          // 0x1000
				encodeJ(1, 12),                // 0x1004: jal ra, +12
				encodeADDI(10, 0, 2),          // 0x1008
				encodeECALL(),                 // 0x100C
				encodeADDI(10, 0, 9),          // 0x1010
				encodeECALL(),                 // 0x1014
			)
			m := newFlatMachine(program, base, 32)

			Expect(m.Simulate(0)).To(Succeed())
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(9)))
			Expect(m.RegFile().ReadReg(emu.RegRA)).To(Equal(base + 8))
		})

		It("should store and load through guest memory", func() {
			program := programBytes(
				encodeExitPrologue(),
				encodeU(0x37, 5, 0x20),        // lui t0, 0x20
				encodeU(0x37, 6, 0xDEADC),     // lui t1, 0xDEADC
				encodeADDI(6, 6, -0x111),      // addi t1, t1, -273
				encodeS(2, 5, 6, 0),           // sw t1, 0(t0)
				encodeI(0x03, 10, 2, 5, 0),    // lw a0, 0(t0)
				encodeECALL(),
			)
			m := newFlatMachine(program, 0x1000, 32)

			Expect(m.Simulate(0)).To(Succeed())
			Expect(uint32(m.RegFile().ReadReg(emu.RegA0))).
				To(Equal(uint32(0xDEADBEEF)))
			Expect(m.Memory().Read32(0x20000)).To(Equal(uint32(0xDEADBEEF)))
		})

		It("should fault on stores to read-only pages without mutating them", func() {
			program := programBytes(
				encodeU(0x37, 5, 0x30),        // lui t0, 0x30
				encodeS(2, 5, 5, 0),           // sw t0, 0(t0)
			)
			m := newFlatMachine(program, 0x1000, 32)
			Expect(m.Memory().Write8(0x30000, 0x11)).To(Succeed())
			Expect(m.Memory().SetPageAttr(0x30000, mem.PageSize,
				mem.Attr{Read: true})).To(Succeed())

			err := m.Simulate(0)
			Expect(fault.IsKind(err, fault.ProtectionFault)).To(BeTrue())
			Expect(m.Memory().Read8(0x30000)).To(Equal(uint8(0x11)))
		})

		It("should stop at the instruction budget in a tight loop", func() {
			program := programBytes(
				encodeADDI(10, 10, 1),         // 0x1000
				encodeADDI(11, 11, 1),         // 0x1004
				encodeJ(0, -8),                // 0x1008: jal x0, -8
			)
			m := newFlatMachine(program, 0x1000, 32)

			Expect(m.Simulate(10)).To(Succeed())
			Expect(m.InstructionCount()).To(Equal(uint64(10)))
			Expect(m.Stopped()).To(BeFalse())
		})
	})

	Describe("ELF construction", func() {
		It("should load and run a binary to its exit code", func() {
			code := programBytes(
				encodeExitPrologue(),
				encodeADDI(10, 0, 5),
				encodeECALL(),
			)
			binary := buildTestELF64(0x10000, code, nil)

			m, err := emu.NewMachine(binary)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.RegFile().PC).To(Equal(uint64(0x10000)))

			Expect(m.Simulate(0)).To(Succeed())
			Expect(m.Exited()).To(BeTrue())
			Expect(m.ExitCode()).To(Equal(int64(5)))
		})

		It("should reject an unknown XLEN", func() {
			_, err := emu.NewMachine(nil, emu.WithXLEN(16),
				emu.WithoutProgramLoading())
			Expect(fault.IsKind(err, fault.InvalidArgument)).To(BeTrue())
		})

		It("should reset to the entry state", func() {
			code := programBytes(
				encodeExitPrologue(),
				encodeADDI(10, 0, 5),
				encodeECALL(),
			)
			binary := buildTestELF64(0x10000, code, nil)

			m, err := emu.NewMachine(binary)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Simulate(0)).To(Succeed())
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(5)))

			Expect(m.Reset()).To(Succeed())
			Expect(m.RegFile().PC).To(Equal(uint64(0x10000)))
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(0)))
			Expect(m.InstructionCount()).To(Equal(uint64(0)))
		})
	})

	Describe("host calls into the guest", func() {
		It("should run a function through SetupCall", func() {
			base := uint64(0x1000)
			program := programBytes(
				encodeR(0x33, 10, 0, 10, 11, 0), // add a0, a0, a1
				encodeI(0x67, 0, 0, 1, 0),       // jalr x0, 0(ra)
			)
			m := newFlatMachine(program, base, 64)
			exitAddr := base + uint64(len(program))
			m.Memory().SetExitAddress(exitAddr)

			Expect(m.SetupCall(base, exitAddr, []uint64{7, 35})).To(Succeed())
			Expect(m.Simulate(0)).To(Succeed())
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(42)))
		})

		It("should reject more than 8 arguments", func() {
			m := newFlatMachine(programBytes(encodeECALL()), 0x1000, 64)
			err := m.SetupCall(0x1000, 0x2000, make([]uint64, 9))
			Expect(fault.IsKind(err, fault.InvalidArgument)).To(BeTrue())
		})

		It("should resolve symbols for VMCall", func() {
			code := programBytes(
				encodeADDI(10, 0, 42),     // fortytwo: li a0, 42
				encodeI(0x67, 0, 0, 1, 0), // ret
				encodeExitPrologue(),      // _start
				encodeECALL(),
			)
			binary := buildTestELF64(0x10008, code, []testSym{
				{name: "fortytwo", value: 0x10000, size: 8},
				{name: "_start", value: 0x10008, size: 8},
			})
			m, err := emu.NewMachine(binary)
			Expect(err).NotTo(HaveOccurred())

			ret, err := m.VMCall("fortytwo", nil, true, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ret).To(Equal(uint64(42)))
		})

		It("should fail VMCall on unknown symbols", func() {
			m := newFlatMachine(programBytes(encodeECALL()), 0x1000, 64)
			_, err := m.VMCall("nothing", nil, true, 0)
			Expect(fault.IsKind(err, fault.InvalidArgument)).To(BeTrue())
		})
	})

	Describe("RealignStack", func() {
		It("should mask the stack pointer", func() {
			m := newFlatMachine(programBytes(encodeECALL()), 0x1000, 64)
			m.RegFile().WriteReg(emu.RegSP, 0x7FFF7)

			Expect(m.RealignStack(16)).To(Succeed())
			Expect(m.RegFile().ReadReg(emu.RegSP)).To(Equal(uint64(0x7FFF0)))
		})

		It("should reject alignments outside 4, 8, 16", func() {
			m := newFlatMachine(programBytes(encodeECALL()), 0x1000, 64)
			err := m.RealignStack(15)
			Expect(fault.IsKind(err, fault.InvalidAlignment)).To(BeTrue())
		})
	})

	Describe("CopyToGuest", func() {
		It("should copy and return the end address", func() {
			m := newFlatMachine(programBytes(encodeECALL()), 0x1000, 64)

			end, err := m.CopyToGuest(0x20000, []byte{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(end).To(Equal(uint64(0x20003)))
			Expect(m.Memory().Read8(0x20002)).To(Equal(uint8(3)))
		})
	})

	Describe("register zero", func() {
		It("should stay zero through direct writes", func() {
			program := programBytes(
				encodeADDI(0, 0, 5), // addi x0, x0, 5
				encodeADDI(10, 0, 1),
			)
			m := newFlatMachine(program, 0x1000, 64)
			Expect(m.Simulate(2)).To(Succeed())

			Expect(m.RegFile().ReadReg(0)).To(Equal(uint64(0)))
			Expect(m.RegFile().ReadReg(emu.RegA0)).To(Equal(uint64(1)))
		})
	})

	Describe("decoder cache", func() {
		It("should produce the same final state as decoding from scratch", func() {
			build := func(opts ...emu.MachineOption) *emu.Machine {
				program := programBytes(
					encodeADDI(10, 0, 5),
					encodeADDI(10, 10, -1),
					encodeB(1, 10, 0, -4), // bne a0, x0, -4
					encodeExitPrologue(),
					encodeECALL(),
				)
				return newFlatMachine(program, 0x1000, 64, opts...)
			}

			cached := build()
			uncached := build(emu.WithoutDecoderCache())

			Expect(cached.Simulate(0)).To(Succeed())
			Expect(uncached.Simulate(0)).To(Succeed())

			Expect(cached.RegFile().PC).To(Equal(uncached.RegFile().PC))
			Expect(cached.InstructionCount()).
				To(Equal(uncached.InstructionCount()))
			Expect(cached.RegFile().X).To(Equal(uncached.RegFile().X))
		})
	})

	Describe("fetch protection", func() {
		It("should fault on fetches outside the execute segment", func() {
			program := programBytes(
				encodeI(0x67, 0, 0, 5, 0), // jalr x0, 0(t0) with t0 = 0x90000
			)
			m := newFlatMachine(program, 0x1000, 64)
			m.RegFile().WriteReg(5, 0x90000)

			err := m.Simulate(0)
			Expect(fault.IsKind(err, fault.ExecSpaceProtectionFault)).To(BeTrue())
		})
	})
})
