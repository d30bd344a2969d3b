// Package main provides the command-line driver for RVEmu.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/insts"
	"github.com/sarchlab/rvemu/timing"
	"github.com/sarchlab/rvemu/timing/latency"
)

var (
	timingMode = flag.Bool("timing", false, "Enable cycle estimation mode")
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	verbose    = flag.Bool("v", false, "Verbose output")
	trace      = flag.Bool("trace", false, "Print every executed instruction")
	maxInstr   = flag.Uint64("max", 0, "Instruction budget (0 = unbounded)")
	xlen       = flag.Int("xlen", 64, "Register width: 32 or 64")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: rvemu [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	programPath := flag.Arg(0)
	binary, err := os.ReadFile(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading program: %v\n", err)
		os.Exit(1)
	}

	opts := []emu.MachineOption{emu.WithXLEN(*xlen)}
	if *verbose {
		opts = append(opts, emu.WithVerboseLoader())
	}

	machine, err := emu.NewMachine(binary, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		os.Exit(1)
	}

	var exitCode int64
	if *timingMode {
		exitCode = runTiming(machine, programPath)
	} else {
		exitCode = runEmulation(machine, programPath)
	}
	os.Exit(int(exitCode))
}

// runEmulation runs the program in plain emulation mode.
func runEmulation(machine *emu.Machine, programPath string) int64 {
	var err error
	if *trace {
		err = runTraced(machine, nil)
	} else {
		err = machine.Simulate(*maxInstr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Emulation error: %v\n", err)
		machine.PrintBacktrace(func(line string) {
			fmt.Fprintln(os.Stderr, line)
		})
		return -1
	}

	if *verbose {
		fmt.Printf("\nProgram: %s\n", programPath)
		fmt.Printf("Exit code: %d\n", machine.ExitCode())
		fmt.Printf("Instructions executed: %d\n", machine.InstructionCount())
	}
	return machine.ExitCode()
}

// runTiming runs the program under the cycle estimator and prints a
// timing report.
func runTiming(machine *emu.Machine, programPath string) int64 {
	config := latency.DefaultTimingConfig()
	if *configPath != "" {
		var err error
		config, err = latency.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
			os.Exit(1)
		}
	}

	estimator := timing.NewEstimator(config, machine.Memory())
	if err := runTraced(machine, estimator); err != nil {
		fmt.Fprintf(os.Stderr, "Emulation error: %v\n", err)
		return -1
	}

	report := estimator.Report()
	fmt.Printf("\n")
	fmt.Printf("Program: %s\n", programPath)
	fmt.Printf("Exit code: %d\n", machine.ExitCode())
	fmt.Printf("Total Instructions: %d\n", report.Instructions)
	fmt.Printf("Estimated Cycles: %d\n", report.Cycles)
	fmt.Printf("CPI: %.2f\n", report.CPI())
	fmt.Printf("\n")
	fmt.Printf("L1I: %d accesses, %.1f%% hit\n",
		report.L1I.Reads+report.L1I.Writes, 100*report.L1I.HitRate())
	fmt.Printf("L1D: %d accesses, %.1f%% hit\n",
		report.L1D.Reads+report.L1D.Writes, 100*report.L1D.HitRate())

	return machine.ExitCode()
}

// runTraced steps the machine one instruction at a time, feeding the
// estimator and the trace printer.
func runTraced(machine *emu.Machine, estimator *timing.Estimator) error {
	decoder := insts.NewDecoder(*xlen)
	memory := machine.Memory()
	cpu := machine.CPU()
	regs := machine.RegFile()

	start := machine.InstructionCount()
	for !machine.Stopped() {
		pc := regs.PC
		if pc == memory.ExitAddress() && pc != 0 {
			break
		}

		word, err := memory.FetchWord(pc)
		if err != nil {
			return err
		}
		op := decoder.Decode(word)

		if estimator != nil {
			estimator.Observe(op, word, regs)
		}
		if *trace {
			fmt.Printf("[%08X] %s\n", pc, insts.Disassemble(op, word, pc))
		}

		if err := cpu.Step(); err != nil {
			return err
		}
		if *maxInstr != 0 && machine.InstructionCount() >= start+*maxInstr {
			break
		}
	}
	return nil
}
