// Package main provides the entry point for RVEmu.
// RVEmu is a user-mode RISC-V (RV32/RV64 IMAFDC) emulator.
//
// For the full CLI, use: go run ./cmd/rvemu
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("RVEmu - RISC-V user-mode emulator")
	fmt.Println("")
	fmt.Println("Usage: rvemu [options] <program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -timing    Enable cycle estimation mode")
	fmt.Println("  -config    Path to timing configuration JSON file")
	fmt.Println("  -xlen      Register width: 32 or 64")
	fmt.Println("  -trace     Print every executed instruction")
	fmt.Println("  -max       Instruction budget (0 = unbounded)")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/rvemu' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/rvemu' instead.")
	}
}
