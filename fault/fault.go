// Package fault defines the failure kinds surfaced by the emulation engine.
package fault

import "fmt"

// Kind classifies an engine failure.
type Kind int

// Failure kinds.
const (
	ProtectionFault Kind = iota
	ExecSpaceProtectionFault
	MisalignedAccess
	InvalidAlignment
	UnimplementedInstruction
	UnimplementedInstructionLength
	UnhandledSyscall
	UnknownRelocation
	InvalidArgument
	StringOverLimit
	OutOfMemory
	Deadlock
)

var kindNames = map[Kind]string{
	ProtectionFault:                "protection fault",
	ExecSpaceProtectionFault:       "execution space protection fault",
	MisalignedAccess:               "misaligned access",
	InvalidAlignment:               "invalid alignment",
	UnimplementedInstruction:       "unimplemented instruction",
	UnimplementedInstructionLength: "unimplemented instruction length",
	UnhandledSyscall:               "unhandled syscall",
	UnknownRelocation:              "unknown relocation",
	InvalidArgument:                "invalid argument",
	StringOverLimit:                "string over limit",
	OutOfMemory:                    "out of memory",
	Deadlock:                       "deadlock",
}

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("fault.Kind(%d)", int(k))
}

// Error is a failure raised by the CPU, the address space, or the loader.
// Data carries the numeric detail relevant to the kind: an address for
// memory faults, the raw opcode for decode faults, the syscall number for
// syscall faults.
type Error struct {
	Kind Kind
	Msg  string
	Data uint64
}

// New creates a failure of the given kind.
func New(kind Kind, msg string, data uint64) *Error {
	return &Error{Kind: kind, Msg: msg, Data: data}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (0x%X)", e.Kind, e.Msg, e.Data)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == kind
}
