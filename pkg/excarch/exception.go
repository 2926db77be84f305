// Package excarch implements the exception interface (component C5): an
// architecture-specific detector that, given the current registers and
// memory, decides whether the core is inside (or about to enter) a hardware
// exception frame and, if so, recovers the interrupted frame's register set.
//
// Grounded on devilkun-delve's pkg/proc per-architecture Arch struct
// (arm64_arch.go's arm64FixFrameUnwindContext / arm64SwitchStack split one
// concern -- "is this PC special" -- across small per-function checks keyed
// on function name; here the same shape is used but keyed on architecture
// rather than on a known runtime function, since an embedded target has no
// fixed "runtime" package to pattern-match against) and echoing spec §9's
// "tagged-variant dispatch with a small detector trait" design note.
package excarch

import (
	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// Memory is the subset of the external MemoryInterface (spec §6) a Detector
// needs: byte-addressed, little-endian reads.
type Memory interface {
	ReadMemory(addr uint64, out []byte) error
}

// Info describes a detected exception context: a human-readable description
// and the register set belonging to the frame the exception interrupted.
type Info struct {
	Description          string
	CallingFrameRegisters regval.DebugRegisters
}

// Detector is the ExceptionInterface port (spec §6). A nil error with a nil
// *Info means "no exception context detected here", which is the normal
// case for the overwhelming majority of PCs.
type Detector interface {
	ExceptionDetails(mem Memory, regs regval.DebugRegisters) (*Info, error)
}

// NoOp is a Detector that never finds exception context, conforming to spec
// §9's Open Question: "The RISC-V exception-handling path is a stub; expose
// the capability but treat an always-None implementation as conforming."
type NoOp struct{}

func (NoOp) ExceptionDetails(Memory, regval.DebugRegisters) (*Info, error) { return nil, nil }

// ExcReturnMagicNibble is the top nibble of the ARM Cortex-M EXC_RETURN
// sentinel (spec glossary "EXC_RETURN"): any LR/PC value of the form
// 0xFxxxxxxx, when "executed", unwinds the hardware-pushed exception frame.
const ExcReturnMagicNibble = 0xF

// IsExcReturn reports whether v's top nibble is the EXC_RETURN magic value
// (spec §4.6 step 10, the post-unwind ARMv7-M detection).
func IsExcReturn(v uint32) bool {
	return v>>28 == ExcReturnMagicNibble
}
