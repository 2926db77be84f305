package excarch

import "github.com/team-arrow-racing/coredebug/pkg/regval"

// RISCV is the ExceptionInterface implementation for RISC-V targets. Per
// spec §9's Open Question, the RISC-V trap-handling convention (mtvec,
// mcause, mepc, and whichever calling convention a given core's trap
// handler uses to save registers) is project-specific enough that no single
// detection strategy is implemented yet; this is a conforming stub that
// always reports "no exception context", identical in behaviour to NoOp but
// kept as its own type so callers can select it explicitly for a RISC-V
// target without implying "unknown architecture".
type RISCV struct{}

func (RISCV) ExceptionDetails(Memory, regval.DebugRegisters) (*Info, error) { return nil, nil }
