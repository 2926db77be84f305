package excarch

import (
	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// ARMv7M is the ExceptionInterface implementation for Cortex-M3/M4 cores
// without the floating-point extension: identical stacked-frame shape to
// ARMv6M, kept as a distinct type so callers select the architecture
// explicitly -- see spec §9's "one variant per architecture" design note.
type ARMv7M struct{}

func (ARMv7M) ExceptionDetails(mem Memory, regs regval.DebugRegisters) (*Info, error) {
	return basicCortexMException(mem, regs, "ARMv7-M exception frame")
}
