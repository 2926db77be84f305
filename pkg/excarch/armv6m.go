package excarch

import (
	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// ARMv6M is the ExceptionInterface implementation for Cortex-M0/M0+/M1
// cores: always a basic 8-word stacked frame, no floating-point extension.
type ARMv6M struct{}

func (ARMv6M) ExceptionDetails(mem Memory, regs regval.DebugRegisters) (*Info, error) {
	return basicCortexMException(mem, regs, "ARMv6-M exception frame")
}

// basicCortexMException implements the shared ARMv6-M/ARMv7-M (no FPU) path:
// if the return-address register currently holds an EXC_RETURN sentinel
// (spec glossary), the core is executing an exception handler and the
// interrupted frame's registers are sitting on the stack pointed to by SP.
func basicCortexMException(mem Memory, regs regval.DebugRegisters, description string) (*Info, error) {
	lr, ok := narrow32(regs, regval.RoleReturnAddress)
	if !ok || !IsExcReturn(lr) {
		return nil, nil
	}
	sp, ok := narrow32(regs, regval.RoleStackPointer)
	if !ok {
		return nil, nil
	}

	sf, err := readStackedFrame(mem, uint64(sp))
	if err != nil {
		return nil, err
	}

	newSP := uint64(sp) + 32
	if sf.xpsr&(1<<9) != 0 {
		// bit 9 of the stacked xPSR records that the hardware padded the
		// frame by 4 bytes to keep the stack 8-byte aligned.
		newSP += 4
	}

	calling := buildCallingFrameRegisters(regs, sf, newSP, true)
	return &Info{Description: description, CallingFrameRegisters: calling}, nil
}
