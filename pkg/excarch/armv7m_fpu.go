package excarch

import (
	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// ARMv7MFP is the ExceptionInterface implementation for Cortex-M4F/M7 cores
// with the floating-point extension enabled: EXC_RETURN bit 4 (FType)
// additionally says whether an extended frame (S0-S15, FPSCR, one reserved
// word -- 18 words) was pushed above the basic 8-word integer frame, per
// spec §6 ("extended FP frame if LR bit 4 is zero").
type ARMv7MFP struct{}

const excReturnFTypeBit = 1 << 4

func (ARMv7MFP) ExceptionDetails(mem Memory, regs regval.DebugRegisters) (*Info, error) {
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
	if lr&excReturnFTypeBit == 0 {
		// extended frame: 16 single-precision FP registers + FPSCR +
		// reserved word, 18 words total.
		newSP += 18 * 4
	}
	if sf.xpsr&(1<<9) != 0 {
		newSP += 4
	}

	calling := buildCallingFrameRegisters(regs, sf, newSP, true)
	return &Info{Description: "ARMv7-M (FP) exception frame", CallingFrameRegisters: calling}, nil
}
