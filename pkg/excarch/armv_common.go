package excarch

import (
	"encoding/binary"
	"fmt"

	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// Cortex-M DWARF register numbers (ARM EABI mapping): R0-R12 are 0-12, SP is
// 13, LR is 14, PC is 15.
const (
	dwarfR0 = 0
	dwarfR1 = 1
	dwarfR2 = 2
	dwarfR3 = 3
	dwarfR12 = 12
	dwarfSP  = 13
	dwarfLR  = 14
	dwarfPC  = 15
)

// stackedFrame is the 8 words (R0, R1, R2, R3, R12, LR, ReturnAddress,
// xPSR) a Cortex-M core pushes onto the active stack on exception entry.
type stackedFrame struct {
	r0, r1, r2, r3, r12, lr, returnAddress, xpsr uint32
}

func readStackedFrame(mem Memory, sp uint64) (*stackedFrame, error) {
	buf := make([]byte, 32)
	if err := mem.ReadMemory(sp, buf); err != nil {
		return nil, fmt.Errorf("excarch: reading exception stack frame at %#x: %w", sp, err)
	}
	words := make([]uint32, 8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return &stackedFrame{
		r0: words[0], r1: words[1], r2: words[2], r3: words[3],
		r12: words[4], lr: words[5], returnAddress: words[6], xpsr: words[7],
	}, nil
}

// narrow32 extracts the role's register value, masked to 32 bits. Callers
// only invoke this once a Detector has already established the core is a
// 32-bit Cortex-M/RISC-V target.
func narrow32(regs regval.DebugRegisters, role regval.Role) (uint32, bool) {
	reg := debugRegisterForRole(regs, role)
	if reg == nil || reg.Value == nil {
		return 0, false
	}
	n, err := reg.Value.Narrow()
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func debugRegisterForRole(regs regval.DebugRegisters, role regval.Role) *regval.DebugRegister {
	switch role {
	case regval.RoleProgramCounter:
		return regs.PC()
	case regval.RoleStackPointer:
		return regs.SP()
	case regval.RoleReturnAddress:
		return regs.RA()
	case regval.RoleFramePointer:
		return regs.FP()
	default:
		return nil
	}
}

// buildCallingFrameRegisters clones the current register set and overwrites
// exactly the registers the CPU stacked on exception entry (R0-R3, R12, LR,
// PC) plus SP, leaving R4-R11 untouched: the hardware does not save them,
// so whatever value the working set already carries for them remains the
// best available guess for the interrupted frame (spec §4.6 design intent
// mirrors delve's arm64SwitchStack, which only ever rewrites the registers
// a given runtime transition is known to touch and leaves the rest alone).
func buildCallingFrameRegisters(current regval.DebugRegisters, sf *stackedFrame, newSP uint64, thumb bool) regval.DebugRegisters {
	out := current.Clone()
	setByDwarf(&out, dwarfR0, regval.New32(sf.r0))
	setByDwarf(&out, dwarfR1, regval.New32(sf.r1))
	setByDwarf(&out, dwarfR2, regval.New32(sf.r2))
	setByDwarf(&out, dwarfR3, regval.New32(sf.r3))
	setByDwarf(&out, dwarfR12, regval.New32(sf.r12))
	setByDwarf(&out, dwarfLR, regval.New32(sf.lr))
	setByDwarf(&out, dwarfSP, regval.New32(uint32(newSP)))

	pc := sf.returnAddress
	if thumb {
		pc &^= 1
	}
	setByDwarf(&out, dwarfPC, regval.New32(pc))
	return out
}

func setByDwarf(regs *regval.DebugRegisters, id uint16, v regval.Value) {
	r := regs.ByDwarfID(id)
	if r == nil {
		return
	}
	r.Value = &v
}
