package excarch

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/team-arrow-racing/coredebug/pkg/regval"
)

// mapMemory is a tiny map[uint64][]byte-backed MemoryInterface stand-in,
// per SPEC_FULL.md §4.8's test-tooling note: no real ELF/probe is needed
// to exercise the exception-frame mechanics, only a synthetic memory
// image at known addresses.
type mapMemory map[uint64][]byte

func (m mapMemory) ReadMemory(addr uint64, out []byte) error {
	for i := range out {
		b, ok := m[addr+uint64(i)]
		if !ok || len(b) == 0 {
			out[i] = 0
			continue
		}
		out[i] = b[0]
	}
	return nil
}

// newStackedFrameMemory lays out the 8-word hardware-pushed exception
// frame (r0, r1, r2, r3, r12, lr, returnAddress, xpsr) at sp, byte by
// byte, little-endian -- the same shape Cortex-M hardware pushes on
// exception entry.
func newStackedFrameMemory(sp uint64, words [8]uint32) mapMemory {
	mem := mapMemory{}
	buf := make([]byte, 4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf, w)
		for j, b := range buf {
			addr := sp + uint64(i*4+j)
			mem[addr] = []byte{b}
		}
	}
	return mem
}

func regsWithLRAndSP(lr, sp uint32) regval.DebugRegisters {
	lrV := regval.New32(lr)
	spV := regval.New32(sp)
	return regval.NewDebugRegisters([]regval.DebugRegister{
		{DwarfID: idp(0), CoreRegister: regval.CoreRegisterDescriptor{Name: "r0", Width: regval.Width32}},
		{DwarfID: idp(1), CoreRegister: regval.CoreRegisterDescriptor{Name: "r1", Width: regval.Width32}},
		{DwarfID: idp(2), CoreRegister: regval.CoreRegisterDescriptor{Name: "r2", Width: regval.Width32}},
		{DwarfID: idp(3), CoreRegister: regval.CoreRegisterDescriptor{Name: "r3", Width: regval.Width32}},
		{DwarfID: idp(12), CoreRegister: regval.CoreRegisterDescriptor{Name: "r12", Width: regval.Width32}},
		{DwarfID: idp(14), CoreRegister: regval.CoreRegisterDescriptor{Name: "lr", Roles: []regval.Role{regval.RoleReturnAddress}, Width: regval.Width32}, Value: &lrV},
		{DwarfID: idp(13), CoreRegister: regval.CoreRegisterDescriptor{Name: "sp", Roles: []regval.Role{regval.RoleStackPointer}, Width: regval.Width32}, Value: &spV},
		{DwarfID: idp(15), CoreRegister: regval.CoreRegisterDescriptor{Name: "pc", Roles: []regval.Role{regval.RoleProgramCounter}, Width: regval.Width32}},
	})
}

func idp(n uint16) *uint16 { return &n }

// TestARMv6MExceptionDetails replays the register/memory state of spec
// scenario "unwinding_first_instruction_after_exception" at the
// excarch-mechanics level: given EXC_RETURN in LR and the stacked frame at
// SP, the recovered calling-frame registers must match the values the
// hardware actually pushed. Scenario-level assertions about function
// names require a compiled fixture this environment doesn't have (see
// pkg/unwind's tests); this test covers the part that's mechanically
// derivable from the spec's literal register/memory listing.
func TestARMv6MExceptionDetails(t *testing.T) {
	const sp = 0x2001FFD0
	mem := newStackedFrameMemory(sp, [8]uint32{
		0x00000001, 0x2001FFCF, 0x20000044, 0x20000044,
		0x00000000, 0x0000017F, 0x00000180, 0x21000000,
	})
	regs := regsWithLRAndSP(0xFFFFFFF9, sp)

	info, err := ARMv6M{}.ExceptionDetails(mem, regs)
	require.NoError(t, err)
	require.NotNil(t, info)

	calling := info.CallingFrameRegisters
	r0, _ := calling.ByDwarfID(0).Value.Narrow()
	require.Equal(t, uint64(1), r0)
	lr, _ := calling.ByDwarfID(14).Value.Narrow()
	require.Equal(t, uint64(0x0000017F), lr)
	pc, _ := calling.ByDwarfID(15).Value.Narrow()
	require.Equal(t, uint64(0x180), pc) // thumb bit already clear here
	newSP, _ := calling.ByDwarfID(13).Value.Narrow()
	require.Equal(t, uint64(sp+32), newSP)
}

func TestARMv6MExceptionDetailsNoneWithoutExcReturn(t *testing.T) {
	regs := regsWithLRAndSP(0x00000123, 0x2001FFD0)
	info, err := ARMv6M{}.ExceptionDetails(mapMemory{}, regs)
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestARMv7MFPExtendedFrame(t *testing.T) {
	const sp = 0x2001FFC0
	mem := newStackedFrameMemory(sp, [8]uint32{
		0, 0, 0, 0, 0, 0, 0x00000200, 0x01000000, // xpsr bit 9 clear
	})
	// lr with FType bit (4) clear => extended FP frame adds 18 words.
	regs := regsWithLRAndSP(0xFFFFFFE1, sp)
	info, err := ARMv7MFP{}.ExceptionDetails(mem, regs)
	require.NoError(t, err)
	require.NotNil(t, info)
	newSP, _ := info.CallingFrameRegisters.ByDwarfID(13).Value.Narrow()
	require.Equal(t, uint64(sp+32+18*4), newSP)
}

func TestIsExcReturn(t *testing.T) {
	require.True(t, IsExcReturn(0xFFFFFFF9))
	require.True(t, IsExcReturn(0xF0000000))
	require.False(t, IsExcReturn(0x0FFFFFFF))
	require.False(t, IsExcReturn(0x00000180))
}

func TestRISCVAndNoOpAlwaysNone(t *testing.T) {
	regs := regsWithLRAndSP(0xFFFFFFF9, 0x2001FFD0)
	info, err := RISCV{}.ExceptionDetails(mapMemory{}, regs)
	require.NoError(t, err)
	require.Nil(t, info)

	info, err = NoOp{}.ExceptionDetails(mapMemory{}, regs)
	require.NoError(t, err)
	require.Nil(t, info)
}
