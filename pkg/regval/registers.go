package regval

// Role identifies a well-known architectural purpose a register can serve.
// A single CoreRegisterDescriptor may carry more than one role (e.g. on
// ARMv6-M/v7-M, R14/LR is both the return-address and, during an exception,
// the EXC_RETURN sentinel).
type Role int

const (
	RoleNone Role = iota
	RoleProgramCounter
	RoleStackPointer
	RoleFramePointer
	RoleReturnAddress
)

// UnwindRule is the architecture's default disposition for a register when
// the CFI table has no explicit rule for it at the current PC (spec §4.6
// step 9, "Undefined with role-based fallbacks").
type UnwindRule int

const (
	// Preserve carries the callee's value forward unchanged.
	Preserve UnwindRule = iota
	// Clear drops the register (caller's value is unknown).
	Clear
	// SpecialRule means the register needs role-specific handling (PC, SP,
	// FP, RA) that the unwinder applies directly rather than through this
	// table, see pkg/unwind.
	SpecialRule
)

// CoreRegisterDescriptor carries an architecture-wide register identity: its
// name, width, roles and unwind disposition. It does not carry a value --
// that lives in DebugRegister.
type CoreRegisterDescriptor struct {
	Name       string
	Roles      []Role
	Width      Width
	UnwindRule UnwindRule
}

// HasRole reports whether the descriptor carries the given role.
func (d CoreRegisterDescriptor) HasRole(r Role) bool {
	for _, have := range d.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// DebugRegister is one entry of a DebugRegisters set: an optional DWARF
// register number, its architectural identity, and an optional value (a
// register that hasn't been read, or couldn't be unwound, carries no value).
type DebugRegister struct {
	DwarfID      *uint16
	CoreRegister CoreRegisterDescriptor
	Value        *Value
}

// IsRole reports whether this register plays the given architectural role.
func (r DebugRegister) IsRole(role Role) bool { return r.CoreRegister.HasRole(role) }

// DebugRegisters is an ordered, DWARF-id-ordered sequence of DebugRegister.
// Order matters: spec §9 ("Return-address disambiguation") depends on RA
// having a lower DWARF id than PC so that a single forward pass can stash
// the unwound return address before the PC rule consumes it.
type DebugRegisters struct {
	regs []DebugRegister
}

// NewDebugRegisters builds a DebugRegisters from an already DWARF-id-ordered
// slice. The caller is responsible for ordering; this type does not sort,
// matching delve's op.DwarfRegisters which is populated in situ from the
// live register file.
func NewDebugRegisters(regs []DebugRegister) DebugRegisters {
	return DebugRegisters{regs: append([]DebugRegister(nil), regs...)}
}

// Clone returns an independent copy whose register value pointers are
// independently mutable -- the unwinder works on a clone of the halted
// core's registers and never mutates the caller's copy (spec §3 Lifecycle).
func (d DebugRegisters) Clone() DebugRegisters {
	out := make([]DebugRegister, len(d.regs))
	for i, r := range d.regs {
		out[i] = r
		if r.Value != nil {
			v := *r.Value
			out[i].Value = &v
		}
	}
	return DebugRegisters{regs: out}
}

// Len reports the number of registers in the set.
func (d DebugRegisters) Len() int { return len(d.regs) }

// All returns the underlying slice for iteration. It aliases the set's own
// storage, so writes through it are visible to the set.
func (d DebugRegisters) All() []DebugRegister { return d.regs }

// ByIndex returns a pointer to the i'th register for in-place mutation.
func (d *DebugRegisters) ByIndex(i int) *DebugRegister { return &d.regs[i] }

// ByDwarfID looks up a register by its DWARF register number.
func (d *DebugRegisters) ByDwarfID(id uint16) *DebugRegister {
	for i := range d.regs {
		if d.regs[i].DwarfID != nil && *d.regs[i].DwarfID == id {
			return &d.regs[i]
		}
	}
	return nil
}

// byRole returns the first register carrying the given role.
func (d *DebugRegisters) byRole(role Role) *DebugRegister {
	for i := range d.regs {
		if d.regs[i].IsRole(role) {
			return &d.regs[i]
		}
	}
	return nil
}

// PC returns the program-counter register, or nil if none is tagged.
func (d *DebugRegisters) PC() *DebugRegister { return d.byRole(RoleProgramCounter) }

// SP returns the stack-pointer register, or nil if none is tagged.
func (d *DebugRegisters) SP() *DebugRegister { return d.byRole(RoleStackPointer) }

// FP returns the frame-pointer register, or nil if none is tagged.
func (d *DebugRegisters) FP() *DebugRegister { return d.byRole(RoleFramePointer) }

// RA returns the return-address register, or nil if none is tagged.
func (d *DebugRegisters) RA() *DebugRegister { return d.byRole(RoleReturnAddress) }

// AddressSizeBytes reports 4 or 8 depending on the width of the PC register;
// it panics if there is no PC register, since every architecture this
// unwinder supports must be able to identify one.
func (d *DebugRegisters) AddressSizeBytes() int {
	pc := d.PC()
	if pc == nil {
		panic("regval: DebugRegisters has no program-counter register")
	}
	switch pc.CoreRegister.Width {
	case Width32:
		return 4
	case Width64:
		return 8
	default:
		panic("regval: program counter register has unsupported width")
	}
}
