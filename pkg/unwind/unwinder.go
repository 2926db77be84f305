// Package unwind implements the frame unwinder (component C6): the core
// loop that walks a halted core's register state backwards through call
// frames, producing one StackFrame per active (including inlined) call,
// using CFI to recover caller registers and pkg/excarch to transparently
// cross hardware exception boundaries.
//
// Grounded on devilkun-delve's pkg/proc/stack.go: its stackIterator.Next /
// advanceRegs / executeFrameRegRule loop is the direct model for the loop
// below, generalized away from Go-runtime specifics (goroutines, defers,
// cgo stack switches) toward bare-metal exception frames. CFI lookup and
// per-register rule evaluation use delve's own published
// github.com/go-delve/delve/pkg/dwarf/frame package rather than
// reimplementing a CFI evaluator -- the same library stack.go itself
// builds on.
package unwind

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/frame"

	"github.com/team-arrow-racing/coredebug/internal/logging"
	"github.com/team-arrow-racing/coredebug/pkg/dwarfsec"
	"github.com/team-arrow-racing/coredebug/pkg/excarch"
	"github.com/team-arrow-racing/coredebug/pkg/funcdie"
	"github.com/team-arrow-racing/coredebug/pkg/lineprog"
	"github.com/team-arrow-racing/coredebug/pkg/regval"
	"github.com/team-arrow-racing/coredebug/pkg/srcloc"
	"github.com/team-arrow-racing/coredebug/pkg/varcache"
)

var log = logging.For("unwind")

// InstructionSet distinguishes targets where PC/LR carry a Thumb low-bit
// tag from ones that don't (spec §4.6 "unwind_program_counter_register").
type InstructionSet int

const (
	InstructionSetARM    InstructionSet = iota // plain 32/64-bit, no Thumb tag
	InstructionSetThumb2                       // ARM Cortex-M: mask bit 0 off PC/LR
)

// Memory is the byte-addressed read port the unwinder needs; identical in
// shape to excarch.Memory so any MemoryInterface implementation satisfies
// both without an adapter.
type Memory = excarch.Memory

// StackFrame is one entry of an unwind result (spec §3).
type StackFrame struct {
	ID              uint64
	FunctionName    string
	SourceLocation  *srcloc.Location
	Registers       regval.DebugRegisters
	PC              regval.Value
	FrameBase       *uint64
	IsInlined       bool
	StaticVariables *varcache.Cache
	LocalVariables  *varcache.Cache
}

var nextFrameID uint64

func allocFrameID() uint64 {
	nextFrameID++
	return nextFrameID
}

// Unwinder holds the configuration (currently just the hard frame-count
// bound) for repeated Unwind calls; it carries no other state between
// calls -- each Unwind allocates its own CFI scratch, per spec §5.
type Unwinder struct {
	maxFrames int
}

// Option configures an Unwinder.
type Option func(*Unwinder)

// WithMaxFrames overrides the default 1024-frame hard bound (spec §5).
func WithMaxFrames(n int) Option {
	return func(u *Unwinder) { u.maxFrames = n }
}

// New builds an Unwinder with the given options applied over the default
// 1024-frame bound.
func New(opts ...Option) *Unwinder {
	u := &Unwinder{maxFrames: 1024}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Unwind runs the core loop of spec §4.6 against view's DWARF sections,
// starting from a clone of initial, reading memory through mem and probing
// exception context through detector. It never returns an error: partial
// unwinds are the documented behaviour (spec §7) -- whatever frames were
// finalized before a stopping condition are simply the result.
func (u *Unwinder) Unwind(view *dwarfsec.View, resolver *lineprog.Resolver, initial regval.DebugRegisters, mem Memory, detector excarch.Detector, iset InstructionSet) []StackFrame {
	working := initial.Clone()
	var frames []StackFrame

	var fdes frame.FrameDescriptionEntries
	if view.HasFrame() && working.PC() != nil {
		var err error
		fdes, err = frame.Parse(view.Frame, view.ByteOrder, 0, int(working.AddressSizeBytes()), 0)
		if err != nil {
			log.WithError(err).Warn("parsing .debug_frame, CFI unavailable for this unwind")
			fdes = nil
		}
	}

	for len(frames) < u.maxFrames {
		pc, ok := narrowRole(working, regval.RoleProgramCounter)
		if !ok {
			log.Warn("working register set has no usable program counter, stopping")
			break
		}

		// Step 1: exception probe.
		excInfo, err := detector.ExceptionDetails(mem, working)
		if err != nil {
			log.WithError(err).Warn("exception probe failed, treating as no exception context")
			excInfo = nil
		}

		functions, unitOffset, hasUnit := u.walkFunctions(view, pc)

		// Steps 2-3: the halted-PC frame plus one call-site frame per
		// enclosing inline caller, or a synthetic placeholder when no
		// subprogram covers pc.
		emittedReal := false
		if len(functions) > 0 {
			frames = emitFunctionFrames(frames, functions, working, resolver, unitOffset, hasUnit, pc)
			emittedReal = true
		} else {
			name := unknownFunctionName(pc)
			if excInfo != nil {
				name = excInfo.Description
			}
			loc := sourceLocationFor(resolver, pc)
			frames = append(frames, StackFrame{
				ID:             allocFrameID(),
				FunctionName:   name,
				SourceLocation: loc,
				Registers:      working.Clone(),
				PC:             *working.PC().Value,
			})
		}

		// Step 4: terminate on missing/sentinel RA.
		ra := working.RA()
		if ra == nil || ra.Value == nil || ra.Value.IsZero() || ra.Value.IsMaxValue() {
			log.Debug("return address missing or sentinel, terminating unwind")
			break
		}

		// Step 5: exception transition without a real function frame.
		if excInfo != nil && !emittedReal {
			working = excInfo.CallingFrameRegisters.Clone()
			continue
		}

		// Step 6: CFI lookup.
		var fde *frame.FrameDescriptionEntry
		if fdes != nil {
			fde, err = fdes.FDEForPC(pc)
			if err != nil {
				fde = nil
			}
		}
		if fde == nil {
			if len(frames) == 1 {
				if !u.leafFallback(&working, iset) {
					break
				}
				continue
			}
			log.WithField("pc", pc).Debug("no CFI for this PC, stopping unwind")
			break
		}

		fctx := fde.EstablishFrame(pc)

		// Step 7: compute CFA.
		cfa, ok := u.computeCFA(working, fctx)
		if !ok {
			break
		}
		if cfa == 0 {
			log.Debug("CFA resolved to zero, stopping unwind")
			break
		}

		// Step 8: callee snapshot.
		callee := working.Clone()
		var unwoundRA *regval.Value

		// Step 9: per-register unwind.
		newRegs := callee.Clone()
		width := working.AddressSizeBytes()
		ok = true
		for i := 0; i < newRegs.Len(); i++ {
			reg := newRegs.ByIndex(i)
			if reg.DwarfID == nil {
				continue
			}
			rule, hasRule := fctx.Regs[uint64(*reg.DwarfID)]
			if !hasRule {
				if !applyUndefinedRule(reg, &callee, cfa, width, mem, &unwoundRA) {
					ok = false
					break
				}
				continue
			}
			switch rule.Rule {
			case frame.RuleUndefined:
				if !applyUndefinedRule(reg, &callee, cfa, width, mem, &unwoundRA) {
					ok = false
					break
				}
			case frame.RuleSameVal:
				if src := calleeRegByID(&callee, *reg.DwarfID); src != nil {
					reg.Value = src.Value
				}
			case frame.RuleOffset:
				addr := regval.AddToAddress(cfa, rule.Offset, width)
				v, merr := readWidth(mem, addr, width)
				if merr != nil {
					log.WithError(merr).WithField("addr", addr).Warn("memory read failed unwinding register, stopping")
					ok = false
					break
				}
				reg.Value = &v
				if reg.IsRole(regval.RoleReturnAddress) {
					unwoundRA = &v
				}
			default:
				log.WithField("rule", rule.Rule).Warn("unimplemented CFI rule, stopping unwind")
				ok = false
			}
			if !ok {
				break
			}
		}
		if !ok {
			break
		}

		applyUnwoundPC(&newRegs, unwoundRA, iset)
		working = newRegs

		// Step 10: post-unwind ARMv7-M EXC_RETURN detection.
		if newPC := working.PC(); newPC != nil && newPC.Value != nil {
			if n, nerr := newPC.Value.Narrow(); nerr == nil && excarch.IsExcReturn(uint32(n)) {
				if ra := working.RA(); ra != nil {
					ra.Value = newPC.Value
				}
				info, derr := detector.ExceptionDetails(mem, working)
				if derr == nil && info != nil {
					frames = append(frames, StackFrame{
						ID:           allocFrameID(),
						FunctionName: info.Description,
						Registers:    working.Clone(),
						PC:           *working.PC().Value,
					})
					working = info.CallingFrameRegisters.Clone()
				}
			}
		}
	}

	return frames
}

// walkFunctions returns the inline chain covering pc along with the owning
// compile unit's DIE offset (the anchor pkg/varcache needs for a
// static-scope root, spec §4.5); hasUnit is false when no unit covers pc, in
// which case unitOffset is meaningless.
func (u *Unwinder) walkFunctions(view *dwarfsec.View, pc uint64) (functions []funcdie.FunctionDie, unitOffset uint64, hasUnit bool) {
	if view.Info == nil {
		return nil, 0, false
	}
	unit, err := dwarfsec.FindCompileUnit(view.Info, pc)
	if err != nil || unit == nil {
		return nil, 0, false
	}
	chain, err := funcdie.Walk(view.Info, unit, pc)
	if err != nil {
		log.WithError(err).Debug("function DIE walk failed")
		return nil, 0, false
	}
	return chain, uint64(unit.Offset), true
}

// emitFunctionFrames appends this iteration's frames for the inline chain
// covering pc (steps 2 and 3 of spec §4.6), innermost first: the chain
// arrives outermost-first from funcdie.Walk, but spec invariant 2 wants the
// halted-PC frame before every call-site frame, and each inlined call site
// before its enclosing caller -- the same reversal debug_info.rs performs
// when it drains its cached_stack_frames back-to-front in unwind_impl.
func emitFunctionFrames(frames []StackFrame, functions []funcdie.FunctionDie, working regval.DebugRegisters, resolver *lineprog.Resolver, unitOffset uint64, hasUnit bool, pc uint64) []StackFrame {
	// The innermost entry is the frame at the halted PC itself.
	inner := functions[len(functions)-1]
	loc := sourceLocationFor(resolver, pc)
	staticVars, localVars := seedVariableCaches(unitOffset, inner.DIEOffset(), hasUnit)
	frames = append(frames, StackFrame{
		ID:              allocFrameID(),
		FunctionName:    nameOrUnknown(inner.FunctionName, pc),
		SourceLocation:  loc,
		Registers:       working.Clone(),
		PC:              *working.PC().Value,
		FrameBase:       frameBaseOf(inner),
		IsInlined:       inner.IsInline,
		StaticVariables: staticVars,
		LocalVariables:  localVars,
	})

	// Then each enclosing caller's call-site frame, walking outward: the
	// frame's PC is the first instruction of its inlined callee.
	for i := len(functions) - 2; i >= 0; i-- {
		callee := functions[i+1]
		if callee.LowPC <= uint64(working.AddressSizeBytes()) || callee.LowPC >= 0xFFFFFFFF {
			log.WithField("low_pc", callee.LowPC).Warn("skipping inline emission with bogus callee range")
			continue
		}
		current := functions[i]
		name := current.FunctionName
		if name == "" {
			name = unknownFunctionName(pc)
		}
		staticVars, localVars := seedVariableCaches(unitOffset, current.DIEOffset(), hasUnit)
		frames = append(frames, StackFrame{
			ID:              allocFrameID(),
			FunctionName:    name,
			SourceLocation:  callee.InlineCallLocation,
			Registers:       working.Clone(),
			PC:              pcValue(working, callee.LowPC),
			FrameBase:       frameBaseOf(current),
			IsInlined:       current.IsInline,
			StaticVariables: staticVars,
			LocalVariables:  localVars,
		})
	}
	return frames
}

// seedVariableCaches implements spec §4.5's "on creation of a frame, two
// empty caches are seeded": a static-scope root pointing at the unit's top
// DIE and a function-scope root pointing at the subprogram/inlined_subroutine
// DIE. Neither is expanded here -- that happens lazily through
// varcache.Cache.Expand, triggered by a caller that actually wants a frame's
// variables.
func seedVariableCaches(unitOffset, subprogramOffset uint64, hasUnit bool) (*varcache.Cache, *varcache.Cache) {
	if !hasUnit {
		return nil, nil
	}
	static, _ := varcache.New("statics", unitOffset, unitOffset)
	locals, _ := varcache.New("locals", unitOffset, subprogramOffset)
	return static, locals
}

// frameBaseOf converts FunctionDie.FrameBase's signed DW_OP_addr-evaluated
// offset (spec §4.4) into the unsigned StackFrame.FrameBase spec §3 expects;
// nil when the frame base wasn't a constant expression.
func frameBaseOf(fn funcdie.FunctionDie) *uint64 {
	if fn.FrameBase == nil {
		return nil
	}
	v := uint64(*fn.FrameBase)
	return &v
}

func (u *Unwinder) computeCFA(working regval.DebugRegisters, fctx *frame.FrameContext) (uint64, bool) {
	rule := fctx.CFA
	switch rule.Rule {
	case frame.RuleCFA:
		reg := working.ByDwarfID(uint16(rule.Reg))
		if reg == nil || reg.Value == nil {
			log.WithField("reg", rule.Reg).Warn("CFA register unavailable, stopping")
			return 0, false
		}
		base, err := reg.Value.Narrow()
		if err != nil {
			log.WithError(err).Warn("CFA register failed to narrow, stopping")
			return 0, false
		}
		if base == 0 {
			return 0, false
		}
		width := working.AddressSizeBytes()
		return regval.AddToAddress(base, rule.Offset, width), true
	default:
		log.Warn("CFA expression rule is unimplemented, stopping unwind")
		return 0, false
	}
}

// applyUndefinedRule implements spec §4.6 step 9's "Undefined with
// role-based fallbacks" table.
func applyUndefinedRule(reg *regval.DebugRegister, callee *regval.DebugRegisters, cfa uint64, width int, mem Memory, unwoundRA **regval.Value) bool {
	switch {
	case reg.IsRole(regval.RoleFramePointer):
		if src := calleeRegByID(callee, dwarfIDOf(reg)); src != nil {
			reg.Value = src.Value
		}
	case reg.IsRole(regval.RoleStackPointer):
		v := regval.New32(uint32(cfa) &^ 0b11)
		if width == 8 {
			v = regval.New64(cfa &^ 0b11)
		}
		reg.Value = &v
	case reg.IsRole(regval.RoleReturnAddress):
		if src := calleeRegByID(callee, dwarfIDOf(reg)); src != nil {
			*unwoundRA = src.Value
		}
		reg.Value = nil
	case reg.IsRole(regval.RoleProgramCounter):
		// handled by applyUnwoundPC once the whole pass completes.
		reg.Value = nil
	default:
		switch reg.CoreRegister.UnwindRule {
		case regval.Preserve:
			if src := calleeRegByID(callee, dwarfIDOf(reg)); src != nil {
				reg.Value = src.Value
			}
		default:
			reg.Value = nil
		}
	}
	return true
}

func applyUnwoundPC(regs *regval.DebugRegisters, unwoundRA *regval.Value, iset InstructionSet) {
	pc := regs.PC()
	if pc == nil {
		return
	}
	if unwoundRA == nil {
		pc.Value = nil
		return
	}
	v := *unwoundRA
	if v.IsZero() || v.IsMaxValue() {
		pc.Value = nil
		return
	}
	if v.Width() == regval.Width128 {
		pc.Value = nil
		return
	}
	n, err := v.Narrow()
	if err != nil {
		pc.Value = nil
		return
	}
	if v.Width() == regval.Width32 && iset == InstructionSetThumb2 {
		n &^= 1
	}
	out := regval.New64(n)
	if v.Width() == regval.Width32 {
		out = regval.New32(uint32(n))
	}
	pc.Value = &out
}

func dwarfIDOf(reg *regval.DebugRegister) uint16 {
	if reg.DwarfID == nil {
		return 0
	}
	return *reg.DwarfID
}

func calleeRegByID(callee *regval.DebugRegisters, id uint16) *regval.DebugRegister {
	return callee.ByDwarfID(id)
}

// leafFallback implements spec §4.6 step 6's "no frames emitted yet"
// shortcut: synthesize a "PC <- RA" step so a leaf function without CFI
// still reveals its caller.
func (u *Unwinder) leafFallback(working *regval.DebugRegisters, iset InstructionSet) bool {
	ra := working.RA()
	if ra == nil || ra.Value == nil {
		return false
	}
	v := *ra.Value
	if v.IsZero() || v.IsMaxValue() {
		return false
	}
	applyUnwoundPC(working, &v, iset)
	return working.PC() != nil && working.PC().Value != nil
}

func narrowRole(regs regval.DebugRegisters, role regval.Role) (uint64, bool) {
	var reg *regval.DebugRegister
	switch role {
	case regval.RoleProgramCounter:
		reg = regs.PC()
	case regval.RoleStackPointer:
		reg = regs.SP()
	case regval.RoleFramePointer:
		reg = regs.FP()
	case regval.RoleReturnAddress:
		reg = regs.RA()
	}
	if reg == nil || reg.Value == nil {
		return 0, false
	}
	n, err := reg.Value.Narrow()
	if err != nil {
		return 0, false
	}
	return n, true
}

func pcValue(regs regval.DebugRegisters, addr uint64) regval.Value {
	width := regs.AddressSizeBytes()
	if width == 8 {
		return regval.New64(addr)
	}
	return regval.New32(uint32(addr))
}

func unknownFunctionName(pc uint64) string {
	return fmt.Sprintf("<unknown function @ %#x>", pc)
}

func nameOrUnknown(name string, pc uint64) string {
	if name == "" {
		return unknownFunctionName(pc)
	}
	return name
}

func sourceLocationFor(resolver *lineprog.Resolver, pc uint64) *srcloc.Location {
	if resolver == nil {
		return nil
	}
	loc, ok, err := resolver.PCToLocation(pc)
	if err != nil || !ok {
		return nil
	}
	return &loc
}

func readWidth(mem Memory, addr uint64, width int) (regval.Value, error) {
	buf := make([]byte, width)
	if err := mem.ReadMemory(addr, buf); err != nil {
		return regval.Value{}, err
	}
	if width == 8 {
		return regval.New64(binary.LittleEndian.Uint64(buf)), nil
	}
	return regval.New32(binary.LittleEndian.Uint32(buf)), nil
}
