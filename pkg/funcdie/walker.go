// Package funcdie implements the function DIE walker (component C4): given
// a PC, it locates the innermost subprogram tree covering it and flattens
// any inlined-subroutine chain into an ordered list, outermost first.
// Grounded on devilkun-delve's pkg/proc reader.InlineStack (used from
// stack.go's appendInlineCalls to walk DW_TAG_inlined_subroutine children)
// and on jetsetilly/gopher2600's coprocessor/developer/dwarf_builder.go,
// which resolves DW_AT_abstract_origin chains for inlined subroutines the
// same way.
package funcdie

import (
	"debug/dwarf"
	"fmt"

	"github.com/team-arrow-racing/coredebug/pkg/srcloc"
)

// FunctionDie is one entry of the ordered inline chain produced by Walk: the
// outermost concrete subprogram first, each nested inlined_subroutine after
// it, innermost last.
type FunctionDie struct {
	LowPC, HighPC uint64
	IsInline      bool
	FunctionName  string

	// FrameBase is the evaluated DW_AT_frame_base when it is a constant
	// expression (e.g. a bare DW_OP_addr); nil when it requires runtime
	// register state to evaluate (the common case -- DW_OP_call_frame_cfa),
	// per spec §4.4.
	FrameBase *int64

	// InlineCallLocation is set only for inlined entries: the call site
	// recovered from DW_AT_call_file/_line/_column.
	InlineCallLocation *srcloc.Location

	offset dwarf.Offset
}

// DIEOffset returns the DWARF offset of this entry's own DIE (the
// subprogram, for a non-inlined FunctionDie; the inlined_subroutine, for an
// inlined one) -- the anchor pkg/varcache needs to seed a function-scope
// DirectLookup root (spec §4.5).
func (f FunctionDie) DIEOffset() uint64 { return uint64(f.offset) }

// Walk finds the subprogram tree covering pc within unit (the compile unit's
// top-level *dwarf.Entry) and returns the flattened inline chain. It returns
// an empty slice, not an error, if no subprogram contains pc (spec §4.4).
func Walk(dw *dwarf.Data, unit *dwarf.Entry, pc uint64) ([]FunctionDie, error) {
	rdr := dw.Reader()
	rdr.Seek(unit.Offset)
	if _, err := rdr.Next(); err != nil { // re-read the unit entry itself
		return nil, err
	}

	sub, subEntry, err := findEnclosingSubprogram(dw, rdr, pc)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	chain := []FunctionDie{*sub}
	if err := appendInlineChain(dw, subEntry, pc, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// findEnclosingSubprogram scans the unit's DIE tree (non-recursively except
// where debug/dwarf's Reader already tracks nesting depth for us) for the
// innermost TagSubprogram whose range contains pc.
func findEnclosingSubprogram(dw *dwarf.Data, rdr *dwarf.Reader, pc uint64) (*FunctionDie, *dwarf.Entry, error) {
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, nil, err
		}
		if e == nil {
			return nil, nil, nil
		}
		if e.Tag == 0 { // end of siblings
			continue
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}
		low, high, ok := pcRange(e)
		if !ok || pc < low || pc >= high {
			rdr.SkipChildren()
			continue
		}
		name := resolveFunctionName(dw, e)
		fb := resolveConstFrameBase(e)
		return &FunctionDie{
			LowPC: low, HighPC: high,
			IsInline:     false,
			FunctionName: name,
			FrameBase:    fb,
			offset:       e.Offset,
		}, e, nil
	}
}

// appendInlineChain walks subEntry's children looking for nested
// TagInlinedSubroutine entries whose range contains pc, recursing into each
// match so arbitrarily deep inline nesting is flattened in call order.
func appendInlineChain(dw *dwarf.Data, subEntry *dwarf.Entry, pc uint64, chain *[]FunctionDie) error {
	if !subEntry.Children {
		return nil
	}
	rdr := dw.Reader()
	rdr.Seek(subEntry.Offset)
	if _, err := rdr.Next(); err != nil {
		return err
	}

	for {
		e, err := rdr.Next()
		if err != nil {
			return err
		}
		if e == nil || e.Tag == 0 {
			return nil
		}
		if e.Tag != dwarf.TagInlinedSubroutine {
			if e.Children {
				rdr.SkipChildren()
			}
			continue
		}
		low, high, ok := pcRange(e)
		if !ok || pc < low || pc >= high {
			rdr.SkipChildren()
			continue
		}

		name := resolveFunctionName(dw, e)
		callLoc := resolveCallLocation(dw, e)
		*chain = append(*chain, FunctionDie{
			LowPC: low, HighPC: high,
			IsInline:           true,
			FunctionName:       name,
			InlineCallLocation: callLoc,
			offset:             e.Offset,
		})
		// recurse into this inlined_subroutine's own children for a
		// further-nested inline site.
		return appendInlineChain(dw, e, pc, chain)
	}
}

func pcRange(e *dwarf.Entry) (low, high uint64, ok bool) {
	lowVal := e.Val(dwarf.AttrLowpc)
	highVal := e.Val(dwarf.AttrHighpc)
	if lowVal == nil || highVal == nil {
		return 0, 0, false
	}
	low, ok = toUint64(lowVal)
	if !ok {
		return 0, 0, false
	}
	switch hv := highVal.(type) {
	case uint64:
		// DWARF4+ commonly encodes high_pc as an offset from low_pc when
		// its form is a constant rather than an address; debug/dwarf
		// doesn't disambiguate the form for us, so treat small values (less
		// than low) as offsets, matching the convention delve and gopher2600
		// both apply.
		if hv < low {
			return low, low + hv, true
		}
		return low, hv, true
	case int64:
		if uint64(hv) < low {
			return low, low + uint64(hv), true
		}
		return low, uint64(hv), true
	default:
		return 0, 0, false
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		return uint64(x), true
	default:
		return 0, false
	}
}

// resolveFunctionName implements spec §4.4's name-resolution chain:
// DW_AT_linkage_name -> DW_AT_name -> abstract origin.
func resolveFunctionName(dw *dwarf.Data, e *dwarf.Entry) string {
	if n, ok := e.Val(dwarf.AttrLinkageName).(string); ok && n != "" {
		return n
	}
	if n, ok := e.Val(dwarf.AttrName).(string); ok && n != "" {
		return n
	}
	if originOff, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
		rdr := dw.Reader()
		rdr.Seek(originOff)
		origin, err := rdr.Next()
		if err == nil && origin != nil {
			return resolveFunctionName(dw, origin)
		}
	}
	return ""
}

// resolveCallLocation builds the inline_call_location from
// DW_AT_call_line/_column (spec §4.4). Only line and column are carried: the
// DW_AT_call_file index is not mapped to a path, so the returned location's
// File and Directory are always nil, and no caller fills them in.
func resolveCallLocation(dw *dwarf.Data, e *dwarf.Entry) *srcloc.Location {
	line, hasLine := e.Val(dwarf.AttrCallLine).(int64)
	if !hasLine {
		return nil
	}
	loc := &srcloc.Location{}
	lu := uint64(line)
	loc.Line = &lu
	if col, ok := e.Val(dwarf.AttrCallColumn).(int64); ok {
		c := srcloc.FromDWARF(uint64(col))
		loc.Column = &c
	} else {
		c := srcloc.LeftEdge
		loc.Column = &c
	}
	return loc
}

// resolveConstFrameBase evaluates DW_AT_frame_base only when it is a literal
// DW_OP_addr expression; any other encoding (almost always
// DW_OP_call_frame_cfa in practice) needs runtime register state and is left
// unresolved, per spec §4.4.
func resolveConstFrameBase(e *dwarf.Entry) *int64 {
	expr, ok := e.Val(dwarf.AttrFrameBase).([]byte)
	if !ok || len(expr) == 0 {
		return nil
	}
	const dwOpAddr = 0x03
	if expr[0] != dwOpAddr {
		return nil
	}
	if len(expr) == 9 {
		v := int64(0)
		for i := 8; i >= 1; i-- {
			v = v<<8 | int64(expr[i])
		}
		return &v
	}
	if len(expr) == 5 {
		v := int64(0)
		for i := 4; i >= 1; i-- {
			v = v<<8 | int64(expr[i])
		}
		return &v
	}
	return nil
}

// String is for debug logging only.
func (f FunctionDie) String() string {
	kind := "function"
	if f.IsInline {
		kind = "inline"
	}
	return fmt.Sprintf("%s %s [%#x,%#x)", kind, f.FunctionName, f.LowPC, f.HighPC)
}
