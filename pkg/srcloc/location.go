// Package srcloc holds the SourceLocation value type shared by the line
// resolver (C3), the function DIE walker (C4) and the frame unwinder (C6),
// kept in its own leaf package purely to avoid an import cycle between
// those three.
package srcloc

// Column is either the DWARF line program's "left edge" sentinel (column 0,
// meaning "the start of the line, no column info") or an explicit 1-based
// column number.
type Column struct {
	leftEdge bool
	value    uint64
}

// LeftEdge is the Column value matching the DWARF line program's column-0
// sentinel.
var LeftEdge = Column{leftEdge: true}

// AtColumn builds a Column holding an explicit column number.
func AtColumn(n uint64) Column { return Column{value: n} }

// IsLeftEdge reports whether this is the left-edge sentinel.
func (c Column) IsLeftEdge() bool { return c.leftEdge }

// Value returns the explicit column number; it is only meaningful when
// IsLeftEdge is false.
func (c Column) Value() uint64 { return c.value }

// FromDWARF maps a raw DWARF line-program column (0 means "left edge") to a
// Column.
func FromDWARF(raw uint64) Column {
	if raw == 0 {
		return LeftEdge
	}
	return AtColumn(raw)
}

// Location is the source-level context attached to a StackFrame or returned
// standalone by DebugInfo.GetSourceLocation: file/line/column plus the PC
// range of the line-program sequence it was found in.
type Location struct {
	Line      *uint64
	Column    *Column
	File      *string
	Directory *string
	LowPC     *uint32
	HighPC    *uint32
}

// Contains reports whether pc falls within [LowPC, HighPC); it returns false
// if either bound is unset, which is the "never verified against a real
// range" case tests should treat as a coverage gap, not a successful check.
func (l Location) Contains(pc uint32) bool {
	if l.LowPC == nil || l.HighPC == nil {
		return false
	}
	return pc >= *l.LowPC && pc < *l.HighPC
}

func u64p(v uint64) *uint64 { return &v }
func u32p(v uint32) *uint32 { return &v }
func strp(v string) *string { return &v }

// New builds a Location, a small convenience constructor so call sites
// don't have to take the address of a dozen locals by hand.
func New(line uint64, col Column, file, dir string, lowPC, highPC uint32) Location {
	return Location{
		Line:      u64p(line),
		Column:    &col,
		File:      strp(file),
		Directory: strp(dir),
		LowPC:     u32p(lowPC),
		HighPC:    u32p(highPC),
	}
}
