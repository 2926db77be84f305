// Package lineprog implements the line-program resolver (component C3):
// PC -> source location, and (file, line, column) -> a verified breakpoint
// address. Grounded on jetsetilly/gopher2600's
// coprocessor/developer/dwarf/dwarf_process_lines.go, which walks stdlib
// debug/dwarf's dwarf.LineReader the same way (peeking the next entry to
// find a row's end address, treating DW_AT_stmt as the breakpoint-eligible
// marker) and on devilkun-delve's pkg/proc (PCToLine / BinaryInfo.
// EntryLineForFunc use exactly this "iterate compile units, stop at the one
// whose range contains pc" shape).
package lineprog

import (
	"debug/dwarf"
	"errors"
	"io"

	"github.com/team-arrow-racing/coredebug/pkg/dwarfsec"
	"github.com/team-arrow-racing/coredebug/pkg/srcloc"
)

// Resolver answers PC<->source queries against one loaded DWARF view.
type Resolver struct {
	view *dwarfsec.View
}

// New builds a Resolver over the given section view. view.Info may be nil,
// in which case every query degrades to "not found" rather than erroring
// (spec §4.2: missing sections degrade features, they don't abort loading).
func New(view *dwarfsec.View) *Resolver {
	return &Resolver{view: view}
}

// row is a materialized, already-resolved line-table entry: resolving the
// file name eagerly here means the hot PC->location path never needs to
// re-walk the compile unit's file table.
type row struct {
	address uint64
	file    string
	dir     string
	line    uint64
	column  uint64
	isStmt  bool
}

// sequence is a contiguous run of rows sharing one [low, high) PC range
// (spec glossary: "Sequence (line program)").
type sequence struct {
	low, high uint64
	rows      []row // excludes the terminating end_sequence row
}

func (r *Resolver) sequencesForUnit(cu *dwarf.Entry) ([]sequence, error) {
	lr, err := r.view.Info.LineReader(cu)
	if err != nil {
		return nil, err
	}
	if lr == nil {
		return nil, nil
	}

	var seqs []sequence
	var cur sequence
	haveCur := false

	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if !haveCur {
			cur = sequence{low: le.Address}
			haveCur = true
		}
		if le.EndSequence {
			cur.high = le.Address
			seqs = append(seqs, cur)
			haveCur = false
			continue
		}
		fileName, dirName := fileAndDir(le.File)
		cur.rows = append(cur.rows, row{
			address: le.Address,
			file:    fileName,
			dir:     dirName,
			line:    uint64(le.Line),
			column:  uint64(le.Column),
			isStmt:  le.IsStmt,
		})
	}
	return seqs, nil
}

// fileAndDir decodes a *dwarf.LineFile's name. Unlike gimli, stdlib's
// debug/dwarf does not expose the file entry's directory index separately
// -- LineFile.Name already comes pre-joined with its directory component by
// the standard decoder. dir is therefore always empty here; relativization
// against the compilation directory (spec §4.3 "Path reconstruction") still
// happens one level up, in rowToLocation, using the unit's DW_AT_comp_dir.
func fileAndDir(f *dwarf.LineFile) (name, dir string) {
	if f == nil {
		return "", ""
	}
	return f.Name, ""
}

// compileUnits returns the top-level compile-unit entries.
func (r *Resolver) compileUnits() ([]*dwarf.Entry, error) {
	if r.view.Info == nil {
		return nil, nil
	}
	rdr := r.view.Info.Reader()
	var units []*dwarf.Entry
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}
		if e.Tag == dwarf.TagCompileUnit {
			units = append(units, e)
			rdr.SkipChildren()
		}
	}
	return units, nil
}

func compUnitDir(cu *dwarf.Entry) string {
	if v, ok := cu.Val(dwarf.AttrCompDir).(string); ok {
		return v
	}
	return ""
}

// PCToLocation maps a PC to its source location, applying spec §4.3's three
// cases (exact match, "previous row" straddle fix, and scan-ahead) over
// whichever line-program sequence contains pc. It returns ok=false, not an
// error, when no unit/sequence covers pc -- that is a normal "no debug info
// here" outcome, not a fault.
func (r *Resolver) PCToLocation(pc uint64) (loc srcloc.Location, ok bool, err error) {
	units, err := r.compileUnits()
	if err != nil {
		return srcloc.Location{}, false, err
	}
	for _, cu := range units {
		seqs, err := r.sequencesForUnit(cu)
		if err != nil {
			return srcloc.Location{}, false, err
		}
		compDir := compUnitDir(cu)
		for _, seq := range seqs {
			if pc < seq.low || pc >= seq.high {
				continue
			}
			var prev *row
			for i := range seq.rows {
				cur := &seq.rows[i]
				switch {
				case cur.address == pc:
					return rowToLocation(*cur, compDir, seq), true, nil
				case cur.address > pc && prev != nil:
					return rowToLocation(*prev, compDir, seq), true, nil
				case cur.address < pc:
					prev = cur
				}
			}
			if prev != nil {
				// pc is within [low, high) but at or after the last row's
				// address; the last row is still the answer.
				return rowToLocation(*prev, compDir, seq), true, nil
			}
		}
	}
	return srcloc.Location{}, false, nil
}

func rowToLocation(rw row, compDir string, seq sequence) srcloc.Location {
	dir := rw.dir
	file := rw.file
	full := joinDir(dir, file)
	if !isAbsPath(full) && compDir != "" {
		full = joinDir(compDir, full)
	}
	col := srcloc.FromDWARF(rw.column)
	low := uint32(seq.low)
	high := uint32(seq.high)
	return srcloc.Location{
		Line:      u64ptr(rw.line),
		Column:    &col,
		File:      strptr(full),
		Directory: strptr(compDir),
		LowPC:     &low,
		HighPC:    &high,
	}
}

func u64ptr(v uint64) *uint64 { return &v }
func strptr(v string) *string { return &v }
