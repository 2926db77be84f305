package lineprog

import (
	"github.com/team-arrow-racing/coredebug/pkg/dwarfsec"
	"github.com/team-arrow-racing/coredebug/pkg/srcloc"
)

// Breakpoint is the adjusted, actually realizable location for a requested
// (file, line, column) -- spec §3's VerifiedBreakpoint.
type Breakpoint struct {
	Address  uint64
	Location srcloc.Location
}

// candidateStatement is one (file, line)-matching row, carrying the
// compilation directory and sequence it was found in so the winning row can
// still be turned into a full srcloc.Location afterward.
type candidateStatement struct {
	rw      row
	compDir string
	seq     sequence
}

// GetBreakpointLocation implements spec §4.3's "(file, line, column) -> PC":
// pick the statement whose (line, column) exactly matches when column is
// supplied and non-zero; otherwise pick the first statement on the line.
// There is no nearest-column fallback -- an exact column match is preferred
// but, per spec invariant 5, not required, and a column that matches no
// statement on the line falls all the way back to the line's first
// statement rather than snapping to the closest one.
func (r *Resolver) GetBreakpointLocation(file string, line uint64, column *uint64) (*Breakpoint, error) {
	units, err := r.compileUnits()
	if err != nil {
		return nil, err
	}

	var candidates []candidateStatement
	for _, cu := range units {
		seqs, err := r.sequencesForUnit(cu)
		if err != nil {
			return nil, err
		}
		compDir := compUnitDir(cu)
		for _, seq := range seqs {
			for _, rw := range seq.rows {
				if !rw.isStmt || rw.line != line {
					continue
				}
				full := joinDir(rw.dir, rw.file)
				if !isAbsPath(full) && compDir != "" {
					full = joinDir(compDir, full)
				}
				if !pathsEqual(full, file) {
					continue
				}
				candidates = append(candidates, candidateStatement{rw: rw, compDir: compDir, seq: seq})
			}
		}
	}

	best, ok := pickStatement(candidates, column)
	if !ok {
		return nil, dwarfsec.OtherError("No valid breakpoint information found for %s:%d", file, line)
	}

	loc := rowToLocation(best.rw, best.compDir, best.seq)
	return &Breakpoint{Address: best.rw.address, Location: loc}, nil
}

// pickStatement implements spec §4.3's tie-break over every (file, line)
// candidate already gathered: an exact (line, column) match when column is
// supplied and non-zero, otherwise the first statement on the line (lowest
// address) -- including as the fallback when a supplied column matches
// nothing. Split out from GetBreakpointLocation so the tie-break itself is
// testable without a real line-program fixture.
func pickStatement(candidates []candidateStatement, column *uint64) (candidateStatement, bool) {
	var exact, first *candidateStatement
	for i := range candidates {
		c := &candidates[i]
		if first == nil || c.rw.address < first.rw.address {
			first = c
		}
		if column != nil && *column != 0 && c.rw.column == *column {
			if exact == nil || c.rw.address < exact.rw.address {
				exact = c
			}
		}
	}
	if exact != nil {
		return *exact, true
	}
	if first != nil {
		return *first, true
	}
	return candidateStatement{}, false
}
