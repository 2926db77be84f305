// Package dwarfsec implements the DWARF loader (component C2): it turns an
// ELF image into an immutable, freely-clonable view over the six DWARF
// sections the rest of the unwinder needs. Grounded on
// github.com/go-delve/delve's own BinaryInfo loading (which builds a
// *dwarf.Data from stdlib debug/dwarf and keeps the raw .debug_frame bytes
// on the side for its pkg/dwarf/frame parser) and on
// coprocessor/developer/dwarf/elf_shim.go from jetsetilly/gopher2600, which
// takes the same "degrade gracefully when a section is missing" approach for
// an embedded-target ELF.
package dwarfsec

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"io"
	"os"
)

// View is the immutable, reference-counted-by-convention (Go slices alias
// their backing array, so cloning View is cheap and safe) set of DWARF
// sections. The zero value of each byte-slice field is a valid "empty
// section" view -- callers never need to nil-check before slicing.
type View struct {
	ByteOrder binary.ByteOrder

	// Info is the parsed .debug_info/.debug_abbrev pair. It is nil only if
	// .debug_info was entirely absent, in which case function/line lookups
	// degrade to "not found" rather than failing.
	Info *dwarf.Data

	// Frame is the raw .debug_frame bytes (CFI), consumed by pkg/unwind via
	// github.com/go-delve/delve/pkg/dwarf/frame. Empty when absent.
	Frame []byte

	// LocationLists is the .debug_loc and .debug_loclists sections merged
	// into one view by concatenation, .debug_loc first. When only one is
	// present its raw section offsets index this slice directly; when both
	// are present, .debug_loclists offsets are shifted by len(.debug_loc).
	// Empty when neither section is present.
	LocationLists []byte

	// Addr is the supplementary .debug_addr section used by DWARF5 loclists
	// and the DW_FORM_addrx family. Empty when absent.
	Addr []byte
}

// FromFile opens path, reads it fully and delegates to FromRaw.
func FromFile(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError(err, "dwarfsec: opening %s", path)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, IOError(err, "dwarfsec: reading %s", path)
	}
	return FromRaw(data)
}

// FromRaw parses an in-memory ELF image into a View. Per spec §4.2, a
// missing section synthesizes an empty slice rather than failing; only a
// malformed ELF or a malformed .debug_info/.debug_abbrev pair that stdlib's
// debug/dwarf rejects is a load-time Parse error. No DIE tree is walked
// here -- building a dwarf.Data only indexes compilation-unit headers and
// the abbreviation tables, it does not interpret DIEs (that is C4's job).
func FromRaw(data []byte) (*View, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, ParseError(err, "dwarfsec: parsing ELF image")
	}
	defer ef.Close()

	v := &View{ByteOrder: ef.ByteOrder}

	if ef.Section(".debug_info") != nil {
		dw, err := ef.DWARF()
		if err != nil {
			return nil, ParseError(err, "dwarfsec: parsing .debug_info/.debug_abbrev")
		}
		v.Info = dw
	}

	v.Frame = sectionBytes(ef, ".debug_frame")
	v.Addr = sectionBytes(ef, ".debug_addr")

	loc := sectionBytes(ef, ".debug_loc")
	loclists := sectionBytes(ef, ".debug_loclists")
	if len(loc) == 0 {
		v.LocationLists = loclists
	} else if len(loclists) == 0 {
		v.LocationLists = loc
	} else {
		merged := make([]byte, 0, len(loc)+len(loclists))
		merged = append(merged, loc...)
		merged = append(merged, loclists...)
		v.LocationLists = merged
	}

	return v, nil
}

// sectionBytes returns the section's data, or nil (a valid empty View) if
// the section doesn't exist or can't be decompressed. It never returns an
// error: per spec, missing/unreadable optional sections degrade features,
// they do not abort loading.
func sectionBytes(ef *elf.File, name string) []byte {
	sec := ef.Section(name)
	if sec == nil {
		return nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil
	}
	return data
}

// FindCompileUnit scans dw's top-level entries for the compile unit whose
// address ranges contain pc, returning (nil, nil) if none does. Shared by
// pkg/funcdie's callers (the root façade and pkg/unwind) so both walk the
// same "iterate compile units, stop at the one whose range contains pc"
// logic from a single place instead of keeping two copies in sync by hand.
func FindCompileUnit(dw *dwarf.Data, pc uint64) (*dwarf.Entry, error) {
	rdr := dw.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		if e.Tag != dwarf.TagCompileUnit {
			continue
		}
		ranges, err := dw.Ranges(e)
		if err == nil {
			for _, r := range ranges {
				if pc >= r[0] && pc < r[1] {
					return e, nil
				}
			}
		}
		rdr.SkipChildren()
	}
}

// HasLineProgram reports whether line-number information is available at
// all, i.e. whether .debug_info was loaded.
func (v *View) HasLineProgram() bool { return v.Info != nil }

// HasFrame reports whether CFI is available; pkg/unwind uses this to decide
// whether to attempt the CFI-driven unwind loop at all, versus immediately
// falling back to the leaf "PC <- RA" shortcut of spec §4.6 step 6.
func (v *View) HasFrame() bool { return len(v.Frame) > 0 }
