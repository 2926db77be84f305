// Package dapconv converts this module's unwind results into
// github.com/google/go-dap's wire types. It is conversion-only: no
// socket, no dap.Session loop, no request dispatch -- the transport that
// would carry these values to an editor is out of scope (spec §1), the
// same boundary original_source/probe-rs draws between its debug_info
// core and its separate probe-rs-debugger binary.
//
// Grounded on delve's own dependency on github.com/google/go-dap (present
// in its go.mod) to drive dap.StackTraceResponse bodies from its internal
// stack-frame representation.
package dapconv

import (
	"fmt"
	"path/filepath"

	"github.com/google/go-dap"

	"github.com/team-arrow-racing/coredebug/pkg/srcloc"
	"github.com/team-arrow-racing/coredebug/pkg/unwind"
)

// StackFrames converts an unwind result into DAP stack frames, in the
// order a "stackTrace" response expects: innermost (most recently
// executing) first, which is exactly the order unwind.Unwinder.Unwind
// already produces (spec §3 invariant 2).
func StackFrames(frames []unwind.StackFrame) []dap.StackFrame {
	out := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		out[i] = StackFrame(f)
	}
	return out
}

// StackFrame converts a single frame.
func StackFrame(f unwind.StackFrame) dap.StackFrame {
	df := dap.StackFrame{
		Id:   int(f.ID),
		Name: f.FunctionName,
	}
	if n, err := f.PC.Narrow(); err == nil {
		df.InstructionPointerReference = fmt.Sprintf("%#x", n)
	}
	if f.SourceLocation != nil {
		src := Source(*f.SourceLocation)
		df.Source = &src
		if f.SourceLocation.Line != nil {
			df.Line = int(*f.SourceLocation.Line)
		}
		if f.SourceLocation.Column != nil && !f.SourceLocation.Column.IsLeftEdge() {
			df.Column = int(f.SourceLocation.Column.Value())
		}
	}
	return df
}

// Source converts a SourceLocation into a DAP Source object: Path is the
// location's File as given (pkg/lineprog already materializes it as a full
// path) and Directory is not consulted, so this is purely a field-shape
// translation.
func Source(loc srcloc.Location) dap.Source {
	var src dap.Source
	if loc.File != nil {
		src.Name = filepath.Base(*loc.File)
		src.Path = *loc.File
	}
	return src
}
