// Package logging is the ambient structured-logging wrapper every other
// package in this module calls through, modeled on delve's pkg/logflags:
// one shared logrus instance, one *logrus.Entry per concern, fields
// attached at the call site instead of formatted strings. Configuring
// sinks (where logs go, at what level) is the embedding application's job;
// this package only exposes the two hooks it needs to do that.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// For returns a *logrus.Entry on the shared logger for a named concern (e.g.
// "unwind", "debuginfo"), pre-tagged with a "component" field.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetOutput redirects every component's log output. The embedding
// application calls this; nothing in this module does, since log sink
// configuration is out of scope for the debug-info core itself.
func SetOutput(w io.Writer) { base.SetOutput(w) }

// SetLevel adjusts the shared logger's verbosity.
func SetLevel(level logrus.Level) { base.SetLevel(level) }
