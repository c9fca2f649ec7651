// Package log provides the logger used by stages and the scheduler to
// report degraded-input fallbacks (spec.md §7) and lifecycle events.
package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

// Logger is a global interface for rfpipe loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("RFPIPE_DEBUG"))
	if err != nil {
		debug = false
	}
}

// Get returns a new logger instance.
func Get() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Silent is a Logger that discards everything. maskcounter.Stage uses it
// when its Logger field is nil.
type Silent struct{}

// Debug discards its arguments.
func (Silent) Debug(...interface{}) {}

// Info discards its arguments.
func (Silent) Info(...interface{}) {}

// Warn discards its arguments.
func (Silent) Warn(...interface{}) {}
