package rfpipe

import "fmt"

// Error is the single fatal error type the core returns for
// configuration failures, contract violations and resource failures
// (spec.md §7). Its message is always prefixed "rfpipe: " followed by
// the stage name when one is set, the Go equivalent of
// pipeline_object::_throw's prefix rule.
type Error struct {
	Stage string
	Msg   string
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return "rfpipe: " + e.Msg
	}
	return fmt.Sprintf("rfpipe: %s: %s", e.Stage, e.Msg)
}

func fail(stage, format string, args ...interface{}) error {
	return &Error{Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// NewError constructs an *Error attributed to stage, for use by
// sub-packages (chunked, maskcounter) that build on Base but live
// outside the rfpipe package.
func NewError(stage, format string, args ...interface{}) error {
	return fail(stage, format, args...)
}
