package sandbox

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// joinArg renders one console argument the way Array.prototype.join does:
// null and undefined become empty strings. Symbols are rejected by the caller
// before they get here, since join throws on them.
func joinArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// describeValue renders an arbitrary JS value without letting a throwing
// toString escape.
func describeValue(v goja.Value) (s string) {
	if v == nil {
		return "undefined"
	}
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%v", v.ExportType())
		}
	}()
	return v.String()
}

// describeError turns an error coming out of the VM into a one-line message,
// e.g. "Error: x" for a thrown Error.
func describeError(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return describeValue(ex.Value())
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Sprintf("execution interrupted: %v", ie.Value())
	}
	return err.Error()
}
