// internal/browser/dom/errors.go
package dom

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound means an id or handle has no resolvable live element.
	ErrTargetNotFound = errors.New("element not found")
	// ErrUnsupportedTarget means the requested interaction cannot apply to the element kind.
	ErrUnsupportedTarget = errors.New("unsupported target")
	// ErrUnsupported means the page binding lacks a primitive.
	ErrUnsupported = errors.New("operation not supported by page")
)

// TargetError annotates a target failure with the operation and the target it
// was attempted on.
type TargetError struct {
	Op     string
	Target string
	Err    error
}

func (e *TargetError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// NotFound builds a TargetError wrapping ErrTargetNotFound.
func NotFound(op, target string) error {
	return &TargetError{Op: op, Target: target, Err: ErrTargetNotFound}
}

// UnsupportedTarget builds a TargetError wrapping ErrUnsupportedTarget.
func UnsupportedTarget(op, target string) error {
	return &TargetError{Op: op, Target: target, Err: ErrUnsupportedTarget}
}
