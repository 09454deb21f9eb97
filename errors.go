package intercept

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSignatureMismatch is returned by Bind when a replacement's
	// signature differs from the original's.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrRewriteUnsupported means a function body could not be
	// instrumented.
	ErrRewriteUnsupported = errors.New("rewrite unsupported")

	// ErrUnsupportedShape means no trampoline exists for a call shape and
	// function combination.
	ErrUnsupportedShape = errors.New("unsupported call shape")

	// ErrNotDeclared means a function is missing from the Catalog.
	ErrNotDeclared = errors.New("function not declared")

	// ErrSessionActive is returned by Begin while another session is
	// active.
	ErrSessionActive = errors.New("another session is active")

	// ErrSessionEnded is returned when a Session is used after End.
	ErrSessionEnded = errors.New("session has ended")

	// ErrUnsupportedPlatform is returned by entry replacement on platforms
	// where machine code can't be patched.
	ErrUnsupportedPlatform = errors.New("entry replacement is not supported on this platform")
)

// Error describes a failure for one function and, when relevant, one call
// shape.
type Error struct {
	Op    string
	Func  Identity
	Shape Shape
	Err   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if !e.Func.IsZero() {
		sb.WriteByte(' ')
		sb.WriteString(e.Func.String())
	}
	if e.Shape != 0 {
		fmt.Fprintf(&sb, " [%s]", e.Shape)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
