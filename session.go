package intercept

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Session scopes a set of replacements. Bindings made through the Session
// apply to every trampoline of its Interceptor until End.
type Session struct {
	in *Interceptor

	mu      sync.Mutex
	patches []*patch
	ended   bool
}

// Replace activates b until the session ends. It fails once the session
// has ended.
func (s *Session) Replace(b *Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return &Error{Op: "replace", Func: b.Original(), Err: ErrSessionEnded}
	}

	s.in.registry.Register(b)
	s.in.log.Debug("replaced",
		zap.Stringer("func", b.Original()),
		zap.Bool("scoped", b.Scoped()))
	return nil
}

// ReplaceFunc binds replacement to original and activates the binding.
func (s *Session) ReplaceFunc(original Identity, replacement any, opts ...BindOption) error {
	b, err := Bind(original, replacement, opts...)
	if err != nil {
		return err
	}
	return s.Replace(b)
}

// ReplaceEntry overwrites the compiled entry point of b's original with a
// jump to the replacement. Unlike Replace this affects every caller, not
// just trampolines, so it works for functions that are never rewritten.
// The original remains reachable through Original.
//
// The original must be declared from a compiled function with exactly the
// replacement's type, and the binding can't be scoped to an instance. The
// replacement runs without its closure context, so it must not capture
// variables. Small functions may be inlined by the compiler at their call
// sites; mark them //go:noinline.
func (s *Session) ReplaceEntry(b *Binding) error {
	id := b.Original()
	fail := func(err error) error {
		return &Error{Op: "replace entry", Func: id, Err: err}
	}

	if b.Scoped() {
		return fail(errors.New("entry replacement can't be scoped to an instance"))
	}
	fn, err := s.in.catalog.function(id)
	if err != nil {
		return fail(err)
	}
	if fn.Type() != b.replacement.Type() {
		return fail(fmt.Errorf("%w: entry is %v, replacement is %v", ErrSignatureMismatch, fn.Type(), b.replacement.Type()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fail(ErrSessionEnded)
	}

	p, err := patchEntry(fn, b.replacement)
	if err != nil {
		return fail(err)
	}
	s.patches = append(s.patches, p)

	s.in.log.Debug("replaced entry", zap.Stringer("func", id))
	return nil
}

// End removes every binding, restores every replaced entry point and
// releases the Interceptor for the next Session. Calling End more than once
// has no effect.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil
	}
	s.ended = true

	s.in.registry.Clear()

	var errs []error
	for _, p := range slices.Backward(s.patches) {
		if err := p.restore(); err != nil {
			errs = append(errs, err)
		}
	}
	s.patches = nil

	s.in.endSession(s)
	s.in.log.Debug("session ended")
	return errors.Join(errs...)
}
