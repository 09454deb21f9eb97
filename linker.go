package intercept

import (
	"errors"
	"fmt"
	"reflect"
)

// Linker resolves the call sites of a body template. A body built for a
// rewrite gets trampolines; a body built for the original entry point gets
// uninstrumented targets.
//
// Errors are collected rather than returned: the failed site's value is nil
// and the build that owns the Linker fails.
type Linker struct {
	gen   *Generator
	self  Identity
	iface bool
	err   error
}

// Self returns the function whose body is being built.
func (l *Linker) Self() Identity {
	return l.self
}

// InterfaceDispatch reports whether the body is being built for a function
// that was reached through an interface.
func (l *Linker) InterfaceDispatch() bool {
	return l.iface
}

// Err returns the errors of every failed site.
func (l *Linker) Err() error {
	return l.err
}

// Site returns the callable for a call of the given shape to id.
func (l *Linker) Site(id Identity, shape Shape) reflect.Value {
	fn, err := l.gen.Trampoline(id, shape)
	if err != nil {
		l.fail(err)
	}
	return fn
}

// ConstrainedSite returns the callable for a call to id through a receiver of
// type *constraint.
func (l *Linker) ConstrainedSite(id Identity, constraint reflect.Type) reflect.Value {
	fn, err := l.gen.Constrained(id, constraint)
	if err != nil {
		l.fail(err)
	}
	return fn
}

func (l *Linker) fail(err error) {
	l.err = errors.Join(l.err, fmt.Errorf("in %s: %w", l.self, err))
}

// Site returns the callable for a call of the given shape to id as an F.
func Site[F any](l *Linker, id Identity, shape Shape) F {
	return typedSite[F](l, l.Site(id, shape))
}

// ConstrainedSite returns the callable for a call to id through a receiver
// of type *constraint as an F.
func ConstrainedSite[F any](l *Linker, id Identity, constraint reflect.Type) F {
	return typedSite[F](l, l.ConstrainedSite(id, constraint))
}

func typedSite[F any](l *Linker, fn reflect.Value) F {
	var zero F
	if !fn.IsValid() {
		return zero
	}
	f, ok := fn.Interface().(F)
	if !ok {
		l.fail(fmt.Errorf("site has type %v, not %v", fn.Type(), reflect.TypeFor[F]()))
		return zero
	}
	return f
}
