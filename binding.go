package intercept

import (
	"errors"
	"fmt"
	"reflect"
)

// Binding pairs an original function with its replacement. Bindings are
// immutable once created.
type Binding struct {
	original    Identity
	replacement reflect.Value
	instance    any

	// Exactly one is set. Methods and in-place constructors take the
	// receiver first.
	bound   boundFunc
	unbound unboundFunc
}

// BindOption configures a Binding.
type BindOption func(*bindConfig)

type bindConfig struct {
	instance any
	scoped   bool
}

// ForInstance limits a Binding to calls whose receiver is instance. The
// instance must be a non-nil pointer; receivers are compared by identity.
func ForInstance(instance any) BindOption {
	return func(c *bindConfig) {
		c.instance = instance
		c.scoped = true
	}
}

// Bind validates replacement against original and returns a Binding.
//
// The replacement must have exactly the type the original is called with:
//   - package functions: the declared signature
//   - methods: the declared signature with *T (or the interface type) first
//   - constructors: func(params...) *T, or func(*T, params...) to
//     initialize storage allocated by the caller
//
// No conversions are applied. A mismatch is reported as an *Error wrapping
// ErrSignatureMismatch.
func Bind(original Identity, replacement any, opts ...BindOption) (*Binding, error) {
	if original.IsZero() {
		return nil, errors.New("bind: zero identity")
	}

	bindErr := func(err error) error {
		return &Error{Op: "bind", Func: original, Err: err}
	}

	rv := reflect.ValueOf(replacement)
	if rv.Kind() != reflect.Func {
		return nil, bindErr(fmt.Errorf("not a function, kind: %v", rv.Kind()))
	}
	if rv.IsNil() {
		return nil, bindErr(errors.New("nil replacement"))
	}

	b := &Binding{
		original:    original,
		replacement: rv,
	}

	unboundType, boundType := replacementTypes(original)
	switch rv.Type() {
	case unboundType:
		b.unbound = unboundFunc{fn: rv}
	case boundType:
		b.bound = boundFunc{fn: rv}
	default:
		want := unboundType
		if want == nil {
			want = boundType
		}
		diff := diffSignatures(want, rv.Type()).Error()
		if diff == nil {
			diff = fmt.Errorf("want %v, got %v", want, rv.Type())
		}
		return nil, bindErr(fmt.Errorf("%w: %w", ErrSignatureMismatch, diff))
	}

	var cfg bindConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.scoped {
		if err := checkInstance(original, cfg.instance); err != nil {
			return nil, bindErr(err)
		}
		b.instance = cfg.instance
	}

	return b, nil
}

// replacementTypes returns the accepted replacement types for id. Either
// may be nil.
func replacementTypes(id Identity) (unbound, bound reflect.Type) {
	switch {
	case id.Ctor:
		return constructedSig(id), id.EntryType()
	case id.Static:
		return id.Sig, nil
	default:
		return nil, id.EntryType()
	}
}

// constructedSig is the signature of an allocating constructor for id:
// func(params...) *T.
func constructedSig(id Identity) reflect.Type {
	return reflect.FuncOf(id.Params(), []reflect.Type{reflect.PointerTo(id.Owner)}, id.Sig.IsVariadic())
}

func checkInstance(id Identity, instance any) error {
	if id.Static || id.Ctor {
		return errors.New("instance filter on a function without a receiver")
	}

	iv := reflect.ValueOf(instance)
	if iv.Kind() != reflect.Pointer || iv.IsNil() {
		return fmt.Errorf("instance must be a non-nil pointer, got %T", instance)
	}

	if id.IsInterface() {
		if !iv.Type().Implements(id.Owner) {
			return fmt.Errorf("instance %v does not implement %v", iv.Type(), id.Owner)
		}
		return nil
	}

	if iv.Type().Elem() != id.Owner {
		return fmt.Errorf("instance is %v, want *%v", iv.Type(), id.Owner)
	}
	return nil
}

// Original returns the function b replaces.
func (b *Binding) Original() Identity {
	return b.original
}

// Replacement returns the replacement function.
func (b *Binding) Replacement() any {
	return b.replacement.Interface()
}

// Instance returns the receiver b is limited to, or nil.
func (b *Binding) Instance() any {
	return b.instance
}

// Scoped reports whether b only applies to one receiver.
func (b *Binding) Scoped() bool {
	return b.instance != nil
}

// InPlace reports whether a constructor replacement initializes storage
// allocated by the caller rather than returning a new value.
func (b *Binding) InPlace() bool {
	return b.original.Ctor && b.bound.valid()
}

// call invokes the replacement with args laid out as in the original's entry
// point.
func (b *Binding) call(args []reflect.Value) []reflect.Value {
	if b.bound.valid() {
		return b.bound.call(args[0], args[1:])
	}
	return b.unbound.call(args)
}

// construct runs a constructor replacement against obj, a *T.
func (b *Binding) construct(obj reflect.Value, args []reflect.Value) {
	if b.bound.valid() {
		b.bound.call(obj, args)
		return
	}

	res := b.unbound.call(args)
	if res[0].IsNil() {
		obj.Elem().SetZero()
		return
	}
	obj.Elem().Set(res[0].Elem())
}

func (b *Binding) String() string {
	if b.Scoped() {
		return fmt.Sprintf("%s for %p", b.original, b.instance)
	}
	return b.original.String()
}
