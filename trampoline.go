package intercept

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Metadata answers questions about declared functions. *Catalog implements
// it.
type Metadata interface {
	Declared(id Identity) bool
	EntryPoint(id Identity) (reflect.Value, error)
	Devirtualize(recv reflect.Type, id Identity) Identity
	HasBody(id Identity) bool
	IsIntrinsic(id Identity) bool
}

// Rewriter produces instrumented entry points. Produce is called on every
// unmatched intercepted call, so implementations must memoize. iface reports
// whether the call reached id through an interface.
type Rewriter interface {
	Produce(id Identity, iface bool) (reflect.Value, error)
}

// Bindings is the read side of a Registry.
type Bindings interface {
	Lookup(id Identity, receiver any) (*Binding, bool)
}

// Generator builds trampolines: functions that stand in for a call of one
// shape to one function and decide on every call whether to run a
// replacement or an instrumented copy of the original.
//
// Trampolines are cached, so asking twice for the same function and shape
// returns the same value.
type Generator struct {
	meta     Metadata
	bindings Bindings
	rewriter Rewriter
	log      *zap.Logger

	mu    sync.Mutex
	cache map[siteKey]reflect.Value
}

type siteKey struct {
	id         Identity
	shape      Shape
	constraint reflect.Type
}

// NewGenerator returns a Generator. A nil logger disables logging.
func NewGenerator(meta Metadata, bindings Bindings, rewriter Rewriter, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		meta:     meta,
		bindings: bindings,
		rewriter: rewriter,
		log:      log,
		cache:    map[siteKey]reflect.Value{},
	}
}

// Trampoline returns the trampoline for calls of shape to id. Use
// Constrained for ConstrainedCall.
func (g *Generator) Trampoline(id Identity, shape Shape) (reflect.Value, error) {
	if shape == ConstrainedCall {
		return reflect.Value{}, &Error{Op: "generate", Func: id, Shape: shape, Err: fmt.Errorf("%w: constrained calls need a constraint type", ErrUnsupportedShape)}
	}
	return g.trampoline(siteKey{id: id, shape: shape})
}

// Constrained returns the trampoline for calls to id through a receiver of
// type *constraint.
func (g *Generator) Constrained(id Identity, constraint reflect.Type) (reflect.Value, error) {
	return g.trampoline(siteKey{id: id, shape: ConstrainedCall, constraint: constraint})
}

func (g *Generator) trampoline(k siteKey) (reflect.Value, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if fn, ok := g.cache[k]; ok {
		return fn, nil
	}

	fn, err := g.generate(k)
	if err != nil {
		return reflect.Value{}, &Error{Op: "generate", Func: k.id, Shape: k.shape, Err: err}
	}
	g.cache[k] = fn

	g.log.Debug("generated trampoline",
		zap.Stringer("func", k.id),
		zap.Stringer("shape", k.shape),
		zap.Bool("fast_path", g.fastPath(k.id)))
	return fn, nil
}

func (g *Generator) generate(k siteKey) (reflect.Value, error) {
	if !g.meta.Declared(k.id) {
		return reflect.Value{}, ErrNotDeclared
	}
	if err := checkShape(k); err != nil {
		return reflect.Value{}, err
	}

	switch k.shape {
	case DirectCall:
		if k.id.Ctor {
			return g.initObject(k.id), nil
		}
		return g.directCall(k.id), nil
	case NewObject:
		return g.newObject(k.id), nil
	case InitObject:
		return g.initObject(k.id), nil
	case ConstrainedCall:
		return g.constrainedCall(k.id, k.constraint), nil
	case VirtualCall:
		return g.virtualCall(k.id), nil
	case LoadFunc:
		return g.loadFunc(k.id), nil
	case LoadVirtualFunc:
		return g.loadVirtualFunc(k.id), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: unknown shape %d", ErrUnsupportedShape, k.shape)
}

func checkShape(k siteKey) error {
	id := k.id
	unsupported := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrUnsupportedShape, fmt.Sprintf(format, args...))
	}

	switch k.shape {
	case DirectCall, LoadFunc:
		if id.IsInterface() {
			return unsupported("interface methods can only be called virtually")
		}
	case NewObject, InitObject:
		if !id.Ctor {
			return unsupported("not a constructor")
		}
	case VirtualCall, LoadVirtualFunc:
		if id.Static || id.Ctor {
			return unsupported("no receiver to dispatch on")
		}
	case ConstrainedCall:
		if id.Static || id.Ctor {
			return unsupported("no receiver to dispatch on")
		}
		return checkConstraint(id, k.constraint)
	default:
		return unsupported("unknown shape %d", k.shape)
	}
	return nil
}

func checkConstraint(id Identity, constraint reflect.Type) error {
	if constraint == nil {
		return fmt.Errorf("%w: no constraint type", ErrUnsupportedShape)
	}
	if constraint.Kind() == reflect.Interface || constraint.Kind() == reflect.Pointer {
		return fmt.Errorf("%w: constraint %v is not a concrete type", ErrUnsupportedShape, constraint)
	}

	ptr := reflect.PointerTo(constraint)
	if id.IsInterface() {
		if !ptr.Implements(id.Owner) {
			return fmt.Errorf("%w: %v does not implement %v", ErrUnsupportedShape, ptr, id.Owner)
		}
		return nil
	}

	if constraint == id.Owner {
		return nil
	}
	if declaresMethod(constraint, id.Name) {
		return fmt.Errorf("%w: %v declares its own %s", ErrUnsupportedShape, constraint, id.Name)
	}
	if !embeds(constraint, id.Owner, 0) {
		return fmt.Errorf("%w: %v does not embed %v", ErrUnsupportedShape, constraint, id.Owner)
	}
	return nil
}

// embeds reports whether t embeds owner or *owner at any depth.
func embeds(t, owner reflect.Type, depth int) bool {
	if depth >= maxEmbedDepth || t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft == owner || embeds(ft, owner, depth+1) {
			return true
		}
	}
	return false
}

// fastPath reports whether calls to id skip interception: functions without
// a body have nothing to rewrite, and intrinsics may never reach their entry
// point. Interface methods are resolved first, so they never take it.
func (g *Generator) fastPath(id Identity) bool {
	return (!g.meta.HasBody(id) && !id.IsInterface()) || g.meta.IsIntrinsic(id)
}

// original returns id's uninstrumented entry point.
func (g *Generator) original(shape Shape, id Identity) reflect.Value {
	fn, err := g.meta.EntryPoint(id)
	if err != nil {
		panic(&Error{Op: "invoke", Func: id, Shape: shape, Err: err})
	}
	return fn
}

// rewritten returns id's instrumented entry point.
//
// A trampoline has the signature of the function it stands in for and
// can't return an error of its own, so failure panics. Falling back to the
// original would silently stop intercepting its calls.
func (g *Generator) rewritten(shape Shape, id Identity, iface bool) reflect.Value {
	fn, err := g.rewriter.Produce(id, iface)
	if err != nil {
		g.log.Warn("unable to rewrite",
			zap.Stringer("func", id),
			zap.Stringer("shape", shape),
			zap.Error(err))
		panic(&Error{Op: "invoke", Func: id, Shape: shape, Err: err})
	}
	return fn
}

// dispatch runs the resolution protocol for a call to id with args laid out
// as id's entry point takes them, receiver first.
func (g *Generator) dispatch(shape Shape, id Identity, iface bool, args []reflect.Value) []reflect.Value {
	var recv reflect.Value
	if !id.Static {
		recv = args[0]
	}

	if b, ok := g.bindings.Lookup(id, receiverKey(recv)); ok {
		return b.call(args)
	}
	return invoke(g.rewritten(shape, id, iface), args)
}

// guard wraps an instrumented entry point so that it consults the bindings
// when called. Entry points handed out by LoadFunc and LoadVirtualFunc are
// called long after they were materialized; the guard honors bindings made
// in between.
func (g *Generator) guard(id Identity, entry reflect.Value) reflect.Value {
	if id.Ctor {
		return reflect.MakeFunc(entry.Type(), func(args []reflect.Value) []reflect.Value {
			if b, ok := g.bindings.Lookup(id, nil); ok {
				b.construct(args[0], args[1:])
				return nil
			}
			return invoke(entry, args)
		})
	}

	return reflect.MakeFunc(entry.Type(), func(args []reflect.Value) []reflect.Value {
		var recv reflect.Value
		if !id.Static {
			recv = args[0]
		}
		if b, ok := g.bindings.Lookup(id, receiverKey(recv)); ok {
			return b.call(args)
		}
		return invoke(entry, args)
	})
}
