package intercept

import (
	"fmt"
	"reflect"
)

// Each builder returns a function with the type the call site expects.
// Builders run with the generator locked and must not call back into it;
// everything below resolves lazily, on the first call.

func (g *Generator) directCall(id Identity) reflect.Value {
	if g.fastPath(id) {
		return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
			return invoke(g.original(DirectCall, id), args)
		})
	}

	return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
		return g.dispatch(DirectCall, id, false, args)
	})
}

// newObject returns a func(params...) *T that allocates a T and runs the
// constructor on it.
func (g *Generator) newObject(id Identity) reflect.Value {
	typ := constructedSig(id)

	if g.fastPath(id) {
		return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
			obj := reflect.New(id.Owner)
			invoke(g.original(NewObject, id), prepend(obj, args))
			return []reflect.Value{obj}
		})
	}

	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		if b, ok := g.bindings.Lookup(id, nil); ok {
			if !b.InPlace() {
				return b.call(args)
			}
			obj := reflect.New(id.Owner)
			b.construct(obj, args)
			return []reflect.Value{obj}
		}

		obj := reflect.New(id.Owner)
		invoke(g.rewritten(NewObject, id, false), prepend(obj, args))
		return []reflect.Value{obj}
	})
}

// initObject returns a func(*T, params...) that initializes storage the
// caller already has.
func (g *Generator) initObject(id Identity) reflect.Value {
	if g.fastPath(id) {
		return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
			return invoke(g.original(InitObject, id), args)
		})
	}

	return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
		if b, ok := g.bindings.Lookup(id, nil); ok {
			b.construct(args[0], args[1:])
			return nil
		}
		return invoke(g.rewritten(InitObject, id, false), args)
	})
}

// constrainedCall returns a func(*C, params...) results. The constraint is
// known when the trampoline is built, so the target is resolved once.
func (g *Generator) constrainedCall(id Identity, constraint reflect.Type) reflect.Value {
	ptr := reflect.PointerTo(constraint)
	typ := withReceiver(ptr, id.Sig)
	resolved := g.meta.Devirtualize(ptr, id)
	iface := id.IsInterface()

	if g.fastPath(resolved) {
		return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
			call := withArg0(args, adaptReceiver(args[0], resolved))
			return invoke(g.original(ConstrainedCall, resolved), call)
		})
	}

	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		call := withArg0(args, adaptReceiver(args[0], resolved))
		return g.dispatch(ConstrainedCall, resolved, iface, call)
	})
}

// virtualCall returns a trampoline that resolves the target from the
// receiver's dynamic type on every call.
func (g *Generator) virtualCall(id Identity) reflect.Value {
	if g.fastPath(id) {
		return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
			return invoke(g.original(VirtualCall, id), args)
		})
	}

	iface := id.IsInterface()
	return reflect.MakeFunc(id.EntryType(), func(args []reflect.Value) []reflect.Value {
		resolved := g.meta.Devirtualize(dynamicType(args[0]), id)
		call := withArg0(args, adaptReceiver(args[0], resolved))

		if resolved != id && g.fastPath(resolved) {
			return invoke(g.original(VirtualCall, resolved), call)
		}
		return g.dispatch(VirtualCall, resolved, iface, call)
	})
}

// loadFunc returns a func() F that materializes a function value for id.
func (g *Generator) loadFunc(id Identity) reflect.Value {
	typ := reflect.FuncOf(nil, []reflect.Type{id.EntryType()}, false)

	if g.fastPath(id) {
		return reflect.MakeFunc(typ, func([]reflect.Value) []reflect.Value {
			return []reflect.Value{g.original(LoadFunc, id)}
		})
	}

	return reflect.MakeFunc(typ, func([]reflect.Value) []reflect.Value {
		return []reflect.Value{g.rewritten(LoadFunc, id, false)}
	})
}

// loadVirtualFunc returns a func(recv) F that materializes a method value:
// the implementation for recv's dynamic type, bound to recv.
func (g *Generator) loadVirtualFunc(id Identity) reflect.Value {
	typ := reflect.FuncOf([]reflect.Type{id.ReceiverType()}, []reflect.Type{id.Sig}, false)
	iface := id.IsInterface()

	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		resolved := id
		if !g.fastPath(id) {
			resolved = g.meta.Devirtualize(dynamicType(args[0]), id)
		}
		recv := adaptReceiver(args[0], resolved)

		var entry reflect.Value
		if g.fastPath(resolved) {
			entry = g.original(LoadVirtualFunc, resolved)
		} else {
			entry = g.rewritten(LoadVirtualFunc, resolved, iface)
		}

		method := reflect.MakeFunc(id.Sig, func(in []reflect.Value) []reflect.Value {
			return invoke(entry, prepend(recv, in))
		})
		return []reflect.Value{method}
	})
}

// dynamicType returns the type of the value in recv, or nil for a nil
// interface.
func dynamicType(recv reflect.Value) reflect.Type {
	if recv.Kind() == reflect.Interface {
		if recv.IsNil() {
			return nil
		}
		return recv.Elem().Type()
	}
	return recv.Type()
}

// adaptReceiver converts recv to the receiver slot of to's entry point.
// Interface entries accept any implementation as is. Concrete entries take a
// pointer, which may be a promoted field of the receiver.
func adaptReceiver(recv reflect.Value, to Identity) reflect.Value {
	want := to.ReceiverType()
	if recv.Type() == want || to.IsInterface() {
		return recv
	}

	if recv.Kind() == reflect.Interface {
		if recv.IsNil() {
			panic(&Error{Op: "invoke", Func: to, Err: fmt.Errorf("nil %v receiver", recv.Type())})
		}
		recv = recv.Elem()
	}
	if recv.Kind() != reflect.Pointer {
		// A value stored in an interface isn't addressable.
		p := reflect.New(recv.Type())
		p.Elem().Set(recv)
		recv = p
	}
	if recv.Type() == want {
		return recv
	}

	if field, ok := embeddedReceiver(recv, to.Owner); ok {
		return field
	}
	panic(&Error{Op: "invoke", Func: to, Err: fmt.Errorf("receiver %v has no %v", recv.Type(), want)})
}

// withArg0 returns a copy of args with the receiver replaced.
func withArg0(args []reflect.Value, recv reflect.Value) []reflect.Value {
	out := make([]reflect.Value, len(args))
	copy(out, args)
	out[0] = recv
	return out
}
