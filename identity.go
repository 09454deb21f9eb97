package intercept

import (
	"reflect"
	"runtime"
	"strings"
)

// Identity identifies one function independently of any call site.
//
// Owner is the declaring type: nil for package-level functions, the named
// (non-pointer) type for methods and constructors, or the interface type for
// interface methods. Sig is the declared signature without a receiver.
// Constructors have no results.
//
// Two identities are equal when all of their fields are equal, so an
// Identity can be used as a map key.
type Identity struct {
	Owner  reflect.Type
	Name   string
	Sig    reflect.Type
	Static bool
	Ctor   bool
}

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool {
	return id.Sig == nil
}

// IsInterface reports whether id is an interface method.
func (id Identity) IsInterface() bool {
	return id.Owner != nil && id.Owner.Kind() == reflect.Interface
}

// ReceiverType returns the type of the receiver slot of id's entry point, or
// nil for static functions.
//
// Concrete receivers are always passed by reference so that value receivers
// are never copied at the interception boundary.
func (id Identity) ReceiverType() reflect.Type {
	switch {
	case id.Static:
		return nil
	case id.IsInterface():
		return id.Owner
	default:
		return reflect.PointerTo(id.Owner)
	}
}

// Params returns the declared parameter types, receiver excluded.
func (id Identity) Params() []reflect.Type {
	if id.Sig == nil {
		return nil
	}
	in := make([]reflect.Type, id.Sig.NumIn())
	for i := range in {
		in[i] = id.Sig.In(i)
	}
	return in
}

// Results returns the declared result types. Constructors return none.
func (id Identity) Results() []reflect.Type {
	if id.Sig == nil {
		return nil
	}
	out := make([]reflect.Type, id.Sig.NumOut())
	for i := range out {
		out[i] = id.Sig.Out(i)
	}
	return out
}

// EntryType returns the type of id's entry point: the declared signature with
// the receiver slot prepended for methods and constructors.
func (id Identity) EntryType() reflect.Type {
	if id.Static {
		return id.Sig
	}
	return withReceiver(id.ReceiverType(), id.Sig)
}

func (id Identity) String() string {
	var sb strings.Builder
	if id.Owner != nil {
		sb.WriteString(typeName(id.Owner))
		sb.WriteByte('.')
	}
	sb.WriteString(id.Name)
	if id.Sig == nil {
		return sb.String()
	}

	sb.WriteByte('(')
	for i := 0; i < id.Sig.NumIn(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if id.Sig.IsVariadic() && i == id.Sig.NumIn()-1 {
			sb.WriteString("...")
			sb.WriteString(typeName(id.Sig.In(i).Elem()))
			continue
		}
		sb.WriteString(typeName(id.Sig.In(i)))
	}
	sb.WriteByte(')')

	switch id.Sig.NumOut() {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(typeName(id.Sig.Out(0)))
	default:
		sb.WriteString(" (")
		for i := 0; i < id.Sig.NumOut(); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(typeName(id.Sig.Out(i)))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// typeName qualifies named types with their full package path.
func typeName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// withReceiver returns sig with recv inserted as the first parameter.
func withReceiver(recv, sig reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, sig.NumIn()+1)
	in = append(in, recv)
	for i := 0; i < sig.NumIn(); i++ {
		in = append(in, sig.In(i))
	}
	out := make([]reflect.Type, sig.NumOut())
	for i := range out {
		out[i] = sig.Out(i)
	}
	return reflect.FuncOf(in, out, sig.IsVariadic())
}

// withoutReceiver returns fn with its first parameter removed.
func withoutReceiver(fn reflect.Type) reflect.Type {
	in := make([]reflect.Type, 0, fn.NumIn())
	for i := 1; i < fn.NumIn(); i++ {
		in = append(in, fn.In(i))
	}
	out := make([]reflect.Type, fn.NumOut())
	for i := range out {
		out[i] = fn.Out(i)
	}
	return reflect.FuncOf(in, out, fn.IsVariadic())
}

// funcName returns the short name of the compiled function behind fn.
//
// The runtime reports names such as "pkg.(*T).Method-fm" or
// "pkg.Generic[...]"; only the last element is kept.
func funcName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return ""
	}
	name := strings.ReplaceAll(f.Name(), "[...]", "")
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// fullFuncName returns the runtime's name for the compiled function behind
// fn, e.g. "math.Sqrt".
func fullFuncName(fn reflect.Value) string {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return ""
	}
	return f.Name()
}
