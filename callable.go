package intercept

import "reflect"

// boundFunc is a callable that takes a receiver ahead of the declared
// arguments.
type boundFunc struct {
	fn reflect.Value
}

func (f boundFunc) valid() bool {
	return f.fn.IsValid()
}

func (f boundFunc) call(recv reflect.Value, args []reflect.Value) []reflect.Value {
	return invoke(f.fn, prepend(recv, args))
}

// unboundFunc is a callable that takes only the declared arguments.
type unboundFunc struct {
	fn reflect.Value
}

func (f unboundFunc) valid() bool {
	return f.fn.IsValid()
}

func (f unboundFunc) call(args []reflect.Value) []reflect.Value {
	return invoke(f.fn, args)
}

// invoke calls fn with args as they arrive from reflect.MakeFunc, where a
// variadic parameter is already collected into a slice.
func invoke(fn reflect.Value, args []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(args)
	}
	return fn.Call(args)
}

func prepend(v reflect.Value, args []reflect.Value) []reflect.Value {
	out := make([]reflect.Value, 0, len(args)+1)
	out = append(out, v)
	return append(out, args...)
}

// receiverKey returns the value used to match instance-scoped bindings: the
// pointer held by recv, or nil when recv isn't a pointer.
func receiverKey(recv reflect.Value) any {
	if !recv.IsValid() {
		return nil
	}
	if recv.Kind() == reflect.Interface {
		if recv.IsNil() {
			return nil
		}
		recv = recv.Elem()
	}
	if recv.Kind() != reflect.Pointer || recv.IsNil() {
		return nil
	}
	return recv.Interface()
}
