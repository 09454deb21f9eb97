package intercept

import (
	"reflect"
	"runtime"
)

// Deepest level of embedded fields searched for a promoted method.
const maxEmbedDepth = 8

// Devirtualize returns the declared method that implements the interface
// method id for a receiver of dynamic type recv.
//
// The receiver's own methods are searched first, then methods promoted from
// embedded fields. id is returned unchanged when it isn't an interface
// method, when recv is nil, or when the implementation isn't declared.
func (c *Catalog) Devirtualize(recv reflect.Type, id Identity) Identity {
	if recv == nil || !id.IsInterface() {
		return id
	}
	if recv.Kind() == reflect.Pointer {
		recv = recv.Elem()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if impl, ok := c.implementation(recv, id, 0); ok {
		return impl
	}
	return id
}

func (c *Catalog) implementation(t reflect.Type, id Identity, depth int) (Identity, bool) {
	if impl, ok := c.methods[methodKey{owner: t, name: id.Name}]; ok && impl.Sig == id.Sig {
		return impl, true
	}
	if depth >= maxEmbedDepth || t.Kind() != reflect.Struct || declaresMethod(t, id.Name) {
		return Identity{}, false
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
		if _, ok := reflect.PointerTo(ft).MethodByName(id.Name); !ok {
			continue
		}
		return c.implementation(ft, id, depth+1)
	}
	return Identity{}, false
}

// declaresMethod reports whether t declares name itself rather than having
// it promoted from an embedded field. Promoted methods, like pointer
// wrappers of value methods, are compiler generated.
func declaresMethod(t reflect.Type, name string) bool {
	if m, ok := t.MethodByName(name); ok && !generated(m.Func) {
		return true
	}
	if m, ok := reflect.PointerTo(t).MethodByName(name); ok && !generated(m.Func) {
		return true
	}
	return false
}

func generated(fn reflect.Value) bool {
	pc := fn.Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return true
	}
	file, _ := f.FileLine(pc)
	return file == "<autogenerated>"
}

// embeddedReceiver returns a pointer to the field of the struct ptr points
// to that has type owner or *owner, searching embedded fields breadth first.
func embeddedReceiver(ptr reflect.Value, owner reflect.Type) (reflect.Value, bool) {
	level := []reflect.Value{ptr}
	for depth := 0; depth < maxEmbedDepth && len(level) > 0; depth++ {
		var next []reflect.Value
		for _, p := range level {
			if p.IsNil() || p.Elem().Kind() != reflect.Struct {
				continue
			}
			v := p.Elem()
			for i := 0; i < v.NumField(); i++ {
				if !v.Type().Field(i).Anonymous {
					continue
				}
				f := v.Field(i)
				switch {
				case f.Type() == owner:
					return f.Addr(), true
				case f.Kind() == reflect.Pointer && f.Type().Elem() == owner:
					return f, !f.IsNil()
				case f.Kind() == reflect.Pointer:
					next = append(next, f)
				case f.CanAddr():
					next = append(next, f.Addr())
				}
			}
		}
		level = next
	}
	return reflect.Value{}, false
}
