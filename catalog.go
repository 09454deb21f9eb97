package intercept

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Catalog describes the functions an Interceptor knows about: their
// identities, entry points and, for functions declared with a body template,
// the template used to build rewritten copies.
//
// Functions declared by value (Func, Method, Constructor) have no retrievable
// body. Calls to them are forwarded without interception unless the entry
// itself is replaced with Session.ReplaceEntry.
type Catalog struct {
	mu      sync.RWMutex
	decls   map[Identity]*decl
	methods map[methodKey]Identity

	// raw links body templates to uninstrumented targets to build the
	// original entry points.
	raw *Generator
}

type methodKey struct {
	owner reflect.Type
	name  string
}

type decl struct {
	id Identity

	// fn is the function as declared, before the receiver is normalized.
	// It's invalid for functions defined by a body template.
	fn reflect.Value

	body      func(*Linker) reflect.Value
	intrinsic bool

	once     sync.Once
	entry    reflect.Value
	entryErr error
}

// DeclOption configures a declaration.
type DeclOption func(*decl)

// Named overrides the name reported by the runtime.
func Named(name string) DeclOption {
	return func(d *decl) {
		d.id.Name = name
	}
}

// Intrinsic marks a function as a compiler or runtime intrinsic. Intrinsics
// are never rewritten.
func Intrinsic() DeclOption {
	return func(d *decl) {
		d.intrinsic = true
	}
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	c := &Catalog{
		decls:   map[Identity]*decl{},
		methods: map[methodKey]Identity{},
	}
	c.raw = NewGenerator(c, noBindings{}, originals{c}, nil)
	return c
}

// Func declares a package-level function.
func (c *Catalog) Func(fn any, opts ...DeclOption) (Identity, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return Identity{}, fmt.Errorf("not a function: %T", fn)
	}

	d := &decl{
		id: Identity{
			Name:   funcName(fv),
			Sig:    fv.Type(),
			Static: true,
		},
		fn:        fv,
		entry:     fv,
		intrinsic: isIntrinsicName(fullFuncName(fv)),
	}
	return c.add(d, opts)
}

// Method declares a method from its method expression, such as
// (*T).Method, T.Method or Iface.Method.
func (c *Catalog) Method(fn any, opts ...DeclOption) (Identity, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return Identity{}, fmt.Errorf("not a function: %T", fn)
	}
	ft := fv.Type()
	if ft.NumIn() == 0 {
		return Identity{}, errors.New("method expression has no receiver")
	}

	recv := ft.In(0)
	owner := recv
	if recv.Kind() == reflect.Pointer {
		owner = recv.Elem()
	}
	if owner.Name() == "" || owner.PkgPath() == "" {
		return Identity{}, fmt.Errorf("receiver %v is not a named type", recv)
	}

	d := &decl{
		id: Identity{
			Owner: owner,
			Name:  funcName(fv),
			Sig:   withoutReceiver(ft),
		},
		fn:        fv,
		entry:     fv,
		intrinsic: isIntrinsicName(fullFuncName(fv)),
	}

	if recv.Kind() != reflect.Pointer && recv.Kind() != reflect.Interface {
		// Value receiver: the entry takes *T like every other method entry.
		d.entry = reflect.MakeFunc(d.id.EntryType(), func(args []reflect.Value) []reflect.Value {
			return invoke(fv, prepend(args[0].Elem(), args[1:]))
		})
	}

	return c.add(d, opts)
}

// Interface declares every method of the interface type iface. Interface
// methods have no body; calls are resolved against the receiver's dynamic
// type.
func (c *Catalog) Interface(iface reflect.Type) ([]Identity, error) {
	if iface.Kind() != reflect.Interface || iface.Name() == "" {
		return nil, fmt.Errorf("%v is not a named interface", iface)
	}

	ids := make([]Identity, 0, iface.NumMethod())
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		d := &decl{
			id: Identity{
				Owner: iface,
				Name:  m.Name,
				Sig:   m.Type,
			},
		}
		d.entry = reflect.MakeFunc(d.id.EntryType(), func(args []reflect.Value) []reflect.Value {
			return invoke(args[0].Method(i), args[1:])
		})

		id, err := c.add(d, nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Constructor declares init, a func(*T, params...) that initializes a T, as
// the constructor of T.
func (c *Catalog) Constructor(init any, opts ...DeclOption) (Identity, error) {
	fv := reflect.ValueOf(init)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return Identity{}, fmt.Errorf("not a function: %T", init)
	}
	id, err := constructorIdentity(fv.Type())
	if err != nil {
		return Identity{}, err
	}

	d := &decl{
		id:        id,
		fn:        fv,
		entry:     fv,
		intrinsic: isIntrinsicName(fullFuncName(fv)),
	}
	return c.add(d, opts)
}

func constructorIdentity(ft reflect.Type) (Identity, error) {
	if ft.NumIn() == 0 || ft.In(0).Kind() != reflect.Pointer || ft.In(0).Elem().Name() == "" {
		return Identity{}, fmt.Errorf("constructor must take a pointer to a named type first, got %v", ft)
	}
	if ft.NumOut() != 0 {
		return Identity{}, fmt.Errorf("constructor must not return values, got %v", ft)
	}
	return Identity{
		Owner: ft.In(0).Elem(),
		Name:  "New",
		Sig:   withoutReceiver(ft),
		Ctor:  true,
	}, nil
}

// DefineFunc declares a package-level function whose body is built by body.
//
// Calls the body makes to other declared functions must go through values
// obtained from the Linker; those are the call sites a rewrite redirects.
func DefineFunc[F any](c *Catalog, name string, body func(*Linker) F, opts ...DeclOption) (Identity, error) {
	ft := reflect.TypeFor[F]()
	if ft.Kind() != reflect.Func {
		return Identity{}, fmt.Errorf("%v is not a function type", ft)
	}

	d := &decl{
		id: Identity{
			Name:   name,
			Sig:    ft,
			Static: true,
		},
		body: eraseBody(body),
	}
	return c.add(d, opts)
}

// DefineMethod declares a method of T whose body is built by body. F must be
// func(*T, params...) results.
func DefineMethod[T, F any](c *Catalog, name string, body func(*Linker) F, opts ...DeclOption) (Identity, error) {
	owner := reflect.TypeFor[T]()
	ft := reflect.TypeFor[F]()
	if owner.Name() == "" || owner.Kind() == reflect.Interface {
		return Identity{}, fmt.Errorf("%v is not a named concrete type", owner)
	}
	if ft.Kind() != reflect.Func || ft.NumIn() == 0 || ft.In(0) != reflect.PointerTo(owner) {
		return Identity{}, fmt.Errorf("method body must be func(*%v, ...), got %v", owner, ft)
	}

	d := &decl{
		id: Identity{
			Owner: owner,
			Name:  name,
			Sig:   withoutReceiver(ft),
		},
		body: eraseBody(body),
	}
	return c.add(d, opts)
}

// DefineConstructor declares the constructor of T with a body built by body.
// F must be func(*T, params...).
func DefineConstructor[T, F any](c *Catalog, body func(*Linker) F, opts ...DeclOption) (Identity, error) {
	ft := reflect.TypeFor[F]()
	if ft.Kind() != reflect.Func {
		return Identity{}, fmt.Errorf("%v is not a function type", ft)
	}
	id, err := constructorIdentity(ft)
	if err != nil {
		return Identity{}, err
	}
	if id.Owner != reflect.TypeFor[T]() {
		return Identity{}, fmt.Errorf("constructor initializes %v, want %v", id.Owner, reflect.TypeFor[T]())
	}

	d := &decl{
		id:   id,
		body: eraseBody(body),
	}
	return c.add(d, opts)
}

func eraseBody[F any](body func(*Linker) F) func(*Linker) reflect.Value {
	return func(l *Linker) reflect.Value {
		return reflect.ValueOf(body(l))
	}
}

func (c *Catalog) add(d *decl, opts []DeclOption) (Identity, error) {
	for _, opt := range opts {
		opt(d)
	}
	if d.id.Name == "" {
		return Identity{}, errors.New("function has no name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.decls[d.id]; ok {
		return Identity{}, fmt.Errorf("%s is already declared", d.id)
	}
	c.decls[d.id] = d
	if !d.id.Static && !d.id.Ctor {
		c.methods[methodKey{owner: d.id.Owner, name: d.id.Name}] = d.id
	}
	return d.id, nil
}

func (c *Catalog) lookup(id Identity) (*decl, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.decls[id]
	if !ok {
		return nil, &Error{Op: "lookup", Func: id, Err: ErrNotDeclared}
	}
	return d, nil
}

// Declared reports whether id is in the catalog.
func (c *Catalog) Declared(id Identity) bool {
	_, err := c.lookup(id)
	return err == nil
}

// HasBody reports whether id was declared with a body template that can be
// rewritten.
func (c *Catalog) HasBody(id Identity) bool {
	d, err := c.lookup(id)
	return err == nil && d.body != nil
}

// IsIntrinsic reports whether id is a compiler or runtime intrinsic.
func (c *Catalog) IsIntrinsic(id Identity) bool {
	d, err := c.lookup(id)
	return err == nil && d.intrinsic
}

// EntryPoint returns the original, uninstrumented entry point of id. Its
// type is id.EntryType().
//
// Entry points of functions with a body template are built on first use;
// calls they make are not intercepted.
func (c *Catalog) EntryPoint(id Identity) (reflect.Value, error) {
	d, err := c.lookup(id)
	if err != nil {
		return reflect.Value{}, err
	}
	if d.body == nil {
		return d.entry, nil
	}

	d.once.Do(func() {
		d.entry, d.entryErr = buildBody(d, c.raw, false)
		if d.entryErr != nil {
			d.entryErr = &Error{Op: "link", Func: id, Err: d.entryErr}
		}
	})
	return d.entry, d.entryErr
}

// function returns the compiled function id was declared with.
func (c *Catalog) function(id Identity) (reflect.Value, error) {
	d, err := c.lookup(id)
	if err != nil {
		return reflect.Value{}, err
	}
	if !d.fn.IsValid() {
		return reflect.Value{}, &Error{Op: "lookup", Func: id, Err: errors.New("not declared from a compiled function")}
	}
	return d.fn, nil
}

// buildBody runs d's body template against gen.
func buildBody(d *decl, gen *Generator, iface bool) (entry reflect.Value, err error) {
	l := &Linker{
		gen:   gen,
		self:  d.id,
		iface: iface,
	}

	defer func() {
		if r := recover(); r != nil {
			entry = reflect.Value{}
			err = fmt.Errorf("body template panicked: %v", r)
		}
	}()

	fn := d.body(l)
	if err := l.Err(); err != nil {
		return reflect.Value{}, err
	}
	if !fn.IsValid() || fn.IsNil() {
		return reflect.Value{}, errors.New("body template returned nil")
	}
	return fn, nil
}

// originals is a Rewriter that hands out uninstrumented entry points.
type originals struct {
	c *Catalog
}

func (o originals) Produce(id Identity, _ bool) (reflect.Value, error) {
	return o.c.EntryPoint(id)
}
