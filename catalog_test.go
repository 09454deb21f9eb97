package intercept

import (
	"math"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Func(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c := NewCatalog()
	id, err := c.Func(strings.ToUpper)
	require.NoError(err)

	assert.Equal("ToUpper", id.Name)
	assert.True(id.Static)
	assert.Nil(id.Owner)
	assert.Equal(reflect.TypeFor[func(string) string](), id.Sig)
	assert.Equal("ToUpper(string) string", id.String())

	assert.True(c.Declared(id))
	assert.False(c.HasBody(id))
	assert.False(c.IsIntrinsic(id))

	entry, err := c.EntryPoint(id)
	require.NoError(err)
	assert.Equal("ABC", entry.Interface().(func(string) string)("abc"))

	_, err = c.Func(strings.ToUpper)
	assert.ErrorContains(err, "already declared")

	_, err = c.Func(42)
	assert.ErrorContains(err, "not a function")
}

func TestCatalog_Named(t *testing.T) {
	c := NewCatalog()
	id, err := c.Func(func(int) int { return 0 }, Named("Anonymous"))
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", id.Name)
}

func TestCatalog_Intrinsics(t *testing.T) {
	c := NewCatalog()

	cases := []struct {
		fn   any
		want bool
	}{
		{math.Sqrt, true},
		{math.Abs, true},
		{runtime.GC, true},
		{math.Hypot, false},
		{strings.Repeat, false},
	}

	for _, tc := range cases {
		name := fullFuncName(reflect.ValueOf(tc.fn))
		t.Run(name, func(t *testing.T) {
			id, err := c.Func(tc.fn)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.IsIntrinsic(id))
		})
	}
}

func TestCatalog_Method(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c := NewCatalog()

	reset, err := c.Method((*Counter).Reset)
	require.NoError(err)
	assert.Equal(reflect.TypeFor[Counter](), reset.Owner)
	assert.Equal("Reset", reset.Name)
	assert.Equal(reflect.TypeFor[func(*Counter)](), reset.EntryType())
	assert.Equal("github.com/pboyd/intercept.Counter.Reset()", reset.String())

	// Value receivers are normalized to take a pointer.
	size, err := c.Method(Bag.Size)
	require.NoError(err)
	assert.Equal(reflect.TypeFor[func(*Bag) int](), size.EntryType())

	entry, err := c.EntryPoint(size)
	require.NoError(err)
	assert.Equal(3, entry.Interface().(func(*Bag) int)(&Bag{Items: 3}))

	_, err = c.Method(func() {})
	assert.Error(err)
	_, err = c.Method(func(int) {})
	assert.ErrorContains(err, "not a named type")
}

func TestCatalog_Interface(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c := NewCatalog()
	ids, err := c.Interface(reflect.TypeFor[Sizer]())
	require.NoError(err)
	require.Len(ids, 1)

	id := ids[0]
	assert.True(id.IsInterface())
	assert.Equal(reflect.TypeFor[func(Sizer) int](), id.EntryType())
	assert.False(c.HasBody(id))

	entry, err := c.EntryPoint(id)
	require.NoError(err)
	assert.Equal(6, entry.Interface().(func(Sizer) int)(&Box{W: 2, H: 3}))

	_, err = c.Interface(reflect.TypeFor[Box]())
	assert.Error(err)
}

func TestCatalog_Constructor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c := NewCatalog()
	id, err := c.Constructor(func(p *Point, x int) { p.X = x })
	require.NoError(err)

	assert.True(id.Ctor)
	assert.False(id.Static)
	assert.Equal(reflect.TypeFor[Point](), id.Owner)
	assert.Equal(reflect.TypeFor[func(*Point, int)](), id.EntryType())
	assert.Equal(reflect.TypeFor[func(int) *Point](), constructedSig(id))

	_, err = c.Constructor(func(p Point) {})
	assert.Error(err)
	_, err = c.Constructor(func(p *Point) error { return nil })
	assert.Error(err)
	_, err = DefineConstructor[Box](c, func(*Linker) func(*Point) { return nil })
	assert.Error(err)
}

func TestCatalog_Define(t *testing.T) {
	c := NewCatalog()

	_, err := DefineFunc(c, "NotAFunc", func(*Linker) int { return 0 })
	assert.Error(t, err)

	_, err = DefineMethod[Counter](c, "NoReceiver", func(*Linker) func() { return nil })
	assert.Error(t, err)

	_, err = DefineMethod[Sizer](c, "Size", func(*Linker) func(*Sizer) int { return nil })
	assert.Error(t, err)

	id, err := DefineFunc(c, "Nil", func(*Linker) func() { return nil })
	require.NoError(t, err)
	assert.True(t, c.HasBody(id))

	_, err = c.EntryPoint(id)
	assert.ErrorContains(t, err, "returned nil")
}

func TestCatalog_EntryPointLinkError(t *testing.T) {
	w := newWorld(t)

	_, err := w.in.Catalog().EntryPoint(w.broken)
	assert.ErrorIs(t, err, ErrNotDeclared)
	assert.ErrorContains(t, err, "link")
}

func TestIdentity(t *testing.T) {
	assert := assert.New(t)
	w := newWorld(t)

	assert.True(Identity{}.IsZero())
	assert.False(w.add.IsZero())

	assert.Nil(w.add.ReceiverType())
	assert.Equal(reflect.TypeFor[*Counter](), w.increment.ReceiverType())
	assert.Equal(reflect.TypeFor[Sizer](), w.size.ReceiverType())

	assert.Equal([]reflect.Type{reflect.TypeFor[int](), reflect.TypeFor[int]()}, w.add.Params())
	assert.Equal([]reflect.Type{reflect.TypeFor[int]()}, w.add.Results())
	assert.Empty(w.newPoint.Results())

	assert.Equal("Sum(...int) int", w.sum.String())
	assert.Equal("github.com/pboyd/intercept.Point.New(int, int)", w.newPoint.String())

	m := map[Identity]bool{w.add: true}
	assert.True(m[Identity{Name: "Add", Sig: reflect.TypeFor[func(int, int) int](), Static: true}])
}

func TestDevirtualize(t *testing.T) {
	w := newWorld(t)
	c := w.in.Catalog()

	cases := []struct {
		name string
		recv reflect.Type
		id   Identity
		want Identity
	}{
		{"own method", reflect.TypeFor[*Box](), w.size, w.boxSize},
		{"value type", reflect.TypeFor[Box](), w.size, w.boxSize},
		{"promoted method", reflect.TypeFor[*Crate](), w.size, w.boxSize},
		{"not declared", reflect.TypeFor[Bag](), w.size, w.size},
		{"nil receiver", nil, w.size, w.size},
		{"not an interface method", reflect.TypeFor[*Crate](), w.boxSize, w.boxSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Devirtualize(tc.recv, tc.id))
		})
	}
}

func TestEmbeddedReceiver(t *testing.T) {
	assert := assert.New(t)

	type deep struct {
		*Crate
	}

	crate := &Crate{Box: Box{W: 1}}
	got, ok := embeddedReceiver(reflect.ValueOf(&deep{Crate: crate}), reflect.TypeFor[Box]())
	if assert.True(ok) {
		assert.Same(&crate.Box, got.Interface())
	}

	_, ok = embeddedReceiver(reflect.ValueOf(&deep{}), reflect.TypeFor[Box]())
	assert.False(ok, "nil embedded pointer")

	_, ok = embeddedReceiver(reflect.ValueOf(&Bag{}), reflect.TypeFor[Box]())
	assert.False(ok)
}
