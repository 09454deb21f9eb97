package intercept

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type Counter struct {
	N int
}

//go:noinline
func (c *Counter) Reset() {
	c.N = 0
}

type Foo struct {
	Name string
}

type Point struct {
	X, Y int
}

type Sizer interface {
	Size() int
}

type Box struct {
	W, H int
}

func (b *Box) Size() int {
	return b.W * b.H
}

// Crate gets Size from Box.
type Crate struct {
	Box
	Label string
}

// Bag isn't in the test catalog.
type Bag struct {
	Items int
}

func (b Bag) Size() int {
	return b.Items
}

func greetFixture() string {
	return "hi"
}

//go:noinline
func clamp(v int) int {
	return min(max(v, 0), 100)
}

// world is a catalog of small functions that call each other through
// trampolines.
type world struct {
	in *Interceptor

	add      Identity // Add(a, b int) int
	multiply Identity // Multiply(a, b int) int
	sum      Identity // Sum(vals ...int) int, calls Add

	increment      Identity // (*Counter).Increment()
	incrementTwice Identity // (*Counter).IncrementTwice(), calls Increment

	bar      Identity // (*Foo).Bar() string
	describe Identity // (*Foo).Describe() string, calls Bar through a loaded func

	newPoint Identity // Point constructor
	origin   Identity // Origin() *Point, allocates a Point

	size    Identity // Sizer.Size
	boxSize Identity // (*Box).Size
	total   Identity // Total(items ...Sizer) int, calls Sizer.Size

	clamp  Identity // clamp, declared as an intrinsic
	broken Identity // Broken() calls an undeclared function
}

func newWorld(t *testing.T, opts ...Option) *world {
	t.Helper()
	require := require.New(t)

	w := &world{in: New(opts...)}
	c := w.in.Catalog()
	var err error

	w.add, err = DefineFunc(c, "Add", func(*Linker) func(int, int) int {
		return func(a, b int) int { return a + b }
	})
	require.NoError(err)

	w.multiply, err = DefineFunc(c, "Multiply", func(*Linker) func(int, int) int {
		return func(a, b int) int { return a * b }
	})
	require.NoError(err)

	w.sum, err = DefineFunc(c, "Sum", func(l *Linker) func(...int) int {
		add := Site[func(int, int) int](l, w.add, DirectCall)
		return func(vals ...int) int {
			total := 0
			for _, v := range vals {
				total = add(total, v)
			}
			return total
		}
	})
	require.NoError(err)

	w.increment, err = DefineMethod[Counter](c, "Increment", func(*Linker) func(*Counter) {
		return func(c *Counter) { c.N++ }
	})
	require.NoError(err)

	w.incrementTwice, err = DefineMethod[Counter](c, "IncrementTwice", func(l *Linker) func(*Counter) {
		increment := Site[func(*Counter)](l, w.increment, DirectCall)
		return func(c *Counter) {
			increment(c)
			increment(c)
		}
	})
	require.NoError(err)

	w.bar, err = DefineMethod[Foo](c, "Bar", func(*Linker) func(*Foo) string {
		return func(f *Foo) string { return "bar " + f.Name }
	})
	require.NoError(err)

	w.describe, err = DefineMethod[Foo](c, "Describe", func(l *Linker) func(*Foo) string {
		load := Site[func() func(*Foo) string](l, w.bar, LoadFunc)
		return func(f *Foo) string {
			bar := load()
			return "foo says " + bar(f)
		}
	})
	require.NoError(err)

	w.newPoint, err = DefineConstructor[Point](c, func(*Linker) func(*Point, int, int) {
		return func(p *Point, x, y int) {
			p.X, p.Y = x, y
		}
	})
	require.NoError(err)

	w.origin, err = DefineFunc(c, "Origin", func(l *Linker) func() *Point {
		newPoint := Site[func(int, int) *Point](l, w.newPoint, NewObject)
		return func() *Point { return newPoint(0, 0) }
	})
	require.NoError(err)

	ids, err := c.Interface(reflect.TypeFor[Sizer]())
	require.NoError(err)
	require.Len(ids, 1)
	w.size = ids[0]

	w.boxSize, err = DefineMethod[Box](c, "Size", func(*Linker) func(*Box) int {
		return func(b *Box) int { return b.W * b.H }
	})
	require.NoError(err)

	w.total, err = DefineFunc(c, "Total", func(l *Linker) func(...Sizer) int {
		size := Site[func(Sizer) int](l, w.size, VirtualCall)
		return func(items ...Sizer) int {
			total := 0
			for _, item := range items {
				total += size(item)
			}
			return total
		}
	})
	require.NoError(err)

	w.clamp, err = c.Func(clamp, Intrinsic())
	require.NoError(err)

	missing := Identity{Name: "Missing", Sig: reflect.TypeFor[func()](), Static: true}
	w.broken, err = DefineFunc(c, "Broken", func(l *Linker) func() {
		return Site[func()](l, missing, DirectCall)
	})
	require.NoError(err)

	return w
}

// trampoline returns the trampoline for id and shape or fails the test.
func trampoline[F any](t *testing.T, w *world, id Identity, shape Shape) F {
	t.Helper()
	fn, err := Trampoline[F](w.in, id, shape)
	require.NoError(t, err)
	return fn
}

// recoverError runs fn and returns the error it panicked with.
func recoverError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}
