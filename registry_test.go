package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRegistry_Lookup(t *testing.T) {
	w := newWorld(t)
	a, b := &Counter{}, &Counter{}

	mustBind := func(replacement any, opts ...BindOption) *Binding {
		bd, err := Bind(w.increment, replacement, opts...)
		require.NoError(t, err)
		return bd
	}

	first := mustBind(func(*Counter) {})
	second := mustBind(func(*Counter) {})
	scopedA := mustBind(func(*Counter) {}, ForInstance(a))

	t.Run("empty", func(t *testing.T) {
		r := NewRegistry()
		_, ok := r.Lookup(w.increment, a)
		assert.False(t, ok)
	})

	t.Run("first registered wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(first)
		r.Register(second)

		got, ok := r.Lookup(w.increment, nil)
		assert.True(t, ok)
		assert.Same(t, first, got)
	})

	t.Run("instance beats unscoped", func(t *testing.T) {
		r := NewRegistry()
		r.Register(first)
		r.Register(scopedA)

		got, ok := r.Lookup(w.increment, a)
		assert.True(t, ok)
		assert.Same(t, scopedA, got)

		got, ok = r.Lookup(w.increment, b)
		assert.True(t, ok)
		assert.Same(t, first, got)
	})

	t.Run("scoped only", func(t *testing.T) {
		r := NewRegistry()
		r.Register(scopedA)

		_, ok := r.Lookup(w.increment, b)
		assert.False(t, ok)
		_, ok = r.Lookup(w.increment, nil)
		assert.False(t, ok)
	})

	t.Run("other function", func(t *testing.T) {
		r := NewRegistry()
		r.Register(first)

		_, ok := r.Lookup(w.incrementTwice, a)
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		r := NewRegistry()
		r.Register(first)
		r.Register(scopedA)
		assert.Equal(t, 2, r.Len())

		r.Clear()
		assert.Equal(t, 0, r.Len())
		_, ok := r.Lookup(w.increment, a)
		assert.False(t, ok)
	})
}

func TestRegistry_Concurrent(t *testing.T) {
	w := newWorld(t)
	s := w.in.BeginTest(t)

	add := trampoline[func(int, int) int](t, w, w.add, DirectCall)

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			for j := range 100 {
				v := add(i, j)
				if v != i+j && v != i*j {
					t.Errorf("add(%d, %d) = %d", i, j, v)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		return s.ReplaceFunc(w.add, func(a, b int) int { return a * b })
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, 12, add(3, 4))
}
