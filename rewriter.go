package intercept

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// bodyRewriter builds instrumented entry points by linking a function's body
// template against a Generator: every call the body makes goes through a
// trampoline.
type bodyRewriter struct {
	catalog *Catalog
	gen     *Generator
	log     *zap.Logger

	group singleflight.Group
	done  sync.Map // Identity -> rewrite

	// Distinct identities can print the same, so each gets its own
	// flight key.
	keys    sync.Map // Identity -> string
	keySeed atomic.Uint64
}

type rewrite struct {
	fn  reflect.Value
	err error
}

func newRewriter(c *Catalog, log *zap.Logger) *bodyRewriter {
	return &bodyRewriter{
		catalog: c,
		log:     log,
	}
}

// Produce returns the instrumented entry point of id. Each function is
// rewritten at most once, and a failure is remembered so it isn't retried.
// Whether the first request came through an interface decides iface for
// every later one.
func (r *bodyRewriter) Produce(id Identity, iface bool) (reflect.Value, error) {
	if rw, ok := r.done.Load(id); ok {
		return rw.(rewrite).fn, rw.(rewrite).err
	}

	v, _, _ := r.group.Do(r.flightKey(id), func() (any, error) {
		if rw, ok := r.done.Load(id); ok {
			return rw, nil
		}

		fn, err := r.rewrite(id, iface)
		rw := rewrite{fn: fn, err: err}
		r.done.Store(id, rw)
		return rw, nil
	})

	rw := v.(rewrite)
	return rw.fn, rw.err
}

func (r *bodyRewriter) flightKey(id Identity) string {
	if k, ok := r.keys.Load(id); ok {
		return k.(string)
	}
	k, _ := r.keys.LoadOrStore(id, strconv.FormatUint(r.keySeed.Add(1), 10))
	return k.(string)
}

func (r *bodyRewriter) rewrite(id Identity, iface bool) (reflect.Value, error) {
	d, err := r.catalog.lookup(id)
	if err != nil {
		return reflect.Value{}, err
	}

	unsupported := func(err error) error {
		r.log.Warn("rewrite failed", zap.Stringer("func", id), zap.Error(err))
		return &Error{Op: "rewrite", Func: id, Err: fmt.Errorf("%w: %w", ErrRewriteUnsupported, err)}
	}

	switch {
	case d.intrinsic:
		return reflect.Value{}, unsupported(errors.New("intrinsic"))
	case id.IsInterface():
		// Nothing to rewrite, but calls still check the bindings.
		entry, err := r.catalog.EntryPoint(id)
		if err != nil {
			return reflect.Value{}, err
		}
		return r.gen.guard(id, entry), nil
	case d.body == nil:
		return reflect.Value{}, unsupported(errors.New("no body template"))
	}

	entry, err := buildBody(d, r.gen, iface)
	if err != nil {
		return reflect.Value{}, unsupported(err)
	}
	if entry.Type() != id.EntryType() {
		return reflect.Value{}, unsupported(fmt.Errorf("body has type %v, want %v", entry.Type(), id.EntryType()))
	}

	r.log.Debug("rewrote",
		zap.Stringer("func", id),
		zap.Bool("interface_dispatch", iface))
	return r.gen.guard(id, entry), nil
}
