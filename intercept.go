package intercept

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// Interceptor ties together a Catalog of declared functions, a Registry of
// bindings and the Generator that builds trampolines against both.
//
// Everything is scoped to the Interceptor; there is no global registry.
type Interceptor struct {
	catalog  *Catalog
	registry *Registry
	gen      *Generator
	rewriter *bodyRewriter
	log      *zap.Logger

	mu      sync.Mutex
	session *Session
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger. The default is the package Logger.
func WithLogger(log *zap.Logger) Option {
	return func(in *Interceptor) {
		in.log = log
	}
}

// WithCatalog uses c instead of a new, empty Catalog. A Catalog may be
// shared by several Interceptors.
func WithCatalog(c *Catalog) Option {
	return func(in *Interceptor) {
		in.catalog = c
	}
}

// New returns an Interceptor.
func New(opts ...Option) *Interceptor {
	in := &Interceptor{}
	for _, opt := range opts {
		opt(in)
	}
	if in.log == nil {
		in.log = Logger()
	}
	if in.catalog == nil {
		in.catalog = NewCatalog()
	}

	in.registry = NewRegistry()
	in.rewriter = newRewriter(in.catalog, in.log)
	in.gen = NewGenerator(in.catalog, in.registry, in.rewriter, in.log)
	in.rewriter.gen = in.gen
	return in
}

// Catalog returns the Interceptor's Catalog.
func (in *Interceptor) Catalog() *Catalog {
	return in.catalog
}

// Registry returns the Interceptor's Registry.
func (in *Interceptor) Registry() *Registry {
	return in.registry
}

// Trampoline returns the trampoline for calls of shape to id.
func (in *Interceptor) Trampoline(id Identity, shape Shape) (reflect.Value, error) {
	return in.gen.Trampoline(id, shape)
}

// Constrained returns the trampoline for calls to id through a receiver of
// type *constraint.
func (in *Interceptor) Constrained(id Identity, constraint reflect.Type) (reflect.Value, error) {
	return in.gen.Constrained(id, constraint)
}

// Trampoline returns the trampoline for calls of shape to id as an F.
func Trampoline[F any](in *Interceptor, id Identity, shape Shape) (F, error) {
	fn, err := in.Trampoline(id, shape)
	if err != nil {
		var zero F
		return zero, err
	}
	return assertFunc[F](id, shape, fn)
}

// Constrained returns the trampoline for calls to id through a receiver of
// type *C as an F.
func Constrained[C, F any](in *Interceptor, id Identity) (F, error) {
	fn, err := in.Constrained(id, reflect.TypeFor[C]())
	if err != nil {
		var zero F
		return zero, err
	}
	return assertFunc[F](id, ConstrainedCall, fn)
}

func assertFunc[F any](id Identity, shape Shape, fn reflect.Value) (F, error) {
	f, ok := fn.Interface().(F)
	if !ok {
		return f, &Error{Op: "generate", Func: id, Shape: shape, Err: fmt.Errorf("trampoline has type %v, not %v", fn.Type(), reflect.TypeFor[F]())}
	}
	return f, nil
}

// Begin starts a Session. Only one Session may be active at a time; Begin
// returns ErrSessionActive until the active one ends.
func (in *Interceptor) Begin() (*Session, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.session != nil {
		return nil, ErrSessionActive
	}
	in.session = &Session{in: in}
	in.log.Debug("session started")
	return in.session, nil
}

// BeginTest starts a Session that ends when t and its subtests complete. It
// fails the test if another session is active.
func (in *Interceptor) BeginTest(t testing.TB) *Session {
	t.Helper()

	s, err := in.Begin()
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	t.Cleanup(func() {
		if err := s.End(); err != nil {
			t.Errorf("intercept: %v", err)
		}
	})
	return s
}

func (in *Interceptor) endSession(s *Session) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.session == s {
		in.session = nil
	}
}
