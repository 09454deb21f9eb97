//go:build (amd64 || (arm64 && cgo)) && (linux || darwin || freebsd || netbsd || openbsd || windows)

package intercept

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
	"go.uber.org/zap"
)

// clonedCode is a relocated copy of a function's machine code. It keeps
// working after the original's entry is overwritten.
type clonedCode struct {
	code []byte

	// A func value points at a word holding the code address. ref is that
	// word; it also keeps the allocation reachable.
	ref *uintptr
}

// cloneCode copies code into executable memory.
func cloneCode(code []byte) (*clonedCode, error) {
	if err := cloneAllocator.beginMutate(); err != nil {
		return nil, err
	}
	defer cloneAllocator.endMutate()

	// Room for far calls and padding.
	buf, err := cloneAllocator.allocate(2*len(code) + 16)
	if err != nil {
		return nil, err
	}

	relocated, err := relocateFunc(code, buf)
	if err != nil {
		cloneAllocator.free(buf)
		return nil, err
	}

	cacheflush(relocated)

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(relocated)))
	return &clonedCode{
		code: relocated,
		ref:  &addr,
	}, nil
}

// funcValue returns the clone as a function of type t.
func (c *clonedCode) funcValue(t reflect.Type) reflect.Value {
	return reflect.NewAt(t, unsafe.Pointer(&c.ref)).Elem()
}

func (c *clonedCode) release() {
	if err := cloneAllocator.beginMutate(); err != nil {
		Logger().Warn("unable to release clone", zap.Error(err))
		return
	}
	defer cloneAllocator.endMutate()

	cloneAllocator.free(c.code[:cap(c.code)])
	c.code = nil
	*c.ref = 0
}

// allocator hands out executable memory from a malloc arena. The arena is
// writable only between beginMutate and endMutate.
type allocator struct {
	arena    *malloc.Arena
	protect  func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	mutable  bool
}

var cloneAllocator = &allocator{}

func (a *allocator) init(size int) error {
	var err error
	a.initOnce.Do(func() {
		opts := append([]malloc.BackendOpt{malloc.MmapProt(mprotectExec)}, arenaPlacement()...)
		be := malloc.MmapBackend(opts...)
		if pbe, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.protect = pbe.Protect
		} else {
			a.protect = func(int) error { return nil }
		}

		a.arena = malloc.NewArena(uint64(size), malloc.Backend(be))
		if a.arena == nil {
			err = errors.New("unable to create arena")
			return
		}
		a.mutable = true
	})
	return err
}

// beginMutate makes the arena writable. It may be called before the first
// allocation, which creates a writable arena.
func (a *allocator) beginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.protect == nil || a.mutable {
		return nil
	}
	if err := a.protect(mprotectRWX); err != nil {
		return fmt.Errorf("unable to make arena writable: %w", err)
	}
	a.mutable = true
	return nil
}

func (a *allocator) endMutate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		return
	}
	if err := a.protect(mprotectRX); err != nil {
		Logger().Warn("unable to protect arena", zap.Error(err))
		return
	}
	a.mutable = false
}

func (a *allocator) allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.init(size); err != nil {
		return nil, err
	}
	if !a.mutable {
		panic("allocate called on a read-only arena")
	}
	return malloc.MallocSlice[byte](a.arena, size)
}

func (a *allocator) free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		panic("free called on a read-only arena")
	}
	malloc.FreeSlice(a.arena, buf)
}
