//go:build (amd64 || (arm64 && cgo)) && (linux || darwin || freebsd || netbsd || openbsd || windows)

package intercept

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var (
	patchMu sync.RWMutex

	// Patches by the entry address of the original.
	patches = map[uintptr]*patch{}
)

// patch is a function whose entry was overwritten with a jump.
type patch struct {
	name  string
	entry uintptr
	code  []byte // live code of the original
	saved []byte // code before patching

	clone    *clonedCode
	original reflect.Value
}

// patchEntry overwrites the entry of fn with a jump to replacement. The
// types of fn and replacement must match.
func patchEntry(fn, replacement reflect.Value) (*patch, error) {
	if isMakeFunc(replacement) {
		return nil, errors.New("replacement was built by reflect.MakeFunc and can't be jumped to")
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	name := fullFuncName(fn)
	entry := fn.Pointer()
	if _, ok := patches[entry]; ok {
		return nil, fmt.Errorf("%s is already replaced", name)
	}

	code, err := funcSlice(entry)
	if err != nil {
		return nil, err
	}

	clone, err := cloneCode(code)
	if err != nil {
		return nil, fmt.Errorf("unable to clone %s: %w", name, err)
	}

	p := &patch{
		name:     name,
		entry:    entry,
		code:     code,
		saved:    bytes.Clone(code),
		clone:    clone,
		original: clone.funcValue(fn.Type()),
	}

	if err := rewriteCode(code, func() error { return insertJump(code, replacement.Pointer()) }); err != nil {
		clone.release()
		return nil, fmt.Errorf("unable to patch %s: %w", name, err)
	}
	patches[entry] = p

	log := Logger()
	log.Debug("patched entry",
		zap.String("func", name),
		zap.Uintptr("entry", entry),
		zap.String("replacement", fullFuncName(replacement)))
	if ce := log.Check(zap.DebugLevel, "relocated original"); ce != nil {
		asm, err := disassemble(clone.code)
		ce.Write(zap.String("func", name), zap.String("code", asm), zap.Error(err))
	}
	return p, nil
}

// restore puts back the original code and releases the clone.
func (p *patch) restore() error {
	patchMu.Lock()
	defer patchMu.Unlock()

	err := rewriteCode(p.code, func() error {
		copy(p.code, p.saved)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to restore %s: %w", p.name, err)
	}

	delete(patches, p.entry)
	p.clone.release()

	Logger().Debug("restored entry", zap.String("func", p.name))
	return nil
}

// rewriteCode makes code writable for the duration of fn.
func rewriteCode(code []byte, fn func() error) error {
	if err := mprotect(code, mprotectRWX); err != nil {
		return err
	}
	err := fn()
	cacheflush(code)
	if perr := mprotect(code, mprotectRX); err == nil {
		err = perr
	}
	return err
}

// Original returns a function that behaves like fn did before its entry was
// replaced, or fn itself when it isn't replaced. The result is only valid
// until the session that replaced fn ends.
//
// The original is a relocated copy of fn's machine code, which may not
// survive every instruction sequence the compiler emits.
func Original[F any](fn F) F {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return fn
	}

	patchMu.RLock()
	defer patchMu.RUnlock()

	p, ok := patches[fv.Pointer()]
	if !ok {
		return fn
	}
	return p.original.Convert(fv.Type()).Interface().(F)
}

func isMakeFunc(fn reflect.Value) bool {
	f := runtime.FuncForPC(fn.Pointer())
	return f != nil && f.Name() == "reflect.makeFuncStub"
}
