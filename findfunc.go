//go:build (amd64 || (arm64 && cgo)) && (linux || darwin || freebsd || netbsd || openbsd || windows)

package intercept

import (
	"fmt"
	"unsafe"
)

// funcInfo mirrors runtime.funcInfo.
type funcInfo struct {
	_func unsafe.Pointer
	datap *moduledata
}

// moduledata mirrors the leading fields of runtime.moduledata. The layout
// must match cmd/link/internal/ld/symtab.go up to etext.
type moduledata struct {
	pcHeader     unsafe.Pointer
	funcnametab  []byte
	cutab        []uint32
	filetab      []byte
	pctab        []byte
	pclntable    []byte
	ftab         []functab
	findfunctab  uintptr
	minpc, maxpc uintptr

	text, etext uintptr
}

type functab struct {
	entryoff uint32 // relative to moduledata.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo

// funcSlice returns the machine code of the function starting at entry. The
// runtime doesn't record function sizes, so the code runs up to the next
// function in the module.
func funcSlice(entry uintptr) ([]byte, error) {
	info := findfunc(entry)
	if info._func == nil || info.datap == nil {
		return nil, fmt.Errorf("no function at %#x", entry)
	}

	offset := uint32(entry - info.datap.text)
	length := uint32(info.datap.etext - entry)
	for _, ft := range info.datap.ftab {
		if ft.entryoff > offset && ft.entryoff-offset < length {
			length = ft.entryoff - offset
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(entry)), length), nil
}
