package intercept

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	mprotectExec = windows.PAGE_EXECUTE
	mprotectRX   = windows.PAGE_EXECUTE_READ
	mprotectRWX  = windows.PAGE_EXECUTE_READWRITE
)

// mprotect sets the protection of every page buf touches.
func mprotect(buf []byte, prot int) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	pageSize := uintptr(windows.Getpagesize())

	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(cap(buf)) + pageSize - 1) &^ (pageSize - 1)

	var old uint32
	return windows.VirtualProtect(start, end-start, uint32(prot), &old)
}
