//go:build linux || darwin || freebsd || netbsd || openbsd

package intercept

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mprotectExec = unix.PROT_EXEC
	mprotectRX   = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// mprotect sets the protection of every page buf touches.
func mprotect(buf []byte, prot int) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	pageSize := uintptr(unix.Getpagesize())

	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(cap(buf)) + pageSize - 1) &^ (pageSize - 1)

	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	return unix.Mprotect(region, prot)
}
