//go:build cgo && (linux || darwin || freebsd || netbsd || openbsd || windows)

package intercept

/*
static void flush_icache(char *start, char *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"

import "unsafe"

// cacheflush invalidates the instruction cache for code that was just
// written. arm64 doesn't keep it coherent with data stores.
func cacheflush(code []byte) {
	if len(code) == 0 {
		return
	}
	start := unsafe.Pointer(unsafe.SliceData(code))
	end := unsafe.Add(start, len(code))
	C.flush_icache((*C.char)(start), (*C.char)(end))
}
