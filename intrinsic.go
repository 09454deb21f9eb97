package intercept

import "strings"

// Packages whose functions the compiler may replace with inline
// instructions. A call site might never reach their entry point.
var intrinsicPrefixes = []string{
	"runtime.",
	"runtime/internal/",
	"internal/runtime/",
	"internal/abi.",
	"sync/atomic.",
	"math/bits.",
}

var intrinsicFuncs = map[string]bool{
	"math.Abs":         true,
	"math.Ceil":        true,
	"math.Copysign":    true,
	"math.FMA":         true,
	"math.Float32bits": true,
	"math.Float64bits": true,
	"math.Floor":       true,
	"math.RoundToEven": true,
	"math.Sqrt":        true,
	"math.Trunc":       true,
}

// isIntrinsicName reports whether a function with the runtime name name is
// treated as an intrinsic.
func isIntrinsicName(name string) bool {
	if intrinsicFuncs[name] {
		return true
	}
	for _, prefix := range intrinsicPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
