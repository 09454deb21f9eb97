//go:build amd64 && !linux

package intercept

// No MAP_32BIT outside Linux. Relocation falls back to far calls when a
// target is out of rel32 range.
const map32Bit = 0
