//go:build linux && amd64

package intercept

import "golang.org/x/sys/unix"

// Clones are mapped into the low 2GB so that rel32 operands copied from the
// original still reach their targets.
const map32Bit = unix.MAP_32BIT
