//go:build !((amd64 || (arm64 && cgo)) && (linux || darwin || freebsd || netbsd || openbsd || windows))

package intercept

import "reflect"

type patch struct{}

func patchEntry(fn, replacement reflect.Value) (*patch, error) {
	return nil, ErrUnsupportedPlatform
}

func (*patch) restore() error {
	return nil
}

// Original returns fn. Entries can't be replaced on this platform.
func Original[F any](fn F) F {
	return fn
}
