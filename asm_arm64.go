//go:build cgo && (linux || darwin || freebsd || netbsd || openbsd || windows)

package intercept

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/pboyd/malloc"
	"golang.org/x/arch/arm64/arm64asm"
)

const (
	// | 000101 | imm26 |
	opB = uint32(5 << 26)

	// | 100101 | imm26 |
	opBL = uint32(1<<31 | opB)

	// ADR/ADRP: | P | immlo:2 | 10000 | immhi:19 | Rd:5 |
	adrImmMask = uint32(3<<29 | 0x7ffff<<5)

	instSize = 4

	// B and BL reach ±128MiB.
	branchRange = 1 << 27

	// The arena is requested this far past the end of the text segment,
	// clear of the data segments that follow it.
	cloneArenaOffset = 64 << 20
)

// arenaPlacement asks for clone memory close to the text segment so that
// relocated branches still reach their targets.
func arenaPlacement() []malloc.BackendOpt {
	info := findfunc(reflect.ValueOf(insertJump).Pointer())
	if info.datap == nil {
		return nil
	}
	return []malloc.BackendOpt{malloc.MmapAddr(info.datap.etext + cloneArenaOffset)}
}

// insertJump overwrites buf, the code of a function, with a branch to dest
// and zeroes the rest.
func insertJump(buf []byte, dest uintptr) error {
	if len(buf) < instSize {
		return errors.New("function too small for a branch")
	}

	src := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	inst, err := encodeBranch(opB, int64(dest)-int64(src))
	if err != nil {
		return fmt.Errorf("branch to %#x from %#x: %w", dest, src, err)
	}

	binary.LittleEndian.PutUint32(buf, inst)
	clear(buf[instSize:])
	return nil
}

func encodeBranch(op uint32, offset int64) (uint32, error) {
	if offset < -branchRange || offset >= branchRange {
		return 0, fmt.Errorf("offset %d out of range", offset)
	}
	return op | uint32(offset>>2)&(1<<26-1), nil
}

// relocateFunc copies the code in src to dest, which must be the address the
// copy will run from, and adjusts PC-relative operands that point outside
// the function. Zero padding after the last instruction isn't copied.
func relocateFunc(src, dest []byte) ([]byte, error) {
	end := len(src) &^ (instSize - 1)
	for end > 0 && binary.LittleEndian.Uint32(src[end-instSize:]) == 0 {
		end -= instSize
	}
	src = src[:end]
	if cap(dest) < len(src) {
		return nil, errors.New("destination too small")
	}
	dest = dest[:len(src)]
	copy(dest, src)

	srcBase := uintptr(unsafe.Pointer(unsafe.SliceData(src)))
	inside := func(addr uintptr) bool {
		return addr >= srcBase && addr < srcBase+uintptr(len(src))
	}

	for i := 0; i < len(src); i += instSize {
		inst, err := arm64asm.Decode(src[i : i+instSize])
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		srcPC := srcBase + uintptr(i)
		if err := relocateInst(inst, srcPC, dest[i:i+instSize], inside); err != nil {
			return nil, fmt.Errorf("offset %d: %w", i, err)
		}
	}
	return dest, nil
}

// relocateInst rewrites the instruction in dest, copied from srcPC. Go only
// emits ADRP, B and BL with targets outside the function; every other
// PC-relative form stays local.
func relocateInst(inst arm64asm.Inst, srcPC uintptr, dest []byte, inside func(uintptr) bool) error {
	destPC := uintptr(unsafe.Pointer(unsafe.SliceData(dest)))

	switch inst.Op {
	case arm64asm.ADRP:
		rel, ok := inst.Args[1].(arm64asm.PCRel)
		if !ok {
			return nil
		}
		pages := (int64(srcPC&^0xfff) + int64(rel) - int64(destPC&^0xfff)) >> 12
		if pages < -(1<<20) || pages >= 1<<20 {
			return fmt.Errorf("ADRP target %d pages away", pages)
		}

		p := uint32(pages)
		encoded := binary.LittleEndian.Uint32(dest) &^ adrImmMask
		encoded |= (p & 3) << 29
		encoded |= (p >> 2 & 0x7ffff) << 5
		binary.LittleEndian.PutUint32(dest, encoded)

	case arm64asm.B, arm64asm.BL:
		// Conditional branches carry the condition first.
		rel, ok := inst.Args[0].(arm64asm.PCRel)
		if !ok {
			return nil
		}
		target := uintptr(int64(srcPC) + int64(rel))
		if inside(target) {
			return nil
		}

		op := opB
		if inst.Op == arm64asm.BL {
			op = opBL
		}
		encoded, err := encodeBranch(op, int64(target)-int64(destPC))
		if err != nil {
			return fmt.Errorf("%s to %#x: %w", inst.Op, target, err)
		}
		binary.LittleEndian.PutUint32(dest, encoded)
	}
	return nil
}

// disassemble formats code one instruction per line.
func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer
	base := uintptr(unsafe.Pointer(unsafe.SliceData(code)))

	for i := 0; i+instSize <= len(code); i += instSize {
		asm := "?"
		if inst, err := arm64asm.Decode(code[i:]); err == nil {
			asm = inst.String()
		}
		fmt.Fprintf(&buf, "%#x\t%-8s\t%s\n", base+uintptr(i), hex.EncodeToString(code[i:i+instSize]), asm)
	}
	return buf.String(), nil
}
