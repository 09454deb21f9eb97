//go:build linux || darwin || freebsd || netbsd || openbsd || windows

package intercept

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"unsafe"

	"fortio.org/safecast"
	"github.com/pboyd/malloc"
	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeCALLabs = 0xff // CALL r/m64
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeINT3    = 0xcc
	opcodeJMP     = 0xe9 // JMP rel32
	opcodeLEA     = 0x8d

	opcodeMOV_imm_rm = 0xc7 // MOV imm32, r/m64
	opcodeMOV_r_rm   = 0x8b // MOV r/m64, r

	regModeDirect = 3
	registerBP    = 5

	jumpSize    = 5 // opcode + rel32
	farCallSize = 14
)

// arenaPlacement keeps clones in the low 2GB where MAP_32BIT exists, so
// rel32 operands copied from the original still reach their targets.
func arenaPlacement() []malloc.BackendOpt {
	return []malloc.BackendOpt{malloc.MmapFlags(map32Bit)}
}

// cacheflush does nothing: x86 keeps the instruction cache coherent with
// stores.
func cacheflush([]byte) {}

// insertJump overwrites buf, the code of a function, with a jump to dest and
// pads the rest with INT3.
func insertJump(buf []byte, dest uintptr) error {
	if len(buf) < jumpSize {
		return errors.New("function too small for a jump")
	}

	src := uintptr(unsafe.Pointer(unsafe.SliceData(buf))) + jumpSize
	rel, err := safecast.Conv[int32](int64(dest) - int64(src))
	if err != nil {
		return fmt.Errorf("jump target %#x out of range from %#x: %w", dest, src, err)
	}

	buf[0] = opcodeJMP
	binary.LittleEndian.PutUint32(buf[1:], uint32(rel))
	for i := jumpSize; i < len(buf); i++ {
		buf[i] = opcodeINT3
	}
	return nil
}

// relocateFunc copies the code in src to dest, which must be the address the
// copy will run from, and adjusts PC-relative operands that point outside
// the function. Calls that no longer fit in rel32 go through a far call
// appended to the code. dest must have room for the far calls; the resized
// slice is returned.
func relocateFunc(src, dest []byte) ([]byte, error) {
	srcBase := uintptr(unsafe.Pointer(unsafe.SliceData(src)))
	destBase := uintptr(unsafe.Pointer(unsafe.SliceData(dest)))

	end := len(src)
	for end > 0 && src[end-1] == opcodeINT3 {
		end--
	}
	src = src[:end]
	if cap(dest) < len(src) {
		return nil, errors.New("destination too small")
	}
	dest = dest[:len(src)]

	inside := func(addr uintptr) bool {
		return addr >= srcBase && addr < srcBase+uintptr(len(src))
	}

	for i := 0; i < len(src); {
		inst, err := x86asm.Decode(src[i:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}

		srcNext := srcBase + uintptr(i+inst.Len)
		destNext := destBase + uintptr(i+inst.Len)

		switch inst.Opcode >> 24 {
		case opcodeCALLrel, opcodeJMP:
			rel, ok := inst.Args[0].(x86asm.Rel)
			if !ok || inst.Len != jumpSize {
				copy(dest[i:], src[i:i+inst.Len])
				break
			}

			target := uintptr(int64(srcNext) + int64(rel))
			if inside(target) {
				copy(dest[i:], src[i:i+inst.Len])
				break
			}

			if newRel, err := safecast.Conv[int32](int64(target) - int64(destNext)); err == nil {
				dest[i] = src[i]
				binary.LittleEndian.PutUint32(dest[i+1:], uint32(newRel))
				break
			}

			if src[i] != opcodeCALLrel {
				return nil, fmt.Errorf("offset %d: jump target %#x out of range", i, target)
			}
			if len(dest)+farCallSize > cap(dest) {
				return nil, fmt.Errorf("offset %d: no room for a far call", i)
			}

			// Jump to a far call at the end, which jumps back after the
			// original CALL.
			block := len(dest)
			code, err := farCall(target, int32(i+inst.Len-block))
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", i, err)
			}
			dest = append(dest, code...)

			dest[i] = opcodeJMP
			binary.LittleEndian.PutUint32(dest[i+1:], uint32(int32(block-(i+inst.Len))))
		case opcodeLEA, opcodeMOV_r_rm:
			mem, ok := inst.Args[1].(x86asm.Mem)
			if !ok || mem.Base != x86asm.RIP {
				copy(dest[i:], src[i:i+inst.Len])
				break
			}

			copy(dest[i:], src[i:i+inst.Len-4])
			disp, err := safecast.Conv[int32](int64(srcNext) + mem.Disp - int64(destNext))
			if err != nil {
				return nil, fmt.Errorf("offset %d: RIP-relative operand: %w", i, err)
			}
			binary.LittleEndian.PutUint32(dest[i+inst.Len-4:], uint32(disp))
		default:
			copy(dest[i:], src[i:i+inst.Len])
		}

		i += inst.Len
	}

	// Pad to 16 bytes like the compiler does.
	for len(dest)&0xf != 0 && len(dest) < cap(dest) {
		dest = append(dest, opcodeINT3)
	}
	return dest, nil
}

// farCall returns the machine code for:
//
//	MOVQ $dest, BP
//	CALL BP
//	JMP  back
//
// back is relative to the start of the block.
func farCall(dest uintptr, back int32) ([]byte, error) {
	imm, err := safecast.Conv[uint32](uint64(dest))
	if err != nil {
		return nil, fmt.Errorf("far call target %#x above 4GB: %w", dest, err)
	}

	buf := make([]byte, 0, farCallSize)
	buf = append(buf, byte(x86asm.PrefixREX|x86asm.PrefixREXW), opcodeMOV_imm_rm, regModeDirect<<6|registerBP)
	buf = binary.LittleEndian.AppendUint32(buf, imm)
	buf = append(buf, opcodeCALLabs, regModeDirect<<6|2<<3|registerBP)
	buf = append(buf, opcodeJMP)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(back-int32(len(buf))-4))
	return buf, nil
}

// disassemble formats code one instruction per line.
func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer
	base := uintptr(unsafe.Pointer(unsafe.SliceData(code)))

	for i := 0; i < len(code); {
		inst, err := x86asm.Decode(code[i:], 64)
		if err != nil {
			return buf.String(), fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", base+uintptr(i), hex.EncodeToString(code[i:i+inst.Len]), inst)
		i += inst.Len
	}
	return buf.String(), nil
}
