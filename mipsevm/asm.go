// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package mipsevm

// Instruction encoders for building small guest programs in tests and
// benchmarks. Field order follows the instruction word layout.

// EncodeR encodes an R-type instruction (opcode 0).
func EncodeR(rs, rt, rd, shamt, funct uint32) uint32 {
	return rs<<21 | rt<<16 | rd<<11 | shamt<<6 | funct
}

// EncodeI encodes an I-type instruction. Only the low 16 bits of imm are
// used.
func EncodeI(opcode, rs, rt, imm uint32) uint32 {
	return opcode<<26 | rs<<21 | rt<<16 | imm&0xffff
}

// EncodeJ encodes a J-type instruction. target is a byte address within the
// current 256 MiB region.
func EncodeJ(opcode, target uint32) uint32 {
	return opcode<<26 | (target>>2)&0x03ff_ffff
}

// EncodeSyscall encodes the syscall instruction.
func EncodeSyscall() uint32 { return 0x0c }

// NewProgram returns a state with the given instruction words mapped at base
// and the program counter at base.
func NewProgram(base uint32, words []uint32) (*State, error) {
	s := NewState(base)
	for i, w := range words {
		if err := s.Memory.SetWord(base+4*uint32(i), w); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// BenchProgram builds a synthetic guest that iterates a Fibonacci style
// loop with stores and loads into a scratch page, then writes the final
// 32-bit value to stdout and exits. The step count scales linearly with
// iters, which makes it a convenient load generator for proving benchmarks.
func BenchProgram(iters uint32) (*State, error) {
	const (
		base    = 0x0001_0000
		scratch = 0x3000_0000
	)
	if iters == 0 {
		iters = 1
	}

	ori := func(rt, rs, imm uint32) uint32 { return EncodeI(0x0d, rs, rt, imm) }
	lui := func(rt, imm uint32) uint32 { return EncodeI(0x0f, 0, rt, imm) }
	addu := func(rd, rs, rt uint32) uint32 { return EncodeR(rs, rt, rd, 0, 0x21) }
	or := func(rd, rs, rt uint32) uint32 { return EncodeR(rs, rt, rd, 0, 0x25) }
	andi := func(rt, rs, imm uint32) uint32 { return EncodeI(0x0c, rs, rt, imm) }
	addiu := func(rt, rs, imm uint32) uint32 { return EncodeI(0x09, rs, rt, imm) }
	sw := func(rt, rs, imm uint32) uint32 { return EncodeI(0x2b, rs, rt, imm) }
	lw := func(rt, rs, imm uint32) uint32 { return EncodeI(0x23, rs, rt, imm) }
	bne := func(rs, rt, off uint32) uint32 { return EncodeI(0x05, rs, rt, off) }

	words := []uint32{
		ori(8, 0, 0),              // a = 0
		ori(9, 0, 1),              // b = 1
		lui(12, scratch>>16),      // scratch page base
		lui(11, iters>>16),        // counter, high half
		ori(11, 11, iters&0xffff), // counter, low half
	}
	loop := []uint32{
		addu(10, 8, 9), // tmp = a + b
		or(8, 9, 0),    // a = b
		or(9, 10, 0),   // b = tmp
		andi(13, 11, 0x3fc),
		addu(14, 12, 13),
		sw(10, 14, 0),
		lw(15, 14, 0),
		addiu(11, 11, 0xffff), // counter--
		bne(11, 0, 0),         // offset patched below
		0,                     // delay slot nop
	}
	// Branch targets resolve relative to the delay slot.
	loop[8] = bne(11, 0, uint32(-int32(len(loop)-1))&0xffff)
	words = append(words, loop...)

	words = append(words,
		sw(10, 12, 0), // stage result in the scratch page
		ori(2, 0, sysWrite),
		ori(4, 0, 1), // stdout
		or(5, 12, 0), // buf
		ori(6, 0, 4), // byte count
		EncodeSyscall(),
		ori(2, 0, sysExitGroup),
		ori(4, 0, 0),
		EncodeSyscall(),
	)
	return NewProgram(base, words)
}
