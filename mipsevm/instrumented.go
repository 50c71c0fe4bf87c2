// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package mipsevm interprets a MIPS32 (big-endian, O32) guest with enough of
// the Linux syscall surface for freestanding programs: exit, brk, mmap and
// stream read/write. Branch delay slots are modeled with a pc/nextPC pair, so
// the instruction after a branch executes before control transfers.
package mipsevm

import (
	"errors"
	"fmt"
)

var (
	ErrExited             = errors.New("mipsevm: guest already exited")
	ErrInvalidInstruction = errors.New("mipsevm: invalid instruction")
)

// Linux O32 syscall numbers.
const (
	sysExit      = 4001
	sysRead      = 4003
	sysWrite     = 4004
	sysBrk       = 4045
	sysMmap      = 4090
	sysClone     = 4120
	sysExitGroup = 4246
)

const mipsEBADF = 0x9

// Counters classifies executed instructions by the kind of work they imply
// for a prover. Control flow and syscalls are covered by the step count.
type Counters struct {
	Arith  uint64
	Logic  uint64
	MemOps uint64
}

// InstrumentedState drives a State step by step while counting instruction
// classes.
type InstrumentedState struct {
	state    *State
	counters Counters
}

// NewInstrumented wraps a state for execution.
func NewInstrumented(state *State) *InstrumentedState {
	return &InstrumentedState{state: state}
}

// State returns the underlying guest state.
func (is *InstrumentedState) State() *State { return is.state }

// Counters returns the instruction class counters accumulated so far.
func (is *InstrumentedState) Counters() Counters { return is.counters }

// Run executes at most maxSteps instructions and returns the number actually
// executed. It stops early when the guest exits.
func (is *InstrumentedState) Run(maxSteps uint64) (uint64, error) {
	var n uint64
	for n < maxSteps && !is.state.Exited {
		if err := is.Step(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Step executes a single instruction.
func (is *InstrumentedState) Step() error {
	s := is.state
	if s.Exited {
		return ErrExited
	}

	insn, err := s.Memory.Word(s.PC)
	if err != nil {
		return fmt.Errorf("mipsevm: fetch at 0x%08x: %w", s.PC, err)
	}
	s.Step++

	opcode := insn >> 26
	rs := (insn >> 21) & 0x1f
	rt := (insn >> 16) & 0x1f
	rd := (insn >> 11) & 0x1f
	shamt := (insn >> 6) & 0x1f
	funct := insn & 0x3f
	imm := insn & 0xffff

	rsVal := s.Registers[rs]
	rtVal := s.Registers[rt]

	switch opcode {
	case 0x00: // SPECIAL
		return is.special(insn, funct, rsVal, rtVal, rd, shamt)

	case 0x01: // REGIMM: bltz / bgez
		switch rt {
		case 0x00:
			is.branch(int32(rsVal) < 0, imm)
		case 0x01:
			is.branch(int32(rsVal) >= 0, imm)
		default:
			return fmt.Errorf("%w: regimm rt=%d at 0x%08x", ErrInvalidInstruction, rt, s.PC)
		}
		return nil

	case 0x02: // j
		is.jump((s.PC+4)&0xf000_0000|(insn&0x03ff_ffff)<<2, 0)
		return nil
	case 0x03: // jal
		is.jump((s.PC+4)&0xf000_0000|(insn&0x03ff_ffff)<<2, 31)
		return nil

	case 0x04: // beq
		is.branch(rsVal == rtVal, imm)
		return nil
	case 0x05: // bne
		is.branch(rsVal != rtVal, imm)
		return nil
	case 0x06: // blez
		is.branch(int32(rsVal) <= 0, imm)
		return nil
	case 0x07: // bgtz
		is.branch(int32(rsVal) > 0, imm)
		return nil

	case 0x08, 0x09: // addi, addiu (no overflow trap)
		is.counters.Arith++
		s.writeReg(rt, rsVal+signExt16(imm))
	case 0x0a: // slti
		is.counters.Arith++
		s.writeReg(rt, boolToWord(int32(rsVal) < int32(signExt16(imm))))
	case 0x0b: // sltiu
		is.counters.Arith++
		s.writeReg(rt, boolToWord(rsVal < signExt16(imm)))
	case 0x0c: // andi
		is.counters.Logic++
		s.writeReg(rt, rsVal&imm)
	case 0x0d: // ori
		is.counters.Logic++
		s.writeReg(rt, rsVal|imm)
	case 0x0e: // xori
		is.counters.Logic++
		s.writeReg(rt, rsVal^imm)
	case 0x0f: // lui
		is.counters.Arith++
		s.writeReg(rt, imm<<16)

	case 0x20: // lb
		is.counters.MemOps++
		b, err := s.Memory.Byte(rsVal + signExt16(imm))
		if err != nil {
			return err
		}
		s.writeReg(rt, signExt8(uint32(b)))
	case 0x21: // lh
		is.counters.MemOps++
		v, err := is.loadHalf(rsVal + signExt16(imm))
		if err != nil {
			return err
		}
		s.writeReg(rt, signExt16(v))
	case 0x23: // lw
		is.counters.MemOps++
		v, err := s.Memory.Word(rsVal + signExt16(imm))
		if err != nil {
			return err
		}
		s.writeReg(rt, v)
	case 0x24: // lbu
		is.counters.MemOps++
		b, err := s.Memory.Byte(rsVal + signExt16(imm))
		if err != nil {
			return err
		}
		s.writeReg(rt, uint32(b))
	case 0x25: // lhu
		is.counters.MemOps++
		v, err := is.loadHalf(rsVal + signExt16(imm))
		if err != nil {
			return err
		}
		s.writeReg(rt, v)
	case 0x28: // sb
		is.counters.MemOps++
		if err := s.Memory.SetByte(rsVal+signExt16(imm), byte(rtVal)); err != nil {
			return err
		}
	case 0x29: // sh
		is.counters.MemOps++
		if err := is.storeHalf(rsVal+signExt16(imm), uint16(rtVal)); err != nil {
			return err
		}
	case 0x2b: // sw
		is.counters.MemOps++
		if err := s.Memory.SetWord(rsVal+signExt16(imm), rtVal); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: opcode 0x%02x at 0x%08x", ErrInvalidInstruction, opcode, s.PC)
	}

	s.PC = s.NextPC
	s.NextPC += 4
	return nil
}

func (is *InstrumentedState) special(insn, funct, rsVal, rtVal, rd, shamt uint32) error {
	s := is.state

	switch funct {
	case 0x00: // sll
		is.counters.Logic++
		s.writeReg(rd, rtVal<<shamt)
	case 0x02: // srl
		is.counters.Logic++
		s.writeReg(rd, rtVal>>shamt)
	case 0x03: // sra
		is.counters.Logic++
		s.writeReg(rd, uint32(int32(rtVal)>>shamt))
	case 0x04: // sllv
		is.counters.Logic++
		s.writeReg(rd, rtVal<<(rsVal&0x1f))
	case 0x06: // srlv
		is.counters.Logic++
		s.writeReg(rd, rtVal>>(rsVal&0x1f))
	case 0x07: // srav
		is.counters.Logic++
		s.writeReg(rd, uint32(int32(rtVal)>>(rsVal&0x1f)))

	case 0x08: // jr
		is.jump(rsVal, 0)
		return nil
	case 0x09: // jalr
		is.jump(rsVal, rd)
		return nil

	case 0x0c: // syscall
		if err := is.syscall(); err != nil {
			return err
		}

	case 0x10: // mfhi
		is.counters.Arith++
		s.writeReg(rd, s.Hi)
	case 0x11: // mthi
		is.counters.Arith++
		s.Hi = rsVal
	case 0x12: // mflo
		is.counters.Arith++
		s.writeReg(rd, s.Lo)
	case 0x13: // mtlo
		is.counters.Arith++
		s.Lo = rsVal

	case 0x18: // mult
		is.counters.Arith++
		acc := int64(int32(rsVal)) * int64(int32(rtVal))
		s.Hi = uint32(uint64(acc) >> 32)
		s.Lo = uint32(uint64(acc))
	case 0x19: // multu
		is.counters.Arith++
		acc := uint64(rsVal) * uint64(rtVal)
		s.Hi = uint32(acc >> 32)
		s.Lo = uint32(acc)
	case 0x1a: // div
		is.counters.Arith++
		if rtVal == 0 {
			s.Lo, s.Hi = 0, rsVal
		} else {
			s.Lo = uint32(int32(rsVal) / int32(rtVal))
			s.Hi = uint32(int32(rsVal) % int32(rtVal))
		}
	case 0x1b: // divu
		is.counters.Arith++
		if rtVal == 0 {
			s.Lo, s.Hi = 0, rsVal
		} else {
			s.Lo = rsVal / rtVal
			s.Hi = rsVal % rtVal
		}

	case 0x20, 0x21: // add, addu (no overflow trap)
		is.counters.Arith++
		s.writeReg(rd, rsVal+rtVal)
	case 0x22, 0x23: // sub, subu
		is.counters.Arith++
		s.writeReg(rd, rsVal-rtVal)
	case 0x24: // and
		is.counters.Logic++
		s.writeReg(rd, rsVal&rtVal)
	case 0x25: // or
		is.counters.Logic++
		s.writeReg(rd, rsVal|rtVal)
	case 0x26: // xor
		is.counters.Logic++
		s.writeReg(rd, rsVal^rtVal)
	case 0x27: // nor
		is.counters.Logic++
		s.writeReg(rd, ^(rsVal | rtVal))
	case 0x2a: // slt
		is.counters.Arith++
		s.writeReg(rd, boolToWord(int32(rsVal) < int32(rtVal)))
	case 0x2b: // sltu
		is.counters.Arith++
		s.writeReg(rd, boolToWord(rsVal < rtVal))

	default:
		return fmt.Errorf("%w: funct 0x%02x at 0x%08x", ErrInvalidInstruction, funct, s.PC)
	}

	s.PC = s.NextPC
	s.NextPC += 4
	return nil
}

// branch executes the delay slot next and, when taken, targets relative to
// the branch instruction.
func (is *InstrumentedState) branch(taken bool, imm uint32) {
	s := is.state
	prevPC := s.PC
	s.PC = s.NextPC
	if taken {
		s.NextPC = prevPC + 4 + signExt16(imm)<<2
	} else {
		s.NextPC += 4
	}
}

// jump executes the delay slot next, then transfers to target. A nonzero
// linkReg receives the return address past the delay slot.
func (is *InstrumentedState) jump(target uint32, linkReg uint32) {
	s := is.state
	prevPC := s.PC
	s.PC = s.NextPC
	s.NextPC = target
	if linkReg != 0 {
		s.Registers[linkReg] = prevPC + 8
	}
}

func (is *InstrumentedState) syscall() error {
	s := is.state
	num := s.Registers[2]                                        // v0
	a0, a1, a2 := s.Registers[4], s.Registers[5], s.Registers[6] // a0..a2
	v0, a3 := uint32(0), uint32(0)

	switch num {
	case sysExit, sysExitGroup:
		s.Exited = true
		s.ExitCode = uint8(a0)
		return nil

	case sysBrk:
		v0 = BrkStart

	case sysMmap:
		sz := a1
		if rem := sz & (PageSize - 1); rem != 0 {
			sz += PageSize - rem
		}
		if a0 == 0 {
			v0 = s.Heap
			s.Heap += sz
		} else {
			v0 = a0
		}

	case sysClone:
		// Threads are not modeled; pretend the child was created and keep
		// running the parent.
		v0 = 1

	case sysRead:
		switch a0 {
		case 0: // stdin
			// The cursor can sit past the end on a forged state; reads
			// there return 0 bytes instead of slicing out of bounds.
			var remaining uint32
			if end := uint32(len(s.Input)); s.InputCursor < end {
				remaining = end - s.InputCursor
			}
			n := a2
			if n > remaining {
				n = remaining
			}
			if n > 0 {
				if err := s.Memory.SetRange(a1, s.Input[s.InputCursor:s.InputCursor+n]); err != nil {
					return err
				}
			}
			s.InputCursor += n
			v0 = n
		default:
			v0 = 0xffff_ffff
			a3 = mipsEBADF
		}

	case sysWrite:
		switch a0 {
		case 1: // stdout
			data, err := s.Memory.Range(a1, a2)
			if err != nil {
				return err
			}
			s.Output = append(s.Output, data...)
			v0 = a2
		case 2: // stderr, accepted and dropped
			v0 = a2
		default:
			v0 = 0xffff_ffff
			a3 = mipsEBADF
		}

	default:
		// Unhandled syscalls report success with no effect.
	}

	s.Registers[2] = v0
	s.Registers[7] = a3
	return nil
}

func (is *InstrumentedState) loadHalf(addr uint32) (uint32, error) {
	if addr&1 != 0 {
		return 0, fmt.Errorf("%w: half read at 0x%08x", ErrMemUnaligned, addr)
	}
	hi, err := is.state.Memory.Byte(addr)
	if err != nil {
		return 0, err
	}
	lo, err := is.state.Memory.Byte(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<8 | uint32(lo), nil
}

func (is *InstrumentedState) storeHalf(addr uint32, v uint16) error {
	if addr&1 != 0 {
		return fmt.Errorf("%w: half write at 0x%08x", ErrMemUnaligned, addr)
	}
	if err := is.state.Memory.SetByte(addr, byte(v>>8)); err != nil {
		return err
	}
	return is.state.Memory.SetByte(addr+1, byte(v))
}

func (s *State) writeReg(r uint32, v uint32) {
	if r != 0 {
		s.Registers[r] = v
	}
}

func signExt8(v uint32) uint32  { return uint32(int32(int8(v))) }
func signExt16(v uint32) uint32 { return uint32(int32(int16(v))) }

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
