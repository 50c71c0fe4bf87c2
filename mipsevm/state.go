// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package mipsevm

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const (
	// HeapStart is the base of the mmap bump allocator.
	HeapStart = 0x2000_0000

	// BrkStart is the fixed program break reported to the guest.
	BrkStart = 0x4000_0000

	// StackTop is the initial stack pointer before the argv block.
	StackTop = 0x7fff_d000
)

// State is the full architectural state of a MIPS32 guest. It is everything
// needed to resume execution: registers, control state, sparse memory and the
// I/O stream positions.
type State struct {
	Memory *Memory

	// Registers are the 32 general purpose registers. Register 0 reads as
	// zero; writes to it are dropped at execution time.
	Registers [32]uint32

	PC     uint32
	NextPC uint32
	Lo     uint32
	Hi     uint32

	// Heap is the next address handed out by the mmap bump allocator.
	Heap uint32

	Exited   bool
	ExitCode uint8

	// Step counts executed instructions since program start.
	Step uint64

	// Input is the byte stream served to the guest on stdin reads.
	// InputCursor is the current read position in it.
	Input       []byte
	InputCursor uint32

	// Output accumulates everything the guest wrote to stdout. A snapshot of
	// it becomes the userdata of the proofs covering this execution.
	Output []byte
}

// NewState returns a fresh state with an empty memory, the program counter at
// entry and the stack pointer at the conventional top.
func NewState(entry uint32) *State {
	s := &State{
		Memory: NewMemory(),
		PC:     entry,
		NextPC: entry + 4,
		Heap:   HeapStart,
	}
	s.Registers[29] = StackTop
	return s
}

// Root commits to the whole state. Two states with the same root resume
// identically, so the commitment covers memory, registers, control state,
// the step counter and both stream positions.
func (s *State) Root() [32]byte {
	memRoot := s.Memory.Root()
	inDigest := blake2b.Sum256(s.Input)
	outDigest := blake2b.Sum256(s.Output)

	h, _ := blake2b.New256(nil)
	h.Write(memRoot[:])
	var buf [8]byte
	for _, r := range s.Registers {
		binary.BigEndian.PutUint32(buf[:4], r)
		h.Write(buf[:4])
	}
	binary.BigEndian.PutUint32(buf[:4], s.PC)
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], s.NextPC)
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], s.Lo)
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], s.Hi)
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], s.Heap)
	h.Write(buf[:4])
	exited := byte(0)
	if s.Exited {
		exited = 1
	}
	h.Write([]byte{exited, s.ExitCode})
	binary.BigEndian.PutUint64(buf[:], s.Step)
	h.Write(buf[:])
	h.Write(inDigest[:])
	binary.BigEndian.PutUint32(buf[:4], s.InputCursor)
	h.Write(buf[:4])
	h.Write(outDigest[:])

	var root [32]byte
	copy(root[:], h.Sum(nil))
	return root
}

// Clone returns a deep copy sharing nothing with the receiver.
func (s *State) Clone() *State {
	out := *s
	out.Memory = s.Memory.Clone()
	out.Input = append([]byte(nil), s.Input...)
	out.Output = append([]byte(nil), s.Output...)
	return &out
}
