// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package mipsevm

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
)

var ErrBadELF = errors.New("mipsevm: unsupported ELF")

// LoadELF reads a statically linked big-endian MIPS32 executable and returns
// a state with its PT_LOAD segments mapped and the program counter at the
// entry point. BSS beyond the file image stays zero because fresh pages are
// zero-filled.
func LoadELF(r io.ReaderAt) (*State, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("mipsevm: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%w: class %s", ErrBadELF, f.Class)
	}
	if f.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("%w: byte order %s", ErrBadELF, f.Data)
	}
	if f.Machine != elf.EM_MIPS {
		return nil, fmt.Errorf("%w: machine %s", ErrBadELF, f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: type %s", ErrBadELF, f.Type)
	}

	s := NewState(uint32(f.Entry))
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Vaddr+p.Memsz < p.Vaddr || p.Vaddr+p.Memsz > 1<<32 {
			return nil, fmt.Errorf("%w: segment [0x%x, +0x%x) out of range", ErrBadELF, p.Vaddr, p.Memsz)
		}
		data := make([]byte, p.Filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return nil, fmt.Errorf("mipsevm: read segment at 0x%x: %w", p.Vaddr, err)
		}
		if err := s.Memory.SetRange(uint32(p.Vaddr), data); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// PatchStack writes the O32 process startup block at the stack pointer:
// argc, argv pointers, empty envp, an AT_NULL auxv and the argument strings.
func PatchStack(s *State, args []string) error {
	sp := uint32(StackTop)
	s.Registers[29] = sp

	// argc word, argv pointers, argv NULL, envp NULL, auxv AT_NULL pair.
	strBase := sp + 4 + 4*uint32(len(args)) + 4 + 4 + 8
	ptrs := make([]uint32, len(args))
	for i, a := range args {
		ptrs[i] = strBase
		strBase += uint32(len(a)) + 1
	}

	if err := s.Memory.SetWord(sp, uint32(len(args))); err != nil {
		return err
	}
	off := sp + 4
	for _, p := range ptrs {
		if err := s.Memory.SetWord(off, p); err != nil {
			return err
		}
		off += 4
	}
	for i := 0; i < 4; i++ { // argv NULL, envp NULL, AT_NULL (type, value)
		if err := s.Memory.SetWord(off, 0); err != nil {
			return err
		}
		off += 4
	}
	for i, a := range args {
		if err := s.Memory.SetRange(ptrs[i], append([]byte(a), 0)); err != nil {
			return err
		}
	}
	return nil
}
