// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package segment defines execution segments: resumable slices of a guest
// run, produced by the splitter and consumed by the segment prover. A
// segment file carries the full pre-state, so proving needs nothing but the
// file and the step count recorded in it.
package segment

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/zkmips/zkm-prover/mipsevm"
)

// Segment is one prover-sized slice of an execution.
type Segment struct {
	// ID is the zero-based position of the segment in the run.
	ID uint32

	// State is the architectural state at the start of the segment.
	State *mipsevm.State

	// Steps is the number of instructions executed within the segment.
	Steps uint64

	// PreRoot and PostRoot are the state commitments at the segment
	// boundaries. PreRoot always equals State.Root().
	PreRoot  [32]byte
	PostRoot [32]byte
}

// FileName returns the conventional path of segment index inside dir.
func FileName(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index))
}

// Source hands out the segments of a run by index.
type Source interface {
	Segment(index int) (*Segment, error)
}

// DirSource reads segments from the files a splitter wrote into a directory.
type DirSource struct {
	dir string
}

// NewDirSource returns a source backed by dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Segment(index int) (*Segment, error) {
	seg, err := Load(FileName(s.dir, index))
	if err != nil {
		return nil, fmt.Errorf("segment %d: %w", index, err)
	}
	if seg.ID != uint32(index) {
		return nil, fmt.Errorf("segment %d: file records id %d", index, seg.ID)
	}
	return seg, nil
}
