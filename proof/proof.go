// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package proof defines the artifacts produced by the proving pipeline and
// the public value algebra shared by the segment prover, the aggregation
// scheduler and the block wrapper.
package proof

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Root is a state commitment split into eight little-endian 32-bit words,
// the shape circuits consume commitments in.
type Root [8]uint32

// RootFromBytes splits a 32 byte digest into words.
func RootFromBytes(b [32]byte) Root {
	var r Root
	for i := range r {
		r[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return r
}

// Bytes reassembles the digest the root was split from.
func (r Root) Bytes() [32]byte {
	var b [32]byte
	for i, w := range r {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func (r Root) String() string {
	b := r.Bytes()
	return fmt.Sprintf("%x", b[:])
}

// PublicValues are the statement a proof makes about an execution span:
// the machine moved from RootsBefore to RootsAfter and its accumulated
// output stream was Userdata.
type PublicValues struct {
	RootsBefore Root
	RootsAfter  Root
	Userdata    []byte
}

// Digest commits to the public values.
func (pv PublicValues) Digest() [32]byte {
	h, _ := blake2b.New256(nil)
	before := pv.RootsBefore.Bytes()
	after := pv.RootsAfter.Bytes()
	h.Write(before[:])
	h.Write(after[:])
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(pv.Userdata)))
	h.Write(n[:])
	h.Write(pv.Userdata)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ErrContinuity is returned when two proofs cannot be aggregated because the
// right one does not resume at the state the left one stopped in.
var ErrContinuity = errors.New("proof: continuity broken between adjacent proofs")

// MergePublicValues combines the statements of two adjacent proofs. The
// merged span starts where the left one started and ends where the right one
// ended; the userdata is the right side's, which already accumulates the
// left's output.
func MergePublicValues(left, right PublicValues) (PublicValues, error) {
	if left.RootsAfter != right.RootsBefore {
		return PublicValues{}, fmt.Errorf("%w: left ends at %s, right starts at %s",
			ErrContinuity, left.RootsAfter, right.RootsBefore)
	}
	return PublicValues{
		RootsBefore: left.RootsBefore,
		RootsAfter:  right.RootsAfter,
		Userdata:    append([]byte(nil), right.Userdata...),
	}, nil
}

// Kind tags a proof with the recursion layer that produced it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindRoot proves a single execution segment.
	KindRoot
	// KindAggregate proves the join of two adjacent proofs.
	KindAggregate
	// KindBlock finalizes an aggregate into a block proof, optionally
	// chained to the previous block.
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindAggregate:
		return "aggregate"
	case KindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Proof is a pipeline artifact. The seal binds the circuit set fingerprint,
// the kind, the witness digest and the public values together; verifiers
// recompute it from those fields.
type Proof struct {
	Kind        Kind
	Fingerprint [32]byte
	Values      PublicValues

	// Witness digests what the seal binds beyond the public values: the
	// packed execution trace for root proofs, the child seals for
	// aggregates and blocks.
	Witness [32]byte
	Seal    [32]byte

	// FirstSegment and LastSegment delimit the segment span the proof
	// covers, inclusive.
	FirstSegment uint32
	LastSegment  uint32

	// Steps is the number of guest instructions the span covers.
	Steps uint64
}
