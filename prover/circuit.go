// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/zkmips/zkm-prover/proof"
)

// CircuitSet pins the proving parameters for a whole pipeline run: the STARK
// configuration and the per-table degree ranges. It is built once at startup
// and injected wherever proofs are produced or verified; it never changes
// afterwards. Every proof carries its fingerprint, so artifacts from a
// differently parameterized run are rejected instead of misverified.
type CircuitSet struct {
	config      StarkConfig
	ranges      DegreeBitsRange
	fingerprint [32]byte
}

// NewCircuitSet derives the fingerprint and freezes the parameters.
func NewCircuitSet(config StarkConfig, ranges DegreeBitsRange) *CircuitSet {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("zkm/circuit-set/v1"))

	var buf [4]byte
	writeWord := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
	}
	writeWord(config.SecurityBits)
	writeWord(config.NumChallenges)
	writeWord(config.RateBits)
	writeWord(config.CapHeight)
	writeWord(config.ProofOfWorkBits)
	writeWord(config.NumQueryRounds)
	for _, r := range ranges {
		writeWord(r.MinBits)
		writeWord(r.MaxBits)
	}

	cs := &CircuitSet{config: config, ranges: ranges}
	copy(cs.fingerprint[:], h.Sum(nil))
	return cs
}

// Fingerprint identifies the parameter set.
func (cs *CircuitSet) Fingerprint() [32]byte { return cs.fingerprint }

// Config returns the STARK configuration.
func (cs *CircuitSet) Config() StarkConfig { return cs.config }

// Ranges returns the per-table degree ranges.
func (cs *CircuitSet) Ranges() DegreeBitsRange { return cs.ranges }

// seal binds a proof's kind, witness and public values to this circuit set.
// Verification recomputes it from the carried fields.
func (cs *CircuitSet) seal(kind proof.Kind, witness [32]byte, pv proof.PublicValues) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("zkm/seal/v1"))
	h.Write(cs.fingerprint[:])
	h.Write([]byte{byte(kind)})
	h.Write(witness[:])
	d := pv.Digest()
	h.Write(d[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
