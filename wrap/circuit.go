// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package wrap

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	gadgetmimc "github.com/consensys/gnark/std/hash/mimc"
	"golang.org/x/crypto/blake2b"

	"github.com/zkmips/zkm-prover/proof"
)

// blockCircuit binds the claims of a block proof to a single public field
// element. The witness carries the circuit set fingerprint, the boundary
// state roots and a digest of the userdata, each packed into BN254 scalars;
// the lone public input is their MiMC digest. A verifier that checks the
// Groth16 proof against the digest it expects has checked every claim.
type blockCircuit struct {
	Fingerprint [2]frontend.Variable
	RootsBefore [8]frontend.Variable
	RootsAfter  [8]frontend.Variable
	Userdata    [2]frontend.Variable

	Digest frontend.Variable `gnark:",public"`
}

func (c *blockCircuit) Define(api frontend.API) error {
	h, err := gadgetmimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Fingerprint[:]...)
	h.Write(c.RootsBefore[:]...)
	h.Write(c.RootsAfter[:]...)
	h.Write(c.Userdata[:]...)
	api.AssertIsEqual(h.Sum(), c.Digest)
	return nil
}

// halves splits a 32 byte digest into two scalars; 16 bytes always fit the
// BN254 field.
func halves(d [32]byte) [2]frontend.Variable {
	return [2]frontend.Variable{
		new(big.Int).SetBytes(d[:16]),
		new(big.Int).SetBytes(d[16:]),
	}
}

func words(r proof.Root) [8]frontend.Variable {
	var out [8]frontend.Variable
	for i, w := range r {
		out[i] = w
	}
	return out
}

// assignmentFor builds the full witness for a block proof and the digest the
// circuit will expose, computed with the native MiMC over the same scalar
// sequence the in-circuit hasher absorbs.
func assignmentFor(blk *proof.Proof) (*blockCircuit, []byte) {
	user := blake2b.Sum256(blk.Values.Userdata)

	h := mimc.NewMiMC()
	absorb := func(v *big.Int) {
		var e fr.Element
		e.SetBigInt(v)
		eb := e.Bytes()
		h.Write(eb[:])
	}
	absorbDigest := func(d [32]byte) {
		absorb(new(big.Int).SetBytes(d[:16]))
		absorb(new(big.Int).SetBytes(d[16:]))
	}
	absorbRoot := func(r proof.Root) {
		for _, w := range r {
			absorb(new(big.Int).SetUint64(uint64(w)))
		}
	}

	absorbDigest(blk.Fingerprint)
	absorbRoot(blk.Values.RootsBefore)
	absorbRoot(blk.Values.RootsAfter)
	absorbDigest(user)
	digest := h.Sum(nil)

	return &blockCircuit{
		Fingerprint: halves(blk.Fingerprint),
		RootsBefore: words(blk.Values.RootsBefore),
		RootsAfter:  words(blk.Values.RootsAfter),
		Userdata:    halves(user),
		Digest:      new(big.Int).SetBytes(digest),
	}, digest
}
