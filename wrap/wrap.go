// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package wrap converts a verified block proof into a Groth16 proof on BN254,
// the outer proof system cheap enough to check on-chain. The wrapper owns no
// correctness logic of its own: it refuses unverified input and re-verifies
// its own output before handing it back.
package wrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/zkmips/zkm-prover/logger"
	"github.com/zkmips/zkm-prover/proof"
	"github.com/zkmips/zkm-prover/prover"
)

var ErrNotBlockProof = errors.New("wrap: only block proofs can be wrapped")

// Wrapper holds the compiled wrapping circuit and its Groth16 keys. Building
// one is expensive; it is reusable for any number of block proofs produced
// under the same circuit set.
type Wrapper struct {
	prover *prover.SegmentProver
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
}

// NewWrapper compiles the wrapping circuit and runs the Groth16 setup.
// The setup here is single-party; a deployment that relies on it must replace
// the keys with MPC generated ones.
func NewWrapper(sp *prover.SegmentProver) (*Wrapper, error) {
	if sp == nil {
		return nil, errors.New("wrap: nil prover")
	}
	log := logger.Logger()
	start := time.Now()

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &blockCircuit{})
	if err != nil {
		return nil, fmt.Errorf("wrap: compile: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("wrap: setup: %w", err)
	}

	log.Info().Int("constraints", ccs.GetNbConstraints()).
		Dur("took", time.Since(start)).Msg("wrapping circuit ready")
	return &Wrapper{prover: sp, ccs: ccs, pk: pk, vk: vk}, nil
}

// WrappedProof is the terminal artifact of a run: a Groth16 proof whose
// single public input commits to the block proof's claims.
type WrappedProof struct {
	Proof         groth16.Proof
	VerifyingKey  groth16.VerifyingKey
	PublicWitness witness.Witness

	// Digest is the public input, the MiMC digest of the wrapped claims.
	Digest []byte
}

// Wrap proves the block proof's public values into the outer system. The
// block proof is verified first and the Groth16 proof is verified before it
// is returned.
func (w *Wrapper) Wrap(blk *proof.Proof) (*WrappedProof, error) {
	log := logger.Logger()
	start := time.Now()

	if blk == nil {
		return nil, errors.New("wrap: nil proof")
	}
	if blk.Kind != proof.KindBlock {
		return nil, fmt.Errorf("%w: got %s", ErrNotBlockProof, blk.Kind)
	}
	if err := w.prover.VerifyBlock(blk); err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}

	assignment, digest := assignmentFor(blk)
	wtns, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("wrap: witness: %w", err)
	}
	prf, err := groth16.Prove(w.ccs, w.pk, wtns)
	if err != nil {
		return nil, fmt.Errorf("wrap: prove: %w", err)
	}
	pub, err := wtns.Public()
	if err != nil {
		return nil, fmt.Errorf("wrap: public witness: %w", err)
	}
	if err := groth16.Verify(prf, w.vk, pub); err != nil {
		return nil, fmt.Errorf("wrap: verify: %w", err)
	}

	log.Info().Hex("digest", digest).Dur("took", time.Since(start)).Msg("block proof wrapped")
	return &WrappedProof{
		Proof:         prf,
		VerifyingKey:  w.vk,
		PublicWitness: pub,
		Digest:        digest,
	}, nil
}

// Verify re-checks the wrapped proof against its own verifying key and
// public witness.
func (wp *WrappedProof) Verify() error {
	return groth16.Verify(wp.Proof, wp.VerifyingKey, wp.PublicWitness)
}

// Save writes the proof, the verifying key and the public witness into dir,
// each in its native gnark serialization.
func (wp *WrappedProof) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name string
		src  io.WriterTo
	}{
		{"proof.groth16", wp.Proof},
		{"verifying.key", wp.VerifyingKey},
		{"public.witness", wp.PublicWitness},
	}
	for _, file := range files {
		path := filepath.Join(dir, file.name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if _, err := file.src.WriteTo(f); err != nil {
			f.Close()
			return fmt.Errorf("wrap: writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	log := logger.Logger()
	log.Info().Str("dir", dir).Msg("wrapped proof saved")
	return nil
}
