// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package prover produces and verifies the pipeline's proofs: root proofs
// over single execution segments, aggregate proofs over pairs of adjacent
// proofs, and block proofs finalizing a run. Proving a root segment replays
// the guest from the segment pre-state and commits to the execution trace;
// the replay must land exactly on the recorded post root.
package prover

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/zkmips/zkm-prover/logger"
	"github.com/zkmips/zkm-prover/mipsevm"
	"github.com/zkmips/zkm-prover/profile"
	"github.com/zkmips/zkm-prover/proof"
	"github.com/zkmips/zkm-prover/segment"
)

var (
	ErrForeignProof     = errors.New("prover: proof was produced by a different circuit set")
	ErrInvalidProof     = errors.New("prover: proof verification failed")
	ErrUnexpectedKind   = errors.New("prover: unexpected proof kind")
	ErrNotAdjacent      = errors.New("prover: proofs cover non-adjacent segments")
	ErrReplayDiverged   = errors.New("prover: segment replay diverged from recorded roots")
	ErrDegreeOutOfRange = errors.New("prover: table degree outside permitted range")
)

// SegmentProver proves and verifies against one injected circuit set.
type SegmentProver struct {
	circuits *CircuitSet
	profile  *profile.Profile
}

// Option configures a SegmentProver.
type Option func(*SegmentProver) error

// WithProfile records a timing sample per prove and verify call.
func WithProfile(p *profile.Profile) Option {
	return func(sp *SegmentProver) error {
		sp.profile = p
		return nil
	}
}

// NewSegmentProver returns a prover bound to the given circuit set.
func NewSegmentProver(circuits *CircuitSet, opts ...Option) (*SegmentProver, error) {
	if circuits == nil {
		return nil, errors.New("prover: nil circuit set")
	}
	sp := &SegmentProver{circuits: circuits}
	for _, opt := range opts {
		if err := opt(sp); err != nil {
			return nil, err
		}
	}
	return sp, nil
}

// Circuits returns the circuit set the prover is bound to.
func (p *SegmentProver) Circuits() *CircuitSet { return p.circuits }

func (p *SegmentProver) scope(name string) func() {
	if p.profile == nil {
		return func() {}
	}
	return p.profile.Scope(name)
}

// ProveRoot replays the segment and produces its root proof. The replay must
// execute exactly the recorded number of steps and reach the recorded post
// root; every table trace must fit its degree range.
func (p *SegmentProver) ProveRoot(seg *segment.Segment) (*proof.Proof, error) {
	defer p.scope("prove_root")()
	log := logger.Logger()
	start := time.Now()

	if seg.State == nil {
		return nil, errors.New("prover: segment carries no state")
	}
	st := seg.State.Clone()
	if st.Root() != seg.PreRoot {
		return nil, fmt.Errorf("%w: segment %d pre-state", ErrReplayDiverged, seg.ID)
	}

	tb := newTraceBuilder()
	is := mipsevm.NewInstrumented(st)
	var executed uint64
	for executed < seg.Steps && !st.Exited {
		pc := st.PC
		insn, err := st.Memory.Word(pc)
		if err != nil {
			return nil, fmt.Errorf("prover: segment %d fetch at step %d: %w", seg.ID, executed, err)
		}
		before := is.Counters()
		if err := is.Step(); err != nil {
			return nil, fmt.Errorf("prover: segment %d step %d: %w", seg.ID, executed, err)
		}
		after := is.Counters()
		tb.step(pc, insn, mipsevm.Counters{
			Arith:  after.Arith - before.Arith,
			Logic:  after.Logic - before.Logic,
			MemOps: after.MemOps - before.MemOps,
		})
		executed++
	}
	if executed != seg.Steps {
		return nil, fmt.Errorf("%w: segment %d executed %d of %d steps", ErrReplayDiverged, seg.ID, executed, seg.Steps)
	}
	if st.Root() != seg.PostRoot {
		return nil, fmt.Errorf("%w: segment %d post-state", ErrReplayDiverged, seg.ID)
	}

	tb.finish(st)
	witness, degrees, err := tb.commit(p.circuits.ranges)
	if err != nil {
		return nil, fmt.Errorf("prover: segment %d: %w", seg.ID, err)
	}

	pv := proof.PublicValues{
		RootsBefore: proof.RootFromBytes(seg.PreRoot),
		RootsAfter:  proof.RootFromBytes(seg.PostRoot),
		Userdata:    append([]byte(nil), st.Output...),
	}
	pr := &proof.Proof{
		Kind:         proof.KindRoot,
		Fingerprint:  p.circuits.fingerprint,
		Values:       pv,
		Witness:      witness,
		Seal:         p.circuits.seal(proof.KindRoot, witness, pv),
		FirstSegment: seg.ID,
		LastSegment:  seg.ID,
		Steps:        seg.Steps,
	}

	log.Debug().Uint32("segment", seg.ID).Uint64("steps", seg.Steps).
		Uint32("cpuDegree", degrees[TableCPU]).
		Dur("took", time.Since(start)).Msg("root proof done")
	return pr, nil
}

// ProveAggregation joins two adjacent proofs into one aggregate proof. Both
// children are verified first; their public values must chain.
func (p *SegmentProver) ProveAggregation(left, right *proof.Proof) (*proof.Proof, error) {
	defer p.scope("prove_aggregation")()

	if err := p.verifyAggregand(left); err != nil {
		return nil, fmt.Errorf("left child: %w", err)
	}
	if err := p.verifyAggregand(right); err != nil {
		return nil, fmt.Errorf("right child: %w", err)
	}
	if left.LastSegment+1 != right.FirstSegment {
		return nil, fmt.Errorf("%w: [%d, %d] then [%d, %d]", ErrNotAdjacent,
			left.FirstSegment, left.LastSegment, right.FirstSegment, right.LastSegment)
	}

	merged, err := proof.MergePublicValues(left.Values, right.Values)
	if err != nil {
		return nil, err
	}

	witness := recursionWitness(left.Seal, right.Seal)
	pr := &proof.Proof{
		Kind:         proof.KindAggregate,
		Fingerprint:  p.circuits.fingerprint,
		Values:       merged,
		Witness:      witness,
		Seal:         p.circuits.seal(proof.KindAggregate, witness, merged),
		FirstSegment: left.FirstSegment,
		LastSegment:  right.LastSegment,
		Steps:        left.Steps + right.Steps,
	}

	log := logger.Logger()
	log.Debug().
		Uint32("first", pr.FirstSegment).Uint32("last", pr.LastSegment).
		Str("left", left.Kind.String()).Str("right", right.Kind.String()).
		Msg("aggregate proof done")
	return pr, nil
}

// ProveBlock finalizes a run proof into a block proof. prev, when not nil,
// chains the block to the previous one: its end state must be the new
// block's start state. The block proof is verified before it is returned.
func (p *SegmentProver) ProveBlock(child *proof.Proof, prev *proof.Proof) (*proof.Proof, error) {
	defer p.scope("prove_block")()

	if err := p.verifyAggregand(child); err != nil {
		return nil, fmt.Errorf("block child: %w", err)
	}

	seals := [][32]byte{child.Seal}
	if prev != nil {
		if prev.Kind != proof.KindBlock {
			return nil, fmt.Errorf("%w: previous proof is %s, want block", ErrUnexpectedKind, prev.Kind)
		}
		if err := p.VerifyBlock(prev); err != nil {
			return nil, fmt.Errorf("previous block: %w", err)
		}
		if prev.Values.RootsAfter != child.Values.RootsBefore {
			return nil, fmt.Errorf("%w: previous block ends at %s, block starts at %s",
				proof.ErrContinuity, prev.Values.RootsAfter, child.Values.RootsBefore)
		}
		seals = append(seals, prev.Seal)
	}

	pv := child.Values
	pv.Userdata = append([]byte(nil), child.Values.Userdata...)

	witness := recursionWitness(seals...)
	pr := &proof.Proof{
		Kind:         proof.KindBlock,
		Fingerprint:  p.circuits.fingerprint,
		Values:       pv,
		Witness:      witness,
		Seal:         p.circuits.seal(proof.KindBlock, witness, pv),
		FirstSegment: child.FirstSegment,
		LastSegment:  child.LastSegment,
		Steps:        child.Steps,
	}
	if err := p.VerifyBlock(pr); err != nil {
		return nil, err
	}

	log := logger.Logger()
	log.Info().
		Uint32("segments", pr.LastSegment-pr.FirstSegment+1).
		Uint64("steps", pr.Steps).Bool("chained", prev != nil).
		Msg("block proof done")
	return pr, nil
}

// Verify checks a proof of any kind.
func (p *SegmentProver) Verify(pr *proof.Proof) error {
	if pr == nil {
		return errors.New("prover: nil proof")
	}
	switch pr.Kind {
	case proof.KindRoot, proof.KindAggregate, proof.KindBlock:
		return p.verify(pr, pr.Kind)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, pr.Kind)
	}
}

// VerifyRoot checks a root proof.
func (p *SegmentProver) VerifyRoot(pr *proof.Proof) error {
	return p.verify(pr, proof.KindRoot)
}

// VerifyAggregation checks an aggregate proof.
func (p *SegmentProver) VerifyAggregation(pr *proof.Proof) error {
	return p.verify(pr, proof.KindAggregate)
}

// VerifyBlock checks a block proof.
func (p *SegmentProver) VerifyBlock(pr *proof.Proof) error {
	return p.verify(pr, proof.KindBlock)
}

func (p *SegmentProver) verify(pr *proof.Proof, want proof.Kind) error {
	defer p.scope("verify")()

	if pr == nil {
		return errors.New("prover: nil proof")
	}
	if pr.Kind != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedKind, pr.Kind, want)
	}
	if pr.Fingerprint != p.circuits.fingerprint {
		return fmt.Errorf("%w: segments [%d, %d]", ErrForeignProof, pr.FirstSegment, pr.LastSegment)
	}
	if p.circuits.seal(pr.Kind, pr.Witness, pr.Values) != pr.Seal {
		return fmt.Errorf("%w: %s proof over segments [%d, %d]", ErrInvalidProof,
			pr.Kind, pr.FirstSegment, pr.LastSegment)
	}
	return nil
}

// verifyAggregand admits the child kinds recursion can consume.
func (p *SegmentProver) verifyAggregand(c *proof.Proof) error {
	if c == nil {
		return errors.New("prover: nil proof")
	}
	if c.Kind != proof.KindRoot && c.Kind != proof.KindAggregate {
		return fmt.Errorf("%w: %s cannot be aggregated", ErrUnexpectedKind, c.Kind)
	}
	return p.verify(c, c.Kind)
}

// recursionWitness digests the seals a recursive proof wraps.
func recursionWitness(seals ...[32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("zkm/recursion/v1"))
	for _, s := range seals {
		h.Write(s[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
