// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package aggregation

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zkmips/zkm-prover/logger"
	"github.com/zkmips/zkm-prover/proof"
	"github.com/zkmips/zkm-prover/prover"
	"github.com/zkmips/zkm-prover/segment"
)

// Runner executes an aggregation plan against a segment source, producing one
// verified proof covering every segment. Any failure aborts the run; nothing
// is retried or cached across runs.
type Runner struct {
	prover *prover.SegmentProver
	source segment.Source

	sequential bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSequential disables the concurrent proving of side-pair leaves. The two
// root proofs of a side pair touch disjoint segments, so they run on separate
// goroutines by default.
func WithSequential() RunnerOption {
	return func(r *Runner) { r.sequential = true }
}

// NewRunner returns a runner proving with sp over the segments of src.
func NewRunner(sp *prover.SegmentProver, src segment.Source, opts ...RunnerOption) *Runner {
	r := &Runner{prover: sp, source: src}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// proveLeaf loads segment i, proves it and verifies the root proof before it
// is admitted into the recursion.
func (r *Runner) proveLeaf(i int) (*proof.Proof, error) {
	seg, err := r.source.Segment(i)
	if err != nil {
		return nil, fmt.Errorf("prove-root: segment %d: %w", i, err)
	}
	pr, err := r.prover.ProveRoot(seg)
	if err != nil {
		return nil, fmt.Errorf("prove-root: segment %d: %w", i, err)
	}
	if err := r.prover.VerifyRoot(pr); err != nil {
		return nil, fmt.Errorf("verify: segment %d: %w", i, err)
	}
	return pr, nil
}

// Run folds the root proofs of segments 0..n-1 into a single proof following
// Plan(n). With n == 1 the root proof of segment 0 is the final proof and no
// aggregation happens.
func (r *Runner) Run(n int) (*proof.Proof, error) {
	log := logger.Logger()
	start := time.Now()

	ops, err := Plan(n)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return r.proveLeaf(0)
	}

	// slots[0..n-1] hold root proofs, slots[n+k] the output of ops[k].
	slots := make([]*proof.Proof, n+len(ops))
	for k, op := range ops {
		if err := r.materialize(slots, n, op); err != nil {
			return nil, err
		}
		left, right := slots[op.Left], slots[op.Right]
		agg, err := r.prover.ProveAggregation(left, right)
		if err != nil {
			return nil, fmt.Errorf("aggregate: segments [%d, %d] with [%d, %d]: %w",
				left.FirstSegment, left.LastSegment, right.FirstSegment, right.LastSegment, err)
		}
		if err := r.prover.VerifyAggregation(agg); err != nil {
			return nil, fmt.Errorf("verify: segments [%d, %d]: %w",
				agg.FirstSegment, agg.LastSegment, err)
		}
		slots[n+k] = agg
	}

	final := slots[Result(n, ops)]
	log.Info().Int("segments", n).Int("aggregations", len(ops)).
		Dur("took", time.Since(start)).Msg("aggregation done")
	return final, nil
}

// materialize proves the leaf operands of op that are not available yet. When
// both operands are fresh leaves (a side pair) they are proved concurrently.
func (r *Runner) materialize(slots []*proof.Proof, n int, op Op) error {
	leaves := make([]int, 0, 2)
	for _, ref := range []int{op.Left, op.Right} {
		if ref < n && slots[ref] == nil {
			leaves = append(leaves, ref)
		}
	}
	switch {
	case len(leaves) == 0:
		return nil
	case len(leaves) == 1 || r.sequential:
		for _, i := range leaves {
			pr, err := r.proveLeaf(i)
			if err != nil {
				return err
			}
			slots[i] = pr
		}
		return nil
	default:
		var g errgroup.Group
		for _, i := range leaves {
			g.Go(func() error {
				pr, err := r.proveLeaf(i)
				if err != nil {
					return err
				}
				slots[i] = pr
				return nil
			})
		}
		return g.Wait()
	}
}

// AggregateAll proves every segment of src, folds the proofs into one and
// finalizes it into a block proof, optionally chained to the previous block.
// The returned proof is verified.
func AggregateAll(sp *prover.SegmentProver, src segment.Source, n int, prev *proof.Proof, opts ...RunnerOption) (*proof.Proof, error) {
	if prev != nil && prev.Kind != proof.KindBlock {
		return nil, fmt.Errorf("aggregation: previous proof is %s, want block", prev.Kind)
	}
	final, err := NewRunner(sp, src, opts...).Run(n)
	if err != nil {
		return nil, err
	}
	blk, err := sp.ProveBlock(final, prev)
	if err != nil {
		return nil, fmt.Errorf("block: %w", err)
	}
	return blk, nil
}

// ErrTooFewSegments is returned by RequireMulti when a caller explicitly asks
// for multi-segment aggregation over fewer than two segments.
var ErrTooFewSegments = errors.New("aggregation: at least two segments required")

// RequireMulti validates a segment count for the multi-segment entry points.
// A single segment is a valid run (the root proof stands alone) but asking to
// aggregate it is a usage error.
func RequireMulti(n int) error {
	if n < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewSegments, n)
	}
	return nil
}
