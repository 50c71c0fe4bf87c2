// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// zkm-prover drives the proving pipeline: split an execution into segments,
// prove them, aggregate the proofs into a block proof and optionally wrap it
// into a Groth16 proof. Configuration comes from the environment; every
// unrecovered failure exits non-zero with the failing stage named.
//
//	zkm-prover split | prove | aggregate_proof | aggregate_proof_all | prove_groth16 | bench
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zkmips/zkm-prover/aggregation"
	"github.com/zkmips/zkm-prover/logger"
	"github.com/zkmips/zkm-prover/mipsevm"
	"github.com/zkmips/zkm-prover/profile"
	"github.com/zkmips/zkm-prover/proof"
	"github.com/zkmips/zkm-prover/prover"
	"github.com/zkmips/zkm-prover/segment"
	"github.com/zkmips/zkm-prover/wrap"
)

// defaultSegmentSteps is the per-segment step budget when SEG_SIZE is unset.
const defaultSegmentSteps = 1 << 17

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: zkm-prover split|prove|aggregate_proof|aggregate_proof_all|prove_groth16|bench")
		os.Exit(2)
	}

	cmd := os.Args[1]
	run, ok := map[string]func() error{
		"split":               runSplit,
		"prove":               runProve,
		"aggregate_proof":     runAggregateProof,
		"aggregate_proof_all": runAggregateProofAll,
		"prove_groth16":       runProveGroth16,
		"bench":               runBench,
	}[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "zkm-prover: unknown command %q\n", cmd)
		os.Exit(2)
	}

	if err := run(); err != nil {
		log := logger.Logger()
		log.Error().Err(err).Str("command", cmd).Msg("pipeline failed")
		os.Exit(1)
	}
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envUint(key string, def uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func basedir() string { return envStr("BASEDIR", "/tmp/cannon") }

// blockDir is where artifacts of the configured block live.
func blockDir() string { return filepath.Join(basedir(), envStr("BLOCK_NO", "0")) }

func newProver() (*prover.SegmentProver, error) {
	circuits := prover.NewCircuitSet(prover.StandardFastConfig(), prover.DefaultDegreeBitsRange())
	return prover.NewSegmentProver(circuits)
}

// loadGuest loads the guest ELF, patches the argv block and preloads the
// input stream from BLOCK_FILE when one is configured.
func loadGuest() (*mipsevm.State, error) {
	elfPath := envStr("ELF_PATH", "")
	if elfPath == "" {
		return nil, errors.New("ELF_PATH not set")
	}
	f, err := os.Open(elfPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := mipsevm.LoadELF(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", elfPath, err)
	}

	var args []string
	if raw := envStr("ARGS", ""); raw != "" {
		args = strings.Fields(raw)
	}
	if err := mipsevm.PatchStack(st, args); err != nil {
		return nil, err
	}

	if blockFile := envStr("BLOCK_FILE", ""); blockFile != "" {
		input, err := os.ReadFile(blockFile)
		if err != nil {
			return nil, fmt.Errorf("reading block input: %w", err)
		}
		st.Input = input
	}
	return st, nil
}

func runSplit() error {
	st, err := loadGuest()
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	segSize, err := envUint("SEG_SIZE", defaultSegmentSteps)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	out := envStr("SEG_OUTPUT", filepath.Join(blockDir(), "segments"))

	count, err := segment.Split(st, out, segSize)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}
	log := logger.Logger()
	log.Info().Int("segments", count).Str("dir", out).Msg("split finished")
	return nil
}

func runProve() error {
	sp, err := newProver()
	if err != nil {
		return err
	}
	segFile := envStr("SEG_FILE", "")
	if segFile == "" {
		return errors.New("prove: SEG_FILE not set")
	}
	seg, err := segment.Load(segFile)
	if err != nil {
		return fmt.Errorf("prove: %w", err)
	}
	pr, err := sp.ProveRoot(seg)
	if err != nil {
		return fmt.Errorf("prove-root: segment %d: %w", seg.ID, err)
	}
	if err := sp.VerifyRoot(pr); err != nil {
		return fmt.Errorf("verify: segment %d: %w", seg.ID, err)
	}
	return pr.Save(segFile + ".proof")
}

// runAggregateProof aggregates exactly two adjacent segments.
func runAggregateProof() error {
	sp, err := newProver()
	if err != nil {
		return err
	}
	left := envStr("SEG_FILE", "")
	right := envStr("SEG_FILE2", "")
	if left == "" || right == "" {
		return errors.New("aggregate_proof: SEG_FILE and SEG_FILE2 must be set")
	}

	var proofs [2]*proof.Proof
	for i, path := range []string{left, right} {
		seg, err := segment.Load(path)
		if err != nil {
			return fmt.Errorf("aggregate_proof: %w", err)
		}
		pr, err := sp.ProveRoot(seg)
		if err != nil {
			return fmt.Errorf("prove-root: segment %d: %w", seg.ID, err)
		}
		if err := sp.VerifyRoot(pr); err != nil {
			return fmt.Errorf("verify: segment %d: %w", seg.ID, err)
		}
		proofs[i] = pr
	}

	agg, err := sp.ProveAggregation(proofs[0], proofs[1])
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := sp.VerifyAggregation(agg); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return agg.Save(left + ".agg.proof")
}

func runAggregateProofAll() error {
	n, err := envUint("SEG_FILE_NUM", 0)
	if err != nil {
		return fmt.Errorf("aggregate_proof_all: %w", err)
	}
	if err := aggregation.RequireMulti(int(n)); err != nil {
		return err
	}
	dir := envStr("SEG_FILE_DIR", filepath.Join(blockDir(), "segments"))

	sp, err := newProver()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(blockDir(), 0o755); err != nil {
		return err
	}
	p := profile.Start(profile.WithPath(filepath.Join(blockDir(), "aggregate.pprof")))

	blk, err := aggregation.AggregateAll(sp, segment.NewDirSource(dir), int(n), nil)
	if err != nil {
		return err
	}

	fmt.Print(p.Top())
	p.Stop()

	path := filepath.Join(blockDir(), "block.proof")
	if err := blk.Save(path); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	log := logger.Logger()
	log.Info().Str("path", path).
		Str("rootsBefore", blk.Values.RootsBefore.String()).
		Str("rootsAfter", blk.Values.RootsAfter.String()).
		Msg("block proof saved")
	return nil
}

func runProveGroth16() error {
	sp, err := newProver()
	if err != nil {
		return err
	}
	blk, err := proof.Load(filepath.Join(blockDir(), "block.proof"))
	if err != nil {
		return fmt.Errorf("prove_groth16: %w", err)
	}

	w, err := wrap.NewWrapper(sp)
	if err != nil {
		return err
	}
	wrapped, err := w.Wrap(blk)
	if err != nil {
		return err
	}
	return wrapped.Save(envStr("WRAP_OUTPUT", filepath.Join(blockDir(), "groth16")))
}

// runBench splits and proves the synthetic guest end to end, reporting
// per-stage wall times. The fixed input stream makes runs comparable.
func runBench() error {
	iters, err := envUint("BENCH_ITERS", 1024)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	segSize, err := envUint("SEG_SIZE", defaultSegmentSteps)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	st, err := mipsevm.BenchProgram(uint32(iters))
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	input := make([]byte, 32)
	for i := range input {
		input[i] = 5
	}
	st.Input = input

	dir, err := os.MkdirTemp("", "zkm-bench")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	p := profile.Start(profile.WithNoOutput())
	count, err := segment.Split(st, dir, segSize)
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}

	circuits := prover.NewCircuitSet(prover.StandardFastConfig(), prover.DefaultDegreeBitsRange())
	sp, err := prover.NewSegmentProver(circuits, prover.WithProfile(p))
	if err != nil {
		return err
	}

	blk, err := aggregation.AggregateAll(sp, segment.NewDirSource(dir), count, nil)
	if err != nil {
		return err
	}

	fmt.Print(p.Top())
	p.Stop()
	log := logger.Logger()
	log.Info().Int("segments", count).Uint64("steps", blk.Steps).
		Int("userdataBytes", len(blk.Values.Userdata)).Msg("bench finished")
	return nil
}
