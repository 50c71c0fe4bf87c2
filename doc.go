// Package zkmprover turns the execution trace of a MIPS program, split into
// fixed-size segments, into a single succinct proof that the whole program ran
// correctly.
//
// The pipeline stages are:
//   - mipsevm: executes the program and splits the trace into segments
//   - prover: proves each segment and combines proofs pairwise
//   - aggregation: schedules pairwise combination down to one final proof
//   - wrap: converts the final block proof into a Groth16 proof for cheap
//     external verification
//
// The driver binary lives in cmd/zkm-prover.
package zkmprover

import (
	"github.com/blang/semver/v4"
)

var Version = semver.MustParse("1.0.0")
