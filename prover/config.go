// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"fmt"
	"math/bits"
)

// StarkConfig collects the parameters every STARK table is proved under.
type StarkConfig struct {
	SecurityBits    uint32
	NumChallenges   uint32
	RateBits        uint32
	CapHeight       uint32
	ProofOfWorkBits uint32
	NumQueryRounds  uint32
}

// StandardFastConfig returns the configuration tuned for proving speed over
// proof size, the one the pipeline runs with.
func StandardFastConfig() StarkConfig {
	return StarkConfig{
		SecurityBits:    100,
		NumChallenges:   2,
		RateBits:        1,
		CapHeight:       4,
		ProofOfWorkBits: 16,
		NumQueryRounds:  84,
	}
}

// Table identifies one of the STARK tables a segment proof commits to.
type Table uint8

const (
	TableArithmetic Table = iota
	TableCPU
	TablePoseidon
	TablePoseidonSponge
	TableLogic
	TableMemory

	// NumTables is the number of tables in a segment proof.
	NumTables = 6
)

func (t Table) String() string {
	switch t {
	case TableArithmetic:
		return "arithmetic"
	case TableCPU:
		return "cpu"
	case TablePoseidon:
		return "poseidon"
	case TablePoseidonSponge:
		return "poseidon_sponge"
	case TableLogic:
		return "logic"
	case TableMemory:
		return "memory"
	default:
		return fmt.Sprintf("table(%d)", uint8(t))
	}
}

// DegreeRange is the half-open interval [MinBits, MaxBits) of log2 trace
// sizes a table has preprocessed circuits for. Traces smaller than MinBits
// are padded up; traces at or above MaxBits cannot be proved.
type DegreeRange struct {
	MinBits uint32
	MaxBits uint32
}

// Contains reports whether a trace of 2^bits rows fits the range.
func (r DegreeRange) Contains(bits uint32) bool {
	return bits >= r.MinBits && bits < r.MaxBits
}

// DegreeBitsRange holds one degree range per table, indexed by Table.
type DegreeBitsRange [NumTables]DegreeRange

// DefaultDegreeBitsRange returns the ranges the preprocessed circuit set
// ships with.
func DefaultDegreeBitsRange() DegreeBitsRange {
	return DegreeBitsRange{
		TableArithmetic:     {MinBits: 10, MaxBits: 21},
		TableCPU:            {MinBits: 12, MaxBits: 22},
		TablePoseidon:       {MinBits: 12, MaxBits: 21},
		TablePoseidonSponge: {MinBits: 8, MaxBits: 21},
		TableLogic:          {MinBits: 6, MaxBits: 21},
		TableMemory:         {MinBits: 13, MaxBits: 23},
	}
}

// requiredDegreeBits returns the smallest b with 2^b >= rows.
func requiredDegreeBits(rows uint64) uint32 {
	if rows <= 1 {
		return 0
	}
	return uint32(bits.Len64(rows - 1))
}
