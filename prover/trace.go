// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/consensys/gnark-crypto/field/goldilocks"
	"golang.org/x/crypto/blake2b"

	"github.com/zkmips/zkm-prover/mipsevm"
)

// Execution events are packed into goldilocks field elements before they
// enter a table commitment, mirroring the element layout the table circuits
// consume rows in.
const hashRowsPerPage = mipsevm.PageSize / 32

// traceBuilder accumulates per-table row commitments while a segment is
// replayed.
type traceBuilder struct {
	hashers [NumTables]hash.Hash
	rows    [NumTables]uint64
}

func newTraceBuilder() *traceBuilder {
	tb := new(traceBuilder)
	for i := range tb.hashers {
		h, _ := blake2b.New256(nil)
		tb.hashers[i] = h
	}
	return tb
}

// packEvent reduces a (pc, instruction) pair into a field element.
func packEvent(pc, insn uint32) [goldilocks.Bytes]byte {
	var e goldilocks.Element
	e.SetUint64(uint64(pc)<<32 | uint64(insn))
	return e.Bytes()
}

func (tb *traceBuilder) feed(t Table, e [goldilocks.Bytes]byte, rows uint64) {
	tb.hashers[t].Write(e[:])
	tb.rows[t] += rows
}

// step records one executed instruction. d is the counter delta the step
// produced, which routes the event to the work tables it touched.
func (tb *traceBuilder) step(pc, insn uint32, d mipsevm.Counters) {
	e := packEvent(pc, insn)
	tb.feed(TableCPU, e, 1)
	if d.Arith > 0 {
		tb.feed(TableArithmetic, e, d.Arith)
	}
	if d.Logic > 0 {
		tb.feed(TableLogic, e, d.Logic)
	}
	if d.MemOps > 0 {
		tb.feed(TableMemory, e, d.MemOps)
	}
}

// finish folds the hashing workload into the poseidon tables: page
// commitments for the memory image and sponge absorption for the streams.
func (tb *traceBuilder) finish(st *mipsevm.State) {
	memRoot := st.Memory.Root()
	tb.hashers[TablePoseidon].Write(memRoot[:])
	tb.rows[TablePoseidon] = uint64(st.Memory.PageCount()) * hashRowsPerPage

	sponge := uint64(len(st.Input)+31)/32 + uint64(len(st.Output)+31)/32 + 1
	e := packEvent(st.InputCursor, uint32(len(st.Output)))
	tb.feed(TablePoseidonSponge, e, sponge)
}

// commit checks every table against its degree range and digests the table
// commitments into the witness the seal binds.
func (tb *traceBuilder) commit(ranges DegreeBitsRange) (witness [32]byte, degrees [NumTables]uint32, err error) {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("zkm/trace/v1"))

	var buf [8]byte
	for t := Table(0); t < NumTables; t++ {
		required := requiredDegreeBits(tb.rows[t])
		chosen := required
		if chosen < ranges[t].MinBits {
			chosen = ranges[t].MinBits
		}
		if !ranges[t].Contains(chosen) {
			return witness, degrees, fmt.Errorf("%w: %s needs 2^%d rows, permitted [2^%d, 2^%d)",
				ErrDegreeOutOfRange, t, required, ranges[t].MinBits, ranges[t].MaxBits)
		}
		degrees[t] = chosen

		h.Write([]byte{byte(t)})
		binary.LittleEndian.PutUint64(buf[:], tb.rows[t])
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:4], chosen)
		h.Write(buf[:4])
		h.Write(tb.hashers[t].Sum(nil))
	}

	copy(witness[:], h.Sum(nil))
	return witness, degrees, nil
}
