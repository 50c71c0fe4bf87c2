// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package aggregation schedules and runs the recursion that folds the root
// proofs of a run into a single proof, preserving segment order.
package aggregation

import (
	"errors"
	"fmt"
)

// ErrNoSegments is returned when a plan over less than one segment is
// requested.
var ErrNoSegments = errors.New("aggregation: at least one segment required")

// Op is one pairwise aggregation in a plan. Operands reference either a
// leaf (values 0..n-1: the root proof of that segment) or the output of an
// earlier op (value n+i: the output of ops[i]).
type Op struct {
	Left  int
	Right int
}

// Plan computes the aggregation schedule for n segments as a pure function
// of n. The schedule is a left fold with a carried accumulator: side pairs
// (i, i+1) are aggregated first and then grafted onto the accumulator, so
// the final proof covers segments 0..n-1 in order. For n == 1 the plan is
// empty: the root proof already covers the whole run.
func Plan(n int) ([]Op, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoSegments, n)
	}
	if n == 1 {
		return nil, nil
	}

	ops := make([]Op, 0, n-1)
	out := func() int { return n + len(ops) - 1 } // output ref of the op just appended

	var acc int
	i := 0
	if n%2 == 0 {
		ops = append(ops, Op{Left: 0, Right: 1})
		acc = out()
		i = 2
	} else {
		acc = 0
		i = 1
	}
	// The start index matches the parity of n, so pairs always complete.
	for ; i+1 < n; i += 2 {
		ops = append(ops, Op{Left: i, Right: i + 1})
		side := out()
		ops = append(ops, Op{Left: acc, Right: side})
		acc = out()
	}
	return ops, nil
}

// Result returns the operand reference holding the final proof of a plan
// over n segments.
func Result(n int, ops []Op) int {
	if len(ops) == 0 {
		return 0
	}
	return n + len(ops) - 1
}
