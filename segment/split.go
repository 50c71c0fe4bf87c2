// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package segment

import (
	"errors"
	"fmt"
	"os"

	"github.com/zkmips/zkm-prover/logger"
	"github.com/zkmips/zkm-prover/mipsevm"
)

var ErrZeroSegmentSize = errors.New("segment: segment size must be positive")

// Split runs the guest to completion and writes one segment file per
// segSize steps into dir, plus a final partial segment, named by index.
// It returns the number of segments written.
func Split(st *mipsevm.State, dir string, segSize uint64) (int, error) {
	log := logger.Logger()

	if segSize == 0 {
		return 0, ErrZeroSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	is := mipsevm.NewInstrumented(st)
	count := 0
	for !st.Exited {
		pre := st.Clone()
		steps, err := is.Run(segSize)
		if err != nil {
			return count, fmt.Errorf("segment %d: execution at step %d: %w", count, st.Step, err)
		}
		if steps == 0 {
			break
		}
		seg := &Segment{
			ID:       uint32(count),
			State:    pre,
			Steps:    steps,
			PreRoot:  pre.Root(),
			PostRoot: st.Root(),
		}
		if err := seg.Save(FileName(dir, count)); err != nil {
			return count, fmt.Errorf("segment %d: %w", count, err)
		}
		log.Debug().Int("segment", count).Uint64("steps", steps).Msg("segment written")
		count++
	}

	log.Info().Int("segments", count).Uint64("totalSteps", st.Step).
		Uint8("exitCode", st.ExitCode).Msg("split done")
	return count, nil
}
