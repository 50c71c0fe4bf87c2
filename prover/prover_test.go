package prover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkmips/zkm-prover/mipsevm"
	"github.com/zkmips/zkm-prover/proof"
	"github.com/zkmips/zkm-prover/segment"
)

func testProver(t *testing.T) *SegmentProver {
	t.Helper()
	sp, err := NewSegmentProver(NewCircuitSet(StandardFastConfig(), DefaultDegreeBitsRange()))
	require.NoError(t, err)
	return sp
}

// splitBench splits a synthetic guest run into segment files and returns a
// source over them.
func splitBench(t *testing.T, iters uint32, segSize uint64) (*segment.DirSource, int) {
	t.Helper()
	st, err := mipsevm.BenchProgram(iters)
	require.NoError(t, err)
	dir := t.TempDir()
	count, err := segment.Split(st, dir, segSize)
	require.NoError(t, err)
	return segment.NewDirSource(dir), count
}

func loadSegment(t *testing.T, src *segment.DirSource, i int) *segment.Segment {
	t.Helper()
	seg, err := src.Segment(i)
	require.NoError(t, err)
	return seg
}

func TestProveRootAndVerify(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 8, 30)
	require.Greater(t, count, 1)

	seg := loadSegment(t, src, 0)
	pr, err := sp.ProveRoot(seg)
	require.NoError(t, err)

	assert.Equal(t, proof.KindRoot, pr.Kind)
	assert.Equal(t, proof.RootFromBytes(seg.PreRoot), pr.Values.RootsBefore)
	assert.Equal(t, proof.RootFromBytes(seg.PostRoot), pr.Values.RootsAfter)
	assert.Equal(t, uint32(0), pr.FirstSegment)
	assert.Equal(t, uint32(0), pr.LastSegment)
	assert.Equal(t, seg.Steps, pr.Steps)

	require.NoError(t, sp.VerifyRoot(pr))
	require.NoError(t, sp.Verify(pr))
}

func TestProveRootIsDeterministic(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)

	a, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)
	b, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)

	assert.Equal(t, a.Witness, b.Witness)
	assert.Equal(t, a.Seal, b.Seal)
}

func TestProveRootRejectsWrongPostRoot(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)

	seg := loadSegment(t, src, 0)
	seg.PostRoot[0] ^= 0xff
	_, err := sp.ProveRoot(seg)
	assert.ErrorIs(t, err, ErrReplayDiverged)
}

func TestProveRootRejectsWrongStepCount(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)

	seg := loadSegment(t, src, 0)
	seg.Steps--
	_, err := sp.ProveRoot(seg)
	assert.ErrorIs(t, err, ErrReplayDiverged)
}

func TestProveRootLeavesSegmentUsable(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)

	seg := loadSegment(t, src, 0)
	_, err := sp.ProveRoot(seg)
	require.NoError(t, err)

	// The replay must not consume the segment state.
	assert.Equal(t, seg.PreRoot, seg.State.Root())
	_, err = sp.ProveRoot(seg)
	require.NoError(t, err)
}

func TestVerifyRejectsTampering(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)
	pr, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)

	tampered := *pr
	tampered.Values.RootsAfter[3]++
	assert.ErrorIs(t, sp.VerifyRoot(&tampered), ErrInvalidProof)

	tampered = *pr
	tampered.Values.Userdata = []byte("forged")
	assert.ErrorIs(t, sp.VerifyRoot(&tampered), ErrInvalidProof)

	tampered = *pr
	tampered.Seal[0] ^= 1
	assert.ErrorIs(t, sp.VerifyRoot(&tampered), ErrInvalidProof)

	tampered = *pr
	tampered.Kind = proof.KindAggregate
	assert.ErrorIs(t, sp.VerifyRoot(&tampered), ErrUnexpectedKind)
}

func TestVerifyRejectsForeignCircuitSet(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)
	pr, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)

	cfg := StandardFastConfig()
	cfg.NumQueryRounds = 28
	other, err := NewSegmentProver(NewCircuitSet(cfg, DefaultDegreeBitsRange()))
	require.NoError(t, err)

	assert.ErrorIs(t, other.VerifyRoot(pr), ErrForeignProof)
}

func TestProveAggregation(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 8, 30)
	require.GreaterOrEqual(t, count, 2)

	s0, s1 := loadSegment(t, src, 0), loadSegment(t, src, 1)
	p0, err := sp.ProveRoot(s0)
	require.NoError(t, err)
	p1, err := sp.ProveRoot(s1)
	require.NoError(t, err)

	agg, err := sp.ProveAggregation(p0, p1)
	require.NoError(t, err)

	assert.Equal(t, proof.KindAggregate, agg.Kind)
	assert.Equal(t, p0.Values.RootsBefore, agg.Values.RootsBefore)
	assert.Equal(t, p1.Values.RootsAfter, agg.Values.RootsAfter)
	assert.Equal(t, p1.Values.Userdata, agg.Values.Userdata)
	assert.Equal(t, uint32(0), agg.FirstSegment)
	assert.Equal(t, uint32(1), agg.LastSegment)
	assert.Equal(t, p0.Steps+p1.Steps, agg.Steps)

	require.NoError(t, sp.VerifyAggregation(agg))
}

func TestAggregationRejectsNonAdjacent(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 8, 25)
	require.GreaterOrEqual(t, count, 3)

	p0, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)
	p2, err := sp.ProveRoot(loadSegment(t, src, 2))
	require.NoError(t, err)

	_, err = sp.ProveAggregation(p0, p2)
	assert.ErrorIs(t, err, ErrNotAdjacent)
}

func TestAggregationRejectsBrokenContinuity(t *testing.T) {
	sp := testProver(t)

	// Two different runs: segment 1 of the second run is adjacent to
	// segment 0 of the first by index, but resumes a different state.
	srcA, _ := splitBench(t, 8, 30)
	srcB, countB := splitBench(t, 9, 30)
	require.GreaterOrEqual(t, countB, 2)

	p0, err := sp.ProveRoot(loadSegment(t, srcA, 0))
	require.NoError(t, err)
	p1, err := sp.ProveRoot(loadSegment(t, srcB, 1))
	require.NoError(t, err)

	_, err = sp.ProveAggregation(p0, p1)
	assert.ErrorIs(t, err, proof.ErrContinuity)
}

func TestAggregationRejectsTamperedChild(t *testing.T) {
	sp := testProver(t)
	src, _ := splitBench(t, 8, 30)

	p0, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)
	p1, err := sp.ProveRoot(loadSegment(t, src, 1))
	require.NoError(t, err)

	p1.Values.Userdata = []byte("forged")
	_, err = sp.ProveAggregation(p0, p1)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestProveBlockOverAggregate(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 8, 30)
	require.GreaterOrEqual(t, count, 2)

	p0, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)
	p1, err := sp.ProveRoot(loadSegment(t, src, 1))
	require.NoError(t, err)
	agg, err := sp.ProveAggregation(p0, p1)
	require.NoError(t, err)

	blk, err := sp.ProveBlock(agg, nil)
	require.NoError(t, err)
	assert.Equal(t, proof.KindBlock, blk.Kind)
	assert.Equal(t, agg.Values.RootsBefore, blk.Values.RootsBefore)
	assert.Equal(t, agg.Values.RootsAfter, blk.Values.RootsAfter)
	assert.Equal(t, agg.Values.Userdata, blk.Values.Userdata)
	require.NoError(t, sp.VerifyBlock(blk))
}

func TestProveBlockOverSingleRoot(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 4, 1<<20)
	require.Equal(t, 1, count)

	p0, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)

	blk, err := sp.ProveBlock(p0, nil)
	require.NoError(t, err)
	require.NoError(t, sp.VerifyBlock(blk))
}

func TestProveBlockChainsToPrevious(t *testing.T) {
	sp := testProver(t)
	src, count := splitBench(t, 8, 25)
	require.GreaterOrEqual(t, count, 3)

	p0, err := sp.ProveRoot(loadSegment(t, src, 0))
	require.NoError(t, err)
	p1, err := sp.ProveRoot(loadSegment(t, src, 1))
	require.NoError(t, err)
	agg, err := sp.ProveAggregation(p0, p1)
	require.NoError(t, err)
	prev, err := sp.ProveBlock(agg, nil)
	require.NoError(t, err)

	// Segment 2 resumes exactly where the previous block stopped.
	p2, err := sp.ProveRoot(loadSegment(t, src, 2))
	require.NoError(t, err)
	blk, err := sp.ProveBlock(p2, prev)
	require.NoError(t, err)
	require.NoError(t, sp.VerifyBlock(blk))

	// A previous block that does not end at the child's start is refused.
	_, err = sp.ProveBlock(p2, blk)
	assert.ErrorIs(t, err, proof.ErrContinuity)
}

func TestProveRootRejectsDegreeOverflow(t *testing.T) {
	ranges := DefaultDegreeBitsRange()
	ranges[TableCPU] = DegreeRange{MinBits: 2, MaxBits: 4}
	sp, err := NewSegmentProver(NewCircuitSet(StandardFastConfig(), ranges))
	require.NoError(t, err)

	src, _ := splitBench(t, 8, 100)
	_, err = sp.ProveRoot(loadSegment(t, src, 0))
	assert.ErrorIs(t, err, ErrDegreeOutOfRange)
}
