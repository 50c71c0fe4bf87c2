package mipsevm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const progBase = 0x0001_0000

func ori(rt, rs, imm uint32) uint32 { return EncodeI(0x0d, rs, rt, imm) }
func lui(rt, imm uint32) uint32     { return EncodeI(0x0f, 0, rt, imm) }
func orr(rd, rs, rt uint32) uint32  { return EncodeR(rs, rt, rd, 0, 0x25) }

func exitWords(code uint32) []uint32 {
	return []uint32{ori(2, 0, sysExitGroup), ori(4, 0, code), EncodeSyscall()}
}

func runWords(t *testing.T, words []uint32) *State {
	t.Helper()
	st, err := NewProgram(progBase, words)
	require.NoError(t, err)
	runToExit(t, st)
	return st
}

func runToExit(t *testing.T, st *State) {
	t.Helper()
	is := NewInstrumented(st)
	_, err := is.Run(1 << 20)
	require.NoError(t, err)
	require.True(t, st.Exited)
}

func TestArithmetic(t *testing.T) {
	words := []uint32{
		ori(8, 0, 7),
		ori(9, 0, 5),
		EncodeR(8, 9, 10, 0, 0x21), // addu: 12
		EncodeR(8, 9, 11, 0, 0x23), // subu: 2
		EncodeR(8, 9, 0, 0, 0x18),  // mult
		EncodeR(0, 0, 12, 0, 0x12), // mflo: 35
		EncodeR(8, 9, 0, 0, 0x1a),  // div
		EncodeR(0, 0, 13, 0, 0x12), // mflo: 1
		EncodeR(0, 0, 14, 0, 0x10), // mfhi: 2
		EncodeR(8, 9, 15, 0, 0x2a), // slt: 0
		EncodeR(9, 8, 16, 0, 0x2a), // slt: 1
	}
	st := runWords(t, append(words, exitWords(0)...))

	assert.Equal(t, uint32(12), st.Registers[10])
	assert.Equal(t, uint32(2), st.Registers[11])
	assert.Equal(t, uint32(35), st.Registers[12])
	assert.Equal(t, uint32(1), st.Registers[13])
	assert.Equal(t, uint32(2), st.Registers[14])
	assert.Equal(t, uint32(0), st.Registers[15])
	assert.Equal(t, uint32(1), st.Registers[16])
}

func TestLogicAndShifts(t *testing.T) {
	words := []uint32{
		lui(8, 0x8000),              // 0x80000000
		EncodeR(0, 8, 9, 31, 0x03),  // sra: 0xffffffff
		EncodeR(0, 8, 10, 31, 0x02), // srl: 1
		ori(11, 0, 0x00f0),
		ori(12, 0, 0x0ff0),
		EncodeR(11, 12, 13, 0, 0x24),  // and: 0x00f0
		EncodeR(11, 12, 14, 0, 0x26),  // xor: 0x0f00
		EncodeR(11, 12, 15, 0, 0x27),  // nor: ^0x0ff0
		EncodeI(0x0e, 11, 16, 0xffff), // xori: 0xff0f
	}
	st := runWords(t, append(words, exitWords(0)...))

	assert.Equal(t, uint32(0xffff_ffff), st.Registers[9])
	assert.Equal(t, uint32(1), st.Registers[10])
	assert.Equal(t, uint32(0x00f0), st.Registers[13])
	assert.Equal(t, uint32(0x0f00), st.Registers[14])
	assert.Equal(t, ^uint32(0x0ff0), st.Registers[15])
	assert.Equal(t, uint32(0xff0f), st.Registers[16])
}

func TestBranchExecutesDelaySlot(t *testing.T) {
	words := []uint32{
		ori(8, 0, 1),
		EncodeI(0x04, 0, 0, 2), // beq $0,$0 -> skips one instruction
		ori(8, 0, 2),           // delay slot, executes
		ori(8, 0, 3),           // skipped
		ori(9, 0, 9),           // branch target
	}
	st := runWords(t, append(words, exitWords(0)...))

	assert.Equal(t, uint32(2), st.Registers[8])
	assert.Equal(t, uint32(9), st.Registers[9])
}

func TestJumpAndLink(t *testing.T) {
	fn := uint32(progBase + 6*4)
	words := []uint32{
		EncodeJ(0x03, fn), // jal fn
		ori(8, 0, 1),      // delay slot
		ori(9, 0, 2),      // return lands here
	}
	words = append(words, exitWords(0)...) // 3..5
	words = append(words,
		ori(10, 0, 3),              // 6: fn body
		EncodeR(31, 0, 0, 0, 0x08), // jr $31
		ori(11, 0, 4),              // delay slot
	)
	st := runWords(t, words)

	assert.Equal(t, uint32(1), st.Registers[8])
	assert.Equal(t, uint32(2), st.Registers[9])
	assert.Equal(t, uint32(3), st.Registers[10])
	assert.Equal(t, uint32(4), st.Registers[11])
	assert.Equal(t, uint32(progBase+8), st.Registers[31])
}

func TestLoadStoreSignExtension(t *testing.T) {
	words := []uint32{
		lui(9, 0x3000), // scratch base
		ori(8, 0, 0x80),
		EncodeI(0x28, 9, 8, 0),  // sb
		EncodeI(0x20, 9, 10, 0), // lb: sign extended
		EncodeI(0x24, 9, 11, 0), // lbu
		ori(12, 0, 0x8001),
		EncodeI(0x29, 9, 12, 2), // sh
		EncodeI(0x21, 9, 13, 2), // lh: sign extended
		EncodeI(0x25, 9, 14, 2), // lhu
		EncodeI(0x23, 9, 15, 0), // lw: both halves
	}
	st := runWords(t, append(words, exitWords(0)...))

	assert.Equal(t, uint32(0xffff_ff80), st.Registers[10])
	assert.Equal(t, uint32(0x80), st.Registers[11])
	assert.Equal(t, uint32(0xffff_8001), st.Registers[13])
	assert.Equal(t, uint32(0x8001), st.Registers[14])
	assert.Equal(t, uint32(0x8000_8001), st.Registers[15])
}

func TestSyscallWrite(t *testing.T) {
	st, err := NewProgram(progBase, append([]uint32{
		ori(2, 0, sysWrite),
		ori(4, 0, 1),
		lui(5, 0x3000),
		ori(6, 0, 2),
		EncodeSyscall(),
	}, exitWords(0)...))
	require.NoError(t, err)
	require.NoError(t, st.Memory.SetRange(0x3000_0000, []byte("hi")))

	runToExit(t, st)
	assert.Equal(t, []byte("hi"), st.Output)
	assert.Equal(t, uint8(0), st.ExitCode)
}

func TestSyscallRead(t *testing.T) {
	st, err := NewProgram(progBase, append([]uint32{
		ori(2, 0, sysRead),
		ori(4, 0, 0),
		lui(5, 0x3000),
		ori(6, 0, 16),
		EncodeSyscall(),
		orr(16, 2, 0), // capture byte count before exit clobbers $2
	}, exitWords(0)...))
	require.NoError(t, err)
	st.Input = []byte("abc")

	runToExit(t, st)
	assert.Equal(t, uint32(3), st.Registers[16])
	assert.Equal(t, uint32(3), st.InputCursor)
	got, err := st.Memory.Range(0x3000_0000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestSyscallReadWithCursorPastEnd(t *testing.T) {
	st, err := NewProgram(progBase, append([]uint32{
		ori(2, 0, sysRead),
		ori(4, 0, 0),
		lui(5, 0x3000),
		ori(6, 0, 8),
		EncodeSyscall(),
		orr(16, 2, 0),
	}, exitWords(0)...))
	require.NoError(t, err)

	// A forged state can place the cursor beyond the input stream; the
	// read must come back empty rather than slice out of bounds.
	st.Input = nil
	st.InputCursor = 5

	runToExit(t, st)
	assert.Equal(t, uint32(0), st.Registers[16])
	assert.Equal(t, uint32(5), st.InputCursor)
}

func TestSyscallBadFD(t *testing.T) {
	st := runWords(t, append([]uint32{
		ori(2, 0, sysRead),
		ori(4, 0, 5),
		EncodeSyscall(),
		orr(16, 2, 0),
		orr(17, 7, 0),
	}, exitWords(0)...))

	assert.Equal(t, uint32(0xffff_ffff), st.Registers[16])
	assert.Equal(t, uint32(mipsEBADF), st.Registers[17])
}

func TestExitStopsExecution(t *testing.T) {
	st := runWords(t, exitWords(7))
	assert.True(t, st.Exited)
	assert.Equal(t, uint8(7), st.ExitCode)

	err := NewInstrumented(st).Step()
	assert.ErrorIs(t, err, ErrExited)
}

func TestCloneResumesIdentically(t *testing.T) {
	st, err := BenchProgram(50)
	require.NoError(t, err)
	is := NewInstrumented(st)
	_, err = is.Run(20)
	require.NoError(t, err)
	require.False(t, st.Exited)

	resumed := st.Clone()
	require.Equal(t, st.Root(), resumed.Root())

	_, err = is.Run(1 << 20)
	require.NoError(t, err)
	_, err = NewInstrumented(resumed).Run(1 << 20)
	require.NoError(t, err)

	require.True(t, st.Exited)
	require.True(t, resumed.Exited)
	assert.Equal(t, st.Root(), resumed.Root())
	assert.Equal(t, st.Output, resumed.Output)
	assert.Equal(t, st.Step, resumed.Step)
}

func TestStateRootCoversStreams(t *testing.T) {
	a, err := BenchProgram(10)
	require.NoError(t, err)
	b, err := BenchProgram(10)
	require.NoError(t, err)
	require.Equal(t, a.Root(), b.Root())

	b.Input = []byte{1}
	assert.NotEqual(t, a.Root(), b.Root())
}

func TestBenchProgramDeterministic(t *testing.T) {
	first, err := BenchProgram(100)
	require.NoError(t, err)
	isFirst := NewInstrumented(first)
	_, err = isFirst.Run(1 << 20)
	require.NoError(t, err)
	require.True(t, first.Exited)
	require.Len(t, first.Output, 4)

	c := isFirst.Counters()
	assert.Positive(t, c.Arith)
	assert.Positive(t, c.Logic)
	assert.Positive(t, c.MemOps)

	second, err := BenchProgram(100)
	require.NoError(t, err)
	_, err = NewInstrumented(second).Run(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, first.Step, second.Step)
	assert.Equal(t, first.Root(), second.Root())
}
