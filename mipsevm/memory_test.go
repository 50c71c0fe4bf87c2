package mipsevm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.SetWord(0x1000, 0xdead_beef))
	v, err := m.Word(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdead_beef), v)

	// big-endian byte order
	b, err := m.Byte(0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(0xde), b)
	b, err = m.Byte(0x1003)
	require.NoError(t, err)
	assert.Equal(t, byte(0xef), b)

	require.NoError(t, m.SetByte(0x1001, 0x42))
	v, err = m.Word(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xde42_beef), v)

	_, err = m.Word(0x1002)
	assert.ErrorIs(t, err, ErrMemUnaligned)
	assert.ErrorIs(t, m.SetWord(0x1001, 1), ErrMemUnaligned)
}

func TestMemoryRangeCrossesPages(t *testing.T) {
	m := NewMemory()
	data := make([]byte, 3*PageSize)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, m.SetRange(PageSize-7, data))
	got, err := m.Range(PageSize-7, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 4, m.PageCount())
}

func TestMemoryRootIgnoresZeroPages(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetWord(0x4000, 7))
	root := m.Root()

	// Reading an untouched page allocates it but must not move the root.
	_, err := m.Word(0x9_0000)
	require.NoError(t, err)
	assert.Equal(t, root, m.Root())

	// Writing moves it, writing the zero back restores it.
	require.NoError(t, m.SetWord(0x9_0000, 1))
	assert.NotEqual(t, root, m.Root())
	require.NoError(t, m.SetWord(0x9_0000, 0))
	assert.Equal(t, root, m.Root())
}

func TestMemoryCloneIsIndependent(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetWord(0x2000, 11))
	c := m.Clone()
	require.NoError(t, c.SetWord(0x2000, 22))

	v, err := m.Word(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), v)
	v, err = c.Word(0x2000)
	require.NoError(t, err)
	assert.Equal(t, uint32(22), v)
	assert.NotEqual(t, m.Root(), c.Root())
}

func TestMemoryWordRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("aligned word write then read", prop.ForAll(
		func(addr uint32, v uint32) bool {
			m := NewMemory()
			a := addr &^ 3
			if err := m.SetWord(a, v); err != nil {
				return false
			}
			got, err := m.Word(a)
			return err == nil && got == v
		},
		gen.UInt32(),
		gen.UInt32(),
	))

	properties.Property("page words round trip", prop.ForAll(
		func(seed uint32) bool {
			var p Page
			words := make([]uint32, PageWords)
			x := seed
			for i := range words {
				x = x*1664525 + 1013904223
				words[i] = x
			}
			if err := p.SetWords(words); err != nil {
				return false
			}
			back := p.Words()
			for i := range words {
				if back[i] != words[i] {
					return false
				}
			}
			return true
		},
		gen.UInt32(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
