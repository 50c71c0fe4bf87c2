// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package mipsevm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/crypto/blake2b"
)

const (
	// PageSize is the size of a memory page in bytes.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// PageWords is the number of 32-bit words in a page.
	PageWords = PageSize / 4

	// pageCount is the number of addressable pages in the 32-bit space.
	pageCount = 1 << (32 - PageShift)

	// maxPages bounds page allocations for a single guest.
	maxPages = 1 << 16 // 256 MiB
)

var (
	ErrMemUnaligned = errors.New("mipsevm: unaligned memory access")
	ErrMemPageLimit = errors.New("mipsevm: page allocation limit exceeded")
)

// Page is a fixed-size chunk of guest memory. MIPS32 is big-endian; words are
// stored in byte order and interpreted big-endian on access.
type Page [PageSize]byte

func (p *Page) isZero() bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

// Words returns the page content as big-endian 32-bit words.
func (p *Page) Words() []uint32 {
	out := make([]uint32, PageWords)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(p[4*i:])
	}
	return out
}

// SetWords overwrites the page content from big-endian 32-bit words.
func (p *Page) SetWords(words []uint32) error {
	if len(words) != PageWords {
		return fmt.Errorf("mipsevm: page expects %d words, got %d", PageWords, len(words))
	}
	for i, w := range words {
		binary.BigEndian.PutUint32(p[4*i:], w)
	}
	return nil
}

// Memory is the sparse paged memory of a MIPS32 guest. Pages are allocated on
// demand; the allocated set is tracked in a bitset so commitments and
// serialization walk pages in deterministic ascending order.
type Memory struct {
	pages     map[uint32]*Page
	allocated *bitset.BitSet
}

// NewMemory returns an empty sparse memory.
func NewMemory() *Memory {
	return &Memory{
		pages:     make(map[uint32]*Page),
		allocated: bitset.New(pageCount),
	}
}

func (m *Memory) page(addr uint32) (*Page, error) {
	idx := addr >> PageShift
	if p, ok := m.pages[idx]; ok {
		return p, nil
	}
	if len(m.pages) >= maxPages {
		return nil, ErrMemPageLimit
	}
	p := new(Page)
	m.pages[idx] = p
	m.allocated.Set(uint(idx))
	return p, nil
}

// Word reads a big-endian 32-bit word. addr must be 4-byte aligned.
func (m *Memory) Word(addr uint32) (uint32, error) {
	if addr&3 != 0 {
		return 0, fmt.Errorf("%w: word read at 0x%08x", ErrMemUnaligned, addr)
	}
	p, err := m.page(addr)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p[addr&(PageSize-1):]), nil
}

// SetWord writes a big-endian 32-bit word. addr must be 4-byte aligned.
func (m *Memory) SetWord(addr uint32, v uint32) error {
	if addr&3 != 0 {
		return fmt.Errorf("%w: word write at 0x%08x", ErrMemUnaligned, addr)
	}
	p, err := m.page(addr)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p[addr&(PageSize-1):], v)
	return nil
}

// Byte reads a single byte.
func (m *Memory) Byte(addr uint32) (byte, error) {
	p, err := m.page(addr)
	if err != nil {
		return 0, err
	}
	return p[addr&(PageSize-1)], nil
}

// SetByte writes a single byte.
func (m *Memory) SetByte(addr uint32, v byte) error {
	p, err := m.page(addr)
	if err != nil {
		return err
	}
	p[addr&(PageSize-1)] = v
	return nil
}

// SetRange copies data into memory starting at addr.
func (m *Memory) SetRange(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.SetByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// Range reads n bytes starting at addr.
func (m *Memory) Range(addr uint32, n uint32) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := m.Byte(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// PageIndices returns the indices of allocated pages in ascending order.
func (m *Memory) PageIndices() []uint32 {
	out := make([]uint32, 0, len(m.pages))
	for idx, ok := m.allocated.NextSet(0); ok; idx, ok = m.allocated.NextSet(idx + 1) {
		out = append(out, uint32(idx))
	}
	return out
}

// PageAt returns the allocated page with the given index, or nil.
func (m *Memory) PageAt(idx uint32) *Page {
	return m.pages[idx]
}

// RestorePage installs a page at the given index, replacing any existing one.
func (m *Memory) RestorePage(idx uint32, p *Page) {
	m.pages[idx] = p
	m.allocated.Set(uint(idx))
}

// PageCount returns the number of allocated pages.
func (m *Memory) PageCount() int {
	return len(m.pages)
}

// Root commits to the logical memory content. All-zero pages are skipped so
// that demand-allocation of untouched pages does not change the commitment.
func (m *Memory) Root() [32]byte {
	h, _ := blake2b.New256(nil)
	var idxBuf [4]byte
	for idx, ok := m.allocated.NextSet(0); ok; idx, ok = m.allocated.NextSet(idx + 1) {
		p := m.pages[uint32(idx)]
		if p.isZero() {
			continue
		}
		binary.BigEndian.PutUint32(idxBuf[:], uint32(idx))
		h.Write(idxBuf[:])
		h.Write(p[:])
	}
	var root [32]byte
	copy(root[:], h.Sum(nil))
	return root
}

// Clone returns a deep copy sharing nothing with the receiver.
func (m *Memory) Clone() *Memory {
	out := NewMemory()
	// map iteration order is irrelevant here; the bitset keeps the order.
	indices := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		p := new(Page)
		*p = *m.pages[idx]
		out.pages[idx] = p
		out.allocated.Set(uint(idx))
	}
	return out
}
