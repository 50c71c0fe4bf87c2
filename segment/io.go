// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/zkmips/zkm-prover/internal/ioutils"
	"github.com/zkmips/zkm-prover/mipsevm"
)

// Segment files start with a fixed frame, then a deterministic cbor metadata
// blob, then the memory pages as intcomp-compressed word streams. Pages
// compress well: most words are zero or sequential code.
const formatVersion = 1

var segmentMagic = [4]byte{'z', 'k', 'm', 's'}

const maxMetaLen = 1 << 30

var (
	ErrInvalidFormat      = errors.New("segment: invalid file format")
	ErrUnsupportedVersion = errors.New("segment: unsupported file version")
	ErrCorrupted          = errors.New("segment: state does not match recorded root")
)

type segmentMeta struct {
	ID       uint32
	Steps    uint64
	PreRoot  [32]byte
	PostRoot [32]byte

	Registers [32]uint32
	PC        uint32
	NextPC    uint32
	Lo        uint32
	Hi        uint32
	Heap      uint32
	Exited    bool
	ExitCode  uint8
	Step      uint64

	Input       []byte
	InputCursor uint32
	Output      []byte

	Pages uint32
}

// WriteTo serializes the segment.
func (seg *Segment) WriteTo(w io.Writer) (int64, error) {
	st := seg.State
	meta := segmentMeta{
		ID:          seg.ID,
		Steps:       seg.Steps,
		PreRoot:     seg.PreRoot,
		PostRoot:    seg.PostRoot,
		Registers:   st.Registers,
		PC:          st.PC,
		NextPC:      st.NextPC,
		Lo:          st.Lo,
		Hi:          st.Hi,
		Heap:        st.Heap,
		Exited:      st.Exited,
		ExitCode:    st.ExitCode,
		Step:        st.Step,
		Input:       st.Input,
		InputCursor: st.InputCursor,
		Output:      st.Output,
		Pages:       uint32(st.Memory.PageCount()),
	}

	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return 0, err
	}
	var body bytes.Buffer
	if err := enc.NewEncoder(&body).Encode(meta); err != nil {
		return 0, err
	}

	frame := make([]byte, 0, 16)
	frame = append(frame, segmentMagic[:]...)
	frame = binary.LittleEndian.AppendUint32(frame, formatVersion)
	frame = binary.LittleEndian.AppendUint64(frame, uint64(body.Len()))

	var total int64
	n, err := w.Write(frame)
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(body.Bytes())
	total += int64(n)
	if err != nil {
		return total, err
	}

	// Page index stream, then one word stream per page, in ascending index
	// order so files are byte-for-byte deterministic.
	cw := &countingWriter{w: w}
	indices := st.Memory.PageIndices()
	buf32, err := ioutils.CompressAndWriteUints32(cw, indices, nil)
	if err != nil {
		return total + cw.n, err
	}
	for _, idx := range indices {
		buf32, err = ioutils.CompressAndWriteUints32(cw, st.Memory.PageAt(idx).Words(), buf32)
		if err != nil {
			return total + cw.n, err
		}
	}
	return total + cw.n, nil
}

// ReadFrom deserializes a segment written by WriteTo and checks the restored
// state against the recorded pre-root.
func (seg *Segment) ReadFrom(r io.Reader) (int64, error) {
	var frame [16]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	if !bytes.Equal(frame[:4], segmentMagic[:]) {
		return 0, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	if v := binary.LittleEndian.Uint32(frame[4:8]); v != formatVersion {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, v, formatVersion)
	}
	metaLen := binary.LittleEndian.Uint64(frame[8:16])
	if metaLen > maxMetaLen {
		return 0, fmt.Errorf("%w: metadata length %d", ErrInvalidFormat, metaLen)
	}

	total := int64(16)
	body := make([]byte, metaLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return total, fmt.Errorf("%w: truncated metadata: %s", ErrInvalidFormat, err)
	}
	total += int64(metaLen)

	dm, err := cbor.DecOptions{
		MaxArrayElements: 2147483647,
		MaxMapPairs:      2147483647,
	}.DecMode()
	if err != nil {
		return total, err
	}
	var meta segmentMeta
	if err := dm.Unmarshal(body, &meta); err != nil {
		return total, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	// The pre-root check below cannot catch a cursor past the end of the
	// input stream, because the recorded root covers the same bogus cursor.
	if meta.InputCursor > uint32(len(meta.Input)) {
		return total, fmt.Errorf("%w: input cursor %d beyond %d byte stream",
			ErrInvalidFormat, meta.InputCursor, len(meta.Input))
	}

	st := &mipsevm.State{
		Memory:      mipsevm.NewMemory(),
		Registers:   meta.Registers,
		PC:          meta.PC,
		NextPC:      meta.NextPC,
		Lo:          meta.Lo,
		Hi:          meta.Hi,
		Heap:        meta.Heap,
		Exited:      meta.Exited,
		ExitCode:    meta.ExitCode,
		Step:        meta.Step,
		Input:       meta.Input,
		InputCursor: meta.InputCursor,
		Output:      meta.Output,
	}

	n, indices, err := ioutils.ReadAndDecompressUints32(r)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("%w: page index stream: %s", ErrInvalidFormat, err)
	}
	if len(indices) != int(meta.Pages) {
		return total, fmt.Errorf("%w: %d pages recorded, %d page indices", ErrInvalidFormat, meta.Pages, len(indices))
	}
	for _, idx := range indices {
		n, words, err := ioutils.ReadAndDecompressUints32(r)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("%w: page 0x%x stream: %s", ErrInvalidFormat, idx, err)
		}
		p := new(mipsevm.Page)
		if err := p.SetWords(words); err != nil {
			return total, fmt.Errorf("%w: page 0x%x: %s", ErrInvalidFormat, idx, err)
		}
		st.Memory.RestorePage(idx, p)
	}

	if st.Root() != meta.PreRoot {
		return total, ErrCorrupted
	}

	seg.ID = meta.ID
	seg.Steps = meta.Steps
	seg.PreRoot = meta.PreRoot
	seg.PostRoot = meta.PostRoot
	seg.State = st
	return total, nil
}

// Save writes the segment to a file.
func (seg *Segment) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := seg.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a segment from a file.
func Load(path string) (*Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seg := new(Segment)
	if _, err := seg.ReadFrom(f); err != nil {
		return nil, err
	}
	return seg, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
