// Copyright 2025 ZKM Project
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package proof

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Serialized proofs start with a fixed binary frame followed by a
// deterministic cbor body. The frame is enough to route an artifact without
// decoding it.
const formatVersion = 1

var artifactMagic = [4]byte{'z', 'k', 'm', 'p'}

const maxBodyLen = 1 << 30

var (
	ErrInvalidFormat      = errors.New("proof: invalid artifact format")
	ErrUnsupportedVersion = errors.New("proof: unsupported artifact version")
)

// Header is the fixed frame in front of a serialized proof.
type Header struct {
	Version uint32
	Kind    Kind
	BodyLen uint64
}

const headerLen = 4 + 4 + 1 + 8

// Peek reads only the artifact frame, leaving r positioned at the body.
func Peek(r io.Reader) (Header, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	if !bytes.Equal(buf[:4], artifactMagic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(buf[4:8]),
		Kind:    Kind(buf[8]),
		BodyLen: binary.LittleEndian.Uint64(buf[9:17]),
	}
	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, formatVersion)
	}
	if h.BodyLen > maxBodyLen {
		return Header{}, fmt.Errorf("%w: body length %d", ErrInvalidFormat, h.BodyLen)
	}
	return h, nil
}

// WriteTo serializes the proof as a framed deterministic cbor blob.
func (p *Proof) WriteTo(w io.Writer) (int64, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return 0, err
	}
	var body bytes.Buffer
	if err := enc.NewEncoder(&body).Encode(p); err != nil {
		return 0, err
	}

	frame := make([]byte, 0, headerLen)
	frame = append(frame, artifactMagic[:]...)
	frame = binary.LittleEndian.AppendUint32(frame, formatVersion)
	frame = append(frame, byte(p.Kind))
	frame = binary.LittleEndian.AppendUint64(frame, uint64(body.Len()))

	n, err := w.Write(frame)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(body.Bytes())
	return int64(n + m), err
}

// ReadFrom deserializes a proof written by WriteTo.
func (p *Proof) ReadFrom(r io.Reader) (int64, error) {
	h, err := Peek(r)
	if err != nil {
		return 0, err
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return headerLen, fmt.Errorf("%w: truncated body: %s", ErrInvalidFormat, err)
	}

	dm, err := cbor.DecOptions{
		MaxArrayElements: 2147483647,
		MaxMapPairs:      2147483647,
	}.DecMode()
	if err != nil {
		return headerLen, err
	}
	if err := dm.Unmarshal(body, p); err != nil {
		return headerLen, fmt.Errorf("%w: %s", ErrInvalidFormat, err)
	}
	if p.Kind != h.Kind {
		return headerLen + int64(h.BodyLen), fmt.Errorf("%w: frame kind %s, body kind %s", ErrInvalidFormat, h.Kind, p.Kind)
	}
	return headerLen + int64(h.BodyLen), nil
}

// Save writes the proof to a file.
func (p *Proof) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := p.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a proof from a file.
func Load(path string) (*Proof, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := new(Proof)
	if _, err := p.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("proof: load %s: %w", path, err)
	}
	return p, nil
}
