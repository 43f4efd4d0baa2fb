// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec implements the node's wire framing (spec.md §5): every
// frame, on both the secure channel and bulk sync, is a 4-byte
// little-endian length N followed by N payload bytes, N ≤ MaxFrameSize.
// Grounded on _examples/luxfi-consensus/qzmq/qzmq.go's length-prefixed
// message framing, generalized to a standalone reader/writer pair so
// pqchannel and any bulk-sync transport share one framing
// implementation.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameSize is the largest payload a single frame may carry.
const MaxFrameSize = 16 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("codec: frame exceeds MaxFrameSize")
	ErrZeroLength    = errors.New("codec: zero-length frame")
)

// WriteFrame writes payload as one length-delimited frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-delimited frame, rejecting any declared
// length over MaxFrameSize before allocating a buffer for it.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Reader wraps an io.Reader with frame-at-a-time reads.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for framed reads.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// ReadFrame reads the next frame.
func (fr *Reader) ReadFrame() ([]byte, error) { return ReadFrame(fr.r) }

// Writer wraps an io.Writer with frame-at-a-time writes.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for framed writes.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame writes one frame.
func (fw *Writer) WriteFrame(payload []byte) error { return WriteFrame(fw.w, payload) }
