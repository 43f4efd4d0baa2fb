// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello consensus")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, MaxFrameSize+1)
	err := WriteFrame(&buf, payload)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0xff, 0xff, 0xff, 0x7f
	buf.Write(lenBuf[:])
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameHandlesEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReaderWriterMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("one")))
	require.NoError(t, w.WriteFrame([]byte("two")))

	r := NewReader(&buf)
	first, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "one", string(first))

	second, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "two", string(second))
}

func TestReadFrameErrorsOnShortInput(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2})
	_, err := ReadFrame(buf)
	require.Error(t, err)
}
