// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package randao

import (
	"testing"

	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func node(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

func TestCommitRevealFinalize(t *testing.T) {
	b := New(khash.Hash32{0xAA})
	a := node(1)
	reveal := khash.Hash32{0x09}
	commit := CommitHash(1, a, reveal)
	b.Commit(1, a, commit)
	require.NoError(t, b.Reveal(1, a, reveal))

	beacon, missing, err := b.Finalize(1)
	require.NoError(t, err)
	require.Empty(t, missing)
	require.Equal(t, beacon, b.PrevBeacon())
}

func TestRevealRejectsMismatch(t *testing.T) {
	b := New(khash.Hash32{})
	a := node(1)
	b.Commit(1, a, CommitHash(1, a, khash.Hash32{0x01}))
	err := b.Reveal(1, a, khash.Hash32{0x02})
	require.ErrorIs(t, err, ErrCommitMismatch)
}

func TestRevealWithoutCommit(t *testing.T) {
	b := New(khash.Hash32{})
	err := b.Reveal(1, node(1), khash.Hash32{0x01})
	require.ErrorIs(t, err, ErrCommitMissing)
}

func TestSlotValueStableAcrossFinalize(t *testing.T) {
	b := New(khash.Hash32{0xBB})
	a := node(1)
	reveal := khash.Hash32{0x09}
	b.Commit(1, a, CommitHash(1, a, reveal))

	before := b.Value(1, 0)
	_, _, err := b.Finalize(1)
	require.NoError(t, err)
	after := b.Value(1, 0)
	require.Equal(t, before, after)
}

func TestBeaconContinuityAcrossEpochs(t *testing.T) {
	b := New(khash.Hash32{0xCC})
	a := node(1)
	reveal := khash.Hash32{0x01}
	b.Commit(1, a, CommitHash(1, a, reveal))
	beacon1, _, err := b.Finalize(1)
	require.NoError(t, err)

	// epoch 2's seed must equal epoch 1's beacon: recomputing the slot
	// value by hand with base=beacon1 must match b.Value(2, 0).
	var epochLE, slotLE [8]byte
	epochLE[0] = 2
	want := khash.KMAC256(khash.LabelRandaoSlot, epochLE[:], slotLE[:], beacon1[:])
	require.Equal(t, want, b.Value(2, 0))
}

func TestMissingRevealReported(t *testing.T) {
	b := New(khash.Hash32{})
	a, c := node(1), node(2)
	b.Commit(1, a, CommitHash(1, a, khash.Hash32{0x01}))
	b.Commit(1, c, CommitHash(1, c, khash.Hash32{0x02}))
	require.NoError(t, b.Reveal(1, a, khash.Hash32{0x01}))
	// c never reveals.

	_, missing, err := b.Finalize(1)
	require.NoError(t, err)
	require.Equal(t, []ids.NodeID{c}, missing)
}

func TestFinalizeIdempotentAfterFirstCall(t *testing.T) {
	b := New(khash.Hash32{})
	_, _, err := b.Finalize(1)
	require.NoError(t, err)
	_, _, err = b.Finalize(1)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
}
