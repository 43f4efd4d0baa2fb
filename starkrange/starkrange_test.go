// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package starkrange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/consensus/khash"
)

func TestProveVerifyRoundTrip(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("value"))
	proof := Prove(12345, commitment)
	require.True(t, Verify(proof, commitment))
}

func TestVerifyRejectsWrongCommitment(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("value"))
	other := khash.KMAC256(khash.LabelTxOutput, []byte("other"))
	proof := Prove(12345, commitment)
	require.False(t, Verify(proof, other))
}

func TestVerifyRejectsTamperedValue(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("value"))
	proof := Prove(12345, commitment)
	proof.Value = 99999
	require.False(t, Verify(proof, commitment))
}

func TestVerifyRejectsTamperedBoundary(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("value"))
	proof := Prove(1, commitment)
	proof.BoundaryLow.Siblings = proof.BoundaryHigh.Siblings
	require.False(t, Verify(proof, commitment))
}

func TestVerifyRejectsTruncatedTransitions(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("value"))
	proof := Prove(7, commitment)
	proof.Transitions = proof.Transitions[:1]
	require.False(t, Verify(proof, commitment))
}

func TestProveHandlesZeroAndMax(t *testing.T) {
	commitment := khash.KMAC256(khash.LabelTxOutput, []byte("zero"))
	require.True(t, Verify(Prove(0, commitment), commitment))

	commitmentMax := khash.KMAC256(khash.LabelTxOutput, []byte("max"))
	require.True(t, Verify(Prove(^uint64(0), commitmentMax), commitmentMax))
}
