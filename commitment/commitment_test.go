// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package commitment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRoundTrip(t *testing.T) {
	blinding := [32]byte{1, 2, 3}
	recipient := [32]byte{4, 5, 6}
	c := Commit(500, blinding, recipient)
	require.True(t, Open(c, 500, blinding, recipient))
}

func TestOpenRejectsWrongValue(t *testing.T) {
	blinding := [32]byte{1}
	recipient := [32]byte{2}
	c := Commit(500, blinding, recipient)
	require.False(t, Open(c, 501, blinding, recipient))
}

func TestCommitBindsRecipient(t *testing.T) {
	blinding := [32]byte{1}
	r1 := [32]byte{1}
	r2 := [32]byte{2}
	require.NotEqual(t, Commit(500, blinding, r1), Commit(500, blinding, r2))
}

func TestCommitChangesWithAnyByte(t *testing.T) {
	blinding := [32]byte{1}
	recipient := [32]byte{2}
	base := Commit(500, blinding, recipient)
	blinding[31] ^= 0xff
	require.NotEqual(t, base, Commit(500, blinding, recipient))
}
