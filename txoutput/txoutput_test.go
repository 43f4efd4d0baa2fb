// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txoutput

import (
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/stretchr/testify/require"
)

func genKemKeys(t *testing.T) (*mlkem768.PublicKey, *mlkem768.PrivateKey) {
	t.Helper()
	pk, sk, err := mlkem768.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return pk, sk
}

func TestCreateVerifyOpenRoundTrip(t *testing.T) {
	pk, sk := genKemKeys(t)
	recipient := [32]byte{9, 9, 9}
	blinding := [32]byte{1, 2, 3}

	out, err := Create(777, blinding, recipient, pk)
	require.NoError(t, err)
	require.True(t, Verify(out))

	value, gotBlinding, err := Open(out, recipient, sk)
	require.NoError(t, err)
	require.Equal(t, uint64(777), value)
	require.Equal(t, blinding, gotBlinding)
}

func TestVerifyRejectsForgedCommitment(t *testing.T) {
	pk, _ := genKemKeys(t)
	recipient := [32]byte{1}
	blinding := [32]byte{2}

	out, err := Create(42, blinding, recipient, pk)
	require.NoError(t, err)
	out.Commitment[0] ^= 0xff
	require.False(t, Verify(out))
}

func TestOpenRejectsWrongRecipientKey(t *testing.T) {
	pk, _ := genKemKeys(t)
	_, wrongSK := genKemKeys(t)
	recipient := [32]byte{3}
	blinding := [32]byte{4}

	out, err := Create(1000, blinding, recipient, pk)
	require.NoError(t, err)

	_, _, err = Open(out, recipient, wrongSK)
	require.Error(t, err)
}

func TestOpenRejectsTamperedSealedBytes(t *testing.T) {
	pk, sk := genKemKeys(t)
	recipient := [32]byte{5}
	blinding := [32]byte{6}

	out, err := Create(55, blinding, recipient, pk)
	require.NoError(t, err)
	out.Sealed[nonceSize] ^= 0xff

	_, _, err = Open(out, recipient, sk)
	require.Error(t, err)
}
