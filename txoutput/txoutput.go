// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txoutput implements the private output protocol (spec.md
// §4.13, C13): the unit of value transferred between parties, combining
// a hybrid commitment (C11), a STARK range proof (C12), and a
// KEM-wrapped opening so only the recipient can recover the plaintext
// value and blinding. Grounded on
// _examples/original_source/tt_node/src/wallet/wallet_cli.rs's output
// creation/opening flow, with the EC-based hiding it uses replaced by
// commitment's KMAC scheme and mlkem768 per spec.md §4.11's exclusion of
// elliptic-curve objects.
package txoutput

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/luxfi/consensus/commitment"
	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/consensus/starkrange"
)

var (
	ErrCommitmentMismatch = errors.New("txoutput: commitment mismatch")
	ErrRangeProofInvalid  = errors.New("txoutput: range proof invalid")
	ErrCiphertextTooShort = errors.New("txoutput: ciphertext too short")
	ErrKemFailed          = errors.New("txoutput: kem failed")
	ErrAeadFailed         = errors.New("txoutput: aead failed")
)

const nonceSize = chacha20poly1305.NonceSizeX

// Output is the wire unit of value transferred between parties.
type Output struct {
	Commitment khash.Hash32
	RangeProof starkrange.Proof
	Recipient  [32]byte
	// Sealed is nonce(24) || aead_ciphertext || kem_ciphertext.
	Sealed []byte
}

// Create builds a private output for value addressed to recipient, whose
// ML-KEM-768 public key is recipientKemPK (spec.md §4.13 step 1-4).
func Create(value uint64, blinding [32]byte, recipient [32]byte, recipientKemPK *mlkem768.PublicKey) (Output, error) {
	c := commitment.Commit(value, blinding, recipient)
	proof := starkrange.Prove(value, c)

	ct, ss, err := mlkem768.Scheme().Encapsulate(recipientKemPK)
	if err != nil {
		return Output{}, ErrKemFailed
	}
	key := khash.KMAC256(khash.LabelTxValueEnc, ss)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return Output{}, ErrAeadFailed
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Output{}, err
	}

	plaintext := make([]byte, 40)
	binary.LittleEndian.PutUint64(plaintext[:8], value)
	copy(plaintext[8:], blinding[:])

	aeadCT := aead.Seal(nil, nonce[:], plaintext, nil)

	sealed := make([]byte, 0, nonceSize+len(aeadCT)+len(ct))
	sealed = append(sealed, nonce[:]...)
	sealed = append(sealed, aeadCT...)
	sealed = append(sealed, ct...)

	return Output{
		Commitment: c,
		RangeProof: proof,
		Recipient:  recipient,
		Sealed:     sealed,
	}, nil
}

// Verify is the public check any observer can perform: the proof's
// embedded commitment must equal the output's commitment, and the range
// proof itself must verify. It never requires the recipient's key.
func Verify(out Output) bool {
	if out.RangeProof.Commitment != out.Commitment {
		return false
	}
	return starkrange.Verify(out.RangeProof, out.Commitment)
}

// Open recovers (value, blinding) for the recipient holding
// recipientKemSK, and re-derives the commitment to detect tampering of
// either the ciphertext or the stated commitment (spec.md §4.13's Open).
func Open(out Output, recipient [32]byte, recipientKemSK *mlkem768.PrivateKey) (value uint64, blinding [32]byte, err error) {
	kemCTSize := mlkem768.Scheme().CiphertextSize()
	if len(out.Sealed) < nonceSize+16+kemCTSize {
		return 0, blinding, ErrCiphertextTooShort
	}

	nonce := out.Sealed[:nonceSize]
	kemCT := out.Sealed[len(out.Sealed)-kemCTSize:]
	aeadCT := out.Sealed[nonceSize : len(out.Sealed)-kemCTSize]

	ss, err := mlkem768.Scheme().Decapsulate(recipientKemSK, kemCT)
	if err != nil {
		return 0, blinding, ErrKemFailed
	}
	key := khash.KMAC256(khash.LabelTxValueEnc, ss)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return 0, blinding, ErrAeadFailed
	}
	plaintext, err := aead.Open(nil, nonce, aeadCT, nil)
	if err != nil {
		return 0, blinding, ErrAeadFailed
	}
	if len(plaintext) != 40 {
		return 0, blinding, ErrAeadFailed
	}

	value = binary.LittleEndian.Uint64(plaintext[:8])
	copy(blinding[:], plaintext[8:])

	recomputed := commitment.Commit(value, blinding, recipient)
	if recomputed != out.Commitment {
		return 0, blinding, ErrCommitmentMismatch
	}
	return value, blinding, nil
}
