// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package khash implements the node's single hashing primitive: KMAC256
// built on cSHAKE256, keyed with a fixed consensus-wide string, plus the
// Merkle leaf/parent helpers and handshake transcript hasher built on top
// of it. Every domain-separated hash in the node goes through this
// package; no other package calls a hash function directly.
package khash

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/sha3"
)

// ConsensusKey is the fixed KMAC key absorbed before any caller input.
const ConsensusKey = "TT-CONSENSUS-KMAC256"

// Labels, the closed set of customization strings used across the node.
const (
	LabelWeight         = "WGT.v1"
	LabelMerkleParent   = "MRK.v1"
	LabelMerkleEmpty    = "MRK.empty.v1"
	LabelEligibility    = "ELIG.v1"
	LabelRandaoCommit   = "RANDAO.commit.v1"
	LabelRandaoMix      = "RANDAO.mix.v1"
	LabelRandaoSlot     = "RANDAO.slot.v1"
	LabelSession        = "TT-P2P-SESSION.v1"
	LabelTxOutput       = "TX_OUTPUT.v1"
	LabelTxValueEnc     = "TX_VALUE_ENC"
	LabelTranscriptSeed = "TT-P2P-HANDSHAKE.v1"

	LabelStarkLeaf  = "STARK.leaf.v1"
	LabelStarkFRI   = "STARK.fri.v1"
	LabelStarkQuery = "STARK.query.v1"

	TranscriptClientHello    = "CH"
	TranscriptServerHello    = "SH"
	TranscriptClientFinished = "CF"
	TranscriptSigServer      = "SIG_S"
	TranscriptSigClient      = "SIG_C"
)

// Hash32 is a 32-byte digest.
type Hash32 [32]byte

// KMAC256 computes the node's single hash primitive: cSHAKE256 function
// name "KMAC", customization = label, absorbing the fixed ConsensusKey
// followed by each element of parts, each prefixed with its own 8-byte
// little-endian length, and squeezing 32 bytes.
func KMAC256(label string, parts ...[]byte) Hash32 {
	h := sha3.NewCShake256([]byte("KMAC"), []byte(label))
	absorbLenPrefixed(h, []byte(ConsensusKey))
	for _, p := range parts {
		absorbLenPrefixed(h, p)
	}
	var out Hash32
	_, _ = h.Read(out[:])
	return out
}

func absorbLenPrefixed(h *sha3.SHAKE, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}

// MerkleLeaf computes the weight-snapshot leaf hash for a registry entry.
func MerkleLeaf(who [32]byte, stakeQLE, trustQLE []byte) Hash32 {
	return KMAC256(LabelWeight, who[:], stakeQLE, trustQLE)
}

// MerkleParent computes a Merkle internal node from its two children.
func MerkleParent(left, right Hash32) Hash32 {
	return KMAC256(LabelMerkleParent, left[:], right[:])
}

// MerkleEmptyRoot is the distinct root used for a snapshot with no
// entries; it is never the 32-byte zero string.
func MerkleEmptyRoot() Hash32 {
	return KMAC256(LabelMerkleEmpty)
}

// MerkleRoot reduces a list of leaves to a single root, duplicating the
// last element of any odd-length layer (the same padding rule as
// _examples/original_source/src/pot.rs's merkle_root).
func MerkleRoot(leaves []Hash32) Hash32 {
	if len(leaves) == 0 {
		return MerkleEmptyRoot()
	}
	layer := make([]Hash32, len(leaves))
	copy(layer, leaves)
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := make([]Hash32, len(layer)/2)
		for i := 0; i < len(next); i++ {
			next[i] = MerkleParent(layer[2*i], layer[2*i+1])
		}
		layer = next
	}
	return layer[0]
}

// MerkleProof returns the sibling path for leafIndex within leaves,
// bottom to top, applying the same duplicate-last-odd padding as
// MerkleRoot so the path recomputes the same root.
func MerkleProof(leaves []Hash32, leafIndex int) []Hash32 {
	if len(leaves) == 0 || leafIndex < 0 || leafIndex >= len(leaves) {
		return nil
	}
	layer := make([]Hash32, len(leaves))
	copy(layer, leaves)
	idx := leafIndex
	var siblings []Hash32
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		siblingIdx := idx ^ 1
		siblings = append(siblings, layer[siblingIdx])
		next := make([]Hash32, len(layer)/2)
		for i := 0; i < len(next); i++ {
			next[i] = MerkleParent(layer[2*i], layer[2*i+1])
		}
		layer = next
		idx /= 2
	}
	return siblings
}

// VerifyMerkleProof recomputes the root from leaf, leafIndex, and
// siblings, and reports whether it equals root.
func VerifyMerkleProof(leaf Hash32, leafIndex int, siblings []Hash32, root Hash32) bool {
	cur := leaf
	idx := leafIndex
	for _, sib := range siblings {
		if idx%2 == 0 {
			cur = MerkleParent(cur, sib)
		} else {
			cur = MerkleParent(sib, cur)
		}
		idx /= 2
	}
	return cur == root
}

// Transcript is a running SHA3-256 hasher over handshake fields, each
// absorbed with a label and its length before the bytes, removing
// length-extension and reordering ambiguity.
type Transcript struct {
	h hash.Hash
}

// NewTranscript seeds a fresh transcript with the handshake domain string.
func NewTranscript() *Transcript {
	t := &Transcript{h: sha3.New256()}
	t.Absorb("SEED", []byte(LabelTranscriptSeed))
	return t
}

// Absorb feeds a labeled field into the transcript: label, 4-byte
// big-endian length, then the bytes.
func (t *Transcript) Absorb(label string, b []byte) {
	_, _ = t.h.Write([]byte(label))
	var lenBuf [4]byte
	lenBuf[0] = byte(len(b) >> 24)
	lenBuf[1] = byte(len(b) >> 16)
	lenBuf[2] = byte(len(b) >> 8)
	lenBuf[3] = byte(len(b))
	_, _ = t.h.Write(lenBuf[:])
	_, _ = t.h.Write(b)
}

// Sum returns the current transcript hash without finalizing further
// writes (callers may continue to Absorb after calling Sum).
func (t *Transcript) Sum() Hash32 {
	var out Hash32
	sum := t.h.Sum(nil)
	copy(out[:], sum)
	return out
}
