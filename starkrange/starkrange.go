// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package starkrange implements the bit-decomposition range-proof AIR and
// its FRI-style commitment (spec.md §4.12, C12): proves 0 ≤ value < 2^64
// and binds the proof to a caller-supplied commitment hash, without
// revealing value to the verifier beyond what the statement discloses.
// Grounded on _examples/original_source/src/stark_mini.rs's
// MiniSTARKProver/MiniSTARKVerifier (trace generation, Merkle commitment,
// folded "FRI" layers, Fiat-Shamir query sampling), extended from its
// single-column trace to the three-column SUM/BIT/POW2 AIR spec.md §4.12
// specifies, and from XOR-folding to real field arithmetic. No third-party
// library in the pack implements a generic prime-field AIR/FRI stack
// (gnark-crypto's STARK support is curve-paired, not a bare Fiat-Shamir
// FRI over an arbitrary prime) so the field arithmetic here is hand-built
// on math/big, per DESIGN.md.
package starkrange

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/consensus/khash"
)

// NumBits is the fixed statement width: 0 ≤ value < 2^NumBits.
const NumBits = 64

// NumQueries, Blowup, and FRIFoldingFactor are the default FRI security
// parameters (spec.md §4.12): conjectured ≥ 95-bit security floor.
const (
	NumQueries       = 32
	Blowup           = 8
	FRIFoldingFactor = 8
)

// TraceLen is next_pow2(NumBits+1).
var TraceLen = nextPow2(NumBits + 1)

// fieldPrime is 2^127-1, the 12th Mersenne prime (M127), used as the
// AIR's 128-bit prime field modulus.
var fieldPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 127)
	return p.Sub(p, big.NewInt(1))
}()

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func feltBytes(v *big.Int) []byte {
	var b [16]byte
	v.FillBytes(b[:])
	return b[:]
}

func feltMul(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Mod(r, fieldPrime)
}

func feltAdd(a, b *big.Int) *big.Int {
	r := new(big.Int).Add(a, b)
	return r.Mod(r, fieldPrime)
}

func feltFromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// trace holds the three AIR columns.
type trace struct {
	sum  []*big.Int
	bit  []*big.Int
	pow2 []*big.Int
}

// buildTrace computes the SUM/BIT/POW2 columns per spec.md §4.12:
// SUM' = SUM + BIT·POW2, POW2' = 2·POW2, BIT ∈ {0,1}, with padding rows
// past NumBits holding SUM constant and BIT = 0.
func buildTrace(value uint64) trace {
	tr := trace{
		sum:  make([]*big.Int, TraceLen),
		bit:  make([]*big.Int, TraceLen),
		pow2: make([]*big.Int, TraceLen),
	}
	tr.sum[0] = big.NewInt(0)
	tr.pow2[0] = big.NewInt(1)
	for i := 0; i < TraceLen; i++ {
		if i < NumBits {
			tr.bit[i] = feltFromUint64((value >> uint(i)) & 1)
		} else {
			tr.bit[i] = big.NewInt(0)
		}
		if i+1 < TraceLen {
			tr.sum[i+1] = feltAdd(tr.sum[i], feltMul(tr.bit[i], tr.pow2[i]))
			tr.pow2[i+1] = feltAdd(tr.pow2[i], tr.pow2[i])
		}
	}
	return tr
}

func rowLeaf(sum, bit, pow2 *big.Int) khash.Hash32 {
	return khash.KMAC256(khash.LabelStarkLeaf, feltBytes(sum), feltBytes(bit), feltBytes(pow2))
}

func (tr trace) leaves() []khash.Hash32 {
	out := make([]khash.Hash32, TraceLen)
	for i := 0; i < TraceLen; i++ {
		out[i] = rowLeaf(tr.sum[i], tr.bit[i], tr.pow2[i])
	}
	return out
}

// RowOpening authenticates one trace row against the trace root.
type RowOpening struct {
	Index    int
	Sum      *big.Int
	Bit      *big.Int
	Pow2     *big.Int
	Siblings []khash.Hash32
}

func openRow(tr trace, leaves []khash.Hash32, index int) RowOpening {
	return RowOpening{
		Index:    index,
		Sum:      tr.sum[index],
		Bit:      tr.bit[index],
		Pow2:     tr.pow2[index],
		Siblings: khash.MerkleProof(leaves, index),
	}
}

func verifyRowOpening(root khash.Hash32, op RowOpening) bool {
	leaf := rowLeaf(op.Sum, op.Bit, op.Pow2)
	return khash.VerifyMerkleProof(leaf, op.Index, op.Siblings, root)
}

// TransitionQuery authenticates a pair of adjacent rows so the verifier
// can recheck the AIR's transition constraints at a sampled point.
type TransitionQuery struct {
	Row     RowOpening
	NextRow RowOpening
}

// Proof is a range proof bound to a value commitment.
type Proof struct {
	Value        uint64
	NumBits      uint32
	Commitment   khash.Hash32
	TraceRoot    khash.Hash32
	FRILayers    []khash.Hash32
	BoundaryLow  RowOpening // row 0: SUM=0, POW2=1
	BoundaryHigh RowOpening // row TraceLen-1: SUM=value
	Transitions  []TransitionQuery
}

// Prove builds a range proof that value ∈ [0, 2^NumBits) and binds it to
// commitment (spec.md §4.12's public-inputs binding rule).
func Prove(value uint64, commitment khash.Hash32) Proof {
	tr := buildTrace(value)
	leaves := tr.leaves()
	root := khash.MerkleRoot(leaves)

	friLayers := friCommit(tr.sum, root, commitment)

	indices := queryIndices(root, commitment, NumQueries, TraceLen-1)
	transitions := make([]TransitionQuery, 0, len(indices))
	for _, idx := range indices {
		transitions = append(transitions, TransitionQuery{
			Row:     openRow(tr, leaves, idx),
			NextRow: openRow(tr, leaves, idx+1),
		})
	}

	return Proof{
		Value:        value,
		NumBits:      NumBits,
		Commitment:   commitment,
		TraceRoot:    root,
		FRILayers:    friLayers,
		BoundaryLow:  openRow(tr, leaves, 0),
		BoundaryHigh: openRow(tr, leaves, TraceLen-1),
		Transitions:  transitions,
	}
}

// Verify checks proof against the caller-supplied commitment. Any
// mismatch between the proof's embedded commitment and the caller's
// expectedCommitment is rejected before any cryptographic check runs,
// per spec.md §4.12's binding rule.
func Verify(proof Proof, expectedCommitment khash.Hash32) bool {
	if proof.Commitment != expectedCommitment {
		return false
	}
	if proof.NumBits != NumBits {
		return false
	}
	if len(proof.FRILayers) == 0 {
		return false
	}

	if !verifyRowOpening(proof.TraceRoot, proof.BoundaryLow) {
		return false
	}
	if proof.BoundaryLow.Index != 0 || proof.BoundaryLow.Sum.Sign() != 0 || proof.BoundaryLow.Pow2.Cmp(big.NewInt(1)) != 0 {
		return false
	}

	if !verifyRowOpening(proof.TraceRoot, proof.BoundaryHigh) {
		return false
	}
	if proof.BoundaryHigh.Index != TraceLen-1 || proof.BoundaryHigh.Sum.Cmp(feltFromUint64(proof.Value)) != 0 {
		return false
	}

	if len(proof.Transitions) < NumQueries {
		return false
	}
	for _, q := range proof.Transitions {
		if !verifyRowOpening(proof.TraceRoot, q.Row) || !verifyRowOpening(proof.TraceRoot, q.NextRow) {
			return false
		}
		if q.NextRow.Index != q.Row.Index+1 {
			return false
		}
		if q.Row.Bit.Sign() != 0 && q.Row.Bit.Cmp(big.NewInt(1)) != 0 {
			return false
		}
		// BIT·(BIT−1) = 0
		bitCheck := feltMul(q.Row.Bit, new(big.Int).Sub(q.Row.Bit, big.NewInt(1)))
		if bitCheck.Sign() != 0 {
			return false
		}
		// SUM' = SUM + BIT·POW2
		wantSum := feltAdd(q.Row.Sum, feltMul(q.Row.Bit, q.Row.Pow2))
		if wantSum.Cmp(q.NextRow.Sum) != 0 {
			return false
		}
		// POW2' = 2·POW2
		wantPow2 := feltAdd(q.Row.Pow2, q.Row.Pow2)
		if wantPow2.Cmp(q.NextRow.Pow2) != 0 {
			return false
		}
	}

	return true
}

// friCommit folds the SUM column in groups of FRIFoldingFactor, hashing
// each round's values into a layer commitment, until one value remains.
// Simplified per _examples/original_source/src/stark_mini.rs's fri_commit
// (domain folding without a full low-degree test), generalized from XOR
// folding to a field linear combination keyed by a Fiat-Shamir challenge.
func friCommit(sum []*big.Int, root, commitment khash.Hash32) []khash.Hash32 {
	alpha := friChallenge(root, commitment)
	current := make([]*big.Int, len(sum))
	copy(current, sum)

	var layers []khash.Hash32
	round := 0
	for len(current) > 1 {
		layers = append(layers, hashFeltLayer(current, round))

		groupSize := FRIFoldingFactor
		if groupSize > len(current) {
			groupSize = len(current)
		}
		numGroups := (len(current) + groupSize - 1) / groupSize
		next := make([]*big.Int, numGroups)
		for g := 0; g < numGroups; g++ {
			acc := big.NewInt(0)
			pow := big.NewInt(1)
			for k := 0; k < groupSize; k++ {
				idx := g*groupSize + k
				if idx >= len(current) {
					break
				}
				acc = feltAdd(acc, feltMul(current[idx], pow))
				pow = feltMul(pow, alpha)
			}
			next[g] = acc
		}
		current = next
		round++
	}
	layers = append(layers, hashFeltLayer(current, round))
	return layers
}

func friChallenge(root, commitment khash.Hash32) *big.Int {
	h := khash.KMAC256(khash.LabelStarkFRI, root[:], commitment[:])
	v := new(big.Int).SetBytes(h[:])
	return v.Mod(v, fieldPrime)
}

func hashFeltLayer(vals []*big.Int, round int) khash.Hash32 {
	parts := make([][]byte, 0, len(vals)+1)
	var roundLE [8]byte
	binary.LittleEndian.PutUint64(roundLE[:], uint64(round))
	parts = append(parts, roundLE[:])
	for _, v := range vals {
		parts = append(parts, feltBytes(v))
	}
	return khash.KMAC256(khash.LabelStarkFRI, parts...)
}

// queryIndices derives numQueries pseudorandom indices in [0, bound) via
// Fiat-Shamir over the trace root and the bound commitment.
func queryIndices(root, commitment khash.Hash32, numQueries, bound int) []int {
	out := make([]int, 0, numQueries)
	for i := 0; i < numQueries; i++ {
		var iLE [8]byte
		binary.LittleEndian.PutUint64(iLE[:], uint64(i))
		h := khash.KMAC256(khash.LabelStarkQuery, root[:], commitment[:], iLE[:])
		idx := int(binary.LittleEndian.Uint64(h[:8]) % uint64(bound))
		out = append(out, idx)
	}
	return out
}
