// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sortition implements the per-slot eligibility lottery and
// proposal witness verification (spec.md §4.7, C7). Grounded on
// _examples/original_source/src/pot.rs's verify_leader_common /
// verify_leader_and_update_trust.
package sortition

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/consensus/snapshot"
	"github.com/luxfi/ids"
)

var (
	ErrEpochMismatch   = errors.New("sortition: epoch mismatch")
	ErrUnknownValidator = errors.New("sortition: unknown validator")
	ErrInvalidWitness  = errors.New("sortition: invalid witness")
	ErrNotEligible     = errors.New("sortition: not eligible")
)

// minSumWeightsDivisor is sum_weights_q's floor, ONE_Q/1_000_000, preventing a
// division by a near-zero denominator from producing a degenerate
// near-infinite threshold.
const minSumWeightsDivisor = fixedpoint.ONE_Q / 1_000_000

// ProbThreshold computes
// p = clamp01(lambda * (stakeQ*clamp01(trustQ)) / max(sumWeightsQ, ONE_Q/1_000_000)).
func ProbThreshold(lambdaQ, stakeQ, trustQ, sumWeightsQ fixedpoint.Q) fixedpoint.Q {
	denom := sumWeightsQ
	if denom < minSumWeightsDivisor {
		denom = minSumWeightsDivisor
	}
	wi := fixedpoint.QMul(stakeQ, fixedpoint.QClamp01(trustQ))
	return fixedpoint.QClamp01(fixedpoint.QMul(lambdaQ, fixedpoint.QDiv(wi, denom)))
}

// EligHash computes KMAC("ELIG.v1", beaconValue || slot_LE || who).
func EligHash(beaconValue khash.Hash32, slot uint64, who ids.NodeID) khash.Hash32 {
	var slotLE [8]byte
	binary.LittleEndian.PutUint64(slotLE[:], slot)
	return khash.KMAC256(khash.LabelEligibility, beaconValue[:], slotLE[:], who[:])
}

// boundU64 returns min((p as u128) << 32, 2^64-1), the 64-bit eligibility
// bound derived from a probability threshold p.
func boundU64(p fixedpoint.Q) uint64 {
	hi, lo := bits.Mul64(p, fixedpoint.ONE_Q)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

// Y returns the first 8 bytes, big-endian, of an eligibility hash.
func Y(h khash.Hash32) uint64 {
	return binary.BigEndian.Uint64(h[:8])
}

// Weight returns (2^64)/(y+1) computed with 128-bit arithmetic, saturating
// to 2^64-1 for y=0, whose true quotient 2^64 does not fit in 64 bits.
func Weight(y uint64) uint64 {
	// (2^64) / (y+1): compute as a 128-bit dividend 1:0 divided by (y+1).
	denom := y + 1
	if denom == 0 {
		// y == ^uint64(0): y+1 wraps to 0, meaning the true denominator is
		// 2^64, so weight rounds down to 1.
		return 1
	}
	if denom == 1 {
		// y == 0: the quotient 2^64 overflows, so it saturates.
		return ^uint64(0)
	}
	q, _ := bits.Div64(1, 0, denom)
	return q
}

// Eligible reports whether y <= bound(p).
func Eligible(y uint64, p fixedpoint.Q) bool {
	return y <= boundU64(p)
}

// Proposal is an incoming leader claim, bundling a compact witness with
// the slot it claims to win.
type Proposal struct {
	Epoch   uint64
	Slot    uint64
	Witness snapshot.Witness
}

// VerifyProposal implements spec.md §4.7's verification order:
// snapshot-epoch match -> witness check -> eligibility check. It does not
// reward trust; callers invoke registry.TrustLedger.ApplyBlockReward
// themselves once a proposal is accepted, so this function stays pure.
func VerifyProposal(snap *snapshot.Snapshot, beaconValue khash.Hash32, lambdaQ fixedpoint.Q, prop Proposal) (weight uint64, err error) {
	if prop.Epoch != snap.Epoch {
		return 0, ErrEpochMismatch
	}
	if err := snap.VerifyWitness(prop.Witness); err != nil {
		return 0, ErrInvalidWitness
	}
	if snap.SumWeightsQ == 0 {
		return 0, ErrNotEligible
	}
	p := ProbThreshold(lambdaQ, prop.Witness.StakeQ, prop.Witness.TrustQ, snap.SumWeightsQ)
	h := EligHash(beaconValue, prop.Slot, prop.Witness.Who)
	y := Y(h)
	if !Eligible(y, p) {
		return 0, ErrNotEligible
	}
	return Weight(y), nil
}
