// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package slashing implements equivocation detection and the penalties
// applied to equivocators and RANDAO non-revealers (spec.md §4.8, C8).
package slashing

import (
	"math/bits"
	"sync"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/registry"
	"github.com/luxfi/consensus/utils/set"
	"github.com/luxfi/ids"
)

// SlotKey identifies one (epoch, slot, who) triple.
type SlotKey struct {
	Epoch uint64
	Slot  uint64
	Who   ids.NodeID
}

// Detector tracks accepted header hashes per (epoch, slot, who) and the
// set of triples already slashed, so a single triple slashes at most
// once.
type Detector struct {
	mu       sync.Mutex
	accepted map[SlotKey][32]byte // first accepted header hash
	slashed  set.Set[SlotKey]
	// winners holds the current winning validator per (epoch, slot); an
	// equivocation revokes it.
	winners map[[2]uint64]ids.NodeID
}

// NewDetector returns an empty detector.
func NewDetector() *Detector {
	return &Detector{
		accepted: make(map[SlotKey][32]byte),
		slashed:  set.NewSet[SlotKey](0),
		winners:  make(map[[2]uint64]ids.NodeID),
	}
}

// SetWinner records who as the current (epoch, slot) winner.
func (d *Detector) SetWinner(epoch, slot uint64, who ids.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.winners[[2]uint64{epoch, slot}] = who
}

// Winner returns the current (epoch, slot) winner, if any.
func (d *Detector) Winner(epoch, slot uint64) (ids.NodeID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	who, ok := d.winners[[2]uint64{epoch, slot}]
	return who, ok
}

// RevokeWinner clears the (epoch, slot) winner, e.g. after an
// equivocation.
func (d *Detector) RevokeWinner(epoch, slot uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.winners, [2]uint64{epoch, slot})
}

// Observe records an accepted proposal's header hash for (epoch, slot,
// who) and reports whether this call detects an equivocation (a second,
// distinct header hash for the same triple).
func (d *Detector) Observe(epoch, slot uint64, who ids.NodeID, headerHash [32]byte) (equivocated bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := SlotKey{Epoch: epoch, Slot: slot, Who: who}
	prev, seen := d.accepted[key]
	if !seen {
		d.accepted[key] = headerHash
		return false
	}
	return prev != headerHash
}

// AlreadySlashed reports whether (epoch, slot, who) has already been
// slashed for equivocation.
func (d *Detector) AlreadySlashed(epoch, slot uint64, who ids.NodeID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slashed.Contains(SlotKey{Epoch: epoch, Slot: slot, Who: who})
}

// MarkSlashed records that (epoch, slot, who) has been slashed, so a
// repeat Observe for the same triple cannot slash again.
func (d *Detector) MarkSlashed(epoch, slot uint64, who ids.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slashed.Add(SlotKey{Epoch: epoch, Slot: slot, Who: who})
}

// PenaltyBps cuts who's stake by bps basis points (clamped at 100%).
func PenaltyBps(reg *registry.Registry, who ids.NodeID, bps uint64) {
	if bps > 10000 {
		bps = 10000
	}
	reg.StakeMut(who, func(stake uint64) uint64 {
		hi, lo := bits.Mul64(stake, bps)
		reduction, _ := bits.Div64(hi, lo, 10000)
		if reduction >= stake {
			return 0
		}
		return stake - reduction
	})
}

// SlashEquivocation applies spec.md §4.8's equivocation effect: reset
// trust to initQ, cut stake by penaltyBps, and revoke any winning-slot
// assignment for the slot.
func SlashEquivocation(d *Detector, reg *registry.Registry, trust *registry.TrustLedger, epoch, slot uint64, who ids.NodeID, initQ fixedpoint.Q, penaltyBps uint64) {
	if d.AlreadySlashed(epoch, slot, who) {
		return
	}
	trust.Set(who, initQ)
	PenaltyBps(reg, who, penaltyBps)
	d.RevokeWinner(epoch, slot)
	d.MarkSlashed(epoch, slot, who)
}

// SlashNoReveal applies spec.md §4.6/§4.8's RANDAO no-reveal penalty to
// every committer in missing: trust reset plus a stake cut of
// slashNoRevealBps.
func SlashNoReveal(reg *registry.Registry, trust *registry.TrustLedger, missing []ids.NodeID, initQ fixedpoint.Q, slashNoRevealBps uint64) {
	for _, who := range missing {
		trust.Set(who, initQ)
		PenaltyBps(reg, who, slashNoRevealBps)
	}
}
