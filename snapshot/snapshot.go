// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package snapshot implements the Merkle-committed epoch snapshot
// (spec.md §4.5, C5): a deterministic lexicographic ordering of active
// validators with a Merkle root over their stake/trust weight leaves.
// Grounded on _examples/original_source/src/pot.rs's EpochSnapshot.
package snapshot

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/consensus/registry"
	"github.com/luxfi/ids"
)

var (
	ErrUnknownValidator = errors.New("snapshot: unknown validator")
	ErrInvalidWitness   = errors.New("snapshot: invalid witness")
)

// Entry is one ordered row of the snapshot.
type Entry struct {
	Who    ids.NodeID
	StakeQ fixedpoint.Q
	TrustQ fixedpoint.Q
}

// Snapshot is immutable once built.
type Snapshot struct {
	Epoch        uint64
	Order        []ids.NodeID
	entries      map[ids.NodeID]Entry
	indexOf      map[ids.NodeID]int
	leaves       []khash.Hash32
	WeightsRoot  khash.Hash32
	SumWeightsQ  fixedpoint.Q
}

// Build constructs a snapshot from the registry's active entries and the
// trust ledger, per spec.md §4.5.
func Build(epoch uint64, reg *registry.Registry, trust *registry.TrustLedger, minBond uint64, initQ fixedpoint.Q) *Snapshot {
	active := reg.ActiveEntries(minBond)

	var totalStake uint64
	for _, e := range active {
		totalStake += e.Stake
	}

	order := make([]ids.NodeID, 0, len(active))
	entries := make(map[ids.NodeID]Entry, len(active))
	for _, e := range active {
		stakeQ := fixedpoint.QFromRatio128(e.Stake, totalStake)
		trustQ := trust.GetOrDefault(e.Who, initQ)
		if trustQ > fixedpoint.ONE_Q {
			trustQ = fixedpoint.ONE_Q
		}
		order = append(order, e.Who)
		entries[e.Who] = Entry{Who: e.Who, StakeQ: stakeQ, TrustQ: trustQ}
	}
	sort.Slice(order, func(i, j int) bool { return lessNodeID(order[i], order[j]) })

	indexOf := make(map[ids.NodeID]int, len(order))
	leaves := make([]khash.Hash32, len(order))
	var sumWeights fixedpoint.Q
	for i, who := range order {
		indexOf[who] = i
		e := entries[who]
		leaves[i] = leafHash(e)
		sumWeights = fixedpoint.QAdd(sumWeights, fixedpoint.QMul(e.StakeQ, e.TrustQ))
	}

	return &Snapshot{
		Epoch:       epoch,
		Order:       order,
		entries:     entries,
		indexOf:     indexOf,
		leaves:      leaves,
		WeightsRoot: khash.MerkleRoot(leaves),
		SumWeightsQ: sumWeights,
	}
}

func leafHash(e Entry) khash.Hash32 {
	var stakeLE, trustLE [8]byte
	binary.LittleEndian.PutUint64(stakeLE[:], e.StakeQ)
	binary.LittleEndian.PutUint64(trustLE[:], e.TrustQ)
	return khash.MerkleLeaf(e.Who, stakeLE[:], trustLE[:])
}

// StakeQOf returns who's stake_q in this snapshot.
func (s *Snapshot) StakeQOf(who ids.NodeID) (fixedpoint.Q, bool) {
	e, ok := s.entries[who]
	return e.StakeQ, ok
}

// TrustQOf returns who's trust_q in this snapshot.
func (s *Snapshot) TrustQOf(who ids.NodeID) (fixedpoint.Q, bool) {
	e, ok := s.entries[who]
	return e.TrustQ, ok
}

// LeafIndexOf returns who's position in Order.
func (s *Snapshot) LeafIndexOf(who ids.NodeID) (int, bool) {
	idx, ok := s.indexOf[who]
	return idx, ok
}

// Witness is the compact proof of a validator's weight against
// WeightsRoot (spec.md's "Leader witness", compact form).
type Witness struct {
	Who       ids.NodeID
	StakeQ    fixedpoint.Q
	TrustQ    fixedpoint.Q
	LeafIndex int
	Siblings  []khash.Hash32
}

// Witness builds the Merkle path for who. Supplemented from
// _examples/original_source/src/pot.rs's build_proof/leaf_index_of.
func (s *Snapshot) Witness(who ids.NodeID) (Witness, error) {
	idx, ok := s.indexOf[who]
	if !ok {
		return Witness{}, ErrUnknownValidator
	}
	e := s.entries[who]
	return Witness{
		Who:       who,
		StakeQ:    e.StakeQ,
		TrustQ:    e.TrustQ,
		LeafIndex: idx,
		Siblings:  khash.MerkleProof(s.leaves, idx),
	}, nil
}

// VerifyWitness checks stake_q/trust_q match the stored values, leaf_index
// matches order.position(who), and the Merkle path recomputes
// WeightsRoot.
func (s *Snapshot) VerifyWitness(w Witness) error {
	idx, ok := s.indexOf[w.Who]
	if !ok || idx != w.LeafIndex {
		return ErrInvalidWitness
	}
	e, ok := s.entries[w.Who]
	if !ok || e.StakeQ != w.StakeQ || e.TrustQ != w.TrustQ {
		return ErrInvalidWitness
	}
	leaf := leafHash(Entry{Who: w.Who, StakeQ: w.StakeQ, TrustQ: w.TrustQ})
	if !khash.VerifyMerkleProof(leaf, w.LeafIndex, w.Siblings, s.WeightsRoot) {
		return ErrInvalidWitness
	}
	return nil
}

func lessNodeID(a, b ids.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
