// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package randao implements the per-epoch commit/reveal beacon (spec.md
// §4.6, C6). Grounded on
// _examples/original_source/src/pot.rs's RandaoEpoch/RandaoBeacon.
package randao

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/ids"
)

var (
	ErrCommitMissing   = errors.New("randao: commit missing")
	ErrCommitMismatch  = errors.New("randao: reveal does not match commit")
	ErrAlreadyFinalized = errors.New("randao: epoch already finalized")
)

// Epoch is one epoch's commit/reveal state.
type Epoch struct {
	commits   map[ids.NodeID]khash.Hash32
	reveals   map[ids.NodeID]khash.Hash32
	finalized bool
	seed      khash.Hash32 // prev_beacon, captured at entry
	beacon    khash.Hash32 // set on finalization
}

// Beacon tracks every epoch's commit/reveal/mix state across the chain's
// lifetime.
type Beacon struct {
	mu     sync.Mutex
	epochs map[uint64]*Epoch
	// prevBeacon is the most recently finalized epoch's beacon, the seed
	// for the next epoch.
	prevBeacon khash.Hash32
}

// New returns a beacon seeded with genesisBeacon as epoch 0's prev_beacon.
func New(genesisBeacon khash.Hash32) *Beacon {
	return &Beacon{
		epochs:     make(map[uint64]*Epoch),
		prevBeacon: genesisBeacon,
	}
}

func (b *Beacon) epochAt(epoch uint64) *Epoch {
	e, ok := b.epochs[epoch]
	if !ok {
		e = &Epoch{
			commits: make(map[ids.NodeID]khash.Hash32),
			reveals: make(map[ids.NodeID]khash.Hash32),
			seed:    b.prevBeacon,
		}
		b.epochs[epoch] = e
	}
	return e
}

// CommitHash computes KMAC("RANDAO.commit.v1", epoch_LE || who || reveal).
func CommitHash(epoch uint64, who ids.NodeID, reveal khash.Hash32) khash.Hash32 {
	var epochLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], epoch)
	return khash.KMAC256(khash.LabelRandaoCommit, epochLE[:], who[:], reveal[:])
}

// Commit records who's commitment for epoch.
func (b *Beacon) Commit(epoch uint64, who ids.NodeID, commit khash.Hash32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epochAt(epoch).commits[who] = commit
}

// Reveal accepts a reveal iff it reproduces the stored commit; on
// mismatch or missing commit, no state changes.
func (b *Beacon) Reveal(epoch uint64, who ids.NodeID, reveal khash.Hash32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.epochAt(epoch)
	commit, ok := e.commits[who]
	if !ok {
		return ErrCommitMissing
	}
	if CommitHash(epoch, who, reveal) != commit {
		return ErrCommitMismatch
	}
	e.reveals[who] = reveal
	return nil
}

// Finalize mixes every accepted reveal, in ascending NodeId order,
// starting from epoch_seed, producing the epoch's beacon and advancing
// prevBeacon for the next epoch. Returns the list of committers who never
// revealed, for C8's no-reveal slashing (supplemented per SPEC_FULL.md).
func (b *Beacon) Finalize(epoch uint64) (beacon khash.Hash32, missing []ids.NodeID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.epochAt(epoch)
	if e.finalized {
		return e.beacon, nil, ErrAlreadyFinalized
	}

	committers := make([]ids.NodeID, 0, len(e.commits))
	for who := range e.commits {
		committers = append(committers, who)
	}
	sort.Slice(committers, func(i, j int) bool { return lessNodeID(committers[i], committers[j]) })

	mix := e.seed
	for _, who := range committers {
		r, ok := e.reveals[who]
		if !ok {
			missing = append(missing, who)
			continue
		}
		mix = khash.KMAC256(khash.LabelRandaoMix, mix[:], who[:], r[:])
	}

	e.beacon = mix
	e.finalized = true
	b.prevBeacon = mix
	return mix, missing, nil
}

// Value returns the sortition input for (epoch, slot), per spec.md §4.6:
// KMAC("RANDAO.slot.v1", epoch_LE || slot_LE || base), where base is the
// epoch's seed — stable whether or not the epoch has been finalized.
func (b *Beacon) Value(epoch, slot uint64) khash.Hash32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := b.epochAt(epoch).seed
	var epochLE, slotLE [8]byte
	binary.LittleEndian.PutUint64(epochLE[:], epoch)
	binary.LittleEndian.PutUint64(slotLE[:], slot)
	return khash.KMAC256(khash.LabelRandaoSlot, epochLE[:], slotLE[:], base[:])
}

// Revealed reports whether who's reveal was accepted for epoch, for
// callers (the node layer's quality-score combination) that need
// per-validator reveal participation without reaching into Beacon's
// internal maps.
func (b *Beacon) Revealed(epoch uint64, who ids.NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.epochs[epoch]
	if !ok {
		return false
	}
	_, ok = e.reveals[who]
	return ok
}

// PrevBeacon returns the most recently finalized beacon value.
func (b *Beacon) PrevBeacon() khash.Hash32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prevBeacon
}

func lessNodeID(a, b ids.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
