// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainstore implements parent/height/cumulative-weight tracking
// and fork choice (spec.md §4.14, C14). Grounded on
// _examples/original_source/tt_node/src/chain_store.rs's ChainStore.
package chainstore

import (
	"sync"
	"time"

	safemath "github.com/luxfi/consensus/utils/math"
)

// BlockID identifies a block by its header hash.
type BlockID [32]byte

// AcceptResult reports what Accept did.
type AcceptResult struct {
	IsNew  bool
	IsHead bool
}

type record struct {
	parent BlockID
	height uint64
	weight uint64 // self weight
	cumw   uint64 // cumulative weight
}

// orphan is a block buffered because its parent has not arrived yet.
type orphan struct {
	id         BlockID
	parent     BlockID
	selfWeight uint64
	arrivedAt  time.Time
}

// Store maintains block ancestry and the current chain head.
type Store struct {
	mu       sync.RWMutex
	records  map[BlockID]record
	head     BlockID
	hasHead  bool
	orphans  map[BlockID]orphan
	orphanTTL time.Duration
}

// New returns an empty store. orphanTTL bounds how long a block missing
// its parent is buffered before being dropped (spec.md §5).
func New(orphanTTL time.Duration) *Store {
	return &Store{
		records: make(map[BlockID]record),
		orphans: make(map[BlockID]orphan),
		orphanTTL: orphanTTL,
	}
}

// Has reports whether id is known (genesis or accepted).
func (s *Store) Has(id BlockID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Height returns id's height, if known.
func (s *Store) Height(id BlockID) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r.height, ok
}

// CumulativeWeight returns id's cumulative weight, if known.
func (s *Store) CumulativeWeight(id BlockID) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r.cumw, ok
}

// Head returns the current chain head.
func (s *Store) Head() (BlockID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, s.hasHead
}

// AcceptGenesis registers the genesis block at height 0.
func (s *Store) AcceptGenesis(id BlockID, selfWeight uint64) AcceptResult {
	return s.accept(id, BlockID{}, selfWeight, true)
}

// Accept registers a block whose parent is id's parent. If the parent is
// unknown, the block is buffered as an orphan and AcceptResult.IsNew is
// true but IsHead is always false; call ReleaseOrphans once the parent
// arrives.
func (s *Store) Accept(id, parent BlockID, selfWeight uint64) AcceptResult {
	s.mu.Lock()
	if _, ok := s.records[parent]; !ok {
		s.orphans[id] = orphan{id: id, parent: parent, selfWeight: selfWeight, arrivedAt: time.Now()}
		s.mu.Unlock()
		return AcceptResult{IsNew: true, IsHead: false}
	}
	s.mu.Unlock()
	return s.accept(id, parent, selfWeight, false)
}

func (s *Store) accept(id, parent BlockID, selfWeight uint64, genesis bool) AcceptResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return AcceptResult{IsNew: false, IsHead: s.hasHead && s.head == id}
	}

	var height, parentCumw uint64
	if !genesis {
		p := s.records[parent]
		height = p.height + 1
		parentCumw = p.cumw
	}
	cumw, err := safemath.Add64(parentCumw, selfWeight)
	if err != nil {
		cumw = ^uint64(0)
	}

	s.records[id] = record{parent: parent, height: height, weight: selfWeight, cumw: cumw}

	isHead := false
	if s.updateHeadLocked(id, cumw, height) {
		isHead = true
	}
	s.releaseOrphansLocked(id)
	return AcceptResult{IsNew: true, IsHead: isHead}
}

// updateHeadLocked applies spec.md §4.14's fork-choice rule: maximize
// cumw, tie-break by greater height, then by lexicographically smaller
// block id. Caller holds s.mu.
func (s *Store) updateHeadLocked(id BlockID, cumw, height uint64) bool {
	if !s.hasHead {
		s.head, s.hasHead = id, true
		return true
	}
	cur := s.records[s.head]
	switch {
	case cumw > cur.cumw:
	case cumw == cur.cumw && height > cur.height:
	case cumw == cur.cumw && height == cur.height && lessBlockID(id, s.head):
	default:
		return false
	}
	s.head = id
	return true
}

func (s *Store) releaseOrphansLocked(parent BlockID) {
	for id, o := range s.orphans {
		if o.parent != parent {
			continue
		}
		delete(s.orphans, id)
		s.mu.Unlock()
		s.accept(o.id, o.parent, o.selfWeight, false)
		s.mu.Lock()
	}
}

// ExpireOrphans drops any orphan buffered longer than the store's
// orphanTTL, returning the dropped block ids.
func (s *Store) ExpireOrphans(now time.Time) []BlockID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []BlockID
	for id, o := range s.orphans {
		if now.Sub(o.arrivedAt) >= s.orphanTTL {
			expired = append(expired, id)
			delete(s.orphans, id)
		}
	}
	return expired
}

func lessBlockID(a, b BlockID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
