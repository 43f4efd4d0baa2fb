// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry implements the active-validator set and the per-node
// trust ledger (spec.md §4.3, C3). Trust is the sole authority on
// per-node score; snapshots copy it at epoch start.
package registry

import (
	"sync"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/ids"
)

// Entry is one registry row: who, stake, active.
type Entry struct {
	Who    ids.NodeID
	Stake  uint64
	Active bool
}

// Registry is the active-set bookkeeping store.
type Registry struct {
	mu      sync.RWMutex
	entries map[ids.NodeID]*Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[ids.NodeID]*Entry)}
}

// Insert adds or replaces a registry entry.
func (r *Registry) Insert(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := e
	r.entries[e.Who] = &cp
}

// Stake returns the current stake of who, or 0 if unknown.
func (r *Registry) Stake(who ids.NodeID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[who]; ok {
		return e.Stake
	}
	return 0
}

// StakeMut applies f to who's current stake and stores the result.
// Returns false if who is unknown.
func (r *Registry) StakeMut(who ids.NodeID, f func(stake uint64) uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[who]
	if !ok {
		return false
	}
	e.Stake = f(e.Stake)
	return true
}

// IsActive reports whether who is active and has stake >= minBond.
func (r *Registry) IsActive(who ids.NodeID, minBond uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[who]
	return ok && e.Active && e.Stake >= minBond
}

// SetActive flips the active flag for who.
func (r *Registry) SetActive(who ids.NodeID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[who]; ok {
		e.Active = active
	}
}

// ActiveEntries returns a snapshot copy of every entry with Active==true
// and Stake >= minBond, in no particular order.
func (r *Registry) ActiveEntries(minBond uint64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Active && e.Stake >= minBond {
			out = append(out, *e)
		}
	}
	return out
}

// TrustLedger is the mapping NodeId -> Q, clamped to [0, ONE_Q] on every
// write.
type TrustLedger struct {
	mu      sync.RWMutex
	scores  map[ids.NodeID]fixedpoint.Q
	initial fixedpoint.Q
}

// NewTrustLedger returns a ledger whose Get defaults to initial for
// unseen nodes.
func NewTrustLedger(initial fixedpoint.Q) *TrustLedger {
	return &TrustLedger{
		scores:  make(map[ids.NodeID]fixedpoint.Q),
		initial: fixedpoint.QClamp01(initial),
	}
}

// Get returns who's trust, defaulting to the ledger's initial value.
func (l *TrustLedger) Get(who ids.NodeID) fixedpoint.Q {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.scores[who]; ok {
		return v
	}
	return l.initial
}

// GetOrDefault returns who's trust, or def if unseen.
func (l *TrustLedger) GetOrDefault(who ids.NodeID, def fixedpoint.Q) fixedpoint.Q {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.scores[who]; ok {
		return v
	}
	return def
}

// Set clamps v to [0, ONE_Q] and stores it for who.
func (l *TrustLedger) Set(who ids.NodeID, v fixedpoint.Q) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[who] = fixedpoint.QClamp01(v)
}

// Reset sets who's trust back to the ledger's initial value.
func (l *TrustLedger) Reset(who ids.NodeID) {
	l.Set(who, l.initial)
}

// Decay computes qmul(t, alpha), the EWMA decay step.
func Decay(t, alphaQ fixedpoint.Q) fixedpoint.Q {
	return fixedpoint.QMul(t, alphaQ)
}

// ApplyBlockReward implements
// set(who, clamp01(decay(get(who), alpha) + beta)) per spec.md §4.3.
func (l *TrustLedger) ApplyBlockReward(who ids.NodeID, alphaQ, betaQ fixedpoint.Q) {
	cur := l.Get(who)
	next := fixedpoint.QClamp01(fixedpoint.QAdd(Decay(cur, alphaQ), betaQ))
	l.Set(who, next)
}
