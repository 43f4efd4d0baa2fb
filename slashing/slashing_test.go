// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package slashing

import (
	"testing"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/registry"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func node(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

func TestObserveDetectsEquivocation(t *testing.T) {
	d := NewDetector()
	a := node(1)
	require.False(t, d.Observe(0, 0, a, [32]byte{1}))
	require.True(t, d.Observe(0, 0, a, [32]byte{2}))
}

func TestObserveSameHashNotEquivocation(t *testing.T) {
	d := NewDetector()
	a := node(1)
	require.False(t, d.Observe(0, 0, a, [32]byte{1}))
	require.False(t, d.Observe(0, 0, a, [32]byte{1}))
}

func TestEquivocationScenario(t *testing.T) {
	d := NewDetector()
	reg := registry.New()
	trust := registry.NewTrustLedger(fixedpoint.FromFloat64(0.1))
	a := node(1)
	reg.Insert(registry.Entry{Who: a, Stake: 1000, Active: true})
	trust.Set(a, fixedpoint.ONE_Q)
	d.SetWinner(0, 0, a)

	d.Observe(0, 0, a, [32]byte{1})
	equivocated := d.Observe(0, 0, a, [32]byte{2})
	require.True(t, equivocated)

	SlashEquivocation(d, reg, trust, 0, 0, a, fixedpoint.FromFloat64(0.1), 5000)

	require.Equal(t, uint64(500), reg.Stake(a))
	require.Equal(t, fixedpoint.FromFloat64(0.1), trust.Get(a))
	_, hasWinner := d.Winner(0, 0)
	require.False(t, hasWinner)
}

func TestSlashOnlyOncePerTriple(t *testing.T) {
	d := NewDetector()
	reg := registry.New()
	trust := registry.NewTrustLedger(0)
	a := node(1)
	reg.Insert(registry.Entry{Who: a, Stake: 1000, Active: true})

	SlashEquivocation(d, reg, trust, 0, 0, a, 0, 5000)
	require.Equal(t, uint64(500), reg.Stake(a))

	// A second slash attempt on the same triple must not cut again.
	SlashEquivocation(d, reg, trust, 0, 0, a, 0, 5000)
	require.Equal(t, uint64(500), reg.Stake(a))
}

func TestSlashNoReveal(t *testing.T) {
	reg := registry.New()
	trust := registry.NewTrustLedger(0)
	a := node(1)
	reg.Insert(registry.Entry{Who: a, Stake: 1000, Active: true})
	trust.Set(a, fixedpoint.ONE_Q)

	SlashNoReveal(reg, trust, []ids.NodeID{a}, fixedpoint.FromFloat64(0.2), 1000)
	require.Equal(t, uint64(900), reg.Stake(a))
	require.Equal(t, fixedpoint.FromFloat64(0.2), trust.Get(a))
}

func TestPenaltyBpsClampsAtFullStake(t *testing.T) {
	reg := registry.New()
	a := node(1)
	reg.Insert(registry.Entry{Who: a, Stake: 100, Active: true})
	PenaltyBps(reg, a, 20000)
	require.Equal(t, uint64(0), reg.Stake(a))
}
