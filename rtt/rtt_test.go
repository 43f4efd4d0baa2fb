// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rtt

import (
	"testing"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func node(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

func defaultConfig() Config {
	return Config{
		Beta1:           fixedpoint.FromFloat64(0.4),
		Beta2:           fixedpoint.FromFloat64(0.3),
		Beta3:           fixedpoint.FromFloat64(0.3),
		AlphaHistory:    fixedpoint.FromFloat64(0.99),
		MinTrustToVouch: fixedpoint.FromFloat64(0.5),
	}
}

func TestConfigVerifyRejectsBadWeights(t *testing.T) {
	c := defaultConfig()
	c.Beta1 = fixedpoint.FromFloat64(0.1)
	require.ErrorIs(t, c.Verify(), ErrConfigInvalid)
}

func TestVouchingComponentCapsAtOne(t *testing.T) {
	g := New(defaultConfig(), 0)
	alice, bob, carol := node(1), node(2), node(3)
	g.nodes[alice] = &nodeState{trust: fixedpoint.FromFloat64(0.9), vouches: map[ids.NodeID]Vouch{}}
	g.nodes[bob] = &nodeState{trust: fixedpoint.FromFloat64(0.7), vouches: map[ids.NodeID]Vouch{}}

	require.NoError(t, g.AddVouch(alice, carol, fixedpoint.FromFloat64(0.8), 0))
	require.NoError(t, g.AddVouch(bob, carol, fixedpoint.FromFloat64(0.6), 0))

	// 0.9*0.8 + 0.7*0.6 = 1.14, clamped to 1.0.
	v := g.computeVouchingTrust(carol)
	require.Equal(t, fixedpoint.ONE_Q, v)
}

func TestAddVouchRejectsBelowMinTrust(t *testing.T) {
	g := New(defaultConfig(), 0)
	low, vouchee := node(1), node(2)
	g.nodes[low] = &nodeState{trust: fixedpoint.FromFloat64(0.1), vouches: map[ids.NodeID]Vouch{}}
	err := g.AddVouch(low, vouchee, fixedpoint.FromFloat64(0.05), 0)
	require.Error(t, err)
}

func TestAddVouchRejectsStrengthAboveTrust(t *testing.T) {
	g := New(defaultConfig(), 0)
	voucher, vouchee := node(1), node(2)
	g.nodes[voucher] = &nodeState{trust: fixedpoint.FromFloat64(0.6), vouches: map[ids.NodeID]Vouch{}}
	err := g.AddVouch(voucher, vouchee, fixedpoint.FromFloat64(0.9), 0)
	require.Error(t, err)
}

func TestHistoricalEWMA(t *testing.T) {
	g := New(defaultConfig(), 0)
	a := node(1)
	g.UpdateTrust(a, fixedpoint.ONE_Q)
	h1 := g.nodes[a].historyH
	require.Greater(t, h1, fixedpoint.Q(0))
	g.UpdateTrust(a, fixedpoint.ONE_Q)
	h2 := g.nodes[a].historyH
	require.Greater(t, h2, h1)
}

func TestFullTrustUpdateBootstrapNoHistory(t *testing.T) {
	g := New(defaultConfig(), 0)
	voucher, newNode := node(1), node(2)
	g.nodes[voucher] = &nodeState{trust: fixedpoint.ONE_Q, vouches: map[ids.NodeID]Vouch{}}

	err := g.Bootstrap(newNode, []Vouch{{Voucher: voucher, Strength: fixedpoint.FromFloat64(0.8)}}, 0)
	require.NoError(t, err)
	require.Greater(t, g.Trust(newNode), fixedpoint.Q(0))
}

func defaultQualityWeights() QualityWeights {
	return QualityWeights{
		BlocksProduced:  fixedpoint.FromFloat64(0.30),
		ProofsGenerated: fixedpoint.FromFloat64(0.20),
		UptimeRatio:     fixedpoint.FromFloat64(0.20),
		StakeLock:       fixedpoint.FromFloat64(0.15),
		FeesCollected:   fixedpoint.FromFloat64(0.10),
		PeerCount:       fixedpoint.FromFloat64(0.05),
	}
}

func TestQualityWeightsVerifyRejectsBadSum(t *testing.T) {
	w := defaultQualityWeights()
	w.BlocksProduced = fixedpoint.FromFloat64(0.05)
	require.ErrorIs(t, w.Verify(), ErrQualityWeightsInvalid)
}

func TestCombineQualityAllOnesSaturatesToOne(t *testing.T) {
	w := defaultQualityWeights()
	in := QualityInputs{
		BlocksProduced:  fixedpoint.ONE_Q,
		ProofsGenerated: fixedpoint.ONE_Q,
		UptimeRatio:     fixedpoint.ONE_Q,
		StakeLock:       fixedpoint.ONE_Q,
		FeesCollected:   fixedpoint.ONE_Q,
		PeerCount:       fixedpoint.ONE_Q,
	}
	q := CombineQuality(w, in)
	require.InDelta(t, fixedpoint.ONE_Q, q, float64(fixedpoint.ONE_Q/100))
}

func TestCombineQualityAllZerosIsZero(t *testing.T) {
	q := CombineQuality(defaultQualityWeights(), QualityInputs{})
	require.Equal(t, fixedpoint.Q(0), q)
}

func TestTrustRankingSortedDescending(t *testing.T) {
	g := New(defaultConfig(), 0)
	a, b := node(1), node(2)
	g.nodes[a] = &nodeState{trust: fixedpoint.FromFloat64(0.3), vouches: map[ids.NodeID]Vouch{}}
	g.nodes[b] = &nodeState{trust: fixedpoint.FromFloat64(0.9), vouches: map[ids.NodeID]Vouch{}}
	ranking := g.Ranking()
	require.Len(t, ranking, 2)
	require.Equal(t, b, ranking[0].Who)
	require.Equal(t, a, ranking[1].Who)
}
