// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rtt implements the Recursive Trust Tree (spec.md §4.4, C4): a
// per-node EWMA history, a vouching graph, and the most recent quality
// score are combined through a bounded smoothstep into a single trust
// value. Grounded on
// _examples/original_source/src/rtt_trust_pro.rs's TrustGraph.
package rtt

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/ids"
)

// Config holds the RTT's fixed weights. Beta1+Beta2+Beta3 must equal
// ONE_Q within 1% slack.
type Config struct {
	Beta1           fixedpoint.Q // weight of history H
	Beta2           fixedpoint.Q // weight of vouching V
	Beta3           fixedpoint.Q // weight of last-quality W
	AlphaHistory    fixedpoint.Q // EWMA smoothing factor
	MinTrustToVouch fixedpoint.Q
}

var (
	ErrConfigInvalid         = errors.New("rtt: beta1+beta2+beta3 must equal ONE_Q within 1%")
	ErrQualityWeightsInvalid = errors.New("rtt: quality weights must sum to ONE_Q within 1%")
)

// Verify checks the weight-sum invariant.
func (c Config) Verify() error {
	sum := c.Beta1 + c.Beta2 + c.Beta3
	slack := fixedpoint.ONE_Q / 100
	var diff fixedpoint.Q
	if sum > fixedpoint.ONE_Q {
		diff = sum - fixedpoint.ONE_Q
	} else {
		diff = fixedpoint.ONE_Q - sum
	}
	if diff > slack {
		return fmt.Errorf("%w: got %d", ErrConfigInvalid, sum)
	}
	return nil
}

// QualityWeights holds the fixed weights spec.md §4.4 assigns to the six
// observable per-epoch metrics a node combines into the last-quality
// score W fed into UpdateTrust. The six weights must sum to ONE_Q within
// 1% slack, same tolerance as Config's Beta1+Beta2+Beta3.
type QualityWeights struct {
	BlocksProduced  fixedpoint.Q
	ProofsGenerated fixedpoint.Q
	UptimeRatio     fixedpoint.Q
	StakeLock       fixedpoint.Q
	FeesCollected   fixedpoint.Q
	PeerCount       fixedpoint.Q
}

// Verify checks the weight-sum invariant.
func (w QualityWeights) Verify() error {
	sum := fixedpoint.QAdd(fixedpoint.QAdd(fixedpoint.QAdd(w.BlocksProduced, w.ProofsGenerated), fixedpoint.QAdd(w.UptimeRatio, w.StakeLock)), fixedpoint.QAdd(w.FeesCollected, w.PeerCount))
	slack := fixedpoint.ONE_Q / 100
	var diff fixedpoint.Q
	if sum > fixedpoint.ONE_Q {
		diff = sum - fixedpoint.ONE_Q
	} else {
		diff = fixedpoint.ONE_Q - sum
	}
	if diff > slack {
		return fmt.Errorf("%w: got %d", ErrQualityWeightsInvalid, sum)
	}
	return nil
}

// QualityInputs holds one validator's six observable metrics for a
// closing epoch, each already normalized to [0, ONE_Q] by the caller:
// blocks produced and proofs (RANDAO reveals) generated as a fraction of
// the epoch's opportunities, uptime ratio, fraction of total stake
// locked, fees collected relative to the epoch's peers, and peer count
// relative to the network's target fan-out.
type QualityInputs struct {
	BlocksProduced  fixedpoint.Q
	ProofsGenerated fixedpoint.Q
	UptimeRatio     fixedpoint.Q
	StakeLock       fixedpoint.Q
	FeesCollected   fixedpoint.Q
	PeerCount       fixedpoint.Q
}

// CombineQuality computes q = clamp01(sum_i w_i * in_i), the quality
// score spec.md §4.4 feeds into UpdateTrust's W term, from six weighted
// observable inputs rather than a bare win/lose flag.
func CombineQuality(w QualityWeights, in QualityInputs) fixedpoint.Q {
	q := fixedpoint.QMul(w.BlocksProduced, fixedpoint.QClamp01(in.BlocksProduced))
	q = fixedpoint.QAdd(q, fixedpoint.QMul(w.ProofsGenerated, fixedpoint.QClamp01(in.ProofsGenerated)))
	q = fixedpoint.QAdd(q, fixedpoint.QMul(w.UptimeRatio, fixedpoint.QClamp01(in.UptimeRatio)))
	q = fixedpoint.QAdd(q, fixedpoint.QMul(w.StakeLock, fixedpoint.QClamp01(in.StakeLock)))
	q = fixedpoint.QAdd(q, fixedpoint.QMul(w.FeesCollected, fixedpoint.QClamp01(in.FeesCollected)))
	q = fixedpoint.QAdd(q, fixedpoint.QMul(w.PeerCount, fixedpoint.QClamp01(in.PeerCount)))
	return fixedpoint.QClamp01(q)
}

// Vouch is a directed edge in the vouching graph.
type Vouch struct {
	Voucher   ids.NodeID
	Strength  fixedpoint.Q
	CreatedAt uint64 // epoch
}

type nodeState struct {
	historyH    fixedpoint.Q
	lastQuality fixedpoint.Q
	trust       fixedpoint.Q
	// incoming vouches keyed by voucher
	vouches map[ids.NodeID]Vouch
}

// Graph is the RTT state for every node in the registry.
type Graph struct {
	mu     sync.RWMutex
	cfg    Config
	nodes  map[ids.NodeID]*nodeState
	defTr  fixedpoint.Q
}

// New returns an empty graph. cfg must satisfy Verify(); New panics if it
// does not, mirroring rtt_trust_pro.rs's TrustGraph::new assertion.
func New(cfg Config, defaultTrust fixedpoint.Q) *Graph {
	if err := cfg.Verify(); err != nil {
		panic(err)
	}
	return &Graph{
		cfg:   cfg,
		nodes: make(map[ids.NodeID]*nodeState),
		defTr: fixedpoint.QClamp01(defaultTrust),
	}
}

func (g *Graph) get(who ids.NodeID) *nodeState {
	n, ok := g.nodes[who]
	if !ok {
		n = &nodeState{trust: g.defTr, vouches: make(map[ids.NodeID]Vouch)}
		g.nodes[who] = n
	}
	return n
}

// Trust returns who's current trust score.
func (g *Graph) Trust(who ids.NodeID) fixedpoint.Q {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n, ok := g.nodes[who]; ok {
		return n.trust
	}
	return g.defTr
}

// AddVouch records voucher -> vouchee with strength, rejecting it if
// voucher's current trust is below MinTrustToVouch or strength exceeds
// voucher's trust.
func (g *Graph) AddVouch(voucher, vouchee ids.NodeID, strength fixedpoint.Q, epoch uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	voucherTrust := g.get(voucher).trust
	if voucherTrust < g.cfg.MinTrustToVouch {
		return fmt.Errorf("rtt: voucher trust %d below min_trust_to_vouch %d", voucherTrust, g.cfg.MinTrustToVouch)
	}
	if strength > voucherTrust {
		return fmt.Errorf("rtt: vouch strength %d exceeds voucher trust %d", strength, voucherTrust)
	}
	vouchee_ := g.get(vouchee)
	vouchee_.vouches[voucher] = Vouch{Voucher: voucher, Strength: strength, CreatedAt: epoch}
	return nil
}

// RemoveVouch deletes a voucher -> vouchee edge, if present.
func (g *Graph) RemoveVouch(voucher, vouchee ids.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[vouchee]; ok {
		delete(n.vouches, voucher)
	}
}

// computeVouchingTrust returns V = clamp01(sum trust(voucher)*strength)
// over vouchee's incoming edges, using each voucher's trust *as currently
// recorded* (the pre-update trust for this epoch, per spec.md §4.4 step 2).
func (g *Graph) computeVouchingTrust(vouchee ids.NodeID) fixedpoint.Q {
	n, ok := g.nodes[vouchee]
	if !ok {
		return 0
	}
	var total fixedpoint.Q
	for voucher, v := range n.vouches {
		vt := g.defTr
		if vn, ok := g.nodes[voucher]; ok {
			vt = vn.trust
		}
		total = fixedpoint.QAdd(total, fixedpoint.QMul(vt, v.Strength))
	}
	return fixedpoint.QClamp01(total)
}

// UpdateTrust performs the epoch-close update for one validator, per
// spec.md §4.4 steps 1, 3, 4, 5:
//  1. record quality into last_quality and EWMA history;
//  2. compute H, V, W;
//  3. Z = clamp01(beta1*H + beta2*V + beta3*W);
//  4. trust = smoothstep(Z).
//
// Vouching mutations (AddVouch/RemoveVouch) must be applied by the caller
// before calling UpdateTrust, using pre-update trust, per step 2.
func (g *Graph) UpdateTrust(who ids.NodeID, quality fixedpoint.Q) fixedpoint.Q {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.get(who)
	n.lastQuality = quality
	n.historyH = fixedpoint.QAdd(
		fixedpoint.QMul(g.cfg.AlphaHistory, n.historyH),
		fixedpoint.QMul(fixedpoint.ONE_Q-g.cfg.AlphaHistory, quality),
	)

	v := g.computeVouchingTrust(who)
	z := fixedpoint.QClamp01(fixedpoint.QAdd(
		fixedpoint.QAdd(
			fixedpoint.QMul(g.cfg.Beta1, n.historyH),
			fixedpoint.QMul(g.cfg.Beta2, v),
		),
		fixedpoint.QMul(g.cfg.Beta3, n.lastQuality),
	))
	n.trust = fixedpoint.QScurve(z)
	return n.trust
}

// UpdateAll runs UpdateTrust for every node named in qualities.
func (g *Graph) UpdateAll(qualities map[ids.NodeID]fixedpoint.Q) {
	keys := make([]ids.NodeID, 0, len(qualities))
	for k := range qualities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessNodeID(keys[i], keys[j]) })
	for _, who := range keys {
		g.UpdateTrust(who, qualities[who])
	}
}

// NodeTrust is one row of a trust ranking.
type NodeTrust struct {
	Who   ids.NodeID
	Trust fixedpoint.Q
}

// Ranking returns every known node's trust, sorted descending.
// Supplemented from _examples/original_source/src/rtt_trust_pro.rs's
// get_ranking.
func (g *Graph) Ranking() []NodeTrust {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeTrust, 0, len(g.nodes))
	for who, n := range g.nodes {
		out = append(out, NodeTrust{Who: who, Trust: n.trust})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trust != out[j].Trust {
			return out[i].Trust > out[j].Trust
		}
		return lessNodeID(out[i].Who, out[j].Who)
	})
	return out
}

// Bootstrap seeds a new node's RTT state purely from an initial vouch
// set, with H=W=0 so trust derives only from V curved by smoothstep, per
// spec.md §4.4's bootstrap note. Supplemented from
// _examples/original_source/src/rtt_trust_pro.rs's bootstrap_validator.
func (g *Graph) Bootstrap(who ids.NodeID, vouches []Vouch, epoch uint64) error {
	for _, v := range vouches {
		if err := g.AddVouch(v.Voucher, who, v.Strength, epoch); err != nil {
			return err
		}
	}
	g.UpdateTrust(who, 0)
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
