// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node implements the per-epoch/per-slot state machine (spec.md
// §4.9, C9) that drives the registry, RTT, snapshot, RANDAO, sortition,
// slashing, and chain store components through CommitPhase ->
// RevealPhase -> SortitionPhase -> Finalize. Grounded on
// _examples/original_source/src/pot_node.rs's PotNode/SlotDecision slot
// loop and _examples/luxfi-consensus's single-threaded-per-role scheduling idiom
// (spec.md §5).
package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/consensus/chainstore"
	"github.com/luxfi/consensus/config"
	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/khash"
	"github.com/luxfi/consensus/metrics"
	"github.com/luxfi/consensus/randao"
	"github.com/luxfi/consensus/registry"
	"github.com/luxfi/consensus/rtt"
	"github.com/luxfi/consensus/slashing"
	"github.com/luxfi/consensus/snapshot"
	"github.com/luxfi/consensus/sortition"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	nolog "github.com/luxfi/consensus/log"
)

// Phase names one of the four states a slot driver cycles through per
// epoch, per spec.md §4.9.
type Phase int

const (
	PhaseCommit Phase = iota
	PhaseReveal
	PhaseSortition
	PhaseFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseSortition:
		return "sortition"
	case PhaseFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

var (
	ErrWrongPhase       = errors.New("node: operation not valid in current phase")
	ErrProposalRejected = errors.New("node: proposal rejected")
)

// EpochResult summarizes what Finalize produced for the closing epoch.
type EpochResult struct {
	Epoch          uint64
	Beacon         khash.Hash32
	MissingReveals []ids.NodeID
	NextSnapshot   *snapshot.Snapshot
}

// Node owns one validator's view of consensus: the shared registry/trust
// state, its RANDAO beacon, the equivocation detector, the chain store,
// and the current epoch/slot/phase cursor. Every method that mutates
// state takes Node's lock, matching the single-writer-per-role model of
// spec.md §5 (the node is the "slot driver" role).
type Node struct {
	mu sync.Mutex

	params config.Parameters
	log    log.Logger
	met    *metrics.Metrics

	reg      *registry.Registry
	trust    *registry.TrustLedger
	rttCfg   rtt.Config
	graph    *rtt.Graph
	beacon   *randao.Beacon
	detector *slashing.Detector
	chain    *chainstore.Store

	epoch    uint64
	slot     uint64
	phase    Phase
	snapshot *snapshot.Snapshot

	// blocksProduced counts sortition wins this epoch, the internally
	// observable half of the six-metric quality score (spec.md §4.4).
	blocksProduced map[ids.NodeID]uint64
	// externalQuality holds per-node metrics the node layer cannot derive
	// from its own registry/beacon state (uptime, fees, peer count),
	// reported by the caller via RecordQualityObservation.
	externalQuality map[ids.NodeID]rtt.QualityInputs
}

// New constructs a node at epoch 0, phase CommitPhase, with an empty
// registry and trust ledger. genesisBeacon seeds the RANDAO chain
// (spec.md §4.6).
func New(params config.Parameters, genesisBeacon khash.Hash32, logger log.Logger, met *metrics.Metrics) (*Node, error) {
	if err := params.Valid(); err != nil {
		return nil, fmt.Errorf("node: invalid parameters: %w", err)
	}
	if logger == nil {
		logger = nolog.NoLog{}
	}
	rttCfg := rtt.Config{
		Beta1:           params.Beta1,
		Beta2:           params.Beta2,
		Beta3:           params.Beta3,
		AlphaHistory:    params.AlphaHistory,
		MinTrustToVouch: params.MinTrustToVouch,
	}
	n := &Node{
		params:          params,
		log:             logger,
		met:             met,
		reg:             registry.New(),
		trust:           registry.NewTrustLedger(params.Init),
		rttCfg:          rttCfg,
		graph:           rtt.New(rttCfg, params.Init),
		beacon:          randao.New(genesisBeacon),
		detector:        slashing.NewDetector(),
		chain:           chainstore.New(0),
		epoch:           0,
		slot:            0,
		phase:           PhaseCommit,
		blocksProduced:  make(map[ids.NodeID]uint64),
		externalQuality: make(map[ids.NodeID]rtt.QualityInputs),
	}
	n.snapshot = snapshot.Build(0, n.reg, n.trust, params.MinBond, params.Init)
	return n, nil
}

// Registry returns the node's active-set registry, for genesis/bootstrap
// wiring by the caller.
func (n *Node) Registry() *registry.Registry { return n.reg }

// TrustLedger returns the node's trust ledger.
func (n *Node) TrustLedger() *registry.TrustLedger { return n.trust }

// RTT returns the node's Recursive Trust Tree graph.
func (n *Node) RTT() *rtt.Graph { return n.graph }

// Chain returns the node's chain store.
func (n *Node) Chain() *chainstore.Store { return n.chain }

// Epoch, Slot, and CurrentPhase report the driver's cursor.
func (n *Node) Epoch() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epoch
}

func (n *Node) Slot() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slot
}

func (n *Node) CurrentPhase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// Snapshot returns the current epoch's weight snapshot.
func (n *Node) Snapshot() *snapshot.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshot
}

// RefreshSnapshot rebuilds the current epoch's snapshot from the
// registry and trust ledger's present contents. Callers use this once
// after registering genesis validators, before the first CommitPhase
// begins; Finalize takes care of every subsequent epoch's snapshot.
func (n *Node) RefreshSnapshot() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshot = snapshot.Build(n.epoch, n.reg, n.trust, n.params.MinBond, n.params.Init)
}

// CommitReveal records who's RANDAO commitment for the current epoch.
// Valid only during CommitPhase.
func (n *Node) CommitReveal(who ids.NodeID, commit khash.Hash32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseCommit {
		return ErrWrongPhase
	}
	n.beacon.Commit(n.epoch, who, commit)
	return nil
}

// AdvanceToReveal transitions CommitPhase -> RevealPhase.
func (n *Node) AdvanceToReveal() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseCommit {
		return ErrWrongPhase
	}
	n.phase = PhaseReveal
	return nil
}

// Reveal accepts who's RANDAO reveal for the current epoch. Valid only
// during RevealPhase.
func (n *Node) Reveal(who ids.NodeID, reveal khash.Hash32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseReveal {
		return ErrWrongPhase
	}
	return n.beacon.Reveal(n.epoch, who, reveal)
}

// AdvanceToSortition transitions RevealPhase -> SortitionPhase.
func (n *Node) AdvanceToSortition() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseReveal {
		return ErrWrongPhase
	}
	n.phase = PhaseSortition
	return nil
}

// BeaconValue returns the sortition input for the current epoch and
// slot.
func (n *Node) BeaconValue() khash.Hash32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.beacon.Value(n.epoch, n.slot)
}

// IngestProposal runs §4.7's verification on an incoming leader claim at
// the node's current (epoch, slot), applies the trust-equivocation
// interplay of §4.3/§4.8, and records the (epoch, slot) winner. Valid
// only during SortitionPhase.
func (n *Node) IngestProposal(prop sortition.Proposal, headerHash [32]byte) (weight uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseSortition {
		return 0, ErrWrongPhase
	}
	if prop.Slot != n.slot {
		return 0, ErrWrongPhase
	}

	beaconValue := n.beacon.Value(n.epoch, n.slot)
	weight, err = sortition.VerifyProposal(n.snapshot, beaconValue, n.params.Lambda, prop)
	if err != nil {
		if n.met != nil {
			n.met.ProposalsRejected.Inc()
		}
		return 0, fmt.Errorf("%w: %v", ErrProposalRejected, err)
	}

	who := prop.Witness.Who
	if n.detector.Observe(n.epoch, n.slot, who, headerHash) {
		slashing.SlashEquivocation(n.detector, n.reg, n.trust, n.epoch, n.slot, who, n.params.Init, n.params.PenaltyBps)
		if n.met != nil {
			n.met.EquivocationsSlashed.Inc()
		}
		n.log.Warn("equivocation slashed", "epoch", n.epoch, "slot", n.slot, "who", who)
		return 0, ErrProposalRejected
	}

	n.detector.SetWinner(n.epoch, n.slot, who)
	n.trust.ApplyBlockReward(who, n.params.Alpha, n.params.Beta)
	n.blocksProduced[who]++

	if n.met != nil {
		n.met.ProposalsAccepted.Inc()
	}
	return weight, nil
}

// RecordQualityObservation feeds who's externally-observed quality
// inputs for the current epoch: uptime ratio, fees collected, and peer
// count, each normalized to [0, ONE_Q] by the caller — metrics the node
// layer has no way to derive from its own registry/beacon state. Blocks
// produced, proofs generated, and stake lock are computed internally at
// Finalize. Safe to call multiple times per epoch; the latest value for
// each field wins.
func (n *Node) RecordQualityObservation(who ids.NodeID, uptimeRatio, feesCollected, peerCount fixedpoint.Q) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.externalQuality[who] = rtt.QualityInputs{
		UptimeRatio:   uptimeRatio,
		FeesCollected: feesCollected,
		PeerCount:     peerCount,
	}
}

// AdvanceSlot moves to the next slot within the current epoch, staying
// in SortitionPhase, or transitions to Finalize once epoch_length slots
// have elapsed.
func (n *Node) AdvanceSlot() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slot++
	if n.slot >= n.params.EpochLength {
		n.phase = PhaseFinalize
	}
	if n.met != nil {
		n.met.CurrentSlot.Set(float64(n.slot))
	}
}

// Finalize closes the current epoch: mixes the RANDAO beacon, slashes
// any committer who never revealed, advances every observed node's RTT
// trust, and builds the next epoch's snapshot (spec.md §4.9 step 3).
// Valid only during PhaseFinalize.
func (n *Node) Finalize() (EpochResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseFinalize {
		return EpochResult{}, ErrWrongPhase
	}

	beacon, missing, err := n.beacon.Finalize(n.epoch)
	if err != nil {
		return EpochResult{}, err
	}
	if len(missing) > 0 {
		slashing.SlashNoReveal(n.reg, n.trust, missing, n.params.Init, n.params.SlashNoRevealBps)
		if n.met != nil {
			n.met.NoRevealSlashed.Add(float64(len(missing)))
		}
	}

	active := n.reg.ActiveEntries(n.params.MinBond)
	var totalStake uint64
	for _, e := range active {
		totalStake += e.Stake
	}
	closingEpoch := n.epoch
	for _, e := range active {
		blocksQ := fixedpoint.QFromRatio128(n.blocksProduced[e.Who], n.params.EpochLength)
		proofsQ := fixedpoint.Q(0)
		if n.beacon.Revealed(closingEpoch, e.Who) {
			proofsQ = fixedpoint.ONE_Q
		}
		stakeLockQ := fixedpoint.QFromRatio128(e.Stake, totalStake)
		in := n.externalQuality[e.Who]
		in.BlocksProduced = blocksQ
		in.ProofsGenerated = proofsQ
		in.StakeLock = stakeLockQ
		q := rtt.CombineQuality(n.params.QualityWeights, in)
		n.graph.UpdateTrust(e.Who, q)
		n.trust.Set(e.Who, n.graph.Trust(e.Who))
	}
	n.blocksProduced = make(map[ids.NodeID]uint64)
	n.externalQuality = make(map[ids.NodeID]rtt.QualityInputs)

	n.epoch++
	n.slot = 0
	n.phase = PhaseCommit
	n.snapshot = snapshot.Build(n.epoch, n.reg, n.trust, n.params.MinBond, n.params.Init)

	if n.met != nil {
		n.met.EpochsFinalized.Inc()
		n.met.CurrentEpoch.Set(float64(n.epoch))
		n.met.CurrentSlot.Set(0)
		n.met.ActiveValidators.Set(float64(len(n.snapshot.Order)))
	}
	n.log.Info("epoch finalized", "epoch", n.epoch-1, "missing_reveals", len(missing))

	return EpochResult{
		Epoch:          n.epoch - 1,
		Beacon:         beacon,
		MissingReveals: missing,
		NextSnapshot:   n.snapshot,
	}, nil
}
