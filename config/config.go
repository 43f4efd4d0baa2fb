// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the node's operational parameters: every knob
// set once at genesis and versioned in the block header (spec.md §6).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/consensus/fixedpoint"
	"github.com/luxfi/consensus/rtt"
)

// Error variables for parameter validation.
var (
	ErrInvalidSlotDuration  = errors.New("slot duration must be > 0")
	ErrInvalidEpochLength   = errors.New("epoch length must be >= 1")
	ErrInvalidLambda        = errors.New("lambda must be in (0, ONE_Q]")
	ErrInvalidAlpha         = errors.New("alpha must be in [0, ONE_Q]")
	ErrInvalidBeta          = errors.New("beta must be in [0, ONE_Q]")
	ErrInvalidBetaWeights   = errors.New("beta1+beta2+beta3 must equal ONE_Q within 1%")
	ErrInvalidPenaltyBps    = errors.New("penalty bps must be in [0, 10000]")
	ErrInvalidStarkNumBits  = errors.New("stark num bits must be > 0")
	ErrInvalidStarkQueries  = errors.New("stark queries must be > 0")
	ErrInvalidStarkBlowup   = errors.New("stark blowup must be a power of two >= 2")
	ErrInvalidMaxMessages   = errors.New("max messages per session must be > 0")
	ErrInvalidMaxNonceAge   = errors.New("max nonce age must be > 0")
)

// Parameters holds every operator-configured knob from spec.md §6, set
// once at genesis.
type Parameters struct {
	// Timing.
	SlotDuration time.Duration // slot_duration
	EpochLength  uint64        // epoch_length, in slots

	// Registry.
	MinBond uint64 // min_bond

	// Sortition.
	Lambda fixedpoint.Q // λ

	// Trust ledger (C3 reward/decay).
	Alpha fixedpoint.Q // α, trust decay factor
	Beta  fixedpoint.Q // β, trust reward increment
	Init  fixedpoint.Q // init, default trust for unseen validators

	// RTT (C4).
	AlphaHistory    fixedpoint.Q // α_history, EWMA smoothing
	Beta1           fixedpoint.Q // β1: weight of history H
	Beta2           fixedpoint.Q // β2: weight of vouching V
	Beta3           fixedpoint.Q // β3: weight of last-quality W
	MinTrustToVouch fixedpoint.Q // min_trust_to_vouch

	// QualityWeights combines the six observable metrics spec.md §4.4
	// names (blocks produced, proofs generated, uptime ratio, stake
	// lock, fees collected, peer count) into the last-quality score W
	// above. Must sum to ONE_Q within 1% slack.
	QualityWeights rtt.QualityWeights

	// Slashing (C8).
	PenaltyBps       uint64 // equivocation stake cut, basis points
	SlashNoRevealBps uint64 // RANDAO no-reveal stake cut, basis points

	// Secure channel (C10).
	MaxMessagesPerSession uint64
	MaxNonceAgeSecs       uint64

	// Range proof (C12).
	StarkNumBits uint32
	StarkQueries uint32
	StarkBlowup  uint32
}

// Valid reports whether p satisfies every invariant named in spec.md §6
// and §9.
func (p Parameters) Valid() error {
	if p.SlotDuration <= 0 {
		return ErrInvalidSlotDuration
	}
	if p.EpochLength < 1 {
		return ErrInvalidEpochLength
	}
	if p.Lambda == 0 || p.Lambda > fixedpoint.ONE_Q {
		return ErrInvalidLambda
	}
	if p.Alpha > fixedpoint.ONE_Q {
		return ErrInvalidAlpha
	}
	if p.Beta > fixedpoint.ONE_Q {
		return ErrInvalidBeta
	}
	sum := p.Beta1 + p.Beta2 + p.Beta3
	slack := fixedpoint.ONE_Q / 100
	if diff := absDiffQ(sum, fixedpoint.ONE_Q); diff > slack {
		return fmt.Errorf("%w: got %d", ErrInvalidBetaWeights, sum)
	}
	if err := p.QualityWeights.Verify(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if p.PenaltyBps > 10000 {
		return fmt.Errorf("%w: %d", ErrInvalidPenaltyBps, p.PenaltyBps)
	}
	if p.SlashNoRevealBps > 10000 {
		return fmt.Errorf("%w: %d", ErrInvalidPenaltyBps, p.SlashNoRevealBps)
	}
	if p.StarkNumBits == 0 {
		return ErrInvalidStarkNumBits
	}
	if p.StarkQueries == 0 {
		return ErrInvalidStarkQueries
	}
	if p.StarkBlowup < 2 || p.StarkBlowup&(p.StarkBlowup-1) != 0 {
		return ErrInvalidStarkBlowup
	}
	if p.MaxMessagesPerSession == 0 {
		return ErrInvalidMaxMessages
	}
	if p.MaxNonceAgeSecs == 0 {
		return ErrInvalidMaxNonceAge
	}
	return nil
}

func absDiffQ(a, b fixedpoint.Q) fixedpoint.Q {
	if a > b {
		return a - b
	}
	return b - a
}

// DefaultParameters returns a conservative parameter set suitable for
// local development and tests.
func DefaultParameters() Parameters {
	return Parameters{
		SlotDuration:          2 * time.Second,
		EpochLength:           32,
		MinBond:               1,
		Lambda:                fixedpoint.ONE_Q,
		Alpha:                 fixedpoint.FromFloat64(0.99),
		Beta:                  fixedpoint.FromFloat64(0.01),
		Init:                  fixedpoint.FromFloat64(0.5),
		AlphaHistory:          fixedpoint.FromFloat64(0.99),
		Beta1:                 fixedpoint.FromFloat64(0.4),
		Beta2:                 fixedpoint.FromFloat64(0.3),
		Beta3:                 fixedpoint.FromFloat64(0.3),
		MinTrustToVouch:       fixedpoint.FromFloat64(0.5),
		QualityWeights: rtt.QualityWeights{
			BlocksProduced:  fixedpoint.FromFloat64(0.30),
			ProofsGenerated: fixedpoint.FromFloat64(0.20),
			UptimeRatio:     fixedpoint.FromFloat64(0.20),
			StakeLock:       fixedpoint.FromFloat64(0.15),
			FeesCollected:   fixedpoint.FromFloat64(0.10),
			PeerCount:       fixedpoint.FromFloat64(0.05),
		},
		PenaltyBps:            5000,
		SlashNoRevealBps:      1000,
		MaxMessagesPerSession: 1_000_000,
		MaxNonceAgeSecs:       300,
		StarkNumBits:          64,
		StarkQueries:          32,
		StarkBlowup:           8,
	}
}

// MainnetParameters returns the production parameter set: a longer epoch
// and a stricter equivocation penalty than DefaultParameters.
func MainnetParameters() Parameters {
	p := DefaultParameters()
	p.SlotDuration = 4 * time.Second
	p.EpochLength = 256
	p.MinBond = 1_000_000
	p.PenaltyBps = 10000
	return p
}

// TestnetParameters returns a faster-cycling parameter set for staging
// networks.
func TestnetParameters() Parameters {
	p := DefaultParameters()
	p.SlotDuration = time.Second
	p.EpochLength = 16
	p.MinBond = 1000
	return p
}
