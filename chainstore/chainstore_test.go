// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func blockID(b byte) BlockID {
	var id BlockID
	id[0] = b
	return id
}

func TestGenesisBecomesHead(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	res := s.AcceptGenesis(genesis, 10)
	require.True(t, res.IsNew)
	require.True(t, res.IsHead)
	head, ok := s.Head()
	require.True(t, ok)
	require.Equal(t, genesis, head)
}

func TestHeightIncrementsFromParent(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	child := blockID(2)
	s.AcceptGenesis(genesis, 10)
	s.Accept(child, genesis, 5)
	h, ok := s.Height(child)
	require.True(t, ok)
	require.Equal(t, uint64(1), h)
}

func TestHeadChosenByCumulativeWeight(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	a := blockID(2)
	b := blockID(3)
	s.AcceptGenesis(genesis, 0)
	s.Accept(a, genesis, 10)
	s.Accept(b, genesis, 20)
	head, _ := s.Head()
	require.Equal(t, b, head)
}

func TestHeadTieBreaksByHeightThenID(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	a := blockID(0xAA)
	b := blockID(0x02)
	s.AcceptGenesis(genesis, 0)
	s.Accept(a, genesis, 10)
	s.Accept(b, genesis, 10)
	// Equal cumw and height; smaller id wins.
	head, _ := s.Head()
	require.Equal(t, b, head)
}

func TestOrphanBufferedUntilParentArrives(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	orphanChild := blockID(3)
	res := s.Accept(orphanChild, genesis, 5)
	require.True(t, res.IsNew)
	require.False(t, s.Has(orphanChild))

	s.AcceptGenesis(genesis, 0)
	require.True(t, s.Has(orphanChild))
}

func TestOrphanExpiresByTTL(t *testing.T) {
	s := New(0)
	genesis := blockID(1)
	orphanChild := blockID(3)
	s.Accept(orphanChild, genesis, 5)
	expired := s.ExpireOrphans(time.Now().Add(time.Second))
	require.Contains(t, expired, orphanChild)
}

func TestDuplicateAcceptIsNotNew(t *testing.T) {
	s := New(time.Minute)
	genesis := blockID(1)
	s.AcceptGenesis(genesis, 0)
	res := s.AcceptGenesis(genesis, 0)
	require.False(t, res.IsNew)
}
