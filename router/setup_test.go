package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pbauman/crystalrouter/internal/simulate"
	"github.com/pbauman/crystalrouter/transport/mem"
)

type testHalo struct {
	nHalo, nHaloP int
	baseIds       []int
}

func (h testHalo) NHalo() int       { return h.nHalo }
func (h testHalo) NHaloP() int      { return h.nHaloP }
func (h testHalo) BaseId(n int) int { return h.baseIds[n] }

func TestNewTopologySingleRankHasNoLevels(t *testing.T) {
	fabric := mem.NewFabric(1)
	halo := testHalo{nHalo: 2, nHaloP: 2, baseIds: []int{10, 20}}

	topo, err := NewTopology(context.Background(), fabric.Endpoint(0), halo, nil)
	require.NoError(t, err)
	require.Empty(t, topo.LevelsN)
	require.Empty(t, topo.LevelsT)
	require.Equal(t, 2, topo.NHalo)
	require.Equal(t, 2, topo.NHaloP)
	require.Equal(t, 2, topo.NHaloExtN)
	require.Equal(t, 2, topo.NHaloExtT)
}

// symmetricPair builds the two-rank shared-node setup used throughout the
// router tests: both ranks hold their own positively-signed copy of the same
// global node and are told about each other's via sharedNodes.
func symmetricPair(baseId int) (testHalo, []SharedNode, testHalo, []SharedNode) {
	halo0 := testHalo{nHalo: 1, nHaloP: 1, baseIds: []int{baseId}}
	shared0 := []SharedNode{{Rank: 1, BaseId: baseId, NewId: 0}}
	halo1 := testHalo{nHalo: 1, nHaloP: 1, baseIds: []int{baseId}}
	shared1 := []SharedNode{{Rank: 0, BaseId: baseId, NewId: 0}}
	return halo0, shared0, halo1, shared1
}

func TestNewTopologyTwoRankSymmetricPair(t *testing.T) {
	fabric := mem.NewFabric(2)
	halo0, shared0, halo1, shared1 := symmetricPair(100)

	topos := make([]*Topology, 2)
	err := simulate.RunRanks(2, func(rank int) error {
		halo, shared := halo0, shared0
		if rank == 1 {
			halo, shared = halo1, shared1
		}
		topo, err := NewTopology(context.Background(), fabric.Endpoint(rank), halo, shared)
		if err != nil {
			return err
		}
		topos[rank] = topo
		return nil
	})
	require.NoError(t, err)

	for rank, topo := range topos {
		require.Lenf(t, topo.LevelsT, 1, "rank %d", rank)
		require.Lenf(t, topo.LevelsN, 1, "rank %d", rank)

		lvlT := topo.LevelsT[0]
		require.Equal(t, 1-rank, lvlT.Partner)
		require.Equal(t, 1, lvlT.Nsend)
		require.Equal(t, []int{0}, lvlT.SendIds)
		require.Equal(t, 1, lvlT.Nrecv0)
		require.Equal(t, 0, lvlT.Nrecv1)
		require.Equal(t, 1, lvlT.RecvOffset)

		// Buffer-size law.
		require.GreaterOrEqual(t, topo.NSendMax, lvlT.Nsend)
		require.GreaterOrEqual(t, topo.NRecvMax, lvlT.Ncols())

		// Variant containment: N's sendIds is a subset of T's.
		lvlN := topo.LevelsN[0]
		require.Subset(t, lvlT.SendIds, lvlN.SendIds)
	}
}

func TestNewTopologyIdempotent(t *testing.T) {
	build := func() *Topology {
		fabric := mem.NewFabric(2)
		halo0, shared0, halo1, shared1 := symmetricPair(7)
		var topo0 *Topology
		require.NoError(t, simulate.RunRanks(2, func(rank int) error {
			halo, shared := halo0, shared0
			if rank == 1 {
				halo, shared = halo1, shared1
			}
			topo, err := NewTopology(context.Background(), fabric.Endpoint(rank), halo, shared)
			if rank == 0 {
				topo0 = topo
			}
			return err
		}))
		return topo0
	}

	a, b := build(), build()
	require.Equal(t, a.NHaloExtN, b.NHaloExtN)
	require.Equal(t, a.NHaloExtT, b.NHaloExtT)
	require.Equal(t, a.NSendMax, b.NSendMax)
	require.Equal(t, a.NRecvMax, b.NRecvMax)
	require.Len(t, b.LevelsT, len(a.LevelsT))
	for i := range a.LevelsT {
		require.True(t, a.LevelsT[i].Gather.Equal(&b.LevelsT[i].Gather))
	}
}
