package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseIdentAndSign(t *testing.T) {
	n := ParallelNode{BaseId: -7, Sign: -2}
	require.Equal(t, 7, n.BaseIdent())
	require.False(t, n.PositiveBaseId())
	require.False(t, n.PositiveSign())

	n2 := ParallelNode{BaseId: 7, Sign: 2}
	require.Equal(t, 7, n2.BaseIdent())
	require.True(t, n2.PositiveBaseId())
	require.True(t, n2.PositiveSign())
}

func TestUnassigned(t *testing.T) {
	require.True(t, ParallelNode{NewId: -1}.Unassigned())
	require.False(t, ParallelNode{NewId: 0}.Unassigned())
}

func TestSortByNewId(t *testing.T) {
	nodes := []ParallelNode{{NewId: 3}, {NewId: 1}, {NewId: 2}}
	sortByNewId(nodes)
	require.Equal(t, []int{1, 2, 3}, newIds(nodes))
}

func TestSortByBaseIdentThenNewIdDesc(t *testing.T) {
	nodes := []ParallelNode{
		{BaseId: 5, NewId: 1},
		{BaseId: -5, NewId: 9},
		{BaseId: 2, NewId: 4},
	}
	sortByBaseIdentThenNewIdDesc(nodes)
	// group 2 first (ident 2), then group 5 (ident 5) with NewId desc: 9 before 1.
	require.Equal(t, []int{2, 5, 5}, []int{nodes[0].BaseIdent(), nodes[1].BaseIdent(), nodes[2].BaseIdent()})
	require.Equal(t, 9, nodes[1].NewId)
	require.Equal(t, 1, nodes[2].NewId)
}

func TestEncodeDecodeNodesRoundTrip(t *testing.T) {
	nodes := []ParallelNode{
		{Rank: 1, BaseId: -42, Sign: -2, NewId: -1, LocalId: 0},
		{Rank: 2, BaseId: 7, Sign: 2, NewId: 5, LocalId: 1},
	}
	buf := encodeNodes(nodes)
	require.Len(t, buf, len(nodes)*nodeWireSize)

	decoded, err := decodeNodes(buf, len(nodes))
	require.NoError(t, err)
	require.Equal(t, nodes, decoded)
}

func TestDecodeNodesSizeMismatch(t *testing.T) {
	_, err := decodeNodes(make([]byte, 3), 1)
	require.Error(t, err)
}

func newIds(nodes []ParallelNode) []int {
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.NewId
	}
	return out
}
