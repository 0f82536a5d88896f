package router

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/google/go-cmp/cmp"
)

// ParallelNode describes one rank's participation in a globally shared mesh
// node during setup. Field comments below note the invariants each one
// carries across setup rounds.
type ParallelNode struct {
	// Rank is the owning rank at record-creation time. It identifies a
	// destination cube half during folding and is never rewritten as the
	// node migrates between ranks.
	Rank int

	// BaseId's magnitude is the global shared-node identity; its sign
	// encodes this node's role at creation: positive for a positively
	// signed participation, negative for a borrowed copy.
	BaseId int

	// Sign is a separately tracked role flag, initially ±2, later
	// propagated across a base-id group so every member learns whether any
	// participant is positively signed.
	Sign int

	// NewId is this node's slot in the extended halo buffer, or -1 while
	// unassigned (in flight between ranks).
	NewId int

	// LocalId is scratch storage, valid only between exchangeNodes and the
	// column-assignment pass that follows it: which of a round's two
	// incoming messages (0 or 1) this node arrived in.
	LocalId int
}

// BaseIdent returns the magnitude of BaseId: the global shared-node identity.
func (n ParallelNode) BaseIdent() int {
	if n.BaseId < 0 {
		return -n.BaseId
	}
	return n.BaseId
}

// PositiveBaseId reports whether this node's BaseId carries a positive sign.
func (n ParallelNode) PositiveBaseId() bool {
	return n.BaseId > 0
}

// PositiveSign reports whether this node's propagated Sign is positive.
func (n ParallelNode) PositiveSign() bool {
	return n.Sign > 0
}

// Unassigned reports whether NewId has not yet been assigned a slot.
func (n ParallelNode) Unassigned() bool {
	return n.NewId == -1
}

// Equal performs a deep-equal comparison, used by setup's idempotence checks.
func (n ParallelNode) Equal(other ParallelNode) bool {
	return cmp.Equal(n, other)
}

// sortByNewId sorts nodes by ascending NewId, the ordering setup expects at
// the start and end of each round.
func sortByNewId(nodes []ParallelNode) {
	slices.SortStableFunc(nodes, func(a, b ParallelNode) int {
		return a.NewId - b.NewId
	})
}

// sortByBaseIdentThenNewIdDesc groups nodes by base identity and, within a
// group, orders by descending NewId, so assigned slots come before
// unassigned (-1) ones. Sign plays no part in the ordering.
func sortByBaseIdentThenNewIdDesc(nodes []ParallelNode) {
	slices.SortStableFunc(nodes, func(a, b ParallelNode) int {
		if d := a.BaseIdent() - b.BaseIdent(); d != 0 {
			return d
		}
		return b.NewId - a.NewId
	})
}

const nodeWireSize = 8 * 5 // Rank, BaseId, Sign, NewId, LocalId as int64

// encodeNodes serializes nodes into a flat byte slice for transmission over
// the router's transport.
func encodeNodes(nodes []ParallelNode) []byte {
	buf := make([]byte, len(nodes)*nodeWireSize)
	for i, n := range nodes {
		off := i * nodeWireSize
		binary.LittleEndian.PutUint64(buf[off+0:], uint64(n.Rank))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(n.BaseId))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(n.Sign))
		binary.LittleEndian.PutUint64(buf[off+24:], uint64(n.NewId))
		binary.LittleEndian.PutUint64(buf[off+32:], uint64(n.LocalId))
	}
	return buf
}

// decodeNodes deserializes count nodes from buf.
func decodeNodes(buf []byte, count int) ([]ParallelNode, error) {
	if len(buf) != count*nodeWireSize {
		return nil, fmt.Errorf("router: decodeNodes: expected %d bytes for %d nodes, got %d", count*nodeWireSize, count, len(buf))
	}
	nodes := make([]ParallelNode, count)
	for i := range nodes {
		off := i * nodeWireSize
		nodes[i] = ParallelNode{
			Rank:    int(int64(binary.LittleEndian.Uint64(buf[off+0:]))),
			BaseId:  int(int64(binary.LittleEndian.Uint64(buf[off+8:]))),
			Sign:    int(int64(binary.LittleEndian.Uint64(buf[off+16:]))),
			NewId:   int(int64(binary.LittleEndian.Uint64(buf[off+24:]))),
			LocalId: int(int64(binary.LittleEndian.Uint64(buf[off+32:]))),
		}
	}
	return nodes, nil
}
