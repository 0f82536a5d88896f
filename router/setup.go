package router

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pbauman/crystalrouter/gather"
	"github.com/pbauman/crystalrouter/transport"
)

// Halo is the surrounding mesh's view of its own halo: the external
// collaborator construction depends on. A real caller backs this with
// whatever owns the mesh's shared-node bookkeeping.
type Halo interface {
	// NHalo is the total number of halo slots on this rank.
	NHalo() int
	// NHaloP is the number of positively-signed (locally owned) halo slots;
	// NHaloP <= NHalo.
	NHaloP() int
	// BaseId returns the signed global identity of halo slot n, n < NHalo.
	// Its sign must agree with whether n < NHaloP.
	BaseId(n int) int
}

// SharedNode is one other rank's participation in a node this rank also
// holds in its halo, supplied alongside Halo at construction time. Entries
// need not be sorted or deduplicated.
type SharedNode struct {
	Rank   int
	BaseId int
	NewId  int // target halo slot on this rank, in [0, NHalo())
}

// Topology is the immutable result of running setup: two lock-step sets of
// per-round levels (symmetric T, non-symmetric N) describing how to fold
// this rank's halo into every other rank's.
type Topology struct {
	Rank, Size int
	NHalo      int
	NHaloP     int

	// NHaloExtN and NHaloExtT report the total number of positively-signed,
	// respectively all, extended-halo slots this rank ended up owning. They
	// are informational counts, not byte offsets: slot numbering is a flat,
	// per-rank-local space (see DESIGN.md) rather than physically split into
	// a contiguous prefix/suffix.
	NHaloExtN int
	NHaloExtT int

	LevelsN []Level
	LevelsT []Level

	// NSendMax and NRecvMax bound the widest send and receive buffer any
	// level of either variant ever needs, per the buffer-size law.
	NSendMax int
	NRecvMax int
}

// setupState carries the per-round bookkeeping that survives across rounds:
// the growing extended-halo slot space and which slots are positively typed.
type setupState struct {
	extSize  int // next slot id to allocate == current total extended-halo size
	posCount int
	positive map[int]bool
}

func (s *setupState) allocate(isPositive bool) int {
	slot := s.extSize
	s.extSize++
	s.positive[slot] = isPositive
	if isPositive {
		s.posCount++
	}
	return slot
}

// NewTopology runs the full crystal-router setup protocol for this rank,
// exchanging node metadata with every partner the hypercube recursion picks,
// and returns the resulting two-variant level vectors.
func NewTopology(ctx context.Context, tr transport.Transport, halo Halo, shared []SharedNode) (*Topology, error) {
	nHalo := halo.NHalo()
	nHaloP := halo.NHaloP()
	if nHaloP > nHalo {
		return nil, fmt.Errorf("router: NHaloP (%d) exceeds NHalo (%d)", nHaloP, nHalo)
	}

	nodes := make([]ParallelNode, 0, nHalo+len(shared))
	for n := 0; n < nHalo; n++ {
		bid := halo.BaseId(n)
		nodes = append(nodes, ParallelNode{Rank: tr.Rank(), BaseId: bid, Sign: signOf(bid), NewId: n})
	}
	for _, s := range shared {
		nodes = append(nodes, ParallelNode{Rank: s.Rank, BaseId: s.BaseId, Sign: signOf(s.BaseId), NewId: s.NewId})
	}
	sortByNewId(nodes)

	state := &setupState{extSize: nHalo, posCount: 0, positive: make(map[int]bool)}

	topo := &Topology{Rank: tr.Rank(), Size: tr.Size(), NHalo: nHalo, NHaloP: nHaloP}

	npOffset, np := 0, tr.Size()
	round := 0
	for np > 1 {
		fs := fold(tr.Rank(), npOffset, np)
		recvOffset := state.extSize

		lvlN, lvlT, next, err := setupRound(ctx, tr, fs, round, nHalo, nHaloP, nodes, recvOffset, state)
		if err != nil {
			return nil, fmt.Errorf("router: setup round %d: %w", round, err)
		}
		topo.LevelsN = append(topo.LevelsN, lvlN)
		topo.LevelsT = append(topo.LevelsT, lvlT)
		nodes = next

		npOffset, np = fs.next()
		round++
	}

	topo.NHaloExtN = nHalo + state.posCount
	topo.NHaloExtT = state.extSize

	for i := range topo.LevelsT {
		if n := topo.LevelsT[i].Nsend; n > topo.NSendMax {
			topo.NSendMax = n
		}
		if n := topo.LevelsT[i].Ncols(); n > topo.NRecvMax {
			topo.NRecvMax = n
		}
	}
	for i := range topo.LevelsN {
		if n := topo.LevelsN[i].Nsend; n > topo.NSendMax {
			topo.NSendMax = n
		}
		if n := topo.LevelsN[i].Ncols(); n > topo.NRecvMax {
			topo.NRecvMax = n
		}
	}

	return topo, nil
}

func signOf(baseId int) int {
	if baseId < 0 {
		return -2
	}
	return 2
}

// wire tags for setup's four per-round exchanges; distinct rounds use
// distinct tag bases so in-flight messages never alias on the same route.
const (
	tagRawCount  = 0
	tagSendCountN = 1
	tagSendCountT = 2
	tagPayload    = 3
	tagKinds      = 4
)

func roundTag(round, kind int) int { return round*tagKinds + kind }

// setupRound runs a single hypercube fold (one level) for this rank,
// returning the N and T levels built from it and the node array the next
// round should start from.
func setupRound(ctx context.Context, tr transport.Transport, fs FoldStep, round, nHalo, nHaloP int, nodes []ParallelNode, recvOffset int, state *setupState) (Level, Level, []ParallelNode, error) {
	var kept, sent []ParallelNode
	for _, n := range nodes {
		inKept := n.Rank < fs.rHalf
		if !fs.Lo {
			inKept = n.Rank >= fs.rHalf
		}
		if inKept {
			kept = append(kept, n)
		} else {
			sent = append(sent, n)
		}
	}

	sendIdsT, sendIdsN := groupSendIds(sent)

	for i := range sent {
		sent[i].NewId = -1
	}

	rawRecv0, rawRecv1, err := exchangeCounts(ctx, tr, fs, roundTag(round, tagRawCount), len(sent))
	if err != nil {
		return Level{}, Level{}, nil, err
	}
	recvT0, recvT1, err := exchangeCounts(ctx, tr, fs, roundTag(round, tagSendCountT), len(sendIdsT))
	if err != nil {
		return Level{}, Level{}, nil, err
	}
	recvN0, recvN1, err := exchangeCounts(ctx, tr, fs, roundTag(round, tagSendCountN), len(sendIdsN))
	if err != nil {
		return Level{}, Level{}, nil, err
	}

	received, err := exchangeNodes(ctx, tr, fs, roundTag(round, tagPayload), sent, rawRecv0, rawRecv1)
	if err != nil {
		return Level{}, Level{}, nil, err
	}

	msg1, msg2 := received[:rawRecv0], received[rawRecv0:]
	colT1 := assignColumns(msg1, recvOffset, false)
	colT2 := assignColumns(msg2, recvOffset+recvT0, false)
	colN1 := assignColumns(msg1, recvOffset, true)
	colN2 := assignColumns(msg2, recvOffset+recvN0, true)

	kept = append(kept, received...)
	sortByBaseIdentThenNewIdDesc(kept)

	rowsT := map[int][]int{}
	rowsN := map[int][]int{}

	selfRowsN := nHalo
	if round == 0 {
		selfRowsN = nHaloP
	}
	for r := 0; r < nHalo; r++ {
		rowsT[r] = append(rowsT[r], r)
		if r < selfRowsN {
			rowsN[r] = append(rowsN[r], r)
		}
	}
	for r := nHalo; r < recvOffset; r++ {
		rowsT[r] = append(rowsT[r], r)
		if state.positive[r] {
			rowsN[r] = append(rowsN[r], r)
		}
	}

	i := 0
	for i < len(kept) {
		j := i
		ident := kept[i].BaseIdent()
		isPositive := false
		repNewId := kept[i].NewId
		for j < len(kept) && kept[j].BaseIdent() == ident {
			if kept[j].PositiveSign() {
				isPositive = true
			}
			if kept[j].NewId > repNewId {
				repNewId = kept[j].NewId
			}
			j++
		}

		var row int
		switch {
		case repNewId >= 0:
			row = repNewId
		default:
			row = state.allocate(isPositive)
		}
		for k := i; k < j; k++ {
			kept[k].NewId = row
			if isPositive && kept[k].Sign < 0 {
				kept[k].Sign = -kept[k].Sign
			}
		}

		// A group already holding an extended-halo row can be promoted to
		// positive this round by merging with an incoming positively-signed
		// copy; record that and give it a self-forward column so it starts
		// participating in the N variant without losing its prior value.
		if row >= nHalo && isPositive && !state.positive[row] {
			state.positive[row] = true
			state.posCount++
			rowsN[row] = append(rowsN[row], row)
		}

		if col, ok := colT1[ident]; ok {
			rowsT[row] = append(rowsT[row], col)
		}
		if col, ok := colT2[ident]; ok {
			rowsT[row] = append(rowsT[row], col)
		}
		if isPositive {
			if col, ok := colN1[ident]; ok {
				rowsN[row] = append(rowsN[row], col)
			}
			if col, ok := colN2[ident]; ok {
				rowsN[row] = append(rowsN[row], col)
			}
		}

		i = j
	}

	lvlT := Level{
		Partner: fs.Partner, SecondaryPartner: fs.SecondaryPartner, Nmsg: fs.Nmsg,
		Nsend: len(sendIdsT), SendIds: sendIdsT,
		Nrecv0: recvT0, Nrecv1: recvT1, RecvOffset: recvOffset,
		Gather: buildOperator(rowsT, state.extSize, recvOffset+recvT0+recvT1),
	}
	lvlN := Level{
		Partner: fs.Partner, SecondaryPartner: fs.SecondaryPartner, Nmsg: fs.Nmsg,
		Nsend: len(sendIdsN), SendIds: sendIdsN,
		Nrecv0: recvN0, Nrecv1: recvN1, RecvOffset: recvOffset,
		Gather: buildOperator(rowsN, state.extSize, recvOffset+recvN0+recvN1),
	}

	sortByNewId(kept)
	return lvlN, lvlT, kept, nil
}

// groupSendIds scans sent (already contiguous by base-id group, an
// invariant every prior round's relabeling maintains) and returns, for each
// variant, the representative newId of every departing group: T gets every
// group, N only those with a positively-signed member.
func groupSendIds(sent []ParallelNode) (sendIdsT, sendIdsN []int) {
	i := 0
	for i < len(sent) {
		j := i
		ident := sent[i].BaseIdent()
		positive := false
		repNewId := sent[i].NewId
		for j < len(sent) && sent[j].BaseIdent() == ident {
			if sent[j].PositiveSign() {
				positive = true
			}
			if sent[j].NewId > repNewId {
				repNewId = sent[j].NewId
			}
			j++
		}
		sendIdsT = append(sendIdsT, repNewId)
		if positive {
			sendIdsN = append(sendIdsN, repNewId)
		}
		i = j
	}
	return sendIdsT, sendIdsN
}

// assignColumns walks one received message's raw node records in arrival
// order and assigns each distinct base-id group the next free column
// starting at base. When positiveOnly is set, groups with no
// positively-signed member are skipped entirely (used for the N variant).
func assignColumns(msg []ParallelNode, base int, positiveOnly bool) map[int]int {
	cols := map[int]int{}
	i := 0
	next := base
	for i < len(msg) {
		j := i
		ident := msg[i].BaseIdent()
		positive := false
		for j < len(msg) && msg[j].BaseIdent() == ident {
			if msg[j].PositiveSign() {
				positive = true
			}
			j++
		}
		if !positiveOnly || positive {
			cols[ident] = next
			next++
		}
		i = j
	}
	return cols
}

func buildOperator(rows map[int][]int, nrows, ncols int) gather.Operator {
	b := gather.NewBuilder(gather.NewOperator())
	for r := 0; r < nrows; r++ {
		for _, c := range rows[r] {
			b.AddCol(c)
		}
		b.EndRow()
	}
	op := b.Operator()
	op.Ncols = ncols
	return *op
}

func exchangeCounts(ctx context.Context, tr transport.Transport, fs FoldStep, tag int, send int) (recv0, recv1 int, err error) {
	sendBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(sendBuf, uint64(send))
	sendReq, err := tr.Isend(fs.Partner, tag, sendBuf)
	if err != nil {
		return 0, 0, err
	}

	var recv0Buf, recv1Buf []byte
	var recv0Req, recv1Req transport.Request
	if fs.Nmsg >= 1 {
		recv0Buf = make([]byte, 8)
		recv0Req, err = tr.Irecv(fs.Partner, tag, recv0Buf)
		if err != nil {
			return 0, 0, err
		}
	}
	if fs.Nmsg == 2 {
		recv1Buf = make([]byte, 8)
		recv1Req, err = tr.Irecv(fs.SecondaryPartner, tag, recv1Buf)
		if err != nil {
			return 0, 0, err
		}
	}

	reqs := []transport.Request{sendReq}
	if recv0Req != nil {
		reqs = append(reqs, recv0Req)
	}
	if recv1Req != nil {
		reqs = append(reqs, recv1Req)
	}
	if err := transport.WaitAll(ctx, reqs...); err != nil {
		return 0, 0, err
	}

	if fs.Nmsg >= 1 {
		recv0 = int(int64(binary.LittleEndian.Uint64(recv0Buf)))
	}
	if fs.Nmsg == 2 {
		recv1 = int(int64(binary.LittleEndian.Uint64(recv1Buf)))
	}
	return recv0, recv1, nil
}

// exchangeNodes sends sent's node records to fs.Partner and receives recv0
// (+ recv1, when Nmsg == 2) records back, tagging each received node's
// LocalId with which message it arrived in (0 or 1) so the caller can
// recover arrival order per message.
func exchangeNodes(ctx context.Context, tr transport.Transport, fs FoldStep, tag int, sent []ParallelNode, recv0, recv1 int) ([]ParallelNode, error) {
	sendBuf := encodeNodes(sent)
	sendReq, err := tr.Isend(fs.Partner, tag, sendBuf)
	if err != nil {
		return nil, err
	}

	var recv0Buf, recv1Buf []byte
	var recv0Req, recv1Req transport.Request
	if fs.Nmsg >= 1 {
		recv0Buf = make([]byte, recv0*nodeWireSize)
		recv0Req, err = tr.Irecv(fs.Partner, tag, recv0Buf)
		if err != nil {
			return nil, err
		}
	}
	if fs.Nmsg == 2 {
		recv1Buf = make([]byte, recv1*nodeWireSize)
		recv1Req, err = tr.Irecv(fs.SecondaryPartner, tag, recv1Buf)
		if err != nil {
			return nil, err
		}
	}

	reqs := []transport.Request{sendReq}
	if recv0Req != nil {
		reqs = append(reqs, recv0Req)
	}
	if recv1Req != nil {
		reqs = append(reqs, recv1Req)
	}
	if err := transport.WaitAll(ctx, reqs...); err != nil {
		return nil, err
	}

	out := make([]ParallelNode, 0, recv0+recv1)
	if fs.Nmsg >= 1 {
		nodes, err := decodeNodes(recv0Buf, recv0)
		if err != nil {
			return nil, err
		}
		for i := range nodes {
			nodes[i].LocalId = 0
		}
		out = append(out, nodes...)
	}
	if fs.Nmsg == 2 {
		nodes, err := decodeNodes(recv1Buf, recv1)
		if err != nil {
			return nil, err
		}
		for i := range nodes {
			nodes[i].LocalId = 1
		}
		out = append(out, nodes...)
	}
	return out, nil
}
