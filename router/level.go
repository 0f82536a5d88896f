package router

import "github.com/pbauman/crystalrouter/gather"

// Level is one hypercube round's worth of exchange bookkeeping for a single
// variant (symmetric T or non-symmetric N).
type Level struct {
	// Partner and SecondaryPartner mirror the FoldStep this level was built
	// from: Partner is always valid, SecondaryPartner only when Nmsg == 2.
	Partner          int
	SecondaryPartner int
	Nmsg             int

	// Nsend is the number of distinct base-id groups departing this round
	// for this variant; SendIds holds, in halo-buffer order, which slots to
	// pack into the send buffer.
	Nsend   int
	SendIds []int

	// Nrecv0 and Nrecv1 are the number of groups arriving from Partner and
	// (when Nmsg == 2) SecondaryPartner respectively.
	Nrecv0 int
	Nrecv1 int

	// RecvOffset is the extended-halo size as of the start of this round:
	// columns [0, RecvOffset) of the receive buffer alias the rotated
	// previous halo buffer, columns beyond that hold freshly arrived data.
	RecvOffset int

	// Gather reduces the receive buffer into this round's new extended
	// halo buffer.
	Gather gather.Operator
}

// Ncols returns the width of the receive buffer this level's Gather expects
// as its source, per the buffer-size law.
func (l *Level) Ncols() int {
	return l.RecvOffset + l.Nrecv0 + l.Nrecv1
}
