// Package router implements the crystal-router halo-exchange engine:
// hypercube-folded setup over a partner graph, and the Start/Finish pair
// that drives one collective gather-scatter or scatter-gather exchange.
package router

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/pbauman/crystalrouter/gather"
	"github.com/pbauman/crystalrouter/platform"
	"github.com/pbauman/crystalrouter/transport"
)

// TransposeMode selects which of the two lock-step level vectors an exchange
// uses: NoTrans, Trans or JustTrans.
type TransposeMode int

const (
	// NoTrans selects the non-symmetric (N) variant: scatter-gather,
	// touching only positively-signed participants.
	NoTrans TransposeMode = iota
	// Trans selects the symmetric (T) variant: gather-scatter, touching
	// every participant.
	Trans
	// JustTrans behaves like Trans; it exists as a distinct value for
	// callers that distinguish a pure transpose from a general one.
	JustTrans
)

type exchangeState int

const (
	idle exchangeState = iota
	pending
)

// Stats accumulates bookkeeping across a Router's lifetime, not part of the
// core exchange path but useful for diagnostics the way a long-lived
// service tends to expose.
type Stats struct {
	Exchanges int
	Levels    int
	BytesSent uint64
	BytesRecv uint64
}

// Router drives collective halo exchanges over a fixed [Topology]. A single
// instance is reused across arbitrarily many exchanges, any k >= 1, and any
// of the element types float32, float64, int32, int64, int, uint32, uint64
// and uint. Finish panics for any other [gather.Number] type.
type Router struct {
	topo *Topology
	tr   transport.Transport
	pf   platform.Platform
	pool *BufferPool

	state       exchangeState
	savedStream platform.Stream
	startHost   bool
	startTrans  TransposeMode
	Stats       Stats
}

// New builds a Router over an already-computed topology.
func New(topo *Topology, tr transport.Transport, pf platform.Platform) *Router {
	return &Router{
		topo: topo,
		tr:   tr,
		pf:   pf,
		pool: NewBufferPool(topo.NSendMax, topo.NRecvMax),
	}
}

func asBytes[T gather.Number](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*size)
}

// elemKind identifies a concrete [gather.Number] instantiation so a
// non-generic byte buffer can be reinterpreted correctly once rotated
// through the Router's internal storage; width alone is ambiguous between,
// say, float32 and int32.
type elemKind int

const (
	kindFloat32 elemKind = iota
	kindFloat64
	kindInt32
	kindInt64
	kindUint32
	kindUint64
)

func kindOf[T gather.Number]() elemKind {
	var zero T
	switch any(zero).(type) {
	case float32:
		return kindFloat32
	case float64:
		return kindFloat64
	case int32:
		return kindInt32
	case int64, int:
		return kindInt64
	case uint32:
		return kindUint32
	case uint64, uint:
		return kindUint64
	default:
		panic(fmt.Errorf("router: unsupported element type %T", zero))
	}
}

func asTyped[T gather.Number](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size)
}

func startWidth(nHaloP, nHalo int, trans TransposeMode) int {
	if trans == NoTrans {
		return nHaloP
	}
	return nHalo
}

func finishWidth(nHaloP, nHalo int, trans TransposeMode) int {
	if trans == NoTrans {
		return nHaloP
	}
	return nHalo
}

// Start publishes k elements per halo slot into the router's send pipeline.
// halo holds the caller's current per-slot values, host-resident if host is
// true. Start never blocks the caller's stream; calling it twice before
// Finish returns an error.
func Start[T gather.Number](r *Router, k int, trans TransposeMode, host bool, halo []T) error {
	if r.state == pending {
		return fmt.Errorf("router: Start called while an exchange is already pending")
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	n := startWidth(r.topo.NHaloP, r.topo.NHalo, trans)
	if len(halo) < n*k {
		return fmt.Errorf("router: halo buffer too small: have %d, need %d", len(halo), n*k)
	}

	r.pool.AllocBuffer(k * elemSize)
	r.savedStream = r.pf.Current()
	r.pf.SetCurrent(r.pf.DataStream())

	dst := r.pool.HaloBuf()
	src := asBytes(halo[:n*k])
	if !host && !r.pf.GPUAwareMPI() {
		if err := r.pf.CopyAsync(r.pf.DataStream(), r.pool.HaloBufHost()[:len(src)], src); err != nil {
			return err
		}
		copy(dst[:len(src)], r.pool.HaloBufHost()[:len(src)])
	} else {
		copy(dst[:len(src)], src)
	}

	r.state = pending
	r.startHost = host
	r.startTrans = trans
	return nil
}

// Finish drives every level to completion and writes the combined values
// back into halo.
func Finish[T gather.Number](ctx context.Context, r *Router, k int, op gather.Op, trans TransposeMode, host bool, halo []T) error {
	if r.state != pending {
		return fmt.Errorf("router: Finish called without a matching Start")
	}
	defer func() { r.state = idle }()

	if trans != r.startTrans || host != r.startHost {
		return fmt.Errorf("router: Finish's trans/host must match the preceding Start")
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	kind := kindOf[T]()

	r.pf.SetCurrent(r.pf.DataStream())
	if err := r.pf.DataStream().Sync(); err != nil {
		return err
	}

	levels := r.topo.LevelsN
	if trans != NoTrans {
		levels = r.topo.LevelsT
	}

	for l := range levels {
		if err := r.runLevel(ctx, &levels[l], k, op, elemSize, kind); err != nil {
			return fmt.Errorf("router: level %d: %w", l, err)
		}
		r.Stats.Levels++
	}

	n := finishWidth(r.topo.NHaloP, r.topo.NHalo, trans)
	if len(halo) < n*k {
		return fmt.Errorf("router: halo buffer too small: have %d, need %d", len(halo), n*k)
	}
	result := r.pool.HaloBuf()[:n*k*elemSize]
	dst := asBytes(halo[:n*k])
	copy(dst, result)
	if !host && !r.pf.GPUAwareMPI() {
		copy(r.pool.HaloBufHost()[:len(result)], result)
		if err := r.pf.CopyAsync(r.pf.DataStream(), dst, r.pool.HaloBufHost()[:len(result)]); err != nil {
			return err
		}
		if err := r.pf.DataStream().Sync(); err != nil {
			return err
		}
	}

	r.pf.SetCurrent(r.savedStream)
	r.Stats.Exchanges++
	return nil
}

func (r *Router) runLevel(ctx context.Context, lvl *Level, k int, op gather.Op, elemSize int, kind elemKind) error {
	width := k * elemSize

	recvBuf := r.pool.HaloBuf()
	recvReq, err := r.postReceives(lvl, recvBuf, width)
	if err != nil {
		return err
	}

	sendBuf := r.pool.SendBuf()[:lvl.Nsend*width]
	packIds(sendBuf, r.pool.HaloBuf(), lvl.SendIds, width)

	sendReq, err := r.tr.Isend(lvl.Partner, r.tr.Rank(), sendBuf)
	if err != nil {
		return err
	}
	r.Stats.BytesSent += uint64(len(sendBuf))

	reqs := append([]transport.Request{sendReq}, recvReq...)
	if err := transport.WaitAll(ctx, reqs...); err != nil {
		return err
	}

	r.pool.Rotate()
	src := r.pool.RecvBuf()
	dst := r.pool.HaloBuf()

	// Seed the new halo buffer with the unchanged prefix before reducing:
	// a row the gather descriptor doesn't touch this round (an N-variant
	// row with no positively-signed contribution yet) must still retain
	// whatever value it carried in, per the N-variant correctness property.
	copy(dst[:lvl.RecvOffset*width], src[:lvl.RecvOffset*width])

	applyGather(&lvl.Gather, dst, src, k, op, kind)
	return nil
}

func (r *Router) postReceives(lvl *Level, recvBuf []byte, width int) ([]transport.Request, error) {
	var reqs []transport.Request
	if lvl.Nmsg > 0 {
		off := lvl.RecvOffset * width
		n := lvl.Nrecv0 * width
		req, err := r.tr.Irecv(lvl.Partner, lvl.Partner, recvBuf[off:off+n])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
		r.Stats.BytesRecv += uint64(n)
	}
	if lvl.Nmsg == 2 {
		off := (lvl.RecvOffset + lvl.Nrecv0) * width
		n := lvl.Nrecv1 * width
		req, err := r.tr.Irecv(lvl.SecondaryPartner, lvl.SecondaryPartner, recvBuf[off:off+n])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
		r.Stats.BytesRecv += uint64(n)
	}
	return reqs, nil
}

// packIds copies the k-wide block at row id, for every id in ids, into
// consecutive slots of dst, the way Finish stages a send buffer.
func packIds(dst, src []byte, ids []int, width int) {
	for i, id := range ids {
		copy(dst[i*width:(i+1)*width], src[id*width:(id+1)*width])
	}
}

// applyGather dispatches to the generic [gather.Gather] for the element kind
// the caller asked for. Router itself is not generic (it outlives any one
// exchange's element type), so this bridges byte buffers to typed slices
// right at the point the element type is finally known.
func applyGather(op *gather.Operator, dst, src []byte, k int, redOp gather.Op, kind elemKind) {
	switch kind {
	case kindFloat32:
		gather.Gather(op, asTyped[float32](dst), asTyped[float32](src), k, redOp)
	case kindFloat64:
		gather.Gather(op, asTyped[float64](dst), asTyped[float64](src), k, redOp)
	case kindInt32:
		gather.Gather(op, asTyped[int32](dst), asTyped[int32](src), k, redOp)
	case kindInt64:
		gather.Gather(op, asTyped[int64](dst), asTyped[int64](src), k, redOp)
	case kindUint32:
		gather.Gather(op, asTyped[uint32](dst), asTyped[uint32](src), k, redOp)
	case kindUint64:
		gather.Gather(op, asTyped[uint64](dst), asTyped[uint64](src), k, redOp)
	default:
		panic(fmt.Errorf("router: unsupported element kind %v", kind))
	}
}
