package router

// BufferPool owns the send/receive double-buffers an exchange needs, sized
// in bytes to the widest level of either variant.
// Reallocation is growth-only and idempotent: calling AllocBuffer with a
// footprint no larger than what is already held is a no-op.
type BufferPool struct {
	nsendMax int
	nrecvMax int

	sendBuf     []byte
	sendBufHost []byte

	buf     [2][]byte
	bufHost [2][]byte
	bufID   int
}

// NewBufferPool sizes a pool for the given per-level maxima (group counts,
// not bytes — the element width is only known at AllocBuffer time, since the
// router is reused across exchanges of different types).
func NewBufferPool(nsendMax, nrecvMax int) *BufferPool {
	return &BufferPool{nsendMax: nsendMax, nrecvMax: nrecvMax}
}

// AllocBuffer ensures every buffer is at least wide enough for nbytes-sized
// elements. Growing the receive pair resets buf_id to 0, the way a fresh
// allocation invalidates whichever half held the "current" halo.
func (p *BufferPool) AllocBuffer(nbytes int) {
	sendNeed := p.nsendMax * nbytes
	if len(p.sendBuf) < sendNeed {
		p.sendBuf = make([]byte, sendNeed)
		p.sendBufHost = make([]byte, sendNeed)
	}

	recvNeed := p.nrecvMax * nbytes
	grew := false
	for i := range p.buf {
		if len(p.buf[i]) < recvNeed {
			p.buf[i] = make([]byte, recvNeed)
			p.bufHost[i] = make([]byte, recvNeed)
			grew = true
		}
	}
	if grew {
		p.bufID = 0
	}
}

// SendBuf returns the device-resident send staging buffer.
func (p *BufferPool) SendBuf() []byte { return p.sendBuf }

// SendBufHost returns the pinned-host companion to SendBuf.
func (p *BufferPool) SendBufHost() []byte { return p.sendBufHost }

// HaloBuf returns the buffer currently playing the role of the extended
// halo (the "current" half of the double-buffer pair).
func (p *BufferPool) HaloBuf() []byte { return p.buf[p.bufID] }

// RecvBuf returns the buffer currently playing the role of the receive
// staging area (the "idle" half, about to become the new halo).
func (p *BufferPool) RecvBuf() []byte { return p.buf[1-p.bufID] }

// HaloBufHost and RecvBufHost mirror HaloBuf/RecvBuf for the pinned-host
// companions.
func (p *BufferPool) HaloBufHost() []byte { return p.bufHost[p.bufID] }
func (p *BufferPool) RecvBufHost() []byte { return p.bufHost[1-p.bufID] }

// Rotate flips buf_id: the previous halo becomes the receive area, and the
// previously-idle half becomes the new halo.
func (p *BufferPool) Rotate() { p.bufID = 1 - p.bufID }
