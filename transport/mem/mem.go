// Package mem implements transport.Transport over in-process Go channels,
// standing in for a real MPI communicator. It lets the router's setup and
// exchange protocols run end to end inside a single test binary, the way
// lattigo's examples/multi_party programs simulate every party's state in
// one process instead of talking to real peers over a network.
//
// Unlike lattigo's sequential party-simulation style, a crystal router round
// needs two ranks to genuinely run concurrently (each posts a receive, then
// a send, then waits), so each [Endpoint] is meant to be driven from its own
// goroutine.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/pbauman/crystalrouter/transport"
)

type routeKey struct {
	src, dst, tag int
}

// Fabric is the shared in-memory "network" connecting Size() endpoints.
type Fabric struct {
	mu    sync.Mutex
	size  int
	chans map[routeKey]chan []byte
}

// NewFabric creates a Fabric for a communicator of the given size.
func NewFabric(size int) *Fabric {
	if size < 1 {
		panic(fmt.Errorf("mem: size must be >= 1, got %d", size))
	}
	return &Fabric{size: size, chans: make(map[routeKey]chan []byte)}
}

// Endpoint returns the transport.Transport for the given rank. Each rank's
// endpoint should be used from exactly one goroutine, mirroring the
// single-threaded-per-rank cooperative model the router assumes.
func (f *Fabric) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= f.size {
		panic(fmt.Errorf("mem: rank %d out of range [0, %d)", rank, f.size))
	}
	return &Endpoint{fabric: f, rank: rank}
}

func (f *Fabric) chanFor(k routeKey) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chans[k]
	if !ok {
		// Buffered generously: a rank may have a handful of in-flight
		// messages to the same peer/tag across adjacent levels.
		ch = make(chan []byte, 8)
		f.chans[k] = ch
	}
	return ch
}

// Endpoint is one rank's view of a Fabric.
type Endpoint struct {
	fabric *Fabric
	rank   int
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return e.fabric.size }

// Isend copies data and hands it off asynchronously, returning immediately.
func (e *Endpoint) Isend(dst, tag int, data []byte) (transport.Request, error) {
	if dst < 0 || dst >= e.fabric.size {
		return nil, fmt.Errorf("mem: Isend: dst %d out of range [0, %d)", dst, e.fabric.size)
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	ch := e.fabric.chanFor(routeKey{src: e.rank, dst: dst, tag: tag})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch <- cp
	}()
	return &request{done: done}, nil
}

// Irecv waits (asynchronously, until Wait is called) for a matching message
// from src tagged tag, and copies it into data.
func (e *Endpoint) Irecv(src, tag int, data []byte) (transport.Request, error) {
	if src < 0 || src >= e.fabric.size {
		return nil, fmt.Errorf("mem: Irecv: src %d out of range [0, %d)", src, e.fabric.size)
	}
	ch := e.fabric.chanFor(routeKey{src: src, dst: e.rank, tag: tag})
	done := make(chan struct{})
	r := &request{done: done}
	go func() {
		defer close(done)
		buf := <-ch
		if len(buf) != len(data) {
			r.err = fmt.Errorf("mem: Irecv: size mismatch: expected %d bytes, got %d", len(data), len(buf))
			return
		}
		copy(data, buf)
	}()
	return r, nil
}

type request struct {
	done chan struct{}
	err  error
}

func (r *request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
