// Package platform defines the narrow device/stream seam the crystal router
// needs from the surrounding application's device facade: a dedicated
// asynchronous copy stream, host<->device byte copies on it, and the
// ability to save and restore the caller's "current" stream around Start
// and Finish so router calls compose with whatever kernel the caller is
// mid-flight on.
//
// The real device facade (memory allocation, kernel launch, multiple device
// backends) is an external collaborator and is never built here. See the
// host subpackage for the no-op, host-is-device reference implementation
// used when there is no GPU in play at all.
package platform

// Stream is an opaque handle to a device execution/copy queue.
type Stream interface {
	// Sync blocks until every operation previously enqueued on this stream
	// has completed.
	Sync() error
}

// Platform is the device facade the router depends on.
type Platform interface {
	// DataStream returns the router's dedicated asynchronous copy stream,
	// created once and reused for the router's lifetime.
	DataStream() Stream

	// Current returns the caller's active stream, saved by the router
	// before it switches to DataStream and restored afterwards.
	Current() Stream

	// SetCurrent makes s the active stream.
	SetCurrent(s Stream)

	// CopyAsync enqueues a byte copy from src to dst on stream. Used for
	// host<->device halo staging; on a host-only platform this is
	// synchronous since there is nothing to overlap.
	CopyAsync(stream Stream, dst, src []byte) error

	// GPUAwareMPI reports whether the installed MPI can send/receive
	// directly from device pointers. When false, Start/Finish must stage
	// through the host via CopyAsync.
	GPUAwareMPI() bool
}
