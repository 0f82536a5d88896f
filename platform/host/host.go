// Package host implements platform.Platform for the case where halo buffers
// are host-resident and there is no device in play: copies are synchronous
// byte copies and streams are trivial.
package host

import "github.com/pbauman/crystalrouter/platform"

type stream struct{}

func (stream) Sync() error { return nil }

// Platform is the host-only reference implementation of platform.Platform.
type Platform struct {
	dataStream stream
	current    platform.Stream
}

// New returns a ready-to-use host Platform.
func New() *Platform {
	p := &Platform{}
	p.current = p.dataStream
	return p
}

var _ platform.Platform = (*Platform)(nil)

func (p *Platform) DataStream() platform.Stream { return p.dataStream }
func (p *Platform) Current() platform.Stream    { return p.current }
func (p *Platform) SetCurrent(s platform.Stream) {
	p.current = s
}

// CopyAsync performs the copy immediately: on a host-only platform there is
// no PCIe/NVLink transfer to overlap with.
func (p *Platform) CopyAsync(_ platform.Stream, dst, src []byte) error {
	copy(dst, src)
	return nil
}

// GPUAwareMPI always reports false: there is no device memory to pass to
// MPI directly.
func (p *Platform) GPUAwareMPI() bool { return false }
