package capturetest

import (
	"sync"

	"github.com/google/gopacket"

	"github.com/objones25/go-traffic-monitor/pkg/capture"
)

// FakeSource is an in-memory capture.Source. Frames pushed with Push are
// returned by NextPacket in order; Fail makes the next read return an error.
type FakeSource struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error

	frames chan gopacket.Packet
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	filter string
	opened bool
}

// NewFakeSource creates a source buffering up to 1024 pending frames.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		frames: make(chan gopacket.Packet, 1024),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *FakeSource) Open(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.filter = filter
	f.opened = true
	return nil
}

// Filter returns the filter passed to Open.
func (f *FakeSource) Filter() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

// Opened reports whether Open succeeded.
func (f *FakeSource) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Push queues a frame for delivery.
func (f *FakeSource) Push(packets ...gopacket.Packet) {
	for _, p := range packets {
		f.frames <- p
	}
}

// Fail makes the next read return err.
func (f *FakeSource) Fail(err error) {
	f.errs <- err
}

func (f *FakeSource) NextPacket() (gopacket.Packet, error) {
	select {
	case <-f.closed:
		return nil, capture.ErrSourceClosed
	case err := <-f.errs:
		return nil, err
	case p := <-f.frames:
		return p, nil
	}
}

func (f *FakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (f *FakeSource) Closed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Pending returns the number of frames not yet read.
func (f *FakeSource) Pending() int {
	return len(f.frames)
}
