package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Source is the capture mechanism feeding a session. Filtering happens
// inside the source: frames not matching the filter are never returned.
type Source interface {
	// Open starts capturing with the given BPF filter expression.
	Open(filter string) error
	// NextPacket blocks for the next frame. It returns ErrReadTimeout when
	// no frame arrived within the read timeout and ErrSourceClosed once
	// Close has been called.
	NextPacket() (gopacket.Packet, error)
	Close() error
}

// SourceStats holds counters reported by the capture mechanism itself.
type SourceStats struct {
	Received         uint64
	Dropped          uint64
	InterfaceDropped uint64
}

// StatsProvider is implemented by sources that expose kernel counters.
type StatsProvider interface {
	CaptureStats() (SourceStats, error)
}

// statsHandle is the part of *pcap.Handle that outlives the read loop.
// libpcap does not serialize stats against close, so both go through mu.
type statsHandle interface {
	Stats() (*pcap.Stats, error)
	Close()
}

// PCAPSource reads frames from a live interface through libpcap.
type PCAPSource struct {
	config Config

	mu     sync.Mutex
	handle statsHandle
	source *gopacket.PacketSource
	closed bool
}

// NewPCAPSource creates a libpcap source for the configured interface. The
// interface is not opened until Open.
func NewPCAPSource(config Config) *PCAPSource {
	config = config.withDefaults()
	return &PCAPSource{config: config}
}

// Open opens the interface and applies the filter.
func (p *PCAPSource) Open(filter string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSourceClosed
	}
	if p.handle != nil {
		return fmt.Errorf("interface %s already open", p.config.Interface)
	}

	handle, err := pcap.OpenLive(
		p.config.Interface,
		p.config.SnapshotLen,
		p.config.Promiscuous,
		p.config.Timeout,
	)
	if err != nil {
		return fmt.Errorf("error opening interface %s: %w", p.config.Interface, err)
	}

	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return fmt.Errorf("error applying filter %q: %w", filter, err)
		}
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	p.handle = handle
	p.source = packetSource
	return nil
}

// NextPacket returns the next frame from the interface.
func (p *PCAPSource) NextPacket() (gopacket.Packet, error) {
	p.mu.Lock()
	source, closed := p.source, p.closed
	p.mu.Unlock()

	if closed {
		return nil, ErrSourceClosed
	}
	if source == nil {
		return nil, errors.New("capture source not open")
	}

	packet, err := source.NextPacket()
	switch {
	case err == nil:
		return packet, nil
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return nil, ErrReadTimeout
	case errors.Is(err, io.EOF) && p.isClosed():
		return nil, ErrSourceClosed
	}
	return nil, err
}

// Close releases the pcap handle. A read blocked in NextPacket returns at
// the latest after the configured read timeout.
func (p *PCAPSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.handle != nil {
		p.handle.Close()
	}
	return nil
}

// CaptureStats reports libpcap receive and drop counters. It holds the
// source lock for the libpcap call so Close cannot free the handle under it.
func (p *PCAPSource) CaptureStats() (SourceStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil || p.closed {
		return SourceStats{}, ErrSourceClosed
	}
	stats, err := p.handle.Stats()
	if err != nil {
		return SourceStats{}, err
	}
	return SourceStats{
		Received:         uint64(stats.PacketsReceived),
		Dropped:          uint64(stats.PacketsDropped),
		InterfaceDropped: uint64(stats.PacketsIfDropped),
	}, nil
}

func (p *PCAPSource) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Config holds the configuration for packet capture.
type Config struct {
	Interface   string
	Promiscuous bool
	SnapshotLen int32
	Timeout     time.Duration // read timeout, bounds how long Stop waits on a blocked read
	BPFFilter   string        // Berkeley Packet Filter expression
	Capacity    int           // records kept by the session store
}

const (
	// DefaultBPFFilter admits only TCP and UDP frames.
	DefaultBPFFilter   = "tcp or udp"
	DefaultSnapshotLen = 65535
	DefaultTimeout     = time.Second
)

func (c Config) withDefaults() Config {
	if c.SnapshotLen <= 0 {
		c.SnapshotLen = DefaultSnapshotLen
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BPFFilter == "" {
		c.BPFFilter = DefaultBPFFilter
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}
