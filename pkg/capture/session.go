package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// clock is an internal interface for time operations
type clock interface {
	now() time.Time
}

type realClock struct{}

func (realClock) now() time.Time {
	return time.Now()
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	stateStopped
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle events and dropped frames.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Stats is a point-in-time view of session counters.
type Stats struct {
	Captured uint64
	Dropped  map[DropReason]uint64
	Evicted  uint64
	Stored   int
	Capacity int
	Running  bool
	Source   *SourceStats // nil when the source does not report counters
}

// TotalDropped sums drops over all reasons.
func (s Stats) TotalDropped() uint64 {
	var total uint64
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// Session bridges a capture Source to a bounded Store. It runs exactly one
// capture goroutine between Start and Stop; OnFrame is the single producer
// for the store.
type Session struct {
	id     uuid.UUID
	config Config
	source Source
	store  *Store
	clock  clock
	logger zerolog.Logger

	mu        sync.Mutex
	state     sessionState
	startTime time.Time
	stopTime  time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	err       error

	running  atomic.Bool
	captured atomic.Uint64
	dropped  map[DropReason]*atomic.Uint64

	lastRelative float64 // owned by the producer
}

// NewSession creates an idle session reading from source.
func NewSession(config Config, source Source, opts ...Option) (*Session, error) {
	if source == nil {
		return nil, errors.New("capture source is required")
	}
	config = config.withDefaults()

	s := &Session{
		id:      uuid.New(),
		config:  config,
		source:  source,
		store:   NewStore(config.Capacity),
		clock:   realClock{},
		logger:  zerolog.New(os.Stderr).With().Timestamp().Logger(),
		done:    make(chan struct{}),
		dropped: make(map[DropReason]*atomic.Uint64, len(DropReasons)),
	}
	for _, reason := range DropReasons {
		s.dropped[reason] = new(atomic.Uint64)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().
		Str("component", "capture").
		Str("session_id", s.id.String()).
		Logger()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// Start opens the source and launches the capture loop. Calling Start on a
// running session is a no-op; a stopped session cannot be restarted.
// Cancelling ctx stops the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrSessionStopped
	}

	if err := s.source.Open(s.config.BPFFilter); err != nil {
		s.state = stateStopped
		s.err = fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		close(s.done)
		s.logger.Error().Err(err).Str("interface", s.config.Interface).Msg("failed to start capture")
		return s.err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startTime = s.clock.now()
	s.state = stateRunning
	s.running.Store(true)

	go s.run(loopCtx)

	s.logger.Info().
		Str("interface", s.config.Interface).
		Str("filter", s.config.BPFFilter).
		Int("capacity", s.store.Cap()).
		Msg("capture started")
	return nil
}

// Stop ends the session. It is safe to call from any goroutine and more
// than once. The capture loop exits at its next read; Done reports when.
func (s *Session) Stop() error {
	s.mu.Lock()
	prev := s.state
	if prev == stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	s.running.Store(false)
	if prev == stateRunning {
		s.stopTime = s.clock.now()
		s.cancel()
	} else {
		close(s.done)
	}
	s.mu.Unlock()

	if prev != stateRunning {
		return nil
	}
	s.logSourceStats()
	if err := s.source.Close(); err != nil {
		return fmt.Errorf("error closing capture source: %w", err)
	}
	s.logger.Info().Dur("elapsed", s.Elapsed()).Msg("capture stopped")
	return nil
}

// Done is closed once the capture loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fault that ended the session, if the capture mechanism
// failed. A session stopped through Stop reports nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Running reports whether the session accepts frames.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Elapsed returns the time since Start, frozen once the session stops.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.startTime.IsZero():
		return 0
	case s.state == stateRunning:
		return s.clock.now().Sub(s.startTime)
	case s.stopTime.IsZero():
		return 0
	}
	return s.stopTime.Sub(s.startTime)
}

// Snapshot returns a copy of the stored records, oldest first.
func (s *Session) Snapshot() []Record {
	return s.store.Snapshot()
}

// TotalPacketCount returns the number of records currently stored.
func (s *Session) TotalPacketCount() int {
	return s.store.Len()
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	stats := Stats{
		Captured: s.captured.Load(),
		Dropped:  make(map[DropReason]uint64, len(s.dropped)),
		Evicted:  s.store.Evicted(),
		Stored:   s.store.Len(),
		Capacity: s.store.Cap(),
		Running:  s.running.Load(),
	}
	for reason, n := range s.dropped {
		stats.Dropped[reason] = n.Load()
	}
	if provider, ok := s.source.(StatsProvider); ok && stats.Running {
		if sourceStats, err := provider.CaptureStats(); err == nil {
			stats.Source = &sourceStats
		}
	}
	return stats
}

// OnFrame extracts a record from packet and appends it to the store.
// Frames that cannot be recorded are dropped and reported as *FrameError;
// they never stop the capture loop.
func (s *Session) OnFrame(packet gopacket.Packet) (err error) {
	if !s.running.Load() {
		return ErrSessionStopped
	}

	defer func() {
		if r := recover(); r != nil {
			err = &FrameError{Reason: ReasonPanic, Detail: fmt.Sprint(r)}
		}
		if err != nil {
			s.drop(packet, err)
		}
	}()

	record, err := s.extract(packet)
	if err != nil {
		return err
	}
	s.store.Append(record)
	s.captured.Add(1)
	return nil
}

// run is the capture loop
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	stopOnCancel := context.AfterFunc(ctx, func() {
		s.Stop()
	})
	defer stopOnCancel()

	for s.running.Load() {
		packet, err := s.source.NextPacket()
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if !s.running.Load() {
				return
			}
			s.fail(err)
			return
		}
		s.OnFrame(packet)
	}
}

// fail records a capture mechanism fault and stops the session.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.err = fmt.Errorf("%w: %w", ErrCaptureFailed, cause)
	s.state = stateStopped
	s.running.Store(false)
	s.stopTime = s.clock.now()
	s.cancel()
	s.mu.Unlock()

	s.logger.Error().Err(cause).Str("interface", s.config.Interface).Msg("capture source failed")
	if err := s.source.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing capture source")
	}
}

func (s *Session) logSourceStats() {
	provider, ok := s.source.(StatsProvider)
	if !ok {
		return
	}
	stats, err := provider.CaptureStats()
	if err != nil {
		return
	}
	s.logger.Info().
		Uint64("received", stats.Received).
		Uint64("dropped", stats.Dropped).
		Uint64("if_dropped", stats.InterfaceDropped).
		Msg("capture source counters")
}

func (s *Session) drop(packet gopacket.Packet, err error) {
	reason, ok := DropReasonOf(err)
	if !ok {
		reason = ReasonMalformed
	}
	s.dropped[reason].Add(1)

	event := s.logger.Debug().Err(err).Str("reason", string(reason))
	if packet != nil {
		md := packet.Metadata()
		event = event.
			Int("frame_len", len(packet.Data())).
			Time("captured_at", md.Timestamp)
	}
	event.Msg("frame dropped")
}

// extract builds a record from the network and transport layers of packet.
func (s *Session) extract(packet gopacket.Packet) (Record, error) {
	network := packet.NetworkLayer()
	if network == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return Record{}, &FrameError{Reason: ReasonMalformed, Detail: "network layer", Err: errLayer.Error()}
		}
		return Record{}, &FrameError{Reason: ReasonNoNetworkLayer}
	}

	var record Record
	var protocol int
	switch ip := network.(type) {
	case *layers.IPv4:
		record.Source = ip.SrcIP.String()
		record.Destination = ip.DstIP.String()
		protocol = int(ip.Protocol)
	case *layers.IPv6:
		record.Source = ip.SrcIP.String()
		record.Destination = ip.DstIP.String()
		protocol = int(ip.NextHeader)
	default:
		return Record{}, &FrameError{
			Reason: ReasonUnsupportedNetwork,
			Detail: network.LayerType().String(),
		}
	}

	transport := packet.TransportLayer()
	if transport != nil && len(transport.LayerContents()) == 0 {
		// A header that failed to decode is still attached, zero-valued.
		fe := &FrameError{Reason: ReasonMalformed, Detail: "transport layer"}
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			fe.Err = errLayer.Error()
		}
		return Record{}, fe
	}

	switch transport := transport.(type) {
	case *layers.TCP:
		protocol = int(layers.IPProtocolTCP) // skips IPv6 extension headers
		record.SrcPort = uint16(transport.SrcPort)
		record.DstPort = uint16(transport.DstPort)
		record.HasPorts = true
		record.TCPFlags = tcpFlagString(transport)
		record.HasTCPFlags = true
	case *layers.UDP:
		protocol = int(layers.IPProtocolUDP)
		record.SrcPort = uint16(transport.SrcPort)
		record.DstPort = uint16(transport.DstPort)
		record.HasPorts = true
	default:
		if protocol == int(layers.IPProtocolTCP) || protocol == int(layers.IPProtocolUDP) {
			if errLayer := packet.ErrorLayer(); errLayer != nil {
				return Record{}, &FrameError{Reason: ReasonMalformed, Detail: "transport layer", Err: errLayer.Error()}
			}
		}
	}
	record.Protocol = Classify(protocol)

	record.Size = packet.Metadata().Length
	if record.Size <= 0 {
		record.Size = len(packet.Data())
	}

	// One clock reading feeds both timestamps.
	now := s.clock.now()
	relative := now.Sub(s.startTime).Seconds()
	if relative < s.lastRelative {
		relative = s.lastRelative
	}
	s.lastRelative = relative
	record.Timestamp = now
	record.RelativeTime = relative

	return record, nil
}
