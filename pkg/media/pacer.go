package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/ethan/sfu-client/pkg/logger"
)

const (
	// Catch-up speed multiplier when draining accumulated packets
	catchupSpeedMultiplier = 1.1

	// Queue depth at which catch-up mode starts
	catchupThreshold = 5

	// Upper bound on a single wait, guards against timestamp jumps
	maxPacketDelay = 200 * time.Millisecond

	pacerQueueSize = 64
)

// Pacer smooths bursty RTP ingest by releasing packets at the rate their
// RTP timestamps imply.
type Pacer struct {
	log       *logger.Logger
	kind      string
	clockRate uint32
	write     func(*rtp.Packet) error
	queue     chan *rtp.Packet
	now       func() time.Time

	// owned by Run
	started  bool
	lastTS   uint32
	lastSent time.Time

	statsMu sync.Mutex
	stats   PacerStats
}

// PacerStats contains pacer statistics
type PacerStats struct {
	PacketsSent    uint64        `json:"packets_sent"`
	BurstsAbsorbed uint64        `json:"bursts_absorbed"`
	CatchupEvents  uint64        `json:"catchup_events"`
	WriteErrors    uint64        `json:"write_errors"`
	TotalDelay     time.Duration `json:"total_delay"`
	QueueDepth     int           `json:"queue_depth"`
}

// NewPacer creates a pacer for one media kind. write receives packets in
// order once their send time has come.
func NewPacer(kind string, clockRate uint32, write func(*rtp.Packet) error, log *logger.Logger) *Pacer {
	if log == nil {
		log = logger.Default()
	}
	return &Pacer{
		log:       log.With("component", "pacer", "kind", kind),
		kind:      kind,
		clockRate: clockRate,
		write:     write,
		queue:     make(chan *rtp.Packet, pacerQueueSize),
		now:       time.Now,
	}
}

// Enqueue queues pkt, blocking while the queue is full
func (p *Pacer) Enqueue(ctx context.Context, pkt *rtp.Packet) error {
	select {
	case p.queue <- pkt:
		return nil
	default:
	}

	p.statsMu.Lock()
	p.stats.BurstsAbsorbed++
	p.statsMu.Unlock()
	p.log.DebugStats("pacer queue full, applying backpressure", "queue_depth", len(p.queue))

	select {
	case p.queue <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run releases queued packets until ctx is done
func (p *Pacer) Run(ctx context.Context) {
	p.log.DebugWebRTC("pacer started")
	defer p.log.DebugWebRTC("pacer stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-p.queue:
			if err := p.pace(ctx, pkt); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.statsMu.Lock()
				p.stats.WriteErrors++
				p.statsMu.Unlock()
				p.log.Warn("failed to write paced packet", "seq", pkt.SequenceNumber, "error", err)
			}
		}
	}
}

func (p *Pacer) pace(ctx context.Context, pkt *rtp.Packet) error {
	if p.started {
		delay := p.delay(pkt.Timestamp)

		if len(p.queue) >= catchupThreshold {
			delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
			p.statsMu.Lock()
			p.stats.CatchupEvents++
			p.statsMu.Unlock()
		}

		p.statsMu.Lock()
		p.stats.TotalDelay += delay
		p.statsMu.Unlock()

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}

	if err := p.write(pkt); err != nil {
		return fmt.Errorf("write %s packet: %w", p.kind, err)
	}

	p.started = true
	p.lastTS = pkt.Timestamp
	p.lastSent = p.now()

	p.statsMu.Lock()
	p.stats.PacketsSent++
	p.statsMu.Unlock()
	return nil
}

// delay returns how long to hold a packet with timestamp ts so that the
// wall clock spacing matches the RTP clock spacing from the last send.
func (p *Pacer) delay(ts uint32) time.Duration {
	// unsigned subtraction handles wraparound
	delta := ts - p.lastTS
	if delta > 1<<31 {
		// timestamp went backwards
		return 0
	}

	target := time.Duration(delta) * time.Second / time.Duration(p.clockRate)
	delay := target - p.now().Sub(p.lastSent)

	switch {
	case delay < 0:
		return 0
	case delay > maxPacketDelay:
		p.log.DebugStats("capping excessive delay", "delay", delay, "timestamp_delta", delta)
		return maxPacketDelay
	}
	return delay
}

// Stats returns current pacer statistics
func (p *Pacer) Stats() PacerStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s := p.stats
	s.QueueDepth = len(p.queue)
	return s
}
