// Package media provides the local media inputs published to the SFU and
// the sinks that drain inbound tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
)

// ErrNoDevice is returned when no input is configured for a media kind
var ErrNoDevice = errors.New("no media input configured")

const (
	streamID      = "sfu-client"
	maxPacketSize = 1500
)

// Source supplies local tracks to publish
type Source interface {
	Track(kind webrtc.RTPCodecType) (webrtc.TrackLocal, error)
}

// Capability returns the RTP capability for a codec MIME type, with the
// standard clock rate for its kind.
func Capability(mime string) webrtc.RTPCodecCapability {
	if strings.HasPrefix(strings.ToLower(mime), "audio/") {
		return webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}
}

// RTPSourceOptions configures an RTPSource
type RTPSourceOptions struct {
	// UDP listen addresses, empty when the kind has no input
	VideoAddr string
	AudioAddr string

	VideoCodec webrtc.RTPCodecCapability
	AudioCodec webrtc.RTPCodecCapability

	Logger *logger.Logger
}

// RTPSource publishes RTP packets received on local UDP ports, e.g. from
// ffmpeg or gstreamer.
type RTPSource struct {
	opts RTPSourceOptions
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	inputs map[webrtc.RTPCodecType]*rtpInput
}

type rtpInput struct {
	conn  net.PacketConn
	track *webrtc.TrackLocalStaticRTP
	pacer *Pacer
}

// NewRTPSource creates a source. Ports are opened on first use.
func NewRTPSource(opts RTPSourceOptions) *RTPSource {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RTPSource{
		opts:   opts,
		log:    log.With("component", "media"),
		ctx:    ctx,
		cancel: cancel,
		inputs: make(map[webrtc.RTPCodecType]*rtpInput),
	}
}

// Track returns the track for kind, opening its UDP input on first call
func (s *RTPSource) Track(kind webrtc.RTPCodecType) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, ok := s.inputs[kind]; ok {
		return in.track, nil
	}

	var addr string
	var codec webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		addr, codec = s.opts.VideoAddr, s.opts.VideoCodec
	case webrtc.RTPCodecTypeAudio:
		addr, codec = s.opts.AudioAddr, s.opts.AudioCodec
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, kind)
	}
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("media source closed")
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codec, kind.String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s input on %s: %w", kind, addr, err)
	}

	in := &rtpInput{
		conn:  conn,
		track: track,
		pacer: NewPacer(kind.String(), codec.ClockRate, track.WriteRTP, s.log),
	}
	s.inputs[kind] = in

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		in.pacer.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(kind, in)
	}()

	s.log.Info("media input opened", "kind", kind.String(), "addr", conn.LocalAddr().String(), "codec", codec.MimeType)
	return track, nil
}

// LocalAddr returns the bound input address for kind, or nil
func (s *RTPSource) LocalAddr(kind webrtc.RTPCodecType) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.inputs[kind]; ok {
		return in.conn.LocalAddr()
	}
	return nil
}

// Stats returns the pacer statistics for kind
func (s *RTPSource) Stats(kind webrtc.RTPCodecType) (PacerStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.inputs[kind]
	if !ok {
		return PacerStats{}, false
	}
	return in.pacer.Stats(), true
}

func (s *RTPSource) readLoop(kind webrtc.RTPCodecType, in *rtpInput) {
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := in.conn.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Error("media input read failed", "kind", kind.String(), "error", err)
			}
			return
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			s.log.DebugWebRTC("dropping invalid rtp packet", "kind", kind.String(), "error", err)
			continue
		}

		if err := in.pacer.Enqueue(s.ctx, pkt); err != nil {
			return
		}
	}
}

// Close stops all inputs
func (s *RTPSource) Close() error {
	s.cancel()

	s.mu.Lock()
	for _, in := range s.inputs {
		in.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
