package media

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/rtp"
)

// DefaultKeyframeInterval is how often a video sink asks for a keyframe
const DefaultKeyframeInterval = 3 * time.Second

// SinkStats counts what a Sink has drained
type SinkStats struct {
	ParticipantID int    `json:"participant_id"`
	Kind          string `json:"kind"`
	SSRC          uint32 `json:"ssrc"`
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	Keyframes     uint64 `json:"keyframe_requests"`
	KeyframesSeen uint64 `json:"keyframes_received"`
}

// Sink drains an inbound track so the engine keeps receiving
type Sink struct {
	participantID int
	track         negotiation.RemoteTrack
	log           *logger.Logger

	// RequestKeyframe is called with the track SSRC when the first video
	// packet does not start a keyframe, and every KeyframeInterval after that
	RequestKeyframe  func(ssrc uint32)
	KeyframeInterval time.Duration

	packets   atomic.Uint64
	bytes     atomic.Uint64
	keyframes atomic.Uint64
	received  atomic.Uint64
}

// NewSink creates a sink for track
func NewSink(participantID int, track negotiation.RemoteTrack, log *logger.Logger) *Sink {
	if log == nil {
		log = logger.Default()
	}
	return &Sink{
		participantID:    participantID,
		track:            track,
		log:              log.With("component", "sink", "participant_id", participantID, "kind", track.Kind().String()),
		KeyframeInterval: DefaultKeyframeInterval,
	}
}

// Run reads until the track ends or ctx is done. A closed track is not an
// error.
func (s *Sink) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	video := s.track.Kind() == webrtc.RTPCodecTypeVideo
	ssrc := uint32(s.track.SSRC())
	mime := s.track.Codec().MimeType

	if video && s.RequestKeyframe != nil && s.KeyframeInterval > 0 {
		go func() {
			ticker := time.NewTicker(s.KeyframeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.requestKeyframe(ssrc)
				}
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.log.Info("track ended", "packets", s.packets.Load())
				return nil
			}
			return err
		}

		keyframe := video && rtp.IsKeyframe(mime, pkt.Payload)
		if keyframe {
			s.received.Add(1)
		}

		if s.packets.Add(1) == 1 {
			s.log.Info("first packet received", "ssrc", ssrc, "payload_type", pkt.PayloadType, "codec", mime)
			if video && !keyframe {
				s.requestKeyframe(ssrc)
			}
		}
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (s *Sink) requestKeyframe(ssrc uint32) {
	if s.RequestKeyframe == nil {
		return
	}
	s.keyframes.Add(1)
	s.RequestKeyframe(ssrc)
}

// Stats returns the sink counters
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		ParticipantID: s.participantID,
		Kind:          s.track.Kind().String(),
		SSRC:          uint32(s.track.SSRC()),
		Packets:       s.packets.Load(),
		Bytes:         s.bytes.Load(),
		Keyframes:     s.keyframes.Load(),
		KeyframesSeen: s.received.Load(),
	}
}
