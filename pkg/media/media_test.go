package media

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/sfu-client/pkg/logger"
)

func TestPacerDelay(t *testing.T) {
	base := time.Unix(1000, 0)

	tests := []struct {
		name     string
		lastTS   uint32
		ts       uint32
		elapsed  time.Duration
		expected time.Duration
	}{
		{"same frame", 9000, 9000, 0, 0},
		{"one frame at 30fps", 0, 3000, 0, 33333333 * time.Nanosecond},
		{"partly elapsed", 0, 9000, 40 * time.Millisecond, 60 * time.Millisecond},
		{"behind schedule", 0, 3000, 50 * time.Millisecond, 0},
		{"capped", 0, 90000, 0, maxPacketDelay},
		{"backwards", 9000, 3000, 0, 0},
		{"wraparound", 0xFFFFFFFF - 899, 900, 0, 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacer("video", 90000, func(*rtp.Packet) error { return nil }, logger.Discard())
			p.lastTS = tt.lastTS
			p.lastSent = base
			p.now = func() time.Time { return base.Add(tt.elapsed) }

			assert.Equal(t, tt.expected, p.delay(tt.ts))
		})
	}
}

func TestPacerRun(t *testing.T) {
	var mu sync.Mutex
	var written []uint16

	p := NewPacer("audio", 48000, func(pkt *rtp.Packet) error {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, pkt.SequenceNumber)
		return nil
	}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := uint16(0); i < 3; i++ {
		require.NoError(t, p.Enqueue(ctx, &rtp.Packet{Header: rtp.Header{SequenceNumber: i, Timestamp: 960 * uint32(i)}}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(written) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint16{0, 1, 2}, written)
	mu.Unlock()
	assert.Equal(t, uint64(3), p.Stats().PacketsSent)
}

func TestRTPSource(t *testing.T) {
	src := NewRTPSource(RTPSourceOptions{
		VideoAddr:  "127.0.0.1:0",
		VideoCodec: Capability(webrtc.MimeTypeVP8),
		Logger:     logger.Discard(),
	})
	defer src.Close()

	_, err := src.Track(webrtc.RTPCodecTypeAudio)
	assert.ErrorIs(t, err, ErrNoDevice)

	track, err := src.Track(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, track.Kind())

	again, err := src.Track(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	assert.Same(t, track, again)

	addr := src.LocalAddr(webrtc.RTPCodecTypeVideo)
	require.NotNil(t, addr)

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	raw, err := (&rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 3000, SSRC: 42},
		Payload: []byte{0x10, 0x00, 0x01},
	}).Marshal()
	require.NoError(t, err)

	_, err = conn.Write(raw)
	require.NoError(t, err)
	_, err = conn.Write([]byte{0x00})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, ok := src.Stats(webrtc.RTPCodecTypeVideo)
		return ok && stats.PacketsSent == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCapability(t *testing.T) {
	audio := Capability(webrtc.MimeTypeOpus)
	assert.Equal(t, uint32(48000), audio.ClockRate)
	assert.Equal(t, uint16(2), audio.Channels)

	video := Capability(webrtc.MimeTypeAV1)
	assert.Equal(t, uint32(90000), video.ClockRate)
	assert.Zero(t, video.Channels)
}

type scriptedTrack struct {
	kind    webrtc.RTPCodecType
	mime    string
	packets []*rtp.Packet
}

func (t *scriptedTrack) ID() string                { return "scripted" }
func (t *scriptedTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *scriptedTrack) SSRC() webrtc.SSRC         { return 99 }
func (t *scriptedTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: t.mime}}
}
func (t *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(t.packets) == 0 {
		return nil, nil, io.EOF
	}
	pkt := t.packets[0]
	t.packets = t.packets[1:]
	return pkt, nil, nil
}

func TestSink(t *testing.T) {
	track := &scriptedTrack{
		kind: webrtc.RTPCodecTypeVideo,
		mime: webrtc.MimeTypeAV1,
		packets: []*rtp.Packet{
			{Payload: []byte{1, 2, 3}},
			{Payload: []byte{4, 5}},
		},
	}

	sink := NewSink(7, track, logger.Discard())
	sink.KeyframeInterval = 0

	var requested []uint32
	sink.RequestKeyframe = func(ssrc uint32) { requested = append(requested, ssrc) }

	require.NoError(t, sink.Run(context.Background()))

	stats := sink.Stats()
	assert.Equal(t, 7, stats.ParticipantID)
	assert.Equal(t, "video", stats.Kind)
	assert.Equal(t, uint64(2), stats.Packets)
	assert.Equal(t, uint64(5), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Keyframes)
	assert.Equal(t, []uint32{99}, requested)
	assert.Zero(t, stats.KeyframesSeen)
}

func TestSinkStartsOnKeyframe(t *testing.T) {
	track := &scriptedTrack{
		kind: webrtc.RTPCodecTypeVideo,
		mime: webrtc.MimeTypeH264,
		packets: []*rtp.Packet{
			{Payload: []byte{0x67, 0x42, 0x00}},
			{Payload: []byte{0x41, 0x9a}},
			{Payload: []byte{0x7c, 0x85, 0x00}},
		},
	}

	sink := NewSink(7, track, logger.Discard())
	sink.KeyframeInterval = 0
	called := false
	sink.RequestKeyframe = func(uint32) { called = true }

	require.NoError(t, sink.Run(context.Background()))
	assert.False(t, called)
	assert.Equal(t, uint64(2), sink.Stats().KeyframesSeen)
}

func TestSinkAudioNoKeyframe(t *testing.T) {
	track := &scriptedTrack{kind: webrtc.RTPCodecTypeAudio, packets: []*rtp.Packet{{Payload: []byte{1}}}}

	sink := NewSink(3, track, logger.Discard())
	called := false
	sink.RequestKeyframe = func(uint32) { called = true }

	require.NoError(t, sink.Run(context.Background()))
	assert.False(t, called)
	assert.Equal(t, uint64(1), sink.Stats().Packets)
}
