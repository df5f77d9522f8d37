// Package rtp inspects RTP payloads of the negotiated video codecs.
package rtp

import (
	"encoding/binary"
	"strings"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
)

// H.264 NAL unit types
const (
	NALUTypeIFrame = 5
	NALUTypeSPS    = 7
	NALUTypeSTAPA  = 24 // Single-Time Aggregation Packet
	NALUTypeFUA    = 28 // Fragmentation Unit A
)

// av1NewSequence is the N bit of the AV1 aggregation header
const av1NewSequence = 0x08

// IsKeyframe reports whether payload begins a keyframe for the codec mime.
// Unknown codecs and audio never do.
func IsKeyframe(mime string, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeH264):
		return h264Keyframe(payload)
	case strings.ToLower(webrtc.MimeTypeVP8):
		return vp8Keyframe(payload)
	case strings.ToLower(webrtc.MimeTypeAV1):
		return payload[0]&av1NewSequence != 0
	default:
		return false
	}
}

func h264Keyframe(payload []byte) bool {
	naluType := payload[0] & 0x1F

	switch naluType {
	case NALUTypeFUA:
		if len(payload) < 2 {
			return false
		}
		fuHeader := payload[1]
		start := fuHeader&0x80 != 0
		return start && fuHeader&0x1F == NALUTypeIFrame

	case NALUTypeSTAPA:
		payload = payload[1:]
		for len(payload) > 2 {
			size := int(binary.BigEndian.Uint16(payload[:2]))
			payload = payload[2:]
			if size == 0 || len(payload) < size {
				return false
			}
			if isKeyNALU(payload[0] & 0x1F) {
				return true
			}
			payload = payload[size:]
		}
		return false

	default:
		return isKeyNALU(naluType)
	}
}

// SPS is sent ahead of the IDR it belongs to
func isKeyNALU(t byte) bool {
	return t == NALUTypeIFrame || t == NALUTypeSPS
}

func vp8Keyframe(payload []byte) bool {
	var pkt codecs.VP8Packet
	frame, err := pkt.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	// P bit of the frame tag is only present at the start of partition 0
	return pkt.S == 1 && pkt.PID == 0 && frame[0]&0x01 == 0
}
