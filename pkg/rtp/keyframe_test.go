package rtp

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name    string
		mime    string
		payload []byte
		want    bool
	}{
		{name: "empty", mime: webrtc.MimeTypeH264, payload: nil, want: false},
		{name: "h264 idr", mime: webrtc.MimeTypeH264, payload: []byte{0x65, 0x88}, want: true},
		{name: "h264 sps", mime: webrtc.MimeTypeH264, payload: []byte{0x67, 0x42}, want: true},
		{name: "h264 p frame", mime: webrtc.MimeTypeH264, payload: []byte{0x41, 0x9a}, want: false},
		{name: "h264 fu-a idr start", mime: webrtc.MimeTypeH264, payload: []byte{0x7c, 0x85, 0x00}, want: true},
		{name: "h264 fu-a idr middle", mime: webrtc.MimeTypeH264, payload: []byte{0x7c, 0x05, 0x00}, want: false},
		{name: "h264 fu-a truncated", mime: webrtc.MimeTypeH264, payload: []byte{0x7c}, want: false},
		{name: "h264 stap-a with sps", mime: "video/h264", payload: []byte{0x78, 0x00, 0x02, 0x67, 0x42, 0x00, 0x01, 0x68}, want: true},
		{name: "h264 stap-a without key", mime: webrtc.MimeTypeH264, payload: []byte{0x78, 0x00, 0x01, 0x06, 0x00, 0x01, 0x68}, want: false},
		{name: "h264 stap-a bad size", mime: webrtc.MimeTypeH264, payload: []byte{0x78, 0x00, 0x09, 0x67}, want: false},
		{name: "vp8 keyframe", mime: webrtc.MimeTypeVP8, payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}, want: true},
		{name: "vp8 interframe", mime: webrtc.MimeTypeVP8, payload: []byte{0x10, 0x01, 0x9d, 0x01, 0x2a}, want: false},
		{name: "vp8 continuation", mime: webrtc.MimeTypeVP8, payload: []byte{0x00, 0x00, 0x9d, 0x01, 0x2a}, want: false},
		{name: "av1 new sequence", mime: webrtc.MimeTypeAV1, payload: []byte{0x18, 0x0a}, want: true},
		{name: "av1 delta", mime: webrtc.MimeTypeAV1, payload: []byte{0x10, 0x32}, want: false},
		{name: "opus", mime: webrtc.MimeTypeOpus, payload: []byte{0xff}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKeyframe(tt.mime, tt.payload))
		})
	}
}
