package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "transport-cc"},
}

// defaultCodecs is the codec table registered with every media engine.
// Each video codec is paired with its retransmission format.
func defaultCodecs() map[webrtc.RTPCodecType][]webrtc.RTPCodecParameters {
	video := []webrtc.RTPCodecParameters{
		videoCodec(webrtc.MimeTypeVP8, "", 96),
		rtxCodec(96, 97),
		videoCodec(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 102),
		rtxCodec(102, 103),
		videoCodec(webrtc.MimeTypeAV1, "", 45),
		rtxCodec(45, 46),
	}

	audio := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
	}

	return map[webrtc.RTPCodecType][]webrtc.RTPCodecParameters{
		webrtc.RTPCodecTypeVideo: video,
		webrtc.RTPCodecTypeAudio: audio,
	}
}

func videoCodec(mime, fmtp string, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     mime,
			ClockRate:    90000,
			SDPFmtpLine:  fmtp,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: pt,
	}
}

func rtxCodec(apt, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeRTX,
			ClockRate:   90000,
			SDPFmtpLine: fmt.Sprintf("apt=%d", apt),
		},
		PayloadType: pt,
	}
}

func registerCodecs(m *webrtc.MediaEngine, codecs map[webrtc.RTPCodecType][]webrtc.RTPCodecParameters) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		for _, c := range codecs[kind] {
			if err := m.RegisterCodec(c, kind); err != nil {
				return fmt.Errorf("register %s codec: %w", c.MimeType, err)
			}
		}
	}
	return nil
}
