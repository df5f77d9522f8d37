package negotiation

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// CodecPreferences holds the ordered MIME type preference per media kind,
// e.g. {"video/AV1", "video/rtx"}.
type CodecPreferences struct {
	Video []string
	Audio []string
}

// For returns the preference list for kind
func (p CodecPreferences) For(kind webrtc.RTPCodecType) []string {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return p.Video
	case webrtc.RTPCodecTypeAudio:
		return p.Audio
	default:
		return nil
	}
}

// Resolve picks the available codecs matching the preference list for
// kind, ordered by preference. MIME types compare case-insensitively.
func (p CodecPreferences) Resolve(kind webrtc.RTPCodecType, available []webrtc.RTPCodecParameters) []webrtc.RTPCodecParameters {
	var out []webrtc.RTPCodecParameters
	for _, mime := range p.For(kind) {
		for _, c := range available {
			if strings.EqualFold(c.MimeType, mime) {
				out = append(out, c)
			}
		}
	}
	return out
}
