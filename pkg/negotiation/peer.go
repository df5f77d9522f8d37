package negotiation

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the WebRTC engine capability a Connection drives
type PeerConnection interface {
	// AddSendTrack adds track as a send-only transceiver preferring codecs
	// in the given order. An empty list keeps the engine's default order.
	AddSendTrack(track webrtc.TrackLocal, codecs []webrtc.RTPCodecParameters) error
	// Codecs lists the codecs the engine can negotiate for kind
	Codecs(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters

	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription

	SignalingState() webrtc.SignalingState
	ICEGatheringState() webrtc.ICEGatheringState

	// SetScalabilityMode applies mode to every outbound encoding
	SetScalabilityMode(mode string) error

	GetStats() webrtc.StatsReport
	WriteRTCP(pkts []rtcp.Packet) error

	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnICEGatheringStateChange(f func(webrtc.ICEGatheringState))
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(RemoteTrack))

	Close() error
}

// RemoteTrack is an inbound media track
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Factory creates peer connections
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}
