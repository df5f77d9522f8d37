// Package negotiation drives one WebRTC peer connection through the
// offer/answer exchange with an SFU, including candidate filtering and
// codec selection.
package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/sdp"
)

var (
	ErrWrongRole       = errors.New("operation not valid for connection role")
	ErrAlreadySending  = errors.New("already sending this media kind")
	ErrStopped         = errors.New("connection stopped")
	ErrUnsupportedKind = errors.New("unsupported media kind")
	ErrScalabilityHint = errors.New("scalability mode not applied")
	ErrNoDispatch      = errors.New("options need a dispatch function")
)

// Role distinguishes the single outbound connection from inbound ones
type Role int

const (
	RoleSend Role = iota
	RoleRecv
)

func (r Role) String() string {
	if r == RoleSend {
		return "send"
	}
	return "recv"
}

// State is the negotiation progress of a Connection
type State int

const (
	StateNew State = iota
	StateGathering
	StateReady
	StateAwaitingRemote
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateGathering:
		return "gathering-local-description"
	case StateReady:
		return "local-description-ready"
	case StateAwaitingRemote:
		return "awaiting-remote"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Connection
type Options struct {
	Codecs CodecPreferences
	// LimitIP keeps only candidate lines containing this substring
	LimitIP string
	// ScalabilityMode is applied to outbound encodings once the remote
	// answer is accepted. Empty disables it.
	ScalabilityMode string
	// Dispatch runs engine callbacks on the owner's event loop. Required.
	Dispatch func(func())
	Logger   *logger.Logger
}

// Connection negotiates one peer connection.
//
// Methods must be called from a single goroutine, the same one Dispatch
// delivers engine callbacks on.
type Connection struct {
	role          Role
	participantID int
	pc            PeerConnection
	opts          Options
	log           *logger.Logger

	state       State
	video       bool
	audio       bool
	renegotiate bool
	// a track was added that no applied offer carries yet
	unoffered bool

	// OnLocalDescription receives each finished local description, after
	// candidate filtering.
	OnLocalDescription func(webrtc.SessionDescription)
	// OnTrack receives inbound tracks
	OnTrack func(participantID int, track RemoteTrack)
}

// New wraps pc and installs its event handlers. opts.Dispatch must deliver
// onto the goroutine that calls the Connection's methods.
func New(role Role, participantID int, pc PeerConnection, opts Options) (*Connection, error) {
	if opts.Dispatch == nil {
		return nil, ErrNoDispatch
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	c := &Connection{
		role:          role,
		participantID: participantID,
		pc:            pc,
		opts:          opts,
		log:           log.With("role", role.String(), "participant_id", participantID),
	}

	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		c.post(func() {
			c.log.DebugWebRTC("signaling state changed", "state", s.String())
			c.evaluate()
		})
	})
	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		c.post(func() {
			c.log.DebugICE("gathering state changed", "state", s.String())
			c.evaluate()
		})
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.post(func() {
			if cand == nil {
				c.log.DebugICE("candidate gathering finished")
				c.evaluate()
				return
			}
			c.log.DebugICE("gathered candidate", "candidate", cand.String())
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.post(func() {
			c.log.Info("peer connection state changed", "state", s.String())
		})
	})
	pc.OnTrack(func(t RemoteTrack) {
		c.post(func() { c.handleTrack(t) })
	})

	return c, nil
}

func (c *Connection) post(fn func()) {
	c.opts.Dispatch(func() {
		if c.state == StateClosed {
			return
		}
		fn()
	})
}

// Role returns the connection role
func (c *Connection) Role() Role {
	return c.role
}

// ParticipantID returns the remote participant this connection serves,
// or the local one for the send connection.
func (c *Connection) ParticipantID() int {
	return c.participantID
}

// State returns the negotiation state
func (c *Connection) State() State {
	return c.state
}

// SignalingState returns the engine's signaling state
func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

// VideoActive reports whether a video track has been added
func (c *Connection) VideoActive() bool { return c.video }

// AudioActive reports whether an audio track has been added
func (c *Connection) AudioActive() bool { return c.audio }

// Sending reports whether a track of kind has been added
func (c *Connection) Sending(kind webrtc.RTPCodecType) bool {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return c.video
	case webrtc.RTPCodecTypeAudio:
		return c.audio
	}
	return false
}

// AddSendTrack adds a send-only transceiver for track using the configured
// codec preference. At most one track per kind may be added.
func (c *Connection) AddSendTrack(track webrtc.TrackLocal) error {
	if c.role != RoleSend {
		return ErrWrongRole
	}
	if c.state == StateClosed {
		return ErrStopped
	}

	kind := track.Kind()
	switch kind {
	case webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	if c.Sending(kind) {
		return fmt.Errorf("%w: %s", ErrAlreadySending, kind)
	}

	codecs := c.opts.Codecs.Resolve(kind, c.pc.Codecs(kind))
	if len(codecs) == 0 && len(c.opts.Codecs.For(kind)) > 0 {
		c.log.Warn("no preferred codec available, using engine defaults",
			"kind", kind.String(), "preferred", c.opts.Codecs.For(kind))
	}

	if err := c.pc.AddSendTrack(track, codecs); err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}

	if kind == webrtc.RTPCodecTypeVideo {
		c.video = true
	} else {
		c.audio = true
	}
	c.unoffered = true

	c.log.Info("added send track", "kind", kind.String(), "track_id", track.ID(), "codecs", len(codecs))
	return nil
}

// NegotiationNeeded reports whether a send track was added but no offer
// carrying it has been applied, e.g. after a failed Negotiate.
func (c *Connection) NegotiationNeeded() bool {
	return c.unoffered
}

// Negotiate creates and applies a local offer. If a negotiation is already
// in flight, a new one starts once the remote answer arrives.
func (c *Connection) Negotiate() error {
	if c.role != RoleSend {
		return ErrWrongRole
	}

	switch c.state {
	case StateClosed:
		return ErrStopped
	case StateGathering, StateReady, StateAwaitingRemote:
		c.log.DebugWebRTC("negotiation in progress, deferring", "state", c.state.String())
		c.renegotiate = true
		c.unoffered = false
		return nil
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	prev := c.state
	c.state = StateGathering
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.state = prev
		return fmt.Errorf("set local offer: %w", err)
	}
	c.unoffered = false

	c.log.DebugWebRTC("local offer applied, waiting for candidates")
	c.evaluate()
	return nil
}

// HandleRemoteOffer applies an offer from the SFU and produces an answer
func (c *Connection) HandleRemoteOffer(text string) error {
	if c.state == StateClosed {
		return ErrStopped
	}

	c.log.DebugSessionDescription("remote", "offer", text)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: text}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	prev := c.state
	c.state = StateGathering
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.state = prev
		return fmt.Errorf("set local answer: %w", err)
	}

	c.evaluate()
	return nil
}

// HandleRemoteAnswer applies the SFU's answer to our offer and then applies
// the scalability mode. A failed scalability hint is logged, not returned.
func (c *Connection) HandleRemoteAnswer(text string) error {
	if c.role != RoleSend {
		return ErrWrongRole
	}
	if c.state == StateClosed {
		return ErrStopped
	}
	if c.state != StateAwaitingRemote {
		c.log.Warn("answer received while not awaiting one", "state", c.state.String())
	}

	c.log.DebugSessionDescription("remote", "answer", text)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: text}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	c.state = StateStable

	if mode := c.opts.ScalabilityMode; mode != "" {
		if err := c.pc.SetScalabilityMode(mode); err != nil {
			c.log.Warn("failed to apply scalability mode", "mode", mode,
				"error", fmt.Errorf("%w: %w", ErrScalabilityHint, err))
		} else {
			c.log.Info("applied scalability mode", "mode", mode)
		}
	}

	if c.renegotiate {
		c.renegotiate = false
		return c.Negotiate()
	}
	return nil
}

// RequestKeyframe sends a picture loss indication for ssrc
func (c *Connection) RequestKeyframe(ssrc uint32) error {
	if c.state == StateClosed {
		return ErrStopped
	}
	return c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}

// Stats returns the engine's statistics report
func (c *Connection) Stats() webrtc.StatsReport {
	return c.pc.GetStats()
}

// Stop closes the peer connection. Callbacks still queued are discarded.
func (c *Connection) Stop() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if err := c.pc.Close(); err != nil {
		c.log.Warn("error closing peer connection", "error", err)
	}
	c.log.Info("connection stopped")
}

// evaluate signals the local description once gathering is complete and
// the signaling state matches the description type.
func (c *Connection) evaluate() {
	if c.state != StateGathering {
		return
	}
	if c.pc.ICEGatheringState() != webrtc.ICEGatheringStateComplete {
		return
	}

	desc := c.pc.LocalDescription()
	if desc == nil {
		return
	}

	switch signaling := c.pc.SignalingState(); {
	case signaling == webrtc.SignalingStateHaveLocalOffer && desc.Type == webrtc.SDPTypeOffer:
	case signaling == webrtc.SignalingStateStable && desc.Type == webrtc.SDPTypeAnswer:
	default:
		return
	}

	c.state = StateReady
	c.signal(*desc)
}

func (c *Connection) signal(desc webrtc.SessionDescription) {
	if c.opts.LimitIP != "" {
		filtered, dropped := sdp.FilterCandidates(desc.SDP, c.opts.LimitIP)
		for _, line := range dropped {
			c.logDropped(line)
		}
		desc.SDP = filtered

		// the engine must describe exactly what we signal
		if desc.Type == webrtc.SDPTypeOffer && len(dropped) > 0 {
			if err := c.pc.SetLocalDescription(desc); err != nil {
				c.log.Error("failed to apply filtered offer", "error", err)
				c.state = StateNew
				return
			}
		}
	}

	if desc.Type == webrtc.SDPTypeOffer {
		c.state = StateAwaitingRemote
	} else {
		c.state = StateStable
	}

	c.log.DebugSessionDescription("local", desc.Type.String(), desc.SDP)
	c.log.DebugICE("local description ready", "candidates", sdp.CountCandidates(desc.SDP))

	if c.OnLocalDescription == nil {
		c.log.Error("no receiver for local description", "type", desc.Type.String())
		return
	}
	c.OnLocalDescription(desc)
}

func (c *Connection) logDropped(line string) {
	cand, err := ice.UnmarshalCandidate(strings.TrimPrefix(line, "a=candidate:"))
	if err != nil {
		c.log.DebugICE("dropped candidate", "line", line)
		return
	}
	c.log.DebugICE("dropped candidate",
		"address", cand.Address(),
		"port", cand.Port(),
		"type", cand.Type().String(),
		"protocol", cand.NetworkType().NetworkShort())
}

func (c *Connection) handleTrack(t RemoteTrack) {
	c.log.Info("remote track received", "kind", t.Kind().String(), "track_id", t.ID(), "ssrc", uint32(t.SSRC()))
	if c.OnTrack == nil {
		c.log.Warn("no track receiver")
		return
	}
	c.OnTrack(c.participantID, t)
}
