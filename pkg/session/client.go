// Package session orchestrates the signaling channel and the per-participant
// connections of one SFU session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/media"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/sdp"
	"github.com/ethan/sfu-client/pkg/signaling"
	"github.com/ethan/sfu-client/pkg/stats"
)

var (
	ErrNotConnected       = errors.New("not connected to controller")
	ErrNoSendConnection   = errors.New("no send connection")
	ErrUnknownParticipant = errors.New("no connection for participant")
	ErrClosed             = errors.New("client closed")
)

const eventQueueSize = 64

// Origin tells whether a session description was produced here or received
type Origin string

const (
	Local  Origin = "local"
	Remote Origin = "remote"
)

// Options configures a Client
type Options struct {
	Channel *signaling.Channel
	Factory negotiation.Factory
	Source  media.Source

	Codecs          negotiation.CodecPreferences
	LimitIP         string
	ScalabilityMode string

	Logger *logger.Logger
}

// Client owns one signaling channel, a lazily created send connection and
// one receive connection per remote participant. All state is confined to
// the goroutine running Run.
type Client struct {
	id      string
	ch      *signaling.Channel
	factory negotiation.Factory
	source  media.Source
	opts    Options
	log     *logger.Logger

	events chan func()
	done   chan struct{}

	// owned by the event loop
	connected     bool
	sessionID     int
	participantID int
	send          *negotiation.Connection
	recv          map[int]*negotiation.Connection

	// Callbacks run on the event loop and must not block
	OnConnected          func(sessionID, participantID int)
	OnDisconnected       func()
	OnSessionDescription func(origin Origin, participantID int, desc webrtc.SessionDescription)
	OnTrack              func(participantID int, track negotiation.RemoteTrack)
}

// NewClient creates a client. Nothing happens until Run.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	id := uuid.NewString()

	return &Client{
		id:      id,
		ch:      opts.Channel,
		factory: opts.Factory,
		source:  opts.Source,
		opts:    opts,
		log:     log.With("component", "session", "client_id", id),
		events:  make(chan func(), eventQueueSize),
		done:    make(chan struct{}),
		recv:    make(map[int]*negotiation.Connection),
	}
}

// ID returns the client instance id used in logs
func (c *Client) ID() string {
	return c.id
}

// Run connects the signaling channel and processes events until the channel
// closes. All connections are stopped before it returns.
func (c *Client) Run(ctx context.Context) error {
	c.ch.OnConnected = func(sessionID, participantID int) {
		c.post(func() { c.handleConnected(sessionID, participantID) })
	}
	c.ch.OnDisconnected = func() {
		c.post(c.handleDisconnected)
	}
	c.ch.OnOffer = func(m signaling.OfferMessage) {
		c.post(func() { c.handleOffer(m) })
	}
	c.ch.OnAnswer = func(m signaling.AnswerMessage) {
		c.post(func() { c.handleAnswer(m) })
	}

	chErr := make(chan error, 1)
	go func() { chErr <- c.ch.Run(ctx) }()

	c.log.Info("session client started", "session_id", c.ch.SessionID())

	for {
		select {
		case fn := <-c.events:
			fn()
		case err := <-chErr:
			c.drain()
			c.stopAll()
			close(c.done)
			c.log.Info("session client stopped")
			return err
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case fn := <-c.events:
			fn()
		default:
			return
		}
	}
}

// post queues fn on the event loop. It is dropped once the loop has exited.
func (c *Client) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// call runs fn on the event loop and waits for its result
func (c *Client) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)

	select {
	case c.events <- func() { result <- fn() }:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignalingActive reports whether the controller has answered hello
func (c *Client) SignalingActive() bool {
	return c.ch.Established()
}

// Publish starts sending the local track of kind, creating the send
// connection on first use.
func (c *Client) Publish(ctx context.Context, kind webrtc.RTPCodecType) error {
	return c.call(ctx, func() error {
		if !c.connected {
			return ErrNotConnected
		}

		track, err := c.source.Track(kind)
		if err != nil {
			return fmt.Errorf("get %s track: %w", kind, err)
		}

		if c.send == nil {
			conn, err := c.newConnection(negotiation.RoleSend, c.participantID)
			if err != nil {
				return err
			}
			c.send = conn
		}

		if err := c.send.AddSendTrack(track); err != nil {
			// an earlier offer for this track failed, offer again
			if !errors.Is(err, negotiation.ErrAlreadySending) || !c.send.NegotiationNeeded() {
				return err
			}
			c.log.Info("retrying negotiation", "kind", kind.String())
		}
		return c.send.Negotiate()
	})
}

// CollectStats builds one report per connection, send connection first
func (c *Client) CollectStats(ctx context.Context) ([]stats.Report, error) {
	var reports []stats.Report
	err := c.call(ctx, func() error {
		for _, conn := range c.connections() {
			meta := stats.Meta{
				FromParticipantID:       c.participantID,
				SessionID:               c.sessionID,
				AssociatedParticipantID: conn.ParticipantID(),
			}
			reports = append(reports, stats.Build(conn.Stats(), meta))
		}
		return nil
	})
	return reports, err
}

// RequestKeyframe asks the sender of ssrc on participantID's connection for
// a keyframe.
func (c *Client) RequestKeyframe(ctx context.Context, participantID int, ssrc uint32) error {
	return c.call(ctx, func() error {
		conn, ok := c.recv[participantID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownParticipant, participantID)
		}
		return conn.RequestKeyframe(ssrc)
	})
}

// Status returns a snapshot of the session
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.call(ctx, func() error {
		s = Status{
			ClientID:      c.id,
			Connected:     c.connected,
			SessionID:     c.sessionID,
			ParticipantID: c.participantID,
			Receivers:     []ConnectionStatus{},
		}
		if c.send != nil {
			cs := connectionStatus(c.send)
			s.Sender = &cs
		}
		for _, conn := range c.connections() {
			if conn.Role() == negotiation.RoleRecv {
				s.Receivers = append(s.Receivers, connectionStatus(conn))
			}
		}
		return nil
	})
	return s, err
}

// connections lists the send connection, then receivers by participant id
func (c *Client) connections() []*negotiation.Connection {
	var out []*negotiation.Connection
	if c.send != nil {
		out = append(out, c.send)
	}

	ids := make([]int, 0, len(c.recv))
	for id := range c.recv {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, c.recv[id])
	}
	return out
}

func (c *Client) newConnection(role negotiation.Role, participantID int) (*negotiation.Connection, error) {
	pc, err := c.factory.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create %s connection for participant %d: %w", role, participantID, err)
	}

	conn, err := negotiation.New(role, participantID, pc, negotiation.Options{
		Codecs:          c.opts.Codecs,
		LimitIP:         c.opts.LimitIP,
		ScalabilityMode: c.opts.ScalabilityMode,
		Dispatch:        c.post,
		Logger:          c.log,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}
	conn.OnLocalDescription = func(desc webrtc.SessionDescription) {
		c.signalLocal(participantID, desc)
	}
	conn.OnTrack = c.handleTrack

	c.log.Info("created connection", "role", role.String(), "participant_id", participantID)
	return conn, nil
}

func (c *Client) handleConnected(sessionID, participantID int) {
	c.connected = true
	c.sessionID = sessionID
	c.participantID = participantID

	if c.OnConnected != nil {
		c.OnConnected(sessionID, participantID)
	}
}

func (c *Client) handleDisconnected() {
	c.connected = false
	c.stopAll()

	if c.OnDisconnected != nil {
		c.OnDisconnected()
	}
}

func (c *Client) stopAll() {
	for _, conn := range c.connections() {
		conn.Stop()
	}
	c.send = nil
	c.recv = make(map[int]*negotiation.Connection)
}

func (c *Client) handleOffer(m signaling.OfferMessage) {
	c.notifyDescription(Remote, m.ParticipantID, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP})

	var conn *negotiation.Connection
	if m.ParticipantID == c.participantID {
		if c.send == nil {
			c.log.Error("dropping offer", "participant_id", m.ParticipantID, "error", ErrNoSendConnection)
			return
		}
		conn = c.send
	} else {
		existing, ok := c.recv[m.ParticipantID]
		if !ok {
			created, err := c.newConnection(negotiation.RoleRecv, m.ParticipantID)
			if err != nil {
				c.log.Error("dropping offer", "participant_id", m.ParticipantID, "error", err)
				return
			}
			c.recv[m.ParticipantID] = created
			existing = created
		}
		conn = existing
	}

	if err := conn.HandleRemoteOffer(m.SDP); err != nil {
		c.log.Error("failed to handle remote offer", "participant_id", m.ParticipantID, "error", err)
	}
}

func (c *Client) handleAnswer(m signaling.AnswerMessage) {
	c.notifyDescription(Remote, m.ParticipantID, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP})

	if c.send == nil {
		c.log.Error("dropping answer", "participant_id", m.ParticipantID, "error", ErrNoSendConnection)
		return
	}
	if err := c.send.HandleRemoteAnswer(m.SDP); err != nil {
		c.log.Error("failed to handle remote answer", "participant_id", m.ParticipantID, "error", err)
	}
}

func (c *Client) signalLocal(participantID int, desc webrtc.SessionDescription) {
	c.notifyDescription(Local, participantID, desc)

	if err := sdp.Validate(desc.SDP); err != nil {
		c.log.Warn("local description failed validation", "participant_id", participantID, "error", err)
	}

	var err error
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		err = c.ch.SendOffer(desc.SDP)
	case webrtc.SDPTypeAnswer:
		err = c.ch.SendAnswer(desc.SDP)
	default:
		err = fmt.Errorf("unexpected description type %s", desc.Type)
	}
	if err != nil {
		c.log.Error("failed to signal local description", "participant_id", participantID, "error", err)
	}
}

func (c *Client) notifyDescription(origin Origin, participantID int, desc webrtc.SessionDescription) {
	if c.log.Enabled(logger.DebugSDP) {
		c.log.DebugSDP("session description", "origin", origin, "participant_id", participantID,
			"type", desc.Type.String(), "summary", sdp.Parse(desc.SDP).Summary())
	}
	if c.OnSessionDescription != nil {
		c.OnSessionDescription(origin, participantID, desc)
	}
}

func (c *Client) handleTrack(participantID int, track negotiation.RemoteTrack) {
	if c.OnTrack == nil {
		c.log.Warn("no track receiver", "participant_id", participantID)
		return
	}
	c.OnTrack(participantID, track)
}
