// Package signaling implements the client side of the SFU controller's
// JSON signaling protocol.
package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ethan/sfu-client/pkg/logger"
)

// maxBufferSize bounds the bytes held while waiting for a message to complete
const maxBufferSize = 1 << 20

// Transport is a persistent message based connection to the controller
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Channel speaks the hello/offer/answer protocol over a Transport.
//
// Callbacks run on the goroutine that calls Run and must not block for long.
type Channel struct {
	transport Transport
	sessionID int
	log       *logger.Logger

	established   atomic.Bool
	participantID atomic.Int64
	writeMu       sync.Mutex

	// owned by the read loop
	buf []byte

	OnConnected    func(sessionID, participantID int)
	OnDisconnected func()
	OnOffer        func(OfferMessage)
	OnAnswer       func(AnswerMessage)
}

// NewChannel creates a channel for sessionID on top of t
func NewChannel(t Transport, sessionID int, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Default()
	}
	return &Channel{
		transport: t,
		sessionID: sessionID,
		log:       log.With("component", "signaling", "session_id", sessionID),
	}
}

// SessionID returns the signaling session id
func (c *Channel) SessionID() int {
	return c.sessionID
}

// ParticipantID returns the id assigned by the controller, or 0 before hello
func (c *Channel) ParticipantID() int {
	return int(c.participantID.Load())
}

// Established reports whether the controller has answered hello
func (c *Channel) Established() bool {
	return c.established.Load()
}

// Run sends hello and reads messages until the transport fails or ctx is
// cancelled. OnDisconnected is called once the read loop ends.
func (c *Channel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		c.transport.Close()
	}()

	if err := c.SendHello(); err != nil {
		return err
	}

	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.established.Store(false)
			c.log.Info("signaling connection closed", "error", err)

			if c.OnDisconnected != nil {
				c.OnDisconnected()
			}

			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read signaling message: %w", err)
		}

		c.receive(data)
	}
}

// Close closes the underlying transport
func (c *Channel) Close() error {
	return c.transport.Close()
}

// SendHello announces the session id to the controller
func (c *Channel) SendHello() error {
	if err := c.send(TypeHello, HelloRequest{SessionID: c.sessionID}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	c.log.Info("sent hello")
	return nil
}

// SendOffer sends a local offer. It fails with ErrNotEstablished before the
// controller has answered hello.
func (c *Channel) SendOffer(sdp string) error {
	return c.sendDescription(TypeOffer, OfferMessage{SDP: sdp, ParticipantID: c.ParticipantID()})
}

// SendAnswer sends a local answer. It fails with ErrNotEstablished before
// the controller has answered hello.
func (c *Channel) SendAnswer(sdp string) error {
	return c.sendDescription(TypeAnswer, AnswerMessage{SDP: sdp, ParticipantID: c.ParticipantID()})
}

func (c *Channel) sendDescription(t Type, msg any) error {
	if !c.Established() {
		c.log.Error("cannot send message, connection is not established", "type", t)
		return fmt.Errorf("send %s: %w", t, ErrNotEstablished)
	}

	if err := c.send(t, msg); err != nil {
		c.log.Error("failed to send message", "type", t, "error", err)
		return fmt.Errorf("send %s: %w", t, err)
	}

	c.log.DebugSignaling("sent message", "type", t)
	return nil
}

func (c *Channel) send(t Type, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s data: %w", t, err)
	}

	frame, err := json.Marshal(Envelope{Type: t, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", t, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.transport.WriteMessage(frame)
}

// receive appends a fragment to the buffer and dispatches every complete
// JSON value it now holds, in order. An incomplete value stays buffered.
func (c *Channel) receive(fragment []byte) {
	c.buf = append(c.buf, fragment...)
	c.log.DebugSignaling("buffered fragment", "bytes", len(fragment), "buffered", len(c.buf))

	for len(c.buf) > 0 {
		dec := json.NewDecoder(bytes.NewReader(c.buf))

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			var syntaxErr *json.SyntaxError
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				if len(c.buf) > maxBufferSize {
					c.log.Error("signaling buffer overflow, discarding", "buffered", len(c.buf))
					c.buf = nil
				}
			case errors.As(err, &syntaxErr):
				c.log.Error("discarding unparseable signaling data", "buffered", len(c.buf), "error", err)
				c.buf = nil
			default:
				c.log.Error("signaling decode failed", "error", err)
				c.buf = nil
			}
			return
		}

		rest := bytes.TrimLeft(c.buf[dec.InputOffset():], " \t\r\n")
		c.buf = append([]byte(nil), rest...)

		c.dispatch(raw)
	}
}

func (c *Channel) dispatch(raw json.RawMessage) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Error("dropping message", "error", fmt.Errorf("%w: %v", ErrMalformedMessage, err))
		return
	}

	c.log.DebugSignaling("received message", "type", env.Type, "bytes", len(raw))

	switch env.Type {
	case TypeHello:
		c.handleHello(env.Data)
	case TypeOffer:
		sdp, pid, err := decodeDescription(env.Data)
		if err != nil {
			c.log.Error("dropping offer", "error", err)
			return
		}
		if c.OnOffer == nil {
			c.log.Warn("no offer receiver")
			return
		}
		c.OnOffer(OfferMessage{SDP: sdp, ParticipantID: pid})
	case TypeAnswer:
		sdp, pid, err := decodeDescription(env.Data)
		if err != nil {
			c.log.Error("dropping answer", "error", err)
			return
		}
		if c.OnAnswer == nil {
			c.log.Warn("no answer receiver")
			return
		}
		c.OnAnswer(AnswerMessage{SDP: sdp, ParticipantID: pid})
	default:
		c.log.Warn("ignoring unknown message type", "type", env.Type)
	}
}

func (c *Channel) handleHello(data json.RawMessage) {
	var hello helloPayload
	if err := json.Unmarshal(data, &hello); err != nil || hello.ParticipantID == nil {
		c.log.Error("dropping hello", "error", fmt.Errorf("%w: no participant id", ErrMalformedMessage))
		return
	}

	c.participantID.Store(int64(*hello.ParticipantID))
	c.established.Store(true)

	c.log.Info("connected to controller", "participant_id", *hello.ParticipantID)

	if c.OnConnected != nil {
		c.OnConnected(c.sessionID, *hello.ParticipantID)
	}
}

func decodeDescription(data json.RawMessage) (string, int, error) {
	var p descriptionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if p.SDP == nil {
		return "", 0, fmt.Errorf("%w: missing sdp", ErrMalformedMessage)
	}
	if p.ParticipantID == nil {
		return "", 0, fmt.Errorf("%w: missing participant_id", ErrMalformedMessage)
	}
	return *p.SDP, *p.ParticipantID, nil
}
