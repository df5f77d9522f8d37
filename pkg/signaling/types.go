package signaling

import (
	"encoding/json"
	"errors"
)

// Type identifies a signaling message
type Type string

const (
	TypeHello  Type = "hello"
	TypeOffer  Type = "offer"
	TypeAnswer Type = "answer"
)

// Envelope is the JSON frame every message travels in
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HelloRequest is sent by the client once the connection is open
type HelloRequest struct {
	SessionID int `json:"session_id"`
}

// HelloResponse assigns the client its participant id
type HelloResponse struct {
	ParticipantID int `json:"participant_id"`
}

// OfferMessage carries an SDP offer
type OfferMessage struct {
	SDP           string `json:"sdp"`
	ParticipantID int    `json:"participant_id"`
}

// AnswerMessage carries an SDP answer
type AnswerMessage struct {
	SDP           string `json:"sdp"`
	ParticipantID int    `json:"participant_id"`
}

// descriptionPayload detects missing keys in offer and answer data
type descriptionPayload struct {
	SDP           *string `json:"sdp"`
	ParticipantID *int    `json:"participant_id"`
}

type helloPayload struct {
	ParticipantID *int `json:"participant_id"`
}

var (
	// ErrNotEstablished is returned when an offer or answer is sent before
	// the controller has answered hello
	ErrNotEstablished = errors.New("signaling channel not established")
	// ErrMalformedMessage is reported for messages missing required fields
	ErrMalformedMessage = errors.New("malformed signaling message")
)
