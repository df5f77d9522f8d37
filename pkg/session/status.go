package session

import "github.com/ethan/sfu-client/pkg/negotiation"

// Status is a snapshot of a Client
type Status struct {
	ClientID      string             `json:"client_id"`
	Connected     bool               `json:"connected"`
	SessionID     int                `json:"session_id"`
	ParticipantID int                `json:"participant_id"`
	Sender        *ConnectionStatus  `json:"sender,omitempty"`
	Receivers     []ConnectionStatus `json:"receivers"`
}

// ConnectionStatus describes one connection
type ConnectionStatus struct {
	ParticipantID int    `json:"participant_id"`
	Role          string `json:"role"`
	State         string `json:"state"`
	Signaling     string `json:"signaling_state"`
	Video         bool   `json:"video"`
	Audio         bool   `json:"audio"`
}

func connectionStatus(conn *negotiation.Connection) ConnectionStatus {
	return ConnectionStatus{
		ParticipantID: conn.ParticipantID(),
		Role:          conn.Role().String(),
		State:         conn.State().String(),
		Signaling:     conn.SignalingState().String(),
		Video:         conn.VideoActive(),
		Audio:         conn.AudioActive(),
	}
}
