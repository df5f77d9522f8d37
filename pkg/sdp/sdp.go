// Package sdp implements a structural model of session descriptions as
// exchanged with the SFU controller. A description is parsed into typed
// fields that callers may mutate, then serialized back to wire text with a
// fixed, canonical field order per media section.
package sdp

import (
	"strings"
)

// MediaType is the media kind of an m= section
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Direction is the media direction attribute of an m= section
type Direction string

const (
	SendRecv Direction = "sendrecv"
	SendOnly Direction = "sendonly"
	RecvOnly Direction = "recvonly"
	Inactive Direction = "inactive"
)

// Sends reports whether media flows outward in this direction
func (d Direction) Sends() bool {
	return d == SendRecv || d == SendOnly
}

// SessionDescription is a parsed session description. Header holds the
// session-level lines verbatim; MediaDescriptions holds one entry per m=
// section in input order.
type SessionDescription struct {
	Header            []string
	MediaDescriptions []*MediaDescription
}

// Parse splits text into its header and media sections. Lines are separated
// by CRLF, a bare LF is tolerated. Empty lines are dropped.
func Parse(text string) *SessionDescription {
	sd := &SessionDescription{}

	var section []string
	inMedia := false

	for _, line := range splitLines(text) {
		if strings.HasPrefix(line, "m=") {
			if inMedia {
				sd.MediaDescriptions = append(sd.MediaDescriptions, ParseMedia(section))
			}
			section = []string{line}
			inMedia = true
			continue
		}

		if inMedia {
			section = append(section, line)
		} else {
			sd.Header = append(sd.Header, line)
		}
	}

	if inMedia {
		sd.MediaDescriptions = append(sd.MediaDescriptions, ParseMedia(section))
	}

	return sd
}

// Lines returns the header followed by every media section in canonical order
func (sd *SessionDescription) Lines() []string {
	lines := make([]string, 0, len(sd.Header)+16*len(sd.MediaDescriptions))
	lines = append(lines, sd.Header...)

	for _, m := range sd.MediaDescriptions {
		lines = append(lines, m.Lines()...)
	}

	return lines
}

// String serializes the description as CRLF-terminated lines
func (sd *SessionDescription) String() string {
	lines := sd.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// Summary returns a short human readable overview, one block per section
func (sd *SessionDescription) Summary() string {
	var b strings.Builder
	for _, m := range sd.MediaDescriptions {
		b.WriteString(m.Summary())
		b.WriteString("\n")
	}
	return b.String()
}

// Media returns the first section of the given kind, or nil
func (sd *SessionDescription) Media(kind MediaType) *MediaDescription {
	for _, m := range sd.MediaDescriptions {
		if m.MLine != nil && m.MLine.Type == kind {
			return m
		}
	}
	return nil
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return lines
}
