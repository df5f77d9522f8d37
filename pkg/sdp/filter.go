package sdp

import (
	"fmt"
	"strings"

	pionsdp "github.com/pion/sdp/v3"
)

const candidatePrefix = "a=candidate:"

// FilterCandidates drops every a=candidate line of text that does not
// contain allow. All other lines pass through untouched, including their
// CRLF framing. An empty allow returns text unchanged. The dropped lines are
// returned for logging.
func FilterCandidates(text, allow string) (string, []string) {
	if allow == "" {
		return text, nil
	}

	lines := strings.Split(text, "\r\n")
	kept := make([]string, 0, len(lines))
	var dropped []string

	for _, line := range lines {
		if strings.HasPrefix(line, candidatePrefix) && !strings.Contains(line, allow) {
			dropped = append(dropped, line)
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\r\n"), dropped
}

// CountCandidates returns the number of a=candidate lines in text
func CountCandidates(text string) int {
	n := 0
	for _, line := range splitLines(text) {
		if strings.HasPrefix(line, candidatePrefix) {
			n++
		}
	}
	return n
}

// Validate checks that text is a well-formed session description as far as
// the WebRTC engine's own parser is concerned.
func Validate(text string) error {
	var desc pionsdp.SessionDescription
	if err := desc.Unmarshal([]byte(text)); err != nil {
		return fmt.Errorf("invalid session description: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return fmt.Errorf("invalid session description: no media sections")
	}
	return nil
}
