package sdp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	mLineRegex     = regexp.MustCompile(`^m=(audio|video) ([0-9]{1,5}) ([A-Za-z/]+) ([0-9]{1,3}(?: [0-9]{1,3})*)$`)
	cLineRegex     = regexp.MustCompile(`^c=IN IP[46] \S+$`)
	candidateRegex = regexp.MustCompile(`^a=candidate:([0-9A-Za-z/+]+) ([0-9]{1,3}) ((?i:udp|tcp)) ([0-9]+) (\S+) ([0-9]{1,5}) typ (host|srflx|prflx|relay)(?: (.*))?$`)
	ufragRegex     = regexp.MustCompile(`^a=ice-ufrag:([0-9A-Za-z/+]+)$`)
	pwdRegex       = regexp.MustCompile(`^a=ice-pwd:([0-9A-Za-z/+]+)$`)
	directionRegex = regexp.MustCompile(`^a=(sendrecv|sendonly|recvonly|inactive)$`)
	midRegex       = regexp.MustCompile(`^a=mid:(\S+)$`)
)

// MLine is the parsed m= line of a section
type MLine struct {
	Type         MediaType
	Port         int
	Protocols    string
	PayloadTypes []int
}

// String renders the m= line
func (m *MLine) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "m=%s %d %s", m.Type, m.Port, m.Protocols)
	for _, pt := range m.PayloadTypes {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(pt))
	}
	return b.String()
}

// ICECandidate is one a=candidate line. Extensions holds everything after
// the candidate type (generation, tcptype, network-id, ...) verbatim.
type ICECandidate struct {
	Foundation  string
	ComponentID int
	Protocol    string
	Priority    uint32
	Address     string
	Port        int
	Type        string
	Extensions  string

	// line the candidate was parsed from
	raw string
}

// String renders the a=candidate line. A parsed candidate whose fields are
// unchanged renders as its source line, byte for byte.
func (c ICECandidate) String() string {
	if c.raw != "" {
		if match := candidateRegex.FindStringSubmatch(c.raw); match != nil {
			if orig, ok := parseCandidate(c.raw, match); ok && orig == c {
				return c.raw
			}
		}
	}

	line := fmt.Sprintf("a=candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.ComponentID, c.Protocol, c.Priority, c.Address, c.Port, c.Type)
	if c.Extensions != "" {
		line += " " + c.Extensions
	}
	return line
}

// MediaDescription is one m= section. The structured fields are always
// emitted at fixed positions; every line the parser does not lift into a
// field is kept in encounter order.
type MediaDescription struct {
	MLine      *MLine
	Connection string
	Candidates []ICECandidate
	ICEUfrag   string
	ICEPwd     string
	Direction  Direction
	MID        string

	// At most one of SSRC and SSRCGroup is set.
	SSRC      *SSRC
	SSRCGroup *SSRCGroup

	rawMLine   string
	attributes []string
	ssrcLines  []string
}

type lineKind int

const (
	kindMedia lineKind = iota
	kindConnection
	kindCandidate
	kindUfrag
	kindPwd
	kindDirection
	kindMID
	kindSSRC
	kindOther
)

// classify assigns a line to the first matching line family, in priority order
func classify(line string) (lineKind, []string) {
	if m := mLineRegex.FindStringSubmatch(line); m != nil {
		return kindMedia, m
	}
	if cLineRegex.MatchString(line) {
		return kindConnection, nil
	}
	if m := candidateRegex.FindStringSubmatch(line); m != nil {
		return kindCandidate, m
	}
	if m := ufragRegex.FindStringSubmatch(line); m != nil {
		return kindUfrag, m
	}
	if m := pwdRegex.FindStringSubmatch(line); m != nil {
		return kindPwd, m
	}
	if m := directionRegex.FindStringSubmatch(line); m != nil {
		return kindDirection, m
	}
	if m := midRegex.FindStringSubmatch(line); m != nil {
		return kindMID, m
	}
	if strings.HasPrefix(line, "a=ssrc") {
		return kindSSRC, nil
	}
	return kindOther, nil
}

// ParseMedia parses the lines of a single m= section. The first line is
// expected to be the m= line; a line that cannot be parsed as an audio or
// video m= line is kept verbatim at the head of the section.
func ParseMedia(lines []string) *MediaDescription {
	m := &MediaDescription{}
	var ssrcLines []string

	for i, line := range lines {
		kind, match := classify(line)

		switch kind {
		case kindMedia:
			if m.MLine == nil && m.rawMLine == "" {
				m.MLine = parseMLine(match)
				continue
			}
		case kindConnection:
			if m.Connection == "" {
				m.Connection = line
				continue
			}
		case kindCandidate:
			if c, ok := parseCandidate(line, match); ok {
				m.Candidates = append(m.Candidates, c)
				continue
			}
		case kindUfrag:
			if m.ICEUfrag == "" {
				m.ICEUfrag = match[1]
				continue
			}
		case kindPwd:
			if m.ICEPwd == "" {
				m.ICEPwd = match[1]
				continue
			}
		case kindDirection:
			if m.Direction == "" {
				m.Direction = Direction(match[1])
				continue
			}
		case kindMID:
			if m.MID == "" {
				m.MID = match[1]
				continue
			}
		case kindSSRC:
			ssrcLines = append(ssrcLines, line)
			continue
		}

		if i == 0 && m.MLine == nil && strings.HasPrefix(line, "m=") {
			m.rawMLine = line
			continue
		}

		m.attributes = append(m.attributes, line)
	}

	if m.Direction.Sends() {
		m.SSRC, m.SSRCGroup, m.ssrcLines = parseSSRCLines(ssrcLines)
	} else {
		m.ssrcLines = ssrcLines
	}

	return m
}

func parseMLine(match []string) *MLine {
	port, _ := strconv.Atoi(match[2])

	fields := strings.Fields(match[4])
	pts := make([]int, 0, len(fields))
	for _, f := range fields {
		pt, _ := strconv.Atoi(f)
		pts = append(pts, pt)
	}

	return &MLine{
		Type:         MediaType(match[1]),
		Port:         port,
		Protocols:    match[3],
		PayloadTypes: pts,
	}
}

func parseCandidate(line string, match []string) (ICECandidate, bool) {
	component, err := strconv.Atoi(match[2])
	if err != nil {
		return ICECandidate{}, false
	}
	priority, err := strconv.ParseUint(match[4], 10, 32)
	if err != nil {
		return ICECandidate{}, false
	}
	port, err := strconv.Atoi(match[6])
	if err != nil {
		return ICECandidate{}, false
	}

	return ICECandidate{
		Foundation:  match[1],
		ComponentID: component,
		Protocol:    match[3],
		Priority:    uint32(priority),
		Address:     match[5],
		Port:        port,
		Type:        match[7],
		Extensions:  match[8],
		raw:         line,
	}, true
}

// Attributes returns the attribute lines that are not lifted into fields
func (m *MediaDescription) Attributes() []string {
	out := make([]string, len(m.attributes))
	copy(out, m.attributes)
	return out
}

// AddAttribute appends a line to the opaque attribute block
func (m *MediaDescription) AddAttribute(line string) {
	m.attributes = append(m.attributes, line)
}

// Lines returns the section in canonical order: m=, c=, candidates, ufrag,
// pwd, direction, mid, other attributes, then SSRC lines.
func (m *MediaDescription) Lines() []string {
	lines := make([]string, 0, 8+len(m.Candidates)+len(m.attributes)+len(m.ssrcLines))

	if m.MLine != nil {
		lines = append(lines, m.MLine.String())
	} else if m.rawMLine != "" {
		lines = append(lines, m.rawMLine)
	}

	if m.Connection != "" {
		lines = append(lines, m.Connection)
	}

	for _, c := range m.Candidates {
		lines = append(lines, c.String())
	}

	if m.ICEUfrag != "" {
		lines = append(lines, "a=ice-ufrag:"+m.ICEUfrag)
	}
	if m.ICEPwd != "" {
		lines = append(lines, "a=ice-pwd:"+m.ICEPwd)
	}
	if m.Direction != "" {
		lines = append(lines, "a="+string(m.Direction))
	}
	if m.MID != "" {
		lines = append(lines, "a=mid:"+m.MID)
	}

	lines = append(lines, m.attributes...)
	lines = append(lines, m.ssrcAttributeLines()...)
	lines = append(lines, m.ssrcLines...)

	return lines
}

// Summary returns "<mid> <type> <direction> <port> <proto>" followed by one
// line per candidate and one for the SSRC data.
func (m *MediaDescription) Summary() string {
	var b strings.Builder

	if m.MLine != nil {
		fmt.Fprintf(&b, "%s %s %s %d %s\n",
			m.MID, m.MLine.Type, m.Direction, m.MLine.Port, strings.ToLower(m.MLine.Protocols))
	} else {
		fmt.Fprintf(&b, "%s %s %s\n", m.MID, m.rawMLine, m.Direction)
	}

	for _, c := range m.Candidates {
		fmt.Fprintf(&b, " - ice: %s:%d/%s %s %d\n", c.Address, c.Port, c.Protocol, c.Type, c.Priority)
	}

	switch {
	case m.SSRC != nil:
		fmt.Fprintf(&b, " - ssrc: %d\n", m.SSRC.ID)
	case m.SSRCGroup != nil:
		ids := make([]string, 0, len(m.SSRCGroup.SSRCs))
		for _, s := range m.SSRCGroup.SSRCs {
			ids = append(ids, strconv.FormatUint(uint64(s.ID), 10))
		}
		fmt.Fprintf(&b, " - ssrcs: %s\n", strings.Join(ids, " "))
	}

	return b.String()
}
