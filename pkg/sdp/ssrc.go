package sdp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ssrcGroupRegex = regexp.MustCompile(`^a=ssrc-group:(FID|FEC) ([0-9]+(?: [0-9]+)+)$`)
	ssrcAttrRegex  = regexp.MustCompile(`^a=ssrc:([0-9]+) (msid|cname):(.+)$`)
)

// SSRC is a synchronization source with its cname and msid attributes
type SSRC struct {
	ID    uint32
	CNAME string
	MSID  string
}

// SSRCGroup pairs a primary SSRC with its redundancy streams
type SSRCGroup struct {
	Semantics string
	SSRCs     []SSRC
}

// IDs returns the member ids in group order
func (g *SSRCGroup) IDs() []uint32 {
	ids := make([]uint32, len(g.SSRCs))
	for i, s := range g.SSRCs {
		ids[i] = s.ID
	}
	return ids
}

func (g *SSRCGroup) member(id uint32) *SSRC {
	for i := range g.SSRCs {
		if g.SSRCs[i].ID == id {
			return &g.SSRCs[i]
		}
	}
	return nil
}

// parseSSRCLines lifts the first FID/FEC group, or else the first ungrouped
// SSRC, out of the a=ssrc* lines of a section. Lines that do not contribute
// to the resulting structure are returned unchanged in input order.
func parseSSRCLines(lines []string) (*SSRC, *SSRCGroup, []string) {
	consumed := make([]bool, len(lines))

	var group *SSRCGroup
	for i, line := range lines {
		m := ssrcGroupRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		g := &SSRCGroup{Semantics: m[1]}
		for _, f := range strings.Fields(m[2]) {
			id, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				g = nil
				break
			}
			g.SSRCs = append(g.SSRCs, SSRC{ID: uint32(id)})
		}
		if g == nil {
			continue
		}

		group = g
		consumed[i] = true
		break
	}

	var single *SSRC
	for i, line := range lines {
		m := ssrcAttrRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id64, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		id := uint32(id64)

		var target *SSRC
		if group != nil {
			target = group.member(id)
		} else {
			if single == nil {
				single = &SSRC{ID: id}
			}
			if single.ID == id {
				target = single
			}
		}
		if target == nil {
			continue
		}

		consumed[i] = target.set(m[2], m[3])
	}

	var rest []string
	for i, line := range lines {
		if !consumed[i] {
			rest = append(rest, line)
		}
	}

	return single, group, rest
}

// set assigns an attribute once; a repeated attribute is rejected
func (s *SSRC) set(key, value string) bool {
	switch key {
	case "cname":
		if s.CNAME != "" {
			return false
		}
		s.CNAME = value
	case "msid":
		if s.MSID != "" {
			return false
		}
		s.MSID = value
	default:
		return false
	}
	return true
}

func (s *SSRC) lines() []string {
	var lines []string
	if s.CNAME != "" {
		lines = append(lines, fmt.Sprintf("a=ssrc:%d cname:%s", s.ID, s.CNAME))
	}
	if s.MSID != "" {
		lines = append(lines, fmt.Sprintf("a=ssrc:%d msid:%s", s.ID, s.MSID))
	}
	return lines
}

func (m *MediaDescription) ssrcAttributeLines() []string {
	if m.SSRC != nil && m.SSRCGroup != nil {
		panic("sdp: media section carries both a single ssrc and an ssrc group")
	}

	if m.SSRCGroup != nil {
		semantics := m.SSRCGroup.Semantics
		if semantics == "" {
			semantics = "FID"
		}

		ids := make([]string, 0, len(m.SSRCGroup.SSRCs))
		for _, s := range m.SSRCGroup.SSRCs {
			ids = append(ids, strconv.FormatUint(uint64(s.ID), 10))
		}

		lines := []string{fmt.Sprintf("a=ssrc-group:%s %s", semantics, strings.Join(ids, " "))}
		for i := range m.SSRCGroup.SSRCs {
			lines = append(lines, m.SSRCGroup.SSRCs[i].lines()...)
		}
		return lines
	}

	if m.SSRC != nil {
		return m.SSRC.lines()
	}

	return nil
}
