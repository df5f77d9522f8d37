// Package stats condenses engine statistics into per-connection reports
// and ships them to a telemetry collector.
package stats

import (
	"sort"

	"github.com/pion/webrtc/v4"
)

// Meta identifies the connection a report belongs to
type Meta struct {
	FromParticipantID       int `json:"fromParticipantId"`
	SessionID               int `json:"meetingId"`
	AssociatedParticipantID int `json:"associatedParticipantId"`
}

// Report is the transport and RTP state of one connection
type Report struct {
	Meta            Meta                            `json:"meta"`
	LocalCandidate  *webrtc.ICECandidateStats       `json:"localCandidate,omitempty"`
	RemoteCandidate *webrtc.ICECandidateStats       `json:"remoteCandidate,omitempty"`
	CandidatePair   *webrtc.ICECandidatePairStats   `json:"candidatePair,omitempty"`
	OutboundRTP     []webrtc.OutboundRTPStreamStats `json:"outboundRTP"`
	InboundRTP      []webrtc.InboundRTPStreamStats  `json:"inboundRTP"`
}

// Build extracts the succeeded candidate pair, its two candidates and all
// RTP stream stats from report.
func Build(report webrtc.StatsReport, meta Meta) Report {
	r := Report{
		Meta:        meta,
		OutboundRTP: []webrtc.OutboundRTPStreamStats{},
		InboundRTP:  []webrtc.InboundRTPStreamStats{},
	}

	for _, s := range report {
		switch st := s.(type) {
		case webrtc.ICECandidatePairStats:
			if st.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			if r.CandidatePair == nil || preferPair(st, *r.CandidatePair) {
				pair := st
				r.CandidatePair = &pair
			}
		case webrtc.InboundRTPStreamStats:
			r.InboundRTP = append(r.InboundRTP, st)
		case webrtc.OutboundRTPStreamStats:
			r.OutboundRTP = append(r.OutboundRTP, st)
		}
	}

	if r.CandidatePair != nil {
		for _, s := range report {
			st, ok := s.(webrtc.ICECandidateStats)
			if !ok {
				continue
			}
			c := st
			switch {
			case st.Type == webrtc.StatsTypeLocalCandidate && st.ID == r.CandidatePair.LocalCandidateID:
				r.LocalCandidate = &c
			case st.Type == webrtc.StatsTypeRemoteCandidate && st.ID == r.CandidatePair.RemoteCandidateID:
				r.RemoteCandidate = &c
			}
		}
	}

	sort.Slice(r.InboundRTP, func(i, j int) bool { return r.InboundRTP[i].ID < r.InboundRTP[j].ID })
	sort.Slice(r.OutboundRTP, func(i, j int) bool { return r.OutboundRTP[i].ID < r.OutboundRTP[j].ID })

	return r
}

// preferPair orders succeeded pairs: nominated first, then by id
func preferPair(a, b webrtc.ICECandidatePairStats) bool {
	if a.Nominated != b.Nominated {
		return a.Nominated
	}
	return a.ID < b.ID
}
