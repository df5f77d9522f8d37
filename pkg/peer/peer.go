// Package peer provides the pion-backed peer connections driven by the
// negotiation package.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/sdp"
)

// ErrScalabilityModeUnsupported is returned by SetScalabilityMode; the
// engine has no API to update encoding parameters after negotiation.
var ErrScalabilityModeUnsupported = errors.New("scalability mode not supported by engine")

const candidatePoolSize = 8

// Options configures a Factory
type Options struct {
	// STUNURL is a stun: URI. Empty disables server reflexive candidates.
	STUNURL string
	// LimitIP restricts gathered host candidates to addresses containing it
	LimitIP string
	Logger  *logger.Logger
}

// Factory creates pion peer connections sharing one API instance
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	codecs map[webrtc.RTPCodecType][]webrtc.RTPCodecParameters
	log    *logger.Logger
}

// NewFactory builds the media engine, interceptors and settings used by
// every peer connection.
func NewFactory(opts Options) (*Factory, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "peer")

	codecs := defaultCodecs()

	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m, codecs); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{}
	s.LoggerFactory = logger.NewPionFactory(log)
	if limit := opts.LimitIP; limit != "" {
		s.SetIPFilter(func(ip net.IP) bool {
			return strings.Contains(ip.String(), limit)
		})
		log.Info("restricting gathered candidates", "limit_ip", limit)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	)

	config := webrtc.Configuration{
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
		ICECandidatePoolSize: candidatePoolSize,
	}

	if opts.STUNURL != "" {
		uri, err := stun.ParseURI(opts.STUNURL)
		if err != nil {
			return nil, fmt.Errorf("parse stun url %q: %w", opts.STUNURL, err)
		}
		config.ICEServers = []webrtc.ICEServer{{URLs: []string{uri.String()}}}
	}

	return &Factory{
		api:    api,
		config: config,
		codecs: codecs,
		log:    log,
	}, nil
}

// NewPeerConnection implements negotiation.Factory
func (f *Factory) NewPeerConnection() (negotiation.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PeerConnection{
		pc:     pc,
		codecs: f.codecs,
		log:    f.log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// PeerConnection adapts *webrtc.PeerConnection to negotiation.PeerConnection
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	codecs map[webrtc.RTPCodecType][]webrtc.RTPCodecParameters
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// candidate-filtered copy of the pending offer
	filtered *webrtc.SessionDescription
}

// AddSendTrack adds a send-only transceiver for track
func (p *PeerConnection) AddSendTrack(track webrtc.TrackLocal, codecs []webrtc.RTPCodecParameters) error {
	tr, err := p.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add transceiver: %w", err)
	}

	if len(codecs) > 0 {
		if err := tr.SetCodecPreferences(codecs); err != nil {
			return fmt.Errorf("set codec preferences: %w", err)
		}
	}

	if sender := tr.Sender(); sender != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.readRTCP(sender, track.Kind().String())
		}()
	}

	return nil
}

// Codecs returns the registered codecs for kind
func (p *PeerConnection) Codecs(kind webrtc.RTPCodecType) []webrtc.RTPCodecParameters {
	return append([]webrtc.RTPCodecParameters(nil), p.codecs[kind]...)
}

func (p *PeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(options)
}

func (p *PeerConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(options)
}

// SetLocalDescription applies desc. The engine only accepts the offer it
// generated, so re-applying the pending offer with candidate lines removed
// is recorded here and reported by LocalDescription instead. With LimitIP
// set the engine never gathers excluded host addresses, so this only
// covers server reflexive and relay lines.
func (p *PeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if desc.Type == webrtc.SDPTypeOffer && p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if cur := p.pc.LocalDescription(); cur != nil && sameExceptCandidates(cur.SDP, desc.SDP) {
			p.mu.Lock()
			p.filtered = &desc
			p.mu.Unlock()
			p.log.DebugSDP("recorded candidate-filtered offer", "candidates", sdp.CountCandidates(desc.SDP))
			return nil
		}
	}

	p.mu.Lock()
	p.filtered = nil
	p.mu.Unlock()

	return p.pc.SetLocalDescription(desc)
}

func (p *PeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	filtered := p.filtered
	p.mu.Unlock()

	if filtered != nil && p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		desc := *filtered
		return &desc
	}
	return p.pc.LocalDescription()
}

func (p *PeerConnection) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *PeerConnection) ICEGatheringState() webrtc.ICEGatheringState {
	return p.pc.ICEGatheringState()
}

// SetScalabilityMode always fails with ErrScalabilityModeUnsupported
func (p *PeerConnection) SetScalabilityMode(mode string) error {
	return fmt.Errorf("%w: %s", ErrScalabilityModeUnsupported, mode)
}

func (p *PeerConnection) GetStats() webrtc.StatsReport {
	return p.pc.GetStats()
}

func (p *PeerConnection) WriteRTCP(pkts []rtcp.Packet) error {
	return p.pc.WriteRTCP(pkts)
}

func (p *PeerConnection) OnSignalingStateChange(f func(webrtc.SignalingState)) {
	p.pc.OnSignalingStateChange(f)
}

func (p *PeerConnection) OnICEGatheringStateChange(f func(webrtc.ICEGatheringState)) {
	p.pc.OnICEGatheringStateChange(f)
}

func (p *PeerConnection) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(f)
}

func (p *PeerConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(f)
}

func (p *PeerConnection) OnTrack(f func(negotiation.RemoteTrack)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(t)
	})
}

// Close stops the RTCP readers and closes the peer connection
func (p *PeerConnection) Close() error {
	p.cancel()
	err := p.pc.Close()
	p.wg.Wait()
	return err
}

// readRTCP drains feedback for one sender until the connection closes
func (p *PeerConnection) readRTCP(sender *webrtc.RTPSender, kind string) {
	log := p.log.With("track", kind)
	log.DebugWebRTC("rtcp reader started")

	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			select {
			case <-p.ctx.Done():
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					log.Warn("rtcp read error", "error", err)
				}
			}
			log.DebugWebRTC("rtcp reader stopped")
			return
		}

		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				log.DebugWebRTC("PLI received", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				log.DebugWebRTC("FIR received", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				log.DebugStats("REMB received", "bitrate_bps", pkt.Bitrate)
			case *rtcp.ReceiverReport:
				log.DebugStats("RR received", "ssrc", pkt.SSRC, "reports", len(pkt.Reports))
			}
		}
	}
}

// sameExceptCandidates reports whether a and b differ only in their
// candidate lines.
func sameExceptCandidates(a, b string) bool {
	return withoutCandidates(a) == withoutCandidates(b)
}

func withoutCandidates(text string) string {
	desc := sdp.Parse(text)
	for _, m := range desc.MediaDescriptions {
		m.Candidates = nil
	}
	return desc.String()
}
