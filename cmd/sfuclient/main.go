package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ethan/sfu-client/pkg/api"
	"github.com/ethan/sfu-client/pkg/config"
	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/media"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/peer"
	"github.com/ethan/sfu-client/pkg/session"
	"github.com/ethan/sfu-client/pkg/signaling"
	"github.com/ethan/sfu-client/pkg/stats"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file (default: environment only)")
	envFile := flag.String("env-file", ".env", "Path to a .env file")
	publishVideo := flag.Bool("publish-video", false, "Publish the video input once connected")
	publishAudio := flag.Bool("publish-audio", false, "Publish the audio input once connected")
	showExamples := flag.Bool("examples", false, "Show logging usage examples and exit")
	logFlags := logger.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if *showExamples {
		logger.PrintUsageExamples()
		return
	}

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging flags: %v\n", err)
		os.Exit(2)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting SFU client", "logging", logFlags.String())

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded",
		"session_id", cfg.SessionID,
		"controller", cfg.ControllerURL(),
		"stun", cfg.STUNURL(),
		"telemetry", cfg.TelemetryURL(),
		"limit_ip", cfg.LimitIP)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, *publishVideo, *publishAudio); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("client stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, publishVideo, publishAudio bool) error {
	factory, err := peer.NewFactory(peer.Options{
		STUNURL: cfg.STUNURL(),
		LimitIP: cfg.LimitIP,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("create peer factory: %w", err)
	}

	source := media.NewRTPSource(media.RTPSourceOptions{
		VideoAddr:  cfg.Media.VideoRTP,
		AudioAddr:  cfg.Media.AudioRTP,
		VideoCodec: media.Capability(primaryCodec(cfg.Codecs.Video)),
		AudioCodec: media.Capability(primaryCodec(cfg.Codecs.Audio)),
		Logger:     log,
	})
	defer source.Close()

	transport, err := signaling.DialWebSocket(ctx, cfg.ControllerURL(), cfg.Controller.SkipVerify)
	if err != nil {
		return fmt.Errorf("connect to controller: %w", err)
	}
	channel := signaling.NewChannel(transport, cfg.SessionID, log)

	client := session.NewClient(session.Options{
		Channel: channel,
		Factory: factory,
		Source:  source,
		Codecs: negotiation.CodecPreferences{
			Video: cfg.Codecs.Video,
			Audio: cfg.Codecs.Audio,
		},
		LimitIP:         cfg.LimitIP,
		ScalabilityMode: cfg.ScalabilityMode,
		Logger:          log,
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	client.OnConnected = func(sessionID, participantID int) {
		log.Info("joined session", "session_id", sessionID, "participant_id", participantID)

		// Publish blocks on the event loop we are running on
		wg.Add(1)
		go func() {
			defer wg.Done()
			publish(runCtx, client, log, publishVideo, publishAudio)
		}()
	}
	client.OnDisconnected = func() {
		log.Warn("signaling channel disconnected")
	}
	client.OnTrack = func(participantID int, track negotiation.RemoteTrack) {
		sink := media.NewSink(participantID, track, log)
		sink.RequestKeyframe = func(ssrc uint32) {
			if err := client.RequestKeyframe(runCtx, participantID, ssrc); err != nil {
				log.Warn("keyframe request failed", "participant_id", participantID, "error", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sink.Run(runCtx); err != nil && runCtx.Err() == nil {
				log.Warn("inbound track ended", "participant_id", participantID, "track_id", track.ID(), "error", err)
			}
			s := sink.Stats()
			log.Info("inbound track closed",
				"participant_id", participantID,
				"kind", track.Kind().String(),
				"packets", s.Packets,
				"bytes", s.Bytes)
		}()
	}

	var telemetry *stats.Telemetry
	if url := cfg.TelemetryURL(); url != "" {
		telemetry = stats.NewTelemetry(url, stats.TelemetryOptions{Logger: log})
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.Run(runCtx)
		}()
	}

	if cfg.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collectStats(runCtx, client, telemetry, cfg.StatsInterval, log)
		}()
	}

	if cfg.API.Address != "" {
		server := api.NewServer(client, log)
		if err := server.Start(runCtx, cfg.API.Address); err != nil {
			return fmt.Errorf("start API server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				log.Error("failed to stop API server", "error", err)
			}
		}()
	}

	err = client.Run(runCtx)
	stop()
	return err
}

func publish(ctx context.Context, client *session.Client, log *logger.Logger, video, audio bool) {
	kinds := make([]webrtc.RTPCodecType, 0, 2)
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	if audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}

	for _, kind := range kinds {
		if err := client.Publish(ctx, kind); err != nil {
			log.Error("failed to publish", "kind", kind.String(), "error", err)
			continue
		}
		log.Info("publishing", "kind", kind.String())
	}
}

// collectStats polls the client and forwards reports to the collector
func collectStats(ctx context.Context, client *session.Client, telemetry *stats.Telemetry, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reports, err := client.CollectStats(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, session.ErrClosed) {
				log.Warn("failed to collect stats", "error", err)
			}
			continue
		}
		if len(reports) == 0 {
			continue
		}
		log.DebugStats("collected stats", "reports", len(reports))

		if telemetry == nil || !telemetry.Active() {
			continue
		}
		if err := telemetry.Send(reports); err != nil {
			log.Warn("failed to send stats", "error", err)
		}
	}
}

// primaryCodec returns the first preference that is not a retransmission codec
func primaryCodec(prefs []string) string {
	for _, mime := range prefs {
		if !strings.EqualFold(mime, webrtc.MimeTypeRTX) {
			return mime
		}
	}
	return ""
}
