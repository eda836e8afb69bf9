// Command client joins a session, publishes a test pattern and subscribes
// to every stream it sees. Media is relayed inside this process, so remote
// streams connect but carry no frames.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"rtclink/internal/core/client"
	"rtclink/internal/core/domain"
	"rtclink/internal/core/services"
	"rtclink/internal/infrastructure/media"
	"rtclink/internal/infrastructure/monitoring"
	signalinfra "rtclink/internal/infrastructure/signal"
	"rtclink/pkg/config"
	"rtclink/pkg/logger"
	"rtclink/pkg/videoframe"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to a YAML config file")
	sessionFlag := flag.String("session", "", "session to join; a new one is created when empty")
	name := flag.String("name", "demo", "publisher name")
	duration := flag.Duration("duration", 0, "leave after this long; zero waits for a signal")
	forceTURN := flag.Bool("force-turn", false, "gather relay candidates only")
	turnOnly := flag.Bool("turn-only", false, "send the configured servers as the session's own TURN servers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("component", "client_demo")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	project := services.NewProjectAuth(cfg.Auth.APIKey, cfg.Auth.APISecret)
	projectToken, err := project.IssueProjectToken(5 * time.Minute)
	if err != nil {
		log.Fatalw("project token failed", "error", err)
	}
	api := newAPIClient(cfg.Client.APIURL, projectToken)

	sessionID := domain.SessionID(*sessionFlag)
	if sessionID == "" {
		if sessionID, err = api.CreateSession(ctx); err != nil {
			log.Fatalw("create session failed", "error", err)
		}
	}
	token, err := api.IssueToken(ctx, sessionID, domain.RolePublisher, "name="+*name)
	if err != nil {
		log.Fatalw("token request failed", "error", err)
	}

	settings := domain.SessionSettings{}
	if *forceTURN || *turnOnly {
		settings.ICE = &domain.ICEConfig{ForceTURN: *forceTURN, UseCustomTURNOnly: *turnOnly}
		if *turnOnly {
			settings.ICE.Servers = media.ICEServersFromConfig(cfg)
		}
	}
	peerCfg, err := media.PeerConfiguration(settings.ICE, media.ICEServersFromConfig(cfg))
	if err != nil {
		log.Fatalw("invalid ice configuration", "error", err)
	}
	iceURLs := make([]string, 0, len(peerCfg.ICEServers))
	for _, srv := range peerCfg.ICEServers {
		iceURLs = append(iceURLs, srv.URLs...)
	}
	log.Infow("ice configuration",
		"servers", iceURLs,
		"transport_policy", peerCfg.ICETransportPolicy.String(),
		"sdp_semantics", peerCfg.SDPSemantics.String(),
	)

	engine, err := client.Init(client.OptionsFromConfig(cfg), client.Dependencies{
		Transport: signalinfra.WebSocketTransportFactory(cfg, log),
		Media:     media.NewRelay(media.ConfigFromConfig(cfg), log),
		Metrics:   monitoring.NewPrometheusCollector(prometheus.NewRegistry()),
		Logger:    zapLogger,
	})
	if err != nil {
		log.Fatalw("engine init failed", "error", err)
	}

	pub, err := newDemoPublisher(engine, *name, log)
	if err != nil {
		log.Fatalw("publisher creation failed", "error", err)
	}

	sess, err := engine.NewSession(cfg.Auth.APIKey, sessionID, client.SessionCallbacks{
		OnConnected: func(s *client.Session) {
			log.Infow("connected", "session_id", s.ID(), "connection_id", s.Connection().ID)
			if err := s.Publish(pub); err != nil {
				log.Warnw("publish failed", "error", err)
			}
			if err := s.SendSignal("hello", *name, domain.DefaultSignalOptions()); err != nil {
				log.Warnw("signal failed", "error", err)
			}
		},
		OnDisconnected:        func(s *client.Session) { log.Infow("disconnected", "session_id", s.ID()) },
		OnReconnectionStarted: func(s *client.Session) { log.Infow("reconnecting", "session_id", s.ID()) },
		OnReconnected:         func(s *client.Session) { log.Infow("reconnected", "session_id", s.ID()) },
		OnConnectionCreated: func(_ *client.Session, c domain.Connection) {
			log.Infow("connection created", "connection_id", c.ID, "data", c.Data)
		},
		OnConnectionDropped: func(_ *client.Session, c domain.Connection) {
			log.Infow("connection dropped", "connection_id", c.ID)
		},
		OnStreamReceived: func(s *client.Session, st domain.Stream) {
			subscribeTo(engine, s, st, log)
		},
		OnStreamDropped: func(_ *client.Session, st domain.Stream) {
			log.Infow("stream dropped", "stream_id", st.ID)
		},
		OnSignalReceived: func(_ *client.Session, sig domain.Signal) {
			log.Infow("signal received", "type", sig.Type, "data", sig.Data, "from", sig.From.ID)
		},
		OnArchiveStarted: func(_ *client.Session, a domain.Archive) {
			log.Infow("archive started", "archive_id", a.ID)
		},
		OnArchiveStopped: func(_ *client.Session, id string) {
			log.Infow("archive stopped", "archive_id", id)
		},
		OnError: func(_ *client.Session, err error) {
			log.Warnw("session error", "status", domain.StatusOf(err), "error", err)
		},
	}, settings)
	if err != nil {
		log.Fatalw("session creation failed", "error", err)
	}

	if err := sess.Connect(token); err != nil {
		log.Fatalw("connect failed", "error", err)
	}
	log.Infow("joining", "session_id", sessionID, "server", cfg.Client.ServerURL)

	if *duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*duration):
		}
	} else {
		<-ctx.Done()
	}

	if err := sess.Disconnect(); err != nil {
		log.Warnw("disconnect failed", "error", err)
	}
	destroyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Destroy(destroyCtx); err != nil {
		log.Warnw("engine destroy incomplete", "error", err)
	}
	log.Info("client stopped")
}

func newDemoPublisher(engine *client.Engine, name string, log *zap.SugaredLogger) (*client.Publisher, error) {
	settings := client.DefaultPublisherSettings()
	settings.AudioTrack = false
	settings.Capturer = newPatternCapturer(320, 240, 15)

	var frames int
	return engine.NewPublisher(name, client.PublisherCallbacks{
		OnStreamCreated: func(_ *client.Publisher, st domain.Stream) {
			log.Infow("stream created", "stream_id", st.ID, "width", st.Width, "height", st.Height)
		},
		OnStreamDestroyed: func(_ *client.Publisher, st domain.Stream) {
			log.Infow("stream destroyed", "stream_id", st.ID)
		},
		OnRenderFrame: func(_ *client.Publisher, _ *videoframe.Frame) {
			frames++
			if frames%150 == 0 {
				log.Debugw("local frames rendered", "count", frames)
			}
		},
		OnVideoStats: func(_ *client.Publisher, stats []domain.PublisherVideoStats) {
			for _, st := range stats {
				log.Debugw("publisher video stats", "subscriber_id", st.SubscriberID, "packets_sent", st.PacketsSent, "packets_lost", st.PacketsLost)
			}
		},
		OnError: func(_ *client.Publisher, err error) {
			log.Warnw("publisher error", "status", domain.StatusOf(err), "error", err)
		},
	}, settings)
}

func subscribeTo(engine *client.Engine, s *client.Session, st domain.Stream, log *zap.SugaredLogger) {
	log.Infow("stream received", "stream_id", st.ID, "name", st.Name, "connection_id", st.Connection.ID)
	sub, err := engine.NewSubscriber(st, client.SubscriberCallbacks{
		OnConnected: func(_ *client.Subscriber, st domain.Stream) {
			log.Infow("subscribed", "stream_id", st.ID)
		},
		OnVideoDisabled: func(_ *client.Subscriber, reason domain.VideoReason) {
			log.Infow("video disabled", "stream_id", st.ID, "reason", reason)
		},
		OnVideoEnabled: func(_ *client.Subscriber, reason domain.VideoReason) {
			log.Infow("video enabled", "stream_id", st.ID, "reason", reason)
		},
		OnVideoStats: func(_ *client.Subscriber, stats domain.SubscriberVideoStats) {
			log.Debugw("subscriber video stats", "stream_id", st.ID, "packets_received", stats.PacketsReceived, "packets_lost", stats.PacketsLost)
		},
		OnError: func(_ *client.Subscriber, err error) {
			log.Warnw("subscriber error", "stream_id", st.ID, "status", domain.StatusOf(err), "error", err)
		},
	})
	if err != nil {
		log.Warnw("subscriber creation failed", "error", err)
		return
	}
	if err := s.Subscribe(sub); err != nil {
		log.Warnw("subscribe failed", "error", err)
	}
}
