package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtclink/internal/core/services"
	httphandlers "rtclink/internal/handlers/http"
	"rtclink/internal/infrastructure/monitoring"
	"rtclink/internal/infrastructure/repositories"
	signalinfra "rtclink/internal/infrastructure/signal"
	"rtclink/pkg/config"
	"rtclink/pkg/logger"
	"rtclink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}
	if *configPath != "" {
		configPaths = []string{*configPath}
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = nil
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(reg)

	tokens := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	connections := repoFactory.CreateConnectionRepository()
	router := services.NewRouterService(
		services.RouterConfigFromConfig(cfg),
		tokens,
		connections,
		repoFactory.CreateStreamRepository(),
		metrics,
		log,
	)
	wsServer := signalinfra.NewWebSocketServer(cfg, router, log)

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(connections, 10*time.Second, 2*time.Second)
	health.AddCheck("repository_backend", func(ctx context.Context) (bool, error) {
		return true, repoFactory.HealthCheck(ctx)
	}, 10*time.Second, 2*time.Second)
	health.AddSocketCheck(wsServer.ConnectedCount, 0, 10*time.Second)

	checksCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()
	health.StartBackgroundChecks(checksCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	var gatherer prometheus.Gatherer = reg
	if !cfg.Monitoring.PrometheusEnabled {
		gatherer = prometheus.NewRegistry()
	}
	handler := httphandlers.NewRouter(httphandlers.Deps{
		Config:   cfg,
		Admin:    router,
		Tokens:   tokens,
		Project:  services.NewProjectAuth(cfg.Auth.APIKey, cfg.Auth.APISecret),
		Health:   health,
		Gatherer: gatherer,
		Logger:   log,
	})

	// The API and the signaling socket listen separately; socket writes are
	// long-lived so the signaling server has no write timeout.
	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Signal.Path, wsServer.HandleWebSocket)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: mux,
	}

	serverErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiSrv, signalSrv} {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}(srv)
	}
	log.Infow("rtclink signaling started",
		"api_address", cfg.Server.Address,
		"signal_address", cfg.Signal.Address+cfg.Signal.Path,
		"redis", repoFactory.UsingRedis(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Sockets first so clients see the drop and can resume elsewhere.
	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during signaling shutdown", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket shutdown incomplete", "error", err)
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := apiSrv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	router.Close()
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}
	log.Info("signaling server stopped")
}
