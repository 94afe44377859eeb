package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	httphandlers "peercall/internal/handlers/http"
	"peercall/internal/infrastructure/media"
	"peercall/internal/infrastructure/middleware"
	"peercall/internal/infrastructure/monitoring"
	memorystore "peercall/internal/infrastructure/repositories/memory"
	redisstore "peercall/internal/infrastructure/repositories/redis"
	webrtcinfra "peercall/internal/infrastructure/webrtc"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/peercall/config.yaml",
		"config.yaml",
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
		cfg = config.Default()
	}
	if cfg.User.ID == "" {
		cfg.User.ID = os.Getenv("PEERCALL_USER_ID")
	}
	if cfg.User.ID == "" {
		log.Fatal("user.id must be set in config or PEERCALL_USER_ID")
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	// Tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "peercall",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	// Signaling store
	var store ports.SignalingStore
	switch cfg.Store.Backend {
	case "redis":
		client, err := redisstore.NewClient(
			cfg.Store.Redis.Address,
			cfg.Store.Redis.Password,
			cfg.Store.Redis.DB,
			cfg.Store.Redis.PoolSize,
			sugar,
		)
		if err != nil {
			sugar.Fatalw("failed to connect to redis", "error", err)
		}
		defer client.Close()
		store = redisstore.NewCallStore(client, sugar)
	default:
		store = memorystore.NewCallStore()
	}

	// Metrics
	var metrics ports.CallMetrics = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	// Media acquisition
	mediaCfg := media.SyntheticConfig{
		VideoFPS:    cfg.Media.VideoFPS,
		VideoWidth:  cfg.Media.VideoWidth,
		VideoHeight: cfg.Media.VideoHeight,
	}
	devices := media.NewDevices(mediaCfg, zapLogger)
	acquirer := media.NewAcquirer(devices, mediaCfg, zapLogger, metrics)

	// Peer sessions
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	sessionFactory := webrtcinfra.NewFactory(webrtcinfra.Config{
		ICEServers:        iceServers,
		DisconnectTimeout: cfg.WebRTC.DisconnectTimeout,
	}, zapLogger)

	// Event push
	hub := httphandlers.NewEventHub(zapLogger)

	// Call controller
	var callLimiter *rate.Limiter
	if cfg.RateLimiting.Enabled {
		callLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimiting.CallsPerMinute/60), 1)
	}
	controller := services.NewCallController(
		services.Identity{
			ID:    domain.UserID(cfg.User.ID),
			Name:  cfg.User.Name,
			Image: cfg.User.Image,
		},
		store,
		acquirer,
		sessionFactory,
		metrics,
		services.Config{
			GraceDelay:      cfg.Call.GraceDelay,
			IncomingSeenTTL: cfg.Call.IncomingSeenTTL,
			RateLimit:       callLimiter,
		},
		services.Callbacks{
			OnCallReceived: hub.BroadcastIncoming,
			OnCallEnded:    hub.BroadcastCallEnded,
			OnStateChange:  hub.BroadcastState,
		},
		zapLogger,
	)
	if err := controller.Start(context.Background()); err != nil {
		sugar.Fatalw("failed to start incoming-call listener", "error", err)
	}
	defer controller.Close()

	// Health checks
	health := monitoring.NewHealthChecker()
	health.AddStoreCheck(store, 2*time.Second)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	callHandler := httphandlers.NewCallHandler(controller, health, logger.NewContextLogger(zapLogger))
	callHandler.SetupRoutes(router, middleware.NewHTTPRateLimitMiddleware(cfg))
	router.GET("/ws", hub.Handle(controller))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		sugar.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Gateway.Address,
		Handler:      router,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		sugar.Infof("Starting peercall gateway on %s", cfg.Gateway.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		sugar.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		sugar.Infow("Received shutdown signal", "signal", sig)
	}

	sugar.Info("Shutting down peercall gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			sugar.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		sugar.Info("Server shutdown gracefully")
	}
}
