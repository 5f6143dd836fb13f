package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/admin"
	"fleetgate/internal/audit"
	"fleetgate/internal/auth"
	"fleetgate/internal/config"
	"fleetgate/internal/gateway"
	"fleetgate/internal/keys"
	"fleetgate/internal/logger"
	"fleetgate/internal/metrics"
	"fleetgate/internal/model"
	"fleetgate/internal/ratelimit"
	"fleetgate/internal/scheduler"
	"fleetgate/internal/secrets"
	"fleetgate/internal/store"
	"fleetgate/internal/threat"
)

// endpoints is the fixed internal endpoint set the gateway fronts.
var endpoints = []model.Endpoint{
	{ID: "fleet.vehicles", Path: "/api/v1/vehicles", RequiredPermission: "fleet:read"},
	{ID: "fleet.drivers", Path: "/api/v1/drivers", RequiredPermission: "fleet:read"},
	{ID: "fleet.trips", Path: "/api/v1/trips", RequiredPermission: "trips:read"},
	{ID: "fleet.dispatch", Path: "/api/v1/dispatch", RequiredPermission: "dispatch:write"},
	{ID: "auth.login", Path: "/api/v1/auth/login", AuthKind: model.EndpointAuthLogin},
}

func main() {
	cfg, warning, err := config.LoadConfig("config.yaml")
	if err != nil {
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	st := store.NewRedisStore(cfg.Redis)
	defer st.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := st.Ping(ctx)
		cancel()
		if err != nil {
			// The gateway starts degraded rather than refusing to boot:
			// rate limiting fails open, authentication fails closed.
			log.Warn("Counter store unreachable at startup", "error", err)
		}
	}

	trail, err := audit.Open(cfg.Audit, log)
	if err != nil {
		log.Error("Error opening audit database", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Monitoring.EnableMetrics {
		m = metrics.New()
	}

	recorder := threat.NewRecorder(st, log, trail)
	intel := threat.NewIntelCache(st, nil, cfg.Threat.IntelTTL, log)
	detector := threat.NewDetector(st, cfg.Threat, recorder, intel, log)

	var keyOpts []keys.ManagerOption
	if cfg.Secrets.MetadataKey != "" {
		cipher, err := secrets.NewCipher(cfg.Secrets.MetadataKey)
		if err != nil {
			log.Error("Error initializing record cipher", "error", err)
			os.Exit(1)
		}
		keyOpts = append(keyOpts, keys.WithRecordCodec(cipher))
	}
	keyManager := keys.NewManager(st, log, recorder, keyOpts...)
	validator := auth.NewValidator(keyManager, cfg.Auth, log)
	limiter := ratelimit.New(st, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests, log)
	reqlog := gateway.NewRequestLog(st, log)

	gw := gateway.New(validator, limiter, detector, keyManager, reqlog, trail, m, cfg.Monitoring, log)

	sched := scheduler.New(keyManager, trail, recorder, time.Hour,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting maintenance scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gateway.Recovery(log))
	router.Use(gateway.CORS(cfg.CORS))

	for _, ep := range endpoints {
		ep := ep
		router.Any(ep.Path, gw.GinHandler(ep, backendHandler(ep)))
	}

	adminHandler := admin.NewHandler(keyManager, recorder, detector, st)
	admin.SetupRoutes(router, adminHandler, cfg, m)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info("Gateway listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", "error", err)
	}
}

// backendHandler proxies the admitted request to the internal service that
// owns the endpoint. The dashboard deployment wires real backends here; the
// standalone binary answers with the request context so the pipeline can be
// exercised end to end.
func backendHandler(ep model.Endpoint) gateway.Handler {
	return func(_ context.Context, rc *model.RequestContext) (*model.Response, error) {
		return &model.Response{
			Status: http.StatusOK,
			Body: gin.H{
				"endpoint":   ep.ID,
				"request_id": rc.RequestID,
				"remaining":  rc.RateLimit.Remaining,
			},
		}, nil
	}
}
