package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omnidesk/internal/auth"
	"omnidesk/internal/calls"
	"omnidesk/internal/chat"
	"omnidesk/internal/config"
	"omnidesk/internal/events"
	"omnidesk/internal/ingest"
	"omnidesk/internal/observability"
	"omnidesk/internal/pbx"
	"omnidesk/internal/wa"
	"omnidesk/pkg/logger"
	"omnidesk/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	observability.Register(prometheus.DefaultRegisterer)

	authManager, err := auth.NewManager(auth.ManagerConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	chatRepo := chat.NewPostgresRepo(db)
	callRepo := calls.NewPostgresRepo(db)

	hub := events.NewHub(log)
	go hub.RunHeartbeat(rootCtx, cfg.Hub.HeartbeatInterval)

	correlator := pbx.NewCorrelator(pbx.CorrelatorConfig{
		InboundContextPrefix: cfg.PBX.InboundContextPrefix,
		ExtensionMinDigits:   cfg.PBX.ExtensionMinDigits,
		ExtensionMaxDigits:   cfg.PBX.ExtensionMaxDigits,
		StoreTimeout:         cfg.PBX.StoreTimeout,
	}, callRepo, hub, log)

	pbxClient := pbx.NewClient(pbx.ClientConfig{
		Addr:           cfg.PBXAddr(),
		Username:       cfg.PBX.Username,
		Secret:         cfg.PBX.Secret,
		DialTimeout:    cfg.PBX.DialTimeout,
		ReconnectDelay: cfg.PBX.ReconnectDelay,
	}, correlator, log)
	pbxClient.Start()
	defer pbxClient.Close()

	accounts := wa.AccountTable(cfg.WA.AccountCategories)
	registry := wa.NewRegistry(
		wa.NewCloudNormalizer(accounts),
		wa.NewZapNormalizer(accounts),
	)
	dedupe := ingest.NewRedisDeduper(rdb, 24*time.Hour, log)
	pipeline := ingest.NewPipeline(chatRepo, callRepo, hub, dedupe, log)
	webhooks := ingest.NewWebhookHandlers(registry, pipeline, map[string]string{
		"zap":   cfg.WA.ZapToken,
		"cloud": cfg.WA.CloudToken,
	}, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, streamPath))

	registerRoutes(r, routeDeps{
		auth:     authManager,
		db:       db,
		chats:    chatRepo,
		calls:    callRepo,
		hub:      hub,
		pbx:      pbxClient,
		webhooks: webhooks,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// The event stream needs an unbounded write window; per-write
		// liveness is handled by the hub heartbeat instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
