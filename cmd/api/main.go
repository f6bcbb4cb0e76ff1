package main

import (
	"context"
	"errors"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/auth"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/config"
	"videokyc-platform/internal/documents"
	"videokyc-platform/internal/httpapi"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/notify"
	"videokyc-platform/internal/reporting"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"
	"videokyc-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
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
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
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

	signer, err := documents.NewSigner(cfg.Documents.SigningSecret, cfg.Documents.PublicBaseURL)
	if err != nil {
		log.Error("document signer init failed", "err", err)
		os.Exit(1)
	}

	callSvc := calls.NewService(calls.NewPostgresStore(db), calls.NewRedisFeed(rdb, log))
	profiles := kyc.NewPostgresProfiles(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	kycSvc := kyc.NewService(callSvc, profiles, auditSvc, signer, cfg.Documents.URLTTL)

	var sender notify.Sender = notify.LogSender{Log: log}
	if cfg.Email.APIURL != "" {
		sender = notify.NewHTTPSender(cfg.Email.APIURL, cfg.Email.APIKey)
	}
	mailer := notify.NewMailer(callSvc, profiles, sender,
		utils.OnceKeys{RDB: rdb, Prefix: "kyc:once:"}, cfg.Email.FromName, log)

	go func() {
		if err := mailer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("mailer stopped", "err", err)
		}
	}()
	go sweepStaleCalls(rootCtx, callSvc, cfg.Calls)

	deps := routeDeps{
		Handlers: httpapi.Handlers{
			Auth:          authManager,
			Calls:         callSvc,
			KYC:           kycSvc,
			Audit:         auditSvc,
			Mailer:        mailer,
			Reports:       reporting.NewService(reporting.NewPostgresRepo(db)),
			WebRTC:        cfg.WebRTC,
			PublicBaseURL: cfg.Documents.PublicBaseURL,
		},
		Gateway: signaling.NewGateway(func() signaling.Relay {
			return signaling.NewRedisRelay(rdb, log)
		}, httpapi.SignalAuthorizer(callSvc), cfg.App.AllowedOrigins, log),
		Documents:  documents.NewFileStore(cfg.Documents.Root, signer),
		AuthMW:     auth.RequireAccessToken(authManager),
		DevLogin:   !cfg.IsProduction(),
		HealthPing: healthPing(db, rdb),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.ClientIP())
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE and WebSocket handlers hold their connection open; they manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return rootCtx },
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

// sweepStaleCalls rejects abandoned live records so requesters can start again.
func sweepStaleCalls(ctx context.Context, svc *calls.Service, cfg config.CallsConfig) {
	log := logger.From(ctx)
	t := time.NewTicker(cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.ExpireStale(ctx, cfg.StaleAfter)
			if err != nil {
				log.Warn("stale call sweep failed", "err", err)
				continue
			}
			if n > 0 {
				log.Info("expired stale calls", "count", n)
			}
		}
	}
}

func healthPing(db *sql.DB, rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}
}
