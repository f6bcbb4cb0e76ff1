// Command kycagent joins verification calls as a headless participant.
//
// AGENT_ROLE=requester starts a call for AGENT_USER_ID and waits for the outcome.
// AGENT_ROLE=responder listens for requests, accepts them and, when
// AGENT_AUTO_DECISION is approved or rejected, records that verdict with AGENT_NOTES.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/config"
	"videokyc-platform/internal/documents"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/media"
	"videokyc-platform/internal/orchestrator"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/rbac"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"
	"videokyc-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type agentConfig struct {
	Role         string
	UserID       string
	AutoDecision calls.Result
	Notes        string
}

func loadAgentConfig() (agentConfig, error) {
	c := agentConfig{
		Role:         strings.TrimSpace(os.Getenv("AGENT_ROLE")),
		UserID:       strings.TrimSpace(os.Getenv("AGENT_USER_ID")),
		AutoDecision: calls.Result(strings.TrimSpace(os.Getenv("AGENT_AUTO_DECISION"))),
		Notes:        strings.TrimSpace(os.Getenv("AGENT_NOTES")),
	}
	var errs []error
	if c.Role != signaling.RoleRequester && c.Role != signaling.RoleResponder {
		errs = append(errs, fmt.Errorf("AGENT_ROLE must be requester or responder, got %q", c.Role))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("AGENT_USER_ID is required"))
	}
	if c.AutoDecision != "" {
		if !c.AutoDecision.Valid() {
			errs = append(errs, fmt.Errorf("AGENT_AUTO_DECISION must be approved or rejected, got %q", c.AutoDecision))
		}
		if c.Notes == "" {
			errs = append(errs, errors.New("AGENT_NOTES is required with AGENT_AUTO_DECISION"))
		}
	}
	return c, errors.Join(errs...)
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	agent, err := loadAgentConfig()
	if err != nil {
		slog.Error("agent config invalid", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("agent_role", agent.Role)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 5})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), PoolSize: 10})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	peers, err := peer.NewPionFactory(peer.Config{ICEServers: peer.ICEServers(cfg.WebRTC), Log: log})
	if err != nil {
		log.Error("webrtc init failed", "err", err)
		os.Exit(1)
	}

	callSvc := calls.NewService(calls.NewPostgresStore(db), calls.NewRedisFeed(rdb, log))
	deps := orchestrator.Deps{
		Records:            callSvc,
		Relay:              signaling.NewRedisRelay(rdb, log),
		Peers:              peers,
		Media:              silentSource{inner: media.SampleSource{}},
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
		Heartbeat:          cfg.Calls.StaleAfter / 3,
		OnNotice: func(n orchestrator.Notice) {
			log.Info("notice", "level", n.Level, "message", n.Message, "err", n.Err)
		},
		OnRemoteTrack: func(t peer.RemoteTrack) {
			log.Info("remote track", "kind", t.Kind, "mime_type", t.MimeType)
		},
		Log: log,
	}

	switch agent.Role {
	case signaling.RoleRequester:
		err = runRequester(rootCtx, deps, agent)
	default:
		signer, serr := documents.NewSigner(cfg.Documents.SigningSecret, cfg.Documents.PublicBaseURL)
		if serr != nil {
			log.Error("document signer init failed", "err", serr)
			os.Exit(1)
		}
		reviewer := kyc.NewService(callSvc, kyc.NewPostgresProfiles(db), audit.NewService(audit.NewPostgresRepo(db)), signer, cfg.Documents.URLTTL)
		gate := &utils.SlotLimiter{
			RDB:    rdb,
			Prefix: "kyc:responder:",
			Limit:  cfg.Calls.ResponderMaxLive,
			TTL:    cfg.Calls.StaleAfter,
		}
		err = runResponder(rootCtx, deps, agent, reviewer, gate)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent stopped", "err", err)
		os.Exit(1)
	}
	log.Info("agent done")
}

// runRequester starts one call and returns once it has an outcome.
func runRequester(ctx context.Context, deps orchestrator.Deps, agent agentConfig) error {
	states := make(chan orchestrator.RequesterState, 64)
	r, err := orchestrator.NewRequester(orchestrator.RequesterConfig{
		Deps:    deps,
		UserID:  agent.UserID,
		OnState: func(s orchestrator.RequesterState) { states <- s },
	})
	if err != nil {
		return err
	}
	defer r.Close()

	rec, err := r.Start(ctx)
	if err != nil {
		return err
	}
	log := logger.WithCall(deps.Log, rec.ID)
	log.Info("waiting for a verifier")

	for {
		select {
		case <-ctx.Done():
			hangCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.HangUp(hangCtx)
			return ctx.Err()
		case s := <-states:
			log.Info("state", "state", s, "banner", s.Banner())
			switch s {
			case orchestrator.RequesterEnded, orchestrator.RequesterRejected:
				return nil
			case orchestrator.RequesterIdle:
				// Idle without an outcome means the call never got going.
				return errors.New("call did not start")
			}
		}
	}
}

// runResponder serves requests until ctx ends.
func runResponder(ctx context.Context, deps orchestrator.Deps, agent agentConfig, reviewer orchestrator.Reviewer, gate orchestrator.Gate) error {
	states := make(chan orchestrator.ResponderState, 64)
	r, err := orchestrator.NewResponder(orchestrator.ResponderConfig{
		Deps:     deps,
		UserID:   agent.UserID,
		Role:     rbac.RoleAdmin,
		Reviewer: reviewer,
		Gate:     gate,
		OnState:  func(s orchestrator.ResponderState) { states <- s },
	})
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Listen(ctx); err != nil {
		return err
	}
	deps.Log.Info("listening for verification requests")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-states:
			deps.Log.Info("state", "state", s, "banner", s.Banner())
			switch s {
			case orchestrator.ResponderNotified:
				if err := r.Accept(ctx); err != nil {
					deps.Log.Warn("accept failed", "err", err)
				}
			case orchestrator.ResponderReviewing:
				if agent.AutoDecision == "" {
					continue
				}
				if link, err := r.DocumentURL(ctx); err == nil {
					deps.Log.Info("document", "url", link.URL, "expires_at", link.ExpiresAt)
				}
				if st, err := r.MediaStats(ctx); err == nil {
					deps.Log.Info("requester media", "packets", st.PacketsReceived, "bytes", st.BytesReceived)
				}
				if _, err := r.Decide(ctx, agent.AutoDecision, agent.Notes); err != nil {
					deps.Log.Warn("decision failed", "err", err)
				}
			}
		}
	}
}
