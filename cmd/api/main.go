package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tty-relay/internal/audit"
	"tty-relay/internal/auth"
	"tty-relay/internal/calls"
	"tty-relay/internal/config"
	"tty-relay/internal/events"
	"tty-relay/internal/observability"
	"tty-relay/internal/operator"
	"tty-relay/internal/rbac"
	"tty-relay/internal/relay"
	"tty-relay/internal/speech"
	"tty-relay/internal/telephony"
	"tty-relay/pkg/logger"
	"tty-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const janitorInterval = time.Minute

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	directory := auth.NewDirectory(cfg.Auth.OperatorPassword, cfg.Auth.OperatorRoles, rbac.DefaultRole)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("tty_relay", promReg)

	// Optional infrastructure. Each piece degrades to an in-process default.
	auditRepo := audit.Repository(audit.NewMemoryRepo())
	if cfg.DB.Host != "" {
		db, err := openAuditDB(rootCtx, cfg)
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo := audit.NewPostgresRepo(db)
		if err := repo.EnsureSchema(rootCtx); err != nil {
			log.Error("audit schema init failed", "err", err)
			os.Exit(1)
		}
		auditRepo = repo
	}

	var limiter operator.Limiter = operator.NopLimiter{}
	if cfg.Redis.Host != "" && cfg.Calls.MaxPerOperator > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer closeRedis(rdb, log)
		limiter = operator.NewRedisLimiter(rdb, cfg.Calls.MaxPerOperator)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := utils.OpenNATS(rootCtx, utils.NATSConfig{URL: cfg.NATS.URL})
		if err != nil {
			log.Error("nats init failed", "err", err)
			os.Exit(1)
		}
		defer drainNATS(nc, log)
		publisher = events.NewNATSPublisher(nc, "tty.calls", log)
	}

	// Domain wiring
	registry := calls.NewRegistry()
	hub := relay.NewHub(registry, metrics, log)
	twilio := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	urls := telephony.NewURLs(cfg.App.PublicBaseURL)
	auditSvc := audit.NewService(auditRepo, log)

	processor := telephony.NewProcessor(registry, publisher, metrics, log)
	pipeline := speech.NewPipeline(registry,
		[]speech.Strategy{
			speech.SideChannel{ControlPlane: twilio, From: cfg.Twilio.PhoneNumber},
			speech.InBand{ControlPlane: twilio, ContinueURL: urls.ContinueCall()},
		},
		speech.WithAudit(auditSvc),
		speech.WithEvents(publisher),
		speech.WithMetrics(metrics),
		speech.WithLogger(log),
	)
	ops := operator.NewService(registry, twilio,
		operator.Config{From: cfg.Twilio.PhoneNumber, URLs: urls, Record: cfg.Calls.Record},
		operator.WithLimiter(limiter),
		operator.WithAudit(auditSvc),
		operator.WithEvents(publisher),
		operator.WithMetrics(metrics),
		operator.WithLogger(log),
	)

	// The hub goes first so listeners see call-ended before other side effects.
	registry.OnTerminal(hub.SessionEnded)
	registry.OnTerminal(ops.OnSessionTerminal)
	registry.StartJanitor(rootCtx, janitorInterval, cfg.Relay.SessionRetention)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		auth:      authManager,
		directory: directory,
		registry:  registry,
		hub:       hub,
		processor: processor,
		pipeline:  pipeline,
		operator:  ops,
		urls:      urls,
		metrics:   metrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "public_base_url", cfg.App.PublicBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", registry.ActiveCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func openAuditDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	dsn := utils.PostgresDSN{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Name:     cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	}
	return utils.OpenPostgres(ctx, "pgx", dsn.String(), utils.PostgresPoolConfig{})
}

func closeRedis(rdb *redis.Client, log *slog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("redis close failed", "err", err)
	}
}

func drainNATS(nc *nats.Conn, log *slog.Logger) {
	if err := nc.Drain(); err != nil {
		log.Warn("nats drain failed", "err", err)
	}
}
