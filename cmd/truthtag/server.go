package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/truthtag/truthtag/pkg/analysis"
	"github.com/truthtag/truthtag/pkg/api"
	"github.com/truthtag/truthtag/pkg/auth"
	"github.com/truthtag/truthtag/pkg/config"
	"github.com/truthtag/truthtag/pkg/ledger"
	"github.com/truthtag/truthtag/pkg/limiter"
	"github.com/truthtag/truthtag/pkg/observability"
	"github.com/truthtag/truthtag/pkg/users"
	"github.com/truthtag/truthtag/pkg/verify"
)

const shutdownGrace = 15 * time.Second

// app is the wired service. close releases everything it opened, in reverse.
type app struct {
	handler    http.Handler
	health     http.Handler
	ledgerMode ledger.Mode
	closers    []func(context.Context) error
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}

	logger := newLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	_, _ = fmt.Fprintf(stdout, "%sTruthTag %s starting...%s\n", colorBold+colorBlue, version, colorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := serve(ctx, cfg, a, logger); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the API and health listeners until ctx is cancelled, then drains
// them and closes the app.
func serve(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) error {
	apiLn, err := net.Listen("tcp", net.JoinHostPort("", cfg.Port))
	if err != nil {
		return errors.Join(fmt.Errorf("listen api: %w", err), a.close(context.Background()))
	}
	healthLn, err := net.Listen("tcp", net.JoinHostPort("", cfg.HealthPort))
	if err != nil {
		_ = apiLn.Close()
		return errors.Join(fmt.Errorf("listen health: %w", err), a.close(context.Background()))
	}
	logger.Info("ready",
		"url", fmt.Sprintf("http://localhost:%s", cfg.Port),
		"ledger_mode", a.ledgerMode,
		"auth_required", cfg.Auth.Required,
	)
	return serveOn(ctx, apiLn, healthLn, a, logger)
}

// serveOn serves on already bound listeners. Requests do not inherit ctx:
// cancelling it stops accepting and lets in-flight requests finish within
// shutdownGrace.
func serveOn(ctx context.Context, apiLn, healthLn net.Listener, a *app, logger *slog.Logger) error {
	apiSrv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthSrv := &http.Server{
		Handler:           a.health,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []struct {
		srv *http.Server
		ln  net.Listener
	}{{apiSrv, apiLn}, {healthSrv, healthLn}} {
		g.Go(func() error {
			logger.Info("listening", "addr", l.ln.Addr().String())
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", l.ln.Addr(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return errors.Join(
			apiSrv.Shutdown(sctx),
			healthSrv.Shutdown(sctx),
			a.close(sctx),
		)
	})
	return g.Wait()
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.close(context.Background())
		return nil, err
	}

	obs, err := observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fail(fmt.Errorf("observability: %w", err))
	}
	a.closers = append(a.closers, obs.Shutdown)

	committer := ledger.New(cfg.Ledger.Config, ledger.WithLogger(logger))
	a.ledgerMode = committer.Mode()
	if live, ok := committer.(*ledger.LiveCommitter); ok {
		go func() {
			if err := live.Warm(ctx); err != nil {
				logger.Error("ledger unavailable, commits will fail until restart", "error", err)
			}
		}()
		a.closers = append(a.closers, func(context.Context) error { live.Close(); return nil })
	}

	analyzer := analysis.NewClient(cfg.Analysis.URL, analysis.WithLogger(logger))
	logger.Info("classifier configured", "endpoint", analyzer.Endpoint(), "timeout", cfg.Analysis.Timeout)
	orch := verify.NewOrchestrator(analyzer, committer,
		verify.Config{AnalysisTimeout: cfg.Analysis.Timeout, CommitTimeout: cfg.Ledger.CommitTimeout},
		verify.WithObservability(obs),
		verify.WithLogger(logger),
	)

	keys, err := signingKeys(cfg.Auth.JWTSecret, logger)
	if err != nil {
		return fail(err)
	}
	tokens := auth.NewTokens(keys, cfg.Auth.TokenTTL)

	db, dialect, err := users.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("user store: %w", err))
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	store := users.NewSQLStore(db, dialect)
	if err := store.Init(ctx); err != nil {
		return fail(err)
	}
	logger.Info("user store ready", "dialect", dialect)
	accounts := users.NewService(store, 0)

	limits := rateLimitStore(ctx, cfg.RateLimit, logger)
	if rs, ok := limits.(*limiter.RedisStore); ok {
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
	}
	limit := auth.RateLimit(limits, limiter.Policy{RPM: cfg.RateLimit.RPM, Burst: cfg.RateLimit.Burst})

	verifier := users.NewCountingVerifier(orch, accounts, logger)
	mux := http.NewServeMux()
	mux.Handle("GET /health", api.Health(a.ledgerMode))
	mux.HandleFunc("POST /ping", api.Ping)
	mux.Handle("POST /verify", api.Chain(
		api.NewVerifyHandler(verifier, cfg.MaxUploadBytes, logger),
		auth.Gate(tokens, cfg.Auth.Required),
		limit,
	))

	authMux := http.NewServeMux()
	users.NewHandler(accounts, tokens, logger).Mount(authMux)
	mux.Handle("/auth/", limit(authMux))

	a.handler = api.Chain(mux,
		auth.RequestID,
		api.RequestLogger(logger),
		api.Recover,
		auth.CORS(cfg.Auth.CORSOrigins),
	)

	healthMux := http.NewServeMux()
	healthMux.Handle("GET /health", api.Health(a.ledgerMode))
	a.health = healthMux

	return a, nil
}

func signingKeys(secret string, logger *slog.Logger) (auth.KeySet, error) {
	if secret != "" {
		return auth.NewHMACKeySet(secret)
	}
	logger.Warn("JWT_SECRET not set, using an ephemeral signing key; tokens will not survive a restart")
	return auth.NewEphemeralKeySet()
}

// rateLimitStore returns nil when limiting is off. A Redis address that
// cannot be reached falls back to in-process buckets.
func rateLimitStore(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) limiter.Store {
	if cfg.RPM <= 0 {
		return nil
	}
	if cfg.RedisAddr == "" {
		return limiter.NewMemoryStore()
	}
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := limiter.DialRedis(dctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, rate limits are per instance", "error", err)
		return limiter.NewMemoryStore()
	}
	return rs
}
