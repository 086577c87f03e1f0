package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	cfhttp "github.com/Strob0t/supportdesk/internal/adapter/http"
	"github.com/Strob0t/supportdesk/internal/adapter/knowledge"
	cfnats "github.com/Strob0t/supportdesk/internal/adapter/nats"
	"github.com/Strob0t/supportdesk/internal/adapter/natskv"
	cfotel "github.com/Strob0t/supportdesk/internal/adapter/otel"
	"github.com/Strob0t/supportdesk/internal/adapter/ristretto"
	"github.com/Strob0t/supportdesk/internal/adapter/tiered"
	"github.com/Strob0t/supportdesk/internal/adapter/ws"
	"github.com/Strob0t/supportdesk/internal/auth"
	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/logger"
	"github.com/Strob0t/supportdesk/internal/middleware"
	"github.com/Strob0t/supportdesk/internal/port/broadcast"
	"github.com/Strob0t/supportdesk/internal/port/cache"
	"github.com/Strob0t/supportdesk/internal/port/messagequeue"
	"github.com/Strob0t/supportdesk/internal/resilience"
	"github.com/Strob0t/supportdesk/internal/secrets"
	"github.com/Strob0t/supportdesk/internal/service"
	"github.com/Strob0t/supportdesk/internal/validation"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"driver", cfg.TenantStore.Driver,
		"log_level", cfg.Logging.Level,
		"dev_mode", cfg.Server.DevMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTel, err := cfotel.Init(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	checks := make(map[string]cfhttp.HealthCheck)

	// --- Infrastructure ---

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	for name, check := range stores.checks {
		checks[name] = check
	}

	// NATS: queue, L2 cache, cross-instance relay
	var (
		queue messagequeue.Queue
		nq    *cfnats.Queue
	)
	if cfg.NATS.URL != "" {
		nq, err = cfnats.Connect(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Drain() }()
		queue = nq
		checks["nats"] = func(context.Context) error {
			if !nq.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	l1, err := ristretto.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var dirCache cache.Cache = l1
	if nq != nil {
		l2, err := natskv.Open(ctx, nq.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("cache l2: %w", err)
		}
		dirCache = tiered.New(l1, l2, cfg.Cache.L1TTL)
	}

	// --- Realtime ---

	hub := ws.NewHub(metrics, originPatterns(cfg.Server.CORSOrigin)...)
	var fanout broadcast.Broadcaster = hub
	if nq != nil {
		instance := cfg.NATS.InstanceID
		if instance == "" {
			instance = uuid.NewString()
		}
		relay := cfnats.NewRelay(nq.Conn(), hub, instance)
		if err := relay.Start(); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		defer relay.Stop()
		fanout = relay
		slog.Info("broadcast relay started", "instance_id", instance)
	}

	// --- Services ---

	directory := service.NewCachedDirectory(stores.directory, dirCache, cfg.Cache.L2TTL)
	tenants := service.NewTenantResolver(directory, stores.registry)
	v := validation.New()

	breaker := resilience.NewBreaker("knowledge", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.WithTrips(knowledge.Trips))
	answerer := knowledge.NewClient(cfg.Knowledge, breaker)

	router := service.NewRouter(tenants, answerer, fanout, metrics)
	handoff := service.NewHandoffService(tenants, fanout, metrics)
	conversations := service.NewConversationService(tenants)
	agents := service.NewAgentService(tenants, v)
	leads := service.NewLeadService(directory, queue, v)
	live := service.NewLiveService(hub, tenants, router, conversations, v)

	if err := agents.Seed(ctx, cfg.Seed.Agents); err != nil {
		return fmt.Errorf("seed agents: %w", err)
	}

	if queue != nil {
		kb := service.NewKnowledgeService(directory, queue)
		cancelKB, err := kb.Start(ctx)
		if err != nil {
			return fmt.Errorf("knowledge subscriber: %w", err)
		}
		defer cancelKB()
	}

	if cfg.Sweeper.Schedule != "" {
		sweeper := service.NewSweeper(tenants, handoff, cfg.Sweeper.IdleTimeout)
		if err := sweeper.Start(cfg.Sweeper.Schedule); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sweeper.Stop(sctx)
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.Rate)
	go limiter.RunCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	// --- HTTP ---

	keyring, err := sessionKeyring(cfg)
	if err != nil {
		return err
	}
	go reloadOnHangup(ctx, keyring)

	handlers := &cfhttp.Handlers{
		Router:        router,
		Handoff:       handoff,
		Conversations: conversations,
		Agents:        agents,
		Leads:         leads,
		Checks:        checks,
		DevMode:       cfg.Server.DevMode,
	}

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))

	cfhttp.MountRoutes(r, handlers, cfhttp.RouteDeps{
		Verifier:    auth.NewRotatingVerifier(keyring, cfg.Auth.Issuer),
		Limiter:     limiter,
		Idempotency: dirCache,
		WS:          hub.Handler(live),
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

const (
	envJWTSecret         = "SUPPORTDESK_JWT_SECRET"
	envJWTSecretPrevious = "SUPPORTDESK_JWT_SECRET_PREVIOUS"
)

// sessionKeyring returns the keyring verifying session tokens. Secrets come
// from the environment, falling back to the config file. Dev mode without a
// secret gets a random one, so tokens only verify within this process.
func sessionKeyring(cfg *config.Config) (*secrets.Keyring, error) {
	if cfg.Auth.JWTSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate dev secret: %w", err)
		}
		slog.Warn("auth.jwt_secret not set, using a random dev secret")
		return secrets.Static([]byte(hex.EncodeToString(buf))), nil
	}
	loader := secrets.WithFallback(secrets.EnvLoader(envJWTSecret, envJWTSecretPrevious), map[string]string{
		envJWTSecret:         cfg.Auth.JWTSecret,
		envJWTSecretPrevious: cfg.Auth.PreviousJWTSecret,
	})
	return secrets.NewKeyring(loader, envJWTSecret, envJWTSecretPrevious)
}

// reloadOnHangup reloads the session secrets on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, k *secrets.Keyring) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := k.Reload(); err != nil {
				slog.Error("session secret reload failed, keeping current secrets", "error", err)
				continue
			}
			slog.Info("session secrets reloaded", "keys", len(k.Keys()))
		}
	}
}

// originPatterns turns the CORS origin list into WebSocket origin
// patterns, which match hosts without the scheme.
func originPatterns(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, o)
	}
	return out
}
