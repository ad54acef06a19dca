package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"palisade/internal/audit"
	"palisade/internal/background"
	"palisade/internal/breach"
	"palisade/internal/bruteforce"
	"palisade/internal/config"
	"palisade/internal/database"
	"palisade/internal/handlers"
	"palisade/internal/honeypot"
	middlewareCustom "palisade/internal/middleware"
	"palisade/internal/ratelimit"
	"palisade/internal/repositories"
	"palisade/internal/routes"
	"palisade/internal/secrets"
	pkglogger "palisade/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	auditKey, err := hex.DecodeString(cfg.Rotation.AuditKey)
	if err != nil {
		logger.Error("AUDIT_ENCRYPTION_KEY is not valid hex", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize the optional database. Without one, every store runs
	// in memory and state does not survive a restart.
	var (
		db             *database.DB
		auditStore     audit.Store            = audit.NewMemoryStore()
		breachRepo     breach.Repository      = breach.NewMemoryRepository()
		blacklistStore bruteforce.BlacklistStore
	)
	if cfg.Database.Enabled {
		db, err = database.NewConnection(&cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		auditStore = repositories.NewAuditEntryRepository(db)
		breachRepo = repositories.NewBreachRepository(db)
		blacklistStore = repositories.NewBlacklistRepository(db)
	} else {
		logger.Warn("running without a database, all state is in memory")
	}

	// Audit chain with its secondary failure channel
	securityLogger := pkglogger.NewSecurityLogger(logger)
	chain, err := audit.NewChain(auditKey, auditStore, securityLogger, logger)
	if err != nil {
		logger.Error("failed to initialize audit chain", slog.Any("error", err))
		os.Exit(1)
	}
	defer chain.Close()

	// Blacklist, hydrated from the store when there is one
	blacklist := bruteforce.NewBlacklist(blacklistStore, logger)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := blacklist.Load(bootCtx); err != nil {
		logger.Error("failed to load blacklist", slog.Any("error", err))
		bootCancel()
		os.Exit(1)
	}
	bootCancel()

	guard := bruteforce.NewGuard(bruteforce.Config{
		MaxAttempts:        cfg.Guard.MaxAttempts,
		LockoutDuration:    cfg.Guard.LockoutDuration,
		Window:             cfg.Guard.Window,
		BlacklistThreshold: cfg.Guard.BlacklistThreshold,
	}, blacklist, chain, logger)

	// Per-class admission limiters sharing one adaptive controller
	adaptive := ratelimit.NewAdaptiveController()
	limiters := map[string]*ratelimit.Limiter{
		middlewareCustom.ClassAuth:      ratelimit.NewLimiter(policyFromConfig(cfg.Admission.Auth), adaptive, logger),
		middlewareCustom.ClassAPI:       ratelimit.NewLimiter(policyFromConfig(cfg.Admission.API), adaptive, logger),
		middlewareCustom.ClassStatic:    ratelimit.NewLimiter(policyFromConfig(cfg.Admission.Static), adaptive, logger),
		middlewareCustom.ClassExpensive: ratelimit.NewLimiter(policyFromConfig(cfg.Admission.Expensive), adaptive, logger),
	}

	// Optional Redis decision stats
	var stats *ratelimit.RedisStats
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		stats = ratelimit.NewRedisStats(rdb, "", cfg.Redis.StatsTTL, logger)
	}

	admission := middlewareCustom.NewAdmission(limiters, blacklist, guard, chain, stats, securityLogger, logger)

	// Secret rotation with dual-validity grace
	secretStore := secrets.NewFileStore(cfg.Rotation.StorePath)
	rotator := secrets.NewRotator(cfg.Rotation.TokenSecret, cfg.Rotation.GracePeriod, secretStore, logger)
	if err := rotator.LoadPersisted(context.Background()); err != nil {
		logger.Error("failed to load persisted secrets", slog.Any("error", err))
		os.Exit(1)
	}
	verifier := secrets.NewTokenVerifier(rotator, cfg.Rotation.TokenExpiry)

	// Breach detection and disclosure
	detector := breach.NewDetector(breach.Thresholds{
		BruteForceCount:  cfg.Breach.BruteForceCount,
		BruteForceWindow: cfg.Breach.BruteForceWindow,
		VolumeRecords:    cfg.Breach.VolumeRecords,
		APIAbuseCount:    cfg.Breach.APIAbuseCount,
		APIAbuseWindow:   cfg.Breach.APIAbuseWindow,
		PaymentFailures:  cfg.Breach.PaymentFailures,
		PaymentWindow:    cfg.Breach.PaymentWindow,
	}, logger)
	breachService := breach.NewService(breachRepo, chain, logger)

	var notifier breach.Notifier
	if cfg.Notify.Enabled {
		sesNotifier, err := breach.NewSESNotifier(
			cfg.Notify.AWSRegion,
			cfg.Notify.FromAddress,
			cfg.Notify.Recipients,
			breachService,
			breachRepo,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize breach notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	// Honeypot decoys keyed by the same identity as admission
	sentinel := honeypot.NewSentinel(honeypot.DefaultRoutes(), blacklist, chain, middlewareCustom.Identity, logger)

	// Handlers
	authHandler := handlers.NewAuthHandler(
		guard, verifier, detector, breachService, chain,
		handlers.StaticCredentials(demoCredentials()),
		logger,
	)
	adminHandler := handlers.NewAdminHandler(
		chain, breachService, notifier, rotator, blacklist, adaptive, logger,
	)

	// Cleanup sweeps over every per-identity store
	sweepTargets := map[string]background.Sweepable{
		"guard": guard,
	}
	for class, limiter := range limiters {
		sweepTargets["limiter:"+class] = limiter
	}
	cleanupManager := background.NewCleanupManager(sweepTargets, logger, cfg.Server.SweepInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	// Coarse per-IP ceiling ahead of the class-aware admission layer
	router.Use(httprate.LimitByIP(cfg.Server.GlobalRateLimit, time.Minute))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, admission, authHandler, adminHandler, sentinel, verifier)

	// Health check
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.HealthCheck(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func policyFromConfig(p config.ClassPolicy) ratelimit.Policy {
	return ratelimit.Policy{
		Window:          p.Window,
		MaxRequests:     p.MaxRequests,
		BurstCapacity:   p.BurstCapacity,
		RefillPerSecond: p.RefillPerSecond,
	}
}

// demoCredentials reads the built-in credential set from DEMO_USERS,
// formatted as user:password pairs separated by commas. Empty by
// default, which makes every login a recorded failure.
func demoCredentials() map[string]string {
	creds := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv("DEMO_USERS"), ",") {
		user, pass, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && user != "" {
			creds[user] = pass
		}
	}
	return creds
}
