package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/background"
	"github.com/BradenHooton/careguard/internal/config"
	"github.com/BradenHooton/careguard/internal/database"
	"github.com/BradenHooton/careguard/internal/handlers"
	"github.com/BradenHooton/careguard/internal/identity"
	middlewareCustom "github.com/BradenHooton/careguard/internal/middleware"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/repositories"
	"github.com/BradenHooton/careguard/internal/routes"
	"github.com/BradenHooton/careguard/internal/services"
	"github.com/BradenHooton/careguard/internal/telemetry"
	pkgauth "github.com/BradenHooton/careguard/pkg/auth"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	pkglogger "github.com/BradenHooton/careguard/pkg/logger"
	"github.com/BradenHooton/careguard/pkg/vault"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("careguard stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Field encryption
	var secrets *config.SecretsLoader
	if cfg.Encryption.SecretID != "" {
		if secrets, err = config.NewSecretsLoader(ctx, cfg.Notify.AWSRegion, logger); err != nil {
			return err
		}
	}
	key, err := config.ResolveEncryptionKey(ctx, cfg, secrets)
	if err != nil {
		return err
	}
	var fieldVault *vault.Vault
	if key != "" {
		fieldVault, err = vault.New(key)
	} else {
		fieldVault, err = vault.NewWithGeneratedKey(logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	// Database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	userRepo := repositories.NewUserRepository(db)
	enrollmentRepo := repositories.NewTwoFactorRepository(db)
	documentRepo := repositories.NewDocumentRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	scheduler := background.NewRealScheduler()
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Threat monitoring
	monitorOpts := services.ThreatMonitorOptions{
		Rules:      cfg.Detection,
		Monitoring: cfg.Features.Monitoring,
		Notifier:   newNotifier(ctx, cfg, logger),
		Audit:      auditLogger,
	}
	if cfg.Features.Monitoring && len(cfg.Kafka.Brokers) > 0 {
		reporter, err := telemetry.NewKafkaEventReporter(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer reporter.Close()
		monitorOpts.Reporter = reporter
	}
	monitor := services.NewThreatMonitor(monitorOpts, scheduler, logger)
	monitor.AddHealthCheck("database", db.HealthCheck)

	if cfg.Redis.Addr != "" {
		redisClient := telemetry.NewRedisClient(cfg.Redis)
		defer redisClient.Close()

		alerts := telemetry.NewRedisAlertPublisher(redisClient, cfg.Redis.AlertChannel, logger)
		monitor.AddAlertCallback(alerts.Publish)
		monitor.AddHealthCheck("redis", alerts.Ping)
	}

	// Authentication
	provider, err := identity.NewProvider(userRepo, enrollmentRepo,
		auth.NewTOTPManager(cfg.Auth.TOTPIssuer, fieldVault), scheduler.Now, logger)
	if err != nil {
		return err
	}

	guard := services.NewAuthGuard(services.AuthGuardConfig{
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
		LockoutDuration:  cfg.Auth.LockoutDuration,
		SessionTimeout:   cfg.Auth.SessionTimeout,
		TwoFactorAuth:    cfg.Features.TwoFactorAuth,
		DataEncryption:   cfg.Features.DataEncryption,
	}, services.AuthGuardDeps{
		Provider:  provider,
		Tokens:    auth.NewTokenManager(cfg.Auth.JWTSecret, scheduler.Now),
		Encryptor: fieldVault,
		Events:    monitor,
		Scheduler: scheduler,
		Delay:     auth.NewTimingDelay(cfg.Auth.FailureDelay, cfg.Auth.FailureJitter),
		Audit:     auditLogger,
	}, logger)
	defer guard.Close()
	monitor.SetEnforcer(guard)

	// Records
	auditService := services.NewAuditService(auditRepo, cfg.Features.AuditLogging, scheduler, logger)
	gateway := services.NewSecureGateway(documentRepo, fieldVault, auditService, monitor, cfg.Features.DataEncryption, logger)

	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}

	// Background jobs
	jobs := background.NewJobRunner(scheduler, logger)
	jobs.Register(background.Job{
		Name:     "threat-scan",
		Interval: cfg.Detection.ScanInterval,
		Run: func(ctx context.Context) error {
			monitor.RunPeriodicChecks(ctx)
			return nil
		},
	})
	jobs.Register(background.Job{
		Name:     "threat-purge",
		Interval: cfg.Detection.PurgeInterval,
		Run: func(ctx context.Context) error {
			monitor.PurgeExpired()
			return nil
		},
	})
	if len(cfg.Retention.Collections) > 0 {
		jobs.Register(background.Job{
			Name:       "record-retention",
			Interval:   cfg.Retention.Interval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				var errs []error
				for collection, days := range cfg.Retention.Collections {
					if _, err := gateway.CleanupExpired(ctx, collection, days); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", collection, err))
					}
				}
				return errors.Join(errs...)
			},
		})
	}
	jobs.Start(ctx)
	defer jobs.Stop()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(auth.RequestInfoMiddleware(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Route("/api/v1", func(r chi.Router) {
		routes.RegisterRoutes(r, routes.Handlers{
			Auth:     handlers.NewAuthHandler(guard, gateway, cfg.Features.AuditLogging, logger),
			Records:  handlers.NewRecordHandler(gateway, cfg.Features.AuditLogging, logger),
			Security: handlers.NewSecurityHandler(monitor, logger),
			Audit:    handlers.NewAuditHandler(auditService, logger),
		}, routes.Options{
			Sessions:       guard,
			Events:         monitor,
			RateLimiting:   cfg.Features.RateLimiting,
			RequestsPerMin: cfg.Server.RequestsPerMin,
		})
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// newNotifier mails administrators through SES when a sender and
// recipients are configured, and only logs otherwise.
func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) services.AdminNotifier {
	if cfg.Notify.SenderEmail == "" || len(cfg.Notify.AdminEmails) == 0 {
		return services.NewLogAdminNotifier(logger)
	}

	notifier, err := services.NewSESAdminNotifier(ctx, cfg.Notify.AWSRegion, cfg.Notify.SenderEmail, cfg.Notify.AdminEmails, logger)
	if err != nil {
		logger.Error("failed to initialize SES notifier, falling back to logs", slog.Any("error", err))
		return services.NewLogAdminNotifier(logger)
	}
	return notifier
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := pkgauth.NormalizeIdentity(os.Getenv("ADMIN_EMAIL"))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		DisplayName:       "Administrator",
		Role:              models.RoleAdmin,
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
