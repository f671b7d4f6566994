package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/auth"
	"github.com/PhilHem/villa-auth/backend/config"
	"github.com/PhilHem/villa-auth/backend/database"
	"github.com/PhilHem/villa-auth/backend/guard"
	"github.com/PhilHem/villa-auth/backend/handlers"
	"github.com/PhilHem/villa-auth/backend/logger"
	"github.com/PhilHem/villa-auth/backend/mail"
	"github.com/PhilHem/villa-auth/backend/middleware"
	"github.com/PhilHem/villa-auth/backend/security"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	if err := config.Load(); err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if err := config.C.Validate(); err != nil {
		log.Fatal("Invalid config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(config.C.DatabasePath)
	if err != nil {
		log.Fatal("Failed to init database:", err)
	}

	// Initialize structured logging
	slog.SetDefault(slog.New(logger.NewDBHandler(db, logger.Output(config.C.Logs), logger.ParseLevel(config.C.Logs.Level))))
	go logger.CleanupOldLogs(ctx, db, config.C.Logs.Retention, time.Hour)

	auditLog := audit.New(config.C.Logs.AuditFile, int(config.C.Logs.FileMaxSize/(1024*1024)), config.C.Logs.MaxBackups)
	defer auditLog.Sync()

	tracker, err := newTracker(ctx)
	if err != nil {
		log.Fatal("Failed to init tracker:", err)
	}

	hasher, err := security.NewHasher(config.C.Password.BcryptCost)
	if err != nil {
		log.Fatal("Failed to init hasher:", err)
	}
	box, err := security.NewSecretBox(config.C.TOTP.EncryptionKey)
	if err != nil {
		log.Fatal("Failed to init secret box:", err)
	}
	tokens, err := security.NewTokenService(config.C.Token.Secret, config.C.Token.TTL, config.C.Token.Issuer)
	if err != nil {
		log.Fatal("Failed to init tokens:", err)
	}

	var sender mail.Sender = mail.LogSender{}
	if config.C.Mail.Enabled {
		sender = mail.NewSMTPSender(config.C.Mail)
	}
	dispatcher := mail.NewDispatcher(sender, config.C.Mail.RatePerSecond, config.C.Mail.QueueSize)
	go dispatcher.Run(ctx)

	svc := auth.NewService(auth.Deps{
		Store: database.NewStore(db),
		Guard: guard.NewBruteForceGuard(tracker, guard.Policy{
			MaxAttempts:        config.C.Lockout.MaxAttempts,
			AccountMaxAttempts: config.C.Lockout.AccountMaxAttempts,
			Window:             config.C.Lockout.Window,
			LockDuration:       config.C.Lockout.Duration,
		}),
		Hasher:    hasher,
		Policy:    security.NewPasswordPolicy(config.C.Password.MinLength),
		Sanitizer: security.NewSanitizer(),
		TOTP:      security.NewTOTP(config.C.TOTP.Issuer, config.C.TOTP.Skew),
		SecretBox: box,
		Tokens:    tokens,
		Notifier:  mail.NewVerificationNotifier(dispatcher, config.C.Verification.CodeTTL),
		Audit:     auditLog,
	}, auth.Config{
		CodeTTL:        config.C.Verification.CodeTTL,
		ResendCooldown: config.C.Verification.ResendCooldown,
		CodeKey:        "verification-code:" + config.C.Token.Secret,
	})

	err = svc.BootstrapAdmin(ctx, auth.AdminSeed{
		Username:     config.C.Admin.Username,
		Password:     config.C.Admin.Password,
		PasswordHash: config.C.Admin.PasswordHash,
		Role:         config.C.Admin.Role,
	})
	if err != nil {
		log.Fatal("Failed to bootstrap admin:", err)
	}

	api := handlers.New(handlers.Options{
		Auth:           svc,
		DB:             db,
		SessionSecret:  config.C.Session.Secret,
		SessionTimeout: config.C.Session.Timeout,
		SecureCookies:  config.C.TLS.Enabled || strings.HasPrefix(config.C.PublicURL, "https://"),
		TrustProxy:     config.C.TrustProxy,
	})
	limiter := middleware.NewRateLimiter(tracker, config.C.RateLimit.Requests, config.C.RateLimit.Window, config.C.TrustProxy).
		WithAudit(auditLog)

	srv := &http.Server{
		Addr:              config.C.Listen,
		Handler:           api.Handler(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "source", "main", "listen", config.C.Listen, "public_url", config.C.PublicURL, "tracker", config.C.Tracker.Backend)
	fmt.Printf("Server running at %s (public: %s)\n", config.C.Listen, config.C.PublicURL)

	if config.C.TLS.Enabled {
		slog.Info("starting server with TLS", "source", "main")
		err = srv.ListenAndServeTLS(config.C.TLS.Cert, config.C.TLS.Key)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	slog.Info("server stopped", "source", "main")
}

// newTracker picks the counter store shared by the lockout guard and the
// rate limiter.
func newTracker(ctx context.Context) (guard.Tracker, error) {
	if config.C.Tracker.Backend != "redis" {
		return guard.NewMemoryTracker(time.Minute), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.C.Tracker.Redis.Addr,
		Password: config.C.Tracker.Redis.Password,
		DB:       config.C.Tracker.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", config.C.Tracker.Redis.Addr, err)
	}
	return guard.NewRedisTracker(client, config.C.Tracker.Redis.Prefix), nil
}
