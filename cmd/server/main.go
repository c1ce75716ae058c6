package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"buildboard/backend/internal/app"
	"buildboard/backend/internal/audit"
	auditrepo "buildboard/backend/internal/audit/repository"
	"buildboard/backend/internal/config"
	"buildboard/backend/internal/db"
	healthhandler "buildboard/backend/internal/health/handler"
	identityhandler "buildboard/backend/internal/identity/handler"
	"buildboard/backend/internal/identity/provider"
	identityrepo "buildboard/backend/internal/identity/repository"
	identityservice "buildboard/backend/internal/identity/service"
	"buildboard/backend/internal/metrics"
	"buildboard/backend/internal/notification"
	notificationhandler "buildboard/backend/internal/notification/handler"
	"buildboard/backend/internal/notification/queue"
	"buildboard/backend/internal/security"
	"buildboard/backend/internal/server"
	"buildboard/backend/internal/server/middleware"
	"buildboard/backend/internal/session"
	userrepo "buildboard/backend/internal/user/repository"
)

const (
	sessionIssuer  = "buildboard"
	limiterCleanup = 5 * time.Minute
	shutdownGrace  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.RequireServerSecrets(); err != nil {
		log.Fatalf("config: %v", err)
	}
	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, obs, err := app.Telemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	cipher, err := security.NewTokenCipherFromSecret(cfg.SecretKeyBase)
	if err != nil {
		log.Fatalf("token cipher: %v", err)
	}
	signer, err := security.NewSessionSignerFromSecret(cfg.SecretKeyBase, sessionIssuer)
	if err != nil {
		log.Fatalf("session signer: %v", err)
	}
	signer = signer.WithTTL(cfg.SessionTTL())

	users := userrepo.NewPostgresRepository(conn)
	links := identityrepo.NewPostgresRepository(conn, cipher)
	auditLogs := auditrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(auditLogs, middleware.ClientIPFromContext)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	dispatcher := app.Dispatcher(cfg, obs, collector)

	async := notification.NewAsyncNotifier(dispatcher, cfg.EmailSendTimeout())
	var signupEmail notification.SignupNotifier = async
	var (
		publisher *queue.Publisher
		queued    *notification.QueuedNotifier
	)
	if cfg.QueueEnabled() {
		publisher = queue.NewPublisher(cfg.AMQPURL, cfg.SignupQueue)
		queued = notification.NewQueuedNotifier(publisher, async, cfg.EmailSendTimeout())
		signupEmail = queued
		log.Printf("signup emails are queued on %s", cfg.SignupQueue)
	}
	notifiers := notification.MultiNotifier{signupEmail}
	var announcer *notification.SlackAnnouncer
	if cfg.SlackSignupWebhookURL != "" {
		announcer = notification.NewSlackAnnouncer(cfg.SlackSignupWebhookURL, nil)
		notifiers = append(notifiers, announcer)
	}

	callbacks := identityservice.NewCallbackService(links, provider.NewRegistry(provider.SlackResolver{}), notifiers, auditLogger, obs)

	sessions, err := session.NewManager(signer, users, session.Options{
		CookieName: cfg.SessionCookieName,
		Secure:     cfg.SessionCookieSecure,
	})
	if err != nil {
		log.Fatalf("session: %v", err)
	}

	slack := provider.NewSlackOAuth(provider.SlackOAuthConfig{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURL:  cfg.SlackRedirectURL,
		AuthURL:      cfg.SlackAuthURL,
		TokenURL:     cfg.SlackTokenURL,
		UserInfoURL:  cfg.SlackUserInfoURL,
	})
	auth := identityhandler.NewAuthHandler(callbacks, sessions, identityhandler.Config{CookieSecure: cfg.SessionCookieSecure}, slack)
	emails := notificationhandler.NewEmailHandler(dispatcher, users, cfg.EmailSendTimeout())

	var (
		limiter middleware.Limiter
		checks  []healthhandler.Check
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		limiter = middleware.NewRedisLimiter(rdb, "buildboard:ratelimit", cfg.EmailRateLimitPerMinute)
		checks = append(checks, healthhandler.Check{
			Name: "redis",
			Run:  func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		local := middleware.NewLocalLimiter(cfg.EmailRateLimitPerMinute, limiterCleanup)
		defer local.Stop()
		limiter = local
	}

	handler := server.NewRouter(server.Deps{
		Sessions:       sessions,
		Auth:           auth,
		Emails:         emails,
		EmailLimiter:   limiter,
		Health:         healthhandler.NewServer(conn, checks...),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
		Activity:       auditLogs,
		SecureCookies:  cfg.SessionCookieSecure,
		TrustedProxies: trustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s (env=%s)", cfg.HTTPAddr, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if queued != nil {
		if err := queued.Wait(shutdownCtx); err != nil {
			log.Printf("pending signup publishes: %v", err)
		}
	}
	if err := async.Wait(shutdownCtx); err != nil {
		log.Printf("pending signup emails: %v", err)
	}
	if announcer != nil {
		announcer.Wait()
	}
	if publisher != nil {
		_ = publisher.Close()
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
