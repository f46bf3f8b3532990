// Server runs the collabforge HTTP API: auth sessions, commit queries, and the
// audit trail.
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

	"github.com/redis/go-redis/v9"

	"collabforge/backend/internal/audit"
	auditproducer "collabforge/backend/internal/audit/producer"
	auditrepo "collabforge/backend/internal/audit/repository"
	commitrepo "collabforge/backend/internal/commit/repository"
	"collabforge/backend/internal/config"
	"collabforge/backend/internal/db"
	policyengine "collabforge/backend/internal/policy/engine"
	"collabforge/backend/internal/security"
	"collabforge/backend/internal/server"
	sessionrepo "collabforge/backend/internal/session/repository"
	"collabforge/backend/internal/session/service"
	"collabforge/backend/internal/session/stepup"
	"collabforge/backend/internal/telemetry/otel"
	userrepo "collabforge/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "collabforge-backend", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)

	var sessions sessionrepo.Repository = sessionrepo.NewPostgresRepository(conn)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		sessions = sessionrepo.NewRedisRepository(client, users)
		log.Printf("sessions: redis backend at %s", opts.Addr)
	}

	audits := auditrepo.NewPostgresRepository(conn)
	producer, err := auditproducer.NewKafkaProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if producer != nil {
		defer producer.Close()
	}
	recorder := audit.NewLogger(audits, producer, server.ClientIP)

	hasher := security.NewHasher(cfg.BcryptCost)
	engine := service.NewEngine(
		sessions,
		recorder,
		security.NewHighSecurityTokenProvider([]byte(cfg.HighSecuritySigningKey), "collabforge"),
		stepup.NewPasswordVerifier(users, hasher),
		cfg.SessionTTLs(),
		cfg.HisecWindow(),
	)

	eval, err := policyengine.NewOPAEvaluator()
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	srv := server.NewServer(server.Deps{
		Engine:        engine,
		Users:         users,
		Hasher:        hasher,
		CSRF:          security.NewCSRFProvider([]byte(cfg.CSRFSecret)),
		Commits:       commitrepo.NewPostgresRepository(conn),
		Eval:          eval,
		Audits:        audits,
		CookieMaxAge:  int(cfg.SessionTTLs()["web"].Seconds()),
		SecureCookies: cfg.Env == "production",
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server: listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("server: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown: %v", err)
	}
}
