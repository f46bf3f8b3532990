// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"collabforge/backend/internal/commit/domain"
	commitrepo "collabforge/backend/internal/commit/repository"
	"collabforge/backend/internal/config"
	"collabforge/backend/internal/db"
	"collabforge/backend/internal/policy"
	"collabforge/backend/internal/security"
	userdomain "collabforge/backend/internal/user/domain"
	userrepo "collabforge/backend/internal/user/repository"
	"collabforge/backend/internal/writeguard"
)

const (
	devUsername   = "dev"
	devAdminName  = "dev-admin"
	devPassword   = "password123"
	devUserID     = "dev-user-001"
	devAdminID    = "dev-user-002"
	devRepository = "collabforge"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	commits := commitrepo.NewPostgresRepository(conn)
	ctx := writeguard.Elevate(context.Background())

	existing, err := users.GetByUsername(ctx, devUsername)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Println("seed: dev user already exists, nothing to do")
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}

	now := time.Now().UTC()
	seedUsers := []*userdomain.User{
		{ID: devUserID, Username: devUsername, Email: "dev@example.com", RealName: "Dev User", PasswordHash: passwordHash, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
		{ID: devAdminID, Username: devAdminName, Email: "dev-admin@example.com", RealName: "Dev Admin", PasswordHash: passwordHash, IsAdmin: true, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now},
	}
	for _, u := range seedUsers {
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("seed: create user %s: %v", u.Username, err)
		}
	}

	policies := []string{policy.PolicyPublic, policy.PolicyUsers, policy.OwnerPolicy(devUserID)}
	statuses := []string{domain.AuditStatusNone, domain.AuditStatusNeedsAudit, domain.AuditStatusConcernRaised, domain.AuditStatusAccepted}
	for i := 0; i < 20; i++ {
		c := &domain.Commit{
			Identifier:  fmt.Sprintf("%040x", i+1),
			Repository:  devRepository,
			AuthorID:    devUserID,
			Summary:     fmt.Sprintf("Sample change %d", i+1),
			AuditStatus: statuses[i%len(statuses)],
			Policy:      policies[i%len(policies)],
			CommittedAt: now.Add(-time.Duration(20-i) * time.Hour),
		}
		if err := commits.Create(ctx, c); err != nil {
			log.Fatalf("seed: create commit %s: %v", c.Identifier, err)
		}
	}

	log.Printf("seed: created %d users and 20 commits (password %q)", len(seedUsers), devPassword)
}
