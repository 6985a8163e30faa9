//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/database"
	"github.com/hugh/insightforge/pkg/config"
	"github.com/hugh/insightforge/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger("seed", cfg.App.Env, cfg.App.Debug)

	db, err := database.Connect(&cfg.Database, cfg.App.Debug, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Create the first owner
	jwtService, err := auth.NewJWTService(auth.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Algorithm:  cfg.JWT.Algorithm,
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	})
	if err != nil {
		log.Fatalf("failed to create token service: %v", err)
	}
	authService := auth.NewService(db, auth.NewHasher(cfg.Security.BcryptCost), jwtService, logger)

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "Admin12345!"
	}
	if name == "" {
		name = "Admin"
	}

	resp, err := authService.Register(context.Background(), auth.RegisterInput{
		Email:    email,
		Password: password,
		FullName: name,
		OrgName:  "Default Organization",
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAlreadyExists {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("Organization: %s (%s)\n", resp.Organization.Name, resp.Organization.Slug)
	fmt.Printf("Access token: %s\n", resp.Tokens.AccessToken)
}
