package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/storage"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	store, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	account := os.Getenv("ADMIN_ACCOUNT")
	if account == "" {
		account = "ops" // Default account
		log.Printf("Using default admin account: %s", account)
	}

	key := os.Getenv("ADMIN_KEY")
	if key == "" {
		key = "change-me-in-production" // Default key
		log.Printf("WARNING: Using default admin key. Set ADMIN_KEY env var in production!")
	}

	roles := []string{admin.RoleRoot}
	if extra := os.Getenv("ADMIN_ROLES"); extra != "" {
		roles = strings.Split(extra, ",")
	}

	if err := admin.CreateCredential(context.Background(), store, account, key, roles); err != nil {
		log.Fatalf("Failed to create credential: %v", err)
	}

	log.Printf("✓ Credential created/updated successfully")
	log.Printf("  Account: %s", account)
	log.Printf("  Roles: %v", roles)
	log.Println("\nExchange it for a token at POST /api/v1/auth/token")
}
