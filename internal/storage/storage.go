// Package storage opens the configured ledger backend.
package storage

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/database"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/migrations"
	"github.com/playmatatu/escrow/internal/storage/kvstore"
	"github.com/playmatatu/escrow/internal/storage/pgstore"
)

// Backend holds both the ledger state and the credential/audit records.
type Backend interface {
	escrow.Store
	admin.Store
}

// Open returns the backend selected by cfg.StorageDriver.
func Open(cfg *config.Config) (Backend, error) {
	rules := accounts.Rules{ExistentialDeposit: accounts.Balance(cfg.ExistentialDeposit)}

	switch cfg.StorageDriver {
	case "postgres":
		if cfg.MigrateOnStart {
			log.Println("[STORAGE] Running DB migrations on startup...")
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Println("[STORAGE] Using PostgreSQL")
		return &pgBackend{Store: pgstore.New(db, rules), db: db}, nil
	case "leveldb":
		s, err := kvstore.Open(cfg.LevelDBPath, rules)
		if err != nil {
			return nil, fmt.Errorf("failed to open leveldb at %s: %w", cfg.LevelDBPath, err)
		}
		log.Printf("[STORAGE] Using LevelDB at %s", cfg.LevelDBPath)
		return s, nil
	case "memory":
		s, err := kvstore.OpenMemory(rules)
		if err != nil {
			return nil, err
		}
		log.Println("[STORAGE] Using in-memory store; state is lost on exit")
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

type pgBackend struct {
	*pgstore.Store
	db *sqlx.DB
}

func (b *pgBackend) Close() error { return b.db.Close() }
