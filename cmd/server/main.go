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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/api"
	"github.com/playmatatu/escrow/internal/authority"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/events"
	"github.com/playmatatu/escrow/internal/lock"
	"github.com/playmatatu/escrow/internal/logging"
	"github.com/playmatatu/escrow/internal/redis"
	"github.com/playmatatu/escrow/internal/storage"
	gometrics "github.com/rcrowley/go-metrics"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	closer := logging.Setup(cfg)
	defer closer.Close()

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Redis is optional: it backs distributed locks and cross-instance event fan-out
	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
	}

	reg := gometrics.NewRegistry()
	hub := events.NewHub()
	go hub.Run(ctx)

	sinks := events.Multi{events.NewCounter(reg)}
	if rdb != nil {
		sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.EventsChannel))
		events.Subscribe(ctx, rdb, cfg.EventsChannel, hub)
	} else {
		sinks = append(sinks, hub)
	}

	opts := []escrow.Option{
		escrow.WithSink(sinks),
		escrow.WithCustody(accounts.AccountID(cfg.CustodyAccount)),
		escrow.WithCacheSize(cfg.GameCacheSize),
		escrow.WithRegistry(reg),
	}
	if cfg.LockBackend == "redis" {
		ttl := time.Duration(cfg.LockTTLSeconds) * time.Second
		wait := time.Duration(cfg.LockWaitMillis) * time.Millisecond
		opts = append(opts, escrow.WithLocker(lock.NewRedis(rdb, "escrow:lock:", ttl, wait)))
		log.Printf("[LOCK] Using Redis locks (ttl=%s, wait=%s)", ttl, wait)
	}

	led, err := escrow.New(store, newAuthority(cfg), opts...)
	if err != nil {
		log.Fatalf("Failed to create ledger: %v", err)
	}

	endowments := make([]escrow.Endowment, 0, len(cfg.Genesis.Endowments))
	for _, e := range cfg.Genesis.Endowments {
		endowments = append(endowments, escrow.Endowment{
			Account: accounts.AccountID(e.Account),
			Balance: accounts.Balance(e.Balance),
		})
	}
	if err := led.Bootstrap(ctx, accounts.Balance(cfg.ExistentialDeposit), endowments); err != nil {
		log.Fatalf("Failed to bootstrap ledger: %v", err)
	}
	log.Printf("[LEDGER] Ready: custody=%s existential=%d genesis accounts=%d",
		led.CustodyAccount(), cfg.ExistentialDeposit, len(endowments))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Deps{
		Ledger:   led,
		Admin:    store,
		Hub:      hub,
		Registry: reg,
		Config:   cfg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Starting escrow ledger server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func newAuthority(cfg *config.Config) escrow.Authority {
	if len(cfg.Genesis.Council) == 0 {
		return authority.RootOnly{}
	}
	members := make([]accounts.AccountID, 0, len(cfg.Genesis.Council))
	for _, m := range cfg.Genesis.Council {
		members = append(members, accounts.AccountID(m))
	}
	log.Printf("[AUTH] Privileged council: %v", cfg.Genesis.Council)
	return authority.NewCouncil(members...)
}
