package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	valkey "github.com/valkey-io/valkey-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/legit-games/secrets-service/cipher"
	"github.com/legit-games/secrets-service/email"
	"github.com/legit-games/secrets-service/migrate"
	"github.com/legit-games/secrets-service/rotation"
	"github.com/legit-games/secrets-service/seed"
	"github.com/legit-games/secrets-service/server"
	"github.com/legit-games/secrets-service/store"
)

func main() {
	cfg := server.GetConfig()

	// Optionally run DB migrations (like flyway) before the server starts.
	// Configure via environment variables (see migrate.RunFromEnv docs):
	// MIGRATE_ON_START=1 MIGRATE_DRIVER=postgres MIGRATE_DSN=postgres://...
	if err := migrate.RunFromEnv(); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if err := seed.RunFromEnv(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}

	dsn := cfg.DatabaseDSN()
	if dsn == "" {
		log.Fatal("no database DSN configured (set database.dsn or SECRETS_DB_DSN)")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	passphrase := cfg.Crypto.MasterKey
	if passphrase == "" {
		log.Println("crypto.master_key not set, using development key; do not run this in production")
		passphrase = "dev-master-key"
	}
	cipherSvc, err := cipher.NewFromPassphrase(passphrase, cfg.Crypto.Salt)
	if err != nil {
		log.Fatalf("failed to initialize cipher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := server.Options{}

	// Workspace settings override the compiled-in JIT bounds once the DB is up.
	settings := store.NewSystemSettingsStore(db)
	policy := settings.JITPolicyFromSettings(ctx)
	opts.JITPolicy = &policy

	// Valkey backs the grant cache and, when the rotation scheduler runs on
	// more than one replica, the leader lock. Both are optional.
	var leader *store.LeaderElection
	if cfg.Valkey.Addr != "" {
		prefix := cfg.Valkey.Prefix
		if prefix == "" {
			prefix = "secrets:"
		}
		valkeyClient, verr := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}})
		if verr != nil {
			log.Printf("Valkey not available (%v), running without grant cache", verr)
		} else {
			opts.GrantCache = store.NewGrantCacheWithClient(valkeyClient, prefix)
			leader = store.NewLeaderElection(valkeyClient, prefix, store.DefaultLeaderElectionConfig())
			log.Printf("Using Valkey at %s", cfg.Valkey.Addr)
		}
	}

	sender, err := email.Factory(&email.ProviderConfig{
		ProviderType: email.ProviderType(cfg.Email.Provider),
		FromAddress:  cfg.Email.FromAddress,
		FromName:     cfg.Email.FromName,
		AppName:      "Secrets Service",
	})
	if err != nil {
		log.Printf("email provider %q unavailable (%v), falling back to console", cfg.Email.Provider, err)
		sender = email.NewConsoleSender()
	}
	opts.Notifier = email.NewNotifier(sender, "Secrets Service")

	srv := server.NewServer(cfg, db, cipherSvc, opts)
	srv.Rotator.ShadowTTL = settings.ShadowTTL(ctx)

	var scheduler *rotation.Scheduler
	if cfg.Rotation.SchedulerEnabled {
		if leader != nil {
			leader.Start(ctx)
		}
		scheduler = rotation.NewScheduler(srv.Schedules, srv.Rotator, leader)
		scheduler.Start(ctx)
		log.Println("rotation scheduler started")
	}

	engine := server.NewGinEngine(srv)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("secrets service listening on %s", cfg.ListenAddr())
		errCh <- engine.Run(cfg.ListenAddr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("server stopped: %v", err)
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	if leader != nil {
		leader.Stop()
	}
	srv.Audit.Close()
	if opts.GrantCache != nil {
		opts.GrantCache.Close()
	}
	time.Sleep(100 * time.Millisecond)
}
