package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"deposit-reconciler-go/internal/database"
	"deposit-reconciler-go/internal/formance"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/prime"
	"deposit-reconciler-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles the backends every command works against. Prime is nil
// unless it was requested.
type Services struct {
	Ledger store.CreditLedger
	State  store.StateStore
	Prime  *prime.Service

	db *database.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the configured ledger and state backends and,
// when withPrime is set, connects the Prime wallet that pays refunds.
func InitializeServices(ctx context.Context, cfg *models.Config, withPrime bool) (*Services, error) {
	services := &Services{}

	if cfg.Ledger.Backend == "sqlite" || cfg.Ledger.StateBackend == "sqlite" {
		db, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		services.db = db
	}

	switch cfg.Ledger.Backend {
	case "formance":
		zap.L().Info("Using Formance ledger",
			zap.String("stack_url", cfg.Formance.StackURL),
			zap.String("ledger", cfg.Formance.LedgerName))
		ledger, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.Ledger = ledger
	default:
		zap.L().Info("Using SQLite ledger", zap.String("path", cfg.Database.Path))
		services.Ledger = services.db
	}

	switch cfg.Ledger.StateBackend {
	case "memory":
		zap.L().Warn("Poll state is kept in memory and will not survive a restart")
		services.State = store.NewMemoryState()
	default:
		services.State = services.db
	}

	if !withPrime {
		return services, nil
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		services.Close()
		return nil, err
	}

	primeService, err := prime.NewService(creds, cfg.Prime)
	if err != nil {
		services.Close()
		return nil, err
	}

	if err := primeService.Resolve(ctx); err != nil {
		services.Close()
		return nil, err
	}
	services.Prime = primeService

	return services, nil
}

func (cs *Services) Close() {
	if cs.Ledger != nil && cs.Ledger != store.CreditLedger(cs.db) {
		cs.Ledger.Close()
	}
	if cs.db != nil {
		cs.db.Close()
	}
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
