package common

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"deposit-reconciler-go/internal/database"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"
)

func testConfig(t *testing.T, stateBackend string) *models.Config {
	return &models.Config{
		Database: models.DatabaseConfig{
			Path:         filepath.Join(t.TempDir(), "deposits.db"),
			MaxOpenConns: 1,
			PingTimeout:  time.Second,
		},
		Ledger: models.LedgerConfig{Backend: "sqlite", StateBackend: stateBackend},
	}
}

func TestInitializeServices_SQLite(t *testing.T) {
	ctx := context.Background()
	services, err := InitializeServices(ctx, testConfig(t, "sqlite"), false)
	if err != nil {
		t.Fatalf("InitializeServices failed: %v", err)
	}
	defer services.Close()

	if _, ok := services.Ledger.(*database.Service); !ok {
		t.Errorf("Expected SQLite ledger, got %T", services.Ledger)
	}
	if _, ok := services.State.(*database.Service); !ok {
		t.Errorf("Expected SQLite state, got %T", services.State)
	}
	if services.Prime != nil {
		t.Error("Expected no Prime service when not requested")
	}

	if _, err := services.Ledger.Deposit(ctx, store.DepositParams{OwnerId: "u1", Amount: 10, IdempotencyKey: "sig"}); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
}

func TestInitializeServices_MemoryState(t *testing.T) {
	services, err := InitializeServices(context.Background(), testConfig(t, "memory"), false)
	if err != nil {
		t.Fatalf("InitializeServices failed: %v", err)
	}
	defer services.Close()

	if _, ok := services.State.(*store.MemoryState); !ok {
		t.Errorf("Expected in-memory state, got %T", services.State)
	}
}

func TestInitializeServices_PrimeRequiresCredentials(t *testing.T) {
	t.Setenv("PRIME_ACCESS_KEY", "")
	t.Setenv("PRIME_PASSPHRASE", "")
	t.Setenv("PRIME_SIGNING_KEY", "")

	if _, err := InitializeServices(context.Background(), testConfig(t, "sqlite"), true); err == nil {
		t.Error("Expected missing Prime credentials to fail")
	}
}
