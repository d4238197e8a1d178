package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"deposit-reconciler-go/internal/store"
)

func TestGetBalance_NoAccount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	balance, err := service.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("Expected balance 0, got %d", balance)
	}

	_, err = service.GetAccount(context.Background(), "nobody")
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected account not found, got %v", err)
	}
}

func TestRegisterWallet(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.Deposit(ctx, store.DepositParams{OwnerId: "u1", Amount: 1_000, IdempotencyKey: "d1"}); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := service.RegisterWallet(ctx, "u1", "WalletA"); err != nil {
		t.Fatalf("RegisterWallet failed: %v", err)
	}
	if err := service.RegisterWallet(ctx, "u2", "WalletB"); err != nil {
		t.Fatalf("RegisterWallet for new owner failed: %v", err)
	}

	account, err := service.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.WalletAddress != "WalletA" || account.Balance != 1_000 {
		t.Errorf("Expected WalletA with 1000, got %s with %d", account.WalletAddress, account.Balance)
	}

	accounts, _ := service.GetAccounts(ctx)
	if len(accounts) != 2 {
		t.Errorf("Expected 2 accounts, got %d", len(accounts))
	}
}

func TestStaleBalances(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	service.setClock(func() time.Time { return clock })

	// stale: funded, wallet, old activity
	_ = service.RegisterWallet(ctx, "stale", "WalletS")
	_, _ = service.Deposit(ctx, store.DepositParams{OwnerId: "stale", Amount: 500, IdempotencyKey: "s1"})
	// no wallet registered
	_, _ = service.Deposit(ctx, store.DepositParams{OwnerId: "nowallet", Amount: 500, IdempotencyKey: "n1"})
	// wallet but empty
	_ = service.RegisterWallet(ctx, "empty", "WalletE")

	clock = start.Add(10 * 24 * time.Hour)
	_ = service.RegisterWallet(ctx, "fresh", "WalletF")
	_, _ = service.Deposit(ctx, store.DepositParams{OwnerId: "fresh", Amount: 500, IdempotencyKey: "f1"})

	accounts, err := service.StaleBalances(ctx, clock.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("StaleBalances failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].OwnerId != "stale" {
		t.Fatalf("Expected only the stale account, got %+v", accounts)
	}
	if accounts[0].Balance != 500 || accounts[0].WalletAddress != "WalletS" {
		t.Errorf("Expected 500 to WalletS, got %d to %s", accounts[0].Balance, accounts[0].WalletAddress)
	}
}
