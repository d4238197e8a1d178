package prime

import (
	"context"
	"testing"
	"time"

	"deposit-reconciler-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
)

func TestSolAmount(t *testing.T) {
	tests := []struct {
		lamports int64
		expected string
	}{
		{1_000_000_000, "1"},
		{2_500_000_000, "2.5"},
		{10_000_000, "0.01"},
		{1, "0.000000001"},
	}
	for _, tt := range tests {
		if got := solAmount(tt.lamports); got != tt.expected {
			t.Errorf("solAmount(%d): expected %s, got %s", tt.lamports, tt.expected, got)
		}
	}
}

func TestWithdrawalKey(t *testing.T) {
	morning := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	key := withdrawalKey("Wallet1", 5_000, morning)
	if key != withdrawalKey("Wallet1", 5_000, evening) {
		t.Error("Expected same key within a day")
	}
	if key == withdrawalKey("Wallet1", 5_000, nextDay) {
		t.Error("Expected different key on the next day")
	}
	if key == withdrawalKey("Wallet1", 5_001, morning) {
		t.Error("Expected different key for a different amount")
	}
	if key == withdrawalKey("Wallet2", 5_000, morning) {
		t.Error("Expected different key for a different address")
	}
}

func TestSend_RequiresResolvedWallet(t *testing.T) {
	service, err := NewService(&credentials.Credentials{}, models.PrimeConfig{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if _, err := service.Send(context.Background(), "Wallet1", 1_000); err == nil {
		t.Error("Expected error when the refund wallet is not resolved")
	}

	service.portfolioId, service.walletId = "p", "w"
	if _, err := service.Send(context.Background(), "Wallet1", 0); err == nil {
		t.Error("Expected error for zero amount")
	}
}
