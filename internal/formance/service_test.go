package formance

import (
	"math/big"
	"testing"
	"time"

	"deposit-reconciler-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestSignedAmount(t *testing.T) {
	postings := []shared.V2Posting{
		{Source: "custody:hot_wallet", Destination: "users:u1", Asset: "SOL/9", Amount: big.NewInt(2_000_000_000)},
		{Source: "users:u1", Destination: "custody:refunds", Asset: "SOL/9", Amount: big.NewInt(500)},
		{Source: "custody:hot_wallet", Destination: "users:u1", Asset: "USDC/6", Amount: big.NewInt(7)},
		{Source: "custody:hot_wallet", Destination: "users:u2", Asset: "SOL/9", Amount: big.NewInt(9)},
	}

	tests := []struct {
		account string
		want    int64
	}{
		{"users:u1", 1_999_999_500},
		{"users:u2", 9},
		{"users:u3", 0},
	}
	for _, tt := range tests {
		if got := signedAmount(postings, tt.account); got != tt.want {
			t.Errorf("signedAmount(%s): expected %d, got %d", tt.account, tt.want, got)
		}
	}
}

func TestEntryFromTransaction(t *testing.T) {
	ref := "5sigRef"
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tx := shared.V2Transaction{
		ID:        big.NewInt(42),
		Reference: &ref,
		Timestamp: ts,
		Metadata:  map[string]string{"owner_id": "u1", "event_type": "deposit", "note": "SOL deposit"},
		Postings: []shared.V2Posting{
			{Source: "custody:hot_wallet", Destination: "users:u1", Asset: "SOL/9", Amount: big.NewInt(30_000_000)},
		},
	}

	entry := entryFromTransaction(tx)
	if entry.Id != "42" || entry.OwnerId != "u1" || entry.EntryType != models.EntryTypeDeposit {
		t.Errorf("Unexpected entry identity %+v", entry)
	}
	if entry.Amount != 30_000_000 || entry.IdempotencyKey != ref || !entry.CreatedAt.Equal(ts) {
		t.Errorf("Unexpected entry values %+v", entry)
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"SOL/9":  {Input: big.NewInt(100), Output: big.NewInt(40)},
		"USDC/6": {Input: big.NewInt(5), Output: big.NewInt(0), Balance: big.NewInt(5)},
	}
	if got := volumeBalance(vols, "SOL/9"); got.Int64() != 60 {
		t.Errorf("Expected 60, got %s", got)
	}
	if got := volumeBalance(vols, "USDC/6"); got.Int64() != 5 {
		t.Errorf("Expected 5, got %s", got)
	}
	if got := volumeBalance(vols, "BTC/8"); got != nil {
		t.Errorf("Expected nil, got %s", got)
	}
}

func TestFilterStale(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	accounts := []models.Account{
		{OwnerId: "recent", Balance: 10, WalletAddress: "W", LastActivityAt: cutoff.Add(time.Second)},
		{OwnerId: "edge", Balance: 10, WalletAddress: "W", LastActivityAt: cutoff},
		{OwnerId: "old", Balance: 10, WalletAddress: "W", LastActivityAt: cutoff.Add(-48 * time.Hour)},
		{OwnerId: "nowallet", Balance: 10, LastActivityAt: cutoff.Add(-48 * time.Hour)},
		{OwnerId: "empty", Balance: 0, WalletAddress: "W", LastActivityAt: cutoff.Add(-48 * time.Hour)},
		{OwnerId: "unknown", Balance: 10, WalletAddress: "W"},
	}

	stale := filterStale(accounts, cutoff)
	if len(stale) != 2 || stale[0].OwnerId != "old" || stale[1].OwnerId != "edge" {
		t.Errorf("Expected [old edge], got %+v", stale)
	}
}

func TestIsUserAccount(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"users:u1", true},
		{"users:", false},
		{"users:u1:sub", false},
		{"custody:hot_wallet", false},
	}
	for _, tt := range tests {
		if got := isUserAccount(tt.address); got != tt.want {
			t.Errorf("isUserAccount(%q) = %v, want %v", tt.address, got, tt.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 123, time.UTC)
	if got := parseTime(formatTime(now)); !got.Equal(now) {
		t.Errorf("Expected %v, got %v", now, got)
	}
	if got := parseTime("garbage"); !got.IsZero() {
		t.Errorf("Expected zero time, got %v", got)
	}
}

func TestIsConflictError(t *testing.T) {
	if isConflictError(nil) {
		t.Error("nil should not be a conflict error")
	}
	if isInsufficientFundError(nil) {
		t.Error("nil should not be an insufficient fund error")
	}
}
