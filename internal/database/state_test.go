package database

import (
	"context"
	"testing"

	"deposit-reconciler-go/internal/models"
)

func TestState_Cursors(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if err := service.SetCursors(ctx, map[string]string{"hot": "sigA", "ata": "sigB"}); err != nil {
		t.Fatalf("SetCursors failed: %v", err)
	}
	if err := service.SetCursors(ctx, map[string]string{"hot": "sigC"}); err != nil {
		t.Fatalf("SetCursors failed: %v", err)
	}

	cursors, err := service.GetCursors(ctx)
	if err != nil {
		t.Fatalf("GetCursors failed: %v", err)
	}
	if cursors["hot"] != "sigC" || cursors["ata"] != "sigB" {
		t.Errorf("Expected hot=sigC ata=sigB, got %v", cursors)
	}
}

func TestState_RecordProcessed(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	tests := []struct {
		name    string
		ref     models.ProcessedReference
		written bool
	}{
		{"first unmatched", models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeUnmatched, Amount: 10}, true},
		{"repeat unmatched", models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeUnmatched}, false},
		{"claim upgrades", models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeCredited, OwnerId: "u1", Amount: 10}, true},
		{"credited is final", models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeCredited, OwnerId: "u2"}, false},
	}
	for _, tt := range tests {
		written, err := service.RecordProcessed(ctx, tt.ref)
		if err != nil {
			t.Fatalf("%s: RecordProcessed failed: %v", tt.name, err)
		}
		if written != tt.written {
			t.Errorf("%s: expected written=%v, got %v", tt.name, tt.written, written)
		}
	}

	ref, err := service.GetProcessed(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetProcessed failed: %v", err)
	}
	if ref == nil || ref.OwnerId != "u1" || ref.Outcome != models.OutcomeCredited {
		t.Errorf("Expected sig1 credited to u1, got %+v", ref)
	}

	if missing, _ := service.GetProcessed(ctx, "unknown"); missing != nil {
		t.Errorf("Expected nil for unknown reference, got %+v", missing)
	}
}

func TestState_PendingMatches(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	first := models.PendingMatch{Reference: "r1", OwnerId: "u1", ToAddress: "ata", Mint: "mintA", RawAmount: 1_500_000, Decimals: 6}
	second := models.PendingMatch{Reference: "r2", OwnerId: "u2", ToAddress: "hot", RawAmount: 20_000_000, SettlementAmount: 20_000_000}

	if err := service.SavePendingMatch(ctx, first); err != nil {
		t.Fatalf("SavePendingMatch failed: %v", err)
	}
	if err := service.SavePendingMatch(ctx, second); err != nil {
		t.Fatalf("SavePendingMatch failed: %v", err)
	}

	first.SettlementAmount = 9_000_000
	first.SwapRef = "swap-1"
	first.Attempts = 1
	first.LastError = "ledger unavailable"
	if err := service.SavePendingMatch(ctx, first); err != nil {
		t.Fatalf("SavePendingMatch update failed: %v", err)
	}

	matches, err := service.ListPendingMatches(ctx)
	if err != nil {
		t.Fatalf("ListPendingMatches failed: %v", err)
	}
	if len(matches) != 2 || matches[0].Reference != "r1" {
		t.Fatalf("Expected [r1 r2], got %+v", matches)
	}
	if matches[0].SwapRef != "swap-1" || !matches[0].Converted() || matches[0].RawAmount != 1_500_000 {
		t.Errorf("Expected converted r1 with swap-1, got %+v", matches[0])
	}

	if err := service.DeletePendingMatch(ctx, "r1"); err != nil {
		t.Fatalf("DeletePendingMatch failed: %v", err)
	}
	if m, _ := service.GetPendingMatch(ctx, "r1"); m != nil {
		t.Errorf("Expected r1 deleted, got %+v", m)
	}
}
