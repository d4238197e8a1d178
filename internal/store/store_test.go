package store

import (
	"context"
	"testing"

	"deposit-reconciler-go/internal/models"
)

func TestMemoryState_RecordProcessed(t *testing.T) {
	ctx := context.Background()
	state := NewMemoryState()

	written, err := state.RecordProcessed(ctx, models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeUnmatched})
	if err != nil || !written {
		t.Fatalf("Expected first record to be written, got written=%v err=%v", written, err)
	}

	written, _ = state.RecordProcessed(ctx, models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeUnmatched})
	if written {
		t.Error("Expected repeated unmatched record to be ignored")
	}

	written, _ = state.RecordProcessed(ctx, models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeCredited, OwnerId: "u1"})
	if !written {
		t.Error("Expected unmatched reference to be upgraded to credited")
	}

	written, _ = state.RecordProcessed(ctx, models.ProcessedReference{Reference: "sig1", Outcome: models.OutcomeCredited, OwnerId: "u2"})
	if written {
		t.Error("Expected credited reference to never be replaced")
	}

	ref, err := state.GetProcessed(ctx, "sig1")
	if err != nil {
		t.Fatalf("GetProcessed failed: %v", err)
	}
	if ref == nil || ref.OwnerId != "u1" || ref.Outcome != models.OutcomeCredited {
		t.Errorf("Expected sig1 credited to u1, got %+v", ref)
	}

	missing, _ := state.GetProcessed(ctx, "nope")
	if missing != nil {
		t.Errorf("Expected nil for unknown reference, got %+v", missing)
	}
}

func TestMemoryState_CursorsAndPending(t *testing.T) {
	ctx := context.Background()
	state := NewMemoryState()

	if err := state.SetCursors(ctx, map[string]string{"a": "s1", "b": "s2"}); err != nil {
		t.Fatalf("SetCursors failed: %v", err)
	}
	if err := state.SetCursors(ctx, map[string]string{"a": "s3"}); err != nil {
		t.Fatalf("SetCursors failed: %v", err)
	}
	cursors, _ := state.GetCursors(ctx)
	if cursors["a"] != "s3" || cursors["b"] != "s2" {
		t.Errorf("Expected a=s3 b=s2, got %v", cursors)
	}

	_ = state.SavePendingMatch(ctx, models.PendingMatch{Reference: "r1", OwnerId: "u1"})
	_ = state.SavePendingMatch(ctx, models.PendingMatch{Reference: "r2", OwnerId: "u2"})
	_ = state.SavePendingMatch(ctx, models.PendingMatch{Reference: "r1", OwnerId: "u1", Attempts: 2})

	matches, _ := state.ListPendingMatches(ctx)
	if len(matches) != 2 {
		t.Fatalf("Expected 2 pending matches, got %d", len(matches))
	}
	m, _ := state.GetPendingMatch(ctx, "r1")
	if m == nil || m.Attempts != 2 {
		t.Errorf("Expected r1 with 2 attempts, got %+v", m)
	}

	_ = state.DeletePendingMatch(ctx, "r1")
	if m, _ := state.GetPendingMatch(ctx, "r1"); m != nil {
		t.Errorf("Expected r1 deleted, got %+v", m)
	}
}
