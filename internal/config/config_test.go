package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listener.MinDepositLamports != 10_000_000 {
		t.Errorf("Expected min deposit 10000000 lamports, got %d", cfg.Listener.MinDepositLamports)
	}
	if cfg.Listener.PageSize != 20 {
		t.Errorf("Expected page size 20, got %d", cfg.Listener.PageSize)
	}
	if cfg.Codes.Prefix != "JTT-" || cfg.Codes.Length != 8 {
		t.Errorf("Expected JTT- prefix with 8 characters, got %q/%d", cfg.Codes.Prefix, cfg.Codes.Length)
	}
	if cfg.Codes.TTL != time.Hour {
		t.Errorf("Expected code TTL 1h, got %v", cfg.Codes.TTL)
	}
	if cfg.Refund.InactivityThreshold != 7*24*time.Hour {
		t.Errorf("Expected inactivity 168h, got %v", cfg.Refund.InactivityThreshold)
	}
	if len(cfg.Solana.TokenProgramIds) != 1 || cfg.Solana.TokenProgramIds[0] != DefaultTokenProgram {
		t.Errorf("Expected default token program, got %v", cfg.Solana.TokenProgramIds)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MIN_DEPOSIT_SOL", "0.5")
	t.Setenv("POLL_INTERVAL", "20s")
	t.Setenv("TOKEN_PROGRAM_IDS", "ProgA, ProgB ,")
	t.Setenv("LEDGER_BACKEND", "Formance")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listener.MinDepositLamports != 500_000_000 {
		t.Errorf("Expected 500000000 lamports, got %d", cfg.Listener.MinDepositLamports)
	}
	if cfg.Listener.PollInterval != 20*time.Second {
		t.Errorf("Expected 20s poll interval, got %v", cfg.Listener.PollInterval)
	}
	if len(cfg.Solana.TokenProgramIds) != 2 || cfg.Solana.TokenProgramIds[1] != "ProgB" {
		t.Errorf("Expected [ProgA ProgB], got %v", cfg.Solana.TokenProgramIds)
	}
	if cfg.Ledger.Backend != "formance" {
		t.Errorf("Expected formance backend, got %q", cfg.Ledger.Backend)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "POLL_INTERVAL", "soon"},
		{"bad decimal", "MIN_DEPOSIT_SOL", "lots"},
		{"zero page size", "POLL_PAGE_SIZE", "0"},
		{"unknown backend", "LEDGER_BACKEND", "postgres"},
		{"unknown state backend", "STATE_BACKEND", "redis"},
		{"short code", "DEPOSIT_CODE_LENGTH", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
