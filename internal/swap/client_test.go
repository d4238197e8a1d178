package swap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deposit-reconciler-go/internal/listener"
	"deposit-reconciler-go/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(models.SwapConfig{BaseURL: server.URL + "/", ApiKey: "k3y", SlippageBps: 50, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestSwapToSettlement(t *testing.T) {
	var got swapRequest
	var headers http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/swaps" {
			t.Errorf("Expected /v1/swaps, got %s", r.URL.Path)
		}
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"out_amount":"12345678","signature":"swapSig"}`))
	})

	result, err := client.SwapToSettlement(context.Background(), listener.SwapRequest{
		Mint: "USDCmint", RawAmount: 2_500_000, Decimals: 6, Reference: "depositSig",
	})
	if err != nil {
		t.Fatalf("SwapToSettlement failed: %v", err)
	}
	if result.SettlementAmount != 12_345_678 || result.ConfirmationRef != "swapSig" {
		t.Errorf("Expected 12345678 via swapSig, got %+v", result)
	}

	if got.InputMint != "USDCmint" || got.OutputMint != NativeMint || got.Amount != "2500000" || got.SlippageBps != 50 {
		t.Errorf("Unexpected request body %+v", got)
	}
	if headers.Get("Idempotency-Key") != "depositSig" {
		t.Errorf("Expected idempotency key depositSig, got %q", headers.Get("Idempotency-Key"))
	}
	if headers.Get("X-API-Key") != "k3y" {
		t.Errorf("Expected api key header, got %q", headers.Get("X-API-Key"))
	}
}

func TestSwapToSettlement_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"no route", http.StatusUnprocessableEntity, `{"error":"no route"}`, true},
		{"executor down", http.StatusBadGateway, `upstream timeout`, false},
		{"rate limited", http.StatusTooManyRequests, ``, false},
		{"zero output", http.StatusOK, `{"out_amount":"0","signature":"s"}`, true},
		{"fractional output", http.StatusOK, `{"out_amount":"1.5","signature":"s"}`, true},
		{"garbage", http.StatusOK, `not json`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			result, err := client.SwapToSettlement(context.Background(), listener.SwapRequest{
				Mint: "USDCmint", RawAmount: 1, Decimals: 6, Reference: "ref",
			})
			if err == nil {
				t.Fatalf("Expected error, got %+v", result)
			}
			if errors.Is(err, ErrRejected) != tt.rejected {
				t.Errorf("Expected rejected=%v, got %v", tt.rejected, err)
			}
		})
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(models.SwapConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
