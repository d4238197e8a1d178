package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"deposit-reconciler-go/internal/listener"
	"deposit-reconciler-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// NativeMint is the wrapped SOL mint every swap settles into.
const NativeMint = "So11111111111111111111111111111111111111112"

var (
	ErrNotConfigured = errors.New("swap executor not configured")
	ErrRejected      = errors.New("swap rejected")
)

// Compile-time check: *Client must satisfy listener.Converter.
var _ listener.Converter = (*Client)(nil)

// Client converts token deposits to SOL through an HTTP swap executor.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	slippageBps int
}

type swapRequest struct {
	InputMint   string `json:"input_mint"`
	OutputMint  string `json:"output_mint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippage_bps"`
	Reference   string `json:"client_reference"`
}

type swapResponse struct {
	OutAmount string `json:"out_amount"`
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

func NewClient(cfg models.SwapConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	httpClient, err := createCustomHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.ApiKey,
		slippageBps: cfg.SlippageBps,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 45 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// SwapToSettlement sells the deposited tokens for SOL. The chain reference is
// sent as the idempotency key so a retried swap is never executed twice.
func (c *Client) SwapToSettlement(ctx context.Context, req listener.SwapRequest) (*listener.SwapResult, error) {
	if req.RawAmount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrRejected)
	}

	zap.L().Info("Requesting token swap",
		zap.String("reference", req.Reference),
		zap.String("mint", req.Mint),
		zap.String("amount", decimal.NewFromBigInt(newUint(req.RawAmount), int32(-req.Decimals)).String()),
		zap.Int("slippage_bps", c.slippageBps))

	body, err := json.Marshal(swapRequest{
		InputMint:   req.Mint,
		OutputMint:  NativeMint,
		Amount:      fmt.Sprintf("%d", req.RawAmount),
		SlippageBps: c.slippageBps,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/swaps", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Warn("Failed to close swap response body", zap.Error(err))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read swap response: %w", err)
	}

	var decoded swapResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode swap response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := decoded.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("swap executor returned status %d: %s", resp.StatusCode, msg)
	}

	out, err := decimal.NewFromString(decoded.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid out_amount %q: %w", decoded.OutAmount, err)
	}
	if !out.IsInteger() || !out.IsPositive() {
		return nil, fmt.Errorf("%w: out_amount %s is not a positive lamport amount", ErrRejected, out)
	}

	zap.L().Info("Token swap confirmed",
		zap.String("reference", req.Reference),
		zap.String("signature", decoded.Signature),
		zap.String("lamports", out.String()))

	return &listener.SwapResult{
		SettlementAmount: out.IntPart(),
		ConfirmationRef:  decoded.Signature,
	}, nil
}

func newUint(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
