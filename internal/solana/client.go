package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"deposit-reconciler-go/internal/models"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rpc rate limited")

// Client is the subset of the Solana JSON-RPC API the reconciler needs.
type Client interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error)
	// GetTransaction returns nil, nil when the node does not know the signature yet.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, programId string) ([]TokenAccount, error)
}

// Compile-time check: *RPCClient must satisfy Client.
var _ Client = (*RPCClient)(nil)

type RPCClient struct {
	rpc        *rpc.Client
	limiter    *rate.Limiter
	commitment string
	timeout    time.Duration
}

func NewRPCClient(ctx context.Context, cfg models.SolanaConfig) (*RPCClient, error) {
	if cfg.RpcURL == "" {
		return nil, fmt.Errorf("solana rpc url cannot be empty")
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to dial solana rpc: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	zap.L().Info("Solana RPC client initialized",
		zap.String("commitment", cfg.Commitment),
		zap.Float64("rate_limit", cfg.RateLimit),
		zap.Int("rate_burst", burst))

	return &RPCClient{
		rpc:        rpcClient,
		limiter:    rate.NewLimiter(limit, burst),
		commitment: cfg.Commitment,
		timeout:    cfg.RequestTimeout,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 5,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.rpc.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", method, ErrRateLimited)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	params := map[string]any{"commitment": c.commitment}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Before != "" {
		params["before"] = opts.Before
	}
	if opts.Until != "" {
		params["until"] = opts.Until
	}

	var result []SignatureInfo
	if err := c.call(ctx, &result, "getSignaturesForAddress", address, params); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	}

	var result *Transaction
	if err := c.call(ctx, &result, "getTransaction", signature, params); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) GetTokenAccountsByOwner(ctx context.Context, owner, programId string) ([]TokenAccount, error) {
	filter := map[string]string{"programId": programId}
	params := map[string]any{"encoding": "jsonParsed", "commitment": c.commitment}

	var result tokenAccountsResult
	if err := c.call(ctx, &result, "getTokenAccountsByOwner", owner, filter, params); err != nil {
		return nil, err
	}

	accounts := make([]TokenAccount, 0, len(result.Value))
	for _, v := range result.Value {
		info := v.Account.Data.Parsed.Info
		accounts = append(accounts, TokenAccount{
			Pubkey:   v.Pubkey,
			Mint:     info.Mint,
			Owner:    info.Owner,
			Decimals: info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}
