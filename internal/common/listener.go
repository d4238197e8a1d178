package common

import (
	"context"
	"errors"
	"fmt"

	"deposit-reconciler-go/internal/listener"
	"deposit-reconciler-go/internal/metrics"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/registry"
	"deposit-reconciler-go/internal/solana"
	"deposit-reconciler-go/internal/swap"

	"go.uber.org/zap"
)

// Reconciler is a deposit listener together with the chain client it owns.
type Reconciler struct {
	Listener *listener.DepositListener
	Registry *registry.Registry
	rpc      *solana.RPCClient
}

func (r *Reconciler) Close() {
	if r.rpc != nil {
		r.rpc.Close()
	}
}

// NewReconciler wires the deposit listener from configuration. Token
// deposits are only accepted when a swap executor is configured.
func NewReconciler(ctx context.Context, cfg *models.Config, services *Services) (*Reconciler, error) {
	if err := solana.ValidateAddress(cfg.Solana.CustodialAddress); err != nil {
		return nil, fmt.Errorf("CUSTODIAL_WALLET_ADDRESS: %w", err)
	}

	tokens, err := LoadTokenConfig(cfg.Listener.TokensFile)
	if err != nil {
		return nil, err
	}

	var converter listener.Converter
	swapClient, err := swap.NewClient(cfg.Swap)
	switch {
	case errors.Is(err, swap.ErrNotConfigured):
		if len(tokens) > 0 {
			zap.L().Warn("SWAP_API_URL not set, token deposits will not be accepted",
				zap.Int("configured_tokens", len(tokens)))
		}
		tokens = nil
	case err != nil:
		return nil, err
	default:
		converter = swapClient
	}

	rpcClient, err := solana.NewRPCClient(ctx, cfg.Solana)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Config{
		Prefix:   cfg.Codes.Prefix,
		Alphabet: cfg.Codes.Alphabet,
		Length:   cfg.Codes.Length,
		TTL:      cfg.Codes.TTL,
	})

	l, err := listener.NewDepositListener(listener.DepositListenerConfig{
		Rpc:                rpcClient,
		Ledger:             services.Ledger,
		State:              services.State,
		Registry:           reg,
		Converter:          converter,
		Metrics:            metrics.Reconciler(),
		CustodialAddress:   cfg.Solana.CustodialAddress,
		TokenProgramIds:    cfg.Solana.TokenProgramIds,
		Tokens:             tokens,
		CodePrefix:         cfg.Codes.Prefix,
		CodeLength:         cfg.Codes.Length,
		PollInterval:       cfg.Listener.PollInterval,
		InitialPollDelay:   cfg.Listener.InitialPollDelay,
		PageSize:           cfg.Listener.PageSize,
		MaxPagesPerCycle:   cfg.Listener.MaxPagesPerCycle,
		RetryLimit:         cfg.Listener.RetryLimit,
		MinDepositLamports: cfg.Listener.MinDepositLamports,
	})
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	zap.L().Info("Deposit reconciler configured",
		zap.String("custodial_address", cfg.Solana.CustodialAddress),
		zap.Int("tokens", len(tokens)),
		zap.Bool("conversion_enabled", converter != nil))

	return &Reconciler{Listener: l, Registry: reg, rpc: rpcClient}, nil
}
