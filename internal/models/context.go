package models

import (
	"context"
	"time"
)

type depositContextKey struct{}

// DepositContext carries supplementary chain data through context so a ledger
// backend can store it as entry metadata without changing the CreditLedger
// interface.
type DepositContext struct {
	Reference string    // chain transaction signature
	ToAddress string    // watched address that received the funds
	Mint      string    // empty for SOL
	Symbol    string    // token symbol, SOL for the settlement asset
	RawAmount uint64    // amount in the transfer's own base units
	Memo      string    // normalized memo, empty for manual claims
	Source    string    // "poller" or "claim"
	SwapRef   string    // conversion confirmation, if any
	Slot      uint64    // slot the transaction landed in
	BlockTime time.Time // effective time for the ledger entry
}

// WithDepositContext attaches chain deposit data to a context.
func WithDepositContext(ctx context.Context, dc *DepositContext) context.Context {
	return context.WithValue(ctx, depositContextKey{}, dc)
}

// GetDepositContext retrieves chain deposit data from context, or nil if absent.
func GetDepositContext(ctx context.Context) *DepositContext {
	dc, _ := ctx.Value(depositContextKey{}).(*DepositContext)
	return dc
}
