package models

import (
	"time"
)

// Processed reference outcomes
const (
	OutcomeCredited  = "credited"
	OutcomeUnmatched = "unmatched"
)

// Ledger entry types
const (
	EntryTypeDeposit = "deposit"
	EntryTypeRefund  = "refund"
)

// Account is an owner's settlement balance in lamports (hot data)
type Account struct {
	OwnerId        string    `db:"owner_id"`
	Balance        int64     `db:"balance"`
	WalletAddress  string    `db:"wallet_address"`
	LastActivityAt time.Time `db:"last_activity_at"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// LedgerEntry is one immutable credit or debit against an account (cold data)
type LedgerEntry struct {
	Id             string    `db:"id"`
	OwnerId        string    `db:"owner_id"`
	EntryType      string    `db:"entry_type"`
	Amount         int64     `db:"amount"`
	BalanceBefore  int64     `db:"balance_before"`
	BalanceAfter   int64     `db:"balance_after"`
	IdempotencyKey string    `db:"idempotency_key"`
	Note           string    `db:"note"`
	CreatedAt      time.Time `db:"created_at"`

	// Replayed is set when the entry already existed for the idempotency key
	// and no new entry was written.
	Replayed bool `db:"-"`
}

// ProcessedReference records the crediting decision for a chain transaction
type ProcessedReference struct {
	Reference string    `db:"reference"`
	Outcome   string    `db:"outcome"`
	OwnerId   string    `db:"owner_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PendingMatch is a transfer whose deposit code was consumed but which has not
// been credited yet.
type PendingMatch struct {
	Reference        string    `db:"reference"`
	OwnerId          string    `db:"owner_id"`
	ToAddress        string    `db:"to_address"`
	Mint             string    `db:"mint"`
	RawAmount        uint64    `db:"raw_amount"`
	Decimals         int       `db:"decimals"`
	SettlementAmount int64     `db:"settlement_amount"`
	SwapRef          string    `db:"swap_ref"`
	Attempts         int       `db:"attempts"`
	LastError        string    `db:"last_error"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Converted reports whether the settlement amount is already known.
func (m PendingMatch) Converted() bool {
	return m.Mint == "" || m.SettlementAmount > 0
}
