package store

import (
	"context"
	"errors"
	"time"

	"deposit-reconciler-go/internal/models"
)

// Sentinel errors shared across backends. Callers use errors.Is to detect them.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// DepositParams credits an owner. IdempotencyKey is the chain reference.
type DepositParams struct {
	OwnerId        string
	Amount         int64 // lamports
	IdempotencyKey string
	Note           string
}

// DebitParams removes funds from an owner, e.g. after a confirmed refund payout.
type DebitParams struct {
	OwnerId        string
	Amount         int64 // lamports
	IdempotencyKey string
	Note           string
}

// CreditLedger is the authoritative balance store that every backend
// (SQLite, Formance, ...) must satisfy.
type CreditLedger interface {
	// Deposit must return the prior entry, with Replayed set, when the
	// idempotency key has been used before.
	Deposit(ctx context.Context, params DepositParams) (*models.LedgerEntry, error)
	Debit(ctx context.Context, params DebitParams) (*models.LedgerEntry, error)

	GetBalance(ctx context.Context, ownerId string) (int64, error)
	GetAccount(ctx context.Context, ownerId string) (*models.Account, error)
	GetAccounts(ctx context.Context) ([]models.Account, error)
	GetHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.LedgerEntry, error)

	RegisterWallet(ctx context.Context, ownerId, address string) error
	StaleBalances(ctx context.Context, inactiveSince time.Time) ([]models.Account, error)

	Close()
}

// StateStore holds the poller's idempotency bookkeeping: cursors, processed
// references and consumed-but-uncredited matches.
type StateStore interface {
	GetCursors(ctx context.Context) (map[string]string, error)
	SetCursors(ctx context.Context, cursors map[string]string) error

	// GetProcessed returns nil, nil when the reference has no recorded outcome.
	GetProcessed(ctx context.Context, reference string) (*models.ProcessedReference, error)
	// RecordProcessed reports whether the record was written. An existing
	// record is only replaced when an unmatched reference becomes credited.
	RecordProcessed(ctx context.Context, ref models.ProcessedReference) (bool, error)

	SavePendingMatch(ctx context.Context, match models.PendingMatch) error
	GetPendingMatch(ctx context.Context, reference string) (*models.PendingMatch, error)
	ListPendingMatches(ctx context.Context) ([]models.PendingMatch, error)
	DeletePendingMatch(ctx context.Context, reference string) error
}
