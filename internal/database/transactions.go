package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// EntryParams contains the parameters for writing one ledger entry. Amount is
// signed: credits are positive, debits negative.
type EntryParams struct {
	OwnerId        string
	EntryType      string
	Amount         int64
	IdempotencyKey string
	Note           string
}

// ProcessEntry atomically updates the account balance and records the entry
func (s *SubledgerService) ProcessEntry(ctx context.Context, params EntryParams) (*models.LedgerEntry, error) {
	zap.L().Info("Processing ledger entry",
		zap.String("owner_id", params.OwnerId),
		zap.String("type", params.EntryType),
		zap.Int64("amount", params.Amount),
		zap.String("idempotency_key", params.IdempotencyKey))

	if params.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	existing, err := s.GetEntryByKey(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate entry: %w", err)
	}
	if existing != nil {
		zap.L().Warn("Duplicate idempotency key detected, skipping",
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.String("existing_entry_id", existing.Id))
		return nil, fmt.Errorf("%w: idempotency_key %s already exists", store.ErrDuplicateTransaction, params.IdempotencyKey)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()

	var currentBalance, version int64
	err = tx.QueryRowContext(ctx, queryGetAccountForUpdate, params.OwnerId).Scan(&currentBalance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		if params.Amount < 0 {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.OwnerId)
		}
		if _, err := tx.ExecContext(ctx, queryInsertAccount, params.OwnerId, sqlTime(now), sqlTime(now), sqlTime(now)); err != nil {
			if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) {
				return nil, fmt.Errorf("account creation raced - %w", store.ErrConcurrentModification)
			}
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		currentBalance, version = 0, 1
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	newBalance := currentBalance + params.Amount
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, debit %d", store.ErrInsufficientBalance, currentBalance, -params.Amount)
	}

	entry := &models.LedgerEntry{
		Id:             uuid.New().String(),
		OwnerId:        params.OwnerId,
		EntryType:      params.EntryType,
		Amount:         params.Amount,
		BalanceBefore:  currentBalance,
		BalanceAfter:   newBalance,
		IdempotencyKey: params.IdempotencyKey,
		Note:           params.Note,
		CreatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, queryInsertEntry,
		entry.Id, entry.OwnerId, entry.EntryType, entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
		entry.IdempotencyKey, entry.Note, sqlTime(now))
	if err != nil {
		if isConstraintError(err, sqlite3.ErrConstraintUnique) {
			return nil, fmt.Errorf("%w: idempotency_key %s already exists", store.ErrDuplicateTransaction, params.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	// Optimistic locking on the account version
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		newBalance, entry.Id, sqlTime(now), sqlTime(now), params.OwnerId, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry processed successfully",
		zap.String("entry_id", entry.Id),
		zap.String("owner_id", params.OwnerId),
		zap.Int64("old_balance", currentBalance),
		zap.Int64("new_balance", newBalance))

	return entry, nil
}

// addJournalEntries creates double-entry bookkeeping entries
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
	type journalLine struct {
		accountType  string
		accountId    string
		debitAmount  int64
		creditAmount int64
	}

	userAccount := "user_sol_" + entry.OwnerId
	var lines []journalLine

	switch entry.EntryType {
	case models.EntryTypeDeposit:
		// Custody holds more SOL (debit), we owe the owner more (credit)
		lines = []journalLine{
			{"custody_asset", "hot_wallet_sol", entry.Amount, 0},
			{"user_liability", userAccount, 0, entry.Amount},
		}
	case models.EntryTypeRefund:
		// SOL left custody (credit), we owe the owner less (debit)
		amount := -entry.Amount
		lines = []journalLine{
			{"user_liability", userAccount, amount, 0},
			{"custody_asset", "hot_wallet_sol", 0, amount},
		}
	}

	for _, line := range lines {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), entry.Id, line.accountType, line.accountId, line.debitAmount, line.creditAmount)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetEntryByKey returns the entry written for an idempotency key, or nil if none exists.
func (s *SubledgerService) GetEntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.QueryRowContext(ctx, queryGetEntryByKey, key).Scan(
		&entry.Id, &entry.OwnerId, &entry.EntryType, &entry.Amount,
		&entry.BalanceBefore, &entry.BalanceAfter, &entry.IdempotencyKey, &entry.Note, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry by key: %w", err)
	}
	return &entry, nil
}

// GetHistory returns paginated entry history for an owner, newest first
func (s *SubledgerService) GetHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.LedgerEntry, error) {
	zap.L().Debug("Getting ledger history",
		zap.String("owner_id", ownerId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetHistory, ownerId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(&entry.Id, &entry.OwnerId, &entry.EntryType, &entry.Amount,
			&entry.BalanceBefore, &entry.BalanceAfter, &entry.IdempotencyKey, &entry.Note, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during ledger entry row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}

	return entries, nil
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}
