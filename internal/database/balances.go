package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.OwnerId, &account.Balance, &account.WalletAddress,
		&account.LastActivityAt, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBalance returns current balance for an owner in lamports (O(1) lookup)
func (s *SubledgerService) GetBalance(ctx context.Context, ownerId string) (int64, error) {
	zap.L().Debug("Getting balance", zap.String("owner_id", ownerId))

	var balance int64
	err := s.db.QueryRowContext(ctx, queryGetBalance, ownerId).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// No account means zero balance
		return 0, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("owner_id", ownerId), zap.Error(err))
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

func (s *SubledgerService) GetAccount(ctx context.Context, ownerId string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccount, ownerId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, ownerId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccounts returns every account ordered by owner id
func (s *SubledgerService) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return s.queryAccounts(ctx, queryGetAccounts)
}

// StaleBalances returns funded accounts with a refund wallet whose last
// activity is at or before inactiveSince, oldest first.
func (s *SubledgerService) StaleBalances(ctx context.Context, inactiveSince time.Time) ([]models.Account, error) {
	zap.L().Debug("Getting stale balances", zap.Time("inactive_since", inactiveSince))
	return s.queryAccounts(ctx, queryGetStaleAccounts, sqlTime(inactiveSince))
}

func (s *SubledgerService) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during account row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

// ReconcileBalance verifies that current balance matches the sum of all entries
func (s *SubledgerService) ReconcileBalance(ctx context.Context, ownerId string) error {
	zap.L().Info("Reconciling balance", zap.String("owner_id", ownerId))

	currentBalance, err := s.GetBalance(ctx, ownerId)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	var calculatedBalance int64
	err = s.db.QueryRowContext(ctx, queryReconcileBalance, ownerId).Scan(&calculatedBalance)
	if err != nil {
		return fmt.Errorf("failed to calculate balance from entries: %w", err)
	}

	if currentBalance != calculatedBalance {
		zap.L().Error("Balance reconciliation failed",
			zap.String("owner_id", ownerId),
			zap.Int64("current_balance", currentBalance),
			zap.Int64("calculated_balance", calculatedBalance),
			zap.Int64("difference", currentBalance-calculatedBalance))
		return fmt.Errorf("balance mismatch: current=%d, calculated=%d", currentBalance, calculatedBalance)
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("owner_id", ownerId),
		zap.Int64("balance", currentBalance))
	return nil
}
