/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time checks: *Service must satisfy both store interfaces.
var (
	_ store.CreditLedger = (*Service)(nil)
	_ store.StateStore   = (*Service)(nil)
)

// maxWriteAttempts bounds retries after an optimistic-lock conflict.
const maxWriteAttempts = 3

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
	now       func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{db: db, subledger: NewSubledgerService(db), now: time.Now}
}

// setClock swaps the time source for both the service and its subledger.
func (s *Service) setClock(now func() time.Time) {
	s.now = now
	s.subledger.now = now
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	if err := s.subledger.InitSchema(); err != nil {
		return fmt.Errorf("subledger schema: %w", err)
	}
	if _, err := s.db.Exec(stateSchema); err != nil {
		return fmt.Errorf("state schema: %w", err)
	}
	return nil
}

// Deposit credits an owner. A reused idempotency key returns the entry that
// was written the first time with Replayed set.
func (s *Service) Deposit(ctx context.Context, params store.DepositParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}

	return s.writeEntry(ctx, EntryParams{
		OwnerId:        params.OwnerId,
		EntryType:      models.EntryTypeDeposit,
		Amount:         params.Amount,
		IdempotencyKey: params.IdempotencyKey,
		Note:           params.Note,
	})
}

// Debit removes funds after a confirmed payout. Same replay rules as Deposit.
func (s *Service) Debit(ctx context.Context, params store.DebitParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}

	return s.writeEntry(ctx, EntryParams{
		OwnerId:        params.OwnerId,
		EntryType:      models.EntryTypeRefund,
		Amount:         -params.Amount,
		IdempotencyKey: params.IdempotencyKey,
		Note:           params.Note,
	})
}

func (s *Service) writeEntry(ctx context.Context, params EntryParams) (*models.LedgerEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		entry, err := s.subledger.ProcessEntry(ctx, params)
		switch {
		case err == nil:
			return entry, nil
		case errors.Is(err, store.ErrDuplicateTransaction):
			prior, lookupErr := s.subledger.GetEntryByKey(ctx, params.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to load replayed entry: %w", lookupErr)
			}
			if prior == nil {
				return nil, err
			}
			prior.Replayed = true
			return prior, nil
		case errors.Is(err, store.ErrConcurrentModification):
			zap.L().Warn("Concurrent ledger write, retrying",
				zap.String("owner_id", params.OwnerId),
				zap.Int("attempt", attempt))
			lastErr = err
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Service) GetBalance(ctx context.Context, ownerId string) (int64, error) {
	return s.subledger.GetBalance(ctx, ownerId)
}

func (s *Service) GetAccount(ctx context.Context, ownerId string) (*models.Account, error) {
	return s.subledger.GetAccount(ctx, ownerId)
}

func (s *Service) GetAccounts(ctx context.Context) ([]models.Account, error) {
	return s.subledger.GetAccounts(ctx)
}

func (s *Service) GetHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.LedgerEntry, error) {
	return s.subledger.GetHistory(ctx, ownerId, limit, offset)
}

func (s *Service) RegisterWallet(ctx context.Context, ownerId, address string) error {
	return s.subledger.RegisterWallet(ctx, ownerId, address)
}

func (s *Service) StaleBalances(ctx context.Context, inactiveSince time.Time) ([]models.Account, error) {
	return s.subledger.StaleBalances(ctx, inactiveSince)
}

func (s *Service) ReconcileBalance(ctx context.Context, ownerId string) error {
	return s.subledger.ReconcileBalance(ctx, ownerId)
}
