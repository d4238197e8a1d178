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

package api

import (
	"context"
	"fmt"
	"strings"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/solana"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const lamportDecimals = 9

// GetBalance returns the owner's settlement balance and refund wallet
func (s *DepositService) GetBalance(ctx context.Context, ownerId string) (*models.UserBalance, error) {
	if ownerId == "" {
		return nil, ErrOwnerRequired
	}

	balance, err := s.ledger.GetBalance(ctx, ownerId)
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance")
	}

	result := &models.UserBalance{
		OwnerId:  ownerId,
		Lamports: balance,
		Sol:      decimal.New(balance, -lamportDecimals),
	}
	if account, err := s.ledger.GetAccount(ctx, ownerId); err == nil {
		result.Wallet = account.WalletAddress
	}
	return result, nil
}

// GetTransactionHistory returns paginated ledger history for an owner
func (s *DepositService) GetTransactionHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.TransactionRecord, error) {
	if ownerId == "" {
		return nil, ErrOwnerRequired
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.ledger.GetHistory(ctx, ownerId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("owner_id", ownerId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history")
	}

	result := make([]models.TransactionRecord, len(entries))
	for i, entry := range entries {
		result[i] = models.TransactionRecord{
			Id:          entry.Id,
			Type:        entry.EntryType,
			Lamports:    entry.Amount,
			Sol:         decimal.New(entry.Amount, -lamportDecimals),
			Reference:   entry.IdempotencyKey,
			Note:        entry.Note,
			ProcessedAt: entry.CreatedAt,
		}
	}

	return result, nil
}

// RegisterWallet sets the address inactivity refunds are paid to
func (s *DepositService) RegisterWallet(ctx context.Context, ownerId, address string) error {
	if ownerId == "" {
		return ErrOwnerRequired
	}
	address = strings.TrimSpace(address)
	if err := solana.ValidateAddress(address); err != nil {
		return err
	}
	if err := s.ledger.RegisterWallet(ctx, ownerId, address); err != nil {
		return fmt.Errorf("failed to register wallet: %w", err)
	}
	return nil
}
