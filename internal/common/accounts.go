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

package common

import (
	"context"
	"errors"
	"fmt"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"go.uber.org/zap"
)

// SelectAccounts returns the single account for ownerFilter, or every
// account when the filter is empty.
func SelectAccounts(ctx context.Context, ledger store.CreditLedger, ownerFilter string, logger *zap.Logger) ([]models.Account, error) {
	if ownerFilter != "" {
		logger.Info("Looking up account by owner", zap.String("owner_id", ownerFilter))
		account, err := ledger.GetAccount(ctx, ownerFilter)
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, fmt.Errorf("owner %s has no account: %w", ownerFilter, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get account: %w", err)
		}
		return []models.Account{*account}, nil
	}

	accounts, err := ledger.GetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
