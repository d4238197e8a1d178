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


package listener

import (
	"context"
	"sort"

	"deposit-reconciler-go/internal/models"

	"go.uber.org/zap"
)

// WatchSet resolves and returns the current watch set, custodial address first.
func (l *DepositListener) WatchSet(ctx context.Context) []models.WatchedAddress {
	return l.resolveWatchSet(ctx)
}

// resolveWatchSet adds every token account owned by the custodial wallet to
// the known set. Lookup failures keep what is already known.
func (l *DepositListener) resolveWatchSet(ctx context.Context) []models.WatchedAddress {
	for _, programId := range l.tokenProgramIds {
		accounts, err := l.rpc.GetTokenAccountsByOwner(ctx, l.custodialAddress, programId)
		if err != nil {
			zap.L().Warn("Failed to resolve token accounts, keeping known watch set",
				zap.String("program_id", programId),
				zap.Error(err))
			continue
		}

		l.watchMutex.Lock()
		for _, account := range accounts {
			if _, known := l.watch[account.Pubkey]; known {
				continue
			}
			l.watch[account.Pubkey] = models.WatchedAddress{
				Address: account.Pubkey,
				Kind:    models.WatchKindToken,
				Mint:    account.Mint,
			}
			symbol := "unsupported"
			if token, ok := l.classifier.Token(account.Mint); ok {
				symbol = token.Symbol
			}
			zap.L().Info("Watching token account",
				zap.String("address", account.Pubkey),
				zap.String("mint", account.Mint),
				zap.String("symbol", symbol))
		}
		l.watchMutex.Unlock()
	}

	return l.watchedAddresses()
}

func (l *DepositListener) watchedAddresses() []models.WatchedAddress {
	l.watchMutex.RLock()
	defer l.watchMutex.RUnlock()

	out := make([]models.WatchedAddress, 0, len(l.watch))
	for _, w := range l.watch {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == models.WatchKindSettlement
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (l *DepositListener) watchMap() map[string]models.WatchedAddress {
	l.watchMutex.RLock()
	defer l.watchMutex.RUnlock()

	out := make(map[string]models.WatchedAddress, len(l.watch))
	for k, v := range l.watch {
		out[k] = v
	}
	return out
}
