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
	"fmt"
	"sort"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/solana"

	"go.uber.org/zap"
)

// pollSignatures lists new signatures for every watched address since its
// cursor. Any listing failure fails the whole call so no cursor moves.
// The returned refs are oldest first and de-duplicated.
func (l *DepositListener) pollSignatures(ctx context.Context, watch []models.WatchedAddress, cursors map[string]string) ([]models.SignatureRef, map[string]string, error) {
	newCursors := make(map[string]string)
	var merged []models.SignatureRef
	seen := make(map[string]bool)

	for _, w := range watch {
		sigs, err := l.listAddress(ctx, w.Address, cursors[w.Address])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list signatures for %s: %w", w.Address, err)
		}
		if len(sigs) == 0 {
			continue
		}

		newCursors[w.Address] = sigs[0].Signature

		// RPC order is newest first
		for i := len(sigs) - 1; i >= 0; i-- {
			sig := sigs[i]
			if seen[sig.Signature] {
				continue
			}
			seen[sig.Signature] = true
			merged = append(merged, models.SignatureRef{
				Signature: sig.Signature,
				Address:   w.Address,
				Slot:      sig.Slot,
				BlockTime: sig.BlockTime,
				Failed:    sig.Failed(),
			})
		}
	}

	sortChronological(merged)
	return merged, newCursors, nil
}

// listAddress returns newest-first signatures after cursor. With a cursor,
// full pages are followed backwards up to maxPagesPerCycle.
func (l *DepositListener) listAddress(ctx context.Context, address, cursor string) ([]solana.SignatureInfo, error) {
	opts := solana.SignaturesOptions{Limit: l.pageSize, Until: cursor}

	var all []solana.SignatureInfo
	for page := 0; page < l.maxPagesPerCycle; page++ {
		sigs, err := l.rpc.GetSignaturesForAddress(ctx, address, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, sigs...)

		if cursor == "" || len(sigs) < l.pageSize {
			break
		}
		if page == l.maxPagesPerCycle-1 {
			// The cursor still advances; anything between cursor and the
			// oldest signature listed here needs a manual claim.
			zap.L().Error("Signature backlog exceeds page budget",
				zap.String("address", address),
				zap.String("cursor", cursor),
				zap.String("oldest_listed", sigs[len(sigs)-1].Signature),
				zap.Int("pages", l.maxPagesPerCycle),
				zap.Int("page_size", l.pageSize))
			break
		}
		opts.Before = sigs[len(sigs)-1].Signature
	}
	return all, nil
}

// sortChronological orders refs by block time then slot, keeping arrival
// order for ties. Refs without a block time sort last.
func sortChronological(refs []models.SignatureRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		switch {
		case a.BlockTime == nil && b.BlockTime == nil:
		case a.BlockTime == nil:
			return false
		case b.BlockTime == nil:
			return true
		case *a.BlockTime != *b.BlockTime:
			return *a.BlockTime < *b.BlockTime
		}
		return a.Slot < b.Slot
	})
}
