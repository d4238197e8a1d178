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
	"errors"
	"fmt"
	"strings"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/solana"

	"go.uber.org/zap"
)

// Claim credits ownerId for a reference the poller could not match. Business
// rejections come back in the result; the error is reserved for internal faults.
func (l *DepositListener) Claim(ctx context.Context, ownerId, reference string) (*models.ClaimResult, error) {
	ownerId = strings.TrimSpace(ownerId)
	reference = strings.TrimSpace(reference)
	if ownerId == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	zap.L().Info("Processing manual claim",
		zap.String("owner_id", ownerId),
		zap.String("reference", reference))

	result := l.claim(ctx, ownerId, reference)
	l.metrics.RecordClaim(result.Reason)
	if !result.Success {
		zap.L().Info("Manual claim rejected",
			zap.String("owner_id", ownerId),
			zap.String("reference", reference),
			zap.String("reason", result.Reason),
			zap.String("error", result.Error))
	}
	return result, nil
}

func (l *DepositListener) claim(ctx context.Context, ownerId, reference string) *models.ClaimResult {
	reject := func(reason, message string) *models.ClaimResult {
		return &models.ClaimResult{OwnerId: ownerId, Reference: reference, Reason: reason, Error: message}
	}

	if err := solana.ValidateSignature(reference); err != nil {
		return reject(models.ClaimInvalidReference, "reference must be a base58 transaction signature")
	}

	unlock := l.refLocks.Lock(reference)
	defer unlock()

	processed, err := l.state.GetProcessed(ctx, reference)
	if err != nil {
		return reject(models.ClaimLedgerUnavailable, err.Error())
	}
	if processed != nil && processed.Outcome == models.OutcomeCredited {
		return reject(models.ClaimAlreadyCredited, "this deposit has already been credited")
	}

	pending, err := l.state.GetPendingMatch(ctx, reference)
	if err != nil {
		return reject(models.ClaimLedgerUnavailable, err.Error())
	}
	if pending != nil {
		return reject(models.ClaimInProgress, "this deposit is already being credited, please wait")
	}

	tx, err := l.rpc.GetTransaction(ctx, reference)
	if err != nil {
		return reject(models.ClaimLookupFailed, "could not reach the chain, please retry shortly")
	}
	if tx == nil {
		return reject(models.ClaimNotFound, "transaction not found yet, please retry shortly")
	}

	l.resolveWatchSet(ctx)
	transfer, err := l.classifier.Classify(reference, tx, l.watchMap())
	switch {
	case errors.Is(err, ErrFailedTransaction):
		return reject(models.ClaimTransactionFailed, "transaction failed on chain")
	case errors.Is(err, ErrBelowMinimum):
		return reject(models.ClaimBelowMinimum, "amount is below the minimum deposit")
	case err != nil:
		return reject(models.ClaimNotInbound, "transaction does not pay into the deposit wallet")
	}

	if memo, ok := ExtractMemo(tx); ok {
		transfer.Memo = l.memos.Normalize(memo)
	}

	match := &models.PendingMatch{
		Reference: reference,
		OwnerId:   ownerId,
		ToAddress: transfer.ToAddress,
		Mint:      transfer.Mint,
		RawAmount: transfer.RawAmount,
		Decimals:  transfer.Decimals,
	}
	if transfer.IsSettlement() {
		match.SettlementAmount = int64(transfer.RawAmount)
	}

	// Claims are user-driven and retried by the user, so failures are not persisted.
	entry, err := l.settle(ctx, match, transfer, "claim", false)
	switch {
	case errors.Is(err, ErrConversionFailed):
		return reject(models.ClaimConversionFailed, "conversion failed, please retry shortly")
	case err != nil:
		return reject(models.ClaimLedgerUnavailable, "balance could not be updated, contact support if this persists")
	}

	if entry.Replayed {
		return reject(models.ClaimAlreadyCredited, "this deposit has already been credited")
	}

	fmt.Printf("  %s✓ claim %s -> %s (+%s SOL)%s\n",
		colorGreen, shortRef(reference), ownerId, formatRaw(uint64(entry.Amount), 9), colorReset)

	return &models.ClaimResult{
		Success:    true,
		OwnerId:    ownerId,
		Reference:  reference,
		Amount:     entry.Amount,
		NewBalance: entry.BalanceAfter,
	}
}
