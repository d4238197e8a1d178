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
	"math/big"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrConversionFailed  = errors.New("conversion to settlement asset failed")
	ErrLedgerUnavailable = errors.New("credit ledger unavailable")
)

// refOutcome is what processing a single reference resulted in.
type refOutcome int

const (
	outcomeCredited refOutcome = iota
	outcomeUnmatched
	outcomeSkipped
	outcomeRequeued
	outcomePending
)

// runCycle retries pending matches, then lists and processes new references
// in chronological order.
func (l *DepositListener) runCycle(ctx context.Context) (*CycleSummary, error) {
	start := l.now()
	summary := &CycleSummary{}

	summary.PendingRetried = l.retryPendingMatches(ctx)

	watch := l.resolveWatchSet(ctx)
	summary.Watched = len(watch)

	fmt.Printf("\n%s[%s] Polling %d addresses%s\n",
		colorCyan, start.Format("15:04:05"), len(watch), colorReset)

	cursors, err := l.state.GetCursors(ctx)
	if err != nil {
		l.metrics.ObservePollCycle("state_error", l.now().Sub(start))
		return summary, fmt.Errorf("failed to load cursors: %w", err)
	}

	refs, newCursors, err := l.pollSignatures(ctx, watch, cursors)
	if err != nil {
		fmt.Printf("  %s✗ listing failed, cursors unchanged: %s%s\n", colorRed, err, colorReset)
		l.metrics.ObservePollCycle("rpc_error", l.now().Sub(start))
		return summary, err
	}

	if len(newCursors) > 0 {
		if err := l.state.SetCursors(ctx, newCursors); err != nil {
			l.metrics.ObservePollCycle("state_error", l.now().Sub(start))
			return summary, fmt.Errorf("failed to persist cursors: %w", err)
		}
	}

	work := l.withQueued(refs)
	summary.Signatures = len(refs)
	watchSet := l.watchMap()

	for i, ref := range work {
		if err := ctx.Err(); err != nil {
			// Cursors already moved past these, so they must stay queued
			summary.Requeued += l.deferRemaining(work[i:])
			l.metrics.ObservePollCycle("cancelled", l.now().Sub(start))
			zap.L().Warn("Poll cycle interrupted, remaining references queued",
				zap.Int("credited", summary.Credited),
				zap.Int("queued", len(work)-i),
				zap.Error(err))
			return summary, err
		}
		if ref.Failed {
			l.dequeue(ref.Signature)
			summary.Skipped++
			continue
		}

		switch l.processReference(ctx, ref, watchSet) {
		case outcomeCredited:
			summary.Credited++
		case outcomeUnmatched:
			summary.Unmatched++
		case outcomeRequeued:
			summary.Requeued++
		default:
			summary.Skipped++
		}
	}

	if pending, err := l.state.ListPendingMatches(ctx); err == nil {
		summary.PendingLeft = len(pending)
		l.metrics.SetPendingMatches(len(pending))
	}

	l.metrics.ObservePollCycle("ok", l.now().Sub(start))
	if summary.Signatures == 0 && summary.PendingRetried == 0 {
		fmt.Printf("  %sno new signatures%s\n", colorGray, colorReset)
	}

	zap.L().Info("Poll cycle completed",
		zap.Int("watched", summary.Watched),
		zap.Int("signatures", summary.Signatures),
		zap.Int("credited", summary.Credited),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("requeued", summary.Requeued),
		zap.Int("pending_left", summary.PendingLeft),
		zap.Duration("duration", l.now().Sub(start)))

	return summary, nil
}

// processReference moves one reference from SEEN to CREDITED or UNMATCHED.
func (l *DepositListener) processReference(ctx context.Context, ref models.SignatureRef, watch map[string]models.WatchedAddress) refOutcome {
	unlock := l.refLocks.Lock(ref.Signature)
	defer unlock()

	processed, err := l.state.GetProcessed(ctx, ref.Signature)
	if err != nil {
		zap.L().Error("Failed to read processed state", zap.String("reference", ref.Signature), zap.Error(err))
		return l.requeue(ref)
	}
	if processed != nil {
		l.dequeue(ref.Signature)
		return outcomeSkipped
	}
	pending, err := l.state.GetPendingMatch(ctx, ref.Signature)
	if err != nil {
		zap.L().Error("Failed to read pending match", zap.String("reference", ref.Signature), zap.Error(err))
		return l.requeue(ref)
	}
	if pending != nil {
		// Pending matches are driven by retryPendingMatches
		l.dequeue(ref.Signature)
		return outcomePending
	}

	tx, err := l.rpc.GetTransaction(ctx, ref.Signature)
	if err != nil {
		zap.L().Warn("Transaction fetch failed, requeued",
			zap.String("reference", ref.Signature),
			zap.Error(err))
		return l.requeue(ref)
	}
	if tx == nil {
		zap.L().Info("Transaction not yet available, requeued", zap.String("reference", ref.Signature))
		return l.requeue(ref)
	}

	transfer, err := l.classifier.Classify(ref.Signature, tx, watch)
	l.dequeue(ref.Signature)
	if err != nil {
		l.logClassification(ref, err)
		return outcomeSkipped
	}

	memo, hasMemo := ExtractMemo(tx)
	code := ""
	if hasMemo {
		code = l.memos.Normalize(memo)
	}
	transfer.Memo = code

	ownerId, matched := "", false
	if code != "" {
		ownerId, matched = l.registry.Consume(code)
	}
	if !matched {
		return l.recordUnmatched(ctx, transfer, hasMemo)
	}

	match := models.PendingMatch{
		Reference: transfer.Reference,
		OwnerId:   ownerId,
		ToAddress: transfer.ToAddress,
		Mint:      transfer.Mint,
		RawAmount: transfer.RawAmount,
		Decimals:  transfer.Decimals,
	}
	if transfer.IsSettlement() {
		match.SettlementAmount = int64(transfer.RawAmount)
	}

	// The code is gone from the registry; this record is now the only link
	// between the reference and its owner.
	if err := l.state.SavePendingMatch(ctx, match); err != nil {
		zap.L().Error("Operational alert: failed to persist pending match, crediting from memory",
			zap.String("reference", match.Reference),
			zap.String("owner_id", ownerId),
			zap.Error(err))
	}

	entry, err := l.settle(ctx, &match, transfer, "poller", true)
	if err != nil {
		fmt.Printf("  %s✗ %s %s %s -> %s | %s%s\n",
			colorRed, transfer.Symbol, formatRaw(transfer.RawAmount, transfer.Decimals), shortRef(ref.Signature), ownerId, err, colorReset)
		return outcomePending
	}

	fmt.Printf("  %s✓ %s %s %s -> %s (+%s SOL)%s\n",
		colorGreen, transfer.Symbol, formatRaw(transfer.RawAmount, transfer.Decimals), shortRef(ref.Signature), ownerId,
		formatRaw(uint64(entry.Amount), 9), colorReset)
	return outcomeCredited
}

func (l *DepositListener) recordUnmatched(ctx context.Context, transfer *models.InboundTransfer, hasMemo bool) refOutcome {
	amount := int64(0)
	if transfer.IsSettlement() {
		amount = int64(transfer.RawAmount)
	}
	if _, err := l.state.RecordProcessed(ctx, models.ProcessedReference{
		Reference: transfer.Reference,
		Outcome:   models.OutcomeUnmatched,
		Amount:    amount,
	}); err != nil {
		zap.L().Error("Failed to record unmatched reference",
			zap.String("reference", transfer.Reference),
			zap.Error(err))
		return outcomeSkipped
	}

	l.metrics.RecordReference("unmatched")
	zap.L().Info("Inbound transfer did not match a live deposit code",
		zap.String("reference", transfer.Reference),
		zap.String("symbol", transfer.Symbol),
		zap.Uint64("raw_amount", transfer.RawAmount),
		zap.Bool("has_memo", hasMemo),
		zap.String("memo", transfer.Memo))
	fmt.Printf("  %s~ %s %s %s unmatched (memo %q)%s\n",
		colorYellow, transfer.Symbol, formatRaw(transfer.RawAmount, transfer.Decimals), shortRef(transfer.Reference), transfer.Memo, colorReset)
	return outcomeUnmatched
}

// settle converts if needed and credits the ledger. With persist set, every
// failure is written back to the pending match so a later cycle can resume.
func (l *DepositListener) settle(ctx context.Context, match *models.PendingMatch, transfer *models.InboundTransfer, source string, persist bool) (*models.LedgerEntry, error) {
	if !match.Converted() {
		if l.converter == nil {
			return nil, l.failMatch(ctx, match, persist, fmt.Errorf("%w: no converter configured", ErrConversionFailed))
		}
		result, err := l.converter.SwapToSettlement(ctx, SwapRequest{
			Mint:      match.Mint,
			RawAmount: match.RawAmount,
			Decimals:  match.Decimals,
			Reference: match.Reference,
		})
		if err == nil && (result == nil || result.SettlementAmount <= 0) {
			err = fmt.Errorf("non-positive settlement amount")
		}
		if err != nil {
			l.metrics.RecordConversion("failed")
			zap.L().Error("Operational alert: conversion failed",
				zap.String("reference", match.Reference),
				zap.String("owner_id", match.OwnerId),
				zap.String("mint", match.Mint),
				zap.Uint64("raw_amount", match.RawAmount),
				zap.Error(err))
			return nil, l.failMatch(ctx, match, persist, fmt.Errorf("%w: %v", ErrConversionFailed, err))
		}

		l.metrics.RecordConversion("ok")
		match.SettlementAmount = result.SettlementAmount
		match.SwapRef = result.ConfirmationRef
		if persist {
			if err := l.state.SavePendingMatch(ctx, *match); err != nil {
				zap.L().Error("Failed to persist conversion result",
					zap.String("reference", match.Reference),
					zap.String("swap_ref", match.SwapRef),
					zap.Error(err))
			}
		}
	}

	depositCtx := models.WithDepositContext(ctx, depositContextFor(match, transfer, source))
	entry, err := l.ledger.Deposit(depositCtx, store.DepositParams{
		OwnerId:        match.OwnerId,
		Amount:         match.SettlementAmount,
		IdempotencyKey: match.Reference,
		Note:           depositNote(match, transfer, source),
	})
	if err != nil {
		zap.L().Error("Operational alert: ledger credit failed",
			zap.String("reference", match.Reference),
			zap.String("owner_id", match.OwnerId),
			zap.Int64("lamports", match.SettlementAmount),
			zap.Error(err))
		return nil, l.failMatch(ctx, match, persist, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err))
	}

	if _, err := l.state.RecordProcessed(ctx, models.ProcessedReference{
		Reference: match.Reference,
		Outcome:   models.OutcomeCredited,
		OwnerId:   entry.OwnerId,
		Amount:    entry.Amount,
	}); err != nil {
		// The ledger key still guards against a second credit
		zap.L().Error("Failed to record credited reference",
			zap.String("reference", match.Reference),
			zap.Error(err))
	}
	if err := l.state.DeletePendingMatch(ctx, match.Reference); err != nil {
		zap.L().Warn("Failed to delete pending match", zap.String("reference", match.Reference), zap.Error(err))
	}

	if !entry.Replayed {
		l.metrics.RecordCredit(entry.Amount)
	}
	l.metrics.RecordReference("credited")
	zap.L().Info("Deposit credited",
		zap.String("reference", match.Reference),
		zap.String("owner_id", entry.OwnerId),
		zap.Int64("lamports", entry.Amount),
		zap.Int64("new_balance", entry.BalanceAfter),
		zap.Bool("replayed", entry.Replayed),
		zap.String("source", source))
	return entry, nil
}

func (l *DepositListener) failMatch(ctx context.Context, match *models.PendingMatch, persist bool, cause error) error {
	match.Attempts++
	match.LastError = cause.Error()
	if persist {
		if err := l.state.SavePendingMatch(ctx, *match); err != nil {
			zap.L().Error("Failed to persist pending match failure",
				zap.String("reference", match.Reference),
				zap.Error(err))
		}
	}
	return cause
}

// retryPendingMatches resumes matches left by earlier cycles. A match that
// has used up its attempts is recorded unmatched so a claim can pick it up.
func (l *DepositListener) retryPendingMatches(ctx context.Context) int {
	pending, err := l.state.ListPendingMatches(ctx)
	if err != nil {
		zap.L().Error("Failed to list pending matches", zap.Error(err))
		return 0
	}

	retried := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if l.retryPendingMatch(ctx, p.Reference) {
			retried++
		}
	}
	return retried
}

func (l *DepositListener) retryPendingMatch(ctx context.Context, reference string) bool {
	unlock := l.refLocks.Lock(reference)
	defer unlock()

	match, err := l.state.GetPendingMatch(ctx, reference)
	if err != nil || match == nil {
		return false
	}

	if processed, err := l.state.GetProcessed(ctx, reference); err == nil && processed != nil && processed.Outcome == models.OutcomeCredited {
		_ = l.state.DeletePendingMatch(ctx, reference)
		return false
	}

	if match.Attempts >= l.retryLimit {
		l.abandonMatch(ctx, match)
		return true
	}

	transfer := &models.InboundTransfer{
		Reference: match.Reference,
		ToAddress: match.ToAddress,
		Mint:      match.Mint,
		RawAmount: match.RawAmount,
		Decimals:  match.Decimals,
		Symbol:    l.symbolFor(match.Mint),
	}
	if _, err := l.settle(ctx, match, transfer, "retry", true); err != nil {
		fmt.Printf("  %s✗ retry %s -> %s attempt %d: %s%s\n",
			colorRed, shortRef(reference), match.OwnerId, match.Attempts, err, colorReset)
		if match.Attempts >= l.retryLimit {
			l.abandonMatch(ctx, match)
		}
		return true
	}

	fmt.Printf("  %s✓ retry %s -> %s credited%s\n", colorGreen, shortRef(reference), match.OwnerId, colorReset)
	return true
}

func (l *DepositListener) abandonMatch(ctx context.Context, match *models.PendingMatch) {
	zap.L().Error("Operational alert: giving up on matched deposit, manual claim required",
		zap.String("reference", match.Reference),
		zap.String("owner_id", match.OwnerId),
		zap.String("mint", match.Mint),
		zap.Uint64("raw_amount", match.RawAmount),
		zap.Int("attempts", match.Attempts),
		zap.String("last_error", match.LastError))

	if _, err := l.state.RecordProcessed(ctx, models.ProcessedReference{
		Reference: match.Reference,
		Outcome:   models.OutcomeUnmatched,
		OwnerId:   match.OwnerId,
	}); err != nil {
		zap.L().Error("Failed to record abandoned match", zap.String("reference", match.Reference), zap.Error(err))
		return
	}
	if err := l.state.DeletePendingMatch(ctx, match.Reference); err != nil {
		zap.L().Warn("Failed to delete abandoned match", zap.String("reference", match.Reference), zap.Error(err))
	}
	l.metrics.RecordReference("abandoned")
}

// withQueued merges requeued references with the freshly listed ones,
// keeping chronological order.
func (l *DepositListener) withQueued(refs []models.SignatureRef) []models.SignatureRef {
	l.retryMutex.Lock()
	defer l.retryMutex.Unlock()

	if len(l.retryQueue) == 0 {
		return refs
	}

	seen := make(map[string]bool, len(refs))
	out := make([]models.SignatureRef, 0, len(refs)+len(l.retryQueue))
	for _, q := range l.retryQueue {
		out = append(out, q.ref)
		seen[q.ref.Signature] = true
	}
	for _, ref := range refs {
		if !seen[ref.Signature] {
			out = append(out, ref)
		}
	}
	sortChronological(out)
	return out
}

func (l *DepositListener) requeue(ref models.SignatureRef) refOutcome {
	l.retryMutex.Lock()
	defer l.retryMutex.Unlock()

	q := l.retryQueue[ref.Signature]
	q.ref = ref
	q.attempts++
	if q.attempts >= l.retryLimit {
		delete(l.retryQueue, ref.Signature)
		zap.L().Error("Operational alert: transaction still unavailable after retries, manual claim required",
			zap.String("reference", ref.Signature),
			zap.String("address", ref.Address),
			zap.Int("attempts", q.attempts))
		l.metrics.RecordReference("dropped")
		return outcomeSkipped
	}
	l.retryQueue[ref.Signature] = q
	l.metrics.RecordReference("requeued")
	return outcomeRequeued
}

// deferRemaining queues references a cycle did not get to. Attempts are not
// counted since nothing was tried.
func (l *DepositListener) deferRemaining(refs []models.SignatureRef) int {
	l.retryMutex.Lock()
	defer l.retryMutex.Unlock()

	queued := 0
	for _, ref := range refs {
		if ref.Failed {
			continue
		}
		if _, ok := l.retryQueue[ref.Signature]; !ok {
			l.retryQueue[ref.Signature] = queuedRef{ref: ref}
		}
		queued++
	}
	return queued
}

func (l *DepositListener) dequeue(signature string) {
	l.retryMutex.Lock()
	defer l.retryMutex.Unlock()
	delete(l.retryQueue, signature)
}

func (l *DepositListener) logClassification(ref models.SignatureRef, err error) {
	fields := []zap.Field{
		zap.String("reference", ref.Signature),
		zap.String("address", ref.Address),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, ErrMalformed):
		l.metrics.RecordReference("malformed")
		zap.L().Warn("Skipping malformed transaction", fields...)
	case errors.Is(err, ErrBelowMinimum):
		l.metrics.RecordReference("below_minimum")
		zap.L().Info("Skipping transfer below minimum", fields...)
		fmt.Printf("  %s- %s below minimum%s\n", colorGray, shortRef(ref.Signature), colorReset)
	case errors.Is(err, ErrFailedTransaction):
		l.metrics.RecordReference("failed")
		zap.L().Debug("Skipping failed transaction", fields...)
	default:
		l.metrics.RecordReference("not_inbound")
		zap.L().Debug("Skipping transaction without inbound transfer", fields...)
	}
}

func (l *DepositListener) symbolFor(mint string) string {
	if mint == "" {
		return "SOL"
	}
	if token, ok := l.classifier.Token(mint); ok {
		return token.Symbol
	}
	return mint
}

func depositContextFor(match *models.PendingMatch, transfer *models.InboundTransfer, source string) *models.DepositContext {
	dc := &models.DepositContext{
		Reference: match.Reference,
		ToAddress: match.ToAddress,
		Mint:      match.Mint,
		RawAmount: match.RawAmount,
		Source:    source,
		SwapRef:   match.SwapRef,
		BlockTime: time.Now().UTC(),
	}
	if transfer != nil {
		dc.Symbol = transfer.Symbol
		dc.Memo = transfer.Memo
		dc.Slot = transfer.Slot
		if transfer.BlockTime != nil {
			dc.BlockTime = *transfer.BlockTime
		}
	}
	return dc
}

func depositNote(match *models.PendingMatch, transfer *models.InboundTransfer, source string) string {
	symbol := "SOL"
	if transfer != nil && transfer.Symbol != "" {
		symbol = transfer.Symbol
	}
	note := fmt.Sprintf("%s deposit of %s %s", source, formatRaw(match.RawAmount, match.Decimals), symbol)
	if match.SwapRef != "" {
		note += " (swap " + match.SwapRef + ")"
	}
	return note
}

// formatRaw renders base units with the given decimals.
func formatRaw(raw uint64, decimals int) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), int32(-decimals)).String()
}
