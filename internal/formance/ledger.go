package formance

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Every entry carries its own metadata and refreshes
// the owner's last activity in the same transaction.
// ---------------------------------------------------------------------------

const numscriptDeposit = `vars {
  asset $asset
  number $amount
  account $owner_id
  string $owner
  string $note
  string $activity_at
  string $to_address
  string $mint
  string $symbol
  string $raw_amount
  string $memo
  string $source
  string $swap_ref
  string $slot
}

send [$asset $amount] (
  source = @custody:hot_wallet allowing unbounded overdraft
  destination = @users:$owner_id
)

set_tx_meta("event_type", "deposit")
set_tx_meta("owner_id", $owner)
set_tx_meta("note", $note)
set_tx_meta("to_address", $to_address)
set_tx_meta("mint", $mint)
set_tx_meta("symbol", $symbol)
set_tx_meta("raw_amount", $raw_amount)
set_tx_meta("memo", $memo)
set_tx_meta("source", $source)
set_tx_meta("swap_ref", $swap_ref)
set_tx_meta("slot", $slot)
set_account_meta(@users:$owner_id, "entity_type", "depositor")
set_account_meta(@users:$owner_id, "last_activity_at", $activity_at)
`

const numscriptRefund = `vars {
  asset $asset
  number $amount
  account $owner_id
  string $owner
  string $note
  string $activity_at
}

send [$asset $amount] (
  source = @users:$owner_id
  destination = @custody:refunds
)

set_tx_meta("event_type", "refund")
set_tx_meta("owner_id", $owner)
set_tx_meta("note", $note)
set_account_meta(@users:$owner_id, "last_activity_at", $activity_at)
`

// Deposit credits an owner. A repeated idempotency key returns the entry
// already posted under that reference.
func (s *Service) Deposit(ctx context.Context, params store.DepositParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if params.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	vars := map[string]string{
		"asset":       settlementAsset,
		"amount":      strconv.FormatInt(params.Amount, 10),
		"owner_id":    params.OwnerId,
		"owner":       params.OwnerId,
		"note":        params.Note,
		"activity_at": formatTime(s.now()),
		"to_address":  "",
		"mint":        "",
		"symbol":      "SOL",
		"raw_amount":  "",
		"memo":        "",
		"source":      "",
		"swap_ref":    "",
		"slot":        "",
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(params.IdempotencyKey),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptDeposit,
			Vars:  vars,
		},
	}

	// Enrich with chain data when the caller attached it.
	if dc := models.GetDepositContext(ctx); dc != nil {
		vars["to_address"] = dc.ToAddress
		vars["mint"] = dc.Mint
		vars["symbol"] = dc.Symbol
		vars["raw_amount"] = strconv.FormatUint(dc.RawAmount, 10)
		vars["memo"] = dc.Memo
		vars["source"] = dc.Source
		vars["swap_ref"] = dc.SwapRef
		vars["slot"] = strconv.FormatUint(dc.Slot, 10)
		if !dc.BlockTime.IsZero() {
			postTx.Timestamp = &dc.BlockTime
		}
	}

	return s.post(ctx, params.OwnerId, params.Amount, models.EntryTypeDeposit, params.IdempotencyKey, postTx)
}

// Debit removes funds from an owner. Formance rejects it when the owner's
// account would go negative.
func (s *Service) Debit(ctx context.Context, params store.DebitParams) (*models.LedgerEntry, error) {
	if params.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if params.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(params.IdempotencyKey),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptRefund,
			Vars: map[string]string{
				"asset":       settlementAsset,
				"amount":      strconv.FormatInt(params.Amount, 10),
				"owner_id":    params.OwnerId,
				"owner":       params.OwnerId,
				"note":        params.Note,
				"activity_at": formatTime(s.now()),
			},
		},
	}

	return s.post(ctx, params.OwnerId, -params.Amount, models.EntryTypeRefund, params.IdempotencyKey, postTx)
}

func (s *Service) post(ctx context.Context, ownerId string, signed int64, entryType, key string, postTx shared.V2PostTransaction) (*models.LedgerEntry, error) {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		switch {
		case isConflictError(err):
			prior, lookupErr := s.findByReference(ctx, key)
			if lookupErr != nil {
				return nil, fmt.Errorf("%w: reference %s: %v", store.ErrDuplicateTransaction, key, lookupErr)
			}
			zap.L().Info("Reference already posted in Formance, replaying",
				zap.String("reference", key),
				zap.String("owner_id", prior.OwnerId))
			prior.Replayed = true
			return prior, nil
		case isInsufficientFundError(err):
			return nil, fmt.Errorf("%w: owner %s", store.ErrInsufficientBalance, ownerId)
		}
		return nil, fmt.Errorf("error posting %s transaction: %w", entryType, err)
	}

	// Formance does not return running balances for the owner; read it back.
	balance, err := s.GetBalance(ctx, ownerId)
	if err != nil {
		zap.L().Warn("Posted entry but could not read balance",
			zap.String("reference", key),
			zap.Error(err))
	}

	entry := &models.LedgerEntry{
		Id:             key,
		OwnerId:        ownerId,
		EntryType:      entryType,
		Amount:         signed,
		BalanceBefore:  balance - signed,
		BalanceAfter:   balance,
		IdempotencyKey: key,
		CreatedAt:      s.now().UTC(),
	}
	if postTx.Timestamp != nil {
		entry.CreatedAt = *postTx.Timestamp
	}

	zap.L().Info("Entry posted in Formance",
		zap.String("owner_id", ownerId),
		zap.String("type", entryType),
		zap.Int64("amount", signed),
		zap.String("reference", key))
	return entry, nil
}

func (s *Service) findByReference(ctx context.Context, reference string) (*models.LedgerEntry, error) {
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
		RequestBody: map[string]any{
			"$match": map[string]any{"reference": reference},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}
	data := resp.V2TransactionsCursorResponse.Cursor.Data
	if len(data) == 0 {
		return nil, fmt.Errorf("reference %s not found", reference)
	}
	return entryFromTransaction(data[0]), nil
}

// GetHistory returns the owner's entries, newest first.
func (s *Service) GetHistory(ctx context.Context, ownerId string, limit, offset int) ([]models.LedgerEntry, error) {
	account := userAccount(ownerId)
	pageSize := int64(limit + offset) // fetch enough to skip offset

	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$or": []any{
				map[string]any{"$match": map[string]any{"source": account}},
				map[string]any{"$match": map[string]any{"destination": account}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var entries []models.LedgerEntry
	for i, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		if i < offset {
			continue
		}
		entry := entryFromTransaction(tx)
		entry.OwnerId = ownerId
		entries = append(entries, *entry)
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func entryFromTransaction(tx shared.V2Transaction) *models.LedgerEntry {
	ownerId := tx.Metadata["owner_id"]
	entry := &models.LedgerEntry{
		Id:        fmt.Sprintf("%d", tx.ID),
		OwnerId:   ownerId,
		EntryType: tx.Metadata["event_type"],
		Amount:    signedAmount(tx.Postings, userAccount(ownerId)),
		Note:      tx.Metadata["note"],
		CreatedAt: tx.Timestamp,
	}
	if tx.Reference != nil {
		entry.IdempotencyKey = *tx.Reference
	}
	return entry
}

// signedAmount nets the settlement-asset postings touching account: credits
// count positive, debits negative.
func signedAmount(postings []shared.V2Posting, account string) int64 {
	total := new(big.Int)
	for _, p := range postings {
		if p.Asset != settlementAsset || p.Amount == nil {
			continue
		}
		switch {
		case p.Destination == account:
			total.Add(total, p.Amount)
		case p.Source == account:
			total.Sub(total, p.Amount)
		}
	}
	return total.Int64()
}
