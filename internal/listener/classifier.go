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
	"errors"
	"fmt"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/solana"
)

// Classification outcomes. None of them marks a reference processed.
var (
	ErrNotInbound        = errors.New("no inbound transfer to a watched address")
	ErrBelowMinimum      = errors.New("transfer below minimum deposit")
	ErrMalformed         = errors.New("malformed transaction")
	ErrFailedTransaction = errors.New("transaction failed on chain")
)

// Classifier turns a fetched transaction into the inbound transfer it
// carries, using balance deltas rather than instruction decoding.
type Classifier struct {
	custodialAddress   string
	tokens             map[string]models.TokenConfig
	minDepositLamports int64
}

func NewClassifier(custodialAddress string, tokens []models.TokenConfig, minDepositLamports int64) *Classifier {
	byMint := make(map[string]models.TokenConfig, len(tokens))
	for _, t := range tokens {
		byMint[t.Mint] = t
	}
	return &Classifier{
		custodialAddress:   custodialAddress,
		tokens:             byMint,
		minDepositLamports: minDepositLamports,
	}
}

// Token returns the supported token config for mint.
func (c *Classifier) Token(mint string) (models.TokenConfig, bool) {
	t, ok := c.tokens[mint]
	return t, ok
}

// Classify finds a positive transfer into a watched address. The settlement
// asset is checked before tokens, and a candidate that clears its minimum
// wins over one that does not.
func (c *Classifier) Classify(signature string, tx *solana.Transaction, watch map[string]models.WatchedAddress) (*models.InboundTransfer, error) {
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("%w: missing meta", ErrMalformed)
	}
	if tx.Meta.Failed() {
		return nil, ErrFailedTransaction
	}

	keys := tx.Transaction.Message.AccountKeys
	signers := make(map[string]bool)
	for _, key := range keys {
		if key.Signer {
			signers[key.Pubkey] = true
		}
	}
	// The hot wallet signing means it moved its own funds, e.g. a swap
	// settling into it. Nothing in such a transaction is a deposit.
	if signers[c.custodialAddress] {
		return nil, fmt.Errorf("%w: signed by the custodial wallet", ErrNotInbound)
	}

	var blockTime *time.Time
	if tx.BlockTime != nil {
		t := time.Unix(*tx.BlockTime, 0).UTC()
		blockTime = &t
	}

	var candidates []*models.InboundTransfer

	sol, err := c.settlementDelta(tx.Meta, keys)
	if err != nil {
		return nil, err
	}
	if sol > 0 {
		candidates = append(candidates, &models.InboundTransfer{
			Reference: signature,
			ToAddress: c.custodialAddress,
			Symbol:    "SOL",
			RawAmount: sol,
			Decimals:  9,
			Slot:      tx.Slot,
			BlockTime: blockTime,
		})
	}

	tokenTransfers, err := c.tokenDeltas(tx.Meta, keys, watch, signers)
	if err != nil {
		return nil, err
	}
	for _, t := range tokenTransfers {
		t.Reference = signature
		t.Slot = tx.Slot
		t.BlockTime = blockTime
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		return nil, ErrNotInbound
	}
	for _, candidate := range candidates {
		if c.meetsMinimum(candidate) {
			return candidate, nil
		}
	}
	first := candidates[0]
	return nil, fmt.Errorf("%w: %d base units of %s", ErrBelowMinimum, first.RawAmount, first.Symbol)
}

func (c *Classifier) meetsMinimum(t *models.InboundTransfer) bool {
	if t.IsSettlement() {
		return int64(t.RawAmount) >= c.minDepositLamports
	}
	return t.RawAmount >= c.tokens[t.Mint].MinAmount
}

func (c *Classifier) settlementDelta(meta *solana.TransactionMeta, keys []solana.AccountKey) (uint64, error) {
	index := -1
	for i, key := range keys {
		if key.Pubkey == c.custodialAddress {
			index = i
			break
		}
	}
	if index < 0 {
		return 0, nil
	}

	if len(meta.PreBalances) != len(meta.PostBalances) || index >= len(meta.PostBalances) {
		return 0, fmt.Errorf("%w: balance arrays do not cover account keys", ErrMalformed)
	}

	pre, post := meta.PreBalances[index], meta.PostBalances[index]
	if post <= pre {
		return 0, nil
	}
	return post - pre, nil
}

func (c *Classifier) tokenDeltas(meta *solana.TransactionMeta, keys []solana.AccountKey, watch map[string]models.WatchedAddress, signers map[string]bool) ([]*models.InboundTransfer, error) {
	preByIndex := make(map[int]solana.TokenBalance, len(meta.PreTokenBalances))
	for _, b := range meta.PreTokenBalances {
		preByIndex[b.AccountIndex] = b
	}

	var transfers []*models.InboundTransfer
	for _, post := range meta.PostTokenBalances {
		if post.AccountIndex < 0 || post.AccountIndex >= len(keys) {
			return nil, fmt.Errorf("%w: token balance index %d out of range", ErrMalformed, post.AccountIndex)
		}
		address := keys[post.AccountIndex].Pubkey
		watched, ok := watch[address]
		if !ok || watched.Kind != models.WatchKindToken {
			continue
		}
		// Token accounts whose owner signed are being moved by us
		if post.Owner != "" && signers[post.Owner] {
			continue
		}
		token, supported := c.tokens[post.Mint]
		if !supported {
			continue
		}

		postAmount, err := post.UiTokenAmount.RawAmount()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var preAmount uint64
		if pre, ok := preByIndex[post.AccountIndex]; ok {
			preAmount, err = pre.UiTokenAmount.RawAmount()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		if postAmount <= preAmount {
			continue
		}

		transfers = append(transfers, &models.InboundTransfer{
			ToAddress: address,
			Mint:      post.Mint,
			Symbol:    token.Symbol,
			RawAmount: postAmount - preAmount,
			Decimals:  token.Decimals,
		})
	}
	return transfers, nil
}
