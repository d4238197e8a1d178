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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Manual claim rejection reasons
const (
	ClaimInvalidReference  = "invalid_reference"
	ClaimAlreadyCredited   = "already_credited"
	ClaimInProgress        = "in_progress"
	ClaimLookupFailed      = "lookup_failed"
	ClaimNotFound          = "not_found"
	ClaimTransactionFailed = "transaction_failed"
	ClaimNotInbound        = "not_inbound"
	ClaimBelowMinimum      = "below_minimum"
	ClaimConversionFailed  = "conversion_failed"
	ClaimLedgerUnavailable = "ledger_unavailable"
)

// DepositInstructions is what a user needs to make a matched deposit
type DepositInstructions struct {
	Code      string    `json:"code"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserBalance represents an owner's settlement balance
type UserBalance struct {
	OwnerId  string          `json:"owner_id"`
	Lamports int64           `json:"lamports"`
	Sol      decimal.Decimal `json:"sol"`
	Wallet   string          `json:"wallet,omitempty"`
}

// TransactionRecord represents a ledger entry in the owner's history
type TransactionRecord struct {
	Id          string          `json:"id"`
	Type        string          `json:"type"` // "deposit", "refund"
	Lamports    int64           `json:"lamports"`
	Sol         decimal.Decimal `json:"sol"`
	Reference   string          `json:"reference,omitempty"`
	Note        string          `json:"note,omitempty"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// ClaimResult represents the result of a manual claim
type ClaimResult struct {
	Success    bool   `json:"success"`
	OwnerId    string `json:"owner_id,omitempty"`
	Reference  string `json:"reference"`
	Amount     int64  `json:"amount,omitempty"`
	NewBalance int64  `json:"new_balance,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}
