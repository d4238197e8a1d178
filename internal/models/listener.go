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

import "time"

// Watched address kinds
const (
	WatchKindSettlement = "settlement"
	WatchKindToken      = "token"
)

// WatchedAddress is a chain account the poller inspects for inbound transfers
type WatchedAddress struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Mint    string `json:"mint,omitempty"`
}

// DepositCode binds a pending deposit to an owner until it expires
type DepositCode struct {
	Code      string    `json:"code"`
	OwnerId   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// InboundTransfer is a classified credit to a watched address. Mint is empty
// for the settlement asset.
type InboundTransfer struct {
	Reference string
	ToAddress string
	Mint      string
	Symbol    string
	RawAmount uint64
	Decimals  int
	Slot      uint64
	BlockTime *time.Time
	Memo      string
}

// IsSettlement reports whether the transfer is already in the settlement asset.
func (t InboundTransfer) IsSettlement() bool {
	return t.Mint == ""
}

// SignatureRef is one transaction reference returned by the poller
type SignatureRef struct {
	Signature string
	Address   string
	Slot      uint64
	BlockTime *int64
	Failed    bool
}

// TokenConfig describes a supported secondary asset
type TokenConfig struct {
	Symbol    string `yaml:"symbol"`
	Mint      string `yaml:"mint"`
	Decimals  int    `yaml:"decimals"`
	MinAmount uint64 `yaml:"min_amount"`
}
