package solana

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the chain recorded an error for the transaction.
func (s SignatureInfo) Failed() bool {
	return isPresent(s.Err)
}

// SignaturesOptions bounds a getSignaturesForAddress page. Before and Until
// are exclusive signature bounds.
type SignaturesOptions struct {
	Limit  int
	Before string
	Until  string
}

// Transaction is the jsonParsed form of getTransaction.
type Transaction struct {
	Slot        uint64              `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *TransactionMeta    `json:"meta"`
	Transaction TransactionEnvelope `json:"transaction"`
}

type TransactionEnvelope struct {
	Signatures []string `json:"signatures"`
	Message    Message  `json:"message"`
}

type Message struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

type TransactionMeta struct {
	Err               json.RawMessage    `json:"err"`
	Fee               uint64             `json:"fee"`
	PreBalances       []uint64           `json:"preBalances"`
	PostBalances      []uint64           `json:"postBalances"`
	PreTokenBalances  []TokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `json:"postTokenBalances"`
	InnerInstructions []InnerInstruction `json:"innerInstructions"`
	LogMessages       []string           `json:"logMessages"`
}

// Failed reports whether meta.err is set.
func (m *TransactionMeta) Failed() bool {
	return m != nil && isPresent(m.Err)
}

type InnerInstruction struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction covers both parsed and partially decoded instructions. Parsed
// is a JSON string for the memo program and an object for most others.
type Instruction struct {
	Program   string          `json:"program"`
	ProgramId string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
	Data      string          `json:"data"`
	Accounts  []string        `json:"accounts"`
}

// AccountKey accepts both the jsonParsed object form and the bare string form.
type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
	Source   string `json:"source"`
}

func (k *AccountKey) UnmarshalJSON(data []byte) error {
	var pubkey string
	if err := json.Unmarshal(data, &pubkey); err == nil {
		*k = AccountKey{Pubkey: pubkey}
		return nil
	}

	type plain AccountKey
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	*k = AccountKey(obj)
	return nil
}

type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	ProgramId     string        `json:"programId"`
	UiTokenAmount UiTokenAmount `json:"uiTokenAmount"`
}

type UiTokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	UiAmountString string `json:"uiAmountString"`
}

// RawAmount parses the integer base-unit amount.
func (u UiTokenAmount) RawAmount() (uint64, error) {
	amount, err := strconv.ParseUint(u.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", u.Amount, err)
	}
	return amount, nil
}

// TokenAccount is an SPL token account owned by a wallet.
type TokenAccount struct {
	Pubkey   string
	Mint     string
	Owner    string
	Decimals int
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Program string `json:"program"`
				Parsed  struct {
					Type string `json:"type"`
					Info struct {
						Mint        string        `json:"mint"`
						Owner       string        `json:"owner"`
						TokenAmount UiTokenAmount `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
