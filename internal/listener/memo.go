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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"deposit-reconciler-go/internal/solana"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	memoProgramName     = "spl-memo"
	memoProgramId       = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	legacyMemoProgramId = "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo"
)

// ExtractMemo returns the first memo found in the transaction, scanning
// top-level instructions before inner ones.
func ExtractMemo(tx *solana.Transaction) (string, bool) {
	if tx == nil {
		return "", false
	}

	if memo, ok := memoFrom(tx.Transaction.Message.Instructions); ok {
		return memo, true
	}
	if tx.Meta != nil {
		for _, inner := range tx.Meta.InnerInstructions {
			if memo, ok := memoFrom(inner.Instructions); ok {
				return memo, true
			}
		}
	}
	return "", false
}

func memoFrom(instructions []solana.Instruction) (string, bool) {
	for _, ix := range instructions {
		if !isMemoInstruction(ix) {
			continue
		}

		var text string
		if len(ix.Parsed) > 0 && json.Unmarshal(ix.Parsed, &text) == nil && text != "" {
			return text, true
		}
		if ix.Data != "" {
			if decoded := base58.Decode(ix.Data); len(decoded) > 0 {
				return string(decoded), true
			}
		}
	}
	return "", false
}

func isMemoInstruction(ix solana.Instruction) bool {
	return ix.Program == memoProgramName || ix.ProgramId == memoProgramId || ix.ProgramId == legacyMemoProgramId
}

// MemoNormalizer maps free-text memos onto the deposit code format.
type MemoNormalizer struct {
	pattern *regexp.Regexp
}

func NewMemoNormalizer(prefix string, length int) *MemoNormalizer {
	expr := fmt.Sprintf(`%s[A-Z0-9]{%d}`, regexp.QuoteMeta(strings.ToUpper(prefix)), length)
	return &MemoNormalizer{pattern: regexp.MustCompile(expr)}
}

// Normalize trims and upper-cases the memo. When a code-shaped token is
// embedded in longer text, only that token is returned.
func (n *MemoNormalizer) Normalize(memo string) string {
	normalized := strings.ToUpper(strings.TrimSpace(memo))
	if token := n.pattern.FindString(normalized); token != "" {
		return token
	}
	return normalized
}
