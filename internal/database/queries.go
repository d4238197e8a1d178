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

package database

const (
	// Account queries
	queryGetAccount = `
		SELECT owner_id, balance, wallet_address, last_activity_at, version, created_at, updated_at
		FROM accounts
		WHERE owner_id = ?`

	queryGetAccounts = `
		SELECT owner_id, balance, wallet_address, last_activity_at, version, created_at, updated_at
		FROM accounts
		ORDER BY owner_id`

	queryGetStaleAccounts = `
		SELECT owner_id, balance, wallet_address, last_activity_at, version, created_at, updated_at
		FROM accounts
		WHERE balance > 0 AND wallet_address != '' AND last_activity_at <= ?
		ORDER BY last_activity_at`

	queryUpsertWallet = `
		INSERT INTO accounts (owner_id, balance, wallet_address, last_activity_at, version, created_at, updated_at)
		VALUES (?, 0, ?, ?, 1, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			wallet_address = excluded.wallet_address,
			last_activity_at = excluded.last_activity_at,
			version = accounts.version + 1,
			updated_at = excluded.updated_at`

	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM accounts
		WHERE owner_id = ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0) as calculated_balance
		FROM ledger_entries
		WHERE owner_id = ?`

	// Ledger entry queries
	queryGetEntryByKey = `
		SELECT id, owner_id, entry_type, amount, balance_before, balance_after,
		       idempotency_key, note, created_at
		FROM ledger_entries
		WHERE idempotency_key = ?`

	queryGetAccountForUpdate = `
		SELECT balance, version
		FROM accounts
		WHERE owner_id = ?`

	queryInsertAccount = `
		INSERT INTO accounts (owner_id, balance, wallet_address, last_activity_at, version, created_at, updated_at)
		VALUES (?, 0, '', ?, 1, ?, ?)`

	queryInsertEntry = `
		INSERT INTO ledger_entries (
			id, owner_id, entry_type, amount, balance_before, balance_after,
			idempotency_key, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE accounts
		SET balance = ?, last_entry_id = ?, last_activity_at = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, entry_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetHistory = `
		SELECT id, owner_id, entry_type, amount, balance_before, balance_after,
		       idempotency_key, note, created_at
		FROM ledger_entries
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Poll state queries
	queryGetCursors = `
		SELECT address, signature FROM poll_cursors`

	queryUpsertCursor = `
		INSERT INTO poll_cursors (address, signature, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			signature = excluded.signature,
			updated_at = excluded.updated_at`

	queryGetProcessed = `
		SELECT reference, outcome, owner_id, amount, created_at, updated_at
		FROM processed_references
		WHERE reference = ?`

	queryInsertProcessed = `
		INSERT INTO processed_references (reference, outcome, owner_id, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			outcome = excluded.outcome,
			owner_id = excluded.owner_id,
			amount = excluded.amount,
			updated_at = excluded.updated_at
		WHERE processed_references.outcome = 'unmatched' AND excluded.outcome = 'credited'`

	queryUpsertPendingMatch = `
		INSERT INTO pending_matches (
			reference, owner_id, to_address, mint, raw_amount, decimals,
			settlement_amount, swap_ref, attempts, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			settlement_amount = excluded.settlement_amount,
			swap_ref = excluded.swap_ref,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`

	queryGetPendingMatch = `
		SELECT reference, owner_id, to_address, mint, raw_amount, decimals,
		       settlement_amount, swap_ref, attempts, last_error, created_at, updated_at
		FROM pending_matches
		WHERE reference = ?`

	queryListPendingMatches = `
		SELECT reference, owner_id, to_address, mint, raw_amount, decimals,
		       settlement_amount, swap_ref, attempts, last_error, created_at, updated_at
		FROM pending_matches
		ORDER BY created_at, rowid`

	queryDeletePendingMatch = `
		DELETE FROM pending_matches WHERE reference = ?`
)
