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

import (
	"database/sql"
	"time"
)

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

func sqlTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// SubledgerService handles ledger entry operations
type SubledgerService struct {
	db  *sql.DB
	now func() time.Time
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db:  db,
		now: time.Now,
	}
}

func (s *SubledgerService) InitSchema() error {
	schema := `
	-- Accounts Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS accounts (
		owner_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0,
		wallet_address TEXT NOT NULL DEFAULT '',
		last_activity_at TIMESTAMP NOT NULL,
		last_entry_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (balance >= 0)
	);

	-- Ledger Entries Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_stale ON accounts(last_activity_at) WHERE balance > 0;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_key ON ledger_entries(idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner ON ledger_entries(owner_id, created_at);

	-- Journal Entries for Double-Entry Bookkeeping
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount INTEGER DEFAULT 0,
		credit_amount INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_journal_entry_id ON journal_entries(entry_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
