package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deposit-reconciler-go/internal/models"

	"go.uber.org/zap"
)

const stateSchema = `
	-- Newest signature seen per watched address
	CREATE TABLE IF NOT EXISTS poll_cursors (
		address TEXT PRIMARY KEY,
		signature TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Terminal outcome per chain reference
	CREATE TABLE IF NOT EXISTS processed_references (
		reference TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Codes consumed whose credit has not landed yet
	CREATE TABLE IF NOT EXISTS pending_matches (
		reference TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		to_address TEXT NOT NULL,
		mint TEXT NOT NULL DEFAULT '',
		raw_amount INTEGER NOT NULL,
		decimals INTEGER NOT NULL DEFAULT 0,
		settlement_amount INTEGER NOT NULL DEFAULT 0,
		swap_ref TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

func (s *Service) GetCursors(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, queryGetCursors)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	cursors := make(map[string]string)
	for rows.Next() {
		var address, signature string
		if err := rows.Scan(&address, &signature); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors[address] = signature
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursor rows: %w", err)
	}
	return cursors, nil
}

// SetCursors writes all cursors in one transaction so a cycle never leaves
// some addresses advanced and others not.
func (s *Service) SetCursors(ctx context.Context, cursors map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := sqlTime(s.now())
	for address, signature := range cursors {
		if _, err := tx.ExecContext(ctx, queryUpsertCursor, address, signature, now); err != nil {
			return fmt.Errorf("failed to write cursor for %s: %w", address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cursors: %w", err)
	}
	return nil
}

func (s *Service) GetProcessed(ctx context.Context, reference string) (*models.ProcessedReference, error) {
	var ref models.ProcessedReference
	err := s.db.QueryRowContext(ctx, queryGetProcessed, reference).Scan(
		&ref.Reference, &ref.Outcome, &ref.OwnerId, &ref.Amount, &ref.CreatedAt, &ref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed reference: %w", err)
	}
	return &ref, nil
}

func (s *Service) RecordProcessed(ctx context.Context, ref models.ProcessedReference) (bool, error) {
	now := sqlTime(s.now())
	result, err := s.db.ExecContext(ctx, queryInsertProcessed,
		ref.Reference, ref.Outcome, ref.OwnerId, ref.Amount, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to record processed reference: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (s *Service) SavePendingMatch(ctx context.Context, match models.PendingMatch) error {
	now := sqlTime(s.now())
	_, err := s.db.ExecContext(ctx, queryUpsertPendingMatch,
		match.Reference, match.OwnerId, match.ToAddress, match.Mint, int64(match.RawAmount), match.Decimals,
		match.SettlementAmount, match.SwapRef, match.Attempts, match.LastError, now, now)
	if err != nil {
		return fmt.Errorf("failed to save pending match: %w", err)
	}
	return nil
}

func scanPendingMatch(row rowScanner) (*models.PendingMatch, error) {
	var match models.PendingMatch
	var rawAmount int64
	err := row.Scan(&match.Reference, &match.OwnerId, &match.ToAddress, &match.Mint, &rawAmount, &match.Decimals,
		&match.SettlementAmount, &match.SwapRef, &match.Attempts, &match.LastError, &match.CreatedAt, &match.UpdatedAt)
	if err != nil {
		return nil, err
	}
	match.RawAmount = uint64(rawAmount)
	return &match, nil
}

func (s *Service) GetPendingMatch(ctx context.Context, reference string) (*models.PendingMatch, error) {
	match, err := scanPendingMatch(s.db.QueryRowContext(ctx, queryGetPendingMatch, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending match: %w", err)
	}
	return match, nil
}

func (s *Service) ListPendingMatches(ctx context.Context) ([]models.PendingMatch, error) {
	rows, err := s.db.QueryContext(ctx, queryListPendingMatches)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending matches: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var matches []models.PendingMatch
	for rows.Next() {
		match, err := scanPendingMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending match: %w", err)
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending match rows: %w", err)
	}
	return matches, nil
}

func (s *Service) DeletePendingMatch(ctx context.Context, reference string) error {
	if _, err := s.db.ExecContext(ctx, queryDeletePendingMatch, reference); err != nil {
		return fmt.Errorf("failed to delete pending match: %w", err)
	}
	return nil
}
