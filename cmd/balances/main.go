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


package main

import (
	"context"
	"flag"
	"fmt"

	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts  int
	funded         int
	totalLamports  int64
	withoutWallets int
}

func printAccountHeader(account models.Account) {
	wallet := account.WalletAddress
	if wallet == "" {
		wallet = "not registered"
	}
	fmt.Printf("\n┌─ Owner: %s\n", account.OwnerId)
	fmt.Printf("│  Balance: %s (%d lamports)\n", common.FormatSol(account.Balance), account.Balance)
	fmt.Printf("│  Refund wallet: %s\n", wallet)
	if !account.LastActivityAt.IsZero() {
		fmt.Printf("│  Last activity: %s\n", account.LastActivityAt.Format("2006-01-02 15:04:05"))
	}
	common.PrintBoxSeparator(78)
}

func printEntries(entries []models.LedgerEntry) {
	for i, entry := range entries {
		isLast := i == len(entries)-1
		fmt.Printf("%s %-8s %22s  ref: %-15s %s\n",
			common.BoxPrefix(isLast),
			entry.EntryType,
			common.FormatSol(entry.Amount),
			common.ShortRef(entry.IdempotencyKey, 12),
			entry.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func processAccount(ctx context.Context, account models.Account, ledger store.CreditLedger, historyLimit int) error {
	printAccountHeader(account)
	if historyLimit <= 0 {
		return nil
	}

	entries, err := ledger.GetHistory(ctx, account.OwnerId, historyLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}
	printEntries(entries)
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ownerFlag := flag.String("owner", "", "Filter by a single owner (optional)")
	historyFlag := flag.Int("history", 5, "Recent ledger entries to show per owner")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg, false)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	accounts, err := common.SelectAccounts(ctx, services.Ledger, *ownerFlag, logger)
	if err != nil {
		logger.Fatal("Failed to select accounts", zap.Error(err))
	}

	common.PrintHeader("OWNER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, account := range accounts {
		stats.totalAccounts++
		if account.Balance > 0 {
			stats.funded++
			stats.totalLamports += account.Balance
			if account.WalletAddress == "" {
				stats.withoutWallets++
			}
		}

		if err := processAccount(ctx, account, services.Ledger, *historyFlag); err != nil {
			logger.Error("Failed to process account",
				zap.String("owner_id", account.OwnerId),
				zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d funded accounts holding %s (%d accounts queried, %d funded without refund wallet)",
		stats.funded, common.FormatSol(stats.totalLamports), stats.totalAccounts, stats.withoutWallets)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int("funded_accounts", stats.funded),
		zap.Int64("total_lamports", stats.totalLamports))
}
