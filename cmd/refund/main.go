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
	"time"

	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"
	"deposit-reconciler-go/internal/metrics"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/refund"

	"go.uber.org/zap"
)

func printCandidates(accounts []models.Account, now time.Time) {
	for i, account := range accounts {
		isLast := i == len(accounts)-1
		fmt.Printf("%s %-24s %20s  idle %-10s -> %s\n",
			common.BoxPrefix(isLast),
			account.OwnerId,
			common.FormatSol(account.Balance),
			now.Sub(account.LastActivityAt).Truncate(time.Hour),
			account.WalletAddress)
	}
}

func main() {
	dryRun := flag.Bool("dry-run", false, "List accounts that would be refunded without sending anything")
	flag.Parse()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Prime is only needed when payouts are actually sent
	services, err := common.InitializeServices(ctx, cfg, !*dryRun)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	common.PrintHeader(fmt.Sprintf("INACTIVITY REFUNDS (idle for %s or more)", cfg.Refund.InactivityThreshold), common.DefaultWidth)

	if *dryRun {
		now := time.Now()
		candidates, err := services.Ledger.StaleBalances(ctx, now.Add(-cfg.Refund.InactivityThreshold))
		if err != nil {
			logger.Fatal("Failed to list refund candidates", zap.Error(err))
		}
		printCandidates(candidates, now)
		common.PrintFooter(fmt.Sprintf("DRY RUN: %d accounts would be refunded", len(candidates)), common.DefaultWidth)
		return
	}

	scheduler, err := refund.NewScheduler(refund.SchedulerConfig{
		Ledger:              services.Ledger,
		Sender:              services.Prime,
		Metrics:             metrics.Reconciler(),
		InactivityThreshold: cfg.Refund.InactivityThreshold,
		SendTimeout:         cfg.Refund.SendTimeout,
		Concurrency:         cfg.Refund.Concurrency,
	})
	if err != nil {
		logger.Fatal("Failed to configure refund scheduler", zap.Error(err))
	}

	candidates, err := scheduler.Candidates(ctx)
	if err != nil {
		logger.Fatal("Failed to list refund candidates", zap.Error(err))
	}
	printCandidates(candidates, time.Now())

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		logger.Fatal("Refund sweep failed", zap.Error(err))
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d sent (%s), %d send failures, %d debit failures",
		report.Sent, common.FormatSol(report.Lamports), report.SendFailed, report.DebitFailed), common.DefaultWidth)

	if report.DebitFailed > 0 {
		logger.Error("Some payouts were sent but not debited; reconcile the ledger by hand before the next sweep",
			zap.Int("debit_failed", report.DebitFailed))
	}
}
