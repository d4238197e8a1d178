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
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"
	"deposit-reconciler-go/internal/solana"
	"deposit-reconciler-go/internal/store"

	"go.uber.org/zap"
)

func main() {
	ownerFlag := flag.String("owner", "", "Owner whose refund wallet to show or set (required)")
	addressFlag := flag.String("address", "", "Solana address to register as the refund wallet (optional)")
	flag.Parse()

	if *ownerFlag == "" {
		fmt.Println("Usage: wallet --owner <owner-id> [--address <solana-address>]")
		os.Exit(2)
	}

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg, false)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	address := strings.TrimSpace(*addressFlag)
	if address != "" {
		if err := solana.ValidateAddress(address); err != nil {
			logger.Fatal("Invalid refund wallet", zap.Error(err))
		}
		if err := services.Ledger.RegisterWallet(ctx, *ownerFlag, address); err != nil {
			logger.Fatal("Failed to register refund wallet", zap.Error(err))
		}
		fmt.Printf("Refund wallet for %s set to %s\n", *ownerFlag, address)
		return
	}

	account, err := services.Ledger.GetAccount(ctx, *ownerFlag)
	if errors.Is(err, store.ErrAccountNotFound) {
		fmt.Printf("Owner %s has no account yet\n", *ownerFlag)
		return
	}
	if err != nil {
		logger.Fatal("Failed to get account", zap.Error(err))
	}

	if account.WalletAddress == "" {
		fmt.Printf("Owner %s has no refund wallet; inactivity refunds are skipped\n", *ownerFlag)
		return
	}
	fmt.Printf("Refund wallet for %s: %s\n", *ownerFlag, account.WalletAddress)
}
