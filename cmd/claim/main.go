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
	"os"

	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ownerFlag := flag.String("owner", "", "Owner to credit (required)")
	referenceFlag := flag.String("reference", "", "Transaction signature of the deposit (required)")
	flag.Parse()

	if *ownerFlag == "" || *referenceFlag == "" {
		fmt.Println("Usage: claim --owner <owner-id> --reference <signature>")
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

	reconciler, err := common.NewReconciler(ctx, cfg, services)
	if err != nil {
		logger.Fatal("Failed to configure reconciler", zap.Error(err))
	}
	defer reconciler.Close()

	result, err := reconciler.Listener.Claim(ctx, *ownerFlag, *referenceFlag)
	if err != nil {
		logger.Fatal("Claim failed", zap.Error(err))
	}

	common.PrintHeader("MANUAL CLAIM", common.DefaultWidth)
	fmt.Printf("Owner:     %s\n", *ownerFlag)
	fmt.Printf("Reference: %s\n", *referenceFlag)

	if !result.Success {
		fmt.Printf("\nRejected: %s\n", result.Reason)
		if result.Error != "" {
			fmt.Printf("   %s\n", result.Error)
		}
		common.PrintSeparatorNewline("=", common.DefaultWidth)
		os.Exit(1)
	}

	fmt.Printf("\nCredited %s\n", common.FormatSol(result.Amount))
	fmt.Printf("   New balance: %s\n", common.FormatSol(result.NewBalance))
	common.PrintSeparatorNewline("=", common.DefaultWidth)
}
