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
	"fmt"

	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"

	"go.uber.org/zap"
)

func cursorLabel(signature string) string {
	if signature == "" {
		return "none (next cycle starts from the newest page)"
	}
	return common.ShortRef(signature, 16)
}

func main() {
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

	watched := reconciler.Listener.WatchSet(ctx)
	cursors, err := services.State.GetCursors(ctx)
	if err != nil {
		logger.Fatal("Failed to read poll cursors", zap.Error(err))
	}

	common.PrintHeader("WATCH SET", common.WideWidth)
	for i, w := range watched {
		isLast := i == len(watched)-1
		fmt.Printf("%s %-44s  %-10s %s\n", common.BoxPrefix(isLast), w.Address, w.Kind, w.Mint)
		fmt.Printf("%s    cursor: %s\n", common.BoxDetailPrefix(isLast), cursorLabel(cursors[w.Address]))
	}

	pending, err := services.State.ListPendingMatches(ctx)
	if err != nil {
		logger.Warn("Failed to list pending matches", zap.Error(err))
	}
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d watched addresses, %d stored cursors, %d pending matches",
		len(watched), len(cursors), len(pending)), common.WideWidth)
}
