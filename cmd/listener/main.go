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
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"deposit-reconciler-go/internal/api"
	"deposit-reconciler-go/internal/common"
	"deposit-reconciler-go/internal/config"
	"deposit-reconciler-go/internal/metrics"
	"deposit-reconciler-go/internal/refund"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting deposit reconciler",
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("state_backend", cfg.Ledger.StateBackend))

	services, err := common.InitializeServices(ctx, cfg, cfg.Refund.Enabled)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	reconciler, err := common.NewReconciler(ctx, cfg, services)
	if err != nil {
		zap.L().Fatal("Failed to configure reconciler", zap.Error(err))
	}
	defer reconciler.Close()

	if err := reconciler.Listener.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start deposit listener", zap.Error(err))
	}

	var scheduler *refund.Scheduler
	if cfg.Refund.Enabled {
		scheduler, err = refund.NewScheduler(refund.SchedulerConfig{
			Ledger:              services.Ledger,
			Sender:              services.Prime,
			Metrics:             metrics.Reconciler(),
			Interval:            cfg.Refund.Interval,
			InitialDelay:        cfg.Refund.InitialDelay,
			InactivityThreshold: cfg.Refund.InactivityThreshold,
			SendTimeout:         cfg.Refund.SendTimeout,
			Concurrency:         cfg.Refund.Concurrency,
		})
		if err != nil {
			zap.L().Fatal("Failed to configure refund scheduler", zap.Error(err))
		}
		if err := scheduler.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start refund scheduler", zap.Error(err))
		}
	} else {
		zap.L().Warn("Inactivity refunds are disabled")
	}

	depositService := api.NewDepositService(services.Ledger, reconciler.Registry, reconciler.Listener, cfg.Solana.CustodialAddress)
	server := &http.Server{
		Addr:    cfg.Api.ListenAddr,
		Handler: api.NewRouter(depositService),
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP API listening", zap.String("addr", cfg.Api.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		zap.L().Error("HTTP API failed, stopping...", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Api.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("HTTP API did not shut down cleanly", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconciler.Listener.Stop()
		}()
		if scheduler != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				scheduler.Stop()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Deposit reconciler stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
