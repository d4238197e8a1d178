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

package api

import (
	"context"
	"fmt"

	"deposit-reconciler-go/internal/listener"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/registry"
	"deposit-reconciler-go/internal/store"
)

// healthCheckOwner is read on every health check; it never holds funds.
const healthCheckOwner = "__health__"

// Reconciler is the part of the deposit listener the front-end drives.
type Reconciler interface {
	Claim(ctx context.Context, ownerId, reference string) (*models.ClaimResult, error)
	PollNow(ctx context.Context) (*listener.CycleSummary, error)
}

// DepositService is the front-end facing API over the registry, the
// reconciler and the credit ledger.
type DepositService struct {
	ledger           store.CreditLedger
	registry         *registry.Registry
	reconciler       Reconciler
	custodialAddress string
}

func NewDepositService(ledger store.CreditLedger, reg *registry.Registry, reconciler Reconciler, custodialAddress string) *DepositService {
	return &DepositService{
		ledger:           ledger,
		registry:         reg,
		reconciler:       reconciler,
		custodialAddress: custodialAddress,
	}
}

func (s *DepositService) HealthCheck(ctx context.Context) error {
	if _, err := s.ledger.GetBalance(ctx, healthCheckOwner); err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}
