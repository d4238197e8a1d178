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
	"errors"
	"fmt"
	"strings"

	"deposit-reconciler-go/internal/listener"
	"deposit-reconciler-go/internal/models"

	"go.uber.org/zap"
)

var ErrOwnerRequired = errors.New("owner_id is required")

// IssueDepositCode hands the owner a fresh memo code, replacing any code they
// already held, together with the address to pay into.
func (s *DepositService) IssueDepositCode(ctx context.Context, ownerId string) (*models.DepositInstructions, error) {
	ownerId = strings.TrimSpace(ownerId)
	if ownerId == "" {
		return nil, ErrOwnerRequired
	}

	code, err := s.registry.Issue(ownerId)
	if err != nil {
		zap.L().Error("Failed to issue deposit code", zap.String("owner_id", ownerId), zap.Error(err))
		return nil, fmt.Errorf("failed to issue deposit code: %w", err)
	}

	zap.L().Info("Deposit code issued",
		zap.String("owner_id", ownerId),
		zap.String("code", code.Code))

	return &models.DepositInstructions{
		Code:      code.Code,
		Address:   s.custodialAddress,
		ExpiresAt: code.CreatedAt.Add(s.registry.TTL()),
	}, nil
}

// Claim credits a deposit the poller could not match. Rejections are
// reported in the result, not as errors.
func (s *DepositService) Claim(ctx context.Context, ownerId, reference string) (*models.ClaimResult, error) {
	if strings.TrimSpace(ownerId) == "" {
		return nil, ErrOwnerRequired
	}
	return s.reconciler.Claim(ctx, ownerId, reference)
}

// TriggerPoll runs a poll cycle now, or joins the one already running.
func (s *DepositService) TriggerPoll(ctx context.Context) (*listener.CycleSummary, error) {
	return s.reconciler.PollNow(ctx)
}
