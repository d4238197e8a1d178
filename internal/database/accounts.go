package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RegisterWallet records the payout address used for inactivity refunds.
// Registering counts as account activity.
func (s *SubledgerService) RegisterWallet(ctx context.Context, ownerId, address string) error {
	now := sqlTime(s.now())
	_, err := s.db.ExecContext(ctx, queryUpsertWallet, ownerId, address, now, now, now)
	if err != nil {
		zap.L().Error("Failed to register wallet",
			zap.String("owner_id", ownerId),
			zap.String("wallet_address", address),
			zap.Error(err))
		return fmt.Errorf("failed to register wallet: %w", err)
	}

	zap.L().Info("Refund wallet registered",
		zap.String("owner_id", ownerId),
		zap.String("wallet_address", address))
	return nil
}
