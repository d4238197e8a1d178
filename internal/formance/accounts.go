package formance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// GetBalance returns the owner's balance in lamports. Unknown owners have zero.
func (s *Service) GetBalance(ctx context.Context, ownerId string) (int64, error) {
	zap.L().Debug("Getting balance from Formance", zap.String("owner_id", ownerId))

	acct, err := s.getAccount(ctx, userAccount(ownerId))
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if bal := volumeBalance(acct.Volumes, settlementAsset); bal != nil {
		return bal.Int64(), nil
	}
	return 0, nil
}

func (s *Service) GetAccount(ctx context.Context, ownerId string) (*models.Account, error) {
	acct, err := s.getAccount(ctx, userAccount(ownerId))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, ownerId)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	// Formance answers for any address; an account nobody wrote to does not exist here.
	if len(acct.Volumes) == 0 && acct.Metadata["entity_type"] == "" {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, ownerId)
	}
	return accountFromFormance(acct), nil
}

// GetAccounts returns every depositor account ordered by owner id.
func (s *Service) GetAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	var cursor *string

	for {
		resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
			Ledger:   s.ledger,
			PageSize: ptrInt64(100),
			Cursor:   cursor,
			RequestBody: map[string]any{
				"$match": map[string]any{
					"metadata[entity_type]": entityType,
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}

		page := resp.V2AccountsCursorResponse.Cursor
		for _, listed := range page.Data {
			if !isUserAccount(listed.Address) {
				continue
			}
			// Volumes come from a direct GET, matching GetBalance.
			acct, err := s.getAccount(ctx, listed.Address)
			if err != nil {
				return nil, fmt.Errorf("failed to get account %s: %w", listed.Address, err)
			}
			accounts = append(accounts, *accountFromFormance(acct))
		}

		if !page.HasMore || page.Next == nil {
			break
		}
		cursor = page.Next
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].OwnerId < accounts[j].OwnerId })
	return accounts, nil
}

// StaleBalances returns funded accounts with a refund wallet whose last
// activity is at or before inactiveSince, oldest first.
func (s *Service) StaleBalances(ctx context.Context, inactiveSince time.Time) ([]models.Account, error) {
	accounts, err := s.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	stale := filterStale(accounts, inactiveSince)
	zap.L().Debug("Stale balances from Formance",
		zap.Time("inactive_since", inactiveSince),
		zap.Int("count", len(stale)))
	return stale, nil
}

// RegisterWallet records the payout address used for inactivity refunds.
func (s *Service) RegisterWallet(ctx context.Context, ownerId, address string) error {
	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: userAccount(ownerId),
		RequestBody: map[string]string{
			"entity_type":      entityType,
			"wallet_address":   address,
			"last_activity_at": formatTime(s.now()),
		},
	})
	if err != nil {
		zap.L().Error("Failed to register wallet in Formance",
			zap.String("owner_id", ownerId),
			zap.String("wallet_address", address),
			zap.Error(err))
		return fmt.Errorf("failed to register wallet: %w", err)
	}

	zap.L().Info("Refund wallet registered in Formance",
		zap.String("owner_id", ownerId),
		zap.String("wallet_address", address))
	return nil
}

// ---------- helpers ----------

// getAccount fetches a single account with its volumes.
func (s *Service) getAccount(ctx context.Context, address string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return nil, err
	}
	return &resp.V2AccountResponse.Data, nil
}

func isUserAccount(address string) bool {
	parts := strings.Split(address, ":")
	return len(parts) == 2 && parts[0] == "users" && parts[1] != ""
}

func accountFromFormance(acct *shared.V2Account) *models.Account {
	account := &models.Account{
		OwnerId:        strings.TrimPrefix(acct.Address, "users:"),
		WalletAddress:  acct.Metadata["wallet_address"],
		LastActivityAt: parseTime(acct.Metadata["last_activity_at"]),
	}
	if bal := volumeBalance(acct.Volumes, settlementAsset); bal != nil {
		account.Balance = bal.Int64()
	}
	if t := acct.FirstUsage; t != nil {
		account.CreatedAt = *t
	}
	if t := acct.UpdatedAt; t != nil {
		account.UpdatedAt = *t
	}
	return account
}

func filterStale(accounts []models.Account, inactiveSince time.Time) []models.Account {
	var stale []models.Account
	for _, a := range accounts {
		if a.Balance <= 0 || a.WalletAddress == "" || a.LastActivityAt.IsZero() {
			continue
		}
		if a.LastActivityAt.After(inactiveSince) {
			continue
		}
		stale = append(stale, a)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].LastActivityAt.Before(stale[j].LastActivityAt) })
	return stale
}
