package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deposit-reconciler-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	solSymbol       = "SOL"
	lamportDecimals = 9
)

// withdrawalNamespace scopes the deterministic withdrawal idempotency keys.
var withdrawalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("deposit-reconciler/refund"))

type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService

	portfolioId string
	walletId    string
	networkId   string
	networkType string
	now         func() time.Time
}

func NewService(creds *credentials.Credentials, cfg models.PrimeConfig) (*Service, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     cfg.PortfolioId,
		walletId:        cfg.WalletId,
		networkId:       cfg.NetworkId,
		networkType:     cfg.NetworkType,
		now:             time.Now,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// Resolve fills in the portfolio and SOL wallet when they were not configured:
// the "Default Portfolio" and its single SOL trading wallet.
func (s *Service) Resolve(ctx context.Context) error {
	if s.portfolioId == "" {
		portfolio, err := s.FindDefaultPortfolio(ctx)
		if err != nil {
			return err
		}
		s.portfolioId = portfolio.Id
		zap.L().Info("Using default portfolio",
			zap.String("name", portfolio.Name),
			zap.String("id", portfolio.Id))
	}

	if s.walletId == "" {
		walletList, err := s.ListWallets(ctx, "TRADING", []string{solSymbol})
		if err != nil {
			return err
		}
		if len(walletList) != 1 {
			return fmt.Errorf("expected exactly one %s trading wallet, found %d; set PRIME_SOL_WALLET_ID", solSymbol, len(walletList))
		}
		s.walletId = walletList[0].Id
		zap.L().Info("Using refund wallet",
			zap.String("name", walletList[0].Name),
			zap.String("id", walletList[0].Id))
	}
	return nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	request := &portfolios.ListPortfoliosRequest{}

	response, err := s.portfoliosSvc.ListPortfolios(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]models.Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = models.Portfolio{
			Id:   p.Id,
			Name: p.Name,
		}
	}

	return portfolioList, nil
}

func (s *Service) FindDefaultPortfolio(ctx context.Context) (*models.Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}

	for _, portfolio := range portfolioList {
		if portfolio.Name == "Default Portfolio" {
			return &portfolio, nil
		}
	}

	return nil, fmt.Errorf("default portfolio not found")
}

func (s *Service) ListWallets(ctx context.Context, walletType string, symbols []string) ([]models.Wallet, error) {
	request := &wallets.ListWalletsRequest{
		PortfolioId: s.portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	}

	response, err := s.walletsSvc.ListWallets(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]models.Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.Wallet{
			Id:     w.Id,
			Name:   w.Name,
			Symbol: w.Symbol,
			Type:   w.Type,
		}
	}

	return walletList, nil
}

// Send withdraws lamports of SOL to address and returns the Prime activity id.
func (s *Service) Send(ctx context.Context, address string, lamports int64) (string, error) {
	if s.portfolioId == "" || s.walletId == "" {
		return "", fmt.Errorf("prime refund wallet not resolved")
	}
	if lamports <= 0 {
		return "", fmt.Errorf("refund amount must be positive, got %d", lamports)
	}

	withdrawal, err := s.CreateWithdrawal(ctx, CreateWithdrawalParams{
		DestinationAddress: address,
		Amount:             solAmount(lamports),
		IdempotencyKey:     withdrawalKey(address, lamports, s.now()),
	})
	if err != nil {
		return "", err
	}
	return withdrawal.ActivityId, nil
}

// CreateWithdrawalParams contains parameters for creating a withdrawal
type CreateWithdrawalParams struct {
	DestinationAddress string
	Amount             string
	IdempotencyKey     string
}

// CreateWithdrawal creates a SOL withdrawal from the refund wallet
func (s *Service) CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error) {
	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("portfolio_id", s.portfolioId),
		zap.String("wallet_id", s.walletId),
		zap.String("amount", params.Amount),
		zap.String("destination", params.DestinationAddress),
		zap.String("idempotency_key", params.IdempotencyKey))

	blockchainAddr := &model.BlockchainAddress{
		Address: params.DestinationAddress,
	}
	if s.networkId != "" && s.networkType != "" {
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   s.networkId,
			Type: s.networkType,
		}
	}

	request := &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       s.portfolioId,
		SourceWalletId:    s.walletId,
		Amount:            params.Amount,
		IdempotencyKey:    params.IdempotencyKey,
		Symbol:            solSymbol,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, request)
	if err != nil {
		zap.L().Error("Failed to create withdrawal",
			zap.String("wallet_id", s.walletId),
			zap.String("amount", params.Amount),
			zap.String("destination", params.DestinationAddress),
			zap.Error(err))
		return nil, fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal created successfully",
		zap.String("activity_id", response.ActivityId),
		zap.String("wallet_id", s.walletId),
		zap.String("amount", params.Amount))

	return &models.Withdrawal{
		ActivityId:     response.ActivityId,
		Asset:          solSymbol,
		Amount:         params.Amount,
		Destination:    params.DestinationAddress,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}

// solAmount renders lamports as a SOL decimal string.
func solAmount(lamports int64) string {
	return decimal.New(lamports, -lamportDecimals).String()
}

// withdrawalKey is stable for one address and amount per UTC day, so a send
// retried after a timeout does not pay out twice.
func withdrawalKey(address string, lamports int64, at time.Time) string {
	name := strings.Join([]string{address, strconv.FormatInt(lamports, 10), at.UTC().Format("2006-01-02")}, ":")
	return uuid.NewSHA1(withdrawalNamespace, []byte(name)).String()
}
