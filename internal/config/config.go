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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"deposit-reconciler-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultCodePrefix   = "JTT-"
	DefaultCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	DefaultTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	lamportsPerSol = 9
)

func Load() (*models.Config, error) {
	var cfg models.Config

	type durationEnv struct {
		key    string
		def    time.Duration
		target *time.Duration
	}
	for _, d := range []durationEnv{
		{"DB_CONN_MAX_LIFETIME", 5 * time.Minute, &cfg.Database.ConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", 30 * time.Second, &cfg.Database.ConnMaxIdleTime},
		{"DB_PING_TIMEOUT", 5 * time.Second, &cfg.Database.PingTimeout},
		{"POLL_INTERVAL", 15 * time.Second, &cfg.Listener.PollInterval},
		{"INITIAL_POLL_DELAY", 2 * time.Second, &cfg.Listener.InitialPollDelay},
		{"DEPOSIT_CODE_TTL", time.Hour, &cfg.Codes.TTL},
		{"RPC_REQUEST_TIMEOUT", 20 * time.Second, &cfg.Solana.RequestTimeout},
		{"SWAP_TIMEOUT", 60 * time.Second, &cfg.Swap.Timeout},
		{"REFUND_INTERVAL", time.Hour, &cfg.Refund.Interval},
		{"REFUND_INITIAL_DELAY", 5 * time.Second, &cfg.Refund.InitialDelay},
		{"REFUND_INACTIVITY", 7 * 24 * time.Hour, &cfg.Refund.InactivityThreshold},
		{"REFUND_SEND_TIMEOUT", 60 * time.Second, &cfg.Refund.SendTimeout},
		{"API_SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.Api.ShutdownTimeout},
	} {
		value, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.target = value
	}

	minDepositSol, err := getEnvDecimal("MIN_DEPOSIT_SOL", decimal.New(1, -2))
	if err != nil {
		return nil, err
	}

	cfg.Database.Path = getEnvString("DATABASE_PATH", "deposits.db")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)

	cfg.Ledger = models.LedgerConfig{
		Backend:      strings.ToLower(getEnvString("LEDGER_BACKEND", "sqlite")),
		StateBackend: strings.ToLower(getEnvString("STATE_BACKEND", "sqlite")),
	}

	cfg.Listener.PageSize = getEnvInt("POLL_PAGE_SIZE", 20)
	cfg.Listener.MaxPagesPerCycle = getEnvInt("POLL_MAX_PAGES", 5)
	cfg.Listener.RetryLimit = getEnvInt("POLL_RETRY_LIMIT", 5)
	cfg.Listener.MinDepositLamports = getEnvInt64("MIN_DEPOSIT_LAMPORTS", minDepositSol.Shift(lamportsPerSol).IntPart())
	cfg.Listener.TokensFile = getEnvString("TOKENS_FILE", "tokens.yaml")

	cfg.Codes.Prefix = getEnvString("DEPOSIT_CODE_PREFIX", DefaultCodePrefix)
	cfg.Codes.Alphabet = getEnvString("DEPOSIT_CODE_ALPHABET", DefaultCodeAlphabet)
	cfg.Codes.Length = getEnvInt("DEPOSIT_CODE_LENGTH", 8)

	cfg.Solana.RpcURL = getEnvString("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	cfg.Solana.Commitment = getEnvString("SOLANA_COMMITMENT", "confirmed")
	cfg.Solana.CustodialAddress = getEnvString("CUSTODIAL_WALLET_ADDRESS", "")
	cfg.Solana.TokenProgramIds = getEnvList("TOKEN_PROGRAM_IDS", []string{DefaultTokenProgram})
	cfg.Solana.RateLimit = getEnvFloat("RPC_RATE_LIMIT", 5)
	cfg.Solana.RateBurst = getEnvInt("RPC_RATE_BURST", 5)

	cfg.Swap.BaseURL = getEnvString("SWAP_API_URL", "")
	cfg.Swap.ApiKey = getEnvString("SWAP_API_KEY", "")
	cfg.Swap.SlippageBps = getEnvInt("SWAP_SLIPPAGE_BPS", 100)

	cfg.Refund.Enabled = getEnvBool("REFUND_ENABLED", true)
	cfg.Refund.Concurrency = getEnvInt("REFUND_CONCURRENCY", 4)

	cfg.Formance = models.FormanceConfig{
		StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
		ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
		ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
		LedgerName:   getEnvString("FORMANCE_LEDGER", "tip-deposits"),
	}

	cfg.Prime = models.PrimeConfig{
		PortfolioId: getEnvString("PRIME_PORTFOLIO_ID", ""),
		WalletId:    getEnvString("PRIME_SOL_WALLET_ID", ""),
		NetworkId:   getEnvString("PRIME_NETWORK_ID", "solana"),
		NetworkType: getEnvString("PRIME_NETWORK_TYPE", "mainnet"),
	}

	cfg.Api.ListenAddr = getEnvString("API_LISTEN_ADDR", ":8080")

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *models.Config) error {
	if cfg.Listener.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %v", cfg.Listener.PollInterval)
	}
	if cfg.Listener.PageSize <= 0 || cfg.Listener.PageSize > 1000 {
		return fmt.Errorf("POLL_PAGE_SIZE must be between 1 and 1000, got %d", cfg.Listener.PageSize)
	}
	if cfg.Listener.MaxPagesPerCycle <= 0 {
		return fmt.Errorf("POLL_MAX_PAGES must be positive, got %d", cfg.Listener.MaxPagesPerCycle)
	}
	if cfg.Listener.MinDepositLamports <= 0 {
		return fmt.Errorf("minimum deposit must be positive, got %d lamports", cfg.Listener.MinDepositLamports)
	}
	if len(cfg.Codes.Alphabet) < 2 {
		return fmt.Errorf("DEPOSIT_CODE_ALPHABET needs at least 2 characters")
	}
	if cfg.Codes.Length < 4 {
		return fmt.Errorf("DEPOSIT_CODE_LENGTH must be at least 4, got %d", cfg.Codes.Length)
	}
	if cfg.Codes.TTL <= 0 {
		return fmt.Errorf("DEPOSIT_CODE_TTL must be positive, got %v", cfg.Codes.TTL)
	}
	switch cfg.Ledger.Backend {
	case "sqlite", "formance":
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Ledger.Backend)
	}
	switch cfg.Ledger.StateBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", cfg.Ledger.StateBackend)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
