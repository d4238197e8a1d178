package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Listener ListenerConfig
	Codes    CodeConfig
	Solana   SolanaConfig
	Swap     SwapConfig
	Refund   RefundConfig
	Formance FormanceConfig
	Prime    PrimeConfig
	Api      ApiConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig selects the Credit Ledger backend ("sqlite" or "formance")
// and where poll state is kept ("sqlite" or "memory").
type LedgerConfig struct {
	Backend      string
	StateBackend string
}

// ListenerConfig holds deposit poller settings
type ListenerConfig struct {
	PollInterval       time.Duration
	InitialPollDelay   time.Duration
	PageSize           int
	MaxPagesPerCycle   int
	RetryLimit         int
	MinDepositLamports int64
	TokensFile         string
}

// CodeConfig shapes the deposit codes handed out to users
type CodeConfig struct {
	Prefix   string
	Alphabet string
	Length   int
	TTL      time.Duration
}

// SolanaConfig holds the chain RPC settings and the custodial wallet
type SolanaConfig struct {
	RpcURL           string
	Commitment       string
	CustodialAddress string
	TokenProgramIds  []string
	RateLimit        float64
	RateBurst        int
	RequestTimeout   time.Duration
}

// SwapConfig points at the swap executor used for token deposits
type SwapConfig struct {
	BaseURL     string
	ApiKey      string
	SlippageBps int
	Timeout     time.Duration
}

// RefundConfig holds inactivity refund settings
type RefundConfig struct {
	Enabled             bool
	Interval            time.Duration
	InitialDelay        time.Duration
	InactivityThreshold time.Duration
	SendTimeout         time.Duration
	Concurrency         int
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// PrimeConfig identifies the Prime wallet that funds refunds
type PrimeConfig struct {
	PortfolioId string
	WalletId    string
	NetworkId   string
	NetworkType string
}

// ApiConfig holds the HTTP listener settings
type ApiConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}
