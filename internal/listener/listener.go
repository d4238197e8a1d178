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


package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deposit-reconciler-go/internal/metrics"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/registry"
	"deposit-reconciler-go/internal/solana"
	"deposit-reconciler-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SwapRequest asks the conversion bridge to turn a token deposit into SOL.
// Reference doubles as the idempotency key on the executor side.
type SwapRequest struct {
	Mint      string
	RawAmount uint64
	Decimals  int
	Reference string
}

type SwapResult struct {
	SettlementAmount int64 // lamports
	ConfirmationRef  string
}

// Converter swaps a received token into the settlement asset.
type Converter interface {
	SwapToSettlement(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// DepositListenerConfig contains configuration for DepositListener
type DepositListenerConfig struct {
	Rpc       solana.Client
	Ledger    store.CreditLedger
	State     store.StateStore
	Registry  *registry.Registry
	Converter Converter
	Metrics   *metrics.ReconcilerMetrics

	CustodialAddress string
	TokenProgramIds  []string
	Tokens           []models.TokenConfig
	CodePrefix       string
	CodeLength       int

	PollInterval       time.Duration
	InitialPollDelay   time.Duration
	PageSize           int
	MaxPagesPerCycle   int
	RetryLimit         int
	MinDepositLamports int64
}

// DepositListener polls the chain for transfers into the hot wallet and its
// token accounts and credits matched owners exactly once.
type DepositListener struct {
	rpc        solana.Client
	ledger     store.CreditLedger
	state      store.StateStore
	registry   *registry.Registry
	converter  Converter
	metrics    *metrics.ReconcilerMetrics
	classifier *Classifier
	memos      *MemoNormalizer

	custodialAddress string
	tokenProgramIds  []string

	pollInterval     time.Duration
	initialPollDelay time.Duration
	pageSize         int
	maxPagesPerCycle int
	retryLimit       int

	// Watch set only grows
	watchMutex sync.RWMutex
	watch      map[string]models.WatchedAddress

	// Transaction fetches that failed transiently, keyed by signature
	retryMutex sync.Mutex
	retryQueue map[string]queuedRef

	cycles   singleflight.Group
	refLocks *keyedMutex
	now      func() time.Time

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

type queuedRef struct {
	ref      models.SignatureRef
	attempts int
}

// CycleSummary reports what one poll cycle did.
type CycleSummary struct {
	Watched        int `json:"watched"`
	Signatures     int `json:"signatures"`
	Credited       int `json:"credited"`
	Unmatched      int `json:"unmatched"`
	Skipped        int `json:"skipped"`
	Requeued       int `json:"requeued"`
	PendingRetried int `json:"pending_retried"`
	PendingLeft    int `json:"pending_left"`
}

// NewDepositListener creates a new deposit listener
func NewDepositListener(cfg DepositListenerConfig) (*DepositListener, error) {
	if cfg.Rpc == nil || cfg.Ledger == nil || cfg.State == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("rpc, ledger, state and registry are required")
	}
	if cfg.CustodialAddress == "" {
		return nil, fmt.Errorf("custodial address cannot be empty")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.MaxPagesPerCycle <= 0 {
		cfg.MaxPagesPerCycle = 1
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 1
	}

	l := &DepositListener{
		rpc:              cfg.Rpc,
		ledger:           cfg.Ledger,
		state:            cfg.State,
		registry:         cfg.Registry,
		converter:        cfg.Converter,
		metrics:          cfg.Metrics,
		classifier:       NewClassifier(cfg.CustodialAddress, cfg.Tokens, cfg.MinDepositLamports),
		memos:            NewMemoNormalizer(cfg.CodePrefix, cfg.CodeLength),
		custodialAddress: cfg.CustodialAddress,
		tokenProgramIds:  cfg.TokenProgramIds,
		pollInterval:     cfg.PollInterval,
		initialPollDelay: cfg.InitialPollDelay,
		pageSize:         cfg.PageSize,
		maxPagesPerCycle: cfg.MaxPagesPerCycle,
		retryLimit:       cfg.RetryLimit,
		watch:            make(map[string]models.WatchedAddress),
		retryQueue:       make(map[string]queuedRef),
		refLocks:         newKeyedMutex(),
		now:              time.Now,
		stopChan:         make(chan struct{}),
		doneChan:         make(chan struct{}),
	}
	l.watch[cfg.CustodialAddress] = models.WatchedAddress{
		Address: cfg.CustodialAddress,
		Kind:    models.WatchKindSettlement,
	}
	return l, nil
}

// Start begins the deposit monitoring process
func (l *DepositListener) Start(ctx context.Context) error {
	if l.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", l.pollInterval)
	}

	go l.pollLoop(ctx)

	zap.L().Info("Deposit listener started successfully",
		zap.String("custodial_address", l.custodialAddress),
		zap.Duration("poll_interval", l.pollInterval),
		zap.Duration("initial_delay", l.initialPollDelay))
	return nil
}

// Stop gracefully stops the deposit listener. The cycle in flight finishes first.
func (l *DepositListener) Stop() {
	zap.L().Info("Stopping deposit listener")
	l.stopOnce.Do(func() { close(l.stopChan) })
	<-l.doneChan
	zap.L().Info("Deposit listener stopped")
}

// pollLoop runs the main polling loop
func (l *DepositListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	initial := time.NewTimer(l.initialPollDelay)
	defer initial.Stop()

	select {
	case <-initial.C:
	case <-l.stopChan:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := l.PollNow(ctx); err != nil {
			zap.L().Error("Poll cycle failed", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PollNow runs one cycle, or joins the cycle already running. The cycle is
// shared between callers, so it runs to completion even if ctx is cancelled.
func (l *DepositListener) PollNow(ctx context.Context) (*CycleSummary, error) {
	cycleCtx := context.WithoutCancel(ctx)
	v, err, shared := l.cycles.Do("poll", func() (interface{}, error) {
		return l.runCycle(cycleCtx)
	})
	if shared {
		zap.L().Debug("Joined poll cycle already in flight")
	}
	summary, _ := v.(*CycleSummary)
	return summary, err
}

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func shortRef(reference string) string {
	if len(reference) > 12 {
		return reference[:12] + "..."
	}
	return reference
}

// keyedMutex serializes work per reference between the poller and claims.
type keyedMutex struct {
	mutex sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mutex.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mutex.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		k.mutex.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mutex.Unlock()
	}
}
