package refund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deposit-reconciler-go/internal/metrics"
	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const refundNote = "auto-refund: inactivity"

var ErrAlreadyRunning = errors.New("refund run already in progress")

// Sender pays lamports out to an external wallet and returns the payment's
// confirmation reference.
type Sender interface {
	Send(ctx context.Context, address string, lamports int64) (string, error)
}

type SchedulerConfig struct {
	Ledger              store.CreditLedger
	Sender              Sender
	Metrics             *metrics.ReconcilerMetrics
	Interval            time.Duration
	InitialDelay        time.Duration
	InactivityThreshold time.Duration
	SendTimeout         time.Duration
	Concurrency         int
}

// Report summarizes one refund run.
type Report struct {
	Candidates  int   `json:"candidates"`
	Sent        int   `json:"sent"`
	SendFailed  int   `json:"send_failed"`
	DebitFailed int   `json:"debit_failed"`
	Lamports    int64 `json:"lamports"`
}

// unsettled is a payout that went out but whose ledger debit failed.
type unsettled struct {
	ownerId         string
	lamports        int64
	confirmationRef string
}

// Scheduler returns idle balances to their owners' registered wallets.
type Scheduler struct {
	ledger    store.CreditLedger
	sender    Sender
	metrics   *metrics.ReconcilerMetrics
	interval  time.Duration
	delay     time.Duration
	threshold time.Duration
	timeout   time.Duration
	limit     int
	now       func() time.Time

	running sync.Mutex

	owedMutex sync.Mutex
	owed      map[string]unsettled

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.InactivityThreshold <= 0 {
		return nil, fmt.Errorf("inactivity threshold must be positive, got %v", cfg.InactivityThreshold)
	}

	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	return &Scheduler{
		ledger:    cfg.Ledger,
		sender:    cfg.Sender,
		metrics:   cfg.Metrics,
		interval:  interval,
		delay:     cfg.InitialDelay,
		threshold: cfg.InactivityThreshold,
		timeout:   cfg.SendTimeout,
		limit:     limit,
		now:       time.Now,
		owed:      make(map[string]unsettled),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	zap.L().Info("Starting refund scheduler",
		zap.Duration("interval", s.interval),
		zap.Duration("inactivity_threshold", s.threshold),
		zap.Int("concurrency", s.limit))

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		zap.L().Info("Stopping refund scheduler")
		close(s.stopChan)
	})
	<-s.doneChan
	zap.L().Info("Refund scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneChan)

	initial := time.NewTimer(s.delay)
	defer initial.Stop()

	select {
	case <-ctx.Done():
		return
	case <-s.stopChan:
		return
	case <-initial.C:
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		zap.L().Error("Refund run failed", zap.Error(err))
	}
}

// Candidates lists accounts that would be refunded now.
func (s *Scheduler) Candidates(ctx context.Context) ([]models.Account, error) {
	cutoff := s.now().Add(-s.threshold)
	accounts, err := s.ledger.StaleBalances(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load stale balances: %w", err)
	}
	return accounts, nil
}

// RunOnce refunds every stale balance. A failed send is retried on the next
// run; a payout whose debit failed is never sent again, only re-debited.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock()

	report := &Report{}
	s.settleOwed(ctx, report)

	accounts, err := s.Candidates(ctx)
	if err != nil {
		return report, err
	}

	var resultMutex sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.limit)

	for _, account := range accounts {
		if s.isOwed(account.OwnerId) {
			continue
		}
		report.Candidates++
		g.Go(func() error {
			outcome, lamports := s.refund(ctx, account)
			resultMutex.Lock()
			defer resultMutex.Unlock()
			switch outcome {
			case "sent":
				report.Sent++
				report.Lamports += lamports
			case "send_failed":
				report.SendFailed++
			case "debit_failed":
				report.DebitFailed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.Candidates > 0 || report.DebitFailed > 0 {
		zap.L().Info("Refund run completed",
			zap.Int("candidates", report.Candidates),
			zap.Int("sent", report.Sent),
			zap.Int("send_failed", report.SendFailed),
			zap.Int("debit_failed", report.DebitFailed),
			zap.Int64("lamports", report.Lamports))
	}
	return report, nil
}

func (s *Scheduler) refund(ctx context.Context, account models.Account) (string, int64) {
	sendCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sol := decimal.New(account.Balance, -9)
	ref, err := s.sender.Send(sendCtx, account.WalletAddress, account.Balance)
	if err != nil {
		zap.L().Warn("Refund send failed, will retry next run",
			zap.String("owner_id", account.OwnerId),
			zap.String("wallet_address", account.WalletAddress),
			zap.String("sol", sol.String()),
			zap.Error(err))
		s.metrics.RecordRefund("send_failed", account.Balance)
		return "send_failed", 0
	}

	s.metrics.RecordRefund("sent", account.Balance)
	payout := unsettled{ownerId: account.OwnerId, lamports: account.Balance, confirmationRef: ref}
	if err := s.debit(ctx, payout); err != nil {
		s.markOwed(payout)
		return "debit_failed", account.Balance
	}

	zap.L().Info("Inactive balance refunded",
		zap.String("owner_id", account.OwnerId),
		zap.String("wallet_address", account.WalletAddress),
		zap.String("sol", sol.String()),
		zap.String("confirmation_ref", ref))
	return "sent", account.Balance
}

func (s *Scheduler) debit(ctx context.Context, payout unsettled) error {
	_, err := s.ledger.Debit(ctx, store.DebitParams{
		OwnerId:        payout.ownerId,
		Amount:         payout.lamports,
		IdempotencyKey: "refund:" + payout.confirmationRef,
		Note:           refundNote,
	})
	if err != nil {
		zap.L().Error("Operational alert: refund sent but ledger debit failed",
			zap.String("owner_id", payout.ownerId),
			zap.Int64("lamports", payout.lamports),
			zap.String("confirmation_ref", payout.confirmationRef),
			zap.Error(err))
		s.metrics.RecordRefund("debit_failed", payout.lamports)
	}
	return err
}

// settleOwed retries debits for payouts already sent. A payout stays owed
// until its debit lands, so its owner is never paid twice.
func (s *Scheduler) settleOwed(ctx context.Context, report *Report) {
	s.owedMutex.Lock()
	pending := make([]unsettled, 0, len(s.owed))
	for _, payout := range s.owed {
		pending = append(pending, payout)
	}
	s.owedMutex.Unlock()

	for _, payout := range pending {
		if err := s.debit(ctx, payout); err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) {
				zap.L().Error("Operational alert: refunded balance was spent before its debit, manual reconciliation required",
					zap.String("owner_id", payout.ownerId),
					zap.Int64("lamports", payout.lamports),
					zap.String("confirmation_ref", payout.confirmationRef))
			}
			report.DebitFailed++
			continue
		}
		s.owedMutex.Lock()
		delete(s.owed, payout.ownerId)
		s.owedMutex.Unlock()
	}
}

func (s *Scheduler) markOwed(payout unsettled) {
	s.owedMutex.Lock()
	defer s.owedMutex.Unlock()
	s.owed[payout.ownerId] = payout
}

func (s *Scheduler) isOwed(ownerId string) bool {
	s.owedMutex.Lock()
	defer s.owedMutex.Unlock()
	_, ok := s.owed[ownerId]
	return ok
}
