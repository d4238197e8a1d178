package refund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/store"
)

type fakeLedger struct {
	mutex      sync.Mutex
	accounts   map[string]*models.Account
	debits     []store.DebitParams
	debitFails int
	cutoffs    []time.Time
}

func newFakeLedger(accounts ...models.Account) *fakeLedger {
	l := &fakeLedger{accounts: make(map[string]*models.Account)}
	for i := range accounts {
		a := accounts[i]
		l.accounts[a.OwnerId] = &a
	}
	return l
}

func (f *fakeLedger) Deposit(context.Context, store.DepositParams) (*models.LedgerEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedger) Debit(_ context.Context, params store.DebitParams) (*models.LedgerEntry, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.debitFails > 0 {
		f.debitFails--
		return nil, errors.New("ledger offline")
	}
	account := f.accounts[params.OwnerId]
	if account == nil || account.Balance < params.Amount {
		return nil, store.ErrInsufficientBalance
	}
	account.Balance -= params.Amount
	f.debits = append(f.debits, params)
	return &models.LedgerEntry{OwnerId: params.OwnerId, Amount: -params.Amount, IdempotencyKey: params.IdempotencyKey}, nil
}

func (f *fakeLedger) GetBalance(_ context.Context, ownerId string) (int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if a := f.accounts[ownerId]; a != nil {
		return a.Balance, nil
	}
	return 0, nil
}

func (f *fakeLedger) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, store.ErrAccountNotFound
}

func (f *fakeLedger) GetAccounts(context.Context) ([]models.Account, error) { return nil, nil }

func (f *fakeLedger) GetHistory(context.Context, string, int, int) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (f *fakeLedger) RegisterWallet(context.Context, string, string) error { return nil }

func (f *fakeLedger) StaleBalances(_ context.Context, inactiveSince time.Time) ([]models.Account, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.cutoffs = append(f.cutoffs, inactiveSince)
	var out []models.Account
	for _, a := range f.accounts {
		if a.Balance > 0 && a.WalletAddress != "" && !a.LastActivityAt.After(inactiveSince) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeLedger) Close() {}

type fakeSender struct {
	mutex sync.Mutex
	sent  map[string]int64
	fail  map[string]bool
	calls int
}

func (f *fakeSender) Send(_ context.Context, address string, lamports int64) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls++
	if f.fail[address] {
		return "", errors.New("withdrawal rejected")
	}
	if f.sent == nil {
		f.sent = make(map[string]int64)
	}
	f.sent[address] += lamports
	return fmt.Sprintf("payout-%s-%d", address, f.calls), nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, ledger *fakeLedger, sender *fakeSender) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerConfig{
		Ledger:              ledger,
		Sender:              sender,
		InactivityThreshold: 7 * 24 * time.Hour,
		SendTimeout:         time.Second,
		Concurrency:         2,
	})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func TestRunOnce_RefundsStaleBalances(t *testing.T) {
	stale := now.Add(-8 * 24 * time.Hour)
	ledger := newFakeLedger(
		models.Account{OwnerId: "idle", Balance: 50_000_000, WalletAddress: "WalletIdle", LastActivityAt: stale},
		models.Account{OwnerId: "active", Balance: 70_000_000, WalletAddress: "WalletActive", LastActivityAt: now.Add(-time.Hour)},
		models.Account{OwnerId: "nowallet", Balance: 10_000_000, LastActivityAt: stale},
		models.Account{OwnerId: "empty", Balance: 0, WalletAddress: "WalletEmpty", LastActivityAt: stale},
	)
	sender := &fakeSender{}
	s := newTestScheduler(t, ledger, sender)

	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Candidates != 1 || report.Sent != 1 || report.Lamports != 50_000_000 {
		t.Fatalf("Expected one 50000000 refund, got %+v", report)
	}

	if want := now.Add(-7 * 24 * time.Hour); !ledger.cutoffs[0].Equal(want) {
		t.Errorf("Expected cutoff %v, got %v", want, ledger.cutoffs[0])
	}
	if sender.sent["WalletIdle"] != 50_000_000 {
		t.Errorf("Expected 50000000 sent to WalletIdle, got %v", sender.sent)
	}
	if len(ledger.debits) != 1 {
		t.Fatalf("Expected one debit, got %d", len(ledger.debits))
	}
	debit := ledger.debits[0]
	if debit.IdempotencyKey != "refund:payout-WalletIdle-1" || debit.Note != "auto-refund: inactivity" {
		t.Errorf("Unexpected debit %+v", debit)
	}

	again, _ := s.RunOnce(context.Background())
	if again.Candidates != 0 || sender.calls != 1 {
		t.Errorf("Expected nothing left to refund, got %+v after %d sends", again, sender.calls)
	}
}

func TestRunOnce_FailedSendLeavesBalance(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	ledger := newFakeLedger(models.Account{OwnerId: "u1", Balance: 20_000_000, WalletAddress: "W1", LastActivityAt: stale})
	sender := &fakeSender{fail: map[string]bool{"W1": true}}
	s := newTestScheduler(t, ledger, sender)

	report, _ := s.RunOnce(context.Background())
	if report.SendFailed != 1 || len(ledger.debits) != 0 {
		t.Fatalf("Expected failed send without debit, got %+v", report)
	}

	sender.fail = nil
	report, _ = s.RunOnce(context.Background())
	if report.Sent != 1 {
		t.Errorf("Expected next run to refund, got %+v", report)
	}
}

func TestRunOnce_DebitFailureNeverResends(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	ledger := newFakeLedger(models.Account{OwnerId: "u1", Balance: 20_000_000, WalletAddress: "W1", LastActivityAt: stale})
	ledger.debitFails = 2
	sender := &fakeSender{}
	s := newTestScheduler(t, ledger, sender)

	first, _ := s.RunOnce(context.Background())
	if first.DebitFailed != 1 {
		t.Fatalf("Expected debit failure, got %+v", first)
	}

	second, _ := s.RunOnce(context.Background())
	if second.DebitFailed != 1 || second.Candidates != 0 {
		t.Fatalf("Expected owed debit retried without resend, got %+v", second)
	}

	third, _ := s.RunOnce(context.Background())
	if third.DebitFailed != 0 {
		t.Errorf("Expected owed debit settled, got %+v", third)
	}
	if sender.calls != 1 {
		t.Errorf("Expected a single payout, got %d", sender.calls)
	}
	if balance, _ := ledger.GetBalance(context.Background(), "u1"); balance != 0 {
		t.Errorf("Expected balance 0, got %d", balance)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].IdempotencyKey != "refund:payout-W1-1" {
		t.Errorf("Expected debit keyed on the first payout, got %+v", ledger.debits)
	}
}

func TestRunOnce_Concurrency(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	var accounts []models.Account
	for i := 0; i < 10; i++ {
		accounts = append(accounts, models.Account{
			OwnerId: fmt.Sprintf("u%d", i), Balance: int64(i+1) * 1_000_000,
			WalletAddress: fmt.Sprintf("W%d", i), LastActivityAt: stale,
		})
	}
	ledger := newFakeLedger(accounts...)
	s := newTestScheduler(t, ledger, &fakeSender{})

	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Sent != 10 || report.Lamports != 55_000_000 {
		t.Errorf("Expected 10 refunds totalling 55000000, got %+v", report)
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{Sender: &fakeSender{}, InactivityThreshold: time.Hour}); err == nil {
		t.Error("Expected error without ledger")
	}
	if _, err := NewScheduler(SchedulerConfig{Ledger: newFakeLedger(), InactivityThreshold: time.Hour}); err == nil {
		t.Error("Expected error without sender")
	}
	if _, err := NewScheduler(SchedulerConfig{Ledger: newFakeLedger(), Sender: &fakeSender{}}); err == nil {
		t.Error("Expected error without inactivity threshold")
	}
}

func TestStartStop(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	ledger := newFakeLedger(models.Account{OwnerId: "u1", Balance: 20_000_000, WalletAddress: "W1", LastActivityAt: stale})
	sender := &fakeSender{}
	s := newTestScheduler(t, ledger, sender)
	s.delay = 5 * time.Millisecond

	_ = s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if balance, _ := ledger.GetBalance(context.Background(), "u1"); balance == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if balance, _ := ledger.GetBalance(context.Background(), "u1"); balance != 0 {
		t.Errorf("Expected scheduled run to refund, balance %d", balance)
	}
}

func TestRunOnce_OwedPayoutKeptWhenBalanceSpent(t *testing.T) {
	stale := now.Add(-30 * 24 * time.Hour)
	ledger := newFakeLedger(models.Account{OwnerId: "u1", Balance: 20_000_000, WalletAddress: "W1", LastActivityAt: stale})
	ledger.debitFails = 1
	sender := &fakeSender{}
	s := newTestScheduler(t, ledger, sender)

	first, _ := s.RunOnce(context.Background())
	if first.DebitFailed != 1 || sender.calls != 1 {
		t.Fatalf("Expected payout sent with failed debit, got %+v", first)
	}

	// The balance is spent elsewhere before the owed debit is retried
	ledger.mutex.Lock()
	ledger.accounts["u1"].Balance = 5_000_000
	ledger.mutex.Unlock()

	for run := 0; run < 3; run++ {
		report, _ := s.RunOnce(context.Background())
		if report.DebitFailed != 1 || report.Candidates != 0 {
			t.Fatalf("Run %d: expected owed debit to keep failing without resend, got %+v", run, report)
		}
	}
	if !s.isOwed("u1") {
		t.Fatal("Expected payout to stay owed")
	}
	if sender.calls != 1 || sender.sent["W1"] != 20_000_000 {
		t.Errorf("Expected a single 20000000 payout, got %d calls %v", sender.calls, sender.sent)
	}

	// Once the balance covers it again the original payout is settled
	ledger.mutex.Lock()
	ledger.accounts["u1"].Balance = 25_000_000
	ledger.accounts["u1"].LastActivityAt = now
	ledger.mutex.Unlock()

	settled, _ := s.RunOnce(context.Background())
	if settled.DebitFailed != 0 || s.isOwed("u1") {
		t.Fatalf("Expected owed debit settled, got %+v", settled)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].IdempotencyKey != "refund:payout-W1-1" {
		t.Errorf("Expected debit keyed on the first payout, got %+v", ledger.debits)
	}
	if balance, _ := ledger.GetBalance(context.Background(), "u1"); balance != 5_000_000 {
		t.Errorf("Expected balance 5000000, got %d", balance)
	}
}
