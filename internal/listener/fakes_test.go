package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"deposit-reconciler-go/internal/models"
	"deposit-reconciler-go/internal/registry"
	"deposit-reconciler-go/internal/solana"
	"deposit-reconciler-go/internal/store"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	hotWallet = "HotWa11et"
	usdcMint  = "USDCmint"
	bonkMint  = "BONKmint"
	testAlpha = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var testTokens = []models.TokenConfig{
	{Symbol: "USDC", Mint: usdcMint, Decimals: 6, MinAmount: 1_000_000},
}

// sig returns a well-formed base58 signature unique to n.
func sig(n byte) string {
	return base58.Encode(bytes.Repeat([]byte{n}, 64))
}

type fakeRPC struct {
	mutex         sync.Mutex
	signatures    map[string][]solana.SignatureInfo // newest first
	txs           map[string]*solana.Transaction
	txErr         map[string]error
	listErr       map[string]error
	tokenAccounts []solana.TokenAccount
	listCalls     []solana.SignaturesOptions
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		signatures: make(map[string][]solana.SignatureInfo),
		txs:        make(map[string]*solana.Transaction),
		txErr:      make(map[string]error),
		listErr:    make(map[string]error),
	}
}

// add records tx as the newest signature on address.
func (f *fakeRPC) add(address, signature string, tx *solana.Transaction) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	info := solana.SignatureInfo{Signature: signature, BlockTime: tx.BlockTime, Slot: tx.Slot}
	if tx.Meta != nil && tx.Meta.Failed() {
		info.Err = tx.Meta.Err
	}
	f.signatures[address] = append([]solana.SignatureInfo{info}, f.signatures[address]...)
	f.txs[signature] = tx
}

func (f *fakeRPC) GetSignaturesForAddress(_ context.Context, address string, opts solana.SignaturesOptions) ([]solana.SignatureInfo, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.listCalls = append(f.listCalls, opts)
	if err := f.listErr[address]; err != nil {
		return nil, err
	}

	list := f.signatures[address]
	start := 0
	if opts.Before != "" {
		for i, s := range list {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []solana.SignatureInfo
	for i := start; i < len(list); i++ {
		if opts.Until != "" && list[i].Signature == opts.Until {
			break
		}
		out = append(out, list[i])
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRPC) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.txErr[signature]; err != nil {
		return nil, err
	}
	return f.txs[signature], nil
}

func (f *fakeRPC) GetTokenAccountsByOwner(_ context.Context, _, _ string) ([]solana.TokenAccount, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.tokenAccounts, nil
}

type fakeLedger struct {
	mutex    sync.Mutex
	entries  map[string]*models.LedgerEntry
	balances map[string]int64
	order    []string
	failures int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*models.LedgerEntry), balances: make(map[string]int64)}
}

func (f *fakeLedger) Deposit(_ context.Context, params store.DepositParams) (*models.LedgerEntry, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.failures > 0 {
		f.failures--
		return nil, errors.New("ledger offline")
	}
	if prior, ok := f.entries[params.IdempotencyKey]; ok {
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	}

	before := f.balances[params.OwnerId]
	f.balances[params.OwnerId] = before + params.Amount
	entry := &models.LedgerEntry{
		Id:             fmt.Sprintf("entry-%d", len(f.entries)+1),
		OwnerId:        params.OwnerId,
		EntryType:      models.EntryTypeDeposit,
		Amount:         params.Amount,
		BalanceBefore:  before,
		BalanceAfter:   before + params.Amount,
		IdempotencyKey: params.IdempotencyKey,
		Note:           params.Note,
		CreatedAt:      time.Now(),
	}
	f.entries[params.IdempotencyKey] = entry
	f.order = append(f.order, params.IdempotencyKey)
	return entry, nil
}

func (f *fakeLedger) Debit(context.Context, store.DebitParams) (*models.LedgerEntry, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLedger) GetBalance(_ context.Context, ownerId string) (int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.balances[ownerId], nil
}

func (f *fakeLedger) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, store.ErrAccountNotFound
}

func (f *fakeLedger) GetAccounts(context.Context) ([]models.Account, error) { return nil, nil }

func (f *fakeLedger) GetHistory(context.Context, string, int, int) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (f *fakeLedger) RegisterWallet(context.Context, string, string) error { return nil }

func (f *fakeLedger) StaleBalances(context.Context, time.Time) ([]models.Account, error) {
	return nil, nil
}

func (f *fakeLedger) Close() {}

func (f *fakeLedger) credits() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.order)
}

type fakeConverter struct {
	mutex    sync.Mutex
	calls    int
	failures int // negative fails forever
}

func (f *fakeConverter) SwapToSettlement(_ context.Context, req SwapRequest) (*SwapResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, errors.New("no route")
	}
	// 1 USDC base unit = 5 lamports
	return &SwapResult{SettlementAmount: int64(req.RawAmount) * 5, ConfirmationRef: "swap-" + req.Reference[:6]}, nil
}

type testEnv struct {
	listener  *DepositListener
	rpc       *fakeRPC
	ledger    *fakeLedger
	state     *store.MemoryState
	converter *fakeConverter
	registry  *registry.Registry
}

// newTestEnv builds a listener whose registry hands out codes in order.
func newTestEnv(t *testing.T, codes ...string) *testEnv {
	t.Helper()

	env := &testEnv{
		rpc:       newFakeRPC(),
		ledger:    newFakeLedger(),
		state:     store.NewMemoryState(),
		converter: &fakeConverter{},
	}
	env.registry = registry.New(registry.Config{Prefix: "JTT-", Alphabet: testAlpha, Length: 8, TTL: time.Hour}).
		WithGenerator(func() (string, error) {
			if len(codes) == 0 {
				return "", errors.New("no more test codes")
			}
			next := codes[0]
			codes = codes[1:]
			return next, nil
		})

	listener, err := NewDepositListener(DepositListenerConfig{
		Rpc:                env.rpc,
		Ledger:             env.ledger,
		State:              env.state,
		Registry:           env.registry,
		Converter:          env.converter,
		CustodialAddress:   hotWallet,
		TokenProgramIds:    []string{"TokenProgram"},
		Tokens:             testTokens,
		CodePrefix:         "JTT-",
		CodeLength:         8,
		PollInterval:       time.Hour,
		PageSize:           20,
		MaxPagesPerCycle:   5,
		RetryLimit:         3,
		MinDepositLamports: 10_000_000,
	})
	if err != nil {
		t.Fatalf("NewDepositListener failed: %v", err)
	}
	env.listener = listener
	return env
}

func (e *testEnv) issue(t *testing.T, ownerId string) string {
	t.Helper()
	code, err := e.registry.Issue(ownerId)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return code.Code
}

func (e *testEnv) poll(t *testing.T) *CycleSummary {
	t.Helper()
	summary, err := e.listener.PollNow(context.Background())
	if err != nil {
		t.Fatalf("PollNow failed: %v", err)
	}
	return summary
}

func memoInstruction(memo string) solana.Instruction {
	raw, _ := json.Marshal(memo)
	return solana.Instruction{Program: "spl-memo", ProgramId: memoProgramId, Parsed: raw}
}

// solTx builds a transfer of lamports from a fee payer to `to`.
func solTx(blockTime int64, slot uint64, to string, lamports uint64, memo string) *solana.Transaction {
	tx := &solana.Transaction{
		Slot:      slot,
		BlockTime: &blockTime,
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{50_000_000_000, 1_000},
			PostBalances: []uint64{50_000_000_000 - lamports - 5_000, 1_000 + lamports},
		},
	}
	tx.Transaction.Message.AccountKeys = []solana.AccountKey{{Pubkey: "Sender", Signer: true, Writable: true}, {Pubkey: to, Writable: true}}
	if memo != "" {
		tx.Transaction.Message.Instructions = []solana.Instruction{memoInstruction(memo)}
	}
	return tx
}

// tokenTx builds an SPL transfer into ata. The destination has no pre balance.
func tokenTx(blockTime int64, slot uint64, ata, mint string, amount uint64, memo string) *solana.Transaction {
	tokenAmount := func(n uint64) solana.UiTokenAmount {
		return solana.UiTokenAmount{Amount: fmt.Sprintf("%d", n), Decimals: 6}
	}
	tx := &solana.Transaction{
		Slot:      slot,
		BlockTime: &blockTime,
		Meta: &solana.TransactionMeta{
			PreBalances:       []uint64{1_000_000_000, 2_039_280, 2_039_280},
			PostBalances:      []uint64{999_995_000, 2_039_280, 2_039_280},
			PreTokenBalances:  []solana.TokenBalance{{AccountIndex: 1, Mint: mint, UiTokenAmount: tokenAmount(amount * 2)}},
			PostTokenBalances: []solana.TokenBalance{{AccountIndex: 1, Mint: mint, UiTokenAmount: tokenAmount(amount)}, {AccountIndex: 2, Mint: mint, UiTokenAmount: tokenAmount(amount)}},
		},
	}
	tx.Transaction.Message.AccountKeys = []solana.AccountKey{{Pubkey: "Sender", Signer: true}, {Pubkey: "SenderAta"}, {Pubkey: ata}}
	if memo != "" {
		tx.Transaction.Message.Instructions = []solana.Instruction{memoInstruction(memo)}
	}
	return tx
}

// swapTx settles a conversion into the hot wallet: the hot wallet signs, its
// SOL rises and a pool vault pays out. There is no memo.
func swapTx(blockTime int64, slot uint64, lamports uint64) *solana.Transaction {
	tx := &solana.Transaction{
		Slot:      slot,
		BlockTime: &blockTime,
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{1_000_000_000, 5_000_000_000},
			PostBalances: []uint64{1_000_000_000 + lamports - 5_000, 5_000_000_000 - lamports},
		},
	}
	tx.Transaction.Message.AccountKeys = []solana.AccountKey{{Pubkey: hotWallet, Signer: true, Writable: true}, {Pubkey: "PoolVault", Writable: true}}
	return tx
}
