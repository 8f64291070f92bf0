// Package ledgerfake provides in-memory implementations of the
// internal/ledger capability interfaces, used by tests and by
// cmd/estateguardiand when no real chain binding is configured.
package ledgerfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/civkeep/estateguardian/internal/ledger"
)

// Fungible is a trivial in-memory ICRC1/ICRC2-shaped ledger.
type Fungible struct {
	mu        sync.Mutex
	balances  map[string]uint64 // canister|principal|subaccount -> balance
	allowance map[string]uint64 // canister|owner|spender -> allowance
	nextTx    uint64
	decimals  map[string]uint8
	fee       map[string]uint64

	// FailNext, when non-empty, is returned (and cleared) on the next
	// Transfer, TransferFromSubaccount or TransferFrom call, for tests
	// exercising retry/backoff paths. Approve does not consume it.
	FailNext ledger.TransferErr
}

func NewFungible() *Fungible {
	return &Fungible{
		balances:  make(map[string]uint64),
		allowance: make(map[string]uint64),
		decimals:  make(map[string]uint8),
		fee:       make(map[string]uint64),
		nextTx:    1,
	}
}

func acctKey(canister string, a ledger.Account) string {
	return fmt.Sprintf("%s|%s|%x", canister, a.Principal, a.Subaccount)
}

// Credit seeds a balance for tests.
func (f *Fungible) Credit(canister string, a ledger.Account, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[acctKey(canister, a)] += amount
}

// SetAllowance seeds an allowance for tests.
func (f *Fungible) SetAllowance(canister, owner, spender string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance[canister+"|"+owner+"|"+spender] = amount
}

func (f *Fungible) takeFailure() error {
	if f.FailNext != "" {
		err := fmt.Errorf("%s", f.FailNext)
		f.FailNext = ""
		return err
	}
	return nil
}

func (f *Fungible) Transfer(_ context.Context, canister string, to ledger.Account, amount uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	f.balances[acctKey(canister, to)] += amount
	tx := f.nextTx
	f.nextTx++
	return tx, nil
}

func (f *Fungible) TransferFromSubaccount(_ context.Context, canister string, from, to ledger.Account, amount uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	fromKey := acctKey(canister, from)
	if f.balances[fromKey] < amount {
		return 0, fmt.Errorf("%s", ledger.ErrInsufficientFunds)
	}
	f.balances[fromKey] -= amount
	f.balances[acctKey(canister, to)] += amount
	tx := f.nextTx
	f.nextTx++
	return tx, nil
}

func (f *Fungible) TransferFrom(_ context.Context, canister string, from, to ledger.Account, amount uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	allowKey := canister + "|" + from.Principal + "|self"
	if f.allowance[allowKey] < amount {
		return 0, fmt.Errorf("%s", ledger.ErrInsufficientAllowance)
	}
	f.allowance[allowKey] -= amount
	f.balances[acctKey(canister, to)] += amount
	tx := f.nextTx
	f.nextTx++
	return tx, nil
}

func (f *Fungible) Approve(_ context.Context, canister string, spender string, allowance uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance[canister+"|"+spender+"|self"] = allowance
	tx := f.nextTx
	f.nextTx++
	return tx, nil
}

func (f *Fungible) Allowance(_ context.Context, canister string, owner, spender string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowance[canister+"|"+owner+"|"+spender], nil
}

func (f *Fungible) BalanceOf(_ context.Context, canister string, account ledger.Account) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[acctKey(canister, account)], nil
}

func (f *Fungible) Decimals(_ context.Context, canister string) (uint8, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decimals[canister]
	return d, ok, nil
}

func (f *Fungible) Fee(_ context.Context, canister string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fee, ok := f.fee[canister]
	return fee, ok, nil
}

// NFT is a trivial in-memory DIP721/EXT adapter.
type NFT struct {
	mu       sync.Mutex
	owners   map[uint64]string
	FailNext error
}

func NewNFT() *NFT { return &NFT{owners: make(map[uint64]string)} }

func (n *NFT) Mint(tokenID uint64, owner string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners[tokenID] = owner
}

func (n *NFT) TransferDIP721(_ context.Context, _ string, to string, tokenID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailNext != nil {
		err := n.FailNext
		n.FailNext = nil
		return err
	}
	n.owners[tokenID] = to
	return nil
}

func (n *NFT) TransferEXT(_ context.Context, _ string, to string, tokenID uint64) error {
	return n.TransferDIP721(context.Background(), "", to, tokenID)
}

// Bridge is a trivial in-memory ckBTC/ckETH minter.
type Bridge struct {
	mu       sync.Mutex
	statuses map[string]ledger.BridgeStatusResult
	nextTx   uint64
	FailNext error
}

func NewBridge() *Bridge {
	return &Bridge{statuses: make(map[string]ledger.BridgeStatusResult), nextTx: 1}
}

// SetStatus seeds the status a later poll will observe for txID.
func (b *Bridge) SetStatus(txID string, result ledger.BridgeStatusResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[txID] = result
}

func (b *Bridge) RetrieveBTC(_ context.Context, _ uint64, _ string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return 0, err
	}
	tx := b.nextTx
	b.nextTx++
	return tx, nil
}

func (b *Bridge) RetrieveBTCStatus(_ context.Context, txID string) (ledger.BridgeStatusResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.statuses[txID]
	if !ok {
		return ledger.BridgeStatusResult{NotFound: true}, nil
	}
	return res, nil
}

func (b *Bridge) WithdrawETH(_ context.Context, _ string, _ uint64, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return "", err
	}
	tx := fmt.Sprintf("eth-%d", b.nextTx)
	b.nextTx++
	return tx, nil
}

func (b *Bridge) RetrieveETHStatus(_ context.Context, txID string) (ledger.BridgeStatusResult, error) {
	return b.RetrieveBTCStatus(context.Background(), txID)
}
