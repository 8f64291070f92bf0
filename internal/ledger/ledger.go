// Package ledger declares the external capabilities this system consumes
// as Go interfaces, matching spec.md §6's capability table. Production
// binding to a real chain RPC client is out of scope (§1); tests and the
// in-process demo bind the ledgerfake implementations.
package ledger

import "context"

// TransferErr is the closed set of ledger-reported transfer failures.
type TransferErr string

const (
	ErrBadFee                 TransferErr = "bad_fee"
	ErrInsufficientFunds      TransferErr = "insufficient_funds"
	ErrInsufficientAllowance  TransferErr = "insufficient_allowance"
	ErrDuplicate              TransferErr = "duplicate"
	ErrTooOld                 TransferErr = "too_old"
	ErrCreatedInFuture        TransferErr = "created_in_future"
	ErrTemporarilyUnavailable TransferErr = "temporarily_unavailable"
)

// Account identifies a ledger holder: an owner principal plus an optional
// 32-byte subaccount (nil selects the default subaccount).
type Account struct {
	Principal  string
	Subaccount []byte
}

// FungibleLedger models an ICRC1/ICRC2-shaped token ledger.
type FungibleLedger interface {
	Transfer(ctx context.Context, canister string, to Account, amount uint64) (txIndex uint64, err error)
	TransferFromSubaccount(ctx context.Context, canister string, from Account, to Account, amount uint64) (txIndex uint64, err error)
	TransferFrom(ctx context.Context, canister string, from, to Account, amount uint64) (txIndex uint64, err error)
	Approve(ctx context.Context, canister string, spender string, allowance uint64) (blockIndex uint64, err error)
	Allowance(ctx context.Context, canister string, owner, spender string) (uint64, error)
	BalanceOf(ctx context.Context, canister string, account Account) (uint64, error)
	Decimals(ctx context.Context, canister string) (uint8, bool, error)
	Fee(ctx context.Context, canister string) (uint64, bool, error)
}

// NFTLedger models the DIP721/EXT adapter dispatch table (§9: closed
// variant, not dynamic dispatch).
type NFTLedger interface {
	TransferDIP721(ctx context.Context, canister string, to string, tokenID uint64) error
	TransferEXT(ctx context.Context, canister string, to string, tokenID uint64) error
}

// BridgeStatusResult is the normalized outcome of a bridge status poll.
type BridgeStatusResult struct {
	Completed bool
	Pending   bool
	NotFound  bool
	Reimbursed bool
	TxHash    string
	EffectiveFee uint64
	FailureReason string
}

// BridgeLedger models the ckBTC/ckETH minter capability surface.
type BridgeLedger interface {
	RetrieveBTC(ctx context.Context, amount uint64, address string) (blockIndex uint64, err error)
	RetrieveBTCStatus(ctx context.Context, txID string) (BridgeStatusResult, error)
	WithdrawETH(ctx context.Context, recipient string, amount uint64, fromSubaccount []byte) (txID string, err error)
	RetrieveETHStatus(ctx context.Context, txID string) (BridgeStatusResult, error)
}

// Entropy models the host entropy source used to seed internal/rng.
type Entropy interface {
	Read(buf []byte) (int, error)
}
