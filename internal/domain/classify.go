package domain

import "strings"

// BridgeErrorKind is the closed set of cross-chain withdrawal failure
// classifications (§7/§4.K).
type BridgeErrorKind int

const (
	BridgeErrKindOther BridgeErrorKind = iota
	BridgeErrKindFeeShortfall
	BridgeErrKindRejected
	BridgeErrKindTimeout
	BridgeErrKindNetwork
	BridgeErrKindInvalidCanister
	BridgeErrKindReimbursed
	BridgeErrKindRateLimited
	BridgeErrKindUnauthorizedChain
)

func (k BridgeErrorKind) String() string {
	switch k {
	case BridgeErrKindFeeShortfall:
		return "fee_shortfall"
	case BridgeErrKindRejected:
		return "rejected"
	case BridgeErrKindTimeout:
		return "timeout"
	case BridgeErrKindNetwork:
		return "network"
	case BridgeErrKindInvalidCanister:
		return "invalid_canister"
	case BridgeErrKindReimbursed:
		return "reimbursed"
	case BridgeErrKindRateLimited:
		return "rate_limited"
	case BridgeErrKindUnauthorizedChain:
		return "unauthorized_chain"
	default:
		return "other"
	}
}

// ClassifyEthTemporarilyUnavailable maps a ckETH
// "TemporarilyUnavailable(string)" message into a finer-grained kind, per
// §4.K's heuristic: "rate limit" -> RateLimited, "unauthorized"/"chain id"
// -> UnauthorizedChain, else Timeout.
func ClassifyEthTemporarilyUnavailable(message string) (BridgeErrorKind, string) {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "rate limit"):
		return BridgeErrKindRateLimited, "rate_limited"
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "chain id") || strings.Contains(lower, "wrong chain"):
		return BridgeErrKindUnauthorizedChain, "unauthorized_chain"
	default:
		return BridgeErrKindTimeout, "temporarily_unavailable"
	}
}

// ClassifyBridgeError maps a raw ledger/minter error string for ck-withdraw
// submission into a (kind, stable-code) pair, covering the fixed-variant
// errors the capability table enumerates plus the ckETH heuristic above.
func ClassifyBridgeError(raw string) (BridgeErrorKind, string) {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "amount_too_low") || strings.Contains(lower, "amount too low") || strings.Contains(lower, "fee_not_found"):
		return BridgeErrKindFeeShortfall, "fee_shortfall"
	case strings.Contains(lower, "insufficient_funds") || strings.Contains(lower, "insufficient_allowance") ||
		strings.Contains(lower, "recipient_blocked") || strings.Contains(lower, "invalid_address") ||
		strings.Contains(lower, "already_processing"):
		return BridgeErrKindRejected, "rejected"
	case strings.Contains(lower, "reimbursed"):
		return BridgeErrKindReimbursed, "reimbursed"
	case strings.Contains(lower, "call_failed") || strings.Contains(lower, "call failed"):
		return BridgeErrKindNetwork, "network"
	case strings.Contains(lower, "decode_err") || strings.Contains(lower, "decode err"):
		return BridgeErrKindOther, "decode_err"
	case strings.Contains(lower, "temporarily_unavailable") || strings.Contains(lower, "temporarily unavailable"):
		return ClassifyEthTemporarilyUnavailable(raw)
	default:
		return BridgeErrKindOther, "other"
	}
}

// ClassifyTransferError maps a raw ledger/adapter error string to a stable
// canonical code and its structured kind (§7's normalization table).
func ClassifyTransferError(raw string) (code string, kind TransferErrorKind) {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "missing approval") || strings.Contains(lower, "no approval"):
		return "ERR_MISSING_APPROVAL", ErrKindMissingApproval
	case strings.Contains(lower, "allowance") && strings.Contains(lower, "chain"):
		return "ERR_ALLOWANCE_CHAIN_MISSING", ErrKindAllowanceNotFoundOnChain
	case strings.Contains(lower, "invalid owner") || strings.Contains(lower, "invalid owner principal"):
		return "ERR_INVALID_OWNER_PRINCIPAL", ErrKindInvalidOwnerPrincipal
	case strings.Contains(lower, "missing destination") || strings.Contains(lower, "no destination principal"):
		return "ERR_MISSING_DESTINATION", ErrKindMissingDestinationPrincipal
	case strings.HasPrefix(lower, "dip721:") || strings.Contains(lower, "dip721"):
		return "NFT_DIP721:" + raw, ErrKindNftDip721
	case strings.HasPrefix(lower, "ext:") || strings.Contains(lower, "ext transfer"):
		return "NFT_EXT:" + raw, ErrKindNftExt
	case strings.Contains(lower, "unsupported") && strings.Contains(lower, "nft"):
		return "NFT_UNSUPPORTED:" + raw, ErrKindNftUnsupported
	case strings.Contains(lower, "call failed") || strings.Contains(lower, "decode err"):
		return raw, ErrKindTransferCallFailed
	default:
		return raw, ErrKindOther
	}
}
