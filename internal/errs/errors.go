// Package errs provides unified error handling for the estate guardian.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a unique, stable error identifier, grouped by category prefix.
type Code string

const (
	// Authorization errors (1xxx)
	CodeUnauthorized     Code = "AUTHZ_1001"
	CodeForbidden        Code = "AUTHZ_1002"
	CodeOwnershipMissing Code = "AUTHZ_1003"

	// Structural/validation errors (2xxx)
	CodeInvalidInput     Code = "VAL_2001"
	CodeMissingParameter Code = "VAL_2002"
	CodeOutOfRange       Code = "VAL_2003"
	CodeAlreadyExists    Code = "VAL_2004"

	// Lifecycle errors (3xxx)
	CodeEstateLocked    Code = "LIFE_3001"
	CodeWrongPhase      Code = "LIFE_3002"
	CodeNotFound        Code = "RES_3003"
	CodeReadinessFailed Code = "LIFE_3004"

	// Transfer-path errors (4xxx)
	CodeAllowanceInsufficient Code = "XFER_4001"
	CodeCustodyUnavailable    Code = "XFER_4002"
	CodeEscrowInsufficient    Code = "XFER_4003"

	// Bridge errors (5xxx)
	CodeBridgeRejected Code = "BRIDGE_5001"
	CodeBridgeTimeout  Code = "BRIDGE_5002"

	// Readiness/session errors (6xxx)
	CodeSessionExpired  Code = "SESS_6001"
	CodeThrottled       Code = "SESS_6002"
	CodeSecretMismatch  Code = "SESS_6003"
	CodeClaimLinkExpired Code = "SESS_6004"

	// Cryptographic errors (7xxx)
	CodeEncryptionFailed Code = "CRYPTO_7001"
	CodeDecryptionFailed Code = "CRYPTO_7002"

	// Catch-all (9xxx)
	CodeInternal Code = "SVC_9001"
	CodeOther    Code = "OTHER_9002"
)

// GuardianError is a structured error carrying a stable code, an HTTP
// status a caller-facing surface would use, optional details, and the
// wrapped cause.
type GuardianError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *GuardianError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GuardianError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair, returning the receiver for chaining.
func (e *GuardianError) WithDetails(key string, value interface{}) *GuardianError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *GuardianError {
	return &GuardianError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *GuardianError {
	return &GuardianError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Authorization

func Unauthorized(message string) *GuardianError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *GuardianError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func OwnershipRequired(resource string) *GuardianError {
	return New(CodeOwnershipMissing, "caller does not own this resource", http.StatusForbidden).
		WithDetails("resource", resource)
}

// Structural/validation

func InvalidInput(field, reason string) *GuardianError {
	return New(CodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *GuardianError {
	return New(CodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func OutOfRange(field string, min, max interface{}) *GuardianError {
	return New(CodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", min).
		WithDetails("max", max)
}

func AlreadyExists(resource, id string) *GuardianError {
	return New(CodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Lifecycle

func EstateLocked(phase string) *GuardianError {
	return New(CodeEstateLocked, "estate is locked to owner mutation", http.StatusConflict).
		WithDetails("phase", phase)
}

func WrongPhase(have, want string) *GuardianError {
	return New(CodeWrongPhase, "operation not valid in current phase", http.StatusConflict).
		WithDetails("have", have).
		WithDetails("want", want)
}

func NotFound(resource, id string) *GuardianError {
	return New(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func ReadinessFailed(reason string) *GuardianError {
	return New(CodeReadinessFailed, "estate is not ready for execution", http.StatusPreconditionFailed).
		WithDetails("reason", reason)
}

// Transfer-path

func AllowanceInsufficient(required, available string) *GuardianError {
	return New(CodeAllowanceInsufficient, "allowance insufficient for transfer", http.StatusPaymentRequired).
		WithDetails("required", required).
		WithDetails("available", available)
}

func CustodyUnavailable(reason string) *GuardianError {
	return New(CodeCustodyUnavailable, "custody release unavailable", http.StatusServiceUnavailable).
		WithDetails("reason", reason)
}

func EscrowInsufficient(required, available string) *GuardianError {
	return New(CodeEscrowInsufficient, "escrow balance insufficient", http.StatusPaymentRequired).
		WithDetails("required", required).
		WithDetails("available", available)
}

// Bridge

func BridgeRejected(message string, err error) *GuardianError {
	return Wrap(CodeBridgeRejected, message, http.StatusBadGateway, err)
}

func BridgeTimeout(operation string) *GuardianError {
	return New(CodeBridgeTimeout, "bridge operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// Session/claim

func SessionExpired() *GuardianError {
	return New(CodeSessionExpired, "claim session has expired", http.StatusUnauthorized)
}

func Throttled(retryAfterSecs uint64) *GuardianError {
	return New(CodeThrottled, "too many attempts, try again later", http.StatusTooManyRequests).
		WithDetails("retry_after_secs", retryAfterSecs)
}

func SecretMismatch() *GuardianError {
	return New(CodeSecretMismatch, "shared secret did not match", http.StatusUnauthorized)
}

func ClaimLinkExpired() *GuardianError {
	return New(CodeClaimLinkExpired, "claim link has expired or was revoked", http.StatusGone)
}

// Cryptographic

func EncryptionFailed(err error) *GuardianError {
	return Wrap(CodeEncryptionFailed, "encryption failed", http.StatusInternalServerError, err)
}

func DecryptionFailed(err error) *GuardianError {
	return Wrap(CodeDecryptionFailed, "decryption failed", http.StatusInternalServerError, err)
}

// Structural lookups (§7's AssetNotFound/HeirNotFound/UserNotFound family all
// resolve to the same NotFound shape with a resource-specific label).

func AssetNotFound(id string) *GuardianError    { return NotFound("asset", id) }
func HeirNotFound(id string) *GuardianError     { return NotFound("heir", id) }
func UserNotFound(id string) *GuardianError     { return NotFound("user", id) }
func DistributionAssetNotFound(id string) *GuardianError {
	return NotFound("distribution_asset", id)
}
func DistributionHeirNotFound(id string) *GuardianError {
	return NotFound("distribution_heir", id)
}

func InvalidHeirPercentage(reason string) *GuardianError {
	return InvalidInput("percentage", reason)
}

func InvalidPayoutPreference(reason string) *GuardianError {
	return InvalidInput("payout_preference", reason)
}

// Lifecycle

func AlreadyExecuted() *GuardianError {
	return New(CodeWrongPhase, "estate has already executed", http.StatusConflict)
}

func ExecutionInProgress() *GuardianError {
	return New(CodeWrongPhase, "execution already in progress", http.StatusConflict)
}

func AlreadyTransferred(assetID, heirID string) *GuardianError {
	return New(CodeWrongPhase, "a transfer already exists for this asset/heir", http.StatusConflict).
		WithDetails("asset_id", assetID).
		WithDetails("heir_id", heirID)
}

// Transfer-path

func MissingApproval(assetID string) *GuardianError {
	return New(CodeCustodyUnavailable, "no approval record for asset", http.StatusPreconditionFailed).
		WithDetails("asset_id", assetID)
}

func AllowanceNotFoundOnChain(canister string) *GuardianError {
	return New(CodeAllowanceInsufficient, "allowance not found on chain", http.StatusPreconditionFailed).
		WithDetails("canister", canister)
}

func InvalidOwnerPrincipal() *GuardianError {
	return New(CodeInvalidInput, "owner principal is invalid or empty", http.StatusBadRequest)
}

func TransferCallFailed(message string) *GuardianError {
	return New(CodeInternal, "transfer call failed", http.StatusBadGateway).
		WithDetails("message", message)
}

func NftStandardUnsupported(standard string) *GuardianError {
	return New(CodeInvalidInput, "nft standard unsupported", http.StatusBadRequest).
		WithDetails("standard", standard)
}

func NftTransferFailed(message string) *GuardianError {
	return New(CodeInternal, "nft transfer failed", http.StatusBadGateway).
		WithDetails("message", message)
}

// HeirSessionUnauthorized covers a session that does not belong to, or has
// not progressed far enough for, the operation attempted.
func HeirSessionUnauthorized(reason string) *GuardianError {
	return New(CodeUnauthorized, "heir session unauthorized", http.StatusUnauthorized).
		WithDetails("reason", reason)
}

// Bridge

// BridgeKind is the closed set of bridge failure classifications (§7).
type BridgeKind string

const (
	BridgeFeeShortfall     BridgeKind = "fee_shortfall"
	BridgeRejectedKind     BridgeKind = "rejected"
	BridgeTimeoutKind      BridgeKind = "timeout"
	BridgeNetwork          BridgeKind = "network"
	BridgeInvalidCanister  BridgeKind = "invalid_canister"
	BridgeReimbursedKind   BridgeKind = "reimbursed"
	BridgeRateLimited      BridgeKind = "rate_limited"
	BridgeUnauthorizedChain BridgeKind = "unauthorized_chain"
	BridgeOther            BridgeKind = "other"
)

// BridgeFailure constructs the {kind, message} bridge error shape.
func BridgeFailure(kind BridgeKind, message string) *GuardianError {
	return New(CodeBridgeRejected, message, http.StatusBadGateway).
		WithDetails("kind", string(kind))
}

// Catch-all

// Other is the stable-string-code catch-all (§7): terms the core cannot yet
// classify, e.g. "already_requested", "escrow_withdraw_locked". Callers
// match on the code string, not on Go error identity.
func Other(code string) *GuardianError {
	return New(CodeOther, code, http.StatusConflict).WithDetails("code", code)
}

func Internal(message string, err error) *GuardianError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// Helpers

func IsGuardianError(err error) bool {
	var ge *GuardianError
	return errors.As(err, &ge)
}

func AsGuardianError(err error) *GuardianError {
	var ge *GuardianError
	if errors.As(err, &ge) {
		return ge
	}
	return nil
}

func HTTPStatus(err error) int {
	if ge := AsGuardianError(err); ge != nil {
		return ge.HTTPStatus
	}
	return http.StatusInternalServerError
}
