// Package domain defines the entities nested inside a user aggregate: the
// single persistent record this system manages, keyed by owner principal.
package domain

// CurrentSchemaVersion is the schema version new aggregates are created at.
// Forward migration (internal/storage) walks any older aggregate up to it.
const CurrentSchemaVersion = 9

// Phase is the estate lifecycle state.
type Phase int

const (
	PhaseDraft Phase = iota
	PhaseWarning
	PhaseLocked
	PhaseExecuted
)

func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhaseWarning:
		return "warning"
	case PhaseLocked:
		return "locked"
	case PhaseExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// AssetKind enumerates the kinds of assets an owner can register.
type AssetKind int

const (
	AssetFungible AssetKind = iota
	AssetChainWrapped
	AssetNft
	AssetDocument
)

// HoldingMode determines whether an asset's funds sit in owner-approved
// allowance or in an owner-funded escrow subaccount.
type HoldingMode int

const (
	HoldingEscrow HoldingMode = iota
	HoldingApproval
)

// NFTStandard is the closed variant for NFT adapter dispatch (§9 design
// note: avoid dynamic dispatch, use a kind + table).
type NFTStandard int

const (
	NFTStandardNone NFTStandard = iota
	NFTStandardDIP721
	NFTStandardEXT
)

// ChainWrappedKind distinguishes bridge-wrapped asset families.
type ChainWrappedKind int

const (
	ChainWrappedNone ChainWrappedKind = iota
	ChainWrappedCkBTC
	ChainWrappedCkETH
)

// PayoutPreference selects where a heir's share of an asset ends up.
type PayoutPreference int

const (
	PreferenceToPrincipal PayoutPreference = iota
	PreferenceToCustody
	PreferenceCkWithdraw
)

// Asset is a unit of value (or a document) an owner has registered.
type Asset struct {
	ID               uint64
	Kind             AssetKind
	// Value is always expressed in the token's smallest unit (OQ2):
	// never a human-decimal amount. Display scaling by Decimals is the
	// caller's job, not the execution engine's.
	Value            uint64
	Decimals         uint8 // 0 = unknown
	TokenLedger      string
	TokenID          *uint64
	HoldingMode      HoldingMode
	NFTStandard      NFTStandard
	ChainWrappedKind ChainWrappedKind
	FilePath         string // documents only
}

// SecretStatus is the verification state of a heir's shared secret.
type SecretStatus int

const (
	SecretPending SecretStatus = iota
	SecretVerified
)

// IdentitySecret is the hashed shared secret an heir must present to bind
// their principal. Never stores the plaintext secret.
type IdentitySecret struct {
	Salt               []byte
	Hash               []byte
	Status             SecretStatus
	Attempts           int
	LastAttemptAt      uint64
	NextAllowedAttempt uint64 // 0 means "not throttled"
}

// Heir is a designated recipient of some share of the estate.
type Heir struct {
	ID               uint64
	Contact          string
	Principal        string // "" until bound
	Secret           IdentitySecret
	IdentityClaimHash []byte
	IdentityClaimSalt []byte
	Notes            string
}

// DistributionShare is one (asset, heir) allocation.
type DistributionShare struct {
	AssetID    uint64
	HeirID     uint64
	Percentage uint8
	Preference PayoutPreference
}

// PayoutOverride replaces the distribution's default preference for a
// specific (heir, asset) pair, subject to a daily rate limit.
type PayoutOverride struct {
	HeirID     uint64
	AssetID    uint64
	Preference PayoutPreference
	SetAt      uint64
}

// CustodySubaccount is a lazily-created 32-byte subaccount holding one
// heir's custodied balances.
type CustodySubaccount struct {
	HeirID     uint64
	Subaccount []byte
}

// EscrowRecord tracks the owner-funded balance earmarked for one asset.
type EscrowRecord struct {
	AssetID     uint64
	Remaining   uint64
	DepositedAt uint64
	Subaccount  []byte
}

// ApprovalRecord is the locally-cached allowance for a non-escrow asset.
type ApprovalRecord struct {
	AssetID   uint64
	Allowance uint64
	GrantedAt uint64
}

// ReleasableRecord is the shared lifecycle shape of custody/escrow release
// records: staged, retried with backoff, released at most once.
type ReleasableRecord struct {
	Amount           uint64
	StagedAt         uint64
	ReleasedAt       uint64 // 0 = not yet released
	Attempts         int
	LastError        string
	Releasing        bool
	NextAttemptAfter uint64
}

// Released reports whether this record has completed its one-shot release.
func (r *ReleasableRecord) Released() bool { return r.ReleasedAt != 0 }

// FungibleCustodyRecord is staged custody of a fungible/chain-wrapped share.
type FungibleCustodyRecord struct {
	AssetID uint64
	HeirID  uint64
	Release ReleasableRecord
}

// NFTCustodyRecord is staged custody of a single NFT token.
type NFTCustodyRecord struct {
	AssetID uint64
	HeirID  uint64
	TokenID uint64
	Release ReleasableRecord
}

// BridgeStatus is the ck-withdraw state machine position.
type BridgeStatus int

const (
	BridgeStaged BridgeStatus = iota
	BridgeRequested
	BridgeFeeQuoted
	BridgeSubmitted
	BridgeInProgress
	BridgeCompleted
	BridgeReimbursed
	BridgeFailed
)

func (s BridgeStatus) String() string {
	switch s {
	case BridgeStaged:
		return "staged"
	case BridgeRequested:
		return "requested"
	case BridgeFeeQuoted:
		return "fee_quoted"
	case BridgeSubmitted:
		return "submitted"
	case BridgeInProgress:
		return "in_progress"
	case BridgeCompleted:
		return "completed"
	case BridgeReimbursed:
		return "reimbursed"
	case BridgeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CkWithdrawRecord is one cross-chain withdrawal in flight for (asset, heir).
type CkWithdrawRecord struct {
	AssetID     uint64
	HeirID      uint64
	Amount      uint64
	Status      BridgeStatus
	TxID        string
	TxHash      string
	QuotedFee   uint64
	EffectiveFee uint64
	ErrorKind   string
	ErrorMsg    string
	RequestedAt uint64
	CompletedAt uint64
}

// BridgeTxInfo tracks poll bookkeeping paired with a CkWithdrawRecord.
type BridgeTxInfo struct {
	AssetID           uint64
	HeirID            uint64
	SubmittedAt       uint64
	ConsecutiveMisses int
	NotFoundTerminal  bool
}

// TransferErrorKind normalizes raw ledger error strings (§7).
type TransferErrorKind int

const (
	ErrKindNone TransferErrorKind = iota
	ErrKindMissingApproval
	ErrKindAllowanceNotFoundOnChain
	ErrKindInvalidOwnerPrincipal
	ErrKindMissingDestinationPrincipal
	ErrKindNftDip721
	ErrKindNftExt
	ErrKindNftUnsupported
	ErrKindTransferCallFailed
	ErrKindOther
)

// TransferRecord is an append-only entry in the transfer ledger.
type TransferRecord struct {
	ID         uint64
	Kind       AssetKind
	Amount     uint64
	Preference PayoutPreference
	AssetID    uint64
	HeirID     uint64
	Note       string
	TxIndex    *uint64
	Error      string
	ErrorKind  TransferErrorKind
	Timestamp  uint64
}

// ClaimLink is a single-use code an owner hands to an heir out of band.
type ClaimLink struct {
	ID     uint64
	HeirID uint64
	Salt   []byte
	Hash   []byte
	Used   bool
}

// Session is a time-boxed heir claim session.
type Session struct {
	ID               uint64
	HeirID           uint64
	StartedAt        uint64
	ExpiresAt        uint64
	VerifiedSecret   bool
	VerifiedIdentity bool
	BoundPrincipal   bool
}

// Expired reports whether the session has passed its strict expiry.
func (s Session) Expired(nowSecs uint64) bool { return nowSecs > s.ExpiresAt }

// RetryKind is the closed set of retryable operation kinds.
type RetryKind int

const (
	RetryFungibleCustodyRelease RetryKind = iota
	RetryNftCustodyRelease
	RetryBridgeSubmit
	RetryBridgePoll
	RetryEscrowRelease
)

func (k RetryKind) String() string {
	switch k {
	case RetryFungibleCustodyRelease:
		return "fungible_custody_release"
	case RetryNftCustodyRelease:
		return "nft_custody_release"
	case RetryBridgeSubmit:
		return "bridge_submit"
	case RetryBridgePoll:
		return "bridge_poll"
	case RetryEscrowRelease:
		return "escrow_release"
	default:
		return "unknown"
	}
}

// RetryItem is one queued retry of a specific kind against (asset, heir).
type RetryItem struct {
	ID               uint64
	Kind             RetryKind
	AssetID          uint64
	HeirID           uint64
	TokenID          *uint64 // NFT only
	CreatedAt        uint64
	NextAttemptAfter uint64
	Attempts         int
	LastError        string
	Terminal         bool
	Succeeded        bool
}

// AdaptiveStats tracks the rolling success/failure ratio for one retry kind.
type AdaptiveStats struct {
	Successes       int
	Failures        int
	LastUpdate      uint64
	DynamicFactorBps int // init 10000 == 1.0x
}

// AuditEventKind enumerates the stable audit event variants this system emits.
type AuditEventKind string

const (
	EventPhaseChanged                      AuditEventKind = "PhaseChanged"
	EventFungibleCustodyStaged             AuditEventKind = "FungibleCustodyStaged"
	EventNftCustodyStaged                  AuditEventKind = "NftCustodyStaged"
	EventFungibleCustodyReleased           AuditEventKind = "FungibleCustodyReleased"
	EventNftCustodyReleased                AuditEventKind = "NftCustodyReleased"
	EventFungibleCustodyReleaseAttempt     AuditEventKind = "FungibleCustodyReleaseAttempt"
	EventFungibleCustodyReleaseFailed      AuditEventKind = "FungibleCustodyReleaseFailed"
	EventNftCustodyReleaseAttempt          AuditEventKind = "NftCustodyReleaseAttempt"
	EventNftCustodyReleaseFailed           AuditEventKind = "NftCustodyReleaseFailed"
	EventEscrowDeposited                   AuditEventKind = "EscrowDeposited"
	EventEscrowWithdrawn                   AuditEventKind = "EscrowWithdrawn"
	EventEscrowReleased                    AuditEventKind = "EscrowReleased"
	EventEscrowReleaseFailed               AuditEventKind = "EscrowReleaseFailed"
	EventEscrowAutoTopUp                   AuditEventKind = "EscrowAutoTopUp"
	EventEscrowAutoReclaim                 AuditEventKind = "EscrowAutoReclaim"
	EventCkWithdrawSubmitted               AuditEventKind = "CkWithdrawSubmitted"
	EventCkWithdrawCompleted               AuditEventKind = "CkWithdrawCompleted"
	EventBridgePollNotFoundTerminal        AuditEventKind = "BridgePollNotFoundTerminal"
	EventRetryAttempt                      AuditEventKind = "RetryAttempt"
	EventRetrySucceeded                    AuditEventKind = "RetrySucceeded"
	EventRetryTerminal                     AuditEventKind = "RetryTerminal"
	EventAdaptiveFactorChanged             AuditEventKind = "AdaptiveFactorChanged"
	EventHeirSecretBackoffRateLimited      AuditEventKind = "HeirSecretBackoffRateLimited"
	EventHeirSecretVerified                AuditEventKind = "HeirSecretVerified"
	EventHeirIdentityVerified               AuditEventKind = "HeirIdentityVerified"
	EventHeirSessionSecretVerified         AuditEventKind = "HeirSessionSecretVerified"
	EventHeirPayoutPreferenceRateLimited   AuditEventKind = "HeirPayoutPreferenceRateLimited"
	EventHeirPayoutPreferenceChanged       AuditEventKind = "HeirPayoutPreferenceChanged"
	EventHeirSessionExpired                AuditEventKind = "HeirSessionExpired"
	EventCustodyReconciliationDiscrepancy  AuditEventKind = "CustodyReconciliationDiscrepancy"
	EventEscrowReconciliationDiscrepancy   AuditEventKind = "EscrowReconciliationDiscrepancy"
	EventLedgerAttested                    AuditEventKind = "LedgerAttested"
	EventMigrationApplied                  AuditEventKind = "MigrationApplied"
)

// AuditEvent is one entry in the append-only per-user audit stream.
type AuditEvent struct {
	ID        uint64
	Timestamp uint64
	Kind      AuditEventKind
	AssetID   *uint64
	HeirID    *uint64
	Payload   map[string]interface{}
}

// NotificationStatus is the lifecycle of a queued notification.
type NotificationStatus int

const (
	NotificationPending NotificationStatus = iota
	NotificationSent
	NotificationFailed
)

// Notification is a best-effort out-of-band message queued by the system.
type Notification struct {
	ID        uint64
	Channel   string
	Template  string
	Payload   map[string]string
	QueuedAt  uint64
	SentAt    uint64
	Status    NotificationStatus
	Attempts  int
}

// Document is an encrypted file an owner has stored.
type Document struct {
	ID           uint64
	Name         string
	MimeType     string
	Size         uint64
	Ciphertext   []byte
	PlaintextSHA256 []byte
}

// UploadSession is transient chunked-upload state, capped in flight.
type UploadSession struct {
	UploadID     string
	Name         string
	ExpectedSize uint64
	ExpectedHash []byte
	Accumulated  []byte
}

// ReconciliationStatus classifies a custody/escrow balance comparison.
type ReconciliationStatus int

const (
	ReconExact ReconciliationStatus = iota
	ReconShortfall
	ReconSurplus
	ReconQueryError
)

// ReconciliationEntry is the latest balance comparison for one key.
type ReconciliationEntry struct {
	AssetID     uint64
	HeirID      *uint64 // nil when keyed by asset only (escrow)
	OnChain     uint64
	Logical     uint64
	Delta       int64
	Status      ReconciliationStatus
	LastChecked uint64
}

// ExecutionSummary is recorded once per successful execution run.
type ExecutionSummary struct {
	StartedAt     uint64
	FinishedAt    uint64
	TotalItems    int
	SuccessCount  int
	FailureCount  int
	SkippedCount  int
	CkStagedCount int
	Auto          bool
}

// LedgerAttestation is the persisted Merkle receipt over the transfer log.
type LedgerAttestation struct {
	MerkleRoot     [32]byte
	ComputedAt     uint64
	TransferCount  int
}

// User is the single persistent aggregate, keyed by owner principal.
type User struct {
	Principal string
	SchemaVersion int

	Phase            Phase
	TimerExpiry      uint64
	WarningStartedAt uint64
	LockedAt         uint64
	ExecutedAt       uint64
	Distributed      bool
	ExecutionNonce   bool
	AuditPruneInProgress bool

	NextAssetID uint64
	NextHeirID  uint64
	NextTransferID uint64
	NextClaimLinkID uint64
	NextSessionID uint64
	NextRetryID uint64
	NextAuditID uint64
	NextNotificationID uint64
	NextDocumentID uint64

	Assets        map[uint64]*Asset
	Heirs         map[uint64]*Heir
	Distributions map[string]*DistributionShare // key "assetID:heirID"
	// DistributionOrder preserves first-write order of Distributions keys:
	// the execution engine processes work items in this order (§4.H),
	// and a Go map iteration cannot be relied on for that.
	DistributionOrder []string
	Overrides         map[string]*PayoutOverride

	CustodySubaccounts map[uint64]*CustodySubaccount
	EscrowRecords      map[uint64]*EscrowRecord
	ApprovalRecords    map[uint64]*ApprovalRecord

	FungibleCustody map[string]*FungibleCustodyRecord // "assetID:heirID"
	NftCustody      map[string]*NFTCustodyRecord      // "assetID:heirID:tokenID"
	CkWithdraws     map[string]*CkWithdrawRecord       // "assetID:heirID"
	BridgeTxInfos   map[string]*BridgeTxInfo

	Transfers []*TransferRecord

	ClaimLinks map[uint64]*ClaimLink
	Sessions   map[uint64]*Session

	RetryQueue    []*RetryItem
	AdaptiveStats map[string]*AdaptiveStats // retry kind name

	AuditLog []*AuditEvent

	Notifications map[uint64]*Notification

	Documents      map[uint64]*Document
	UploadSessions map[string]*UploadSession

	Reconciliation map[string]*ReconciliationEntry

	LastExecutionSummary *ExecutionSummary
	Attestation          *LedgerAttestation

	ReadinessCachedAt uint64
	ReadinessCached   *ReadinessReport
}

// ReadinessReport is the result of an estate readiness evaluation.
type ReadinessReport struct {
	Ready  bool
	Issues []string
}

// IntegrityReport is the result of check_integrity: a read-only re-check
// of invariants 3/6/8/9 against current state, independent of the
// readiness cache.
type IntegrityReport struct {
	Sound      bool
	Violations []string
	CheckedAt  uint64
}

// NewUser constructs an empty aggregate at the current schema version.
func NewUser(principal string) *User {
	return &User{
		Principal:          principal,
		SchemaVersion:       CurrentSchemaVersion,
		Phase:               PhaseDraft,
		NextAssetID:         1,
		NextHeirID:          1,
		NextTransferID:      1,
		NextClaimLinkID:     1,
		NextSessionID:       1,
		NextRetryID:         1,
		NextAuditID:         1,
		NextNotificationID:  1,
		NextDocumentID:      1,
		Assets:              make(map[uint64]*Asset),
		Heirs:               make(map[uint64]*Heir),
		Distributions:       make(map[string]*DistributionShare),
		Overrides:           make(map[string]*PayoutOverride),
		CustodySubaccounts:  make(map[uint64]*CustodySubaccount),
		EscrowRecords:       make(map[uint64]*EscrowRecord),
		ApprovalRecords:     make(map[uint64]*ApprovalRecord),
		FungibleCustody:     make(map[string]*FungibleCustodyRecord),
		NftCustody:          make(map[string]*NFTCustodyRecord),
		CkWithdraws:         make(map[string]*CkWithdrawRecord),
		BridgeTxInfos:       make(map[string]*BridgeTxInfo),
		ClaimLinks:          make(map[uint64]*ClaimLink),
		Sessions:            make(map[uint64]*Session),
		AdaptiveStats:       make(map[string]*AdaptiveStats),
		Notifications:       make(map[uint64]*Notification),
		Documents:           make(map[uint64]*Document),
		UploadSessions:      make(map[string]*UploadSession),
		Reconciliation:      make(map[string]*ReconciliationEntry),
	}
}
