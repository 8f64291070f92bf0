package storage

import "github.com/civkeep/estateguardian/internal/domain"

// Migrate walks an aggregate stored at an older schema version forward to
// domain.CurrentSchemaVersion. Each step is a pure, idempotent transform
// over the previous version's fields, matching the corpus's documented
// upgrade strategy (storage has no SQL schema, so this replaces a
// migration-tool dependency with a plain step table — see DESIGN.md).
func Migrate(u *domain.User) {
	if u == nil {
		return
	}
	for u.SchemaVersion < domain.CurrentSchemaVersion {
		switch u.SchemaVersion {
		case 0, 1, 2, 3, 4, 5, 6:
			// Versions predating chain-wrapped asset tracking: nothing to
			// backfill structurally, ChainWrappedKind defaults to "none"
			// which is already the zero value.
		case 7:
			// Introduces structured TransferErrorKind; legacy records that
			// carry an error string but no kind are backfilled to
			// ErrKindOther, and records without an error keep ErrKindNone.
			for _, t := range u.Transfers {
				if t.Error != "" && t.ErrorKind == domain.ErrKindNone {
					t.ErrorKind = domain.ErrKindOther
				}
			}
		case 8:
			// Introduces per-kind AdaptiveStats; ensure the map exists so
			// later code can index it unconditionally.
			if u.AdaptiveStats == nil {
				u.AdaptiveStats = make(map[string]*domain.AdaptiveStats)
			}
		}
		u.SchemaVersion++
	}
	ensureMaps(u)
}

// ensureMaps guards against a restored snapshot whose maps were nil
// (e.g. produced by a zero-value migration step), so callers can always
// index into them without a nil check.
func ensureMaps(u *domain.User) {
	if u.Assets == nil {
		u.Assets = make(map[uint64]*domain.Asset)
	}
	if u.Heirs == nil {
		u.Heirs = make(map[uint64]*domain.Heir)
	}
	if u.Distributions == nil {
		u.Distributions = make(map[string]*domain.DistributionShare)
	}
	if u.Overrides == nil {
		u.Overrides = make(map[string]*domain.PayoutOverride)
	}
	if u.CustodySubaccounts == nil {
		u.CustodySubaccounts = make(map[uint64]*domain.CustodySubaccount)
	}
	if u.EscrowRecords == nil {
		u.EscrowRecords = make(map[uint64]*domain.EscrowRecord)
	}
	if u.ApprovalRecords == nil {
		u.ApprovalRecords = make(map[uint64]*domain.ApprovalRecord)
	}
	if u.FungibleCustody == nil {
		u.FungibleCustody = make(map[string]*domain.FungibleCustodyRecord)
	}
	if u.NftCustody == nil {
		u.NftCustody = make(map[string]*domain.NFTCustodyRecord)
	}
	if u.CkWithdraws == nil {
		u.CkWithdraws = make(map[string]*domain.CkWithdrawRecord)
	}
	if u.BridgeTxInfos == nil {
		u.BridgeTxInfos = make(map[string]*domain.BridgeTxInfo)
	}
	if u.ClaimLinks == nil {
		u.ClaimLinks = make(map[uint64]*domain.ClaimLink)
	}
	if u.Sessions == nil {
		u.Sessions = make(map[uint64]*domain.Session)
	}
	if u.AdaptiveStats == nil {
		u.AdaptiveStats = make(map[string]*domain.AdaptiveStats)
	}
	if u.Notifications == nil {
		u.Notifications = make(map[uint64]*domain.Notification)
	}
	if u.Documents == nil {
		u.Documents = make(map[uint64]*domain.Document)
	}
	if u.UploadSessions == nil {
		u.UploadSessions = make(map[string]*domain.UploadSession)
	}
	if u.Reconciliation == nil {
		u.Reconciliation = make(map[string]*domain.ReconciliationEntry)
	}
}
