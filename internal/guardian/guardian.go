// Package guardian is the public operation facade: every call a caller (the
// ambient HTTP surface, the maintenance loop, or a test) makes funnels
// through a Guardian method, which takes the named principal's aggregate
// lock for its whole duration — including any outbound ledger call — per
// the per-principal serialization discipline in internal/storage. Grounded
// in the teacher's service-layer facade shape (one exported method per
// capability, composing narrower packages rather than re-implementing
// them).
package guardian

import (
	"context"
	"fmt"

	"github.com/civkeep/estateguardian/internal/bridge"
	"github.com/civkeep/estateguardian/internal/claim"
	"github.com/civkeep/estateguardian/internal/clock"
	"github.com/civkeep/estateguardian/internal/config"
	"github.com/civkeep/estateguardian/internal/cryptoutil"
	"github.com/civkeep/estateguardian/internal/custody"
	"github.com/civkeep/estateguardian/internal/document"
	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/escrow"
	"github.com/civkeep/estateguardian/internal/estate"
	"github.com/civkeep/estateguardian/internal/execution"
	"github.com/civkeep/estateguardian/internal/ledger"
	"github.com/civkeep/estateguardian/internal/logging"
	"github.com/civkeep/estateguardian/internal/merkle"
	"github.com/civkeep/estateguardian/internal/metricsx"
	"github.com/civkeep/estateguardian/internal/reconcile"
	"github.com/civkeep/estateguardian/internal/retry"
	"github.com/civkeep/estateguardian/internal/rng"
	"github.com/civkeep/estateguardian/internal/storage"
)

// Guardian bundles every dependency the public operations need.
type Guardian struct {
	Store  *storage.Store
	Clock  clock.Clock
	RNG    *rng.Source
	Logger *logging.Logger
	Metrics *metricsx.Metrics

	tunables  estate.Tunables
	docLimits document.Limits
	retryMax  int
	maint     config.MaintenanceConfig

	masterKey []byte

	execEngine     *execution.Engine
	custodyEngine  *custody.Engine
	escrowEngine   *escrow.Engine
	bridgeEngine   *bridge.Engine
	reconcileEngine *reconcile.Engine
	documentEngine *document.Engine
}

// Capabilities bundles the outbound ledger capabilities this process was
// started with (ledgerfake in tests and the in-process demo; a real chain
// RPC binding is out of scope per §1).
type Capabilities struct {
	Fungible ledger.FungibleLedger
	NFT      ledger.NFTLedger
	Bridge   ledger.BridgeLedger
}

// New wires a Guardian from its configuration, capability bundle, and
// ambient dependencies.
func New(cfg *config.Config, st *storage.Store, clk clock.Clock, src *rng.Source, masterKey []byte, caps Capabilities, logger *logging.Logger, metrics *metricsx.Metrics) *Guardian {
	ledgers := execution.Ledgers{Fungible: caps.Fungible, NFT: caps.NFT, Bridge: caps.Bridge}
	return &Guardian{
		Store:   st,
		Clock:   clk,
		RNG:     src,
		Logger:  logger,
		Metrics: metrics,
		tunables: estate.Tunables{
			InactivityPeriodSecs: cfg.Estate.InactivityPeriodSecs,
			WarningWindowSecs:    cfg.Estate.WarningWindowSecs,
		},
		docLimits: document.Limits{
			MaxDocBytes:          cfg.Document.MaxDocBytes,
			MaxChunkBytes:        cfg.Document.MaxChunkBytes,
			MaxConcurrentUploads: cfg.Document.MaxConcurrentUploads,
		},
		retryMax:  cfg.Retry.MaxAttempts,
		maint:     cfg.Maintenance,
		masterKey: masterKey,
		execEngine: &execution.Engine{Ledgers: ledgers, MasterKey: masterKey},
		custodyEngine: &custody.Engine{Fungible: caps.Fungible, NFT: caps.NFT},
		escrowEngine:  &escrow.Engine{Fungible: caps.Fungible, MasterKey: masterKey},
		bridgeEngine:  &bridge.Engine{Bridge: caps.Bridge, Fungible: caps.Fungible},
		reconcileEngine: &reconcile.Engine{Fungible: caps.Fungible},
		documentEngine:  &document.Engine{MasterKey: masterKey, Limits: document.Limits{
			MaxDocBytes:          cfg.Document.MaxDocBytes,
			MaxChunkBytes:        cfg.Document.MaxChunkBytes,
			MaxConcurrentUploads: cfg.Document.MaxConcurrentUploads,
		}},
	}
}

func (g *Guardian) now() uint64 { return g.Clock.NowSecs() }

// RetryMaxAttempts exposes the configured per-item retry budget to callers
// that need it outside a WithUser closure (e.g. the maintenance loop).
func (g *Guardian) RetryMaxAttempts() int { return g.retryMax }

// Tunables exposes the configured estate lifecycle timers.
func (g *Guardian) Tunables() estate.Tunables { return g.tunables }

// MaintenanceConfig exposes the tick tuning internal/maintenance drives its
// cron schedule from.
func (g *Guardian) MaintenanceConfig() config.MaintenanceConfig { return g.maint }

// --- Asset CRUD (§6) --------------------------------------------------

// RegisterAsset is add_asset: adds a new asset to a Draft/Warning estate.
func (g *Guardian) RegisterAsset(principal string, a domain.Asset) (uint64, error) {
	var id uint64
	err := g.Store.WithUserOrCreate(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		id = u.NextAssetID
		a.ID = id
		u.NextAssetID++
		u.Assets[id] = &a
		return nil
	})
	return id, err
}

// UpdateAsset replaces the mutable fields of an existing asset.
func (g *Guardian) UpdateAsset(principal string, assetID uint64, a domain.Asset) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		existing, ok := u.Assets[assetID]
		if !ok {
			return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
		}
		a.ID = existing.ID
		u.Assets[assetID] = &a
		return nil
	})
}

// RemoveAsset deletes an asset and any distribution shares referencing it.
func (g *Guardian) RemoveAsset(principal string, assetID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		if _, ok := u.Assets[assetID]; !ok {
			return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
		}
		delete(u.Assets, assetID)
		for _, d := range u.OrderedDistributions() {
			if d.AssetID == assetID {
				u.RemoveDistributionShare(assetID, d.HeirID)
			}
		}
		return nil
	})
}

// ListAssets returns every registered asset.
func (g *Guardian) ListAssets(principal string) ([]*domain.Asset, error) {
	var out []*domain.Asset
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = make([]*domain.Asset, 0, len(u.Assets))
		for _, a := range u.Assets {
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// --- Heir CRUD (§6) -----------------------------------------------------

// RegisterHeir is add_heir: the secret parameter is the plaintext shared
// secret handed out of band; only its salted hash is retained.
func (g *Guardian) RegisterHeir(principal, contact, secret string) (uint64, error) {
	var id uint64
	err := g.Store.WithUserOrCreate(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		hash, salt, err := cryptoutil.HashSecretWithSalt(secret)
		if err != nil {
			return err
		}
		id = u.NextHeirID
		u.NextHeirID++
		u.Heirs[id] = &domain.Heir{
			ID:      id,
			Contact: contact,
			Secret:  domain.IdentitySecret{Salt: salt, Hash: hash},
		}
		return nil
	})
	return id, err
}

// UpdateHeirContact updates a heir's contact/notes without touching its
// shared secret.
func (g *Guardian) UpdateHeirContact(principal string, heirID uint64, contact, notes string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		h, ok := u.Heirs[heirID]
		if !ok {
			return errs.HeirNotFound(fmt.Sprintf("%d", heirID))
		}
		h.Contact = contact
		h.Notes = notes
		return nil
	})
}

// RemoveHeir deletes a heir and any distribution shares referencing it.
func (g *Guardian) RemoveHeir(principal string, heirID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		if _, ok := u.Heirs[heirID]; !ok {
			return errs.HeirNotFound(fmt.Sprintf("%d", heirID))
		}
		delete(u.Heirs, heirID)
		for _, d := range u.OrderedDistributions() {
			if d.HeirID == heirID {
				u.RemoveDistributionShare(d.AssetID, heirID)
			}
		}
		return nil
	})
}

// ListHeirs returns every registered heir.
func (g *Guardian) ListHeirs(principal string) ([]*domain.Heir, error) {
	var out []*domain.Heir
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = make([]*domain.Heir, 0, len(u.Heirs))
		for _, h := range u.Heirs {
			out = append(out, h)
		}
		return nil
	})
	return out, err
}

// --- Distribution CRUD (§6) ---------------------------------------------

// SetDistribution is set_distribution: upserts one (asset, heir) share.
func (g *Guardian) SetDistribution(principal string, assetID, heirID uint64, pct uint8, pref domain.PayoutPreference) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		if _, ok := u.Assets[assetID]; !ok {
			return errs.AssetNotFound(fmt.Sprintf("%d", assetID))
		}
		if _, ok := u.Heirs[heirID]; !ok {
			return errs.HeirNotFound(fmt.Sprintf("%d", heirID))
		}
		if pct == 0 || pct > 100 {
			return errs.InvalidHeirPercentage("percentage must be in (0,100]")
		}
		total := uint32(pct)
		for _, d := range u.Distributions {
			if d.AssetID == assetID && d.HeirID != heirID {
				total += uint32(d.Percentage)
			}
		}
		if total > 100 {
			return errs.InvalidHeirPercentage(fmt.Sprintf("asset %d distributions would total %d, over 100", assetID, total))
		}
		u.SetDistributionShare(assetID, heirID, pct, pref)
		estate.Readiness(u, g.now(), true)
		return nil
	})
}

// RemoveDistribution deletes a share.
func (g *Guardian) RemoveDistribution(principal string, assetID, heirID uint64) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		u.RemoveDistributionShare(assetID, heirID)
		return nil
	})
}

// ListDistributions returns the distribution shares in insertion order.
func (g *Guardian) ListDistributions(principal string) ([]*domain.DistributionShare, error) {
	var out []*domain.DistributionShare
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.OrderedDistributions()
		return nil
	})
	return out, err
}

// LegacyDistributionInput mirrors the original `assign_distributions`
// bulk-vector entry (asset_id, heir_id, percentage) — it carries no payout
// preference, since the legacy API predates that field.
type LegacyDistributionInput struct {
	AssetID    uint64
	HeirID     uint64
	Percentage uint8
}

// AssignDistributionsLegacy is the deprecated bulk assign_distributions
// shim (spec.md §9 / OQ3): kept for backward compatibility alongside
// SetDistribution, never unified with it. Unlike SetDistribution's
// per-asset partial-total (≤100) semantics, every asset named in the
// vector must sum to exactly 100, matching the original's validation. It
// writes straight through the same v2 distribution store — there is no
// separate legacy table to keep in sync — but does not replicate the
// original's acceptance of zero-percentage shares.
func (g *Guardian) AssignDistributionsLegacy(principal string, distributions []LegacyDistributionInput) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		if err := estate.RequireMutable(u); err != nil {
			return err
		}
		totals := make(map[uint64]uint32, len(distributions))
		for _, d := range distributions {
			if _, ok := u.Assets[d.AssetID]; !ok {
				return errs.DistributionAssetNotFound(fmt.Sprintf("%d", d.AssetID))
			}
			if _, ok := u.Heirs[d.HeirID]; !ok {
				return errs.DistributionHeirNotFound(fmt.Sprintf("%d", d.HeirID))
			}
			if d.Percentage == 0 || d.Percentage > 100 {
				return errs.InvalidHeirPercentage("percentage must be in (0,100]")
			}
			totals[d.AssetID] += uint32(d.Percentage)
		}
		for assetID, total := range totals {
			if total != 100 {
				return errs.InvalidHeirPercentage(fmt.Sprintf("asset %d distributions must sum to exactly 100, got %d", assetID, total))
			}
		}
		for _, d := range distributions {
			pref := domain.PreferenceToPrincipal
			if existing, ok := u.Distributions[domain.DistributionKey(d.AssetID, d.HeirID)]; ok {
				pref = existing.Preference
			}
			u.SetDistributionShare(d.AssetID, d.HeirID, d.Percentage, pref)
		}
		estate.Readiness(u, g.now(), true)
		return nil
	})
}

// --- Lifecycle (§4.G) ---------------------------------------------------

// EstateReadiness is estate_readiness: forces a fresh evaluation.
func (g *Guardian) EstateReadiness(principal string) (*domain.ReadinessReport, error) {
	var out *domain.ReadinessReport
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = estate.Readiness(u, g.now(), true)
		return nil
	})
	return out, err
}

// EstateStatus is estate_status: phase, timer, and distribution summary.
func (g *Guardian) EstateStatus(principal string) (*domain.User, error) {
	return g.Store.Get(principal)
}

// StartWarning is start_warning_period.
func (g *Guardian) StartWarning(principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return estate.StartWarning(u, g.now())
	})
}

// LockEstate is lock_estate.
func (g *Guardian) LockEstate(principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		return estate.LockEstate(u, g.now())
	})
}

// ResetTimer is reset_inactivity_timer: the owner's "I'm still here" check-in.
func (g *Guardian) ResetTimer(principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		estate.ResetTimer(u, g.now(), g.tunables)
		return nil
	})
}

// CheckIntegrity is check_integrity.
func (g *Guardian) CheckIntegrity(principal string) (*domain.IntegrityReport, error) {
	var out *domain.IntegrityReport
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = estate.CheckIntegrity(u, g.now())
		return nil
	})
	return out, err
}

// AdvancePhase runs the automatic Draft->Warning->Locked transition check
// for one user; exported for the maintenance loop.
func (g *Guardian) AdvancePhase(ctx context.Context, principal string) error {
	return g.Store.WithUser(principal, func(u *domain.User) error {
		estate.AdvancePhase(u, g.now(), g.tunables)
		return nil
	})
}

// --- Execution (§4.H) ----------------------------------------------------

// ExecuteTrigger is execute_trigger: the owner (or maintenance, via auto)
// initiated execution of a Locked estate.
func (g *Guardian) ExecuteTrigger(ctx context.Context, principal string, auto bool) (*domain.ExecutionSummary, error) {
	var summary *domain.ExecutionSummary
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		s, err := execution.Execute(ctx, u, g.execEngine, g.now(), auto)
		if err != nil {
			return err
		}
		summary = s
		if g.Metrics != nil {
			g.Metrics.CaptureUser(u)
			auto := "false"
			if s.Auto {
				auto = "true"
			}
			g.Metrics.ExecutionsTotal.WithLabelValues(auto).Inc()
		}
		return nil
	})
	return summary, err
}

// LastExecutionSummary returns the most recently recorded execution run, if any.
func (g *Guardian) LastExecutionSummary(principal string) (*domain.ExecutionSummary, error) {
	var out *domain.ExecutionSummary
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.LastExecutionSummary
		return nil
	})
	return out, err
}

// --- System (§6) ---------------------------------------------------------

// RngReady reports whether the process-wide CSPRNG has been initialized.
func (g *Guardian) RngReady() bool { return g.RNG != nil }

// ComputeLedgerAttestation is compute_ledger_attestation.
func (g *Guardian) ComputeLedgerAttestation(principal string) ([32]byte, error) {
	var root [32]byte
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		root = merkle.Compute(u, g.now())
		return nil
	})
	return root, err
}

// ListTransfers returns the append-only transfer ledger.
func (g *Guardian) ListTransfers(principal string) ([]*domain.TransferRecord, error) {
	var out []*domain.TransferRecord
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.Transfers
		return nil
	})
	return out, err
}

// --- Retry admin (§4.L, §6) ----------------------------------------------

// ListRetries returns the current retry queue.
func (g *Guardian) ListRetries(principal string) ([]*domain.RetryItem, error) {
	var out []*domain.RetryItem
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.RetryQueue
		return nil
	})
	return out, err
}

// RetryStats returns the adaptive per-kind stats table.
func (g *Guardian) RetryStats(principal string) (map[string]*domain.AdaptiveStats, error) {
	var out map[string]*domain.AdaptiveStats
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		out = u.AdaptiveStats
		return nil
	})
	return out, err
}

// ForceRetry bypasses one retry item's backoff.
func (g *Guardian) ForceRetry(principal string, itemID uint64) (bool, error) {
	var ok bool
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		ok = retry.ForceRetry(u, g.now(), itemID)
		return nil
	})
	return ok, err
}

// ForceAllDue bypasses backoff for every non-terminal retry item.
func (g *Guardian) ForceAllDue(principal string) (int, error) {
	var n int
	err := g.Store.WithUser(principal, func(u *domain.User) error {
		n = retry.ForceAllDue(u, g.now())
		return nil
	})
	return n, err
}
