// Package metricsx exposes process-wide Prometheus collectors for
// metrics_snapshot (§6 Observability) and per-user frame capture for the
// maintenance loop's 168-entry metrics ring (§4.O step 3). Grounded in the
// teacher's infrastructure/metrics.Metrics shape (CounterVec/GaugeVec
// collector set + a package-level Init/Global singleton), generalized
// from request/database counters to retry-queue/custody/reconciliation
// gauges.
package metricsx

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civkeep/estateguardian/internal/domain"
)

// Metrics holds the process-wide collector set.
type Metrics struct {
	RetryQueueDepth      *prometheus.GaugeVec
	CustodyBacklog       *prometheus.GaugeVec
	ReconciliationDelta  *prometheus.GaugeVec
	ExecutionsTotal      *prometheus.CounterVec
	MaintenanceTicksTotal prometheus.Counter
	PhaseGauge           *prometheus.GaugeVec
}

// New builds and registers a Metrics instance against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetryQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estateguardian_retry_queue_depth",
				Help: "Non-terminal retry queue depth by kind",
			},
			[]string{"principal", "kind"},
		),
		CustodyBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estateguardian_custody_backlog",
				Help: "Unreleased custody records by kind",
			},
			[]string{"principal", "kind"},
		),
		ReconciliationDelta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estateguardian_reconciliation_delta",
				Help: "Last observed on-chain minus logical delta",
			},
			[]string{"principal", "asset"},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estateguardian_executions_total",
				Help: "Completed execution runs by outcome",
			},
			[]string{"auto"},
		),
		MaintenanceTicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "estateguardian_maintenance_ticks_total",
				Help: "Completed maintenance loop ticks",
			},
		),
		PhaseGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "estateguardian_phase",
				Help: "Current lifecycle phase per user (0=Draft,1=Warning,2=Locked,3=Executed)",
			},
			[]string{"principal"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RetryQueueDepth,
			m.CustodyBacklog,
			m.ReconciliationDelta,
			m.ExecutionsTotal,
			m.MaintenanceTicksTotal,
			m.PhaseGauge,
		)
	}
	return m
}

// CaptureUser updates the per-user gauges from a user's current state.
func (m *Metrics) CaptureUser(u *domain.User) {
	m.PhaseGauge.WithLabelValues(u.Principal).Set(float64(u.Phase))

	byKind := make(map[string]int)
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			byKind[item.Kind.String()]++
		}
	}
	for kind, n := range byKind {
		m.RetryQueueDepth.WithLabelValues(u.Principal, kind).Set(float64(n))
	}

	fungibleBacklog, nftBacklog := 0, 0
	for _, rec := range u.FungibleCustody {
		if !rec.Release.Released() {
			fungibleBacklog++
		}
	}
	for _, rec := range u.NftCustody {
		if !rec.Release.Released() {
			nftBacklog++
		}
	}
	m.CustodyBacklog.WithLabelValues(u.Principal, "fungible").Set(float64(fungibleBacklog))
	m.CustodyBacklog.WithLabelValues(u.Principal, "nft").Set(float64(nftBacklog))

	for key, entry := range u.Reconciliation {
		m.ReconciliationDelta.WithLabelValues(u.Principal, key).Set(float64(entry.Delta))
	}
}

// Frame is one snapshot captured into a user's 168-entry metrics ring
// (§4.O step 3: "capture a metrics frame").
type Frame struct {
	CapturedAt      uint64
	Phase           domain.Phase
	RetryQueueDepth int
	CustodyBacklog  int
	Notifications   int
}

// RingSize is the maintenance loop's per-user frame ring capacity.
const RingSize = 168

// Ring is a fixed-capacity FIFO of captured frames.
type Ring struct {
	mu     sync.Mutex
	frames []Frame
}

// NewRing returns an empty ring.
func NewRing() *Ring { return &Ring{} }

// Push appends f, evicting the oldest frame once RingSize is exceeded.
func (r *Ring) Push(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	if len(r.frames) > RingSize {
		r.frames = r.frames[len(r.frames)-RingSize:]
	}
}

// Snapshot returns a copy of the currently retained frames, oldest first.
func (r *Ring) Snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// CaptureFrame builds a Frame from a user's current state at nowSecs.
func CaptureFrame(u *domain.User, nowSecs uint64) Frame {
	retryDepth := 0
	for _, item := range u.RetryQueue {
		if !item.Terminal {
			retryDepth++
		}
	}
	backlog := 0
	for _, rec := range u.FungibleCustody {
		if !rec.Release.Released() {
			backlog++
		}
	}
	for _, rec := range u.NftCustody {
		if !rec.Release.Released() {
			backlog++
		}
	}
	pending := 0
	for _, n := range u.Notifications {
		if n.Status == domain.NotificationPending {
			pending++
		}
	}
	return Frame{
		CapturedAt:      nowSecs,
		Phase:           u.Phase,
		RetryQueueDepth: retryDepth,
		CustodyBacklog:  backlog,
		Notifications:   pending,
	}
}
