// Package service exposes the guardian facade over HTTP: a gorilla/mux
// router, standard /health /ready /info endpoints, a Prometheus /metrics
// endpoint, and one route per public operation named in spec.md §6.
// Grounded in the teacher's infrastructure/service.BaseService route
// registration shape (RegisterStandardRoutes, HealthResponse/InfoResponse),
// generalized from the enclave-aware marble.Service to a plain net/http
// server since the hosting runtime's RPC binding and message-caller
// identity are out of scope (spec.md §1) — this surface is the thin
// caller-facing glue the spec explicitly treats as an external collaborator,
// kept only to make the module a runnable service.
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/civkeep/estateguardian/internal/config"
	"github.com/civkeep/estateguardian/internal/errs"
	"github.com/civkeep/estateguardian/internal/guardian"
	"github.com/civkeep/estateguardian/internal/logging"
	"github.com/civkeep/estateguardian/internal/maintenance"
)

// Server wraps a guardian.Guardian with the HTTP surface.
type Server struct {
	g       *guardian.Guardian
	loop    *maintenance.Loop
	logger  *logging.Logger
	router  *mux.Router
	httpSrv *http.Server

	startTime time.Time

	// limiter throttles per-process request volume on the heir claim
	// endpoints, grounded in the teacher's infrastructure/ratelimit
	// (golang.org/x/time/rate wrapper) idiom: a transport-layer backstop
	// distinct from the domain-level attempt throttle in internal/claim.
	limiter *rate.Limiter
}

// New builds a Server; call Router() to mount it or Start() to serve it.
func New(cfg config.ServerConfig, g *guardian.Guardian, loop *maintenance.Loop, logger *logging.Logger) *Server {
	s := &Server{
		g:       g,
		loop:    loop,
		logger:  logger,
		router:  mux.NewRouter(),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:         serverAddr(cfg),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func serverAddr(cfg config.ServerConfig) string {
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	return host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Router exposes the underlying mux.Router, e.g. for tests that want to
// drive it with httptest without binding a real socket.
func (s *Server) Router() *mux.Router { return s.router }

// Start begins serving HTTP in a background goroutine.
func (s *Server) Start() {
	s.startTime = time.Now()
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "http server exited", err, nil)
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(s.traceMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.registerAssetRoutes()
	s.registerHeirRoutes()
	s.registerLifecycleRoutes()
	s.registerCustodyRoutes()
	s.registerClaimRoutes()
	s.registerBridgeRoutes()
	s.registerDocumentRoutes()
	s.registerObservabilityRoutes()
}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimRateLimited gates the unauthenticated heir-claim entry points
// (§4.M.1-2) against request floods ahead of the per-heir secret throttle.
func (s *Server) claimRateLimited(w http.ResponseWriter) bool {
	if s.limiter.Allow() {
		return false
	}
	writeError(w, errs.Throttled(1))
	return true
}

// --- standard routes (teacher's HealthResponse/InfoResponse shape) -----

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   "estateguardian",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := healthResponse{Status: "healthy", Service: "estateguardian", Timestamp: time.Now().Format(time.RFC3339)}
	if !s.g.RngReady() {
		status = http.StatusServiceUnavailable
		body.Status = "degraded"
	}
	writeJSON(w, status, body)
}

type infoResponse struct {
	Status     string         `json:"status"`
	Service    string         `json:"service"`
	Uptime     string         `json:"uptime"`
	Principals int            `json:"principals"`
	RngReady   bool           `json:"rng_ready"`
	Tunables   map[string]any `json:"tunables"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Duration(0)
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}
	t := s.g.Tunables()
	writeJSON(w, http.StatusOK, infoResponse{
		Status:     "active",
		Service:    "estateguardian",
		Uptime:     uptime.String(),
		Principals: len(s.g.Store.Principals()),
		RngReady:   s.g.RngReady(),
		Tunables: map[string]any{
			"inactivity_period_secs": t.InactivityPeriodSecs,
			"warning_window_secs":    t.WarningWindowSecs,
		},
	})
}

// --- JSON helpers --------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errs.HTTPStatus(err), map[string]interface{}{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func pathPrincipal(r *http.Request) string { return mux.Vars(r)["principal"] }

func pathString(r *http.Request, name string) string { return mux.Vars(r)[name] }

func pathUint64(r *http.Request, name string) (uint64, error) {
	return parseUint64(mux.Vars(r)[name])
}

func parseUint64(s string) (uint64, error) {
	var n uint64
	if s == "" {
		return 0, errs.MissingParameter(s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errs.InvalidInput("id", "must be numeric")
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}
