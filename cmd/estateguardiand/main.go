// Command estateguardiand runs the estate guardian as a standalone HTTP
// service: it wires configuration, storage, the ledger capability bundle,
// and the maintenance cron loop, then serves the guardian facade over
// HTTP until a termination signal arrives. Grounded in the teacher's
// cmd/appserver/main.go wiring shape (flag-overridable config, deferred
// resource cleanup, signal-driven graceful shutdown), generalized from a
// Postgres-backed service to this module's in-memory Store plus an
// in-process ledgerfake bundle — the real chain RPC binding is out of
// scope per spec.md §1.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/civkeep/estateguardian/internal/clock"
	"github.com/civkeep/estateguardian/internal/config"
	"github.com/civkeep/estateguardian/internal/guardian"
	"github.com/civkeep/estateguardian/internal/ledger/ledgerfake"
	"github.com/civkeep/estateguardian/internal/logging"
	"github.com/civkeep/estateguardian/internal/maintenance"
	"github.com/civkeep/estateguardian/internal/metricsx"
	"github.com/civkeep/estateguardian/internal/rng"
	"github.com/civkeep/estateguardian/internal/runtime"
	"github.com/civkeep/estateguardian/internal/service"
	"github.com/civkeep/estateguardian/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (overrides CONFIG_FILE)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config server.host/server.port)")
	flag.Parse()

	if *configPath != "" {
		_ = os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		host, port := splitAddr(trimmed)
		cfg.Server.Host = host
		cfg.Server.Port = port
	}

	logger := logging.New("estateguardian", cfg.Logging.Level, cfg.Logging.Format)
	logging.InitDefault("estateguardian", cfg.Logging.Level, cfg.Logging.Format)

	masterKey, err := resolveMasterKey(cfg.MasterKeyHex, logger)
	if err != nil {
		log.Fatalf("resolve master key: %v", err)
	}

	src, err := rng.NewSource()
	if err != nil {
		log.Fatalf("initialize rng: %v", err)
	}

	st := storage.New()
	metrics := metricsx.New(prometheus.DefaultRegisterer)

	caps := guardian.Capabilities{
		Fungible: ledgerfake.NewFungible(),
		NFT:      ledgerfake.NewNFT(),
		Bridge:   ledgerfake.NewBridge(),
	}

	g := guardian.New(cfg, st, clock.SystemClock{}, src, masterKey, caps, logger, metrics)

	loop := maintenance.New(g, logger, metrics)
	if err := loop.Start(context.Background()); err != nil {
		log.Fatalf("start maintenance loop: %v", err)
	}
	defer loop.Stop()

	srv := service.New(cfg.Server, g, loop, logger)
	srv.Start()
	logger.Info(context.Background(), "estateguardian listening", map[string]interface{}{
		"addr": cfg.Server.Host,
		"port": cfg.Server.Port,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// resolveMasterKey decodes a hex-encoded 32-byte key from config/env, or
// generates an ephemeral one for local/dev runs — mirroring the teacher's
// configureSecretsCipher fallback (warn and continue without persistent
// key material rather than refusing to start). Production deployments
// (runtime.Env() == Production) must supply a real key: an ephemeral one
// would silently lose every document and custody subaccount derivation on
// the next restart.
func resolveMasterKey(hexKey string, logger *logging.Logger) ([]byte, error) {
	trimmed := strings.TrimSpace(hexKey)
	if trimmed != "" {
		key, err := hex.DecodeString(trimmed)
		if err != nil {
			return nil, err
		}
		if len(key) != 32 {
			return nil, errLen
		}
		return key, nil
	}
	if runtime.IsProduction() {
		return nil, errMasterKeyRequired
	}
	logger.Warn(context.Background(), "ESTATE_MASTER_KEY_HEX not set; generating an ephemeral key (documents/subaccounts will not survive a restart)", nil)
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

var errMasterKeyRequired = &masterKeyRequiredError{}

type masterKeyRequiredError struct{}

func (*masterKeyRequiredError) Error() string {
	return "ESTATE_MASTER_KEY_HEX is required when ESTATEGUARDIAN_ENV=production"
}

var errLen = &keyLenError{}

type keyLenError struct{}

func (*keyLenError) Error() string { return "ESTATE_MASTER_KEY_HEX must decode to exactly 32 bytes" }

func splitAddr(addr string) (host string, port int) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, 0
	}
	host = addr[:idx]
	portStr := addr[idx+1:]
	p := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return addr, 0
		}
		p = p*10 + int(c-'0')
	}
	return host, p
}
