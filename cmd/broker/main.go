// Command agenshield-broker is the daemon entrypoint: it wires every
// collaborator package into one running process exposing the Unix socket
// and HTTP loopback transports (spec.md §1 "Broker daemon").
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agen-co/agenshield-sub008/internal/allowlist"
	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/config"
	"github.com/agen-co/agenshield-sub008/internal/handlers"
	"github.com/agen-co/agenshield-sub008/internal/metrics"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/profile"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
	"github.com/agen-co/agenshield-sub008/internal/seatbelt"
	"github.com/agen-co/agenshield-sub008/internal/vault"
)

// version is stamped by the ping handler; a real release pipeline would
// set this via -ldflags, not attempted here.
const version = "0.1.0-dev"

// Pool sizing: long-running http_request/exec handlers must never starve
// policy_check traffic (spec.md §4.3 "Concurrency"), so the queue is
// deep and the admission limiter is generous rather than load-bearing —
// its job is only to turn "saturated" into a clean 1010 instead of an
// unbounded goroutine pileup.
const (
	poolWorkers    = 16
	poolQueueDepth = 256
	poolAdmitRate  = rate.Limit(200)
	poolAdmitBurst = 100

	metricsRefreshInterval = 5 * time.Second
)

func main() {
	cmd := config.NewRootCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("broker: build logger: %w", err)
	}
	defer log.Sync()

	for _, dir := range []string{filepath.Dir(cfg.SocketPath), filepath.Dir(cfg.DBPath), cfg.LogDir, cfg.ProfileCacheDir} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("broker: create %s: %w", dir, err)
		}
	}

	policyStore, err := policy.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("broker: open policy store: %w", err)
	}
	defer policyStore.Close()

	profileStore, err := profile.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("broker: open profile store: %w", err)
	}
	defer profileStore.Close()

	// vault, the command allowlist, and the audit index share one raw
	// connection to the same database file (policy.OpenSQLiteStore and
	// profile.OpenSQLiteStore each own their own connection to it, per
	// their own package's design).
	sharedDB, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("broker: open shared database: %w", err)
	}
	defer sharedDB.Close()

	vlt, err := vault.Open(sharedDB)
	if err != nil {
		return fmt.Errorf("broker: open vault: %w", err)
	}
	secrets := vault.NewSecretCache()

	commands, err := allowlist.Open(sharedDB)
	if err != nil {
		return fmt.Errorf("broker: open command allowlist: %w", err)
	}

	auditIndex, err := audit.NewSQLiteIndex(sharedDB)
	if err != nil {
		return fmt.Errorf("broker: open audit index: %w", err)
	}
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath())
	if err != nil {
		return fmt.Errorf("broker: open audit log: %w", err)
	}
	defer fileSink.Close()
	emitter := audit.NewEmitter(fileSink, auditIndex)

	seatbeltCache, err := seatbelt.NewCache(cfg.ProfileCacheDir)
	if err != nil {
		return fmt.Errorf("broker: open seatbelt cache: %w", err)
	}

	cond := policy.NewConditionEvaluator()
	cache := policy.NewDecisionCache(cfg.EngineReloadInterval)
	engine := policy.NewEngine(policyStore, cache, cond, log)

	if err := seedPresets(policyStore, cfg.PolicyDir, log); err != nil {
		return fmt.Errorf("broker: seed presets: %w", err)
	}

	events := rpc.NewEventBroker()

	currentProfile, err := loadOrBootstrapProfile(profileStore, cfg)
	if err != nil {
		return fmt.Errorf("broker: load profile: %w", err)
	}

	deps := &handlers.Deps{
		Engine:      engine,
		Commands:    commands,
		Vault:       vlt,
		Secrets:     secrets,
		Audit:       emitter,
		Events:      events,
		Seatbelt:    seatbeltCache,
		Log:         log,
		AgentHome:   cfg.AgentHome,
		SocketDirs:  []string{filepath.Dir(cfg.SocketPath)},
		SocketGroup: cfg.SocketGroup,
		BrokerUID:   uint32(os.Getuid()),
		Version:     version,
	}

	dispatcher := rpc.NewDispatcher()
	handlers.Register(deps, dispatcher)

	pool := rpc.NewPool(poolWorkers, poolQueueDepth, poolAdmitRate, poolAdmitBurst)

	socketServer, err := rpc.NewSocketServer(cfg.SocketPath, dispatcher, pool, log)
	if err != nil {
		return fmt.Errorf("broker: bind socket: %w", err)
	}
	socketServer.SetAuthorizer(func(uid uint32) bool {
		return currentProfile.AuthorizesSocketPeer(uid)
	})

	statsFn := func() rpc.Stats {
		total, allow, deny, errored := emitter.Stats()
		_, _, hitRate := engine.CacheStats()
		loaded, _ := policyStore.Count(policy.Scope{})
		return rpc.Stats{
			TotalRequests:  total,
			AllowCount:     allow,
			DenyCount:      deny,
			ErrorCount:     errored,
			CacheHitRate:   hitRate,
			PoliciesLoaded: loaded,
		}
	}

	httpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort)
	// currentProfile.BrokerToken, not cfg.BrokerToken, is the source of
	// truth here: an empty --broker-token flag on first run gets replaced
	// by loadOrBootstrapProfile with a freshly generated one, and an
	// empty auth token would make requireAuth's check trivially pass.
	httpServer := rpc.NewHTTPServer(httpAddr, currentProfile.BrokerToken, dispatcher, pool, events, statsFn, log)

	collector := metrics.NewCollector()
	httpServer.Handle("/metrics", collector.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := policy.NewWatcher([]string{cfg.PolicyDir}, log)
	if err != nil {
		log.Warn("policy watch disabled", zap.Error(err))
	} else {
		go watcher.Run(ctx, engine.Invalidate)
	}

	go runMetricsRefresh(ctx, collector, statsFn)

	errCh := make(chan error, 2)
	go func() {
		log.Info("socket listener started", zap.String("path", cfg.SocketPath))
		errCh <- socketServer.Serve()
	}()
	go func() {
		log.Info("http listener started", zap.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			log.Error("listener failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := socketServer.Close(); err != nil {
		log.Warn("socket shutdown", zap.Error(err))
	}
	return nil
}

// seedPresets loads every YAML bundle under policyDir and seeds it into
// store, idempotently (SeedPreset skips rows it already inserted on a
// prior run).
func seedPresets(store *policy.SQLiteStore, policyDir string, log *zap.Logger) error {
	bundles, err := policy.LoadPresetBundles(policyDir)
	if err != nil {
		return err
	}
	for id, policies := range bundles {
		added, err := store.SeedPreset(id, policies)
		if err != nil {
			return fmt.Errorf("seed preset %s: %w", id, err)
		}
		if added > 0 {
			log.Info("seeded preset policies", zap.String("preset", id), zap.Int("added", added))
		}
	}
	return nil
}

// loadOrBootstrapProfile returns the sole profile this broker process
// serves, creating a minimal default one on first run. A production
// install normally has its profile created by the setup wizard (spec.md
// §1 Non-goals), so bootstrapping here only covers the single-profile
// dev/test path.
func loadOrBootstrapProfile(store *profile.SQLiteStore, cfg *config.Config) (*profile.Profile, error) {
	profiles, err := store.List()
	if err != nil {
		return nil, err
	}
	if len(profiles) > 0 {
		return profiles[0], nil
	}

	token := cfg.BrokerToken
	if token == "" {
		generated, err := profile.GenerateToken()
		if err != nil {
			return nil, err
		}
		token = generated
	}
	p := &profile.Profile{
		ID:             "default",
		AgentUser:      os.Getenv("USER"),
		AgentUID:       uint32(os.Getuid()),
		AgentHome:      cfg.AgentHome,
		BrokerUser:     os.Getenv("USER"),
		BrokerUID:      uint32(os.Getuid()),
		BrokerToken:    token,
		SocketGroup:    cfg.SocketGroup,
		WorkspaceGroup: cfg.WorkspaceGroup,
		HTTPPort:       cfg.HTTPPort,
		CreatedAt:      time.Now(),
	}
	if err := store.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

func runMetricsRefresh(ctx context.Context, collector *metrics.Collector, statsFn func() rpc.Stats) {
	ticker := time.NewTicker(metricsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.Update(statsFn())
		}
	}
}
