// aibridge gateway — serves the stdio tool surface, manages the backend
// registry and resource guards, and runs parallel-agents orchestrations.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Platano78/smart-ai-bridge/pkg/api"
	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/fileops"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/masking"
	"github.com/Platano78/smart-ai-bridge/pkg/orchestrator"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
	"github.com/Platano78/smart-ai-bridge/pkg/version"
	"github.com/Platano78/smart-ai-bridge/pkg/wire"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	backendsPath := flag.String("backends", "", "Path to a YAML backend catalog overriding the defaults")
	flag.Parse()

	// stdout carries the wire protocol; all logging goes to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	slog.Info("Starting aibridge", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *backendsPath != "" {
		descs, err := config.LoadBackendsFile(*backendsPath)
		if err != nil {
			slog.Error("Failed to load backend catalog", "path", *backendsPath, "error", err)
			os.Exit(1)
		}
		cfg.Backends = descs
		slog.Info("Loaded backend catalog", "path", *backendsPath, "backends", len(descs))
	}

	// 2. Guards.
	limiter := guard.NewRateLimiter(cfg.RateLimit)
	pool := guard.NewPool(cfg.Pool.MaxConcurrent)
	validator := guard.NewFuzzyValidator(cfg.Fuzzy)
	masker := masking.New()

	// 3. Backend registry.
	registry := backend.NewRegistry(backend.NewFactory(cfg, limiter))
	for _, name := range config.SortedBackendNames(cfg.Backends) {
		if err := registry.Register(name, cfg.Backends[name]); err != nil {
			slog.Error("Failed to register backend", "backend", name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Backend registry initialized",
		"backends", len(cfg.Backends), "chain", registry.Chain())

	// 4. Background health monitor.
	monitor := backend.NewHealthMonitor(registry,
		config.DefaultHealthInterval, cfg.Discovery.ProbeTimeout)
	monitor.Start(ctx)
	defer monitor.Stop()

	// 5. Router, roles, file ops.
	rt := router.New(registry, pool)

	roleReg, err := roles.NewRegistryFromFile(cfg.RolesFile)
	if err != nil {
		slog.Error("Failed to load role registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Role registry initialized", "roles", len(roleReg.Names()))

	backups, err := fileops.NewLocalBackups("")
	if err != nil {
		slog.Error("Failed to initialize backup store", "error", err)
		os.Exit(1)
	}
	files := fileops.NewLocal(backups)

	executor := roles.NewExecutor(roleReg, rt, files)

	// 6. Orchestrator. Slot probing needs the local adapter when present.
	var prober orchestrator.SlotProber
	if adapter, ok := registry.Lookup("local"); ok {
		if local, isLocal := adapter.(*backend.LocalAdapter); isLocal {
			prober = local
		}
	}
	orch := orchestrator.New(executor, pool, prober, cfg.Orchestrator)

	// 7. Wire surface.
	dispatcher := wire.NewDispatcher(rt, executor, orch, limiter, validator, files, masker)
	server := wire.NewServer(dispatcher, os.Stdin, os.Stdout)

	// 8. Optional dashboard.
	var dashboard *api.Server
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(rt, limiter, roleReg, cfg.Dashboard.Port)
		go func() {
			slog.Info("Dashboard listening", "port", cfg.Dashboard.Port)
			if err := dashboard.Start(); err != nil {
				slog.Error("Dashboard server error", "error", err)
			}
		}()
	}

	// 9. Serve stdio until EOF, signal, or error.
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(serveCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
		cancel()
	case err := <-errCh:
		if err != nil {
			slog.Error("Wire server error", "error", err)
		} else {
			slog.Info("Input stream closed")
		}
	}

	// 10. Graceful shutdown.
	if dashboard != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := dashboard.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Dashboard shutdown error", "error", err)
		}
	}
	monitor.Stop()
	slog.Info("aibridge stopped")
}
