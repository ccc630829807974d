// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// warrant-service is the capability-token daemon: it owns the
// registry, resource directory, lifecycle manager, and orchestrator,
// and exposes the run operations over a Unix socket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/warrant-foundation/warrant/lib/backend"
	"github.com/warrant-foundation/warrant/lib/bundle"
	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/clock"
	"github.com/warrant-foundation/warrant/lib/config"
	"github.com/warrant-foundation/warrant/lib/lifecycle"
	"github.com/warrant-foundation/warrant/lib/orchestrator"
	"github.com/warrant-foundation/warrant/lib/resource"
	"github.com/warrant-foundation/warrant/lib/run"
	"github.com/warrant-foundation/warrant/lib/service"
	"github.com/warrant-foundation/warrant/lib/version"
	"github.com/warrant-foundation/warrant/lib/wire"
)

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func realMain() error {
	var (
		configPath  string
		socketPath  string
		logLevel    string
		mockEngine  bool
		showVersion bool
	)

	flags := pflag.NewFlagSet("warrant-service", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to warrant.yaml (overrides WARRANT_CONFIG)")
	flags.StringVar(&socketPath, "socket", "", "Unix socket path (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&mockEngine, "mock-engine", false, "use the scripted mock engine regardless of config")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("warrant-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Socket.Path = socketPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if mockEngine {
		cfg.Engine.Mode = "mock"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	registry := capability.NewRegistry(clk)
	directory := resource.NewDirectory()
	manager := lifecycle.NewManager(registry, directory, logger)
	orch := orchestrator.New(registry, directory, manager, buildEngine(cfg, clk), clk, logger)
	backends := backend.NewService(registry, directory, noopProvisioner{}, logger)
	bundles := bundle.NewStore(registry, directory, logger)

	orch.Events().Subscribe(func(event orchestrator.StatusChange) error {
		logger.Debug("run status change", "run_id", event.RunID, "status", event.Status)
		return nil
	})

	server := service.NewSocketServer(cfg.Socket.Path, wire.KindForError, logger)
	h := &handlers{
		orch:           orch,
		backends:       backends,
		bundles:        bundles,
		manager:        manager,
		registry:       registry,
		defaultTimeout: cfg.DefaultTimeout(),
		maxForkWidth:   cfg.Run.MaxForkWidth,
	}
	h.register(server)

	logger.Info("warrant-service starting",
		"version", version.Short(),
		"socket", cfg.Socket.Path,
		"engine", cfg.Engine.Mode,
	)
	return server.Serve(ctx)
}

// loadConfig resolves the config from --config, else WARRANT_CONFIG.
func loadConfig(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.LoadFile(flagPath)
	}
	return config.Load()
}

func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}

// buildEngine selects the execution engine. Real reasoning engines
// attach as external collaborators over the socket surface; the
// built-in engines exist so the service is exercisable end to end
// without one.
func buildEngine(cfg *config.Config, clk clock.Clock) run.Engine {
	if cfg.Engine.Mode == "mock" {
		final := "mock run complete"
		return &run.ScriptedEngine{
			Clock:       clk,
			Steps:       []run.ScriptStep{{Content: "mock engine acknowledged"}},
			FinalResult: &final,
		}
	}
	return run.EchoEngine{}
}

// noopProvisioner satisfies backend.Provisioner with inert handles.
// Real provisioners (sandbox managers, credential brokers) are
// external collaborators; the daemon still exposes the full
// capability surface over them.
type noopProvisioner struct{}

type noopHandle struct {
	kind string
}

func (noopHandle) Close() error { return nil }

func (noopProvisioner) Provision(ctx context.Context, spec backend.Spec) (backend.Handle, error) {
	return noopHandle{kind: spec.Kind}, nil
}
