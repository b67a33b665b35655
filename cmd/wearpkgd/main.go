package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/wearpkg/internal/api"
	"github.com/mattjoyce/wearpkg/internal/config"
	"github.com/mattjoyce/wearpkg/internal/content"
	"github.com/mattjoyce/wearpkg/internal/events"
	"github.com/mattjoyce/wearpkg/internal/grant"
	"github.com/mattjoyce/wearpkg/internal/guard"
	"github.com/mattjoyce/wearpkg/internal/install"
	"github.com/mattjoyce/wearpkg/internal/log"
	"github.com/mattjoyce/wearpkg/internal/metrics"
	"github.com/mattjoyce/wearpkg/internal/permsource"
	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/pm"
	"github.com/mattjoyce/wearpkg/internal/stage"
	"github.com/mattjoyce/wearpkg/internal/storage"
)

const version = "0.1.0"

const eventHistory = 256

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "pack":
		os.Exit(runPack(args))
	case "version":
		fmt.Printf("wearpkgd version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`wearpkgd - companion-driven package installer

Usage:
  wearpkgd <command> [flags]

Commands:
  start             Run the installer service in foreground
  config check      Validate configuration and integrity
  config lock       Record the config file hash in .checksums
  pack              Build a package archive from a manifest
  version           Show version information
  help              Show this help message

Use 'wearpkgd <command> -h' for command flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "-h" || token == "--help"
}

// resolveConfigPath returns path, or the discovered config when it is empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", fmt.Errorf("failed to discover config: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("wearpkgd starting", "version", version, "config", cfg.SourcePath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer svc.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := svc.worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("install worker: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, svc.worker, svc.hub, svc.guard, svc.metrics, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("wearpkgd running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	<-workerDone

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Install.ShutdownGrace)
	defer waitCancel()
	if err := svc.worker.Wait(waitCtx); err != nil {
		logger.Warn("shutdown grace elapsed with requests outstanding",
			"outstanding", svc.worker.Outstanding(), "guard_references", svc.guard.Count())
	}

	logger.Info("wearpkgd stopped")
	return code
}

// service is the wired installer.
type service struct {
	worker    *install.Worker
	hub       *events.Hub
	guard     *guard.Guard
	metrics   *metrics.Metrics
	authority *pm.Local
	closeDB   func() error
}

func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.State.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database opened", "path", cfg.State.DatabasePath())

	authority, err := pm.NewLocal(db, cfg.State.InstallDir(), cfg.Device.Features, log.WithComponent("pm"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create package authority: %w", err)
	}

	stager, err := stage.New(cfg.State.StagingDir(), cfg.Install.IconURIPrefix)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create stager: %w", err)
	}
	report, err := stager.Cleanup(ctx)
	if err != nil {
		logger.Warn("staging cleanup failed", "dir", stager.BaseDir(), "error", err)
	} else if report.DeletedFiles > 0 {
		logger.Info("removed leftover staged files", "dir", stager.BaseDir(), "count", report.DeletedFiles)
	}

	var hold guard.Hold = guard.NopHold{}
	if cfg.Guard.LockPath != "" {
		fh, err := guard.NewFileHold(cfg.Guard.LockPath)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create guard hold: %w", err)
		}
		hold = fh
	}
	g := guard.New(hold, log.WithComponent("guard"))

	hub := events.NewHub(eventHistory)
	notifier := grant.NewHubNotifier(hub, log.WithComponent("grant"))
	notifier.RequireSubscriber = cfg.Install.RequireGrantSubscriber
	m := metrics.New()

	worker, err := install.New(install.Deps{
		Authority:   authority,
		Permissions: permsource.NewSQLite(log.WithComponent("permsource")),
		Content:     content.FileSource{},
		Notifier:    notifier,
		Parser:      pkgfile.Parser{},
		Stager:      stager,
		Guard:       g,
		Events:      hub,
		Metrics:     m,
		Logger:      log.WithComponent("install"),
	}, install.Options{
		QueueCapacity:       cfg.Install.QueueCapacity,
		DeviceSDKVersion:    cfg.Device.SDKVersion,
		CoreServicesPackage: cfg.Install.CoreServicesPackage,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create install worker: %w", err)
	}

	return &service{
		worker:    worker,
		hub:       hub,
		guard:     g,
		metrics:   m,
		authority: authority,
		closeDB:   db.Close,
	}, nil
}

// close waits for the authority's background work before closing the database.
func (s *service) close() {
	s.authority.Wait()
	if err := s.closeDB(); err != nil {
		slog.Default().Warn("failed to close database", "error", err)
	}
}
