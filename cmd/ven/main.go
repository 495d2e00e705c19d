// Package main is the entry point for the OpenADR 2.0a virtual end
// node.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/homersoft/oadr2-ven-go/internal/buildinfo"
	"github.com/homersoft/oadr2-ven-go/internal/carrier/httpcarrier"
	"github.com/homersoft/oadr2-ven-go/internal/config"
	"github.com/homersoft/oadr2-ven-go/internal/connwatch"
	"github.com/homersoft/oadr2-ven-go/internal/eventstore"
	"github.com/homersoft/oadr2-ven-go/internal/oadrxml"
	"github.com/homersoft/oadr2-ven-go/internal/opstate"
	"github.com/homersoft/oadr2-ven-go/internal/ven"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printHelp()
		return
	}

	switch flag.Arg(0) {
	case "serve":
		runServe(logger, *configPath)
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("oadr2-ven - OpenADR 2.0a virtual end node")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the VEN (event store, control loop, HTTP carrier)")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting oadr2-ven", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"ven_id", cfg.Ven.ID,
		"listen_port", cfg.Listen.Port,
		"store_path", cfg.Store.Path,
	)

	store, err := eventstore.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open event store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("event store opened", "path", cfg.Store.Path)

	opState, err := opstate.NewStore(cfg.Store.Path + ".opstate")
	if err != nil {
		logger.Error("failed to open operational state store", "error", err)
		os.Exit(1)
	}
	defer opState.Close()

	instanceID, err := ven.LoadOrCreateInstanceID(opState)
	if err != nil {
		logger.Error("failed to load/create VEN instance id", "error", err)
		os.Exit(1)
	}
	logger.Info("VEN instance identified", "instance_id", instanceID)

	onChange := func(old, new float64) {
		logger.Info("signal level changed", "old_level", old, "new_level", new)
		if err := opState.Set("ven", "last_signal_level", fmt.Sprintf("%g", new)); err != nil {
			logger.Error("failed to persist last signal level", "error", err)
		}
	}

	sup := ven.New(ven.Config{
		VenID:           cfg.Ven.ID,
		VtnIDs:          cfg.VTN.AllowedIDs,
		MarketContexts:  cfg.VTN.MarketContexts,
		GroupID:         cfg.Ven.GroupID,
		ResourceID:      cfg.Ven.ResourceID,
		PartyID:         cfg.Ven.PartyID,
		Profile:         oadrxml.Profile(cfg.Ven.Profile),
		ControlInterval: cfg.Control.Interval(),
	}, store, onChange, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(ctx)
	defer sup.Stop()

	if cfg.VTN.BaseURI != "" {
		manager := connwatch.NewManager(logger)
		manager.Watch(ctx, connwatch.WatcherConfig{
			Name: "vtn",
			Probe: func(probeCtx context.Context) error {
				req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.VTN.BaseURI, nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				return nil
			},
			OnDown: func(err error) {
				logger.Warn("VTN unreachable", "error", err)
			},
			OnReady: func() {
				logger.Info("VTN reachable")
			},
		})
		defer manager.Stop()
	}

	carrier := httpcarrier.New(sup, logger)
	mux := http.NewServeMux()
	mux.Handle("/oadr2/eiEvent", carrier.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		_ = httpServer.Shutdown(context.Background())
	}()

	logger.Info("HTTP carrier listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP carrier failed", "error", err)
		os.Exit(1)
	}
}
