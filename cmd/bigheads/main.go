// Command bigheads runs one BigHeads mesh node: it loads (or creates)
// the node's identity and configuration, brings up the store/crypto/
// transport/mesh stack through the runtime bridge, optionally serves
// the local admin API, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bigheads-mesh/bigheads/internal/adminapi"
	"github.com/bigheads-mesh/bigheads/internal/bridge"
	"github.com/bigheads-mesh/bigheads/internal/config"
)

var version = "dev"

func main() {
	var (
		storageRoot = flag.String("storage", "", "storage root (default $HOME/.bigheads)")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		noAdminAPI  = flag.Bool("no-admin-api", false, "disable the loopback admin API")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("bigheads %s\n", version)
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	root := *storageRoot
	if root == "" {
		var err error
		root, err = config.StorageRoot()
		if err != nil {
			log.Error("resolve storage root failed", "error", err)
			os.Exit(1)
		}
	}

	cfgPath := config.ConfigPath(root)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("load config failed", "error", err)
		os.Exit(1)
	}

	exportDir, err := config.EnsureExportDir(root)
	if err != nil {
		log.Error("create export dir failed", "error", err)
		os.Exit(1)
	}

	radio := newUnavailableRadio(log)

	br, err := bridge.New(cfg, cfgPath, config.DBPath(root), exportDir, radio, log)
	if err != nil {
		log.Error("create bridge failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := br.Start(ctx); err != nil {
		log.Error("start bridge failed", "error", err)
		cancel()
		os.Exit(1)
	}

	var admin *adminapi.Server
	adminDone := make(chan error, 1)
	if !*noAdminAPI {
		admin = adminapi.New(br, cfg.AdminToken, cfg.AdminAPIListen, log)
		go func() { adminDone <- admin.Run(ctx) }()
		log.Info("admin API listening", "addr", cfg.AdminAPIListen)
	}

	log.Info("bigheads node started", "node_id", cfg.NodeID, "storage", root)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-adminDone:
		if err != nil {
			log.Error("admin API stopped unexpectedly", "error", err)
		}
	}

	cancel()
	br.Stop()
	log.Info("bigheads node stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
