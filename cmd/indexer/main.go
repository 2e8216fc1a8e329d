// Command indexer is the Sync Supervisor's CLI front-end: `sync [--init |
// --local]` runs a fresh, replay or (default) incremental sync against a
// configured chain until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chainindex/internal/app"
	"chainindex/internal/config"
	"chainindex/internal/supervisor"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	abiDir := flag.String("abi-dir", "abi", "directory of contract ABI JSON fixtures")
	fresh := flag.Bool("init", false, "fresh sync: drop snapshot, derived and raw stores, then live-scan from start_block")
	replay := flag.Bool("local", false, "replay sync: drop snapshot and derived store, re-derive from the raw store")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, stopping after the current chunk")
		cancel()
	}()

	a, err := app.Build(ctx, cfg, *abiDir)
	if err != nil {
		log.Fatalf("failed to build indexer: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.Errorf("error closing stores: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		a.Scanner.Stop()
	}()

	sv := supervisor.New(cfg, a.Scanner, a.State, a.Raw, a.Derived)

	switch {
	case *fresh && *replay:
		log.Fatal("--init and --local are mutually exclusive")
	case *fresh:
		err = sv.RunFresh(ctx)
	case *replay:
		err = sv.RunReplay(ctx)
	default:
		err = sv.RunIncremental(ctx)
	}

	if err != nil {
		log.Fatalf("sync terminated with error: %v", err)
	}
	logrus.Info("sync: shutdown complete")
}
