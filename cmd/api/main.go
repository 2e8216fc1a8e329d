// Command api runs the job-runner HTTP server on top of a single wired
// Scanner, letting operators start live/replay scans and poll their
// progress over HTTP instead of the indexer's own foreground loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"chainindex/internal/api"
	"chainindex/internal/app"
	"chainindex/internal/config"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	abiDir := flag.String("abi-dir", "abi", "directory of contract ABI JSON fixtures")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	a, err := app.Build(context.Background(), cfg, *abiDir)
	if err != nil {
		log.Fatalf("failed to build indexer: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.Errorf("error closing stores: %v", err)
		}
	}()

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}

	srv := api.NewServer(a.Scanner, a.State, cfg.SyncCfg.MaxChunkScanSize, cfg.SyncCfg.ChainReorgSafetyBlocks)
	if err := srv.Run(port); err != nil {
		logrus.Fatalf("api: server stopped with error: %v", err)
	}
}
