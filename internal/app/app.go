// Package app wires the indexer's components together from a loaded
// Config, shared by the indexer and api binaries so both start from an
// identical dependency graph.
package app

import (
	"context"
	"fmt"
	"time"

	"chainindex/internal/config"
	"chainindex/internal/derivedstore"
	"chainindex/internal/failover"
	"chainindex/internal/handlers"
	"chainindex/internal/monitor"
	"chainindex/internal/rawstore"
	"chainindex/internal/registry"
	"chainindex/internal/scanner"
	"chainindex/internal/scannerstate"
	"chainindex/internal/sink"

	"github.com/sirupsen/logrus"
)

// App bundles every long-lived component started from one Config.
type App struct {
	Config  *config.Config
	Raw     *rawstore.Store
	Derived derivedstore.Store
	Reg     *registry.Registry
	State   *scannerstate.State
	Pool    *failover.Pool
	Monitor *monitor.Webhook
	Scanner *scanner.Scanner
}

// Build constructs and wires every component named in cfg. abiDir points
// at the directory of ABI JSON fixtures; the caller passes the directory
// containing cfg's contract_defs' parsed ABIs.
func Build(ctx context.Context, cfg *config.Config, abiDir string) (*App, error) {
	raw, err := rawstore.Open(cfg.Storage.RawDSN)
	if err != nil {
		return nil, fmt.Errorf("app: opening raw store: %w", err)
	}

	derived, err := derivedstore.OpenSQLite(cfg.Storage.DerivedDSN)
	if err != nil {
		return nil, fmt.Errorf("app: opening derived store: %w", err)
	}

	reg, err := registry.Load(abiDir)
	if err != nil {
		return nil, fmt.Errorf("app: loading registry: %w", err)
	}

	if err := handlers.Register(reg, derived); err != nil {
		return nil, fmt.Errorf("app: registering handlers: %w", err)
	}

	mon := monitor.NewWebhook(cfg.Monitor.WebhookURL)

	pool, err := failover.New(ctx, cfg.SyncCfg.ChainAPI, mon)
	if err != nil {
		return nil, fmt.Errorf("app: building rpc failover pool: %w", err)
	}

	state := scannerstate.New(cfg.SnapshotFile)
	restored, err := state.Restore()
	if err != nil {
		return nil, fmt.Errorf("app: restoring scanner state: %w", err)
	}
	if !restored {
		logrus.Infof("app: no snapshot at %s, starting fresh from block %d", cfg.SnapshotFile, cfg.SyncCfg.StartBlock)
		state.Reset(cfg.SyncCfg.StartBlock, cfg.SeedAddresses())
	}

	var audit sink.Sink
	if cfg.Storage.AuditCSVDir != "" {
		csvSink, err := sink.NewCSVSink(cfg.Storage.AuditCSVDir)
		if err != nil {
			return nil, fmt.Errorf("app: building audit csv sink: %w", err)
		}
		audit = sink.NewRetrySink(csvSink, cfg.Storage.AuditRetryAttempts, cfg.Storage.AuditRetryDelayMS)
	}

	requestInterval := time.Duration(cfg.SyncCfg.RequestIntervalSec * float64(time.Second))
	retryBase := time.Duration(cfg.SyncCfg.RequestRetrySeconds * float64(time.Second))
	sc := scanner.New(pool, raw, reg, state, mon, audit, requestInterval, retryBase)

	return &App{
		Config:  cfg,
		Raw:     raw,
		Derived: derived,
		Reg:     reg,
		State:   state,
		Pool:    pool,
		Monitor: mon,
		Scanner: sc,
	}, nil
}

// Close releases the stores and persists a final cursor snapshot.
func (a *App) Close() error {
	if err := a.State.Save(); err != nil {
		logrus.Errorf("app: saving final cursor snapshot: %v", err)
	}
	if err := a.Raw.Close(); err != nil {
		return err
	}
	return a.Derived.Close()
}
