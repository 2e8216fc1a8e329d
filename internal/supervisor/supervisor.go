// Package supervisor implements the Sync Supervisor's three run modes —
// fresh, replay and incremental — on top of a wired Scanner. It is the
// thing cmd/indexer's `sync` CLI actually drives.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"chainindex/internal/config"
	"chainindex/internal/derivedstore"
	"chainindex/internal/rawstore"
	"chainindex/internal/scanner"
	"chainindex/internal/scannerstate"

	"github.com/sirupsen/logrus"
)

// Supervisor drives one of the three sync modes against a fully-wired
// Scanner and its backing stores.
type Supervisor struct {
	cfg     *config.Config
	scanner *scanner.Scanner
	state   *scannerstate.State
	raw     *rawstore.Store
	derived derivedstore.Store
}

// New builds a Supervisor from the already-wired components (see
// internal/app.Build).
func New(cfg *config.Config, sc *scanner.Scanner, state *scannerstate.State, raw *rawstore.Store, derived derivedstore.Store) *Supervisor {
	return &Supervisor{cfg: cfg, scanner: sc, state: state, raw: raw, derived: derived}
}

// Stop signals the current run to exit cleanly after its in-progress
// chunk finalizes and the cursor is persisted.
func (s *Supervisor) Stop() {
	s.scanner.Stop()
}

// RunFresh resets the cursor, drops the snapshot file plus both stores,
// live-scans from start_block to the chain head, then falls into the
// incremental loop.
func (s *Supervisor) RunFresh(ctx context.Context) error {
	logrus.Info("supervisor: fresh mode — dropping snapshot, derived store and raw store")

	s.state.Reset(s.cfg.SyncCfg.StartBlock, s.cfg.SeedAddresses())
	if err := os.Remove(s.cfg.SnapshotFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: removing snapshot file: %w", err)
	}
	if err := s.derived.DropAll(ctx); err != nil {
		return fmt.Errorf("supervisor: dropping derived store: %w", err)
	}
	if err := s.raw.DropAll(ctx); err != nil {
		return fmt.Errorf("supervisor: dropping raw store: %w", err)
	}

	if err := s.liveScanToHead(ctx); err != nil {
		return err
	}
	return s.RunIncremental(ctx)
}

// RunReplay resets the cursor, drops the snapshot file and the derived
// store (keeping the raw store), replays every stored block, then falls
// into the incremental loop.
func (s *Supervisor) RunReplay(ctx context.Context) error {
	logrus.Info("supervisor: replay mode — dropping snapshot and derived store, keeping raw store")

	s.state.Reset(s.cfg.SyncCfg.StartBlock, s.cfg.SeedAddresses())
	if err := os.Remove(s.cfg.SnapshotFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: removing snapshot file: %w", err)
	}
	if err := s.derived.DropAll(ctx); err != nil {
		return fmt.Errorf("supervisor: dropping derived store: %w", err)
	}

	onProgress := func(p scanner.Progress) {
		logrus.Infof("supervisor: replayed [%d,%d], dispatched %d events", p.From, p.To, p.Dispatched)
	}
	if err := s.scanner.Replay(ctx, s.cfg.SyncCfg.ScanDatabaseStepSize, onProgress); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: replay: %w", err)
	}

	return s.RunIncremental(ctx)
}

// RunIncremental live-scans from the scanner's current cursor to the chain
// head in a loop, sleeping realtime_scan_interval_sec between passes, until
// ctx is cancelled, and then returns nil. It does not restore the cursor
// itself; app.Build restores it from the snapshot file at startup.
func (s *Supervisor) RunIncremental(ctx context.Context) error {
	interval := time.Duration(s.cfg.SyncCfg.RealtimeScanIntervalSec * float64(time.Second))

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.liveScanToHead(ctx); err != nil {
			return err
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Supervisor) liveScanToHead(ctx context.Context) error {
	from := s.scanner.SuggestedStart()
	to, err := s.scanner.SuggestedEnd(ctx, s.cfg.SyncCfg.ChainReorgSafetyBlocks)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("supervisor: fetching chain tip: %w", err)
	}
	if to < from {
		return nil
	}

	onProgress := func(p scanner.Progress) {
		logrus.Infof("supervisor: scanned [%d,%d], dispatched %d events", p.From, p.To, p.Dispatched)
	}
	if err := s.scanner.Scan(ctx, from, to, s.cfg.SyncCfg.MaxChunkScanSize, onProgress); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
