// Package scannerstate persists the scanner's cursor: the last fully
// scanned block plus the dynamic per-contract tracked-address sets, so a
// restart resumes instead of re-scanning from genesis.
package scannerstate

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// snapshotInterval bounds how often EndChunk writes the snapshot to disk;
// EndChunk skips the write if the last save was more recent than this.
// Save itself always writes.
const snapshotInterval = 60 * time.Second

// diskState is the JSON shape written to the snapshot file.
type diskState struct {
	LastScannedBlock uint64                      `json:"last_scanned_block"`
	Addresses        map[string][]common.Address `json:"address"`
}

// State is the scanner's cursor. All exported methods are safe for
// concurrent use; the scanner itself only ever has one scan goroutine
// active, but the API server may read addresses concurrently.
type State struct {
	mu sync.RWMutex

	path             string
	lastScannedBlock uint64
	addresses        map[string]map[common.Address]struct{}

	lastSaved time.Time
}

// New builds an empty State bound to path; callers must then call Restore
// or Reset before scanning.
func New(path string) *State {
	return &State{
		path:      path,
		addresses: make(map[string]map[common.Address]struct{}),
	}
}

// Reset seeds the cursor at startBlock-1 (so the first chunk begins at
// startBlock) with the given per-contract seed addresses, discarding
// whatever was previously tracked. Used on first run and by the Sync
// Supervisor's "fresh" mode.
func (s *State) Reset(startBlock uint64, seeds map[string]common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last uint64
	if startBlock > 0 {
		last = startBlock - 1
	}
	s.lastScannedBlock = last
	s.addresses = make(map[string]map[common.Address]struct{})
	for contract, addr := range seeds {
		s.addresses[contract] = map[common.Address]struct{}{addr: {}}
	}
}

// Restore loads the cursor from disk. If the file does not exist it
// returns false (without error) so the caller falls back to Reset.
func (s *State) Restore() (bool, error) {
	data, err := ioutil.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("scannerstate: reading %s: %w", s.path, err)
	}

	var d diskState
	if err := json.Unmarshal(data, &d); err != nil {
		return false, fmt.Errorf("scannerstate: decoding %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScannedBlock = d.LastScannedBlock
	s.addresses = make(map[string]map[common.Address]struct{}, len(d.Addresses))
	for contract, addrs := range d.Addresses {
		set := make(map[common.Address]struct{}, len(addrs))
		for _, a := range addrs {
			set[a] = struct{}{}
		}
		s.addresses[contract] = set
	}
	logrus.Infof("scannerstate: restored cursor at block %d from %s", s.lastScannedBlock, s.path)
	return true, nil
}

// Save atomically writes the current cursor to disk via a temp-file
// write plus rename, regardless of snapshotInterval; callers that want
// the throttled behavior should use EndChunk instead.
func (s *State) Save() error {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.lastSaved = time.Now()
	s.mu.Unlock()

	return writeAtomic(s.path, snapshot)
}

func (s *State) snapshotLocked() diskState {
	d := diskState{
		LastScannedBlock: s.lastScannedBlock,
		Addresses:        make(map[string][]common.Address, len(s.addresses)),
	}
	for contract, set := range s.addresses {
		addrs := make([]common.Address, 0, len(set))
		for a := range set {
			addrs = append(addrs, a)
		}
		d.Addresses[contract] = addrs
	}
	return d
}

func writeAtomic(path string, d diskState) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("scannerstate: encoding snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, ".scannerstate-*.tmp")
	if err != nil {
		return fmt.Errorf("scannerstate: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("scannerstate: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("scannerstate: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("scannerstate: renaming temp file into place: %w", err)
	}
	return nil
}

// StartChunk returns the inclusive block range [from, to] the scanner
// should fetch next, given maxChunkSize and a chain tip (the caller
// clamps to chain tip minus reorg safety before calling).
func (s *State) StartChunk(maxChunkSize, tip uint64) (from, to uint64, ok bool) {
	s.mu.RLock()
	last := s.lastScannedBlock
	s.mu.RUnlock()

	if last >= tip {
		return 0, 0, false
	}
	from = last + 1
	to = from + maxChunkSize - 1
	if to > tip {
		to = tip
	}
	return from, to, true
}

// EndChunk advances the cursor to n and snapshots to disk if at least
// snapshotInterval has passed since the last save.
func (s *State) EndChunk(n uint64) error {
	s.mu.Lock()
	s.lastScannedBlock = n
	due := time.Since(s.lastSaved) >= snapshotInterval
	var snapshot diskState
	if due {
		snapshot = s.snapshotLocked()
		s.lastSaved = time.Now()
	}
	s.mu.Unlock()

	if !due {
		return nil
	}
	return writeAtomic(s.path, snapshot)
}

// LastScannedBlock returns the current cursor position.
func (s *State) LastScannedBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScannedBlock
}

// AddAddress tracks addr under contract for subsequent chunks, via dynamic
// registration from a handler (e.g. a factory event teaching the scanner
// about a freshly deployed address). Tracking is strictly per-contract
// rather than a single shared address set.
func (s *State) AddAddress(contract string, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.addresses[contract]
	if !ok {
		set = make(map[common.Address]struct{})
		s.addresses[contract] = set
	}
	set[addr] = struct{}{}
}

// GetAddresses returns a snapshot of the addresses tracked under contract.
func (s *State) GetAddresses(contract string) []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.addresses[contract]
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// IsTracked reports whether addr is tracked under contract.
func (s *State) IsTracked(contract string, addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.addresses[contract][addr]
	return ok
}
