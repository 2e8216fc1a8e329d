// Package config loads and validates the YAML configuration that drives the
// scanner, the registry and the stores.
package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	yaml "gopkg.in/yaml.v2"
)

// ContractConfig describes one ABI-backed contract known to the registry.
type ContractConfig struct {
	Name      string   `yaml:"name"`
	ABI       string   `yaml:"abi"`
	ParsedABI *abi.ABI `yaml:"-"`
}

// StorageConfig parameterizes the raw/derived store backends plus the
// optional CSV audit-trail export, which runs alongside handler dispatch
// rather than as the only persistence path.
type StorageConfig struct {
	RawDSN     string `yaml:"raw_dsn"`
	DerivedDSN string `yaml:"derived_dsn"`

	AuditCSVDir        string `yaml:"audit_csv_dir"`
	AuditRetryAttempts int    `yaml:"audit_retry_attempts"`
	AuditRetryDelayMS  int    `yaml:"audit_retry_delay_ms"`
}

// SyncConfig mirrors the configuration file's `sync_cfg` block.
type SyncConfig struct {
	ChainAPI                []string `yaml:"chain_api"`
	StartBlock              uint64   `yaml:"start_block"`
	ChainReorgSafetyBlocks  uint64   `yaml:"chain_reorg_safety_blocks"`
	MaxChunkScanSize        uint64   `yaml:"max_chunk_scan_size"`
	RequestIntervalSec      float64  `yaml:"request_interval_sec"`
	RequestRetrySeconds     float64  `yaml:"request_retry_seconds"`
	RealtimeScanIntervalSec float64  `yaml:"realtime_scan_interval_sec"`
	ScanDatabaseStepSize    uint64   `yaml:"scan_database_step_size"`
}

// MonitorConfig configures the push-notification sink.
type MonitorConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Config is the top-level configuration document.
type Config struct {
	SyncCfg      SyncConfig        `yaml:"sync_cfg"`
	Contracts    map[string]string `yaml:"contracts"` // contract_name -> seed address (hex)
	ContractDefs []ContractConfig  `yaml:"contract_defs"`
	Storage      StorageConfig     `yaml:"storage"`
	Monitor      MonitorConfig     `yaml:"monitor"`
	SnapshotFile string            `yaml:"snapshot_file"`

	resolved map[string]common.Address
}

// Load reads, validates and defaults the configuration file at path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := ioutil.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.SyncCfg.ChainAPI) == 0 {
		return nil, fmt.Errorf("sync_cfg.chain_api is required")
	}
	if len(cfg.ContractDefs) == 0 {
		return nil, fmt.Errorf("at least one contract must be defined")
	}
	if cfg.Storage.RawDSN == "" {
		return nil, fmt.Errorf("storage.raw_dsn is required")
	}
	if cfg.Storage.DerivedDSN == "" {
		return nil, fmt.Errorf("storage.derived_dsn is required")
	}

	cfgDir := filepath.Dir(absPath)

	for i, c := range cfg.ContractDefs {
		if c.Name == "" {
			return nil, fmt.Errorf("contract at index %d is missing name", i)
		}
		if c.ABI == "" {
			return nil, fmt.Errorf("contract '%s' is missing abi path", c.Name)
		}

		abiPath := c.ABI
		if !filepath.IsAbs(abiPath) {
			abiPath = filepath.Join(cfgDir, abiPath)
		}
		if _, err := os.Stat(abiPath); err != nil {
			return nil, fmt.Errorf("abi file for contract '%s' not found: %w", c.Name, err)
		}

		abiBytes, err := ioutil.ReadFile(abiPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read abi file for contract '%s': %w", c.Name, err)
		}
		parsed, err := abi.JSON(bytes.NewReader(abiBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to parse abi for contract '%s': %w", c.Name, err)
		}

		cfg.ContractDefs[i].ParsedABI = &parsed
		cfg.ContractDefs[i].ABI = abiPath
	}

	if cfg.SyncCfg.StartBlock == 0 {
		cfg.SyncCfg.StartBlock = 1
	}
	if cfg.SyncCfg.MaxChunkScanSize == 0 {
		cfg.SyncCfg.MaxChunkScanSize = 100
	}
	if cfg.SyncCfg.RequestIntervalSec == 0 {
		cfg.SyncCfg.RequestIntervalSec = 0.5
	}
	if cfg.SyncCfg.RequestRetrySeconds == 0 {
		cfg.SyncCfg.RequestRetrySeconds = 3
	}
	if cfg.SyncCfg.RealtimeScanIntervalSec == 0 {
		cfg.SyncCfg.RealtimeScanIntervalSec = 15
	}
	if cfg.SyncCfg.ScanDatabaseStepSize == 0 {
		cfg.SyncCfg.ScanDatabaseStepSize = 1000
	}
	if cfg.SnapshotFile == "" {
		cfg.SnapshotFile = "cache-state.json"
	}
	if cfg.Storage.AuditCSVDir != "" {
		if cfg.Storage.AuditRetryAttempts == 0 {
			cfg.Storage.AuditRetryAttempts = 3
		}
		if cfg.Storage.AuditRetryDelayMS == 0 {
			cfg.Storage.AuditRetryDelayMS = 1500
		}
	}

	cfg.resolved = make(map[string]common.Address, len(cfg.Contracts))
	for name, addr := range cfg.Contracts {
		cfg.resolved[name] = common.HexToAddress(addr)
	}

	return &cfg, nil
}

// SeedAddresses returns the configured contract_name -> seed address map,
// ready for ScannerState.Reset. Each call returns an independently mutable copy.
func (c *Config) SeedAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.resolved))
	for k, v := range c.resolved {
		out[k] = v
	}
	return out
}
