// Package config centralizes runtime configuration for mkt. It loads a JSON
// (or YAML, by file extension) configuration file and exposes a process-wide
// configuration with sensible defaults. Development builds use the defaults
// when the file is not present. Operators place the file at
// /etc/mkt/config.json or point CONFIG_FILE at a different path.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeLocal      = "local"
	ModeTendermint = "tendermint"
)

// Config holds configurable options for the mkt node.
type Config struct {
	Port            int      `json:"port" yaml:"port"`
	Mode            string   `json:"mode" yaml:"mode"`
	DataDir         string   `json:"data_dir" yaml:"data_dir"`
	DBPath          string   `json:"db_path" yaml:"db_path"`
	KeyFile         string   `json:"key_file" yaml:"key_file"`
	ListingFee      uint64   `json:"listing_fee" yaml:"listing_fee"`
	EscrowAddress   string   `json:"escrow_address" yaml:"escrow_address"`
	OperatorAddress string   `json:"operator_address" yaml:"operator_address"` // Empty means the node key's address
	Contracts       []string `json:"contracts" yaml:"contracts"`
	Decimals        int32    `json:"decimals" yaml:"decimals"`
	TendermintHome  string   `json:"tendermint_home" yaml:"tendermint_home"`
	ABCISocket      string   `json:"abci_socket" yaml:"abci_socket"`
	RPCURL          string   `json:"rpc_url" yaml:"rpc_url"`
	GenesisFile     string   `json:"genesis_file" yaml:"genesis_file"`
	BackupKeep      int      `json:"backup_keep" yaml:"backup_keep"`
	LogLevel        string   `json:"log_level" yaml:"log_level"`
	DocsDir         string   `json:"docs_dir" yaml:"docs_dir"`
	DisableMDNS     bool     `json:"disable_mdns" yaml:"disable_mdns"`
}

var cfg *Config

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:            8080,
		Mode:            ModeLocal,
		DataDir:         "data",
		DBPath:          "",
		KeyFile:         "mkt_key.pem",
		ListingFee:      25_000_000,
		EscrowAddress:   "marketplace",
		OperatorAddress: "",
		Contracts:       []string{"pets"},
		Decimals:        9,
		TendermintHome:  "",
		ABCISocket:      "unix://mkt.sock",
		RPCURL:          "http://localhost:26657",
		GenesisFile:     "",
		BackupKeep:      20,
		LogLevel:        "info",
		DocsDir:         "docs",
		DisableMDNS:     false,
	}
}

// LoadConfig reads the file at path. A missing path or file yields the
// defaults and no error, so the node runs in development with minimal
// friction. A file that cannot be parsed or validated yields the defaults
// together with the error, so the caller can decide whether to continue.
func LoadConfig(path string) (*Config, error) {
	def := Defaults()

	if path == "" {
		cfg = def
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		cfg = def
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = json.Unmarshal(b, &c)
	}
	if err != nil {
		cfg = def
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	c.merge(def)
	if err := c.Validate(); err != nil {
		cfg = def
		return cfg, err
	}

	cfg = &c
	return cfg, nil
}

// merge fills zero-value fields from def.
func (c *Config) merge(def *Config) {
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.EscrowAddress == "" {
		c.EscrowAddress = def.EscrowAddress
	}
	if len(c.Contracts) == 0 {
		c.Contracts = def.Contracts
	}
	if c.Decimals == 0 {
		c.Decimals = def.Decimals
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.RPCURL == "" {
		c.RPCURL = def.RPCURL
	}
	if c.BackupKeep == 0 {
		c.BackupKeep = def.BackupKeep
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
}

// Validate reports configuration values the node cannot run with.
func (c *Config) Validate() error {
	if c.Mode != ModeLocal && c.Mode != ModeTendermint {
		return fmt.Errorf("invalid mode %q: want %q or %q", c.Mode, ModeLocal, ModeTendermint)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Decimals < 0 || c.Decimals > 18 {
		return fmt.Errorf("invalid decimals %d", c.Decimals)
	}
	return nil
}

// DatabasePath returns DBPath, or marketplace.db under DataDir.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "marketplace.db")
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		LoadConfig("")
	}
	return cfg
}
