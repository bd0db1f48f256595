// Package tendermint - Tendermint configuration helpers
//
// This file provides helper functions for initializing and configuring
// a Tendermint node that connects to our ABCI server via socket.
package tendermint

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"marketplace.mini/mkt/internal/types"
)

// DefaultSocketAddress is the ABCI socket used when none is configured.
const DefaultSocketAddress = "unix://mkt.sock"

// InitTendermint initializes a Tendermint home directory with config and genesis files.
// This should be run once before starting Tendermint for the first time.
//
// It runs: `tendermint init --home <tmHome>`
func InitTendermint(tmHome string) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}

	configFile := filepath.Join(tmHome, "config", "config.toml")
	if _, err := os.Stat(configFile); err == nil {
		return nil // Already initialized
	}

	cmd := exec.Command("tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to initialize Tendermint: %w", err)
	}

	return nil
}

// GetTendermintCommand returns the command to start Tendermint node.
//
// Example:
//
//	cmd := tendermint.GetTendermintCommand("/path/to/.tendermint", "unix://mkt.sock")
//	cmd.Start()
func GetTendermintCommand(tmHome, socketAddr string) *exec.Cmd {
	if tmHome == "" {
		tmHome = TendermintHome()
	}

	if socketAddr == "" {
		socketAddr = DefaultSocketAddress
	}

	cmd := exec.Command("tendermint", "node",
		"--home", tmHome,
		"--proxy_app", socketAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd
}

// TendermintHome returns the default Tendermint home directory.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}

// SetGenesisAppState writes the marketplace genesis into the app_state field
// of <tmHome>/config/genesis.json, leaving every other field untouched.
// InitChain reads it back on the first start of the chain.
func SetGenesisAppState(tmHome string, genesis types.GenesisState) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	path := filepath.Join(tmHome, "config", "genesis.json")

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse genesis: %w", err)
	}

	appState, err := json.Marshal(genesis)
	if err != nil {
		return fmt.Errorf("encode app state: %w", err)
	}
	doc["app_state"] = appState

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	return nil
}
