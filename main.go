// Package main is the entry point for the mkt marketplace node.
// It restores the listing ledger from the state store, settles transactions
// locally or through Tendermint, and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/api"
	"marketplace.mini/mkt/internal/config"
	"marketplace.mini/mkt/internal/discovery"
	"marketplace.mini/mkt/internal/docs"
	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/logger"
	"marketplace.mini/mkt/internal/store"
	"marketplace.mini/mkt/internal/tendermint"
	"marketplace.mini/mkt/internal/types"
	"marketplace.mini/mkt/internal/web"
)

var log = logging.Logger("mkt")

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "/etc/mkt/config.json"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Warnf("config %s: %v (using defaults)", cfgPath, err)
	}
	setLogLevel(cfg.LogLevel)

	log.Infof("mkt %s starting in %s mode", types.Version, cfg.Mode)

	nodeID, err := identity.LoadOrCreateIdentity(filepath.Join(cfg.DataDir, cfg.KeyFile))
	if err != nil {
		log.Fatalf("Failed to load node key: %v", err)
	}
	log.Debugf("Loaded node key %s from %s", nodeID, cfg.KeyFile)
	operator := types.Address(cfg.OperatorAddress)
	if operator == "" {
		operator = types.Address(nodeID.PublicKeyHex())
	}
	log.Infof("Node address %s", nodeID.PublicKeyHex())

	st, err := store.NewStore(cfg.DatabasePath())
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
	}
	defer st.Close()

	genesis, err := loadGenesis(cfg, operator)
	if err != nil {
		log.Fatalf("Failed to load genesis: %v", err)
	}

	app := abci.NewABCIApplication(abci.Options{
		ListingFee: genesis.ListingFee,
		Escrow:     genesis.Escrow,
		Operator:   genesis.Operator,
		Contracts:  genesis.Contracts,
		Persister:  st,
	})

	state, ok, err := st.LoadState()
	if err != nil {
		log.Fatalf("Failed to load state: %v", err)
	}
	switch {
	case ok:
		if err := app.Restore(state); err != nil {
			log.Fatalf("Failed to restore state: %v", err)
		}
	case cfg.Mode == config.ModeLocal:
		// Tendermint delivers the genesis through InitChain instead.
		if err := app.ApplyGenesis(genesis); err != nil {
			log.Fatalf("Failed to apply genesis: %v", err)
		}
	}

	var backend api.Backend = abci.NewLocalClient(app)
	if cfg.Mode == config.ModeTendermint {
		backend = tendermint.NewBroadcastClient(cfg.RPCURL)
	}

	port := resolvePort(cfg.Port)
	if err := ensurePortAvailable(port); err != nil {
		log.Fatalf("Port %d unavailable: %v", port, err)
	}

	var peers *discovery.DiscoveryService
	if !cfg.DisableMDNS {
		peers = startDiscovery(port, cfg.Mode, operator)
	}

	activity := logger.New(200)
	apiOpts := api.Options{Mode: cfg.Mode, BackupKeep: cfg.BackupKeep}
	if peers != nil {
		apiOpts.Peers = peers
	}
	apiService := api.NewService(backend, st, activity, apiOpts)
	server := web.NewServer(web.Config{
		Port:     port,
		Decimals: cfg.Decimals,
		API:      apiService,
		Docs:     docs.NewService(cfg.DocsDir),
		Logger:   activity,
		Commits:  st.Updates(),
		Status: func() web.Status {
			return web.Status{
				Height:         app.Height(),
				ActiveListings: len(app.Ledger().AllActiveListings()),
				LastBackup:     lastBackup(st),
			}
		},
	})
	app.EventHandler = server.Publish

	var stopConsensus func()
	if cfg.Mode == config.ModeTendermint {
		stopConsensus, err = startTendermint(cfg, app, genesis, ok)
		if err != nil {
			log.Fatalf("Failed to start Tendermint mode: %v", err)
		}
	}

	serverErrors := server.Start()
	go func() {
		if err := <-serverErrors; err != nil {
			log.Fatalf("Web server exited: %v", err)
		}
	}()
	activity.Infof("Marketplace node ready at height %d", app.Height())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnf("web server shutdown: %v", err)
	}
	if stopConsensus != nil {
		stopConsensus()
	}
	if peers != nil {
		peers.Stop()
	}
	if path, err := st.BackupCurrent(cfg.BackupKeep); err != nil {
		log.Warnf("shutdown backup: %v", err)
	} else if path != "" {
		log.Infof("State backed up to %s", path)
	}
}

// loadGenesis reads the genesis file when one is configured, otherwise it
// derives an unfunded genesis from the config.
func loadGenesis(cfg *config.Config, operator types.Address) (types.GenesisState, error) {
	genesis := types.GenesisState{
		ListingFee: cfg.ListingFee,
		Escrow:     types.Address(cfg.EscrowAddress),
		Operator:   operator,
		Contracts:  cfg.Contracts,
	}
	if cfg.GenesisFile == "" {
		return genesis, nil
	}

	b, err := os.ReadFile(cfg.GenesisFile)
	if err != nil {
		return genesis, err
	}
	var fromFile types.GenesisState
	if err := json.Unmarshal(b, &fromFile); err != nil {
		return genesis, fmt.Errorf("parse %s: %w", cfg.GenesisFile, err)
	}
	if fromFile.Escrow == "" {
		fromFile.Escrow = genesis.Escrow
	}
	if fromFile.Operator == "" {
		fromFile.Operator = genesis.Operator
	}
	if len(fromFile.Contracts) == 0 {
		fromFile.Contracts = genesis.Contracts
	}
	return fromFile, nil
}

// startTendermint serves the application on the ABCI socket and, when the
// tendermint binary is installed, runs a node against it. Without the binary
// an externally managed node is expected to connect.
func startTendermint(cfg *config.Config, app *abci.ABCIApplication, genesis types.GenesisState, restored bool) (func(), error) {
	srv, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: cfg.TendermintHome,
		SocketAddress:  cfg.ABCISocket,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	log.Infof("ABCI server listening on %s", cfg.ABCISocket)

	var node *exec.Cmd
	if _, err := exec.LookPath("tendermint"); err != nil {
		log.Warnf("tendermint binary not found; waiting for an external node on %s", cfg.ABCISocket)
	} else {
		if err := tendermint.InitTendermint(cfg.TendermintHome); err != nil {
			srv.Stop()
			return nil, err
		}
		if !restored {
			if err := tendermint.SetGenesisAppState(cfg.TendermintHome, genesis); err != nil {
				srv.Stop()
				return nil, err
			}
		}
		node = tendermint.GetTendermintCommand(cfg.TendermintHome, cfg.ABCISocket)
		if err := node.Start(); err != nil {
			srv.Stop()
			return nil, fmt.Errorf("start tendermint: %w", err)
		}
		log.Infof("Tendermint node started (pid %d)", node.Process.Pid)
	}

	stop := func() {
		if node != nil && node.Process != nil {
			node.Process.Signal(syscall.SIGTERM)
			node.Wait()
		}
		if err := srv.Stop(); err != nil {
			log.Warnf("stop ABCI server: %v", err)
		}
	}
	return stop, nil
}

// startDiscovery announces the node over mDNS. Failure is not fatal: the
// node still serves its API, it just cannot be found automatically.
func startDiscovery(port int, mode string, operator types.Address) *discovery.DiscoveryService {
	svc, err := discovery.NewDiscoveryService(discovery.ServiceName)
	if err != nil {
		log.Warnf("mDNS discovery unavailable: %v", err)
		return nil
	}
	ann := discovery.Announcement{Version: types.Version, Mode: mode, Operator: string(operator)}
	if err := svc.Start(port, ann); err != nil {
		log.Warnf("mDNS discovery unavailable: %v", err)
		return nil
	}
	return svc
}

func lastBackup(st *store.Store) string {
	backups, err := st.Backups()
	if err != nil || len(backups) == 0 {
		return "none"
	}
	return backups[0].Timestamp.Format("2006-01-02 15:04:05")
}

func setLogLevel(level string) {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		log.Warnf("invalid log level %q, using info", level)
		lvl = logging.LevelInfo
	}
	logging.SetAllLoggers(lvl)
}

func resolvePort(defaultPort int) int {
	portStr := os.Getenv("PORT")
	if portStr == "" {
		return defaultPort
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		log.Warnf("invalid PORT value %q, using %d", portStr, defaultPort)
		return defaultPort
	}

	return port
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
