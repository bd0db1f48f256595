// Package tendermint connects the marketplace ABCI application to a
// Tendermint node.
//
// The node runs an ABCI server on a Unix socket and Tendermint runs as a
// separate process that connects to it. Clients submit transactions and
// queries through Tendermint's JSON-RPC endpoint (see BroadcastClient).
package tendermint

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	abciserver "github.com/tendermint/tendermint/abci/server"
	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/libs/service"
)

var log = logging.Logger("tendermint")

// Config holds configuration for the ABCI server and Tendermint connection.
type Config struct {
	// TendermintHome is the directory for Tendermint data and config
	TendermintHome string

	// SocketAddress is the Unix socket address (e.g., "unix://mkt.sock")
	SocketAddress string
}

// ABCIServer wraps an ABCI server for socket-based Tendermint connection.
type ABCIServer struct {
	server service.Service
	socket string
}

// NewABCIServer creates a new socket-based ABCI server. The server is
// created but not started. Call Start() to begin listening.
func NewABCIServer(app abci.Application, config *Config) (*ABCIServer, error) {
	if app == nil {
		return nil, fmt.Errorf("ABCI application cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.SocketAddress == "" {
		return nil, fmt.Errorf("socket address cannot be empty")
	}

	return &ABCIServer{
		server: abciserver.NewSocketServer(config.SocketAddress, app),
		socket: config.SocketAddress,
	}, nil
}

// Start begins listening on the socket for Tendermint connections. A stale
// socket file left by an unclean shutdown is removed first.
func (s *ABCIServer) Start() error {
	if path, ok := unixPath(s.socket); ok {
		if _, err := os.Stat(path); err == nil {
			log.Warnf("removing stale ABCI socket %s", path)
			os.Remove(path)
		}
	}
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start ABCI server: %w", err)
	}
	log.Infof("ABCI server listening on %s", s.socket)
	return nil
}

// Stop gracefully shuts down the ABCI server and cleans up the socket file.
func (s *ABCIServer) Stop() error {
	if s.server.IsRunning() {
		if err := s.server.Stop(); err != nil {
			return fmt.Errorf("failed to stop ABCI server: %w", err)
		}
	}

	if path, ok := unixPath(s.socket); ok {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
		}
	}

	return nil
}

// IsRunning returns true if the ABCI server is currently running.
func (s *ABCIServer) IsRunning() bool {
	return s.server.IsRunning()
}

// SocketPath returns the socket address the server is listening on.
func (s *ABCIServer) SocketPath() string {
	return s.socket
}

func unixPath(addr string) (string, bool) {
	if !strings.HasPrefix(addr, "unix://") {
		return "", false
	}
	return strings.TrimPrefix(addr, "unix://"), true
}
