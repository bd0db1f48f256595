// Package api exposes the marketplace over HTTP: read endpoints backed by
// ABCI queries, transaction submission, and state backups. Handlers carry
// @Title/@Route/@Description/@Response annotations that cmd/docgen turns
// into docs/api.adoc.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/logger"
	"marketplace.mini/mkt/internal/store"
	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("api")

// Backend submits transactions and answers queries. abci.LocalClient and
// tendermint.BroadcastClient both implement it.
type Backend interface {
	BroadcastTxCommit(ctx context.Context, tx []byte) (*types.TxResponse, error)
	ABCIQuery(ctx context.Context, path string, data []byte) ([]byte, error)
}

// Backups is the part of the state store the backup endpoints use.
type Backups interface {
	BackupCurrent(maxBackups int) (string, error)
	Backups() ([]store.BackupFile, error)
	ExportSnapshot() ([]byte, error)
	ImportSnapshot(data []byte, maxBackups int) (string, error)
}

// Options configure a Service.
type Options struct {
	Mode       string
	BackupKeep int
	Peers      PeerLister // nil when discovery is off
}

// Service handles API requests
type Service struct {
	backend Backend
	backups Backups
	logger  *logger.Logger
	opts    Options
}

// NewService creates a new API service. backups may be nil, in which case
// the backup endpoints answer 503.
func NewService(backend Backend, backups Backups, logger *logger.Logger, opts Options) *Service {
	return &Service{
		backend: backend,
		backups: backups,
		logger:  logger,
		opts:    opts,
	}
}

// Register installs every API route on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.HandleHealth)
	mux.HandleFunc("/api/version", s.HandleVersion)
	mux.HandleFunc("/api/listings", s.HandleListings)
	mux.HandleFunc("/api/listings/mine", s.HandleMyListings)
	mux.HandleFunc("/api/listings/get", s.HandleListing)
	mux.HandleFunc("/api/listings/history", s.HandleListingHistory)
	mux.HandleFunc("/api/assets/mine", s.HandleMyAssets)
	mux.HandleFunc("/api/assets/held", s.HandleHoldings)
	mux.HandleFunc("/api/fee", s.HandleFee)
	mux.HandleFunc("/api/balance", s.HandleBalance)
	mux.HandleFunc("/api/nonce", s.HandleNonce)
	mux.HandleFunc("/api/registry/asset", s.HandleRegistryAsset)
	mux.HandleFunc("/api/peers", s.HandlePeers)
	mux.HandleFunc("/api/tx", s.HandleSubmitTx)
	mux.HandleFunc("/api/backups", s.HandleBackupsList)
	mux.HandleFunc("/api/backups/export", s.HandleBackupExport)
	mux.HandleFunc("/api/backups/download", s.HandleBackupDownload)
	mux.HandleFunc("/api/backups/import", s.HandleBackupImport)
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// allow rejects requests whose method is not one of methods.
func (s *Service) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// query runs an ABCI query and relays the JSON value unchanged.
func (s *Service) query(w http.ResponseWriter, r *http.Request, path string, data []byte) {
	value, err := s.backend.ABCIQuery(r.Context(), path, data)
	if err != nil {
		var qerr *types.QueryError
		if errors.As(err, &qerr) {
			s.writeError(w, statusForCode(qerr.Code), qerr.Log)
			return
		}
		log.Errorf("query %s: %v", path, err)
		s.writeError(w, http.StatusBadGateway, "Query failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

// statusForCode maps an application result code to an HTTP status.
func statusForCode(code uint32) int {
	switch code {
	case abci.CodeTypeOK:
		return http.StatusOK
	case abci.CodeTypeAuthError:
		return http.StatusUnauthorized
	case abci.CodeTypeInsufficientFee, abci.CodeTypeInsufficientPayment, abci.CodeTypeInsufficientFunds:
		return http.StatusPaymentRequired
	case abci.CodeTypeNoActiveListing, abci.CodeTypeNotFound, abci.CodeTypeUnknownContract:
		return http.StatusNotFound
	case abci.CodeTypeTransferRejected:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
