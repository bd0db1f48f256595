package api

import (
	"fmt"
	"io"
	"net/http"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/types"
)

// maxTxBytes bounds the body of a submitted transaction.
const maxTxBytes = 64 << 10

// TxReply is the body returned by POST /api/tx.
type TxReply struct {
	Code      uint32        `json:"code"`
	CodeName  string        `json:"code_name"`
	Log       string        `json:"log,omitempty"`
	Hash      string        `json:"hash,omitempty"`
	Height    int64         `json:"height,omitempty"`
	ListingID string        `json:"listing_id,omitempty"`
	AssetID   uint64        `json:"asset_id,omitempty"`
	Events    []types.Event `json:"events,omitempty"`
}

// @Title: Submit Transaction
// @Route: POST /api/tx
// @Description: Submit a signed transaction (mint, approve, list, buy, resell, transfer) and wait for it to be committed. Rejected transactions answer with the status matching their result code
// @Response: {"code": 0, "code_name": "ok", "hash": "...", "height": 7, "listing_id": "...", "events": [...]}
func (s *Service) HandleSubmitTx(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "Transaction too large")
		return
	}
	if _, err := types.DecodeSignedTransaction(body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid transaction: %v", err))
		return
	}

	resp, err := s.backend.BroadcastTxCommit(r.Context(), body)
	if err != nil {
		log.Errorf("broadcast: %v", err)
		s.logger.Error(fmt.Sprintf("Failed to submit transaction: %v", err))
		s.writeError(w, http.StatusBadGateway, "Failed to submit transaction")
		return
	}

	reply := TxReply{
		Code:      resp.Code,
		CodeName:  abci.CodeName(resp.Code),
		Log:       resp.Log,
		Hash:      resp.Hash,
		Height:    resp.Height,
		ListingID: resp.Result.ListingID,
		AssetID:   resp.Result.AssetID,
		Events:    resp.Events,
	}
	if !resp.OK() {
		s.logger.Warning(fmt.Sprintf("API: Transaction %s rejected: %s (%s)", shortHash(resp.Hash), reply.CodeName, resp.Log))
	} else {
		s.logger.Info(fmt.Sprintf("API: Transaction %s committed at height %d", shortHash(resp.Hash), resp.Height))
	}
	s.writeJSON(w, statusForCode(resp.Code), reply)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
