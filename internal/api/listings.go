package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/types"
)

// @Title: All Active Listings
// @Route: GET /api/listings
// @Description: Every listing currently for sale, oldest first
// @Response: Array of Listing objects
func (s *Service) HandleListings(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.query(w, r, abci.PathListings, nil)
}

// @Title: Listing History
// @Route: GET /api/listings/history
// @Description: Every listing record ever created, sold ones included, in ledger order
// @Response: Array of Listing objects
func (s *Service) HandleListingHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.query(w, r, abci.PathListingsHist, nil)
}

// @Title: My Active Listings
// @Route: GET /api/listings/mine?address=...
// @Description: Active listings whose seller is the given address
// @Response: Array of Listing objects
func (s *Service) HandleMyListings(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	s.query(w, r, abci.PathMyListings, []byte(addr))
}

// @Title: My Assets
// @Route: GET /api/assets/mine?address=...
// @Description: Latest listing records whose holder is the given address (assets bought through the marketplace)
// @Response: Array of Listing objects
func (s *Service) HandleMyAssets(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	s.query(w, r, abci.PathMyAssets, []byte(addr))
}

// @Title: Registry Holdings
// @Route: GET /api/assets/held?address=...
// @Description: Assets the registries record as owned by the given address, listed or not
// @Response: Array of Asset objects
func (s *Service) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	s.query(w, r, abci.PathHoldings, []byte(addr))
}

// @Title: Get Listing
// @Route: GET /api/listings/get?id=...
// @Description: One listing record by id, active or sold
// @Response: Listing object
func (s *Service) HandleListing(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return
	}
	s.query(w, r, abci.PathListing, []byte(id))
}

// @Title: Get Listing Fee
// @Route: GET /api/fee
// @Description: The fixed fee charged by list and resell, with the operator and escrow accounts
// @Response: {"listing_fee": 25000000, "operator": "...", "escrow": "..."}
func (s *Service) HandleFee(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.query(w, r, abci.PathFee, nil)
}

// @Title: Get Balance
// @Route: GET /api/balance?address=...
// @Description: Settlement balance of an account
// @Response: {"address": "...", "balance": 1000}
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	s.query(w, r, abci.PathBalance, []byte(addr))
}

// @Title: Get Nonce
// @Route: GET /api/nonce?address=...
// @Description: Lowest transaction nonce the account may sign next; lower nonces are rejected as replays
// @Response: {"address": "...", "nonce": 3}
func (s *Service) HandleNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(w, r)
	if !ok {
		return
	}
	s.query(w, r, abci.PathNonce, []byte(addr))
}

// @Title: Get Registry Asset
// @Route: GET /api/registry/asset?contract=...&id=...
// @Description: Registry record of one asset: owner, metadata reference and approval
// @Response: Asset object
func (s *Service) HandleRegistryAsset(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	contract := r.URL.Query().Get("contract")
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
	if contract == "" || err != nil {
		s.writeError(w, http.StatusBadRequest, "Missing or invalid 'contract' and 'id' parameters")
		return
	}
	key, _ := json.Marshal(types.AssetKey{ContractRef: contract, AssetID: id})
	s.query(w, r, abci.PathAsset, key)
}

func (s *Service) addressParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !s.allow(w, r, http.MethodGet) {
		return "", false
	}
	addr := r.URL.Query().Get("address")
	if addr == "" {
		s.writeError(w, http.StatusBadRequest, "Missing 'address' parameter")
		return "", false
	}
	return addr, true
}
