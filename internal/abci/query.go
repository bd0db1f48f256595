package abci

import (
	"encoding/json"
	"fmt"

	abci "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/types"
)

// Query paths served by the application. Data carries the argument: an
// address, a listing id or a JSON asset key.
const (
	PathListings     = "/listings"
	PathMyListings   = "/listings/mine"
	PathMyAssets     = "/assets/mine"
	PathListing      = "/listings/get"
	PathFee          = "/fee"
	PathBalance      = "/balance"
	PathAsset        = "/assets/get"
	PathHoldings     = "/holdings"
	PathListingsHist = "/listings/history"
	PathNonce        = "/nonce"
)

// FeeInfo answers PathFee.
type FeeInfo struct {
	ListingFee uint64        `json:"listing_fee"`
	Operator   types.Address `json:"operator"`
	Escrow     types.Address `json:"escrow"`
}

// NonceInfo answers PathNonce. Nonce is the lowest nonce the address can
// sign its next transaction with.
type NonceInfo struct {
	Address types.Address `json:"address"`
	Nonce   uint64        `json:"nonce"`
}

// BalanceInfo answers PathBalance.
type BalanceInfo struct {
	Address types.Address `json:"address"`
	Balance uint64        `json:"balance"`
}

func (app *ABCIApplication) Query(req abci.RequestQuery) abci.ResponseQuery {
	app.mu.RLock()
	defer app.mu.RUnlock()

	v, err := app.query(req.Path, req.Data)
	if err != nil {
		return abci.ResponseQuery{Code: codeFor(err), Log: err.Error(), Height: app.height}
	}
	value, err := json.Marshal(v)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error(), Height: app.height}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Key: req.Data, Value: value, Height: app.height}
}

func (app *ABCIApplication) query(path string, data []byte) (interface{}, error) {
	switch path {
	case PathListings:
		return app.ledger.AllActiveListings(), nil
	case PathListingsHist:
		return app.ledger.Records(), nil
	case PathMyListings:
		return app.ledger.MyActiveListings(types.Address(data)), nil
	case PathMyAssets:
		return app.ledger.MyAssets(types.Address(data)), nil
	case PathListing:
		rec, ok := app.ledger.Get(string(data))
		if !ok {
			return nil, fmt.Errorf("%w: listing %q", errNotFound, data)
		}
		return rec, nil
	case PathFee:
		return FeeInfo{ListingFee: app.ledger.ListingFee(), Operator: app.opts.Operator, Escrow: app.opts.Escrow}, nil
	case PathBalance:
		addr := types.Address(data)
		return BalanceInfo{Address: addr, Balance: app.bank.Balance(addr)}, nil
	case PathNonce:
		addr := types.Address(data)
		return NonceInfo{Address: addr, Nonce: app.nonces[addr]}, nil
	case PathAsset:
		var key types.AssetKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("%w: asset key: %v", errEncoding, err)
		}
		reg, err := app.registry(key.ContractRef)
		if err != nil {
			return nil, err
		}
		asset, err := reg.Asset(key.AssetID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNotFound, err)
		}
		return asset, nil
	case PathHoldings:
		holdings := []types.Asset{}
		for _, ref := range app.opts.Contracts {
			holdings = append(holdings, app.registries[ref].AssetsOf(types.Address(data))...)
		}
		return holdings, nil
	}
	return nil, fmt.Errorf("%w: unknown query path %q", errInvalidTx, path)
}
