package abci

import (
	"encoding/json"
	"fmt"

	"github.com/multiformats/go-multihash"

	"marketplace.mini/mkt/internal/types"
)

// Snapshot returns the full application state as last delivered.
func (app *ABCIApplication) Snapshot() types.AppState {
	app.mu.RLock()
	defer app.mu.RUnlock()
	state := app.snapshot()
	state.AppHash = app.appHash
	return state
}

func (app *ABCIApplication) snapshot() types.AppState {
	state := types.AppState{
		Height:     app.height,
		ListingFee: app.opts.ListingFee,
		Operator:   app.opts.Operator,
		Escrow:     app.opts.Escrow,
		Listings:   app.ledger.Records(),
		Balances:   app.bank.Snapshot(),
		Nonces:     make(map[types.Address]uint64, len(app.nonces)),
	}
	for a, n := range app.nonces {
		state.Nonces[a] = n
	}
	for _, ref := range app.opts.Contracts {
		rs, assets, ops := app.registries[ref].Snapshot()
		state.Registries = append(state.Registries, rs)
		state.Assets = append(state.Assets, assets...)
		state.Operators = append(state.Operators, ops...)
	}
	return state
}

// Restore loads a persisted state into a freshly created application.
func (app *ABCIApplication) Restore(state types.AppState) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	opts := app.opts
	opts.ListingFee = state.ListingFee
	if state.Operator != "" {
		opts.Operator = state.Operator
	}
	if state.Escrow != "" {
		opts.Escrow = state.Escrow
	}
	if len(state.Registries) > 0 {
		opts.Contracts = opts.Contracts[:0:0]
		for _, rs := range state.Registries {
			opts.Contracts = append(opts.Contracts, rs.ContractRef)
		}
	}
	app.configure(opts)

	for _, rs := range state.Registries {
		app.registries[rs.ContractRef].Restore(rs, state.Assets, state.Operators)
	}
	if err := app.ledger.Restore(state.Listings); err != nil {
		return fmt.Errorf("restore listings: %w", err)
	}
	app.bank.Restore(state.Balances)
	app.nonces = make(map[types.Address]uint64, len(state.Nonces))
	for a, n := range state.Nonces {
		app.nonces[a] = n
	}
	app.height = state.Height
	app.block = state.Height
	app.appHash = state.AppHash
	log.Infof("restored state at height %d: %d listings, %d assets, %d accounts",
		state.Height, len(state.Listings), len(state.Assets), len(state.Balances))
	return nil
}

// hashState returns the sha2-256 multihash of the state's JSON encoding.
// Every slice in the snapshot is ordered and encoding/json sorts map keys, so
// equal states hash equally on every replica.
func hashState(state types.AppState) ([]byte, error) {
	state.AppHash = nil
	b, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return nil, err
	}
	return mh, nil
}
