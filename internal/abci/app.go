// Package abci contains the ABCI application that settles marketplace
// transactions. It verifies signatures (CheckTx), executes mint, approve,
// list, buy, resell and transfer transactions strictly one at a time
// (DeliverTx), answers read queries (Query) and hands the committed state to
// the store (Commit). Attached value is escrowed before the listing ledger
// runs and refunded when the ledger rejects the call, so a failed transaction
// has no effect.
package abci

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	abci "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/bank"
	"marketplace.mini/mkt/internal/ledger"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("abci")

// Persister receives the full state after every commit.
type Persister interface {
	SaveState(state types.AppState) error
}

// Options configure a new application. Genesis app state passed to
// InitChain overrides the economic parameters.
type Options struct {
	ListingFee uint64
	Escrow     types.Address
	Operator   types.Address
	Contracts  []string
	Persister  Persister
}

// ABCIApplication implements the ABCI interface.
type ABCIApplication struct {
	abci.BaseApplication

	mu         sync.RWMutex
	opts       Options
	ledger     *ledger.Ledger
	bank       *bank.Bank
	registries map[string]*registry.Registry
	height     int64 // last committed height
	block      int64 // height of the block being delivered
	appHash    []byte
	pending    []types.Event
	nonces     map[types.Address]uint64 // next accepted nonce per signer

	// EventHandler is an optional callback invoked with each event of a
	// successfully delivered transaction. The web layer uses it to push live
	// updates; tests use it to observe events.
	EventHandler func(types.Event)
}

// NewABCIApplication creates an application with empty state.
func NewABCIApplication(opts Options) *ABCIApplication {
	if opts.Escrow == "" {
		opts.Escrow = "marketplace"
	}
	if opts.Operator == "" {
		opts.Operator = opts.Escrow
	}
	app := &ABCIApplication{bank: bank.New(), nonces: make(map[types.Address]uint64)}
	app.configure(opts)
	return app
}

// configure rebuilds the ledger and registries for opts. Existing registry
// contents are dropped, so it is only called before any transaction.
func (app *ABCIApplication) configure(opts Options) {
	contracts := append([]string(nil), opts.Contracts...)
	if len(contracts) == 0 {
		contracts = []string{"pets"}
	}
	sort.Strings(contracts)
	opts.Contracts = contracts

	app.opts = opts
	app.ledger = ledger.New(ledger.Config{
		ListingFee: opts.ListingFee,
		Escrow:     opts.Escrow,
		Operator:   opts.Operator,
	}, app.bank)
	app.ledger.SetEventSink(app.collect)

	app.registries = make(map[string]*registry.Registry, len(contracts))
	for _, ref := range contracts {
		reg := registry.New(ref, opts.Escrow)
		reg.SetEventSink(app.collect)
		app.registries[ref] = reg
		app.ledger.RegisterRegistry(ref, reg)
	}
}

func (app *ABCIApplication) collect(ev types.Event) {
	if ev.Height == 0 {
		ev.Height = app.block
	}
	app.pending = append(app.pending, ev)
}

// Ledger exposes the listing ledger for in-process readers.
func (app *ABCIApplication) Ledger() *ledger.Ledger {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.ledger
}

// Height returns the last committed height.
func (app *ABCIApplication) Height() int64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.height
}

func (app *ABCIApplication) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return abci.ResponseInfo{
		Data:             "mkt",
		Version:          types.Version,
		AppVersion:       1,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

// InitChain applies the genesis app state: economic parameters, contracts
// and opening balances.
func (app *ABCIApplication) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	if len(req.AppStateBytes) == 0 {
		return abci.ResponseInitChain{}
	}
	var genesis types.GenesisState
	if err := json.Unmarshal(req.AppStateBytes, &genesis); err != nil {
		// Tendermint offers no error channel here; refuse to start.
		panic(fmt.Sprintf("invalid genesis app state: %v", err))
	}
	if err := app.ApplyGenesis(genesis); err != nil {
		panic(fmt.Sprintf("apply genesis: %v", err))
	}
	return abci.ResponseInitChain{}
}

// ApplyGenesis configures a fresh application from a genesis document.
func (app *ABCIApplication) ApplyGenesis(genesis types.GenesisState) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	opts := app.opts
	opts.ListingFee = genesis.ListingFee
	if genesis.Escrow != "" {
		opts.Escrow = genesis.Escrow
	}
	if genesis.Operator != "" {
		opts.Operator = genesis.Operator
	}
	if len(genesis.Contracts) > 0 {
		opts.Contracts = genesis.Contracts
	}
	app.configure(opts)

	for addr, amount := range genesis.Balances {
		if err := app.bank.Credit(addr, amount); err != nil {
			return fmt.Errorf("credit %s: %w", addr, err)
		}
	}
	log.Infof("genesis applied: fee=%d operator=%s escrow=%s contracts=%v accounts=%d",
		opts.ListingFee, opts.Operator, opts.Escrow, opts.Contracts, len(genesis.Balances))
	return nil
}

func (app *ABCIApplication) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.block = req.Header.Height
	app.ledger.SetHeight(req.Header.Height)
	return abci.ResponseBeginBlock{}
}

func (app *ABCIApplication) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	stx, tx, err := decodeTx(req.Tx)
	if err != nil {
		return abci.ResponseCheckTx{Code: codeFor(err), Log: err.Error()}
	}
	if err := validate(tx); err != nil {
		return abci.ResponseCheckTx{Code: codeFor(err), Log: err.Error()}
	}
	app.mu.RLock()
	err = app.checkNonce(stx.Signer(), tx.Nonce)
	app.mu.RUnlock()
	if err != nil {
		return abci.ResponseCheckTx{Code: codeFor(err), Log: err.Error()}
	}
	log.Debugf("check %s from %s ok", tx.Type, stx.Signer())
	return abci.ResponseCheckTx{Code: CodeTypeOK}
}

func (app *ABCIApplication) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	stx, tx, err := decodeTx(req.Tx)
	if err != nil {
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error()}
	}
	if err := validate(tx); err != nil {
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error()}
	}

	app.mu.Lock()
	caller := stx.Signer()
	if err := app.checkNonce(caller, tx.Nonce); err != nil {
		app.mu.Unlock()
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error()}
	}
	// A delivered nonce is spent even when the transaction is rejected, so
	// a failed buy cannot be replayed once the buyer has funds.
	app.nonces[caller] = tx.Nonce + 1
	app.pending = app.pending[:0]
	result, err := app.execute(caller, tx)
	events := append([]types.Event(nil), app.pending...)
	app.pending = app.pending[:0]
	app.mu.Unlock()

	if err != nil {
		log.Infof("deliver %s from %s rejected: %v", tx.Type, caller, err)
		return abci.ResponseDeliverTx{Code: codeFor(err), Log: err.Error()}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return abci.ResponseDeliverTx{Code: CodeTypeEncodingError, Log: err.Error()}
	}
	if app.EventHandler != nil {
		for _, ev := range events {
			app.EventHandler(ev)
		}
	}
	return abci.ResponseDeliverTx{Code: CodeTypeOK, Data: data, Events: toABCIEvents(events)}
}

// execute applies one transaction. The caller holds app.mu.
func (app *ABCIApplication) execute(caller types.Address, tx *types.Transaction) (types.TxResult, error) {
	switch tx.Type {
	case types.TxMint:
		var p types.MintPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return types.TxResult{}, fmt.Errorf("%w: %v", errEncoding, err)
		}
		reg, err := app.registry(p.ContractRef)
		if err != nil {
			return types.TxResult{}, err
		}
		id, err := reg.Mint(caller, p.MetadataRef)
		if err != nil {
			return types.TxResult{}, err
		}
		return types.TxResult{AssetID: id}, nil

	case types.TxApprove:
		var p types.ApprovePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return types.TxResult{}, fmt.Errorf("%w: %v", errEncoding, err)
		}
		reg, err := app.registry(p.ContractRef)
		if err != nil {
			return types.TxResult{}, err
		}
		if err := reg.Approve(caller, p.AssetID, p.Operator); err != nil {
			return types.TxResult{}, err
		}
		return types.TxResult{AssetID: p.AssetID}, nil

	case types.TxList, types.TxResell:
		var p types.ListPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return types.TxResult{}, fmt.Errorf("%w: %v", errEncoding, err)
		}
		op := app.ledger.List
		if tx.Type == types.TxResell {
			op = app.ledger.Resell
		}
		id, err := app.withValue(caller, p.Value, func() (string, error) {
			return op(p.ContractRef, p.AssetID, p.Price, caller, p.Value)
		})
		if err != nil {
			return types.TxResult{}, err
		}
		return types.TxResult{ListingID: id, AssetID: p.AssetID}, nil

	case types.TxBuy:
		var p types.BuyPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return types.TxResult{}, fmt.Errorf("%w: %v", errEncoding, err)
		}
		id, err := app.withValue(caller, p.Value, func() (string, error) {
			return app.ledger.Buy(p.ContractRef, p.AssetID, caller, p.Value)
		})
		if err != nil {
			return types.TxResult{}, err
		}
		return types.TxResult{ListingID: id, AssetID: p.AssetID}, nil

	case types.TxTransfer:
		var p types.TransferPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return types.TxResult{}, fmt.Errorf("%w: %v", errEncoding, err)
		}
		return types.TxResult{}, app.bank.Transfer(caller, p.To, p.Amount)
	}
	return types.TxResult{}, fmt.Errorf("%w: unknown transaction type %q", errInvalidTx, tx.Type)
}

// withValue escrows the caller's attached value for the duration of op and
// returns it when op fails.
func (app *ABCIApplication) withValue(caller types.Address, value uint64, op func() (string, error)) (string, error) {
	escrow := app.opts.Escrow
	if err := app.bank.Transfer(caller, escrow, value); err != nil {
		return "", err
	}
	id, err := op()
	if err != nil {
		if rerr := app.bank.Transfer(escrow, caller, value); rerr != nil {
			log.Errorf("refund of %d to %s failed: %v", value, caller, rerr)
		}
		return "", err
	}
	return id, nil
}

// checkNonce rejects a nonce below the signer's next one. Gaps are allowed.
// The caller holds app.mu.
func (app *ABCIApplication) checkNonce(signer types.Address, nonce uint64) error {
	if next := app.nonces[signer]; nonce < next {
		return fmt.Errorf("%w: %s signed nonce %d, next is %d", errNonce, signer, nonce, next)
	}
	return nil
}

func (app *ABCIApplication) registry(contractRef string) (*registry.Registry, error) {
	reg, ok := app.registries[contractRef]
	if !ok {
		return nil, fmt.Errorf("%w %q", ledger.ErrUnknownContract, contractRef)
	}
	return reg, nil
}

// Commit persists the state delivered since the last commit and returns the
// new app hash.
func (app *ABCIApplication) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.block > app.height {
		app.height = app.block
	} else {
		app.height++
	}
	state := app.snapshot()
	hash, err := hashState(state)
	if err != nil {
		panic(fmt.Sprintf("hash state: %v", err))
	}
	state.AppHash = hash
	app.appHash = hash

	if app.opts.Persister != nil {
		if err := app.opts.Persister.SaveState(state); err != nil {
			// Tendermint replays blocks after the last persisted height on
			// restart, so a failed save is recoverable.
			log.Errorf("persist state at height %d: %v", app.height, err)
		}
	}
	return abci.ResponseCommit{Data: hash}
}
