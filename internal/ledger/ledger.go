// Package ledger implements the marketplace listing ledger: the append-only
// record of every sale cycle, the escrow and fee rules applied when an asset
// is listed or bought, and the read views over active listings and holdings.
//
// The ledger never moves custody itself. Asset transfers go through the
// AssetRegistry registered for the listing's contract ref and payments go
// through the ValueTransfer collaborator. All mutations run inside a single
// critical section so concurrent callers observe each operation atomically.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("ledger")

// AssetRegistry is the custody authority for one contract ref.
type AssetRegistry interface {
	OwnerOf(assetID uint64) (types.Address, error)
	// CanTransfer reports whether Transfer with the same arguments would
	// succeed, without changing anything.
	CanTransfer(assetID uint64, from, to, operator types.Address) error
	Transfer(assetID uint64, from, to, operator types.Address) error
}

// ValueTransfer moves value between accounts. The settlement layer deposits
// the caller's attached value with the escrow account before an operation
// runs, so every payment the ledger makes is drawn from escrow.
type ValueTransfer interface {
	Transfer(from, to types.Address, amount uint64) error
}

// Config holds the ledger's fixed parameters.
type Config struct {
	ListingFee uint64
	Escrow     types.Address // custodial identity holding listed assets
	Operator   types.Address // receives listing fees
}

// Ledger is the listing ledger.
type Ledger struct {
	mu         sync.Mutex
	cfg        Config
	registries map[string]AssetRegistry
	payments   ValueTransfer
	records    *recordStore
	sink       types.EventSink
	height     int64
}

// New creates an empty ledger.
func New(cfg Config, payments ValueTransfer) *Ledger {
	return &Ledger{
		cfg:        cfg,
		registries: make(map[string]AssetRegistry),
		payments:   payments,
		records:    newRecordStore(),
	}
}

// RegisterRegistry makes assets of contractRef listable.
func (l *Ledger) RegisterRegistry(contractRef string, r AssetRegistry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registries[contractRef] = r
}

// SetEventSink installs the receiver of Listed and Sold events. The sink is
// called while the ledger lock is held and must not call back into the
// ledger.
func (l *Ledger) SetEventSink(sink types.EventSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// SetHeight sets the block height stamped on records created or sold from
// now on.
func (l *Ledger) SetHeight(h int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height = h
}

// Config returns the ledger parameters.
func (l *Ledger) Config() Config {
	return l.cfg
}

// List places an asset the caller owns into escrow for price. value is the
// amount attached to the call and must cover the listing fee; any excess is
// forfeited to escrow. It returns the new listing id.
func (l *Ledger) List(contractRef string, assetID, price uint64, caller types.Address, value uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.place("list", contractRef, assetID, price, caller, value)
}

// Resell lists an asset the caller bought earlier. The mechanism is the same
// as List; the new record points back at the sale it follows.
func (l *Ledger) Resell(contractRef string, assetID, price uint64, caller types.Address, value uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.place("resell", contractRef, assetID, price, caller, value)
}

func (l *Ledger) place(op, contractRef string, assetID, price uint64, caller types.Address, value uint64) (string, error) {
	if value < l.cfg.ListingFee {
		return "", fmt.Errorf("%s: %w: attached %d, fee %d", op, ErrInsufficientFee, value, l.cfg.ListingFee)
	}
	if price < 1 || price > types.MaxAmount {
		return "", fmt.Errorf("%s: %w: %d", op, ErrInvalidPrice, price)
	}

	key := types.AssetKey{ContractRef: contractRef, AssetID: assetID}
	if existing, ok := l.records.activeListing(key); ok {
		return "", fmt.Errorf("%s: %w: %s is already listed as %s", op, ErrTransferRejected, key, existing.ID)
	}
	reg, err := l.registry(contractRef)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	owner, err := reg.OwnerOf(assetID)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrTransferRejected, err)
	}
	if owner != caller {
		return "", fmt.Errorf("%s: %w: %s is owned by %s", op, ErrTransferRejected, key, owner)
	}

	escrow := l.cfg.Escrow
	if err := reg.CanTransfer(assetID, caller, escrow, escrow); err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrTransferRejected, err)
	}
	// The fee moves before custody: a registry transfer clears the asset's
	// single approval and cannot be undone exactly.
	if err := l.collectFee(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := reg.Transfer(assetID, caller, escrow, escrow); err != nil {
		return "", l.compensate(fmt.Errorf("%s: %w: %v", op, ErrTransferRejected, err), l.refundFee)
	}

	rec := l.records.appendListing(key, caller, escrow, price, l.height)
	log.Infof("%s: %s by %s at %d as %s", op, key, caller, price, rec.ID)
	l.emit(types.Event{
		Kind:        types.EventListed,
		ContractRef: contractRef,
		AssetID:     assetID,
		ListingID:   rec.ID,
		Seller:      rec.Seller,
		Holder:      rec.Holder,
		Price:       rec.Price,
		Height:      l.height,
	})
	return rec.ID, nil
}

// Buy purchases the active listing for an asset. value must cover the price
// and is forwarded to the seller in full, including any overpayment. It
// returns the id of the listing that was sold.
func (l *Ledger) Buy(contractRef string, assetID uint64, caller types.Address, value uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := types.AssetKey{ContractRef: contractRef, AssetID: assetID}
	rec, ok := l.records.activeListing(key)
	if !ok {
		return "", fmt.Errorf("buy: %w: %s", ErrNoActiveListing, key)
	}
	if value < rec.Price {
		return "", fmt.Errorf("buy: %w: attached %d, price %d", ErrInsufficientPayment, value, rec.Price)
	}
	reg, err := l.registry(contractRef)
	if err != nil {
		return "", fmt.Errorf("buy: %w", err)
	}

	escrow := l.cfg.Escrow
	if err := reg.CanTransfer(assetID, escrow, caller, escrow); err != nil {
		return "", fmt.Errorf("buy: %w: %v", ErrTransferRejected, err)
	}
	if err := l.paySeller(rec.Seller, value); err != nil {
		return "", fmt.Errorf("buy: %w", err)
	}
	if err := reg.Transfer(assetID, escrow, caller, escrow); err != nil {
		seller := rec.Seller
		return "", l.compensate(fmt.Errorf("buy: %w: %v", ErrTransferRejected, err), func() error {
			return l.refundSeller(seller, value)
		})
	}

	sold := l.records.markSold(rec.ID, caller, l.height)
	log.Infof("buy: %s by %s for %d (price %d) from %s", key, caller, value, sold.Price, sold.Seller)
	l.emit(types.Event{
		Kind:        types.EventSold,
		ContractRef: contractRef,
		AssetID:     assetID,
		ListingID:   sold.ID,
		Seller:      sold.Seller,
		Holder:      caller,
		Price:       sold.Price,
		Paid:        value,
		Height:      l.height,
	})
	return sold.ID, nil
}

// Restore replaces the ledger's records with a persisted set and rebuilds
// every index.
func (l *Ledger) Restore(records []types.Listing) error {
	s, err := replay(records)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = s
	return nil
}

func (l *Ledger) registry(contractRef string) (AssetRegistry, error) {
	reg, ok := l.registries[contractRef]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrTransferRejected, ErrUnknownContract, contractRef)
	}
	return reg, nil
}

// compensate runs undo after a collaborator failed mid-operation. A failed
// undo is joined onto cause so the caller sees both.
func (l *Ledger) compensate(cause error, undo func() error) error {
	if err := undo(); err != nil {
		log.Errorf("compensation failed after %v: %v", cause, err)
		return errors.Join(cause, fmt.Errorf("compensation failed: %w", err))
	}
	return cause
}

func (l *Ledger) emit(ev types.Event) {
	if l.sink != nil {
		l.sink(ev)
	}
}
