// Package registry is the in-process asset registry: it mints collectibles,
// tracks their owners and approvals, and performs the owner-authorized custody
// transfers the listing ledger delegates to it. One Registry serves one
// contract ref.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("registry")

var (
	ErrNoSuchAsset    = errors.New("asset does not exist")
	ErrNotOwner       = errors.New("from is not the asset owner")
	ErrNotAuthorized  = errors.New("operator is not owner, approved or an approved operator")
	ErrEmptyRecipient = errors.New("transfer to empty address")
)

// Registry holds every asset of one contract ref.
type Registry struct {
	mu          sync.Mutex
	contractRef string
	marketplace types.Address // approved for all on every mint
	nextID      uint64
	assets      map[uint64]*types.Asset
	operators   map[types.Address]map[types.Address]bool
	sink        types.EventSink
}

// New creates an empty registry. When marketplace is non-empty every minter
// approves it as operator for all of their assets, so freshly minted assets
// can be listed without a separate approval.
func New(contractRef string, marketplace types.Address) *Registry {
	return &Registry{
		contractRef: contractRef,
		marketplace: marketplace,
		nextID:      1,
		assets:      make(map[uint64]*types.Asset),
		operators:   make(map[types.Address]map[types.Address]bool),
	}
}

// ContractRef returns the contract ref this registry serves.
func (r *Registry) ContractRef() string { return r.contractRef }

// SetEventSink installs the receiver of Minted events.
func (r *Registry) SetEventSink(sink types.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Mint creates a new asset owned by owner. metadataRef must be a CID.
func (r *Registry) Mint(owner types.Address, metadataRef string) (uint64, error) {
	if owner == "" {
		return 0, ErrEmptyRecipient
	}
	ref, err := ParseMetadataRef(metadataRef)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.assets[id] = &types.Asset{ContractRef: r.contractRef, ID: id, Owner: owner, MetadataRef: ref}
	if r.marketplace != "" {
		r.setApprovalForAll(owner, r.marketplace, true)
	}
	log.Debugf("minted %s/%d for %s", r.contractRef, id, owner)
	if r.sink != nil {
		r.sink(types.Event{Kind: types.EventMinted, ContractRef: r.contractRef, AssetID: id, Holder: owner, MetadataRef: ref})
	}
	return id, nil
}

// OwnerOf returns the current owner of an asset.
func (r *Registry) OwnerOf(assetID uint64) (types.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%d", ErrNoSuchAsset, r.contractRef, assetID)
	}
	return a.Owner, nil
}

// Asset returns a copy of an asset.
func (r *Registry) Asset(assetID uint64) (types.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetID]
	if !ok {
		return types.Asset{}, fmt.Errorf("%w: %s/%d", ErrNoSuchAsset, r.contractRef, assetID)
	}
	return *a, nil
}

// AssetsOf returns the assets owner currently holds, by id.
func (r *Registry) AssetsOf(owner types.Address) []types.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Asset
	for _, a := range r.assets {
		if a.Owner == owner {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Approve lets operator move one asset until the next transfer. Only the
// owner may approve.
func (r *Registry) Approve(owner types.Address, assetID uint64, operator types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrNoSuchAsset, r.contractRef, assetID)
	}
	if a.Owner != owner {
		return fmt.Errorf("approve: %w", ErrNotOwner)
	}
	a.Approved = operator
	return nil
}

// SetApprovalForAll grants or revokes operator's right over all of owner's
// assets.
func (r *Registry) SetApprovalForAll(owner, operator types.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setApprovalForAll(owner, operator, approved)
}

func (r *Registry) setApprovalForAll(owner, operator types.Address, approved bool) {
	ops, ok := r.operators[owner]
	if !ok {
		ops = make(map[types.Address]bool)
		r.operators[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

// CanTransfer reports whether Transfer would succeed.
func (r *Registry) CanTransfer(assetID uint64, from, to, operator types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.authorize(assetID, from, to, operator)
	return err
}

// Transfer moves an asset from its owner to to on behalf of operator.
func (r *Registry) Transfer(assetID uint64, from, to, operator types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, err := r.authorize(assetID, from, to, operator)
	if err != nil {
		return err
	}
	a.Owner = to
	a.Approved = ""
	return nil
}

func (r *Registry) authorize(assetID uint64, from, to, operator types.Address) (*types.Asset, error) {
	a, ok := r.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNoSuchAsset, r.contractRef, assetID)
	}
	if a.Owner != from {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotOwner, r.contractRef, assetID)
	}
	if to == "" {
		return nil, ErrEmptyRecipient
	}
	if operator != from && a.Approved != operator && !r.operators[from][operator] {
		return nil, fmt.Errorf("%w: %s for %s/%d", ErrNotAuthorized, operator, r.contractRef, assetID)
	}
	return a, nil
}

// Snapshot returns the registry's persistent state.
func (r *Registry) Snapshot() (types.RegistryState, []types.Asset, []types.OperatorApproval) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assets := make([]types.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		assets = append(assets, *a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })

	var ops []types.OperatorApproval
	for owner, set := range r.operators {
		for op := range set {
			ops = append(ops, types.OperatorApproval{ContractRef: r.contractRef, Owner: owner, Operator: op})
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Owner != ops[j].Owner {
			return ops[i].Owner < ops[j].Owner
		}
		return ops[i].Operator < ops[j].Operator
	})
	return types.RegistryState{ContractRef: r.contractRef, NextID: r.nextID}, assets, ops
}

// Restore replaces the registry's contents. Rows for other contract refs are
// ignored.
func (r *Registry) Restore(state types.RegistryState, assets []types.Asset, ops []types.OperatorApproval) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID = state.NextID
	if r.nextID == 0 {
		r.nextID = 1
	}
	r.assets = make(map[uint64]*types.Asset)
	for _, a := range assets {
		if a.ContractRef != r.contractRef {
			continue
		}
		a := a
		r.assets[a.ID] = &a
		if a.ID >= r.nextID {
			r.nextID = a.ID + 1
		}
	}
	r.operators = make(map[types.Address]map[types.Address]bool)
	for _, op := range ops {
		if op.ContractRef == r.contractRef {
			r.setApprovalForAll(op.Owner, op.Operator, true)
		}
	}
}
