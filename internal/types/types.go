// Package types defines the core domain models for the marketplace node (mkt).
// It contains the Listing record kept by the ledger, the collectible Asset held
// by a registry, account addresses, and the state snapshot persisted on every
// commit.
package types

import "fmt"

// Version is the current version of mkt
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Address identifies an account. Wallets use the hex-encoded ed25519 public
// key; the escrow and operator accounts use configured names.
type Address string

// String implements fmt.Stringer
func (a Address) String() string { return string(a) }

// AssetKey identifies one asset across every registry the node serves.
type AssetKey struct {
	ContractRef string `json:"contract"`
	AssetID     uint64 `json:"asset_id"`
}

// String renders the key as "contract/asset_id".
func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%d", k.ContractRef, k.AssetID)
}

// Listing is one sale cycle of one asset. Records are appended by list and
// resell and mutated exactly once, by buy.
type Listing struct {
	ID            string  `json:"id"`                    // Deterministic UUID, stable for the record's lifetime
	Seq           uint64  `json:"seq"`                   // Ledger insertion order, starting at 1
	ContractRef   string  `json:"contract"`              // Registry the asset belongs to
	AssetID       uint64  `json:"asset_id"`              // Asset within that registry
	Seller        Address `json:"seller"`                // Party that supplied the asset into escrow
	Holder        Address `json:"holder"`                // Escrow while listed, buyer once sold
	Price         uint64  `json:"price"`                 // Smallest unit, never zero
	Listed        bool    `json:"listed"`                // True while for sale
	PreviousID    string  `json:"previous_id,omitempty"` // Record this one supersedes (resale provenance)
	CreatedHeight int64   `json:"created_height"`
	SoldHeight    int64   `json:"sold_height,omitempty"`
}

// Key returns the asset key of the listing.
func (l Listing) Key() AssetKey {
	return AssetKey{ContractRef: l.ContractRef, AssetID: l.AssetID}
}

// Asset is a unique collectible tracked by a registry.
type Asset struct {
	ContractRef string  `json:"contract"`
	ID          uint64  `json:"id"`
	Owner       Address `json:"owner"`
	MetadataRef string  `json:"metadata_ref"`       // CID of the metadata document
	Approved    Address `json:"approved,omitempty"` // Single-asset approval, cleared on transfer
}

// OperatorApproval grants Operator the right to move every asset Owner holds
// in one registry.
type OperatorApproval struct {
	ContractRef string  `json:"contract"`
	Owner       Address `json:"owner"`
	Operator    Address `json:"operator"`
}

// RegistryState carries the per-registry counters that are not derivable from
// the asset rows.
type RegistryState struct {
	ContractRef string `json:"contract"`
	NextID      uint64 `json:"next_id"`
}

// AppState is the full replicated state, written to the store on commit and
// hashed into the app hash.
type AppState struct {
	Height     int64              `json:"height"`
	AppHash    []byte             `json:"app_hash,omitempty"`
	ListingFee uint64             `json:"listing_fee"`
	Operator   Address            `json:"operator"`
	Escrow     Address            `json:"escrow"`
	Registries []RegistryState    `json:"registries"`
	Listings   []Listing          `json:"listings"`
	Assets     []Asset            `json:"assets"`
	Operators  []OperatorApproval `json:"operators"`
	Balances   map[Address]uint64 `json:"balances"`
	Nonces     map[Address]uint64 `json:"nonces"` // next accepted nonce per signer
}

// GenesisState is the app_state document consumed by InitChain.
type GenesisState struct {
	ListingFee uint64             `json:"listing_fee"`
	Operator   Address            `json:"operator,omitempty"`
	Escrow     Address            `json:"escrow,omitempty"`
	Contracts  []string           `json:"contracts,omitempty"`
	Balances   map[Address]uint64 `json:"balances,omitempty"`
}
