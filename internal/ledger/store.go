package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"marketplace.mini/mkt/internal/types"
)

// listingNamespace seeds the name-based listing ids. Ids must be identical on
// every replica, so they are derived from the record's position rather than
// drawn at random.
var listingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("marketplace.mini/listings"))

type idSet map[string]struct{}

// recordStore holds every listing keyed by id plus the secondary indices the
// queries read. It is not safe for concurrent use; Ledger guards it.
type recordStore struct {
	byID  map[string]*types.Listing
	order []string
	seq   uint64

	active   map[types.AssetKey]string // asset -> its one listed record
	latest   map[types.AssetKey]string // asset -> most recent record, listed or not
	bySeller map[types.Address]idSet   // seller -> listed records
	byHolder map[types.Address]idSet   // holder -> latest records it holds
}

func newRecordStore() *recordStore {
	return &recordStore{
		byID:     make(map[string]*types.Listing),
		active:   make(map[types.AssetKey]string),
		latest:   make(map[types.AssetKey]string),
		bySeller: make(map[types.Address]idSet),
		byHolder: make(map[types.Address]idSet),
	}
}

func listingID(key types.AssetKey, seq uint64) string {
	return uuid.NewSHA1(listingNamespace, []byte(fmt.Sprintf("%s#%d", key, seq))).String()
}

func (s *recordStore) activeListing(key types.AssetKey) (*types.Listing, bool) {
	id, ok := s.active[key]
	if !ok {
		return nil, false
	}
	return s.byID[id], true
}

// appendListing records a new sale cycle for key with the asset in escrow.
func (s *recordStore) appendListing(key types.AssetKey, seller, escrow types.Address, price uint64, height int64) types.Listing {
	s.seq++
	rec := &types.Listing{
		ID:            listingID(key, s.seq),
		Seq:           s.seq,
		ContractRef:   key.ContractRef,
		AssetID:       key.AssetID,
		Seller:        seller,
		Holder:        escrow,
		Price:         price,
		Listed:        true,
		PreviousID:    s.latest[key],
		CreatedHeight: height,
	}
	s.index(rec)
	return *rec
}

// index adds rec to every index. Callers guarantee rec is the newest record
// for its asset.
func (s *recordStore) index(rec *types.Listing) {
	key := rec.Key()
	if prevID, ok := s.latest[key]; ok {
		prev := s.byID[prevID]
		s.byHolder[prev.Holder].remove(prevID)
	}
	s.byID[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	s.latest[key] = rec.ID
	s.holderSet(rec.Holder).add(rec.ID)
	if rec.Listed {
		s.active[key] = rec.ID
		s.sellerSet(rec.Seller).add(rec.ID)
	}
}

// markSold performs the single permitted mutation of a record.
func (s *recordStore) markSold(id string, buyer types.Address, height int64) types.Listing {
	rec := s.byID[id]
	key := rec.Key()

	delete(s.active, key)
	s.bySeller[rec.Seller].remove(id)
	s.byHolder[rec.Holder].remove(id)

	rec.Listed = false
	rec.Holder = buyer
	rec.SoldHeight = height
	s.holderSet(buyer).add(id)
	return *rec
}

func (s *recordStore) get(id string) (types.Listing, bool) {
	rec, ok := s.byID[id]
	if !ok {
		return types.Listing{}, false
	}
	return *rec, true
}

func (s *recordStore) all() []types.Listing {
	out := make([]types.Listing, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// collect copies the records named by ids in insertion order.
func (s *recordStore) collect(ids []string) []types.Listing {
	out := make([]types.Listing, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *recordStore) activeIDs() []string {
	ids := make([]string, 0, len(s.active))
	for _, id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

func (s *recordStore) sellerSet(a types.Address) idSet {
	set, ok := s.bySeller[a]
	if !ok {
		set = make(idSet)
		s.bySeller[a] = set
	}
	return set
}

func (s *recordStore) holderSet(a types.Address) idSet {
	set, ok := s.byHolder[a]
	if !ok {
		set = make(idSet)
		s.byHolder[a] = set
	}
	return set
}

// replay rebuilds a store from persisted records.
func replay(records []types.Listing) (*recordStore, error) {
	sorted := make([]types.Listing, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	s := newRecordStore()
	for i := range sorted {
		rec := sorted[i]
		if rec.Seq <= s.seq {
			return nil, fmt.Errorf("listing %s: duplicate sequence %d", rec.ID, rec.Seq)
		}
		if rec.Price < 1 {
			return nil, fmt.Errorf("listing %s: %w", rec.ID, ErrInvalidPrice)
		}
		if _, dup := s.byID[rec.ID]; dup {
			return nil, fmt.Errorf("listing %s: duplicate id", rec.ID)
		}
		if rec.Listed {
			if other, ok := s.active[rec.Key()]; ok {
				return nil, fmt.Errorf("listing %s: asset %s already active in %s", rec.ID, rec.Key(), other)
			}
		}
		s.seq = rec.Seq
		s.index(&rec)
	}
	return s, nil
}

func (set idSet) add(id string) { set[id] = struct{}{} }

func (set idSet) remove(id string) { delete(set, id) }

func (set idSet) ids() []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
