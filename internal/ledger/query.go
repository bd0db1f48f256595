package ledger

import "marketplace.mini/mkt/internal/types"

// AllActiveListings returns every listed record in insertion order.
func (l *Ledger) AllActiveListings() []types.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.collect(l.records.activeIDs())
}

// MyActiveListings returns the listed records caller is selling.
func (l *Ledger) MyActiveListings(caller types.Address) []types.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.collect(l.records.bySeller[caller].ids())
}

// MyAssets returns the latest record of every asset caller holds through the
// ledger, listed or not. A record superseded by a later listing of the same
// asset is history, not a holding.
func (l *Ledger) MyAssets(caller types.Address) []types.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.collect(l.records.byHolder[caller].ids())
}

// ListingFee returns the fee charged by list and resell.
func (l *Ledger) ListingFee() uint64 {
	return l.cfg.ListingFee
}

// Get returns a single record by id.
func (l *Ledger) Get(id string) (types.Listing, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.get(id)
}

// Records returns every record in insertion order.
func (l *Ledger) Records() []types.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.all()
}
