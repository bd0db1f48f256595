package types

import (
	"strconv"
	"strings"
)

// EventKind names a marketplace event.
type EventKind string

const (
	EventListed EventKind = "Listed"
	EventSold   EventKind = "Sold"
	EventMinted EventKind = "Minted"
)

// Event is emitted for every successful state transition callers may want to
// observe. Listed carries the escrow as Holder, Sold carries the buyer.
type Event struct {
	Kind        EventKind `json:"kind"`
	ContractRef string    `json:"contract"`
	AssetID     uint64    `json:"asset_id"`
	ListingID   string    `json:"listing_id,omitempty"`
	Seller      Address   `json:"seller,omitempty"`
	Holder      Address   `json:"holder,omitempty"`
	Price       uint64    `json:"price,omitempty"`
	Paid        uint64    `json:"paid,omitempty"` // Sold only: full attached value forwarded to the seller
	MetadataRef string    `json:"metadata_ref,omitempty"`
	Height      int64     `json:"height,omitempty"`
}

// EventSink receives events as they are produced.
type EventSink func(Event)

// EventType returns the lowercase event type used for ABCI events.
func (k EventKind) EventType() string {
	return strings.ToLower(string(k))
}

// KindForEventType maps an ABCI event type back to its kind.
func KindForEventType(t string) (EventKind, bool) {
	for _, k := range []EventKind{EventListed, EventSold, EventMinted} {
		if k.EventType() == t {
			return k, true
		}
	}
	return "", false
}

// Attributes flattens the event into ordered key/value pairs. Empty fields
// are omitted.
func (e Event) Attributes() [][2]string {
	attrs := [][2]string{
		{"contract", e.ContractRef},
		{"asset_id", strconv.FormatUint(e.AssetID, 10)},
	}
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, [2]string{k, v})
		}
	}
	add("listing_id", e.ListingID)
	add("seller", string(e.Seller))
	add("holder", string(e.Holder))
	if e.Price > 0 {
		add("price", strconv.FormatUint(e.Price, 10))
	}
	if e.Paid > 0 {
		add("paid", strconv.FormatUint(e.Paid, 10))
	}
	add("metadata_ref", e.MetadataRef)
	if e.Height > 0 {
		add("height", strconv.FormatInt(e.Height, 10))
	}
	return attrs
}

// EventFromAttributes rebuilds an event from the pairs produced by
// Attributes. Unknown keys are ignored.
func EventFromAttributes(kind EventKind, attrs map[string]string) Event {
	ev := Event{
		Kind:        kind,
		ContractRef: attrs["contract"],
		ListingID:   attrs["listing_id"],
		Seller:      Address(attrs["seller"]),
		Holder:      Address(attrs["holder"]),
		MetadataRef: attrs["metadata_ref"],
	}
	ev.AssetID, _ = strconv.ParseUint(attrs["asset_id"], 10, 64)
	ev.Price, _ = strconv.ParseUint(attrs["price"], 10, 64)
	ev.Paid, _ = strconv.ParseUint(attrs["paid"], 10, 64)
	ev.Height, _ = strconv.ParseInt(attrs["height"], 10, 64)
	return ev
}
