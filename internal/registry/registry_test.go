package registry

import (
	"errors"
	"testing"

	"marketplace.mini/mkt/internal/types"
)

const (
	market types.Address = "marketplace"
	alice  types.Address = "alice"
	bob    types.Address = "bob"
)

func mustRef(t *testing.T, doc string) string {
	t.Helper()
	ref, err := MetadataRefFor([]byte(doc))
	if err != nil {
		t.Fatalf("MetadataRefFor: %v", err)
	}
	return ref
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	r := New("pets", market)
	var events []types.Event
	r.SetEventSink(func(ev types.Event) { events = append(events, ev) })

	for want := uint64(1); want <= 3; want++ {
		id, err := r.Mint(alice, mustRef(t, `{"name":"pet"}`))
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if id != want {
			t.Errorf("Mint id = %d, want %d", id, want)
		}
	}
	if owner, _ := r.OwnerOf(2); owner != alice {
		t.Errorf("OwnerOf(2) = %s", owner)
	}
	if len(events) != 3 || events[0].Kind != types.EventMinted || events[0].Holder != alice {
		t.Errorf("Unexpected events %+v", events)
	}
}

func TestMintRejectsInvalidMetadataRef(t *testing.T) {
	r := New("pets", market)
	if _, err := r.Mint(alice, "https://example.com/pet.json"); err == nil {
		t.Fatal("Expected error for non-CID metadata ref")
	}
	if _, err := r.Mint("", mustRef(t, "x")); !errors.Is(err, ErrEmptyRecipient) {
		t.Fatalf("Expected ErrEmptyRecipient, got %v", err)
	}
}

func TestMetadataRefRoundTrip(t *testing.T) {
	ref := mustRef(t, `{"name":"Bored Pet #1"}`)
	parsed, err := ParseMetadataRef(ref)
	if err != nil {
		t.Fatalf("ParseMetadataRef: %v", err)
	}
	if parsed != ref {
		t.Errorf("Parsed %s, want %s", parsed, ref)
	}
	if other := mustRef(t, `{"name":"Bored Pet #2"}`); other == ref {
		t.Error("Different documents produced the same ref")
	}
	// CIDv0 references are accepted as well.
	if _, err := ParseMetadataRef("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"); err != nil {
		t.Errorf("CIDv0 rejected: %v", err)
	}
}

func TestTransferAuthorization(t *testing.T) {
	testCases := []struct {
		name     string
		setup    func(r *Registry)
		from     types.Address
		to       types.Address
		operator types.Address
		wantErr  error
	}{
		{name: "owner moves own asset", from: alice, to: bob, operator: alice},
		{name: "marketplace approved on mint", from: alice, to: market, operator: market},
		{name: "from is not owner", from: bob, to: market, operator: market, wantErr: ErrNotOwner},
		{name: "stranger operator", from: alice, to: bob, operator: "mallory", wantErr: ErrNotAuthorized},
		{name: "empty recipient", from: alice, to: "", operator: alice, wantErr: ErrEmptyRecipient},
		{
			name:     "single asset approval",
			setup:    func(r *Registry) { _ = r.Approve(alice, 1, "mallory") },
			from:     alice,
			to:       bob,
			operator: "mallory",
		},
		{
			name:     "revoked operator",
			setup:    func(r *Registry) { r.SetApprovalForAll(alice, market, false) },
			from:     alice,
			to:       market,
			operator: market,
			wantErr:  ErrNotAuthorized,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := New("pets", market)
			if _, err := r.Mint(alice, mustRef(t, "pet")); err != nil {
				t.Fatalf("Mint: %v", err)
			}
			if tc.setup != nil {
				tc.setup(r)
			}

			err := r.CanTransfer(1, tc.from, tc.to, tc.operator)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("CanTransfer = %v, want %v", err, tc.wantErr)
			}
			err = r.Transfer(1, tc.from, tc.to, tc.operator)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Transfer = %v, want %v", err, tc.wantErr)
			}
			owner, _ := r.OwnerOf(1)
			if tc.wantErr == nil && owner != tc.to {
				t.Errorf("Owner = %s, want %s", owner, tc.to)
			}
			if tc.wantErr != nil && owner != alice {
				t.Errorf("Owner changed to %s after rejected transfer", owner)
			}
		})
	}
}

func TestApprovalClearedOnTransfer(t *testing.T) {
	r := New("pets", "")
	if _, err := r.Mint(alice, mustRef(t, "pet")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := r.Approve(bob, 1, market); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Non-owner approve = %v", err)
	}
	if err := r.Approve(alice, 1, market); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := r.Transfer(1, alice, market, market); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := r.Transfer(1, market, bob, market); err != nil {
		t.Fatalf("Transfer from new owner: %v", err)
	}
	// Bob never approved the marketplace, so it cannot take the asset back.
	if err := r.CanTransfer(1, bob, market, market); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Expected ErrNotAuthorized, got %v", err)
	}
	if err := r.Approve(bob, 1, market); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := r.CanTransfer(1, bob, market, market); err != nil {
		t.Fatalf("CanTransfer after approve: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := New("pets", market)
	ref := mustRef(t, "pet")
	for i := 0; i < 2; i++ {
		if _, err := r.Mint(alice, ref); err != nil {
			t.Fatalf("Mint: %v", err)
		}
	}
	if err := r.Transfer(2, alice, bob, alice); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	state, assets, ops := r.Snapshot()
	restored := New("pets", market)
	restored.Restore(state, assets, ops)

	if got := restored.AssetsOf(bob); len(got) != 1 || got[0].ID != 2 || got[0].MetadataRef != ref {
		t.Errorf("AssetsOf(bob) = %+v", got)
	}
	if err := restored.CanTransfer(1, alice, market, market); err != nil {
		t.Errorf("Operator approval lost: %v", err)
	}
	id, err := restored.Mint(bob, ref)
	if err != nil {
		t.Fatalf("Mint after restore: %v", err)
	}
	if id != 3 {
		t.Errorf("Mint after restore = %d, want 3", id)
	}
}
