package abci

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	tmabci "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/store"
	"marketplace.mini/mkt/internal/types"
)

const (
	testFee    = 5
	testEscrow = types.Address("marketplace")
	testOp     = types.Address("operator")
)

type wallet struct {
	id   *identity.Identity
	addr types.Address
}

func newWallet(t *testing.T, name string) wallet {
	t.Helper()
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), name+".pem"))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity %s: %v", name, err)
	}
	return wallet{id: id, addr: types.Address(id.PublicKeyHex())}
}

// testNonce only ever grows, so every wallet signs increasing nonces in the
// order its transactions are built.
var testNonce atomic.Uint64

func (w wallet) tx(t *testing.T, txType types.TransactionType, payload interface{}) []byte {
	t.Helper()
	return w.txAt(t, testNonce.Add(1), txType, payload)
}

func (w wallet) txAt(t *testing.T, nonce uint64, txType types.TransactionType, payload interface{}) []byte {
	t.Helper()
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	tx.Nonce = nonce
	stx, err := tx.Sign(w.id)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	b, err := stx.Encode()
	if err != nil {
		t.Fatalf("encode tx: %v", err)
	}
	return b
}

type memPersister struct {
	states []types.AppState
}

func (p *memPersister) SaveState(s types.AppState) error {
	p.states = append(p.states, s)
	return nil
}

type testNode struct {
	app    *ABCIApplication
	client *LocalClient
	store  *memPersister
	events []types.Event
}

func newTestNode(t *testing.T, balances map[types.Address]uint64) *testNode {
	t.Helper()
	n := &testNode{store: &memPersister{}}
	n.app = NewABCIApplication(Options{Escrow: testEscrow, Operator: testOp, Persister: n.store})
	n.app.EventHandler = func(ev types.Event) { n.events = append(n.events, ev) }

	genesis, err := json.Marshal(types.GenesisState{
		ListingFee: testFee,
		Contracts:  []string{"pets", "robots"},
		Balances:   balances,
	})
	if err != nil {
		t.Fatalf("marshal genesis: %v", err)
	}
	n.app.InitChain(tmabci.RequestInitChain{AppStateBytes: genesis})
	n.client = NewLocalClient(n.app)
	return n
}

func (n *testNode) submit(t *testing.T, tx []byte) *types.TxResponse {
	t.Helper()
	resp, err := n.client.BroadcastTxCommit(context.Background(), tx)
	if err != nil {
		t.Fatalf("BroadcastTxCommit: %v", err)
	}
	return resp
}

func (n *testNode) mustSubmit(t *testing.T, tx []byte) *types.TxResponse {
	t.Helper()
	resp := n.submit(t, tx)
	if !resp.OK() {
		t.Fatalf("tx failed: code=%d (%s) log=%s", resp.Code, CodeName(resp.Code), resp.Log)
	}
	return resp
}

func (n *testNode) query(t *testing.T, path string, data []byte, v interface{}) {
	t.Helper()
	b, err := n.client.ABCIQuery(context.Background(), path, data)
	if err != nil {
		t.Fatalf("query %s: %v", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func (n *testNode) balance(t *testing.T, a types.Address) uint64 {
	t.Helper()
	var info BalanceInfo
	n.query(t, PathBalance, []byte(a), &info)
	return info.Balance
}

func metadataRef(t *testing.T, name string) string {
	t.Helper()
	ref, err := registry.MetadataRefFor([]byte(`{"name":"` + name + `"}`))
	if err != nil {
		t.Fatalf("MetadataRefFor: %v", err)
	}
	return ref
}

func (n *testNode) mint(t *testing.T, w wallet, contract string) uint64 {
	t.Helper()
	resp := n.mustSubmit(t, w.tx(t, types.TxMint, types.MintPayload{ContractRef: contract, MetadataRef: metadataRef(t, "pet")}))
	return resp.Result.AssetID
}

func TestCheckTxRejectsInvalidSignature(t *testing.T) {
	a, b := newWallet(t, "a"), newWallet(t, "b")

	tx, _ := types.NewTransaction(types.TxTransfer, types.TransferPayload{To: b.addr, Amount: 1})
	stx, err := tx.Sign(b.id)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	// Claim to be A while carrying B's signature.
	stx.PublicKey = a.id.PublicKey()
	txBytes, _ := json.Marshal(stx)

	app := NewABCIApplication(Options{})
	resp := app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes})
	if resp.Code != CodeTypeAuthError {
		t.Fatalf("CheckTx code = %d, want %d", resp.Code, CodeTypeAuthError)
	}
}

func TestCheckTxValidation(t *testing.T) {
	w := newWallet(t, "w")
	app := NewABCIApplication(Options{})

	testCases := []struct {
		name string
		tx   []byte
		want uint32
	}{
		{name: "not json", tx: []byte("garbage"), want: CodeTypeEncodingError},
		{name: "valid list", tx: w.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: 1, Price: 10, Value: 5}), want: CodeTypeOK},
		{name: "zero price is left to the ledger", tx: w.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: 1, Price: 0, Value: 5}), want: CodeTypeOK},
		{name: "value out of range", tx: w.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: 1, Value: types.MaxAmount + 1}), want: CodeTypeInvalidTx},
		{name: "list value out of range", tx: w.tx(t, types.TxResell, types.ListPayload{ContractRef: "pets", AssetID: 1, Price: 1, Value: math.MaxUint64}), want: CodeTypeInvalidTx},
		{name: "transfer amount out of range", tx: w.tx(t, types.TxTransfer, types.TransferPayload{To: "bob", Amount: types.MaxAmount + 1}), want: CodeTypeInvalidTx},
		{name: "nonce out of range", tx: w.txAt(t, math.MaxUint64, types.TxTransfer, types.TransferPayload{To: "bob", Amount: 1}), want: CodeTypeInvalidTx},
		{name: "bad metadata ref", tx: w.tx(t, types.TxMint, types.MintPayload{ContractRef: "pets", MetadataRef: "ipfs://nope"}), want: CodeTypeInvalidTx},
		{name: "unknown type", tx: w.tx(t, "auction", map[string]string{}), want: CodeTypeInvalidTx},
		{name: "empty transfer", tx: w.tx(t, types.TxTransfer, types.TransferPayload{}), want: CodeTypeInvalidTx},
		{name: "payload type mismatch", tx: w.tx(t, types.TxBuy, map[string]string{"asset_id": "one"}), want: CodeTypeEncodingError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := app.CheckTx(tmabci.RequestCheckTx{Tx: tc.tx})
			if resp.Code != tc.want {
				t.Fatalf("code = %d (%s), want %d; log=%s", resp.Code, CodeName(resp.Code), tc.want, resp.Log)
			}
		})
	}
}

func TestMarketplaceFlow(t *testing.T) {
	seller, buyer := newWallet(t, "seller"), newWallet(t, "buyer")
	n := newTestNode(t, map[types.Address]uint64{seller.addr: 50, buyer.addr: 500})

	assetID := n.mint(t, seller, "pets")
	if assetID != 1 {
		t.Fatalf("first asset id = %d", assetID)
	}

	listed := n.mustSubmit(t, seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: assetID, Price: 100, Value: testFee}))
	if listed.Result.ListingID == "" {
		t.Fatal("list returned no listing id")
	}
	if len(listed.Events) != 1 || listed.Events[0].Kind != types.EventListed || listed.Events[0].Holder != testEscrow {
		t.Fatalf("list events = %+v", listed.Events)
	}

	var active []types.Listing
	n.query(t, PathListings, nil, &active)
	if len(active) != 1 || active[0].Price != 100 || !active[0].Listed || active[0].Holder != testEscrow {
		t.Fatalf("active listings = %+v", active)
	}

	sold := n.mustSubmit(t, buyer.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: assetID, Value: 100}))
	if sold.Result.ListingID != listed.Result.ListingID {
		t.Errorf("buy listing id = %s, want %s", sold.Result.ListingID, listed.Result.ListingID)
	}
	if len(sold.Events) != 1 || sold.Events[0].Kind != types.EventSold || sold.Events[0].Holder != buyer.addr {
		t.Fatalf("buy events = %+v", sold.Events)
	}

	if got := n.balance(t, seller.addr); got != 50-testFee+100 {
		t.Errorf("seller balance = %d, want %d", got, 50-testFee+100)
	}
	if got := n.balance(t, buyer.addr); got != 400 {
		t.Errorf("buyer balance = %d, want 400", got)
	}
	if got := n.balance(t, testOp); got != testFee {
		t.Errorf("operator balance = %d, want %d", got, testFee)
	}

	n.query(t, PathListings, nil, &active)
	if len(active) != 0 {
		t.Errorf("expected no active listings, got %d", len(active))
	}
	var mine []types.Listing
	n.query(t, PathMyAssets, []byte(buyer.addr), &mine)
	if len(mine) != 1 || mine[0].AssetID != assetID || mine[0].Listed {
		t.Fatalf("buyer assets = %+v", mine)
	}
	var holdings []types.Asset
	n.query(t, PathHoldings, []byte(buyer.addr), &holdings)
	if len(holdings) != 1 || holdings[0].Owner != buyer.addr {
		t.Fatalf("buyer holdings = %+v", holdings)
	}

	kinds := make([]types.EventKind, 0, len(n.events))
	for _, ev := range n.events {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 3 || kinds[0] != types.EventMinted || kinds[1] != types.EventListed || kinds[2] != types.EventSold {
		t.Errorf("event handler saw %v", kinds)
	}
}

// Buying an asset does not approve the marketplace for it, so a resale needs
// an explicit approval first.
func TestResellRequiresApproval(t *testing.T) {
	seller, buyer := newWallet(t, "seller"), newWallet(t, "buyer")
	n := newTestNode(t, map[types.Address]uint64{seller.addr: 50, buyer.addr: 500})

	id := n.mint(t, seller, "pets")
	n.mustSubmit(t, seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: id, Price: 100, Value: testFee}))
	n.mustSubmit(t, buyer.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: id, Value: 100}))

	resell := types.ListPayload{ContractRef: "pets", AssetID: id, Price: 200, Value: testFee}
	resp := n.submit(t, buyer.tx(t, types.TxResell, resell))
	if resp.Code != CodeTypeTransferRejected {
		t.Fatalf("resell without approval: code=%d log=%s", resp.Code, resp.Log)
	}
	if got := n.balance(t, buyer.addr); got != 400 {
		t.Errorf("failed resell charged the buyer: balance %d", got)
	}

	n.mustSubmit(t, buyer.tx(t, types.TxApprove, types.ApprovePayload{ContractRef: "pets", AssetID: id, Operator: testEscrow}))
	resold := n.mustSubmit(t, buyer.tx(t, types.TxResell, resell))

	var rec types.Listing
	n.query(t, PathListing, []byte(resold.Result.ListingID), &rec)
	if rec.Seller != buyer.addr || rec.Price != 200 || !rec.Listed {
		t.Errorf("resale record = %+v", rec)
	}
	var history []types.Listing
	n.query(t, PathListingsHist, nil, &history)
	if len(history) != 2 || rec.PreviousID != history[0].ID {
		t.Errorf("history = %+v", history)
	}
}

func TestDeliverTxErrorCodes(t *testing.T) {
	seller, buyer, poor := newWallet(t, "seller"), newWallet(t, "buyer"), newWallet(t, "poor")
	n := newTestNode(t, map[types.Address]uint64{seller.addr: 50, buyer.addr: 500, poor.addr: 1})

	listed := n.mint(t, seller, "pets")
	unlisted := n.mint(t, seller, "pets")
	n.mustSubmit(t, seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: listed, Price: 100, Value: testFee}))

	testCases := []struct {
		name string
		tx   []byte
		want uint32
	}{
		{
			name: "insufficient fee",
			tx:   seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: unlisted, Price: 10, Value: testFee - 1}),
			want: CodeTypeInsufficientFee,
		},
		{
			name: "insufficient payment",
			tx:   buyer.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: listed, Value: 99}),
			want: CodeTypeInsufficientPayment,
		},
		{
			name: "no active listing",
			tx:   buyer.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: unlisted, Value: 100}),
			want: CodeTypeNoActiveListing,
		},
		{
			name: "listing someone else's asset",
			tx:   buyer.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: unlisted, Price: 10, Value: testFee}),
			want: CodeTypeTransferRejected,
		},
		{
			name: "attached value exceeds balance",
			tx:   poor.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: listed, Value: 100}),
			want: CodeTypeInsufficientFunds,
		},
		{
			name: "unknown contract",
			tx:   seller.tx(t, types.TxMint, types.MintPayload{ContractRef: "cars", MetadataRef: metadataRef(t, "car")}),
			want: CodeTypeUnknownContract,
		},
		{
			name: "unknown contract on list",
			tx:   seller.tx(t, types.TxList, types.ListPayload{ContractRef: "cars", AssetID: 1, Price: 10, Value: testFee}),
			want: CodeTypeUnknownContract,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := n.app.Snapshot().Balances
			resp := n.submit(t, tc.tx)
			if resp.Code != tc.want {
				t.Fatalf("code = %d (%s), want %d; log=%s", resp.Code, CodeName(resp.Code), tc.want, resp.Log)
			}
			after := n.app.Snapshot().Balances
			if len(before) != len(after) {
				t.Fatalf("balances changed: %v -> %v", before, after)
			}
			for addr, v := range before {
				if after[addr] != v {
					t.Errorf("balance of %s changed: %d -> %d", addr, v, after[addr])
				}
			}
		})
	}
}

func TestCommitPersistsAndRestores(t *testing.T) {
	seller, buyer := newWallet(t, "seller"), newWallet(t, "buyer")
	n := newTestNode(t, map[types.Address]uint64{seller.addr: 50, buyer.addr: 500})

	id := n.mint(t, seller, "robots")
	n.mustSubmit(t, seller.tx(t, types.TxList, types.ListPayload{ContractRef: "robots", AssetID: id, Price: 42, Value: testFee}))

	if len(n.store.states) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(n.store.states))
	}
	saved := n.store.states[len(n.store.states)-1]
	if saved.Height != 2 || len(saved.AppHash) == 0 {
		t.Fatalf("saved state height=%d hash=%x", saved.Height, saved.AppHash)
	}

	restored := NewABCIApplication(Options{})
	if err := restored.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	info := restored.Info(tmabci.RequestInfo{})
	if info.LastBlockHeight != 2 || string(info.LastBlockAppHash) != string(saved.AppHash) {
		t.Errorf("Info after restore = %+v", info)
	}

	// The restored node continues where the original left off.
	client := NewLocalClient(restored)
	resp, err := client.BroadcastTxCommit(context.Background(),
		buyer.tx(t, types.TxBuy, types.BuyPayload{ContractRef: "robots", AssetID: id, Value: 42}))
	if err != nil || !resp.OK() {
		t.Fatalf("buy on restored node: %v %+v", err, resp)
	}
	if resp.Height != 3 {
		t.Errorf("height = %d, want 3", resp.Height)
	}
	if got := restored.Snapshot().Balances[seller.addr]; got != 50-testFee+42 {
		t.Errorf("seller balance = %d", got)
	}
}

func TestAppHashIsDeterministic(t *testing.T) {
	seller := newWallet(t, "seller")
	balances := map[types.Address]uint64{seller.addr: 50}
	mintTx := seller.tx(t, types.TxMint, types.MintPayload{ContractRef: "pets", MetadataRef: metadataRef(t, "pet")})
	listTx := seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: 1, Price: 7, Value: testFee})

	var hashes [2][]byte
	for i := range hashes {
		n := newTestNode(t, balances)
		n.mustSubmit(t, mintTx)
		n.mustSubmit(t, listTx)
		hashes[i] = n.app.Info(tmabci.RequestInfo{}).LastBlockAppHash
	}
	if string(hashes[0]) != string(hashes[1]) {
		t.Errorf("replicas diverged: %x vs %x", hashes[0], hashes[1])
	}
}

func TestQueryErrors(t *testing.T) {
	n := newTestNode(t, nil)
	testCases := []struct {
		path string
		data []byte
		want uint32
	}{
		{path: PathListing, data: []byte("missing"), want: CodeTypeNotFound},
		{path: PathAsset, data: []byte(`{"contract":"pets","asset_id":9}`), want: CodeTypeNotFound},
		{path: PathAsset, data: []byte(`{"contract":"cars","asset_id":1}`), want: CodeTypeUnknownContract},
		{path: PathAsset, data: []byte(`nope`), want: CodeTypeEncodingError},
		{path: "/nothing", want: CodeTypeInvalidTx},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp := n.app.Query(tmabci.RequestQuery{Path: tc.path, Data: tc.data})
			if resp.Code != tc.want {
				t.Fatalf("code = %d, want %d (%s)", resp.Code, tc.want, resp.Log)
			}
		})
	}

	var fee FeeInfo
	n.query(t, PathFee, nil, &fee)
	if fee.ListingFee != testFee || fee.Operator != testOp || fee.Escrow != testEscrow {
		t.Errorf("fee info = %+v", fee)
	}
}

func TestLocalClientHonoursCancelledContext(t *testing.T) {
	n := newTestNode(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if _, err := n.client.BroadcastTxCommit(ctx, []byte("x")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestReplayedTransactionIsRejected(t *testing.T) {
	alice, bob := newWallet(t, "alice"), newWallet(t, "bob")
	n := newTestNode(t, map[types.Address]uint64{alice.addr: 100})

	tx := alice.tx(t, types.TxTransfer, types.TransferPayload{To: bob.addr, Amount: 40})
	n.mustSubmit(t, tx)

	again := n.submit(t, tx)
	if again.Code != CodeTypeAuthError {
		t.Fatalf("replay: code=%d (%s), want %d", again.Code, CodeName(again.Code), CodeTypeAuthError)
	}
	if got := n.balance(t, alice.addr); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := n.balance(t, bob.addr); got != 40 {
		t.Errorf("bob balance = %d, want 40", got)
	}
	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: tx}); resp.Code != CodeTypeAuthError {
		t.Errorf("CheckTx on a spent nonce: code=%d", resp.Code)
	}
}

func TestNonceRules(t *testing.T) {
	alice, bob := newWallet(t, "alice"), newWallet(t, "bob")
	n := newTestNode(t, map[types.Address]uint64{alice.addr: 100})

	var info NonceInfo
	n.query(t, PathNonce, []byte(alice.addr), &info)
	if info.Nonce != 0 {
		t.Fatalf("fresh account nonce = %d", info.Nonce)
	}

	// Gaps are allowed; anything at or below a spent nonce is not.
	n.mustSubmit(t, alice.txAt(t, 5, types.TxTransfer, types.TransferPayload{To: bob.addr, Amount: 1}))
	n.query(t, PathNonce, []byte(alice.addr), &info)
	if info.Nonce != 6 {
		t.Fatalf("nonce after 5 = %d, want 6", info.Nonce)
	}
	if resp := n.submit(t, alice.txAt(t, 3, types.TxTransfer, types.TransferPayload{To: bob.addr, Amount: 1})); resp.Code != CodeTypeAuthError {
		t.Fatalf("stale nonce: code=%d", resp.Code)
	}

	// A rejected delivery still spends its nonce.
	buy := alice.txAt(t, 6, types.TxBuy, types.BuyPayload{ContractRef: "pets", AssetID: 1, Value: 10})
	if resp := n.submit(t, buy); resp.Code != CodeTypeNoActiveListing {
		t.Fatalf("buy with nothing listed: code=%d", resp.Code)
	}
	if resp := n.submit(t, buy); resp.Code != CodeTypeAuthError {
		t.Fatalf("replayed failed buy: code=%d", resp.Code)
	}

	// Nonces are per signer.
	n.query(t, PathNonce, []byte(bob.addr), &info)
	if info.Nonce != 0 {
		t.Fatalf("bob nonce = %d, want 0", info.Nonce)
	}

	restored := NewABCIApplication(Options{})
	if err := restored.Restore(n.app.Snapshot()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if resp := restored.CheckTx(tmabci.RequestCheckTx{Tx: buy}); resp.Code != CodeTypeAuthError {
		t.Fatalf("restored node accepted a spent nonce: code=%d", resp.Code)
	}
}

func TestListChecksFeeBeforePrice(t *testing.T) {
	seller := newWallet(t, "seller")
	n := newTestNode(t, map[types.Address]uint64{seller.addr: 50})
	id := n.mint(t, seller, "pets")

	testCases := []struct {
		name  string
		price uint64
		value uint64
		want  uint32
	}{
		{name: "no fee and no price", price: 0, value: 0, want: CodeTypeInsufficientFee},
		{name: "fee paid, zero price", price: 0, value: testFee, want: CodeTypeInvalidPrice},
		{name: "fee paid, price too large", price: types.MaxAmount + 1, value: testFee, want: CodeTypeInvalidPrice},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := n.submit(t, seller.tx(t, types.TxList, types.ListPayload{ContractRef: "pets", AssetID: id, Price: tc.price, Value: tc.value}))
			if resp.Code != tc.want {
				t.Fatalf("code = %d (%s), want %d; log=%s", resp.Code, CodeName(resp.Code), tc.want, resp.Log)
			}
			if got := n.balance(t, seller.addr); got != 50 {
				t.Errorf("seller balance = %d after a rejected list", got)
			}
		})
	}
}

// An oversized price must be refused before it reaches the state database,
// otherwise every later commit would fail to save.
func TestOversizedPriceNeverReachesStore(t *testing.T) {
	seller := newWallet(t, "seller")
	st, err := store.NewStore(filepath.Join(t.TempDir(), "marketplace.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	app := NewABCIApplication(Options{Escrow: testEscrow, Operator: testOp, Persister: st})
	if err := app.ApplyGenesis(types.GenesisState{
		ListingFee: testFee,
		Contracts:  []string{"pets"},
		Balances:   map[types.Address]uint64{seller.addr: 50},
	}); err != nil {
		t.Fatalf("ApplyGenesis: %v", err)
	}
	client := NewLocalClient(app)
	submit := func(tx []byte) *types.TxResponse {
		t.Helper()
		resp, err := client.BroadcastTxCommit(context.Background(), tx)
		if err != nil {
			t.Fatalf("BroadcastTxCommit: %v", err)
		}
		return resp
	}

	minted := submit(seller.tx(t, types.TxMint, types.MintPayload{ContractRef: "pets", MetadataRef: metadataRef(t, "a")}))
	list := submit(seller.tx(t, types.TxList, types.ListPayload{
		ContractRef: "pets", AssetID: minted.Result.AssetID, Price: math.MaxInt64 + 1, Value: testFee,
	}))
	if list.Code != CodeTypeInvalidPrice {
		t.Fatalf("oversized list: code=%d (%s) log=%s", list.Code, CodeName(list.Code), list.Log)
	}
	if resp := submit(seller.tx(t, types.TxMint, types.MintPayload{ContractRef: "pets", MetadataRef: metadataRef(t, "b")})); !resp.OK() {
		t.Fatalf("mint after rejected list: %+v", resp)
	}

	state, ok, err := st.LoadState()
	if err != nil || !ok {
		t.Fatalf("LoadState: ok=%v err=%v", ok, err)
	}
	if state.Height != app.Height() {
		t.Fatalf("persisted height %d, app height %d", state.Height, app.Height())
	}
	if len(state.Listings) != 0 || state.Nonces[seller.addr] == 0 {
		t.Fatalf("unexpected persisted state: listings=%d nonces=%v", len(state.Listings), state.Nonces)
	}
}
