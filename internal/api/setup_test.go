package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	tmabci "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/logger"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/store"
	"marketplace.mini/mkt/internal/types"
)

const testFee = 5

// testNonce hands out increasing nonces. Gaps are allowed, so every wallet
// can draw from the same counter.
var testNonce atomic.Uint64

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

func (w wallet) signed(t *testing.T, txType types.TransactionType, payload interface{}) *types.SignedTransaction {
	t.Helper()
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		t.Fatalf("build tx: %v", err)
	}
	tx.Nonce = testNonce.Add(1)
	stx, err := tx.Sign(w.id)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return stx
}

func (w wallet) tx(t *testing.T, txType types.TransactionType, payload interface{}) []byte {
	t.Helper()
	b, err := w.signed(t, txType, payload).Encode()
	if err != nil {
		t.Fatalf("encode tx: %v", err)
	}
	return b
}

type testEnv struct {
	svc    *Service
	app    *abci.ABCIApplication
	client *abci.LocalClient
	store  *store.Store
	logger *logger.Logger
	mux    *http.ServeMux
	alice  wallet
	bob    wallet
}

// setupTest creates a marketplace node backed by a temporary store, with
// alice and bob funded at genesis.
func setupTest(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "marketplace.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, alice: newWallet(t, "alice"), bob: newWallet(t, "bob")}
	env.app = abci.NewABCIApplication(abci.Options{Escrow: "marketplace", Operator: "operator", Persister: st})

	genesis, _ := json.Marshal(types.GenesisState{
		ListingFee: testFee,
		Contracts:  []string{"pets"},
		Balances:   map[types.Address]uint64{env.alice.addr: 100, env.bob.addr: 1000},
	})
	env.app.InitChain(tmabci.RequestInitChain{AppStateBytes: genesis})
	env.client = abci.NewLocalClient(env.app)

	env.logger = logger.New(100)
	env.svc = NewService(env.client, st, env.logger, Options{Mode: "local", BackupKeep: 5})
	env.mux = http.NewServeMux()
	env.svc.Register(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

// commit settles tx directly against the node and fails the test unless it
// is applied.
func (e *testEnv) commit(t *testing.T, tx []byte) *types.TxResponse {
	t.Helper()
	resp, err := e.client.BroadcastTxCommit(context.Background(), tx)
	if err != nil {
		t.Fatalf("BroadcastTxCommit: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("tx failed: code=%d (%s) log=%s", resp.Code, abci.CodeName(resp.Code), resp.Log)
	}
	return resp
}

func (e *testEnv) mintAndList(t *testing.T, w wallet, price uint64) (uint64, string) {
	t.Helper()
	ref, err := registry.MetadataRefFor([]byte(`{"name":"rex"}`))
	if err != nil {
		t.Fatalf("MetadataRefFor: %v", err)
	}
	minted := e.commit(t, w.tx(t, types.TxMint, types.MintPayload{ContractRef: "pets", MetadataRef: ref}))
	listed := e.commit(t, w.tx(t, types.TxList, types.ListPayload{
		ContractRef: "pets", AssetID: minted.Result.AssetID, Price: price, Value: testFee,
	}))
	return minted.Result.AssetID, listed.Result.ListingID
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}
