package tendermint

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/types"
)

type rpcRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// rpcServer answers JSON-RPC POSTs with handler's result.
func rpcServer(t *testing.T, handler func(req rpcRequest) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			result, rerr := handler(rpcRequest{Method: r.URL.Path[1:], Params: map[string]interface{}{"hash": r.URL.Query().Get("hash")}})
			writeRPC(w, result, rerr)
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rerr := handler(req)
		writeRPC(w, result, rerr)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRPC(w http.ResponseWriter, result interface{}, rerr *rpcError) {
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1}
	if rerr != nil {
		body["error"] = rerr
	} else {
		body["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func soldEvent() map[string]interface{} {
	return map[string]interface{}{
		"type": "sold",
		"attributes": []map[string]interface{}{
			{"key": b64("contract"), "value": b64("pets"), "index": true},
			{"key": b64("asset_id"), "value": b64("4"), "index": true},
			{"key": b64("listing_id"), "value": b64("abc"), "index": true},
			{"key": b64("price"), "value": b64("100"), "index": true},
			{"key": b64("paid"), "value": b64("120"), "index": true},
		},
	}
}

func TestBroadcastTxCommit(t *testing.T) {
	tx := []byte(`{"signed":"tx"}`)
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method != "broadcast_tx_commit" {
			t.Errorf("unexpected method %q", req.Method)
		}
		if got := req.Params["tx"]; got != base64.StdEncoding.EncodeToString(tx) {
			t.Errorf("tx not base64 encoded: %v", got)
		}
		return map[string]interface{}{
			"check_tx": map[string]interface{}{"code": 0, "gas_wanted": "0"},
			"deliver_tx": map[string]interface{}{
				"code":       0,
				"data":       b64(`{"listing_id":"abc","asset_id":4}`),
				"gas_wanted": "0",
				"events":     []interface{}{soldEvent(), map[string]interface{}{"type": "transfer"}},
			},
			"hash":   "ABCDEF",
			"height": "42",
		}, nil
	})

	resp, err := NewBroadcastClient(srv.URL).BroadcastTxCommit(context.Background(), tx)
	if err != nil {
		t.Fatalf("BroadcastTxCommit: %v", err)
	}
	if !resp.OK() || resp.Height != 42 || resp.Hash != "ABCDEF" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Result.ListingID != "abc" || resp.Result.AssetID != 4 {
		t.Fatalf("unexpected result %+v", resp.Result)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected only the sold event, got %+v", resp.Events)
	}
	ev := resp.Events[0]
	if ev.Kind != types.EventSold || ev.Price != 100 || ev.Paid != 120 || ev.AssetID != 4 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestBroadcastTxCommitReportsApplicationCodes(t *testing.T) {
	tests := []struct {
		name     string
		result   map[string]interface{}
		wantCode uint32
		wantLog  string
	}{
		{
			name: "check rejected",
			result: map[string]interface{}{
				"check_tx":   map[string]interface{}{"code": abci.CodeTypeAuthError, "log": "invalid signature"},
				"deliver_tx": map[string]interface{}{},
				"hash":       "01",
				"height":     "0",
			},
			wantCode: abci.CodeTypeAuthError,
			wantLog:  "invalid signature",
		},
		{
			name: "deliver rejected",
			result: map[string]interface{}{
				"check_tx":   map[string]interface{}{},
				"deliver_tx": map[string]interface{}{"code": abci.CodeTypeNoActiveListing, "log": "no active listing"},
				"hash":       "02",
				"height":     "7",
			},
			wantCode: abci.CodeTypeNoActiveListing,
			wantLog:  "no active listing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, func(rpcRequest) (interface{}, *rpcError) { return tt.result, nil })
			resp, err := NewBroadcastClient(srv.URL).BroadcastTxCommit(context.Background(), []byte("tx"))
			if err != nil {
				t.Fatalf("BroadcastTxCommit: %v", err)
			}
			if resp.Code != tt.wantCode || resp.Log != tt.wantLog {
				t.Fatalf("got code=%d log=%q, want %d %q", resp.Code, resp.Log, tt.wantCode, tt.wantLog)
			}
			if len(resp.Events) != 0 {
				t.Fatalf("rejected tx must not carry events")
			}
		})
	}
}

func TestBroadcastRPCError(t *testing.T) {
	srv := rpcServer(t, func(rpcRequest) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32603, Message: "Internal error", Data: "tx already exists in cache"}
	})
	_, err := NewBroadcastClient(srv.URL).BroadcastTxSync(context.Background(), []byte("tx"))
	var rerr *rpcError
	if !errors.As(err, &rerr) || rerr.Data != "tx already exists in cache" {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestBroadcastTxSync(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method != "broadcast_tx_sync" {
			t.Errorf("unexpected method %q", req.Method)
		}
		return map[string]interface{}{"code": 0, "hash": "FFEE"}, nil
	})
	resp, err := NewBroadcastClient(srv.URL).BroadcastTxSync(context.Background(), []byte("tx"))
	if err != nil {
		t.Fatalf("BroadcastTxSync: %v", err)
	}
	if !resp.OK() || resp.Hash != "FFEE" || resp.Height != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestABCIQuery(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method != "abci_query" {
			t.Errorf("unexpected method %q", req.Method)
		}
		data, _ := hex.DecodeString(req.Params["data"].(string))
		switch req.Params["path"] {
		case abci.PathBalance:
			if string(data) != "alice" {
				t.Errorf("data not hex encoded: %v", req.Params["data"])
			}
			return map[string]interface{}{"response": map[string]interface{}{
				"code": 0, "value": b64(`{"address":"alice","balance":10}`), "height": "3",
			}}, nil
		default:
			return map[string]interface{}{"response": map[string]interface{}{
				"code": abci.CodeTypeNotFound, "log": "not found", "height": "3",
			}}, nil
		}
	})

	client := NewBroadcastClient(srv.URL + "/")
	value, err := client.ABCIQuery(context.Background(), abci.PathBalance, []byte("alice"))
	if err != nil {
		t.Fatalf("ABCIQuery: %v", err)
	}
	var info abci.BalanceInfo
	if err := json.Unmarshal(value, &info); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if info.Balance != 10 {
		t.Fatalf("unexpected balance %+v", info)
	}

	_, err = client.ABCIQuery(context.Background(), abci.PathListing, []byte("missing"))
	var qerr *types.QueryError
	if !errors.As(err, &qerr) || qerr.Code != abci.CodeTypeNotFound {
		t.Fatalf("expected query error, got %v", err)
	}
}

func TestQueryTx(t *testing.T) {
	srv := rpcServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		if req.Method != "tx" || req.Params["hash"] != "0xabcdef" {
			t.Errorf("unexpected lookup %q %v", req.Method, req.Params)
		}
		return map[string]interface{}{
			"hash":   "ABCDEF",
			"height": "9",
			"tx_result": map[string]interface{}{
				"code":   0,
				"data":   b64(`{"listing_id":"abc","asset_id":4}`),
				"events": []interface{}{soldEvent()},
			},
		}, nil
	})

	client := NewBroadcastClient(srv.URL)
	resp, err := client.QueryTx(context.Background(), "0xABCDEF")
	if err != nil {
		t.Fatalf("QueryTx: %v", err)
	}
	if resp.Height != 9 || resp.Result.ListingID != "abc" || len(resp.Events) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if _, err := client.QueryTx(context.Background(), "not-hex"); err == nil {
		t.Fatalf("expected error for malformed hash")
	}
}

func TestBroadcastHonoursContext(t *testing.T) {
	srv := rpcServer(t, func(rpcRequest) (interface{}, *rpcError) { return map[string]interface{}{}, nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewBroadcastClient(srv.URL).BroadcastTxCommit(ctx, []byte("tx")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSetGenesisAppState(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(home, "config", "genesis.json")
	original := `{"chain_id":"test-chain","validators":[],"app_state":{}}`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	genesis := types.GenesisState{
		ListingFee: 5,
		Operator:   "operator",
		Contracts:  []string{"pets"},
		Balances:   map[types.Address]uint64{"alice": 1000},
	}
	if err := SetGenesisAppState(home, genesis); err != nil {
		t.Fatalf("SetGenesisAppState: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read genesis: %v", err)
	}
	var doc struct {
		ChainID  string             `json:"chain_id"`
		AppState types.GenesisState `json:"app_state"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse genesis: %v", err)
	}
	if doc.ChainID != "test-chain" {
		t.Fatalf("chain id lost: %q", doc.ChainID)
	}
	if doc.AppState.ListingFee != 5 || doc.AppState.Balances["alice"] != 1000 {
		t.Fatalf("unexpected app state %+v", doc.AppState)
	}

	if err := SetGenesisAppState(t.TempDir(), genesis); err == nil {
		t.Fatalf("expected error for missing genesis file")
	}
}

func TestUnixPath(t *testing.T) {
	tests := []struct {
		addr   string
		want   string
		wantOK bool
	}{
		{"unix://mkt.sock", "mkt.sock", true},
		{"unix:///tmp/mkt.sock", "/tmp/mkt.sock", true},
		{"tcp://127.0.0.1:26658", "", false},
	}
	for _, tt := range tests {
		got, ok := unixPath(tt.addr)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("unixPath(%q) = %q, %v; want %q, %v", tt.addr, got, ok, tt.want, tt.wantOK)
		}
	}
}
