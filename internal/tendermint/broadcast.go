// Package tendermint - Transaction broadcasting via Tendermint RPC
//
// This file submits signed marketplace transactions to a Tendermint node and
// reads state back through abci_query. BroadcastClient satisfies the same
// submit/query contract as the in-process abci.LocalClient, so the API layer
// does not care which mode the node runs in.
package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	abcitypes "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/types"
)

// BroadcastClient wraps the Tendermint JSON-RPC endpoint.
type BroadcastClient struct {
	rpcAddr string
	client  *http.Client
}

// NewBroadcastClient creates a new Tendermint RPC client for transaction broadcasting.
//
// Parameters:
//   - rpcAddr: Tendermint RPC address (e.g., "http://localhost:26657")
func NewBroadcastClient(rpcAddr string) *BroadcastClient {
	if rpcAddr == "" {
		rpcAddr = "http://localhost:26657"
	}

	return &BroadcastClient{
		rpcAddr: strings.TrimRight(rpcAddr, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, e.Data)
}

// txResult holds the fields of a CheckTx/DeliverTx result the client reads.
// The abci response types are not decoded directly because the RPC encodes
// their int64 fields as strings.
type txResult struct {
	Code   uint32            `json:"code"`
	Data   []byte            `json:"data"`
	Log    string            `json:"log"`
	Events []abcitypes.Event `json:"events"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// BroadcastTxSync broadcasts a transaction and returns once CheckTx has run.
// The response carries the CheckTx code and the transaction hash, but no
// height or result.
func (bc *BroadcastClient) BroadcastTxSync(ctx context.Context, tx []byte) (*types.TxResponse, error) {
	var res struct {
		Code uint32 `json:"code"`
		Log  string `json:"log"`
		Hash string `json:"hash"`
	}
	if err := bc.call(ctx, "broadcast_tx_sync", map[string]interface{}{
		"tx": base64.StdEncoding.EncodeToString(tx),
	}, &res); err != nil {
		return nil, err
	}
	return &types.TxResponse{Code: res.Code, Log: res.Log, Hash: res.Hash}, nil
}

// BroadcastTxCommit broadcasts a transaction and waits for it to be committed
// to a block. A transaction rejected by CheckTx is reported with the CheckTx
// code; otherwise the DeliverTx outcome is returned. Application failures are
// reported in the response code, not as an error.
func (bc *BroadcastClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*types.TxResponse, error) {
	var res struct {
		CheckTx   txResult `json:"check_tx"`
		DeliverTx txResult `json:"deliver_tx"`
		Hash      string   `json:"hash"`
		Height    int64    `json:"height,string"`
	}
	if err := bc.call(ctx, "broadcast_tx_commit", map[string]interface{}{
		"tx": base64.StdEncoding.EncodeToString(tx),
	}, &res); err != nil {
		return nil, err
	}

	resp := &types.TxResponse{Hash: res.Hash}
	if res.CheckTx.Code != abci.CodeTypeOK {
		resp.Code, resp.Log = res.CheckTx.Code, res.CheckTx.Log
		return resp, nil
	}
	if err := fillDeliverResult(resp, res.DeliverTx); err != nil {
		return nil, err
	}
	resp.Height = res.Height
	return resp, nil
}

// BroadcastSignedTransaction encodes and commits a signed transaction.
func (bc *BroadcastClient) BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction) (*types.TxResponse, error) {
	txBytes, err := signedTx.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return bc.BroadcastTxCommit(ctx, txBytes)
}

// ABCIQuery runs an abci_query against the latest committed state and returns
// the raw value. A non-zero application code is returned as *types.QueryError.
func (bc *BroadcastClient) ABCIQuery(ctx context.Context, path string, data []byte) ([]byte, error) {
	var res struct {
		Response struct {
			Code  uint32 `json:"code"`
			Log   string `json:"log"`
			Value []byte `json:"value"`
		} `json:"response"`
	}
	if err := bc.call(ctx, "abci_query", map[string]interface{}{
		"path":  path,
		"data":  hex.EncodeToString(data),
		"prove": false,
	}, &res); err != nil {
		return nil, err
	}
	if res.Response.Code != abci.CodeTypeOK {
		return nil, &types.QueryError{Code: res.Response.Code, Log: res.Response.Log}
	}
	return res.Response.Value, nil
}

// QueryTx looks up a committed transaction by its hex hash.
func (bc *BroadcastClient) QueryTx(ctx context.Context, txHash string) (*types.TxResponse, error) {
	hash := strings.TrimPrefix(strings.ToLower(txHash), "0x")
	if _, err := hex.DecodeString(hash); err != nil {
		return nil, fmt.Errorf("invalid tx hash %q: %w", txHash, err)
	}

	endpoint := fmt.Sprintf("%s/tx?hash=%s", bc.rpcAddr, url.QueryEscape("0x"+hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build RPC request: %w", err)
	}

	var res struct {
		Hash     string   `json:"hash"`
		Height   int64    `json:"height,string"`
		TxResult txResult `json:"tx_result"`
	}
	if err := bc.do(req, &res); err != nil {
		return nil, err
	}

	resp := &types.TxResponse{Hash: res.Hash, Height: res.Height}
	if err := fillDeliverResult(resp, res.TxResult); err != nil {
		return nil, err
	}
	return resp, nil
}

func fillDeliverResult(resp *types.TxResponse, deliver txResult) error {
	resp.Code, resp.Log = deliver.Code, deliver.Log
	if deliver.Code != abci.CodeTypeOK {
		return nil
	}
	if len(deliver.Data) > 0 {
		if err := json.Unmarshal(deliver.Data, &resp.Result); err != nil {
			return fmt.Errorf("decode tx result: %w", err)
		}
	}
	resp.Events = abci.FromABCIEvents(deliver.Events)
	return nil
}

// call performs a JSON-RPC POST and decodes the result into out.
func (bc *BroadcastClient) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to build RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := bc.do(req, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (bc *BroadcastClient) do(req *http.Request, out interface{}) error {
	resp, err := bc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send RPC request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w (body: %s)", err, string(respBytes))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse RPC result: %w", err)
	}
	return nil
}
