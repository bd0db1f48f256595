package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketplace.mini/mkt/internal/abci"
	"marketplace.mini/mkt/internal/types"
)

// APIError is a non-2xx answer from the node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// Client talks to a node's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the node at baseURL, e.g.
// http://localhost:8080.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a signed transaction and waits for its result. A rejected
// transaction is not an error: inspect the reply code.
func (c *Client) Submit(ctx context.Context, stx *types.SignedTransaction) (*TxReply, error) {
	body, err := stx.Encode()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tx", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit transaction: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var reply TxReply
	if err := json.Unmarshal(data, &reply); err != nil || reply.CodeName == "" {
		return nil, apiError(resp.StatusCode, data)
	}
	return &reply, nil
}

// Listings returns every active listing.
func (c *Client) Listings(ctx context.Context) ([]types.Listing, error) {
	var out []types.Listing
	return out, c.get(ctx, "/api/listings", nil, &out)
}

// ListingHistory returns every listing record.
func (c *Client) ListingHistory(ctx context.Context) ([]types.Listing, error) {
	var out []types.Listing
	return out, c.get(ctx, "/api/listings/history", nil, &out)
}

// MyListings returns the active listings sold by addr.
func (c *Client) MyListings(ctx context.Context, addr types.Address) ([]types.Listing, error) {
	var out []types.Listing
	return out, c.get(ctx, "/api/listings/mine", url.Values{"address": {string(addr)}}, &out)
}

// MyAssets returns the listing records held by addr.
func (c *Client) MyAssets(ctx context.Context, addr types.Address) ([]types.Listing, error) {
	var out []types.Listing
	return out, c.get(ctx, "/api/assets/mine", url.Values{"address": {string(addr)}}, &out)
}

// Holdings returns the registry assets owned by addr.
func (c *Client) Holdings(ctx context.Context, addr types.Address) ([]types.Asset, error) {
	var out []types.Asset
	return out, c.get(ctx, "/api/assets/held", url.Values{"address": {string(addr)}}, &out)
}

// Listing returns one listing record.
func (c *Client) Listing(ctx context.Context, id string) (*types.Listing, error) {
	var out types.Listing
	if err := c.get(ctx, "/api/listings/get", url.Values{"id": {id}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fee returns the listing fee and the fee accounts.
func (c *Client) Fee(ctx context.Context) (*abci.FeeInfo, error) {
	var out abci.FeeInfo
	if err := c.get(ctx, "/api/fee", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the settlement balance of addr.
func (c *Client) Balance(ctx context.Context, addr types.Address) (uint64, error) {
	var out abci.BalanceInfo
	if err := c.get(ctx, "/api/balance", url.Values{"address": {string(addr)}}, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Nonce returns the nonce addr must sign its next transaction with.
func (c *Client) Nonce(ctx context.Context, addr types.Address) (uint64, error) {
	var out abci.NonceInfo
	if err := c.get(ctx, "/api/nonce", url.Values{"address": {string(addr)}}, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Asset returns the registry record of one asset.
func (c *Client) Asset(ctx context.Context, key types.AssetKey) (*types.Asset, error) {
	var out types.Asset
	q := url.Values{"contract": {key.ContractRef}, "id": {strconv.FormatUint(key.AssetID, 10)}}
	if err := c.get(ctx, "/api/registry/asset", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version returns the node's version document.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	return out, c.get(ctx, "/api/version", nil, &out)
}

// Peers lists the nodes the server has discovered on its network.
func (c *Client) Peers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	return out, c.get(ctx, "/api/peers", nil, &out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return apiError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return &APIError{Status: status, Message: e.Error}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
