package abci

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	abci "github.com/tendermint/tendermint/abci/types"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"marketplace.mini/mkt/internal/types"
)

// LocalClient settles transactions in-process without a consensus engine.
// Each transaction is checked, delivered in its own block and committed
// before the next one starts.
type LocalClient struct {
	mu  sync.Mutex
	app *ABCIApplication
}

// NewLocalClient wraps app.
func NewLocalClient(app *ABCIApplication) *LocalClient {
	return &LocalClient{app: app}
}

// BroadcastTxCommit runs tx through check, deliver and commit.
func (c *LocalClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*types.TxResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &types.TxResponse{Hash: fmt.Sprintf("%X", tmhash.Sum(tx))}
	check := c.app.CheckTx(abci.RequestCheckTx{Tx: tx})
	if check.Code != CodeTypeOK {
		resp.Code, resp.Log = check.Code, check.Log
		return resp, nil
	}

	height := c.app.Height() + 1
	c.app.BeginBlock(abci.RequestBeginBlock{Header: tmproto.Header{Height: height}})
	deliver := c.app.DeliverTx(abci.RequestDeliverTx{Tx: tx})
	c.app.EndBlock(abci.RequestEndBlock{Height: height})
	c.app.Commit()

	resp.Code, resp.Log, resp.Height = deliver.Code, deliver.Log, height
	if deliver.Code == CodeTypeOK {
		if err := json.Unmarshal(deliver.Data, &resp.Result); err != nil {
			return nil, fmt.Errorf("decode tx result: %w", err)
		}
		resp.Events = FromABCIEvents(deliver.Events)
	}
	return resp, nil
}

// ABCIQuery answers a read query against the committed state.
func (c *LocalClient) ABCIQuery(ctx context.Context, path string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := c.app.Query(abci.RequestQuery{Path: path, Data: data})
	if resp.Code != CodeTypeOK {
		return nil, &types.QueryError{Code: resp.Code, Log: resp.Log}
	}
	return resp.Value, nil
}
