// Package rpcclient wraps go-ethereum's ethclient as a thin adapter over one
// endpoint; it performs no retries of its own.
package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps an ethclient connection to a single JSON-RPC endpoint.
type Client struct {
	*ethclient.Client
	URL string
}

// Dial connects to url. Retries are the caller's responsibility (see
// failover.Pool), keeping this client a thin adapter over one live endpoint
// while pool rotation lives one layer up.
func Dial(ctx context.Context, url string) (*Client, error) {
	cli, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Client{Client: cli, URL: url}, nil
}

// IsRateLimited reports whether err represents an HTTP 429 response, the
// trigger for provider failover.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// BlockByNumber fetches a full block (with transactions) by number.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return c.Client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
}

// TransactionReceipt fetches the receipt for a transaction hash.
func (c *Client) TransactionReceipt(ctx context.Context, hash [32]byte) (*types.Receipt, error) {
	return c.Client.TransactionReceipt(ctx, hash)
}

// FilterLogs fetches logs matching query. Retained for diagnostic use; the
// canonical scan path fetches per-block/per-receipt instead of relying on
// get_logs.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.Client.FilterLogs(ctx, query)
}

// LatestBlockNumber fetches the current chain head height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.Client.BlockNumber(ctx)
}

// Timeout is the per-request deadline applied by callers that want one.
// There is no per-request timeout distinct from the underlying HTTP
// client's, so this is left as a suggested default for call sites to wrap
// with context.WithTimeout, not something the client enforces itself.
const Timeout = 30 * time.Second
