// Package chain provides ledger RPC interaction for the commerce layer.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ledger is the query/broadcast surface consumed by the settlement core.
type Ledger interface {
	GetAccountSequence(ctx context.Context, address string) (uint64, error)
	BroadcastTx(ctx context.Context, tx SignedTx) (string, error)
	GetTx(ctx context.Context, hash string) (*Tx, error)
}

// Client provides ledger RPC client functionality over JSON-RPC.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	networkID  uint32
}

var _ Ledger = (*Client)(nil)

// Config holds client configuration.
type Config struct {
	RPCURL    string
	NetworkID uint32
	Timeout   time.Duration
}

// NewClient creates a new ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		networkID: cfg.NetworkID,
	}, nil
}

// Call makes an RPC call to the ledger node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetAccountSequence returns the account's current on-chain sequence number.
func (c *Client) GetAccountSequence(ctx context.Context, address string) (uint64, error) {
	result, err := c.Call(ctx, "getaccountstate", []interface{}{address})
	if err != nil {
		return 0, fmt.Errorf("get account state for %s: %w", address, err)
	}

	var acct Account
	if err := json.Unmarshal(result, &acct); err != nil {
		return 0, err
	}
	return acct.Sequence, nil
}

// BroadcastTx sends a signed transaction and returns its hash. Node
// rejections come back as a classified *BroadcastError.
func (c *Client) BroadcastTx(ctx context.Context, tx SignedTx) (string, error) {
	txHex := hex.EncodeToString(tx.Bytes)
	result, err := c.Call(ctx, "sendrawtransaction", []interface{}{txHex})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", classifyBroadcastError(rpcErr)
		}
		return "", err
	}

	var response struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &response); err != nil {
		return "", err
	}
	if response.Hash == "" {
		return tx.Hash, nil
	}
	return response.Hash, nil
}

// GetTx returns a transaction by hash, or nil if the node does not know it.
func (c *Client) GetTx(ctx context.Context, hash string) (*Tx, error) {
	result, err := c.Call(ctx, "getrawtransaction", []interface{}{hash, true})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == -100 {
			// Unknown transaction.
			return nil, nil
		}
		return nil, err
	}

	var tx Tx
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
