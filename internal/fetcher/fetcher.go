// Package fetcher resolves bare transaction hashes and contract addresses
// against EVM JSON-RPC explorer endpoints, normalizing the responses to the
// canonical entity schema. Endpoints are tried in order; the first healthy
// answer wins.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chainsentry/internal/schema"
)

// Config holds explorer client configuration.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoints []string      `yaml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Client is an EVM JSON-RPC explorer client with endpoint failover.
type Client struct {
	endpoints []string
	client    *http.Client
}

// NewClient creates an explorer client. At least one endpoint is required.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("fetcher: no endpoints configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcCall tries every endpoint in order until one answers. An RPC-level
// error from an endpoint (bad params, missing data) is final; only
// transport failures trigger failover.
func (c *Client) rpcCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		result, err := c.post(ctx, endpoint, body)
		if err != nil {
			lastErr = err
			slog.Warn("explorer endpoint failed", "endpoint", endpoint, "method", method, "error", err)
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("all explorer endpoints failed: %w", lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

type rpcTransaction struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Gas         string `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	Input       string `json:"input"`
	BlockNumber string `json:"blockNumber"`
}

// TransactionByHash fetches and normalizes a transaction. The timestamp
// comes from the containing block; a pending transaction (no block) keeps
// timestamp zero.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*schema.Transaction, error) {
	result, err := c.rpcCall(ctx, "eth_getTransactionByHash", []interface{}{hash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("transaction %s not found", hash)
	}

	var tx rpcTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, err
	}

	var timestamp int64
	if tx.BlockNumber != "" && tx.BlockNumber != "0x" {
		ts, err := c.blockTimestamp(ctx, tx.BlockNumber)
		if err != nil {
			slog.Warn("block timestamp lookup failed", "block", tx.BlockNumber, "error", err)
		} else {
			timestamp = ts
		}
	}

	return &schema.Transaction{
		Hash:      tx.Hash,
		From:      strings.ToLower(tx.From),
		To:        strings.ToLower(tx.To),
		Value:     hexToFloat(tx.Value),
		Gas:       hexToFloat(tx.Gas),
		GasPrice:  hexToFloat(tx.GasPrice),
		Input:     tx.Input,
		Timestamp: timestamp,
	}, nil
}

func (c *Client) blockTimestamp(ctx context.Context, hexBlock string) (int64, error) {
	result, err := c.rpcCall(ctx, "eth_getBlockByNumber", []interface{}{hexBlock, false})
	if err != nil {
		return 0, err
	}
	if string(result) == "null" {
		return 0, fmt.Errorf("block %s not found", hexBlock)
	}
	var block struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return 0, err
	}
	ts, err := parseHexUint64(block.Timestamp)
	if err != nil {
		return 0, err
	}
	return int64(ts), nil
}

// ContractInfo fetches on-chain contract metadata: balance and nonce. RPC
// endpoints expose no source code, so fetched contracts are unverified by
// definition; verified source arrives inline on the request.
func (c *Client) ContractInfo(ctx context.Context, address string) (*schema.Contract, error) {
	addr := strings.ToLower(address)

	codeRaw, err := c.rpcCall(ctx, "eth_getCode", []interface{}{addr, "latest"})
	if err != nil {
		return nil, err
	}
	var code string
	if err := json.Unmarshal(codeRaw, &code); err != nil {
		return nil, err
	}
	if code == "" || code == "0x" {
		return nil, fmt.Errorf("no code at %s", addr)
	}

	balanceRaw, err := c.rpcCall(ctx, "eth_getBalance", []interface{}{addr, "latest"})
	if err != nil {
		return nil, err
	}
	var balanceHex string
	if err := json.Unmarshal(balanceRaw, &balanceHex); err != nil {
		return nil, err
	}

	nonceRaw, err := c.rpcCall(ctx, "eth_getTransactionCount", []interface{}{addr, "latest"})
	if err != nil {
		return nil, err
	}
	var nonceHex string
	if err := json.Unmarshal(nonceRaw, &nonceHex); err != nil {
		return nil, err
	}
	nonce, err := parseHexUint64(nonceHex)
	if err != nil {
		return nil, err
	}

	return &schema.Contract{
		Address:  addr,
		Verified: false,
		Balance:  hexToFloat(balanceHex),
		TxCount:  nonce,
	}, nil
}

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

// hexToFloat converts a hex quantity to float64. Wei values overflow
// uint64, so go through big.Int; precision loss past 53 bits is acceptable
// for scoring.
func hexToFloat(s string) float64 {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0
	}
	n := new(big.Int)
	if _, ok := n.SetString(s, 16); !ok {
		return 0
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f
}
