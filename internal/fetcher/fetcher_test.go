package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handlers map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int    `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		result, ok := handlers[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestTransactionByHash(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getTransactionByHash": map[string]any{
			"hash":        "0xfeed",
			"from":        "0xAAAA567890abcdef1234567890abcdef12345678",
			"to":          "0xBBBB567890abcdef1234567890abcdef12345678",
			"value":       "0xde0b6b3a7640000", // 1 ETH
			"gas":         "0x5208",            // 21000
			"gasPrice":    "0x6fc23ac00",       // 30 gwei
			"input":       "0x",
			"blockNumber": "0x10",
		},
		"eth_getBlockByNumber": map[string]any{
			"timestamp": "0x6553f100",
		},
	})
	defer srv.Close()

	c, err := NewClient(Config{Endpoints: []string{srv.URL}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	tx, err := c.TransactionByHash(context.Background(), "0xfeed")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tx.From != "0xaaaa567890abcdef1234567890abcdef12345678" {
		t.Fatalf("from not lower-cased: %q", tx.From)
	}
	if tx.Value != 1e18 {
		t.Fatalf("value = %v, want 1e18", tx.Value)
	}
	if tx.Gas != 21000 {
		t.Fatalf("gas = %v", tx.Gas)
	}
	if tx.Timestamp != 0x6553f100 {
		t.Fatalf("timestamp = %d", tx.Timestamp)
	}
}

func TestTransactionNotFound(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getTransactionByHash": nil,
	})
	defer srv.Close()

	c, _ := NewClient(Config{Endpoints: []string{srv.URL}})
	if _, err := c.TransactionByHash(context.Background(), "0xmissing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestEndpointFailover(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getCode":             "0x6080",
		"eth_getBalance":          "0x0",
		"eth_getTransactionCount": "0x4e0", // 1248
	})
	defer srv.Close()

	// First endpoint is dead; the client must fall through to the live one.
	c, err := NewClient(Config{
		Endpoints: []string{"http://127.0.0.1:1", srv.URL},
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	info, err := c.ContractInfo(context.Background(), "0xCCCC567890abcdef1234567890abcdef12345678")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if info.Address != "0xcccc567890abcdef1234567890abcdef12345678" {
		t.Fatalf("address not lower-cased: %q", info.Address)
	}
	if info.TxCount != 1248 {
		t.Fatalf("tx count = %d", info.TxCount)
	}
	if info.Verified {
		t.Fatal("rpc-fetched contract must be unverified")
	}
}

func TestContractWithoutCode(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"eth_getCode": "0x",
	})
	defer srv.Close()

	c, _ := NewClient(Config{Endpoints: []string{srv.URL}})
	if _, err := c.ContractInfo(context.Background(), "0xdddd567890abcdef1234567890abcdef12345678"); err == nil {
		t.Fatal("expected error for address without code")
	}
}

func TestNoEndpoints(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected configuration error")
	}
}
