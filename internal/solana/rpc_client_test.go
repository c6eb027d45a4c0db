package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcHandler answers every request with result produced by fn.
func rpcHandler(t *testing.T, method string, fn func(req rpcRequest) interface{}) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fn(req),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	account := PublicKey{7, 7, 7}
	payload := []byte("Hello World")

	server := httptest.NewServer(rpcHandler(t, "getAccountInfo", func(req rpcRequest) interface{} {
		if len(req.Params) != 2 || req.Params[0] != account.String() {
			t.Errorf("unexpected params: %v", req.Params)
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": uint64(42)},
			"value": map[string]interface{}{
				"lamports":   uint64(1000000),
				"owner":      SystemProgramID,
				"data":       []string{base64.StdEncoding.EncodeToString(payload), "base64"},
				"executable": false,
				"rentEpoch":  uint64(100),
			},
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), account)
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account info, got nil")
	}

	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}
	if info.Owner.String() != SystemProgramID {
		t.Errorf("unexpected owner: %s", info.Owner)
	}
	if string(info.Data) != "Hello World" {
		t.Errorf("unexpected data: %q", info.Data)
	}
	if info.RentEpoch != 100 {
		t.Errorf("expected rentEpoch 100, got %d", info.RentEpoch)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, "getAccountInfo", func(rpcRequest) interface{} {
		return map[string]interface{}{"value": nil}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), PublicKey{1})
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_GetAccountInfo_UnsupportedEncoding(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, "getAccountInfo", func(rpcRequest) interface{} {
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports": uint64(1),
				"owner":    SystemProgramID,
				"data":     []string{"abc", "base58"},
			},
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if _, err := client.GetAccountInfo(context.Background(), PublicKey{1}); err == nil {
		t.Fatal("expected error for non-base64 encoding")
	}
}

func TestHTTPClient_GetProgramAccounts(t *testing.T) {
	owner := PublicKey{9}
	first := PublicKey{1}
	second := PublicKey{2}

	server := httptest.NewServer(rpcHandler(t, "getProgramAccounts", func(req rpcRequest) interface{} {
		opts, ok := req.Params[1].(map[string]interface{})
		if !ok {
			t.Errorf("expected options object, got %T", req.Params[1])
			return nil
		}
		filters, ok := opts["filters"].([]interface{})
		if !ok || len(filters) != 2 {
			t.Errorf("expected 2 filters, got %v", opts["filters"])
		}

		account := func(data string) map[string]interface{} {
			return map[string]interface{}{
				"lamports": uint64(2039280),
				"owner":    TokenProgramID,
				"data":     []string{data, "base64"},
			}
		}
		return []interface{}{
			map[string]interface{}{"pubkey": first.String(), "account": account("AQID")},
			map[string]interface{}{"pubkey": second.String(), "account": account("")},
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	accounts, err := client.GetProgramAccounts(context.Background(), TokenProgram, []AccountFilter{
		DataSizeFilter(165),
		MemcmpKeyFilter(32, owner),
	})
	if err != nil {
		t.Fatalf("GetProgramAccounts: %v", err)
	}

	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Pubkey != first || accounts[1].Pubkey != second {
		t.Errorf("unexpected pubkeys: %s %s", accounts[0].Pubkey, accounts[1].Pubkey)
	}
	if len(accounts[0].Account.Data) != 3 {
		t.Errorf("expected 3 data bytes, got %d", len(accounts[0].Account.Data))
	}
	if accounts[1].Account.Data != nil {
		t.Errorf("expected empty data, got %v", accounts[1].Account.Data)
	}
	if accounts[0].Account.Owner != TokenProgram {
		t.Errorf("unexpected owner %s", accounts[0].Account.Owner)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  uint64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))

	_, err := client.GetSlot(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %T", err)
	}
	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("rpc errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
