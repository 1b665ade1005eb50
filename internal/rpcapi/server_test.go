package rpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(tokens map[string]map[Capability]bool) *Server {
	return NewServer(nil, tokens)
}

func TestHandleRPCDispatchesRegisteredMethod(t *testing.T) {
	s := newTestServer(map[string]map[Capability]bool{
		"tok": {CapRead: true},
	})
	s.Register("Echo", CapRead, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "ok", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"Echo"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "ok" {
		t.Fatalf("expected result %q, got %v", "ok", resp.Result)
	}
}

func TestHandleRPCRejectsUnauthorized(t *testing.T) {
	s := newTestServer(map[string]map[Capability]bool{})
	s.Register("Echo", CapRead, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "ok", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"Echo"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32000 {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	s := newTestServer(map[string]map[Capability]bool{})
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"Nope"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}
