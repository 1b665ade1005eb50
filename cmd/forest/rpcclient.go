package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// rpcClientFromFlags builds an rpcClient from the root command's persistent
// --rpc-addr/--token flags, shared by every CLI subcommand that talks to a
// running daemon over its rpcapi server.
func rpcClientFromFlags(cmd *cobra.Command) *rpcClient {
	addr, _ := cmd.Flags().GetString("rpc-addr")
	token, _ := cmd.Flags().GetString("token")
	return newRPCClient(addr, token)
}

// rpcClient is a minimal JSON-RPC 2.0 client for talking to a running
// forest daemon's internal/rpcapi server, mirroring the envelope that
// package defines (rpcRequest/rpcResponse) without importing it directly
// since the wire contract is the boundary, not the server's internals.
type rpcClient struct {
	addr  string
	token string
	http  *http.Client
}

func newRPCClient(addr, token string) *rpcClient {
	return &rpcClient{addr: addr, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *rpcClient) call(method string, params interface{}, out interface{}) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = encoded
	}

	body, err := json.Marshal(rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.addr+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dial forest daemon at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode rpc reply: %w", err)
	}
	if reply.Error != nil {
		return fmt.Errorf("rpc error %d: %s", reply.Error.Code, reply.Error.Message)
	}
	if out == nil || len(reply.Result) == 0 {
		return nil
	}
	return json.Unmarshal(reply.Result, out)
}
