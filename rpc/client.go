package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client is a minimal JSON-RPC client for the node's endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Uint64
}

// NewClient targets endpoint. token, when set, is sent as a bearer token.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method with positional params and decodes the result into out
// (which may be nil). JSON-RPC errors are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := c.nextID.Add(1)
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"method":  method,
		"params":  params,
		"id":      id,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// RejectedReceipt extracts the receipt carried by a rejected custody_sendCall.
func RejectedReceipt(err error) (*ReceiptJSON, bool) {
	rpcErr, ok := err.(*RPCError)
	if !ok || rpcErr.Code != codeRejected || rpcErr.Data == nil {
		return nil, false
	}
	raw, marshalErr := json.Marshal(rpcErr.Data)
	if marshalErr != nil {
		return nil, false
	}
	var receipt ReceiptJSON
	if json.Unmarshal(raw, &receipt) != nil {
		return nil, false
	}
	return &receipt, true
}
