package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RPCConfig configures an RPC client.
type RPCConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// RPCClient is a minimal Neo N3 JSON-RPC client. It doubles as an
// AccountOracle backed by the node's validateaddress method.
type RPCClient struct {
	rpcURL     string
	httpClient *http.Client
}

var _ AccountOracle = (*RPCClient)(nil)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCClient creates a client for the node at cfg.RPCURL.
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Call makes an RPC call to the node.
func (c *RPCClient) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
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

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Exists asks the node whether account is a valid address.
func (c *RPCClient) Exists(ctx context.Context, account string) (bool, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return false, nil
	}
	result, err := c.Call(ctx, "validateaddress", account)
	if err != nil {
		return false, fmt.Errorf("validate address %s: %w", account, err)
	}
	var reply struct {
		Address string `json:"address"`
		IsValid bool   `json:"isvalid"`
	}
	if err := json.Unmarshal(result, &reply); err != nil {
		return false, fmt.Errorf("decode validateaddress: %w", err)
	}
	return reply.IsValid, nil
}
