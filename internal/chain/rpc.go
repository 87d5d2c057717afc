package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// blockTimeout bounds metadata lookups (head, block timestamps, calls).
	blockTimeout = 5 * time.Second
	// logsTimeout bounds bulk log fetches, which cover whole chunks.
	logsTimeout = 30 * time.Second
)

// Client is the blockchain RPC surface the scanner consumes. Implementations
// are black boxes returning node-native records; tests substitute fakes.
type Client interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)

	// Logs returns the raw log entries matching the filter.
	Logs(ctx context.Context, filter LogFilter) ([]Log, error)

	// BlockTimestamp resolves the timestamp of a block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// Call executes a read-only contract call and returns the raw
	// hex-encoded return data.
	Call(ctx context.Context, to string, data string) (string, error)
}

// LogFilter selects logs by block range, emitting address and first topic.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   string
	Topic0    string
}

// Log is one raw log entry as returned by eth_getLogs.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

// JSONRPCClient talks to an Ethereum-compatible node over HTTP JSON-RPC.
type JSONRPCClient struct {
	endpoint string
	http     *http.Client
}

// NewJSONRPCClient creates a client for the given RPC endpoint URL.
func NewJSONRPCClient(endpoint string) *JSONRPCClient {
	return &JSONRPCClient{
		endpoint: endpoint,
		http:     &http.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *JSONRPCClient) call(ctx context.Context, timeout time.Duration, method string, params []any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}

// BlockNumber implements Client.
func (c *JSONRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, blockTimeout, "eth_blockNumber", []any{}, &hex); err != nil {
		return 0, err
	}
	return ParseHexUint64(hex)
}

// Logs implements Client.
func (c *JSONRPCClient) Logs(ctx context.Context, filter LogFilter) ([]Log, error) {
	params := map[string]any{
		"fromBlock": FormatHexUint64(filter.FromBlock),
		"toBlock":   FormatHexUint64(filter.ToBlock),
		"address":   filter.Address,
		"topics":    []string{filter.Topic0},
	}
	var logs []Log
	if err := c.call(ctx, logsTimeout, "eth_getLogs", []any{params}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockTimestamp implements Client.
func (c *JSONRPCClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	var block struct {
		Timestamp string `json:"timestamp"`
	}
	err := c.call(ctx, blockTimeout, "eth_getBlockByNumber", []any{FormatHexUint64(blockNumber), false}, &block)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := ParseHexUint64(block.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("block %d: %w", blockNumber, err)
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

// Call implements Client.
func (c *JSONRPCClient) Call(ctx context.Context, to string, data string) (string, error) {
	params := []any{map[string]string{"to": to, "data": data}, "latest"}
	var result string
	if err := c.call(ctx, blockTimeout, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

// ParseHexUint64 decodes a 0x-prefixed hex quantity.
func ParseHexUint64(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex quantity %q: %w", s, err)
	}
	return v, nil
}

// FormatHexUint64 encodes a quantity as 0x-prefixed hex.
func FormatHexUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// ParseHexBig decodes a 0x-prefixed hex quantity of arbitrary width.
func ParseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

var _ Client = (*JSONRPCClient)(nil)
