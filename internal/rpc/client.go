// Package rpc talks JSON-RPC to an Ethereum provider: a node, a hosted
// endpoint such as Alchemy, or a wallet bridge that understands the
// eth_requestAccounts / wallet_switchEthereumChain extensions.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/dexkit/internal/ratelimit"
)

// Client is the provider surface used by the rest of dexkit.
type Client interface {
	// Call makes a raw JSON-RPC call.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// ChainID returns eth_chainId.
	ChainID(ctx context.Context) (uint64, error)

	// RequestAccounts asks the provider for its accounts.
	RequestAccounts(ctx context.Context) ([]string, error)

	// SwitchChain issues wallet_switchEthereumChain.
	SwitchChain(ctx context.Context, chainID uint64) error

	GetNonce(ctx context.Context, address string) (uint64, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetLatestBlock(ctx context.Context) (*Block, error)
	GetCode(ctx context.Context, address string) (string, error)
	GetStorageAt(ctx context.Context, address string, slot uint64) ([]byte, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)

	// EthCall executes a read-only call against the latest block.
	EthCall(ctx context.Context, to string, data []byte) ([]byte, error)

	// EstimateGas estimates gas for a call from the given address.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction submits a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (string, error)

	// GetTransactionReceipt returns nil, nil while the transaction is pending.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// CallMsg is the subset of eth_call / eth_estimateGas arguments dexkit sends.
type CallMsg struct {
	From  string
	To    string // empty for contract creation
	Data  []byte
	Value *big.Int
}

func (m CallMsg) toArg() map[string]any {
	arg := map[string]any{"from": m.From}
	if m.To != "" {
		arg["to"] = m.To
	}
	if len(m.Data) > 0 {
		arg["data"] = hexutil.Encode(m.Data)
	}
	if m.Value != nil && m.Value.Sign() > 0 {
		arg["value"] = hexutil.EncodeBig(m.Value)
	}
	return arg
}

// TransactionReceipt is the decoded part of eth_getTransactionReceipt.
type TransactionReceipt struct {
	TxHash            string `json:"transactionHash"`
	Status            uint64 `json:"status"` // 1 = success, 0 = reverted
	GasUsed           uint64 `json:"gasUsed"`
	ContractAddress   string `json:"contractAddress"`
	BlockNumber       uint64 `json:"blockNumber"`
	EffectiveGasPrice uint64 `json:"effectiveGasPrice"`
}

// Block carries the header fields dexkit needs for fees and deadlines.
type Block struct {
	Number        uint64
	Hash          string
	BaseFeePerGas *big.Int // nil on pre-London chains
	Timestamp     time.Time
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MethodObserver is notified after every JSON-RPC call.
type MethodObserver func(method string, took time.Duration, err error)

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RatePerSec paces outgoing requests. Zero disables pacing.
	RatePerSec float64

	Observer MethodObserver
	Logger   *slog.Logger
}

// DefaultClientConfig returns defaults suited to a hosted endpoint.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client over HTTP POST.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	limiter    *ratelimit.Limiter
	observer   MethodObserver
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &HTTPClient{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		observer:   cfg.Observer,
		logger:     logger,
	}
	if cfg.RatePerSec > 0 {
		c.limiter = ratelimit.New(cfg.RatePerSec)
	}
	return c
}

// Call makes a JSON-RPC call. Transport failures and HTTP 429/502/503/504
// are retried with exponential backoff; JSON-RPC errors are returned as is.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params)
	if c.observer != nil {
		c.observer(method, time.Since(start), err)
	}
	return result, err
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsRPCError(err) {
			return nil, err
		}

		var httpErr *HTTPStatusError
		if errors.As(err, &httpErr) {
			if !httpErr.IsRetryable() {
				return nil, err
			}
			if httpErr.RetryAfter > 0 {
				backoff = httpErr.RetryAfter
			}
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
	}

	return nil, fmt.Errorf("%s: all retries failed: %w", method, lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message, Data: rpcResp.Error.Data}
	}
	return rpcResp.Result, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// RPCError is a JSON-RPC error returned by the provider.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsRPCError reports whether err is (or wraps) an *RPCError.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// IsMethodNotFound reports whether the provider rejected the method itself.
// Plain nodes answer wallet_* methods this way.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == -32601 || rpcErr.Code == 4200
}

// HTTPStatusError represents a non-200 HTTP response.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true for 429, 502, 503 and 504.
func (e *HTTPStatusError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *HTTPClient) callString(ctx context.Context, method string, params []any) (string, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return "", fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return s, nil
}

func (c *HTTPClient) callUint64(ctx context.Context, method string, params []any) (uint64, error) {
	s, err := c.callString(ctx, method, params)
	if err != nil {
		return 0, err
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s result %q: %w", method, s, err)
	}
	return v, nil
}

func (c *HTTPClient) callBig(ctx context.Context, method string, params []any) (*big.Int, error) {
	s, err := c.callString(ctx, method, params)
	if err != nil {
		return nil, err
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result %q: %w", method, s, err)
	}
	return v, nil
}

// ChainID returns the provider's chain ID.
func (c *HTTPClient) ChainID(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_chainId", nil)
}

// RequestAccounts calls eth_requestAccounts and falls back to eth_accounts
// when the provider does not implement the wallet method.
func (c *HTTPClient) RequestAccounts(ctx context.Context) ([]string, error) {
	result, err := c.Call(ctx, "eth_requestAccounts", nil)
	if IsMethodNotFound(err) {
		result, err = c.Call(ctx, "eth_accounts", nil)
	}
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}
	return accounts, nil
}

// SwitchChain asks the provider to switch to chainID.
func (c *HTTPClient) SwitchChain(ctx context.Context, chainID uint64) error {
	_, err := c.Call(ctx, "wallet_switchEthereumChain", []any{
		map[string]string{"chainId": hexutil.EncodeUint64(chainID)},
	})
	return err
}

// GetNonce returns the pending transaction count for address.
func (c *HTTPClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []any{address, "pending"})
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_blockNumber", nil)
}

// GetLatestBlock returns the latest block header.
func (c *HTTPClient) GetLatestBlock(ctx context.Context) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []any{"latest", false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, errors.New("latest block not available")
	}
	return parseBlock(result)
}

func parseBlock(data json.RawMessage) (*Block, error) {
	var raw struct {
		Number        string `json:"number"`
		Hash          string `json:"hash"`
		BaseFeePerGas string `json:"baseFeePerGas,omitempty"`
		Timestamp     string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	num, err := hexutil.DecodeUint64(raw.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block number: %w", err)
	}
	ts, err := hexutil.DecodeUint64(raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block timestamp: %w", err)
	}

	block := &Block{
		Number:    num,
		Hash:      raw.Hash,
		Timestamp: time.Unix(int64(ts), 0),
	}
	if raw.BaseFeePerGas != "" {
		if fee, err := hexutil.DecodeBig(raw.BaseFeePerGas); err == nil {
			block.BaseFeePerGas = fee
		}
	}
	return block, nil
}

// GetCode returns contract code at address as a 0x-prefixed hex string.
func (c *HTTPClient) GetCode(ctx context.Context, address string) (string, error) {
	return c.callString(ctx, "eth_getCode", []any{address, "latest"})
}

// GetStorageAt returns the 32-byte word stored at slot.
func (c *HTTPClient) GetStorageAt(ctx context.Context, address string, slot uint64) ([]byte, error) {
	s, err := c.callString(ctx, "eth_getStorageAt", []any{address, hexutil.EncodeUint64(slot), "latest"})
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(s)
}

// GetGasPrice returns eth_gasPrice.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_gasPrice", nil)
}

// GetBalance returns the native balance of address at the latest block.
func (c *HTTPClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return c.callBig(ctx, "eth_getBalance", []any{address, "latest"})
}

// EthCall executes a read-only call.
func (c *HTTPClient) EthCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	s, err := c.callString(ctx, "eth_call", []any{
		map[string]any{"to": to, "data": hexutil.Encode(data)},
		"latest",
	})
	if err != nil {
		return nil, err
	}
	return hexutil.Decode(s)
}

// EstimateGas returns eth_estimateGas for msg.
func (c *HTTPClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return c.callUint64(ctx, "eth_estimateGas", []any{msg.toArg()})
}

// SendRawTransaction submits a signed transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	return c.callString(ctx, "eth_sendRawTransaction", []any{hexutil.Encode(txRLP)})
}

// GetTransactionReceipt returns the receipt for txHash, or nil if not mined.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}
	return parseReceipt(result)
}

func parseReceipt(data json.RawMessage) (*TransactionReceipt, error) {
	var raw struct {
		TxHash            string `json:"transactionHash"`
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		ContractAddress   string `json:"contractAddress"`
		BlockNumber       string `json:"blockNumber"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, err := hexutil.DecodeUint64(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt status: %w", err)
	}
	gasUsed, _ := hexutil.DecodeUint64(raw.GasUsed)
	blockNumber, _ := hexutil.DecodeUint64(raw.BlockNumber)
	effectiveGasPrice, _ := hexutil.DecodeUint64(raw.EffectiveGasPrice)

	return &TransactionReceipt{
		TxHash:            raw.TxHash,
		Status:            status,
		GasUsed:           gasUsed,
		ContractAddress:   raw.ContractAddress,
		BlockNumber:       blockNumber,
		EffectiveGasPrice: effectiveGasPrice,
	}, nil
}
