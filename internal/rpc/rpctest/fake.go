// Package rpctest provides an in-memory rpc.Client for tests. Contract
// calls are answered by handlers registered per (address, selector), and
// sent transactions are decoded, recorded and mined immediately.
package rpctest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/dexkit/internal/rpc"
)

// ErrRevert is what unhandled calls return, mimicking a revert.
var ErrRevert = &rpc.RPCError{Code: 3, Message: "execution reverted"}

// CallHandler answers an eth_call. args excludes the 4-byte selector.
type CallHandler func(args []byte) ([]byte, error)

// TxHandler runs when a transaction to (address, selector) is mined.
// Returning false marks the receipt as reverted.
type TxHandler func(tx *types.Transaction, from common.Address) bool

// Fake is a programmable rpc.Client.
type Fake struct {
	mu sync.Mutex

	ChainIDValue   uint64
	Accounts       []string
	AccountsErr    error
	SwitchErr      error
	SwitchCalls    []uint64
	GasPrice       *big.Int
	BaseFee        *big.Int // nil means a legacy chain
	BlockTime      time.Time
	BlockNumber    uint64
	GasEstimate    uint64
	SendErr        error
	PendingPolls   int // receipts stay pending for this many polls
	ContractNonce  map[common.Address]uint64
	Balances       map[common.Address]*big.Int
	Code           map[common.Address]string
	Storage        map[common.Address]map[uint64][]byte
	Sent           []*types.Transaction
	SentFrom       []common.Address
	Methods        []string
	OnDeploy       func(tx *types.Transaction, from common.Address, addr common.Address) bool
	calls          map[common.Address]map[[4]byte]CallHandler
	txs            map[common.Address]map[[4]byte]TxHandler
	callCounts     map[common.Address]map[[4]byte]int
	receipts       map[string]*rpc.TransactionReceipt
	pollsRemaining map[string]int
	nonces         map[common.Address]uint64
}

var _ rpc.Client = (*Fake)(nil)

// New returns a Fake on chainID with a 1 gwei legacy gas price.
func New(chainID uint64) *Fake {
	return &Fake{
		ChainIDValue:   chainID,
		GasPrice:       big.NewInt(1_000_000_000),
		BlockTime:      time.Unix(1_700_000_000, 0),
		BlockNumber:    100,
		GasEstimate:    100_000,
		Balances:       make(map[common.Address]*big.Int),
		Code:           make(map[common.Address]string),
		Storage:        make(map[common.Address]map[uint64][]byte),
		calls:          make(map[common.Address]map[[4]byte]CallHandler),
		txs:            make(map[common.Address]map[[4]byte]TxHandler),
		callCounts:     make(map[common.Address]map[[4]byte]int),
		receipts:       make(map[string]*rpc.TransactionReceipt),
		pollsRemaining: make(map[string]int),
		nonces:         make(map[common.Address]uint64),
	}
}

func key(sel []byte) [4]byte {
	var k [4]byte
	copy(k[:], sel)
	return k
}

// HandleCall registers an eth_call handler.
func (f *Fake) HandleCall(to common.Address, sel []byte, h CallHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls[to] == nil {
		f.calls[to] = make(map[[4]byte]CallHandler)
	}
	f.calls[to][key(sel)] = h
	if _, ok := f.Code[to]; !ok {
		f.Code[to] = "0x6080"
	}
}

// Returns registers a handler that always returns data.
func (f *Fake) Returns(to common.Address, sel []byte, data []byte) {
	f.HandleCall(to, sel, func([]byte) ([]byte, error) { return data, nil })
}

// HandleTx registers a transaction handler.
func (f *Fake) HandleTx(to common.Address, sel []byte, h TxHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txs[to] == nil {
		f.txs[to] = make(map[[4]byte]TxHandler)
	}
	f.txs[to][key(sel)] = h
}

// SentTo returns the sent transactions addressed to `to` with selector sel.
func (f *Fake) SentTo(to common.Address, sel []byte) []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range f.Sent {
		if tx.To() != nil && *tx.To() == to && len(tx.Data()) >= 4 && key(tx.Data()[:4]) == key(sel) {
			out = append(out, tx)
		}
	}
	return out
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	f.Methods = append(f.Methods, method)
	f.mu.Unlock()
}

// Called reports how many times method was invoked.
func (f *Fake) Called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.Methods {
		if m == method {
			n++
		}
	}
	return n
}

// CallsTo reports how many eth_calls hit `to` with selector sel.
func (f *Fake) CallsTo(to common.Address, sel []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCounts[to][key(sel)]
}

func (f *Fake) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	f.record(method)
	return nil, &rpc.RPCError{Code: -32601, Message: "the method " + method + " does not exist"}
}

func (f *Fake) ChainID(ctx context.Context) (uint64, error) {
	f.record("eth_chainId")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ChainIDValue, nil
}

func (f *Fake) RequestAccounts(ctx context.Context) ([]string, error) {
	f.record("eth_requestAccounts")
	return f.Accounts, f.AccountsErr
}

// SwitchChain switches ChainIDValue unless SwitchErr is set.
func (f *Fake) SwitchChain(ctx context.Context, chainID uint64) error {
	f.record("wallet_switchEthereumChain")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SwitchCalls = append(f.SwitchCalls, chainID)
	if f.SwitchErr != nil {
		return f.SwitchErr
	}
	f.ChainIDValue = chainID
	return nil
}

func (f *Fake) GetNonce(ctx context.Context, address string) (uint64, error) {
	f.record("eth_getTransactionCount")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[common.HexToAddress(address)], nil
}

func (f *Fake) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.record("eth_blockNumber")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BlockNumber, nil
}

func (f *Fake) GetLatestBlock(ctx context.Context) (*rpc.Block, error) {
	f.record("eth_getBlockByNumber")
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &rpc.Block{Number: f.BlockNumber, Timestamp: f.BlockTime}
	if f.BaseFee != nil {
		b.BaseFeePerGas = new(big.Int).Set(f.BaseFee)
	}
	return b, nil
}

func (f *Fake) GetCode(ctx context.Context, address string) (string, error) {
	f.record("eth_getCode")
	f.mu.Lock()
	defer f.mu.Unlock()
	if code, ok := f.Code[common.HexToAddress(address)]; ok {
		return code, nil
	}
	return "0x", nil
}

func (f *Fake) GetStorageAt(ctx context.Context, address string, slot uint64) ([]byte, error) {
	f.record("eth_getStorageAt")
	f.mu.Lock()
	defer f.mu.Unlock()
	if word, ok := f.Storage[common.HexToAddress(address)][slot]; ok {
		return word, nil
	}
	return make([]byte, 32), nil
}

func (f *Fake) GetGasPrice(ctx context.Context) (*big.Int, error) {
	f.record("eth_gasPrice")
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *Fake) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	f.record("eth_getBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[common.HexToAddress(address)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// SetBalance sets the native balance of addr.
func (f *Fake) SetBalance(addr common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Balances[addr] = new(big.Int).Set(v)
}

func (f *Fake) EthCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	f.record("eth_call")
	if len(data) < 4 {
		return nil, nil
	}
	addr := common.HexToAddress(to)
	f.mu.Lock()
	if f.callCounts[addr] == nil {
		f.callCounts[addr] = make(map[[4]byte]int)
	}
	f.callCounts[addr][key(data[:4])]++
	h, ok := f.calls[addr][key(data[:4])]
	_, hasCode := f.Code[addr]
	f.mu.Unlock()
	if !ok {
		if !hasCode {
			return []byte{}, nil
		}
		return nil, ErrRevert
	}
	return h(data[4:])
}

func (f *Fake) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	f.record("eth_estimateGas")
	return f.GasEstimate, nil
}

// SendRawTransaction decodes, records and mines tx. The sender is recovered
// from the signature; its nonce must match the fake's nonce.
func (f *Fake) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	f.record("eth_sendRawTransaction")
	if f.SendErr != nil {
		return "", f.SendErr
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return "", fmt.Errorf("rlp: %w", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", fmt.Errorf("invalid sender: %w", err)
	}
	if tx.ChainId().Uint64() != f.ChainIDValue {
		return "", &rpc.RPCError{Code: -32000, Message: "invalid chain id"}
	}

	f.mu.Lock()
	if want := f.nonces[from]; tx.Nonce() != want {
		f.mu.Unlock()
		return "", &rpc.RPCError{Code: -32000, Message: fmt.Sprintf("nonce too low: have %d, want %d", tx.Nonce(), want)}
	}
	f.nonces[from]++
	f.Sent = append(f.Sent, tx)
	f.SentFrom = append(f.SentFrom, from)
	f.BlockNumber++
	block := f.BlockNumber
	var handler TxHandler
	if tx.To() != nil && len(tx.Data()) >= 4 {
		handler = f.txs[*tx.To()][key(tx.Data()[:4])]
	}
	onDeploy := f.OnDeploy
	f.mu.Unlock()

	ok := true
	receipt := &rpc.TransactionReceipt{
		TxHash:      tx.Hash().Hex(),
		GasUsed:     21_000,
		BlockNumber: block,
	}
	switch {
	case tx.To() == nil:
		addr := crypto.CreateAddress(from, tx.Nonce())
		receipt.ContractAddress = strings.ToLower(addr.Hex())
		f.mu.Lock()
		f.Code[addr] = "0x" + hex.EncodeToString(tx.Data())
		f.mu.Unlock()
		if onDeploy != nil {
			ok = onDeploy(tx, from, addr)
		}
	case handler != nil:
		ok = handler(tx, from)
	}
	if ok {
		receipt.Status = 1
	}

	f.mu.Lock()
	f.receipts[receipt.TxHash] = receipt
	f.pollsRemaining[receipt.TxHash] = f.PendingPolls
	f.mu.Unlock()
	return receipt.TxHash, nil
}

func (f *Fake) GetTransactionReceipt(ctx context.Context, txHash string) (*rpc.TransactionReceipt, error) {
	f.record("eth_getTransactionReceipt")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollsRemaining[txHash] > 0 {
		f.pollsRemaining[txHash]--
		return nil, nil
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, nil
	}
	return r, nil
}

// --- ABI helpers for handler return values ---

// Uint encodes a uint256 word.
func Uint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// Uint64 encodes a small uint256 word.
func Uint64(v uint64) []byte {
	return Uint(new(big.Int).SetUint64(v))
}

// Address encodes an address word.
func Address(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// String ABI-encodes a single string return value.
func String(s string) []byte {
	out := Uint64(32)
	out = append(out, Uint64(uint64(len(s)))...)
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return append(out, padded...)
}

// Uints ABI-encodes a single uint256[] return value.
func Uints(vs ...*big.Int) []byte {
	out := Uint64(32)
	out = append(out, Uint64(uint64(len(vs)))...)
	for _, v := range vs {
		out = append(out, Uint(v)...)
	}
	return out
}

// Words concatenates words, e.g. for getReserves.
func Words(ws ...[]byte) []byte {
	var out []byte
	for _, w := range ws {
		out = append(out, w...)
	}
	return out
}

// ArgAddress decodes the i-th static argument as an address.
func ArgAddress(args []byte, i int) common.Address {
	return common.BytesToAddress(args[32*i+12 : 32*i+32])
}

// ArgUint decodes the i-th static argument as a uint256.
func ArgUint(args []byte, i int) *big.Int {
	return new(big.Int).SetBytes(args[32*i : 32*i+32])
}

// ArgAddressArray decodes a dynamic address[] argument whose offset word is
// at static position i.
func ArgAddressArray(args []byte, i int) ([]common.Address, error) {
	off := ArgUint(args, i)
	if !off.IsInt64() || off.Int64()+32 > int64(len(args)) {
		return nil, errors.New("bad array offset")
	}
	start := int(off.Int64())
	n := int(new(big.Int).SetBytes(args[start : start+32]).Int64())
	out := make([]common.Address, n)
	for j := range n {
		base := start + 32 + 32*j
		out[j] = common.BytesToAddress(args[base+12 : base+32])
	}
	return out, nil
}

// Hex is a convenience for hexutil.Encode.
func Hex(b []byte) string { return hexutil.Encode(b) }
