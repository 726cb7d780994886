// Package sender signs, broadcasts and confirms transactions for a single
// account. Sends are serialized so nonces stay contiguous.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/dexkit/internal/account"
	"github.com/gateway-fm/dexkit/internal/rpc"
)

var (
	// ErrTxReverted is returned when a mined transaction has status 0.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrReceiptTimeout is returned when no receipt shows up in time.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultReceiptTimeout = 2 * time.Minute
	// DefaultGasBufferPct pads eth_estimateGas results.
	DefaultGasBufferPct = 20
)

var minTip = big.NewInt(1_000_000_000) // 1 gwei

// Call describes a transaction to send. A nil To deploys Data as creation code.
type Call struct {
	Name     string // for logs and metrics
	To       *common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // 0 means estimate
}

// Result is a confirmed transaction.
type Result struct {
	Hash            common.Hash
	Receipt         *rpc.TransactionReceipt
	ContractAddress common.Address
	Took            time.Duration
}

// ConfirmObserver is notified when a transaction is mined or fails to be.
type ConfirmObserver func(name string, took time.Duration, err error)

// Config for creating a Sender.
type Config struct {
	Client         rpc.Client
	Account        *account.Account
	ChainID        uint64
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
	GasBufferPct   uint64
	Observer       ConfirmObserver
	Logger         *slog.Logger
}

// Sender sends transactions from one account.
type Sender struct {
	client   rpc.Client
	account  *account.Account
	chainID  *big.Int
	signer   types.Signer
	poll     time.Duration
	timeout  time.Duration
	gasBuf   uint64
	observer ConfirmObserver
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Sender.
func New(cfg Config) *Sender {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	gasBuf := cfg.GasBufferPct
	if gasBuf == 0 {
		gasBuf = DefaultGasBufferPct
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)

	return &Sender{
		client:   cfg.Client,
		account:  cfg.Account,
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		poll:     poll,
		timeout:  timeout,
		gasBuf:   gasBuf,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// From returns the sending address.
func (s *Sender) From() common.Address {
	return s.account.Address
}

// Client returns the underlying RPC client.
func (s *Sender) Client() rpc.Client {
	return s.client
}

// Send signs and broadcasts c, returning the signed transaction.
// It does not wait for the receipt.
func (s *Sender) Send(ctx context.Context, c Call) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.account.Resync(ctx, s.client); err != nil {
		return nil, err
	}

	value := c.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := c.GasLimit
	if gas == 0 {
		msg := rpc.CallMsg{From: s.account.Address.Hex(), Data: c.Data, Value: value}
		if c.To != nil {
			msg.To = c.To.Hex()
		}
		est, err := s.client.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("estimate gas for %s: %w", c.Name, err)
		}
		gas = est + est*s.gasBuf/100
	}

	nonce := s.account.ReserveNonce()
	defer nonce.Rollback()

	tx, err := s.buildTx(ctx, nonce.Value(), c.To, value, gas, c.Data)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, s.signer, s.account.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal tx: %w", err)
	}
	if _, err := s.client.SendRawTransaction(ctx, raw); err != nil {
		return nil, fmt.Errorf("send %s: %w", c.Name, err)
	}
	nonce.Commit()

	s.logger.Debug("TX sent",
		slog.String("name", c.Name),
		slog.String("txHash", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()),
		slog.Uint64("gas", gas),
	)
	return signed, nil
}

// buildTx uses a dynamic-fee transaction when the chain reports a base fee
// and a legacy one otherwise.
func (s *Sender) buildTx(ctx context.Context, nonce uint64, to *common.Address, value *big.Int, gas uint64, data []byte) (*types.Transaction, error) {
	gasPrice, err := s.client.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	block, err := s.client.GetLatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest block: %w", err)
	}

	if block.BaseFeePerGas == nil {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       to,
			Value:    value,
			Data:     data,
		}), nil
	}

	tip := new(big.Int).Sub(gasPrice, block.BaseFeePerGas)
	if tip.Cmp(minTip) < 0 {
		tip.Set(minTip)
	}
	feeCap := new(big.Int).Mul(block.BaseFeePerGas, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	}), nil
}

// Wait polls for the receipt of hash. A reverted transaction returns the
// receipt together with ErrTxReverted.
func (s *Sender) Wait(ctx context.Context, hash common.Hash) (*rpc.TransactionReceipt, error) {
	timeout := time.After(s.timeout)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
			receipt, err := s.client.GetTransactionReceipt(ctx, hash.Hex())
			if err != nil {
				s.logger.Debug("Error getting receipt", slog.String("error", err.Error()))
				continue
			}
			if receipt == nil {
				continue
			}
			if receipt.Status == 0 {
				return receipt, fmt.Errorf("%w (gasUsed=%d, txHash=%s)", ErrTxReverted, receipt.GasUsed, hash.Hex())
			}
			return receipt, nil
		}
	}
}

// SendAndWait sends c and waits for it to be mined.
func (s *Sender) SendAndWait(ctx context.Context, c Call) (*Result, error) {
	start := time.Now()
	tx, err := s.Send(ctx, c)
	if err != nil {
		s.observe(c.Name, time.Since(start), err)
		return nil, err
	}

	receipt, err := s.Wait(ctx, tx.Hash())
	took := time.Since(start)
	s.observe(c.Name, took, err)
	if err != nil {
		return &Result{Hash: tx.Hash(), Receipt: receipt, Took: took}, fmt.Errorf("%s: %w", c.Name, err)
	}

	res := &Result{Hash: tx.Hash(), Receipt: receipt, Took: took}
	if receipt.ContractAddress != "" {
		res.ContractAddress = common.HexToAddress(receipt.ContractAddress)
	}
	s.logger.Info("TX confirmed",
		slog.String("name", c.Name),
		slog.String("txHash", tx.Hash().Hex()),
		slog.Uint64("gasUsed", receipt.GasUsed),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Duration("took", took),
	)
	return res, nil
}

// Deploy sends creation code and returns the new contract address.
func (s *Sender) Deploy(ctx context.Context, name string, creationCode []byte) (*Result, error) {
	res, err := s.SendAndWait(ctx, Call{Name: name, Data: creationCode})
	if err != nil {
		return res, err
	}
	if res.ContractAddress == (common.Address{}) {
		return res, fmt.Errorf("%s: receipt has no contract address (txHash=%s)", name, res.Hash.Hex())
	}
	return res, nil
}

func (s *Sender) observe(name string, took time.Duration, err error) {
	if s.observer != nil {
		s.observer(name, took, err)
	}
}
