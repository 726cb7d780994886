// Package wallet performs the provider handshake a DEX session starts with:
// account request, network query and, when needed, a chain switch.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/dexkit/internal/rpc"
)

var (
	// ErrWrongNetwork is returned when the provider stays on another chain
	// after a switch request.
	ErrWrongNetwork = errors.New("wallet is on the wrong network")
	// ErrNoAccount is returned when neither a local signer nor the provider
	// supplies an account.
	ErrNoAccount = errors.New("no account available")
	// ErrAccountNotExposed is returned when the provider lists accounts and
	// the local signer is not one of them.
	ErrAccountNotExposed = errors.New("signer is not among provider accounts")
)

// Provider is the subset of rpc.Client the handshake uses.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
}

// Connection is the outcome of a successful handshake.
type Connection struct {
	Address          common.Address
	ChainID          uint64
	ProviderAccounts []common.Address
	Switched         bool
}

// Options tune Connect.
type Options struct {
	// Signer is the local account address. Zero means use the provider's
	// first account.
	Signer common.Address
	// StrictAccounts rejects a signer the provider does not expose.
	StrictAccounts bool
	Logger         *slog.Logger
}

// Connect requests accounts, checks the network and asks the provider to
// switch to targetChainID if it is elsewhere.
//
// Hosted RPC endpoints usually refuse eth_requestAccounts and return an empty
// eth_accounts list; that is not an error when a local signer is supplied.
func Connect(ctx context.Context, p Provider, targetChainID uint64, opts Options) (*Connection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn := &Connection{}

	raw, err := p.RequestAccounts(ctx)
	switch {
	case err == nil:
		for _, a := range raw {
			if common.IsHexAddress(strings.TrimSpace(a)) {
				conn.ProviderAccounts = append(conn.ProviderAccounts, common.HexToAddress(a))
			}
		}
	case rpc.IsRPCError(err):
		logger.Debug("Provider refused account request", slog.String("error", err.Error()))
	default:
		return nil, fmt.Errorf("request accounts: %w", err)
	}

	switch {
	case opts.Signer != (common.Address{}):
		conn.Address = opts.Signer
		if opts.StrictAccounts && len(conn.ProviderAccounts) > 0 && !contains(conn.ProviderAccounts, opts.Signer) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotExposed, opts.Signer.Hex())
		}
	case len(conn.ProviderAccounts) > 0:
		conn.Address = conn.ProviderAccounts[0]
	default:
		return nil, ErrNoAccount
	}

	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query network: %w", err)
	}

	if chainID != targetChainID {
		logger.Info("Switching network",
			slog.Uint64("from", chainID),
			slog.Uint64("to", targetChainID),
		)
		if err := p.SwitchChain(ctx, targetChainID); err != nil {
			return nil, fmt.Errorf("%w: on chain %d, want %d: switch failed: %v", ErrWrongNetwork, chainID, targetChainID, err)
		}
		chainID, err = p.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("query network after switch: %w", err)
		}
		if chainID != targetChainID {
			return nil, fmt.Errorf("%w: on chain %d, want %d", ErrWrongNetwork, chainID, targetChainID)
		}
		conn.Switched = true
	}
	conn.ChainID = chainID

	logger.Info("Wallet connected",
		slog.String("address", conn.Address.Hex()),
		slog.Uint64("chainId", chainID),
	)
	return conn, nil
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
