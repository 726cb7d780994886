// Package account holds the signing key dexkit transacts with and tracks
// its nonce between sends.
package account

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceSource reports the next usable nonce for an address.
// rpc.Client satisfies it.
type NonceSource interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
}

// Account is a local signing key plus nonce bookkeeping.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	mu    sync.Mutex
	nonce uint64
}

// NewAccount wraps a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex parses a hex private key, with or without 0x.
func NewAccountFromHex(hexKey string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewAccount(privateKey), nil
}

// NewAccountFromMnemonic derives the key at path (e.g. m/44'/60'/0'/0/0)
// from a BIP-39 mnemonic, the way Hardhat's `accounts.mnemonic` does.
func NewAccountFromMnemonic(mnemonic, passphrase, path string) (*Account, error) {
	key, err := DeriveKey(mnemonic, passphrase, path)
	if err != nil {
		return nil, err
	}
	return NewAccount(key), nil
}

// Nonce is a reserved nonce that must be committed or rolled back.
type Nonce struct {
	value   uint64
	account *Account
	done    atomic.Bool
}

// Value returns the nonce value.
func (n *Nonce) Value() uint64 {
	return n.value
}

// Commit marks the nonce as used by a broadcast transaction.
func (n *Nonce) Commit() {
	n.done.Store(true)
}

// Rollback releases the nonce if it was not committed. Safe to defer.
func (n *Nonce) Rollback() {
	if n.done.Swap(true) {
		return
	}
	n.account.mu.Lock()
	defer n.account.mu.Unlock()
	if n.account.nonce == n.value+1 {
		n.account.nonce = n.value
	}
}

// ReserveNonce hands out the next local nonce.
//
//	n := acc.ReserveNonce()
//	defer n.Rollback()
//	... send ...
//	n.Commit()
func (a *Account) ReserveNonce() *Nonce {
	a.mu.Lock()
	v := a.nonce
	a.nonce++
	a.mu.Unlock()
	return &Nonce{value: v, account: a}
}

// Resync raises the local nonce to the provider's pending count. It never
// moves backwards, so a reservation made during the call is not reused.
func (a *Account) Resync(ctx context.Context, src NonceSource) error {
	nonce, err := src.GetNonce(ctx, a.Address.Hex())
	if err != nil {
		return fmt.Errorf("failed to fetch nonce: %w", err)
	}
	a.mu.Lock()
	if nonce > a.nonce {
		a.nonce = nonce
	}
	a.mu.Unlock()
	return nil
}

// SetNonce overrides the local nonce.
func (a *Account) SetNonce(nonce uint64) {
	a.mu.Lock()
	a.nonce = nonce
	a.mu.Unlock()
}

// PeekNonce returns the next nonce without reserving it.
func (a *Account) PeekNonce() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// DevPrivateKeys are the Hardhat/Anvil default accounts derived from
// "test test test test test test test test test test test junk".
// They only make sense on the localhost and hardhat networks.
var DevPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a",
}

// DevMnemonic is the mnemonic behind DevPrivateKeys.
const DevMnemonic = "test test test test test test test test test test test junk"

// DevAccount returns dev account i.
func DevAccount(i int) (*Account, error) {
	if i < 0 || i >= len(DevPrivateKeys) {
		return nil, fmt.Errorf("dev account index %d out of range [0,%d)", i, len(DevPrivateKeys))
	}
	return NewAccountFromHex(DevPrivateKeys[i])
}
