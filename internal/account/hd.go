package account

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultDerivationPath is the first Ethereum account, m/44'/60'/0'/0/0.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

var (
	ErrEmptyMnemonic  = errors.New("mnemonic is empty")
	ErrInvalidChild   = errors.New("derived key is invalid for this index")
	errInvalidMaster  = errors.New("seed produced an invalid master key")
	bip32MasterSecret = []byte("Bitcoin seed")
)

// MnemonicSeed turns a BIP-39 mnemonic into its 64-byte seed. Word list
// membership and checksum are not checked: wallets differ on both and the
// seed is well defined for any phrase.
func MnemonicSeed(mnemonic, passphrase string) ([]byte, error) {
	words := strings.Fields(mnemonic)
	if len(words) == 0 {
		return nil, ErrEmptyMnemonic
	}
	normalized := strings.Join(words, " ")
	return pbkdf2.Key([]byte(normalized), []byte("mnemonic"+passphrase), 2048, 64, sha512.New), nil
}

// DeriveKey derives the secp256k1 key at path from a mnemonic (BIP-32).
func DeriveKey(mnemonic, passphrase, path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		path = DefaultDerivationPath
	}
	dpath, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
	}
	seed, err := MnemonicSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}

	key, chain, err := masterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, index := range dpath {
		key, chain, err = childKey(key, chain, index)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
	}
	return crypto.ToECDSA(key.FillBytes(make([]byte, 32)))
}

func masterKey(seed []byte) (*big.Int, []byte, error) {
	mac := hmac.New(sha512.New, bip32MasterSecret)
	mac.Write(seed)
	sum := mac.Sum(nil)

	k := new(big.Int).SetBytes(sum[:32])
	if k.Sign() == 0 || k.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, nil, errInvalidMaster
	}
	return k, sum[32:], nil
}

func childKey(parent *big.Int, chain []byte, index uint32) (*big.Int, []byte, error) {
	data := make([]byte, 0, 37)
	if index >= 0x80000000 {
		data = append(data, 0)
		data = append(data, parent.FillBytes(make([]byte, 32))...)
	} else {
		priv, err := crypto.ToECDSA(parent.FillBytes(make([]byte, 32)))
		if err != nil {
			return nil, nil, err
		}
		data = append(data, crypto.CompressPubkey(&priv.PublicKey)...)
	}
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chain)
	mac.Write(data)
	sum := mac.Sum(nil)

	n := crypto.S256().Params().N
	il := new(big.Int).SetBytes(sum[:32])
	if il.Cmp(n) >= 0 {
		return nil, nil, ErrInvalidChild
	}
	child := il.Add(il, parent)
	child.Mod(child, n)
	if child.Sign() == 0 {
		return nil, nil, ErrInvalidChild
	}
	return child, sum[32:], nil
}
