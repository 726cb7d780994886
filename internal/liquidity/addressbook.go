// Package liquidity holds the one-shot scripts that stand up a UniswapV2
// market for a demo token: deploy the token, create its WETH pair, seed
// liquidity and later withdraw it.
package liquidity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultAddressFile is the address book the scripts read and update.
const DefaultAddressFile = "addresses.json"

// ErrMissingAddress is returned when a script needs an address the book
// does not hold.
var ErrMissingAddress = errors.New("address book entry missing")

// AddressBook is the addresses.json shared by the scripts.
type AddressBook struct {
	Token   string `json:"token,omitempty"`
	WETH9   string `json:"weth9,omitempty"`
	Factory string `json:"factory,omitempty"`
	Router  string `json:"router,omitempty"`
}

// UnmarshalJSON also accepts the upper-case keys TOKEN, WETH, FACTORY and
// ROUTER. Lower-case keys win when both are present.
func (b *AddressBook) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(raw[k]); v != "" {
				return v
			}
		}
		return ""
	}
	*b = AddressBook{
		Token:   pick("token", "TOKEN"),
		WETH9:   pick("weth9", "WETH"),
		Factory: pick("factory", "FACTORY"),
		Router:  pick("router", "ROUTER"),
	}
	return nil
}

// Merge overwrites b's fields with the non-empty fields of update.
func (b *AddressBook) Merge(update AddressBook) {
	if update.Token != "" {
		b.Token = update.Token
	}
	if update.WETH9 != "" {
		b.WETH9 = update.WETH9
	}
	if update.Factory != "" {
		b.Factory = update.Factory
	}
	if update.Router != "" {
		b.Router = update.Router
	}
}

// Address returns the named entry ("token", "weth9", "factory" or "router").
func (b *AddressBook) Address(name string) (common.Address, error) {
	var v string
	switch name {
	case "token":
		v = b.Token
	case "weth9":
		v = b.WETH9
	case "factory":
		v = b.Factory
	case "router":
		v = b.Router
	default:
		return common.Address{}, fmt.Errorf("unknown address book entry %q", name)
	}
	if v == "" {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingAddress, name)
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("address book entry %s: invalid address %q", name, v)
	}
	return common.HexToAddress(v), nil
}

// LoadAddressBook reads path. A missing file yields an empty book.
func LoadAddressBook(path string) (*AddressBook, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &AddressBook{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}
	var b AddressBook
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &b, nil
}

// SaveAddressBook merges update into the book at path and writes it back,
// keeping entries update does not mention.
func SaveAddressBook(path string, update AddressBook) (*AddressBook, error) {
	b, err := LoadAddressBook(path)
	if err != nil {
		return nil, err
	}
	b.Merge(update)

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write address book: %w", err)
	}
	return b, nil
}
