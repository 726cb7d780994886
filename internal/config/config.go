// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/gateway-fm/dexkit/internal/account"
)

// Networks dexkit has presets for.
const (
	NetworkLocalhost = "localhost"
	NetworkHardhat   = "hardhat"
	NetworkHoodi     = "hoodi"
)

// Defaults
const (
	DefaultNetwork            = NetworkHoodi
	DefaultLocalRPCURL        = "http://127.0.0.1:8545"
	DefaultLocalChainID       = 31337
	HoodiChainID              = 560048
	DefaultRouter             = "0x5b491662E508c2E405500C8BF9d67E5dF780cD8e"
	DefaultFactory            = "0x342D7aeC78cd3b581eb67655B6B7Bb157328590e"
	DefaultListenAddr         = ":13001"
	DefaultDatabasePath       = "./data/dexkit.db"
	DefaultAddressesFile      = "scripts/addresses.json"
	DefaultCORSAllowedOrigins = "*"
	DefaultLogLevel           = "info"
	DefaultRPCRate            = 0 // unpaced
)

var (
	// ErrMissingRPCURL is returned when neither the network preset nor the
	// environment provides an endpoint.
	ErrMissingRPCURL = errors.New("missing RPC URL (set DEX_RPC_URL, or FIN556_ALCHEMY_URL for hoodi)")
	// ErrNoSigner is returned by Signer when no key material is configured.
	ErrNoSigner = errors.New("no signer configured (set DEX_PRIVATE_KEY or FIN556_MNEMONIC)")
)

// Preset is a known network.
type Preset struct {
	RPCURL  string
	ChainID uint64
}

// Presets returns the network presets. The hoodi URL comes from alchemyURL.
func Presets(alchemyURL string) map[string]Preset {
	return map[string]Preset{
		NetworkLocalhost: {RPCURL: DefaultLocalRPCURL, ChainID: DefaultLocalChainID},
		NetworkHardhat:   {RPCURL: DefaultLocalRPCURL, ChainID: DefaultLocalChainID},
		NetworkHoodi:     {RPCURL: alchemyURL, ChainID: HoodiChainID},
	}
}

// Config holds dexkit configuration.
type Config struct {
	Network            string
	RPCURL             string // empty means the network preset
	ChainID            uint64 // 0 means the network preset
	AlchemyURL         string
	PrivateKey         string
	Mnemonic           string
	Router             string
	Factory            string // empty means ask the router
	DatabasePath       string
	ListenAddr         string
	CORSAllowedOrigins string // comma-separated, or "*"
	RPCRate            float64
	LogLevel           string
	AddressesFile      string
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Network:            DefaultNetwork,
		Router:             DefaultRouter,
		Factory:            DefaultFactory,
		DatabasePath:       DefaultDatabasePath,
		ListenAddr:         DefaultListenAddr,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		RPCRate:            DefaultRPCRate,
		LogLevel:           DefaultLogLevel,
		AddressesFile:      DefaultAddressesFile,
	}
}

// Load reads .env files (when present) and then the environment.
// Variables already set in the environment win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv over the defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	if v := getenv("DEX_NETWORK"); v != "" {
		cfg.Network = strings.ToLower(v)
	}
	cfg.AlchemyURL = getenv("FIN556_ALCHEMY_URL")
	cfg.Mnemonic = getenv("FIN556_MNEMONIC")
	cfg.PrivateKey = getenv("DEX_PRIVATE_KEY")
	cfg.RPCURL = getenv("DEX_RPC_URL")
	if v := getenv("DEX_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DEX_CHAIN_ID %q: %w", v, err)
		}
		cfg.ChainID = id
	}
	if v := getenv("DEX_ROUTER"); v != "" {
		cfg.Router = v
	}
	if v, ok := lookup(getenv, "DEX_FACTORY"); ok {
		cfg.Factory = v
	}
	if v := getenv("DEX_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv("DEX_HTTP_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("DEX_CORS_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := getenv("DEX_RPC_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DEX_RPC_RATE %q: %w", v, err)
		}
		cfg.RPCRate = rate
	}
	if v := getenv("DEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("DEX_ADDRESSES_FILE"); v != "" {
		cfg.AddressesFile = v
	}
	return cfg, nil
}

// lookup treats "-" as an explicit empty value so a default can be cleared.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	if v == "" {
		return "", false
	}
	if v == "-" {
		return "", true
	}
	return v, true
}

// ResolvedRPCURL returns RPCURL, or the network preset's URL.
func (c *Config) ResolvedRPCURL() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	return Presets(c.AlchemyURL)[c.Network].RPCURL
}

// ResolvedChainID returns ChainID, or the network preset's chain ID.
func (c *Config) ResolvedChainID() uint64 {
	if c.ChainID != 0 {
		return c.ChainID
	}
	return Presets(c.AlchemyURL)[c.Network].ChainID
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, ok := Presets("")[c.Network]; !ok && (c.RPCURL == "" || c.ChainID == 0) {
		return fmt.Errorf("unknown network %q (supported: localhost, hardhat, hoodi; or set DEX_RPC_URL and DEX_CHAIN_ID)", c.Network)
	}
	if c.ResolvedRPCURL() == "" {
		return ErrMissingRPCURL
	}
	if c.ResolvedChainID() == 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	if !common.IsHexAddress(c.Router) {
		return fmt.Errorf("invalid router address %q", c.Router)
	}
	if c.Factory != "" && !common.IsHexAddress(c.Factory) {
		return fmt.Errorf("invalid factory address %q", c.Factory)
	}
	if c.RPCRate < 0 {
		return fmt.Errorf("RPC rate cannot be negative")
	}
	return nil
}

// Signer returns the configured account. DEX_PRIVATE_KEY wins over the
// mnemonic, which is derived at the first Ethereum path.
func (c *Config) Signer() (*account.Account, error) {
	switch {
	case c.PrivateKey != "":
		acc, err := account.NewAccountFromHex(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("DEX_PRIVATE_KEY: %w", err)
		}
		return acc, nil
	case c.Mnemonic != "":
		acc, err := account.NewAccountFromMnemonic(c.Mnemonic, "", account.DefaultDerivationPath)
		if err != nil {
			return nil, fmt.Errorf("FIN556_MNEMONIC: %w", err)
		}
		return acc, nil
	}
	return nil, ErrNoSigner
}

// CORSOrigins splits CORSAllowedOrigins.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NewLogger returns a text slog.Logger writing to stderr at level.
// Supported levels: debug, info, warn, error.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
