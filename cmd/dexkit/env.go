package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/dexkit/internal/config"
	"github.com/gateway-fm/dexkit/internal/rpc"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
)

// env is what every command needs: the resolved configuration, a logger
// and somewhere to print.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func loadEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &env{
		cfg:    cfg,
		logger: config.NewLogger(cfg.LogLevel),
		out:    c.App.Writer,
	}, nil
}

// applyFlags overlays the global flags that were set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("rpc-url") {
		cfg.RPCURL = c.String("rpc-url")
	}
	if c.IsSet("chain-id") {
		cfg.ChainID = c.Uint64("chain-id")
	}
	if c.IsSet("router") {
		cfg.Router = c.String("router")
	}
	if c.IsSet("factory") {
		cfg.Factory = c.String("factory")
		if cfg.Factory == "-" {
			cfg.Factory = ""
		}
	}
	if c.IsSet("db") {
		cfg.DatabasePath = c.String("db")
	}
	if c.IsSet("addresses") {
		cfg.AddressesFile = c.String("addresses")
	}
	if c.IsSet("rpc-rate") {
		cfg.RPCRate = c.Float64("rpc-rate")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

func (e *env) rpcClient(observer rpc.MethodObserver) *rpc.HTTPClient {
	cc := rpc.DefaultClientConfig(e.cfg.ResolvedRPCURL())
	cc.RatePerSec = e.cfg.RPCRate
	cc.Observer = observer
	cc.Logger = e.logger
	return rpc.NewHTTPClient(cc)
}

// newSender returns nil without an error when no key is configured, which
// gives a read-only session.
func (e *env) newSender(client rpc.Client, observer sender.ConfirmObserver) (*sender.Sender, error) {
	acc, err := e.cfg.Signer()
	if errors.Is(err, config.ErrNoSigner) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sender.New(sender.Config{
		Client:   client,
		Account:  acc,
		ChainID:  e.cfg.ResolvedChainID(),
		Observer: observer,
		Logger:   e.logger,
	}), nil
}

func (e *env) openStore() (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(e.cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Opened storage", slog.String("path", e.cfg.DatabasePath))
	return store, nil
}

// action adapts a command body that needs an env.
func action(run func(ctx context.Context, c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := loadEnv(c)
		if err != nil {
			return err
		}
		return run(c.Context, c, e)
	}
}

func checkArgs(c *cli.Context, minArgs, maxArgs int) error {
	if n := c.NArg(); n < minArgs || n > maxArgs {
		return fmt.Errorf("usage: %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}
