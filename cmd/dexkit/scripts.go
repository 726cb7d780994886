package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/dexkit/internal/liquidity"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
)

const (
	defaultPairArtifact  = "artifacts/contracts/v2-core/UniswapV2Pair.sol/UniswapV2Pair.json"
	defaultTokenArtifact = "artifacts/contracts/DemoToken.sol/DemoToken.json"
)

// loadBook reads the address book, filling router and factory from the
// configuration when the file does not name them.
func (e *env) loadBook() (*liquidity.AddressBook, error) {
	book, err := liquidity.LoadAddressBook(e.cfg.AddressesFile)
	if err != nil {
		return nil, err
	}
	if book.Router == "" {
		book.Router = e.cfg.Router
	}
	if book.Factory == "" {
		book.Factory = e.cfg.Factory
	}
	return book, nil
}

// withRunner builds a signing Runner over the address book and the
// database, hydrates the book from stored deployments and runs fn.
func withRunner(fn func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error) cli.ActionFunc {
	return action(func(ctx context.Context, c *cli.Context, e *env) error {
		client := e.rpcClient(nil)
		snd, err := e.newSender(client, func(name string, took time.Duration, err error) {
			if err != nil {
				e.logger.Warn("Transaction failed", slog.String("name", name), slog.String("error", err.Error()))
				return
			}
			e.logger.Debug("Transaction confirmed", slog.String("name", name), slog.Duration("took", took))
		})
		if err != nil {
			return err
		}
		if snd == nil {
			return fmt.Errorf("%s sends transactions: set DEX_PRIVATE_KEY or FIN556_MNEMONIC", c.Command.Name)
		}

		book, err := e.loadBook()
		if err != nil {
			return err
		}
		store, err := e.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var initHash common.Hash
		if v := c.String("init-code-hash"); v != "" {
			initHash = common.HexToHash(v)
		}
		r := liquidity.New(liquidity.Config{
			Client:       client,
			Sender:       snd,
			ChainID:      e.cfg.ResolvedChainID(),
			Book:         book,
			BookPath:     e.cfg.AddressesFile,
			Store:        store,
			InitCodeHash: initHash,
			Out:          e.out,
			Logger:       e.logger,
		})

		restored, stale, err := r.Hydrate(ctx)
		if err != nil {
			return fmt.Errorf("hydrate address book: %w", err)
		}
		if len(restored) > 0 || len(stale) > 0 {
			e.logger.Info("Hydrated address book from storage",
				slog.Any("restored", restored),
				slog.Any("stale", stale),
			)
		}
		return fn(ctx, c, r)
	})
}

func initCodeHashFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "init-code-hash",
		Usage: "pair init code hash for CREATE2 predictions (default: the canonical UniswapV2 hash)",
	}
}

func addFlags() []cli.Flag {
	def := liquidity.DefaultAddConfig()
	return []cli.Flag{
		&cli.StringFlag{Name: "tokens", Value: def.TokenAmount, Usage: "token amount to deposit, in whole tokens"},
		&cli.StringFlag{Name: "eth", Value: def.ETHAmount, Usage: "ETH amount to deposit"},
	}
}

func addConfig(c *cli.Context) liquidity.AddConfig {
	return liquidity.AddConfig{TokenAmount: c.String("tokens"), ETHAmount: c.String("eth")}
}

func removeConfig(c *cli.Context) (liquidity.RemoveConfig, error) {
	cfg := liquidity.DefaultRemoveConfig()
	cfg.RemoveBps = c.Int64("bps")
	cfg.SlippageBps = c.Int64("slippage-bps")
	cfg.Deadline = c.Duration("deadline")

	var err error
	if cfg.InitTokens, err = decimal.NewFromString(c.String("init-tokens")); err != nil {
		return cfg, fmt.Errorf("invalid --init-tokens: %w", err)
	}
	if cfg.InitETH, err = decimal.NewFromString(c.String("init-eth")); err != nil {
		return cfg, fmt.Errorf("invalid --init-eth: %w", err)
	}
	return cfg, nil
}

func scriptCommands() []*cli.Command {
	def := liquidity.DefaultRemoveConfig()
	return []*cli.Command{
		{
			Name:  "init-code-hash",
			Usage: "print the init code hash of a compiled UniswapV2Pair",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "artifact", Value: defaultPairArtifact, Usage: "Hardhat artifact of the pair contract"},
			},
			Action: func(c *cli.Context) error {
				_, err := liquidity.GenInitCodeHash(c.String("artifact"), c.App.Writer)
				return err
			},
		},
		{
			Name:  "pair-address",
			Usage: "predict the CREATE2 address of a pair without touching the chain",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "token-a", Usage: "first token (default: the address book token)"},
				&cli.StringFlag{Name: "token-b", Usage: "second token (default: the address book WETH9)"},
				initCodeHashFlag(),
			},
			Action: action(func(ctx context.Context, c *cli.Context, e *env) error {
				book, err := e.loadBook()
				if err != nil {
					return err
				}
				a, err := pickAddress(c.String("token-a"), book, "token")
				if err != nil {
					return err
				}
				b, err := pickAddress(c.String("token-b"), book, "weth9")
				if err != nil {
					return err
				}
				factory, err := book.Address("factory")
				if err != nil {
					return err
				}
				hash := uniswapv2.DefaultInitCodeHash
				if v := c.String("init-code-hash"); v != "" {
					hash = common.HexToHash(v)
				}
				pair, err := liquidity.PredictPair(factory, a, b, hash)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.out, "Factory: %s\n", factory.Hex())
				fmt.Fprintf(e.out, "Init code hash: %s\n", hash.Hex())
				fmt.Fprintf(e.out, "Pair: %s\n", pair.Hex())
				return nil
			}),
		},
		{
			Name:  "deploy-token",
			Usage: "deploy the demo token unless the address book already has one",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "artifact", Value: defaultTokenArtifact, Usage: "Hardhat artifact of the token contract"},
			},
			Action: withRunner(func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error {
				art, err := liquidity.LoadArtifact(c.String("artifact"))
				if err != nil {
					return err
				}
				_, err = r.DeployToken(ctx, art)
				return err
			}),
		},
		{
			Name:  "create-pool",
			Usage: "create the token/WETH pair unless it exists",
			Flags: []cli.Flag{initCodeHashFlag()},
			Action: withRunner(func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error {
				_, err := r.CreatePool(ctx)
				return err
			}),
		},
		{
			Name:  "add-liquidity",
			Usage: "deposit token and ETH into the token/WETH pair",
			Flags: addFlags(),
			Action: withRunner(func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error {
				_, err := r.AddLiquidity(ctx, addConfig(c))
				return err
			}),
		},
		{
			Name:  "remove-liquidity",
			Usage: "withdraw liquidity and report impermanent loss",
			Flags: []cli.Flag{
				&cli.Int64Flag{Name: "bps", Value: def.RemoveBps, Usage: "share of the LP balance to remove, in basis points"},
				&cli.Int64Flag{Name: "slippage-bps", Value: def.SlippageBps, Usage: "slippage tolerance on the expected outs, in basis points"},
				&cli.DurationFlag{Name: "deadline", Value: def.Deadline, Usage: "transaction deadline from now"},
				&cli.StringFlag{Name: "init-tokens", Value: def.InitTokens.String(), Usage: "tokens originally deposited"},
				&cli.StringFlag{Name: "init-eth", Value: def.InitETH.String(), Usage: "ETH originally deposited"},
			},
			Action: withRunner(func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error {
				cfg, err := removeConfig(c)
				if err != nil {
					return err
				}
				_, err = r.RemoveLiquidity(ctx, cfg)
				return err
			}),
		},
		{
			Name:  "setup",
			Usage: "deploy-token, create-pool and add-liquidity in one go",
			Flags: append(addFlags(),
				&cli.StringFlag{Name: "artifact", Value: defaultTokenArtifact, Usage: "Hardhat artifact of the token contract"},
				initCodeHashFlag(),
			),
			Action: withRunner(func(ctx context.Context, c *cli.Context, r *liquidity.Runner) error {
				art, err := liquidity.LoadArtifact(c.String("artifact"))
				if err != nil {
					return err
				}
				return r.Setup(ctx, art, addConfig(c), func(step string, done, total int) {
					fmt.Fprintf(c.App.Writer, "[%d/%d] %s done\n", done, total, step)
				})
			}),
		},
	}
}

// pickAddress returns flag when set, otherwise the named book entry.
func pickAddress(flag string, book *liquidity.AddressBook, name string) (common.Address, error) {
	if flag == "" {
		return book.Address(name)
	}
	if !common.IsHexAddress(flag) {
		return common.Address{}, fmt.Errorf("invalid address %q", flag)
	}
	return common.HexToAddress(flag), nil
}
