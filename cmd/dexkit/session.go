package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/dexkit/internal/dex"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/pkg/types"
)

// session is a connected dex.Service backed by the configured database.
type session struct {
	svc   *dex.Service
	store *storage.SQLiteStorage
}

// openSession builds the service. With connect set it also connects the
// wallet; pools and quote skip that since they read no account state.
func (e *env) openSession(ctx context.Context, connect bool) (*session, error) {
	client := e.rpcClient(nil)
	snd, err := e.newSender(client, nil)
	if err != nil {
		return nil, err
	}
	store, err := e.openStore()
	if err != nil {
		return nil, err
	}

	var factory common.Address
	if e.cfg.Factory != "" {
		factory = common.HexToAddress(e.cfg.Factory)
	}
	svc := dex.New(dex.Config{
		Client:        client,
		Sender:        snd,
		Router:        common.HexToAddress(e.cfg.Router),
		Factory:       factory,
		TargetChainID: e.cfg.ResolvedChainID(),
		Recorder:      store,
		Logger:        e.logger,
	})
	if !connect {
		return &session{svc: svc, store: store}, nil
	}
	if _, err := svc.Connect(ctx); err != nil {
		printLog(e.out, svc)
		store.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &session{svc: svc, store: store}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// printLog writes the session debug log, one line per entry.
func printLog(w io.Writer, svc *dex.Service) {
	for _, l := range svc.Log().Lines() {
		fmt.Fprintln(w, l.Text)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withSession checks the argument count, connects, runs fn, and prints the
// debug log followed by the result. The log is printed on failure too.
func withSession(minArgs, maxArgs int, fn sessionFunc) cli.ActionFunc {
	return runSession(true, minArgs, maxArgs, fn)
}

// withView is withSession for commands that need no connected account.
func withView(minArgs, maxArgs int, fn sessionFunc) cli.ActionFunc {
	return runSession(false, minArgs, maxArgs, fn)
}

type sessionFunc func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error)

func runSession(connect bool, minArgs, maxArgs int, fn sessionFunc) cli.ActionFunc {
	return action(func(ctx context.Context, c *cli.Context, e *env) error {
		if err := checkArgs(c, minArgs, maxArgs); err != nil {
			return err
		}
		s, err := e.openSession(ctx, connect)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := fn(ctx, c, s.svc)
		printLog(e.out, s.svc)
		if err != nil {
			return err
		}
		return printJSON(e.out, res)
	})
}

func sessionCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "connect",
			Usage: "connect the configured signer and print the session",
			Action: withSession(0, 0, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Status(), nil
			}),
		},
		{
			Name:      "balances",
			Usage:     "print symbol and balance of up to 5 tokens",
			ArgsUsage: "<token> [token...]",
			Action: withSession(1, dex.MaxItems, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.GetTokenBalances(ctx, c.Args().Slice())
			}),
		},
		{
			Name:      "pools",
			Usage:     "print reserves and ETH prices of up to 5 pairs",
			ArgsUsage: "<pair> [pair...]",
			Action: withView(1, dex.MaxItems, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.GetPoolInfo(ctx, c.Args().Slice())
			}),
		},
		{
			Name:      "position",
			Usage:     "print balances, LP tokens and pool share for a pair",
			ArgsUsage: "<tokenA> <tokenB>",
			Action: withSession(2, 2, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.GetPosition(ctx, c.Args().Get(0), c.Args().Get(1))
			}),
		},
		{
			Name:      "quote",
			Usage:     "quote a swap through the router and locally",
			ArgsUsage: "<tokenIn> <tokenOut> <amount>",
			Action: withView(3, 3, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Quote(ctx, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			}),
		},
		{
			Name:      "approve",
			Usage:     "approve the router to spend a token",
			ArgsUsage: "<token> [amount]",
			Action: withSession(1, 2, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Approve(ctx, types.ApproveRequest{Token: c.Args().Get(0), Amount: c.Args().Get(1)})
			}),
		},
		{
			Name:      "buy",
			Usage:     "buy a token with ETH",
			ArgsUsage: "<token> <ethAmount>",
			Action: withSession(2, 2, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Buy(ctx, types.BuyRequest{Token: c.Args().Get(0), ETHAmount: c.Args().Get(1)})
			}),
		},
		{
			Name:      "sell",
			Usage:     "sell a token for ETH",
			ArgsUsage: "<token> <amount>",
			Action: withSession(2, 2, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Sell(ctx, types.SellRequest{Token: c.Args().Get(0), Amount: c.Args().Get(1)})
			}),
		},
		{
			Name:      "swap",
			Usage:     "swap one token for another, directly or via WETH",
			ArgsUsage: "<tokenIn> <tokenOut> <amount>",
			Action: withSession(3, 3, func(ctx context.Context, c *cli.Context, svc *dex.Service) (any, error) {
				return svc.Swap(ctx, types.SwapRequest{TokenIn: c.Args().Get(0), TokenOut: c.Args().Get(1), Amount: c.Args().Get(2)})
			}),
		},
	}
}
