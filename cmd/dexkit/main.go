// dexkit is a Uniswap-V2 DEX client: wallet session commands, an HTTP API
// and the deploy and liquidity scripts.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dexkit",
		Usage: "trade against and provide liquidity to a Uniswap-V2 deployment",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "env-file", Value: cli.NewStringSlice(".env"), Usage: "dotenv files to load before the environment"},
			&cli.StringFlag{Name: "network", Usage: "network preset: localhost, hardhat or hoodi (env DEX_NETWORK)"},
			&cli.StringFlag{Name: "rpc-url", Usage: "JSON-RPC endpoint, overrides the preset (env DEX_RPC_URL)"},
			&cli.Uint64Flag{Name: "chain-id", Usage: "target chain ID, overrides the preset (env DEX_CHAIN_ID)"},
			&cli.StringFlag{Name: "router", Usage: "UniswapV2Router02 address (env DEX_ROUTER)"},
			&cli.StringFlag{Name: "factory", Usage: "UniswapV2Factory address, \"-\" to ask the router (env DEX_FACTORY)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (env DEX_DB_PATH)"},
			&cli.StringFlag{Name: "addresses", Usage: "address book JSON used by the scripts (env DEX_ADDRESSES_FILE)"},
			&cli.Float64Flag{Name: "rpc-rate", Usage: "max RPC requests per second, 0 for unpaced (env DEX_RPC_RATE)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (env DEX_LOG_LEVEL)"},
		},
		Commands: append(sessionCommands(), append(scriptCommands(), serveCommand())...),
	}
}
