package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Caller executes read-only contract calls. rpc.Client satisfies it.
type Caller interface {
	EthCall(ctx context.Context, to string, data []byte) ([]byte, error)
}

// ErrNoPair is returned when the factory has no pair for two tokens.
var ErrNoPair = errors.New("uniswapv2: pair does not exist")

// Reserves is a getReserves() snapshot in token0/token1 order.
type Reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

func call(ctx context.Context, c Caller, to common.Address, data []byte, what string) ([]byte, error) {
	out, err := c.EthCall(ctx, to.Hex(), data)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", what, to.Hex(), err)
	}
	return out, nil
}

func callAddress(ctx context.Context, c Caller, to common.Address, data []byte, what string) (common.Address, error) {
	out, err := call(ctx, c, to, data, what)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := DecodeAddress(out)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s on %s: %w", what, to.Hex(), err)
	}
	return addr, nil
}

func callUint(ctx context.Context, c Caller, to common.Address, data []byte, what string) (*big.Int, error) {
	out, err := call(ctx, c, to, data, what)
	if err != nil {
		return nil, err
	}
	v, err := DecodeUint(out)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", what, to.Hex(), err)
	}
	return v, nil
}

// ERC20 reads token metadata and balances.
type ERC20 struct {
	Address common.Address
	caller  Caller
}

// NewERC20 binds an ERC20 view to address.
func NewERC20(c Caller, address common.Address) *ERC20 {
	return &ERC20{Address: address, caller: c}
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := call(ctx, t.caller, t.Address, EncodeSymbol(), "symbol")
	if err != nil {
		return "", err
	}
	return DecodeSymbol(out)
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := call(ctx, t.caller, t.Address, EncodeDecimals(), "decimals")
	if err != nil {
		return 0, err
	}
	return DecodeDecimals(out)
}

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return callUint(ctx, t.caller, t.Address, EncodeBalanceOf(owner), "balanceOf")
}

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return callUint(ctx, t.caller, t.Address, EncodeAllowance(owner, spender), "allowance")
}

// Factory reads a UniswapV2Factory.
type Factory struct {
	Address common.Address
	caller  Caller
}

// NewFactory binds a factory view to address.
func NewFactory(c Caller, address common.Address) *Factory {
	return &Factory{Address: address, caller: c}
}

// GetPair returns the pair for two tokens, or the zero address.
func (f *Factory) GetPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	return callAddress(ctx, f.caller, f.Address, EncodeGetPair(tokenA, tokenB), "getPair")
}

// Pair reads a UniswapV2Pair. A pair is also the ERC20 of its LP token.
type Pair struct {
	ERC20
}

// NewPair binds a pair view to address.
func NewPair(c Caller, address common.Address) *Pair {
	return &Pair{ERC20: ERC20{Address: address, caller: c}}
}

func (p *Pair) Token0(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, p.caller, p.Address, SelectorToken0, "token0")
}

func (p *Pair) Token1(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, p.caller, p.Address, SelectorToken1, "token1")
}

func (p *Pair) TotalSupply(ctx context.Context) (*big.Int, error) {
	return callUint(ctx, p.caller, p.Address, SelectorTotalSupply, "totalSupply")
}

func (p *Pair) GetReserves(ctx context.Context) (Reserves, error) {
	out, err := call(ctx, p.caller, p.Address, SelectorGetReserves, "getReserves")
	if err != nil {
		return Reserves{}, err
	}
	return DecodeReserves(out)
}

// ReservesFor returns the reserves ordered as (tokenA side, other side).
// tokenA must be one of the pair's tokens.
func (p *Pair) ReservesFor(ctx context.Context, tokenA common.Address) (reserveA, reserveB *big.Int, err error) {
	token0, err := p.Token0(ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := p.GetReserves(ctx)
	if err != nil {
		return nil, nil, err
	}
	if token0 == tokenA {
		return r.Reserve0, r.Reserve1, nil
	}
	token1, err := p.Token1(ctx)
	if err != nil {
		return nil, nil, err
	}
	if token1 != tokenA {
		return nil, nil, fmt.Errorf("token %s is not in pair %s", tokenA.Hex(), p.Address.Hex())
	}
	return r.Reserve1, r.Reserve0, nil
}

// Router reads a UniswapV2Router02.
type Router struct {
	Address common.Address
	caller  Caller
}

// NewRouter binds a router view to address.
func NewRouter(c Caller, address common.Address) *Router {
	return &Router{Address: address, caller: c}
}

// WETH returns the router's wrapped native token.
func (r *Router) WETH(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, r.caller, r.Address, SelectorWETH, "WETH")
}

// Factory returns the factory the router was deployed against.
func (r *Router) Factory(ctx context.Context) (common.Address, error) {
	return callAddress(ctx, r.caller, r.Address, SelectorFactory, "factory")
}

// GetAmountsOut asks the router to price amountIn along path. It reverts
// when any hop has no pair or no liquidity.
func (r *Router) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := EncodeGetAmountsOut(amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to encode getAmountsOut: %w", err)
	}
	out, err := call(ctx, r.caller, r.Address, data, "getAmountsOut")
	if err != nil {
		return nil, err
	}
	amounts, err := DecodeAmounts(out)
	if err != nil {
		return nil, err
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut returned %d amounts for a %d-token path", len(amounts), len(path))
	}
	return amounts, nil
}

// QuoteOut returns the last element of GetAmountsOut.
func (r *Router) QuoteOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	amounts, err := r.GetAmountsOut(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}
