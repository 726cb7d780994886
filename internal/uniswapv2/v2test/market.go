// Package v2test simulates a UniswapV2 deployment on top of rpctest.Fake:
// ERC20 tokens, pairs, a factory and a router whose views and
// transactions move real (in-memory) balances and reserves.
package v2test

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/dexkit/internal/rpc/rpctest"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
)

// Well-known addresses used by tests.
var (
	Router  = common.HexToAddress("0x5b491662E508c2E405500C8BF9d67E5dF780cD8e")
	Factory = common.HexToAddress("0x342D7aeC78cd3b581eb67655B6B7Bb157328590e")
	WETH    = common.HexToAddress("0x7D3c7f1c6d0f2a6F1C4Ee6bB8D36E9A3a1C8a9f2")
)

var minimumLiquidity = big.NewInt(1000)

// Token is a simulated ERC20.
type Token struct {
	Symbol     string
	Decimals   uint8
	Supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

// Pool is a simulated pair. Its LP token lives in Market's token table.
type Pool struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Market is the simulated deployment. All methods are safe for concurrent use.
type Market struct {
	Fake         *rpctest.Fake
	InitCodeHash common.Hash

	mu          sync.Mutex
	tokens      map[common.Address]*Token
	pools       map[[2]common.Address]*Pool
	revertSwaps bool
}

// NewMarket installs the router, factory and WETH on f.
func NewMarket(f *rpctest.Fake) *Market {
	m := &Market{
		Fake:         f,
		InitCodeHash: uniswapv2.DefaultInitCodeHash,
		tokens:       make(map[common.Address]*Token),
		pools:        make(map[[2]common.Address]*Pool),
	}
	m.AddToken(WETH, "WETH", 18)

	f.Returns(Router, uniswapv2.SelectorWETH, rpctest.Address(WETH))
	f.Returns(Router, uniswapv2.SelectorFactory, rpctest.Address(Factory))
	f.HandleCall(Router, uniswapv2.SelectorGetAmountsOut, m.getAmountsOut)
	f.HandleTx(Router, uniswapv2.SelectorSwapExactETHForTokens, m.swapExactETHForTokens)
	f.HandleTx(Router, uniswapv2.SelectorSwapExactTokensForETH, m.swapTokens)
	f.HandleTx(Router, uniswapv2.SelectorSwapExactTokensForTokens, m.swapTokens)
	f.HandleTx(Router, uniswapv2.SelectorAddLiquidityETH, m.addLiquidityETH)
	f.HandleTx(Router, uniswapv2.SelectorRemoveLiquidityETH, m.removeLiquidityETH)

	f.HandleCall(Factory, uniswapv2.SelectorGetPair, func(args []byte) ([]byte, error) {
		p := m.Pool(rpctest.ArgAddress(args, 0), rpctest.ArgAddress(args, 1))
		if p == nil {
			return rpctest.Address(common.Address{}), nil
		}
		return rpctest.Address(p.Address), nil
	})
	f.HandleTx(Factory, uniswapv2.SelectorCreatePair, func(tx *types.Transaction, _ common.Address) bool {
		args := tx.Data()[4:]
		_, err := m.CreatePair(rpctest.ArgAddress(args, 0), rpctest.ArgAddress(args, 1))
		return err == nil
	})
	return m
}

// RevertSwaps makes every router swap revert.
func (m *Market) RevertSwaps(v bool) {
	m.mu.Lock()
	m.revertSwaps = v
	m.mu.Unlock()
}

// AddToken registers an ERC20 at addr.
func (m *Market) AddToken(addr common.Address, symbol string, decimals uint8) {
	m.mu.Lock()
	m.tokens[addr] = &Token{
		Symbol:     symbol,
		Decimals:   decimals,
		Supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
	}
	m.mu.Unlock()

	f := m.Fake
	f.Returns(addr, uniswapv2.SelectorSymbol, rpctest.String(symbol))
	f.Returns(addr, uniswapv2.SelectorDecimals, rpctest.Uint64(uint64(decimals)))
	f.HandleCall(addr, uniswapv2.SelectorBalanceOf, func(args []byte) ([]byte, error) {
		return rpctest.Uint(m.BalanceOf(addr, rpctest.ArgAddress(args, 0))), nil
	})
	f.HandleCall(addr, uniswapv2.SelectorAllowance, func(args []byte) ([]byte, error) {
		return rpctest.Uint(m.Allowance(addr, rpctest.ArgAddress(args, 0), rpctest.ArgAddress(args, 1))), nil
	})
	f.HandleCall(addr, uniswapv2.SelectorTotalSupply, func([]byte) ([]byte, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return rpctest.Uint(m.tokens[addr].Supply), nil
	})
	f.HandleTx(addr, uniswapv2.SelectorApprove, func(tx *types.Transaction, from common.Address) bool {
		args := tx.Data()[4:]
		m.SetAllowance(addr, from, rpctest.ArgAddress(args, 0), rpctest.ArgUint(args, 1))
		return true
	})
}

// Mint credits amount of token to owner.
func (m *Market) Mint(token, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[token]
	t.balances[owner] = new(big.Int).Add(bal(t, owner), amount)
	t.Supply.Add(t.Supply, amount)
}

// BalanceOf returns owner's balance of token.
func (m *Market) BalanceOf(token, owner common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal(t, owner))
}

// Allowance returns token's allowance from owner to spender.
func (m *Market) Allowance(token, owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return new(big.Int)
	}
	if a, ok := t.allowances[[2]common.Address{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// SetAllowance sets token's allowance from owner to spender.
func (m *Market) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token].allowances[[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
}

// CreatePair deploys an empty pair at its CREATE2 address.
func (m *Market) CreatePair(tokenA, tokenB common.Address) (*Pool, error) {
	token0, token1, err := uniswapv2.SortTokens(tokenA, tokenB)
	if err != nil {
		return nil, err
	}
	addr, err := uniswapv2.ComputePairAddress(Factory, token0, token1, m.InitCodeHash)
	if err != nil {
		return nil, err
	}
	return m.addPool(addr, token0, token1), nil
}

// AddPair registers a pair at addr holding the given reserves. The caller
// receives no LP tokens; use MintLP for that.
func (m *Market) AddPair(addr, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) *Pool {
	token0, token1, _ := uniswapv2.SortTokens(tokenA, tokenB)
	p := m.addPool(addr, token0, token1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if token0 == tokenA {
		p.Reserve0.Set(reserveA)
		p.Reserve1.Set(reserveB)
	} else {
		p.Reserve0.Set(reserveB)
		p.Reserve1.Set(reserveA)
	}
	return p
}

func (m *Market) addPool(addr, token0, token1 common.Address) *Pool {
	m.mu.Lock()
	if p, ok := m.pools[[2]common.Address{token0, token1}]; ok {
		m.mu.Unlock()
		return p
	}
	p := &Pool{Address: addr, Token0: token0, Token1: token1, Reserve0: new(big.Int), Reserve1: new(big.Int)}
	m.pools[[2]common.Address{token0, token1}] = p
	m.mu.Unlock()

	m.AddToken(addr, "UNI-V2", 18)
	m.Fake.Returns(addr, uniswapv2.SelectorToken0, rpctest.Address(token0))
	m.Fake.Returns(addr, uniswapv2.SelectorToken1, rpctest.Address(token1))
	m.Fake.HandleCall(addr, uniswapv2.SelectorGetReserves, func([]byte) ([]byte, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return rpctest.Words(rpctest.Uint(p.Reserve0), rpctest.Uint(p.Reserve1), rpctest.Uint64(1_700_000_000)), nil
	})
	return p
}

// MintLP credits LP tokens of pair to owner.
func (m *Market) MintLP(pair, owner common.Address, amount *big.Int) {
	m.Mint(pair, owner, amount)
}

// Pool returns the pair for two tokens, or nil.
func (m *Market) Pool(tokenA, tokenB common.Address) *Pool {
	token0, token1, err := uniswapv2.SortTokens(tokenA, tokenB)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[[2]common.Address{token0, token1}]
}

// Reserves returns a pair's reserves ordered as (tokenA, tokenB).
func (m *Market) Reserves(tokenA, tokenB common.Address) (*big.Int, *big.Int) {
	p := m.Pool(tokenA, tokenB)
	if p == nil {
		return new(big.Int), new(big.Int)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Token0 == tokenA {
		return new(big.Int).Set(p.Reserve0), new(big.Int).Set(p.Reserve1)
	}
	return new(big.Int).Set(p.Reserve1), new(big.Int).Set(p.Reserve0)
}

func (m *Market) getAmountsOut(args []byte) ([]byte, error) {
	amountIn := rpctest.ArgUint(args, 0)
	path, err := rpctest.ArgAddressArray(args, 1)
	if err != nil || len(path) < 2 {
		return nil, rpctest.ErrRevert
	}
	amounts, err := m.amountsOut(amountIn, path)
	if err != nil {
		return nil, rpctest.ErrRevert
	}
	return rpctest.Uints(amounts...), nil
}

func (m *Market) amountsOut(amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	reserves := make([][2]*big.Int, len(path)-1)
	for i := range reserves {
		if m.Pool(path[i], path[i+1]) == nil {
			return nil, uniswapv2.ErrNoPair
		}
		rIn, rOut := m.Reserves(path[i], path[i+1])
		reserves[i] = [2]*big.Int{rIn, rOut}
	}
	return uniswapv2.GetAmountsOut(amountIn, reserves)
}

// applySwap moves reserves along path and returns the final output.
func (m *Market) applySwap(amountIn, minOut *big.Int, path []common.Address) (*big.Int, bool) {
	m.mu.Lock()
	revert := m.revertSwaps
	m.mu.Unlock()
	if revert {
		return nil, false
	}
	amounts, err := m.amountsOut(amountIn, path)
	if err != nil {
		return nil, false
	}
	out := amounts[len(amounts)-1]
	if out.Cmp(minOut) < 0 {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i+1 < len(path); i++ {
		token0, token1, _ := uniswapv2.SortTokens(path[i], path[i+1])
		p := m.pools[[2]common.Address{token0, token1}]
		if p.Token0 == path[i] {
			p.Reserve0.Add(p.Reserve0, amounts[i])
			p.Reserve1.Sub(p.Reserve1, amounts[i+1])
		} else {
			p.Reserve1.Add(p.Reserve1, amounts[i])
			p.Reserve0.Sub(p.Reserve0, amounts[i+1])
		}
	}
	return out, true
}

// spend debits amount of token from owner through the router's allowance.
func (m *Market) spend(token, owner common.Address, amount *big.Int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return false
	}
	key := [2]common.Address{owner, Router}
	allowance, ok := t.allowances[key]
	if !ok || allowance.Cmp(amount) < 0 || bal(t, owner).Cmp(amount) < 0 {
		return false
	}
	if allowance.Cmp(uniswapv2.MaxUint256) != 0 {
		t.allowances[key] = new(big.Int).Sub(allowance, amount)
	}
	t.balances[owner] = new(big.Int).Sub(bal(t, owner), amount)
	return true
}

func (m *Market) swapExactETHForTokens(tx *types.Transaction, _ common.Address) bool {
	args := tx.Data()[4:]
	path, err := rpctest.ArgAddressArray(args, 1)
	if err != nil {
		return false
	}
	out, ok := m.applySwap(tx.Value(), rpctest.ArgUint(args, 0), path)
	if !ok {
		return false
	}
	m.Mint(path[len(path)-1], rpctest.ArgAddress(args, 2), out)
	return true
}

func (m *Market) swapTokens(tx *types.Transaction, from common.Address) bool {
	args := tx.Data()[4:]
	amountIn := rpctest.ArgUint(args, 0)
	path, err := rpctest.ArgAddressArray(args, 2)
	if err != nil {
		return false
	}
	if _, err := m.amountsOut(amountIn, path); err != nil {
		return false
	}
	if !m.spend(path[0], from, amountIn) {
		return false
	}
	out, ok := m.applySwap(amountIn, rpctest.ArgUint(args, 1), path)
	if !ok {
		m.Mint(path[0], from, amountIn)
		return false
	}
	m.Mint(path[len(path)-1], rpctest.ArgAddress(args, 3), out)
	return true
}

func (m *Market) addLiquidityETH(tx *types.Transaction, from common.Address) bool {
	args := tx.Data()[4:]
	token := rpctest.ArgAddress(args, 0)
	amountToken := rpctest.ArgUint(args, 1)
	to := rpctest.ArgAddress(args, 4)
	amountETH := tx.Value()

	p := m.Pool(token, WETH)
	if p == nil {
		var err error
		if p, err = m.CreatePair(token, WETH); err != nil {
			return false
		}
	}
	if !m.spend(token, from, amountToken) {
		return false
	}

	m.mu.Lock()
	supply := new(big.Int).Set(m.tokens[p.Address].Supply)
	var rToken, rETH *big.Int
	if p.Token0 == token {
		rToken, rETH = p.Reserve0, p.Reserve1
	} else {
		rToken, rETH = p.Reserve1, p.Reserve0
	}
	var liquidity *big.Int
	if supply.Sign() == 0 {
		liquidity = new(big.Int).Sqrt(new(big.Int).Mul(amountToken, amountETH))
		liquidity.Sub(liquidity, minimumLiquidity)
	} else {
		byToken := new(big.Int).Div(new(big.Int).Mul(amountToken, supply), rToken)
		byETH := new(big.Int).Div(new(big.Int).Mul(amountETH, supply), rETH)
		liquidity = byToken
		if byETH.Cmp(byToken) < 0 {
			liquidity = byETH
		}
	}
	rToken.Add(rToken, amountToken)
	rETH.Add(rETH, amountETH)
	lpAddr := p.Address
	first := supply.Sign() == 0
	m.mu.Unlock()

	if liquidity.Sign() <= 0 {
		return false
	}
	if first {
		m.Mint(lpAddr, common.Address{}, minimumLiquidity)
	}
	m.Mint(lpAddr, to, liquidity)
	return true
}

func (m *Market) removeLiquidityETH(tx *types.Transaction, from common.Address) bool {
	args := tx.Data()[4:]
	token := rpctest.ArgAddress(args, 0)
	liquidity := rpctest.ArgUint(args, 1)
	minToken := rpctest.ArgUint(args, 2)
	minETH := rpctest.ArgUint(args, 3)
	to := rpctest.ArgAddress(args, 4)

	p := m.Pool(token, WETH)
	if p == nil {
		return false
	}
	if !m.spend(p.Address, from, liquidity) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	lp := m.tokens[p.Address]
	var rToken, rETH *big.Int
	if p.Token0 == token {
		rToken, rETH = p.Reserve0, p.Reserve1
	} else {
		rToken, rETH = p.Reserve1, p.Reserve0
	}
	outToken := new(big.Int).Div(new(big.Int).Mul(liquidity, rToken), lp.Supply)
	outETH := new(big.Int).Div(new(big.Int).Mul(liquidity, rETH), lp.Supply)
	if outToken.Cmp(minToken) < 0 || outETH.Cmp(minETH) < 0 {
		lp.balances[from] = new(big.Int).Add(bal(lp, from), liquidity)
		return false
	}
	rToken.Sub(rToken, outToken)
	rETH.Sub(rETH, outETH)
	lp.Supply.Sub(lp.Supply, liquidity)
	t := m.tokens[token]
	t.balances[to] = new(big.Int).Add(bal(t, to), outToken)
	native, _ := m.Fake.GetBalance(context.Background(), to.Hex())
	m.Fake.SetBalance(to, native.Add(native, outETH))
	return true
}

func bal(t *Token, owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}
