package uniswapv2

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors (first 4 bytes of keccak256(signature)).
var (
	// ERC20
	SelectorSymbol    = selector("symbol()")
	SelectorDecimals  = selector("decimals()")
	SelectorBalanceOf = selector("balanceOf(address)")
	SelectorAllowance = selector("allowance(address,address)")
	SelectorApprove   = selector("approve(address,uint256)")

	// UniswapV2Factory
	SelectorGetPair    = selector("getPair(address,address)")
	SelectorCreatePair = selector("createPair(address,address)")

	// UniswapV2Pair
	SelectorToken0      = selector("token0()")
	SelectorToken1      = selector("token1()")
	SelectorGetReserves = selector("getReserves()")
	SelectorTotalSupply = selector("totalSupply()")

	// UniswapV2Router02
	SelectorWETH          = selector("WETH()")
	SelectorFactory       = selector("factory()")
	SelectorGetAmountsOut = selector("getAmountsOut(uint256,address[])")

	SelectorSwapExactETHForTokens    = selector("swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)")
	SelectorSwapExactTokensForETH    = selector("swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)")
	SelectorSwapExactTokensForTokens = selector("swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)")
	SelectorAddLiquidityETH          = selector("addLiquidityETH(address,uint256,uint256,uint256,address,uint256)")
	SelectorRemoveLiquidityETH       = selector("removeLiquidityETH(address,uint256,uint256,uint256,address,uint256)")
)

// MaxUint256 is 2^256-1, the "infinite" approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ErrShortReturn is returned when a call returns fewer bytes than its type needs.
// Calls to an address without code return empty data.
var ErrShortReturn = errors.New("call returned too little data")

// ErrUintOverflow is returned when a uint256 argument is negative or wider
// than 256 bits.
var ErrUintOverflow = errors.New("uniswapv2: value does not fit in uint256")

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Router methods that take a dynamic address[] path are packed with
// accounts/abi; their outputs are decoded the same way.
const routerABIJSON = `[
{"name":"getAmountsOut","type":"function","stateMutability":"view",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
 "outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapExactETHForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"payable",
 "inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[]},
{"name":"swapExactTokensForETHSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[]},
{"name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[]},
{"name":"removeLiquidityETH","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"token","type":"address"},{"name":"liquidity","type":"uint256"},{"name":"amountTokenMin","type":"uint256"},{"name":"amountETHMin","type":"uint256"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[{"name":"amountToken","type":"uint256"},{"name":"amountETH","type":"uint256"}]}
]`

const tokenABIJSON = `[
{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

var (
	routerABI abi.ABI
	tokenABI  abi.ABI
)

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("failed to parse router ABI: " + err.Error())
	}
	tokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("failed to parse token ABI: " + err.Error())
	}
}

func putAddress(dst []byte, a common.Address) {
	copy(dst[12:32], a.Bytes())
}

func checkUint(v *big.Int) error {
	if v != nil && (v.Sign() < 0 || v.BitLen() > 256) {
		return fmt.Errorf("%w: %s", ErrUintOverflow, v)
	}
	return nil
}

// checkUints guards accounts/abi, which packs out-of-range values modulo
// 2^256 instead of failing.
func checkUints(vs ...*big.Int) error {
	for _, v := range vs {
		if err := checkUint(v); err != nil {
			return err
		}
	}
	return nil
}

func putUint(dst []byte, v *big.Int) error {
	if err := checkUint(v); err != nil {
		return err
	}
	if v != nil {
		v.FillBytes(dst[:32])
	}
	return nil
}

// encodeAddresses encodes a call whose arguments are all addresses.
func encodeAddresses(sel []byte, addrs ...common.Address) []byte {
	data := make([]byte, 4+32*len(addrs))
	copy(data[:4], sel)
	for i, a := range addrs {
		putAddress(data[4+32*i:], a)
	}
	return data
}

// EncodeSymbol encodes ERC20.symbol().
func EncodeSymbol() []byte { return append([]byte{}, SelectorSymbol...) }

// EncodeDecimals encodes ERC20.decimals().
func EncodeDecimals() []byte { return append([]byte{}, SelectorDecimals...) }

// EncodeBalanceOf encodes ERC20.balanceOf(address).
func EncodeBalanceOf(owner common.Address) []byte {
	return encodeAddresses(SelectorBalanceOf, owner)
}

// EncodeAllowance encodes ERC20.allowance(address,address).
func EncodeAllowance(owner, spender common.Address) []byte {
	return encodeAddresses(SelectorAllowance, owner, spender)
}

// EncodeApprove encodes ERC20.approve(address,uint256).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data := encodeAddresses(SelectorApprove, spender)
	data = append(data, make([]byte, 32)...)
	if err := putUint(data[36:], amount); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeGetPair encodes UniswapV2Factory.getPair(address,address).
func EncodeGetPair(tokenA, tokenB common.Address) []byte {
	return encodeAddresses(SelectorGetPair, tokenA, tokenB)
}

// EncodeCreatePair encodes UniswapV2Factory.createPair(address,address).
func EncodeCreatePair(tokenA, tokenB common.Address) []byte {
	return encodeAddresses(SelectorCreatePair, tokenA, tokenB)
}

// EncodeAddLiquidityETH encodes UniswapV2Router02.addLiquidityETH. All
// arguments are static, so the layout is six consecutive words.
func EncodeAddLiquidityETH(token common.Address, amountTokenDesired, amountTokenMin, amountETHMin *big.Int, to common.Address, deadline *big.Int) ([]byte, error) {
	data := make([]byte, 4+6*32)
	copy(data[:4], SelectorAddLiquidityETH)
	putAddress(data[4:], token)
	putAddress(data[132:], to)
	for i, v := range []*big.Int{amountTokenDesired, amountTokenMin, amountETHMin} {
		if err := putUint(data[36+32*i:], v); err != nil {
			return nil, err
		}
	}
	if err := putUint(data[164:], deadline); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeRemoveLiquidityETH encodes UniswapV2Router02.removeLiquidityETH.
func EncodeRemoveLiquidityETH(token common.Address, liquidity, amountTokenMin, amountETHMin *big.Int, to common.Address, deadline *big.Int) ([]byte, error) {
	if err := checkUints(liquidity, amountTokenMin, amountETHMin, deadline); err != nil {
		return nil, err
	}
	return routerABI.Pack("removeLiquidityETH", token, liquidity, amountTokenMin, amountETHMin, to, deadline)
}

// EncodeGetAmountsOut encodes UniswapV2Router02.getAmountsOut(uint256,address[]).
func EncodeGetAmountsOut(amountIn *big.Int, path []common.Address) ([]byte, error) {
	if err := checkUints(amountIn); err != nil {
		return nil, err
	}
	return routerABI.Pack("getAmountsOut", amountIn, path)
}

// EncodeSwapExactETHForTokens encodes the fee-on-transfer ETH→token swap.
func EncodeSwapExactETHForTokens(amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	if err := checkUints(amountOutMin, deadline); err != nil {
		return nil, err
	}
	return routerABI.Pack("swapExactETHForTokensSupportingFeeOnTransferTokens", amountOutMin, path, to, deadline)
}

// EncodeSwapExactTokensForETH encodes the fee-on-transfer token→ETH swap.
func EncodeSwapExactTokensForETH(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	if err := checkUints(amountIn, amountOutMin, deadline); err != nil {
		return nil, err
	}
	return routerABI.Pack("swapExactTokensForETHSupportingFeeOnTransferTokens", amountIn, amountOutMin, path, to, deadline)
}

// EncodeSwapExactTokensForTokens encodes the fee-on-transfer token→token swap.
func EncodeSwapExactTokensForTokens(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	if err := checkUints(amountIn, amountOutMin, deadline); err != nil {
		return nil, err
	}
	return routerABI.Pack("swapExactTokensForTokensSupportingFeeOnTransferTokens", amountIn, amountOutMin, path, to, deadline)
}

// DecodeUint decodes a single uint return word.
func DecodeUint(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", ErrShortReturn, len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// DecodeAddress decodes a single address return word.
func DecodeAddress(data []byte) (common.Address, error) {
	if len(data) < 32 {
		return common.Address{}, fmt.Errorf("%w: got %d bytes, want 32", ErrShortReturn, len(data))
	}
	return common.BytesToAddress(data[12:32]), nil
}

// DecodeDecimals decodes a uint8 decimals() return.
func DecodeDecimals(data []byte) (uint8, error) {
	v, err := DecodeUint(data)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals out of range: %s", v)
	}
	return uint8(v.Uint64()), nil
}

// DecodeSymbol decodes symbol(). Tokens that predate the string-returning
// ERC20 variant return bytes32 instead; both are accepted.
func DecodeSymbol(data []byte) (string, error) {
	out, err := tokenABI.Unpack("symbol", data)
	if err == nil && len(out) == 1 {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	}
	if len(data) == 32 {
		return strings.TrimRight(string(data), "\x00"), nil
	}
	if err == nil {
		err = ErrShortReturn
	}
	return "", fmt.Errorf("failed to decode symbol: %w", err)
}

// DecodeReserves decodes getReserves().
func DecodeReserves(data []byte) (Reserves, error) {
	out, err := tokenABI.Unpack("getReserves", data)
	if err != nil {
		return Reserves{}, fmt.Errorf("failed to decode reserves: %w", err)
	}
	return Reserves{
		Reserve0:           out[0].(*big.Int),
		Reserve1:           out[1].(*big.Int),
		BlockTimestampLast: out[2].(uint32),
	}, nil
}

// DecodeAmounts decodes the uint256[] returned by getAmountsOut.
func DecodeAmounts(data []byte) ([]*big.Int, error) {
	out, err := routerABI.Unpack("getAmountsOut", data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode amounts: %w", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amounts type %T", out[0])
	}
	return amounts, nil
}
