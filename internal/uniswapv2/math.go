// Package uniswapv2 is a client for Uniswap-V2-style router, factory and
// pair contracts: call encoding, return decoding, read-only contract views,
// swap path selection and the constant-product formulas the router uses.
package uniswapv2

import (
	"errors"
	"math/big"
)

var (
	ErrInsufficientInputAmount  = errors.New("uniswapv2: insufficient input amount")
	ErrInsufficientOutputAmount = errors.New("uniswapv2: insufficient output amount")
	ErrInsufficientLiquidity    = errors.New("uniswapv2: insufficient liquidity")
	ErrInsufficientAmount       = errors.New("uniswapv2: insufficient amount")
)

var (
	feeMul = big.NewInt(997)
	feeDen = big.NewInt(1000)
	bpsDen = big.NewInt(10_000)
)

// GetAmountOut returns the output of swapping amountIn against a pair with
// the given reserves, after the 0.3% fee:
//
//	out = in*997*reserveOut / (reserveIn*1000 + in*997)
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	inWithFee := new(big.Int).Mul(amountIn, feeMul)
	num := new(big.Int).Mul(inWithFee, reserveOut)
	den := new(big.Int).Mul(reserveIn, feeDen)
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// GetAmountIn returns the input needed to receive amountOut:
//
//	in = reserveIn*out*1000 / ((reserveOut-out)*997) + 1
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInsufficientOutputAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}

	num := new(big.Int).Mul(reserveIn, amountOut)
	num.Mul(num, feeDen)
	den := new(big.Int).Sub(reserveOut, amountOut)
	den.Mul(den, feeMul)
	num.Quo(num, den)
	return num.Add(num, big.NewInt(1)), nil
}

// Quote returns the amount of B worth amountA at the current reserve ratio,
// with no fee: amountA*reserveB/reserveA.
func Quote(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountA == nil || amountA.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	out := new(big.Int).Mul(amountA, reserveB)
	return out.Quo(out, reserveA), nil
}

// GetAmountsOut chains GetAmountOut over consecutive reserve pairs, the
// way the router prices a multi-hop path. reserves[i] holds (in, out) for hop i.
func GetAmountsOut(amountIn *big.Int, reserves [][2]*big.Int) ([]*big.Int, error) {
	amounts := make([]*big.Int, 0, len(reserves)+1)
	amounts = append(amounts, new(big.Int).Set(amountIn))
	for _, r := range reserves {
		out, err := GetAmountOut(amounts[len(amounts)-1], r[0], r[1])
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, out)
	}
	return amounts, nil
}

// ApplySlippageBps returns amount - amount*bps/10000.
func ApplySlippageBps(amount *big.Int, bps int64) *big.Int {
	cut := new(big.Int).Mul(amount, big.NewInt(bps))
	cut.Quo(cut, bpsDen)
	return cut.Sub(amount, cut)
}

// ScaleBps returns amount*bps/10000.
func ScaleBps(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Quo(out, bpsDen)
}
