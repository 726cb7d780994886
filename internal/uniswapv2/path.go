package uniswapv2

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PathSelector chooses the router path for a token→token swap.
type PathSelector struct {
	Router  *Router
	Factory *Factory // optional
	WETH    common.Address
	Logf    func(format string, args ...any) // optional
}

// SelectPath returns [in, out] when a direct pair exists and
// [in, WETH, out] otherwise.
//
// With a factory the check is getPair(in, out) != 0. Without one, a
// getAmountsOut probe of one base unit on the direct path stands in for it.
func (s *PathSelector) SelectPath(ctx context.Context, tokenIn, tokenOut common.Address) ([]common.Address, error) {
	if tokenIn == tokenOut {
		return nil, ErrIdenticalAddresses
	}
	direct := []common.Address{tokenIn, tokenOut}
	if tokenIn == s.WETH || tokenOut == s.WETH {
		return direct, nil
	}
	viaWETH := []common.Address{tokenIn, s.WETH, tokenOut}

	if s.Factory != nil {
		pair, err := s.Factory.GetPair(ctx, tokenIn, tokenOut)
		if err != nil {
			return nil, err
		}
		if s.Logf != nil {
			s.Logf("directPair: %s", pair.Hex())
		}
		if pair != (common.Address{}) {
			return direct, nil
		}
		return viaWETH, nil
	}

	if _, err := s.Router.GetAmountsOut(ctx, big.NewInt(1), direct); err == nil {
		return direct, nil
	}
	return viaWETH, nil
}
