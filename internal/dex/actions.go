package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/units"
	"github.com/gateway-fm/dexkit/pkg/types"
)

// Approve lets the router spend amount (human units) of token. An empty
// amount only checks that some allowance exists.
func (s *Service) Approve(ctx context.Context, req types.ApproveRequest) (*types.ActionResult, error) {
	token, err := ParseAddress(req.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return s.run(ctx, types.ActionApprove, func(ctx context.Context, r *actionRun) (*types.ActionResult, error) {
		amount := big.NewInt(1)
		if strings.TrimSpace(req.Amount) != "" {
			dec, err := uniswapv2.NewERC20(s.client, token).Decimals(ctx)
			if err != nil {
				return nil, err
			}
			if amount, err = parseAmount(req.Amount, dec); err != nil {
				return nil, err
			}
		}
		hash, err := s.ensureApproval(ctx, r, token, s.router.Address, amount)
		if err != nil {
			return nil, err
		}
		return &types.ActionResult{TxHash: hash, AmountIn: amount.String()}, nil
	})
}

// EnsureApproval approves spender for the maximum amount when the current
// allowance is below amount. It returns the approve transaction hash, or
// "" when none was needed.
func (s *Service) EnsureApproval(ctx context.Context, token, spender common.Address, amount *big.Int) (string, error) {
	res, err := s.run(ctx, types.ActionApprove, func(ctx context.Context, r *actionRun) (*types.ActionResult, error) {
		hash, err := s.ensureApproval(ctx, r, token, spender, amount)
		if err != nil {
			return nil, err
		}
		return &types.ActionResult{TxHash: hash, AmountIn: amount.String()}, nil
	})
	if err != nil {
		return "", err
	}
	return res.TxHash, nil
}

func (s *Service) ensureApproval(ctx context.Context, r *actionRun, token, spender common.Address, amount *big.Int) (string, error) {
	erc20 := uniswapv2.NewERC20(s.client, token)
	allowance, err := erc20.Allowance(ctx, r.sess.account, spender)
	if err != nil {
		return "", err
	}
	s.log.Printf("allowance=%s", allowance)
	if allowance.Cmp(amount) >= 0 {
		s.log.Printf("no approve needed")
		return "", nil
	}

	data, err := uniswapv2.EncodeApprove(spender, uniswapv2.MaxUint256)
	if err != nil {
		return "", err
	}
	res, err := s.sendTx(ctx, r, types.ActionApprove, sender.Call{To: &token, Data: data})
	if err != nil {
		return "", err
	}
	return res.Hash.Hex(), nil
}

// Buy swaps ETH for token along [WETH, token]. The quote is informational
// and amountOutMin is zero.
func (s *Service) Buy(ctx context.Context, req types.BuyRequest) (*types.ActionResult, error) {
	token, err := ParseAddress(req.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return s.run(ctx, types.ActionBuy, func(ctx context.Context, r *actionRun) (*types.ActionResult, error) {
		if token == r.sess.weth {
			return nil, fmt.Errorf("token is WETH: %w", uniswapv2.ErrIdenticalAddresses)
		}
		amountIn, err := parseAmount(req.ETHAmount, units.EtherDecimals)
		if err != nil {
			return nil, err
		}
		path := []common.Address{r.sess.weth, token}

		res := &types.ActionResult{Path: hexPath(path), AmountIn: amountIn.String(), AmountOutMin: "0"}
		if out, err := s.router.QuoteOut(ctx, amountIn, path); err == nil {
			s.log.Printf("getAmountsOut OK: out=%s", out)
			res.QuotedOut = out.String()
		} else {
			s.log.Printf("getAmountsOut failed (pair may not exist): %v", err)
			s.recordQuoteFailure(types.ActionBuy)
		}

		data, err := uniswapv2.EncodeSwapExactETHForTokens(big.NewInt(0), path, r.sess.account, new(big.Int).SetUint64(s.deadline()))
		if err != nil {
			return nil, err
		}
		sent, err := s.sendTx(ctx, r, r.action, sender.Call{To: &s.router.Address, Data: data, Value: amountIn})
		if err != nil {
			return nil, err
		}
		fillTx(res, sent)
		return res, nil
	})
}

// Sell swaps token for ETH along [token, WETH], approving the router first
// when needed.
func (s *Service) Sell(ctx context.Context, req types.SellRequest) (*types.ActionResult, error) {
	token, err := ParseAddress(req.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return s.run(ctx, types.ActionSell, func(ctx context.Context, r *actionRun) (*types.ActionResult, error) {
		if r.sess.factory != nil {
			pair, err := r.sess.factory.GetPair(ctx, token, r.sess.weth)
			if err != nil {
				return nil, err
			}
			s.log.Printf("pair: %s", pair.Hex())
			if pair == (common.Address{}) {
				return nil, ErrNoPair
			}
		}

		dec, err := uniswapv2.NewERC20(s.client, token).Decimals(ctx)
		if err != nil {
			return nil, err
		}
		amountIn, err := parseAmount(req.Amount, dec)
		if err != nil {
			return nil, err
		}

		approveHash, err := s.ensureApproval(ctx, r, token, s.router.Address, amountIn)
		if err != nil {
			return nil, err
		}

		path := []common.Address{token, r.sess.weth}
		res := &types.ActionResult{Path: hexPath(path), AmountIn: amountIn.String(), ApproveTxHash: approveHash}
		minOut := big.NewInt(0)
		if out, err := s.router.QuoteOut(ctx, amountIn, path); err == nil {
			minOut = uniswapv2.ScaleBps(out, SellMinOutBps)
			res.QuotedOut = out.String()
			s.log.Printf("quoted out=%s amountOutMin=%s", out, minOut)
		} else {
			s.log.Printf("getAmountsOut failed, fallback amountOutMin=0: %v", err)
			s.recordQuoteFailure(types.ActionSell)
		}
		res.AmountOutMin = minOut.String()

		data, err := uniswapv2.EncodeSwapExactTokensForETH(amountIn, minOut, path, r.sess.account, new(big.Int).SetUint64(s.deadline()))
		if err != nil {
			return nil, err
		}
		sent, err := s.sendTx(ctx, r, r.action, sender.Call{To: &s.router.Address, Data: data})
		if err != nil {
			return nil, err
		}
		fillTx(res, sent)
		return res, nil
	})
}

// Swap trades tokenIn for tokenOut, directly when a pair exists and via
// WETH otherwise. It refuses to send without a quote.
func (s *Service) Swap(ctx context.Context, req types.SwapRequest) (*types.ActionResult, error) {
	tokenIn, err := ParseAddress(req.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("tokenIn: %w", err)
	}
	tokenOut, err := ParseAddress(req.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("tokenOut: %w", err)
	}
	return s.run(ctx, types.ActionSwap, func(ctx context.Context, r *actionRun) (*types.ActionResult, error) {
		dec, err := uniswapv2.NewERC20(s.client, tokenIn).Decimals(ctx)
		if err != nil {
			return nil, err
		}
		amountIn, err := parseAmount(req.Amount, dec)
		if err != nil {
			return nil, err
		}

		path, err := s.selectPath(ctx, r.sess, tokenIn, tokenOut)
		if err != nil {
			return nil, err
		}

		approveHash, err := s.ensureApproval(ctx, r, tokenIn, s.router.Address, amountIn)
		if err != nil {
			return nil, err
		}

		out, err := s.router.QuoteOut(ctx, amountIn, path)
		if err != nil {
			s.recordQuoteFailure(types.ActionSwap)
			return nil, fmt.Errorf("%w: %v", ErrNoLiquidity, err)
		}
		minOut := uniswapv2.ScaleBps(out, SwapMinOutBps)
		s.log.Printf("quoted out=%s amountOutMin=%s", out, minOut)

		data, err := uniswapv2.EncodeSwapExactTokensForTokens(amountIn, minOut, path, r.sess.account, new(big.Int).SetUint64(s.deadline()))
		if err != nil {
			return nil, err
		}
		sent, err := s.sendTx(ctx, r, r.action, sender.Call{To: &s.router.Address, Data: data})
		if err != nil {
			return nil, err
		}
		res := &types.ActionResult{
			ApproveTxHash: approveHash,
			Path:          hexPath(path),
			AmountIn:      amountIn.String(),
			QuotedOut:     out.String(),
			AmountOutMin:  minOut.String(),
		}
		fillTx(res, sent)
		return res, nil
	})
}

func (s *Service) selectPath(ctx context.Context, sess *session, tokenIn, tokenOut common.Address) ([]common.Address, error) {
	ps := &uniswapv2.PathSelector{Router: s.router, Factory: sess.factory, WETH: sess.weth, Logf: s.log.Printf}
	path, err := ps.SelectPath(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if len(path) == 2 {
		s.log.Printf("using direct path")
	} else {
		s.log.Printf("using 2-hop path via WETH")
	}
	return path, nil
}

func parseAmount(s string, decimals uint8) (*big.Int, error) {
	v, err := units.ParseUnits(strings.TrimSpace(s), decimals)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	if v.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

func fillTx(res *types.ActionResult, sent *sender.Result) {
	res.TxHash = sent.Hash.Hex()
	res.BlockNumber = sent.Receipt.BlockNumber
	res.GasUsed = sent.Receipt.GasUsed
}

func hexPath(path []common.Address) []string {
	out := make([]string, len(path))
	for i, a := range path {
		out[i] = a.Hex()
	}
	return out
}
