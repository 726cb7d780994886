package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/units"
	"github.com/gateway-fm/dexkit/pkg/types"
)

const (
	// DisplayPlaces is the rounding used by the balances and pools views.
	DisplayPlaces = 6
	// PriceUnavailable stands in for a price the router cannot quote.
	PriceUnavailable = "N/A"
)

// GetTokenBalances reads symbol, decimals and the connected account's
// balance for up to MaxItems tokens. Blank entries are skipped. A token
// that cannot be read gets an Error instead of failing the whole view.
func (s *Service) GetTokenBalances(ctx context.Context, tokens []string) ([]types.TokenBalance, error) {
	list, err := nonBlank(tokens)
	if err != nil {
		return nil, err
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	release, err := s.begin("balances")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]types.TokenBalance, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range list {
		g.Go(func() error {
			out[i] = s.tokenBalance(gctx, sess.account, raw)
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range out {
		if b.Error != "" {
			s.log.Printf("token %s: %s", b.Token, b.Error)
		}
	}
	return out, nil
}

func (s *Service) tokenBalance(ctx context.Context, owner common.Address, raw string) types.TokenBalance {
	row := types.TokenBalance{Token: raw}
	addr, err := ParseAddress(raw)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Token = addr.Hex()

	erc20 := uniswapv2.NewERC20(s.client, addr)
	symbol, err := erc20.Symbol(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	dec, err := erc20.Decimals(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	bal, err := erc20.BalanceOf(ctx, owner)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Symbol = symbol
	row.Decimals = dec
	row.Balance = bal.String()
	row.Formatted = units.FormatFixed(bal, dec, DisplayPlaces)
	return row
}

// GetPoolInfo reads tokens, reserves and ETH prices for up to MaxItems
// pairs. It needs no wallet. Unreadable token metadata falls back to
// T0/T1 and 18 decimals; unquotable prices are PriceUnavailable.
func (s *Service) GetPoolInfo(ctx context.Context, pairs []string) ([]types.PoolInfo, error) {
	list, err := nonBlank(pairs)
	if err != nil {
		return nil, err
	}
	release, err := s.begin("pools")
	if err != nil {
		return nil, err
	}
	defer release()

	weth := s.wethOrLookup(ctx)

	out := make([]types.PoolInfo, len(list))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range list {
		g.Go(func() error {
			out[i] = s.poolInfo(gctx, weth, raw)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range out {
		if p.Error != "" {
			s.log.Printf("pair %s: %s", p.Pair, p.Error)
		}
	}
	return out, nil
}

// wethOrLookup returns the session's WETH, asking the router when not
// connected. Zero means prices are unavailable.
func (s *Service) wethOrLookup(ctx context.Context) common.Address {
	s.mu.RLock()
	weth := s.weth
	s.mu.RUnlock()
	if weth != (common.Address{}) {
		return weth
	}
	weth, err := s.router.WETH(ctx)
	if err != nil {
		s.log.Printf("router WETH() failed, prices unavailable: %v", err)
		return common.Address{}
	}
	return weth
}

func (s *Service) poolInfo(ctx context.Context, weth common.Address, raw string) types.PoolInfo {
	row := types.PoolInfo{Pair: raw}
	addr, err := ParseAddress(raw)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	row.Pair = addr.Hex()

	pair := uniswapv2.NewPair(s.client, addr)
	token0, err := pair.Token0(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	token1, err := pair.Token1(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	reserves, err := pair.GetReserves(ctx)
	if err != nil {
		row.Error = err.Error()
		return row
	}

	sym0, dec0 := s.tokenMeta(ctx, token0, "T0")
	sym1, dec1 := s.tokenMeta(ctx, token1, "T1")

	row.Token0, row.Token1 = token0.Hex(), token1.Hex()
	row.Symbol0, row.Symbol1 = sym0, sym1
	row.Decimals0, row.Decimals1 = dec0, dec1
	row.Reserve0, row.Reserve1 = reserves.Reserve0.String(), reserves.Reserve1.String()
	row.Formatted0 = units.FormatFixed(reserves.Reserve0, dec0, DisplayPlaces)
	row.Formatted1 = units.FormatFixed(reserves.Reserve1, dec1, DisplayPlaces)
	row.Price0InETH = s.priceInETH(ctx, weth, token0, dec0)
	row.Price1InETH = s.priceInETH(ctx, weth, token1, dec1)
	return row
}

func (s *Service) tokenMeta(ctx context.Context, token common.Address, fallback string) (string, uint8) {
	erc20 := uniswapv2.NewERC20(s.client, token)
	symbol, err := erc20.Symbol(ctx)
	if err != nil || symbol == "" {
		symbol = fallback
	}
	dec, err := erc20.Decimals(ctx)
	if err != nil {
		dec = units.EtherDecimals
	}
	return symbol, dec
}

// priceInETH quotes one whole token against WETH.
func (s *Service) priceInETH(ctx context.Context, weth, token common.Address, dec uint8) string {
	switch weth {
	case common.Address{}:
		return PriceUnavailable
	case token:
		return units.FormatUnits(units.Pow10(units.EtherDecimals), units.EtherDecimals)
	}
	out, err := s.router.QuoteOut(ctx, units.Pow10(dec), []common.Address{token, weth})
	if err != nil {
		return PriceUnavailable
	}
	return units.FormatUnits(out, units.EtherDecimals)
}

// GetPosition reports the connected account's balances of tokenA, tokenB
// and their pair's LP token, plus the pair reserves and its pool share.
func (s *Service) GetPosition(ctx context.Context, tokenA, tokenB string) (*types.Position, error) {
	a, err := ParseAddress(tokenA)
	if err != nil {
		return nil, fmt.Errorf("tokenA: %w", err)
	}
	b, err := ParseAddress(tokenB)
	if err != nil {
		return nil, fmt.Errorf("tokenB: %w", err)
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if sess.factory == nil {
		return nil, ErrNoFactory
	}

	pos := &types.Position{TokenA: a.Hex(), TokenB: b.Hex()}

	var (
		decA, decB uint8
		balA, balB *big.Int
		pairAddr   common.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		decA, balA, err = s.holding(gctx, a, sess.account)
		return err
	})
	g.Go(func() (err error) {
		decB, balB, err = s.holding(gctx, b, sess.account)
		return err
	})
	g.Go(func() (err error) {
		pairAddr, err = sess.factory.GetPair(gctx, a, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pos.Pair = pairAddr.Hex()
	pos.BalanceA, pos.BalanceB = balA.String(), balB.String()
	pos.FormattedA = units.FormatUnits(balA, decA)
	pos.FormattedB = units.FormatUnits(balB, decB)

	if pairAddr == (common.Address{}) {
		pos.PairNotFound = true
		pos.LPBalance, pos.ReserveA, pos.ReserveB = "0", "0", "0"
		pos.FormattedLP, pos.FormattedRA, pos.FormattedRB = "0.0", "0.0", "0.0"
		pos.ShareOfPool = "0"
		return pos, nil
	}

	pair := uniswapv2.NewPair(s.client, pairAddr)
	lp, err := pair.BalanceOf(ctx, sess.account)
	if err != nil {
		return nil, err
	}
	supply, err := pair.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	resA, resB, err := pair.ReservesFor(ctx, a)
	if err != nil {
		return nil, err
	}

	pos.LPBalance = lp.String()
	pos.FormattedLP = units.FormatUnits(lp, units.EtherDecimals)
	pos.ReserveA, pos.ReserveB = resA.String(), resB.String()
	pos.FormattedRA = units.FormatUnits(resA, decA)
	pos.FormattedRB = units.FormatUnits(resB, decB)
	pos.ShareOfPool = shareOf(lp, supply)
	return pos, nil
}

func (s *Service) holding(ctx context.Context, token, owner common.Address) (uint8, *big.Int, error) {
	erc20 := uniswapv2.NewERC20(s.client, token)
	dec, err := erc20.Decimals(ctx)
	if err != nil {
		return 0, nil, err
	}
	bal, err := erc20.BalanceOf(ctx, owner)
	if err != nil {
		return 0, nil, err
	}
	return dec, bal, nil
}

// shareOf returns part/total as a percentage with four decimals.
func shareOf(part, total *big.Int) string {
	if total.Sign() == 0 {
		return "0"
	}
	return decimal.NewFromBigInt(part, 0).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromBigInt(total, 0), 4).
		String()
}

// Quote prices amount (human units) of tokenIn in tokenOut along the path
// a swap would take, both through the router and from pair reserves.
// Either side may fail independently.
func (s *Service) Quote(ctx context.Context, tokenIn, tokenOut, amount string) (*types.Quote, error) {
	in, err := ParseAddress(tokenIn)
	if err != nil {
		return nil, fmt.Errorf("tokenIn: %w", err)
	}
	out, err := ParseAddress(tokenOut)
	if err != nil {
		return nil, fmt.Errorf("tokenOut: %w", err)
	}

	sess := s.readSession(ctx)
	dec, err := uniswapv2.NewERC20(s.client, in).Decimals(ctx)
	if err != nil {
		return nil, err
	}
	amountIn, err := parseAmount(amount, dec)
	if err != nil {
		return nil, err
	}
	path, err := s.selectPath(ctx, sess, in, out)
	if err != nil {
		return nil, err
	}

	q := &types.Quote{TokenIn: in.Hex(), TokenOut: out.Hex(), AmountIn: amountIn.String(), Path: hexPath(path)}
	if v, err := s.router.QuoteOut(ctx, amountIn, path); err == nil {
		q.RouterOut = v.String()
	} else {
		q.RouterError = err.Error()
	}
	if v, err := s.localQuote(ctx, sess.factory, amountIn, path); err == nil {
		q.LocalOut = v.String()
	} else {
		q.LocalError = err.Error()
	}
	return q, nil
}

// readSession is session() for views that also work before Connect.
func (s *Service) readSession(ctx context.Context) *session {
	if sess, err := s.session(); err == nil {
		return sess
	}
	sess := &session{weth: s.wethOrLookup(ctx)}
	s.mu.RLock()
	factory := s.factory
	s.mu.RUnlock()
	if factory == (common.Address{}) {
		factory, _ = s.router.Factory(ctx)
	}
	if factory != (common.Address{}) {
		sess.factory = uniswapv2.NewFactory(s.client, factory)
	}
	return sess
}

// localQuote applies the constant-product formula to each hop's reserves.
func (s *Service) localQuote(ctx context.Context, factory *uniswapv2.Factory, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	reserves := make([][2]*big.Int, len(path)-1)
	for i := range reserves {
		pairAddr, err := factory.GetPair(ctx, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		if pairAddr == (common.Address{}) {
			return nil, fmt.Errorf("%w: %s/%s", uniswapv2.ErrNoPair, path[i].Hex(), path[i+1].Hex())
		}
		rIn, rOut, err := uniswapv2.NewPair(s.client, pairAddr).ReservesFor(ctx, path[i])
		if err != nil {
			return nil, err
		}
		reserves[i] = [2]*big.Int{rIn, rOut}
	}
	amounts, err := uniswapv2.GetAmountsOut(amountIn, reserves)
	if err != nil {
		return nil, err
	}
	return amounts[len(amounts)-1], nil
}

func nonBlank(in []string) ([]string, error) {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) > MaxItems {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyItems, len(out))
	}
	return out, nil
}

// IsUserError reports whether err stems from bad input rather than the
// chain or the node.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrMissingAddress, ErrInvalidAddress, ErrInvalidAmount, ErrTooManyItems,
		units.ErrMalformedAmount, units.ErrNegativeAmount, units.ErrTooPrecise, units.ErrAmountTooLarge,
		uniswapv2.ErrIdenticalAddresses, uniswapv2.ErrUintOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
