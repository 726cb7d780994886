package liquidity

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/gateway-fm/dexkit/internal/units"
)

// ILInput are the figures the impermanent-loss comparison needs. Reserves
// are taken before the withdrawal.
type ILInput struct {
	ReserveToken  *big.Int
	ReserveETH    *big.Int
	TokenDecimals uint8
	TokenDelta    *big.Int
	ETHDelta      *big.Int
	InitTokens    decimal.Decimal
	InitETH       decimal.Decimal
}

// ILReport compares what a withdrawal returned with holding the original
// deposit, both valued in ETH at the pool's spot price.
type ILReport struct {
	Price          decimal.Decimal // ETH per token
	ValueIfHodl    decimal.Decimal
	ValueWithdrawn decimal.Decimal
	Loss           decimal.Decimal // withdrawn - hodl; negative is a loss
	LossPct        decimal.Decimal
}

const ilPrecision = 18

// ImpermanentLoss values the deposit and the withdrawal at the spot price.
// An empty token reserve yields a zero price.
func ImpermanentLoss(in ILInput) ILReport {
	reserveToken := units.Decimal(in.ReserveToken, in.TokenDecimals)
	reserveETH := units.Decimal(in.ReserveETH, units.EtherDecimals)

	var rep ILReport
	if !reserveToken.IsZero() {
		rep.Price = reserveETH.DivRound(reserveToken, ilPrecision)
	}
	rep.ValueIfHodl = in.InitTokens.Mul(rep.Price).Add(in.InitETH)
	rep.ValueWithdrawn = units.Decimal(in.ETHDelta, units.EtherDecimals).
		Add(units.Decimal(in.TokenDelta, in.TokenDecimals).Mul(rep.Price))
	rep.Loss = rep.ValueWithdrawn.Sub(rep.ValueIfHodl)
	if !rep.ValueIfHodl.IsZero() {
		rep.LossPct = rep.Loss.DivRound(rep.ValueIfHodl, ilPrecision).Mul(decimal.NewFromInt(100))
	}
	return rep
}
