package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/units"
	"github.com/gateway-fm/dexkit/pkg/types"
)

// AddDeadline is added to the latest block timestamp for addLiquidityETH.
const AddDeadline = 600 * time.Second

// DeployResult describes the token deployment.
type DeployResult struct {
	Address common.Address
	TxHash  common.Hash // zero when skipped
	Skipped bool
}

// DeployToken deploys the token from art unless the address book already
// points at a contract, then records it in the book and the store.
func (r *Runner) DeployToken(ctx context.Context, art *Artifact) (*DeployResult, error) {
	r.printf("Using account: %s", r.sender.From().Hex())

	if r.book.Token != "" {
		addr, err := r.book.Address("token")
		if err != nil {
			return nil, err
		}
		exists, err := r.hasCode(ctx, addr)
		if err != nil {
			r.logger.Warn("Failed to check contract existence, will deploy",
				slog.String("name", art.ContractName),
				slog.String("error", err.Error()),
			)
		} else if exists {
			r.logger.Info("Contract already deployed, skipping",
				slog.String("name", art.ContractName),
				slog.String("address", addr.Hex()),
			)
			r.printf("Token already deployed at %s, skipping", addr.Hex())
			return &DeployResult{Address: addr, Skipped: true}, nil
		}
	}

	start := time.Now()
	res, err := r.sender.Deploy(ctx, string(types.ActionDeployToken), art.Bytecode)
	r.record(ctx, newActionID(), types.ActionDeployToken, start, res, err)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy %s: %w", art.ContractName, err)
	}
	r.printf("Token deployed to: %s", res.ContractAddress.Hex())

	if err := r.remember(AddressBook{Token: res.ContractAddress.Hex()}); err != nil {
		return nil, err
	}
	r.saveDeployment(ctx, "token", res.ContractAddress, res.Hash.Hex())
	return &DeployResult{Address: res.ContractAddress, TxHash: res.Hash}, nil
}

// PoolResult describes the token/WETH pair.
type PoolResult struct {
	Pair      common.Address
	Predicted common.Address
	Created   bool
	TxHash    common.Hash // zero when the pair already existed
}

// Match reports whether the factory deployed the pair where CREATE2
// predicts, i.e. whether the init code hash is right.
func (p *PoolResult) Match() bool {
	return p.Pair == p.Predicted
}

// CreatePool creates the token/WETH pair if the factory has none.
func (r *Runner) CreatePool(ctx context.Context) (*PoolResult, error) {
	token, err := r.book.Address("token")
	if err != nil {
		return nil, err
	}
	weth, err := r.weth(ctx)
	if err != nil {
		return nil, err
	}
	factoryAddr, err := r.book.Address("factory")
	if err != nil {
		return nil, err
	}
	r.printf("Signer: %s", r.sender.From().Hex())
	factory := uniswapv2.NewFactory(r.client, factoryAddr)

	r.printf("Checking if pool exists...")
	pair, err := factory.GetPair(ctx, token, weth)
	if err != nil {
		return nil, err
	}

	result := &PoolResult{}
	if pair == (common.Address{}) {
		r.printf("Pair does not exist, creating new pool...")
		res, err := r.send(ctx, newActionID(), types.ActionCreatePool, sender.Call{
			To:   &factoryAddr,
			Data: uniswapv2.EncodeCreatePair(token, weth),
		})
		if err != nil {
			return nil, fmt.Errorf("createPair: %w", err)
		}
		r.printf("Pool creation TX hash: %s", res.Hash.Hex())
		result.Created = true
		result.TxHash = res.Hash

		if pair, err = factory.GetPair(ctx, token, weth); err != nil {
			return nil, err
		}
		if pair == (common.Address{}) {
			return nil, fmt.Errorf("createPair mined but getPair still returns zero: %w", ErrPairNotFound)
		}
		r.printf("Pool created successfully")
		r.saveDeployment(ctx, "pair", pair, res.Hash.Hex())
	} else {
		r.printf("Pair already exists.")
	}
	result.Pair = pair

	result.Predicted, err = PredictPair(factoryAddr, token, weth, r.initHash)
	if err != nil {
		return nil, err
	}
	r.printf("Pair address (from factory): %s", result.Pair.Hex())
	r.printf("Pair address (CREATE2 prediction): %s", result.Predicted.Hex())
	if !result.Match() {
		r.printf("WARNING: prediction differs; the init code hash %s does not match this factory", r.initHash.Hex())
	}
	return result, nil
}

// AddConfig sizes the liquidity deposit in human units.
type AddConfig struct {
	TokenAmount string
	ETHAmount   string
}

// DefaultAddConfig deposits 100000 tokens and 0.1 ETH.
func DefaultAddConfig() AddConfig {
	return AddConfig{TokenAmount: "100000", ETHAmount: "0.1"}
}

// AddResult describes the deposit and the pool afterwards.
type AddResult struct {
	Pair          common.Address
	ApproveTxHash common.Hash
	TxHash        common.Hash
	LPBalance     *big.Int
	ReserveToken  *big.Int
	ReserveETH    *big.Int
}

// AddLiquidity approves the router for exactly the token amount and calls
// addLiquidityETH with zero minimums.
func (r *Runner) AddLiquidity(ctx context.Context, cfg AddConfig) (*AddResult, error) {
	r.printf("Adding liquidity to UniswapV2...")
	me := r.sender.From()
	r.printf("Deployer: %s", me.Hex())

	routerAddr, err := r.book.Address("router")
	if err != nil {
		return nil, err
	}
	router := uniswapv2.NewRouter(r.client, routerAddr)
	if routerFactory, err := router.Factory(ctx); err == nil {
		r.printf("Router factory: %s", routerFactory.Hex())
		r.printf("Your factory: %s", r.book.Factory)
		if r.book.Factory != "" && routerFactory != common.HexToAddress(r.book.Factory) {
			r.printf("WARNING: router was deployed against a different factory")
		}
	} else {
		r.logger.Warn("Router factory() failed", slog.String("error", err.Error()))
	}

	token, _, pair, err := r.tokenAndPair(ctx)
	if err != nil {
		return nil, err
	}
	r.printf("Pair address: %s", pair.Hex())

	erc20 := uniswapv2.NewERC20(r.client, token)
	dec, err := erc20.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	tokenAmount, err := units.ParseUnits(cfg.TokenAmount, dec)
	if err != nil {
		return nil, fmt.Errorf("token amount: %w", err)
	}
	ethAmount, err := units.ParseEther(cfg.ETHAmount)
	if err != nil {
		return nil, fmt.Errorf("ETH amount: %w", err)
	}

	bal, err := erc20.BalanceOf(ctx, me)
	if err != nil {
		return nil, err
	}
	r.printf("Token balance: %s", units.FormatUnits(bal, dec))

	approveData, err := uniswapv2.EncodeApprove(routerAddr, tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("token amount: %w", err)
	}
	actionID := newActionID()
	r.printf("Approving router...")
	approve, err := r.send(ctx, actionID, types.ActionApprove, sender.Call{
		To:   &token,
		Data: approveData,
	})
	if err != nil {
		return nil, err
	}
	r.printf("Approve TX: %s", approve.Hash.Hex())

	allowance, err := erc20.Allowance(ctx, me, routerAddr)
	if err != nil {
		return nil, err
	}
	r.printf("Allowance after approval: %s", units.FormatUnits(allowance, dec))
	if allowance.Cmp(tokenAmount) < 0 {
		return nil, ErrApprovalFailed
	}

	block, err := r.client.GetLatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	deadline := deadlineFrom(block.Timestamp, AddDeadline)

	addData, err := uniswapv2.EncodeAddLiquidityETH(token, tokenAmount, big.NewInt(0), big.NewInt(0), me, deadline)
	if err != nil {
		return nil, err
	}
	r.printf("Adding liquidity...")
	add, err := r.send(ctx, actionID, types.ActionAddLiquidity, sender.Call{
		To:    &routerAddr,
		Data:  addData,
		Value: ethAmount,
	})
	if err != nil {
		return nil, err
	}
	r.printf("Liquidity TX: %s", add.Hash.Hex())
	r.printf("Liquidity added successfully")

	p := uniswapv2.NewPair(r.client, pair)
	lp, err := p.BalanceOf(ctx, me)
	if err != nil {
		return nil, err
	}
	resToken, resETH, err := p.ReservesFor(ctx, token)
	if err != nil {
		return nil, err
	}
	r.printf("LP balance: %s", units.FormatEther(lp))
	r.printf("Reserves: %s token / %s ETH", units.FormatUnits(resToken, dec), units.FormatEther(resETH))

	return &AddResult{
		Pair:          pair,
		ApproveTxHash: approve.Hash,
		TxHash:        add.Hash,
		LPBalance:     lp,
		ReserveToken:  resToken,
		ReserveETH:    resETH,
	}, nil
}

// RemoveConfig tunes RemoveLiquidity.
type RemoveConfig struct {
	RemoveBps   int64 // share of the LP balance to burn
	SlippageBps int64
	Deadline    time.Duration
	// InitTokens and InitETH are the original deposit, for the
	// impermanent-loss comparison.
	InitTokens decimal.Decimal
	InitETH    decimal.Decimal
}

// DefaultRemoveConfig removes everything with 1% slippage and a 15 minute
// deadline, comparing against a 500000 token / 0.1 ETH deposit.
func DefaultRemoveConfig() RemoveConfig {
	return RemoveConfig{
		RemoveBps:   10_000,
		SlippageBps: 100,
		Deadline:    900 * time.Second,
		InitTokens:  decimal.NewFromInt(500_000),
		InitETH:     decimal.RequireFromString("0.1"),
	}
}

// RemoveReport describes a withdrawal.
type RemoveReport struct {
	Pair          common.Address
	Symbol        string
	Decimals      uint8
	TxHash        common.Hash
	BlockNumber   uint64
	LPRemoved     *big.Int
	ExpectedToken *big.Int
	ExpectedETH   *big.Int
	MinToken      *big.Int
	MinETH        *big.Int
	TokenDelta    *big.Int
	ETHDelta      *big.Int
	Loss          ILReport
}

// RemoveLiquidity burns LP tokens through removeLiquidityETH and reports
// the balance changes and the impermanent loss against holding.
func (r *Runner) RemoveLiquidity(ctx context.Context, cfg RemoveConfig) (*RemoveReport, error) {
	if cfg.RemoveBps <= 0 || cfg.RemoveBps > 10_000 {
		return nil, fmt.Errorf("remove bps %d out of range (1..10000)", cfg.RemoveBps)
	}
	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return nil, fmt.Errorf("slippage bps %d out of range (0..10000)", cfg.SlippageBps)
	}
	routerAddr, err := r.book.Address("router")
	if err != nil {
		return nil, err
	}
	me := r.sender.From()
	r.printf("Signer: %s", me.Hex())
	r.printf("TOKEN=%s\nWETH=%s\nFACTORY=%s\nROUTER=%s", r.book.Token, r.book.WETH9, r.book.Factory, r.book.Router)

	token, _, pairAddr, err := r.tokenAndPair(ctx)
	if err != nil {
		return nil, err
	}
	r.printf("Pair address: %s", pairAddr.Hex())

	erc20 := uniswapv2.NewERC20(r.client, token)
	symbol, err := erc20.Symbol(ctx)
	if err != nil {
		return nil, err
	}
	dec, err := erc20.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	pair := uniswapv2.NewPair(r.client, pairAddr)

	beforeETH, err := r.client.GetBalance(ctx, me.Hex())
	if err != nil {
		return nil, err
	}
	beforeToken, err := erc20.BalanceOf(ctx, me)
	if err != nil {
		return nil, err
	}
	beforeLP, err := pair.BalanceOf(ctx, me)
	if err != nil {
		return nil, err
	}
	r.printf("Balances BEFORE:")
	r.printf("ETH: %s", units.FormatEther(beforeETH))
	r.printf("%s: %s", symbol, units.FormatUnits(beforeToken, dec))
	r.printf("LP: %s", units.FormatEther(beforeLP))
	if beforeLP.Sign() == 0 {
		return nil, ErrNoLPTokens
	}

	reserveToken, reserveETH, err := pair.ReservesFor(ctx, token)
	if err != nil {
		return nil, err
	}
	supply, err := pair.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}

	rep := &RemoveReport{Pair: pairAddr, Symbol: symbol, Decimals: dec}
	rep.LPRemoved = uniswapv2.ScaleBps(beforeLP, cfg.RemoveBps)
	rep.ExpectedToken = new(big.Int).Div(new(big.Int).Mul(reserveToken, rep.LPRemoved), supply)
	rep.ExpectedETH = new(big.Int).Div(new(big.Int).Mul(reserveETH, rep.LPRemoved), supply)
	rep.MinToken = uniswapv2.ApplySlippageBps(rep.ExpectedToken, cfg.SlippageBps)
	rep.MinETH = uniswapv2.ApplySlippageBps(rep.ExpectedETH, cfg.SlippageBps)
	deadline := deadlineFrom(r.now(), cfg.Deadline)

	r.printf("Expected outputs:")
	r.printf("%s: %s", symbol, units.FormatUnits(rep.ExpectedToken, dec))
	r.printf("ETH: %s", units.FormatEther(rep.ExpectedETH))

	approveData, err := uniswapv2.EncodeApprove(routerAddr, rep.LPRemoved)
	if err != nil {
		return nil, err
	}
	actionID := newActionID()
	r.printf("Approving router to spend LP tokens...")
	if _, err := r.send(ctx, actionID, types.ActionApprove, sender.Call{
		To:   &pairAddr,
		Data: approveData,
	}); err != nil {
		return nil, err
	}
	r.printf("Router approved")

	data, err := uniswapv2.EncodeRemoveLiquidityETH(token, rep.LPRemoved, rep.MinToken, rep.MinETH, me, deadline)
	if err != nil {
		return nil, err
	}
	r.printf("Executing removeLiquidityETH(...)")
	res, err := r.send(ctx, actionID, types.ActionRemoveLiquidity, sender.Call{To: &routerAddr, Data: data})
	if err != nil {
		return nil, err
	}
	rep.TxHash = res.Hash
	rep.BlockNumber = res.Receipt.BlockNumber
	r.printf("Liquidity removed in block %d", rep.BlockNumber)

	afterETH, err := r.client.GetBalance(ctx, me.Hex())
	if err != nil {
		return nil, err
	}
	afterToken, err := erc20.BalanceOf(ctx, me)
	if err != nil {
		return nil, err
	}
	rep.ETHDelta = new(big.Int).Sub(afterETH, beforeETH)
	rep.TokenDelta = new(big.Int).Sub(afterToken, beforeToken)
	r.printf("Balances AFTER:")
	r.printf("ETH: %s (delta %s)", units.FormatEther(afterETH), units.FormatEther(rep.ETHDelta))
	r.printf("%s: %s (delta %s)", symbol, units.FormatUnits(afterToken, dec), units.FormatUnits(rep.TokenDelta, dec))

	rep.Loss = ImpermanentLoss(ILInput{
		ReserveToken:  reserveToken,
		ReserveETH:    reserveETH,
		TokenDecimals: dec,
		TokenDelta:    rep.TokenDelta,
		ETHDelta:      rep.ETHDelta,
		InitTokens:    cfg.InitTokens,
		InitETH:       cfg.InitETH,
	})
	r.printf("Impermanent loss analysis:")
	r.printf("Spot price: %s ETH per %s", rep.Loss.Price.StringFixed(8), symbol)
	r.printf("Value if HODL: %s ETH", rep.Loss.ValueIfHodl.StringFixed(6))
	r.printf("Value withdrawn: %s ETH", rep.Loss.ValueWithdrawn.StringFixed(6))
	r.printf("Impermanent loss: %s ETH (%s%%)", rep.Loss.Loss.StringFixed(6), rep.Loss.LossPct.StringFixed(2))
	r.printf("Transaction hash: %s", res.Hash.Hex())
	return rep, nil
}

// ProgressCallback is called after each Setup step.
type ProgressCallback func(step string, done, total int)

// Setup runs DeployToken, CreatePool and AddLiquidity in order.
func (r *Runner) Setup(ctx context.Context, art *Artifact, add AddConfig, onProgress ProgressCallback) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"deploy-token", func() error { _, err := r.DeployToken(ctx, art); return err }},
		{"create-pool", func() error { _, err := r.CreatePool(ctx); return err }},
		{"add-liquidity", func() error { _, err := r.AddLiquidity(ctx, add); return err }},
	}
	for i, s := range steps {
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if onProgress != nil {
			onProgress(s.name, i+1, len(steps))
		}
	}
	return nil
}
