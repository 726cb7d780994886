package dex

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/dexkit/internal/account"
	"github.com/gateway-fm/dexkit/internal/rpc/rpctest"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/uniswapv2/v2test"
	"github.com/gateway-fm/dexkit/internal/units"
	"github.com/gateway-fm/dexkit/internal/wallet"
	"github.com/gateway-fm/dexkit/pkg/types"
)

const testChainID = 31337

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	pairAW = common.HexToAddress("0xA000000000000000000000000000000000000001")
	pairBW = common.HexToAddress("0xB000000000000000000000000000000000000002")
	pairAB = common.HexToAddress("0xAB00000000000000000000000000000000000003")

	testNow = time.Unix(1_750_000_000, 0)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type memRecorder struct {
	mu      sync.Mutex
	entries []storage.TxLogEntry
}

func (r *memRecorder) InsertTxLog(_ context.Context, e *storage.TxLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memRecorder) all() []storage.TxLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.TxLogEntry(nil), r.entries...)
}

type fixture struct {
	fake    *rpctest.Fake
	market  *v2test.Market
	svc     *Service
	rec     *memRecorder
	account common.Address
}

// newFixture builds a market with tokens A (18 decimals) and B (6
// decimals), both paired with WETH, and a connected session.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := newDisconnected(t)
	if _, err := fx.svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return fx
}

func newDisconnected(t *testing.T) *fixture {
	t.Helper()
	f := rpctest.New(testChainID)
	m := v2test.NewMarket(f)
	m.AddToken(tokenA, "AAA", 18)
	m.AddToken(tokenB, "BBB", 6)
	m.AddPair(pairAW, tokenA, v2test.WETH, ether(100_000), ether(10))
	m.AddPair(pairBW, tokenB, v2test.WETH, big.NewInt(50_000_000_000), ether(5))

	acc, err := account.DevAccount(0)
	if err != nil {
		t.Fatalf("DevAccount() error = %v", err)
	}
	m.Mint(tokenA, acc.Address, ether(1_000))
	m.Mint(tokenB, acc.Address, big.NewInt(1_000_000_000))

	snd := sender.New(sender.Config{
		Client:       f,
		Account:      acc,
		ChainID:      testChainID,
		PollInterval: time.Millisecond,
	})
	rec := &memRecorder{}
	svc := New(Config{
		Client:        f,
		Sender:        snd,
		Router:        v2test.Router,
		TargetChainID: testChainID,
		Recorder:      rec,
		Now:           func() time.Time { return testNow },
	})
	return &fixture{fake: f, market: m, svc: svc, rec: rec, account: acc.Address}
}

func (fx *fixture) logText() string {
	var sb strings.Builder
	for _, l := range fx.svc.Log().Lines() {
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestConnect(t *testing.T) {
	fx := newDisconnected(t)
	res, err := fx.svc.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if res.Address != fx.account.Hex() {
		t.Errorf("address = %s, want %s", res.Address, fx.account.Hex())
	}
	if res.WETH != v2test.WETH.Hex() {
		t.Errorf("weth = %s, want %s", res.WETH, v2test.WETH.Hex())
	}
	if res.Factory != v2test.Factory.Hex() {
		t.Errorf("factory = %s, want %s", res.Factory, v2test.Factory.Hex())
	}

	st := fx.svc.Status()
	if !st.Connected || st.ChainID != testChainID || st.Busy {
		t.Errorf("status = %+v", st)
	}
	if !strings.Contains(fx.logText(), "connected "+fx.account.Hex()) {
		t.Errorf("log missing connect line:\n%s", fx.logText())
	}
}

func TestConnectWrongNetwork(t *testing.T) {
	fx := newDisconnected(t)
	fx.fake.ChainIDValue = 1
	fx.fake.SwitchErr = errors.New("user rejected")

	_, err := fx.svc.Connect(context.Background())
	if !errors.Is(err, wallet.ErrWrongNetwork) {
		t.Fatalf("Connect() error = %v, want ErrWrongNetwork", err)
	}
	if fx.svc.Status().Connected {
		t.Error("session connected after failed switch")
	}
	if !strings.Contains(fx.logText(), "Connect failed") {
		t.Errorf("log missing failure line:\n%s", fx.logText())
	}
}

func TestActionsRequireConnection(t *testing.T) {
	fx := newDisconnected(t)
	_, err := fx.svc.Buy(context.Background(), types.BuyRequest{Token: tokenA.Hex(), ETHAmount: "0.1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Buy() error = %v, want ErrNotConnected", err)
	}
	if _, err := fx.svc.GetTokenBalances(context.Background(), []string{tokenA.Hex()}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetTokenBalances() error = %v, want ErrNotConnected", err)
	}

	entries := fx.rec.all()
	if len(entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(entries))
	}
	if entries[0].Status != storage.TxStatusFailed || entries[0].TxHash != "" || entries[0].Action != "buy" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestInputValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"buy missing token", func() error {
			_, err := fx.svc.Buy(ctx, types.BuyRequest{ETHAmount: "1"})
			return err
		}, ErrMissingAddress},
		{"buy bad token", func() error {
			_, err := fx.svc.Buy(ctx, types.BuyRequest{Token: "0x1234", ETHAmount: "1"})
			return err
		}, ErrInvalidAddress},
		{"buy zero amount", func() error {
			_, err := fx.svc.Buy(ctx, types.BuyRequest{Token: tokenA.Hex(), ETHAmount: "0"})
			return err
		}, ErrInvalidAmount},
		{"sell too precise", func() error {
			_, err := fx.svc.Sell(ctx, types.SellRequest{Token: tokenB.Hex(), Amount: "1.0000001"})
			return err
		}, units.ErrTooPrecise},
		{"swap same token", func() error {
			_, err := fx.svc.Swap(ctx, types.SwapRequest{TokenIn: tokenA.Hex(), TokenOut: tokenA.Hex(), Amount: "1"})
			return err
		}, uniswapv2.ErrIdenticalAddresses},
		{"buy WETH", func() error {
			_, err := fx.svc.Buy(ctx, types.BuyRequest{Token: v2test.WETH.Hex(), ETHAmount: "1"})
			return err
		}, uniswapv2.ErrIdenticalAddresses},
		{"buy malformed amount", func() error {
			_, err := fx.svc.Buy(ctx, types.BuyRequest{Token: tokenA.Hex(), ETHAmount: "1,5"})
			return err
		}, units.ErrMalformedAmount},
		{"sell amount over uint256", func() error {
			_, err := fx.svc.Sell(ctx, types.SellRequest{Token: tokenA.Hex(), Amount: "1e60"})
			return err
		}, units.ErrAmountTooLarge},
		{"swap amount over uint256", func() error {
			_, err := fx.svc.Swap(ctx, types.SwapRequest{TokenIn: tokenA.Hex(), TokenOut: tokenB.Hex(), Amount: "1e60"})
			return err
		}, units.ErrAmountTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !IsUserError(err) {
				t.Errorf("IsUserError(%v) = false", err)
			}
		})
	}
	if n := len(fx.fake.Sent); n != 0 {
		t.Errorf("sent %d transactions, want 0", n)
	}
}

func TestBuy(t *testing.T) {
	fx := newFixture(t)
	before := fx.market.BalanceOf(tokenA, fx.account)

	res, err := fx.svc.Buy(context.Background(), types.BuyRequest{Token: tokenA.Hex(), ETHAmount: "0.1"})
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}

	amountIn := new(big.Int).Div(ether(1), big.NewInt(10))
	quoted, _ := uniswapv2.GetAmountOut(amountIn, ether(10), ether(100_000))
	if res.QuotedOut != quoted.String() {
		t.Errorf("quotedOut = %s, want %s", res.QuotedOut, quoted)
	}
	if res.AmountOutMin != "0" {
		t.Errorf("amountOutMin = %s, want 0", res.AmountOutMin)
	}
	if res.ActionID == "" || res.Action != types.ActionBuy || res.TxHash == "" {
		t.Errorf("result = %+v", res)
	}

	sent := fx.fake.SentTo(v2test.Router, uniswapv2.SelectorSwapExactETHForTokens)
	if len(sent) != 1 {
		t.Fatalf("sent %d swaps, want 1", len(sent))
	}
	tx := sent[0]
	if tx.Value().Cmp(amountIn) != 0 {
		t.Errorf("value = %s, want %s", tx.Value(), amountIn)
	}
	args := tx.Data()[4:]
	path, err := rpctest.ArgAddressArray(args, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 || path[0] != v2test.WETH || path[1] != tokenA {
		t.Errorf("path = %v", path)
	}
	if to := rpctest.ArgAddress(args, 2); to != fx.account {
		t.Errorf("to = %s, want %s", to.Hex(), fx.account.Hex())
	}
	if dl := rpctest.ArgUint(args, 3).Int64(); dl != testNow.Add(SwapDeadline).Unix() {
		t.Errorf("deadline = %d, want %d", dl, testNow.Add(SwapDeadline).Unix())
	}

	after := fx.market.BalanceOf(tokenA, fx.account)
	if got := new(big.Int).Sub(after, before); got.Cmp(quoted) != 0 {
		t.Errorf("received %s, want %s", got, quoted)
	}

	entries := fx.rec.all()
	if len(entries) != 1 || entries[0].Status != storage.TxStatusConfirmed || entries[0].TxHash != res.TxHash {
		t.Errorf("entries = %+v", entries)
	}
	log := fx.logText()
	for _, want := range []string{"getAmountsOut OK", "buy tx sent: " + res.TxHash, "buy confirmed"} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
	if st := fx.svc.Status(); st.ConfirmLatency == nil || st.ConfirmLatency.Count != 1 {
		t.Errorf("confirm latency = %+v", st.ConfirmLatency)
	}
}

func TestBuyWithoutQuoteStillSends(t *testing.T) {
	fx := newFixture(t)
	orphan := common.HexToAddress("0x3000000000000000000000000000000000000003")
	fx.market.AddToken(orphan, "ORP", 18)

	_, err := fx.svc.Buy(context.Background(), types.BuyRequest{Token: orphan.Hex(), ETHAmount: "1"})
	// No pair: the quote fails, the swap is still sent and reverts on chain.
	if !errors.Is(err, sender.ErrTxReverted) {
		t.Fatalf("Buy() error = %v, want ErrTxReverted", err)
	}
	if n := len(fx.fake.SentTo(v2test.Router, uniswapv2.SelectorSwapExactETHForTokens)); n != 1 {
		t.Errorf("sent %d swaps, want 1", n)
	}
	if !strings.Contains(fx.logText(), "getAmountsOut failed (pair may not exist)") {
		t.Errorf("log missing quote failure:\n%s", fx.logText())
	}
	entries := fx.rec.all()
	if len(entries) != 1 || entries[0].Status != storage.TxStatusReverted {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSell(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.Sell(context.Background(), types.SellRequest{Token: tokenA.Hex(), Amount: "100"})
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if res.ApproveTxHash == "" {
		t.Error("expected an approve transaction")
	}
	if a := fx.market.Allowance(tokenA, fx.account, v2test.Router); a.Cmp(uniswapv2.MaxUint256) != 0 {
		t.Errorf("allowance = %s, want max", a)
	}

	quoted, _ := uniswapv2.GetAmountOut(ether(100), ether(100_000), ether(10))
	wantMin := new(big.Int).Div(new(big.Int).Mul(quoted, big.NewInt(995)), big.NewInt(1000))
	if res.QuotedOut != quoted.String() || res.AmountOutMin != wantMin.String() {
		t.Errorf("quoted = %s min = %s, want %s and %s", res.QuotedOut, res.AmountOutMin, quoted, wantMin)
	}

	sent := fx.fake.SentTo(v2test.Router, uniswapv2.SelectorSwapExactTokensForETH)
	if len(sent) != 1 {
		t.Fatalf("sent %d swaps, want 1", len(sent))
	}
	args := sent[0].Data()[4:]
	if got := rpctest.ArgUint(args, 0); got.Cmp(ether(100)) != 0 {
		t.Errorf("amountIn = %s", got)
	}
	if got := rpctest.ArgUint(args, 1); got.Cmp(wantMin) != 0 {
		t.Errorf("amountOutMin = %s, want %s", got, wantMin)
	}

	entries := fx.rec.all()
	if len(entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(entries))
	}
	if entries[0].Action != "approve" || entries[1].Action != "sell" {
		t.Errorf("actions = %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].ActionID != entries[1].ActionID || entries[0].ActionID != res.ActionID {
		t.Error("entries do not share the action ID")
	}

	// A second sell finds the allowance in place.
	res, err = fx.svc.Sell(context.Background(), types.SellRequest{Token: tokenA.Hex(), Amount: "1"})
	if err != nil {
		t.Fatalf("second Sell() error = %v", err)
	}
	if res.ApproveTxHash != "" {
		t.Errorf("unexpected approve %s", res.ApproveTxHash)
	}
	if !strings.Contains(fx.logText(), "no approve needed") {
		t.Errorf("log missing allowance skip:\n%s", fx.logText())
	}
}

func TestSellWithoutPair(t *testing.T) {
	fx := newFixture(t)
	orphan := common.HexToAddress("0x3000000000000000000000000000000000000003")
	fx.market.AddToken(orphan, "ORP", 18)

	_, err := fx.svc.Sell(context.Background(), types.SellRequest{Token: orphan.Hex(), Amount: "1"})
	if !errors.Is(err, ErrNoPair) {
		t.Fatalf("Sell() error = %v, want ErrNoPair", err)
	}
	if n := len(fx.fake.Sent); n != 0 {
		t.Errorf("sent %d transactions, want 0", n)
	}
	if !strings.Contains(fx.logText(), "Sell failed: ") {
		t.Errorf("log missing failure line:\n%s", fx.logText())
	}
}

func TestSwapPathSelection(t *testing.T) {
	tests := []struct {
		name       string
		directPair bool
		wantHops   int
		wantLog    string
	}{
		{"direct pair", true, 2, "using direct path"},
		{"via WETH", false, 3, "using 2-hop path via WETH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			if tt.directPair {
				fx.market.AddPair(pairAB, tokenA, tokenB, ether(1_000), big.NewInt(500_000_000))
			}

			res, err := fx.svc.Swap(context.Background(), types.SwapRequest{
				TokenIn:  tokenA.Hex(),
				TokenOut: tokenB.Hex(),
				Amount:   "10",
			})
			if err != nil {
				t.Fatalf("Swap() error = %v", err)
			}
			if n := fx.fake.CallsTo(v2test.Factory, uniswapv2.SelectorGetPair); n != 1 {
				t.Errorf("getPair called %d times, want 1", n)
			}
			if !strings.Contains(fx.logText(), "directPair: ") {
				t.Errorf("log missing directPair line:\n%s", fx.logText())
			}
			if len(res.Path) != tt.wantHops {
				t.Errorf("path = %v, want %d tokens", res.Path, tt.wantHops)
			}
			quoted, _ := new(big.Int).SetString(res.QuotedOut, 10)
			wantMin := new(big.Int).Div(new(big.Int).Mul(quoted, big.NewInt(99)), big.NewInt(100))
			if res.AmountOutMin != wantMin.String() {
				t.Errorf("amountOutMin = %s, want %s", res.AmountOutMin, wantMin)
			}
			if !strings.Contains(fx.logText(), tt.wantLog) {
				t.Errorf("log missing %q:\n%s", tt.wantLog, fx.logText())
			}
			if n := len(fx.fake.SentTo(v2test.Router, uniswapv2.SelectorSwapExactTokensForTokens)); n != 1 {
				t.Errorf("sent %d swaps, want 1", n)
			}
		})
	}
}

func TestSwapWithoutLiquidity(t *testing.T) {
	fx := newFixture(t)
	orphan := common.HexToAddress("0x3000000000000000000000000000000000000003")
	fx.market.AddToken(orphan, "ORP", 18)

	_, err := fx.svc.Swap(context.Background(), types.SwapRequest{
		TokenIn:  tokenA.Hex(),
		TokenOut: orphan.Hex(),
		Amount:   "1",
	})
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("Swap() error = %v, want ErrNoLiquidity", err)
	}
	if n := len(fx.fake.SentTo(v2test.Router, uniswapv2.SelectorSwapExactTokensForTokens)); n != 0 {
		t.Errorf("sent %d swaps, want 0", n)
	}
}

func TestSwapReverted(t *testing.T) {
	fx := newFixture(t)
	fx.market.SetAllowance(tokenA, fx.account, v2test.Router, uniswapv2.MaxUint256)
	fx.market.RevertSwaps(true)

	_, err := fx.svc.Swap(context.Background(), types.SwapRequest{
		TokenIn:  tokenA.Hex(),
		TokenOut: tokenB.Hex(),
		Amount:   "1",
	})
	if !errors.Is(err, sender.ErrTxReverted) {
		t.Fatalf("Swap() error = %v, want ErrTxReverted", err)
	}
	entries := fx.rec.all()
	if len(entries) != 1 || entries[0].Status != storage.TxStatusReverted || entries[0].TxHash == "" {
		t.Errorf("entries = %+v", entries)
	}
	if fx.svc.Status().Busy {
		t.Error("session still busy after failure")
	}
}

func TestApprove(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.Approve(context.Background(), types.ApproveRequest{Token: tokenB.Hex()})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if res.TxHash == "" {
		t.Fatal("expected an approve transaction")
	}
	sent := fx.fake.SentTo(tokenB, uniswapv2.SelectorApprove)
	if len(sent) != 1 {
		t.Fatalf("sent %d approvals, want 1", len(sent))
	}
	args := sent[0].Data()[4:]
	if rpctest.ArgAddress(args, 0) != v2test.Router || rpctest.ArgUint(args, 1).Cmp(uniswapv2.MaxUint256) != 0 {
		t.Errorf("approve args = %x", args)
	}

	hash, err := fx.svc.EnsureApproval(context.Background(), tokenB, v2test.Router, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("EnsureApproval() error = %v", err)
	}
	if hash != "" {
		t.Errorf("EnsureApproval() sent %s with max allowance in place", hash)
	}
}

func TestBusy(t *testing.T) {
	fx := newFixture(t)
	release, err := fx.svc.begin(types.ActionSwap)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fx.svc.Buy(context.Background(), types.BuyRequest{Token: tokenA.Hex(), ETHAmount: "1"}); !errors.Is(err, ErrBusy) {
		t.Errorf("Buy() error = %v, want ErrBusy", err)
	}
	if _, err := fx.svc.GetPoolInfo(context.Background(), []string{pairAW.Hex()}); !errors.Is(err, ErrBusy) {
		t.Errorf("GetPoolInfo() error = %v, want ErrBusy", err)
	}
	if st := fx.svc.Status(); !st.Busy || st.CurrentAction != types.ActionSwap {
		t.Errorf("status = %+v", st)
	}

	release()
	if _, err := fx.svc.GetPoolInfo(context.Background(), []string{pairAW.Hex()}); err != nil {
		t.Errorf("GetPoolInfo() after release error = %v", err)
	}
}

func TestGetTokenBalances(t *testing.T) {
	fx := newFixture(t)
	noCode := common.HexToAddress("0x4000000000000000000000000000000000000004")

	rows, err := fx.svc.GetTokenBalances(context.Background(), []string{
		tokenA.Hex(), "", "  ", tokenB.Hex(), "nope", noCode.Hex(),
	})
	if err != nil {
		t.Fatalf("GetTokenBalances() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}

	if rows[0].Symbol != "AAA" || rows[0].Decimals != 18 || rows[0].Formatted != "1000.000000" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Symbol != "BBB" || rows[1].Decimals != 6 || rows[1].Balance != "1000000000" || rows[1].Formatted != "1000.000000" {
		t.Errorf("row 1 = %+v", rows[1])
	}
	if rows[2].Error == "" || rows[2].Token != "nope" {
		t.Errorf("row 2 = %+v", rows[2])
	}
	if rows[3].Error == "" {
		t.Errorf("row 3 = %+v, want error for address without code", rows[3])
	}
}

func TestTooManyItems(t *testing.T) {
	fx := newFixture(t)
	items := make([]string, MaxItems+1)
	for i := range items {
		items[i] = tokenA.Hex()
	}
	if _, err := fx.svc.GetTokenBalances(context.Background(), items); !errors.Is(err, ErrTooManyItems) {
		t.Errorf("GetTokenBalances() error = %v, want ErrTooManyItems", err)
	}
	if _, err := fx.svc.GetPoolInfo(context.Background(), items); !errors.Is(err, ErrTooManyItems) {
		t.Errorf("GetPoolInfo() error = %v, want ErrTooManyItems", err)
	}
}

func TestGetPoolInfo(t *testing.T) {
	// Pools work without a wallet.
	fx := newDisconnected(t)
	bare := common.HexToAddress("0x5000000000000000000000000000000000000005")
	bareToken := common.HexToAddress("0x6000000000000000000000000000000000000006")
	fx.market.AddPair(bare, bareToken, tokenA, ether(1), ether(2))

	rows, err := fx.svc.GetPoolInfo(context.Background(), []string{pairAW.Hex(), bare.Hex(), tokenA.Hex()})
	if err != nil {
		t.Fatalf("GetPoolInfo() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	pool := rows[0]
	if pool.Error != "" {
		t.Fatalf("row 0 error = %s", pool.Error)
	}
	var aSide, wethSide string
	if pool.Token0 == tokenA.Hex() {
		aSide, wethSide = pool.Price0InETH, pool.Price1InETH
	} else {
		aSide, wethSide = pool.Price1InETH, pool.Price0InETH
	}
	if wethSide != "1.0" {
		t.Errorf("WETH price = %s, want 1.0", wethSide)
	}
	one, _ := uniswapv2.GetAmountOut(ether(1), ether(100_000), ether(10))
	if want := units.FormatUnits(one, 18); aSide != want {
		t.Errorf("token price = %s, want %s", aSide, want)
	}

	unknown := rows[1]
	if unknown.Error != "" {
		t.Fatalf("row 1 error = %s", unknown.Error)
	}
	sym := map[string]string{unknown.Token0: unknown.Symbol0, unknown.Token1: unknown.Symbol1}
	if got := sym[bareToken.Hex()]; got != "T0" && got != "T1" {
		t.Errorf("fallback symbol = %q", got)
	}
	if unknown.Decimals0 != 18 || unknown.Decimals1 != 18 {
		t.Errorf("decimals = %d/%d, want 18/18", unknown.Decimals0, unknown.Decimals1)
	}
	barePrice := unknown.Price0InETH
	if unknown.Token1 == bareToken.Hex() {
		barePrice = unknown.Price1InETH
	}
	if barePrice != PriceUnavailable {
		t.Errorf("unquotable price = %s, want %s", barePrice, PriceUnavailable)
	}

	if rows[2].Error == "" {
		t.Errorf("row 2 = %+v, want error for a token address", rows[2])
	}
}

func TestGetPosition(t *testing.T) {
	fx := newFixture(t)
	fx.market.MintLP(pairAW, common.Address{}, big.NewInt(3_000))
	fx.market.MintLP(pairAW, fx.account, big.NewInt(1_000))

	pos, err := fx.svc.GetPosition(context.Background(), tokenA.Hex(), v2test.WETH.Hex())
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if pos.Pair != pairAW.Hex() || pos.PairNotFound {
		t.Errorf("pair = %s notFound=%v", pos.Pair, pos.PairNotFound)
	}
	if pos.LPBalance != "1000" || pos.ShareOfPool != "25" {
		t.Errorf("lp = %s share = %s", pos.LPBalance, pos.ShareOfPool)
	}
	if pos.ReserveA != ether(100_000).String() || pos.ReserveB != ether(10).String() {
		t.Errorf("reserves = %s/%s", pos.ReserveA, pos.ReserveB)
	}
	if pos.FormattedA != "1000.0" {
		t.Errorf("formattedA = %s", pos.FormattedA)
	}

	pos, err = fx.svc.GetPosition(context.Background(), tokenA.Hex(), tokenB.Hex())
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if !pos.PairNotFound || pos.ShareOfPool != "0" {
		t.Errorf("position = %+v, want pairNotFound", pos)
	}
}

func TestQuote(t *testing.T) {
	fx := newFixture(t)

	q, err := fx.svc.Quote(context.Background(), tokenA.Hex(), tokenB.Hex(), "10")
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if len(q.Path) != 3 {
		t.Errorf("path = %v, want via WETH", q.Path)
	}
	if q.RouterOut == "" || q.RouterOut != q.LocalOut {
		t.Errorf("router = %q local = %q (errors %q, %q)", q.RouterOut, q.LocalOut, q.RouterError, q.LocalError)
	}
}

func TestShareOf(t *testing.T) {
	tests := []struct {
		part, total int64
		want        string
	}{
		{0, 0, "0"},
		{1, 4, "25"},
		{1, 3, "33.3333"},
		{5, 5, "100"},
	}
	for _, tt := range tests {
		if got := shareOf(big.NewInt(tt.part), big.NewInt(tt.total)); got != tt.want {
			t.Errorf("shareOf(%d, %d) = %s, want %s", tt.part, tt.total, got, tt.want)
		}
	}
}
