package liquidity

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/dexkit/internal/account"
	"github.com/gateway-fm/dexkit/internal/rpc/rpctest"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/uniswapv2/v2test"
	"github.com/gateway-fm/dexkit/internal/units"
)

const testChainID = 31337

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAddressBook(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    AddressBook
	}{
		{
			name:    "lower-case keys",
			content: `{"token":"0x01","weth9":"0x02","factory":"0x03","router":"0x04"}`,
			want:    AddressBook{Token: "0x01", WETH9: "0x02", Factory: "0x03", Router: "0x04"},
		},
		{
			name:    "upper-case keys",
			content: `{"TOKEN":"0x01","WETH":"0x02","FACTORY":"0x03","ROUTER":"0x04"}`,
			want:    AddressBook{Token: "0x01", WETH9: "0x02", Factory: "0x03", Router: "0x04"},
		},
		{
			name:    "lower-case wins",
			content: `{"token":"0x01","TOKEN":"0x09"}`,
			want:    AddressBook{Token: "0x01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".json", tt.content)
			got, err := LoadAddressBook(path)
			if err != nil {
				t.Fatalf("LoadAddressBook() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("LoadAddressBook() = %+v, want %+v", *got, tt.want)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		got, err := LoadAddressBook(filepath.Join(dir, "absent.json"))
		if err != nil || *got != (AddressBook{}) {
			t.Errorf("LoadAddressBook() = %+v, %v; want empty book", got, err)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", `{`)
		if _, err := LoadAddressBook(path); err == nil {
			t.Error("expected error")
		}
	})
}

func TestSaveAddressBookMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts", DefaultAddressFile)
	if _, err := SaveAddressBook(path, AddressBook{Factory: "0x03", Router: "0x04"}); err != nil {
		t.Fatal(err)
	}
	if _, err := SaveAddressBook(path, AddressBook{Token: "0x01", Router: "0x05"}); err != nil {
		t.Fatal(err)
	}
	got, err := LoadAddressBook(path)
	if err != nil {
		t.Fatal(err)
	}
	want := AddressBook{Token: "0x01", Factory: "0x03", Router: "0x05"}
	if *got != want {
		t.Errorf("book = %+v, want %+v", *got, want)
	}
}

func TestAddressBookAddress(t *testing.T) {
	b := &AddressBook{Token: "not-an-address", Router: v2test.Router.Hex()}

	if got, err := b.Address("router"); err != nil || got != v2test.Router {
		t.Errorf("Address(router) = %s, %v", got.Hex(), err)
	}
	if _, err := b.Address("factory"); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("Address(factory) error = %v, want ErrMissingAddress", err)
	}
	if _, err := b.Address("token"); err == nil {
		t.Error("Address(token) accepted an invalid address")
	}
	if _, err := b.Address("pair"); err == nil {
		t.Error("Address(pair) accepted an unknown entry")
	}
}

func TestLoadArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "Pair.json", `{"contractName":"UniswapV2Pair","abi":[],"bytecode":"0x60806040"}`)

	art, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact() error = %v", err)
	}
	if art.ContractName != "UniswapV2Pair" || len(art.Bytecode) != 4 {
		t.Errorf("artifact = %+v", art)
	}
	if want := crypto.Keccak256Hash([]byte{0x60, 0x80, 0x60, 0x40}); art.InitCodeHash() != want {
		t.Errorf("InitCodeHash() = %s, want %s", art.InitCodeHash().Hex(), want.Hex())
	}

	empty := writeFile(t, dir, "IERC20.json", `{"contractName":"IERC20","abi":[],"bytecode":"0x"}`)
	if _, err := LoadArtifact(empty); !errors.Is(err, ErrNoBytecode) {
		t.Errorf("LoadArtifact(interface) error = %v, want ErrNoBytecode", err)
	}
	if _, err := LoadArtifact(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGenInitCodeHash(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Pair.json", `{"contractName":"UniswapV2Pair","abi":[],"bytecode":"0x60806040"}`)

	var out bytes.Buffer
	hash, err := GenInitCodeHash(path, &out)
	if err != nil {
		t.Fatalf("GenInitCodeHash() error = %v", err)
	}
	if want := crypto.Keccak256Hash([]byte{0x60, 0x80, 0x60, 0x40}); hash != want {
		t.Errorf("hash = %s, want %s", hash.Hex(), want.Hex())
	}
	if !strings.Contains(out.String(), "UniswapV2Pair bytecode length: 10") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), hash.Hex()) {
		t.Errorf("output missing hash: %q", out.String())
	}
}

func TestImpermanentLoss(t *testing.T) {
	e18 := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }
	half := new(big.Int).Div(e18(3), big.NewInt(2))

	tests := []struct {
		name     string
		in       ILInput
		wantLoss string
		wantPct  string
	}{
		{
			name: "no loss",
			in: ILInput{
				ReserveToken: e18(1000), ReserveETH: e18(1), TokenDecimals: 18,
				TokenDelta: e18(500), ETHDelta: half,
				InitTokens: decimal.NewFromInt(1000), InitETH: decimal.NewFromInt(1),
			},
			wantLoss: "0",
			wantPct:  "0",
		},
		{
			name: "half lost",
			in: ILInput{
				ReserveToken: e18(1000), ReserveETH: e18(1), TokenDecimals: 18,
				TokenDelta: big.NewInt(0), ETHDelta: e18(1),
				InitTokens: decimal.NewFromInt(1000), InitETH: decimal.NewFromInt(1),
			},
			wantLoss: "-1",
			wantPct:  "-50",
		},
		{
			name: "empty pool",
			in: ILInput{
				ReserveToken: big.NewInt(0), ReserveETH: big.NewInt(0), TokenDecimals: 18,
				TokenDelta: big.NewInt(0), ETHDelta: big.NewInt(0),
				InitTokens: decimal.NewFromInt(1000), InitETH: decimal.Zero,
			},
			wantLoss: "0",
			wantPct:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := ImpermanentLoss(tt.in)
			if got := rep.Loss.String(); got != tt.wantLoss {
				t.Errorf("Loss = %s, want %s", got, tt.wantLoss)
			}
			if got := rep.LossPct.String(); got != tt.wantPct {
				t.Errorf("LossPct = %s, want %s", got, tt.wantPct)
			}
		})
	}
}

func TestPredictPair(t *testing.T) {
	a := common.HexToAddress("0x1000000000000000000000000000000000000001")
	got, err := PredictPair(v2test.Factory, a, v2test.WETH, uniswapv2.DefaultInitCodeHash)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := uniswapv2.ComputePairAddress(v2test.Factory, v2test.WETH, a, uniswapv2.DefaultInitCodeHash)
	if got != want {
		t.Errorf("PredictPair() = %s, want %s (argument order must not matter)", got.Hex(), want.Hex())
	}
}

type fixture struct {
	fake     *rpctest.Fake
	market   *v2test.Market
	runner   *Runner
	store    *storage.SQLiteStorage
	out      *bytes.Buffer
	me       common.Address
	bookPath string
	artifact *Artifact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := rpctest.New(testChainID)
	m := v2test.NewMarket(f)

	acc, err := account.DevAccount(0)
	if err != nil {
		t.Fatal(err)
	}
	supply := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))
	f.OnDeploy = func(_ *types.Transaction, from, addr common.Address) bool {
		m.AddToken(addr, "DEMO", 18)
		m.Mint(addr, from, supply)
		return true
	}

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "dexkit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bookPath := filepath.Join(dir, DefaultAddressFile)
	book, err := SaveAddressBook(bookPath, AddressBook{Factory: v2test.Factory.Hex(), Router: v2test.Router.Hex()})
	if err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	r := New(Config{
		Client: f,
		Sender: sender.New(sender.Config{
			Client:       f,
			Account:      acc,
			ChainID:      testChainID,
			PollInterval: time.Millisecond,
		}),
		ChainID:  testChainID,
		Book:     book,
		BookPath: bookPath,
		Store:    store,
		Out:      out,
		Now:      func() time.Time { return time.Unix(1_750_000_000, 0) },
	})
	return &fixture{
		fake:     f,
		market:   m,
		runner:   r,
		store:    store,
		out:      out,
		me:       acc.Address,
		bookPath: bookPath,
		artifact: &Artifact{ContractName: "DemoToken", Bytecode: []byte{0x60, 0x80, 0x60, 0x40}},
	}
}

func TestDeployToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.runner.DeployToken(ctx, fx.artifact)
	if err != nil {
		t.Fatalf("DeployToken() error = %v", err)
	}
	if want := crypto.CreateAddress(fx.me, 0); res.Address != want || res.Skipped {
		t.Errorf("DeployToken() = %+v, want address %s", res, want.Hex())
	}

	book, err := LoadAddressBook(fx.bookPath)
	if err != nil {
		t.Fatal(err)
	}
	if book.Token != res.Address.Hex() || book.Router != v2test.Router.Hex() {
		t.Errorf("saved book = %+v", book)
	}
	deployments, err := fx.store.LoadDeployments(ctx, testChainID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deployments) != 1 || deployments[0].Name != "token" || deployments[0].Address != res.Address.Hex() {
		t.Errorf("deployments = %+v", deployments)
	}

	again, err := fx.runner.DeployToken(ctx, fx.artifact)
	if err != nil {
		t.Fatalf("second DeployToken() error = %v", err)
	}
	if !again.Skipped || again.Address != res.Address {
		t.Errorf("second DeployToken() = %+v, want skipped", again)
	}
	if n := len(fx.fake.Sent); n != 1 {
		t.Errorf("sent %d transactions, want 1", n)
	}
}

func TestLiquidityLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.runner.DeployToken(ctx, fx.artifact); err != nil {
		t.Fatal(err)
	}
	token := common.HexToAddress(fx.runner.Book().Token)

	if _, err := fx.runner.AddLiquidity(ctx, DefaultAddConfig()); !errors.Is(err, ErrPairNotFound) {
		t.Fatalf("AddLiquidity() before pool error = %v, want ErrPairNotFound", err)
	}

	pool, err := fx.runner.CreatePool(ctx)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if !pool.Created || !pool.Match() || pool.TxHash == (common.Hash{}) {
		t.Errorf("CreatePool() = %+v", pool)
	}
	if fx.runner.Book().WETH9 != v2test.WETH.Hex() {
		t.Errorf("WETH9 = %s, want it resolved from the router", fx.runner.Book().WETH9)
	}

	again, err := fx.runner.CreatePool(ctx)
	if err != nil {
		t.Fatalf("second CreatePool() error = %v", err)
	}
	if again.Created || again.Pair != pool.Pair {
		t.Errorf("second CreatePool() = %+v", again)
	}

	if _, err := fx.runner.RemoveLiquidity(ctx, DefaultRemoveConfig()); !errors.Is(err, ErrNoLPTokens) {
		t.Fatalf("RemoveLiquidity() without LP error = %v, want ErrNoLPTokens", err)
	}

	added, err := fx.runner.AddLiquidity(ctx, DefaultAddConfig())
	if err != nil {
		t.Fatalf("AddLiquidity() error = %v", err)
	}
	tokenAmount := new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e18))
	ethAmount := big.NewInt(1e17)
	if added.ReserveToken.Cmp(tokenAmount) != 0 || added.ReserveETH.Cmp(ethAmount) != 0 {
		t.Errorf("reserves = %s/%s", added.ReserveToken, added.ReserveETH)
	}
	// sqrt(1e23 * 1e17) minus the locked minimum liquidity
	wantLP := new(big.Int).Sub(new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)), big.NewInt(1000))
	if added.LPBalance.Cmp(wantLP) != 0 {
		t.Errorf("LP balance = %s, want %s", added.LPBalance, wantLP)
	}

	approvals := fx.fake.SentTo(token, uniswapv2.SelectorApprove)
	if len(approvals) != 1 || rpctest.ArgUint(approvals[0].Data()[4:], 1).Cmp(tokenAmount) != 0 {
		t.Errorf("approvals = %d, want one for exactly the deposit", len(approvals))
	}
	adds := fx.fake.SentTo(v2test.Router, uniswapv2.SelectorAddLiquidityETH)
	if len(adds) != 1 {
		t.Fatalf("sent %d addLiquidityETH, want 1", len(adds))
	}
	if dl := rpctest.ArgUint(adds[0].Data()[4:], 5).Int64(); dl != fx.fake.BlockTime.Unix()+600 {
		t.Errorf("deadline = %d, want block time + 600", dl)
	}
	if adds[0].Value().Cmp(ethAmount) != 0 {
		t.Errorf("value = %s, want %s", adds[0].Value(), ethAmount)
	}

	cfg := DefaultRemoveConfig()
	cfg.InitTokens = decimal.NewFromInt(100_000)
	rep, err := fx.runner.RemoveLiquidity(ctx, cfg)
	if err != nil {
		t.Fatalf("RemoveLiquidity() error = %v", err)
	}
	if rep.LPRemoved.Cmp(wantLP) != 0 {
		t.Errorf("LP removed = %s, want %s", rep.LPRemoved, wantLP)
	}
	if rep.TokenDelta.Cmp(rep.ExpectedToken) != 0 || rep.ETHDelta.Cmp(rep.ExpectedETH) != 0 {
		t.Errorf("deltas %s/%s, expected %s/%s", rep.TokenDelta, rep.ETHDelta, rep.ExpectedToken, rep.ExpectedETH)
	}
	wantMin := new(big.Int).Sub(rep.ExpectedETH, new(big.Int).Div(rep.ExpectedETH, big.NewInt(100)))
	if rep.MinETH.Cmp(wantMin) != 0 {
		t.Errorf("min ETH = %s, want %s", rep.MinETH, wantMin)
	}
	if rep.Loss.Loss.Sign() > 0 || rep.Loss.Loss.Abs().GreaterThan(decimal.RequireFromString("0.000000001")) {
		t.Errorf("loss = %s, want ~0 for a round trip", rep.Loss.Loss)
	}
	if rep.Loss.Price.String() != "0.000001" {
		t.Errorf("price = %s, want 0.000001", rep.Loss.Price)
	}

	logs, err := fx.store.ListTxLogs(ctx, 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	// deploy, createPair, approve+add, approve+remove
	if logs.Total != 6 {
		t.Errorf("tx logs = %d, want 6", logs.Total)
	}
	for _, e := range logs.Transactions {
		if e.Status != storage.TxStatusConfirmed {
			t.Errorf("tx log %s status = %s", e.Action, e.Status)
		}
	}

	report := fx.out.String()
	for _, want := range []string{"Token deployed to:", "Pair already exists.", "Liquidity added successfully", "Impermanent loss:"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestRemoveLiquidityValidatesConfig(t *testing.T) {
	fx := newFixture(t)
	for _, cfg := range []RemoveConfig{
		{RemoveBps: 0, SlippageBps: 100},
		{RemoveBps: 10_001, SlippageBps: 100},
		{RemoveBps: 5_000, SlippageBps: -1},
	} {
		if _, err := fx.runner.RemoveLiquidity(context.Background(), cfg); err == nil {
			t.Errorf("RemoveLiquidity(%+v) accepted invalid config", cfg)
		}
	}
}

func TestAddLiquidityRejectsOversizedAmounts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if _, err := fx.runner.DeployToken(ctx, fx.artifact); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.runner.CreatePool(ctx); err != nil {
		t.Fatal(err)
	}
	sent := len(fx.fake.Sent)

	for _, cfg := range []AddConfig{
		{TokenAmount: "1e80", ETHAmount: "0.1"},
		{TokenAmount: "100000", ETHAmount: "1e60"},
	} {
		if _, err := fx.runner.AddLiquidity(ctx, cfg); !errors.Is(err, units.ErrAmountTooLarge) {
			t.Errorf("AddLiquidity(%+v) error = %v, want ErrAmountTooLarge", cfg, err)
		}
	}
	if n := len(fx.fake.Sent); n != sent {
		t.Errorf("sent %d transactions for rejected amounts", n-sent)
	}
}

func TestHydrate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	live := common.HexToAddress("0x1000000000000000000000000000000000000001")
	gone := common.HexToAddress("0x2000000000000000000000000000000000000002")
	fx.market.AddToken(live, "LIVE", 18)

	for _, d := range []storage.Deployment{
		{ChainID: testChainID, Name: "token", Address: live.Hex()},
		{ChainID: testChainID, Name: "weth9", Address: gone.Hex()},
		{ChainID: testChainID, Name: "router", Address: gone.Hex()},
		{ChainID: testChainID, Name: "pair", Address: live.Hex()},
	} {
		if err := fx.store.SaveDeployment(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	restored, stale, err := fx.runner.Hydrate(ctx)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if len(restored) != 1 || restored[0] != "token" {
		t.Errorf("restored = %v, want [token]", restored)
	}
	if len(stale) != 1 || stale[0] != "weth9" {
		t.Errorf("stale = %v, want [weth9]", stale)
	}
	if fx.runner.Book().Token != live.Hex() {
		t.Errorf("token = %s", fx.runner.Book().Token)
	}
	if fx.runner.Book().Router != v2test.Router.Hex() {
		t.Error("Hydrate overwrote a configured router")
	}
}

func TestSetup(t *testing.T) {
	fx := newFixture(t)
	var steps []string
	err := fx.runner.Setup(context.Background(), fx.artifact, DefaultAddConfig(), func(step string, done, total int) {
		steps = append(steps, step)
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if strings.Join(steps, ",") != "deploy-token,create-pool,add-liquidity" {
		t.Errorf("steps = %v", steps)
	}
}
