package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/dexkit/internal/rpc/rpctest"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/uniswapv2/v2test"
)

// run executes the CLI with a clean environment and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{
		"DEX_NETWORK", "DEX_RPC_URL", "DEX_CHAIN_ID", "DEX_ROUTER", "DEX_FACTORY",
		"DEX_DB_PATH", "DEX_ADDRESSES_FILE", "DEX_PRIVATE_KEY", "FIN556_MNEMONIC", "FIN556_ALCHEMY_URL",
	} {
		t.Setenv(k, "")
	}

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	base := []string{"dexkit", "--env-file", filepath.Join(t.TempDir(), "none.env")}
	err := app.Run(append(base, args...))
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitCodeHashCommand(t *testing.T) {
	path := writeFile(t, "UniswapV2Pair.json", `{"contractName":"UniswapV2Pair","abi":[],"bytecode":"0x6080604052"}`)

	out, err := run(t, "init-code-hash", "--artifact", path)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := crypto.Keccak256Hash(common.FromHex("0x6080604052")).Hex()
	if !strings.Contains(out, "UniswapV2Pair init code hash: "+want) {
		t.Errorf("output = %q, want hash %s", out, want)
	}
	if !strings.Contains(out, "bytecode length: 12") {
		t.Errorf("output = %q, want the hex length", out)
	}
}

func TestInitCodeHashCommandMissingArtifact(t *testing.T) {
	if _, err := run(t, "init-code-hash", "--artifact", filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestPairAddressCommand(t *testing.T) {
	token := common.HexToAddress("0x1000000000000000000000000000000000000001")
	weth := common.HexToAddress("0x7D3c1C5D3E6b8BfeF1e0b9bB3c2BfBf0F7e3a9f2")
	factory := common.HexToAddress("0x342D7aeC78cd3b581eb67655B6B7Bb157328590e")
	book := writeFile(t, "addresses.json", `{"TOKEN":"`+token.Hex()+`","WETH":"`+weth.Hex()+`"}`)

	want, err := uniswapv2.ComputePairAddress(factory, token, weth, uniswapv2.DefaultInitCodeHash)
	if err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "--network", "localhost", "--addresses", book, "pair-address")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "Pair: "+want.Hex()) {
		t.Errorf("output = %q, want pair %s", out, want.Hex())
	}
	if !strings.Contains(out, "Factory: "+factory.Hex()) {
		t.Errorf("output = %q, want the configured factory", out)
	}

	// An explicit token and hash change the prediction.
	other := common.HexToAddress("0x3000000000000000000000000000000000000003")
	hash := common.HexToHash("0x01")
	want, err = uniswapv2.ComputePairAddress(factory, other, weth, hash)
	if err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "--network", "localhost", "--addresses", book, "pair-address",
		"--token-a", other.Hex(), "--init-code-hash", hash.Hex())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out, "Pair: "+want.Hex()) {
		t.Errorf("output = %q, want pair %s", out, want.Hex())
	}
}

func TestPairAddressNeedsFactory(t *testing.T) {
	book := writeFile(t, "addresses.json", `{"token":"0x1000000000000000000000000000000000000001","weth9":"0x2000000000000000000000000000000000000002"}`)
	_, err := run(t, "--network", "localhost", "--factory", "-", "--addresses", book, "pair-address")
	if err == nil || !strings.Contains(err.Error(), "factory") {
		t.Fatalf("error = %v, want a missing factory", err)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := run(t, "--network", "localhost", "--router", "0x123", "pair-address")
	if err == nil || !strings.Contains(err.Error(), "invalid router") {
		t.Fatalf("error = %v, want invalid router", err)
	}

	// hoodi has no endpoint unless the Alchemy URL is set.
	_, err = run(t, "--network", "hoodi", "pair-address")
	if err == nil || !strings.Contains(err.Error(), "missing RPC URL") {
		t.Fatalf("error = %v, want missing RPC URL", err)
	}
}

func TestSessionCommandsCheckArgumentsFirst(t *testing.T) {
	tests := [][]string{
		{"position", "0x1"},
		{"quote", "0x1", "0x2"},
		{"buy", "0x1"},
		{"approve"},
		{"balances", "a", "b", "c", "d", "e", "f"},
		{"connect", "extra"},
	}
	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			// The RPC URL is unroutable; an argument error must come first.
			_, err := run(t, append([]string{"--network", "localhost", "--rpc-url", "http://127.0.0.1:1"}, args...)...)
			if err == nil || !strings.HasPrefix(err.Error(), "usage: "+args[0]) {
				t.Errorf("error = %v, want usage", err)
			}
		})
	}
}

// hostedNode serves the read side of f over JSON-RPC, the way a hosted
// endpoint does: no unlocked accounts and no wallet methods.
func hostedNode(t *testing.T, f *rpctest.Fake) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = hexutil.EncodeUint64(f.ChainIDValue)
		case "eth_accounts":
			resp["result"] = []string{}
		case "eth_call":
			var call struct {
				To   string        `json:"to"`
				Data hexutil.Bytes `json:"data"`
			}
			if len(req.Params) == 0 || json.Unmarshal(req.Params[0], &call) != nil {
				resp["error"] = map[string]any{"code": -32602, "message": "invalid params"}
				break
			}
			out, err := f.EthCall(r.Context(), call.To, call.Data)
			if err != nil {
				resp["error"] = map[string]any{"code": 3, "message": "execution reverted"}
				break
			}
			resp["result"] = hexutil.Encode(out)
		default:
			resp["error"] = map[string]any{"code": -32601, "message": "the method " + req.Method + " does not exist"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestViewsWithoutSigner(t *testing.T) {
	f := rpctest.New(31337)
	m := v2test.NewMarket(f)
	token := common.HexToAddress("0x1000000000000000000000000000000000000001")
	pair := common.HexToAddress("0xA000000000000000000000000000000000000001")
	m.AddToken(token, "AAA", 18)
	m.AddPair(pair, token, v2test.WETH,
		new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e18)),
		new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)))

	base := []string{
		"--network", "localhost",
		"--rpc-url", hostedNode(t, f),
		"--router", v2test.Router.Hex(),
		"--db", filepath.Join(t.TempDir(), "dexkit.db"),
	}

	out, err := run(t, append(base, "pools", pair.Hex())...)
	if err != nil {
		t.Fatalf("pools error = %v\n%s", err, out)
	}
	if !strings.Contains(out, `"symbol0": "AAA"`) && !strings.Contains(out, `"symbol1": "AAA"`) {
		t.Errorf("pools output = %q, want the pair's symbols", out)
	}

	out, err = run(t, append(base, "quote", token.Hex(), v2test.WETH.Hex(), "1")...)
	if err != nil {
		t.Fatalf("quote error = %v\n%s", err, out)
	}
	if !strings.Contains(out, `"routerOut"`) {
		t.Errorf("quote output = %q, want a router quote", out)
	}

	// Account views still need a connected wallet.
	if _, err := run(t, append(base, "balances", token.Hex())...); err == nil {
		t.Error("balances without an account succeeded")
	}
}
