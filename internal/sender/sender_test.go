package sender

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/dexkit/internal/account"
	"github.com/gateway-fm/dexkit/internal/rpc/rpctest"
)

var target = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestSender(t *testing.T, f *rpctest.Fake) *Sender {
	t.Helper()
	acc, err := account.DevAccount(0)
	if err != nil {
		t.Fatalf("DevAccount() error = %v", err)
	}
	return New(Config{
		Client:       f,
		Account:      acc,
		ChainID:      f.ChainIDValue,
		PollInterval: time.Millisecond,
	})
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{Client: rpctest.New(1), Account: &account.Account{}})
	if s.poll != DefaultPollInterval {
		t.Errorf("poll = %v, want %v", s.poll, DefaultPollInterval)
	}
	if s.timeout != DefaultReceiptTimeout {
		t.Errorf("timeout = %v, want %v", s.timeout, DefaultReceiptTimeout)
	}
	if s.gasBuf != DefaultGasBufferPct {
		t.Errorf("gasBuf = %d, want %d", s.gasBuf, DefaultGasBufferPct)
	}
	if s.logger == nil {
		t.Error("logger is nil")
	}
}

func TestSendLegacy(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)

	tx, err := s.Send(context.Background(), Call{Name: "ping", To: &target, Data: []byte{1, 2, 3, 4}, Value: big.NewInt(5)})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if tx.Type() != types.LegacyTxType {
		t.Errorf("tx type = %d, want legacy", tx.Type())
	}
	if tx.Gas() != 120_000 {
		t.Errorf("gas = %d, want 120000 (estimate + 20%%)", tx.Gas())
	}
	if tx.GasPrice().Cmp(f.GasPrice) != 0 {
		t.Errorf("gasPrice = %s, want %s", tx.GasPrice(), f.GasPrice)
	}
	if tx.Value().Int64() != 5 {
		t.Errorf("value = %s, want 5", tx.Value())
	}
	if len(f.SentFrom) != 1 || f.SentFrom[0] != s.From() {
		t.Errorf("sent from %v, want %s", f.SentFrom, s.From().Hex())
	}
}

func TestSendDynamicFee(t *testing.T) {
	tests := []struct {
		name     string
		gasPrice int64
		baseFee  int64
		wantTip  int64
		wantCap  int64
	}{
		{"tip from gas price", 5e9, 2e9, 3e9, 7e9},
		{"minimum tip", 2e9, 2e9, 1e9, 5e9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := rpctest.New(560048)
			f.GasPrice = big.NewInt(tt.gasPrice)
			f.BaseFee = big.NewInt(tt.baseFee)
			s := newTestSender(t, f)

			tx, err := s.Send(context.Background(), Call{To: &target, GasLimit: 50_000})
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if tx.Type() != types.DynamicFeeTxType {
				t.Fatalf("tx type = %d, want dynamic fee", tx.Type())
			}
			if tx.GasTipCap().Int64() != tt.wantTip {
				t.Errorf("tip = %s, want %d", tx.GasTipCap(), tt.wantTip)
			}
			if tx.GasFeeCap().Int64() != tt.wantCap {
				t.Errorf("feeCap = %s, want %d", tx.GasFeeCap(), tt.wantCap)
			}
			if tx.Gas() != 50_000 {
				t.Errorf("gas = %d, want explicit 50000", tx.Gas())
			}
		})
	}
}

func TestSendFailureReleasesNonce(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)
	f.SendErr = errors.New("connection refused")

	if _, err := s.Send(context.Background(), Call{To: &target}); err == nil {
		t.Fatal("Send() expected error")
	}
	if got := s.account.PeekNonce(); got != 0 {
		t.Errorf("nonce after failed send = %d, want 0", got)
	}

	f.SendErr = nil
	tx, err := s.Send(context.Background(), Call{To: &target})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if tx.Nonce() != 0 {
		t.Errorf("nonce = %d, want 0", tx.Nonce())
	}
}

func TestSendConcurrentNoncesAreContiguous(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Send(context.Background(), Call{To: &target}); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, tx := range f.Sent {
		seen[tx.Nonce()] = true
	}
	for n := range uint64(10) {
		if !seen[n] {
			t.Errorf("nonce %d never sent", n)
		}
	}
}

func TestSendAndWait(t *testing.T) {
	f := rpctest.New(31337)
	f.PendingPolls = 2
	s := newTestSender(t, f)

	var observed []string
	s.observer = func(name string, took time.Duration, err error) {
		observed = append(observed, name)
	}

	res, err := s.SendAndWait(context.Background(), Call{Name: "approve", To: &target})
	if err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	if res.Receipt.Status != 1 {
		t.Errorf("status = %d, want 1", res.Receipt.Status)
	}
	if f.Called("eth_getTransactionReceipt") < 3 {
		t.Errorf("receipt polls = %d, want >= 3", f.Called("eth_getTransactionReceipt"))
	}
	if len(observed) != 1 || observed[0] != "approve" {
		t.Errorf("observed = %v, want [approve]", observed)
	}
}

func TestSendAndWaitReverted(t *testing.T) {
	f := rpctest.New(31337)
	f.HandleTx(target, []byte{0xde, 0xad, 0xbe, 0xef}, func(*types.Transaction, common.Address) bool { return false })
	s := newTestSender(t, f)

	res, err := s.SendAndWait(context.Background(), Call{Name: "boom", To: &target, Data: []byte{0xde, 0xad, 0xbe, 0xef}})
	if !errors.Is(err, ErrTxReverted) {
		t.Fatalf("SendAndWait() error = %v, want ErrTxReverted", err)
	}
	if res == nil || res.Receipt == nil || res.Receipt.Status != 0 {
		t.Errorf("result = %+v, want reverted receipt", res)
	}
}

func TestWaitTimeout(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)
	s.timeout = 20 * time.Millisecond

	_, err := s.Wait(context.Background(), common.HexToHash("0x01"))
	if !errors.Is(err, ErrReceiptTimeout) {
		t.Errorf("Wait() error = %v, want ErrReceiptTimeout", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Wait(ctx, common.HexToHash("0x01")); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestDeploy(t *testing.T) {
	f := rpctest.New(31337)
	s := newTestSender(t, f)

	res, err := s.Deploy(context.Background(), "Token", []byte{0x60, 0x80})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	want := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	if res.ContractAddress != want {
		t.Errorf("ContractAddress = %s, want %s", res.ContractAddress.Hex(), want.Hex())
	}
}
