// Package dex is the trading session behind the dexkit API: it connects a
// wallet to a UniswapV2 deployment and runs approve, buy, sell and swap
// actions against it, narrating each step to a debug log.
package dex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/dexkit/internal/metrics"
	"github.com/gateway-fm/dexkit/internal/rpc"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/internal/wallet"
	"github.com/gateway-fm/dexkit/pkg/types"
)

const (
	// SwapDeadline is added to the local clock for every swap deadline.
	SwapDeadline = 10 * time.Minute
	// MaxItems bounds the balances and pools views.
	MaxItems = 5
	// SellMinOutBps and SwapMinOutBps are the share of the quote accepted
	// as amountOutMin (0.5% and 1% slippage).
	SellMinOutBps = 9950
	SwapMinOutBps = 9900
)

var (
	ErrBusy           = errors.New("another action is in progress")
	ErrNotConnected   = errors.New("connect wallet first")
	ErrNoSigner       = errors.New("no signing key configured")
	ErrMissingAddress = errors.New("missing address")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrNoLiquidity    = errors.New("getAmountsOut failed, likely no liquidity for chosen path")
	ErrNoPair         = errors.New("no token<->WETH pair (no liquidity)")
	ErrTooManyItems   = fmt.Errorf("at most %d items", MaxItems)
	ErrNoFactory      = errors.New("factory address unknown")
)

// Recorder stores the transaction history.
type Recorder interface {
	InsertTxLog(ctx context.Context, entry *storage.TxLogEntry) error
}

// Config for creating a Service.
type Config struct {
	Client rpc.Client
	// Sender signs transactions. Nil gives a read-only session.
	Sender        *sender.Sender
	Router        common.Address
	Factory       common.Address // zero means ask the router on connect
	TargetChainID uint64
	// StrictAccounts rejects a signer the provider does not list.
	StrictAccounts bool

	Recorder     Recorder
	Metrics      *metrics.PrometheusMetrics
	ConfirmStats *metrics.ConfirmStats
	MaxLogLines  int
	Logger       *slog.Logger
	// Now is the clock used for swap deadlines.
	Now func() time.Time
}

// Service is one wallet session.
type Service struct {
	client   rpc.Client
	sender   *sender.Sender
	router   *uniswapv2.Router
	target   uint64
	strict   bool
	recorder Recorder
	metrics  *metrics.PrometheusMetrics
	confirm  *metrics.ConfirmStats
	log      *DebugLog
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	conn    *wallet.Connection
	factory common.Address
	weth    common.Address

	busyMu  sync.Mutex
	current types.Action
}

// New creates a Service. Nothing is read from the chain until Connect.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	confirm := cfg.ConfirmStats
	if confirm == nil {
		confirm = metrics.NewConfirmStats(metrics.DefaultWindow)
	}

	s := &Service{
		client:   cfg.Client,
		sender:   cfg.Sender,
		router:   uniswapv2.NewRouter(cfg.Client, cfg.Router),
		target:   cfg.TargetChainID,
		strict:   cfg.StrictAccounts,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		confirm:  confirm,
		log:      NewDebugLog(cfg.MaxLogLines),
		logger:   logger,
		now:      now,
		factory:  cfg.Factory,
	}
	if s.metrics != nil {
		s.log.onAppend = s.metrics.RecordDebugLine
	}
	return s
}

// Log returns the session debug log.
func (s *Service) Log() *DebugLog {
	return s.log
}

// Status reports the session state.
func (s *Service) Status() types.Status {
	s.busyMu.Lock()
	current := s.current
	s.busyMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.Status{
		Connected:      s.conn != nil,
		Busy:           current != "",
		CurrentAction:  current,
		TargetChainID:  s.target,
		Router:         s.router.Address.Hex(),
		LogLines:       s.log.Len(),
		ConfirmLatency: s.confirm.Stats(),
	}
	if s.conn != nil {
		st.Address = s.conn.Address.Hex()
		st.ChainID = s.conn.ChainID
	}
	if s.factory != (common.Address{}) {
		st.Factory = s.factory.Hex()
	}
	if s.weth != (common.Address{}) {
		st.WETH = s.weth.Hex()
	}
	return st
}

// Connect performs the wallet handshake and resolves WETH and, when not
// configured, the factory from the router.
func (s *Service) Connect(ctx context.Context) (*types.ConnectResult, error) {
	release, err := s.begin(types.ActionConnect)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.connect(ctx)
	s.recordAction(types.ActionConnect, err)
	if err != nil {
		s.log.Printf("Connect failed: %v", err)
		return nil, err
	}
	return res, nil
}

func (s *Service) connect(ctx context.Context) (*types.ConnectResult, error) {
	opts := wallet.Options{StrictAccounts: s.strict, Logger: s.logger}
	if s.sender != nil {
		opts.Signer = s.sender.From()
	}
	conn, err := wallet.Connect(ctx, s.client, s.target, opts)
	if err != nil {
		return nil, err
	}
	if conn.Switched {
		s.log.Printf("switched network to chain %d", conn.ChainID)
	}

	weth, err := s.router.WETH(ctx)
	if err != nil {
		return nil, fmt.Errorf("router %s: %w", s.router.Address.Hex(), err)
	}

	s.mu.RLock()
	factory := s.factory
	s.mu.RUnlock()
	if factory == (common.Address{}) {
		if f, err := s.router.Factory(ctx); err == nil {
			factory = f
		} else {
			s.logger.Warn("Router has no factory() view", slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.weth = weth
	s.factory = factory
	s.mu.Unlock()

	s.log.Printf("connected %s on chain %d", conn.Address.Hex(), conn.ChainID)
	s.log.Printf("WETH: %s", weth.Hex())

	res := &types.ConnectResult{
		Address:  conn.Address.Hex(),
		ChainID:  conn.ChainID,
		Switched: conn.Switched,
		Router:   s.router.Address.Hex(),
		WETH:     weth.Hex(),
	}
	if factory != (common.Address{}) {
		res.Factory = factory.Hex()
	}
	return res, nil
}

// session is a snapshot of the connected state an action runs against.
type session struct {
	account common.Address
	chainID uint64
	weth    common.Address
	factory *uniswapv2.Factory // nil when unknown
}

func (s *Service) session() (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	sess := &session{account: s.conn.Address, chainID: s.conn.ChainID, weth: s.weth}
	if s.factory != (common.Address{}) {
		sess.factory = uniswapv2.NewFactory(s.client, s.factory)
	}
	return sess, nil
}

// begin takes the session's loading flag.
func (s *Service) begin(a types.Action) (func(), error) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.current != "" {
		return nil, fmt.Errorf("%w (%s)", ErrBusy, s.current)
	}
	s.current = a
	return func() {
		s.busyMu.Lock()
		s.current = ""
		s.busyMu.Unlock()
	}, nil
}

// actionRun tracks one transaction-sending action.
type actionRun struct {
	id      string
	action  types.Action
	sess    *session
	started time.Time
	txs     int
}

type actionFunc func(ctx context.Context, r *actionRun) (*types.ActionResult, error)

// run wraps fn with the loading flag, debug log framing, metrics and the
// transaction history. Actions that fail before broadcasting still get a
// history row.
func (s *Service) run(ctx context.Context, action types.Action, fn actionFunc) (*types.ActionResult, error) {
	release, err := s.begin(action)
	if err != nil {
		return nil, err
	}
	defer release()

	r := &actionRun{id: uuid.NewString(), action: action, started: time.Now()}
	s.log.Printf("--- %s (%s) ---", action, r.id[:8])

	var res *types.ActionResult
	r.sess, err = s.session()
	if err == nil && s.sender == nil {
		err = ErrNoSigner
	}
	if err == nil {
		res, err = fn(ctx, r)
	}
	s.recordAction(action, err)

	if err != nil {
		s.log.Printf("%s failed: %v", title(action), err)
		s.logger.Warn("Action failed",
			slog.String("action", string(action)),
			slog.String("actionId", r.id),
			slog.String("error", err.Error()),
		)
		if r.txs == 0 {
			entry := &storage.TxLogEntry{
				ActionID:    r.id,
				Action:      string(action),
				Status:      storage.TxStatusFailed,
				ErrorReason: err.Error(),
				SentAtMs:    r.started.UnixMilli(),
			}
			if r.sess != nil {
				entry.ChainID = int64(r.sess.chainID)
				entry.FromAddress = r.sess.account.Hex()
			}
			s.record(ctx, entry)
		}
		return nil, err
	}

	res.ActionID = r.id
	res.Action = action
	res.LatencyMs = time.Since(r.started).Milliseconds()
	s.logger.Info("Action complete",
		slog.String("action", string(action)),
		slog.String("actionId", r.id),
		slog.String("txHash", res.TxHash),
		slog.Int64("latencyMs", res.LatencyMs),
	)
	return res, nil
}

// sendTx broadcasts call, logs the hash, waits for the receipt and records
// the outcome.
func (s *Service) sendTx(ctx context.Context, r *actionRun, name types.Action, call sender.Call) (*sender.Result, error) {
	call.Name = string(name)
	start := time.Now()
	tx, err := s.sender.Send(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", name, err)
	}
	r.txs++
	hash := tx.Hash()
	s.log.Printf("%s tx sent: %s", name, hash.Hex())

	receipt, err := s.sender.Wait(ctx, hash)
	took := time.Since(start)

	entry := &storage.TxLogEntry{
		ActionID:    r.id,
		Action:      string(name),
		ChainID:     int64(r.sess.chainID),
		TxHash:      hash.Hex(),
		FromAddress: r.sess.account.Hex(),
		SentAtMs:    start.UnixMilli(),
	}
	switch {
	case err == nil:
		entry.Status = storage.TxStatusConfirmed
	case errors.Is(err, sender.ErrTxReverted):
		entry.Status = storage.TxStatusReverted
	default:
		entry.Status = storage.TxStatusFailed
	}
	if receipt != nil {
		entry.BlockNumber = receipt.BlockNumber
		entry.GasUsed = receipt.GasUsed
		entry.ConfirmedAtMs = start.Add(took).UnixMilli()
	}
	if err != nil {
		entry.ErrorReason = err.Error()
	}
	s.record(ctx, entry)

	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.confirm.Add(took)
	if s.metrics != nil {
		s.metrics.RecordConfirmLatency(string(name), took)
	}
	s.log.Printf("%s confirmed (block %d, gas %d)", name, receipt.BlockNumber, receipt.GasUsed)
	return &sender.Result{Hash: hash, Receipt: receipt, Took: took}, nil
}

func (s *Service) record(ctx context.Context, entry *storage.TxLogEntry) {
	if s.recorder == nil {
		return
	}
	// The action's own context may already be cancelled.
	if err := s.recorder.InsertTxLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("Failed to record transaction",
			slog.String("actionId", entry.ActionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) recordAction(a types.Action, err error) {
	if s.metrics != nil {
		s.metrics.RecordAction(string(a), err)
	}
}

func (s *Service) recordQuoteFailure(a types.Action) {
	if s.metrics != nil {
		s.metrics.RecordQuoteFailure(string(a))
	}
}

func (s *Service) deadline() uint64 {
	return uint64(s.now().Add(SwapDeadline).Unix())
}

func title(a types.Action) string {
	if a == "" {
		return ""
	}
	return strings.ToUpper(string(a[:1])) + string(a[1:])
}

// ParseAddress validates a user-supplied address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, ErrMissingAddress
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
