package liquidity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/dexkit/internal/rpc"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/internal/uniswapv2"
	"github.com/gateway-fm/dexkit/pkg/types"
)

var (
	ErrPairNotFound   = errors.New("pair does not exist, create it first")
	ErrNoLPTokens     = errors.New("no LP tokens found for removal")
	ErrApprovalFailed = errors.New("allowance below requested amount after approval")
)

// Store is the subset of storage.Storage the scripts use.
type Store interface {
	SaveDeployment(ctx context.Context, d storage.Deployment) error
	LoadDeployments(ctx context.Context, chainID int64) ([]storage.Deployment, error)
	InsertTxLog(ctx context.Context, entry *storage.TxLogEntry) error
}

// Config for creating a Runner.
type Config struct {
	Client  rpc.Client
	Sender  *sender.Sender
	ChainID uint64
	Book    *AddressBook
	// BookPath is where updates to Book are written. Empty keeps them in memory.
	BookPath     string
	Store        Store // optional
	InitCodeHash common.Hash
	// Out receives the human-readable report. Nil discards it.
	Out    io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// Runner executes the liquidity scripts for one signer.
type Runner struct {
	client   rpc.Client
	sender   *sender.Sender
	chainID  uint64
	book     *AddressBook
	bookPath string
	store    Store
	initHash common.Hash
	out      io.Writer
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	book := cfg.Book
	if book == nil {
		book = &AddressBook{}
	}
	initHash := cfg.InitCodeHash
	if initHash == (common.Hash{}) {
		initHash = uniswapv2.DefaultInitCodeHash
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		client:   cfg.Client,
		sender:   cfg.Sender,
		chainID:  cfg.ChainID,
		book:     book,
		bookPath: cfg.BookPath,
		store:    cfg.Store,
		initHash: initHash,
		out:      out,
		logger:   logger,
		now:      now,
	}
}

// Book returns the runner's address book.
func (r *Runner) Book() *AddressBook {
	return r.book
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Hydrate fills empty address book entries from deployments stored for
// this chain, skipping any whose code is gone. It returns the names it
// restored and the names that were stale.
func (r *Runner) Hydrate(ctx context.Context) (restored, stale []string, err error) {
	if r.store == nil {
		return nil, nil, nil
	}
	deployments, err := r.store.LoadDeployments(ctx, int64(r.chainID))
	if err != nil {
		return nil, nil, err
	}

	var update AddressBook
	for _, d := range deployments {
		field := bookField(&update, d.Name)
		if field == nil || *bookField(r.book, d.Name) != "" {
			continue
		}
		exists, err := r.hasCode(ctx, common.HexToAddress(d.Address))
		if err != nil {
			r.logger.Warn("Failed to validate stored deployment",
				slog.String("name", d.Name),
				slog.String("address", d.Address),
				slog.String("error", err.Error()),
			)
			stale = append(stale, d.Name)
			continue
		}
		if !exists {
			r.logger.Info("Stored deployment no longer exists",
				slog.String("name", d.Name),
				slog.String("address", d.Address),
			)
			stale = append(stale, d.Name)
			continue
		}
		*field = d.Address
		restored = append(restored, d.Name)
	}
	r.book.Merge(update)
	return restored, stale, nil
}

func bookField(b *AddressBook, name string) *string {
	switch name {
	case "token":
		return &b.Token
	case "weth9":
		return &b.WETH9
	case "factory":
		return &b.Factory
	case "router":
		return &b.Router
	}
	return nil
}

func (r *Runner) hasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := r.client.GetCode(ctx, addr.Hex())
	if err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

// remember updates the address book and, when configured, its file.
func (r *Runner) remember(update AddressBook) error {
	r.book.Merge(update)
	if r.bookPath == "" {
		return nil
	}
	_, err := SaveAddressBook(r.bookPath, update)
	return err
}

func (r *Runner) saveDeployment(ctx context.Context, name string, addr common.Address, txHash string) {
	if r.store == nil {
		return
	}
	err := r.store.SaveDeployment(ctx, storage.Deployment{
		ChainID:   int64(r.chainID),
		Name:      name,
		Address:   addr.Hex(),
		TxHash:    txHash,
		CreatedAt: r.now(),
	})
	if err != nil {
		r.logger.Warn("Failed to save deployment", slog.String("name", name), slog.String("error", err.Error()))
	}
}

// send submits call, waits for it and records it in the transaction log.
func (r *Runner) send(ctx context.Context, actionID string, action types.Action, call sender.Call) (*sender.Result, error) {
	call.Name = string(action)
	start := time.Now()
	res, err := r.sender.SendAndWait(ctx, call)
	r.record(ctx, actionID, action, start, res, err)
	return res, err
}

func (r *Runner) record(ctx context.Context, actionID string, action types.Action, start time.Time, res *sender.Result, err error) {
	if r.store == nil {
		return
	}
	entry := &storage.TxLogEntry{
		ActionID:    actionID,
		Action:      string(action),
		ChainID:     int64(r.chainID),
		FromAddress: r.sender.From().Hex(),
		SentAtMs:    start.UnixMilli(),
		Status:      storage.TxStatusConfirmed,
	}
	if res != nil {
		entry.TxHash = res.Hash.Hex()
		if res.Receipt != nil {
			entry.BlockNumber = res.Receipt.BlockNumber
			entry.GasUsed = res.Receipt.GasUsed
			entry.ConfirmedAtMs = start.Add(res.Took).UnixMilli()
		}
	}
	switch {
	case errors.Is(err, sender.ErrTxReverted):
		entry.Status = storage.TxStatusReverted
	case err != nil:
		entry.Status = storage.TxStatusFailed
	}
	if err != nil {
		entry.ErrorReason = err.Error()
	}
	if recErr := r.store.InsertTxLog(context.WithoutCancel(ctx), entry); recErr != nil {
		r.logger.Warn("Failed to record transaction", slog.String("error", recErr.Error()))
	}
}

func newActionID() string {
	return uuid.NewString()
}

// weth returns the book's WETH9, asking the router when it is not set.
func (r *Runner) weth(ctx context.Context) (common.Address, error) {
	if r.book.WETH9 != "" {
		return r.book.Address("weth9")
	}
	routerAddr, err := r.book.Address("router")
	if err != nil {
		return common.Address{}, fmt.Errorf("weth9: %w", err)
	}
	weth, err := uniswapv2.NewRouter(r.client, routerAddr).WETH(ctx)
	if err != nil {
		return common.Address{}, err
	}
	r.book.WETH9 = weth.Hex()
	return weth, nil
}

// PredictPair returns the CREATE2 address a factory deploys the a/b pair to.
func PredictPair(factory, a, b common.Address, initCodeHash common.Hash) (common.Address, error) {
	return uniswapv2.ComputePairAddress(factory, a, b, initCodeHash)
}

// tokenAndPair resolves the book's token, WETH and their pair.
func (r *Runner) tokenAndPair(ctx context.Context) (token, weth, pair common.Address, err error) {
	if token, err = r.book.Address("token"); err != nil {
		return
	}
	if weth, err = r.weth(ctx); err != nil {
		return
	}
	factoryAddr, err := r.book.Address("factory")
	if err != nil {
		return
	}
	pair, err = uniswapv2.NewFactory(r.client, factoryAddr).GetPair(ctx, token, weth)
	if err != nil {
		return
	}
	if pair == (common.Address{}) {
		err = ErrPairNotFound
	}
	return
}

func deadlineFrom(t time.Time, d time.Duration) *big.Int {
	return big.NewInt(t.Add(d).Unix())
}
