// Package types defines the JSON shapes shared by the dexkit HTTP API, its
// clients and the CLI. Big integers travel as decimal strings.
package types

import "time"

// Action names used in logs, metrics and the transaction history.
type Action string

const (
	ActionConnect         Action = "connect"
	ActionApprove         Action = "approve"
	ActionBuy             Action = "buy"
	ActionSell            Action = "sell"
	ActionSwap            Action = "swap"
	ActionDeployToken     Action = "deploy-token"
	ActionCreatePool      Action = "create-pool"
	ActionAddLiquidity    Action = "add-liquidity"
	ActionRemoveLiquidity Action = "remove-liquidity"
)

// LatencyStats summarizes send-to-receipt latency in milliseconds.
type LatencyStats struct {
	Count  int64   `json:"count"`
	Window int     `json:"window"` // samples behind Avg and the percentiles
	MinMs  float64 `json:"minMs"`
	MaxMs  float64 `json:"maxMs"`
	AvgMs  float64 `json:"avgMs"`
	P50Ms  float64 `json:"p50Ms"`
	P95Ms  float64 `json:"p95Ms"`
}

// LogLine is one entry of the session debug log.
type LogLine struct {
	Seq  int64     `json:"seq"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Status describes the session.
type Status struct {
	Connected      bool          `json:"connected"`
	Busy           bool          `json:"busy"`
	CurrentAction  Action        `json:"currentAction,omitempty"`
	Address        string        `json:"address,omitempty"`
	ChainID        uint64        `json:"chainId,omitempty"`
	TargetChainID  uint64        `json:"targetChainId"`
	Router         string        `json:"router"`
	Factory        string        `json:"factory,omitempty"`
	WETH           string        `json:"weth,omitempty"`
	LogLines       int           `json:"logLines"`
	ConfirmLatency *LatencyStats `json:"confirmLatency,omitempty"`
}

// ConnectResult is returned by a successful connect.
type ConnectResult struct {
	Address  string `json:"address"`
	ChainID  uint64 `json:"chainId"`
	Switched bool   `json:"switched"`
	Router   string `json:"router"`
	Factory  string `json:"factory,omitempty"`
	WETH     string `json:"weth"`
}

// TokenBalance is one row of the balances view. Error is set instead of the
// other fields when the token could not be read.
type TokenBalance struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol,omitempty"`
	Decimals  uint8  `json:"decimals,omitempty"`
	Balance   string `json:"balance,omitempty"` // base units
	Formatted string `json:"formatted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PoolInfo is one row of the pools view. Prices are the ETH value of one
// whole token, or "N/A" when the router cannot quote it.
type PoolInfo struct {
	Pair        string `json:"pair"`
	Token0      string `json:"token0,omitempty"`
	Token1      string `json:"token1,omitempty"`
	Symbol0     string `json:"symbol0,omitempty"`
	Symbol1     string `json:"symbol1,omitempty"`
	Decimals0   uint8  `json:"decimals0,omitempty"`
	Decimals1   uint8  `json:"decimals1,omitempty"`
	Reserve0    string `json:"reserve0,omitempty"`
	Reserve1    string `json:"reserve1,omitempty"`
	Formatted0  string `json:"formatted0,omitempty"`
	Formatted1  string `json:"formatted1,omitempty"`
	Price0InETH string `json:"price0InEth,omitempty"`
	Price1InETH string `json:"price1InEth,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Position is the caller's holdings in one pair, ordered as requested.
type Position struct {
	TokenA    string `json:"tokenA"`
	TokenB    string `json:"tokenB"`
	Pair      string `json:"pair"`
	BalanceA  string `json:"balanceA"`
	BalanceB  string `json:"balanceB"`
	LPBalance string `json:"lpBalance"`
	ReserveA  string `json:"reserveA"`
	ReserveB  string `json:"reserveB"`
	// Formatted values use each token's decimals; the LP token has 18.
	FormattedA   string `json:"formattedA"`
	FormattedB   string `json:"formattedB"`
	FormattedLP  string `json:"formattedLp"`
	FormattedRA  string `json:"formattedReserveA"`
	FormattedRB  string `json:"formattedReserveB"`
	ShareOfPool  string `json:"shareOfPool"` // percent
	PairNotFound bool   `json:"pairNotFound,omitempty"`
}

// Quote compares the router's quote with the local constant-product one.
type Quote struct {
	TokenIn     string   `json:"tokenIn"`
	TokenOut    string   `json:"tokenOut"`
	AmountIn    string   `json:"amountIn"`
	Path        []string `json:"path"`
	RouterOut   string   `json:"routerOut,omitempty"`
	LocalOut    string   `json:"localOut,omitempty"`
	RouterError string   `json:"routerError,omitempty"`
	LocalError  string   `json:"localError,omitempty"`
}

// ActionResult is returned by every transaction-sending action.
type ActionResult struct {
	ActionID      string   `json:"actionId"`
	Action        Action   `json:"action"`
	TxHash        string   `json:"txHash"`
	ApproveTxHash string   `json:"approveTxHash,omitempty"`
	Path          []string `json:"path,omitempty"`
	AmountIn      string   `json:"amountIn,omitempty"`
	QuotedOut     string   `json:"quotedOut,omitempty"`
	AmountOutMin  string   `json:"amountOutMin,omitempty"`
	BlockNumber   uint64   `json:"blockNumber"`
	GasUsed       uint64   `json:"gasUsed"`
	LatencyMs     int64    `json:"latencyMs"`
}

// ApproveRequest approves the router to spend Amount (human units) of Token.
// An empty Amount approves the maximum.
type ApproveRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount,omitempty"`
}

// BuyRequest swaps ETHAmount of ETH for Token.
type BuyRequest struct {
	Token     string `json:"token"`
	ETHAmount string `json:"ethAmount"`
}

// SellRequest swaps Amount of Token for ETH.
type SellRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// SwapRequest swaps Amount of TokenIn for TokenOut.
type SwapRequest struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	Amount   string `json:"amount"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
