package storage

import "time"

// Transaction log statuses.
const (
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusReverted  = "reverted"
)

// Deployment is a contract dexkit deployed or adopted on a chain.
// JSON tags use camelCase to match the HTTP API.
type Deployment struct {
	ChainID   int64     `json:"chainId"`
	Name      string    `json:"name"` // "token", "weth9", "factory", "router", "pair"
	Address   string    `json:"address"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TxLogEntry records one action and, when it got that far, its transaction.
// Failed actions that never broadcast have an empty TxHash.
type TxLogEntry struct {
	ID               int64  `json:"id"`
	ActionID         string `json:"actionId"`
	Action           string `json:"action"` // "approve", "buy", "sell", "swap", ...
	ChainID          int64  `json:"chainId"`
	TxHash           string `json:"txHash,omitempty"`
	FromAddress      string `json:"fromAddress"`
	Status           string `json:"status"`
	ErrorReason      string `json:"errorReason,omitempty"`
	BlockNumber      uint64 `json:"blockNumber,omitempty"`
	GasUsed          uint64 `json:"gasUsed,omitempty"`
	SentAtMs         int64  `json:"sentAtMs"`
	ConfirmedAtMs    int64  `json:"confirmedAtMs,omitempty"`    // 0 if not confirmed
	ConfirmLatencyMs int64  `json:"confirmLatencyMs,omitempty"` // 0 if not confirmed
}

// PaginatedTxLogs is a page of transaction logs, newest first.
type PaginatedTxLogs struct {
	Transactions []TxLogEntry `json:"transactions"`
	Total        int          `json:"total"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
}
