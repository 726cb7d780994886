package storage

import "context"

// Storage persists what dexkit deploys and the transactions it sends.
// Deployments are scoped by chain ID so one database can serve several networks.
type Storage interface {
	// Deployments
	SaveDeployment(ctx context.Context, d Deployment) error
	LoadDeployments(ctx context.Context, chainID int64) ([]Deployment, error)
	DeleteDeployments(ctx context.Context, chainID int64) error

	// Transaction log
	InsertTxLog(ctx context.Context, entry *TxLogEntry) error
	ListTxLogs(ctx context.Context, limit, offset int) (*PaginatedTxLogs, error)
	GetTxLogByHash(ctx context.Context, txHash string) (*TxLogEntry, error)

	// Lifecycle
	Close() error
}
