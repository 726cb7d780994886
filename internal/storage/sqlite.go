package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		chain_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		tx_hash TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (chain_id, name)
	);

	CREATE TABLE IF NOT EXISTS tx_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action_id TEXT NOT NULL,
		action TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		tx_hash TEXT,
		from_address TEXT NOT NULL,
		status TEXT NOT NULL,
		error_reason TEXT,
		block_number INTEGER,
		gas_used INTEGER,
		sent_at_ms INTEGER NOT NULL,
		confirmed_at_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_tx_logs_sent ON tx_logs(sent_at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_tx_logs_hash ON tx_logs(tx_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveDeployment upserts a deployment keyed by (chainId, name).
func (s *SQLiteStorage) SaveDeployment(ctx context.Context, d Deployment) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (chain_id, name, address, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, name) DO UPDATE SET
			address = excluded.address,
			tx_hash = excluded.tx_hash,
			created_at = excluded.created_at
	`, d.ChainID, d.Name, d.Address, nullString(d.TxHash), createdAt)
	if err != nil {
		return fmt.Errorf("save deployment %s: %w", d.Name, err)
	}
	return nil
}

// LoadDeployments returns the deployments recorded for chainID, by name.
func (s *SQLiteStorage) LoadDeployments(ctx context.Context, chainID int64) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, name, address, tx_hash, created_at
		FROM deployments
		WHERE chain_id = ?
		ORDER BY name
	`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		var txHash sql.NullString
		if err := rows.Scan(&d.ChainID, &d.Name, &d.Address, &txHash, &d.CreatedAt); err != nil {
			return nil, err
		}
		if txHash.Valid {
			d.TxHash = txHash.String
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDeployments forgets every deployment on chainID.
func (s *SQLiteStorage) DeleteDeployments(ctx context.Context, chainID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM deployments WHERE chain_id = ?", chainID)
	return err
}

// InsertTxLog appends entry and sets its ID.
func (s *SQLiteStorage) InsertTxLog(ctx context.Context, entry *TxLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_logs (action_id, action, chain_id, tx_hash, from_address, status,
			error_reason, block_number, gas_used, sent_at_ms, confirmed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ActionID, entry.Action, entry.ChainID, nullString(entry.TxHash), entry.FromAddress, entry.Status,
		nullString(entry.ErrorReason), nullInt64(int64(entry.BlockNumber)), nullInt64(int64(entry.GasUsed)),
		entry.SentAtMs, nullInt64(entry.ConfirmedAtMs))
	if err != nil {
		return fmt.Errorf("insert tx log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

const txLogColumns = `id, action_id, action, chain_id, tx_hash, from_address, status,
	error_reason, block_number, gas_used, sent_at_ms, confirmed_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanTxLog(row scanner) (*TxLogEntry, error) {
	var log TxLogEntry
	var txHash, errorReason sql.NullString
	var blockNumber, gasUsed, confirmedAt sql.NullInt64

	err := row.Scan(&log.ID, &log.ActionID, &log.Action, &log.ChainID, &txHash, &log.FromAddress, &log.Status,
		&errorReason, &blockNumber, &gasUsed, &log.SentAtMs, &confirmedAt)
	if err != nil {
		return nil, err
	}

	if txHash.Valid {
		log.TxHash = txHash.String
	}
	if errorReason.Valid {
		log.ErrorReason = errorReason.String
	}
	if blockNumber.Valid {
		log.BlockNumber = uint64(blockNumber.Int64)
	}
	if gasUsed.Valid {
		log.GasUsed = uint64(gasUsed.Int64)
	}
	if confirmedAt.Valid {
		log.ConfirmedAtMs = confirmedAt.Int64
		log.ConfirmLatencyMs = confirmedAt.Int64 - log.SentAtMs
	}
	return &log, nil
}

// ListTxLogs returns a page of transaction logs, newest first.
func (s *SQLiteStorage) ListTxLogs(ctx context.Context, limit, offset int) (*PaginatedTxLogs, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_logs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txLogColumns+`
		FROM tx_logs
		ORDER BY sent_at_ms DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []TxLogEntry{}
	for rows.Next() {
		log, err := scanTxLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedTxLogs{
		Transactions: logs,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// GetTxLogByHash returns the log for txHash, or nil if there is none.
func (s *SQLiteStorage) GetTxLogByHash(ctx context.Context, txHash string) (*TxLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txLogColumns+`
		FROM tx_logs
		WHERE tx_hash = ?
	`, txHash)

	log, err := scanTxLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
