package storage

import (
	"context"
	"fmt"
	"time"
)

// RunStatus ETL运行状态
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunLog 一次管道运行的记录
type RunLog struct {
	ID            string    `db:"id"`
	StartTime     time.Time `db:"start_time"`
	EndTime       time.Time `db:"end_time"`
	Status        RunStatus `db:"status"`
	InputPath     string    `db:"input_path"`
	InputChecksum string    `db:"input_checksum"`
	RowsLoaded    int       `db:"rows_loaded"`
	RowsExported  int       `db:"rows_exported"`
	ErrorKind     string    `db:"error_kind"`
	ErrorMessage  string    `db:"error_message"`
	DurationSecs  float64   `db:"execution_time_seconds"`
}

// EnsureRunLog 创建运行日志表(若不存在)
func (s *Store) EnsureRunLog(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		input_path TEXT,
		input_checksum TEXT,
		rows_loaded INTEGER DEFAULT 0,
		rows_exported INTEGER DEFAULT 0,
		error_kind TEXT,
		error_message TEXT,
		execution_time_seconds REAL
	)`, QuoteIdent(table))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("创建运行日志表 %s 失败: %w", table, err)
	}
	return nil
}

// InsertRunLog 写入一条运行记录
func (s *Store) InsertRunLog(ctx context.Context, table string, entry RunLog) error {
	query := fmt.Sprintf(`
	INSERT INTO %s (id, start_time, end_time, status, input_path, input_checksum,
		rows_loaded, rows_exported, error_kind, error_message, execution_time_seconds)
	VALUES (:id, :start_time, :end_time, :status, :input_path, :input_checksum,
		:rows_loaded, :rows_exported, :error_kind, :error_message, :execution_time_seconds)`, QuoteIdent(table))

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// LastRuns 最近的 n 条运行记录，最新的在前
func (s *Store) LastRuns(ctx context.Context, table string, n int) ([]RunLog, error) {
	var runs []RunLog
	query := fmt.Sprintf(`SELECT id, start_time, end_time, status, input_path, input_checksum,
		rows_loaded, rows_exported, error_kind, error_message, execution_time_seconds
		FROM %s ORDER BY start_time DESC, rowid DESC LIMIT ?`, QuoteIdent(table))
	if err := s.db.SelectContext(ctx, &runs, query, n); err != nil {
		return nil, fmt.Errorf("读取运行记录失败: %w", err)
	}
	return runs, nil
}
