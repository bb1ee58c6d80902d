package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Dialect SQL 方言（占位符与建表语句不同）
type Dialect struct {
	Name   string
	schema string
	get    string
	upsert string
	del    string
}

var (
	// DialectSQLite 本地 SQLite 文件（modernc.org/sqlite）
	DialectSQLite = Dialect{
		Name: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS kv_blobs (
			blob_key   TEXT PRIMARY KEY,
			blob_value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		get: `SELECT blob_value FROM kv_blobs WHERE blob_key = ?`,
		upsert: `INSERT INTO kv_blobs (blob_key, blob_value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (blob_key)
			DO UPDATE SET blob_value = excluded.blob_value, updated_at = excluded.updated_at`,
		del: `DELETE FROM kv_blobs WHERE blob_key = ?`,
	}

	// DialectPostgres PostgreSQL（lib/pq）
	DialectPostgres = Dialect{
		Name: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS kv_blobs (
			blob_key   VARCHAR(255) PRIMARY KEY,
			blob_value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		get: `SELECT blob_value FROM kv_blobs WHERE blob_key = $1`,
		upsert: `INSERT INTO kv_blobs (blob_key, blob_value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (blob_key)
			DO UPDATE SET blob_value = EXCLUDED.blob_value, updated_at = EXCLUDED.updated_at`,
		del: `DELETE FROM kv_blobs WHERE blob_key = $1`,
	}
)

// SQLKV 基于 kv_blobs 表的 KV 实现
type SQLKV struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// NewSQLKV 创建 SQL KV
func NewSQLKV(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLKV {
	return &SQLKV{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureSchema 创建 kv_blobs 表（已存在则跳过）
func (s *SQLKV) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("failed to create kv_blobs table (%s): %w", s.dialect.Name, err)
	}
	s.logger.Debug("kv_blobs schema ready", zap.String("dialect", s.dialect.Name))
	return nil
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrMiss
		}
		return "", fmt.Errorf("failed to query kv %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLKV) Set(ctx context.Context, key string, value string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert kv %s: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.del, key); err != nil {
		return fmt.Errorf("failed to delete kv %s: %w", key, err)
	}
	return nil
}
