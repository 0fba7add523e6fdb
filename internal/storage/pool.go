// Package storage provides the PostgreSQL storage layer for AgentSight.
//
// It manages connection pooling via pgxpool, an optional read-replica
// pool for query endpoints, the embedded migration runner, and query
// methods for all tables. Run trees are written in a single transaction
// so a run is either fully visible or absent.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the query surface shared by both pools. Read helpers take
// it so a caller can pin a read to the primary when replica lag would
// break read-your-writes.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps the primary pgxpool.Pool and an optional read-replica pool.
// Write paths always use the primary; query paths prefer the replica
// when one is configured.
type DB struct {
	pool     *pgxpool.Pool
	readPool *pgxpool.Pool
	logger   *slog.Logger
}

// New creates a new DB with a connection pool against dsn. When readDSN
// is non-empty a second pool is opened for read-only queries.
func New(ctx context.Context, dsn, readDSN string, maxConns int, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	var readPool *pgxpool.Pool
	if readDSN != "" {
		readCfg, err := pgxpool.ParseConfig(readDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: parse read DSN: %w", err)
		}
		if maxConns > 0 {
			readCfg.MaxConns = int32(maxConns)
		}
		readPool, err = pgxpool.NewWithConfig(ctx, readCfg)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: create read pool: %w", err)
		}
		if err := readPool.Ping(ctx); err != nil {
			readPool.Close()
			pool.Close()
			return nil, fmt.Errorf("storage: ping read pool: %w", err)
		}
	}

	return &DB{
		pool:     pool,
		readPool: readPool,
		logger:   logger,
	}, nil
}

// Pool returns the underlying primary connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// reader returns the pool query endpoints should use.
func (db *DB) reader() *pgxpool.Pool {
	if db.readPool != nil {
		return db.readPool
	}
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pools.
func (db *DB) Close() {
	db.pool.Close()
	if db.readPool != nil {
		db.readPool.Close()
	}
}
