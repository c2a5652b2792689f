// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/config"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/retry"
	"go.uber.org/zap"
)

// PgxIface is the subset of pgxpool.Pool used here. pgxmock implements it too.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Connection is the client of the reporting store.
type Connection struct {
	db    PgxIface
	retry retry.Policy
	// working time per (table, column, date), see WorkingTimeTTL
	workingTimeCache *lru.ARCCache
	now              func() time.Time
}

// TxFunc runs statements inside a transaction and returns the affected rows.
type TxFunc func(ctx context.Context, tx pgx.Tx) (int64, error)

var requiredTables = []string{
	"production_metrics_online",
	"main_lines_online",
	"top_breakdowns_current_status_online",
	"equipment_maintenance_records",
	"pm_maintenance_records",
	"tag_maintenance_records",
}

// New connects to the reporting store and checks that the tables exist.
func New(cfg config.PostgresConfig) (*Connection, error) {
	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 5
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.MaxConnLifetime = 10 * time.Minute

	ctx, cncl := get5SecondContext()
	defer cncl()
	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	c, err := NewWithPool(db, retry.Default())
	if err != nil {
		db.Close()
		return nil, err
	}
	if !c.IsAvailable() {
		db.Close()
		return nil, errors.New("reporting database is not available")
	}
	if err = c.checkTables(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(db PgxIface, policy retry.Policy) (*Connection, error) {
	cache, err := lru.NewARC(256)
	if err != nil {
		return nil, fmt.Errorf("creating working time cache: %w", err)
	}
	return &Connection{db: db, retry: policy, workingTimeCache: cache, now: time.Now}, nil
}

// WithRetry returns a connection sharing the pool and caches but using p for
// every write.
func (c *Connection) WithRetry(p retry.Policy) *Connection {
	cp := *c
	cp.retry = p
	return &cp
}

func (c *Connection) checkTables() error {
	ctx, cncl := get5SecondContext()
	defer cncl()
	for _, table := range requiredTables {
		var tableName string
		query := `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
		err := c.db.QueryRow(ctx, query, table).Scan(&tableName)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("table %s does not exist in the database", table)
			}
			return fmt.Errorf("failed to check for table %s: %w", table, err)
		}
	}
	return nil
}

func (c *Connection) IsAvailable() bool {
	if c.db == nil {
		return false
	}
	ctx, cncl := get5SecondContext()
	defer cncl()
	err := c.db.Ping(ctx)
	if err != nil {
		zap.S().Debugf("Failed to ping database: %s", err)
		return false
	}
	return true
}

// Check is a healthcheck.Check for the readiness probe.
func (c *Connection) Check() error {
	if !c.IsAvailable() {
		return errors.New("reporting database is not available")
	}
	return nil
}

func (c *Connection) Close() {
	if c.db != nil {
		c.db.Close()
	}
}

// InTx runs fn in its own transaction, retrying the whole transaction on lock
// contention. fn must be safe to run again after a rollback.
func (c *Connection) InTx(ctx context.Context, name string, fn TxFunc) (int64, error) {
	return retry.Do(ctx, c.retry, name, func(ctx context.Context) (int64, error) {
		tctx, cncl := get5MinuteContext(ctx)
		defer cncl()
		tx, err := c.db.Begin(tctx)
		if err != nil {
			return 0, err
		}
		n, err := fn(tctx, tx)
		if err != nil {
			zap.S().Warnf("Error in transaction %s: %v", name, err)
			errR := tx.Rollback(tctx)
			if errR != nil {
				zap.S().Errorf("Error rolling back transaction: %v", errR)
			}
			return 0, err
		}
		if err = tx.Commit(tctx); err != nil {
			return 0, err
		}
		return n, nil
	})
}

// ExecRetry runs a single autocommit statement and returns the affected rows.
func (c *Connection) ExecRetry(ctx context.Context, name, sql string, args ...any) (int64, error) {
	return retry.Do(ctx, c.retry, name, func(ctx context.Context) (int64, error) {
		tctx, cncl := get5MinuteContext(ctx)
		defer cncl()
		cmdTag, err := c.db.Exec(tctx, sql, args...)
		if err != nil {
			return 0, err
		}
		return cmdTag.RowsAffected(), nil
	})
}

// Query runs a read. The caller closes the rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.db.Query(ctx, sql, args...)
}

func get5SecondContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func get5MinuteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 5*time.Minute)
}
