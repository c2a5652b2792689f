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

package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BatchSize bounds the identifiers sent in one ANY($1) lookup.
const BatchSize = 2000

const queryTimeout = 2 * time.Minute

// DBProvider hands out the pool of the currently active source endpoint.
// failover.Provider implements it.
type DBProvider interface {
	DB(ctx context.Context) (*sql.DB, error)
	Invalidate(err error) bool
}

// Client reads breakdown reports and work orders from the CMMS database.
type Client struct {
	provider DBProvider
}

func New(provider DBProvider) *Client {
	return &Client{provider: provider}
}

// Check is a healthcheck.Check for the readiness probe.
func (c *Client) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.provider.DB(ctx)
	return err
}

// query runs q on the active endpoint and calls scan for every row.
// Connection errors drop the endpoint so that the next call fails over.
func (c *Client) query(ctx context.Context, name, q string, scan func(*sql.Rows) error, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := c.provider.DB(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		c.provider.Invalidate(err)
		return fmt.Errorf("%s: %w", name, err)
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil {
			zap.S().Debugf("Failed to close rows of %s: %s", name, cErr)
		}
	}()

	for rows.Next() {
		if err = scan(rows); err != nil {
			return fmt.Errorf("%s: scanning row: %w", name, err)
		}
	}
	if err = rows.Err(); err != nil {
		c.provider.Invalidate(err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// queryRow runs q and scans the single result row into dest.
// sql.ErrNoRows is returned unchanged.
func (c *Client) queryRow(ctx context.Context, name, q string, dest []any, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	db, err := c.provider.DB(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	err = db.QueryRowContext(ctx, q, args...).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		c.provider.Invalidate(err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
