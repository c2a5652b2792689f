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

// Package failover hands out a connection pool to the first reachable source
// store endpoint out of an ordered candidate list.
package failover

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/omeid/pgerror"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// ErrNoEndpoint is returned when none of the candidates could be validated.
var ErrNoEndpoint = errors.New("no reachable source endpoint")

// ErrInvalidURL is returned for candidates that do not parse. It carries no
// part of the URL.
var ErrInvalidURL = errors.New("invalid endpoint url")

// Opener creates a pool for a DSN. It must not block on the network.
type Opener func(dsn string) (*sql.DB, error)

// OpenPostgres opens a lib/pq pool.
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

type Config struct {
	URLs         []string
	User         string
	Password     string
	ProbeTimeout time.Duration
	MaxOpenConns int
	MaxIdleConns int
	Open         Opener
}

// Provider owns the active endpoint. All state changes happen under mu.
type Provider struct {
	cfg Config

	mu        sync.Mutex
	active    *sql.DB
	activeURL string
	closed    bool
}

func New(cfg Config) (*Provider, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("failover: at least one endpoint URL is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 5
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 1
	}
	if cfg.Open == nil {
		cfg.Open = OpenPostgres
	}
	return &Provider{cfg: cfg}, nil
}

// DB returns the pool of the active endpoint, probing it first. If the probe
// fails the candidates are tried again in list order.
func (p *Provider) DB(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("failover: provider is closed")
	}

	if p.active != nil {
		err := p.probe(ctx, p.active)
		if err == nil {
			return p.active, nil
		}
		zap.S().Warnw("Active source endpoint failed probe",
			"endpoint", MaskURL(p.activeURL),
			"error", err,
		)
		p.release()
	}

	for i, u := range p.cfg.URLs {
		dsn, err := p.dsn(u)
		if err != nil {
			zap.S().Warnw("Skipping invalid source endpoint", "index", i, "error", err)
			continue
		}
		db, err := p.cfg.Open(dsn)
		if err != nil {
			zap.S().Warnw("Failed to open source endpoint", "endpoint", MaskURL(u), "error", err)
			continue
		}
		if err = p.probe(ctx, db); err != nil {
			zap.S().Warnw("Source endpoint unreachable", "endpoint", MaskURL(u), "error", err)
			if cErr := db.Close(); cErr != nil {
				zap.S().Debugf("Failed to close rejected pool: %s", cErr)
			}
			continue
		}

		db.SetMaxOpenConns(p.cfg.MaxOpenConns)
		db.SetMaxIdleConns(p.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(10 * time.Minute)

		p.active = db
		p.activeURL = u
		metrics.IncFailoverSwitch()
		zap.S().Infow("Connected to source endpoint", "endpoint", MaskURL(u), "index", i)
		return db, nil
	}

	return nil, fmt.Errorf("%w: failed to connect to any of %d endpoints", ErrNoEndpoint, len(p.cfg.URLs))
}

// Invalidate drops the active endpoint if err indicates a broken connection,
// so that the next DB call fails over. It reports whether it did so.
func (p *Provider) Invalidate(err error) bool {
	if !IsConnectionError(err) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return false
	}
	zap.S().Warnw("Dropping source endpoint after connection error",
		"endpoint", MaskURL(p.activeURL),
		"error", err,
	)
	p.release()
	return true
}

// Close releases the active pool. DB fails afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.active == nil {
		return nil
	}
	err := p.active.Close()
	p.active = nil
	p.activeURL = ""
	return err
}

// release must be called with mu held.
func (p *Provider) release() {
	if err := p.active.Close(); err != nil {
		zap.S().Debugf("Failed to close source pool: %s", err)
	}
	p.active = nil
	p.activeURL = ""
}

func (p *Provider) probe(ctx context.Context, db *sql.DB) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	return db.PingContext(pctx)
}

// dsn injects the shared credentials unless the URL carries its own.
func (p *Provider) dsn(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.User == nil && p.cfg.User != "" {
		if p.cfg.Password != "" {
			u.User = url.UserPassword(p.cfg.User, p.cfg.Password)
		} else {
			u.User = url.User(p.cfg.User)
		}
	}
	return u.String(), nil
}

// IsConnectionError reports whether err means the pool is no longer usable.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgerror.ConnectionException(pqErr) != nil ||
			pgerror.ConnectionFailure(pqErr) != nil ||
			pgerror.ConnectionDoesNotExist(pqErr) != nil
	}
	return false
}

// MaskURL strips the password from a URL for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
