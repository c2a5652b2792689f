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

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deadlock = &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	rec := &recorder{}
	p := Default()
	p.Sleep = rec.sleep

	calls := 0
	v, err := Do(context.Background(), p, "update", func(context.Context) (int, error) {
		calls++
		if calls <= 2 {
			return 0, deadlock
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoExhausts(t *testing.T) {
	rec := &recorder{}
	p := Default()
	p.Sleep = rec.sleep

	calls := 0
	_, err := Do(context.Background(), p, "update", func(context.Context) (string, error) {
		calls++
		return "", deadlock
	})

	require.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	assert.ErrorIs(t, err, ErrExhausted)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "40P01", pgErr.Code)
	assert.Len(t, rec.delays, DefaultMaxAttempts-1)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	rec := &recorder{}
	p := Default()
	p.Sleep = rec.sleep
	boom := errors.New("syntax error")

	calls := 0
	err := Exec(context.Background(), p, "delete", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoCustomInterval(t *testing.T) {
	rec := &recorder{}
	p := Default().WithInitialInterval(100 * time.Millisecond)
	p.MaxAttempts = 4
	p.Sleep = rec.sleep

	_ = Exec(context.Background(), p, "chunk", func(context.Context) error {
		return deadlock
	})
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{InitialInterval: time.Hour}
	calls := 0
	err := Exec(ctx, p, "update", func(context.Context) error {
		calls++
		return deadlock
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsLockContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"pgx deadlock", deadlock, true},
		{"pgx lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"pgx serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pgx unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pq deadlock", &pq.Error{Code: "40P01"}, true},
		{"pq wrapped lock timeout", fmt.Errorf("update: %w", &pq.Error{Code: "55P03"}), true},
		{"pq connection", &pq.Error{Code: "08000"}, false},
		{"wrapped pgx", fmt.Errorf("chunk 3: %w", deadlock), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLockContention(tt.err))
		})
	}
}
