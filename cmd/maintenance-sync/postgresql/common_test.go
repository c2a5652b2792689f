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
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/retry"
)

// noSleepPolicy retries like production but without waiting.
func noSleepPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func CreateMockConnection(t *testing.T) (*Connection, pgxmock.PgxPoolIface) {
	helper.InitTestLogging()
	mocked, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create mock connection: %v", err)
	}
	c, err := NewWithPool(mocked, noSleepPolicy())
	if err != nil {
		t.Fatalf("Failed to create connection: %v", err)
	}
	return c, mocked
}

func TestCreateMockConnection(t *testing.T) {
	c, mock := CreateMockConnection(t)
	assert.NotNil(t, c)
	assert.NotNil(t, c.db)
	assert.NotNil(t, c.workingTimeCache)

	mock.ExpectPing()
	assert.True(t, c.IsAvailable())
	assert.NoError(t, c.Check())
	assert.NoError(t, mock.ExpectationsWereMet())
}
