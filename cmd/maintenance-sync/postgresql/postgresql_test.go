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
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/retry"
)

var deadlock = &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}

func TestInTxCommits(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE equipment_maintenance_records").WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	n, err := c.InTx(context.Background(), "cause", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, "UPDATE equipment_maintenance_records SET cause = 'x'")
		return tag.RowsAffected(), err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRetriesDeadlock(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE equipment_maintenance_records").WillReturnError(deadlock)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE equipment_maintenance_records").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	n, err := c.InTx(context.Background(), "cause", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, "UPDATE equipment_maintenance_records SET cause = 'x'")
		return tag.RowsAffected(), err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxDoesNotRetryOtherErrors(t *testing.T) {
	c, mock := CreateMockConnection(t)
	boom := errors.New("relation does not exist")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM x").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := c.InTx(context.Background(), "cleanup", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		_, err := tx.Exec(ctx, "DELETE FROM x")
		return 0, err
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecRetryExhausts(t *testing.T) {
	c, mock := CreateMockConnection(t)
	for i := 0; i < retry.DefaultMaxAttempts; i++ {
		mock.ExpectExec("UPDATE pm_maintenance_records").WillReturnError(deadlock)
	}

	_, err := c.ExecRetry(context.Background(), "pm", "UPDATE pm_maintenance_records SET status = $1", "Закрыто")
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkingTimeCached(t *testing.T) {
	c, mock := CreateMockConnection(t)
	day := time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "mixing" FROM "working_time" WHERE date = \$1`).
		WithArgs("15.01.2024").
		WillReturnRows(mock.NewRows([]string{"mixing"}).AddRow(helper.Float64ToPtr(480)))

	wt, err := c.WorkingTime(context.Background(), "working_time", "mixing", day)
	require.NoError(t, err)
	require.NotNil(t, wt)
	assert.Equal(t, 480.0, *wt)

	wt, err = c.WorkingTime(context.Background(), "working_time", "mixing", day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 480.0, *wt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkingTimeRefreshedAfterTTL(t *testing.T) {
	c, mock := CreateMockConnection(t)
	now := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	day := time.Date(2024, time.January, 15, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "mixing" FROM "working_time" WHERE date = \$1`).
		WithArgs("15.01.2024").
		WillReturnRows(mock.NewRows([]string{"mixing"}).AddRow(helper.Float64ToPtr(480)))
	mock.ExpectQuery(`SELECT "mixing" FROM "working_time" WHERE date = \$1`).
		WithArgs("15.01.2024").
		WillReturnRows(mock.NewRows([]string{"mixing"}).AddRow(helper.Float64ToPtr(420)))

	wt, err := c.WorkingTime(context.Background(), "working_time", "mixing", day)
	require.NoError(t, err)
	assert.Equal(t, 480.0, *wt)

	now = now.Add(WorkingTimeTTL - time.Second)
	wt, err = c.WorkingTime(context.Background(), "working_time", "mixing", day)
	require.NoError(t, err)
	assert.Equal(t, 480.0, *wt)

	// corrected during the day
	now = now.Add(time.Second)
	wt, err = c.WorkingTime(context.Background(), "working_time", "mixing", day)
	require.NoError(t, err)
	assert.Equal(t, 420.0, *wt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkingTimeMissing(t *testing.T) {
	c, mock := CreateMockConnection(t)
	mock.ExpectQuery(`SELECT "mixing" FROM "working_time"`).
		WithArgs("16.01.2024").
		WillReturnRows(mock.NewRows([]string{"mixing"}))

	wt, err := c.WorkingTime(context.Background(), "working_time", "mixing", time.Date(2024, time.January, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, wt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAreaStatus(t *testing.T) {
	c, mock := CreateMockConnection(t)
	now := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
	s := StatusSnapshot{
		Name:               "Mixing",
		Area:               "Mixing",
		LastUpdate:         now,
		DowntimeMinutes:    helper.Float64ToPtr(120),
		WorkingTimeMinutes: helper.Float64ToPtr(1),
		DowntimePercentage: helper.Float64ToPtr(12000),
		Availability:       helper.Float64ToPtr(-11900),
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM production_metrics_online WHERE area").
		WithArgs("Mixing", now.Add(-24*time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO production_metrics_online").
		WithArgs("Mixing", now, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, c.ReplaceAreaStatus(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceLineStatus(t *testing.T) {
	c, mock := CreateMockConnection(t)
	now := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM main_lines_online WHERE line_name").
		WithArgs("Line 1", now.Add(-24*time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO main_lines_online").
		WithArgs("Line 1", "Mixing", now, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, c.ReplaceLineStatus(context.Background(), StatusSnapshot{Name: "Line 1", Area: "Mixing", LastUpdate: now}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTopBreakdowns(t *testing.T) {
	c, mock := CreateMockConnection(t)
	rows := []TopBreakdown{
		{Area: "Mixing", Machine: "Mixer 1", Downtime: "01:30:00", Cause: "Belt, Motor"},
		{Area: "Modules", Machine: "Module A-1", Downtime: "00:10:00", Cause: "Причина не указана"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM top_breakdowns_current_status_online").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	for _, r := range rows {
		mock.ExpectExec("INSERT INTO top_breakdowns_current_status_online").
			WithArgs(r.Area, r.Machine, r.Downtime, r.Cause).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, c.ReplaceTopBreakdowns(context.Background(), rows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTopBreakdownsRollsBack(t *testing.T) {
	c, mock := CreateMockConnection(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM top_breakdowns_current_status_online").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec("INSERT INTO top_breakdowns_current_status_online").WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err := c.ReplaceTopBreakdowns(context.Background(), []TopBreakdown{{Area: "Mixing", Machine: "M", Downtime: "00:00:01", Cause: "x"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
