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

package transfer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
)

type fakeSource struct {
	rows     []source.BreakdownRow
	err      error
	tagsOnly []bool
}

func (f *fakeSource) BreakdownRows(_ context.Context, _ shift.Window, tagsOnly bool) ([]source.BreakdownRow, error) {
	f.tagsOnly = append(f.tagsOnly, tagsOnly)
	return f.rows, f.err
}

type fakeStore struct {
	inserted   []postgresql.MaintenanceRecord
	table      string
	derivation []postgresql.DerivationRow
	// derivationWindow is the range the last DerivationRows call was limited to.
	derivationWindow shift.Window
	updates          map[string][]postgresql.IDValue
	passes           []string
	sql              []string
	failPass         string
	failExec         error
}

func (f *fakeStore) InsertMaintenanceRecords(_ context.Context, table string, recs []postgresql.MaintenanceRecord) (int64, int, error) {
	f.table = table
	f.inserted = append(f.inserted, recs...)
	return int64(len(recs)), 0, nil
}

func (f *fakeStore) DerivationRows(_ context.Context, _ string, from, to time.Time) ([]postgresql.DerivationRow, error) {
	f.derivationWindow = shift.Window{Start: from, End: to}
	return f.derivation, nil
}

func (f *fakeStore) UpdateByID(_ context.Context, name, _, _ string, updates []postgresql.IDValue) (int64, error) {
	f.passes = append(f.passes, name)
	if name == f.failPass {
		return 0, errors.New("deadlock detected")
	}
	if f.updates == nil {
		f.updates = make(map[string][]postgresql.IDValue)
	}
	f.updates[name] = updates
	return int64(len(updates)), nil
}

func (f *fakeStore) ExecRetry(_ context.Context, name, q string, _ ...any) (int64, error) {
	f.passes = append(f.passes, name)
	f.sql = append(f.sql, q)
	if f.failExec != nil {
		return 0, f.failExec
	}
	return 1, nil
}

type fakeRecorder struct {
	runs map[string]time.Time
}

func (f *fakeRecorder) Record(job string, planned time.Time) error {
	if f.runs == nil {
		f.runs = make(map[string]time.Time)
	}
	f.runs[job] = planned
	return nil
}

func transferWindow() shift.Window {
	end := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)
	return shift.Window{Start: end.AddDate(0, 0, -1), End: end}
}

const comment = "[11.03 Ivanov (Petrov)] Cause: Belt slipped [end] extra"

func breakdown(machine, typeWO string) source.BreakdownRow {
	return source.BreakdownRow{
		MachineName:        sql.NullString{String: machine, Valid: true},
		WOCodeName:         sql.NullString{String: "WO-" + machine, Valid: true},
		TypeWO:             sql.NullString{String: typeWO, Valid: true},
		DateT1:             sql.NullTime{Time: time.Date(2024, 3, 11, 22, 0, 0, 0, time.UTC), Valid: true},
		DateT4:             sql.NullTime{Time: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC), Valid: true},
		WOStatusLocalDescr: sql.NullString{String: "Закрыто", Valid: true},
		Comment:            sql.NullString{String: comment, Valid: true},
	}
}

func derivationRow() postgresql.DerivationRow {
	start := time.Date(2024, 3, 11, 22, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	return postgresql.DerivationRow{ID: 5, Comments: helper.StringToPtr(comment), StartBD: &start, StopBD: &stop}
}

func newTestJob(src *fakeSource, store *fakeStore, rec *fakeRecorder) *Job {
	helper.InitTestLogging()
	j := New(src, store, rec)
	j.now = func() time.Time { return time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC) }
	return j
}

func TestRunBreakdowns(t *testing.T) {
	src := &fakeSource{rows: []source.BreakdownRow{breakdown("CT-1", "BD"), breakdown("CT-2", "Tag BD")}}
	store := &fakeStore{derivation: []postgresql.DerivationRow{derivationRow()}}
	rec := &fakeRecorder{}
	w := transferWindow()

	report, err := newTestJob(src, store, rec).Run(context.Background(), Breakdowns, w)
	require.NoError(t, err)

	assert.Equal(t, []bool{false}, src.tagsOnly)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, 1, report.Excluded)
	assert.Equal(t, int64(1), report.Inserted)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "CT-1", store.inserted[0].MachineName)
	assert.Equal(t, postgresql.TableMaintenance, store.table)
	assert.Equal(t, w, store.derivationWindow, "only rows of the transferred window are derived")

	assert.Equal(t, []string{
		"cause", "cause cleanup", "cause trim", "staff", "date", "week number", "month name", "shift",
		"failure type", "crew de facto", "crew", "production day", "specific failure type", "cleanup",
	}, store.passes)

	one := func(v string) []postgresql.IDValue { return []postgresql.IDValue{{ID: 5, Value: v}} }
	assert.Equal(t, one("Belt slipped"), store.updates["cause"])
	assert.Empty(t, store.updates["cause cleanup"])
	assert.Empty(t, store.updates["cause trim"])
	assert.Equal(t, one("Petrov"), store.updates["staff"])
	assert.Equal(t, one("11.03.2024"), store.updates["date"])
	assert.Equal(t, one("11"), store.updates["week number"])
	assert.Equal(t, one("Март"), store.updates["month name"])
	assert.Equal(t, one("2"), store.updates["shift"])
	assert.Equal(t, one("12.03.2024"), store.updates["production day"])

	for _, q := range store.sql {
		assert.Contains(t, q, `"equipment_maintenance_records"`)
		assert.NotContains(t, q, "{table}")
	}
	assert.Equal(t, int64(1), report.Deleted)
	assert.Equal(t, w.End, rec.runs[tracker.JobData])
}

func TestRunTagsSkipsJoinsAndCleanup(t *testing.T) {
	src := &fakeSource{rows: []source.BreakdownRow{breakdown("CT-2", "Tag BD")}}
	store := &fakeStore{derivation: []postgresql.DerivationRow{derivationRow()}}
	rec := &fakeRecorder{}

	report, err := newTestJob(src, store, rec).Run(context.Background(), Tags, transferWindow())
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, src.tagsOnly)
	assert.Zero(t, report.Excluded)
	assert.Len(t, store.inserted, 1)
	assert.Equal(t, postgresql.TableTagMaintenance, store.table)
	assert.Empty(t, store.sql)
	assert.NotContains(t, store.passes, "cleanup")
	assert.Contains(t, store.passes, "production day")
	assert.Contains(t, rec.runs, tracker.JobTag)
	assert.NotContains(t, rec.runs, tracker.JobData)
}

func TestRunContinuesAfterFailedPass(t *testing.T) {
	src := &fakeSource{rows: []source.BreakdownRow{breakdown("CT-1", "BD")}}
	store := &fakeStore{derivation: []postgresql.DerivationRow{derivationRow()}, failPass: "staff"}
	rec := &fakeRecorder{}

	report, err := newTestJob(src, store, rec).Run(context.Background(), Breakdowns, transferWindow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staff")

	assert.Contains(t, store.passes, "date")
	assert.Contains(t, store.passes, "cleanup")
	assert.NotContains(t, report.Derived, "staff")
	assert.Equal(t, int64(1), report.Derived["date"])
	assert.Empty(t, rec.runs, "a failed run must not be recorded")
}

func TestRunSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	store := &fakeStore{}
	rec := &fakeRecorder{}

	_, err := newTestJob(src, store, rec).Run(context.Background(), Breakdowns, transferWindow())
	require.Error(t, err)
	assert.Empty(t, store.passes)
	assert.Empty(t, rec.runs)
}

func TestRunWithoutRowsIsRecorded(t *testing.T) {
	store := &fakeStore{}
	rec := &fakeRecorder{}

	report, err := newTestJob(&fakeSource{}, store, rec).Run(context.Background(), Breakdowns, transferWindow())
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Empty(t, store.passes)
	assert.Contains(t, rec.runs, tracker.JobData)
}
