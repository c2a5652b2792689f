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

package pmsync

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
)

type fakeSource struct {
	workOrders  []source.PMWorkOrder
	statuses    map[string]string
	statusErr   error
	times       map[source.TimeColumn]map[string]sql.NullTime
	comments    map[string]sql.NullString
	maintainers map[string]sql.NullString
	durations   map[string]sql.NullInt64
	done        map[string]int64
	notDone     map[string]int64
}

func (f *fakeSource) PMWorkOrders(context.Context, time.Time, time.Time) ([]source.PMWorkOrder, error) {
	return f.workOrders, nil
}

func (f *fakeSource) LatestStatuses(context.Context, []string) (map[string]string, error) {
	return f.statuses, f.statusErr
}

func (f *fakeSource) WorkOrderTimes(_ context.Context, col source.TimeColumn, _ []string) (map[string]sql.NullTime, error) {
	return f.times[col], nil
}

func (f *fakeSource) WorkOrderComments(context.Context, []string) (map[string]sql.NullString, error) {
	return f.comments, nil
}

func (f *fakeSource) Maintainers(context.Context, []string) (map[string]sql.NullString, error) {
	return f.maintainers, nil
}

func (f *fakeSource) EstimatedDurations(context.Context, []string) (map[string]sql.NullInt64, error) {
	return f.durations, nil
}

func (f *fakeSource) OperationCounts(_ context.Context, _ []string, done bool) (map[string]int64, error) {
	if done {
		return f.done, nil
	}
	return f.notDone, nil
}

// fakeStore keeps the PM table in memory.
type fakeStore struct {
	idCodes map[int64]string
	values  map[int64]map[string]any
	writes  int
	execs   []string
	args    [][]any
	floats  []float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{idCodes: make(map[int64]string), values: make(map[int64]map[string]any)}
}

func (f *fakeStore) add(idCode string, values map[string]any) {
	id := int64(len(f.idCodes) + 1)
	f.idCodes[id] = idCode
	if values == nil {
		values = make(map[string]any)
	}
	f.values[id] = values
}

func (f *fakeStore) PMIDCodes(context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, c := range f.idCodes {
		out[c] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) InsertPMRecords(_ context.Context, recs []postgresql.PMImport) (int64, error) {
	for _, r := range recs {
		f.add(r.IDCode, map[string]any{})
	}
	return int64(len(recs)), nil
}

func (f *fakeStore) PMColumn(_ context.Context, column string, _, _ time.Time, openOnly bool) ([]postgresql.PMRow, error) {
	ids := make([]int64, 0, len(f.idCodes))
	for id := range f.idCodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []postgresql.PMRow
	for _, id := range ids {
		if openOnly {
			if s, ok := f.values[id]["status"].(string); ok && (s == "Закрыто" || s == "Выполнено") {
				continue
			}
		}
		out = append(out, postgresql.PMRow{ID: id, IDCode: f.idCodes[id], Value: f.values[id][column]})
	}
	return out, nil
}

// dateColumns read back without a time of day, like PostgreSQL date columns.
var dateColumns = map[string]bool{"scheduled_date": true, "scheduled_proposed_date": true}

func (f *fakeStore) UpdateByID(_ context.Context, _, _, column string, updates []postgresql.IDValue) (int64, error) {
	for _, u := range updates {
		v := u.Value
		if t, ok := v.(time.Time); ok && dateColumns[column] {
			y, m, d := t.Date()
			v = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		f.values[u.ID][column] = v
	}
	f.writes += len(updates)
	return int64(len(updates)), nil
}

func (f *fakeStore) ExecRetry(_ context.Context, _, q string, args ...any) (int64, error) {
	f.execs = append(f.execs, q)
	f.args = append(f.args, args)
	return 0, nil
}

func (f *fakeStore) Floats(context.Context, string, ...any) ([]float64, error) {
	return f.floats, nil
}

type fakeRecorder struct {
	jobs []string
}

func (f *fakeRecorder) Record(job string, _ time.Time) error {
	f.jobs = append(f.jobs, job)
	return nil
}

var (
	syncNow = time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)
	started = time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	planned = time.Date(2024, 6, 12, 14, 45, 0, 0, time.UTC)
)

func fixture() (*fakeSource, *fakeStore) {
	src := &fakeSource{
		workOrders: []source.PMWorkOrder{{IDCode: "WO-1"}, {IDCode: "WO-3"}},
		statuses:   map[string]string{"WO-1": "Executed", "WO-2": "Scheduled"},
		times: map[source.TimeColumn]map[string]sql.NullTime{
			source.ActualStartTime: {"WO-1": {Time: started, Valid: true}},
			source.ActualEndTime:   {"WO-1": {}},
			source.ScheduledTime:   {"WO-1": {Time: planned, Valid: true}},
		},
		comments:  map[string]sql.NullString{"WO-1": {String: "new", Valid: true}, "WO-2": {}},
		durations: map[string]sql.NullInt64{"WO-1": {Int64: 90, Valid: true}},
		done:      map[string]int64{"WO-1": 3},
	}
	store := newFakeStore()
	store.add("WO-1", map[string]any{"comment": "old"})
	store.add("WO-2", map[string]any{"status": "Закрыто", "comment": "keep"})
	return src, store
}

func newTestJob(src Source, store Store, rec Recorder) *Job {
	helper.InitTestLogging()
	j := New(src, store, rec, time.UTC)
	j.now = func() time.Time { return syncNow }
	return j
}

func TestRunUpdatesChangedFields(t *testing.T) {
	src, store := fixture()
	rec := &fakeRecorder{}

	report, err := newTestJob(src, store, rec).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Imported)
	assert.Equal(t, "WO-3", store.idCodes[3])

	assert.Equal(t, int64(1), report.Updated["status"])
	assert.Equal(t, "Выполнено", store.values[1]["status"])
	assert.Equal(t, "Закрыто", store.values[2]["status"], "final statuses are not touched")
	assert.Nil(t, store.values[3]["status"], "work orders without a transition are skipped")

	assert.Equal(t, int64(1), report.Updated["date_start_work_order"])
	assert.Equal(t, started, store.values[1]["date_start_work_order"])
	assert.Zero(t, report.Updated["date_stop_work_order"])
	assert.Equal(t, int64(1), report.Updated["scheduled_date"])
	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), store.values[1]["scheduled_date"])

	assert.Equal(t, int64(2), report.Updated["comment"])
	assert.Equal(t, "new", store.values[1]["comment"])
	assert.Nil(t, store.values[2]["comment"], "a NULL in the source clears the value")
	assert.Contains(t, store.values[2], "comment")

	assert.Zero(t, report.Updated["maintainers"])
	assert.Equal(t, int64(90), store.values[1]["wo_estimated_duration_min"])
	assert.Equal(t, int64(3), store.values[1]["operations_ok"])
	assert.Equal(t, int64(0), store.values[2]["operations_ok"])
	assert.Equal(t, int64(3), report.Updated["operations_nok"])

	assert.Equal(t, []string{tracker.JobPM}, rec.jobs)
}

func TestSecondRunWritesNothing(t *testing.T) {
	src, store := fixture()
	job := newTestJob(src, store, &fakeRecorder{})

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	require.NotZero(t, store.writes)

	store.writes = 0
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
	assert.Zero(t, report.Updated["scheduled_date"], "a time of day on the source date is not a change")
	assert.Zero(t, store.writes)
}

func TestCalendarDay(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	late := time.Date(2024, 6, 12, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), CalendarDay(late, time.UTC))
	assert.Equal(t, time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC), CalendarDay(late, moscow))
}

func TestScheduledDateComparedByDayInLocation(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	src, store := fixture()
	// 01:30 on June 13th in Moscow
	src.times[source.ScheduledTime] = map[string]sql.NullTime{
		"WO-1": {Time: time.Date(2024, 6, 12, 22, 30, 0, 0, time.UTC), Valid: true},
	}
	store.values[1]["scheduled_date"] = time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC)
	job := newTestJob(src, store, nil)
	job.loc = moscow

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Updated["scheduled_date"])
	assert.Equal(t, time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC), store.values[1]["scheduled_date"])
}

func TestDerivedStatementsUsePeriod(t *testing.T) {
	src, store := fixture()

	_, err := newTestJob(src, store, nil).Run(context.Background())
	require.NoError(t, err)

	from, to := Period(syncNow)
	require.Len(t, store.execs, 7)
	for i, q := range store.execs {
		assert.NotContains(t, q, "{period}")
		assert.Contains(t, q, "< $2")
		assert.Equal(t, []any{from, to}, store.args[i])
	}
}

func TestRunContinuesAfterFailedStep(t *testing.T) {
	src, store := fixture()
	src.statusErr = errors.New("connection reset")
	rec := &fakeRecorder{}

	report, err := newTestJob(src, store, rec).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")
	assert.NotContains(t, report.Updated, "status")
	assert.Equal(t, int64(2), report.Updated["comment"])
	assert.Empty(t, rec.jobs)
}

func TestPeriod(t *testing.T) {
	from, to := Period(syncNow)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), to)
}

func TestTranslateStatus(t *testing.T) {
	assert.Equal(t, "Необходимо запланировать", TranslateStatus("To Be Planned"))
	assert.Equal(t, "Закрыто", TranslateStatus("Closed"))
	assert.Equal(t, "Выполнено", TranslateStatus("Executed"))
	assert.Equal(t, "Запланированно", TranslateStatus("Scheduled"))
	assert.Equal(t, "On Hold", TranslateStatus("On Hold"))
}

func TestChanged(t *testing.T) {
	t1 := time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name              string
		current, incoming any
		want              bool
	}{
		{"both null", nil, nil, false},
		{"set", nil, "a", true},
		{"clear", "a", nil, true},
		{"equal strings", "a", "a", false},
		{"different strings", "a", "b", true},
		{"same instant", t1, t1.In(time.FixedZone("MSK", 3*3600)), false},
		{"different times", t1, t1.Add(time.Second), true},
		{"int widths", int64(4), int32(4), false},
		{"different numbers", int64(4), int64(5), true},
		{"different types", "4", int64(4), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Changed(tt.current, tt.incoming))
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{-2, 0, 3, 5})
	assert.Equal(t, Stats{Count: 4, Min: -2, Max: 5, Mean: 1.5, Positive: 2, Negative: 1, Zero: 1}, s)
	assert.Equal(t, Stats{}, Summarize(nil))
}
