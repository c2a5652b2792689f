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
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Source reads preventive maintenance work orders from the CMMS.
type Source interface {
	PMWorkOrders(ctx context.Context, from, to time.Time) ([]source.PMWorkOrder, error)
	LatestStatuses(ctx context.Context, ids []string) (map[string]string, error)
	WorkOrderTimes(ctx context.Context, col source.TimeColumn, ids []string) (map[string]sql.NullTime, error)
	WorkOrderComments(ctx context.Context, ids []string) (map[string]sql.NullString, error)
	Maintainers(ctx context.Context, ids []string) (map[string]sql.NullString, error)
	EstimatedDurations(ctx context.Context, ids []string) (map[string]sql.NullInt64, error)
	OperationCounts(ctx context.Context, ids []string, done bool) (map[string]int64, error)
}

// Store is the PM part of the reporting store.
type Store interface {
	PMIDCodes(ctx context.Context) (map[string]struct{}, error)
	InsertPMRecords(ctx context.Context, recs []postgresql.PMImport) (int64, error)
	PMColumn(ctx context.Context, column string, from, to time.Time, openOnly bool) ([]postgresql.PMRow, error)
	UpdateByID(ctx context.Context, name, table, column string, updates []postgresql.IDValue) (int64, error)
	ExecRetry(ctx context.Context, name, sql string, args ...any) (int64, error)
	Floats(ctx context.Context, q string, args ...any) ([]float64, error)
}

// Recorder remembers successful runs.
type Recorder interface {
	Record(job string, planned time.Time) error
}

// Report summarizes one PM sync.
type Report struct {
	Imported   int64            `json:"imported"`
	Updated    map[string]int64 `json:"updated"`
	Delay      Stats            `json:"reportDelayDays"`
	Scheduling Stats            `json:"deltaSchedulingDays"`
}

// Job keeps the PM records in line with the CMMS.
type Job struct {
	source   Source
	store    Store
	recorder Recorder
	loc      *time.Location
	now      func() time.Time
}

func New(src Source, store Store, recorder Recorder, loc *time.Location) *Job {
	if loc == nil {
		loc = time.Local
	}
	return &Job{source: src, store: store, recorder: recorder, loc: loc, now: time.Now}
}

// Period is the range of reference dates the sync updates: from January 1st
// of last year up to January 1st of next year.
func Period(now time.Time) (from, to time.Time) {
	jan1 := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return jan1.AddDate(-1, 0, 0), jan1.AddDate(1, 0, 0)
}

// Run imports new PM work orders of the current year and then updates every
// tracked field. A failing step is logged and the remaining steps still run.
func (j *Job) Run(ctx context.Context) (Report, error) {
	now := j.now().In(j.loc)
	from, to := Period(now)
	report := Report{Updated: make(map[string]int64)}
	log := zap.S().With("job", metrics.JobPM)

	var errs []error
	fail := func(step string, err error) {
		metrics.IncItemError(metrics.JobPM)
		log.Errorw("PM sync step failed", "step", step, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", step, err))
	}

	n, err := j.importNew(ctx, now)
	if err != nil {
		fail("import", err)
	}
	report.Imported = n

	for _, s := range steps {
		if err = ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.run(ctx, j, from, to)
		if err != nil {
			fail(s.name, err)
			continue
		}
		report.Updated[s.name] = n
		log.Debugf("PM step %s updated %d rows", s.name, n)
	}

	report.Delay, err = j.stats(ctx, "pm_report_delay_days", from, to)
	if err != nil {
		log.Warnw("Could not load report delay statistics", "error", err)
	}
	report.Scheduling, err = j.stats(ctx, "delta_scheduling_days", from, to)
	if err != nil {
		log.Warnw("Could not load scheduling statistics", "error", err)
	}
	log.Infow("PM sync finished", "imported", report.Imported, "updated", report.Updated,
		"reportDelay", report.Delay, "deltaScheduling", report.Scheduling)

	if err = errors.Join(errs...); err != nil {
		return report, err
	}
	if j.recorder != nil {
		return report, j.recorder.Record(tracker.JobPM, now)
	}
	return report, nil
}

// importNew adds the PM work orders of the current year that are not yet
// reported.
func (j *Job) importNew(ctx context.Context, now time.Time) (int64, error) {
	existing, err := j.store.PMIDCodes(ctx)
	if err != nil {
		return 0, err
	}
	jan1 := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	wos, err := j.source.PMWorkOrders(ctx, jan1, jan1.AddDate(1, 0, 0))
	if err != nil {
		return 0, err
	}

	var recs []postgresql.PMImport
	for _, wo := range wos {
		if _, ok := existing[wo.IDCode]; ok {
			continue
		}
		existing[wo.IDCode] = struct{}{}
		recs = append(recs, postgresql.PMImport{
			IDCode:                wo.IDCode,
			ScheduledDate:         j.day(wo.ScheduledTime),
			ScheduledProposedDate: j.day(wo.ScheduledTimeProposed),
		})
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return j.store.InsertPMRecords(ctx, recs)
}

func (j *Job) day(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	d := CalendarDay(t.Time, j.loc)
	return &d
}

// diff compares the stored values of column with the incoming ones and writes
// the changes. Identifiers missing from incoming are left alone.
func (j *Job) diff(ctx context.Context, name, column string, rows []postgresql.PMRow, incoming map[string]any) (int64, error) {
	var updates []postgresql.IDValue
	for _, r := range rows {
		v, ok := incoming[r.IDCode]
		if !ok || !Changed(r.Value, v) {
			continue
		}
		updates = append(updates, postgresql.IDValue{ID: r.ID, Value: v})
	}
	return j.store.UpdateByID(ctx, name, postgresql.TablePM, column, updates)
}

func idCodes(rows []postgresql.PMRow) []string {
	set := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		set[r.IDCode] = struct{}{}
	}
	ids := maps.Keys(set)
	slices.Sort(ids)
	return ids
}
