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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// Source reads breakdowns from the CMMS.
type Source interface {
	BreakdownRows(ctx context.Context, w shift.Window, tagsOnly bool) ([]source.BreakdownRow, error)
}

// Store is the part of the reporting store the transfer writes to.
type Store interface {
	InsertMaintenanceRecords(ctx context.Context, table string, recs []postgresql.MaintenanceRecord) (int64, int, error)
	DerivationRows(ctx context.Context, table string, from, to time.Time) ([]postgresql.DerivationRow, error)
	UpdateByID(ctx context.Context, name, table, column string, updates []postgresql.IDValue) (int64, error)
	ExecRetry(ctx context.Context, name, sql string, args ...any) (int64, error)
}

// Recorder remembers successful runs.
type Recorder interface {
	Record(job string, planned time.Time) error
}

// Kind describes one flavour of the daily transfer.
type Kind struct {
	// Job is the metrics label.
	Job string
	// RunType is recorded in the run tracker.
	RunType  string
	Table    string
	TagsOnly bool
	// Joins enables the roster and staff lookups and the failure type override.
	Joins   bool
	Cleanup bool
}

var (
	// Breakdowns moves equipment breakdowns into the maintenance records.
	Breakdowns = Kind{
		Job:     metrics.JobTransfer,
		RunType: tracker.JobData,
		Table:   postgresql.TableMaintenance,
		Joins:   true,
		Cleanup: true,
	}
	// Tags keeps tag work orders in their own table.
	Tags = Kind{
		Job:      metrics.JobTagTransfer,
		RunType:  tracker.JobTag,
		Table:    postgresql.TableTagMaintenance,
		TagsOnly: true,
	}
)

// Report summarizes one transfer run.
type Report struct {
	Selected int              `json:"selected"`
	Excluded int              `json:"excluded"`
	Inserted int64            `json:"inserted"`
	Failed   int              `json:"failed"`
	Derived  map[string]int64 `json:"derived"`
	Deleted  int64            `json:"deleted"`
}

// Job runs the daily transfer.
type Job struct {
	source   Source
	store    Store
	recorder Recorder
	now      func() time.Time
}

func New(src Source, store Store, recorder Recorder) *Job {
	return &Job{source: src, store: store, recorder: recorder, now: time.Now}
}

// Run transfers the breakdowns of w and derives the reporting fields. Each
// derivation pass commits on its own; a failing pass is logged and the
// remaining passes still run. The run is recorded only if everything
// succeeded.
func (j *Job) Run(ctx context.Context, kind Kind, w shift.Window) (Report, error) {
	report := Report{Derived: make(map[string]int64)}
	log := zap.S().With("job", kind.Job, "from", w.Start, "to", w.End)

	rows, err := j.source.BreakdownRows(ctx, w, kind.TagsOnly)
	if err != nil {
		return report, fmt.Errorf("reading breakdowns: %w", err)
	}
	report.Selected = len(rows)
	log.Infof("Selected %d breakdowns", len(rows))
	if len(rows) == 0 {
		return report, j.record(kind, w)
	}

	createdAt := j.now()
	recs := make([]postgresql.MaintenanceRecord, 0, len(rows))
	for _, r := range rows {
		rec := Record(r, createdAt)
		if kind.Cleanup && Excluded(rec) {
			report.Excluded++
			continue
		}
		recs = append(recs, rec)
	}

	report.Inserted, report.Failed, err = j.store.InsertMaintenanceRecords(ctx, kind.Table, recs)
	if err != nil {
		return report, fmt.Errorf("inserting records: %w", err)
	}
	log.Infof("Inserted %d records, %d failed, %d excluded", report.Inserted, report.Failed, report.Excluded)

	var errs []error
	if report.Failed > 0 {
		errs = append(errs, fmt.Errorf("%d records could not be inserted", report.Failed))
	}
	errs = append(errs, j.derive(ctx, kind, w, &report)...)

	if kind.Cleanup {
		n, err := j.store.ExecRetry(ctx, "cleanup", tableSQL(cleanupSQL, kind.Table))
		if err != nil {
			metrics.IncItemError(kind.Job)
			log.Errorw("Cleanup failed", "error", err)
			errs = append(errs, fmt.Errorf("cleanup: %w", err))
		} else {
			report.Deleted = n
			log.Infof("Cleanup deleted %d records", n)
		}
	}

	if err = errors.Join(errs...); err != nil {
		return report, err
	}
	return report, j.record(kind, w)
}

func (j *Job) record(kind Kind, w shift.Window) error {
	if j.recorder == nil {
		return nil
	}
	return j.recorder.Record(kind.RunType, w.End)
}

// derive runs the derivation passes in order. Row-local passes are computed
// here on one snapshot of the incomplete rows and written by id; lookups
// against other tables run as set-based statements.
func (j *Job) derive(ctx context.Context, kind Kind, w shift.Window, report *Report) []error {
	rows, err := j.store.DerivationRows(ctx, kind.Table, w.Start, w.End)
	if err != nil {
		metrics.IncItemError(kind.Job)
		zap.S().Errorw("Loading rows for derivation failed", "table", kind.Table, "error", err)
		return []error{fmt.Errorf("loading rows for derivation: %w", err)}
	}

	var errs []error
	for _, p := range pipeline {
		if p.sql != "" && !kind.Joins {
			continue
		}
		if err = ctx.Err(); err != nil {
			return append(errs, err)
		}

		var n int64
		if p.sql != "" {
			n, err = j.store.ExecRetry(ctx, p.name, tableSQL(p.sql, kind.Table))
		} else {
			n, err = j.store.UpdateByID(ctx, p.name, kind.Table, p.column, p.updates(rows))
		}
		if err != nil {
			metrics.IncItemError(kind.Job)
			zap.S().Errorw("Derivation pass failed", "pass", p.name, "table", kind.Table, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		report.Derived[p.name] = n
		zap.S().Debugf("Pass %s updated %d rows in %s", p.name, n, kind.Table)
	}
	return errs
}

type pass struct {
	name string
	// column and apply describe a row-local pass.
	column string
	apply  func(r *postgresql.DerivationRow) (string, bool)
	// sql is a set-based pass; {table} is replaced by the target table.
	sql string
}

// updates applies the pass to every row and returns the changed values.
// Rows are updated in place so that later passes see the new values.
func (p pass) updates(rows []postgresql.DerivationRow) []postgresql.IDValue {
	var out []postgresql.IDValue
	for i := range rows {
		if v, ok := p.apply(&rows[i]); ok {
			out = append(out, postgresql.IDValue{ID: rows[i].ID, Value: v})
		}
	}
	return out
}

var pipeline = []pass{
	{name: "cause", column: "cause", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.Cause) || r.Comments == nil {
			return "", false
		}
		c, ok := ExtractCause(*r.Comments)
		return set(&r.Cause, c, ok)
	}},
	{name: "cause cleanup", column: "cause", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if empty(r.Cause) {
			return "", false
		}
		c := CleanCause(*r.Cause)
		return set(&r.Cause, c, c != *r.Cause)
	}},
	{name: "cause trim", column: "cause", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if empty(r.Cause) {
			return "", false
		}
		c := strings.TrimSpace(*r.Cause)
		return set(&r.Cause, c, c != *r.Cause)
	}},
	{name: "staff", column: "staff", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.Staff) || r.Comments == nil {
			return "", false
		}
		s, ok := ExtractStaff(*r.Comments)
		return set(&r.Staff, s, ok)
	}},
	{name: "date", column: "date", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.Date) || r.StartBD == nil {
			return "", false
		}
		return set(&r.Date, r.StartBD.Format(helper.DateLayout), true)
	}},
	{name: "week number", column: "week_number", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.WeekNumber) || empty(r.Date) {
			return "", false
		}
		w, ok := WeekNumber(*r.Date)
		return set(&r.WeekNumber, w, ok)
	}},
	{name: "month name", column: "month_name", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.MonthName) || empty(r.Date) {
			return "", false
		}
		m, ok := MonthName(*r.Date)
		return set(&r.MonthName, m, ok)
	}},
	{name: "shift", column: "shift", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.Shift) || r.StartBD == nil {
			return "", false
		}
		return set(&r.Shift, ShiftOf(*r.StartBD), true)
	}},
	{name: "failure type", sql: failureTypeSQL},
	{name: "crew de facto", sql: crewDeFactoSQL},
	{name: "crew", sql: crewSQL},
	{name: "production day", column: "production_day", apply: func(r *postgresql.DerivationRow) (string, bool) {
		if !empty(r.ProductionDay) || r.StartBD == nil {
			return "", false
		}
		return set(&r.ProductionDay, ProductionDay(*r.StartBD, r.StopBD), true)
	}},
	{name: "specific failure type", sql: specificFailureTypeSQL},
}

func empty(s *string) bool {
	return s == nil || *s == ""
}

// set stores v in *field when ok and reports the value to write. Empty
// results are not written.
func set(field **string, v string, ok bool) (string, bool) {
	if !ok || v == "" {
		return "", false
	}
	*field = &v
	return v, true
}

func tableSQL(q, table string) string {
	return strings.ReplaceAll(q, "{table}", pgx.Identifier{table}.Sanitize())
}

const (
	failureTypeSQL = `
		UPDATE {table} rp SET failure_type = st.directivity
		FROM staff_technical st
		WHERE rp.staff = st.staff AND (rp.failure_type IS NULL OR rp.failure_type = '')`

	crewDeFactoSQL = `
		UPDATE {table} rp SET crew_de_facto = st.shift
		FROM staff_technical st
		WHERE rp.staff = st.staff AND (rp.crew_de_facto IS NULL OR rp.crew_de_facto = '')`

	crewSQL = `
		UPDATE {table} emr SET crew = g."Бригада"
		FROM "график_работы_104" g
		WHERE g."Дата" = emr.date AND CAST(g."Смена" AS TEXT) = emr.shift
		  AND (emr.crew IS NULL OR emr.crew = '')`

	specificFailureTypeSQL = `
		UPDATE {table} SET failure_type = 'Другие'
		WHERE (cause LIKE '%Наладка%'
		    OR cause LIKE '%Простой по вине производства%'
		    OR cause LIKE '%Простой по вине с. качества%')
		  AND failure_type IS DISTINCT FROM 'Другие'`

	cleanupSQL = `
		DELETE FROM {table}
		WHERE comments LIKE '%Cause:%Ошибочный запрос%'
		   OR comments LIKE '%Cause:%Ложный вызов%'
		   OR (CHAR_LENGTH(comments) BETWEEN 15 AND 19 AND (status LIKE '%Закрыто%' OR status LIKE '%Выполнено%'))
		   OR hp_bd LIKE '%Tag%'
		   OR status LIKE '%В исполнении%'`
)
