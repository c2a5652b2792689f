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
	"strings"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
)

type step struct {
	name string
	run  func(ctx context.Context, j *Job, from, to time.Time) (int64, error)
}

var steps = []step{
	{"status", statusStep},
	{"date_start_work_order", fieldStep("date_start_work_order", times(source.ActualStartTime))},
	{"date_stop_work_order", fieldStep("date_stop_work_order", times(source.ActualEndTime))},
	{"preventive_maintenance_duration_min", sqlStep(durationSQL, durationResetSQL)},
	{"comment", fieldStep("comment", strs(Source.WorkOrderComments))},
	{"maintainers", fieldStep("maintainers", strs(Source.Maintainers))},
	{"scheduled_proposed_date", dateStep("scheduled_proposed_date", source.ScheduledTimeProposed)},
	{"scheduled_date", dateStep("scheduled_date", source.ScheduledTime)},
	{"delta_scheduling_days", sqlStep(deltaSchedulingSQL, deltaSchedulingResetSQL)},
	{"pm_report_delay_days", sqlStep(reportDelaySQL, reportDelayResetSQL)},
	{"wo_estimated_duration_min", fieldStep("wo_estimated_duration_min", estimatedDurations)},
	{"operations_nok", fieldStep("operations_nok", operations(false))},
	{"operations_ok", fieldStep("operations_ok", operations(true))},
	{"operations_all", sqlStep(operationsAllSQL)},
}

var statusTranslations = map[string]string{
	"To Be Planned": "Необходимо запланировать",
	"Closed":        "Закрыто",
	"Executed":      "Выполнено",
	"Scheduled":     "Запланированно",
}

// TranslateStatus maps a CMMS status code name to the reported one. Unknown
// values are kept as they are.
func TranslateStatus(s string) string {
	if t, ok := statusTranslations[s]; ok {
		return t
	}
	return s
}

// statusStep updates the status of every record that is not final yet.
func statusStep(ctx context.Context, j *Job, from, to time.Time) (int64, error) {
	rows, err := j.store.PMColumn(ctx, "status", from, to, true)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	statuses, err := j.source.LatestStatuses(ctx, idCodes(rows))
	if err != nil {
		return 0, err
	}
	incoming := make(map[string]any, len(statuses))
	for id, s := range statuses {
		incoming[id] = TranslateStatus(s)
	}
	return j.diff(ctx, "pm status", "status", rows, incoming)
}

type fetchFunc func(ctx context.Context, src Source, ids []string) (map[string]any, error)

// fieldStep copies a source value into column of every record in the period.
func fieldStep(column string, fetch fetchFunc) func(context.Context, *Job, time.Time, time.Time) (int64, error) {
	return func(ctx context.Context, j *Job, from, to time.Time) (int64, error) {
		rows, err := j.store.PMColumn(ctx, column, from, to, false)
		if err != nil || len(rows) == 0 {
			return 0, err
		}
		incoming, err := fetch(ctx, j.source, idCodes(rows))
		if err != nil {
			return 0, err
		}
		return j.diff(ctx, "pm "+column, column, rows, incoming)
	}
}

// dateStep copies a source timestamp into a date column. Values are reduced
// to their calendar day in the job's location before they are compared.
func dateStep(column string, col source.TimeColumn) func(context.Context, *Job, time.Time, time.Time) (int64, error) {
	return func(ctx context.Context, j *Job, from, to time.Time) (int64, error) {
		return fieldStep(column, calendarDays(times(col), j.loc))(ctx, j, from, to)
	}
}

func calendarDays(fetch fetchFunc, loc *time.Location) fetchFunc {
	return func(ctx context.Context, src Source, ids []string) (map[string]any, error) {
		m, err := fetch(ctx, src, ids)
		if err != nil {
			return nil, err
		}
		for id, v := range m {
			if t, ok := v.(time.Time); ok {
				m[id] = CalendarDay(t, loc)
			}
		}
		return m, nil
	}
}

// CalendarDay returns the date of t in loc as midnight UTC, which is how a
// date column reads back.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func times(col source.TimeColumn) fetchFunc {
	return func(ctx context.Context, src Source, ids []string) (map[string]any, error) {
		m, err := src.WorkOrderTimes(ctx, col, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m))
		for id, v := range m {
			if v.Valid {
				out[id] = v.Time
			} else {
				out[id] = nil
			}
		}
		return out, nil
	}
}

func strs(lookup func(Source, context.Context, []string) (map[string]sql.NullString, error)) fetchFunc {
	return func(ctx context.Context, src Source, ids []string) (map[string]any, error) {
		m, err := lookup(src, ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m))
		for id, v := range m {
			if v.Valid {
				out[id] = v.String
			} else {
				out[id] = nil
			}
		}
		return out, nil
	}
}

func estimatedDurations(ctx context.Context, src Source, ids []string) (map[string]any, error) {
	m, err := src.EstimatedDurations(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m))
	for id, v := range m {
		if v.Valid {
			out[id] = v.Int64
		} else {
			out[id] = nil
		}
	}
	return out, nil
}

// operations counts done or open operations. Work orders without such
// operations count 0.
func operations(done bool) fetchFunc {
	return func(ctx context.Context, src Source, ids []string) (map[string]any, error) {
		m, err := src.OperationCounts(ctx, ids, done)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(ids))
		for _, id := range ids {
			out[id] = m[id]
		}
		return out, nil
	}
}

// sqlStep runs reporting-table local statements restricted to the period.
func sqlStep(statements ...string) func(context.Context, *Job, time.Time, time.Time) (int64, error) {
	return func(ctx context.Context, j *Job, from, to time.Time) (int64, error) {
		var total int64
		for _, q := range statements {
			q = strings.ReplaceAll(q, "{period}", postgresql.PMPeriodClause(1))
			n, err := j.store.ExecRetry(ctx, "pm derived", q, from, to)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	}
}

// Changed compares a stored value with an incoming one. Two NULLs are equal,
// a NULL and a value differ, and values are compared by content.
func Changed(current, incoming any) bool {
	if current == nil || incoming == nil {
		return (current == nil) != (incoming == nil)
	}
	switch c := current.(type) {
	case time.Time:
		in, ok := incoming.(time.Time)
		return !ok || !c.Equal(in)
	case string:
		in, ok := incoming.(string)
		return !ok || c != in
	}
	cf, cok := number(current)
	inf, iok := number(incoming)
	if cok && iok {
		return cf != inf
	}
	return true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

const (
	durationExpr = `CAST(ROUND(EXTRACT(EPOCH FROM (date_stop_work_order - date_start_work_order)) / 60) AS INTEGER)`

	durationSQL = `
		UPDATE pm_maintenance_records
		SET preventive_maintenance_duration_min = ` + durationExpr + `
		WHERE date_start_work_order IS NOT NULL AND date_stop_work_order IS NOT NULL
		  AND date_stop_work_order >= date_start_work_order
		  AND preventive_maintenance_duration_min IS DISTINCT FROM ` + durationExpr + `
		  AND {period}`

	durationResetSQL = `
		UPDATE pm_maintenance_records
		SET preventive_maintenance_duration_min = NULL
		WHERE preventive_maintenance_duration_min IS NOT NULL
		  AND (date_start_work_order IS NULL OR date_stop_work_order IS NULL
		       OR date_stop_work_order < date_start_work_order)
		  AND {period}`

	deltaSchedulingSQL = `
		UPDATE pm_maintenance_records
		SET delta_scheduling_days = scheduled_date::date - scheduled_proposed_date::date
		WHERE scheduled_date IS NOT NULL AND scheduled_proposed_date IS NOT NULL
		  AND delta_scheduling_days IS DISTINCT FROM (scheduled_date::date - scheduled_proposed_date::date)
		  AND {period}`

	deltaSchedulingResetSQL = `
		UPDATE pm_maintenance_records
		SET delta_scheduling_days = NULL
		WHERE delta_scheduling_days IS NOT NULL
		  AND (scheduled_date IS NULL OR scheduled_proposed_date IS NULL)
		  AND {period}`

	reportDelaySQL = `
		UPDATE pm_maintenance_records
		SET pm_report_delay_days = date_start_work_order::date - scheduled_date::date
		WHERE date_start_work_order IS NOT NULL AND scheduled_date IS NOT NULL
		  AND pm_report_delay_days IS DISTINCT FROM (date_start_work_order::date - scheduled_date::date)
		  AND {period}`

	reportDelayResetSQL = `
		UPDATE pm_maintenance_records
		SET pm_report_delay_days = NULL
		WHERE pm_report_delay_days IS NOT NULL
		  AND (date_start_work_order IS NULL OR scheduled_date IS NULL)
		  AND {period}`

	operationsAllExpr = `CASE WHEN operations_ok IS NULL AND operations_nok IS NULL THEN NULL
		ELSE COALESCE(operations_ok, 0) + COALESCE(operations_nok, 0) END`

	operationsAllSQL = `
		UPDATE pm_maintenance_records
		SET operations_all = ` + operationsAllExpr + `
		WHERE operations_all IS DISTINCT FROM (` + operationsAllExpr + `)
		  AND {period}`
)
