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

// Package areasync keeps the current availability of every area and main line
// and the worst machine per area up to date in the reporting store.
package areasync

import (
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/config"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/kpi"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

const (
	KindArea = "area"
	KindLine = "line"
)

type Source interface {
	AreaDowntime(ctx context.Context, area config.AreaConfig, w shift.Window) (float64, error)
	LineDowntime(ctx context.Context, line config.MainLineConfig, w shift.Window) (float64, error)
	CauseRows(ctx context.Context, w shift.Window) ([]source.CauseRow, error)
}

type Store interface {
	WorkingTime(ctx context.Context, table, column string, date time.Time) (*float64, error)
	ReplaceAreaStatus(ctx context.Context, s postgresql.StatusSnapshot) error
	ReplaceLineStatus(ctx context.Context, s postgresql.StatusSnapshot) error
	ReplaceTopBreakdowns(ctx context.Context, rows []postgresql.TopBreakdown) error
}

// Publisher receives every snapshot after it was stored.
type Publisher interface {
	PublishStatus(ctx context.Context, kind string, s postgresql.StatusSnapshot) error
}

// Result counts the items of one sync run.
type Result struct {
	Success int
	Errors  int
}

type Job struct {
	source    Source
	store     Store
	plant     config.Plant
	mode      shift.Mode
	loc       *time.Location
	publisher Publisher
	now       func() time.Time
}

type Option func(*Job)

func WithPublisher(p Publisher) Option {
	return func(j *Job) { j.publisher = p }
}

// WithClock replaces time.Now. Returned instants are moved into the job's
// location before windows are computed.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// New builds the sync job. Windows, working-time dates and incremental
// scaling are evaluated in loc (time.Local when nil).
func New(src Source, store Store, plant config.Plant, mode shift.Mode, loc *time.Location, opts ...Option) *Job {
	if loc == nil {
		loc = time.Local
	}
	j := &Job{
		source: src,
		store:  store,
		plant:  plant,
		mode:   mode,
		loc:    loc,
		now:    time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

func (j *Job) clock() time.Time {
	return j.now().In(j.loc)
}

// SyncAreas writes one status row per configured area. A failing area is
// logged and counted; the remaining areas are still processed. The returned
// error is only set when every area failed.
func (j *Job) SyncAreas(ctx context.Context) (Result, error) {
	now := j.clock()
	w := shift.For(j.mode, now)
	var res Result
	for _, a := range j.plant.Areas {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.syncArea(ctx, a, w, now); err != nil {
			res.Errors++
			metrics.IncItemError(metrics.JobAreaSync)
			zap.S().Errorw("Failed to sync area", "area", a.Name, "error", err)
			continue
		}
		res.Success++
	}
	zap.S().Infow("Area sync finished", "success", res.Success, "errors", res.Errors, "window", w.Start)
	return res, allFailed(res, "areas")
}

func (j *Job) syncArea(ctx context.Context, a config.AreaConfig, w shift.Window, now time.Time) error {
	wt := j.workingTime(ctx, a.Name, a.WorkingTimeTable, a.WorkingTimeColumn, w.Start, a.DefaultWorkingTime)

	downtime, err := j.source.AreaDowntime(ctx, a, w)
	if err != nil {
		zap.S().Errorw("Failed to read area downtime, assuming none", "area", a.Name, "error", err)
		downtime = 0
	}

	incremental := kpi.LinearFraction(kpi.NewWorkingTime(&wt), w, now)
	s := snapshot(a.Name, a.Name, now, downtime, incremental)
	if err = j.store.ReplaceAreaStatus(ctx, s); err != nil {
		return err
	}
	j.published(ctx, KindArea, s)
	return nil
}

// SyncLines writes one status row per main line. Lines inherit working time
// table and default from their area and grow the working time in 3-minute steps.
func (j *Job) SyncLines(ctx context.Context) (Result, error) {
	now := j.clock()
	w := shift.For(j.mode, now)
	var res Result
	for _, l := range j.plant.MainLines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.syncLine(ctx, l, w, now); err != nil {
			res.Errors++
			metrics.IncItemError(metrics.JobLineSync)
			zap.S().Errorw("Failed to sync main line", "line", l.Name, "area", l.Area, "error", err)
			continue
		}
		res.Success++
	}
	zap.S().Infow("Main line sync finished", "success", res.Success, "errors", res.Errors, "window", w.Start)
	return res, allFailed(res, "main lines")
}

func (j *Job) syncLine(ctx context.Context, l config.MainLineConfig, w shift.Window, now time.Time) error {
	table, column, def, ok := j.plant.LineWorkingTime(l)
	if !ok {
		zap.S().Debugw("Main line without configured area, using default working time", "line", l.Name, "default", def)
	}
	wt := j.workingTime(ctx, l.Name, table, column, w.Start, def)

	downtime, err := j.source.LineDowntime(ctx, l, w)
	if err != nil {
		zap.S().Errorw("Failed to read line downtime, assuming none", "line", l.Name, "error", err)
		downtime = 0
	}

	incremental := kpi.IntervalSteps(wt, w, now)
	s := snapshot(l.Name, l.Area, now, downtime, incremental)
	if err = j.store.ReplaceLineStatus(ctx, s); err != nil {
		return err
	}
	j.published(ctx, KindLine, s)
	return nil
}

// workingTime looks up the planned minutes for date and falls back to def
// when there is no table, no row or the lookup fails.
func (j *Job) workingTime(ctx context.Context, name, table, column string, date time.Time, def float64) float64 {
	if table == "" || column == "" {
		return def
	}
	v, err := j.store.WorkingTime(ctx, table, column, date)
	if err != nil {
		zap.S().Warnw("Failed to read working time, using default",
			"name", name, "table", table, "default", def, "error", err)
		return def
	}
	if v == nil {
		return def
	}
	return *v
}

func (j *Job) published(ctx context.Context, kind string, s postgresql.StatusSnapshot) {
	metrics.SetAvailability(kind, s.Name, s.Availability)
	if j.publisher == nil {
		return
	}
	if err := j.publisher.PublishStatus(ctx, kind, s); err != nil {
		zap.S().Warnw("Failed to publish status", "kind", kind, "name", s.Name, "error", err)
	}
}

func snapshot(name, area string, now time.Time, downtime, workingTime float64) postgresql.StatusSnapshot {
	pct := kpi.DowntimePercentage(&downtime, &workingTime)
	return postgresql.StatusSnapshot{
		Name:               name,
		Area:               area,
		LastUpdate:         now,
		DowntimeMinutes:    kpi.Float(downtime),
		WorkingTimeMinutes: kpi.Float(workingTime),
		DowntimePercentage: pct,
		Availability:       kpi.Availability(pct),
	}
}

func allFailed(res Result, what string) error {
	if res.Errors > 0 && res.Success == 0 {
		return fmt.Errorf("all %d %s failed", res.Errors, what)
	}
	return nil
}
