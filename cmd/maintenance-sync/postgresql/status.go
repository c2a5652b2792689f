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
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

const (
	TableAreaStatus    = "production_metrics_online"
	TableLineStatus    = "main_lines_online"
	TableTopBreakdowns = "top_breakdowns_current_status_online"

	statusRetention = 24 * time.Hour

	// WorkingTimeTTL bounds how long a cached working time is trusted, so
	// corrections made during the day are picked up.
	WorkingTimeTTL = 15 * time.Minute
)

type cachedWorkingTime struct {
	minutes float64
	fetched time.Time
}

// StatusSnapshot is one availability row of an area or a main line.
// Name equals Area for area rows.
type StatusSnapshot struct {
	Name               string    `json:"name"`
	Area               string    `json:"area"`
	LastUpdate         time.Time `json:"lastUpdate"`
	DowntimeMinutes    *float64  `json:"downtimeMinutes"`
	WorkingTimeMinutes *float64  `json:"workingTimeMinutes"`
	DowntimePercentage *float64  `json:"downtimePercentage"`
	Availability       *float64  `json:"availability"`
}

// TopBreakdown is the machine with the most downtime of an area.
type TopBreakdown struct {
	Area     string `json:"area"`
	Machine  string `json:"machine"`
	Downtime string `json:"downtime"`
	Cause    string `json:"cause"`
}

// WorkingTime returns the planned working minutes stored for date, or nil if
// there is no row. Found values are cached.
func (c *Connection) WorkingTime(ctx context.Context, table, column string, date time.Time) (*float64, error) {
	day := date.Format(helper.DateLayout)
	key := workingTimeKey(table, column, day)
	if v, ok := c.workingTimeCache.Get(key); ok {
		entry := v.(cachedWorkingTime)
		if c.now().Sub(entry.fetched) < WorkingTimeTTL {
			return &entry.minutes, nil
		}
		c.workingTimeCache.Remove(key)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE date = $1 LIMIT 1`,
		pgx.Identifier{column}.Sanitize(), pgx.Identifier{table}.Sanitize())
	var wt *float64
	err := c.db.QueryRow(ctx, query, day).Scan(&wt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if wt != nil {
		c.workingTimeCache.Add(key, cachedWorkingTime{minutes: *wt, fetched: c.now()})
	}
	return wt, nil
}

func workingTimeKey(table, column, day string) string {
	var sb strings.Builder
	sb.WriteString(table)
	sb.WriteRune('*')
	sb.WriteString(column)
	sb.WriteRune('*')
	sb.WriteString(day)
	return sb.String()
}

// ReplaceAreaStatus purges the area's rows older than a day and inserts s.
func (c *Connection) ReplaceAreaStatus(ctx context.Context, s StatusSnapshot) error {
	_, err := c.InTx(ctx, "area_status", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		_, err := tx.Exec(ctx, `DELETE FROM production_metrics_online WHERE area = $1 AND last_update < $2`,
			s.Area, s.LastUpdate.Add(-statusRetention))
		if err != nil {
			return 0, err
		}
		cmdTag, err := tx.Exec(ctx, `
			INSERT INTO production_metrics_online
				(area, last_update, machine_downtime, wt_min, downtime_percentage, preventive_maintenance_duration_min, availability)
			VALUES ($1, $2, $3, $4, $5, 0, $6)`,
			s.Area, s.LastUpdate, s.DowntimeMinutes, s.WorkingTimeMinutes, s.DowntimePercentage, s.Availability)
		if err != nil {
			return 0, err
		}
		return cmdTag.RowsAffected(), nil
	})
	if err == nil {
		metrics.AddRowsWritten(metrics.JobAreaSync, TableAreaStatus, 1)
	}
	return err
}

// ReplaceLineStatus purges the line's rows older than a day and inserts s.
func (c *Connection) ReplaceLineStatus(ctx context.Context, s StatusSnapshot) error {
	_, err := c.InTx(ctx, "line_status", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		_, err := tx.Exec(ctx, `DELETE FROM main_lines_online WHERE line_name = $1 AND last_update < $2`,
			s.Name, s.LastUpdate.Add(-statusRetention))
		if err != nil {
			return 0, err
		}
		cmdTag, err := tx.Exec(ctx, `
			INSERT INTO main_lines_online
				(line_name, area, last_update, machine_downtime, wt_min, downtime_percentage, preventive_maintenance_duration_min, availability)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
			s.Name, s.Area, s.LastUpdate, s.DowntimeMinutes, s.WorkingTimeMinutes, s.DowntimePercentage, s.Availability)
		if err != nil {
			return 0, err
		}
		return cmdTag.RowsAffected(), nil
	})
	if err == nil {
		metrics.AddRowsWritten(metrics.JobLineSync, TableLineStatus, 1)
	}
	return err
}

// ReplaceTopBreakdowns swaps the whole top breakdown table in one transaction.
func (c *Connection) ReplaceTopBreakdowns(ctx context.Context, rows []TopBreakdown) error {
	n, err := c.InTx(ctx, "top_breakdowns", func(ctx context.Context, tx pgx.Tx) (int64, error) {
		if _, err := tx.Exec(ctx, `DELETE FROM top_breakdowns_current_status_online`); err != nil {
			return 0, err
		}
		var inserted int64
		for _, r := range rows {
			cmdTag, err := tx.Exec(ctx, `
				INSERT INTO top_breakdowns_current_status_online (area, machine_name, machine_downtime, cause)
				VALUES ($1, $2, $3, $4)`,
				r.Area, r.Machine, r.Downtime, r.Cause)
			if err != nil {
				return 0, err
			}
			inserted += cmdTag.RowsAffected()
		}
		return inserted, nil
	})
	if err != nil {
		return err
	}
	zap.S().Debugf("Replaced top breakdowns with %d rows", n)
	metrics.AddRowsWritten(metrics.JobTopBreakdowns, TableTopBreakdowns, n)
	return nil
}
