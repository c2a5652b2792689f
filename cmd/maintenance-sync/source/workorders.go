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

package source

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
)

// WorkOrder is a breakdown report row as shown by the work order browser.
type WorkOrder struct {
	IDCode          string     `json:"idCode"`
	WOCodeName      string     `json:"woCodeName"`
	MachineName     string     `json:"machineName"`
	Assembly        string     `json:"assembly"`
	SubAssembly     string     `json:"subAssembly"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	DurationSeconds *int64     `json:"-"`
	SDuration       string     `json:"sDuration"`
	DateT1          *time.Time `json:"dateT1"`
	DateT4          *time.Time `json:"dateT4"`
	Maintainers     string     `json:"maintainers"`
	Comment         string     `json:"comment"`
	InitialComment  string     `json:"initialComment"`
	Area            string     `json:"plantDepartmentGeographicalCodeName"`
	WorkCenter      string     `json:"workCenter"`
}

const workOrderColumns = `
	SELECT "IDCode", "WOCodeName", "MachineName", "Assembly", "SubAssembly", "TYPEWO",
	       "WOStatusLocalDescr", "Duration", "SDuration", "Date_T1", "Date_T4",
	       "Maintainers", "comment", "InitialComment", "PlantDepartmentGeographicalCodeName", "WorkCenter"
	FROM "REP_BreakdownReport"`

// LastWorkOrders returns the newest breakdown reports by start time.
func (c *Client) LastWorkOrders(ctx context.Context, limit int) ([]WorkOrder, error) {
	return c.workOrders(ctx, "last work orders",
		workOrderColumns+` WHERE "IsDeleted" = 0 ORDER BY "Date_T1" DESC LIMIT $1`, limit)
}

// ActiveWorkOrders returns the newest breakdown reports that are neither closed nor executed.
func (c *Client) ActiveWorkOrders(ctx context.Context, limit int) ([]WorkOrder, error) {
	return c.workOrders(ctx, "active work orders",
		workOrderColumns+` WHERE "IsDeleted" = 0 AND "WOStatusLocalDescr" NOT IN ('Закрыто', 'Выполнено')
		ORDER BY "Date_T1" DESC LIMIT $1`, limit)
}

// SearchWorkOrders matches keyword case-insensitively against machine,
// assembly, comment and status, longest downtime first.
func (c *Client) SearchWorkOrders(ctx context.Context, keyword string, limit int) ([]WorkOrder, error) {
	pattern := "%" + strings.ToLower(keyword) + "%"
	return c.workOrders(ctx, "search work orders",
		workOrderColumns+` WHERE LOWER("MachineName") LIKE $1 OR LOWER("Assembly") LIKE $1
		OR LOWER("comment") LIKE $1 OR LOWER("WOStatusLocalDescr") LIKE $1
		ORDER BY "Duration" DESC NULLS LAST LIMIT $2`, pattern, limit)
}

func (c *Client) workOrders(ctx context.Context, name, q string, args ...any) ([]WorkOrder, error) {
	out := []WorkOrder{}
	err := c.query(ctx, name, q, func(rows *sql.Rows) error {
		var (
			id, code, machine, assembly, subAssembly, typ, status sql.NullString
			sDuration, maintainers, comment, initial, area, wc    sql.NullString
			duration                                              sql.NullInt64
			t1, t4                                                sql.NullTime
		)
		if err := rows.Scan(&id, &code, &machine, &assembly, &subAssembly, &typ,
			&status, &duration, &sDuration, &t1, &t4,
			&maintainers, &comment, &initial, &area, &wc); err != nil {
			return err
		}
		out = append(out, WorkOrder{
			IDCode:          helper.NullStringToString(id),
			WOCodeName:      helper.NullStringToString(code),
			MachineName:     helper.NullStringToString(machine),
			Assembly:        helper.NullStringToString(assembly),
			SubAssembly:     helper.NullStringToString(subAssembly),
			Type:            helper.NullStringToString(typ),
			Status:          helper.NullStringToString(status),
			DurationSeconds: helper.NullInt64ToPtr(duration),
			SDuration:       helper.NullStringToString(sDuration),
			DateT1:          helper.NullTimeToPtr(t1),
			DateT4:          helper.NullTimeToPtr(t4),
			Maintainers:     helper.NullStringToString(maintainers),
			Comment:         helper.NullStringToString(comment),
			InitialComment:  helper.NullStringToString(initial),
			Area:            helper.NullStringToString(area),
			WorkCenter:      helper.NullStringToString(wc),
		})
		return nil
	}, args...)
	return out, err
}
