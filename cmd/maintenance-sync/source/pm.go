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
	"fmt"
	"time"

	"github.com/lib/pq"
)

// TimeColumn is a timestamp column of WOM_WorkOrder.
type TimeColumn string

const (
	ActualStartTime       TimeColumn = "ActualStartTime"
	ActualEndTime         TimeColumn = "ActualEndTime"
	ScheduledTime         TimeColumn = "ScheduledTime"
	ScheduledTimeProposed TimeColumn = "ScheduledTimeProposed"
)

// PMWorkOrder is a preventive maintenance work order as it is imported.
type PMWorkOrder struct {
	IDCode                string
	ScheduledTime         sql.NullTime
	ScheduledTimeProposed sql.NullTime
}

const pmWorkOrderQuery = `
	SELECT DISTINCT wo."IDCode", wo."ScheduledTime", wo."ScheduledTimeProposed"
	FROM "WOM_WorkOrder" wo
	WHERE wo."ScheduledTime" >= $1 AND wo."ScheduledTime" < $2
	  AND wo."CodeName" LIKE '%PM%'
	  AND wo."IDCode" IS NOT NULL`

// latestStatusQuery ranks the status transitions of every work order and keeps the newest.
const latestStatusQuery = `
	WITH latest AS (
		SELECT sh."WOM_WorkOrder_IDCode" AS idcode,
		       ws."CodeName" AS code_name,
		       ROW_NUMBER() OVER (PARTITION BY sh."WOM_WorkOrder_IDCode" ORDER BY sh."TransitionDate" DESC) AS rn
		FROM "WOM_StatusHistory" sh
		JOIN "WOM_WorkOrderStatus" ws ON sh."Status" = ws."ID"
		WHERE sh."WOM_WorkOrder_IDCode" = ANY($1)
	)
	SELECT idcode, code_name FROM latest WHERE rn = 1`

const operationCountQuery = `
	SELECT op."WOM_WorkOrder_IDCode", COUNT(*)
	FROM "WOM_WOOperation" op
	WHERE op."WOM_WorkOrder_IDCode" = ANY($1) AND op.%s = 1
	GROUP BY op."WOM_WorkOrder_IDCode"`

// PMWorkOrders returns the PM work orders scheduled in [from, to).
func (c *Client) PMWorkOrders(ctx context.Context, from, to time.Time) ([]PMWorkOrder, error) {
	var out []PMWorkOrder
	err := c.query(ctx, "pm work orders", pmWorkOrderQuery, func(rows *sql.Rows) error {
		var wo PMWorkOrder
		if err := rows.Scan(&wo.IDCode, &wo.ScheduledTime, &wo.ScheduledTimeProposed); err != nil {
			return err
		}
		out = append(out, wo)
		return nil
	}, from, to)
	return out, err
}

// LatestStatuses returns the code name of the newest status transition per
// work order. Work orders without a transition are missing from the map.
func (c *Client) LatestStatuses(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	err := c.lookup(ctx, "latest statuses", latestStatusQuery, ids, func(rows *sql.Rows) error {
		var id string
		var status sql.NullString
		if err := rows.Scan(&id, &status); err != nil {
			return err
		}
		if status.Valid {
			out[id] = status.String
		}
		return nil
	})
	return out, err
}

// WorkOrderTimes returns col of every known work order. A NULL value is kept
// so that it can clear the stored one.
func (c *Client) WorkOrderTimes(ctx context.Context, col TimeColumn, ids []string) (map[string]sql.NullTime, error) {
	q := fmt.Sprintf(`SELECT wo."IDCode", wo.%s FROM "WOM_WorkOrder" wo WHERE wo."IDCode" = ANY($1)`,
		pq.QuoteIdentifier(string(col)))
	out := make(map[string]sql.NullTime, len(ids))
	err := c.lookup(ctx, "work order "+string(col), q, ids, func(rows *sql.Rows) error {
		var id string
		var v sql.NullTime
		if err := rows.Scan(&id, &v); err != nil {
			return err
		}
		out[id] = v
		return nil
	})
	return out, err
}

// WorkOrderComments returns the comment of every known work order.
func (c *Client) WorkOrderComments(ctx context.Context, ids []string) (map[string]sql.NullString, error) {
	return c.lookupStrings(ctx, "work order comments",
		`SELECT wo."IDCode", wo."Comment" FROM "WOM_WorkOrder" wo WHERE wo."IDCode" = ANY($1)`, ids)
}

// Maintainers returns the booked maintainers of every known work order.
func (c *Client) Maintainers(ctx context.Context, ids []string) (map[string]sql.NullString, error) {
	return c.lookupStrings(ctx, "maintainers",
		`SELECT swt."IDCode", swt."Maintainers" FROM "SYS_Flat_WOWorkingTime" swt WHERE swt."IDCode" = ANY($1)`, ids)
}

// EstimatedDurations returns the planned duration in minutes of every known work order.
func (c *Client) EstimatedDurations(ctx context.Context, ids []string) (map[string]sql.NullInt64, error) {
	out := make(map[string]sql.NullInt64, len(ids))
	err := c.lookup(ctx, "estimated durations",
		`SELECT wo."IDCode", wo."Duration" FROM "WOM_WorkOrder" wo WHERE wo."IDCode" = ANY($1)`, ids,
		func(rows *sql.Rows) error {
			var id string
			var v sql.NullInt64
			if err := rows.Scan(&id, &v); err != nil {
				return err
			}
			out[id] = v
			return nil
		})
	return out, err
}

// OperationCounts counts the done (or not done) operations per work order.
// Work orders without such operations are missing from the map.
func (c *Client) OperationCounts(ctx context.Context, ids []string, done bool) (map[string]int64, error) {
	flag := `"IsNotDone"`
	if done {
		flag = `"IsDone"`
	}
	out := make(map[string]int64, len(ids))
	err := c.lookup(ctx, "operation counts", fmt.Sprintf(operationCountQuery, flag), ids, func(rows *sql.Rows) error {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		out[id] = n
		return nil
	})
	return out, err
}

func (c *Client) lookupStrings(ctx context.Context, name, q string, ids []string) (map[string]sql.NullString, error) {
	out := make(map[string]sql.NullString, len(ids))
	err := c.lookup(ctx, name, q, ids, func(rows *sql.Rows) error {
		var id string
		var v sql.NullString
		if err := rows.Scan(&id, &v); err != nil {
			return err
		}
		out[id] = v
		return nil
	})
	return out, err
}

// lookup runs q once per BatchSize identifiers, passing them as $1.
func (c *Client) lookup(ctx context.Context, name, q string, ids []string, scan func(*sql.Rows) error) error {
	for _, batch := range chunk(ids, BatchSize) {
		if err := c.query(ctx, name, q, scan, pq.Array(batch)); err != nil {
			return err
		}
	}
	return nil
}
