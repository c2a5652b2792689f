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
	"strings"

	"github.com/lib/pq"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/config"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
)

// ModulesArea is aggregated over three finishing modules instead of a column filter.
const ModulesArea = "Modules"

var modulesMachines = []string{"Module A-1", "Module A-2", "Module A-3"}

// downtimeQuery sums the downtime minutes of all breakdowns that started or
// ended in [$1, $2). False calls, closed placeholder reports and tag work
// orders are excluded. Rows with a NULL comment never match NOT LIKE and are
// excluded as well.
const downtimeQuery = `
	SELECT SUM("Duration")
	FROM "REP_BreakdownReport"
	WHERE (("SDate_T1" >= $1 AND "SDate_T1" < $2) OR ("SDate_T4" >= $1 AND "SDate_T4" < $2))
	  AND ("Comment" NOT LIKE '%Cause:%Ошибочный запрос%' AND "Comment" NOT LIKE '%Cause:%Ложный вызов%')
	  AND NOT (LENGTH("Comment") BETWEEN 15 AND 19 AND "WOStatusLocalDescr" LIKE '%Закрыто%')
	  AND "TYPEWO" NOT LIKE '%Tag%'`

const causeQuery = `
	SELECT "PlantDepartmentGeographicalCodeName", "MachineName", "Duration", "Comment"
	FROM "REP_BreakdownReport"
	WHERE (("SDate_T1" >= $1 AND "SDate_T1" < $2) OR ("SDate_T4" >= $1 AND "SDate_T4" < $2))
	  AND "Comment" LIKE '%Cause:%'
	ORDER BY "PlantDepartmentGeographicalCodeName", "MachineName"`

const breakdownQuery = `
	SELECT "MachineName", "Assembly", "SubAssembly", "InitialComment", "WOCodeName",
	       "TYPEWO", "Date_T1", "Date_T2", "Date_T3", "Date_T4", "SDuration", "STTR",
	       "SLogisticTimeMin", "WOStatusLocalDescr", "Maintainers", "comment",
	       "PlantDepartmentGeographicalCodeName"
	FROM "REP_BreakdownReport"
	WHERE (("Date_T1" >= $1 AND "Date_T1" < $2) OR ("Date_T4" >= $1 AND "Date_T4" < $2))`

// CauseRow is a breakdown with a "Cause:" tag in its comment.
type CauseRow struct {
	Area     string
	Machine  string
	Downtime float64
	Comment  string
}

// BreakdownRow is one row of the breakdown report as it is transferred.
type BreakdownRow struct {
	MachineName        sql.NullString
	Assembly           sql.NullString
	SubAssembly        sql.NullString
	InitialComment     sql.NullString
	WOCodeName         sql.NullString
	TypeWO             sql.NullString
	DateT1             sql.NullTime
	DateT2             sql.NullTime
	DateT3             sql.NullTime
	DateT4             sql.NullTime
	SDuration          sql.NullString
	STTR               sql.NullString
	SLogisticTimeMin   sql.NullString
	WOStatusLocalDescr sql.NullString
	Maintainers        sql.NullString
	Comment            sql.NullString
	Area               sql.NullString
}

// AreaDowntime returns the downtime minutes of an area in w. The Modules area
// is restricted to its three machines; other areas use their configured column
// filter when one is set.
func (c *Client) AreaDowntime(ctx context.Context, area config.AreaConfig, w shift.Window) (float64, error) {
	var sb strings.Builder
	sb.WriteString(downtimeQuery)
	args := []any{w.Start, w.End}

	switch {
	case area.Name == ModulesArea:
		sb.WriteString(` AND "PlantDepartmentGeographicalCodeName" = 'FinishigArea' AND "MachineName" = ANY($3)`)
		args = append(args, pq.Array(modulesMachines))
	case area.FilterColumn != "" && area.FilterValue != "":
		fmt.Fprintf(&sb, ` AND %s = $3`, pq.QuoteIdentifier(area.FilterColumn))
		args = append(args, area.FilterValue)
	}

	return c.sumDowntime(ctx, "area downtime "+area.Name, sb.String(), args...)
}

// LineDowntime returns the downtime minutes of the machines of a main line in w.
func (c *Client) LineDowntime(ctx context.Context, line config.MainLineConfig, w shift.Window) (float64, error) {
	q := downtimeQuery + ` AND "PlantDepartmentGeographicalCodeName" = $3 AND "MachineName" LIKE $4`
	return c.sumDowntime(ctx, "line downtime "+line.Name, q, w.Start, w.End, line.Area, "%"+line.MachineFilter+"%")
}

func (c *Client) sumDowntime(ctx context.Context, name, q string, args ...any) (float64, error) {
	var sum sql.NullFloat64
	if err := c.queryRow(ctx, name, q, []any{&sum}, args...); err != nil {
		return 0, err
	}
	if !sum.Valid {
		return 0, nil
	}
	return sum.Float64, nil
}

// CauseRows returns the breakdowns in w whose comment carries a cause.
// Rows without area or machine are dropped.
func (c *Client) CauseRows(ctx context.Context, w shift.Window) ([]CauseRow, error) {
	var out []CauseRow
	err := c.query(ctx, "cause rows", causeQuery, func(rows *sql.Rows) error {
		var area, machine, comment sql.NullString
		var downtime sql.NullFloat64
		if err := rows.Scan(&area, &machine, &downtime, &comment); err != nil {
			return err
		}
		if !area.Valid || !machine.Valid {
			return nil
		}
		out = append(out, CauseRow{
			Area:     area.String,
			Machine:  machine.String,
			Downtime: downtime.Float64,
			Comment:  comment.String,
		})
		return nil
	}, w.Start, w.End)
	return out, err
}

// BreakdownRows returns the breakdowns that started or ended in w. With
// tagsOnly only tag work orders are returned.
func (c *Client) BreakdownRows(ctx context.Context, w shift.Window, tagsOnly bool) ([]BreakdownRow, error) {
	q := breakdownQuery
	if tagsOnly {
		q += ` AND "TYPEWO" LIKE '%Tag%'`
	}
	var out []BreakdownRow
	err := c.query(ctx, "breakdown rows", q, func(rows *sql.Rows) error {
		var r BreakdownRow
		if err := rows.Scan(
			&r.MachineName, &r.Assembly, &r.SubAssembly, &r.InitialComment, &r.WOCodeName,
			&r.TypeWO, &r.DateT1, &r.DateT2, &r.DateT3, &r.DateT4, &r.SDuration, &r.STTR,
			&r.SLogisticTimeMin, &r.WOStatusLocalDescr, &r.Maintainers, &r.Comment, &r.Area,
		); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}, w.Start, w.End)
	return out, err
}
