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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
)

// PMImport is a preventive maintenance work order that is not yet reported.
type PMImport struct {
	IDCode                string
	ScheduledDate         *time.Time
	ScheduledProposedDate *time.Time
}

// PMRow is the stored value of one column of a PM record.
type PMRow struct {
	ID     int64
	IDCode string
	Value  any
}

// PMFinalStatuses are never overwritten by the status pass.
var PMFinalStatuses = []string{"Закрыто", "Выполнено"}

const pmRefDate = `COALESCE(scheduled_date, scheduled_proposed_date, date_start_work_order, date_stop_work_order)`

// PMIDCodes returns every work order id already present in the PM table.
func (c *Connection) PMIDCodes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.db.Query(ctx, `SELECT DISTINCT idcode FROM pm_maintenance_records WHERE idcode IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// InsertPMRecords adds new PM work orders.
func (c *Connection) InsertPMRecords(ctx context.Context, recs []PMImport) (int64, error) {
	const stmt = `INSERT INTO pm_maintenance_records (idcode, scheduled_date, scheduled_proposed_date) VALUES ($1, $2, $3)`

	var total int64
	for start := 0; start < len(recs); start += insertChunkSize {
		chunk := recs[start:min(start+insertChunkSize, len(recs))]
		n, err := c.InTx(ctx, "insert pm records", func(ctx context.Context, tx pgx.Tx) (int64, error) {
			var n int64
			for _, r := range chunk {
				tag, err := tx.Exec(ctx, stmt, r.IDCode, r.ScheduledDate, r.ScheduledProposedDate)
				if err != nil {
					return 0, fmt.Errorf("inserting %s: %w", r.IDCode, err)
				}
				n += tag.RowsAffected()
			}
			return n, nil
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	metrics.AddRowsWritten(metrics.JobPM, TablePM, total)
	return total, nil
}

// PMColumn loads column of every PM record whose reference date lies in
// [from, to). With openOnly set, records in a final status are skipped.
func (c *Connection) PMColumn(ctx context.Context, column string, from, to time.Time, openOnly bool) ([]PMRow, error) {
	q := fmt.Sprintf(`SELECT id, idcode, %s FROM pm_maintenance_records
		WHERE idcode IS NOT NULL AND %s >= $1 AND %s < $2`, pgx.Identifier{column}.Sanitize(), pmRefDate, pmRefDate)
	args := []any{from, to}
	if openOnly {
		q += ` AND (status IS NULL OR NOT (status = ANY($3)))`
		args = append(args, PMFinalStatuses)
	}
	q += ` ORDER BY id`

	rows, err := c.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PMRow
	for rows.Next() {
		var (
			id     int64
			idCode string
			v      any
		)
		if err = rows.Scan(&id, &idCode, &v); err != nil {
			return nil, err
		}
		out = append(out, PMRow{ID: id, IDCode: idCode, Value: normalizeValue(v)})
	}
	return out, rows.Err()
}

// PMPeriodClause restricts a statement on the PM table to the update period,
// with the bounds passed as $first and $first+1.
func PMPeriodClause(first int) string {
	return fmt.Sprintf(`%s >= $%d AND %s < $%d`, pmRefDate, first, pmRefDate, first+1)
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
