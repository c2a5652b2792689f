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
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

const (
	TableMaintenance    = "equipment_maintenance_records"
	TableTagMaintenance = "tag_maintenance_records"
	TablePM             = "pm_maintenance_records"

	// UpdateChunkSize is the number of rows updated per transaction.
	UpdateChunkSize = 1000
	insertChunkSize = 500
)

// MaintenanceRecord is a transferred breakdown before derivation.
type MaintenanceRecord struct {
	MachineName     string
	MechanismNode   string
	AdditionalKit   string
	Description     string
	Code            string
	HpBd            string
	StartBDT1       *time.Time
	StartMaintT2    *time.Time
	StopMaintT3     *time.Time
	StopBDT4        *time.Time
	MachineDowntime pgtype.Time
	TTR             pgtype.Time
	T2MinusT1       pgtype.Time
	Status          string
	Maintainers     string
	Comments        string
	Area            string
	CreatedAt       time.Time
	SourceHash      string
}

func (r MaintenanceRecord) args() []any {
	return []any{
		r.MachineName, r.MechanismNode, r.AdditionalKit, r.Description, r.Code, r.HpBd,
		r.StartBDT1, r.StartMaintT2, r.StopMaintT3, r.StopBDT4,
		r.MachineDowntime, r.TTR, r.T2MinusT1,
		r.Status, r.Maintainers, r.Comments, r.Area, r.CreatedAt, r.SourceHash,
	}
}

// DerivationRow holds the inputs and outputs of the row-local derivation passes.
type DerivationRow struct {
	ID            int64
	Comments      *string
	StartBD       *time.Time
	StopBD        *time.Time
	Cause         *string
	Staff         *string
	Date          *string
	WeekNumber    *string
	MonthName     *string
	Shift         *string
	ProductionDay *string
}

// IDValue is a new column value for the row with the given id.
type IDValue struct {
	ID    int64
	Value any
}

func recordTable(table string) (string, error) {
	switch table {
	case TableMaintenance, TableTagMaintenance, TablePM:
		return pgx.Identifier{table}.Sanitize(), nil
	}
	return "", fmt.Errorf("unknown record table %q", table)
}

// InsertMaintenanceRecords inserts recs into table, skipping rows whose
// source_hash is already present. Records are written in chunks; when a chunk
// fails its rows are retried one by one so that a single bad record only
// loses itself.
func (c *Connection) InsertMaintenanceRecords(ctx context.Context, table string, recs []MaintenanceRecord) (inserted int64, failed int, err error) {
	t, err := recordTable(table)
	if err != nil {
		return 0, 0, err
	}
	stmt := `INSERT INTO ` + t + ` (
			machine_name, mechanism_node, additional_kit, description, code,
			hp_bd, start_bd_t1, start_maint_t2, stop_maint_t3, stop_bd_t4,
			machine_downtime, ttr, t2_minus_t1, status, maintainers, comments, area,
			created_at, source_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (source_hash) DO NOTHING`

	for start := 0; start < len(recs); start += insertChunkSize {
		if err = ctx.Err(); err != nil {
			return inserted, failed, err
		}
		chunk := recs[start:min(start+insertChunkSize, len(recs))]
		n, cErr := c.InTx(ctx, "insert "+table, func(ctx context.Context, tx pgx.Tx) (int64, error) {
			var n int64
			for _, r := range chunk {
				tag, err := tx.Exec(ctx, stmt, r.args()...)
				if err != nil {
					return 0, err
				}
				n += tag.RowsAffected()
			}
			return n, nil
		})
		if cErr == nil {
			inserted += n
			continue
		}

		zap.S().Warnw("Chunk insert failed, inserting rows one by one", "table", table, "rows", len(chunk), "error", cErr)
		for _, r := range chunk {
			n, rErr := c.ExecRetry(ctx, "insert "+table, stmt, r.args()...)
			if rErr != nil {
				failed++
				zap.S().Errorw("Failed to insert record", "table", table, "machine", r.MachineName, "hash", r.SourceHash, "error", rErr)
				continue
			}
			inserted += n
		}
	}
	metrics.AddRowsWritten(jobOf(table), table, inserted)
	return inserted, failed, nil
}

// DerivationRows loads every row of table that still misses a derived field.
func (c *Connection) DerivationRows(ctx context.Context, table string, from, to time.Time) ([]DerivationRow, error) {
	t, err := recordTable(table)
	if err != nil {
		return nil, err
	}
	q := `SELECT id, comments, start_bd_t1, stop_bd_t4, cause, staff, date, week_number, month_name, shift, production_day
		FROM ` + t + `
		WHERE ((start_bd_t1 >= $1 AND start_bd_t1 < $2) OR (stop_bd_t4 >= $1 AND stop_bd_t4 < $2))
		  AND (COALESCE(cause, '') = '' OR COALESCE(staff, '') = '' OR COALESCE(date, '') = ''
		   OR COALESCE(week_number, '') = '' OR COALESCE(month_name, '') = ''
		   OR COALESCE(shift, '') = '' OR COALESCE(production_day, '') = '')
		ORDER BY id`

	rows, err := c.db.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DerivationRow
	for rows.Next() {
		var r DerivationRow
		if err = rows.Scan(&r.ID, &r.Comments, &r.StartBD, &r.StopBD, &r.Cause, &r.Staff, &r.Date,
			&r.WeekNumber, &r.MonthName, &r.Shift, &r.ProductionDay); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateByID sets column for every given row. Updates are sorted by id and
// written in chunks of UpdateChunkSize, each in its own retried transaction,
// so that concurrent writers always lock rows in the same order. Chunks
// written before a failure stay committed.
func (c *Connection) UpdateByID(ctx context.Context, name, table, column string, updates []IDValue) (int64, error) {
	t, err := recordTable(table)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	stmt := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, t, pgx.Identifier{column}.Sanitize())

	sorted := make([]IDValue, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var total int64
	for start := 0; start < len(sorted); start += UpdateChunkSize {
		chunk := sorted[start:min(start+UpdateChunkSize, len(sorted))]
		n, err := c.InTx(ctx, name, func(ctx context.Context, tx pgx.Tx) (int64, error) {
			var n int64
			for _, u := range chunk {
				tag, err := tx.Exec(ctx, stmt, u.Value, u.ID)
				if err != nil {
					return 0, err
				}
				n += tag.RowsAffected()
			}
			return n, nil
		})
		if err != nil {
			return total, fmt.Errorf("%s: chunk %d: %w", name, start/UpdateChunkSize+1, err)
		}
		total += n
	}
	metrics.AddRowsWritten(jobOf(table), table, total)
	return total, nil
}

// Floats returns the single float column of q.
func (c *Connection) Floats(ctx context.Context, q string, args ...any) ([]float64, error) {
	rows, err := c.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err = rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func jobOf(table string) string {
	switch {
	case table == TablePM:
		return metrics.JobPM
	case strings.HasPrefix(table, "tag_"):
		return metrics.JobTagTransfer
	default:
		return metrics.JobTransfer
	}
}
