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
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/classify"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
)

// Record maps a breakdown report row to a maintenance record. NULL texts
// become empty strings and unparsable durations become NULL.
func Record(r source.BreakdownRow, createdAt time.Time) postgresql.MaintenanceRecord {
	return postgresql.MaintenanceRecord{
		MachineName:     helper.NullStringToString(r.MachineName),
		MechanismNode:   helper.NullStringToString(r.Assembly),
		AdditionalKit:   helper.NullStringToString(r.SubAssembly),
		Description:     helper.NullStringToString(r.InitialComment),
		Code:            helper.NullStringToString(r.WOCodeName),
		HpBd:            helper.NullStringToString(r.TypeWO),
		StartBDT1:       helper.NullTimeToPtr(r.DateT1),
		StartMaintT2:    helper.NullTimeToPtr(r.DateT2),
		StopMaintT3:     helper.NullTimeToPtr(r.DateT3),
		StopBDT4:        helper.NullTimeToPtr(r.DateT4),
		MachineDowntime: clock("SDuration", r.SDuration),
		TTR:             clock("STTR", r.STTR),
		T2MinusT1:       clock("SLogisticTimeMin", r.SLogisticTimeMin),
		Status:          helper.NullStringToString(r.WOStatusLocalDescr),
		Maintainers:     helper.NullStringToString(r.Maintainers),
		Comments:        helper.NullStringToString(r.Comment),
		Area:            helper.NullStringToString(r.Area),
		CreatedAt:       createdAt,
		SourceHash:      SourceHash(r),
	}
}

func clock(field string, v sql.NullString) pgtype.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return pgtype.Time{}
	}
	d, ok := classify.ParseClock(v.String)
	if !ok {
		zap.S().Warnf("Unparsable %s value %q, storing NULL", field, v.String)
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}

// SourceHash identifies a breakdown across transfers: the same work order,
// machine, type and breakdown times always hash to the same value.
func SourceHash(r source.BreakdownRow) string {
	h := xxh3.New()
	for _, part := range []string{
		r.WOCodeName.String,
		r.MachineName.String,
		r.TypeWO.String,
		hashTime(r.DateT1),
		hashTime(r.DateT4),
	} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum128()
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], sum.Hi)
	binary.BigEndian.PutUint64(b[8:], sum.Lo)
	return hex.EncodeToString(b)
}

func hashTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}

// Excluded reports whether the cleanup pass would delete rec: false calls,
// near-empty comments on finished work orders, tag work orders and work
// orders still in progress.
func Excluded(rec postgresql.MaintenanceRecord) bool {
	if i := strings.Index(rec.Comments, causeTag); i >= 0 {
		rest := rec.Comments[i+len(causeTag):]
		if strings.Contains(rest, "Ошибочный запрос") || strings.Contains(rest, "Ложный вызов") {
			return true
		}
	}
	if n := utf8.RuneCountInString(rec.Comments); n >= 15 && n <= 19 &&
		(strings.Contains(rec.Status, "Закрыто") || strings.Contains(rec.Status, "Выполнено")) {
		return true
	}
	return strings.Contains(rec.HpBd, "Tag") || strings.Contains(rec.Status, "В исполнении")
}
