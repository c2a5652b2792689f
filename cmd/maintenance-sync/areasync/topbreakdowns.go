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

package areasync

import (
	"context"
	"strings"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/classify"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
)

// NoCause is stored when none of the top machine's breakdowns named a cause.
const NoCause = "Причина не указана"

type machineTotal struct {
	minutes float64
	causes  []string
}

// SyncTopBreakdowns replaces the top breakdown table with the machine that
// had the most downtime in each area during the current window.
func (j *Job) SyncTopBreakdowns(ctx context.Context) (int, error) {
	w := shift.For(j.mode, j.clock())
	rows, err := j.source.CauseRows(ctx, w)
	if err != nil {
		return 0, err
	}
	top := TopBreakdowns(rows)
	if err = j.store.ReplaceTopBreakdowns(ctx, top); err != nil {
		return 0, err
	}
	zap.S().Infow("Top breakdowns replaced", "rows", len(top), "source_rows", len(rows))
	return len(top), nil
}

// TopBreakdowns picks per area the machine with the strictly largest positive
// total downtime. Ties go to the machine that sorts first. Areas are returned
// in alphabetical order.
func TopBreakdowns(rows []source.CauseRow) []postgresql.TopBreakdown {
	byArea := make(map[string]map[string]*machineTotal)
	for _, r := range rows {
		machines, ok := byArea[r.Area]
		if !ok {
			machines = make(map[string]*machineTotal)
			byArea[r.Area] = machines
		}
		m, ok := machines[r.Machine]
		if !ok {
			m = &machineTotal{}
			machines[r.Machine] = m
		}
		m.minutes += r.Downtime
		if cause := CauseOf(r.Comment); cause != "" && !slices.Contains(m.causes, cause) {
			m.causes = append(m.causes, cause)
		}
	}

	areas := maps.Keys(byArea)
	slices.Sort(areas)

	out := make([]postgresql.TopBreakdown, 0, len(areas))
	for _, area := range areas {
		machines := byArea[area]
		names := maps.Keys(machines)
		slices.Sort(names)

		totals := make([]float64, len(names))
		for i, n := range names {
			totals[i] = machines[n].minutes
		}
		idx := floats.MaxIdx(totals)
		if totals[idx] <= 0 {
			continue
		}

		best := machines[names[idx]]
		cause := NoCause
		if len(best.causes) > 0 {
			cause = strings.Join(best.causes, ", ")
		}
		out = append(out, postgresql.TopBreakdown{
			Area:     area,
			Machine:  names[idx],
			Downtime: classify.MinutesToClock(best.minutes),
			Cause:    cause,
		})
	}
	return out
}

// CauseOf returns the text after the first "Cause:" up to the first '.',
// trimmed. It is empty when the comment has no cause.
func CauseOf(comment string) string {
	_, after, found := strings.Cut(comment, "Cause:")
	if !found {
		return ""
	}
	if dot := strings.IndexByte(after, '.'); dot >= 0 {
		after = after[:dot]
	}
	return strings.TrimSpace(after)
}
