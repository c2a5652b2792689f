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

// Package kpi holds the pure metric formulas used by the status snapshots.
// Nullable inputs and outputs are *float64; nil means "no data" and is stored as NULL.
package kpi

import (
	"math"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
)

const (
	MinutesPerDay   = 24 * 60
	PollingInterval = 3
)

// Round2 rounds half-up to two decimal places.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// NewWorkingTime rescales a full-day working time to one polling interval:
// round(workingTime/1440*3, 2).
func NewWorkingTime(workingTime *float64) float64 {
	if workingTime == nil || *workingTime == 0 {
		return 0
	}
	return Round2(*workingTime / MinutesPerDay * PollingInterval)
}

// DowntimePercentage returns round(downtime/workingTime*100, 2).
// A nil or zero downtime yields 0. A nil or zero working time yields nil.
func DowntimePercentage(downtime, workingTime *float64) *float64 {
	if downtime == nil || *downtime == 0 {
		return Float(0)
	}
	if workingTime == nil || *workingTime == 0 {
		return nil
	}
	return Float(Round2(*downtime / *workingTime * 100))
}

// Availability returns round(100-downtimePercentage, 2), passing nil through.
func Availability(downtimePercentage *float64) *float64 {
	if downtimePercentage == nil {
		return nil
	}
	return Float(Round2(100 - *downtimePercentage))
}

// AdjustedWorkingTime scales a per-machine working time by the number of machines.
func AdjustedWorkingTime(base, count *float64) float64 {
	if base == nil {
		return 0
	}
	if count == nil || *count == 0 {
		return *base
	}
	return *base * *count
}

// Incremental estimates the share of a full working time that has elapsed at now.
type Incremental func(full float64, w shift.Window, now time.Time) float64

// LinearFraction grows full proportionally to the minutes elapsed in w and
// returns full once the window has closed.
func LinearFraction(full float64, w shift.Window, now time.Time) float64 {
	if full <= 0 {
		return 0
	}
	total := w.Minutes()
	elapsed := w.MinutesSinceStart(now)
	if total <= 0 || elapsed >= total {
		return full
	}
	if elapsed <= 0 {
		return 0
	}
	return Round2(full * float64(elapsed) / float64(total))
}

// IntervalSteps grows full in 3-minute steps, counting the running interval as
// already elapsed. Outside of w it returns full; inside it never exceeds full.
func IntervalSteps(full float64, w shift.Window, now time.Time) float64 {
	if full <= 0 {
		return 0
	}
	if now.Before(w.Start) || now.After(w.End) {
		return full
	}
	intervals := w.Minutes() / PollingInterval
	if intervals <= 0 {
		return full
	}
	steps := w.MinutesSinceStart(now)/PollingInterval + 1
	v := Round2(full / float64(intervals) * float64(steps))
	return math.Min(v, full)
}
