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

// Package shift computes the reporting windows used by the sync jobs.
//
// The plant runs two fixed shifts per day: a day shift from 08:00 to 20:00 and a
// night shift from 20:00 to 08:00 the next morning. A production day spans both
// shifts, from 08:00 to 08:00.
package shift

import (
	"time"
)

const (
	// DayShiftStartHour is the first hour of the day shift.
	DayShiftStartHour = 8
	// NightShiftStartHour is the first hour of the night shift.
	NightShiftStartHour = 20
)

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Minutes returns the length of the window in whole minutes.
func (w Window) Minutes() int64 {
	return int64(w.End.Sub(w.Start) / time.Minute)
}

// MinutesSinceStart returns the whole minutes elapsed between Start and now.
func (w Window) MinutesSinceStart(now time.Time) int64 {
	return int64(now.Sub(w.Start) / time.Minute)
}

// IsDayShift reports whether now falls into the day shift [08:00, 20:00).
func IsDayShift(now time.Time) bool {
	h := now.Hour()
	return h >= DayShiftStartHour && h < NightShiftStartHour
}

// Current returns the 12-hour shift that is active at now.
// The night shift that started yesterday at 20:00 is returned for times before 08:00.
func Current(now time.Time) Window {
	var start time.Time
	switch {
	case IsDayShift(now):
		start = atHour(now, DayShiftStartHour)
	case now.Hour() >= NightShiftStartHour:
		start = atHour(now, NightShiftStartHour)
	default:
		start = atHour(now.AddDate(0, 0, -1), NightShiftStartHour)
	}
	return Window{Start: start, End: start.Add(12 * time.Hour)}
}

// ProductionDay returns the 24-hour reporting window [08:00, next day 08:00) containing now.
func ProductionDay(now time.Time) Window {
	start := atHour(now, DayShiftStartHour)
	if now.Hour() < DayShiftStartHour {
		start = atHour(now.AddDate(0, 0, -1), DayShiftStartHour)
	}
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// PreviousProductionDay returns the window from yesterday 08:00 to today 08:00, in the location of now.
// It is the default range of the daily transfer jobs.
func PreviousProductionDay(now time.Time) Window {
	end := atHour(now, DayShiftStartHour)
	return Window{Start: end.AddDate(0, 0, -1), End: end}
}

// Mode selects which window the sync jobs aggregate over.
type Mode string

const (
	ModeProductionDay Mode = "day"
	ModeShift         Mode = "shift"
)

// For returns the window for the given mode. Unknown modes fall back to the production day.
func For(mode Mode, now time.Time) Window {
	if mode == ModeShift {
		return Current(now)
	}
	return ProductionDay(now)
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
