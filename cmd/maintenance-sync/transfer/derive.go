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
	"strconv"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
)

const (
	causeTag = "Cause:"

	// ShiftUndetermined is stored when no shift can be derived from the start time.
	ShiftUndetermined = "Не определено"
)

var monthNames = [...]string{
	"Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

var causeNoise = strings.NewReplacer("#", "", causeTag, "", ";", "", "---", "")

// ExtractCause returns the text after the first "Cause:" tag up to the next
// '[' or ']' or the end of the comment.
func ExtractCause(comment string) (string, bool) {
	i := strings.Index(comment, causeTag)
	if i < 0 {
		return "", false
	}
	rest := comment[i+len(causeTag):]
	if j := strings.IndexAny(rest, "[]"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// CleanCause strips the markup the CMMS leaves in cause texts.
func CleanCause(cause string) string {
	return causeNoise.Replace(cause)
}

// ExtractStaff returns the person named in the last parentheses before the
// first ']' of a comment like "[12.03 Ivanov (Electrics)] ...".
func ExtractStaff(comment string) (string, bool) {
	if !strings.Contains(comment, "(") || !strings.Contains(comment, ")") || !hasBracketPair(comment) {
		return "", false
	}
	s, _, _ := strings.Cut(comment, "]")
	if i := strings.LastIndex(s, "("); i >= 0 {
		s = s[i+1:]
	}
	s, _, _ = strings.Cut(s, ")")
	return strings.TrimSpace(s), true
}

func hasBracketPair(s string) bool {
	i := strings.Index(s, "[")
	return i >= 0 && strings.Contains(s[i+1:], "]")
}

// ShiftOf returns "1" for the day shift (08:00-19:59) and "2" for the night shift.
func ShiftOf(t time.Time) string {
	switch h := t.Hour(); {
	case h >= shift.DayShiftStartHour && h < shift.NightShiftStartHour:
		return "1"
	case h >= 0 && h < 24:
		return "2"
	default:
		return ShiftUndetermined
	}
}

// WeekNumber returns the ISO week of a "dd.MM.yyyy" date.
func WeekNumber(date string) (string, bool) {
	d, err := time.Parse(helper.DateLayout, date)
	if err != nil {
		return "", false
	}
	_, week := d.ISOWeek()
	return strconv.Itoa(week), true
}

// MonthName returns the Russian month name of a "dd.MM.yyyy" date.
func MonthName(date string) (string, bool) {
	d, err := time.Parse(helper.DateLayout, date)
	if err != nil {
		return "", false
	}
	return monthNames[d.Month()-1], true
}

// ProductionDay returns the production day a breakdown belongs to. Times
// before 08:00 count to the previous day; a breakdown that ended on a later
// production day than it started belongs to the later one.
func ProductionDay(start time.Time, stop *time.Time) string {
	day := shift.ProductionDay(start).Start
	if stop != nil {
		if end := shift.ProductionDay(*stop).Start; end.After(day) {
			day = end
		}
	}
	return day.Format(helper.DateLayout)
}
