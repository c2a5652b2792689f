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

// Package classify holds text classification and duration formatting helpers
// for CMMS work-order data.
package classify

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type DowntimeType string

const (
	Electrical DowntimeType = "electrical"
	Electronic DowntimeType = "electronic"
	Mechanical DowntimeType = "mechanical"
	Unknown    DowntimeType = "unknown"
)

// CMMS spellings of the maintenance disciplines, as they appear in the source.
const (
	electricalTag = "E/|EKTPuKA"
	electronicTag = "E/|EKTPOHuKA"
	mechanicalTag = "MEXAHuKA"
)

// Downtime classifies a downtime description for colour coding. The checks run
// in order, so a text mentioning both disciplines counts as electrical.
func Downtime(desc string) DowntimeType {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return Unknown
	}
	lower := strings.ToLower(desc)

	switch {
	case strings.Contains(desc, electricalTag),
		strings.Contains(lower, "electrical"),
		strings.Contains(lower, "электрика"),
		strings.Contains(lower, "e/|електрuка"):
		return Electrical
	case strings.Contains(desc, electronicTag),
		strings.Contains(lower, "electronic"),
		strings.Contains(lower, "электроника"),
		strings.Contains(lower, "e/|електронuка"):
		return Electronic
	case strings.Contains(desc, mechanicalTag),
		strings.Contains(lower, "mechanical"),
		strings.Contains(lower, "механuка"),
		strings.Contains(lower, "механика"):
		return Mechanical
	}
	return Unknown
}

// FormatSeconds renders a duration in seconds as "H.MM:SS".
func FormatSeconds(seconds *int64) string {
	if seconds == nil {
		return "0.00:00"
	}
	s := *seconds
	return fmt.Sprintf("%d.%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// MinutesToClock renders fractional minutes as "HH:MM:SS".
func MinutesToClock(minutes float64) string {
	h := int64(math.Floor(minutes / 60))
	m := int64(math.Floor(math.Mod(minutes, 60)))
	s := int64(math.Floor(math.Mod(minutes*60, 60)))
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseClock parses a CMMS duration string into a time of day. Accepted forms
// are "H:M", "H:M:S" (seconds may carry a fraction, which is dropped) and a
// bare number of minutes. Values that do not fit a day are rejected.
func ParseClock(raw string) (time.Duration, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if s == "" {
		return 0, false
	}

	var h, m, sec int64
	var err error
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return 0, false
		}
		if h, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
			return 0, false
		}
		if m, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
			return 0, false
		}
		if len(parts) == 3 {
			f, fErr := strconv.ParseFloat(parts[2], 64)
			if fErr != nil {
				return 0, false
			}
			sec = int64(f)
		}
	} else {
		total, pErr := strconv.ParseInt(s, 10, 64)
		if pErr != nil {
			return 0, false
		}
		h, m = total/60, total%60
	}

	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, true
}

// FormatClock renders a time of day as "HH:MM:SS".
func FormatClock(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}
