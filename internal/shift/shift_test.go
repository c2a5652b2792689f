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

package shift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func TestIsDayShift(t *testing.T) {
	assert.True(t, IsDayShift(at(15, 10, 30)))
	assert.True(t, IsDayShift(at(15, 8, 0)))
	assert.True(t, IsDayShift(at(15, 19, 59)))

	assert.False(t, IsDayShift(at(15, 22, 30)))
	assert.False(t, IsDayShift(at(15, 20, 0)))
	assert.False(t, IsDayShift(at(16, 7, 30)))
}

func TestCurrent(t *testing.T) {
	t.Run("day", func(t *testing.T) {
		w := Current(at(15, 10, 30))
		assert.Equal(t, at(15, 8, 0), w.Start)
		assert.Equal(t, at(15, 20, 0), w.End)
		assert.Equal(t, int64(150), w.MinutesSinceStart(at(15, 10, 30)))
		assert.Equal(t, int64(720), w.Minutes())
	})
	t.Run("evening", func(t *testing.T) {
		w := Current(at(15, 22, 30))
		assert.Equal(t, at(15, 20, 0), w.Start)
		assert.Equal(t, int64(150), w.MinutesSinceStart(at(15, 22, 30)))
		assert.Equal(t, int64(720), w.Minutes())
	})
	t.Run("early morning belongs to yesterday's night shift", func(t *testing.T) {
		w := Current(at(16, 7, 30))
		assert.Equal(t, at(15, 20, 0), w.Start)
		assert.Equal(t, at(16, 8, 0), w.End)
	})
	t.Run("month boundary", func(t *testing.T) {
		now := time.Date(2024, time.March, 1, 3, 0, 0, 0, time.UTC)
		w := Current(now)
		assert.Equal(t, time.Date(2024, time.February, 29, 20, 0, 0, 0, time.UTC), w.Start)
	})
}

func TestProductionDay(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	for minute := 0; minute < 48*60; minute += 17 {
		now := time.Date(2024, time.June, 10, 0, 0, 0, 0, moscow).Add(time.Duration(minute) * time.Minute)
		w := ProductionDay(now)
		assert.Equal(t, 24*time.Hour, w.End.Sub(w.Start), "now=%s", now)
		assert.Equal(t, 8, w.Start.Hour())
		assert.Equal(t, 0, w.Start.Minute())
		assert.True(t, w.Contains(now), "now=%s window=%v", now, w)

		s := Current(now)
		assert.True(t, s.Start.Hour() == 8 || s.Start.Hour() == 20)
		assert.Equal(t, IsDayShift(now), s.Start.Hour() == 8)
		assert.True(t, s.Contains(now))
	}
}

func TestPreviousProductionDay(t *testing.T) {
	w := PreviousProductionDay(at(16, 9, 12))
	assert.Equal(t, at(15, 8, 0), w.Start)
	assert.Equal(t, at(16, 8, 0), w.End)

	w = PreviousProductionDay(at(16, 6, 0))
	assert.Equal(t, at(15, 8, 0), w.Start)
}

func TestFor(t *testing.T) {
	now := at(15, 22, 0)
	assert.Equal(t, Current(now), For(ModeShift, now))
	assert.Equal(t, ProductionDay(now), For(ModeProductionDay, now))
	assert.Equal(t, ProductionDay(now), For("bogus", now))
}
