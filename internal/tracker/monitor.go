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

package tracker

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// Monitor checks once per day that the daily jobs have completed.
type Monitor struct {
	tracker *Tracker
	jobs    []string
	logger  *zap.SugaredLogger

	mu        sync.RWMutex
	lastCheck time.Time
	stale     []string
}

// NewMonitor watches the given job types, or data and tag when none are given.
func NewMonitor(t *Tracker, jobs ...string) *Monitor {
	if len(jobs) == 0 {
		jobs = []string{JobData, JobTag}
	}
	return &Monitor{
		tracker: t,
		jobs:    jobs,
		logger:  zap.S().Named("staleness"),
	}
}

// Check logs a warning for every watched job without a run today and returns
// those job types.
func (m *Monitor) Check() []string {
	var stale []string
	for _, job := range m.jobs {
		ok := m.tracker.DidRunToday(job)
		metrics.SetJobStale(job, !ok)
		if ok {
			r, _ := m.tracker.Get(job)
			m.logger.Infow("Daily job completed", "job", job, "lastActualRunDate", r.LastActual)
			continue
		}
		stale = append(stale, job)
		if r, seen := m.tracker.Get(job); seen {
			m.logger.Warnw("Daily job has not run today",
				"job", job,
				"lastPlannedDate", r.LastPlanned,
				"lastActualRunDate", r.LastActual,
			)
		} else {
			m.logger.Warnw("Daily job has not run since process start", "job", job)
		}
	}

	m.mu.Lock()
	m.lastCheck = m.tracker.now()
	m.stale = stale
	m.mu.Unlock()
	return stale
}

// LastResult returns the time and stale jobs of the most recent check.
func (m *Monitor) LastResult() (time.Time, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck, append([]string(nil), m.stale...)
}
