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

// Package tracker remembers when each daily job last completed. The state is
// process-local; a restart resets it.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Job types tracked for staleness.
const (
	JobData = "data"
	JobTag  = "tag"
	JobPM   = "pm"
)

var ErrUnknownJob = errors.New("unknown job type")

// Run is the last successful completion of a job.
type Run struct {
	Job         string    `json:"job"`
	LastPlanned time.Time `json:"lastPlannedDate"`
	LastActual  time.Time `json:"lastActualRunDate"`
}

type Tracker struct {
	mu   sync.RWMutex
	runs map[string]Run
	loc  *time.Location
	now  func() time.Time
}

// New returns a tracker that evaluates "today" in loc.
func New(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{
		runs: make(map[string]Run),
		loc:  loc,
		now:  time.Now,
	}
}

// Record stores a successful completion of job. planned is the moment the run
// was scheduled for (or the end of a manually requested window).
func (t *Tracker) Record(job string, planned time.Time) error {
	if !Known(job) {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[job] = Run{Job: job, LastPlanned: planned, LastActual: t.now()}
	return nil
}

func (t *Tracker) Get(job string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[job]
	return r, ok
}

// Snapshot returns all runs ordered by job type.
func (t *Tracker) Snapshot() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := maps.Keys(t.runs)
	slices.Sort(keys)
	out := make([]Run, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.runs[k])
	}
	return out
}

// DidRunToday reports whether job completed on the current calendar day.
func (t *Tracker) DidRunToday(job string) bool {
	r, ok := t.Get(job)
	if !ok {
		return false
	}
	y1, m1, d1 := r.LastActual.In(t.loc).Date()
	y2, m2, d2 := t.now().In(t.loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func Known(job string) bool {
	switch job {
	case JobData, JobTag, JobPM:
		return true
	}
	return false
}
