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

// Package scheduler runs named cron jobs on a bounded worker pool. Each job name
// holds a lock while it runs, so a manual trigger and the scheduled run of the
// same job never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/EagleChen/mapmutex"
	"github.com/robfig/cron/v3"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy means a run of the same job is already in progress.
	ErrBusy = errors.New("job is already running")
	// ErrStopped means the scheduler no longer accepts work.
	ErrStopped = errors.New("scheduler is stopped")
	// ErrUnknownJob means no job with that name was registered.
	ErrUnknownJob = errors.New("unknown job")
)

// Func is the body of a job.
type Func func(ctx context.Context) error

type Job struct {
	Name    string
	Spec    string
	Enabled bool
	Run     Func
}

type Scheduler struct {
	cron   *cron.Cron
	sem    *semaphore.Weighted
	locks  *mapmutex.Mutex
	logger *zap.SugaredLogger

	ctx    context.Context //nolint:containedctx // cancelled on Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]Job
	stopped bool
}

// New creates a scheduler evaluating cron specs (with seconds) in loc and
// running at most poolSize jobs at the same time.
func New(loc *time.Location, poolSize int) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if poolSize <= 0 {
		poolSize = 5
	}
	logger := zap.S().Named("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger}),
		),
		sem:    semaphore.NewWeighted(int64(poolSize)),
		locks:  mapmutex.NewCustomizedMapMutex(1, 1000000, 10, 1.1, 0.2),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// Add registers a job. Disabled jobs stay known (for manual triggers) but are
// not put on the cron table.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("job needs a name and a function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("job %q registered twice", j.Name)
	}

	if j.Enabled {
		name := j.Name
		if _, err := s.cron.AddFunc(j.Spec, func() { s.scheduled(name) }); err != nil {
			return fmt.Errorf("invalid schedule %q for job %q: %w", j.Spec, j.Name, err)
		}
		s.logger.Infow("Scheduled job", "job", j.Name, "spec", j.Spec)
	} else {
		s.logger.Infow("Job disabled, only manual runs possible", "job", j.Name)
	}
	s.jobs[j.Name] = j
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Trigger runs the named job in the background with fn instead of its
// registered body, if given. It fails fast with ErrBusy when the job is running.
func (s *Scheduler) Trigger(name string, fn Func) error {
	j, err := s.admit(name)
	if err != nil {
		return err
	}
	if fn == nil {
		fn = j.Run
	}
	if !s.locks.TryLock(name) {
		s.wg.Done()
		return ErrBusy
	}
	go func() {
		defer s.wg.Done()
		defer s.locks.Unlock(name)
		s.execute(name, fn)
	}()
	return nil
}

func (s *Scheduler) scheduled(name string) {
	j, err := s.admit(name)
	if err != nil {
		return
	}
	defer s.wg.Done()
	if !s.locks.TryLock(name) {
		s.logger.Warnw("Skipping scheduled run, previous run still active", "job", name)
		return
	}
	defer s.locks.Unlock(name)
	s.execute(name, j.Run)
}

// admit counts a run in the drain group unless the scheduler is stopped. The
// caller must call wg.Done when err is nil.
func (s *Scheduler) admit(name string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return Job{}, ErrStopped
	}
	j, ok := s.jobs[name]
	if !ok {
		return Job{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	s.wg.Add(1)
	return j, nil
}

func (s *Scheduler) execute(name string, fn Func) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.logger.Warnw("Dropping run, scheduler is stopping", "job", name)
		return
	}
	defer s.sem.Release(1)

	started := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Errorw("Job panicked", "job", name, "panic", r, "stack", string(debug.Stack()))
		}
		metrics.ObserveJob(name, started, err)
	}()

	s.logger.Infow("Job started", "job", name)
	err = fn(s.ctx)
	if err != nil {
		s.logger.Errorw("Job failed", "job", name, "error", err, "duration", time.Since(started))
		return
	}
	s.logger.Infow("Job finished", "job", name, "duration", time.Since(started))
}

// Stop removes all cron entries and waits for running jobs to finish. If ctx
// expires first, running jobs are cancelled and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Errorw("Jobs did not drain in time", "error", ctx.Err())
		return ctx.Err()
	}
}

// cronLogger forwards cron's internal logs to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
