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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/pmsync"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/transfer"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/scheduler"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// TimeLayout is the format of the start and end parameters of manual triggers.
const TimeLayout = "2006-01-02T15:04:05"

// Triggerer starts a registered job in the background.
type Triggerer interface {
	Trigger(name string, fn scheduler.Func) error
}

// Transfers runs the daily transfer for an arbitrary window.
type Transfers interface {
	Run(ctx context.Context, kind transfer.Kind, w shift.Window) (transfer.Report, error)
}

// PMSync runs the preventive maintenance sync.
type PMSync interface {
	Run(ctx context.Context) (pmsync.Report, error)
}

// Runs exposes the last successful runs.
type Runs interface {
	Snapshot() []tracker.Run
}

// Staleness exposes the last staleness check.
type Staleness interface {
	LastResult() (time.Time, []string)
}

type Options struct {
	Scheduler Triggerer
	Transfers Transfers
	PM        PMSync
	Runs      Runs
	Staleness Staleness
	// WorkOrders enables the work order browser when set.
	WorkOrders WorkOrderSource
	Location   *time.Location
	Now        func() time.Time
}

type server struct {
	opts Options
}

// NewRouter builds the HTTP API.
func NewRouter(opts Options) *gin.Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &server{opts: opts}

	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	t := router.Group("/transfer")
	{
		t.POST("/bd", s.transferHandler(transfer.Breakdowns))
		t.POST("/tag", s.transferHandler(transfer.Tags))
		t.POST("/pm", s.pmHandler)
		t.GET("/status", s.statusHandler)
	}

	if opts.WorkOrders != nil {
		newWorkOrderBrowser(opts.WorkOrders).register(router.Group("/api/work-orders"))
	}
	return router
}

type triggerResponse struct {
	Job   string     `json:"job"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (s *server) transferHandler(kind transfer.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := s.window(c)
		if err != nil {
			handleInvalidInputError(c, err)
			return
		}
		err = s.opts.Scheduler.Trigger(kind.Job, func(ctx context.Context) error {
			report, err := s.opts.Transfers.Run(ctx, kind, w)
			zap.S().Infow("Manual transfer finished", "job", kind.Job, "report", report, "error", err)
			return err
		})
		if err != nil {
			handleTriggerError(c, kind.Job, err)
			return
		}
		writeJSON(c, http.StatusAccepted, triggerResponse{Job: kind.Job, Start: &w.Start, End: &w.End})
	}
}

func (s *server) pmHandler(c *gin.Context) {
	err := s.opts.Scheduler.Trigger(metrics.JobPM, func(ctx context.Context) error {
		report, err := s.opts.PM.Run(ctx)
		zap.S().Infow("Manual PM sync finished", "report", report, "error", err)
		return err
	})
	if err != nil {
		handleTriggerError(c, metrics.JobPM, err)
		return
	}
	writeJSON(c, http.StatusAccepted, triggerResponse{Job: metrics.JobPM})
}

type statusResponse struct {
	Runs      []tracker.Run `json:"runs"`
	CheckedAt *time.Time    `json:"stalenessCheckedAt,omitempty"`
	Stale     []string      `json:"stale"`
}

func (s *server) statusHandler(c *gin.Context) {
	resp := statusResponse{Runs: s.opts.Runs.Snapshot(), Stale: []string{}}
	if s.opts.Staleness != nil {
		at, stale := s.opts.Staleness.LastResult()
		if !at.IsZero() {
			resp.CheckedAt = &at
		}
		if stale != nil {
			resp.Stale = stale
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

// window reads the optional start and end parameters. Missing values default
// to the previous production day.
func (s *server) window(c *gin.Context) (shift.Window, error) {
	w := shift.PreviousProductionDay(s.opts.Now().In(s.opts.Location))
	if v := c.Query("start"); v != "" {
		t, err := time.ParseInLocation(TimeLayout, v, s.opts.Location)
		if err != nil {
			return w, fmt.Errorf("invalid start: %w", err)
		}
		w.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.ParseInLocation(TimeLayout, v, s.opts.Location)
		if err != nil {
			return w, fmt.Errorf("invalid end: %w", err)
		}
		w.End = t
	}
	if !w.End.After(w.Start) {
		return w, errors.New("end must be after start")
	}
	return w, nil
}

func handleTriggerError(c *gin.Context, job string, err error) {
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		writeJSON(c, http.StatusConflict, gin.H{"error": fmt.Sprintf("%s is already running", job)})
	case errors.Is(err, scheduler.ErrStopped):
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
	default:
		handleInternalServerError(c, err)
	}
}

func handleInternalServerError(c *gin.Context, err error) {
	zap.S().Errorw("Internal server error", "error", err, "path", c.Request.URL.Path)
	writeJSON(c, http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func handleInvalidInputError(c *gin.Context, err error) {
	zap.S().Warnw("Invalid input error", "error", err, "path", c.Request.URL.Path)
	writeJSON(c, http.StatusBadRequest, gin.H{"error": err.Error()})
}

func writeJSON(c *gin.Context, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		zap.S().Errorw("Failed to marshal response", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/json; charset=utf-8", b)
}
