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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/api"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/areasync"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/helper"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/pmsync"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/postgresql"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/publisher"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/transfer"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/config"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/failover"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/retry"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/scheduler"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shift"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/shutdown"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/tracker"
	"github.com/united-manufacturing-hub/maintenance-sync/pkg/metrics"
	"go.uber.org/zap"
)

// pmRetryInterval is the first retry delay of PM writes.
const pmRetryInterval = 100 * time.Millisecond

func main() {
	helper.InitLogging()

	cfg, err := config.Load()
	if err != nil {
		zap.S().Fatalf("Invalid configuration: %v", err)
	}
	zap.S().Infow("Starting maintenance-sync",
		"timezone", cfg.Location.String(),
		"windowMode", cfg.WindowMode,
		"areas", len(cfg.Plant.Areas),
		"mainLines", len(cfg.Plant.MainLines),
	)

	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)

	provider, err := failover.New(failover.Config{
		URLs:         cfg.Source.URLs,
		User:         cfg.Source.User,
		Password:     cfg.Source.Password,
		ProbeTimeout: cfg.Source.ProbeTimeout,
	})
	if err != nil {
		zap.S().Fatalf("Failed to set up source endpoints: %v", err)
	}
	src := source.New(provider)

	pg, err := postgresql.New(cfg.Postgres)
	if err != nil {
		zap.S().Fatalf("Failed to connect to the reporting database: %v", err)
	}

	var areaOpts []areasync.Option
	var mqtt *publisher.MQTTPublisher
	if cfg.MQTT.Enabled() {
		hostname, _ := os.Hostname()
		mqtt, err = publisher.NewMQTT(cfg.MQTT, fmt.Sprintf("%s-%s", cfg.MQTT.Username, hostname))
		if err != nil {
			zap.S().Errorf("MQTT publisher disabled, broker not reachable: %v", err)
		} else {
			areaOpts = append(areaOpts, areasync.WithPublisher(mqtt))
		}
	}

	initHealthCheck(cfg.HealthcheckAddr, pg, src)

	runs := tracker.New(cfg.Location)
	monitor := tracker.NewMonitor(runs, tracker.JobData, tracker.JobTag)

	areaJob := areasync.New(src, pg, cfg.Plant, cfg.WindowMode, cfg.Location, areaOpts...)
	transferJob := transfer.New(src, pg, runs)
	pmJob := pmsync.New(src, pg.WithRetry(retry.Default().WithInitialInterval(pmRetryInterval)), runs, cfg.Location)

	sched := scheduler.New(cfg.Location, cfg.WorkerPoolSize)
	for _, j := range jobs(cfg, areaJob, transferJob, pmJob, monitor) {
		if err = sched.Add(j); err != nil {
			zap.S().Fatalf("Failed to register job: %v", err)
		}
	}
	sched.Start()

	opts := api.Options{
		Scheduler: sched,
		Transfers: transferJob,
		PM:        pmJob,
		Runs:      runs,
		Staleness: monitor,
		Location:  cfg.Location,
	}
	if cfg.WorkOrderAPIEnabled {
		opts.WorkOrders = src
	}
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("HTTP server failed: %v", err)
		}
	}()

	h := shutdown.New(shutdown.Options{Timeout: cfg.ShutdownTimeout}, func(ctx context.Context) error {
		if err := httpServer.Shutdown(ctx); err != nil {
			zap.S().Warnf("Failed to stop HTTP server: %v", err)
		}
		err := sched.Stop(ctx)
		if mqtt != nil {
			mqtt.Close()
		}
		pg.Close()
		if cErr := provider.Close(); cErr != nil {
			zap.S().Warnf("Failed to close source connection: %v", cErr)
		}
		_ = metricsServer.Shutdown(ctx)
		return err
	})
	h.Wait()
}

func jobs(cfg *config.Config, area *areasync.Job, bd *transfer.Job, pm *pmsync.Job, monitor *tracker.Monitor) []scheduler.Job {
	daily := func(kind transfer.Kind) scheduler.Func {
		return func(ctx context.Context) error {
			_, err := bd.Run(ctx, kind, shift.PreviousProductionDay(time.Now().In(cfg.Location)))
			return err
		}
	}

	return []scheduler.Job{
		{Name: metrics.JobAreaSync, Spec: cfg.AreaSync.Schedule, Enabled: cfg.AreaSync.Enabled, Run: func(ctx context.Context) error {
			_, err := area.SyncAreas(ctx)
			return err
		}},
		{Name: metrics.JobLineSync, Spec: cfg.AreaSync.Schedule, Enabled: cfg.AreaSync.Enabled, Run: func(ctx context.Context) error {
			_, err := area.SyncLines(ctx)
			return err
		}},
		{Name: metrics.JobTopBreakdowns, Spec: cfg.AreaSync.Schedule, Enabled: cfg.AreaSync.Enabled, Run: func(ctx context.Context) error {
			_, err := area.SyncTopBreakdowns(ctx)
			return err
		}},
		{Name: metrics.JobTransfer, Spec: cfg.Transfer.Schedule, Enabled: cfg.Transfer.Enabled, Run: daily(transfer.Breakdowns)},
		{Name: metrics.JobTagTransfer, Spec: cfg.TagTransfer.Schedule, Enabled: cfg.TagTransfer.Enabled, Run: daily(transfer.Tags)},
		{Name: metrics.JobPM, Spec: cfg.PM.Schedule, Enabled: cfg.PM.Enabled, Run: func(ctx context.Context) error {
			_, err := pm.Run(ctx)
			return err
		}},
		{Name: metrics.JobMonitor, Spec: cfg.Monitor.Schedule, Enabled: cfg.Monitor.Enabled, Run: func(context.Context) error {
			monitor.Check()
			return nil
		}},
	}
}

func initHealthCheck(addr string, pg *postgresql.Connection, src *source.Client) {
	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(100000))
	health.AddReadinessCheck("database", pg.Check)
	health.AddReadinessCheck("source", src.Check)
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(addr, health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
}
