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

// Package shutdown drains the process on SIGINT/SIGTERM.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Handler interface {
	Shutdown()          // Triggers a shutdown as if SIGTERM was received.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type Options struct {
	// Timeout bounds the shutdown tasks. Defaults to 30s.
	Timeout time.Duration
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

type handler struct {
	quit         chan os.Signal
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
	once         sync.Once
}

// New installs the signal handler. onShutdown runs once after the first signal;
// its context expires after the timeout, at which point the process exits with 1.
func New(opts Options, onShutdown func(ctx context.Context) error) Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	h := &handler{quit: make(chan os.Signal, 1)}
	signal.Notify(h.quit, syscall.SIGINT, syscall.SIGTERM)
	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		sig := <-h.quit
		signal.Stop(h.quit)
		h.shuttingDown.Store(true)
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())

		if onShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
			defer cancel()
			zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", opts.Timeout)

			done := make(chan error, 1)
			go func() { done <- onShutdown(ctx) }()

			select {
			case err := <-done:
				if err != nil {
					zap.S().Errorw("Error during shutdown", "error", err)
					_ = zap.S().Sync()
					opts.Exit(1)
					return
				}
			case <-ctx.Done():
				zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", opts.Timeout)
				_ = zap.S().Sync()
				opts.Exit(1)
				return
			}
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
		_ = zap.S().Sync()
		opts.Exit(0)
	}()

	return h
}

func (h *handler) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

func (h *handler) Shutdown() {
	h.once.Do(func() {
		if !h.ShuttingDown() {
			h.quit <- syscall.SIGTERM
		}
	})
}

func (h *handler) Wait() {
	h.wg.Wait()
}
