// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package periodic runs a task on a fixed interval until its context ends.
package periodic

import (
	"context"
	"log/slog"
	"time"
)

// Task is one unit of periodic work. Errors are logged and the runner
// keeps going.
type Task func(ctx context.Context) error

type Runner struct {
	task     Task
	ll       *slog.Logger
	interval time.Duration
}

// New creates a runner. A nil logger uses slog.Default.
func New(name string, task Task, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		task:     task,
		ll:       logger.With(slog.String("component", name)),
		interval: interval,
	}
}

// Run blocks until ctx is done, running the task once per interval. Each
// run may take at most one interval. A non-positive interval never runs
// the task.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		<-ctx.Done()
		return
	}
	r.ll.Debug("Starting periodic loop", slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.ll.Debug("Context cancelled, stopping periodic loop")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	if err := r.task(runCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.ll.Warn("Periodic task failed (continuing)", slog.Any("error", err))
	}
}
