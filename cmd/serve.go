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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mongoconf/config"
	"github.com/cardinalhq/mongoconf/internal/configstore"
	"github.com/cardinalhq/mongoconf/internal/debugging"
	"github.com/cardinalhq/mongoconf/internal/docstore"
	"github.com/cardinalhq/mongoconf/internal/healthcheck"
	"github.com/cardinalhq/mongoconf/internal/periodic"
)

var (
	saveInterval  time.Duration
	loadRetry     time.Duration
	shutdownGrace time.Duration
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configuration API with periodic saves",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().DurationVar(&saveInterval, "save-interval", 30*time.Second, "How often to write the cache back to storage")
	serveCmd.Flags().DurationVar(&loadRetry, "load-retry", 5*time.Second, "Delay between attempts to reach storage")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 30*time.Second, "How long to wait for pending writes on shutdown")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	doneCtx, doneFx, err := setupTelemetry("mongoconf")
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	store, err := newStore(cfg, nil)
	if err != nil {
		return err
	}

	debugging.RunPprof(doneCtx, debugging.PprofPort())

	healthServer := healthcheck.NewServer(healthcheck.GetConfigFromEnv())
	healthServer.AddCheck("store", storeReadyCheck(store))
	healthServer.Handle("/v1/", newConfigAPI(store))
	go func() {
		if err := healthServer.Start(doneCtx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	healthServer.SetStatus(healthcheck.StatusHealthy)

	slog.Info("Serving configuration",
		slog.String("driver", cfg.Driver),
		slog.String("app", cfg.App),
		slog.Duration("saveInterval", saveInterval))

	go loadUntilReady(doneCtx, store, loadRetry, func() {
		healthServer.SetStatus(healthcheck.StatusUnhealthy)
	})
	saveLoop(doneCtx, store, saveInterval)

	slog.Info("Shutting down, flushing configuration")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func storeReadyCheck(store *configstore.Store) healthcheck.Check {
	return func() error {
		if state := store.State(); state != configstore.StateReady {
			return fmt.Errorf("store is %s", state)
		}
		return nil
	}
}

// loadUntilReady retries Load until it succeeds or ctx is done. Rejected
// credentials will not fix themselves, so they end the retries and call
// onFatal.
func loadUntilReady(ctx context.Context, store *configstore.Store, retry time.Duration, onFatal func()) {
	for {
		err := store.Load(ctx)
		if err == nil {
			loadAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
			return
		}
		loadAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		if errors.Is(err, docstore.ErrAuthentication) {
			slog.Error("Document store rejected credentials", slog.Any("error", err))
			onFatal()
			return
		}
		if ctx.Err() != nil || errors.Is(err, configstore.ErrClosed) {
			return
		}
		slog.Warn("Failed to load configuration, retrying",
			slog.Duration("retry", retry),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// saveLoop writes the cache back every interval until ctx is done.
func saveLoop(ctx context.Context, store *configstore.Store, interval time.Duration) {
	periodic.New("periodic-save", func(ctx context.Context) error {
		return periodicSave(ctx, store)
	}, interval, slog.Default()).Run(ctx)
}

func periodicSave(ctx context.Context, store *configstore.Store) error {
	if store.State() != configstore.StateReady {
		return nil
	}
	err := store.Save(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	periodicSaves.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	return err
}
