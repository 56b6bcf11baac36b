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
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mongoconf/internal/helpers"
	"github.com/cardinalhq/mongoconf/internal/idgen"
)

var (
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/mongoconf")

	myInstanceID = idgen.DefaultFlakeGenerator.NextID()

	apiRequests   metric.Int64Counter
	apiDuration   metric.Float64Histogram
	periodicSaves metric.Int64Counter
	loadAttempts  metric.Int64Counter
	existsGauge   metric.Int64Gauge
)

func init() {
	setupGlobalMetrics()
}

func logLevel() *slog.HandlerOptions {
	if helpers.GetBoolEnv("DEBUG", false) || helpers.GetBoolEnv("MONGOCONF_DEBUG", false) {
		return &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	return nil
}

// setupLogging installs a text handler on w. One-shot commands log to
// stderr so their stdout stays parseable.
func setupLogging(w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, logLevel())))
}

func setupTelemetry(servicename string) (context.Context, func() error, error) {
	// Catch signals to stop the process as gracefully as possible.
	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	commonAttributes = attribute.NewSet(
		attribute.Int64("instanceID", myInstanceID),
	)

	opts := logLevel()
	if os.Getenv("OTEL_SERVICE_NAME") != "" && helpers.GetBoolEnv("ENABLE_OTLP_TELEMETRY", false) {
		slog.SetDefault(slog.New(slogmulti.Fanout(
			slog.NewTextHandler(os.Stdout, opts),
			otelslog.NewHandler(servicename),
		)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
		slog.Info("OpenTelemetry exporting enabled")

		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			return doneCtx, f, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}

		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(time.Second * 10)); err != nil {
			slog.Warn("failed to start runtime metrics", slog.Any("error", err))
		}

		if err := host.Start(); err != nil {
			slog.Warn("failed to start host metrics", slog.Any("error", err))
		}

		f = func() error {
			defer doneCancel()
			slog.Info("Shutting down OpenTelemetry SDK")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
	}

	existsGauge.Record(doneCtx, 1, metric.WithAttributeSet(commonAttributes))
	return doneCtx, f, nil
}

func setupGlobalMetrics() {
	c, err := meter.Int64Counter(
		"mongoconf.api.requests",
		metric.WithDescription("Configuration API requests, by method and status code"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create api.requests counter: %w", err))
	}
	apiRequests = c

	h, err := meter.Float64Histogram(
		"mongoconf.api.duration",
		metric.WithUnit("s"),
		metric.WithDescription("The duration in seconds of configuration API requests"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create api.duration histogram: %w", err))
	}
	apiDuration = h

	c, err = meter.Int64Counter(
		"mongoconf.serve.saves",
		metric.WithDescription("Periodic saves run by the serve command, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create serve.saves counter: %w", err))
	}
	periodicSaves = c

	c, err = meter.Int64Counter(
		"mongoconf.serve.load_attempts",
		metric.WithDescription("Attempts to load configuration from the document store, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create serve.load_attempts counter: %w", err))
	}
	loadAttempts = c

	g, err := meter.Int64Gauge(
		"mongoconf.exists",
		metric.WithDescription("Indicates if the service is running (1) or not (0)"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create exists gauge: %w", err))
	}
	existsGauge = g
}
