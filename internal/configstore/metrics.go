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

package configstore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	lookupHit   = "hit"
	lookupStale = "stale"
	lookupMiss  = "miss"

	refreshOK      = "ok"
	refreshError   = "error"
	refreshDropped = "dropped"
)

var meter = otel.Meter("github.com/cardinalhq/mongoconf")

var (
	cacheLookups    metric.Int64Counter
	cacheRefreshes  metric.Int64Counter
	persistOps      metric.Int64Counter
	persistDuration metric.Float64Histogram
)

func init() {
	var err error

	cacheLookups, err = meter.Int64Counter(
		"mongoconf.cache.lookups",
		metric.WithDescription("Configuration reads, by cache result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create mongoconf.cache.lookups counter: %w", err))
	}

	cacheRefreshes, err = meter.Int64Counter(
		"mongoconf.cache.refreshes",
		metric.WithDescription("Root refreshes from the document store, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create mongoconf.cache.refreshes counter: %w", err))
	}

	persistOps, err = meter.Int64Counter(
		"mongoconf.persist.operations",
		metric.WithDescription("Write-back operations against the document store"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create mongoconf.persist.operations counter: %w", err))
	}

	persistDuration, err = meter.Float64Histogram(
		"mongoconf.persist.duration",
		metric.WithDescription("Duration of write-back operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create mongoconf.persist.duration histogram: %w", err))
	}
}

func recordLookup(ctx context.Context, result string) {
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordRefresh(ctx context.Context, status string) {
	cacheRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func recordPersist(ctx context.Context, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	persistOps.Add(ctx, 1, attrs)
	persistDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}
