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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/mongoconf/internal/configstore"
	"github.com/cardinalhq/mongoconf/internal/idgen"
	"github.com/cardinalhq/mongoconf/internal/keypath"
	"github.com/cardinalhq/mongoconf/internal/logctx"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

type valueResponse struct {
	Key   string `json:"key,omitempty"`
	Value any    `json:"value"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// configAPI exposes a store over HTTP. Keys are taken from the last path
// segment, e.g. PUT /v1/config/database:pool:size.
type configAPI struct {
	store *configstore.Store
}

func newConfigAPI(store *configstore.Store) http.Handler {
	api := &configAPI{store: store}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/config", api.dump)
	mux.HandleFunc("GET /v1/config/{key}", api.get)
	mux.HandleFunc("PUT /v1/config/{key}", api.set)
	mux.HandleFunc("PATCH /v1/config/{key}", api.merge)
	mux.HandleFunc("DELETE /v1/config/{key}", api.clear)
	mux.HandleFunc("POST /v1/save", api.save)
	return withRequestID(mux)
}

func (a *configAPI) dump(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, valueResponse{Value: a.store.Snapshot()})
}

func (a *configAPI) get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, found, err := a.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, errKeyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: v})
}

func (a *configAPI) set(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := readValue(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.store.Set(key, value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: value})
}

func (a *configAPI) merge(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := readValue(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	merged, err := a.store.Merge(key, value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: merged})
}

func (a *configAPI) clear(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Clear(r.PathValue("key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *configAPI) save(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Save(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func readValue(w http.ResponseWriter, r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequestError{err}
	}
	v, err := parseValue(body)
	if err != nil {
		return nil, badRequestError{err}
	}
	return v, nil
}

func errorStatus(err error) int {
	var badRequest badRequestError
	switch {
	case errors.As(err, &badRequest), errors.Is(err, keypath.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, errKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, configstore.ErrNotObject):
		return http.StatusConflict
	case errors.Is(err, configstore.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logctx.FromContext(r.Context()).Error("Configuration API request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		RequestID: w.Header().Get(requestIDHeader),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode API response", slog.Any("error", err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags each request with an ID, echoed in the response, and
// records request metrics.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = idgen.RequestID()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := logctx.With(r.Context(),
			slog.String("requestID", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("code", rec.status),
		)
		apiRequests.Add(r.Context(), 1, attrs)
		apiDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
		logctx.FromContext(ctx).Debug("Configuration API request",
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
